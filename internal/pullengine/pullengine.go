// Package pullengine drives the remote-to-local half of synchronization:
// it enumerates remote file documents, applies the change filter, batch
// fetches referenced chunks, assembles file content, and writes it to disk.
//
// Change detection is last-writer-by-mtime: a remote file is skipped when
// the local copy's mtime is equal to or newer than the remote mtime (unless
// Options.Force is set). Content is never compared and edits are never merged.
package pullengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"vaultsync/internal/doccodec"
	"vaultsync/internal/localindex"
	"vaultsync/internal/logging"
	"vaultsync/internal/remoteindex"
	"vaultsync/internal/syncerr"
)

// Options configures a pull run.
type Options struct {
	// Force disables the mtime-based change filter: every retained
	// remote file is pulled regardless of local mtime.
	Force bool
	// DryRun reports what would be pulled without writing anything.
	DryRun bool
	// PathFilter restricts pulled files to remote paths matching this
	// prefix or glob, the same filter localindex.WithPathPrefix applies
	// to the local side. Empty means no restriction.
	PathFilter string
}

// Result summarizes one pull run.
type Result struct {
	Pulled  []string
	Skipped []string
	Errors  []*syncerr.FileError
}

// Engine drives PullEngine against a RemoteIndex and the local vault root.
type Engine struct {
	remote    *remoteindex.Index
	vaultRoot string
	logger    *slog.Logger
}

// New creates an Engine writing pulled files under vaultRoot.
func New(remote *remoteindex.Index, vaultRoot string, logger *slog.Logger) *Engine {
	return &Engine{
		remote:    remote,
		vaultRoot: vaultRoot,
		logger:    logging.Default(logger).With("component", "pullengine"),
	}
}

// Run enumerates remote files, drops remote paths matching
// localindex.DefaultExcludeSubstrings (matched the way localindex.Walk
// matches them), applies the path filter and the change filter, and pulls
// every retained file.
func (e *Engine) Run(ctx context.Context, locals map[string]localindex.File, opts Options) (Result, error) {
	var res Result

	remotes, err := e.remote.Enumerate(ctx)
	if err != nil {
		return res, fmt.Errorf("enumerate remote index: %w", err)
	}

	retained := make(map[string]remoteindex.File)
	for path, remote := range remotes {
		excluded := false
		for _, sub := range localindex.DefaultExcludeSubstrings {
			if strings.Contains("/"+path, sub) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		if opts.PathFilter != "" {
			ok, err := localindex.MatchesPathPrefix(opts.PathFilter, path)
			if err != nil {
				return res, fmt.Errorf("path filter: %w", err)
			}
			if !ok {
				continue
			}
		}
		if !opts.Force {
			if local, ok := locals[path]; ok && local.MtimeMs >= remote.Doc.Mtime {
				res.Skipped = append(res.Skipped, path)
				continue
			}
		}
		retained[path] = remote
	}

	if len(retained) == 0 {
		return res, nil
	}

	var allIDs []string
	for _, remote := range retained {
		allIDs = append(allIDs, doccodec.ChildrenFromDoc(remote.Doc)...)
	}

	chunks, err := e.remote.BatchFetchChunks(ctx, allIDs)
	if err != nil {
		return res, fmt.Errorf("batch fetch chunks: %w", err)
	}

	for path, remote := range retained {
		if opts.DryRun {
			res.Pulled = append(res.Pulled, path)
			continue
		}
		if err := e.pullOne(path, remote, chunks); err != nil {
			e.logger.Warn("pull failed", "path", path, "error", err)
			res.Errors = append(res.Errors, err.(*syncerr.FileError))
			continue
		}
		res.Pulled = append(res.Pulled, path)
	}

	return res, nil
}

// pullOne assembles one remote document's content and writes it to disk.
func (e *Engine) pullOne(path string, remote remoteindex.File, chunks map[string][]byte) error {
	var content []byte

	children := doccodec.ChildrenFromDoc(remote.Doc)
	if children != nil {
		assembled, ok := doccodec.Assemble(children, chunks)
		if !ok {
			return syncerr.New(path, syncerr.KindMissingChunk, fmt.Errorf("one or more chunks missing for %s", path))
		}
		content = assembled
	} else {
		content = []byte(remote.Doc.Data)
	}

	content = doccodec.DecodePayload(content)

	if err := writeAtomic(filepath.Join(e.vaultRoot, path), content, remote.Doc.Mtime); err != nil {
		return syncerr.New(path, syncerr.KindWrite, err)
	}
	return nil
}

// writeAtomic writes data to a temp file in dest's directory, then renames
// it into place, so a partial write is never observable as dest, and sets
// dest's mtime to the remote value (milliseconds since epoch).
func writeAtomic(dest string, data []byte, mtimeMs int64) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".vaultsync-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}

	mtime := msToTime(mtimeMs)
	if err := os.Chtimes(dest, mtime, mtime); err != nil {
		return fmt.Errorf("set mtime: %w", err)
	}
	return nil
}
