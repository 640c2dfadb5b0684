// Package pushengine drives the local-to-remote half of synchronization:
// for each local file that passes the change filter, it chunks the content,
// uploads any chunk the remote does not already have, then writes the file
// metadata document only once every referenced chunk is confirmed present.
//
// Change detection is last-writer-by-mtime: a local file is skipped when the
// remote document's mtime is equal to or newer than the local mtime (unless
// Options.Force is set). Content is never compared and edits are never merged.
package pushengine

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"vaultsync/internal/doccodec"
	"vaultsync/internal/localindex"
	"vaultsync/internal/logging"
	"vaultsync/internal/remoteindex"
	"vaultsync/internal/syncerr"
	"vaultsync/internal/transport"
)

// chunkUploadConcurrency bounds how many chunk HEAD/PUT round trips run at
// once per file, matching spec's "default 10 in flight".
const chunkUploadConcurrency = 10

// ReadFile abstracts local file content access so tests do not need to
// touch a real filesystem; cmd/vaultsync wires this to os.ReadFile.
type ReadFile func(path string) ([]byte, error)

// Options configures a push run.
type Options struct {
	// Force disables the mtime-based change filter: every local file is
	// pushed regardless of the remote's current mtime.
	Force bool
	// DryRun reports what would be pushed without writing anything.
	DryRun bool
}

// Result summarizes one push run.
type Result struct {
	Pushed  []string
	Skipped []string
	Errors  []*syncerr.FileError
}

// Engine drives PushEngine's upload sequence against a transport.Client.
type Engine struct {
	client *transport.Client
	read   ReadFile
	logger *slog.Logger
}

// New creates an Engine. read supplies a local file's bytes; nil logger
// discards output.
func New(client *transport.Client, read ReadFile, logger *slog.Logger) *Engine {
	return &Engine{
		client: client,
		read:   read,
		logger: logging.Default(logger).With("component", "pushengine"),
	}
}

// Run pushes every local file in locals that passes the change filter
// against the given remote index, honoring opts.
func (e *Engine) Run(ctx context.Context, locals map[string]localindex.File, remotes map[string]remoteindex.File, opts Options) Result {
	var res Result

	for path, local := range locals {
		if !opts.Force {
			if remote, ok := remotes[path]; ok && remote.Doc.Mtime >= local.MtimeMs {
				res.Skipped = append(res.Skipped, path)
				continue
			}
		}

		if opts.DryRun {
			res.Pushed = append(res.Pushed, path)
			continue
		}

		if err := e.pushOne(ctx, path, local, remotes[path].Doc); err != nil {
			e.logger.Warn("push failed", "path", path, "error", err)
			res.Errors = append(res.Errors, err.(*syncerr.FileError))
			continue
		}
		res.Pushed = append(res.Pushed, path)
	}

	return res
}

// pushOne implements the four-step upload sequence for a single file:
// chunk, ensure every chunk is present remotely, then PUT metadata with one
// conflict retry. Returns a *syncerr.FileError on any failure.
func (e *Engine) pushOne(ctx context.Context, path string, local localindex.File, existing *transport.Doc) error {
	content, err := e.read(local.AbsPath)
	if err != nil {
		return syncerr.New(path, syncerr.KindChunkUpload, fmt.Errorf("read local file: %w", err))
	}

	encoded := doccodec.Encode(content)

	if err := e.ensureChunksPresent(ctx, encoded.Chunks); err != nil {
		return syncerr.New(path, syncerr.KindChunkUpload, err)
	}

	doc := &transport.Doc{
		ID:       path,
		Path:     path,
		Children: encoded.ChildrenOrder,
		Size:     encoded.Size,
		Ctime:    local.CtimeMs,
		Mtime:    local.MtimeMs,
		Type:     "plain",
	}
	if existing != nil {
		doc.Rev = existing.Rev
	}

	result := e.client.Put(ctx, doc)
	if result.Ok() {
		return nil
	}
	if !result.Conflict {
		return syncerr.New(path, syncerr.KindConflict, result.Err)
	}

	current, err := e.client.Get(ctx, path)
	if err != nil {
		return syncerr.New(path, syncerr.KindConflict, fmt.Errorf("re-fetch after conflict: %w", err))
	}
	if current != nil {
		doc.Rev = current.Rev
	}
	result = e.client.Put(ctx, doc)
	if result.Conflict {
		return syncerr.New(path, syncerr.KindConflict, fmt.Errorf("second conflict for %s", path))
	}
	if !result.Ok() {
		return syncerr.New(path, syncerr.KindConflict, result.Err)
	}
	return nil
}

// ensureChunksPresent HEADs each chunk id and PUTs any that are missing,
// bounded to chunkUploadConcurrency in flight. A 409 on the chunk PUT is
// treated as success: another writer raced to the same content, which is
// exactly the dedup this store provides.
func (e *Engine) ensureChunksPresent(ctx context.Context, chunks map[string][]byte) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, chunkUploadConcurrency)

	for id, data := range chunks {
		id, data := id, data
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			present, err := e.client.Head(gctx, id)
			if err != nil {
				return fmt.Errorf("head chunk %s: %w", id, err)
			}
			if present {
				return nil
			}

			result := e.client.Put(gctx, &transport.Doc{ID: id, Data: string(data), Type: "leaf"})
			if result.Ok() || result.Conflict {
				return nil
			}
			return fmt.Errorf("put chunk %s: %w", id, result.Err)
		})
	}

	return g.Wait()
}
