// Package localindex walks the sync directories of a local vault and
// produces the local half of the path-keyed join with RemoteIndex. Only
// filesystem metadata is read here; file content is left to DocCodec and
// the engines that need it.
package localindex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// File is a local file's synchronization-relevant metadata, keyed by its
// vault-relative, forward-slash path.
type File struct {
	Path    string
	AbsPath string
	Size    int64
	MtimeMs int64
	CtimeMs int64
}

// DefaultExcludeSubstrings are path substrings that mark version-control
// metadata, OS artifact files, and editor internals as never syncable. They
// are matched against the vault-relative path, not the absolute one.
var DefaultExcludeSubstrings = []string{
	"/.git/",
	"/.obsidian/workspace",
	"/.obsidian/workspace.json",
	".DS_Store",
	"Thumbs.db",
	"/.trash/",
	"~$",
}

// Index walks a fixed set of top-level sync directories under a vault root.
type Index struct {
	vaultRoot string
	syncDirs  []string
	exclude   []string
	pathGlob  string
}

// Option configures an Index beyond its required vault root and sync dirs.
type Option func(*Index)

// WithExclude replaces the default exclude substring list.
func WithExclude(substrings []string) Option {
	return func(idx *Index) { idx.exclude = substrings }
}

// WithPathPrefix restricts the walk to vault-relative paths matching the
// given doublestar glob, implementing the `--path` filter shared by push
// and pull. An empty prefix matches everything.
func WithPathPrefix(pattern string) Option {
	return func(idx *Index) { idx.pathGlob = pattern }
}

// New creates an Index rooted at vaultRoot, walking the given sync
// directories (relative to vaultRoot).
func New(vaultRoot string, syncDirs []string, opts ...Option) *Index {
	idx := &Index{
		vaultRoot: vaultRoot,
		syncDirs:  syncDirs,
		exclude:   DefaultExcludeSubstrings,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// chunkPrefix mirrors remoteindex.chunkPrefix; duplicated here (rather than
// imported) to keep localindex free of any dependency on the remote side.
const chunkPrefix = "h:"

// Walk enumerates every regular file under the configured sync directories,
// keyed by vault-relative path. It returns an error if any surviving path
// begins with the chunk-document id prefix "h:", since that would make the
// file invisible to RemoteIndex's range-scan split.
func (idx *Index) Walk() (map[string]File, error) {
	out := make(map[string]File)

	for _, dir := range idx.syncDirs {
		root := filepath.Join(idx.vaultRoot, dir)
		err := filepath.Walk(root, func(abs string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if info.IsDir() {
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}

			rel, err := filepath.Rel(idx.vaultRoot, abs)
			if err != nil {
				return err
			}
			relSlash := filepath.ToSlash(rel)

			if idx.isExcluded(relSlash) {
				return nil
			}
			if idx.pathGlob != "" {
				ok, err := idx.matchesPathFilter(relSlash)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			if strings.HasPrefix(relSlash, chunkPrefix) {
				return fmt.Errorf("local file %q begins with reserved chunk-id prefix %q", relSlash, chunkPrefix)
			}

			ctimeMs, mtimeMs := fileTimes(info)
			out[relSlash] = File{
				Path:    relSlash,
				AbsPath: abs,
				Size:    info.Size(),
				MtimeMs: mtimeMs,
				CtimeMs: ctimeMs,
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}

	return out, nil
}

// matchesPathFilter implements the `--path` prefix filter.
func (idx *Index) matchesPathFilter(relSlash string) (bool, error) {
	return MatchesPathPrefix(idx.pathGlob, relSlash)
}

// MatchesPathPrefix implements the `--path` filter shared by push, pull, and
// verify: a pattern with no glob metacharacters ("articles/") is treated as
// a plain path prefix, the common case from the reference CLI's
// `--path articles/` usage; a pattern containing "*", "?", "[", or "{" is
// matched as a doublestar glob against the full vault-relative path. An
// empty pattern matches everything.
func MatchesPathPrefix(pattern, relSlash string) (bool, error) {
	if pattern == "" {
		return true, nil
	}
	if !strings.ContainsAny(pattern, "*?[{") {
		return strings.HasPrefix(relSlash, pattern), nil
	}
	ok, err := doublestar.Match(pattern, relSlash)
	if err != nil {
		return false, fmt.Errorf("invalid --path pattern %q: %w", pattern, err)
	}
	return ok, nil
}

// isExcluded reports whether relSlash contains any configured exclude
// substring. Patterns without a leading slash are matched anywhere in the
// path; the default set normalizes directory markers with slashes on both
// sides so "target/.git/HEAD" and ".git/HEAD" both match "/.git/".
func (idx *Index) isExcluded(relSlash string) bool {
	candidate := "/" + relSlash
	for _, sub := range idx.exclude {
		if strings.Contains(candidate, sub) {
			return true
		}
	}
	return false
}
