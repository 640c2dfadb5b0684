// Package remoteindex enumerates file-metadata documents on the remote
// store while excluding the much larger mass of chunk ("leaf") documents and
// CouchDB design documents, and batch-fetches chunks referenced by a set of
// file documents.
package remoteindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"vaultsync/internal/logging"
	"vaultsync/internal/transport"
)

// chunkPrefix is the id prefix every chunk document carries. The range scan
// that enumerates file documents must cover every key except this prefix.
const chunkPrefix = "h:"

// chunkPrefixUpperBound is the key immediately after chunkPrefix in byte
// order: scanning endkey=chunkPrefix and startkey=chunkPrefixUpperBound
// together cover the entire key space except [chunkPrefix, chunkPrefix+\xff].
const chunkPrefixUpperBound = "h;"

// topOfKeySpace sorts after any realistic document id, closing the second
// range scan's upper bound.
const topOfKeySpace = "￿"

// designPrefix marks CouchDB design documents, also excluded.
const designPrefix = "_"

// File is a file-metadata document keyed by its vault-relative path (leading
// slashes trimmed).
type File struct {
	Path string
	Doc  *transport.Doc
}

// Index is the remote side of the local/remote join keyed by path.
type Index struct {
	client *transport.Client
	logger *slog.Logger
}

// New creates a remote Index backed by client.
func New(client *transport.Client, logger *slog.Logger) *Index {
	return &Index{client: client, logger: logging.Default(logger).With("component", "remoteindex")}
}

// Enumerate performs the two range scans needed to cover every key except
// the chunk-document prefix, and returns the surviving file documents keyed
// by path.
func (idx *Index) Enumerate(ctx context.Context) (map[string]File, error) {
	lowHalf, err := idx.client.RangeScan(ctx, "", chunkPrefix)
	if err != nil {
		return nil, fmt.Errorf("range scan (low half): %w", err)
	}
	highHalf, err := idx.client.RangeScan(ctx, chunkPrefixUpperBound, topOfKeySpace)
	if err != nil {
		return nil, fmt.Errorf("range scan (high half): %w", err)
	}

	out := make(map[string]File, len(lowHalf)+len(highHalf))
	for _, docs := range [][]*transport.Doc{lowHalf, highHalf} {
		for _, d := range docs {
			if !isFileDoc(d) {
				continue
			}
			path := strings.TrimPrefix(d.ID, "/")
			out[path] = File{Path: path, Doc: d}
		}
	}
	return out, nil
}

// isFileDoc reports whether d is a file-metadata document: not a chunk
// (already excluded by the range bounds, checked again here defensively),
// not a design document, and carrying either children or inline data.
func isFileDoc(d *transport.Doc) bool {
	if d == nil {
		return false
	}
	if strings.HasPrefix(d.ID, chunkPrefix) {
		return false
	}
	if strings.HasPrefix(d.ID, designPrefix) {
		return false
	}
	kind := d.Kind()
	return kind == transport.KindFileChunked || kind == transport.KindFileInline
}

// fetchConcurrency bounds how many bulk-get pages run in flight at once,
// matching PushEngine's chunk-upload pool size.
const fetchConcurrency = 10

// BatchFetchChunks collects the unique chunk ids referenced by docs,
// deduplicates them, and fetches them in pages of at most 500 via the
// client's BulkGet, run concurrently through a bounded worker pool. Missing
// ids are simply absent from the result; callers decide how to treat a file
// whose chunks are incomplete.
func (idx *Index) BatchFetchChunks(ctx context.Context, ids []string) (map[string][]byte, error) {
	unique := dedupe(ids)
	pages := transport.ChunkPages(unique)

	results := make([]map[string]*transport.Doc, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, fetchConcurrency)

	for i, page := range pages {
		i, page := i, page
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			docs, err := idx.client.BulkGet(gctx, page)
			if err != nil {
				return fmt.Errorf("bulk fetch chunk page %d: %w", i, err)
			}
			results[i] = docs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(unique))
	for _, page := range results {
		for id, doc := range page {
			out[id] = []byte(doc.Data)
		}
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
