package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"vaultsync/internal/logging"
)

// Config holds the connection details for a remote document store.
type Config struct {
	// BaseURL is the store's base URL, e.g. "http://localhost:5984".
	BaseURL string
	// Database is the database name on the remote store.
	Database string
	// User and Password are HTTP Basic auth credentials.
	User     string
	Password string

	// Logger receives lifecycle and error events. A nil Logger discards
	// output, per internal/logging's Default pattern.
	Logger *slog.Logger

	// RequestsPerSecond bounds outbound request throughput to the remote
	// store. Zero disables throttling.
	RequestsPerSecond float64
	// Burst is the token bucket burst size when RequestsPerSecond > 0.
	Burst int
}

// Client is an authenticated HTTP client for a CouchDB-compatible document
// store. It is the only component that performs network I/O against the
// remote store.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
}

const (
	defaultTimeout     = 30 * time.Second
	bulkFetchTimeout   = 120 * time.Second
	headTimeout        = 10 * time.Second
	bodyExcerptMaxSize = 500
)

// New creates a Client against the given configuration.
func New(cfg Config) *Client {
	logger := logging.Default(cfg.Logger).With("component", "transport")

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger,
		limiter:    limiter,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) docURL(id string) string {
	return c.cfg.BaseURL + "/" + c.cfg.Database + "/" + url.PathEscape(id)
}

// encodeKey JSON-encodes then URL-encodes a document id or range endpoint for
// placement in a query string, matching the sort order the remote store
// applies to JSON-encoded string keys.
func encodeKey(key string) (string, error) {
	raw, err := json.Marshal(key)
	if err != nil {
		return "", err
	}
	return url.QueryEscape(string(raw)), nil
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if c.cfg.User != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.User, c.cfg.Password)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	return req, nil
}

// readBody reads an HTTP response body, transparently decompressing it when
// the response carries Content-Encoding: gzip.
func readBody(resp *http.Response) ([]byte, error) {
	defer func() { _ = resp.Body.Close() }()

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip reader: %w", err)
		}
		defer func() { _ = gz.Close() }()
		return io.ReadAll(gz)
	}
	return io.ReadAll(resp.Body)
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > bodyExcerptMaxSize {
		return s[:bodyExcerptMaxSize] + "..."
	}
	return s
}

// Get fetches a single document by id. A 404 is not an error: it returns
// (nil, nil).
func (c *Client) Get(ctx context.Context, id string) (*Doc, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.docURL(id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return nil, nil
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get %s: unexpected status %d: %s", id, resp.StatusCode, excerpt(body))
	}

	var doc Doc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &doc, nil
}

// Head reports whether a document exists, without fetching its body.
func (c *Client) Head(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return false, err
	}

	req, err := c.newRequest(ctx, http.MethodHead, c.docURL(id), nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("head %s: %w", id, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("head %s: unexpected status %d", id, resp.StatusCode)
	}
}

// Put creates or updates doc. On a 409 conflict, PutResult.Conflict is true
// and Err is nil: this is an expected outcome the caller handles, never an
// exception.
func (c *Client) Put(ctx context.Context, doc *Doc) PutResult {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return PutResult{Err: err}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return PutResult{Err: fmt.Errorf("encode %s: %w", doc.ID, err)}
	}

	req, err := c.newRequest(ctx, http.MethodPut, c.docURL(doc.ID), bytes.NewReader(payload))
	if err != nil {
		return PutResult{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PutResult{Err: fmt.Errorf("put %s: %w", doc.ID, err)}
	}
	body, err := readBody(resp)
	if err != nil {
		return PutResult{Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out struct {
			Rev string `json:"rev"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return PutResult{Err: fmt.Errorf("decode put response for %s: %w", doc.ID, err)}
		}
		return PutResult{NewRev: out.Rev}
	case resp.StatusCode == http.StatusConflict:
		return PutResult{Conflict: true}
	default:
		return PutResult{Err: fmt.Errorf("put %s: unexpected status %d: %s", doc.ID, resp.StatusCode, excerpt(body))}
	}
}

// maxBulkGetIDs bounds a single bulk-get request, matching RemoteIndex's
// batching of chunk fetches into pages of at most this many ids.
const maxBulkGetIDs = 500

// BulkGet fetches multiple documents by id in a single request. Ids absent
// from the response are simply missing from the returned map; that is not
// an error here, callers report missing ids as needed.
func (c *Client) BulkGet(ctx context.Context, ids []string) (map[string]*Doc, error) {
	ctx, cancel := context.WithTimeout(ctx, bulkFetchTimeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(struct {
		Keys []string `json:"keys"`
	}{Keys: ids})
	if err != nil {
		return nil, err
	}

	u := c.cfg.BaseURL + "/" + c.cfg.Database + "/_all_docs?include_docs=true"
	req, err := c.newRequest(ctx, http.MethodPost, u, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk_get: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("bulk_get: unexpected status %d: %s", resp.StatusCode, excerpt(body))
	}

	var parsed struct {
		Rows []struct {
			ID    string `json:"id"`
			Error string `json:"error"`
			Doc   *Doc    `json:"doc"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode bulk_get response: %w", err)
	}

	out := make(map[string]*Doc, len(parsed.Rows))
	for _, row := range parsed.Rows {
		if row.Error != "" || row.Doc == nil {
			continue
		}
		out[row.ID] = row.Doc
	}
	return out, nil
}

// RangeScan enumerates documents with ids in [startkey, endkey], inclusive
// on both ends, returning full documents in sorted-key order.
func (c *Client) RangeScan(ctx context.Context, startkey, endkey string) ([]*Doc, error) {
	ctx, cancel := context.WithTimeout(ctx, bulkFetchTimeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	encStart, err := encodeKey(startkey)
	if err != nil {
		return nil, err
	}
	encEnd, err := encodeKey(endkey)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/%s/_all_docs?include_docs=true&startkey=%s&endkey=%s",
		c.cfg.BaseURL, c.cfg.Database, encStart, encEnd)

	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("range_scan: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("range_scan: unexpected status %d: %s", resp.StatusCode, excerpt(body))
	}

	var parsed struct {
		Rows []struct {
			Doc *Doc `json:"doc"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode range_scan response: %w", err)
	}

	docs := make([]*Doc, 0, len(parsed.Rows))
	for _, row := range parsed.Rows {
		if row.Doc != nil {
			docs = append(docs, row.Doc)
		}
	}
	return docs, nil
}

// ChunkPages splits ids into pages of at most maxBulkGetIDs, the batch size
// RemoteIndex uses for chunk fan-in.
func ChunkPages(ids []string) [][]string {
	if len(ids) == 0 {
		return nil
	}
	var pages [][]string
	for len(ids) > 0 {
		n := len(ids)
		if n > maxBulkGetIDs {
			n = maxBulkGetIDs
		}
		pages = append(pages, ids[:n])
		ids = ids[n:]
	}
	return pages
}
