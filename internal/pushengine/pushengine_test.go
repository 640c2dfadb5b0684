package pushengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"vaultsync/internal/localindex"
	"vaultsync/internal/remoteindex"
	"vaultsync/internal/transport"
)

// fakeStore mirrors transport's own test fixture: an in-memory
// CouchDB-compatible server, reused here so PushEngine is exercised against
// real HTTP round trips rather than a mocked Client.
type fakeStore struct {
	mu   sync.Mutex
	docs map[string]map[string]any
	rev  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]map[string]any)}
}

func (s *fakeStore) nextRev() string {
	s.rev++
	return "1-" + strconv.Itoa(s.rev)
}

func (s *fakeStore) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/testdb/", s.handleDoc)
	return httptest.NewServer(mux)
}

func (s *fakeStore) handleDoc(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/testdb/"):]

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodHead, http.MethodGet:
		doc, ok := s.docs[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	case http.MethodPut:
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		existing, has := s.docs[id]
		wantRev, _ := body["_rev"].(string)
		if has {
			curRev, _ := existing["_rev"].(string)
			if wantRev != curRev {
				w.WriteHeader(http.StatusConflict)
				return
			}
		} else if wantRev != "" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		newRev := s.nextRev()
		body["_rev"] = newRev
		s.docs[id] = body
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "id": id, "rev": newRev})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestRunPushesNewFile(t *testing.T) {
	store := newFakeStore()
	srv := store.server()
	defer srv.Close()

	client := transport.New(transport.Config{BaseURL: srv.URL, Database: "testdb"})
	content := []byte("hello, this file has never been pushed before")
	read := func(path string) ([]byte, error) { return content, nil }

	e := New(client, read, nil)
	locals := map[string]localindex.File{
		"notes/a.md": {Path: "notes/a.md", AbsPath: "/vault/notes/a.md", Size: int64(len(content)), MtimeMs: 1000, CtimeMs: 900},
	}

	res := e.Run(context.Background(), locals, nil, Options{})
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
	if len(res.Pushed) != 1 || res.Pushed[0] != "notes/a.md" {
		t.Fatalf("expected notes/a.md pushed, got %+v", res.Pushed)
	}

	got, err := client.Get(context.Background(), "notes/a.md")
	if err != nil || got == nil {
		t.Fatalf("expected doc to exist after push: %v, %v", got, err)
	}
	if len(got.Children) == 0 {
		t.Fatal("expected file doc to carry chunk children")
	}
	for _, id := range got.Children {
		ok, err := client.Head(context.Background(), id)
		if err != nil || !ok {
			t.Fatalf("expected chunk %s present remotely", id)
		}
	}
}

func TestRunSkipsUnchangedFile(t *testing.T) {
	store := newFakeStore()
	srv := store.server()
	defer srv.Close()

	client := transport.New(transport.Config{BaseURL: srv.URL, Database: "testdb"})
	read := func(path string) ([]byte, error) { return []byte("irrelevant"), nil }
	e := New(client, read, nil)

	locals := map[string]localindex.File{
		"notes/a.md": {Path: "notes/a.md", MtimeMs: 1000},
	}
	remotes := map[string]remoteindex.File{
		"notes/a.md": {Path: "notes/a.md", Doc: &transport.Doc{ID: "notes/a.md", Mtime: 2000}},
	}

	res := e.Run(context.Background(), locals, remotes, Options{})
	if len(res.Pushed) != 0 {
		t.Fatalf("expected no pushes, got %+v", res.Pushed)
	}
	if len(res.Skipped) != 1 {
		t.Fatalf("expected 1 skip, got %+v", res.Skipped)
	}
}

func TestRunForceOverridesChangeFilter(t *testing.T) {
	store := newFakeStore()
	srv := store.server()
	defer srv.Close()

	client := transport.New(transport.Config{BaseURL: srv.URL, Database: "testdb"})
	content := []byte("forced content")
	read := func(path string) ([]byte, error) { return content, nil }
	e := New(client, read, nil)

	locals := map[string]localindex.File{
		"notes/a.md": {Path: "notes/a.md", MtimeMs: 1000},
	}
	remotes := map[string]remoteindex.File{
		"notes/a.md": {Path: "notes/a.md", Doc: &transport.Doc{ID: "notes/a.md", Mtime: 2000}},
	}

	res := e.Run(context.Background(), locals, remotes, Options{Force: true})
	if len(res.Pushed) != 1 {
		t.Fatalf("expected force to push despite newer remote mtime, got %+v", res)
	}
}

func TestRunDryRunWritesNothing(t *testing.T) {
	store := newFakeStore()
	srv := store.server()
	defer srv.Close()

	client := transport.New(transport.Config{BaseURL: srv.URL, Database: "testdb"})
	read := func(path string) ([]byte, error) { return []byte("content"), nil }
	e := New(client, read, nil)

	locals := map[string]localindex.File{
		"notes/a.md": {Path: "notes/a.md", MtimeMs: 1000},
	}

	res := e.Run(context.Background(), locals, nil, Options{DryRun: true})
	if len(res.Pushed) != 1 {
		t.Fatalf("expected dry-run to report the file as would-push, got %+v", res)
	}

	got, err := client.Get(context.Background(), "notes/a.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatal("dry-run must not write anything to the remote")
	}
}

func TestRunConflictRetrySucceedsOnce(t *testing.T) {
	store := newFakeStore()
	srv := store.server()
	defer srv.Close()

	client := transport.New(transport.Config{BaseURL: srv.URL, Database: "testdb"})

	// Pre-seed a doc so the engine's first PUT (without _rev) conflicts;
	// the engine must re-fetch and retry exactly once, succeeding.
	seeded := client.Put(context.Background(), &transport.Doc{ID: "notes/a.md", Path: "notes/a.md", Type: "plain"})
	if !seeded.Ok() {
		t.Fatalf("seed put failed: %+v", seeded)
	}

	content := []byte("updated content after external write")
	read := func(path string) ([]byte, error) { return content, nil }
	e := New(client, read, nil)

	locals := map[string]localindex.File{
		"notes/a.md": {Path: "notes/a.md", MtimeMs: 5000},
	}

	res := e.Run(context.Background(), locals, nil, Options{})
	if len(res.Errors) != 0 {
		t.Fatalf("expected conflict retry to succeed, got errors: %+v", res.Errors)
	}
	if len(res.Pushed) != 1 {
		t.Fatalf("expected 1 push after retry, got %+v", res.Pushed)
	}
}
