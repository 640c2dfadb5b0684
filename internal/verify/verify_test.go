package verify

import (
	"errors"
	"testing"

	"vaultsync/internal/localindex"
	"vaultsync/internal/remoteindex"
	"vaultsync/internal/transport"
)

func TestRunMatch(t *testing.T) {
	locals := map[string]localindex.File{
		"a.md": {Path: "a.md", AbsPath: "/vault/a.md"},
	}
	remotes := map[string]remoteindex.File{
		"a.md": {Path: "a.md", Doc: &transport.Doc{ID: "a.md", Children: []string{"h:3t0xsqn1jqas1"}}},
	}
	read := func(path string) ([]byte, error) {
		return []byte("hello\n"), nil
	}

	res := Run(locals, remotes, read, 0)
	if res.Checked != 1 || res.Matched != 1 || len(res.Mismatch) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunMismatch(t *testing.T) {
	locals := map[string]localindex.File{
		"a.md": {Path: "a.md", AbsPath: "/vault/a.md"},
	}
	remotes := map[string]remoteindex.File{
		"a.md": {Path: "a.md", Doc: &transport.Doc{ID: "a.md", Children: []string{"h:stale"}}},
	}
	read := func(path string) ([]byte, error) {
		return []byte("hello\n"), nil
	}

	res := Run(locals, remotes, read, 0)
	if res.Checked != 1 || res.Matched != 0 || len(res.Mismatch) != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Mismatch[0].Path != "a.md" {
		t.Fatalf("unexpected mismatch path: %+v", res.Mismatch[0])
	}
}

func TestRunSkipsInlineAndLocalOnly(t *testing.T) {
	locals := map[string]localindex.File{
		"inline.md":    {Path: "inline.md", AbsPath: "/vault/inline.md"},
		"local-only.md": {Path: "local-only.md", AbsPath: "/vault/local-only.md"},
	}
	remotes := map[string]remoteindex.File{
		"inline.md": {Path: "inline.md", Doc: &transport.Doc{ID: "inline.md", Data: "aGVsbG8="}},
	}
	read := func(path string) ([]byte, error) { return nil, nil }

	res := Run(locals, remotes, read, 0)
	if res.Checked != 0 {
		t.Fatalf("expected 0 checked (inline doc has no children, local-only has no remote), got %d", res.Checked)
	}
}

func TestRunRespectsLimit(t *testing.T) {
	locals := map[string]localindex.File{
		"a.md": {Path: "a.md", AbsPath: "/vault/a.md"},
		"b.md": {Path: "b.md", AbsPath: "/vault/b.md"},
	}
	remotes := map[string]remoteindex.File{
		"a.md": {Path: "a.md", Doc: &transport.Doc{ID: "a.md", Children: []string{"h:1"}}},
		"b.md": {Path: "b.md", Doc: &transport.Doc{ID: "b.md", Children: []string{"h:2"}}},
	}
	read := func(path string) ([]byte, error) { return []byte("x"), nil }

	res := Run(locals, remotes, read, 1)
	if res.Checked != 1 {
		t.Fatalf("expected limit to cap Checked at 1, got %d", res.Checked)
	}
}

func TestRunReadError(t *testing.T) {
	locals := map[string]localindex.File{
		"a.md": {Path: "a.md", AbsPath: "/vault/a.md"},
	}
	remotes := map[string]remoteindex.File{
		"a.md": {Path: "a.md", Doc: &transport.Doc{ID: "a.md", Children: []string{"h:1"}}},
	}
	read := func(path string) ([]byte, error) { return nil, errors.New("boom") }

	res := Run(locals, remotes, read, 0)
	if len(res.ReadError) != 1 || res.Checked != 1 || res.Matched != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}
