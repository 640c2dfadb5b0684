package reconciler

import (
	"os"
	"path/filepath"
	"testing"

	"vaultsync/internal/localindex"
	"vaultsync/internal/remoteindex"
)

func TestOrphansIsLocalMinusRemote(t *testing.T) {
	locals := map[string]localindex.File{
		"notes/a.md": {Path: "notes/a.md"},
		"notes/b.md": {Path: "notes/b.md"},
	}
	remotes := map[string]remoteindex.File{
		"notes/a.md": {Path: "notes/a.md"},
	}

	orphans := Orphans(locals, remotes)
	if len(orphans) != 1 || orphans[0] != "notes/b.md" {
		t.Fatalf("expected [notes/b.md], got %+v", orphans)
	}
}

func TestDeleteOrphansPrunesEmptyParentDirs(t *testing.T) {
	vaultRoot := t.TempDir()
	orphanPath := filepath.Join(vaultRoot, "notes", "sub", "deep", "orphan.md")
	if err := os.MkdirAll(filepath.Dir(orphanPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(orphanPath, []byte("gone"), 0o644); err != nil {
		t.Fatal(err)
	}

	locals := map[string]localindex.File{
		"notes/sub/deep/orphan.md": {Path: "notes/sub/deep/orphan.md", AbsPath: orphanPath},
	}

	errs := DeleteOrphans(vaultRoot, locals, []string{"notes/sub/deep/orphan.md"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}

	if _, err := os.Stat(orphanPath); !os.IsNotExist(err) {
		t.Fatal("expected orphan file to be deleted")
	}
	if _, err := os.Stat(filepath.Join(vaultRoot, "notes")); !os.IsNotExist(err) {
		t.Fatal("expected empty parent dirs to be pruned up to vault root")
	}
	if _, err := os.Stat(vaultRoot); err != nil {
		t.Fatal("vault root itself must survive pruning")
	}
}

func TestDeleteOrphansKeepsNonEmptySibling(t *testing.T) {
	vaultRoot := t.TempDir()
	orphanPath := filepath.Join(vaultRoot, "notes", "orphan.md")
	keptPath := filepath.Join(vaultRoot, "notes", "kept.md")
	if err := os.MkdirAll(filepath.Dir(orphanPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(orphanPath, []byte("gone"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keptPath, []byte("stays"), 0o644); err != nil {
		t.Fatal(err)
	}

	locals := map[string]localindex.File{
		"notes/orphan.md": {Path: "notes/orphan.md", AbsPath: orphanPath},
	}

	errs := DeleteOrphans(vaultRoot, locals, []string{"notes/orphan.md"})
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %+v", errs)
	}
	if _, err := os.Stat(filepath.Join(vaultRoot, "notes")); err != nil {
		t.Fatal("expected notes dir to survive since kept.md still lives there")
	}
	if _, err := os.Stat(keptPath); err != nil {
		t.Fatal("expected kept.md to survive")
	}
}
