// Package reconciler handles the "only on one side" half of the
// local/remote join: local files with no surviving remote document, which
// pull would never otherwise touch.
package reconciler

import (
	"fmt"
	"os"
	"path/filepath"

	"vaultsync/internal/localindex"
	"vaultsync/internal/remoteindex"
)

// Orphans returns the paths present in locals but absent from remotes.
func Orphans(locals map[string]localindex.File, remotes map[string]remoteindex.File) []string {
	var orphans []string
	for path := range locals {
		if _, ok := remotes[path]; !ok {
			orphans = append(orphans, path)
		}
	}
	return orphans
}

// DeleteOrphans removes each orphan file under vaultRoot and prunes any
// directory left empty by the deletion, walking upward but never removing
// vaultRoot itself. Per-file errors are collected rather than aborting the
// whole run, matching PushEngine and PullEngine's failure handling.
func DeleteOrphans(vaultRoot string, locals map[string]localindex.File, orphans []string) []error {
	var errs []error
	for _, path := range orphans {
		local, ok := locals[path]
		if !ok {
			continue
		}
		if err := os.Remove(local.AbsPath); err != nil {
			errs = append(errs, fmt.Errorf("delete orphan %s: %w", path, err))
			continue
		}
		pruneEmptyDirs(filepath.Dir(local.AbsPath), vaultRoot)
	}
	return errs
}

// pruneEmptyDirs walks upward from dir, removing each directory that is
// empty, stopping at (and never removing) vaultRoot.
func pruneEmptyDirs(dir, vaultRoot string) {
	root := filepath.Clean(vaultRoot)
	for {
		clean := filepath.Clean(dir)
		if clean == root || clean == "." || clean == string(filepath.Separator) {
			return
		}
		entries, err := os.ReadDir(clean)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(clean); err != nil {
			return
		}
		dir = filepath.Dir(clean)
	}
}
