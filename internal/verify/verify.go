// Package verify re-chunks local files that already exist remotely and
// compares the resulting children list against the remote document's
// children — the canonical signal for chunker drift: a mismatch means chunk
// dedup will degrade against the counterpart ecosystem plugin, even though
// the file itself is not corrupted.
package verify

import (
	"vaultsync/internal/doccodec"
	"vaultsync/internal/localindex"
	"vaultsync/internal/remoteindex"
)

// Mismatch records one file whose freshly-computed children diverge from
// what the remote document currently holds.
type Mismatch struct {
	Path     string
	Got      []string
	Expected []string
}

// Result summarizes one verify run.
type Result struct {
	Checked   int
	Matched   int
	Mismatch  []Mismatch
	ReadError []string
}

// ReadFile abstracts local file content access, matching pushengine's
// ReadFile type so both engines can share a cmd/vaultsync wiring.
type ReadFile func(path string) ([]byte, error)

// Run re-chunks up to limit local files that have a remote counterpart and
// compares the resulting children sequence for equality. limit <= 0 means
// no cap.
func Run(locals map[string]localindex.File, remotes map[string]remoteindex.File, read ReadFile, limit int) Result {
	var res Result

	for path, local := range locals {
		remote, ok := remotes[path]
		if !ok {
			continue
		}
		children := doccodec.ChildrenFromDoc(remote.Doc)
		if children == nil {
			// Inline documents have no children list to compare against.
			continue
		}
		if limit > 0 && res.Checked >= limit {
			break
		}
		res.Checked++

		content, err := read(local.AbsPath)
		if err != nil {
			res.ReadError = append(res.ReadError, path)
			continue
		}

		got := doccodec.Encode(content).ChildrenOrder
		if equal(got, children) {
			res.Matched++
			continue
		}
		res.Mismatch = append(res.Mismatch, Mismatch{Path: path, Got: got, Expected: children})
	}

	return res
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
