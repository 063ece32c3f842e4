package filestore

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/c360/confsync/configtree"
	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/pathmap"
)

// Fragment is one parsed file: its document tree plus the modification
// time observed at read, in Unix milliseconds.
type Fragment struct {
	Node    *configtree.Node
	ModTime int64
}

// Manifest is the result of a full store load: every fragment keyed by
// its relative path.
type Manifest struct {
	fragments map[string]Fragment
}

func newManifest() *Manifest {
	return &Manifest{fragments: make(map[string]Fragment)}
}

// Len returns the number of fragments.
func (m *Manifest) Len() int {
	return len(m.fragments)
}

// Paths returns every fragment path, sorted.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.fragments))
	for p := range m.fragments {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Fragment looks up one fragment by relative path.
func (m *Manifest) Fragment(path string) (Fragment, bool) {
	f, ok := m.fragments[path]
	return f, ok
}

// ModTimes returns each fragment's modification time in Unix
// milliseconds, keyed by relative path.
func (m *Manifest) ModTimes() map[string]int64 {
	out := make(map[string]int64, len(m.fragments))
	for p, f := range m.fragments {
		out[p] = f.ModTime
	}
	return out
}

// MergedTree mounts every fragment at its path-map prefix and merges the
// results into one tree. Fragments merge in sorted path order so the
// outcome is deterministic; a fragment with no mount is an error, never
// silently dropped.
func (m *Manifest) MergedTree(pm *pathmap.Map, policy configtree.MergePolicy) (*configtree.Tree, error) {
	tree := configtree.NewTree()
	for _, path := range m.Paths() {
		mount, ok := pm.MountFor(path)
		if !ok {
			return nil, fmt.Errorf("fragment %q: %w", path, errors.ErrUnmappedPath)
		}

		frag := configtree.NewTree()
		if err := frag.Set(mount, m.fragments[path].Node); err != nil {
			return nil, errors.Wrap(err, "Manifest", "MergedTree",
				fmt.Sprintf("mount fragment %s at %s", path, mount))
		}
		if err := tree.Merge(frag, policy); err != nil {
			var conflict *configtree.ConflictError
			if stderrors.As(err, &conflict) {
				return nil, fmt.Errorf("fragment %q: %w", path, err)
			}
			return nil, errors.Wrap(err, "Manifest", "MergedTree",
				fmt.Sprintf("merge fragment %s", path))
		}
	}
	return tree, nil
}

// ParseError reports a fragment that failed to parse, with the file and
// line so an operator can jump straight to the defect.
type ParseError struct {
	File string
	Line int
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s:%d: %v", e.File, e.Line, e.Err)
}

// Unwrap exposes the underlying decode failure.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// lineOf maps a decode failure back to a 1-based line number using the
// byte offset the decoder reported.
func lineOf(data []byte, err error) int {
	var decodeErr *configtree.DecodeError
	if !stderrors.As(err, &decodeErr) {
		return 1
	}
	offset := decodeErr.Offset
	if offset < 0 {
		return 1
	}
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	return 1 + bytes.Count(data[:offset], []byte{'\n'})
}
