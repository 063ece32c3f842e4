package pathmap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360/confsync/configtree"
	"github.com/c360/confsync/errors"
)

// ConflictError reports two sources claiming the same tree-path prefix: two
// mount rules, two files, or a rule and a file. A mount conflict is a fatal
// configuration defect fixed by the operator, never retried.
type ConflictError struct {
	Prefix string
	First  string
	Second string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("mount conflict: prefix %q claimed by both %q and %q",
		e.Prefix, e.First, e.Second)
}

// Map is the bidirectional binding between tree-path prefixes and the files
// that own them. Every leaf path resolves to exactly one owning file via
// longest-prefix match; each file mounts exactly one prefix.
//
// A Map is immutable after Build except through Refresh; reads are safe for
// concurrent use once building is done.
type Map struct {
	bindings map[string]string // prefix → file
	byFile   map[string]string // file → prefix
	rules    []Rule
}

// Build computes a fresh Map from the current file list and the declared
// mount rules. Rules bind first; a duplicate prefix among rules is a
// *ConflictError. Files not claimed by any rule auto-bind to the prefix
// derived from their relative path ("content/types.json" → "content.types").
// Building from scratch prunes every stale binding; Refresh is the
// incremental variant that keeps live ones.
func Build(files []string, rules []Rule) (*Map, error) {
	m := &Map{
		bindings: make(map[string]string),
		byFile:   make(map[string]string),
		rules:    make([]Rule, len(rules)),
	}
	for i, r := range rules {
		r.File = cleanRel(r.File)
		r.Dir = cleanRel(r.Dir)
		m.rules[i] = r
	}

	seen := make(map[string]string, len(m.rules))
	for _, r := range m.rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if prev, ok := seen[r.Prefix]; ok {
			return nil, &ConflictError{Prefix: r.Prefix, First: prev, Second: r.target()}
		}
		seen[r.Prefix] = r.target()
	}

	for _, r := range m.rules {
		if r.File == "" {
			continue
		}
		if err := m.bind(r.Prefix, r.File); err != nil {
			return nil, err
		}
	}

	// Deterministic auto-binding order so the first reported conflict is
	// stable across runs.
	sorted := make([]string, 0, len(files))
	for _, f := range files {
		sorted = append(sorted, cleanRel(f))
	}
	sort.Strings(sorted)

	for _, f := range sorted {
		if _, bound := m.byFile[f]; bound {
			continue // claimed by a file rule
		}
		prefix, err := m.prefixForFile(f)
		if err != nil {
			return nil, err
		}
		if err := m.bind(prefix, f); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// bind records prefix↔file, rejecting double claims.
func (m *Map) bind(prefix, file string) error {
	if existing, ok := m.bindings[prefix]; ok {
		return &ConflictError{Prefix: prefix, First: existing, Second: file}
	}
	if existing, ok := m.byFile[file]; ok {
		return errors.WrapInvalid(errors.ErrInvalidRule, "Map", "bind",
			fmt.Sprintf("file %q already mounted at %q, cannot also mount %q", file, existing, prefix))
	}
	m.bindings[prefix] = file
	m.byFile[file] = prefix
	return nil
}

// prefixForFile decides where an unruled file mounts: under the longest
// matching dir rule when one covers it, else at the prefix derived from its
// relative path.
func (m *Map) prefixForFile(file string) (string, error) {
	var best *Rule
	for i := range m.rules {
		r := &m.rules[i]
		if r.Dir == "" {
			continue
		}
		if !strings.HasPrefix(file, r.Dir+"/") {
			continue
		}
		if best == nil || len(r.Dir) > len(best.Dir) {
			best = r
		}
	}

	var prefix string
	if best != nil {
		rel := strings.TrimPrefix(file, best.Dir+"/")
		prefix = best.Prefix + configtree.PathDelimiter + derivePrefix(rel)
	} else {
		prefix = derivePrefix(file)
	}

	if _, err := configtree.SplitPath(prefix); err != nil {
		return "", errors.WrapInvalid(errors.ErrInvalidPath, "Map", "prefixForFile",
			fmt.Sprintf("file %q derives invalid mount prefix %q", file, prefix))
	}
	return prefix, nil
}

// derivePrefix turns a relative file path into a tree-path prefix:
// "content/types.json" → "content.types".
func derivePrefix(file string) string {
	p := strings.TrimSuffix(file, ".json")
	return strings.ReplaceAll(p, "/", configtree.PathDelimiter)
}

// Refresh rebinds the map against the current file list without dropping
// bindings whose prefix is still present in the live tree. A binding whose
// file disappeared survives as long as the live tree still holds paths
// under its prefix and nothing re-claimed the prefix or the file; pruning
// those happens only on a full Build.
func (m *Map) Refresh(files []string, live *configtree.Tree) error {
	fresh, err := Build(files, m.rules)
	if err != nil {
		return err
	}

	for prefix, file := range m.bindings {
		if _, claimed := fresh.bindings[prefix]; claimed {
			continue
		}
		if _, claimed := fresh.byFile[file]; claimed {
			continue
		}
		if live == nil {
			continue
		}
		if _, err := live.Get(prefix); err != nil {
			continue // prefix no longer live
		}
		fresh.bindings[prefix] = file
		fresh.byFile[file] = prefix
	}

	m.bindings = fresh.bindings
	m.byFile = fresh.byFile
	return nil
}

// FileFor resolves the file owning a tree path by longest-prefix match.
// Paths under a dir rule with no bound file yet (a brand-new section)
// resolve to the file the section will be written to. Unresolvable paths
// report errors.ErrUnmappedPath.
func (m *Map) FileFor(treePath string) (string, error) {
	file, _, err := m.Resolve(treePath)
	return file, err
}

// Resolve returns both the file owning treePath and the mount prefix that
// file sits at, so callers can compute the path relative to the file's
// document root. For a synthesized dir-rule target the mount is the
// section the new file will own.
func (m *Map) Resolve(treePath string) (file, mount string, err error) {
	if _, err := configtree.SplitPath(treePath); err != nil {
		return "", "", err
	}

	bestLen := -1
	for prefix, f := range m.bindings {
		if !prefixMatches(prefix, treePath) {
			continue
		}
		if len(prefix) > bestLen {
			bestLen = len(prefix)
			file = f
			mount = prefix
		}
	}

	// A dir rule deeper than any explicit binding synthesizes the target
	// file for sections that do not exist on disk yet.
	for _, r := range m.rules {
		if r.Dir == "" || len(r.Prefix) <= bestLen {
			continue
		}
		rest, ok := strings.CutPrefix(treePath, r.Prefix+configtree.PathDelimiter)
		if !ok || rest == "" {
			continue
		}
		child := rest
		if i := strings.Index(rest, configtree.PathDelimiter); i >= 0 {
			child = rest[:i]
		}
		bestLen = len(r.Prefix)
		file = r.Dir + "/" + child + ".json"
		mount = r.Prefix + configtree.PathDelimiter + child
	}

	if bestLen < 0 {
		return "", "", fmt.Errorf("path %q: %w", treePath, errors.ErrUnmappedPath)
	}
	return file, mount, nil
}

// MountFor returns the prefix a file mounts at.
func (m *Map) MountFor(file string) (string, bool) {
	prefix, ok := m.byFile[cleanRel(file)]
	return prefix, ok
}

// Files returns every bound file, sorted.
func (m *Map) Files() []string {
	out := make([]string, 0, len(m.byFile))
	for f := range m.byFile {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Prefixes returns every bound prefix, sorted.
func (m *Map) Prefixes() []string {
	out := make([]string, 0, len(m.bindings))
	for p := range m.bindings {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of bindings.
func (m *Map) Len() int {
	return len(m.bindings)
}

// Validate checks that every leaf path in the tree resolves to an owning
// file. The first unmapped leaf (deterministic pre-order) is reported;
// unmapped paths are errors, never silently dropped.
func (m *Map) Validate(tree *configtree.Tree) error {
	var failed string
	tree.Walk(func(path string, _ any) bool {
		if _, err := m.FileFor(path); err != nil {
			failed = path
			return false
		}
		return true
	})
	if failed != "" {
		return fmt.Errorf("leaf %q: %w", failed, errors.ErrUnmappedPath)
	}
	return nil
}

// Equal reports whether two maps carry identical bindings. The coordinator
// uses this for the "mapping changed" result of a mapping regeneration.
func (m *Map) Equal(other *Map) bool {
	if other == nil {
		return false
	}
	if len(m.bindings) != len(other.bindings) {
		return false
	}
	for prefix, file := range m.bindings {
		if other.bindings[prefix] != file {
			return false
		}
	}
	return true
}

// prefixMatches reports whether path is prefix itself or lies beneath it.
func prefixMatches(prefix, path string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+configtree.PathDelimiter)
}
