package filestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/c360/confsync/configtree"
	"github.com/c360/confsync/errors"
	"github.com/c360/confsync/pathmap"
	"github.com/c360/confsync/pkg/timestamp"
)

// Store reads and writes the JSON fragment files under a single managed
// directory. All paths exposed by the store are slash-separated and
// relative to the root; nothing outside the root is ever touched.
type Store struct {
	root        string
	maxFileSize int64
	maxDepth    int
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxFileSize overrides the per-fragment size cap. Non-positive values
// are ignored.
func WithMaxFileSize(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// WithMaxDepth overrides the JSON nesting cap. Non-positive values are
// ignored.
func WithMaxDepth(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

// WithLogger sets the store's logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New opens a store rooted at dir. The directory must already exist;
// creating it is a deployment concern, not the store's.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Store", "New",
			"store root cannot be empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Store", "New",
			fmt.Sprintf("resolve store root %s", dir))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrap(err, "Store", "New",
			fmt.Sprintf("stat store root %s", abs))
	}
	if !info.IsDir() {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Store", "New",
			fmt.Sprintf("store root %s is not a directory", abs))
	}

	s := &Store{
		root:        abs,
		maxFileSize: defaultMaxFileSize,
		maxDepth:    defaultMaxDepth,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string {
	return s.root
}

// Files lists every JSON fragment under the root as sorted relative
// slash paths. Hidden files and directories (dot-prefixed) are skipped,
// which also hides in-flight temp files from concurrent readers.
func (s *Store) Files() ([]string, error) {
	var out []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != s.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Files",
			fmt.Sprintf("walk store root %s", s.root))
	}
	sort.Strings(out)
	return out, nil
}

// LoadAll reads and parses every fragment in the store. Any file that
// fails to parse aborts the whole load with a *ParseError naming the file
// and line; a half-loaded manifest is never returned.
func (s *Store) LoadAll() (*Manifest, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}

	m := newManifest()
	for _, rel := range files {
		frag, err := s.readFragment(rel)
		if err != nil {
			return nil, err
		}
		m.fragments[rel] = frag
		s.logger.Debug("loaded fragment", "file", rel, "keys", frag.Node.Len())
	}
	return m, nil
}

// readFragment loads one file through the hardening guards.
func (s *Store) readFragment(rel string) (Fragment, error) {
	if err := s.validateRelPath(rel); err != nil {
		return Fragment{}, err
	}
	abs := filepath.Join(s.root, filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if err != nil {
		return Fragment{}, errors.WrapTransient(err, "Store", "readFragment",
			fmt.Sprintf("stat fragment %s", rel))
	}
	if !info.Mode().IsRegular() {
		return Fragment{}, errors.WrapInvalid(errors.ErrUnsafePath, "Store", "readFragment",
			fmt.Sprintf("not a regular file: %s", rel))
	}
	if info.Size() > s.maxFileSize {
		return Fragment{}, errors.WrapInvalid(errors.ErrFileTooLarge, "Store", "readFragment",
			fmt.Sprintf("fragment %s is %d bytes, limit %d", rel, info.Size(), s.maxFileSize))
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return Fragment{}, errors.WrapTransient(err, "Store", "readFragment",
			fmt.Sprintf("read fragment %s", rel))
	}
	if err := validateJSONDepth(data, s.maxDepth); err != nil {
		return Fragment{}, &ParseError{File: rel, Line: 1, Err: err}
	}

	node, err := configtree.ParseNode(data)
	if err != nil {
		return Fragment{}, &ParseError{File: rel, Line: lineOf(data, err), Err: err}
	}
	return Fragment{Node: node, ModTime: timestamp.ToUnixMs(info.ModTime())}, nil
}

// WriteAll serializes the tree back into its fragment files. Fragments
// whose serialized bytes already match the file on disk are left alone so
// modification times only move when content does. Changed fragments are
// staged as temp files first and renamed into place only after every
// stage succeeds; a failure mid-stage leaves the store untouched.
func (s *Store) WriteAll(tree *configtree.Tree, pm *pathmap.Map) error {
	rendered, err := renderFragments(tree, pm)
	if err != nil {
		return err
	}

	files := make([]string, 0, len(rendered))
	for rel := range rendered {
		files = append(files, rel)
	}
	sort.Strings(files)

	type staged struct {
		tmp string
		dst string
	}
	var stages []staged
	cleanup := func() {
		for _, st := range stages {
			os.Remove(st.tmp)
		}
	}

	for _, rel := range files {
		if err := s.validateRelPath(rel); err != nil {
			cleanup()
			return err
		}
		data := rendered[rel]
		if int64(len(data)) > s.maxFileSize {
			cleanup()
			return errors.WrapInvalid(errors.ErrFileTooLarge, "Store", "WriteAll",
				fmt.Sprintf("fragment %s renders to %d bytes, limit %d", rel, len(data), s.maxFileSize))
		}

		abs := filepath.Join(s.root, filepath.FromSlash(rel))
		if existing, err := os.ReadFile(abs); err == nil && bytes.Equal(existing, data) {
			continue
		}

		if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
			cleanup()
			return errors.WrapTransient(err, "Store", "WriteAll",
				fmt.Sprintf("create directory for %s", rel))
		}
		tmp, err := stageFragment(abs, data)
		if err != nil {
			cleanup()
			return errors.WrapTransient(err, "Store", "WriteAll",
				fmt.Sprintf("stage fragment %s", rel))
		}
		stages = append(stages, staged{tmp: tmp, dst: abs})
	}

	for i, st := range stages {
		if err := os.Rename(st.tmp, st.dst); err != nil {
			for _, rest := range stages[i:] {
				os.Remove(rest.tmp)
			}
			return errors.WrapTransient(err, "Store", "WriteAll",
				fmt.Sprintf("commit fragment %s", st.dst))
		}
		s.logger.Debug("wrote fragment", "file", st.dst)
	}
	return nil
}

// stageFragment writes data to a dot-prefixed temp file next to dst so the
// rename that follows stays on one filesystem.
func stageFragment(dst string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

// StatAll returns the modification time of every fragment in Unix
// milliseconds, keyed by relative path.
func (s *Store) StatAll() (map[string]int64, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(files))
	for _, rel := range files {
		info, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, errors.WrapTransient(err, "Store", "StatAll",
				fmt.Sprintf("stat fragment %s", rel))
		}
		out[rel] = timestamp.ToUnixMs(info.ModTime())
	}
	return out, nil
}

// renderFragments splits the tree into per-file documents via the path
// map. Every bound file gets a document, even when its section is empty;
// regeneration empties files rather than deleting them.
func renderFragments(tree *configtree.Tree, pm *pathmap.Map) (map[string][]byte, error) {
	roots := make(map[string]*configtree.Tree)
	for _, f := range pm.Files() {
		roots[f] = configtree.NewTree()
	}

	visit := func(path string, value any) error {
		file, mount, err := pm.Resolve(path)
		if err != nil {
			return err
		}
		if path == mount {
			// The terminal sits exactly at the file's document root.
			if node, ok := value.(*configtree.Node); ok && node.Len() == 0 {
				if _, exists := roots[file]; !exists {
					roots[file] = configtree.NewTree()
				}
				return nil
			}
			return errors.WrapInvalid(errors.ErrInvalidValue, "filestore", "renderFragments",
				fmt.Sprintf("mount prefix %q holds a scalar, cannot serialize a document", mount))
		}
		rel := strings.TrimPrefix(path, mount+configtree.PathDelimiter)
		frag, exists := roots[file]
		if !exists {
			frag = configtree.NewTree()
			roots[file] = frag
		}
		return frag.Set(rel, value)
	}
	if err := collectTerminals(tree.Root(), "", visit); err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(roots))
	for file, frag := range roots {
		data, err := frag.MarshalJSON()
		if err != nil {
			return nil, errors.Wrap(err, "filestore", "renderFragments",
				fmt.Sprintf("serialize fragment %s", file))
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return nil, errors.Wrap(err, "filestore", "renderFragments",
				fmt.Sprintf("indent fragment %s", file))
		}
		buf.WriteByte('\n')
		out[file] = buf.Bytes()
	}
	return out, nil
}

// collectTerminals visits the tree's terminal paths in document order:
// scalar and list leaves plus empty sections, which must round-trip even
// though they hold no leaves.
func collectTerminals(node *configtree.Node, prefix string, visit func(path string, value any) error) error {
	for _, key := range node.Keys() {
		value, _ := node.Value(key)
		path := key
		if prefix != "" {
			path = prefix + configtree.PathDelimiter + key
		}
		if child, ok := value.(*configtree.Node); ok && child.Len() > 0 {
			if err := collectTerminals(child, path, visit); err != nil {
				return err
			}
			continue
		}
		if err := visit(path, value); err != nil {
			return err
		}
	}
	return nil
}
