package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360/confsync/errors"
)

const (
	defaultDebounce = 250 * time.Millisecond
	defaultBuffer   = 4
)

// Op is a bitmask of the file operations coalesced into one event.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

// Has reports whether the mask includes o.
func (op Op) Has(o Op) bool { return op&o == o }

// String renders the mask for logs, e.g. "create|write".
func (op Op) String() string {
	var parts []string
	if op.Has(OpCreate) {
		parts = append(parts, "create")
	}
	if op.Has(OpWrite) {
		parts = append(parts, "write")
	}
	if op.Has(OpRemove) {
		parts = append(parts, "remove")
	}
	if op.Has(OpRename) {
		parts = append(parts, "rename")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Event is one changed fragment, identified the way the file store
// identifies it: a slash path relative to the watched root.
type Event struct {
	Path string
	Op   Op
}

// Batch holds every fragment that changed within one quiet window,
// sorted by path. One burst of writes produces one batch, so a consumer
// runs one regeneration pass per burst rather than one per file.
type Batch []Event

// Watcher turns raw file system notifications on a fragment directory
// into debounced batches. Hidden entries and non-JSON files are ignored
// under the same rules the file store lists by, so in-flight temp files
// never surface. A Watcher is single use: Start it once, Stop it once.
type Watcher struct {
	root   string
	delay  time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}

	batches chan Batch
	pending map[string]Op
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet window that closes a batch. Non-positive
// values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.delay = d
		}
	}
}

// WithBuffer sets the batch channel capacity. Non-positive values are
// ignored.
func WithBuffer(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.batches = make(chan Batch, n)
		}
	}
}

// WithLogger sets the watcher's logger. Nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a watcher for the fragment directory at root. The
// directory must exist.
func New(root string, opts ...Option) (*Watcher, error) {
	if root == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Watcher", "New",
			"watch root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Watcher", "New",
			fmt.Sprintf("resolve watch root %s", root))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.Wrap(err, "Watcher", "New",
			fmt.Sprintf("stat watch root %s", abs))
	}
	if !info.IsDir() {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Watcher", "New",
			fmt.Sprintf("watch root %s is not a directory", abs))
	}

	w := &Watcher{
		root:    abs,
		delay:   defaultDebounce,
		logger:  slog.Default(),
		batches: make(chan Batch, defaultBuffer),
		pending: make(map[string]Op),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Batches returns the channel batches are delivered on. It is closed
// when the watcher stops or its context ends.
func (w *Watcher) Batches() <-chan Batch {
	return w.batches
}

// Start registers the root and every subdirectory with the kernel
// notifier and launches the run loop. The loop also exits when ctx
// ends, closing the batch channel.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Watcher", "Start", "lifecycle check")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapTransient(err, "Watcher", "Start", "create notifier")
	}
	w.fsw = fsw
	w.watchTree(w.root)

	w.started = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	go w.run(ctx)

	w.logger.Info("watching fragment directory", "root", w.root, "debounce", w.delay)
	return nil
}

// Stop shuts the run loop down and releases the kernel watches. The
// batch channel is closed before Stop returns.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started || w.stopped {
		return errors.WrapInvalid(errors.ErrNotStarted, "Watcher", "Stop", "lifecycle check")
	}
	w.stopped = true

	close(w.stop)
	<-w.done
	if err := w.fsw.Close(); err != nil {
		return errors.Wrap(err, "Watcher", "Stop", "close notifier")
	}
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.batches)

	timer := time.NewTimer(w.delay)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.ingest(ev) {
				if armed && !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.delay)
				armed = true
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file notifier error", "root", w.root, "error", err)

		case <-timer.C:
			armed = false
			if !w.emit(ctx) {
				return
			}
		}
	}
}

// ingest folds one raw notification into the pending batch and reports
// whether the quiet window should restart.
func (w *Watcher) ingest(ev fsnotify.Event) bool {
	op := convertOp(ev.Op)
	if op == 0 {
		// Permission-only changes never alter fragment content.
		return false
	}
	rel, ok := w.relPath(ev.Name)
	if !ok || rel == "" || hidden(rel) {
		return false
	}

	if op.Has(OpCreate) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// New subdirectories join the watch set but are not
			// fragments themselves.
			w.watchTree(ev.Name)
			return false
		}
	}
	if !strings.HasSuffix(rel, ".json") {
		return false
	}

	w.pending[rel] |= op
	return true
}

// emit delivers the pending batch. It reports false when the watcher
// shut down before the batch could be handed over.
func (w *Watcher) emit(ctx context.Context) bool {
	if len(w.pending) == 0 {
		return true
	}
	batch := make(Batch, 0, len(w.pending))
	for path, op := range w.pending {
		batch = append(batch, Event{Path: path, Op: op})
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	w.pending = make(map[string]Op)

	select {
	case w.batches <- batch:
		w.logger.Debug("emitted change batch", "root", w.root, "files", len(batch))
		return true
	case <-w.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// watchTree registers dir and every visible subdirectory below it.
// Registration failures are logged, not fatal: the next full listing
// still sees the files, only change latency suffers.
func (w *Watcher) watchTree(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		rel, ok := w.relPath(p)
		if !ok {
			return filepath.SkipDir
		}
		if rel != "" && hidden(rel) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("cannot watch directory", "dir", p, "error", err)
		}
		return nil
	})
}

// relPath rewrites an absolute notification path into the store's slash
// form. The root itself maps to "".
func (w *Watcher) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return filepath.ToSlash(rel), true
}

// hidden reports whether any path segment is dot-prefixed, matching the
// file store's listing rules.
func hidden(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}

func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}
