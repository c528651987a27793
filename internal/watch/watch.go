// Package watch turns OS filesystem change notifications into the
// typed RawEvent stream the rest of the mirroring pipeline consumes,
// one Watcher per source root.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// RawKind is the alphabet of change notifications a Watcher delivers.
type RawKind int

const (
	Added RawKind = iota
	Modified
	Removed
	RenamedOld
	RenamedNew
	BufferOverflow
)

func (k RawKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	case RenamedOld:
		return "renamed_old"
	case RenamedNew:
		return "renamed_new"
	case BufferOverflow:
		return "buffer_overflow"
	default:
		return "unknown"
	}
}

// RawEvent is one notification translated from the OS's native
// representation, relative to the Watcher's root.
type RawEvent struct {
	Kind     RawKind
	RelPath  string
	Reported time.Time
}

// renamePairWindow bounds how long a RenamedOld waits for its matching
// RenamedNew before the Watcher gives up pairing it (see renamePairer).
const renamePairWindow = 500 * time.Millisecond

// Watcher delivers a RawEvent stream for a single source root. Start
// must be called exactly once; Stop is safe to call multiple times and
// from any goroutine.
type Watcher struct {
	root      string
	recursive bool
	fsys      afero.Fs
	log       *slog.Logger

	fsw *fsnotify.Watcher

	out  chan RawEvent
	errs chan error

	stopOnce sync.Once
	done     chan struct{}

	pairer renamePairer
}

// New opens a native change-notification subscription for root. When
// recursive is true, every existing subdirectory of root is registered
// as well, and newly created subdirectories are registered as they
// appear. fsys is used only to list and stat directories when
// registering subscriptions; the OS-level notification channel always
// talks to the real filesystem, so an in-memory afero.Fs is not a
// meaningful choice here.
func New(root string, recursive bool, fsys afero.Fs, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("open watcher for %q: %w", root, err)
	}

	w := &Watcher{
		root:      root,
		recursive: recursive,
		fsys:      fsys,
		log:       log,
		fsw:       fsw,
		out:       make(chan RawEvent, 256),
		errs:      make(chan error, 16),
		done:      make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		fsw.Close()

		return nil, fmt.Errorf("subscribe to %q: %w", root, err)
	}

	return w, nil
}

func (w *Watcher) addTree(root string) error {
	if err := w.fsw.Add(root); err != nil {
		return fmt.Errorf("watch %q: %w", root, err)
	}

	if !w.recursive {
		return nil
	}

	entries, err := afero.ReadDir(w.fsys, root)
	if err != nil {
		// The root may have just vanished out from under us; that is
		// an integrity-class condition handled by the recovery sweep,
		// not a reason to fail watcher setup outright.
		return nil //nolint:nilerr
	}

	for _, e := range entries {
		if e.IsDir() {
			if err := w.addTree(filepath.Join(root, e.Name())); err != nil {
				return err
			}
		}
	}

	return nil
}

// Start launches the translation goroutine and returns the RawEvent
// channel. The channel is closed when Stop is called or ctx is
// cancelled.
func (w *Watcher) Start(ctx context.Context) <-chan RawEvent {
	go w.run(ctx)

	return w.out
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.out)

	for {
		select {
		case <-ctx.Done():
			return

		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.translate(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "root", w.root, "error", err)
			w.emit(RawEvent{Kind: BufferOverflow, Reported: time.Now()})
		}
	}
}

func (w *Watcher) translate(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		w.log.Warn("event outside watched root", "root", w.root, "path", ev.Name)

		return
	}

	now := time.Now()

	switch {
	case ev.Has(fsnotify.Create):
		if paired, ok := w.pairer.pairNew(rel, now); ok {
			w.emit(RawEvent{Kind: RenamedOld, RelPath: paired, Reported: now})
			w.emit(RawEvent{Kind: RenamedNew, RelPath: rel, Reported: now})

			return
		}
		w.emit(RawEvent{Kind: Added, RelPath: rel, Reported: now})
		w.maybeWatchNewDir(ev.Name)

	case ev.Has(fsnotify.Write):
		w.emit(RawEvent{Kind: Modified, RelPath: rel, Reported: now})

	case ev.Has(fsnotify.Remove):
		w.emit(RawEvent{Kind: Removed, RelPath: rel, Reported: now})

	case ev.Has(fsnotify.Rename):
		// fsnotify reports only the departing name; the incoming name
		// arrives as a separate Create shortly after (see renamePairer).
		// If no Create shows up within the pairing window, the rename
		// is reported as a plain Removed instead (the entry moved out
		// of the watched tree).
		gen := w.pairer.pairOld(rel, now)
		time.AfterFunc(renamePairWindow, func() {
			if stale, ok := w.pairer.expire(gen, rel); ok {
				w.emit(RawEvent{Kind: Removed, RelPath: stale, Reported: time.Now()})
			}
		})

	case ev.Has(fsnotify.Chmod):
		// Permission-only changes are not part of the mirrored content
		// model; ignored.
	}
}

func (w *Watcher) maybeWatchNewDir(absPath string) {
	if !w.recursive {
		return
	}

	typ, _, err := probeType(w.fsys, absPath)
	if err != nil || typ != "directory" {
		return
	}

	if err := w.addTree(absPath); err != nil {
		w.log.Warn("failed to watch new subdirectory", "path", absPath, "error", err)
	}
}

// probeType is a tiny local indirection so watch does not need to
// import internal/pathfs just for one directory check, avoiding an
// import cycle risk between low-level packages.
func probeType(fsys afero.Fs, path string) (string, bool, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return "", false, fmt.Errorf("stat %q: %w", path, err)
	}

	return map[bool]string{true: "directory", false: "file"}[info.IsDir()], info.IsDir(), nil
}

func (w *Watcher) emit(ev RawEvent) {
	select {
	case w.out <- ev:
	case <-w.done:
	}
}

// Stop releases the native subscription. It is idempotent.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})

	if err != nil {
		return fmt.Errorf("stop watcher for %q: %w", w.root, err)
	}

	return nil
}

// renamePairer correlates an OS Rename notification (old name only)
// with the Create notification for its new name that typically follows
// within a few milliseconds. It holds exactly one pending entry: a
// second RenamedOld arriving before the first is paired overwrites the
// pending cell, and the earlier departing name is dropped. It is
// neither paired nor reported as Removed when its window expires, and
// nothing is logged for it.
type renamePairer struct {
	mu         sync.Mutex
	pending    string
	at         time.Time
	valid      bool
	generation int
}

// pairOld records relPath as the pending departing name and returns a
// generation token. Two consecutive RenamedOld events overwrite the
// pending cell, silently losing the earlier one.
func (p *renamePairer) pairOld(relPath string, at time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = relPath
	p.at = at
	p.valid = true
	p.generation++

	return p.generation
}

func (p *renamePairer) pairNew(relPath string, at time.Time) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.valid || at.Sub(p.at) > renamePairWindow {
		return "", false
	}

	old := p.pending
	p.valid = false

	return old, true
}

// expire clears the pending cell if it is still unconsumed and still
// belongs to generation gen (i.e. no newer RenamedOld has replaced it
// and no Create has paired with it yet), returning the stale path.
func (p *renamePairer) expire(gen int, relPath string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.valid || p.generation != gen || p.pending != relPath {
		return "", false
	}

	p.valid = false

	return relPath, true
}
