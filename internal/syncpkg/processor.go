package syncpkg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/chriskish19/sfctd/internal/errkind"
	"github.com/chriskish19/sfctd/internal/pathfs"
	"github.com/chriskish19/sfctd/internal/script"
	"github.com/spf13/afero"
)

// Stats accumulates per-job counters for the console status line and
// the post-run summary log line.
type Stats struct {
	Dispatched   int
	Copied       int
	Removed      int
	RecoverySwept int
	Overflows    int
	Errors       int
}

// Processor is the sole mutator of a single Job's destination tree,
// its Seen-Set, its retry lane, and its pending-rename cell. Exactly
// one Processor goroutine runs per Job.
type Processor struct {
	fsys afero.Fs
	log  *slog.Logger
	job  script.Job

	seen        seenSet
	seenTopDirs seenSet
	retry       []Event

	pendingRenameOld *Event

	Stats Stats
}

// NewProcessor constructs a Processor for job, operating on fsys and
// logging through log.
func NewProcessor(fsys afero.Fs, log *slog.Logger, job script.Job) *Processor {
	return &Processor{
		fsys:        fsys,
		log:         log,
		job:         job,
		seen:        newSeenSet(),
		seenTopDirs: newSeenSet(),
	}
}

// Run drains batches from ready until the channel closes or ctx is
// done. Every per-batch error path is guarded by a panic recovery, so
// one malformed Event can be logged and skipped instead of taking the
// whole pipeline down.
func (p *Processor) Run(ctx context.Context, ready <-chan []Event) {
	for {
		select {
		case batch, ok := <-ready:
			if !ok {
				return
			}
			p.processBatch(ctx, batch)

		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) processBatch(ctx context.Context, batch []Event) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic recovered while processing batch",
				"job", p.job.SourceRoot, "panic", r, "error-type", "programmer")
			debug.PrintStack()
		}
	}()

	var topDirs []Event
	integrityFailed := false

	// A batch already received is dispatched in full even when ctx is
	// cancelled part-way through; Run checks ctx only between batches.
	for _, ev := range batch {
		if p.isExcluded(ev.Src) {
			continue
		}

		sweep, err := p.dispatch(ev)
		p.Stats.Dispatched++
		if err != nil {
			p.Stats.Errors++
			p.log.Warn("dispatch failed", "src", ev.Src, "dst", ev.Dst, "kind", ev.Kind, "error", err, "error-type", errkind.Of(err).String())

			switch errkind.Of(err) {
			case errkind.Transient:
				p.pushRetry(ev)
			case errkind.Integrity:
				integrityFailed = true
			}
		}
		if sweep {
			topDirs = append(topDirs, ev)
		}
	}

	p.drainRetryLane()

	if integrityFailed {
		p.Stats.RecoverySwept++
		p.fullDiff(p.job.SourceRoot)
	}

	for _, ev := range topDirs {
		p.Stats.RecoverySwept++
		p.fullDiff(ev.Src)
	}
}

// dispatch is the Processor's event-kind matrix. The bool result
// reports whether ev is a newly-seen top-level directory that should
// be queued for a recovery sweep once the whole batch has been
// dispatched.
func (p *Processor) dispatch(ev Event) (sweepCandidate bool, err error) {
	switch ev.Kind {
	case FileAdded, FileUpdated:
		return p.dispatchAddedOrUpdated(ev)

	case FileRemoved:
		return false, p.dispatchRemoved(ev)

	case RenameOld:
		if p.pendingRenameOld != nil {
			p.log.Warn("rename_old replaced an unpaired rename_old; the earlier rename is lost",
				"lost", p.pendingRenameOld.Dst, "dst", ev.Dst)
		}
		p.pendingRenameOld = &ev

		return false, nil

	case RenameNew:
		return false, p.dispatchRenameNew(ev)

	case Overflow:
		p.Stats.Overflows++
		p.fullDiff(p.job.SourceRoot)

		return false, nil

	case None:
		return false, nil

	default:
		return false, errkind.Wrap(errkind.Programmer, fmt.Errorf("unreachable dispatch kind %v", ev.Kind))
	}
}

func (p *Processor) dispatchAddedOrUpdated(ev Event) (bool, error) {
	switch {
	case ev.SrcType.IsRegularish():
		if !pathfs.IsReady(p.fsys, ev.Src) {
			p.pushRetry(ev)

			return false, nil
		}

		if err := p.copyEntry(ev); err != nil {
			return false, errkind.Wrap(errkind.Transient, err)
		}

		return false, nil

	case ev.SrcType == pathfs.TypeDirectory:
		if err := pathfs.CreateDirectories(p.fsys, ev.Dst); err != nil {
			return false, errkind.Wrap(errkind.Integrity, err)
		}
		p.seen.add(ev)

		if ev.Kind == FileUpdated {
			return false, nil
		}

		if ev.isTopLevelOf(ev.MainSrc) && ev.ModeFlags.Has(script.FlagRecursive) {
			p.seenTopDirs.add(ev)

			return true, nil
		}

		return false, nil

	default:
		// not_found / none / unknown: the entry disappeared again
		// before we got to it; nothing to do.
		return false, nil
	}
}

func (p *Processor) copyEntry(ev Event) error {
	if err := pathfs.CreateDirectories(p.fsys, filepath.Dir(ev.Dst)); err != nil {
		return err
	}

	if err := pathfs.CopyFile(p.fsys, ev.Src, ev.Dst, ev.CopyFlags); err != nil {
		return err
	}

	p.seen.add(ev)
	p.Stats.Copied++

	return nil
}

func (p *Processor) dispatchRemoved(ev Event) error {
	if ev.DstType == pathfs.TypeDirectory {
		return p.removeDestDir(ev)
	}

	if err := pathfs.Remove(p.fsys, ev.Dst); err != nil {
		return errkind.Wrap(errkind.Transient, err)
	}
	p.seen.remove(ev)
	p.Stats.Removed++

	return nil
}

// removeDestDir implements the directory-removal integrity contract
// the Processor relies on: it knows, before deleting anything, which
// Seen-Set entries live under ev.Dst; on full success all of them are
// purged, on partial failure only the ones verified (by a follow-up
// stat) to have actually vanished are purged, and the whole Seen-Set
// is re-scanned afterward to drop any other now-dangling entries.
func (p *Processor) removeDestDir(ev Event) error {
	var candidates []eventKey
	for k := range p.seen {
		if pathfs.FindUnderRoot(k.Dst, ev.Dst) {
			candidates = append(candidates, k)
		}
	}

	_, err := pathfs.RemoveAll(p.fsys, ev.Dst)

	if err == nil {
		for _, k := range candidates {
			delete(p.seen, k)
		}
		p.seenTopDirs.purgeUnderDst(ev.Dst, pathfs.FindUnderRoot)
		p.Stats.Removed++

		return nil
	}

	for _, k := range candidates {
		if typ, _, serr := pathfs.Probe(p.fsys, k.Dst); serr == nil && typ == pathfs.TypeNotFound {
			delete(p.seen, k)
		}
	}
	p.reconcileSeenSet()

	return errkind.Wrap(errkind.Integrity, err)
}

// reconcileSeenSet re-stats every remaining Seen-Set entry's
// destination and drops the ones that no longer exist. Called after
// any directory-removal failure.
func (p *Processor) reconcileSeenSet() {
	for k := range p.seen {
		if typ, _, err := pathfs.Probe(p.fsys, k.Dst); err == nil && typ == pathfs.TypeNotFound {
			delete(p.seen, k)
		}
	}
}

// dispatchRenameNew pairs with a RenameOld event stashed in
// pendingRenameOld. If the destination does not yet exist, it first
// synthesizes and dispatches an equivalent FileAdded event so content
// is never dropped when a whole directory is renamed into being, then
// performs the actual rename.
func (p *Processor) dispatchRenameNew(ev Event) error {
	old := p.pendingRenameOld
	p.pendingRenameOld = nil

	if old == nil {
		p.log.Warn("rename_new without a paired rename_old; treating as file_added", "dst", ev.Dst)
		added := ev
		added.Kind = FileAdded
		_, err := p.dispatch(added)

		return err
	}

	if ev.DstType == pathfs.TypeNotFound {
		added := ev
		added.Kind = FileAdded
		if _, err := p.dispatch(added); err != nil {
			p.log.Warn("recursive file_added synthesis during rename failed", "dst", ev.Dst, "error", err)
		}
	}

	if err := pathfs.Rename(p.fsys, old.Dst, ev.Dst); err != nil {
		return errkind.Wrap(errkind.Integrity, err)
	}

	p.seen.remove(*old)
	p.seen.add(ev)

	return nil
}

func (p *Processor) pushRetry(ev Event) {
	p.retry = append(p.retry, ev)
}

// drainRetryLane is called once per debounce cycle, after the current
// ready batch has been dispatched.
func (p *Processor) drainRetryLane() {
	if len(p.retry) == 0 {
		return
	}

	pending := p.retry
	p.retry = nil

	for _, ev := range pending {
		sweep, err := p.dispatch(ev)
		if err != nil {
			p.log.Warn("retry dispatch failed", "src", ev.Src, "error", err)
		}
		if sweep {
			p.Stats.RecoverySwept++
			p.fullDiff(ev.Src)
		}
	}
}

// fullDiff implements the single recovery path shared by the
// top-directory recovery sweep and the buffer-overflow full diff
// it recursively enumerates root (a
// subtree of the job's source root), synthesizes a FileAdded Event for
// every path not already in the Seen-Set, and dispatches each in-line.
func (p *Processor) fullDiff(root string) {
	entries, err := afero.ReadDir(p.fsys, root)
	if err != nil {
		p.log.Warn("recovery sweep failed to read directory", "path", root, "error", err, "error-type", errkind.Integrity.String())

		return
	}

	for _, e := range entries {
		childSrc := filepath.Join(root, e.Name())

		if p.isExcluded(childSrc) {
			continue
		}

		ev, err := synthesizeAdded(p.fsys, childSrc, p.job)
		if err != nil {
			p.log.Warn("recovery sweep failed to synthesize event", "path", childSrc, "error", err)

			continue
		}

		if p.seen.has(ev) {
			if ev.SrcType == pathfs.TypeDirectory {
				p.fullDiff(childSrc)
			}

			continue
		}

		if _, err := p.dispatch(ev); err != nil {
			p.log.Warn("recovery sweep dispatch failed", "path", childSrc, "error", err)
		}

		if ev.SrcType == pathfs.TypeDirectory {
			p.fullDiff(childSrc)
		}
	}
}

func (p *Processor) isExcluded(path string) bool {
	for _, pattern := range p.job.Excludes {
		rel, err := filepath.Rel(p.job.SourceRoot, path)
		if err != nil {
			continue
		}

		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
			return true
		}
	}

	return false
}

// SeenCount reports the number of (src,dst) pairs currently tracked in
// the Seen-Set, exposed for tests of the mirror/seen-set invariants.
func (p *Processor) SeenCount() int {
	return len(p.seen)
}

// Reconcile runs a full source-vs-destination diff of the Job's entire
// source root in-line, synthesizing and dispatching a FileAdded Event
// for anything not already in the Seen-Set. The Supervisor calls this
// once at startup (an initial diff covering drift since the daemon
// last ran) and
// again on its periodic directory-sync ticker.
func (p *Processor) Reconcile() {
	p.fullDiff(p.job.SourceRoot)
}

// ErrNoPendingRename is returned by PendingRename when no RenameOld
// event is currently stashed waiting for its paired RenameNew.
var ErrNoPendingRename = errors.New("no pending rename")

// PendingRename reports the RenameOld event currently stashed in the
// pending-rename cell, or ErrNoPendingRename if the cell is empty.
// Exposed so tests can assert the cell has been cleared (normally, by
// a matching RenameNew, or by the fallback-to-FileAdded path when none
// ever arrives).
func (p *Processor) PendingRename() (Event, error) {
	if p.pendingRenameOld == nil {
		return Event{}, ErrNoPendingRename
	}

	return *p.pendingRenameOld, nil
}
