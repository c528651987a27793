package syncpkg

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/chriskish19/sfctd/internal/pathfs"
	"github.com/chriskish19/sfctd/internal/script"
	"github.com/chriskish19/sfctd/internal/watch"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob(src, dst string, flags script.ModeFlags) script.Job {
	fsys := afero.NewMemMapFs()
	_ = fsys.MkdirAll(src, 0o777)
	_ = fsys.MkdirAll(dst, 0o777)

	return script.Job{
		SourceRoot: src,
		DestRoot:   dst,
		ModeFlags:  flags,
		CopyFlags:  0,
	}
}

func newTestProcessor(fsys afero.Fs, job script.Job) *Processor {
	return NewProcessor(fsys, testLogger(), job)
}

func TestDispatchFileAddedCopiesRegularFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0o777))
	require.NoError(t, fsys.MkdirAll("/dst", 0o777))
	require.NoError(t, afero.WriteFile(fsys, "/src/a.txt", []byte("hello"), 0o644))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor | script.FlagSync}
	p := newTestProcessor(fsys, job)

	ev, err := NewEvent(fsys, watch.RawEvent{Kind: watch.Added, RelPath: "a.txt"}, job)
	require.NoError(t, err)

	sweep, err := p.dispatch(ev)
	require.NoError(t, err)
	require.False(t, sweep)

	data, err := afero.ReadFile(fsys, "/dst/a.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Equal(t, 1, p.SeenCount())
}

func TestDispatchFileAddedDirectoryRecordsTopLevelSweep(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0o777))
	require.NoError(t, fsys.MkdirAll("/dst", 0o777))
	require.NoError(t, fsys.MkdirAll("/src/sub", 0o777))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor | script.FlagRecursive}
	p := newTestProcessor(fsys, job)

	ev, err := NewEvent(fsys, watch.RawEvent{Kind: watch.Added, RelPath: "sub"}, job)
	require.NoError(t, err)

	sweep, err := p.dispatch(ev)
	require.NoError(t, err)
	require.True(t, sweep)

	info, err := fsys.Stat("/dst/sub")
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestDispatchFileRemovedFileDeletesAndPurgesSeen(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0o777))
	require.NoError(t, afero.WriteFile(fsys, "/dst/a.txt", []byte("x"), 0o644))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor | script.FlagSync}
	p := newTestProcessor(fsys, job)
	p.seen.add(Event{Src: "/src/a.txt", Dst: "/dst/a.txt"})

	ev, err := NewEvent(fsys, watch.RawEvent{Kind: watch.Removed, RelPath: "a.txt"}, job)
	require.NoError(t, err)
	require.Equal(t, FileRemoved, ev.Kind)

	_, err = p.dispatch(ev)
	require.NoError(t, err)

	_, statErr := fsys.Stat("/dst/a.txt")
	require.Error(t, statErr)
	require.Equal(t, 0, p.SeenCount())
}

func TestDispatchFileRemovedWithoutSyncFlagIsNoop(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0o777))
	require.NoError(t, afero.WriteFile(fsys, "/dst/a.txt", []byte("x"), 0o644))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor}
	p := newTestProcessor(fsys, job)

	ev, err := NewEvent(fsys, watch.RawEvent{Kind: watch.Removed, RelPath: "a.txt"}, job)
	require.NoError(t, err)
	require.Equal(t, None, ev.Kind)

	_, err = p.dispatch(ev)
	require.NoError(t, err)

	_, statErr := fsys.Stat("/dst/a.txt")
	require.NoError(t, statErr, "non-sync monitor must not delete destination files")
}

func TestRemoveDestDirPurgesOnlySeenEntriesUnderRoot(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0o777))
	require.NoError(t, fsys.MkdirAll("/dst/sub/nested", 0o777))
	require.NoError(t, afero.WriteFile(fsys, "/dst/sub/a.txt", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/dst/unrelated.txt", []byte("y"), 0o644))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor | script.FlagSync}
	p := newTestProcessor(fsys, job)
	p.seen.add(Event{Src: "/src/sub/a.txt", Dst: "/dst/sub/a.txt"})
	p.seen.add(Event{Src: "/src/unrelated.txt", Dst: "/dst/unrelated.txt"})

	ev := Event{Src: "/src/sub", Dst: "/dst/sub", Kind: FileRemoved, DstType: pathfs.TypeDirectory}

	err := p.dispatchRemoved(ev)
	require.NoError(t, err)

	require.Equal(t, 1, p.SeenCount())
	_, statErr := fsys.Stat("/dst/sub")
	require.Error(t, statErr)
	_, statErr = fsys.Stat("/dst/unrelated.txt")
	require.NoError(t, statErr)
}

func TestRenamePairingMovesDestinationAndSeenEntry(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0o777))
	require.NoError(t, afero.WriteFile(fsys, "/dst/old.txt", []byte("hi"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/src/new.txt", []byte("hi"), 0o644))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor}
	p := newTestProcessor(fsys, job)
	p.seen.add(Event{Src: "/src/old.txt", Dst: "/dst/old.txt"})

	_, err := p.PendingRename()
	require.ErrorIs(t, err, ErrNoPendingRename)

	oldEv, err := NewEvent(fsys, watch.RawEvent{Kind: watch.RenamedOld, RelPath: "old.txt"}, job)
	require.NoError(t, err)
	_, err = p.dispatch(oldEv)
	require.NoError(t, err)

	pending, err := p.PendingRename()
	require.NoError(t, err)
	require.Equal(t, oldEv.Dst, pending.Dst)

	newEv, err := NewEvent(fsys, watch.RawEvent{Kind: watch.RenamedNew, RelPath: "new.txt"}, job)
	require.NoError(t, err)
	_, err = p.dispatch(newEv)
	require.NoError(t, err)

	_, err = p.PendingRename()
	require.ErrorIs(t, err, ErrNoPendingRename, "pending-rename cell should be cleared once paired")

	_, statErr := fsys.Stat("/dst/old.txt")
	require.Error(t, statErr)
	data, err := afero.ReadFile(fsys, "/dst/new.txt")
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
	require.True(t, p.seen.has(Event{Src: "/src/new.txt", Dst: "/dst/new.txt"}))
}

func TestRenameNewWithoutPendingOldFallsBackToFileAdded(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0o777))
	require.NoError(t, fsys.MkdirAll("/dst", 0o777))
	require.NoError(t, afero.WriteFile(fsys, "/src/new.txt", []byte("hi"), 0o644))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor}
	p := newTestProcessor(fsys, job)

	ev, err := NewEvent(fsys, watch.RawEvent{Kind: watch.RenamedNew, RelPath: "new.txt"}, job)
	require.NoError(t, err)

	_, err = p.dispatch(ev)
	require.NoError(t, err)

	_, err = p.PendingRename()
	require.ErrorIs(t, err, ErrNoPendingRename, "no RenameOld was ever stashed")

	data, err := afero.ReadFile(fsys, "/dst/new.txt")
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
}

func TestFullDiffCopiesMissingEntriesAndSkipsSeen(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src/sub", 0o777))
	require.NoError(t, fsys.MkdirAll("/dst", 0o777))
	require.NoError(t, afero.WriteFile(fsys, "/src/a.txt", []byte("a"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/src/sub/b.txt", []byte("b"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/dst/a.txt", []byte("a"), 0o644))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor | script.FlagRecursive}
	p := newTestProcessor(fsys, job)
	p.seen.add(Event{Src: "/src/a.txt", Dst: "/dst/a.txt"})

	p.fullDiff("/src")

	data, err := afero.ReadFile(fsys, "/dst/sub/b.txt")
	require.NoError(t, err)
	require.Equal(t, "b", string(data))
}

func TestOverflowKindTriggersFullDiff(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0o777))
	require.NoError(t, fsys.MkdirAll("/dst", 0o777))
	require.NoError(t, afero.WriteFile(fsys, "/src/a.txt", []byte("a"), 0o644))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor}
	p := newTestProcessor(fsys, job)

	ev, err := NewEvent(fsys, watch.RawEvent{Kind: watch.BufferOverflow, RelPath: "."}, job)
	require.NoError(t, err)

	_, err = p.dispatch(ev)
	require.NoError(t, err)
	require.Equal(t, 1, p.Stats.Overflows)

	data, err := afero.ReadFile(fsys, "/dst/a.txt")
	require.NoError(t, err)
	require.Equal(t, "a", string(data))
}

func TestDispatchExcludedPathIsSkippedInBatch(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0o777))
	require.NoError(t, fsys.MkdirAll("/dst", 0o777))
	require.NoError(t, afero.WriteFile(fsys, "/src/ignore.tmp", []byte("a"), 0o644))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor, Excludes: []string{"*.tmp"}}
	p := newTestProcessor(fsys, job)

	ev, err := NewEvent(fsys, watch.RawEvent{Kind: watch.Added, RelPath: "ignore.tmp"}, job)
	require.NoError(t, err)

	p.processBatch(context.Background(), []Event{ev})

	_, statErr := fsys.Stat("/dst/ignore.tmp")
	require.Error(t, statErr)
}

func TestRetryLaneDrainsOnceAfterBatch(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src", 0o777))
	require.NoError(t, fsys.MkdirAll("/dst", 0o777))

	job := script.Job{SourceRoot: "/src", DestRoot: "/dst", ModeFlags: script.ModeMonitor}
	p := newTestProcessor(fsys, job)

	ev := Event{Src: "/src/missing.txt", Dst: "/dst/missing.txt", Kind: FileAdded, SrcType: pathfs.TypeNotFound}
	p.pushRetry(ev)

	p.processBatch(context.Background(), nil)

	require.Empty(t, p.retry)
}
