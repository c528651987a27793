// Package syncpkg implements the debounced queue and processor at the
// heart of the mirroring pipeline: the typed Event model, the
// debounced Queue, and the Processor's dispatch matrix, retry lane,
// and recovery sweeps.
package syncpkg

import (
	"path/filepath"

	"github.com/chriskish19/sfctd/internal/pathfs"
	"github.com/chriskish19/sfctd/internal/script"
	"github.com/chriskish19/sfctd/internal/watch"
	"github.com/spf13/afero"
)

// Kind is the typed event alphabet the Processor's dispatch matrix
// switches on.
type Kind int

const (
	None Kind = iota
	FileAdded
	FileUpdated
	FileRemoved
	RenameOld
	RenameNew
	Overflow
)

func (k Kind) String() string {
	switch k {
	case FileAdded:
		return "file_added"
	case FileUpdated:
		return "file_updated"
	case FileRemoved:
		return "file_removed"
	case RenameOld:
		return "rename_old"
	case RenameNew:
		return "rename_new"
	case Overflow:
		return "overflow"
	default:
		return "none"
	}
}

// Event is the Processor's unit of work. Two Events are equal, and
// hash identically, based solely on (Src, Dst).
type Event struct {
	Src, Dst         string
	MainSrc, MainDst string

	Kind    Kind
	SrcType pathfs.EntryType
	DstType pathfs.EntryType

	CopyFlags script.CopyFlags
	ModeFlags script.ModeFlags
	Excludes  []string
}

// eventKey is the (Src, Dst) identity used as a map key by the
// Seen-Set and Seen-Top-Directories set.
type eventKey struct {
	Src, Dst string
}

func (e Event) key() eventKey {
	return eventKey{Src: e.Src, Dst: e.Dst}
}

// isTopLevelOf reports whether e's source is an immediate child of
// root, the candidate set the Seen-Top-Directories recovery sweep
// tracks.
func (e Event) isTopLevelOf(root string) bool {
	if filepath.Dir(e.Src) != filepath.Clean(root) {
		return false
	}

	return true
}

// NewEvent resolves a RawEvent against its owning Job into a typed
// Event: absolute Src/Dst by joining each Job root with raw.RelPath
// (no directories are created), a probe of both
// sides' EntryType, and the raw-to-typed kind mapping, including the
// "additive monitor" subtlety where a Removed raw event becomes
// FileRemoved only under -sync, and is silently dropped (Kind None)
// otherwise.
func NewEvent(fsys afero.Fs, raw watch.RawEvent, job script.Job) (Event, error) {
	src := filepath.Join(job.SourceRoot, raw.RelPath)
	dst := filepath.Join(job.DestRoot, raw.RelPath)

	srcType, _, err := pathfs.Probe(fsys, src)
	if err != nil {
		return Event{}, err
	}

	dstType, _, err := pathfs.Probe(fsys, dst)
	if err != nil {
		return Event{}, err
	}

	ev := Event{
		Src:       src,
		Dst:       dst,
		MainSrc:   job.SourceRoot,
		MainDst:   job.DestRoot,
		SrcType:   srcType,
		DstType:   dstType,
		CopyFlags: job.CopyFlags,
		ModeFlags: job.ModeFlags,
		Excludes:  job.Excludes,
	}

	switch raw.Kind {
	case watch.Added:
		ev.Kind = FileAdded
	case watch.Modified:
		ev.Kind = FileUpdated
	case watch.Removed:
		if job.ModeFlags.Has(script.FlagSync) {
			ev.Kind = FileRemoved
		} else {
			ev.Kind = None
		}
	case watch.RenamedOld:
		ev.Kind = RenameOld
	case watch.RenamedNew:
		ev.Kind = RenameNew
	case watch.BufferOverflow:
		ev.Kind = Overflow
	default:
		ev.Kind = None
	}

	return ev, nil
}

// synthesizeAdded builds a FileAdded Event for path (absolute, under
// job.SourceRoot), used by the recovery sweep and the buffer-overflow
// full diff to re-inject entries the Watcher never reported.
func synthesizeAdded(fsys afero.Fs, srcPath string, job script.Job) (Event, error) {
	rel, err := pathfs.RelativePath(srcPath, job.SourceRoot)
	if err != nil {
		return Event{}, err
	}

	dst := filepath.Join(job.DestRoot, rel)

	srcType, _, err := pathfs.Probe(fsys, srcPath)
	if err != nil {
		return Event{}, err
	}
	dstType, _, err := pathfs.Probe(fsys, dst)
	if err != nil {
		return Event{}, err
	}

	return Event{
		Src:       srcPath,
		Dst:       dst,
		MainSrc:   job.SourceRoot,
		MainDst:   job.DestRoot,
		Kind:      FileAdded,
		SrcType:   srcType,
		DstType:   dstType,
		CopyFlags: job.CopyFlags,
		ModeFlags: job.ModeFlags,
		Excludes:  job.Excludes,
	}, nil
}
