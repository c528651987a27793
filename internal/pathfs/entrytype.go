package pathfs

import (
	"os"

	"github.com/spf13/afero"
)

// EntryType classifies a filesystem entry the way the dispatch matrix
// in internal/syncpkg needs to switch on.
type EntryType int

const (
	// TypeNone is the zero value, used before an entry has been probed.
	TypeNone EntryType = iota
	TypeNotFound
	TypeFile
	TypeDirectory
	TypeSymlink
	TypeBlock
	TypeChar
	TypeFifo
	TypeSocket
	TypeUnknown
)

func (t EntryType) String() string {
	switch t {
	case TypeNotFound:
		return "not_found"
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeBlock:
		return "block"
	case TypeChar:
		return "char"
	case TypeFifo:
		return "fifo"
	case TypeSocket:
		return "socket"
	case TypeUnknown:
		return "unknown"
	default:
		return "none"
	}
}

// IsRegularish reports whether t is one of the kinds the dispatch
// matrix treats like a regular file (copy-as-a-stream): regular,
// symlink, block, char, fifo, or socket.
func (t EntryType) IsRegularish() bool {
	switch t {
	case TypeFile, TypeSymlink, TypeBlock, TypeChar, TypeFifo, TypeSocket:
		return true
	default:
		return false
	}
}

// Probe classifies path on fsys. A non-existent path reports
// (TypeNotFound, nil); any other stat failure is returned as an error.
// Symlinks are reported as TypeSymlink based on the mode bits of a
// Lstat-equivalent probe: when fsys implements afero.Lstater (as
// afero.OsFs does), its LstatIfPossible is used so a symlink is
// classified as itself rather than as whatever it points to; on a
// backend without Lstat support (e.g. afero.MemMapFs) this falls back
// to Stat, which follows links the way target-following callers (the
// quiescence probe) want anyway.
func Probe(fsys afero.Fs, path string) (EntryType, os.FileInfo, error) {
	info, err := lstatOrStat(fsys, path)
	if err != nil {
		if os.IsNotExist(err) {
			return TypeNotFound, nil, nil
		}

		return TypeUnknown, nil, err
	}

	return typeOf(info), info, nil
}

func lstatOrStat(fsys afero.Fs, path string) (os.FileInfo, error) {
	if lstater, ok := fsys.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(path)

		return info, err
	}

	return fsys.Stat(path)
}

func typeOf(info os.FileInfo) EntryType {
	mode := info.Mode()

	switch {
	case info.IsDir():
		return TypeDirectory
	case mode&os.ModeSymlink != 0:
		return TypeSymlink
	case mode&os.ModeDevice != 0 && mode&os.ModeCharDevice != 0:
		return TypeChar
	case mode&os.ModeDevice != 0:
		return TypeBlock
	case mode&os.ModeNamedPipe != 0:
		return TypeFifo
	case mode&os.ModeSocket != 0:
		return TypeSocket
	case mode.IsRegular():
		return TypeFile
	default:
		return TypeUnknown
	}
}
