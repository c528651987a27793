// Package pathfs provides error-returning wrappers over the native
// filesystem operations the mirroring pipeline needs: stat, copy,
// remove, rename, and the mirror-path construction used throughout
// internal/syncpkg. Every function accepts an afero.Fs so the pipeline
// can be exercised against an in-memory filesystem in tests.
package pathfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chriskish19/sfctd/internal/script"
	"github.com/spf13/afero"
)

// ErrNotRegularFile is returned by CopyFile when src is not a regular
// file (a directory, device, etc. must go through CopyTree instead).
var ErrNotRegularFile = errors.New("source is not a regular file")

// CreateDirectories creates dir and any missing parents on fsys,
// honoring the current process umask the way os.MkdirAll does.
func CreateDirectories(fsys afero.Fs, dir string) error {
	if err := fsys.MkdirAll(dir, 0o777); err != nil {
		return fmt.Errorf("create directories %q: %w", dir, err)
	}

	return nil
}

// RelativePath returns entry's path relative to base.
func RelativePath(entry, base string) (string, error) {
	rel, err := filepath.Rel(base, entry)
	if err != nil {
		return "", fmt.Errorf("relative path of %q from %q: %w", entry, base, err)
	}

	return rel, nil
}

// MakeMirrorPath is the canonical construction used throughout the
// pipeline: given a source entry inside srcRoot, it returns the
// mirrored path under dstRoot. When createParents is true, the parent
// directory of the result is created on fsys before returning.
func MakeMirrorPath(fsys afero.Fs, entry, dstRoot, srcRoot string, createParents bool) (string, error) {
	rel, err := RelativePath(entry, srcRoot)
	if err != nil {
		return "", err
	}

	mirrored := filepath.Join(dstRoot, rel)

	if createParents {
		if err := CreateDirectories(fsys, filepath.Dir(mirrored)); err != nil {
			return "", err
		}
	}

	return mirrored, nil
}

// CopyFile copies src to dst. It succeeds only if src is a regular
// file. When flags has CopyUpdateExisting, the copy is skipped (with a
// nil error) unless src's ModTime is strictly after dst's. When dst
// already exists and neither CopyUpdateExisting nor
// CopyOverwriteExisting is set, CopyFile returns an error rather than
// silently clobbering the destination. No parent directories are
// created; call CreateDirectories first if needed.
func CopyFile(fsys afero.Fs, src, dst string, flags script.CopyFlags) error {
	srcInfo, err := fsys.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %q: %w", src, err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("%w: %q", ErrNotRegularFile, src)
	}

	dstInfo, err := fsys.Stat(dst)
	dstExists := err == nil

	switch {
	case !dstExists:
		// Nothing in the way; proceed.
	case flags.Has(script.CopyUpdateExisting):
		if !srcInfo.ModTime().After(dstInfo.ModTime()) {
			return nil
		}
	case flags.Has(script.CopyOverwriteExisting):
		// Proceed; overwrite unconditionally.
	default:
		return fmt.Errorf("destination exists and neither update nor overwrite is set: %q", dst)
	}

	in, err := fsys.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".sfct-tmp"

	out, err := fsys.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %q: %w", tmp, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = fsys.Remove(tmp)

		return fmt.Errorf("copy %q -> %q: %w", src, tmp, err)
	}

	if err := out.Close(); err != nil {
		_ = fsys.Remove(tmp)

		return fmt.Errorf("close %q: %w", tmp, err)
	}

	if err := fsys.Rename(tmp, dst); err != nil {
		_ = fsys.Remove(tmp)

		return fmt.Errorf("rename %q -> %q: %w", tmp, dst, err)
	}

	return nil
}

// CopyTree copies src to dst, dispatching on the source's type. For a
// directory source it creates the mirrored directory and, when flags
// has CopyRecursive, copies every child; without CopyRecursive only
// the top-level directory entry itself is created ("-single" mode). A
// symlink source is recreated as a symlink at dst (see copySymlink);
// every other non-directory source is handed to CopyFile, which copies
// regular files and returns ErrNotRegularFile for devices, fifos, and
// sockets.
func CopyTree(fsys afero.Fs, src, dst string, flags script.CopyFlags) error {
	entryType, _, err := Probe(fsys, src)
	if err != nil {
		return fmt.Errorf("probe %q: %w", src, err)
	}
	if entryType == TypeNotFound {
		return fmt.Errorf("copy tree: %w: %q", os.ErrNotExist, src)
	}

	if entryType == TypeSymlink {
		if err := CreateDirectories(fsys, filepath.Dir(dst)); err != nil {
			return err
		}

		return copySymlink(fsys, src, dst, flags)
	}

	if entryType != TypeDirectory {
		if err := CreateDirectories(fsys, filepath.Dir(dst)); err != nil {
			return err
		}

		return CopyFile(fsys, src, dst, flags)
	}

	if err := CreateDirectories(fsys, dst); err != nil {
		return err
	}

	if !flags.Has(script.CopyRecursive) {
		return nil
	}

	entries, err := afero.ReadDir(fsys, src)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", src, err)
	}

	for _, e := range entries {
		childSrc := filepath.Join(src, e.Name())
		childDst := filepath.Join(dst, e.Name())

		if err := CopyTree(fsys, childSrc, childDst, flags); err != nil {
			return err
		}
	}

	return nil
}

// Remove removes a single filesystem entry (file, symlink, empty
// directory). Removing an already-absent path is not an error.
func Remove(fsys afero.Fs, path string) error {
	if err := fsys.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %q: %w", path, err)
	}

	return nil
}

// RemoveAll deletes dir and everything beneath it, depth-first,
// returning the count of entries actually removed even when it
// returns a non-nil error partway through. This lets the Processor's
// directory-removal integrity logic know exactly
// how far the deletion got, so it can purge only the Seen-Set entries
// whose destination has actually vanished.
func RemoveAll(fsys afero.Fs, dir string) (int, error) {
	entryType, _, err := Probe(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("probe %q: %w", dir, err)
	}
	if entryType == TypeNotFound {
		return 0, nil
	}
	if entryType != TypeDirectory {
		if err := Remove(fsys, dir); err != nil {
			return 0, err
		}

		return 1, nil
	}

	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return 0, fmt.Errorf("read dir %q: %w", dir, err)
	}

	removed := 0
	for _, e := range entries {
		child := filepath.Join(dir, e.Name())

		n, err := RemoveAll(fsys, child)
		removed += n
		if err != nil {
			return removed, err
		}
	}

	if err := Remove(fsys, dir); err != nil {
		return removed, err
	}
	removed++

	return removed, nil
}

// Rename renames old to new. It is atomic when old and new share a
// volume; the caller is responsible for a copy-and-remove fallback
// when it is not; cross-volume rename atomicity is not addressed
// here either.
func Rename(fsys afero.Fs, old, newPath string) error {
	if err := fsys.Rename(old, newPath); err != nil {
		return fmt.Errorf("rename %q -> %q: %w", old, newPath, err)
	}

	return nil
}

// symlinkCreator is satisfied by afero.OsFs: a minimal interface over
// the one method copySymlink needs, so it doesn't depend on the exact
// shape of whatever broader symlink-capability interface afero
// exports.
type symlinkCreator interface {
	SymlinkIfPossible(oldname, newname string) error
}

// copySymlink recreates the symlink at src as a new symlink at dst
// pointing at the same target, instead of copying the bytes the link
// resolves to. Falls back to CopyFile's byte-stream path (following
// the link) when fsys cannot read or create symlinks, which is the
// case for afero.MemMapFs and any other backend lacking OS-level
// symlink support.
func copySymlink(fsys afero.Fs, src, dst string, flags script.CopyFlags) error {
	target, err := ReadSymlink(fsys, src)
	if err != nil {
		return CopyFile(fsys, src, dst, flags)
	}

	creator, ok := fsys.(symlinkCreator)
	if !ok {
		return CopyFile(fsys, src, dst, flags)
	}

	if err := Remove(fsys, dst); err != nil {
		return err
	}

	if err := creator.SymlinkIfPossible(target, dst); err != nil {
		return fmt.Errorf("symlink %q -> %q: %w", dst, target, err)
	}

	return nil
}

// ReadSymlink returns the target of the symlink at path. afero.Fs
// does not standardize symlink support; when fsys implements
// afero.LinkReader (as afero.OsFs does), that implementation is used,
// otherwise an error is returned.
func ReadSymlink(fsys afero.Fs, path string) (string, error) {
	reader, ok := fsys.(afero.LinkReader)
	if !ok {
		return "", fmt.Errorf("%w: filesystem does not support reading symlinks", errors.ErrUnsupported)
	}

	target, err := reader.ReadlinkIfPossible(path)
	if err != nil {
		return "", fmt.Errorf("read symlink %q: %w", path, err)
	}

	return target, nil
}

// FindUnderRoot reports whether candidate is path-equal to root or
// nested under it, used by the Processor to decide whether a removed
// destination subtree's Seen-Set entries need purging.
func FindUnderRoot(candidate, root string) bool {
	if candidate == root {
		return true
	}

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}

	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
