// Package bulkcopy implements the synchronous whole-tree walk used by
// the "copy" and "fast_copy" script commands: a one-shot mirror of a
// source root into a destination root, without the watcher/queue/
// processor pipeline.
package bulkcopy

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/chriskish19/sfctd/internal/pathfs"
	"github.com/chriskish19/sfctd/internal/script"
	"github.com/chriskish19/sfctd/internal/statusline"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// ErrHashMismatch is returned by Run (copy command only) when a
// post-copy re-read of the destination does not hash identically to
// the source.
var ErrHashMismatch = errors.New("post-copy hash mismatch; possible corruption during write")

// Result summarizes one Run invocation for the caller's final log line.
type Result struct {
	FilesCopied     int
	DirsCreated     int
	BytesCopied     uint64
	SkippedExisting int
	PartialFailures int
}

// Run walks job.SourceRoot and mirrors it into job.DestRoot. When
// job.ModeFlags has script.ModeCopy, every file is copied through a
// blake3 hash-verified path (src hash compared against a destination
// re-read); script.ModeFastCopy instead streams straight through
// without hashing, trading the integrity guarantee for throughput.
func Run(ctx context.Context, fsys afero.Fs, job script.Job, printer *statusline.Printer) (Result, error) {
	var res Result

	err := afero.Walk(fsys, job.SourceRoot, func(path string, info os.FileInfo, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("walk cancelled: %w", ctxErr)
		}

		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return fmt.Errorf("walk %q: %w", path, err)
		}

		if isExcluded(path, job.SourceRoot, job.Excludes) {
			if info.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		dst, err := pathfs.MakeMirrorPath(fsys, path, job.DestRoot, job.SourceRoot, false)
		if err != nil {
			return fmt.Errorf("mirror path for %q: %w", path, err)
		}

		if info.IsDir() {
			if dst == job.DestRoot {
				return nil
			}

			if err := pathfs.CreateDirectories(fsys, dst); err != nil {
				return fmt.Errorf("create %q: %w", dst, err)
			}
			res.DirsCreated++

			if !job.ModeFlags.Has(script.FlagRecursive) {
				return filepath.SkipDir
			}

			if printer != nil {
				printer.Event(job.Command(), "dir_created", dst)
			}

			return nil
		}

		copied, n, err := copyOne(fsys, path, dst, job)
		if err != nil {
			res.PartialFailures++

			return fmt.Errorf("copy %q -> %q: %w", path, dst, err)
		}
		if !copied {
			res.SkippedExisting++

			return nil
		}

		res.FilesCopied++
		res.BytesCopied += n

		if printer != nil {
			printer.Event(job.Command(), "file_copied", dst)
		}

		return nil
	})
	if err != nil {
		return res, err
	}

	return res, nil
}

func copyOne(fsys afero.Fs, src, dst string, job script.Job) (copied bool, bytesCopied uint64, err error) {
	if err := pathfs.CreateDirectories(fsys, filepath.Dir(dst)); err != nil {
		return false, 0, err
	}

	if _, statErr := fsys.Stat(dst); statErr == nil &&
		!job.CopyFlags.Has(script.CopyUpdateExisting) && !job.CopyFlags.Has(script.CopyOverwriteExisting) {
		return false, 0, nil
	}

	if job.ModeFlags.Has(script.ModeFastCopy) {
		before, _ := fsys.Stat(dst)
		if err := pathfs.CopyFile(fsys, src, dst, job.CopyFlags); err != nil {
			return false, 0, err
		}
		after, _ := fsys.Stat(dst)
		if before != nil && after != nil && before.ModTime().Equal(after.ModTime()) {
			return false, 0, nil
		}

		return true, uint64(sizeOf(fsys, dst)), nil
	}

	return copyWithVerification(fsys, src, dst, job)
}

// copyWithVerification streams src to a temp file while hashing it,
// renames into place, then re-reads the destination and compares
// hashes.
func copyWithVerification(fsys afero.Fs, src, dst string, job script.Job) (bool, uint64, error) {
	srcInfo, err := fsys.Stat(src)
	if err != nil {
		return false, 0, fmt.Errorf("stat %q: %w", src, err)
	}
	if !srcInfo.Mode().IsRegular() {
		return false, 0, pathfs.ErrNotRegularFile
	}

	in, err := fsys.Open(src)
	if err != nil {
		return false, 0, fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	tmp := dst + ".sfct-tmp"

	out, err := fsys.Create(tmp)
	if err != nil {
		return false, 0, fmt.Errorf("create %q: %w", tmp, err)
	}

	srcHash := blake3.New()
	written, err := io.Copy(io.MultiWriter(out, srcHash), in)
	if err != nil {
		out.Close()
		_ = fsys.Remove(tmp)

		return false, 0, fmt.Errorf("copy %q: %w", src, err)
	}

	if err := out.Close(); err != nil {
		_ = fsys.Remove(tmp)

		return false, 0, fmt.Errorf("close %q: %w", tmp, err)
	}

	if err := fsys.Rename(tmp, dst); err != nil {
		_ = fsys.Remove(tmp)

		return false, 0, fmt.Errorf("rename %q -> %q: %w", tmp, dst, err)
	}

	if err := verify(fsys, dst, srcHash); err != nil {
		return false, 0, err
	}

	return true, uint64(written), nil
}

func verify(fsys afero.Fs, dst string, srcHash hash.Hash) error {
	f, err := fsys.Open(dst)
	if err != nil {
		return fmt.Errorf("reopen %q for verification: %w", dst, err)
	}
	defer f.Close()

	dstHash := blake3.New()
	if _, err := io.Copy(dstHash, f); err != nil {
		return fmt.Errorf("re-read %q for verification: %w", dst, err)
	}

	if string(dstHash.Sum(nil)) != string(srcHash.Sum(nil)) {
		return fmt.Errorf("%w: %q", ErrHashMismatch, dst)
	}

	return nil
}

func sizeOf(fsys afero.Fs, path string) int64 {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0
	}

	return info.Size()
}

func isExcluded(path, root string, excludes []string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return false
	}

	for _, pattern := range excludes {
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
			return true
		}
	}

	return false
}
