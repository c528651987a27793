// Package benchmark implements the synthetic throughput measurement
// behind the "benchmark" script command: write a test payload into a
// Job's source root, copy it to the destination root while timing only
// the copy phase, and report MB/s. Recovered from original_source's
// benchmark.cpp/.hpp (speed_test / speed_test_4k), which this package
// generalizes from that C++ class's stopwatch fields into an
// idiomatic Go function returning a Result.
package benchmark

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chriskish19/sfctd/internal/pathfs"
	"github.com/chriskish19/sfctd/internal/script"
	"github.com/spf13/afero"
)

const (
	// defaultTestSize is a single 1GiB payload for the default
	// (non-4k) test.
	defaultTestSize = 1024 * 1024 * 1024

	// fastTestSize is used instead of defaultTestSize when
	// script.FlagFast is set, for a quick sanity-check run.
	fastTestSize = 64 * 1024 * 1024

	// fourKFileCount matches the original's FourKFileNumber constant:
	// the small-file test spreads its payload across this many files.
	fourKFileCount = 10000

	writeChunkSize = 1024 * 1024 * 100
)

// Result reports one benchmark run's outcome.
type Result struct {
	FilesCopied        int
	BytesCopied        uint64
	Elapsed            time.Duration
	MegabytesPerSecond float64
}

// Run executes the benchmark described by job.ModeFlags against
// job.SourceRoot/job.DestRoot:
//
//   - script.Flag4K selects the many-small-files test
//     (fourKFileCount files whose sizes sum to the test size) instead
//     of the default single large file.
//   - script.FlagFast shrinks the test size for a quick run.
//   - script.FlagCreate reuses a payload file already present in
//     SourceRoot instead of regenerating it. The payload is removed
//     after every run, so only a file placed there beforehand is
//     reused.
//
// Only the copy phase is timed, matching the original's
// start_clock/end_clock bracketing; payload generation and cleanup
// happen outside the measured window.
func Run(ctx context.Context, fsys afero.Fs, job script.Job) (Result, error) {
	testSize := uint64(defaultTestSize)
	if job.ModeFlags.Has(script.FlagFast) {
		testSize = fastTestSize
	}

	if job.ModeFlags.Has(script.Flag4K) {
		return runManyFiles(ctx, fsys, job, testSize)
	}

	return runSingleFile(ctx, fsys, job, testSize)
}

func runSingleFile(ctx context.Context, fsys afero.Fs, job script.Job, testSize uint64) (Result, error) {
	name := "benchmark_file.dat"
	src := filepath.Join(job.SourceRoot, name)
	dst := filepath.Join(job.DestRoot, name)

	if !(job.ModeFlags.Has(script.FlagCreate) && exists(fsys, src)) {
		if err := writePayload(fsys, src, testSize); err != nil {
			return Result{}, err
		}
	}
	defer cleanup(fsys, src, dst)

	info, err := fsys.Stat(src)
	if err != nil {
		return Result{}, fmt.Errorf("stat benchmark payload %q: %w", src, err)
	}

	start := time.Now()
	if err := pathfs.CopyFile(fsys, src, dst, job.CopyFlags); err != nil {
		return Result{}, fmt.Errorf("benchmark copy: %w", err)
	}
	elapsed := time.Since(start)

	size := uint64(info.Size())

	return Result{
		FilesCopied:        1,
		BytesCopied:        size,
		Elapsed:            elapsed,
		MegabytesPerSecond: megabytesPerSecond(size, elapsed),
	}, ctx.Err()
}

func runManyFiles(ctx context.Context, fsys afero.Fs, job script.Job, testSize uint64) (Result, error) {
	bytesPerFile := testSize / fourKFileCount
	if bytesPerFile == 0 {
		bytesPerFile = 1
	}

	names := make([]string, 0, fourKFileCount)

	reuse := job.ModeFlags.Has(script.FlagCreate)

	for i := 0; i < fourKFileCount; i++ {
		name := fmt.Sprintf("benchmark_file%d.dat", i)
		names = append(names, name)

		src := filepath.Join(job.SourceRoot, name)
		if reuse && exists(fsys, src) {
			continue
		}

		if err := writePayload(fsys, src, bytesPerFile); err != nil {
			return Result{}, err
		}
	}
	defer func() {
		for _, name := range names {
			cleanup(fsys, filepath.Join(job.SourceRoot, name), filepath.Join(job.DestRoot, name))
		}
	}()

	start := time.Now()

	var totalBytes uint64
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		src := filepath.Join(job.SourceRoot, name)
		dst := filepath.Join(job.DestRoot, name)

		if err := pathfs.CopyFile(fsys, src, dst, job.CopyFlags); err != nil {
			return Result{}, fmt.Errorf("benchmark copy %q: %w", name, err)
		}

		info, err := fsys.Stat(src)
		if err == nil {
			totalBytes += uint64(info.Size())
		}
	}

	elapsed := time.Since(start)

	return Result{
		FilesCopied:        len(names),
		BytesCopied:        totalBytes,
		Elapsed:            elapsed,
		MegabytesPerSecond: megabytesPerSecond(totalBytes, elapsed),
	}, nil
}

func writePayload(fsys afero.Fs, path string, size uint64) error {
	if err := pathfs.CreateDirectories(fsys, filepath.Dir(path)); err != nil {
		return err
	}

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create benchmark payload %q: %w", path, err)
	}
	defer f.Close()

	chunk := make([]byte, min(writeChunkSize, size))
	for i := range chunk {
		chunk[i] = '0'
	}

	var written uint64
	for written < size {
		n := uint64(len(chunk))
		if remaining := size - written; remaining < n {
			n = remaining
		}

		if _, err := f.Write(chunk[:n]); err != nil {
			return fmt.Errorf("write benchmark payload %q: %w", path, err)
		}

		written += n
	}

	return nil
}

func exists(fsys afero.Fs, path string) bool {
	typ, _, err := pathfs.Probe(fsys, path)

	return err == nil && typ == pathfs.TypeFile
}

func cleanup(fsys afero.Fs, src, dst string) {
	_ = pathfs.Remove(fsys, src)
	_ = pathfs.Remove(fsys, dst)
}

func megabytesPerSecond(bytes uint64, elapsed time.Duration) float64 {
	seconds := elapsed.Seconds()
	if seconds <= 0 {
		return 0
	}

	return float64(bytes) / seconds / 1024 / 1024
}
