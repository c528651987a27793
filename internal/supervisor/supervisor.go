// Package supervisor owns the per-Job lifecycle: for a monitor Job it
// wires a watch.Watcher, a syncpkg.Queue, a syncpkg.DebounceTimer, and
// a syncpkg.Processor together and runs them until cancelled; for a
// copy/fast_copy/benchmark Job it runs the equivalent one-shot
// operation and reports its Result. One Supervisor runs every Job a
// script produced, each isolated from the others' failures.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chriskish19/sfctd/internal/benchmark"
	"github.com/chriskish19/sfctd/internal/bulkcopy"
	"github.com/chriskish19/sfctd/internal/errkind"
	"github.com/chriskish19/sfctd/internal/script"
	"github.com/chriskish19/sfctd/internal/statusline"
	"github.com/chriskish19/sfctd/internal/syncpkg"
	"github.com/chriskish19/sfctd/internal/watch"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// DefaultDirectorySyncInterval is how often a running monitor Job
// re-runs a full source-vs-destination diff on top of its live
// Watcher feed, catching silent drift a Watcher could miss, such as
// changes made while the daemon was not running at all.
const DefaultDirectorySyncInterval = 10 * time.Minute

// JobResult reports the outcome of running one Job to completion (for
// copy/fast_copy/benchmark) or until cancellation (for monitor).
type JobResult struct {
	Job       script.Job
	BulkCopy  *bulkcopy.Result
	Benchmark *benchmark.Result
	Err       error
}

// Supervisor runs a set of Jobs concurrently, each isolated: one Job
// failing to start (a bad source root, an unopenable watch handle)
// never prevents the others from running.
type Supervisor struct {
	fsys    afero.Fs
	log     *slog.Logger
	printer *statusline.Printer

	directorySyncInterval time.Duration
	debounceWindow        time.Duration
}

// New constructs a Supervisor. A zero directorySyncInterval falls back
// to DefaultDirectorySyncInterval; a zero debounceWindow falls back to
// syncpkg.DefaultDebounceWindow. printer may be nil to disable console
// status-line output (e.g. when logs are the only required sink).
func New(fsys afero.Fs, log *slog.Logger, printer *statusline.Printer, directorySyncInterval, debounceWindow time.Duration) *Supervisor {
	if directorySyncInterval <= 0 {
		directorySyncInterval = DefaultDirectorySyncInterval
	}

	return &Supervisor{
		fsys:                  fsys,
		log:                   log,
		printer:               printer,
		directorySyncInterval: directorySyncInterval,
		debounceWindow:        debounceWindow,
	}
}

// Run dispatches every job according to its command and blocks until
// ctx is cancelled (for any monitor jobs present) or every one-shot job
// has finished, whichever is later. One job's error never aborts the
// others; each job's outcome is reported independently in the returned
// slice, in an order matching the input slice.
func (s *Supervisor) Run(ctx context.Context, jobs []script.Job) []JobResult {
	results := make([]JobResult, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		i, job := i, job
		wg.Add(1)

		go func() {
			defer wg.Done()
			results[i] = s.runJob(ctx, job, uuid.NewString())
		}()
	}
	wg.Wait()

	return results
}

// runJob dispatches a single Job. runID is a fresh identifier minted
// for each job on every Run call (not persisted across daemon
// restarts) so that log lines from concurrently running jobs sharing
// the same source or destination root can still be told apart, the
// way mutagen tags every
// synchronization session with its own identifier.
func (s *Supervisor) runJob(ctx context.Context, job script.Job, runID string) JobResult {
	log := s.log.With("run-id", runID, "job", job.String())

	switch {
	case job.ModeFlags.Has(script.ModeCopy), job.ModeFlags.Has(script.ModeFastCopy):
		start := time.Now()
		res, err := bulkcopy.Run(ctx, s.fsys, job, s.printer)
		if err != nil {
			log.Error("bulk copy job failed", "error", err)
		} else if s.printer != nil {
			s.printer.Summary(job.Command(), res.FilesCopied, res.BytesCopied, time.Since(start))
		}

		return JobResult{Job: job, BulkCopy: &res, Err: err}

	case job.ModeFlags.Has(script.ModeBenchmark):
		res, err := benchmark.Run(ctx, s.fsys, job)
		if err != nil {
			log.Error("benchmark job failed", "error", err)
		} else if s.printer != nil {
			s.printer.Summary(job.Command(), res.FilesCopied, res.BytesCopied, res.Elapsed)
		}

		return JobResult{Job: job, Benchmark: &res, Err: err}

	case job.ModeFlags.Has(script.ModeMonitor):
		err := s.runMonitor(ctx, job, log)

		return JobResult{Job: job, Err: err}

	default:
		return JobResult{Job: job, Err: errkind.Wrap(errkind.Invariant, errUnrecognizedCommand(job))}
	}
}

// runMonitor wires and runs one Job's watch.Watcher / syncpkg.Queue /
// syncpkg.DebounceTimer / syncpkg.Processor pipeline until ctx is
// cancelled. A Watcher that fails to open (source root missing,
// permission denied) is an Invariant-class failure: this Job is
// disabled and reported, but the Supervisor's other Jobs are
// unaffected.
func (s *Supervisor) runMonitor(ctx context.Context, job script.Job, log *slog.Logger) error {
	w, err := watch.New(job.SourceRoot, job.ModeFlags.Has(script.FlagRecursive), s.fsys, log)
	if err != nil {
		return errkind.Wrap(errkind.Invariant, err)
	}

	queue := syncpkg.NewQueue()
	proc := syncpkg.NewProcessor(s.fsys, log, job)
	timer := syncpkg.NewDebounceTimer(queue, s.debounceWindow)

	// The timer gets its own cancellation so it can be stopped and
	// joined before queue.DrainAndStop closes the Ready channel: a
	// timer still flushing into the (now closed) channel would panic.
	timerCtx, timerCancel := context.WithCancel(ctx)
	defer timerCancel()

	var timerWG sync.WaitGroup
	timerWG.Add(1)
	go func() {
		defer timerWG.Done()
		timer.Run(timerCtx)
	}()

	var group errgroup.Group
	group.Go(func() error {
		proc.Run(ctx, queue.Ready())

		return nil
	})

	// Resync against whatever drifted while the daemon was not
	// watching this root at all, the same full-diff path a
	// BufferOverflow triggers mid-run.
	proc.Reconcile()

	rawCh := w.Start(ctx)

	translateDone := make(chan struct{})
	go func() {
		defer close(translateDone)

		for raw := range rawCh {
			ev, err := syncpkg.NewEvent(s.fsys, raw, job)
			if err != nil {
				log.Warn("failed to resolve raw watcher event", "path", raw.RelPath, "error", err)

				continue
			}

			s.reportEvent(job, ev)
			queue.Enqueue(ev)
		}
	}()

	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)

		ticker := time.NewTicker(s.directorySyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				proc.Reconcile()
			}
		}
	}()

	<-ctx.Done()

	// Graceful teardown in reverse of startup order: stop the Watcher
	// first so no more raw events arrive, let the translate and ticker
	// goroutines notice the closed channel / cancelled context and
	// exit, then stop and join the debounce timer so it can no longer
	// be mid-flush when the Queue's Ready channel is closed below,
	// then drain whatever is left in the Queue's buffer. That drain is
	// best-effort only — anything still in flight at cancel time is
	// discarded, not force-flushed, since the next startup's Reconcile
	// call re-syncs it anyway.
	if err := w.Stop(); err != nil {
		log.Warn("failed to stop watcher", "error", err)
	}
	<-translateDone
	<-tickerDone

	timerCancel()
	timerWG.Wait()

	queue.DrainAndStop(ctx)
	_ = group.Wait()

	if s.printer != nil {
		s.printer.Summary(job.Command(), proc.Stats.Copied+proc.Stats.Removed, 0, 0)
	}

	return nil
}

func (s *Supervisor) reportEvent(job script.Job, ev syncpkg.Event) {
	if s.printer == nil {
		return
	}

	if ev.Kind == syncpkg.Overflow {
		s.printer.Overflow(job.Command())

		return
	}

	if ev.Kind == syncpkg.None {
		return
	}

	s.printer.Event(job.Command(), ev.Kind.String(), ev.Dst)
}

type errUnrecognizedCommandError struct {
	job script.Job
}

func (e *errUnrecognizedCommandError) Error() string {
	return "job has no recognized command: " + e.job.String()
}

func errUnrecognizedCommand(job script.Job) error {
	return &errUnrecognizedCommandError{job: job}
}
