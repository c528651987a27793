/*
sfctd is a script-driven file-mirroring daemon. It reads a job script
describing one or more copy, fast_copy, monitor, or benchmark
operations and runs them concurrently until stopped.

  - `copy`: walks a source tree once, verifying every file's integrity
    with a content hash before considering it copied.
  - `fast_copy`: the same one-shot walk, but streams straight through
    without a verification hash, trading the integrity guarantee for
    throughput.
  - `monitor`: watches a source tree continuously, mirroring file and
    directory changes into the destination as they happen.
  - `benchmark`: writes a synthetic payload and times how fast it
    copies, reporting a throughput figure instead of mirroring
    anything real.

# USAGE

	sfctd [--script=PATH] [--config=PATH] [--log-level=debug|info|warn|error] [--json] [--benchmark-only]

# ARGUMENTS

	--script string
		Optional. Path to the job script. Defaults to ./sfct_list.txt.

	--config string
		Optional. Path to a YAML configuration file overlaying the same
		flags. Direct CLI arguments always override values set via the
		configuration file.

	--log-level [debug|info|warn|error]
		Optional. Controls verbosity of the operational logs that are
		emitted. Default: info.

	--json
		Optional. Outputs in JSON format the operational logs emitted to
		the console sink. The on-disk Applog.txt sink is unaffected.

	--benchmark-only
		Optional. Run only the script's benchmark jobs, skipping
		copy/fast_copy/monitor jobs.

# RETURN CODES

  - `0`: normal termination (including a clean shutdown on signal).
  - `1`: fatal initialization failure (missing or malformed script,
    unopenable log file).

# IMPLEMENTATION

Every job in the script runs under its own goroutine, supervised
independently: one job's source root vanishing or one watcher failing
to start never stops the others. monitor jobs run until the process
receives an interrupt or termination signal; copy/fast_copy/benchmark
jobs run once and report their result, and the daemon exits once every
job in the script has either finished or been told to stop.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/chriskish19/sfctd/internal/applog"
	"github.com/chriskish19/sfctd/internal/errkind"
	"github.com/chriskish19/sfctd/internal/script"
	"github.com/chriskish19/sfctd/internal/statusline"
	"github.com/chriskish19/sfctd/internal/supervisor"
	"github.com/spf13/afero"
)

const (
	exitCodeSuccess = 0
	exitCodeFailure = 1

	defaultLogLevel   = slog.LevelInfo
	defaultScriptPath = "./sfct_list.txt"
	applogFileName    = "Applog.txt"

	exitTimeout = 10 * time.Second
)

var (
	// Version is the application's version (filled in during compilation).
	Version string

	errArgConfigMalformed = errors.New("--config yaml file is malformed")
	errArgConfigMissing   = errors.New("--config yaml file does not exist")
	errArgInvalidLogLevel = errors.New("--log-level has a not recognized value")
	errArgScriptMissing   = errors.New("--script path must be set")

	errNoValidJobs = errors.New("script contained no valid, resolvable jobs")
)

type program struct {
	fsys   afero.Fs
	stdout io.Writer
	stderr io.Writer

	opts    *programOptions
	log     *slog.Logger
	logFile afero.File
	flags   *flag.FlagSet
}

type programOptions struct {
	ScriptPath    string `yaml:"script"`
	LogLevel      string `yaml:"log-level"`
	JSON          bool   `yaml:"json"`
	BenchmarkOnly bool   `yaml:"benchmark-only"`
}

func main() {
	var prog *program
	var exitCode int

	defer func() {
		if prog != nil && prog.log != nil {
			prog.log.Info("program exited", "code", exitCode)
		}
		if prog != nil && prog.logFile != nil {
			prog.logFile.Close()
		}
		os.Exit(exitCode)
	}()

	fmt.Fprintf(os.Stdout, "sfctd (v%s) - scripted file-copy and mirroring daemon.\n\n", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	doneChan := make(chan int, 1)

	prog, err := newProgram(os.Args, afero.NewOsFs(), os.Stdout, os.Stderr)
	if prog == nil || err != nil {
		exitCode = exitCodeFailure

		return
	}

	go func() {
		code, _ := prog.run(ctx)
		doneChan <- code
	}()

	select {
	case code := <-doneChan:
		exitCode = code

		return

	case <-sigChan:
		if prog.log != nil {
			prog.log.Warn("received interrupt signal; shutting down (waiting up to 10s)...")
		}
		cancel()

		select {
		case code := <-doneChan:
			exitCode = code

			return

		case <-time.After(exitTimeout):
			if prog.log != nil {
				prog.log.Error("timed out while waiting for program exit; killing...", "error-type", "fatal")
			}
			exitCode = exitCodeFailure

			return
		}
	}
}

func newProgram(cliArgs []string, fsys afero.Fs, stdout io.Writer, stderr io.Writer) (*program, error) {
	prog := &program{
		fsys:   fsys,
		stdout: stdout,
		stderr: stderr,
		opts:   &programOptions{},
	}

	if err := prog.parseArgs(cliArgs); err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to parse configuration: %v\n\n", err)
		prog.flags.Usage()

		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := prog.validateOpts(); err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to validate configuration: %v\n\n", err)
		prog.flags.Usage()

		return nil, fmt.Errorf("failed to validate configuration: %w", err)
	}

	if err := prog.printOpts(); err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to print configuration: %v\n\n", err)
		prog.flags.Usage()

		return nil, fmt.Errorf("failed to print configuration: %w", err)
	}

	logFile, err := fsys.OpenFile(applogFileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(prog.stderr, "fatal: failed to open %s: %v\n\n", applogFileName, err)

		return nil, fmt.Errorf("open %s: %w", applogFileName, err)
	}
	prog.logFile = logFile

	level, _ := parseLogLevel(prog.opts.LogLevel)
	prog.log = applog.New(applog.Options{
		File:    logFile,
		Console: prog.stderr,
		Level:   level,
		JSON:    prog.opts.JSON,
	})

	return prog, nil
}

func (prog *program) run(ctx context.Context) (retExitCode int, retError error) {
	defer func() {
		if r := recover(); r != nil {
			prog.log.Error("internal panic recovered", "error", r, "error-type", "programmer")
			debug.PrintStack()
			retExitCode = exitCodeFailure
		}
	}()

	raw, err := afero.ReadFile(prog.fsys, prog.opts.ScriptPath)
	if err != nil {
		prog.log.Error("failed to read job script", "path", prog.opts.ScriptPath, "error", err, "error-type", "fatal")

		return exitCodeFailure, fmt.Errorf("read script %q: %w", prog.opts.ScriptPath, err)
	}

	jobs, parseErrs := script.Parse(string(raw))
	for _, e := range parseErrs {
		prog.log.Warn("skipped malformed script block", "error", e)
	}

	jobs, resolveErrs := script.Resolve(prog.fsys, jobs)
	for _, e := range resolveErrs {
		prog.log.Warn("skipped unresolvable job", "error", e)
	}

	if len(jobs) == 0 {
		prog.log.Error("no valid jobs in script; nothing to do", "path", prog.opts.ScriptPath, "error-type", "fatal")

		return exitCodeFailure, errNoValidJobs
	}

	if prog.opts.BenchmarkOnly {
		jobs = filterBenchmarkJobs(jobs)
		if len(jobs) == 0 {
			prog.log.Warn("benchmark-only requested but script has no benchmark jobs")

			return exitCodeSuccess, nil
		}
	}

	printer := statusline.NewPrinter(prog.stdout, true)
	super := supervisor.New(prog.fsys, prog.log, printer, 0, 0)

	prog.log.Info("starting jobs", "count", len(jobs))
	results := super.Run(ctx, jobs)
	printer.Clear()

	var failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
			prog.log.Error("job finished with error",
				"job", r.Job.String(), "error", r.Err, "error-type", errkind.Of(r.Err).String())
		}
	}

	prog.log.Info("all jobs finished", "total", len(results), "failed", failed)

	return exitCodeSuccess, nil
}

func filterBenchmarkJobs(jobs []script.Job) []script.Job {
	var out []script.Job
	for _, j := range jobs {
		if j.ModeFlags.Has(script.ModeBenchmark) {
			out = append(out, j)
		}
	}

	return out
}
