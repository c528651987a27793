// Package script parses the sfct_list.txt job script into a validated
// list of Job records and implements the combination table that
// decides which flag combinations are accepted for each command.
package script

import "strings"

// ModeFlags is a bitset over the command and flag vocabulary accepted
// by the script grammar.
type ModeFlags uint16

const (
	ModeCopy ModeFlags = 1 << iota
	ModeMonitor
	ModeFastCopy
	ModeBenchmark

	FlagRecursive
	FlagSingle
	FlagUpdate
	FlagOverwrite
	FlagSync
	FlagSyncAdd
	FlagCreate
	Flag4K
	FlagFast
)

// Has reports whether every bit set in want is also set in m.
func (m ModeFlags) Has(want ModeFlags) bool {
	return m&want == want
}

// CopyFlags is the flag set derived from ModeFlags that the copy
// primitives in internal/pathfs actually consume.
type CopyFlags uint8

const (
	CopyRecursive CopyFlags = 1 << iota
	CopyUpdateExisting
	CopyOverwriteExisting
)

// Has reports whether every bit set in want is also set in c.
func (c CopyFlags) Has(want CopyFlags) bool {
	return c&want == want
}

func deriveCopyFlags(m ModeFlags) CopyFlags {
	var c CopyFlags

	if m.Has(FlagRecursive) {
		c |= CopyRecursive
	}
	if m.Has(FlagUpdate) {
		c |= CopyUpdateExisting
	}
	if m.Has(FlagOverwrite) {
		c |= CopyOverwriteExisting
	}

	return c
}

// Job is an immutable (source, destination, mode) triple parsed from a
// single script block. SourceRoot and DestRoot are distinct, existing
// directories by the time validation completes.
type Job struct {
	SourceRoot string
	DestRoot   string
	ModeFlags  ModeFlags
	CopyFlags  CopyFlags

	// Excludes holds doublestar glob patterns; paths matching any
	// pattern are skipped by both the bulk-copy walk and the recovery
	// sweep.
	Excludes []string
}

// newJob derives CopyFlags from ModeFlags and returns the finished Job.
func newJob(src, dst string, flags ModeFlags, excludes []string) Job {
	return Job{
		SourceRoot: src,
		DestRoot:   dst,
		ModeFlags:  flags,
		CopyFlags:  deriveCopyFlags(flags),
		Excludes:   excludes,
	}
}

// Command reports the single command bit set on the job (Copy, Monitor,
// FastCopy, or Benchmark); it is always exactly one of these once a Job
// has passed validation.
func (j Job) Command() string {
	switch {
	case j.ModeFlags.Has(ModeCopy):
		return "copy"
	case j.ModeFlags.Has(ModeMonitor):
		return "monitor"
	case j.ModeFlags.Has(ModeFastCopy):
		return "fast_copy"
	case j.ModeFlags.Has(ModeBenchmark):
		return "benchmark"
	default:
		return "none"
	}
}

func (j Job) String() string {
	var b strings.Builder

	b.WriteString(j.Command())
	b.WriteString(" src=")
	b.WriteString(j.SourceRoot)
	b.WriteString(" dst=")
	b.WriteString(j.DestRoot)

	return b.String()
}
