package script_test

import (
	"testing"

	"github.com/chriskish19/sfctd/internal/script"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleCopyJob(t *testing.T) {
	src := `
copy -recursive -update {
	src /data/photos;
	dst /backup/photos;
}
`
	jobs, errs := script.Parse(src)
	require.Empty(t, errs)
	require.Len(t, jobs, 1)

	j := jobs[0]
	require.Equal(t, "copy", j.Command())
	require.Equal(t, "/data/photos", j.SourceRoot)
	require.Equal(t, "/backup/photos", j.DestRoot)
	require.True(t, j.ModeFlags.Has(script.FlagRecursive))
	require.True(t, j.CopyFlags.Has(script.CopyRecursive))
	require.True(t, j.CopyFlags.Has(script.CopyUpdateExisting))
}

func TestParseMonitorJobWithExclude(t *testing.T) {
	src := `
monitor -recursive -sync -overwrite {
	src /data/work;
	dst /mirror/work;
	exclude "**/*.tmp";
}
`
	jobs, errs := script.Parse(src)
	require.Empty(t, errs)
	require.Len(t, jobs, 1)
	require.Equal(t, []string{"**/*.tmp"}, jobs[0].Excludes)
	require.True(t, jobs[0].ModeFlags.Has(script.FlagSync))
}

func TestParseBenchmarkJob(t *testing.T) {
	src := `
benchmark -4k -create {
	src /scratch/in;
	dst /scratch/out;
}
`
	jobs, errs := script.Parse(src)
	require.Empty(t, errs)
	require.Len(t, jobs, 1)
	require.Equal(t, "benchmark", jobs[0].Command())
}

func TestParseMissingSemicolonInvalidatesOnlyThatBlock(t *testing.T) {
	src := `
copy -recursive -update {
	src /data/a
	dst /backup/a;
}
copy -recursive -update {
	src /data/b;
	dst /backup/b;
}
`
	jobs, errs := script.Parse(src)
	require.Len(t, errs, 1)
	require.Len(t, jobs, 1)
	require.Equal(t, "/data/b", jobs[0].SourceRoot)
}

func TestParseRejectsInvalidCombination(t *testing.T) {
	src := `
copy -recursive -single -update {
	src /data/a;
	dst /backup/a;
}
`
	jobs, errs := script.Parse(src)
	require.Empty(t, jobs)
	require.Len(t, errs, 1)
}

func TestParseRejectsUnknownCommand(t *testing.T) {
	src := `bogus -recursive { src /a; dst /b; }`

	jobs, errs := script.Parse(src)
	require.Empty(t, jobs)
	require.NotEmpty(t, errs)
}

func TestParseCommentsIgnored(t *testing.T) {
	src := `
# a full mirror of the archive
copy -recursive -overwrite { # inline note
	src /data/archive;
	dst /backup/archive;
}
`
	jobs, errs := script.Parse(src)
	require.Empty(t, errs)
	require.Len(t, jobs, 1)
}

func TestParseMultipleJobsSameFile(t *testing.T) {
	src := `
copy -single -update { src /a; dst /b; }
fast_copy -recursive -overwrite { src /c; dst /d; }
monitor -single -sync_add -update { src /e; dst /f; }
`
	jobs, errs := script.Parse(src)
	require.Empty(t, errs)
	require.Len(t, jobs, 3)
}
