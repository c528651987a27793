package script

import "fmt"

// validate enforces the accepted flag-combination table:
//
//	copy      {recursive|single} x {update|overwrite}
//	monitor   {recursive|single} x {sync|sync_add} x {update|overwrite}
//	fast_copy {recursive|single} x {update|overwrite}
//	benchmark any subset of {-create, -4k, -fast}
//
// Distinctness of the two roots is checked here on the paths as
// written. Their existence is checked later by Resolve, which takes a
// filesystem handle; the parser itself has none.
func validate(j Job) error {
	if j.SourceRoot == j.DestRoot {
		return fmt.Errorf("job %s: src and dst must differ", j)
	}

	switch j.Command() {
	case "copy", "fast_copy":
		return validateCopyLike(j)
	case "monitor":
		return validateMonitor(j)
	case "benchmark":
		return validateBenchmark(j)
	default:
		return fmt.Errorf("job %s: no command specified", j)
	}
}

func exactlyOne(flags ModeFlags, a, b ModeFlags) bool {
	has := flags.Has(a)
	hasOther := flags.Has(b)

	return has != hasOther
}

func validateCopyLike(j Job) error {
	if !exactlyOne(j.ModeFlags, FlagRecursive, FlagSingle) {
		return fmt.Errorf("job %s: must specify exactly one of -recursive or -single", j)
	}
	if !exactlyOne(j.ModeFlags, FlagUpdate, FlagOverwrite) {
		return fmt.Errorf("job %s: must specify exactly one of -update or -overwrite", j)
	}
	if j.ModeFlags.Has(FlagSync) || j.ModeFlags.Has(FlagSyncAdd) {
		return fmt.Errorf("job %s: -sync/-sync_add are only valid for monitor", j)
	}

	return nil
}

func validateMonitor(j Job) error {
	if !exactlyOne(j.ModeFlags, FlagRecursive, FlagSingle) {
		return fmt.Errorf("job %s: must specify exactly one of -recursive or -single", j)
	}
	if !exactlyOne(j.ModeFlags, FlagUpdate, FlagOverwrite) {
		return fmt.Errorf("job %s: must specify exactly one of -update or -overwrite", j)
	}
	if !exactlyOne(j.ModeFlags, FlagSync, FlagSyncAdd) {
		return fmt.Errorf("job %s: must specify exactly one of -sync or -sync_add", j)
	}

	return nil
}

func validateBenchmark(j Job) error {
	disallowed := FlagRecursive | FlagSingle | FlagUpdate | FlagOverwrite | FlagSync | FlagSyncAdd
	if j.ModeFlags&disallowed != 0 {
		return fmt.Errorf("job %s: benchmark accepts only -create, -4k, -fast", j)
	}

	return nil
}
