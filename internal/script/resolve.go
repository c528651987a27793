package script

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ErrRootNotDirectory is returned by Resolve when a job's source or
// destination root exists but is not a directory.
var ErrRootNotDirectory = errors.New("root exists but is not a directory")

// ErrSourceNotExist is returned by Resolve when a job's source root
// does not exist; source roots must pre-exist, unlike destination
// roots which are created on demand.
var ErrSourceNotExist = errors.New("source root does not exist")

// Resolve cleans every job's paths to absolute form and verifies that
// both roots exist (destination roots are created if absent) and are
// directories. It creates missing
// destination roots on fsys. Jobs that fail resolution are returned
// alongside a descriptive error so the caller can disable just that
// job (errkind.Invariant semantics) rather than aborting the whole run.
func Resolve(fsys afero.Fs, jobs []Job) ([]Job, []error) {
	var (
		resolved []Job
		errs     []error
	)

	for _, j := range jobs {
		src, err := filepath.Abs(j.SourceRoot)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", j, err))

			continue
		}

		dst, err := filepath.Abs(j.DestRoot)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", j, err))

			continue
		}

		info, err := fsys.Stat(src)
		if errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("job %s: %w: %q", j, ErrSourceNotExist, src))

			continue
		} else if err != nil {
			errs = append(errs, fmt.Errorf("job %s: stat %q: %w", j, src, err))

			continue
		} else if !info.IsDir() {
			errs = append(errs, fmt.Errorf("job %s: %w: %q", j, ErrRootNotDirectory, src))

			continue
		}

		if dinfo, err := fsys.Stat(dst); err == nil {
			if !dinfo.IsDir() {
				errs = append(errs, fmt.Errorf("job %s: %w: %q", j, ErrRootNotDirectory, dst))

				continue
			}
		} else if errors.Is(err, os.ErrNotExist) {
			if mkErr := fsys.MkdirAll(dst, 0o777); mkErr != nil {
				errs = append(errs, fmt.Errorf("job %s: create dst %q: %w", j, dst, mkErr))

				continue
			}
		} else {
			errs = append(errs, fmt.Errorf("job %s: stat %q: %w", j, dst, err))

			continue
		}

		j.SourceRoot = src
		j.DestRoot = dst
		resolved = append(resolved, j)
	}

	return resolved, errs
}
