package pathfs

import (
	"os"
	"time"

	"github.com/spf13/afero"
)

// quiescenceSettleWindow is the quiet period a source file's
// modification time must hold steady across before it is considered
// safe to copy.
const quiescenceSettleWindow = 250 * time.Millisecond

// IsReady reports whether path can be safely read right now: it opens
// for a non-exclusive read and checks that its ModTime has not changed
// across a settle window. Directories and non-existent paths are
// trivially ready. False negatives (a quiescent file reported as busy)
// are acceptable, since the Processor simply retries later; false
// positives would risk copying a file mid-write and are avoided by
// erring toward "not ready" on any ambiguity.
func IsReady(fsys afero.Fs, path string) bool {
	return isReady(fsys, path, quiescenceSettleWindow, time.Sleep)
}

func isReady(fsys afero.Fs, path string, settle time.Duration, sleep func(time.Duration)) bool {
	// Stat follows symlinks, so a link is probed on its target.
	info, err := fsys.Stat(path)
	if err != nil {
		return os.IsNotExist(err)
	}
	if info.IsDir() {
		return true
	}

	f, err := fsys.Open(path)
	if err != nil {
		return false
	}
	f.Close()

	before := info.ModTime()

	sleep(settle)

	after, err := fsys.Stat(path)
	if err != nil {
		return false
	}

	return after.ModTime().Equal(before)
}
