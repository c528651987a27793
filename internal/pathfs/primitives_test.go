package pathfs_test

import (
	"os"
	"testing"
	"time"

	"github.com/chriskish19/sfctd/internal/pathfs"
	"github.com/chriskish19/sfctd/internal/script"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// symlinkFs wraps afero.MemMapFs with just enough symlink support
// (LstatIfPossible, ReadlinkIfPossible, SymlinkIfPossible) to exercise
// the symlink-aware paths in pathfs, which afero.MemMapFs alone cannot.
type symlinkFs struct {
	afero.Fs
	links map[string]string
}

func newSymlinkFs() *symlinkFs {
	return &symlinkFs{Fs: afero.NewMemMapFs(), links: map[string]string{}}
}

func (s *symlinkFs) SymlinkIfPossible(oldname, newname string) error {
	s.links[newname] = oldname

	return nil
}

func (s *symlinkFs) ReadlinkIfPossible(name string) (string, error) {
	target, ok := s.links[name]
	if !ok {
		return "", os.ErrInvalid
	}

	return target, nil
}

func (s *symlinkFs) LstatIfPossible(name string) (os.FileInfo, bool, error) {
	if _, ok := s.links[name]; ok {
		return symlinkFileInfo{name: name}, true, nil
	}

	info, err := s.Fs.Stat(name)

	return info, false, err
}

type symlinkFileInfo struct{ name string }

func (i symlinkFileInfo) Name() string       { return i.name }
func (i symlinkFileInfo) Size() int64        { return 0 }
func (i symlinkFileInfo) Mode() os.FileMode  { return os.ModeSymlink }
func (i symlinkFileInfo) ModTime() time.Time { return time.Time{} }
func (i symlinkFileInfo) IsDir() bool        { return false }
func (i symlinkFileInfo) Sys() any           { return nil }

func TestMakeMirrorPath(t *testing.T) {
	fsys := afero.NewMemMapFs()

	got, err := pathfs.MakeMirrorPath(fsys, "/src/a/b/c.txt", "/dst", "/src", false)
	require.NoError(t, err)
	require.Equal(t, "/dst/a/b/c.txt", got)
}

func TestMakeMirrorPathCreatesParents(t *testing.T) {
	fsys := afero.NewMemMapFs()

	got, err := pathfs.MakeMirrorPath(fsys, "/src/a/b/c.txt", "/dst", "/src", true)
	require.NoError(t, err)

	info, err := fsys.Stat("/dst/a/b")
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, "/dst/a/b/c.txt", got)
}

func TestCopyFileRejectsDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/src/dir", 0o777))

	err := pathfs.CopyFile(fsys, "/src/dir", "/dst/dir", 0)
	require.ErrorIs(t, err, pathfs.ErrNotRegularFile)
}

func TestCopyFileBasic(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/a.txt", []byte("hello"), 0o644))
	require.NoError(t, fsys.MkdirAll("/dst", 0o777))

	require.NoError(t, pathfs.CopyFile(fsys, "/src/a.txt", "/dst/a.txt", 0))

	got, err := afero.ReadFile(fsys, "/dst/a.txt")
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestCopyFileRefusesToClobberWithoutFlags(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/a.txt", []byte("new"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/dst/a.txt", []byte("old"), 0o644))

	err := pathfs.CopyFile(fsys, "/src/a.txt", "/dst/a.txt", 0)
	require.Error(t, err)

	got, _ := afero.ReadFile(fsys, "/dst/a.txt")
	require.Equal(t, "old", string(got))
}

func TestCopyFileOverwriteExisting(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/a.txt", []byte("new"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/dst/a.txt", []byte("old"), 0o644))

	require.NoError(t, pathfs.CopyFile(fsys, "/src/a.txt", "/dst/a.txt", script.CopyOverwriteExisting))

	got, _ := afero.ReadFile(fsys, "/dst/a.txt")
	require.Equal(t, "new", string(got))
}

func TestCopyFileUpdateExistingCopiesNewerSource(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/dst/a.txt", []byte("old"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/src/a.txt", []byte("new"), 0o644))

	srcInfo, err := fsys.Stat("/src/a.txt")
	require.NoError(t, err)
	dstInfo, err := fsys.Stat("/dst/a.txt")
	require.NoError(t, err)

	if !srcInfo.ModTime().After(dstInfo.ModTime()) {
		t.Skip("platform clock resolution too coarse to order these writes")
	}

	require.NoError(t, pathfs.CopyFile(fsys, "/src/a.txt", "/dst/a.txt", script.CopyUpdateExisting))

	got, _ := afero.ReadFile(fsys, "/dst/a.txt")
	require.Equal(t, "new", string(got))
}

func TestCopyTreeRecursive(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/one/two/three.bin", []byte("data"), 0o644))

	require.NoError(t, pathfs.CopyTree(fsys, "/src", "/dst", script.CopyRecursive))

	got, err := afero.ReadFile(fsys, "/dst/one/two/three.bin")
	require.NoError(t, err)
	require.Equal(t, "data", string(got))
}

func TestCopyTreeNonRecursiveOnlyTopLevel(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/one/two.txt", []byte("data"), 0o644))

	require.NoError(t, pathfs.CopyTree(fsys, "/src", "/dst", 0))

	info, err := fsys.Stat("/dst")
	require.NoError(t, err)
	require.True(t, info.IsDir())

	_, err = fsys.Stat("/dst/one")
	require.Error(t, err)
}

func TestProbeClassifiesSymlinkWhenLstatAvailable(t *testing.T) {
	fsys := newSymlinkFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/real.txt", []byte("data"), 0o644))
	require.NoError(t, fsys.SymlinkIfPossible("/src/real.txt", "/src/link.txt"))

	entryType, _, err := pathfs.Probe(fsys, "/src/link.txt")
	require.NoError(t, err)
	require.Equal(t, pathfs.TypeSymlink, entryType)
}

func TestCopyTreeRecreatesSymlinkInsteadOfFollowingIt(t *testing.T) {
	fsys := newSymlinkFs()
	require.NoError(t, afero.WriteFile(fsys, "/src/real.txt", []byte("data"), 0o644))
	require.NoError(t, fsys.SymlinkIfPossible("/src/real.txt", "/src/link.txt"))

	require.NoError(t, pathfs.CopyTree(fsys, "/src/link.txt", "/dst/link.txt", 0))

	target, err := fsys.ReadlinkIfPossible("/dst/link.txt")
	require.NoError(t, err)
	require.Equal(t, "/src/real.txt", target)
}

func TestRemoveAllCountsRemovedEntries(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/d/a.txt", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "/d/sub/b.txt", []byte("y"), 0o644))

	n, err := pathfs.RemoveAll(fsys, "/d")
	require.NoError(t, err)
	require.Equal(t, 4, n) // a.txt, sub/b.txt, sub dir, d dir itself

	_, err = fsys.Stat("/d")
	require.Error(t, err)
}

func TestRemoveAllMissingDirIsNotAnError(t *testing.T) {
	fsys := afero.NewMemMapFs()

	n, err := pathfs.RemoveAll(fsys, "/nope")
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestFindUnderRoot(t *testing.T) {
	require.True(t, pathfs.FindUnderRoot("/a/b/c", "/a/b"))
	require.True(t, pathfs.FindUnderRoot("/a/b", "/a/b"))
	require.False(t, pathfs.FindUnderRoot("/a/bc", "/a/b"))
	require.False(t, pathfs.FindUnderRoot("/x/y", "/a/b"))
}
