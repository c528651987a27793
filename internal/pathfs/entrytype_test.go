package pathfs_test

import (
	"testing"

	"github.com/chriskish19/sfctd/internal/pathfs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestProbeFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/a.txt", []byte("x"), 0o644))

	typ, info, err := pathfs.Probe(fsys, "/a.txt")
	require.NoError(t, err)
	require.Equal(t, pathfs.TypeFile, typ)
	require.NotNil(t, info)
}

func TestProbeDirectory(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, fsys.MkdirAll("/d", 0o777))

	typ, _, err := pathfs.Probe(fsys, "/d")
	require.NoError(t, err)
	require.Equal(t, pathfs.TypeDirectory, typ)
}

func TestProbeNotFound(t *testing.T) {
	fsys := afero.NewMemMapFs()

	typ, info, err := pathfs.Probe(fsys, "/missing")
	require.NoError(t, err)
	require.Equal(t, pathfs.TypeNotFound, typ)
	require.Nil(t, info)
}

func TestEntryTypeString(t *testing.T) {
	require.Equal(t, "file", pathfs.TypeFile.String())
	require.Equal(t, "directory", pathfs.TypeDirectory.String())
	require.Equal(t, "none", pathfs.TypeNone.String())
}

func TestIsRegularish(t *testing.T) {
	require.True(t, pathfs.TypeFile.IsRegularish())
	require.True(t, pathfs.TypeSymlink.IsRegularish())
	require.False(t, pathfs.TypeDirectory.IsRegularish())
	require.False(t, pathfs.TypeNotFound.IsRegularish())
}
