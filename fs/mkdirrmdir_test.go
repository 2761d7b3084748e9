package fs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/mkfs"
	"github.com/jnwhiteh/ext4fs/testutils"
	"github.com/stretchr/testify/require"
)

func TestMkdir(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	require.NoError(test, r.Mkdir("/mp/x/y"))
	before, err := r.Stats(testMount)
	require.NoError(test, err)

	// creating it again changes nothing
	require.NoError(test, r.Mkdir("/mp/x/y"))
	after, err := r.Stats(testMount)
	require.NoError(test, err)
	if diff := cmp.Diff(before, after); diff != "" {
		testutils.ErrorHere(test, "Repeated mkdir changed the volume (-before +after):\n%s", diff)
	}
	require.Equal(test, []string{".", ".."}, entryNames(test, r, "/mp/x/y/"))

	writeFile(test, r, "/mp/x/file", nil)
	if err := r.Mkdir("/mp/x/file"); !errors.Is(err, common.ENOENT) {
		testutils.ErrorHere(test, "Mkdir over a file: expected ENOENT, got %v", err)
	}
}

// Build a tree several levels deep with files at every level, remove it
// and check that the volume is back where it started.
func TestRmdirTree(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	require.NoError(test, r.Mkdir("/mp/keep"))
	before, err := r.Stats(testMount)
	require.NoError(test, err)

	dir := "/mp/top"
	for depth := 0; depth < 5; depth++ {
		for i := 0; i < 3; i++ {
			writeFile(test, r, fmt.Sprintf("%s/f%d", dir, i), pattern(1500*i))
		}
		require.NoError(test, r.Mkdir(fmt.Sprintf("%s/empty%d", dir, depth)))
		dir = fmt.Sprintf("%s/d%d", dir, depth)
	}

	require.NoError(test, r.Rmdir("/mp/top"))
	require.Equal(test, []string{".", "..", "keep"}, entryNames(test, r, testMount))

	after, err := r.Stats(testMount)
	require.NoError(test, err)
	require.Equal(test, before.FreeInodesCount, after.FreeInodesCount)
	require.Equal(test, before.FreeBlocksCount, after.FreeBlocksCount)

	if _, err := r.OpenDir("/mp/top/"); !errors.Is(err, common.ENOENT) {
		testutils.ErrorHere(test, "Removed directory still opens: %v", err)
	}
	if err := r.Rmdir("/mp/top"); !errors.Is(err, common.ENOENT) {
		testutils.ErrorHere(test, "Second rmdir: expected ENOENT, got %v", err)
	}
}

func TestRmdirRoot(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	if err := r.Rmdir(testMount); !errors.Is(err, common.ENOTSUP) {
		testutils.ErrorHere(test, "Rmdir of the mount root: expected ENOTSUP, got %v", err)
	}
}

func TestDirEntries(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	for _, name := range []string{"a", "b", "c", "d"} {
		writeFile(test, r, "/mp/"+name, nil)
	}
	require.NoError(test, r.Remove("/mp/b"))

	d, err := r.OpenDir(testMount)
	require.NoError(test, err)
	var names []string
	for i := 0; ; i++ {
		e, err := d.Entry(i)
		require.NoError(test, err)
		if e == nil {
			break
		}
		names = append(names, e.Name)
		if e.Name == "c" && e.Type != common.FT_REG_FILE {
			testutils.ErrorHere(test, "Entry c has type %d", e.Type)
		}
	}
	require.Equal(test, []string{".", "..", "a", "c", "d"}, names)
	require.NoError(test, d.Close())
	if _, err := d.Entry(0); !errors.Is(err, common.EINVAL) {
		testutils.ErrorHere(test, "Entry on a closed directory: expected EINVAL, got %v", err)
	}
}
