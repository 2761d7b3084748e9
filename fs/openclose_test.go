package fs

import (
	"errors"
	"testing"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/mkfs"
	"github.com/jnwhiteh/ext4fs/testutils"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(test *testing.T) {
	good := map[string]int{
		"r":   O_RDONLY,
		"rb":  O_RDONLY,
		"w":   O_WRONLY | O_CREAT | O_TRUNC,
		"wb":  O_WRONLY | O_CREAT | O_TRUNC,
		"a":   O_WRONLY | O_CREAT | O_APPEND,
		"r+":  O_RDWR,
		"rb+": O_RDWR,
		"r+b": O_RDWR,
		"w+":  O_RDWR | O_CREAT | O_TRUNC,
		"a+b": O_RDWR | O_CREAT | O_APPEND,
	}
	for mode, want := range good {
		got, err := parseFlags(mode)
		if err != nil || got != want {
			testutils.ErrorHere(test, "Mode %q: got 0x%x, %v; expected 0x%x", mode, got, err, want)
		}
	}
	for _, mode := range []string{"", "b", "x", "rw", "rbb", "br", "+r", "r++"} {
		if _, err := parseFlags(mode); !errors.Is(err, common.EINVAL) {
			testutils.ErrorHere(test, "Mode %q: expected EINVAL, got %v", mode, err)
		}
	}
}

func TestOpenCreate(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})

	if _, err := r.Open("/mp/1.txt", "r"); !errors.Is(err, common.ENOENT) {
		testutils.FatalHere(test, "Opening a missing file for reading: expected ENOENT, got %v", err)
	}
	f, err := r.Open("/mp/1.txt", "w")
	require.NoError(test, err)
	require.NoError(test, f.Close())

	f, err = r.Open("/mp/1.txt", "r")
	require.NoError(test, err)
	if f.Size() != 0 || f.Tell() != 0 {
		testutils.ErrorHere(test, "New file: size %d, position %d", f.Size(), f.Tell())
	}
	require.NoError(test, f.Close())

	// every operation on a closed handle fails
	if err := f.Close(); !errors.Is(err, common.EINVAL) {
		testutils.ErrorHere(test, "Double close: expected EINVAL, got %v", err)
	}
	if _, err := f.Read(make([]byte, 1)); !errors.Is(err, common.EINVAL) {
		testutils.ErrorHere(test, "Read after close: expected EINVAL, got %v", err)
	}
}

func TestOpenTruncates(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	writeFile(test, r, "/mp/t", pattern(5000))
	before, err := r.Stats(testMount)
	require.NoError(test, err)

	f, err := r.Open("/mp/t", "w")
	require.NoError(test, err)
	require.Equal(test, uint64(0), f.Size())
	require.NoError(test, f.Close())

	after, err := r.Stats(testMount)
	require.NoError(test, err)
	if after.FreeBlocksCount != before.FreeBlocksCount+5 {
		testutils.ErrorHere(test, "Truncate freed %d blocks, expected 5",
			after.FreeBlocksCount-before.FreeBlocksCount)
	}

	// r+ keeps the contents
	writeFile(test, r, "/mp/t", []byte("hello"))
	f, err = r.Open("/mp/t", "r+")
	require.NoError(test, err)
	require.Equal(test, uint64(5), f.Size())
	require.NoError(test, f.Close())
}

func TestOpenPermissions(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	writeFile(test, r, "/mp/p", []byte("data"))

	f, err := r.Open("/mp/p", "r")
	require.NoError(test, err)
	if _, err := f.Write([]byte("x")); !errors.Is(err, common.EPERM) {
		testutils.ErrorHere(test, "Write on read-only handle: expected EPERM, got %v", err)
	}
	require.NoError(test, f.Close())

	f, err = r.Open("/mp/p", "a")
	require.NoError(test, err)
	if _, err := f.Read(make([]byte, 4)); !errors.Is(err, common.EPERM) {
		testutils.ErrorHere(test, "Read on write-only handle: expected EPERM, got %v", err)
	}
	require.NoError(test, f.Close())
}

func TestOpenDirectoryAsFile(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	require.NoError(test, r.Mkdir("/mp/d"))
	writeFile(test, r, "/mp/f", nil)

	if _, err := r.Open("/mp/d", "r"); !errors.Is(err, common.ENOENT) {
		testutils.ErrorHere(test, "Directory opened as file: expected ENOENT, got %v", err)
	}
	if _, err := r.OpenDir("/mp/f"); !errors.Is(err, common.ENOENT) {
		testutils.ErrorHere(test, "File opened as directory: expected ENOENT, got %v", err)
	}
	if _, err := r.Open(testMount, "r"); !errors.Is(err, common.ENOENT) {
		testutils.ErrorHere(test, "Root opened as file: expected ENOENT, got %v", err)
	}
	d, err := r.OpenDir(testMount)
	require.NoError(test, err)
	require.NoError(test, d.Close())
}
