package fs

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/mkfs"
	"github.com/jnwhiteh/ext4fs/testutils"
	"github.com/stretchr/testify/require"
)

// Read a file back in chunks of 4/3 of the block size so that every call
// hits a leading partial, a whole block and a trailing partial block.
func TestRead(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	data := pattern(40000)
	writeFile(test, r, "/mp/europarl.txt", data)

	f, err := r.Open("/mp/europarl.txt", "r")
	require.NoError(test, err)
	defer f.Close()

	ref := bytes.NewReader(data)
	numbytes := 1024 + 1024/3
	buf := make([]byte, numbytes)
	obuf := make([]byte, numbytes)
	offset := 0
	for {
		n, err := f.Read(buf)
		on, oerr := ref.Read(obuf)
		if n != on {
			testutils.FatalHere(test, "Bytes read mismatch at offset %d: expected %d, got %d", offset, on, n)
		}
		if err != oerr {
			testutils.FatalHere(test, "Error mismatch at offset %d: expected '%v', got '%v'", offset, oerr, err)
		}
		if diff := cmp.Diff(obuf[:on], buf[:n]); diff != "" {
			testutils.FatalHere(test, "Data mismatch at offset %d (-want +got):\n%s", offset, diff)
		}
		if err == io.EOF {
			break
		}
		offset += n
	}
}

// Test changing the position within an open file with every whence.
func TestSeek(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	data := pattern(3000)
	writeFile(test, r, "/mp/s", data)

	f, err := r.Open("/mp/s", "r")
	require.NoError(test, err)
	defer f.Close()

	buf := make([]byte, 10)
	seekRead := func(off int64, whence int, want int64) {
		test.Helper()
		pos, err := f.Seek(off, whence)
		require.NoError(test, err)
		require.Equal(test, want, pos)
		if want == int64(len(data)) {
			return
		}
		n, err := f.Read(buf)
		require.NoError(test, err)
		require.Equal(test, data[want:want+int64(n)], buf[:n])
	}
	seekRead(1500, io.SeekStart, 1500)
	seekRead(-20, io.SeekCurrent, 1490)
	seekRead(-10, io.SeekEnd, 2990)
	seekRead(0, io.SeekEnd, 3000)
	seekRead(0, io.SeekStart, 0)

	require.Equal(test, uint64(10), f.Tell())
	for _, c := range []struct {
		off    int64
		whence int
	}{
		{5000, io.SeekCurrent},
		{-11, io.SeekCurrent},
		{1, io.SeekEnd},
		{-1, io.SeekStart},
		{0, 42},
	} {
		if _, err := f.Seek(c.off, c.whence); !errors.Is(err, common.EINVAL) {
			testutils.ErrorHere(test, "Seek(%d, %d): expected EINVAL, got %v", c.off, c.whence, err)
		}
		if f.Tell() != 10 {
			testutils.ErrorHere(test, "Failed seek moved the position to %d", f.Tell())
		}
	}
}

func TestReadAtEnd(test *testing.T) {
	r := openTestFS(test, mkfs.Options{})
	writeFile(test, r, "/mp/e", []byte("abc"))

	f, err := r.Open("/mp/e", "r")
	require.NoError(test, err)
	defer f.Close()

	buf := make([]byte, 100)
	n, err := f.Read(buf)
	require.NoError(test, err)
	require.Equal(test, 3, n)
	n, err = f.Read(buf)
	require.Equal(test, 0, n)
	require.ErrorIs(test, err, io.EOF)
}
