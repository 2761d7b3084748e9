package device

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/stretchr/testify/require"
)

// exerciseDriver writes two runs of blocks and reads them back, including a
// read that spans both runs.
func exerciseDriver(test *testing.T, drv common.Driver) {
	require.NoError(test, drv.Open())
	defer drv.Close()

	bsize := int(drv.BlockSize())
	first := bytes.Repeat([]byte{0xAA}, 2*bsize)
	second := bytes.Repeat([]byte{0x55}, bsize)

	require.NoError(test, drv.WriteBlocks(first, 3, 2))
	require.NoError(test, drv.WriteBlocks(second, 5, 1))

	got := make([]byte, 3*bsize)
	require.NoError(test, drv.ReadBlocks(got, 3, 3))
	require.Equal(test, first, got[:2*bsize])
	require.Equal(test, second, got[2*bsize:])

	err := drv.ReadBlocks(got, drv.BlockCount()-1, 2)
	require.True(test, errors.Is(err, common.EINVAL), "read past end: %v", err)

	err = drv.WriteBlocks(make([]byte, bsize-1), 0, 1)
	require.True(test, errors.Is(err, common.EINVAL), "short buffer: %v", err)
}

func TestRamdisk(test *testing.T) {
	exerciseDriver(test, NewRamdisk(512, 16))
}

func TestRamdiskFromBytes(test *testing.T) {
	data := make([]byte, 1000)
	data[600] = 7
	r := NewRamdiskFromBytes(data, 512)
	require.Equal(test, uint64(1), r.BlockCount())

	buf := make([]byte, 512)
	require.NoError(test, r.Open())
	require.NoError(test, r.ReadBlocks(buf, 0, 1))
	require.Error(test, r.ReadBlocks(buf, 1, 1))
}

func TestFile(test *testing.T) {
	name := filepath.Join(test.TempDir(), "disk.img")
	require.NoError(test, os.WriteFile(name, make([]byte, 16*1024), 0644))

	drv, err := NewFile(name, 1024, false)
	require.NoError(test, err)
	require.Equal(test, uint64(16), drv.BlockCount())
	exerciseDriver(test, drv)

	// data survives a reopen
	require.NoError(test, drv.Open())
	buf := make([]byte, 1024)
	require.NoError(test, drv.ReadBlocks(buf, 5, 1))
	require.Equal(test, byte(0x55), buf[0])
	require.NoError(test, drv.Close())
}

func TestFileReadOnly(test *testing.T) {
	name := filepath.Join(test.TempDir(), "ro.img")
	require.NoError(test, os.WriteFile(name, make([]byte, 4096), 0644))

	drv, err := NewFile(name, 1024, true)
	require.NoError(test, err)
	require.NoError(test, drv.Open())
	defer drv.Close()

	err = drv.WriteBlocks(make([]byte, 1024), 0, 1)
	require.True(test, errors.Is(err, common.EPERM))
}

func TestFileNotOpen(test *testing.T) {
	name := filepath.Join(test.TempDir(), "closed.img")
	require.NoError(test, os.WriteFile(name, make([]byte, 4096), 0644))

	drv, err := NewFile(name, 1024, false)
	require.NoError(test, err)
	require.ErrorIs(test, drv.ReadBlocks(make([]byte, 1024), 0, 1), common.EIO)
}

func TestBadgerInMemory(test *testing.T) {
	exerciseDriver(test, NewBadger(BadgerOptions{InMemory: true, BlockSize: 512, Blocks: 32}))
}

func TestBadgerUnwrittenBlocksAreZero(test *testing.T) {
	drv := NewBadger(BadgerOptions{InMemory: true, BlockSize: 512, Blocks: 8})
	require.NoError(test, drv.Open())
	defer drv.Close()

	buf := bytes.Repeat([]byte{0xFF}, 1024)
	require.NoError(test, drv.ReadBlocks(buf, 2, 2))
	require.Equal(test, make([]byte, 1024), buf)
}

func TestBadgerPersistsAndChecksGeometry(test *testing.T) {
	dir := test.TempDir()
	drv := NewBadger(BadgerOptions{Path: dir, BlockSize: 512, Blocks: 8})
	require.NoError(test, drv.Open())
	require.NoError(test, drv.WriteBlocks(bytes.Repeat([]byte{9}, 512), 4, 1))
	require.NoError(test, drv.Close())

	drv = NewBadger(BadgerOptions{Path: dir, BlockSize: 512, Blocks: 8})
	require.NoError(test, drv.Open())
	buf := make([]byte, 512)
	require.NoError(test, drv.ReadBlocks(buf, 4, 1))
	require.Equal(test, byte(9), buf[511])
	require.NoError(test, drv.Close())

	drv = NewBadger(BadgerOptions{Path: dir, BlockSize: 1024, Blocks: 8})
	err := drv.Open()
	require.True(test, errors.Is(err, common.EINVAL), "geometry mismatch: %v", err)
}

func TestOpenBadgerStore(test *testing.T) {
	dir := test.TempDir()
	drv := NewBadger(BadgerOptions{Path: dir, BlockSize: 1024, Blocks: 16})
	require.NoError(test, drv.Open())
	require.NoError(test, drv.Close())

	found, err := OpenBadgerStore(dir)
	require.NoError(test, err)
	require.Equal(test, uint32(1024), found.BlockSize())
	require.Equal(test, uint64(16), found.BlockCount())
	exerciseDriver(test, found)
}
