package debug

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jnwhiteh/ext4fs/alloctbl"
	"github.com/jnwhiteh/ext4fs/bcache"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/device"
	"github.com/jnwhiteh/ext4fs/inode"
	"github.com/jnwhiteh/ext4fs/internal/logger"
	"github.com/jnwhiteh/ext4fs/mkfs"
	"github.com/jnwhiteh/ext4fs/super"
	"github.com/jnwhiteh/ext4fs/testutils"
	"github.com/stretchr/testify/require"
)

func openTable(test *testing.T) *inode.Table {
	drv := device.NewRamdisk(512, 4096)
	_, err := mkfs.Format("ram0", drv, mkfs.Options{})
	require.NoError(test, err)
	dev := blockdev.New("ram0", drv, nil)
	require.NoError(test, dev.Init())
	sb, err := super.Read(dev)
	require.NoError(test, err)
	require.NoError(test, dev.SetLogicalBlockSize(sb.BlockSize()))
	require.NoError(test, dev.BindCache(bcache.New(sb.BlockSize(), 16, nil)))
	alloc, err := alloctbl.New(dev, sb)
	require.NoError(test, err)
	return inode.NewTable(dev, sb, alloc)
}

func TestFormatRootDirectory(test *testing.T) {
	t := openTable(test)
	root, err := t.Get(common.ROOT_INODE)
	require.NoError(test, err)
	lba := uint64(root.Inode.Block[0])
	require.NoError(test, root.Put())

	b, err := t.Device().Get(lba)
	require.NoError(test, err)
	out, err := FormatDirectory(b.Data, true)
	require.NoError(test, t.Device().Set(b))
	require.NoError(test, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(test, lines, 2)
	if !strings.Contains(lines[0], `"."`) || !strings.Contains(lines[1], `".."`) {
		testutils.ErrorHere(test, "Unexpected root listing:\n%s", out)
	}
}

func TestFormatCorruptDirectory(test *testing.T) {
	data := make([]byte, 1024)
	data[4] = 3 // rec_len not a multiple of 4
	if _, err := FormatDirectory(data, true); !errors.Is(err, common.EIO) {
		testutils.ErrorHere(test, "Corrupt block: expected EIO, got %v", err)
	}
}

func TestFormatInodes(test *testing.T) {
	t := openTable(test)
	gd, err := t.Allocator().GetDesc(0)
	require.NoError(test, err)

	out, err := FormatInodes(t, gd.InodeTable)
	require.NoError(test, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(test, lines, 2, "header and the root inode")
	require.True(test, strings.HasPrefix(strings.TrimSpace(lines[1]), "2 "))

	if _, err := FormatInodes(t, gd.BlockBitmap); !errors.Is(err, common.EINVAL) {
		testutils.ErrorHere(test, "Bitmap block as inodes: expected EINVAL, got %v", err)
	}
}

func TestPrintBlock(test *testing.T) {
	t := openTable(test)
	gd, err := t.Allocator().GetDesc(0)
	require.NoError(test, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)
	require.NoError(test, PrintBlock(t, gd.InodeTable))
	if !strings.Contains(buf.String(), "INODE #") {
		testutils.ErrorHere(test, "Inode table block not printed as inodes:\n%s", buf.String())
	}
}
