package dir_test

import (
	"testing"

	"github.com/jnwhiteh/ext4fs/alloctbl"
	"github.com/jnwhiteh/ext4fs/bcache"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/device"
	"github.com/jnwhiteh/ext4fs/dir"
	"github.com/jnwhiteh/ext4fs/inode"
	"github.com/jnwhiteh/ext4fs/mkfs"
	"github.com/jnwhiteh/ext4fs/super"
	"github.com/jnwhiteh/ext4fs/testutils"
	"github.com/stretchr/testify/require"
)

// openFS formats a 2 MiB ramdisk and returns its inode table, ready for
// directory operations.
func openFS(test *testing.T, opts mkfs.Options) *inode.Table {
	drv := device.NewRamdisk(512, 4096)
	if _, err := mkfs.Format("ram0", drv, opts); err != nil {
		testutils.FatalHere(test, "Failed formatting ramdisk: %s", err)
	}
	dev := blockdev.New("ram0", drv, nil)
	require.NoError(test, dev.Init())
	sb, err := super.Read(dev)
	require.NoError(test, err)
	require.NoError(test, dev.SetLogicalBlockSize(sb.BlockSize()))
	require.NoError(test, dev.BindCache(bcache.New(sb.BlockSize(), 32, nil)))
	alloc, err := alloctbl.New(dev, sb)
	require.NoError(test, err)
	return inode.NewTable(dev, sb, alloc)
}

func getRoot(test *testing.T, t *inode.Table) *inode.Ref {
	root, err := t.Get(common.ROOT_INODE)
	require.NoError(test, err)
	return root
}

// names lists the names of the live entries of a directory in order.
func names(test *testing.T, ref *inode.Ref) []string {
	it, err := dir.NewIterator(ref, 0)
	require.NoError(test, err)
	defer it.Fini()

	var out []string
	for it.Current() != nil {
		if e := it.Current(); e.Inode != common.NO_INODE {
			out = append(out, e.Name)
		}
		require.NoError(test, it.Next())
	}
	return out
}

// newChild allocates an inode and links it into parent under name.
func newChild(test *testing.T, parent *inode.Ref, name string, isDir bool) *inode.Ref {
	child, err := parent.Table().Alloc(isDir)
	require.NoError(test, err)
	require.NoError(test, dir.AddEntry(parent, name, child))
	if isDir {
		require.NoError(test, dir.AddEntry(child, ".", child))
		require.NoError(test, dir.AddEntry(child, "..", parent))
	}
	return child
}
