package dir_test

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/dir"
	"github.com/jnwhiteh/ext4fs/mkfs"
	"github.com/jnwhiteh/ext4fs/testutils"
	"github.com/stretchr/testify/require"
)

func TestDxInit(test *testing.T) {
	t := openFS(test, mkfs.Options{DirIndex: true})
	root := getRoot(test, t)
	defer root.Put()

	sub := newChild(test, root, "indexed", true)
	defer sub.Put()
	require.NoError(test, dir.DxInit(sub))

	require.NotZero(test, sub.Inode.Flags&common.INODE_FLAG_INDEX)
	require.Equal(test, uint64(2), sub.BlockCount())

	blk, err := sub.DataBlock(0)
	require.NoError(test, err)
	b, err := t.Device().Get(blk)
	require.NoError(test, err)
	le := binary.LittleEndian
	require.Equal(test, uint8(8), b.Data[29], "info length")
	require.Equal(test, uint8(t.Super().DefHashVersion), b.Data[28], "hash version")
	require.Equal(test, uint16((1024-32)/8), le.Uint16(b.Data[32:]), "limit")
	require.Equal(test, uint16(1), le.Uint16(b.Data[34:]), "count")
	require.Equal(test, uint32(1), le.Uint32(b.Data[36:]), "leaf block")
	require.NoError(test, t.Device().Set(b))

	// new entries land in the leaf, leaving the root block alone
	require.NoError(test, dir.AddEntry(sub, "leaf", root))
	it, err := dir.NewIterator(sub, 1024)
	require.NoError(test, err)
	require.Equal(test, "leaf", it.Current().Name)
	require.NoError(test, it.Fini())

	if diff := cmp.Diff([]string{".", "..", "leaf"}, names(test, sub)); diff != "" {
		testutils.ErrorHere(test, "Entries mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendDropsIndexFlag(test *testing.T) {
	t := openFS(test, mkfs.Options{DirIndex: true})
	root := getRoot(test, t)
	defer root.Put()

	sub := newChild(test, root, "indexed", true)
	defer sub.Put()
	require.NoError(test, dir.DxInit(sub))

	for i := 0; sub.BlockCount() < 3; i++ {
		require.NoError(test, dir.AddEntry(sub, string(rune('a'+i%26))+string(rune('a'+i/26)), root))
	}
	require.Zero(test, sub.Inode.Flags&common.INODE_FLAG_INDEX)
}
