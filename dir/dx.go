package dir

import (
	"encoding/binary"
	"fmt"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/inode"
)

// Layout of the index root that shares block 0 with "." and "..".
const (
	dxRootInfoOffset   = 24
	dxRootInfoLength   = 8
	dxCountLimitOffset = dxRootInfoOffset + dxRootInfoLength
	dxEntrySize        = 8
)

// DxInit turns a freshly linked directory into an indexed one: block 0
// becomes the index root with a single entry pointing at a new, empty leaf
// block. The "." and ".." entries must already be in block 0.
func DxInit(ref *inode.Ref) error {
	t := ref.Table()
	dev := t.Device()
	bsize := t.BlockSize()

	root, err := ref.DataBlock(0)
	if err != nil {
		return err
	}
	if root == common.NO_BLOCK {
		return fmt.Errorf("dir: inode %d has no root block: %w", ref.Index, common.EIO)
	}

	fblock, iblock, err := ref.AppendBlock()
	if err != nil {
		return err
	}
	leaf, err := dev.GetNoRead(fblock)
	if err != nil {
		return err
	}
	writeEntry(leaf.Data, common.NO_INODE, uint16(bsize), "", common.FT_UNKNOWN, hasFiletype(ref))
	leaf.MarkDirty()
	if err := dev.Set(leaf); err != nil {
		return err
	}

	b, err := dev.Get(root)
	if err != nil {
		return err
	}
	le := binary.LittleEndian
	info := b.Data[dxRootInfoOffset:]
	le.PutUint32(info[0:], 0)
	info[4] = t.Super().DefHashVersion
	info[5] = dxRootInfoLength
	info[6] = 0 // indirect levels
	info[7] = 0

	limit := (bsize - dxCountLimitOffset) / dxEntrySize
	cl := b.Data[dxCountLimitOffset:]
	le.PutUint16(cl[0:], uint16(limit))
	le.PutUint16(cl[2:], 1)
	le.PutUint32(cl[4:], uint32(iblock))
	b.MarkDirty()
	if err := dev.Set(b); err != nil {
		return err
	}

	ref.Inode.Flags |= common.INODE_FLAG_INDEX
	ref.MarkDirty()
	return nil
}
