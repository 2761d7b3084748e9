package inode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jnwhiteh/ext4fs/common"
)

// pointers per indirect block
func (r *Ref) ptrsPerBlock() uint64 {
	return uint64(r.table.bsize / 4)
}

// locate turns a file block number into the root pointer slot and the
// number of indirect levels below it, with the index relative to that
// subtree.
func (r *Ref) locate(iblock uint64) (slot int, level int, rel uint64, err error) {
	p := r.ptrsPerBlock()
	if iblock < common.NDIR_BLOCKS {
		return int(iblock), 0, 0, nil
	}
	iblock -= common.NDIR_BLOCKS
	if iblock < p {
		return common.IND_BLOCK, 1, iblock, nil
	}
	iblock -= p
	if iblock < p*p {
		return common.DIND_BLOCK, 2, iblock, nil
	}
	iblock -= p * p
	if iblock < p*p*p {
		return common.TIND_BLOCK, 3, iblock, nil
	}
	return 0, 0, 0, fmt.Errorf("inode %d: file block beyond triple indirect: %w", r.Index, common.EINVAL)
}

func pow(p uint64, n int) uint64 {
	v := uint64(1)
	for ; n > 0; n-- {
		v *= p
	}
	return v
}

func (r *Ref) readPtr(blk uint64, idx uint64) (uint64, error) {
	b, err := r.table.dev.Get(blk)
	if err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.Data[idx*4:])
	return uint64(v), r.table.dev.Set(b)
}

func (r *Ref) writePtr(blk uint64, idx uint64, val uint64) error {
	b, err := r.table.dev.Get(blk)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b.Data[idx*4:], uint32(val))
	b.MarkDirty()
	return r.table.dev.Set(b)
}

// DataBlock returns the device block holding file block iblock, or 0 for a
// hole.
func (r *Ref) DataBlock(iblock uint64) (uint64, error) {
	if r.Inode.Flags&common.INODE_FLAG_EXTENTS != 0 {
		return 0, fmt.Errorf("inode %d: extent mapped: %w", r.Index, common.ENOTSUP)
	}
	slot, level, rel, err := r.locate(iblock)
	if err != nil {
		return 0, err
	}
	blk := uint64(r.Inode.Block[slot])
	p := r.ptrsPerBlock()
	for lvl := level; lvl > 0; lvl-- {
		if blk == common.NO_BLOCK {
			return common.NO_BLOCK, nil
		}
		div := pow(p, lvl-1)
		idx := rel / div
		rel %= div
		if blk, err = r.readPtr(blk, idx); err != nil {
			return 0, err
		}
	}
	return blk, nil
}

func (r *Ref) addBlocks(n int64) {
	sectors := int64(r.table.bsize / 512)
	r.Inode.SetBlocks(uint64(int64(r.Inode.Blocks()) + n*sectors))
	r.MarkDirty()
}

// newIndirect allocates a zeroed indirect block.
func (r *Ref) newIndirect() (uint64, error) {
	blk, err := r.table.alloc.AllocBlock(r.goal())
	if err != nil {
		return 0, err
	}
	b, err := r.table.dev.GetNoRead(blk)
	if err != nil {
		r.table.alloc.FreeBlock(blk)
		return 0, err
	}
	b.MarkDirty()
	if err := r.table.dev.Set(b); err != nil {
		r.table.alloc.FreeBlock(blk)
		return 0, err
	}
	r.addBlocks(1)
	return blk, nil
}

// SetDataBlock maps file block iblock to device block fblock, allocating
// missing indirect blocks on the way.
func (r *Ref) SetDataBlock(iblock, fblock uint64) error {
	if fblock > math.MaxUint32 {
		return fmt.Errorf("inode %d: block %d not addressable: %w", r.Index, fblock, common.EINVAL)
	}
	slot, level, rel, err := r.locate(iblock)
	if err != nil {
		return err
	}
	if level == 0 {
		r.Inode.Block[slot] = uint32(fblock)
		r.MarkDirty()
		return nil
	}

	blk := uint64(r.Inode.Block[slot])
	if blk == common.NO_BLOCK {
		if blk, err = r.newIndirect(); err != nil {
			return err
		}
		r.Inode.Block[slot] = uint32(blk)
		r.MarkDirty()
	}

	p := r.ptrsPerBlock()
	for lvl := level; lvl > 1; lvl-- {
		div := pow(p, lvl-1)
		idx := rel / div
		rel %= div
		next, err := r.readPtr(blk, idx)
		if err != nil {
			return err
		}
		if next == common.NO_BLOCK {
			if next, err = r.newIndirect(); err != nil {
				return err
			}
			if err := r.writePtr(blk, idx, next); err != nil {
				return err
			}
		}
		blk = next
	}
	return r.writePtr(blk, rel, fblock)
}

// goal picks where new blocks for this inode should come from: the start
// of the inode's own group.
func (r *Ref) goal() uint64 {
	sb := r.table.sb
	bgid, _ := r.table.alloc.InodeGroup(r.Index)
	return uint64(sb.FirstDataBlock) + uint64(bgid)*uint64(sb.BlocksPerGroup)
}

// AppendBlock allocates a block after the current end of file. The size is
// first rounded up to a whole block, then grown by one block. It returns
// the device block and its file block number.
func (r *Ref) AppendBlock() (fblock uint64, iblock uint64, err error) {
	bsize := uint64(r.table.bsize)
	size := r.Inode.Size()
	if size%bsize != 0 {
		size += bsize - size%bsize
	}
	iblock = size / bsize

	goal := r.goal()
	if iblock > 0 {
		if prev, err := r.DataBlock(iblock - 1); err == nil && prev != common.NO_BLOCK {
			goal = prev + 1
		}
	}

	fblock, err = r.table.alloc.AllocBlock(goal)
	if err != nil {
		return 0, 0, err
	}
	if err = r.SetDataBlock(iblock, fblock); err != nil {
		r.table.alloc.FreeBlock(fblock)
		return 0, 0, err
	}
	r.addBlocks(1)
	r.Inode.SetSize(size + bsize)
	r.MarkDirty()
	return fblock, iblock, nil
}

// AllocDataBlock fills the hole at file block iblock with a new device
// block. The size is left alone.
func (r *Ref) AllocDataBlock(iblock uint64) (uint64, error) {
	goal := r.goal()
	if iblock > 0 {
		if prev, err := r.DataBlock(iblock - 1); err == nil && prev != common.NO_BLOCK {
			goal = prev + 1
		}
	}
	fblock, err := r.table.alloc.AllocBlock(goal)
	if err != nil {
		return 0, err
	}
	if err := r.SetDataBlock(iblock, fblock); err != nil {
		r.table.alloc.FreeBlock(fblock)
		return 0, err
	}
	r.addBlocks(1)
	return fblock, nil
}

// Truncate shrinks the file to size bytes, freeing data blocks past the new
// end and any indirect blocks left without live entries. Growing is not
// supported.
func (r *Ref) Truncate(size uint64) error {
	old := r.Inode.Size()
	if size == old {
		return nil
	}
	if size > old {
		return fmt.Errorf("inode %d: truncate up to %d: %w", r.Index, size, common.EINVAL)
	}
	if r.Inode.IsFastSymlink() {
		clear(r.Inode.Block[:])
		r.Inode.SetSize(size)
		r.MarkDirty()
		return nil
	}
	if r.Inode.Flags&common.INODE_FLAG_EXTENTS != 0 {
		return fmt.Errorf("inode %d: extent mapped: %w", r.Index, common.ENOTSUP)
	}

	bsize := uint64(r.table.bsize)
	keep := (size + bsize - 1) / bsize // file blocks that survive

	for i := keep; i < common.NDIR_BLOCKS; i++ {
		if blk := uint64(r.Inode.Block[i]); blk != common.NO_BLOCK {
			if err := r.table.alloc.FreeBlock(blk); err != nil {
				return err
			}
			r.Inode.Block[i] = 0
			r.addBlocks(-1)
		}
	}

	p := r.ptrsPerBlock()
	base := uint64(common.NDIR_BLOCKS)
	for level, slot := 1, common.IND_BLOCK; slot <= common.TIND_BLOCK; level, slot = level+1, slot+1 {
		span := pow(p, level)
		root := uint64(r.Inode.Block[slot])
		if root != common.NO_BLOCK && base+span > keep {
			if err := r.freeTree(root, level, base, keep); err != nil {
				return err
			}
			if base >= keep {
				if err := r.table.alloc.FreeBlock(root); err != nil {
					return err
				}
				r.Inode.Block[slot] = 0
				r.addBlocks(-1)
			}
		}
		base += span
	}

	r.Inode.SetSize(size)
	r.MarkDirty()
	return nil
}

// freeTree releases everything under the indirect block blk that maps file
// blocks at or past keep. base is the first file block blk covers.
func (r *Ref) freeTree(blk uint64, level int, base, keep uint64) (err error) {
	b, err := r.table.dev.Get(blk)
	if err != nil {
		return err
	}
	defer func() {
		if serr := r.table.dev.Set(b); err == nil {
			err = serr
		}
	}()

	p := r.ptrsPerBlock()
	childSpan := pow(p, level-1)
	le := binary.LittleEndian
	for i := uint64(0); i < p; i++ {
		childBase := base + i*childSpan
		if childBase+childSpan <= keep {
			continue
		}
		child := uint64(le.Uint32(b.Data[i*4:]))
		if child == common.NO_BLOCK {
			continue
		}
		if level > 1 {
			if err := r.freeTree(child, level-1, childBase, keep); err != nil {
				return err
			}
		}
		if childBase >= keep {
			if err := r.table.alloc.FreeBlock(child); err != nil {
				return err
			}
			le.PutUint32(b.Data[i*4:], 0)
			b.MarkDirty()
			r.addBlocks(-1)
		}
	}
	return nil
}

// BlockCount is the number of file blocks covered by the current size.
func (r *Ref) BlockCount() uint64 {
	bsize := uint64(r.table.bsize)
	return (r.Inode.Size() + bsize - 1) / bsize
}
