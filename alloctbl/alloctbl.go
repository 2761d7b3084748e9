// Package alloctbl allocates inodes and blocks from the per-group bitmaps
// and keeps the group descriptor and superblock free counts in step.
package alloctbl

import (
	"fmt"

	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/internal/logger"
	"github.com/jnwhiteh/ext4fs/super"
)

type AllocTbl struct {
	dev *blockdev.Device
	sb  *super.Superblock

	bsize    uint32
	descSize uint32

	iSearch uint32 // start searching for unallocated inodes in this group
	bSearch uint32 // start searching for unallocated blocks in this group
}

// New returns an allocator for the filesystem described by sb on dev. Each
// bitmap must fit in a single block.
func New(dev *blockdev.Device, sb *super.Superblock) (*AllocTbl, error) {
	bsize := sb.BlockSize()
	if sb.BlocksPerGroup > bsize*8 || sb.InodesPerGroup > bsize*8 {
		return nil, fmt.Errorf("alloctbl: group of %d blocks/%d inodes exceeds one bitmap block: %w",
			sb.BlocksPerGroup, sb.InodesPerGroup, common.ENOTSUP)
	}
	return &AllocTbl{
		dev:      dev,
		sb:       sb,
		bsize:    bsize,
		descSize: sb.DescSize(),
	}, nil
}

// descLocation returns the block and byte offset of descriptor bgid.
func (a *AllocTbl) descLocation(bgid uint32) (uint64, uint32) {
	perBlock := a.bsize / a.descSize
	lba := uint64(a.sb.FirstDataBlock) + 1 + uint64(bgid/perBlock)
	return lba, (bgid % perBlock) * a.descSize
}

// GetDesc loads the descriptor of group bgid.
func (a *AllocTbl) GetDesc(bgid uint32) (*GroupDesc, error) {
	if bgid >= a.sb.BlockGroupCount() {
		return nil, fmt.Errorf("alloctbl: group %d out of range: %w", bgid, common.EINVAL)
	}
	lba, off := a.descLocation(bgid)
	b, err := a.dev.Get(lba)
	if err != nil {
		return nil, err
	}
	gd := DecodeGroupDesc(b.Data[off:off+a.descSize], a.descSize)
	return gd, a.dev.Set(b)
}

// PutDesc stores the descriptor of group bgid.
func (a *AllocTbl) PutDesc(bgid uint32, gd *GroupDesc) error {
	lba, off := a.descLocation(bgid)
	b, err := a.dev.Get(lba)
	if err != nil {
		return err
	}
	gd.Encode(b.Data[off:off+a.descSize], a.descSize)
	b.MarkDirty()
	return a.dev.Set(b)
}

// groupStart is the first block number covered by group bgid.
func (a *AllocTbl) groupStart(bgid uint32) uint64 {
	return uint64(a.sb.FirstDataBlock) + uint64(bgid)*uint64(a.sb.BlocksPerGroup)
}

// blocksInGroup is the number of bitmap bits that map real blocks.
func (a *AllocTbl) blocksInGroup(bgid uint32) uint32 {
	n := uint64(a.sb.BlocksInGroup(bgid))
	if rest := a.sb.BlocksCount() - a.groupStart(bgid); rest < n {
		n = rest
	}
	return uint32(n)
}

// InodeGroup returns the group and bitmap index of inode ino.
func (a *AllocTbl) InodeGroup(ino uint32) (uint32, uint32) {
	return (ino - 1) / a.sb.InodesPerGroup, (ino - 1) % a.sb.InodesPerGroup
}

// BlockGroup returns the group and bitmap index of block blk.
func (a *AllocTbl) BlockGroup(blk uint64) (uint32, uint32) {
	rel := blk - uint64(a.sb.FirstDataBlock)
	return uint32(rel / uint64(a.sb.BlocksPerGroup)), uint32(rel % uint64(a.sb.BlocksPerGroup))
}

// AllocInode claims a free inode and returns its number.
func (a *AllocTbl) AllocInode(isDir bool) (uint32, error) {
	groups := a.sb.BlockGroupCount()
	for i := uint32(0); i < groups; i++ {
		bgid := (a.iSearch + i) % groups
		gd, err := a.GetDesc(bgid)
		if err != nil {
			return common.NO_INODE, err
		}
		if gd.FreeInodesCount == 0 {
			continue
		}

		first := uint32(0)
		if bgid == 0 {
			first = a.sb.FirstIno - 1 // skip reserved inodes
		}
		idx, err := a.allocBit(gd.InodeBitmap, first, a.sb.InodesInGroup(bgid))
		if err != nil {
			return common.NO_INODE, err
		}
		if idx < 0 {
			continue
		}

		gd.FreeInodesCount--
		if isDir {
			gd.UsedDirsCount++
		}
		if err := a.PutDesc(bgid, gd); err != nil {
			return common.NO_INODE, err
		}
		a.sb.FreeInodesCount--
		a.iSearch = bgid // next time start here
		return bgid*a.sb.InodesPerGroup + uint32(idx) + 1, nil
	}

	logger.Warn("Out of i-nodes on device %s", a.dev.Name())
	return common.NO_INODE, common.ENOSPC
}

// FreeInode releases inode ino.
func (a *AllocTbl) FreeInode(ino uint32, isDir bool) error {
	if ino < common.ROOT_INODE || ino > a.sb.InodesCount {
		return fmt.Errorf("alloctbl: free of inode %d: %w", ino, common.EINVAL)
	}
	bgid, idx := a.InodeGroup(ino)
	gd, err := a.GetDesc(bgid)
	if err != nil {
		return err
	}
	wasSet, err := a.freeBit(gd.InodeBitmap, idx)
	if err != nil {
		return err
	}
	if !wasSet {
		logger.Warn("Freeing free inode %d on device %s", ino, a.dev.Name())
		return nil
	}
	gd.FreeInodesCount++
	if isDir && gd.UsedDirsCount > 0 {
		gd.UsedDirsCount--
	}
	if err := a.PutDesc(bgid, gd); err != nil {
		return err
	}
	a.sb.FreeInodesCount++
	if bgid < a.iSearch {
		a.iSearch = bgid
	}
	return nil
}

// AllocBlock claims a free block, preferring goal and the blocks after it.
// A zero goal starts from the last group a block was found in.
func (a *AllocTbl) AllocBlock(goal uint64) (uint64, error) {
	groups := a.sb.BlockGroupCount()
	startGroup, startIdx := a.bSearch, uint32(0)
	if goal >= uint64(a.sb.FirstDataBlock) && goal < a.sb.BlocksCount() && goal != 0 {
		startGroup, startIdx = a.BlockGroup(goal)
	}

	// the goal group is visited twice, from the goal onward and then wrapped
	for i := uint32(0); i <= groups; i++ {
		bgid := (startGroup + i) % groups
		from := uint32(0)
		limit := a.blocksInGroup(bgid)
		switch i {
		case 0:
			from = startIdx
		case groups:
			if startIdx == 0 {
				continue
			}
			limit = startIdx
		}

		gd, err := a.GetDesc(bgid)
		if err != nil {
			return common.NO_BLOCK, err
		}
		if gd.FreeBlocksCount == 0 {
			continue
		}
		idx, err := a.allocBit(gd.BlockBitmap, from, limit)
		if err != nil {
			return common.NO_BLOCK, err
		}
		if idx < 0 {
			continue
		}

		gd.FreeBlocksCount--
		if err := a.PutDesc(bgid, gd); err != nil {
			return common.NO_BLOCK, err
		}
		a.sb.SetFreeBlocksCount(a.sb.FreeBlocksCount() - 1)
		a.bSearch = bgid
		return a.groupStart(bgid) + uint64(idx), nil
	}

	logger.Warn("No space on device %s", a.dev.Name())
	return common.NO_BLOCK, common.ENOSPC
}

// FreeBlock releases block blk.
func (a *AllocTbl) FreeBlock(blk uint64) error {
	if blk < uint64(a.sb.FirstDataBlock) || blk >= a.sb.BlocksCount() || blk == common.NO_BLOCK {
		return fmt.Errorf("alloctbl: free of block %d: %w", blk, common.EINVAL)
	}
	bgid, idx := a.BlockGroup(blk)
	gd, err := a.GetDesc(bgid)
	if err != nil {
		return err
	}
	wasSet, err := a.freeBit(gd.BlockBitmap, idx)
	if err != nil {
		return err
	}
	if !wasSet {
		logger.Warn("Freeing free block %d on device %s", blk, a.dev.Name())
		return nil
	}
	gd.FreeBlocksCount++
	if err := a.PutDesc(bgid, gd); err != nil {
		return err
	}
	a.sb.SetFreeBlocksCount(a.sb.FreeBlocksCount() + 1)
	if bgid < a.bSearch {
		a.bSearch = bgid
	}
	return nil
}

// IsBlockUsed reports the bitmap state of block blk.
func (a *AllocTbl) IsBlockUsed(blk uint64) (bool, error) {
	bgid, idx := a.BlockGroup(blk)
	gd, err := a.GetDesc(bgid)
	if err != nil {
		return false, err
	}
	return a.testBit(gd.BlockBitmap, idx)
}

// IsInodeUsed reports the bitmap state of inode ino.
func (a *AllocTbl) IsInodeUsed(ino uint32) (bool, error) {
	bgid, idx := a.InodeGroup(ino)
	gd, err := a.GetDesc(bgid)
	if err != nil {
		return false, err
	}
	return a.testBit(gd.InodeBitmap, idx)
}

// allocBit sets the first clear bit in [from, limit) of the bitmap at lba and
// returns its index, or -1 when all are set.
func (a *AllocTbl) allocBit(lba uint64, from, limit uint32) (int, error) {
	b, err := a.dev.Get(lba)
	if err != nil {
		return -1, err
	}
	for bit := from; bit < limit; bit++ {
		word := b.Data[bit/8]
		if word == 0xFF {
			// no bits free, move to next byte
			bit |= 7
			continue
		}
		if word&(1<<(bit%8)) == 0 {
			b.Data[bit/8] = word | 1<<(bit%8)
			b.MarkDirty()
			return int(bit), a.dev.Set(b)
		}
	}
	return -1, a.dev.Set(b)
}

// freeBit clears a bit and reports whether it was set.
func (a *AllocTbl) freeBit(lba uint64, bit uint32) (bool, error) {
	b, err := a.dev.Get(lba)
	if err != nil {
		return false, err
	}
	mask := byte(1 << (bit % 8))
	wasSet := b.Data[bit/8]&mask != 0
	if wasSet {
		b.Data[bit/8] &^= mask
		b.MarkDirty()
	}
	return wasSet, a.dev.Set(b)
}

func (a *AllocTbl) testBit(lba uint64, bit uint32) (bool, error) {
	b, err := a.dev.Get(lba)
	if err != nil {
		return false, err
	}
	set := b.Data[bit/8]&(1<<(bit%8)) != 0
	return set, a.dev.Set(b)
}
