package mkfs

import (
	"time"

	"github.com/jnwhiteh/ext4fs/alloctbl"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/dir"
	"github.com/jnwhiteh/ext4fs/inode"
	"github.com/jnwhiteh/ext4fs/super"
)

type formatter struct {
	dev *blockdev.Device
	sb  *super.Superblock
	geo *geometry
}

// groupLayout is where the metadata of one group lives.
type groupLayout struct {
	start       uint64
	blockBitmap uint64
	inodeBitmap uint64
	inodeTable  uint64
	dataStart   uint64
}

func (f *formatter) layout(bgid uint32) groupLayout {
	l := groupLayout{start: f.geo.groupStart(bgid)}
	cursor := l.start
	if f.sb.HasSuper(bgid) {
		cursor += 1 + uint64(f.geo.gdtBlocks)
	}
	l.blockBitmap = cursor
	l.inodeBitmap = cursor + 1
	l.inodeTable = cursor + 2
	l.dataStart = l.inodeTable + uint64(f.geo.itable)
	return l
}

// writeGroups lays out the bitmaps, inode tables, descriptor tables and
// superblock copies of every group.
func (f *formatter) writeGroups() error {
	geo := f.geo
	descs := make([]byte, geo.gdtBlocks*geo.bsize)
	var freeBlocks uint64

	for bgid := uint32(0); bgid < geo.groups; bgid++ {
		l := f.layout(bgid)
		end := geo.groupEnd(bgid)

		if err := f.zero(l.inodeTable, geo.itable); err != nil {
			return err
		}

		bitmap := make([]byte, geo.bsize)
		setBits(bitmap, 0, uint32(l.dataStart-l.start))
		setBits(bitmap, uint32(end-l.start), geo.bsize*8)
		if err := f.dev.SetDirect(bitmap, l.blockBitmap, 1); err != nil {
			return err
		}

		clear(bitmap)
		gd := &alloctbl.GroupDesc{
			BlockBitmap:     l.blockBitmap,
			InodeBitmap:     l.inodeBitmap,
			InodeTable:      l.inodeTable,
			FreeBlocksCount: uint32(end - l.dataStart),
			FreeInodesCount: geo.ipg,
		}
		if bgid == 0 {
			setBits(bitmap, 0, reservedInos)
			gd.FreeInodesCount -= reservedInos
			gd.UsedDirsCount = 1 // root
		}
		setBits(bitmap, geo.ipg, geo.bsize*8)
		if err := f.dev.SetDirect(bitmap, l.inodeBitmap, 1); err != nil {
			return err
		}

		gd.Encode(descs[bgid*common.MIN_DESC_SIZE:], common.MIN_DESC_SIZE)
		freeBlocks += uint64(gd.FreeBlocksCount)
	}
	f.sb.SetFreeBlocksCount(freeBlocks)

	for bgid := uint32(0); bgid < geo.groups; bgid++ {
		if !f.sb.HasSuper(bgid) {
			continue
		}
		l := f.layout(bgid)
		if err := f.dev.SetDirect(descs, l.start+1, geo.gdtBlocks); err != nil {
			return err
		}
		if bgid == 0 {
			continue
		}
		f.sb.BlockGroupNr = uint16(bgid)
		err := f.dev.WriteBytes(l.start*uint64(geo.bsize), f.sb.Encode())
		f.sb.BlockGroupNr = 0
		if err != nil {
			return err
		}
	}
	return f.sb.Write(f.dev)
}

// zero clears count blocks starting at lba.
func (f *formatter) zero(lba uint64, count uint32) error {
	buf := make([]byte, min(count, zeroChunk)*f.geo.bsize)
	for count > 0 {
		n := min(count, zeroChunk)
		if err := f.dev.SetDirect(buf[:n*f.geo.bsize], lba, n); err != nil {
			return err
		}
		lba += uint64(n)
		count -= n
	}
	return nil
}

// makeRoot creates the root directory through the regular allocation and
// directory code, so its block is accounted like any other.
func (f *formatter) makeRoot() (err error) {
	alloc, err := alloctbl.New(f.dev, f.sb)
	if err != nil {
		return err
	}
	table := inode.NewTable(f.dev, f.sb, alloc)
	root, err := table.Get(common.ROOT_INODE)
	if err != nil {
		return err
	}
	defer func() {
		if perr := root.Put(); err == nil {
			err = perr
		}
	}()

	now := uint32(time.Now().Unix())
	rec := root.Inode
	rec.Reset()
	rec.Mode = common.S_IFDIR | 0755
	rec.ATime = now
	rec.CTime = now
	rec.MTime = now
	if f.sb.InodeSize > common.GOOD_OLD_INODE_SIZE {
		rec.ExtraIsize = 32
	}
	root.MarkDirty()

	if err := dir.AddEntry(root, ".", root); err != nil {
		return err
	}
	if err := dir.AddEntry(root, "..", root); err != nil {
		return err
	}
	rec.LinksCount = 2
	return nil
}

func setBits(bitmap []byte, from, to uint32) {
	for bit := from; bit < to; bit++ {
		bitmap[bit/8] |= 1 << (bit % 8)
	}
}
