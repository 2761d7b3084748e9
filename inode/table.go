package inode

import (
	"fmt"
	"time"

	"github.com/jnwhiteh/ext4fs/alloctbl"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/super"
)

// Table gives access to the inodes of one filesystem.
type Table struct {
	dev   *blockdev.Device
	sb    *super.Superblock
	alloc *alloctbl.AllocTbl

	inodeSize uint32
	bsize     uint32
}

func NewTable(dev *blockdev.Device, sb *super.Superblock, alloc *alloctbl.AllocTbl) *Table {
	return &Table{
		dev:       dev,
		sb:        sb,
		alloc:     alloc,
		inodeSize: uint32(sb.InodeSize),
		bsize:     sb.BlockSize(),
	}
}

func (t *Table) Device() *blockdev.Device { return t.dev }
func (t *Table) Super() *super.Superblock { return t.sb }
func (t *Table) Allocator() *alloctbl.AllocTbl { return t.alloc }
func (t *Table) BlockSize() uint32 { return t.bsize }

// Ref is exclusive access to one loaded inode. The inode table block that
// holds it stays checked out until Put.
type Ref struct {
	Index uint32
	Inode *Record
	Dirty bool

	table *Table
	block *blockdev.Block
	off   uint32
}

// MarkDirty records that Inode was modified and must be stored by Put.
func (r *Ref) MarkDirty() { r.Dirty = true }

func (r *Ref) Table() *Table { return r.table }

// Get loads inode ino.
func (t *Table) Get(ino uint32) (*Ref, error) {
	if ino == common.NO_INODE || ino > t.sb.InodesCount {
		return nil, fmt.Errorf("inode: %d out of range: %w", ino, common.EINVAL)
	}
	bgid, idx := t.alloc.InodeGroup(ino)
	gd, err := t.alloc.GetDesc(bgid)
	if err != nil {
		return nil, err
	}

	byteOff := uint64(idx) * uint64(t.inodeSize)
	lba := gd.InodeTable + byteOff/uint64(t.bsize)
	off := uint32(byteOff % uint64(t.bsize))

	b, err := t.dev.Get(lba)
	if err != nil {
		return nil, err
	}
	return &Ref{
		Index: ino,
		Inode: Decode(b.Data[off : off+t.inodeSize]),
		table: t,
		block: b,
		off:   off,
	}, nil
}

// Put stores the inode if it is dirty and releases the reference. A Ref
// must not be used after Put.
func (r *Ref) Put() error {
	if r.block == nil {
		return nil
	}
	if r.Dirty {
		r.Inode.Encode(r.block.Data[r.off : r.off+r.table.inodeSize])
		r.block.MarkDirty()
		r.Dirty = false
	}
	b := r.block
	r.block = nil
	return r.table.dev.Set(b)
}

// Alloc claims a free inode and initializes it as an empty directory or
// regular file. Directories start with one link for their "." entry.
func (t *Table) Alloc(isDir bool) (*Ref, error) {
	ino, err := t.alloc.AllocInode(isDir)
	if err != nil {
		return nil, err
	}
	ref, err := t.Get(ino)
	if err != nil {
		t.alloc.FreeInode(ino, isDir)
		return nil, err
	}

	now := uint32(time.Now().Unix())
	rec := ref.Inode
	rec.Reset()
	if isDir {
		rec.Mode = common.S_IFDIR | 0777
		rec.LinksCount = 1
	} else {
		rec.Mode = common.S_IFREG | 0666
		rec.LinksCount = 0
	}
	rec.ATime = now
	rec.CTime = now
	rec.MTime = now
	if t.inodeSize > common.GOOD_OLD_INODE_SIZE {
		rec.ExtraIsize = 32
	}
	ref.MarkDirty()
	return ref, nil
}

// Free releases the inode number held by ref and any extended attribute
// block. The data blocks must already have been truncated. The caller
// still owns ref and must Put it.
func (t *Table) Free(ref *Ref) error {
	if acl := ref.Inode.FileACL(); acl != 0 {
		if err := t.alloc.FreeBlock(acl); err != nil {
			return err
		}
		ref.Inode.FileACLLo = 0
		ref.Inode.FileACLHi = 0
		ref.Inode.SetBlocks(ref.Inode.Blocks() - uint64(t.bsize/512))
		ref.MarkDirty()
	}
	return t.alloc.FreeInode(ref.Index, ref.Inode.IsDir())
}
