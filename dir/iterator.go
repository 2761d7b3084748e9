package dir

import (
	"fmt"

	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/inode"
)

// Iterator walks the entries of a directory in on-disk order. The block
// holding the current entry stays checked out until the iterator moves off
// it or Fini is called.
type Iterator struct {
	ref      *inode.Ref
	bsize    uint64
	filetype bool

	pos     uint64
	block   *blockdev.Block
	iblock  uint64
	current *Entry
}

// NewIterator positions a new iterator at byte offset pos of the directory.
func NewIterator(ref *inode.Ref, pos uint64) (*Iterator, error) {
	t := ref.Table()
	it := &Iterator{
		ref:      ref,
		bsize:    uint64(t.BlockSize()),
		filetype: t.Super().HasIncompat(common.FEATURE_INCOMPAT_FILETYPE),
	}
	if err := it.seek(pos); err != nil {
		it.Fini()
		return nil, err
	}
	return it, nil
}

// Current returns the entry at the iterator position, or nil past the last
// entry.
func (it *Iterator) Current() *Entry { return it.current }

// Pos is the byte offset of the current entry within the directory.
func (it *Iterator) Pos() uint64 { return it.pos }

// offset is the position of the current entry within its block.
func (it *Iterator) offset() uint64 { return it.pos % it.bsize }

// Next advances to the following entry, loading the next block as needed.
func (it *Iterator) Next() error {
	if it.current == nil {
		return nil
	}
	return it.seek(it.pos + uint64(it.current.RecLen))
}

// Fini releases the block held by the iterator.
func (it *Iterator) Fini() error {
	it.current = nil
	if it.block == nil {
		return nil
	}
	b := it.block
	it.block = nil
	return it.ref.Table().Device().Set(b)
}

func (it *Iterator) seek(pos uint64) error {
	it.pos = pos
	it.current = nil
	if pos >= it.ref.Inode.Size() {
		return it.Fini()
	}

	iblock := pos / it.bsize
	if it.block == nil || it.iblock != iblock {
		if err := it.Fini(); err != nil {
			return err
		}
		fblock, err := it.ref.DataBlock(iblock)
		if err != nil {
			return err
		}
		if fblock == common.NO_BLOCK {
			return fmt.Errorf("dir: inode %d has a hole at block %d: %w", it.ref.Index, iblock, common.EIO)
		}
		b, err := it.ref.Table().Device().Get(fblock)
		if err != nil {
			return err
		}
		it.block = b
		it.iblock = iblock
	}

	e, err := entryAt(it.block.Data, it.offset(), it.filetype)
	if err != nil {
		return fmt.Errorf("dir: inode %d offset %d: %w", it.ref.Index, pos, err)
	}
	it.current = e
	return nil
}

// entryAt decodes and validates the entry at off in a directory block.
func entryAt(data []byte, off uint64, filetype bool) (*Entry, error) {
	bsize := uint64(len(data))
	if off+entryHeaderSize > bsize {
		return nil, common.EIO
	}
	e := decodeEntry(data[off:], filetype)
	rl := uint64(e.RecLen)
	switch {
	case rl < entryHeaderSize, rl%4 != 0:
		return nil, common.EIO
	case off+rl > bsize:
		return nil, common.EIO
	case uint64(e.NameLen)+entryHeaderSize > rl:
		return nil, common.EIO
	}
	return e, nil
}
