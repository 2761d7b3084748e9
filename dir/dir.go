package dir

import (
	"fmt"

	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/inode"
)

// SearchResult is a located entry. The directory block holding it stays
// checked out until Destroy.
type SearchResult struct {
	Entry *Entry

	dev   *blockdev.Device
	block *blockdev.Block
	off   uint64
}

// Destroy releases the block held by the result.
func (r *SearchResult) Destroy() error {
	if r.block == nil {
		return nil
	}
	b := r.block
	r.block = nil
	return r.dev.Set(b)
}

func hasFiletype(ref *inode.Ref) bool {
	return ref.Table().Super().HasIncompat(common.FEATURE_INCOMPAT_FILETYPE)
}

func checkName(name string) error {
	if len(name) == 0 || len(name) > common.NAME_MAX {
		return fmt.Errorf("dir: name length %d: %w", len(name), common.EINVAL)
	}
	return nil
}

// AddEntry inserts an entry for child under name into parent. Free space in
// existing blocks is used first; otherwise a block is appended. Appending
// to an indexed directory drops its index flag, since the index no longer
// covers every block.
func AddEntry(parent *inode.Ref, name string, child *inode.Ref) error {
	if err := checkName(name); err != nil {
		return err
	}
	if !parent.Inode.IsDir() {
		return fmt.Errorf("dir: inode %d is not a directory: %w", parent.Index, common.ENOTSUP)
	}

	dev := parent.Table().Device()
	filetype := hasFiletype(parent)
	typ := uint8(common.FT_UNKNOWN)
	if filetype {
		typ = child.Inode.DirEntryType()
	}

	first := uint64(0)
	if parent.Inode.Flags&common.INODE_FLAG_INDEX != 0 {
		first = 1 // block 0 is the index root
	}
	for iblock := first; iblock < parent.BlockCount(); iblock++ {
		fblock, err := parent.DataBlock(iblock)
		if err != nil {
			return err
		}
		if fblock == common.NO_BLOCK {
			continue
		}
		b, err := dev.Get(fblock)
		if err != nil {
			return err
		}
		done, err := tryInsert(b, child.Index, name, typ, filetype)
		if serr := dev.Set(b); err == nil {
			err = serr
		}
		if err != nil || done {
			return err
		}
	}

	fblock, _, err := parent.AppendBlock()
	if err != nil {
		return err
	}
	b, err := dev.GetNoRead(fblock)
	if err != nil {
		return err
	}
	writeEntry(b.Data, child.Index, uint16(len(b.Data)), name, typ, filetype)
	b.MarkDirty()
	parent.Inode.Flags &^= common.INODE_FLAG_INDEX
	parent.MarkDirty()
	return dev.Set(b)
}

// tryInsert places the entry in the first gap of the block that can hold it:
// either an unused entry or the slack after a live one.
func tryInsert(b *blockdev.Block, ino uint32, name string, typ uint8, filetype bool) (bool, error) {
	need := RecordLen(len(name))
	data := b.Data
	for off := uint64(0); off < uint64(len(data)); {
		e, err := entryAt(data, off, filetype)
		if err != nil {
			return false, err
		}
		if e.Inode == common.NO_INODE && e.RecLen >= need {
			writeEntry(data[off:], ino, e.RecLen, name, typ, filetype)
			b.MarkDirty()
			return true, nil
		}
		if e.Inode != common.NO_INODE {
			used := RecordLen(int(e.NameLen))
			if e.RecLen-used >= need {
				setRecLen(data[off:], used)
				writeEntry(data[off+uint64(used):], ino, e.RecLen-used, name, typ, filetype)
				b.MarkDirty()
				return true, nil
			}
		}
		off += uint64(e.RecLen)
	}
	return false, nil
}

// FindEntry looks name up in parent. It fails with ENOENT when there is no
// such entry.
func FindEntry(parent *inode.Ref, name string) (*SearchResult, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	dev := parent.Table().Device()
	filetype := hasFiletype(parent)

	for iblock := uint64(0); iblock < parent.BlockCount(); iblock++ {
		fblock, err := parent.DataBlock(iblock)
		if err != nil {
			return nil, err
		}
		if fblock == common.NO_BLOCK {
			continue
		}
		b, err := dev.Get(fblock)
		if err != nil {
			return nil, err
		}
		for off := uint64(0); off < uint64(len(b.Data)); {
			e, err := entryAt(b.Data, off, filetype)
			if err != nil {
				dev.Set(b)
				return nil, fmt.Errorf("dir: inode %d block %d: %w", parent.Index, iblock, err)
			}
			if e.Inode != common.NO_INODE && e.Name == name {
				return &SearchResult{Entry: e, dev: dev, block: b, off: off}, nil
			}
			off += uint64(e.RecLen)
		}
		if err := dev.Set(b); err != nil {
			return nil, err
		}
	}
	return nil, common.ENOENT
}

// RemoveEntry deletes the entry called name from parent. Its space is
// merged into the preceding entry of the same block, or, for the first
// entry of a block, the entry is kept and marked unused.
func RemoveEntry(parent *inode.Ref, name string) error {
	res, err := FindEntry(parent, name)
	if err != nil {
		return err
	}
	defer res.Destroy()

	data := res.block.Data
	if res.off == 0 {
		setInode(data, common.NO_INODE)
		res.block.MarkDirty()
		return nil
	}

	filetype := hasFiletype(parent)
	prev := uint64(0)
	for off := uint64(0); off < res.off; {
		e, err := entryAt(data, off, filetype)
		if err != nil {
			return err
		}
		prev = off
		off += uint64(e.RecLen)
	}
	pe := decodeEntry(data[prev:], filetype)
	setRecLen(data[prev:], pe.RecLen+res.Entry.RecLen)
	res.block.MarkDirty()
	return nil
}
