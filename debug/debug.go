// Package debug dumps directory and inode table blocks in readable form.
package debug

import (
	"bytes"
	"fmt"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/dir"
	"github.com/jnwhiteh/ext4fs/inode"
	"github.com/jnwhiteh/ext4fs/internal/logger"
)

// FormatDirectory lists the live entries of a directory data block.
func FormatDirectory(data []byte, filetype bool) (string, error) {
	entries, err := dir.BlockEntries(data, filetype)
	buf := bytes.NewBuffer(nil)
	off := 0
	for i, e := range entries {
		if e.Inode != common.NO_INODE {
			fmt.Fprintf(buf, "Entry %4d at %5d: %q at inode %8d (rec_len %d, type %d)\n",
				i, off, e.Name, e.Inode, e.RecLen, e.Type)
		}
		off += int(e.RecLen)
	}
	return buf.String(), err
}

// itableOf returns the first inode stored in block lba, or 0 when lba is not
// part of any inode table.
func itableOf(t *inode.Table, lba uint64) (uint32, error) {
	sb := t.Super()
	perBlock := t.BlockSize() / uint32(sb.InodeSize)
	blocks := uint64((sb.InodesPerGroup + perBlock - 1) / perBlock)
	for bgid := uint32(0); bgid < sb.BlockGroupCount(); bgid++ {
		gd, err := t.Allocator().GetDesc(bgid)
		if err != nil {
			return 0, err
		}
		if lba >= gd.InodeTable && lba < gd.InodeTable+blocks {
			return bgid*sb.InodesPerGroup + uint32(lba-gd.InodeTable)*perBlock + 1, nil
		}
	}
	return 0, nil
}

// FormatInodes lists the in-use inodes held by inode table block lba.
func FormatInodes(t *inode.Table, lba uint64) (string, error) {
	first, err := itableOf(t, lba)
	if err != nil {
		return "", err
	}
	if first == 0 {
		return "", fmt.Errorf("debug: block %d is not in an inode table: %w", lba, common.EINVAL)
	}
	dev := t.Device()
	b, err := dev.Get(lba)
	if err != nil {
		return "", err
	}
	defer dev.Set(b)

	isize := uint32(t.Super().InodeSize)
	buf := bytes.NewBuffer(nil)
	fmt.Fprintf(buf, "%8s %-16s %8s %10s %s\n", "INODE #", "MODE", "NLINKS", "SIZE", "BLOCKS")
	for i := uint32(0); (i+1)*isize <= uint32(len(b.Data)); i++ {
		rec := inode.Decode(b.Data[i*isize : (i+1)*isize])
		if rec.Mode != 0 && rec.LinksCount != 0 {
			fmt.Fprintf(buf, "%8d %16b %8d %10d %v\n", first+i, rec.Mode, rec.LinksCount, rec.Size(), rec.Block)
		}
	}
	return buf.String(), nil
}

// PrintBlock logs block lba: inode table blocks as inodes, anything else as
// a directory block.
func PrintBlock(t *inode.Table, lba uint64) error {
	first, err := itableOf(t, lba)
	if err != nil {
		return err
	}
	var out string
	if first != 0 {
		out, err = FormatInodes(t, lba)
	} else {
		dev := t.Device()
		b, gerr := dev.Get(lba)
		if gerr != nil {
			return gerr
		}
		out, err = FormatDirectory(b.Data, t.Super().HasIncompat(common.FEATURE_INCOMPAT_FILETYPE))
		dev.Set(b)
	}
	logger.Info("Block %d data follows:\n%s", lba, out)
	return err
}
