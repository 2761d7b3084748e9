package main

import (
	"fmt"
	"io"
	"path"

	"github.com/jnwhiteh/ext4fs/alloctbl"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/debug"
	"github.com/jnwhiteh/ext4fs/dir"
	"github.com/jnwhiteh/ext4fs/inode"
	"github.com/jnwhiteh/ext4fs/super"
)

type checker struct {
	dev   *blockdev.Device
	sb    *super.Superblock
	alloc *alloctbl.AllocTbl
	table *inode.Table
	out   io.Writer

	listing bool
	verbose bool

	nregular, ndirectory, nsymlink, nother int
	nbadentry                              int
	errors                                 int

	links map[uint32]int // references found in the tree
	seen  map[uint32]bool
}

func newChecker(dev *blockdev.Device, sb *super.Superblock, alloc *alloctbl.AllocTbl, table *inode.Table, out io.Writer) *checker {
	return &checker{
		dev:   dev,
		sb:    sb,
		alloc: alloc,
		table: table,
		out:   out,
		links: make(map[uint32]int),
		seen:  make(map[uint32]bool),
	}
}

func (c *checker) errorf(format string, args ...any) {
	c.errors++
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *checker) check() {
	c.chksuper()
	c.chkgroups()
	c.chktree()
	c.chkcount()
}

func (c *checker) chksuper() {
	sb := c.sb
	fmt.Fprintf(c.out, "volume %q: %d blocks of %d bytes, %d inodes, %d groups\n",
		sb.VolumeLabel(), sb.BlocksCount(), sb.BlockSize(), sb.InodesCount, sb.BlockGroupCount())
	if f := sb.UnsupportedIncompat(); f != 0 {
		c.errorf("unsupported incompatible features 0x%x", f)
	}
	if f := sb.UnsupportedROCompat(); f != 0 {
		fmt.Fprintf(c.out, "warning: unsupported read-only features 0x%x\n", f)
	}
	if sb.State&common.STATE_VALID == 0 {
		fmt.Fprintf(c.out, "warning: filesystem was not cleanly unmounted\n")
	}
}

// countClear counts the clear bits among the first n of the bitmap at lba.
func (c *checker) countClear(lba uint64, n uint32) (uint32, error) {
	b, err := c.dev.Get(lba)
	if err != nil {
		return 0, err
	}
	defer c.dev.Set(b)
	free := uint32(0)
	for bit := uint32(0); bit < n; bit++ {
		if b.Data[bit/8]&(1<<(bit%8)) == 0 {
			free++
		}
	}
	return free, nil
}

// chkgroups compares the free counts of every group descriptor with its
// bitmaps, and their totals with the superblock.
func (c *checker) chkgroups() {
	sb := c.sb
	var freeBlocks uint64
	var freeInodes uint32
	for bgid := uint32(0); bgid < sb.BlockGroupCount(); bgid++ {
		gd, err := c.alloc.GetDesc(bgid)
		if err != nil {
			c.errorf("group %d: cannot read descriptor: %s", bgid, err)
			continue
		}
		nblocks := sb.BlocksInGroup(bgid)
		if start := uint64(sb.FirstDataBlock) + uint64(bgid)*uint64(sb.BlocksPerGroup); start+uint64(nblocks) > sb.BlocksCount() {
			nblocks = uint32(sb.BlocksCount() - start)
		}
		fb, err := c.countClear(gd.BlockBitmap, nblocks)
		if err != nil {
			c.errorf("group %d: cannot read block bitmap: %s", bgid, err)
			continue
		}
		fi, err := c.countClear(gd.InodeBitmap, sb.InodesInGroup(bgid))
		if err != nil {
			c.errorf("group %d: cannot read inode bitmap: %s", bgid, err)
			continue
		}
		fmt.Fprintf(c.out, "group %3d: %6d free blocks, %6d free inodes, %4d directories\n",
			bgid, gd.FreeBlocksCount, gd.FreeInodesCount, gd.UsedDirsCount)
		if fb != gd.FreeBlocksCount {
			c.errorf("group %d: %d free blocks in bitmap, descriptor says %d", bgid, fb, gd.FreeBlocksCount)
		}
		if fi != gd.FreeInodesCount {
			c.errorf("group %d: %d free inodes in bitmap, descriptor says %d", bgid, fi, gd.FreeInodesCount)
		}
		freeBlocks += uint64(fb)
		freeInodes += fi
	}
	if freeBlocks != sb.FreeBlocksCount() {
		c.errorf("%d free blocks in bitmaps, superblock says %d", freeBlocks, sb.FreeBlocksCount())
	}
	if freeInodes != sb.FreeInodesCount {
		c.errorf("%d free inodes in bitmaps, superblock says %d", freeInodes, sb.FreeInodesCount)
	}
}

type pending struct {
	ino  uint32
	path string
}

// chktree walks the directory tree from the root without recursion,
// counting the references to every inode it meets.
func (c *checker) chktree() {
	stack := []pending{{common.ROOT_INODE, "/"}}
	c.seen[common.ROOT_INODE] = true
	c.ndirectory++
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		subdirs, err := c.chkdirectory(p)
		if err != nil {
			c.errorf("%s: %s", p.path, err)
		}
		stack = append(stack, subdirs...)
	}
}

// chkdirectory checks the entries of one directory and returns the
// subdirectories not visited yet.
func (c *checker) chkdirectory(p pending) ([]pending, error) {
	ref, err := c.table.Get(p.ino)
	if err != nil {
		return nil, err
	}
	defer ref.Put()
	if c.listing {
		fmt.Fprintf(c.out, "%8d %s\n", p.ino, p.path)
	}
	if c.verbose {
		for i := uint64(0); i < ref.BlockCount(); i++ {
			if lba, err := ref.DataBlock(i); err == nil && lba != common.NO_BLOCK {
				debug.PrintBlock(c.table, lba)
			}
		}
	}

	it, err := dir.NewIterator(ref, 0)
	if err != nil {
		return nil, err
	}
	defer it.Fini()

	var subdirs []pending
	for e := it.Current(); e != nil; e = it.Current() {
		if e.Inode != common.NO_INODE {
			if sub := c.chkentry(p, e); sub != nil {
				subdirs = append(subdirs, *sub)
			}
		}
		if err := it.Next(); err != nil {
			c.nbadentry++
			return subdirs, err
		}
	}
	return subdirs, nil
}

func (c *checker) chkentry(p pending, e *dir.Entry) *pending {
	name := path.Join(p.path, e.Name)
	if e.Inode > c.sb.InodesCount {
		c.nbadentry++
		c.errorf("%s: inode %d out of range", name, e.Inode)
		return nil
	}
	if used, err := c.alloc.IsInodeUsed(e.Inode); err != nil || !used {
		c.nbadentry++
		c.errorf("%s: entry refers to free inode %d", name, e.Inode)
		return nil
	}
	c.links[e.Inode]++

	switch e.Name {
	case ".":
		if e.Inode != p.ino {
			c.nbadentry++
			c.errorf("%s: \".\" refers to inode %d", p.path, e.Inode)
		}
		return nil
	case "..":
		return nil
	}

	ref, err := c.table.Get(e.Inode)
	if err != nil {
		c.errorf("%s: %s", name, err)
		return nil
	}
	defer ref.Put()
	switch {
	case ref.Inode.IsDir():
		if c.seen[e.Inode] {
			c.errorf("%s: directory inode %d linked twice", name, e.Inode)
			return nil
		}
		c.seen[e.Inode] = true
		c.ndirectory++
		return &pending{e.Inode, name}
	case ref.Inode.IsRegular():
		c.nregular++
	case ref.Inode.IsSymlink():
		c.nsymlink++
	default:
		c.nother++
	}
	if c.listing {
		fmt.Fprintf(c.out, "%8d %s\n", e.Inode, name)
	}
	return nil
}

// chkcount compares the references found in the tree with the link count
// of every inode.
func (c *checker) chkcount() {
	for ino, n := range c.links {
		ref, err := c.table.Get(ino)
		if err != nil {
			continue
		}
		if int(ref.Inode.LinksCount) != n {
			c.errorf("inode %d: link count %d, found %d references", ino, ref.Inode.LinksCount, n)
		}
		ref.Put()
	}
}

func pr(w io.Writer, n int, singular, plural string) {
	if n == 1 {
		fmt.Fprintf(w, "%8d    %s\n", n, singular)
	} else {
		fmt.Fprintf(w, "%8d    %s\n", n, plural)
	}
}

func (c *checker) printtotal() {
	fmt.Fprintln(c.out)
	pr(c.out, c.nregular, "regular file", "regular files")
	pr(c.out, c.ndirectory, "directory", "directories")
	pr(c.out, c.nsymlink, "symbolic link", "symbolic links")
	pr(c.out, c.nother, "other inode", "other inodes")
	pr(c.out, c.nbadentry, "bad entry", "bad entries")
	pr(c.out, c.errors, "error", "errors")
}
