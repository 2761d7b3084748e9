package fs

import (
	"fmt"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/dir"
	"github.com/jnwhiteh/ext4fs/inode"
)

func isDots(name string) bool {
	return name == "." || name == ".."
}

// hasChildren reports whether a directory holds anything besides "." and
// "..". It is false for anything that is not a directory.
func hasChildren(ref *inode.Ref) (bool, error) {
	if !ref.Inode.IsDir() {
		return false, nil
	}
	it, err := dir.NewIterator(ref, 0)
	if err != nil {
		return false, err
	}
	defer it.Fini()

	for e := it.Current(); e != nil; e = it.Current() {
		if e.Inode != common.NO_INODE && !isDots(e.Name) {
			return true, nil
		}
		if err := it.Next(); err != nil {
			return false, err
		}
	}
	return false, nil
}

// link adds an entry for child to parent. A directory child also gets its
// "." and ".." entries, and counts as a link to the parent through "..".
func link(fs *filesystem, parent, child *inode.Ref, name string) error {
	if len(name) == 0 || len(name) > common.NAME_MAX {
		return fmt.Errorf("fs: name of %d bytes: %w", len(name), common.EINVAL)
	}
	if err := dir.AddEntry(parent, name, child); err != nil {
		return err
	}

	if child.Inode.IsDir() {
		err := dir.AddEntry(child, ".", child)
		if err == nil {
			err = dir.AddEntry(child, "..", parent)
		}
		if err == nil && fs.sb.HasCompat(common.FEATURE_COMPAT_DIR_INDEX) {
			err = dir.DxInit(child)
		}
		if err != nil {
			dir.RemoveEntry(parent, name)
			return err
		}
		parent.Inode.LinksCount++
		parent.MarkDirty()
	}

	child.Inode.LinksCount++
	child.MarkDirty()
	return nil
}

// unlink removes the entry name, which refers to child, from parent. A
// directory must be empty. A directory left with one link (its own ".")
// drops to zero and releases the link its ".." held on parent.
func unlink(parent, child *inode.Ref, name string) error {
	has, err := hasChildren(child)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("fs: directory %s is not empty: %w", name, common.ENOTSUP)
	}
	if err := dir.RemoveEntry(parent, name); err != nil {
		return err
	}

	links := child.Inode.LinksCount
	if links > 0 {
		links--
	}
	if child.Inode.IsDir() && links <= 1 {
		links = 0
		if parent.Inode.LinksCount > 0 {
			parent.Inode.LinksCount--
		}
		parent.MarkDirty()
	}
	// dtime marks the inode deleted only once the last link is gone
	if links == 0 {
		child.Inode.DTime = common.DTIME_DELETED
	}
	child.Inode.LinksCount = links
	child.MarkDirty()
	return nil
}

// release truncates and frees an inode that has no links left.
func release(fs *filesystem, ref *inode.Ref) error {
	if err := ref.Truncate(0); err != nil {
		return err
	}
	return fs.table.Free(ref)
}
