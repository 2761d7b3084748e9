package fs

import (
	"errors"
	"fmt"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/dir"
	"github.com/jnwhiteh/ext4fs/inode"
	"github.com/jnwhiteh/ext4fs/internal/logger"
)

// Remove deletes the regular file at path. Its blocks and inode are freed
// once no links to it remain.
func (r *Registry) Remove(path string) error {
	mp, err := r.getMount(path)
	if err != nil {
		return err
	}
	if err := mp.writable(); err != nil {
		return err
	}

	mp.lock()
	defer mp.unlock()
	res, err := mp.genericOpen(path, O_RDONLY, true)
	if err != nil {
		return err
	}

	dev := mp.fs.dev
	dev.CacheWriteBack(true)
	err = mp.removeEntry(res.parent, res.inode, res.name)
	if werr := dev.CacheWriteBack(false); err == nil {
		err = werr
	}
	return err
}

// removeEntry unlinks the entry name, which refers to ino, from the
// directory parent, and frees ino when that was its last link.
func (mp *mountPoint) removeEntry(parent, ino uint32, name string) (err error) {
	fs := &mp.fs
	pref, err := fs.table.Get(parent)
	if err != nil {
		return err
	}
	defer func() {
		if perr := pref.Put(); err == nil {
			err = perr
		}
	}()
	child, err := fs.table.Get(ino)
	if err != nil {
		return err
	}
	defer func() {
		if perr := child.Put(); err == nil {
			err = perr
		}
	}()

	if err := unlink(pref, child, name); err != nil {
		return err
	}
	if child.Inode.LinksCount == 0 {
		return release(fs, child)
	}
	return nil
}

// Mkdir creates the directory at path along with any missing parents. An
// existing directory is left alone.
func (r *Registry) Mkdir(path string) error {
	mp, err := r.getMount(path)
	if err != nil {
		return err
	}

	mp.lock()
	defer mp.unlock()
	if _, err := mp.genericOpen(path, O_RDONLY, false); err == nil {
		return nil
	}

	dev := mp.fs.dev
	dev.CacheWriteBack(true)
	_, err = mp.genericOpen(path, O_WRONLY|O_CREAT, false)
	if werr := dev.CacheWriteBack(false); err == nil {
		err = werr
	}
	return err
}

// Rmdir deletes the directory at path with everything below it. The tree
// is taken apart from the bottom up without recursion: the walk descends
// into the first non-empty subdirectory it meets and climbs back through
// ".." once a directory has been emptied.
func (r *Registry) Rmdir(path string) error {
	mp, err := r.getMount(path)
	if err != nil {
		return err
	}
	if err := mp.writable(); err != nil {
		return err
	}

	mp.lock()
	defer mp.unlock()
	res, err := mp.genericOpen(path, O_RDONLY, false)
	if err != nil {
		return err
	}
	if res.inode == common.ROOT_INODE {
		return fmt.Errorf("fs: cannot remove the root of %s: %w", mp.name, common.ENOTSUP)
	}

	dev := mp.fs.dev
	dev.CacheWriteBack(true)
	err = mp.emptyTree(res.inode)
	if err == nil {
		err = mp.removeEntry(res.parent, res.inode, res.name)
	}
	if werr := dev.CacheWriteBack(false); err == nil {
		err = werr
	}
	return err
}

// emptyTree removes everything below the directory top.
func (mp *mountPoint) emptyTree(top uint32) error {
	cur, depth := top, 0
	for {
		e, isDir, err := mp.firstChild(cur)
		if err != nil {
			return err
		}

		if e == nil {
			if depth == 0 {
				return nil
			}
			// cur is empty now, the next pass over its parent unlinks it
			up, err := mp.lookup(cur, "..")
			if err != nil {
				return err
			}
			cur = up
			depth--
			continue
		}

		if isDir {
			child, err := mp.fs.table.Get(e.Inode)
			if err != nil {
				return err
			}
			has, err := hasChildren(child)
			if perr := child.Put(); err == nil {
				err = perr
			}
			if err != nil {
				return err
			}
			if has {
				cur = e.Inode
				depth++
				continue
			}
		}

		logger.Debug("Removing %s (inode %d) from directory %d", e.Name, e.Inode, cur)
		if err := mp.removeEntry(cur, e.Inode, e.Name); err != nil {
			return err
		}
	}
}

// firstChild returns the first entry of directory ino other than "." and
// "..", or nil when there is none.
func (mp *mountPoint) firstChild(ino uint32) (e *dir.Entry, isDir bool, err error) {
	ref, err := mp.fs.table.Get(ino)
	if err != nil {
		return nil, false, err
	}
	defer func() {
		if perr := ref.Put(); err == nil {
			err = perr
		}
	}()

	it, err := dir.NewIterator(ref, 0)
	if err != nil {
		return nil, false, err
	}
	defer it.Fini()
	for cur := it.Current(); cur != nil; cur = it.Current() {
		if cur.Inode != common.NO_INODE && !isDots(cur.Name) {
			e = cur
			break
		}
		if err := it.Next(); err != nil {
			return nil, false, err
		}
	}
	if e == nil {
		return nil, false, nil
	}

	child, err := mp.fs.table.Get(e.Inode)
	if err != nil {
		return nil, false, err
	}
	isDir = child.Inode.IsDir()
	return e, isDir, child.Put()
}

// lookup returns the inode that name refers to in directory ino.
func (mp *mountPoint) lookup(ino uint32, name string) (uint32, error) {
	ref, err := mp.fs.table.Get(ino)
	if err != nil {
		return 0, err
	}
	res, err := dir.FindEntry(ref, name)
	if err != nil {
		return 0, errors.Join(err, ref.Put())
	}
	found := res.Entry.Inode
	return found, errors.Join(res.Destroy(), ref.Put())
}

// Dir is an open directory.
type Dir struct {
	mp    *mountPoint
	inode uint32
}

// OpenDir opens the directory at path. The mount point itself names the
// root directory.
func (r *Registry) OpenDir(path string) (*Dir, error) {
	mp, err := r.getMount(path)
	if err != nil {
		return nil, err
	}
	mp.lock()
	defer mp.unlock()
	res, err := mp.genericOpen(path, O_RDONLY, false)
	if err != nil {
		return nil, err
	}
	return &Dir{mp: mp, inode: res.inode}, nil
}

// Entry returns the i-th live entry of the directory, counting from 0, or
// nil when the directory has fewer entries.
func (d *Dir) Entry(i int) (e *dir.Entry, err error) {
	if d.mp == nil {
		return nil, errClosed
	}
	d.mp.lock()
	defer d.mp.unlock()

	var ref *inode.Ref
	if ref, err = d.mp.fs.table.Get(d.inode); err != nil {
		return nil, err
	}
	defer func() {
		if perr := ref.Put(); err == nil {
			err = perr
		}
	}()

	it, err := dir.NewIterator(ref, 0)
	if err != nil {
		return nil, err
	}
	defer it.Fini()
	for cur := it.Current(); cur != nil; cur = it.Current() {
		if cur.Inode != common.NO_INODE {
			if i == 0 {
				return cur, nil
			}
			i--
		}
		if err := it.Next(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (d *Dir) Close() error {
	if d.mp == nil {
		return errClosed
	}
	*d = Dir{}
	return nil
}
