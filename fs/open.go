package fs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/dir"
	"github.com/jnwhiteh/ext4fs/inode"
)

// Open flags, derived from an fopen style mode string.
const (
	O_RDONLY = 1 << iota
	O_WRONLY
	O_RDWR
	O_CREAT
	O_TRUNC
	O_APPEND
)

var modeFlags = map[string]int{
	"r":  O_RDONLY,
	"w":  O_WRONLY | O_CREAT | O_TRUNC,
	"a":  O_WRONLY | O_CREAT | O_APPEND,
	"r+": O_RDWR,
	"w+": O_RDWR | O_CREAT | O_TRUNC,
	"a+": O_RDWR | O_CREAT | O_APPEND,
}

// parseFlags accepts r, w, a, r+, w+ and a+, with an optional b anywhere
// after the first letter ("rb+", "r+b").
func parseFlags(mode string) (int, error) {
	if len(mode) > 1 && strings.Count(mode[1:], "b") == 1 {
		mode = mode[:1] + strings.Replace(mode[1:], "b", "", 1)
	}
	flags, ok := modeFlags[mode]
	if !ok {
		return 0, fmt.Errorf("fs: open mode %q: %w", mode, common.EINVAL)
	}
	return flags, nil
}

func canRead(flags int) bool  { return flags&(O_RDONLY|O_RDWR) != 0 }
func canWrite(flags int) bool { return flags&(O_WRONLY|O_RDWR) != 0 }

// nextSegment splits the first component off path. isGoal is set when no
// separator follows it.
func nextSegment(path string) (seg string, isGoal bool, err error) {
	i := strings.IndexByte(path, '/')
	if i < 0 {
		seg, isGoal = path, true
	} else {
		seg = path[:i]
	}
	if len(seg) > common.NAME_MAX {
		return "", false, fmt.Errorf("fs: path component of %d bytes: %w", len(seg), common.EINVAL)
	}
	return seg, isGoal, nil
}

// openResult is what a path walk found.
type openResult struct {
	inode  uint32 // the goal
	parent uint32 // directory holding the goal entry
	name   string // goal entry name, empty for the root
	size   uint64
	isDir  bool
}

// genericOpen walks path from the root of mp one component at a time.
// Missing components are created when flags include O_CREAT: directories
// for every intermediate component, and for the goal either a file
// (fileExpect) or a directory. A goal of the wrong type is ENOENT. Regular
// files are truncated when flags include O_TRUNC.
func (mp *mountPoint) genericOpen(path string, flags int, fileExpect bool) (*openResult, error) {
	fs := &mp.fs
	if canWrite(flags) || flags&O_CREAT != 0 {
		if err := mp.writable(); err != nil {
			return nil, err
		}
	}

	ref, err := fs.table.Get(common.ROOT_INODE)
	if err != nil {
		return nil, err
	}
	defer func() {
		if ref != nil {
			ref.Put()
		}
	}()

	res := &openResult{parent: ref.Index}
	rest := strings.TrimPrefix(path, mp.name)
	for {
		seg, isGoal, err := nextSegment(rest)
		if err != nil {
			return nil, err
		}
		if seg == "" {
			if isGoal && !fileExpect {
				break
			}
			return nil, fmt.Errorf("fs: %s: %w", path, common.ENOENT)
		}
		if !ref.Inode.IsDir() {
			return nil, fmt.Errorf("fs: %s: not a directory: %w", path, common.ENOENT)
		}

		found, err := dir.FindEntry(ref, seg)
		if errors.Is(err, common.ENOENT) {
			if flags&O_CREAT == 0 {
				return nil, fmt.Errorf("fs: %s: %w", path, common.ENOENT)
			}
			if err := mp.create(ref, seg, !isGoal || !fileExpect); err != nil {
				return nil, err
			}
			continue // look the new entry up
		}
		if err != nil {
			return nil, err
		}

		next := found.Entry.Inode
		if err := found.Destroy(); err != nil {
			return nil, err
		}
		res.parent = ref.Index
		res.name = seg

		old := ref
		ref = nil
		if err := old.Put(); err != nil {
			return nil, err
		}
		if ref, err = fs.table.Get(next); err != nil {
			return nil, err
		}

		if isGoal {
			if fileExpect && ref.Inode.IsDir() {
				return nil, fmt.Errorf("fs: %s is a directory: %w", path, common.ENOENT)
			}
			if !fileExpect && ref.Inode.IsRegular() {
				return nil, fmt.Errorf("fs: %s is not a directory: %w", path, common.ENOENT)
			}
			break
		}
		rest = rest[len(seg)+1:]
	}

	if flags&O_TRUNC != 0 && ref.Inode.IsRegular() {
		fs.dev.CacheWriteBack(true)
		err := ref.Truncate(0)
		if werr := fs.dev.CacheWriteBack(false); err == nil {
			err = werr
		}
		if err != nil {
			return nil, err
		}
	}

	res.inode = ref.Index
	res.size = ref.Inode.Size()
	res.isDir = ref.Inode.IsDir()
	return res, nil
}

// create allocates an inode and links it into parent under name. On
// failure the inode is released again.
func (mp *mountPoint) create(parent *inode.Ref, name string, isDir bool) error {
	fs := &mp.fs
	child, err := fs.table.Alloc(isDir)
	if err != nil {
		return err
	}
	if err := link(fs, parent, child, name); err != nil {
		if rerr := release(fs, child); rerr != nil {
			err = errors.Join(err, rerr)
		}
		// the slot is free again, keep the on-disk record as it was
		child.Dirty = false
		child.Put()
		return err
	}
	return child.Put()
}
