package fs

import (
	"errors"
	"fmt"
	"io"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/inode"
)

// File is an open regular file. Its size is refreshed from the inode on
// every read and write.
type File struct {
	mp    *mountPoint
	inode uint32
	flags int
	size  uint64
	pos   uint64
}

var errClosed = fmt.Errorf("fs: file not open: %w", common.EINVAL)

// Open opens the file at path with an fopen style mode.
func (r *Registry) Open(path, mode string) (*File, error) {
	flags, err := parseFlags(mode)
	if err != nil {
		return nil, err
	}
	mp, err := r.getMount(path)
	if err != nil {
		return nil, err
	}

	mp.lock()
	defer mp.unlock()
	dev := mp.fs.dev
	dev.CacheWriteBack(true)
	res, err := mp.genericOpen(path, flags, true)
	if werr := dev.CacheWriteBack(false); err == nil {
		err = werr
	}
	if err != nil {
		return nil, err
	}

	f := &File{mp: mp, inode: res.inode, flags: flags, size: res.size}
	if flags&O_APPEND != 0 {
		f.pos = f.size
	}
	return f, nil
}

// Close invalidates the handle.
func (f *File) Close() error {
	if f.mp == nil {
		return errClosed
	}
	*f = File{}
	return nil
}

func (f *File) Tell() uint64 { return f.pos }
func (f *File) Size() uint64 { return f.size }

// Seek moves the position. The target must lie within the file; seeking
// past the end is not supported.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.mp == nil {
		return 0, errClosed
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(f.pos) + offset
	case io.SeekEnd:
		target = int64(f.size) + offset
	default:
		return int64(f.pos), fmt.Errorf("fs: whence %d: %w", whence, common.EINVAL)
	}
	if target < 0 || uint64(target) > f.size {
		return int64(f.pos), fmt.Errorf("fs: seek to %d in file of %d bytes: %w", target, f.size, common.EINVAL)
	}
	f.pos = uint64(target)
	return target, nil
}

// load fetches the file's inode and refreshes the cached size.
func (f *File) load() (*inode.Ref, error) {
	ref, err := f.mp.fs.table.Get(f.inode)
	if err != nil {
		return nil, err
	}
	f.size = ref.Inode.Size()
	return ref, nil
}

// Read reads up to len(p) bytes from the current position. It returns
// io.EOF once the position is at the end of the file.
func (f *File) Read(p []byte) (n int, err error) {
	if f.mp == nil {
		return 0, errClosed
	}
	if !canRead(f.flags) {
		return 0, fmt.Errorf("fs: file not open for reading: %w", common.EPERM)
	}
	if len(p) == 0 {
		return 0, nil
	}

	f.mp.lock()
	defer f.mp.unlock()
	ref, err := f.load()
	if err != nil {
		return 0, err
	}
	defer func() {
		if perr := ref.Put(); err == nil {
			err = perr
		}
	}()

	if f.pos >= f.size {
		return 0, io.EOF
	}
	p = p[:min(uint64(len(p)), f.size-f.pos)]

	fs := &f.mp.fs
	dev := fs.dev
	bsize := uint64(fs.sb.BlockSize())
	iblock := f.pos / bsize

	// leading partial block
	if u := f.pos % bsize; u != 0 {
		ll := min(uint64(len(p)), bsize-u)
		if err := f.readPartial(ref, iblock, u, p[:ll]); err != nil {
			return n, err
		}
		n += int(ll)
		f.pos += ll
		p = p[ll:]
		iblock++
	}

	// whole blocks, one direct transfer per run of contiguous blocks
	for uint64(len(p)) >= bsize {
		start, count, err := runOf(ref, iblock, uint64(len(p))/bsize)
		if err != nil {
			return n, err
		}
		buf := p[:count*bsize]
		if start == 0 {
			clear(buf)
		} else if err := dev.GetDirect(buf, start, uint32(count)); err != nil {
			return n, err
		}
		n += len(buf)
		f.pos += uint64(len(buf))
		p = p[len(buf):]
		iblock += count
	}

	// trailing partial block
	if len(p) > 0 {
		if err := f.readPartial(ref, iblock, 0, p); err != nil {
			return n, err
		}
		n += len(p)
		f.pos += uint64(len(p))
	}
	return n, nil
}

func (f *File) readPartial(ref *inode.Ref, iblock, off uint64, p []byte) error {
	fblock, err := ref.DataBlock(iblock)
	if err != nil {
		return err
	}
	if fblock == 0 {
		clear(p)
		return nil
	}
	dev := f.mp.fs.dev
	b, err := dev.Get(fblock)
	if err != nil {
		return err
	}
	copy(p, b.Data[off:])
	return dev.Set(b)
}

// runOf maps up to limit file blocks starting at iblock and returns the
// longest prefix that is contiguous on disk. A hole is returned as a run of
// one block starting at 0.
func runOf(ref *inode.Ref, iblock, limit uint64) (uint64, uint64, error) {
	start, err := ref.DataBlock(iblock)
	if err != nil || start == 0 {
		return 0, 1, err
	}
	count := uint64(1)
	for count < limit {
		next, err := ref.DataBlock(iblock + count)
		if err != nil {
			return 0, 0, err
		}
		if next != start+count {
			break
		}
		count++
	}
	return start, count, nil
}

// Write writes p at the current position, or at the end of the file in
// append mode. Blocks past the end are allocated as needed and the file
// grows to cover the last byte written.
func (f *File) Write(p []byte) (n int, err error) {
	if f.mp == nil {
		return 0, errClosed
	}
	if !canWrite(f.flags) {
		return 0, fmt.Errorf("fs: file not open for writing: %w", common.EPERM)
	}
	if err := f.mp.writable(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}

	f.mp.lock()
	defer f.mp.unlock()
	ref, err := f.load()
	if err != nil {
		return 0, err
	}
	defer func() {
		if perr := ref.Put(); err == nil {
			err = perr
		}
	}()
	if f.flags&O_APPEND != 0 {
		f.pos = f.size
	}

	fs := &f.mp.fs
	dev := fs.dev
	bsize := uint64(fs.sb.BlockSize())
	oldSize := f.size
	fileBlocks := (oldSize + bsize - 1) / bsize
	iblock := f.pos / bsize

	dev.CacheWriteBack(true)
	defer func() {
		// appending moves the inode size to a block boundary, put it
		// back on the last byte actually written. Blocks appended past
		// that byte by a failed write are freed again.
		size := max(oldSize, f.pos)
		if cur := ref.Inode.Size(); cur > size {
			if terr := ref.Truncate(size); err == nil {
				err = terr
			}
		} else if cur < size {
			ref.Inode.SetSize(size)
			ref.MarkDirty()
		}
		f.size = ref.Inode.Size()
		if werr := dev.CacheWriteBack(false); err == nil {
			err = werr
		}
	}()

	// blockFor maps iblock, extending the file when it lies past the end.
	blockFor := func(iblock uint64) (uint64, bool, error) {
		if iblock >= fileBlocks {
			fblock, _, err := ref.AppendBlock()
			return fblock, true, err
		}
		fblock, err := ref.DataBlock(iblock)
		if err == nil && fblock == 0 {
			fblock, err = ref.AllocDataBlock(iblock)
			return fblock, true, err
		}
		return fblock, false, err
	}

	// leading partial block, always inside the file
	if u := f.pos % bsize; u != 0 {
		ll := min(uint64(len(p)), bsize-u)
		if err := f.writePartial(blockFor, iblock, u, p[:ll]); err != nil {
			return n, err
		}
		n += int(ll)
		f.pos += ll
		p = p[ll:]
		iblock++
	}

	// whole blocks, coalesced into direct transfers
	var runStart, runCount uint64
	flush := func() error {
		if runCount == 0 {
			return nil
		}
		buf := p[:runCount*bsize]
		if err := dev.SetDirect(buf, runStart, uint32(runCount)); err != nil {
			return err
		}
		n += len(buf)
		f.pos += uint64(len(buf))
		p = p[len(buf):]
		runCount = 0
		return nil
	}
	for whole := uint64(len(p)) / bsize; whole > 0; whole-- {
		fblock, _, err := blockFor(iblock)
		if err != nil {
			return n, errors.Join(err, flush())
		}
		if runCount > 0 && fblock != runStart+runCount {
			if err := flush(); err != nil {
				return n, err
			}
		}
		if runCount == 0 {
			runStart = fblock
		}
		runCount++
		iblock++
	}
	if err := flush(); err != nil {
		return n, err
	}

	// trailing partial block
	if len(p) > 0 {
		if err := f.writePartial(blockFor, iblock, 0, p); err != nil {
			return n, err
		}
		n += len(p)
		f.pos += uint64(len(p))
	}
	return n, nil
}

func (f *File) writePartial(blockFor func(uint64) (uint64, bool, error), iblock, off uint64, p []byte) error {
	fblock, fresh, err := blockFor(iblock)
	if err != nil {
		return err
	}
	dev := f.mp.fs.dev
	get := dev.Get
	if fresh {
		get = dev.GetNoRead
	}
	b, err := get(fblock)
	if err != nil {
		return err
	}
	if fresh {
		// may still hold a freed block's old contents
		clear(b.Data)
	}
	copy(b.Data[off:], p)
	b.MarkDirty()
	return dev.Set(b)
}
