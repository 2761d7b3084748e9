package device

import (
	"fmt"
	"os"

	"github.com/jnwhiteh/ext4fs/common"
)

// File is a driver backed by a disk image. The file is opened by Open and
// its size determines the block count.
type File struct {
	filename string
	bsize    uint32
	readOnly bool

	file   *os.File
	blocks uint64
}

var _ common.Driver = (*File)(nil)

// NewFile creates a driver for the image at filename. The image is not
// opened until Open is called, but its size is read now so that the block
// count is known.
func NewFile(filename string, bsize uint32, readOnly bool) (*File, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}
	return &File{
		filename: filename,
		bsize:    bsize,
		readOnly: readOnly,
		blocks:   uint64(info.Size()) / uint64(bsize),
	}, nil
}

func (f *File) Open() error {
	if f.file != nil {
		return nil
	}
	flag := os.O_RDWR
	if f.readOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(f.filename, flag, 0)
	if err != nil {
		return fmt.Errorf("device: open %s: %w", f.filename, err)
	}
	f.file = file
	return nil
}

func (f *File) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *File) ReadBlocks(buf []byte, lba uint64, count uint32) error {
	if f.file == nil {
		return common.EIO
	}
	if err := checkRange(buf, f.bsize, f.blocks, lba, count); err != nil {
		return err
	}
	n := int(count) * int(f.bsize)
	if _, err := f.file.ReadAt(buf[:n], int64(lba)*int64(f.bsize)); err != nil {
		return fmt.Errorf("device: read block %d: %w", lba, err)
	}
	return nil
}

func (f *File) WriteBlocks(buf []byte, lba uint64, count uint32) error {
	if f.file == nil {
		return common.EIO
	}
	if f.readOnly {
		return common.EPERM
	}
	if err := checkRange(buf, f.bsize, f.blocks, lba, count); err != nil {
		return err
	}
	n := int(count) * int(f.bsize)
	if _, err := f.file.WriteAt(buf[:n], int64(lba)*int64(f.bsize)); err != nil {
		return fmt.Errorf("device: write block %d: %w", lba, err)
	}
	return nil
}

func (f *File) BlockSize() uint32  { return f.bsize }
func (f *File) BlockCount() uint64 { return f.blocks }
