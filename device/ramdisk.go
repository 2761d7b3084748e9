package device

import (
	"fmt"

	"github.com/jnwhiteh/ext4fs/common"
)

// Ramdisk is a memory-backed driver.
type Ramdisk struct {
	data   []byte
	bsize  uint32
	blocks uint64
	open   bool
}

var _ common.Driver = (*Ramdisk)(nil)

// NewRamdisk allocates a zero-filled ramdisk of blocks blocks.
func NewRamdisk(bsize uint32, blocks uint64) *Ramdisk {
	return &Ramdisk{
		data:   make([]byte, uint64(bsize)*blocks),
		bsize:  bsize,
		blocks: blocks,
	}
}

// NewRamdiskFromBytes wraps data without copying it. Trailing bytes that do
// not fill a whole block are not addressable.
func NewRamdiskFromBytes(data []byte, bsize uint32) *Ramdisk {
	return &Ramdisk{
		data:   data,
		bsize:  bsize,
		blocks: uint64(len(data)) / uint64(bsize),
	}
}

func (r *Ramdisk) Open() error {
	r.open = true
	return nil
}

func (r *Ramdisk) Close() error {
	r.open = false
	return nil
}

func (r *Ramdisk) ReadBlocks(buf []byte, lba uint64, count uint32) error {
	if err := checkRange(buf, r.bsize, r.blocks, lba, count); err != nil {
		return err
	}
	off := lba * uint64(r.bsize)
	n := uint64(count) * uint64(r.bsize)
	copy(buf[:n], r.data[off:off+n])
	return nil
}

func (r *Ramdisk) WriteBlocks(buf []byte, lba uint64, count uint32) error {
	if err := checkRange(buf, r.bsize, r.blocks, lba, count); err != nil {
		return err
	}
	off := lba * uint64(r.bsize)
	n := uint64(count) * uint64(r.bsize)
	copy(r.data[off:off+n], buf[:n])
	return nil
}

func (r *Ramdisk) BlockSize() uint32  { return r.bsize }
func (r *Ramdisk) BlockCount() uint64 { return r.blocks }

// Bytes exposes the backing store.
func (r *Ramdisk) Bytes() []byte { return r.data }

func (r *Ramdisk) String() string {
	return fmt.Sprintf("ramdisk(%dx%d)", r.blocks, r.bsize)
}
