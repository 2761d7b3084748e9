// Package inode loads, modifies and stores on-disk inodes and maps file
// blocks to device blocks through the direct and indirect block pointers.
package inode

import (
	"encoding/binary"

	"github.com/jnwhiteh/ext4fs/common"
)

// Record is an on-disk inode. Only the first 128 bytes are decoded; the
// rest of the slot is preserved as is.
type Record struct {
	Mode       uint16
	UID        uint16
	SizeLo     uint32
	ATime      uint32
	CTime      uint32
	MTime      uint32
	DTime      uint32
	GID        uint16
	LinksCount uint16
	BlocksLo   uint32 // in 512-byte units
	Flags      uint32
	Block      [common.N_BLOCKS]uint32
	Generation uint32
	FileACLLo  uint32
	SizeHi     uint32
	BlocksHi   uint16
	FileACLHi  uint16
	UIDHi      uint16
	GIDHi      uint16
	ExtraIsize uint16

	raw []byte
}

// Decode parses an inode slot of len(b) bytes.
func Decode(b []byte) *Record {
	le := binary.LittleEndian
	r := &Record{raw: append([]byte(nil), b...)}
	r.Mode = le.Uint16(b[0x00:])
	r.UID = le.Uint16(b[0x02:])
	r.SizeLo = le.Uint32(b[0x04:])
	r.ATime = le.Uint32(b[0x08:])
	r.CTime = le.Uint32(b[0x0C:])
	r.MTime = le.Uint32(b[0x10:])
	r.DTime = le.Uint32(b[0x14:])
	r.GID = le.Uint16(b[0x18:])
	r.LinksCount = le.Uint16(b[0x1A:])
	r.BlocksLo = le.Uint32(b[0x1C:])
	r.Flags = le.Uint32(b[0x20:])
	for i := range r.Block {
		r.Block[i] = le.Uint32(b[0x28+4*i:])
	}
	r.Generation = le.Uint32(b[0x64:])
	r.FileACLLo = le.Uint32(b[0x68:])
	r.SizeHi = le.Uint32(b[0x6C:])
	r.BlocksHi = le.Uint16(b[0x74:])
	r.FileACLHi = le.Uint16(b[0x76:])
	r.UIDHi = le.Uint16(b[0x78:])
	r.GIDHi = le.Uint16(b[0x7A:])
	if len(b) >= 0x82 {
		r.ExtraIsize = le.Uint16(b[0x80:])
	}
	return r
}

// Encode writes the record into b, which must be as long as the slot it
// was decoded from.
func (r *Record) Encode(b []byte) {
	copy(b, r.raw)
	le := binary.LittleEndian
	le.PutUint16(b[0x00:], r.Mode)
	le.PutUint16(b[0x02:], r.UID)
	le.PutUint32(b[0x04:], r.SizeLo)
	le.PutUint32(b[0x08:], r.ATime)
	le.PutUint32(b[0x0C:], r.CTime)
	le.PutUint32(b[0x10:], r.MTime)
	le.PutUint32(b[0x14:], r.DTime)
	le.PutUint16(b[0x18:], r.GID)
	le.PutUint16(b[0x1A:], r.LinksCount)
	le.PutUint32(b[0x1C:], r.BlocksLo)
	le.PutUint32(b[0x20:], r.Flags)
	for i, blk := range r.Block {
		le.PutUint32(b[0x28+4*i:], blk)
	}
	le.PutUint32(b[0x64:], r.Generation)
	le.PutUint32(b[0x68:], r.FileACLLo)
	le.PutUint32(b[0x6C:], r.SizeHi)
	le.PutUint16(b[0x74:], r.BlocksHi)
	le.PutUint16(b[0x76:], r.FileACLHi)
	le.PutUint16(b[0x78:], r.UIDHi)
	le.PutUint16(b[0x7A:], r.GIDHi)
	if len(b) >= 0x82 {
		le.PutUint16(b[0x80:], r.ExtraIsize)
	}
	copy(r.raw, b)
}

// Reset clears every field and the preserved slot bytes.
func (r *Record) Reset() {
	raw := r.raw
	clear(raw)
	*r = Record{raw: raw}
}

func (r *Record) Type() uint16 { return r.Mode & common.S_IFMT }
func (r *Record) IsDir() bool { return r.Type() == common.S_IFDIR }
func (r *Record) IsRegular() bool { return r.Type() == common.S_IFREG }
func (r *Record) IsSymlink() bool { return r.Type() == common.S_IFLNK }

func (r *Record) Size() uint64 {
	return uint64(r.SizeLo) | uint64(r.SizeHi)<<32
}

func (r *Record) SetSize(n uint64) {
	r.SizeLo = uint32(n)
	r.SizeHi = uint32(n >> 32)
}

// Blocks is the i_blocks count in 512-byte sectors.
func (r *Record) Blocks() uint64 {
	return uint64(r.BlocksLo) | uint64(r.BlocksHi)<<32
}

func (r *Record) SetBlocks(n uint64) {
	r.BlocksLo = uint32(n)
	r.BlocksHi = uint16(n >> 32)
}

func (r *Record) FileACL() uint64 {
	return uint64(r.FileACLLo) | uint64(r.FileACLHi)<<32
}

// IsFastSymlink reports a symlink whose target is stored in Block.
func (r *Record) IsFastSymlink() bool {
	return r.IsSymlink() && r.Blocks() == 0 && r.Size() < 4*common.N_BLOCKS
}

// DirEntryType maps the inode type to a directory entry file type.
func (r *Record) DirEntryType() uint8 {
	switch r.Type() {
	case common.S_IFREG:
		return common.FT_REG_FILE
	case common.S_IFDIR:
		return common.FT_DIR
	case common.S_IFCHR:
		return common.FT_CHRDEV
	case common.S_IFBLK:
		return common.FT_BLKDEV
	case common.S_IFIFO:
		return common.FT_FIFO
	case common.S_IFSOCK:
		return common.FT_SOCK
	case common.S_IFLNK:
		return common.FT_SYMLINK
	}
	return common.FT_UNKNOWN
}
