package alloctbl

import "encoding/binary"

// GroupDesc is a block group descriptor. The high halves are only present
// on disk when descriptors are 64 bytes long.
type GroupDesc struct {
	BlockBitmap     uint64
	InodeBitmap     uint64
	InodeTable      uint64
	FreeBlocksCount uint32
	FreeInodesCount uint32
	UsedDirsCount   uint32
	Flags           uint16
	ItableUnused    uint32
	Checksum        uint16
}

// DecodeGroupDesc parses a descriptor of size bytes (32 or 64).
func DecodeGroupDesc(b []byte, size uint32) *GroupDesc {
	le := binary.LittleEndian
	gd := &GroupDesc{
		BlockBitmap:     uint64(le.Uint32(b[0x00:])),
		InodeBitmap:     uint64(le.Uint32(b[0x04:])),
		InodeTable:      uint64(le.Uint32(b[0x08:])),
		FreeBlocksCount: uint32(le.Uint16(b[0x0C:])),
		FreeInodesCount: uint32(le.Uint16(b[0x0E:])),
		UsedDirsCount:   uint32(le.Uint16(b[0x10:])),
		Flags:           le.Uint16(b[0x12:]),
		ItableUnused:    uint32(le.Uint16(b[0x1C:])),
		Checksum:        le.Uint16(b[0x1E:]),
	}
	if size >= 64 {
		gd.BlockBitmap |= uint64(le.Uint32(b[0x20:])) << 32
		gd.InodeBitmap |= uint64(le.Uint32(b[0x24:])) << 32
		gd.InodeTable |= uint64(le.Uint32(b[0x28:])) << 32
		gd.FreeBlocksCount |= uint32(le.Uint16(b[0x2C:])) << 16
		gd.FreeInodesCount |= uint32(le.Uint16(b[0x2E:])) << 16
		gd.UsedDirsCount |= uint32(le.Uint16(b[0x30:])) << 16
		gd.ItableUnused |= uint32(le.Uint16(b[0x32:])) << 16
	}
	return gd
}

// Encode writes the descriptor into b, which must hold size bytes. Bytes
// not covered by a field are left alone.
func (gd *GroupDesc) Encode(b []byte, size uint32) {
	le := binary.LittleEndian
	le.PutUint32(b[0x00:], uint32(gd.BlockBitmap))
	le.PutUint32(b[0x04:], uint32(gd.InodeBitmap))
	le.PutUint32(b[0x08:], uint32(gd.InodeTable))
	le.PutUint16(b[0x0C:], uint16(gd.FreeBlocksCount))
	le.PutUint16(b[0x0E:], uint16(gd.FreeInodesCount))
	le.PutUint16(b[0x10:], uint16(gd.UsedDirsCount))
	le.PutUint16(b[0x12:], gd.Flags)
	le.PutUint16(b[0x1C:], uint16(gd.ItableUnused))
	le.PutUint16(b[0x1E:], gd.Checksum)
	if size >= 64 {
		le.PutUint32(b[0x20:], uint32(gd.BlockBitmap>>32))
		le.PutUint32(b[0x24:], uint32(gd.InodeBitmap>>32))
		le.PutUint32(b[0x28:], uint32(gd.InodeTable>>32))
		le.PutUint16(b[0x2C:], uint16(gd.FreeBlocksCount>>16))
		le.PutUint16(b[0x2E:], uint16(gd.FreeInodesCount>>16))
		le.PutUint16(b[0x30:], uint16(gd.UsedDirsCount>>16))
		le.PutUint16(b[0x32:], uint16(gd.ItableUnused>>16))
	}
}
