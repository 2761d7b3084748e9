// Package super reads, validates and writes the ext2/ext4 superblock and
// answers the block group geometry questions derived from it.
package super

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/jnwhiteh/ext4fs/common"
)

// Superblock holds the decoded fields this implementation uses. The raw
// on-disk image is kept alongside so that fields it does not model are
// written back unchanged.
type Superblock struct {
	InodesCount       uint32
	BlocksCountLo     uint32
	RBlocksCountLo    uint32
	FreeBlocksCountLo uint32
	FreeInodesCount   uint32
	FirstDataBlock    uint32
	LogBlockSize      uint32
	LogClusterSize    uint32
	BlocksPerGroup    uint32
	ClustersPerGroup  uint32
	InodesPerGroup    uint32
	MTime             uint32
	WTime             uint32
	MntCount          uint16
	MaxMntCount       uint16
	Magic             uint16
	State             uint16
	Errors            uint16
	MinorRevLevel     uint16
	LastCheck         uint32
	CheckInterval     uint32
	CreatorOS         uint32
	RevLevel          uint32
	DefResUID         uint16
	DefResGID         uint16
	FirstIno          uint32
	InodeSize         uint16
	BlockGroupNr      uint16
	FeatureCompat     uint32
	FeatureIncompat   uint32
	FeatureROCompat   uint32
	UUID              [16]byte
	VolumeName        [16]byte
	LastMounted       [64]byte
	ReservedGDTBlocks uint16
	HashSeed          [4]uint32
	DefHashVersion    uint8
	DescSizeRaw       uint16
	MkfsTime          uint32
	BlocksCountHi     uint32
	RBlocksCountHi    uint32
	FreeBlocksCountHi uint32
	MinExtraIsize     uint16
	WantExtraIsize    uint16

	raw [common.SUPERBLOCK_SIZE]byte
}

// Decode parses a superblock image. buf must hold at least SUPERBLOCK_SIZE
// bytes.
func Decode(buf []byte) (*Superblock, error) {
	if len(buf) < common.SUPERBLOCK_SIZE {
		return nil, fmt.Errorf("super: short buffer of %d bytes: %w", len(buf), common.EINVAL)
	}
	sb := new(Superblock)
	copy(sb.raw[:], buf)

	le := binary.LittleEndian
	b := sb.raw[:]
	sb.InodesCount = le.Uint32(b[0x00:])
	sb.BlocksCountLo = le.Uint32(b[0x04:])
	sb.RBlocksCountLo = le.Uint32(b[0x08:])
	sb.FreeBlocksCountLo = le.Uint32(b[0x0C:])
	sb.FreeInodesCount = le.Uint32(b[0x10:])
	sb.FirstDataBlock = le.Uint32(b[0x14:])
	sb.LogBlockSize = le.Uint32(b[0x18:])
	sb.LogClusterSize = le.Uint32(b[0x1C:])
	sb.BlocksPerGroup = le.Uint32(b[0x20:])
	sb.ClustersPerGroup = le.Uint32(b[0x24:])
	sb.InodesPerGroup = le.Uint32(b[0x28:])
	sb.MTime = le.Uint32(b[0x2C:])
	sb.WTime = le.Uint32(b[0x30:])
	sb.MntCount = le.Uint16(b[0x34:])
	sb.MaxMntCount = le.Uint16(b[0x36:])
	sb.Magic = le.Uint16(b[0x38:])
	sb.State = le.Uint16(b[0x3A:])
	sb.Errors = le.Uint16(b[0x3C:])
	sb.MinorRevLevel = le.Uint16(b[0x3E:])
	sb.LastCheck = le.Uint32(b[0x40:])
	sb.CheckInterval = le.Uint32(b[0x44:])
	sb.CreatorOS = le.Uint32(b[0x48:])
	sb.RevLevel = le.Uint32(b[0x4C:])
	sb.DefResUID = le.Uint16(b[0x50:])
	sb.DefResGID = le.Uint16(b[0x52:])
	sb.FirstIno = le.Uint32(b[0x54:])
	sb.InodeSize = le.Uint16(b[0x58:])
	sb.BlockGroupNr = le.Uint16(b[0x5A:])
	sb.FeatureCompat = le.Uint32(b[0x5C:])
	sb.FeatureIncompat = le.Uint32(b[0x60:])
	sb.FeatureROCompat = le.Uint32(b[0x64:])
	copy(sb.UUID[:], b[0x68:0x78])
	copy(sb.VolumeName[:], b[0x78:0x88])
	copy(sb.LastMounted[:], b[0x88:0xC8])
	sb.ReservedGDTBlocks = le.Uint16(b[0xCE:])
	for i := range sb.HashSeed {
		sb.HashSeed[i] = le.Uint32(b[0xEC+4*i:])
	}
	sb.DefHashVersion = b[0xFC]
	sb.DescSizeRaw = le.Uint16(b[0xFE:])
	sb.MkfsTime = le.Uint32(b[0x108:])
	sb.BlocksCountHi = le.Uint32(b[0x150:])
	sb.RBlocksCountHi = le.Uint32(b[0x154:])
	sb.FreeBlocksCountHi = le.Uint32(b[0x158:])
	sb.MinExtraIsize = le.Uint16(b[0x15C:])
	sb.WantExtraIsize = le.Uint16(b[0x15E:])
	return sb, nil
}

// Encode returns the on-disk image with the modelled fields applied.
func (sb *Superblock) Encode() []byte {
	out := make([]byte, common.SUPERBLOCK_SIZE)
	copy(out, sb.raw[:])

	le := binary.LittleEndian
	le.PutUint32(out[0x00:], sb.InodesCount)
	le.PutUint32(out[0x04:], sb.BlocksCountLo)
	le.PutUint32(out[0x08:], sb.RBlocksCountLo)
	le.PutUint32(out[0x0C:], sb.FreeBlocksCountLo)
	le.PutUint32(out[0x10:], sb.FreeInodesCount)
	le.PutUint32(out[0x14:], sb.FirstDataBlock)
	le.PutUint32(out[0x18:], sb.LogBlockSize)
	le.PutUint32(out[0x1C:], sb.LogClusterSize)
	le.PutUint32(out[0x20:], sb.BlocksPerGroup)
	le.PutUint32(out[0x24:], sb.ClustersPerGroup)
	le.PutUint32(out[0x28:], sb.InodesPerGroup)
	le.PutUint32(out[0x2C:], sb.MTime)
	le.PutUint32(out[0x30:], sb.WTime)
	le.PutUint16(out[0x34:], sb.MntCount)
	le.PutUint16(out[0x36:], sb.MaxMntCount)
	le.PutUint16(out[0x38:], sb.Magic)
	le.PutUint16(out[0x3A:], sb.State)
	le.PutUint16(out[0x3C:], sb.Errors)
	le.PutUint16(out[0x3E:], sb.MinorRevLevel)
	le.PutUint32(out[0x40:], sb.LastCheck)
	le.PutUint32(out[0x44:], sb.CheckInterval)
	le.PutUint32(out[0x48:], sb.CreatorOS)
	le.PutUint32(out[0x4C:], sb.RevLevel)
	le.PutUint16(out[0x50:], sb.DefResUID)
	le.PutUint16(out[0x52:], sb.DefResGID)
	le.PutUint32(out[0x54:], sb.FirstIno)
	le.PutUint16(out[0x58:], sb.InodeSize)
	le.PutUint16(out[0x5A:], sb.BlockGroupNr)
	le.PutUint32(out[0x5C:], sb.FeatureCompat)
	le.PutUint32(out[0x60:], sb.FeatureIncompat)
	le.PutUint32(out[0x64:], sb.FeatureROCompat)
	copy(out[0x68:0x78], sb.UUID[:])
	copy(out[0x78:0x88], sb.VolumeName[:])
	copy(out[0x88:0xC8], sb.LastMounted[:])
	le.PutUint16(out[0xCE:], sb.ReservedGDTBlocks)
	for i, v := range sb.HashSeed {
		le.PutUint32(out[0xEC+4*i:], v)
	}
	out[0xFC] = sb.DefHashVersion
	le.PutUint16(out[0xFE:], sb.DescSizeRaw)
	le.PutUint32(out[0x108:], sb.MkfsTime)
	le.PutUint32(out[0x150:], sb.BlocksCountHi)
	le.PutUint32(out[0x154:], sb.RBlocksCountHi)
	le.PutUint32(out[0x158:], sb.FreeBlocksCountHi)
	le.PutUint16(out[0x15C:], sb.MinExtraIsize)
	le.PutUint16(out[0x15E:], sb.WantExtraIsize)
	return out
}

// BlockDevice is the part of a block device used to move the superblock.
type BlockDevice interface {
	ReadBytes(off uint64, buf []byte) error
	WriteBytes(off uint64, buf []byte) error
}

// Read loads the primary superblock from dev.
func Read(dev BlockDevice) (*Superblock, error) {
	buf := make([]byte, common.SUPERBLOCK_SIZE)
	if err := dev.ReadBytes(common.SUPERBLOCK_OFFSET, buf); err != nil {
		return nil, err
	}
	return Decode(buf)
}

// Write stores sb as the primary superblock of dev.
func (sb *Superblock) Write(dev BlockDevice) error {
	buf := sb.Encode()
	if err := dev.WriteBytes(common.SUPERBLOCK_OFFSET, buf); err != nil {
		return err
	}
	copy(sb.raw[:], buf)
	return nil
}

// Validate checks the superblock and returns the first violated rule.
func (sb *Superblock) Validate() error {
	switch {
	case sb.Magic != common.SUPER_MAGIC:
		return invalid("bad magic 0x%04x", sb.Magic)
	case sb.InodesCount == 0:
		return invalid("no inodes")
	case sb.BlocksCount() == 0:
		return invalid("no blocks")
	case sb.BlocksPerGroup == 0:
		return invalid("zero blocks per group")
	case sb.InodesPerGroup == 0:
		return invalid("zero inodes per group")
	case sb.InodeSize < common.GOOD_OLD_INODE_SIZE:
		return invalid("inode size %d below %d", sb.InodeSize, common.GOOD_OLD_INODE_SIZE)
	case sb.FirstIno < common.GOOD_OLD_FIRST_INO:
		return invalid("first inode %d below %d", sb.FirstIno, common.GOOD_OLD_FIRST_INO)
	case sb.rawDescSize() < common.MIN_DESC_SIZE:
		return invalid("descriptor size %d below %d", sb.rawDescSize(), common.MIN_DESC_SIZE)
	case sb.rawDescSize() > common.MAX_DESC_SIZE:
		return invalid("descriptor size %d above %d", sb.rawDescSize(), common.MAX_DESC_SIZE)
	case sb.LogBlockSize > 6:
		return invalid("block size shift %d", sb.LogBlockSize)
	case !sb.inodesFitGroups():
		return invalid("%d inodes do not fill %d groups of %d",
			sb.InodesCount, sb.BlockGroupCount(), sb.InodesPerGroup)
	}
	return nil
}

// inodesFitGroups reports whether every group but the last holds a full
// set of inodes and the last holds at least one and at most a full set.
func (sb *Superblock) inodesFitGroups() bool {
	groups := uint64(sb.BlockGroupCount())
	ipg := uint64(sb.InodesPerGroup)
	n := uint64(sb.InodesCount)
	return n > (groups-1)*ipg && n <= groups*ipg
}

// Check reports whether the superblock passes Validate.
func (sb *Superblock) Check() bool {
	return sb.Validate() == nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("super: "+format+": %w", append(args, common.EINVAL)...)
}

func (sb *Superblock) rawDescSize() uint16 {
	if sb.DescSizeRaw == 0 {
		return common.MIN_DESC_SIZE
	}
	return sb.DescSizeRaw
}

// DescSize is the size of one group descriptor on disk.
func (sb *Superblock) DescSize() uint32 {
	if !sb.HasIncompat(common.FEATURE_INCOMPAT_64BIT) {
		return common.MIN_DESC_SIZE
	}
	return uint32(sb.rawDescSize())
}

func (sb *Superblock) BlockSize() uint32 {
	return common.MIN_BLOCK_SIZE << sb.LogBlockSize
}

func (sb *Superblock) BlocksCount() uint64 {
	n := uint64(sb.BlocksCountLo)
	if sb.HasIncompat(common.FEATURE_INCOMPAT_64BIT) {
		n |= uint64(sb.BlocksCountHi) << 32
	}
	return n
}

func (sb *Superblock) FreeBlocksCount() uint64 {
	n := uint64(sb.FreeBlocksCountLo)
	if sb.HasIncompat(common.FEATURE_INCOMPAT_64BIT) {
		n |= uint64(sb.FreeBlocksCountHi) << 32
	}
	return n
}

func (sb *Superblock) SetFreeBlocksCount(n uint64) {
	sb.FreeBlocksCountLo = uint32(n)
	if sb.HasIncompat(common.FEATURE_INCOMPAT_64BIT) {
		sb.FreeBlocksCountHi = uint32(n >> 32)
	}
}

// BlockGroupCount is ceil(blocks_count / blocks_per_group).
func (sb *Superblock) BlockGroupCount() uint32 {
	bpg := uint64(sb.BlocksPerGroup)
	cnt := sb.BlocksCount() / bpg
	if sb.BlocksCount()%bpg != 0 {
		cnt++
	}
	return uint32(cnt)
}

// BlocksInGroup is the number of blocks in group bgid. The final group
// holds whatever is left over.
func (sb *Superblock) BlocksInGroup(bgid uint32) uint32 {
	cnt := sb.BlockGroupCount()
	if bgid < cnt-1 {
		return sb.BlocksPerGroup
	}
	return uint32(sb.BlocksCount() - uint64(cnt-1)*uint64(sb.BlocksPerGroup))
}

// InodesInGroup is the number of inodes in group bgid, with the same
// special case for the final group.
func (sb *Superblock) InodesInGroup(bgid uint32) uint32 {
	cnt := sb.BlockGroupCount()
	if bgid < cnt-1 {
		return sb.InodesPerGroup
	}
	return sb.InodesCount - (cnt-1)*sb.InodesPerGroup
}

func (sb *Superblock) HasCompat(f uint32) bool   { return sb.FeatureCompat&f != 0 }
func (sb *Superblock) HasIncompat(f uint32) bool { return sb.FeatureIncompat&f != 0 }
func (sb *Superblock) HasROCompat(f uint32) bool { return sb.FeatureROCompat&f != 0 }

// UnsupportedIncompat returns the incompatible features that prevent
// mounting.
func (sb *Superblock) UnsupportedIncompat() uint32 {
	return sb.FeatureIncompat &^ common.SUPPORTED_INCOMPAT
}

// UnsupportedROCompat returns the read-only compatible features that force
// a read-only mount.
func (sb *Superblock) UnsupportedROCompat() uint32 {
	return sb.FeatureROCompat &^ common.SUPPORTED_RO_COMPAT
}

// VolumeLabel returns the volume name up to its first NUL.
func (sb *Superblock) VolumeLabel() string {
	if i := bytes.IndexByte(sb.VolumeName[:], 0); i >= 0 {
		return string(sb.VolumeName[:i])
	}
	return string(sb.VolumeName[:])
}

// HasSuper reports whether group bgid carries a superblock backup.
func (sb *Superblock) HasSuper(bgid uint32) bool {
	if !sb.HasROCompat(common.FEATURE_RO_COMPAT_SPARSE_SUPER) || bgid <= 1 {
		return true
	}
	for _, base := range []uint32{3, 5, 7} {
		n := base
		for n < bgid {
			n *= base
		}
		if n == bgid {
			return true
		}
	}
	return false
}
