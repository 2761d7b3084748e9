// Package mkfs writes an empty filesystem onto a block device. The result
// uses the classic ext2 layout (bitmaps and inode table in every group,
// sparse superblock backups, indirect block maps) and can be mounted by the
// fs package as well as by other ext2/ext4 implementations.
package mkfs

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jnwhiteh/ext4fs/bcache"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/internal/logger"
	"github.com/jnwhiteh/ext4fs/super"
)

const (
	bytesPerInode = 8192
	minBlocks     = 64
	reservedInos  = common.GOOD_OLD_FIRST_INO - 1
	zeroChunk     = 64 // blocks per zeroing transfer
	hashHalfMD4   = 1
	errorsCont    = 1
	dynamicRev    = 1
)

// Options control the geometry of the new filesystem. Zero values pick the
// defaults.
type Options struct {
	BlockSize      uint32 // 1024, 2048 or 4096; default 1024
	InodeSize      uint16 // 128 or 256; default 256
	InodesPerGroup uint32
	BlocksPerGroup uint32 // default 8 * BlockSize
	VolumeName     string
	DirIndex       bool // set the dir_index feature
	UUID           uuid.UUID
}

func (o *Options) setDefaults() error {
	if o.BlockSize == 0 {
		o.BlockSize = 1024
	}
	switch o.BlockSize {
	case 1024, 2048, 4096:
	default:
		return fmt.Errorf("mkfs: block size %d: %w", o.BlockSize, common.EINVAL)
	}
	if o.InodeSize == 0 {
		o.InodeSize = 256
	}
	if o.InodeSize != 128 && o.InodeSize != 256 {
		return fmt.Errorf("mkfs: inode size %d: %w", o.InodeSize, common.EINVAL)
	}
	if o.BlocksPerGroup == 0 {
		o.BlocksPerGroup = o.BlockSize * 8
	}
	if o.BlocksPerGroup > o.BlockSize*8 || o.BlocksPerGroup < 256 || o.BlocksPerGroup%8 != 0 {
		return fmt.Errorf("mkfs: %d blocks per group: %w", o.BlocksPerGroup, common.EINVAL)
	}
	if o.InodesPerGroup > o.BlockSize*8 {
		return fmt.Errorf("mkfs: %d inodes per group: %w", o.InodesPerGroup, common.EINVAL)
	}
	if len(o.VolumeName) > 16 {
		return fmt.Errorf("mkfs: volume name %q longer than 16 bytes: %w", o.VolumeName, common.EINVAL)
	}
	if o.UUID == uuid.Nil {
		o.UUID = uuid.New()
	}
	return nil
}

// geometry is the computed placement of every group.
type geometry struct {
	bsize     uint32
	blocks    uint64
	fdb       uint32
	bpg       uint32
	groups    uint32
	ipg       uint32
	itable    uint32 // inode table blocks per group
	gdtBlocks uint32
}

func (g *geometry) groupStart(bgid uint32) uint64 {
	return uint64(g.fdb) + uint64(bgid)*uint64(g.bpg)
}

func (g *geometry) groupEnd(bgid uint32) uint64 {
	return min(g.groupStart(bgid)+uint64(g.bpg), g.blocks)
}

func roundUp(n, m uint32) uint32 {
	return (n + m - 1) / m * m
}

// plan computes the geometry for a device of n blocks. Group counts are
// derived as ceil(blocks/bpg), so with a first data block of 1 the block
// count is trimmed to keep that in step with the groups actually laid out.
// A final group too small to hold its own metadata is dropped.
func plan(n uint64, o *Options, hasSuper func(uint32) bool) (*geometry, error) {
	g := &geometry{bsize: o.BlockSize, bpg: o.BlocksPerGroup, blocks: min(n, math.MaxUint32)}
	if g.bsize == 1024 {
		g.fdb = 1
	}
	ipb := g.bsize / uint32(o.InodeSize)
	for {
		if g.blocks < minBlocks {
			return nil, fmt.Errorf("mkfs: device of %d blocks is too small: %w", n, common.EINVAL)
		}
		if g.fdb == 1 && (g.blocks-1)%uint64(g.bpg) == 0 {
			g.blocks--
		}
		g.groups = uint32((g.blocks + uint64(g.bpg) - 1) / uint64(g.bpg))
		g.gdtBlocks = (g.groups*common.MIN_DESC_SIZE + g.bsize - 1) / g.bsize

		ipg := o.InodesPerGroup
		if ipg == 0 {
			total := g.blocks * uint64(g.bsize) / bytesPerInode
			ipg = uint32((total + uint64(g.groups) - 1) / uint64(g.groups))
		}
		ipg = max(roundUp(ipg, max(8, ipb)), 16)
		if ipg > g.bsize*8 {
			ipg = g.bsize * 8
		}
		g.ipg = ipg
		g.itable = ipg / ipb

		last := g.groups - 1
		overhead := uint64(2 + g.itable)
		if hasSuper(last) {
			overhead += uint64(1 + g.gdtBlocks)
		}
		if size := g.groupEnd(last) - g.groupStart(last); size > overhead {
			break
		}
		if last == 0 {
			return nil, fmt.Errorf("mkfs: device of %d blocks is too small: %w", n, common.EINVAL)
		}
		g.blocks = g.groupStart(last)
	}
	if uint64(g.ipg)*uint64(g.groups) > math.MaxUint32 {
		return nil, fmt.Errorf("mkfs: too many inodes: %w", common.EINVAL)
	}
	return g, nil
}

// Format writes a new filesystem over the whole of drv and returns its
// superblock. The device is opened and closed by Format.
func Format(name string, drv common.Driver, opts Options) (*super.Superblock, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}

	dev := blockdev.New(name, drv, nil)
	if err := dev.Init(); err != nil {
		return nil, err
	}
	defer dev.Fini()
	if err := dev.SetLogicalBlockSize(opts.BlockSize); err != nil {
		return nil, err
	}

	sb, err := super.Decode(make([]byte, common.SUPERBLOCK_SIZE))
	if err != nil {
		return nil, err
	}
	sb.FeatureROCompat = common.FEATURE_RO_COMPAT_SPARSE_SUPER | common.FEATURE_RO_COMPAT_LARGE_FILE
	geo, err := plan(dev.BlockCount(), &opts, sb.HasSuper)
	if err != nil {
		return nil, err
	}
	fillSuper(sb, geo, &opts)

	logger.WithFields(map[string]any{
		"device":     name,
		"blocks":     geo.blocks,
		"block_size": geo.bsize,
		"groups":     geo.groups,
		"inodes":     sb.InodesCount,
	}).Info("formatting")

	f := &formatter{dev: dev, sb: sb, geo: geo}
	if err := f.writeGroups(); err != nil {
		return nil, err
	}

	if err := dev.BindCache(bcache.New(geo.bsize, 16, nil)); err != nil {
		return nil, err
	}
	defer dev.UnbindCache()

	if err := f.makeRoot(); err != nil {
		return nil, err
	}
	if err := sb.Write(dev); err != nil {
		return nil, err
	}
	return sb, dev.Flush()
}

func fillSuper(sb *super.Superblock, geo *geometry, o *Options) {
	now := uint32(time.Now().Unix())
	sb.InodesCount = geo.ipg * geo.groups
	sb.FreeInodesCount = sb.InodesCount - reservedInos
	sb.BlocksCountLo = uint32(geo.blocks)
	sb.FirstDataBlock = geo.fdb
	for sb.BlockSize() < geo.bsize {
		sb.LogBlockSize++
	}
	sb.LogClusterSize = sb.LogBlockSize
	sb.BlocksPerGroup = geo.bpg
	sb.ClustersPerGroup = geo.bpg
	sb.InodesPerGroup = geo.ipg
	sb.WTime = now
	sb.MaxMntCount = 0xFFFF
	sb.Magic = common.SUPER_MAGIC
	sb.State = common.STATE_VALID
	sb.Errors = errorsCont
	sb.LastCheck = now
	sb.RevLevel = dynamicRev
	sb.FirstIno = common.GOOD_OLD_FIRST_INO
	sb.InodeSize = o.InodeSize
	sb.FeatureIncompat = common.FEATURE_INCOMPAT_FILETYPE
	if o.DirIndex {
		sb.FeatureCompat |= common.FEATURE_COMPAT_DIR_INDEX
		sb.DefHashVersion = hashHalfMD4
	}
	if o.InodeSize > common.GOOD_OLD_INODE_SIZE {
		sb.MinExtraIsize = 32
		sb.WantExtraIsize = 32
	}
	copy(sb.UUID[:], o.UUID[:])
	copy(sb.VolumeName[:], o.VolumeName)
	seed := uuid.New()
	for i := range sb.HashSeed {
		sb.HashSeed[i] = binary.LittleEndian.Uint32(seed[4*i:])
	}
	sb.MkfsTime = now
}
