package super

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/device"
	"github.com/jnwhiteh/ext4fs/testutils"
)

func validSuperblock() *Superblock {
	return &Superblock{
		Magic:          common.SUPER_MAGIC,
		InodesCount:    128,
		BlocksCountLo:  2048,
		BlocksPerGroup: 1024,
		InodesPerGroup: 64,
		InodeSize:      128,
		FirstIno:       11,
	}
}

func TestCheck(test *testing.T) {
	sb := validSuperblock()
	if !sb.Check() {
		testutils.FatalHere(test, "Valid superblock rejected: %s", sb.Validate())
	}
	if n := sb.BlockGroupCount(); n != 2 {
		testutils.ErrorHere(test, "Group count mismatch expected 2, got %d", n)
	}

	sb.Magic = 0
	if sb.Check() {
		testutils.ErrorHere(test, "Superblock with zero magic accepted")
	}
}

func TestValidateRules(test *testing.T) {
	cases := []struct {
		name   string
		mutate func(sb *Superblock)
	}{
		{"magic", func(sb *Superblock) { sb.Magic = 0x1234 }},
		{"inodes", func(sb *Superblock) { sb.InodesCount = 0 }},
		{"blocks", func(sb *Superblock) { sb.BlocksCountLo = 0 }},
		{"blocks per group", func(sb *Superblock) { sb.BlocksPerGroup = 0 }},
		{"inodes per group", func(sb *Superblock) { sb.InodesPerGroup = 0 }},
		{"inode size", func(sb *Superblock) { sb.InodeSize = 64 }},
		{"first inode", func(sb *Superblock) { sb.FirstIno = 10 }},
		{"small descriptor", func(sb *Superblock) { sb.DescSizeRaw = 16 }},
		{"large descriptor", func(sb *Superblock) { sb.DescSizeRaw = 128 }},
		{"inodes short of groups", func(sb *Superblock) { sb.InodesCount = 64 }},
		{"inodes beyond groups", func(sb *Superblock) { sb.InodesCount = 129 }},
	}
	for _, c := range cases {
		sb := validSuperblock()
		c.mutate(sb)
		err := sb.Validate()
		if !errors.Is(err, common.EINVAL) {
			testutils.ErrorHere(test, "%s: expected EINVAL, got %v", c.name, err)
		}
	}

	sb := validSuperblock()
	sb.DescSizeRaw = 64
	if err := sb.Validate(); err != nil {
		testutils.ErrorHere(test, "64-byte descriptors rejected: %s", err)
	}
}

func TestGroupArithmetic(test *testing.T) {
	sb := validSuperblock()
	sb.BlocksCountLo = 2500
	sb.InodesCount = 150

	if n := sb.BlockGroupCount(); n != 3 {
		testutils.FatalHere(test, "Group count mismatch expected 3, got %d", n)
	}
	got := []uint32{sb.BlocksInGroup(0), sb.BlocksInGroup(1), sb.BlocksInGroup(2)}
	if diff := cmp.Diff([]uint32{1024, 1024, 452}, got); diff != "" {
		testutils.ErrorHere(test, "Blocks per group mismatch (-want +got):\n%s", diff)
	}
	got = []uint32{sb.InodesInGroup(0), sb.InodesInGroup(1), sb.InodesInGroup(2)}
	if diff := cmp.Diff([]uint32{64, 64, 22}, got); diff != "" {
		testutils.ErrorHere(test, "Inodes per group mismatch (-want +got):\n%s", diff)
	}
}

func TestSizes(test *testing.T) {
	sb := validSuperblock()
	sb.LogBlockSize = 2
	if sb.BlockSize() != 4096 {
		testutils.ErrorHere(test, "Block size mismatch expected 4096, got %d", sb.BlockSize())
	}

	sb.DescSizeRaw = 64
	if sb.DescSize() != 32 {
		testutils.ErrorHere(test, "Descriptor size without 64bit expected 32, got %d", sb.DescSize())
	}
	sb.FeatureIncompat |= common.FEATURE_INCOMPAT_64BIT
	if sb.DescSize() != 64 {
		testutils.ErrorHere(test, "Descriptor size with 64bit expected 64, got %d", sb.DescSize())
	}

	sb.BlocksCountHi = 1
	sb.SetFreeBlocksCount(1<<32 + 5)
	if sb.BlocksCount() != 1<<32+2048 || sb.FreeBlocksCount() != 1<<32+5 {
		testutils.ErrorHere(test, "64-bit counts mismatch: %d %d", sb.BlocksCount(), sb.FreeBlocksCount())
	}
}

func TestHasSuper(test *testing.T) {
	sb := validSuperblock()
	sb.FeatureROCompat = common.FEATURE_RO_COMPAT_SPARSE_SUPER

	var with []uint32
	for g := uint32(0); g < 30; g++ {
		if sb.HasSuper(g) {
			with = append(with, g)
		}
	}
	if diff := cmp.Diff([]uint32{0, 1, 3, 5, 7, 9, 25, 27}, with); diff != "" {
		testutils.ErrorHere(test, "Backup groups mismatch (-want +got):\n%s", diff)
	}

	sb.FeatureROCompat = 0
	if !sb.HasSuper(4) {
		testutils.ErrorHere(test, "Every group has a backup without sparse_super")
	}
}

func TestEncodeKeepsUnknownFields(test *testing.T) {
	buf := make([]byte, common.SUPERBLOCK_SIZE)
	copy(buf, validSuperblock().Encode())
	buf[0x300] = 0x5A // outside any modelled field

	sb, err := Decode(buf)
	if err != nil {
		testutils.FatalHere(test, "Decode failed: %s", err)
	}
	copy(sb.VolumeName[:], "scratch")
	out := sb.Encode()

	if out[0x300] != 0x5A {
		testutils.ErrorHere(test, "Unknown field lost on encode")
	}
	if sb.VolumeLabel() != "scratch" {
		testutils.ErrorHere(test, "Volume label mismatch, got %q", sb.VolumeLabel())
	}

	again, err := Decode(out)
	if err != nil {
		testutils.FatalHere(test, "Decode failed: %s", err)
	}
	if diff := cmp.Diff(sb, again, cmpopts.IgnoreUnexported(Superblock{})); diff != "" {
		testutils.ErrorHere(test, "Round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestReadWrite(test *testing.T) {
	dev := blockdev.New("ram", device.NewRamdisk(512, 16), nil)
	if err := dev.Init(); err != nil {
		testutils.FatalHere(test, "Init failed: %s", err)
	}

	sb := validSuperblock()
	sb.MntCount = 3
	if err := sb.Write(dev); err != nil {
		testutils.FatalHere(test, "Write failed: %s", err)
	}

	got, err := Read(dev)
	if err != nil {
		testutils.FatalHere(test, "Read failed: %s", err)
	}
	if !got.Check() || got.MntCount != 3 {
		testutils.ErrorHere(test, "Superblock did not survive the device: %+v", got)
	}

	if _, err := Decode(make([]byte, 10)); !errors.Is(err, common.EINVAL) {
		testutils.ErrorHere(test, "Short buffer expected EINVAL, got %v", err)
	}
}
