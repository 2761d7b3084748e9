package testutils

import (
	"errors"

	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/device"
)

//////////////////////////////////////////////////////////////////////////////
// A ramdisk device with a certain number of blocks with a given block size.
// Each block is filled with the bytes of the block number, so each byte in
// the first block contains a 0, the next block contains all 1, etc.
//////////////////////////////////////////////////////////////////////////////

func NewTestDevice(bsize uint32, blocks uint64) *device.Ramdisk {
	dev := device.NewRamdisk(bsize, blocks)
	data := dev.Bytes()
	for i := uint64(0); i < blocks; i++ {
		for j := uint64(0); j < uint64(bsize); j++ {
			data[i*uint64(bsize)+j] = byte(i)
		}
	}
	return dev
}

//////////////////////////////////////////////////////////////////////////////
// A device that counts transfers and can be told to fail them. Failures are
// requested per physical block number, or for every transfer once the
// matching Fail flag is set.
//////////////////////////////////////////////////////////////////////////////

var ErrInjected = errors.New("injected device failure")

type FaultyDevice struct {
	common.Driver

	FailReads  bool
	FailWrites bool
	BadBlocks  map[uint64]bool

	Reads, Writes int      // number of transfers issued
	Opens, Closes int      // number of Open and Close calls
	ReadLBAs      []uint64 // first block of every read transfer
	WriteLBAs     []uint64 // first block of every write transfer
}

func NewFaultyDevice(drv common.Driver) *FaultyDevice {
	return &FaultyDevice{Driver: drv, BadBlocks: make(map[uint64]bool)}
}

func (dev *FaultyDevice) hitsBad(lba uint64, count uint32) bool {
	for i := uint64(0); i < uint64(count); i++ {
		if dev.BadBlocks[lba+i] {
			return true
		}
	}
	return false
}

func (dev *FaultyDevice) Open() error {
	dev.Opens++
	return dev.Driver.Open()
}

func (dev *FaultyDevice) Close() error {
	dev.Closes++
	return dev.Driver.Close()
}

func (dev *FaultyDevice) ReadBlocks(buf []byte, lba uint64, count uint32) error {
	dev.Reads++
	dev.ReadLBAs = append(dev.ReadLBAs, lba)
	if dev.FailReads || dev.hitsBad(lba, count) {
		return ErrInjected
	}
	return dev.Driver.ReadBlocks(buf, lba, count)
}

func (dev *FaultyDevice) WriteBlocks(buf []byte, lba uint64, count uint32) error {
	dev.Writes++
	dev.WriteLBAs = append(dev.WriteLBAs, lba)
	if dev.FailWrites || dev.hitsBad(lba, count) {
		return ErrInjected
	}
	return dev.Driver.WriteBlocks(buf, lba, count)
}

// Reset clears the transfer counters.
func (dev *FaultyDevice) Reset() {
	dev.Reads, dev.Writes = 0, 0
	dev.ReadLBAs, dev.WriteLBAs = nil, nil
}
