package common

// Driver is the physical block device. Block numbers and counts are in units
// of the driver's own block size. Implementations are used from a single
// goroutine at a time.
type Driver interface {
	Open() error
	ReadBlocks(buf []byte, lba uint64, count uint32) error
	WriteBlocks(buf []byte, lba uint64, count uint32) error
	Close() error

	BlockSize() uint32  // physical block size in bytes
	BlockCount() uint64 // number of physical blocks
}
