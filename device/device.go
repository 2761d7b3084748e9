// Package device provides reference block drivers: a ramdisk, an image file
// and a badger key-value store. Each implements common.Driver.
package device

import (
	"fmt"

	"github.com/jnwhiteh/ext4fs/common"
)

// checkRange validates a transfer of count blocks at lba against a device
// with the given geometry and buffer.
func checkRange(buf []byte, bsize uint32, blocks, lba uint64, count uint32) error {
	if lba+uint64(count) > blocks || lba+uint64(count) < lba {
		return fmt.Errorf("device: blocks %d+%d beyond end %d: %w", lba, count, blocks, common.EINVAL)
	}
	if uint64(len(buf)) < uint64(count)*uint64(bsize) {
		return fmt.Errorf("device: buffer of %d bytes too small for %d blocks: %w", len(buf), count, common.EINVAL)
	}
	return nil
}
