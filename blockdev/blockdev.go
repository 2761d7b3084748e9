// Package blockdev layers logical blocks, a block cache and write-back
// control over a physical driver.
//
// A logical block is one or more physical blocks. Cached access goes through
// Get/Set, which hand out scoped Block handles; bulk transfers use
// GetDirect/SetDirect, and unaligned byte ranges ReadBytes/WriteBytes.
package blockdev

import (
	"fmt"

	"github.com/jnwhiteh/ext4fs/bcache"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/internal/logger"
)

// Metrics receives physical transfer events.
type Metrics interface {
	RecordTransfer(op string, bytes int, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordTransfer(string, int, error) {}

type Device struct {
	drv  common.Driver
	name string

	physSize  uint32
	physCount uint64
	lgSize    uint32
	lgCount   uint64
	ratio     uint64 // physical blocks per logical block

	cache     *bcache.Cache
	writeBack int // nesting counter, >0 defers write back

	readCount  uint64
	writeCount uint64

	initialized bool
	metrics     Metrics
}

// Block is a checked-out view of a cached logical block. It is valid until
// passed to Set; afterwards Data is nil.
type Block struct {
	LBA  uint64
	Data []byte

	dirty bool
	item  *bcache.Item
}

// MarkDirty records that Data was modified.
func (b *Block) MarkDirty() { b.dirty = true }

func New(name string, drv common.Driver, m Metrics) *Device {
	if m == nil {
		m = noopMetrics{}
	}
	return &Device{drv: drv, name: name, metrics: m}
}

func (d *Device) Name() string { return d.name }
func (d *Device) Driver() common.Driver { return d.drv }
func (d *Device) Cache() *bcache.Cache { return d.cache }
func (d *Device) Initialized() bool { return d.initialized }
func (d *Device) PhysicalBlockSize() uint32 { return d.physSize }
func (d *Device) PhysicalBlockCount() uint64 { return d.physCount }
func (d *Device) BlockSize() uint32 { return d.lgSize }
func (d *Device) BlockCount() uint64 { return d.lgCount }
func (d *Device) ReadCount() uint64 { return d.readCount }
func (d *Device) WriteCount() uint64 { return d.writeCount }
func (d *Device) WriteBackDepth() int { return d.writeBack }

// Init opens the driver and resets the logical geometry to the physical one.
func (d *Device) Init() error {
	if d.initialized {
		return nil
	}
	if err := d.drv.Open(); err != nil {
		return fmt.Errorf("blockdev %s: open: %w", d.name, err)
	}
	d.physSize = d.drv.BlockSize()
	d.physCount = d.drv.BlockCount()
	if d.physSize == 0 || d.physCount == 0 {
		d.drv.Close()
		return fmt.Errorf("blockdev %s: empty geometry %dx%d: %w", d.name, d.physCount, d.physSize, common.EINVAL)
	}
	d.lgSize = d.physSize
	d.lgCount = d.physCount
	d.ratio = 1
	d.initialized = true
	return nil
}

// Fini closes the driver.
func (d *Device) Fini() error {
	if !d.initialized {
		return nil
	}
	d.initialized = false
	return d.drv.Close()
}

// SetLogicalBlockSize sets the filesystem block size. It must be a multiple
// of the physical block size.
func (d *Device) SetLogicalBlockSize(size uint32) error {
	if size < d.physSize || size%d.physSize != 0 {
		return fmt.Errorf("blockdev %s: logical block size %d for physical %d: %w",
			d.name, size, d.physSize, common.EINVAL)
	}
	d.lgSize = size
	d.ratio = uint64(size / d.physSize)
	d.lgCount = d.physCount / d.ratio
	return nil
}

// BindCache attaches c. Its item size must match the logical block size.
func (d *Device) BindCache(c *bcache.Cache) error {
	if c.ItemSize() != d.lgSize {
		return fmt.Errorf("blockdev %s: cache item size %d for block size %d: %w",
			d.name, c.ItemSize(), d.lgSize, common.ENOTSUP)
	}
	d.cache = c
	return nil
}

func (d *Device) UnbindCache() {
	d.cache = nil
}

func (d *Device) checkRange(lba uint64, count uint32) error {
	if lba+uint64(count) > d.lgCount || lba+uint64(count) < lba {
		return fmt.Errorf("blockdev %s: block %d+%d beyond %d: %w", d.name, lba, count, d.lgCount, common.EINVAL)
	}
	return nil
}

func (d *Device) readPhys(buf []byte, pba uint64, pcount uint32) error {
	err := d.drv.ReadBlocks(buf, pba, pcount)
	d.readCount++
	d.metrics.RecordTransfer("read", int(pcount)*int(d.physSize), err)
	if err != nil {
		return fmt.Errorf("blockdev %s: read %d+%d: %w", d.name, pba, pcount, err)
	}
	return nil
}

func (d *Device) writePhys(buf []byte, pba uint64, pcount uint32) error {
	err := d.drv.WriteBlocks(buf, pba, pcount)
	d.writeCount++
	d.metrics.RecordTransfer("write", int(pcount)*int(d.physSize), err)
	if err != nil {
		return fmt.Errorf("blockdev %s: write %d+%d: %w", d.name, pba, pcount, err)
	}
	return nil
}

func (d *Device) readLogical(buf []byte, lba uint64, count uint32) error {
	return d.readPhys(buf, lba*d.ratio, uint32(uint64(count)*d.ratio))
}

func (d *Device) writeLogical(buf []byte, lba uint64, count uint32) error {
	return d.writePhys(buf, lba*d.ratio, uint32(uint64(count)*d.ratio))
}

func (d *Device) writeItem(it *bcache.Item) error {
	return d.writeLogical(it.Data, it.LBA(), 1)
}

func (d *Device) get(lba uint64, read bool) (*Block, error) {
	if d.cache == nil {
		return nil, fmt.Errorf("blockdev %s: no cache bound: %w", d.name, common.ENOTSUP)
	}
	if err := d.checkRange(lba, 1); err != nil {
		return nil, err
	}
	it, isNew, err := d.cache.Alloc(lba, d.writeItem)
	if err != nil {
		return nil, err
	}
	if isNew {
		if read {
			if err := d.readLogical(it.Data, lba, 1); err != nil {
				d.cache.Drop(it)
				return nil, err
			}
		} else {
			clear(it.Data)
		}
	}
	return &Block{LBA: lba, Data: it.Data, item: it}, nil
}

// Get returns the cached block at lba, reading it on a miss.
func (d *Device) Get(lba uint64) (*Block, error) {
	return d.get(lba, true)
}

// GetNoRead returns the block at lba without reading it from the device. A
// block that was not cached is zero filled.
func (d *Device) GetNoRead(lba uint64) (*Block, error) {
	return d.get(lba, false)
}

// Set releases b. When write back is not deferred, a dirty block nobody else
// references is written immediately.
func (d *Device) Set(b *Block) error {
	if b == nil || b.item == nil {
		return nil
	}
	it := b.item
	b.item = nil
	b.Data = nil

	if b.dirty {
		d.cache.MarkDirty(it)
	}
	d.cache.Release(it)

	if d.writeBack == 0 && it.IsDirty() && it.Refs() == 0 {
		if err := d.writeItem(it); err != nil {
			return err
		}
		d.cache.MarkClean(it)
	}
	return nil
}

// GetDirect reads count logical blocks at lba into buf, bypassing the cache.
// Dirty cached copies inside the range are written first so the device holds
// the latest data.
func (d *Device) GetDirect(buf []byte, lba uint64, count uint32) error {
	if err := d.checkRange(lba, count); err != nil {
		return err
	}
	if d.cache != nil {
		var ferr error
		d.cache.Range(lba, lba+uint64(count), func(it *bcache.Item) bool {
			if !it.IsDirty() {
				return true
			}
			if ferr = d.writeItem(it); ferr != nil {
				return false
			}
			d.cache.MarkClean(it)
			return true
		})
		if ferr != nil {
			return ferr
		}
	}
	return d.readLogical(buf, lba, count)
}

// SetDirect writes count logical blocks from buf at lba, bypassing the
// cache. Cached copies inside the range are refreshed from buf.
func (d *Device) SetDirect(buf []byte, lba uint64, count uint32) error {
	if err := d.checkRange(lba, count); err != nil {
		return err
	}
	if err := d.writeLogical(buf, lba, count); err != nil {
		return err
	}
	if d.cache != nil {
		bsize := uint64(d.lgSize)
		d.cache.Range(lba, lba+uint64(count), func(it *bcache.Item) bool {
			off := (it.LBA() - lba) * bsize
			copy(it.Data, buf[off:off+bsize])
			d.cache.MarkClean(it)
			return true
		})
	}
	return nil
}

// CacheWriteBack enters (on) or leaves write-back mode. Modes nest; leaving
// the outermost one writes every dirty block, continuing past failures and
// returning the first.
func (d *Device) CacheWriteBack(on bool) error {
	if on {
		d.writeBack++
		return nil
	}
	if d.writeBack > 0 {
		d.writeBack--
	}
	if d.writeBack > 0 {
		return nil
	}
	return d.Flush()
}

// Flush writes every dirty cached block in ascending order.
func (d *Device) Flush() error {
	if d.cache == nil {
		return nil
	}
	err := d.cache.FlushAll(d.writeItem)
	if err != nil {
		logger.WithFields(map[string]any{"device": d.name}).Errorf("cache flush failed: %v", err)
	}
	return err
}
