package blockdev

import (
	"fmt"

	"github.com/jnwhiteh/ext4fs/bcache"
	"github.com/jnwhiteh/ext4fs/common"
)

func (d *Device) checkBytes(off uint64, n int) error {
	end := off + uint64(n)
	if end < off || end > d.physCount*uint64(d.physSize) {
		return fmt.Errorf("blockdev %s: bytes %d+%d beyond device: %w", d.name, off, n, common.EINVAL)
	}
	return nil
}

// ReadBytes reads len(buf) bytes at byte offset off. Transfers are done at
// physical block granularity, so the region need not be block aligned.
func (d *Device) ReadBytes(off uint64, buf []byte) error {
	if err := d.checkBytes(off, len(buf)); err != nil {
		return err
	}
	psize := uint64(d.physSize)
	scratch := make([]byte, psize)

	pba := off / psize
	inner := off % psize
	for len(buf) > 0 {
		if inner != 0 || uint64(len(buf)) < psize {
			if err := d.readPhys(scratch, pba, 1); err != nil {
				return err
			}
			n := copy(buf, scratch[inner:])
			buf = buf[n:]
			pba++
			inner = 0
			continue
		}
		count := uint64(len(buf)) / psize
		if err := d.readPhys(buf[:count*psize], pba, uint32(count)); err != nil {
			return err
		}
		buf = buf[count*psize:]
		pba += count
	}
	return nil
}

// WriteBytes writes buf at byte offset off, reading back the partial
// physical blocks at either edge. Cached logical blocks overlapping the
// region are updated to match.
func (d *Device) WriteBytes(off uint64, buf []byte) error {
	if err := d.checkBytes(off, len(buf)); err != nil {
		return err
	}
	psize := uint64(d.physSize)
	scratch := make([]byte, psize)

	start := off
	src := buf
	pba := off / psize
	inner := off % psize
	for len(src) > 0 {
		if inner != 0 || uint64(len(src)) < psize {
			if err := d.readPhys(scratch, pba, 1); err != nil {
				return err
			}
			n := copy(scratch[inner:], src)
			if err := d.writePhys(scratch, pba, 1); err != nil {
				return err
			}
			src = src[n:]
			pba++
			inner = 0
			continue
		}
		count := uint64(len(src)) / psize
		if err := d.writePhys(src[:count*psize], pba, uint32(count)); err != nil {
			return err
		}
		src = src[count*psize:]
		pba += count
	}

	if d.cache != nil && len(buf) > 0 {
		lsize := uint64(d.lgSize)
		end := start + uint64(len(buf))
		d.cache.Range(start/lsize, (end+lsize-1)/lsize, func(it *bcache.Item) bool {
			base := it.LBA() * lsize
			lo := max(start, base)
			hi := min(end, base+lsize)
			copy(it.Data[lo-base:hi-base], buf[lo-start:hi-start])
			return true
		})
	}
	return nil
}
