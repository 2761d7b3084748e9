package fs

import (
	"fmt"
	"sync"
	"time"

	"github.com/jnwhiteh/ext4fs/alloctbl"
	"github.com/jnwhiteh/ext4fs/bcache"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/inode"
	"github.com/jnwhiteh/ext4fs/internal/logger"
	"github.com/jnwhiteh/ext4fs/super"
)

// filesystem is the state of one mounted volume.
type filesystem struct {
	dev      *blockdev.Device
	sb       *super.Superblock
	alloc    *alloctbl.AllocTbl
	table    *inode.Table
	readOnly bool // unknown ro_compat features
}

type mountPoint struct {
	name   string
	device *deviceEntry
	fs     filesystem
	locker sync.Locker

	autoCache bool // cache was allocated by mount and is released by umount
}

func (mp *mountPoint) lock() {
	if mp.locker != nil {
		mp.locker.Lock()
	}
}

func (mp *mountPoint) unlock() {
	if mp.locker != nil {
		mp.locker.Unlock()
	}
}

// writable fails with EPERM on a read-only mount.
func (mp *mountPoint) writable() error {
	if mp.fs.readOnly {
		return fmt.Errorf("fs: %s is mounted read-only: %w", mp.name, common.EPERM)
	}
	return nil
}

// mount brings the device up and loads the filesystem. Every step taken is
// undone if a later one fails.
func (mp *mountPoint) mount(cacheSize int, cm bcache.Metrics) (err error) {
	dev := mp.device.dev
	if err := dev.Init(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			dev.UnbindCache()
			dev.Fini()
		}
	}()

	sb, err := super.Read(dev)
	if err != nil {
		return err
	}
	if err := sb.Validate(); err != nil {
		return err
	}
	if f := sb.UnsupportedIncompat(); f != 0 {
		return fmt.Errorf("fs: unsupported incompatible features 0x%x: %w", f, common.ENOTSUP)
	}
	if f := sb.UnsupportedROCompat(); f != 0 {
		logger.Warn("Device %s has unsupported read-only features 0x%x, mounting read-only", dev.Name(), f)
		mp.fs.readOnly = true
	}

	bsize := sb.BlockSize()
	if err := dev.SetLogicalBlockSize(bsize); err != nil {
		return err
	}

	cache := mp.device.cache
	mp.autoCache = cache == nil
	if cache == nil {
		cache = bcache.New(bsize, cacheSize, cm)
	}
	if err := dev.BindCache(cache); err != nil {
		return err
	}

	alloc, err := alloctbl.New(dev, sb)
	if err != nil {
		return err
	}
	mp.fs.dev = dev
	mp.fs.sb = sb
	mp.fs.alloc = alloc
	mp.fs.table = inode.NewTable(dev, sb, alloc)
	return mp.fs.init()
}

// umount writes everything back and releases the device. It carries on
// past failures and returns the first.
func (mp *mountPoint) umount() error {
	dev := mp.fs.dev
	err := dev.Flush()
	if ferr := mp.fs.fini(); err == nil {
		err = ferr
	}
	if c := dev.Cache(); c != nil && mp.autoCache {
		logger.Debug("Releasing cache of %d items for %s", c.Capacity(), mp.name)
	}
	dev.UnbindCache()
	if ferr := dev.Fini(); err == nil {
		err = ferr
	}
	return err
}

// init records the mount in the superblock: the valid bit is cleared while
// mounted and set again by fini.
func (fs *filesystem) init() error {
	sb := fs.sb
	if sb.State&common.STATE_ERROR != 0 {
		logger.Warn("Device %s was not cleanly checked, errors recorded in superblock", fs.dev.Name())
	}
	if fs.readOnly {
		return nil
	}
	sb.MntCount++
	sb.MTime = uint32(time.Now().Unix())
	sb.State &^= common.STATE_VALID
	return sb.Write(fs.dev)
}

func (fs *filesystem) fini() error {
	if fs.readOnly {
		return nil
	}
	fs.sb.State |= common.STATE_VALID
	fs.sb.WTime = uint32(time.Now().Unix())
	if err := fs.sb.Write(fs.dev); err != nil {
		return err
	}
	return fs.dev.Flush()
}
