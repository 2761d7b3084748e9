// Package fs is the filesystem front end: a registry of block devices and
// mount points, path resolution, and file and directory handles.
//
// All paths are absolute and start with the name of a mount point, which
// always ends in a slash ("/mp/dir/file"). Every operation scoped to a mount
// point runs under that mount point's lock, if one was installed with
// SetupLocks.
package fs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jnwhiteh/ext4fs/bcache"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/internal/logger"
)

const (
	DefaultDevices   = 4
	DefaultMounts    = 4
	DefaultCacheSize = 16

	// a held inode pins its table block, so a mount needs a handful of
	// items before it can do anything useful
	MinCacheSize = 8
)

// Metrics hands out per-device recorders. Either method may return nil.
type Metrics interface {
	Device(name string) blockdev.Metrics
	Cache(name string) bcache.Metrics
}

type Options struct {
	Devices   int // device table capacity
	Mounts    int // mount table capacity
	CacheSize int // items in a cache allocated at mount time
	Metrics   Metrics
}

func (o *Options) setDefaults() {
	if o.Devices <= 0 {
		o.Devices = DefaultDevices
	}
	if o.Mounts <= 0 {
		o.Mounts = DefaultMounts
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	o.CacheSize = max(o.CacheSize, MinCacheSize)
}

// A registered block device and its optional caller supplied cache.
type deviceEntry struct {
	name  string
	dev   *blockdev.Device
	cache *bcache.Cache
	inUse bool // mounted somewhere
}

// MountStats describes a mounted filesystem.
type MountStats struct {
	InodesCount     uint32
	FreeInodesCount uint32
	BlocksCount     uint64
	FreeBlocksCount uint64
	BlockSize       uint32
	BlockGroupCount uint32
	BlocksPerGroup  uint32
	InodesPerGroup  uint32
	VolumeName      [16]byte
}

// Registry holds the device and mount tables. Both have a fixed capacity
// chosen at creation.
type Registry struct {
	opts Options

	mu      sync.RWMutex
	devices []*deviceEntry
	mounts  []*mountPoint
}

func NewRegistry(opts Options) *Registry {
	opts.setDefaults()
	return &Registry{
		opts:    opts,
		devices: make([]*deviceEntry, opts.Devices),
		mounts:  make([]*mountPoint, opts.Mounts),
	}
}

// Register adds a driver under name. cache may be nil, in which case one
// is allocated when the device is mounted. Registering a name twice is a
// no-op.
func (r *Registry) Register(drv common.Driver, cache *bcache.Cache, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	free := -1
	for i, d := range r.devices {
		if d == nil {
			if free < 0 {
				free = i
			}
			continue
		}
		if d.name == name {
			return nil
		}
	}
	if free < 0 {
		return fmt.Errorf("fs: device table full registering %s: %w", name, common.ENOSPC)
	}

	var m blockdev.Metrics
	if r.opts.Metrics != nil {
		m = r.opts.Metrics.Device(name)
	}
	r.devices[free] = &deviceEntry{
		name:  name,
		dev:   blockdev.New(name, drv, m),
		cache: cache,
	}
	logger.Debug("Registered device %s", name)
	return nil
}

func (r *Registry) findDevice(name string) *deviceEntry {
	for _, d := range r.devices {
		if d != nil && d.name == name {
			return d
		}
	}
	return nil
}

// findMount looks a mount point up by its exact name.
func (r *Registry) findMount(name string) *mountPoint {
	for _, mp := range r.mounts {
		if mp != nil && mp.name == name {
			return mp
		}
	}
	return nil
}

// getMount returns the mount point whose name is the longest prefix of
// path.
func (r *Registry) getMount(path string) (*mountPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *mountPoint
	for _, mp := range r.mounts {
		if mp == nil || !strings.HasPrefix(path, mp.name) {
			continue
		}
		if best == nil || len(mp.name) > len(best.name) {
			best = mp
		}
	}
	if best == nil {
		return nil, fmt.Errorf("fs: no mount point for %s: %w", path, common.ENOENT)
	}
	return best, nil
}

// Mount attaches the filesystem on device devName at the mount point name,
// which must end with a slash. Mounting a name that is already mounted does nothing.
func (r *Registry) Mount(devName, name string) error {
	if !strings.HasSuffix(name, "/") {
		return fmt.Errorf("fs: mount point %q must end in /: %w", name, common.ENOTSUP)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.findDevice(devName)
	if d == nil {
		return fmt.Errorf("fs: device %s: %w", devName, common.ENODEV)
	}
	if r.findMount(name) != nil {
		return nil
	}
	slot := -1
	for i, mp := range r.mounts {
		if mp == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("fs: mount table full mounting %s: %w", name, common.ENOMEM)
	}
	if d.inUse {
		return fmt.Errorf("fs: device %s already mounted: %w", devName, common.ENOTSUP)
	}

	var cm bcache.Metrics
	if r.opts.Metrics != nil {
		cm = r.opts.Metrics.Cache(devName)
	}
	mp := &mountPoint{name: name, device: d}
	if err := mp.mount(r.opts.CacheSize, cm); err != nil {
		logger.WithFields(map[string]any{
			"device":      devName,
			"mount_point": name,
		}).Errorf("mount failed: %v", err)
		return err
	}
	d.inUse = true
	r.mounts[slot] = mp

	logger.WithFields(map[string]any{
		"device":      devName,
		"mount_point": name,
		"read_only":   mp.fs.readOnly,
	}).Info("mounted")
	return nil
}

// Umount flushes and detaches the filesystem mounted at name.
func (r *Registry) Umount(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, mp := range r.mounts {
		if mp == nil || mp.name != name {
			continue
		}
		mp.lock()
		err := mp.umount()
		mp.unlock()

		r.mounts[i] = nil
		mp.device.inUse = false
		logger.WithFields(map[string]any{
			"device":      mp.device.name,
			"mount_point": name,
		}).Info("unmounted")
		return err
	}
	return fmt.Errorf("fs: %s not mounted: %w", name, common.ENODEV)
}

// Stats reports the geometry and free counts of the filesystem mounted at
// name.
func (r *Registry) Stats(name string) (*MountStats, error) {
	r.mu.RLock()
	mp := r.findMount(name)
	r.mu.RUnlock()
	if mp == nil {
		return nil, fmt.Errorf("fs: %s not mounted: %w", name, common.ENOENT)
	}

	mp.lock()
	defer mp.unlock()
	sb := mp.fs.sb
	return &MountStats{
		InodesCount:     sb.InodesCount,
		FreeInodesCount: sb.FreeInodesCount,
		BlocksCount:     sb.BlocksCount(),
		FreeBlocksCount: sb.FreeBlocksCount(),
		BlockSize:       sb.BlockSize(),
		BlockGroupCount: sb.BlockGroupCount(),
		BlocksPerGroup:  sb.BlocksPerGroup,
		InodesPerGroup:  sb.InodesPerGroup,
		VolumeName:      sb.VolumeName,
	}, nil
}

// SetupLocks installs the lock used by every operation on the mount name. A nil
// locker removes it.
func (r *Registry) SetupLocks(name string, locker sync.Locker) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mp := r.findMount(name)
	if mp == nil {
		return fmt.Errorf("fs: %s not mounted: %w", name, common.ENOENT)
	}
	mp.locker = locker
	return nil
}

// CacheWriteBack enters or leaves write-back mode on the device holding
// path. Calls nest; leaving the outermost one flushes the cache.
func (r *Registry) CacheWriteBack(path string, on bool) error {
	mp, err := r.getMount(path)
	if err != nil {
		return err
	}
	mp.lock()
	defer mp.unlock()
	return mp.fs.dev.CacheWriteBack(on)
}
