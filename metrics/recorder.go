package metrics

import (
	"sync"

	"github.com/jnwhiteh/ext4fs/bcache"
	"github.com/jnwhiteh/ext4fs/blockdev"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the collectors shared by every device. Per-device views
// are handed out by Device and Cache and differ only in their label.
type Recorder struct {
	transfers *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
}

var (
	mu     sync.Mutex
	shared *Recorder
)

// New returns the process wide Recorder, or nil if metrics are not enabled.
// The collectors are registered on first use.
func New() *Recorder {
	if !IsEnabled() {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	if shared != nil {
		return shared
	}

	f := promauto.With(GetRegistry())
	shared = &Recorder{
		transfers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ext4fs_device_transfers_total",
				Help: "Physical block transfers by device, direction and outcome",
			},
			[]string{"device", "op", "status"},
		),
		bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ext4fs_device_bytes_total",
				Help: "Bytes moved by successful physical transfers",
			},
			[]string{"device", "op"},
		),
		hits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ext4fs_cache_hits_total",
				Help: "Block lookups served from the cache",
			},
			[]string{"device"},
		),
		misses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ext4fs_cache_misses_total",
				Help: "Block lookups that needed a new cache item",
			},
			[]string{"device"},
		),
		evictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ext4fs_cache_evictions_total",
				Help: "Cache items recycled for another block, by state of the victim",
			},
			[]string{"device", "state"},
		),
	}
	return shared
}

// Device returns the transfer recorder for device name. It is nil on a nil
// Recorder.
func (r *Recorder) Device(name string) blockdev.Metrics {
	if r == nil {
		return nil
	}
	return &deviceRecorder{r: r, device: name}
}

// Cache returns the cache recorder for device name. It is nil on a nil
// Recorder.
func (r *Recorder) Cache(name string) bcache.Metrics {
	if r == nil {
		return nil
	}
	return &cacheRecorder{r: r, device: name}
}

type deviceRecorder struct {
	r      *Recorder
	device string
}

func (d *deviceRecorder) RecordTransfer(op string, bytes int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	d.r.transfers.WithLabelValues(d.device, op, status).Inc()
	if err == nil {
		d.r.bytes.WithLabelValues(d.device, op).Add(float64(bytes))
	}
}

type cacheRecorder struct {
	r      *Recorder
	device string
}

func (c *cacheRecorder) RecordHit()  { c.r.hits.WithLabelValues(c.device).Inc() }
func (c *cacheRecorder) RecordMiss() { c.r.misses.WithLabelValues(c.device).Inc() }

func (c *cacheRecorder) RecordEviction(dirty bool) {
	state := "clean"
	if dirty {
		state = "dirty"
	}
	c.r.evictions.WithLabelValues(c.device, state).Inc()
}
