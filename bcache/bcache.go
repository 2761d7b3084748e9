// Package bcache implements a fixed-capacity cache of logical blocks. Items
// are indexed by block address in a B-tree so that flushes can be issued in
// ascending order, and unreferenced items are kept on an LRU chain from which
// eviction victims are taken.
//
// The cache does no I/O of its own. Callers supply a write function whenever
// an operation may need to clean a dirty item.
package bcache

import (
	"github.com/google/btree"
	"github.com/jnwhiteh/ext4fs/common"
)

// Item is a single cache slot. Data is owned by the cache and is only valid
// while the caller holds a reference.
type Item struct {
	Data []byte

	lba   uint64
	dirty bool
	refs  int  // the number of clients of this block
	valid bool // holds a block and is present in the index

	next *Item // LRU chain of unreferenced items
	prev *Item
	onlru bool
}

func (it *Item) LBA() uint64   { return it.lba }
func (it *Item) IsDirty() bool { return it.dirty }
func (it *Item) Refs() int     { return it.refs }

// WriteFunc writes an item's data back to its block.
type WriteFunc func(it *Item) error

// Metrics receives cache events. A nil Metrics passed to New is replaced
// with a no-op implementation.
type Metrics interface {
	RecordHit()
	RecordMiss()
	RecordEviction(dirty bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordHit()          {}
func (noopMetrics) RecordMiss()         {}
func (noopMetrics) RecordEviction(bool) {}

type Cache struct {
	itemSize uint32
	buf      []*Item // static list of cache slots
	index    *btree.BTreeG[*Item]

	front *Item // least recently used unreferenced item
	rear  *Item // most recently used unreferenced item

	metrics Metrics
}

func byLBA(a, b *Item) bool { return a.lba < b.lba }

// New creates a cache of count items, each itemSize bytes long.
func New(itemSize uint32, count int, m Metrics) *Cache {
	if m == nil {
		m = noopMetrics{}
	}
	c := &Cache{
		itemSize: itemSize,
		buf:      make([]*Item, count),
		index:    btree.NewG[*Item](8, byLBA),
		metrics:  m,
	}
	for i := range c.buf {
		c.buf[i] = &Item{Data: make([]byte, itemSize)}
		c.pushRear(c.buf[i])
	}
	return c
}

func (c *Cache) ItemSize() uint32 { return c.itemSize }
func (c *Cache) Capacity() int    { return len(c.buf) }

// Lookup returns the item holding lba with its reference count incremented,
// or nil when the block is not cached.
func (c *Cache) Lookup(lba uint64) *Item {
	it, ok := c.index.Get(&Item{lba: lba})
	if !ok {
		return nil
	}
	c.ref(it)
	return it
}

// Alloc returns a referenced item for lba. When the block is already cached
// isNew is false. Otherwise a victim slot is taken from the LRU chain,
// preferring clean items; a dirty victim is written with write before it is
// reused. The new item's data is stale and must be filled by the caller. When
// every item is referenced Alloc fails with ENOMEM.
func (c *Cache) Alloc(lba uint64, write WriteFunc) (it *Item, isNew bool, err error) {
	if it = c.Lookup(lba); it != nil {
		c.metrics.RecordHit()
		return it, false, nil
	}
	c.metrics.RecordMiss()

	victim := c.pickVictim()
	if victim == nil {
		return nil, false, common.ENOMEM
	}

	if victim.valid {
		wasDirty := victim.dirty
		if wasDirty {
			if err := write(victim); err != nil {
				return nil, false, err
			}
			victim.dirty = false
		}
		c.metrics.RecordEviction(wasDirty)
		c.index.Delete(victim)
	}

	c.rmLRU(victim)
	victim.lba = lba
	victim.valid = true
	victim.dirty = false
	victim.refs = 1
	c.index.ReplaceOrInsert(victim)
	return victim, true, nil
}

// pickVictim walks the chain from least recently used, returning the first
// empty or clean item, else the oldest dirty one.
func (c *Cache) pickVictim() *Item {
	for it := c.front; it != nil; it = it.next {
		if !it.valid || !it.dirty {
			return it
		}
	}
	return c.front
}

// Release drops one reference. Items with no references go to the rear of
// the LRU chain.
func (c *Cache) Release(it *Item) {
	if it.refs == 0 {
		return
	}
	it.refs--
	if it.refs == 0 {
		c.pushRear(it)
	}
}

// MarkDirty flags an item as needing write back.
func (c *Cache) MarkDirty(it *Item) { it.dirty = true }

// MarkClean clears the dirty flag after the caller wrote the item.
func (c *Cache) MarkClean(it *Item) { it.dirty = false }

// Drop invalidates an item, e.g. after a failed read. Its remaining
// references are discarded and the slot becomes the next eviction victim.
func (c *Cache) Drop(it *Item) {
	if it.valid {
		c.index.Delete(it)
	}
	it.valid = false
	it.dirty = false
	it.refs = 0
	c.rmLRU(it)
	c.pushFront(it)
}

// FlushAll writes every dirty item in ascending block order. It continues
// past failures and returns the first one.
func (c *Cache) FlushAll(write WriteFunc) error {
	var first error
	c.index.Ascend(func(it *Item) bool {
		if !it.dirty {
			return true
		}
		if err := write(it); err != nil {
			if first == nil {
				first = err
			}
			return true
		}
		it.dirty = false
		return true
	})
	return first
}

// Range calls fn for each cached item with lo <= lba < hi in ascending
// order until fn returns false.
func (c *Cache) Range(lo, hi uint64, fn func(it *Item) bool) {
	c.index.AscendRange(&Item{lba: lo}, &Item{lba: hi}, fn)
}

// DirtyCount returns the number of dirty items.
func (c *Cache) DirtyCount() int {
	n := 0
	for _, it := range c.buf {
		if it.valid && it.dirty {
			n++
		}
	}
	return n
}

func (c *Cache) ref(it *Item) {
	if it.refs == 0 {
		c.rmLRU(it)
	}
	it.refs++
}

func (c *Cache) pushRear(it *Item) {
	it.prev = c.rear
	it.next = nil
	if c.rear == nil {
		c.front = it
	} else {
		c.rear.next = it
	}
	c.rear = it
	it.onlru = true
}

func (c *Cache) pushFront(it *Item) {
	it.prev = nil
	it.next = c.front
	if c.front == nil {
		c.rear = it
	} else {
		c.front.prev = it
	}
	c.front = it
	it.onlru = true
}

// Remove a block from its LRU chain
func (c *Cache) rmLRU(it *Item) {
	if !it.onlru {
		return
	}
	nextp := it.next
	prevp := it.prev
	if prevp != nil {
		prevp.next = nextp
	} else {
		c.front = nextp
	}

	if nextp != nil {
		nextp.prev = prevp
	} else {
		c.rear = prevp
	}
	it.next = nil
	it.prev = nil
	it.onlru = false
}
