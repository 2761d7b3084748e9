package bcache

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jnwhiteh/ext4fs/common"
	"github.com/jnwhiteh/ext4fs/testutils"
)

type recorder struct {
	written []uint64
	failOn  map[uint64]bool
}

func (r *recorder) write(it *Item) error {
	r.written = append(r.written, it.LBA())
	if r.failOn[it.LBA()] {
		return errors.New("write failed")
	}
	return nil
}

func mustAlloc(test *testing.T, c *Cache, lba uint64, r *recorder) *Item {
	it, _, err := c.Alloc(lba, r.write)
	if err != nil {
		testutils.FatalHere(test, "Failed allocating block %d: %s", lba, err)
	}
	return it
}

// Test to ensure that blocks are re-used in last-recently-used order, i.e.
// in the order they are released back into the cache.
func TestLRUOrder(test *testing.T) {
	c := New(64, 4, nil)
	r := new(recorder)

	blocks := make([]*Item, 4)
	for i := range blocks {
		blocks[i] = mustAlloc(test, c, uint64(i), r)
	}
	for i := range blocks {
		c.Release(blocks[i])
	}

	for i := range blocks {
		it, isNew, err := c.Alloc(uint64(i+10), r.write)
		if err != nil || !isNew {
			testutils.FatalHere(test, "Alloc of new block failed: %v %v", isNew, err)
		}
		if it != blocks[i] {
			testutils.ErrorHere(test, "cache block mismatch, expected %p, got %p", blocks[i], it)
		}
	}
}

func TestHitIncrementsRefs(test *testing.T) {
	c := New(64, 2, nil)
	r := new(recorder)

	it := mustAlloc(test, c, 5, r)
	it2, isNew, err := c.Alloc(5, r.write)
	if err != nil || isNew {
		testutils.FatalHere(test, "Expected cache hit, got isNew=%v err=%v", isNew, err)
	}
	if it != it2 || it.Refs() != 2 {
		testutils.ErrorHere(test, "Expected same item with 2 refs, got %p/%p refs %d", it, it2, it.Refs())
	}
	c.Release(it)
	c.Release(it2)
	if it.Refs() != 0 {
		testutils.ErrorHere(test, "Refs mismatch expected 0, got %d", it.Refs())
	}
	if c.Lookup(5) != it {
		testutils.ErrorHere(test, "Released block no longer cached")
	}
}

func TestEvictionPrefersClean(test *testing.T) {
	c := New(64, 2, nil)
	r := new(recorder)

	a := mustAlloc(test, c, 1, r)
	b := mustAlloc(test, c, 2, r)
	c.MarkDirty(a)
	c.Release(a)
	c.Release(b)

	it := mustAlloc(test, c, 3, r)
	if it != b {
		testutils.ErrorHere(test, "Expected clean block to be evicted first")
	}
	if len(r.written) != 0 {
		testutils.ErrorHere(test, "Clean eviction wrote blocks: %v", r.written)
	}

	// only the dirty block is left, it must be written before reuse
	it = mustAlloc(test, c, 4, r)
	if it != a || a.IsDirty() {
		testutils.ErrorHere(test, "Expected dirty block to be cleaned and reused")
	}
	if diff := cmp.Diff([]uint64{1}, r.written); diff != "" {
		testutils.ErrorHere(test, "Written blocks mismatch (-want +got):\n%s", diff)
	}
}

func TestDirtyVictimWriteFailure(test *testing.T) {
	c := New(64, 1, nil)
	r := &recorder{failOn: map[uint64]bool{1: true}}

	a := mustAlloc(test, c, 1, r)
	c.MarkDirty(a)
	c.Release(a)

	if _, _, err := c.Alloc(2, r.write); err == nil {
		testutils.FatalHere(test, "Expected write failure to propagate")
	}
	if c.Lookup(1) != a || !a.IsDirty() {
		testutils.ErrorHere(test, "Dirty block lost after failed write back")
	}
}

func TestAllInUse(test *testing.T) {
	c := New(64, 2, nil)
	r := new(recorder)

	mustAlloc(test, c, 0, r)
	mustAlloc(test, c, 1, r)

	_, _, err := c.Alloc(2, r.write)
	if !errors.Is(err, common.ENOMEM) {
		testutils.ErrorHere(test, "Expected ENOMEM, got %v", err)
	}
}

func TestFlushAllOrder(test *testing.T) {
	c := New(64, 4, nil)
	r := &recorder{failOn: map[uint64]bool{5: true}}

	for _, lba := range []uint64{7, 3, 9, 5} {
		it := mustAlloc(test, c, lba, r)
		if lba != 9 {
			c.MarkDirty(it)
		}
		c.Release(it)
	}

	err := c.FlushAll(r.write)
	if err == nil {
		testutils.ErrorHere(test, "Expected the failed write to be reported")
	}
	if diff := cmp.Diff([]uint64{3, 5, 7}, r.written); diff != "" {
		testutils.ErrorHere(test, "Flush order mismatch (-want +got):\n%s", diff)
	}
	if c.DirtyCount() != 1 {
		testutils.ErrorHere(test, "Dirty count mismatch expected 1, got %d", c.DirtyCount())
	}
}

func TestDrop(test *testing.T) {
	c := New(64, 2, nil)
	r := new(recorder)

	it := mustAlloc(test, c, 8, r)
	c.Drop(it)
	if c.Lookup(8) != nil {
		testutils.ErrorHere(test, "Dropped block still cached")
	}

	// the dropped slot is reused first
	other := mustAlloc(test, c, 9, r)
	if other != it {
		testutils.ErrorHere(test, "Expected dropped slot to be reused")
	}
}

func TestRange(test *testing.T) {
	c := New(64, 4, nil)
	r := new(recorder)
	for _, lba := range []uint64{20, 4, 12, 30} {
		c.Release(mustAlloc(test, c, lba, r))
	}

	var got []uint64
	c.Range(4, 30, func(it *Item) bool {
		got = append(got, it.LBA())
		return true
	})
	if diff := cmp.Diff([]uint64{4, 12, 20}, got); diff != "" {
		testutils.ErrorHere(test, "Range mismatch (-want +got):\n%s", diff)
	}
}
