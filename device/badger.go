package device

import (
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/jnwhiteh/ext4fs/common"
)

// BadgerOptions configures a badger-backed driver.
type BadgerOptions struct {
	Path      string // database directory, ignored when InMemory
	InMemory  bool
	BlockSize uint32
	Blocks    uint64
}

// Badger stores each block as one key in a badger database. Blocks that
// were never written read back as zeros, so a fresh store behaves like a
// zeroed disk of the configured size.
type Badger struct {
	opts BadgerOptions
	db   *badger.DB
}

var _ common.Driver = (*Badger)(nil)

var keyGeometry = []byte("meta/geometry")

func NewBadger(opts BadgerOptions) *Badger {
	return &Badger{opts: opts}
}

func blockKey(lba uint64) []byte {
	key := make([]byte, 4+8)
	copy(key, "blk/")
	binary.BigEndian.PutUint64(key[4:], lba)
	return key
}

func (b *Badger) Open() error {
	if b.db != nil {
		return nil
	}
	bopts := badger.DefaultOptions(b.opts.Path)
	if b.opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		return fmt.Errorf("device: failed to open badger store at %s: %w", b.opts.Path, err)
	}

	geom := make([]byte, 12)
	binary.LittleEndian.PutUint32(geom[0:], b.opts.BlockSize)
	binary.LittleEndian.PutUint64(geom[4:], b.opts.Blocks)

	err = db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyGeometry)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(keyGeometry, geom)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != len(geom) ||
				binary.LittleEndian.Uint32(val[0:]) != b.opts.BlockSize ||
				binary.LittleEndian.Uint64(val[4:]) != b.opts.Blocks {
				return fmt.Errorf("device: badger store geometry mismatch: %w", common.EINVAL)
			}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return err
	}
	b.db = db
	return nil
}

func (b *Badger) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *Badger) ReadBlocks(buf []byte, lba uint64, count uint32) error {
	if b.db == nil {
		return common.EIO
	}
	if err := checkRange(buf, b.opts.BlockSize, b.opts.Blocks, lba, count); err != nil {
		return err
	}
	bsize := int(b.opts.BlockSize)
	return b.db.View(func(txn *badger.Txn) error {
		for i := 0; i < int(count); i++ {
			dst := buf[i*bsize : (i+1)*bsize]
			item, err := txn.Get(blockKey(lba + uint64(i)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				clear(dst)
				continue
			}
			if err != nil {
				return fmt.Errorf("device: read block %d: %w", lba+uint64(i), err)
			}
			if err := item.Value(func(val []byte) error {
				copy(dst, val)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) WriteBlocks(buf []byte, lba uint64, count uint32) error {
	if b.db == nil {
		return common.EIO
	}
	if err := checkRange(buf, b.opts.BlockSize, b.opts.Blocks, lba, count); err != nil {
		return err
	}
	bsize := int(b.opts.BlockSize)
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for i := 0; i < int(count); i++ {
		val := make([]byte, bsize)
		copy(val, buf[i*bsize:(i+1)*bsize])
		if err := wb.Set(blockKey(lba+uint64(i)), val); err != nil {
			return fmt.Errorf("device: write block %d: %w", lba+uint64(i), err)
		}
	}
	return wb.Flush()
}

func (b *Badger) BlockSize() uint32  { return b.opts.BlockSize }
func (b *Badger) BlockCount() uint64 { return b.opts.Blocks }

// OpenBadgerStore returns a driver for an existing store, taking the
// geometry recorded when the store was created.
func OpenBadgerStore(path string) (*Badger, error) {
	bopts := badger.DefaultOptions(path).WithReadOnly(true).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("device: failed to open badger store at %s: %w", path, err)
	}
	defer db.Close()

	opts := BadgerOptions{Path: path}
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyGeometry)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 12 {
				return fmt.Errorf("device: badger geometry of %d bytes: %w", len(val), common.EIO)
			}
			opts.BlockSize = binary.LittleEndian.Uint32(val[0:])
			opts.Blocks = binary.LittleEndian.Uint64(val[4:])
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("device: %s is not a block store: %w", path, common.ENODEV)
	}
	if err != nil {
		return nil, err
	}
	return NewBadger(opts), nil
}
