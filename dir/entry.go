// Package dir reads and edits the linked-list directory entries stored in
// a directory inode's data blocks.
package dir

import (
	"encoding/binary"
	"fmt"
)

const entryHeaderSize = 8

// Entry is a decoded directory entry.
type Entry struct {
	Inode   uint32
	RecLen  uint16
	NameLen uint16
	Type    uint8
	Name    string
}

// RecordLen returns the space an entry with a name of n bytes occupies,
// rounded up to a 4-byte boundary.
func RecordLen(n int) uint16 {
	return uint16((entryHeaderSize + n + 3) &^ 3)
}

// decodeEntry parses the entry at the start of b. Without the filetype
// feature the name length is a 16-bit field and there is no type byte.
func decodeEntry(b []byte, filetype bool) *Entry {
	le := binary.LittleEndian
	e := &Entry{
		Inode:  le.Uint32(b[0:]),
		RecLen: le.Uint16(b[4:]),
	}
	if filetype {
		e.NameLen = uint16(b[6])
		e.Type = b[7]
	} else {
		e.NameLen = le.Uint16(b[6:])
	}
	if int(entryHeaderSize+e.NameLen) <= len(b) {
		e.Name = string(b[entryHeaderSize : entryHeaderSize+e.NameLen])
	}
	return e
}

// writeEntry stores an entry header and name at the start of b.
func writeEntry(b []byte, inode uint32, recLen uint16, name string, typ uint8, filetype bool) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], inode)
	le.PutUint16(b[4:], recLen)
	if filetype {
		b[6] = uint8(len(name))
		b[7] = typ
	} else {
		le.PutUint16(b[6:], uint16(len(name)))
	}
	copy(b[entryHeaderSize:], name)
}

func setInode(b []byte, inode uint32) {
	binary.LittleEndian.PutUint32(b[0:], inode)
}

func setRecLen(b []byte, recLen uint16) {
	binary.LittleEndian.PutUint16(b[4:], recLen)
}

// BlockEntries decodes every entry of one directory block, used or not.
func BlockEntries(data []byte, filetype bool) ([]*Entry, error) {
	var entries []*Entry
	for off := uint64(0); off < uint64(len(data)); {
		e, err := entryAt(data, off, filetype)
		if err != nil {
			return entries, fmt.Errorf("dir: entry at offset %d: %w", off, err)
		}
		entries = append(entries, e)
		off += uint64(e.RecLen)
	}
	return entries, nil
}
