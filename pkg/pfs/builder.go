package pfs

import (
	"encoding/binary"
	"fmt"
)

// Builder accumulates (name, size) pairs in insertion order and emits a
// plain PFS0 header for them (§4.2 "Builder mode"). Grounded on
// pfs0_writer.go's Pfs0Writer, generalised from writing straight to an
// *os.File to emitting into a caller-supplied buffer so it composes
// with the streaming framework instead of owning a file handle.
type Builder struct {
	names   []string
	sizes   []int64
	offsets []int64
	total   int64
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// Add appends one (name, size) entry and returns its index.
func (b *Builder) Add(name string, size int64) int {
	b.offsets = append(b.offsets, b.total)
	b.names = append(b.names, name)
	b.sizes = append(b.sizes, size)
	b.total += size
	return len(b.names) - 1
}

// UpdateEntryName substitutes a new name for an already-added entry
// (§4.2 "used by the NSP builder to substitute a new content ID into
// the filename of a mutated NCA"), valid any time before
// WriteHeaderToBuffer.
func (b *Builder) UpdateEntryName(i int, newName string) error {
	if i < 0 || i >= len(b.names) {
		return fmt.Errorf("pfs.Builder.UpdateEntryName: index %d out of range", i)
	}
	b.names[i] = newName
	return nil
}

// FsSize returns the total payload byte count that follows the header,
// valid once every entry has been added (§4.2 "fs_size").
func (b *Builder) FsSize() int64 { return b.total }

// WriteHeaderToBuffer emits the 0x10-byte magic+count+name-table-size+
// reserved header, the per-entry records, and the NUL-terminated
// string table, zero-padded so the whole header is a multiple of 0x20
// bytes; the declared name-table size includes that padding, so the
// entry data starts right after the header (§4.2 "Builder mode").
// Returns the header bytes; their length is HeaderSize().
func (b *Builder) WriteHeaderToBuffer() ([]byte, error) {
	n := len(b.names)

	stringTable := make([]byte, 0, n*16)
	nameOffsets := make([]uint32, n)
	for i, name := range b.names {
		nameOffsets[i] = uint32(len(stringTable))
		stringTable = append(stringTable, []byte(name)...)
		stringTable = append(stringTable, 0)
	}
	for len(stringTable)%8 != 0 {
		stringTable = append(stringTable, 0)
	}

	entryTableSize := n * pfs0EntrySize
	unpadded := headerBase + entryTableSize + len(stringTable)
	total := pad32(unpadded)

	buf := make([]byte, total)
	copy(buf[0:4], magicPFS0)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(n))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(total-headerBase-entryTableSize))

	for i := 0; i < n; i++ {
		rec := buf[headerBase+i*pfs0EntrySize : headerBase+(i+1)*pfs0EntrySize]
		binary.LittleEndian.PutUint64(rec[0:8], uint64(b.offsets[i]))
		binary.LittleEndian.PutUint64(rec[8:16], uint64(b.sizes[i]))
		binary.LittleEndian.PutUint32(rec[16:20], nameOffsets[i])
	}

	copy(buf[headerBase+entryTableSize:], stringTable)

	// Trailing pad32 bytes beyond unpadded are already zero from make().
	return buf, nil
}

// HeaderSize reports what WriteHeaderToBuffer's output length will be
// without materialising it, so callers can size a streaming buffer
// ahead of time.
func (b *Builder) HeaderSize() int {
	n := len(b.names)
	stSize := 0
	for _, name := range b.names {
		stSize += len(name) + 1
	}
	for stSize%8 != 0 {
		stSize++
	}
	return pad32(headerBase + n*pfs0EntrySize + stSize)
}
