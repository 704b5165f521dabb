// Package pfs implements the Partition FileSystem reader and builder
// (§4.2): a flat named-entry archive in both its PFS0 and hashed HFS0
// variants. Grounded on pkg/fs/pfs0.go (header/entry
// parsing) and pkg/fs/pfs0_writer.go (builder), generalised from
// os.File-bound reads to an arbitrary io.ReaderAt section, and extended
// with HFS0 hashed-region verification and pre-emission name rewriting.
package pfs

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

const (
	magicPFS0 = "PFS0"
	magicHFS0 = "HFS0"

	pfs0EntrySize = 0x18
	hfs0EntrySize = 0x40
	headerBase    = 0x10
)

// Entry is one file record in a partition filesystem.
type Entry struct {
	Name       string
	Offset     int64
	Size       int64
	HashedSize int64    // 0 for plain PFS0 entries
	Hash       [32]byte // zero for plain PFS0 entries
}

// Reader exposes entries parsed from a PFS/HFS0 section (§4.2 "Reading").
type Reader struct {
	section io.ReaderAt
	hashed  bool
	entries []Entry
	byName  map[string]int
	dataOff int64 // absolute offset, within section, where file data begins

	mu           sync.Mutex
	hashVerified map[int]bool
}

// Open parses a PFS/HFS0 header from section, which must be at least
// sectionSize bytes long starting at offset 0.
func Open(section io.ReaderAt, sectionSize int64) (*Reader, error) {
	var fixed [headerBase]byte
	if _, err := section.ReadAt(fixed[:], 0); err != nil {
		return nil, nxerr.New(nxerr.InvalidPfs, "pfs.Open", err)
	}

	magic := string(fixed[0:4])
	hashed := magic == magicHFS0
	if !hashed && magic != magicPFS0 {
		return nil, nxerr.New(nxerr.InvalidPfs, "pfs.Open", fmt.Errorf("bad magic %q", magic))
	}

	numFiles := binary.LittleEndian.Uint32(fixed[4:8])
	stringTableSize := binary.LittleEndian.Uint32(fixed[8:12])

	entrySize := pfs0EntrySize
	if hashed {
		entrySize = hfs0EntrySize
	}
	entryTableSize := int64(numFiles) * int64(entrySize)
	stringTableOffset := headerBase + entryTableSize
	dataOffset := stringTableOffset + int64(stringTableSize)

	if entryTableSize < 0 || stringTableOffset > sectionSize || dataOffset > sectionSize {
		return nil, nxerr.New(nxerr.InvalidPfs, "pfs.Open", fmt.Errorf("header sizes exceed section bounds"))
	}

	entryTable := make([]byte, entryTableSize)
	if entryTableSize > 0 {
		if _, err := section.ReadAt(entryTable, headerBase); err != nil {
			return nil, nxerr.New(nxerr.InvalidPfs, "pfs.Open", err)
		}
	}
	stringTable := make([]byte, stringTableSize)
	if stringTableSize > 0 {
		if _, err := section.ReadAt(stringTable, stringTableOffset); err != nil {
			return nil, nxerr.New(nxerr.InvalidPfs, "pfs.Open", err)
		}
	}

	entries := make([]Entry, numFiles)
	byName := make(map[string]int, numFiles)
	payloadSize := sectionSize - dataOffset

	for i := 0; i < int(numFiles); i++ {
		rec := entryTable[i*entrySize : (i+1)*entrySize]
		offset := int64(binary.LittleEndian.Uint64(rec[0:8]))
		size := int64(binary.LittleEndian.Uint64(rec[8:16]))
		nameOffset := binary.LittleEndian.Uint32(rec[16:20])

		name, err := readName(stringTable, nameOffset)
		if err != nil {
			return nil, nxerr.New(nxerr.InvalidPfs, "pfs.Open", err)
		}

		if offset < 0 || size < 0 || offset+size > payloadSize {
			return nil, nxerr.New(nxerr.InvalidPfs, "pfs.Open", fmt.Errorf("entry %q out of bounds", name))
		}

		e := Entry{Name: name, Offset: offset, Size: size}
		if hashed {
			e.HashedSize = int64(binary.LittleEndian.Uint32(rec[20:24]))
			copy(e.Hash[:], rec[32:64])
		}

		entries[i] = e
		byName[name] = i
	}

	return &Reader{
		section:      section,
		hashed:       hashed,
		entries:      entries,
		byName:       byName,
		dataOff:      dataOffset,
		hashVerified: make(map[int]bool),
	}, nil
}

func readName(table []byte, offset uint32) (string, error) {
	if offset > uint32(len(table)) {
		return "", fmt.Errorf("name offset out of bounds")
	}
	end := offset
	for end < uint32(len(table)) && table[end] != 0 {
		end++
	}
	return string(table[offset:end]), nil
}

// EntryCount returns the number of entries in the archive.
func (r *Reader) EntryCount() int { return len(r.entries) }

// GetEntry returns the i-th entry.
func (r *Reader) GetEntry(i int) (Entry, bool) {
	if i < 0 || i >= len(r.entries) {
		return Entry{}, false
	}
	return r.entries[i], true
}

// GetEntryByName looks up an entry by its exact name.
func (r *Reader) GetEntryByName(name string) (Entry, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// ReadEntryData bounds-checks [offset, offset+len(buf)) against the
// entry's declared size and forwards the read to the section reader
// (§4.2 "read_entry_data").
func (r *Reader) ReadEntryData(e Entry, buf []byte, offset int64) (int, error) {
	if offset < 0 || offset+int64(len(buf)) > e.Size {
		return 0, nxerr.New(nxerr.InvalidPfs, "pfs.ReadEntryData", fmt.Errorf("read out of entry bounds"))
	}
	n, err := r.section.ReadAt(buf, r.dataOff+e.Offset+offset)
	if err != nil && err != io.EOF {
		return n, nxerr.New(nxerr.SinkIoError, "pfs.ReadEntryData", err)
	}
	return n, nil
}

// NewEntryReader returns an io.SectionReader over one entry's payload,
// for callers that want a generic io.ReaderAt (e.g. nca.NewContext).
func (r *Reader) NewEntryReader(e Entry) *io.SectionReader {
	return io.NewSectionReader(&sectionAt{r: r.section, base: r.dataOff + e.Offset}, 0, e.Size)
}

type sectionAt struct {
	r    io.ReaderAt
	base int64
}

func (s *sectionAt) ReadAt(p []byte, off int64) (int, error) {
	return s.r.ReadAt(p, s.base+off)
}

// VerifyHashedRegion checks the declared SHA-256 of an HFS0 entry's
// first HashedSize bytes, caching the verdict per entry index so
// repeat lookups (§4.2 "verifies on first access and caches the
// result") don't re-hash. No-op (always true) for plain PFS0 entries.
func (r *Reader) VerifyHashedRegion(i int) (bool, error) {
	e, ok := r.GetEntry(i)
	if !ok {
		return false, fmt.Errorf("no entry %d", i)
	}
	if !r.hashed || e.HashedSize == 0 {
		return true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, done := r.hashVerified[i]; done {
		return v, nil
	}

	buf := make([]byte, e.HashedSize)
	if _, err := r.ReadEntryData(e, buf, 0); err != nil {
		return false, err
	}
	ok = sha256.Sum256(buf) == e.Hash
	r.hashVerified[i] = ok
	return ok, nil
}

// IsExeFS reports whether this partition contains the entry names that
// mark an ExeFS mount (§4.2 "ExeFS distinction").
func (r *Reader) IsExeFS() bool {
	for _, n := range []string{"main", "main.npdm", "rtld"} {
		if _, ok := r.byName[n]; ok {
			return true
		}
	}
	return false
}

// pad8 rounds n up to the next multiple of 8.
func pad8(n int) int { return (n + 7) &^ 7 }

// pad32 rounds n up to the next multiple of 0x20.
func pad32(n int) int { return (n + 0x1F) &^ 0x1F }
