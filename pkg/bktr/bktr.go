// Package bktr implements the BKTR patch overlay (§4.4): a virtual
// RomFS synthesised from a base NCA's RomFS and an update NCA's
// PatchRomFs section, by layering an indirect-storage block (virtual
// offset -> physical offset + Original/Patch tag) over an AES-CTR-Ex
// storage block (physical offset -> generation counter).
//
// Grounded on pkg/fs/bktr.go for the overall "decrypt the
// bucket area with the section's base counter, then walk buckets"
// shape; the bucket/entry byte layout below instead follows the exact
// record sizes pinned down against original_source/source/bktr.h,
// since a simplified single-bucket scan doesn't model the
// offset table the real format uses to pick a bucket.
package bktr

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

// StorageIndex tags an indirect-storage entry's data source.
type StorageIndex uint32

const (
	StorageOriginal StorageIndex = iota
	StoragePatch
)

const (
	indirectEntrySize  = 20 // virtual_offset u64, physical_offset u64, storage_index u32
	indirectEntryPad   = 24 // padded stride in the bucket array
	bucketHeaderSize   = 16 // index u32, entry_count u32, end_offset u64
	ctrExEntrySize     = 16 // offset u64, size u32, generation u32
	offsetTableBytes   = 0x3FF0
	maxIndirectEntries = offsetTableBytes / indirectEntrySize // 0x332
	maxCtrExEntries    = offsetTableBytes / ctrExEntrySize    // 0x3FF
	blockHeaderSize    = 16 + offsetTableBytes                // index, count, size, offset table
)

// indirectEntry is one (virtual_offset, physical_offset, storage_index)
// record, plus a synthesized size field filled in once the next entry
// (or the appended sentinel) is known.
type indirectEntry struct {
	VirtualOffset  int64
	PhysicalOffset int64
	Storage        StorageIndex
	size           int64
}

// ctrExEntry is one (offset, size, generation) AES-CTR-Ex record.
type ctrExEntry struct {
	Offset     int64
	Size       int64
	Generation uint32
}

// Overlay presents the patched RomFS section as an io.ReaderAt,
// dispatching each read through the indirect block to either the base
// NCA's RomFS section (Original) or the update NCA's PatchRomFs section
// under the matched AES-CTR-Ex generation (Patch) (§4.4 "Read protocol").
type Overlay struct {
	base    io.ReaderAt // base NCA RomFS section, content-relative reads
	patch   patchSection
	indirect []indirectEntry
	ctrEx    []ctrExEntry
	size     int64
}

// patchSection is the narrow surface this package needs from an NCA
// FS section that supports AES-CTR-Ex generation-aware reads, avoiding
// an import of pkg/nca (which would create an import cycle, since
// pkg/nca's FsSection already exposes this exact method set).
type patchSection interface {
	ReadAtWithGeneration(p []byte, off int64, generation uint32) (int, error)
}

// NewOverlay parses the indirect and AES-CTR-Ex storage blocks read
// from patchBlockData (the update NCA's decrypted PatchRomFs patch-info
// area) and returns a ready-to-read Overlay (§4.4 invariants and
// "reads both blocks ... appends sentinels").
func NewOverlay(base io.ReaderAt, patch patchSection, patchBlockData []byte, indirectOffset, indirectSize, ctrExOffset, ctrExSize, sectionSize int64) (*Overlay, error) {
	if indirectOffset+indirectSize+ctrExSize != sectionSize || ctrExOffset != indirectOffset+indirectSize {
		return nil, nxerr.New(nxerr.InvalidNca, "bktr.NewOverlay", fmt.Errorf("indirect_offset + indirect_size + aes_ctr_ex_size != section_size"))
	}
	if int64(len(patchBlockData)) < indirectOffset+indirectSize || int64(len(patchBlockData)) < ctrExOffset+ctrExSize {
		return nil, nxerr.New(nxerr.InvalidNca, "bktr.NewOverlay", fmt.Errorf("patch block data shorter than declared blocks"))
	}

	indirect, virtualSize, err := parseIndirectBlock(patchBlockData[indirectOffset : indirectOffset+indirectSize])
	if err != nil {
		return nil, err
	}
	ctrEx, err := parseCtrExBlock(patchBlockData[ctrExOffset : ctrExOffset+ctrExSize])
	if err != nil {
		return nil, err
	}

	// Append sentinels so entry[n+1].virtual_offset == virtual_size and
	// entry[n+1].physical_offset == section_size (§4.4 invariants).
	indirect = append(indirect, indirectEntry{VirtualOffset: virtualSize, PhysicalOffset: sectionSize})
	for i := 0; i < len(indirect)-1; i++ {
		indirect[i].size = indirect[i+1].VirtualOffset - indirect[i].VirtualOffset
	}

	ctrEx = append(ctrEx, ctrExEntry{Offset: sectionSize})
	for i := 0; i < len(ctrEx)-1; i++ {
		ctrEx[i].Size = ctrEx[i+1].Offset - ctrEx[i].Offset
	}

	return &Overlay{
		base:     base,
		patch:    patch,
		indirect: indirect,
		ctrEx:    ctrEx,
		size:     virtualSize,
	}, nil
}

// Size returns the virtual patched image's total byte size.
func (o *Overlay) Size() int64 { return o.size }

func parseIndirectBlock(data []byte) ([]indirectEntry, int64, error) {
	if len(data) < blockHeaderSize {
		return nil, 0, nxerr.New(nxerr.InvalidNca, "bktr.parseIndirectBlock", fmt.Errorf("indirect block too small"))
	}
	bucketCount := binary.LittleEndian.Uint32(data[4:8])
	virtualSize := int64(binary.LittleEndian.Uint64(data[8:16]))

	pos := blockHeaderSize
	var entries []indirectEntry
	for b := uint32(0); b < bucketCount; b++ {
		if pos+bucketHeaderSize > len(data) {
			return nil, 0, nxerr.New(nxerr.InvalidNca, "bktr.parseIndirectBlock", fmt.Errorf("truncated indirect bucket %d", b))
		}
		entryCount := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		if entryCount > maxIndirectEntries {
			return nil, 0, nxerr.New(nxerr.InvalidNca, "bktr.parseIndirectBlock", fmt.Errorf("indirect bucket %d entry_count %d exceeds 0x332", b, entryCount))
		}
		entriesStart := pos + bucketHeaderSize
		for e := uint32(0); e < entryCount; e++ {
			off := entriesStart + int(e)*indirectEntryPad
			if off+indirectEntrySize > len(data) {
				return nil, 0, nxerr.New(nxerr.InvalidNca, "bktr.parseIndirectBlock", fmt.Errorf("truncated indirect entry"))
			}
			rec := data[off : off+indirectEntrySize]
			entries = append(entries, indirectEntry{
				VirtualOffset:  int64(binary.LittleEndian.Uint64(rec[0:8])),
				PhysicalOffset: int64(binary.LittleEndian.Uint64(rec[8:16])),
				Storage:        StorageIndex(binary.LittleEndian.Uint32(rec[16:20])),
			})
		}
		pos = entriesStart + int(entryCount)*indirectEntryPad
		// The next bucket header is read immediately after this
		// bucket's last entry; the block's offset table and any
		// reserved bytes after a bucket's entries are not consulted.
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].VirtualOffset < entries[j].VirtualOffset })
	return entries, virtualSize, nil
}

func parseCtrExBlock(data []byte) ([]ctrExEntry, error) {
	if len(data) < blockHeaderSize {
		return nil, nxerr.New(nxerr.InvalidNca, "bktr.parseCtrExBlock", fmt.Errorf("aes_ctr_ex block too small"))
	}
	bucketCount := binary.LittleEndian.Uint32(data[4:8])

	pos := blockHeaderSize
	var entries []ctrExEntry
	for b := uint32(0); b < bucketCount; b++ {
		if pos+bucketHeaderSize > len(data) {
			return nil, nxerr.New(nxerr.InvalidNca, "bktr.parseCtrExBlock", fmt.Errorf("truncated aes_ctr_ex bucket %d", b))
		}
		entryCount := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		if entryCount > maxCtrExEntries {
			return nil, nxerr.New(nxerr.InvalidNca, "bktr.parseCtrExBlock", fmt.Errorf("aes_ctr_ex bucket %d entry_count %d exceeds 0x3FF", b, entryCount))
		}
		entriesStart := pos + bucketHeaderSize
		for e := uint32(0); e < entryCount; e++ {
			off := entriesStart + int(e)*ctrExEntrySize
			if off+ctrExEntrySize > len(data) {
				return nil, nxerr.New(nxerr.InvalidNca, "bktr.parseCtrExBlock", fmt.Errorf("truncated aes_ctr_ex entry"))
			}
			rec := data[off : off+ctrExEntrySize]
			entries = append(entries, ctrExEntry{
				Offset:     int64(binary.LittleEndian.Uint64(rec[0:8])),
				Size:       int64(binary.LittleEndian.Uint32(rec[8:12])),
				Generation: binary.LittleEndian.Uint32(rec[12:16]),
			})
		}
		pos = entriesStart + int(entryCount)*ctrExEntrySize
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Offset < entries[j].Offset })
	return entries, nil
}

// findIndirect returns the indirect entry whose [VirtualOffset,
// VirtualOffset+size) range covers offset (§4.4 step 1, binary search).
func (o *Overlay) findIndirect(offset int64) int {
	i := sort.Search(len(o.indirect), func(i int) bool {
		return o.indirect[i].VirtualOffset > offset
	})
	return i - 1
}

func (o *Overlay) findCtrEx(physOffset int64) int {
	i := sort.Search(len(o.ctrEx), func(i int) bool {
		return o.ctrEx[i].Offset > physOffset
	})
	return i - 1
}

// ReadAt implements io.ReaderAt over the virtual patched image (§4.4
// "Read protocol" steps 1-5).
func (o *Overlay) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= o.size {
		return 0, nxerr.New(nxerr.InvalidNca, "bktr.Overlay.ReadAt", fmt.Errorf("offset out of range"))
	}
	size := int64(len(p))
	if off+size > o.size {
		size = o.size - off
	}
	p = p[:size]

	total := 0
	for total < len(p) {
		idx := o.findIndirect(off + int64(total))
		if idx < 0 || idx >= len(o.indirect)-1 {
			return total, nxerr.New(nxerr.CorruptNca, "bktr.Overlay.ReadAt", fmt.Errorf("no indirect entry covers offset %d", off+int64(total)))
		}
		entry := o.indirect[idx]
		nextVirtual := o.indirect[idx+1].VirtualOffset

		// Split at the next indirect entry boundary (§4.4 step 2).
		remaining := len(p) - total
		chunk := remaining
		if int64(chunk) > nextVirtual-(off+int64(total)) {
			chunk = int(nextVirtual - (off + int64(total)))
		}

		physOffset := entry.PhysicalOffset + (off + int64(total) - entry.VirtualOffset)

		n, err := o.readPhysical(p[total:total+chunk], physOffset, entry.Storage)
		total += n
		if err != nil {
			return total, err
		}
		if n < chunk {
			break
		}
	}
	return total, nil
}

// readPhysical dispatches a single physical-offset range to the base
// NCA's RomFS section (Original) or, split at AES-CTR-Ex boundaries, to
// the update NCA's PatchRomFs section under the matched generation
// counter (Patch) (§4.4 steps 4-5).
func (o *Overlay) readPhysical(p []byte, physOffset int64, storage StorageIndex) (int, error) {
	if storage == StorageOriginal {
		n, err := o.base.ReadAt(p, physOffset)
		if err != nil && err != io.EOF {
			return n, nxerr.New(nxerr.SinkIoError, "bktr.Overlay.readPhysical", err)
		}
		return n, nil
	}

	total := 0
	for total < len(p) {
		idx := o.findCtrEx(physOffset + int64(total))
		if idx < 0 || idx >= len(o.ctrEx)-1 {
			return total, nxerr.New(nxerr.CorruptNca, "bktr.Overlay.readPhysical", fmt.Errorf("no aes_ctr_ex entry covers physical offset %d", physOffset+int64(total)))
		}
		entry := o.ctrEx[idx]
		nextOffset := o.ctrEx[idx+1].Offset

		remaining := len(p) - total
		chunk := remaining
		if int64(chunk) > nextOffset-(physOffset+int64(total)) {
			chunk = int(nextOffset - (physOffset + int64(total)))
		}

		n, err := o.patch.ReadAtWithGeneration(p[total:total+chunk], physOffset+int64(total), entry.Generation)
		total += n
		if err != nil {
			return total, nxerr.New(nxerr.SinkIoError, "bktr.Overlay.readPhysical", err)
		}
		if n < chunk {
			break
		}
	}
	return total, nil
}

// IsRangeUpdated returns true when any indirect entry covering
// [offset, offset+size) has StorageIndex == Patch (§4.4
// "is_file_entry_updated").
func (o *Overlay) IsRangeUpdated(offset, size int64) bool {
	end := offset + size
	for cur := offset; cur < end; {
		idx := o.findIndirect(cur)
		if idx < 0 || idx >= len(o.indirect)-1 {
			return false
		}
		if o.indirect[idx].Storage == StoragePatch {
			return true
		}
		cur = o.indirect[idx+1].VirtualOffset
	}
	return false
}
