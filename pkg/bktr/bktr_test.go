package bktr

import (
	"encoding/binary"
	"testing"
)

type memReaderAt struct{ b []byte }

func (m *memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.b)) {
		return 0, nil
	}
	n := copy(p, m.b[off:])
	return n, nil
}

type fakePatchSection struct{ b []byte }

func (f *fakePatchSection) ReadAtWithGeneration(p []byte, off int64, generation uint32) (int, error) {
	if off >= int64(len(f.b)) {
		return 0, nil
	}
	n := copy(p, f.b[off:])
	return n, nil
}

func buildIndirectBlock(virtualSize int64, entries []indirectEntry) []byte {
	buf := make([]byte, blockHeaderSize+bucketHeaderSize+len(entries)*indirectEntryPad)
	binary.LittleEndian.PutUint32(buf[4:8], 1) // bucket_count
	binary.LittleEndian.PutUint64(buf[8:16], uint64(virtualSize))

	pos := blockHeaderSize
	binary.LittleEndian.PutUint32(buf[pos+4:pos+8], uint32(len(entries)))
	entriesStart := pos + bucketHeaderSize
	for i, e := range entries {
		off := entriesStart + i*indirectEntryPad
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(e.VirtualOffset))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], uint64(e.PhysicalOffset))
		binary.LittleEndian.PutUint32(buf[off+16:off+20], uint32(e.Storage))
	}
	return buf
}

func buildCtrExBlock(entries []ctrExEntry) []byte {
	buf := make([]byte, blockHeaderSize+bucketHeaderSize+len(entries)*ctrExEntrySize)
	binary.LittleEndian.PutUint32(buf[4:8], 1)
	pos := blockHeaderSize
	binary.LittleEndian.PutUint32(buf[pos+4:pos+8], uint32(len(entries)))
	entriesStart := pos + bucketHeaderSize
	for i, e := range entries {
		off := entriesStart + i*ctrExEntrySize
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(e.Offset))
		binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(e.Size))
		binary.LittleEndian.PutUint32(buf[off+12:off+16], e.Generation)
	}
	return buf
}

func TestOverlayReadsOriginalAndPatchRanges(t *testing.T) {
	base := &memReaderAt{b: []byte("BASEBASEBASEBASE")}
	patch := &fakePatchSection{b: []byte("PATCHPATCHPATCH!")}

	indirect := buildIndirectBlock(16, []indirectEntry{
		{VirtualOffset: 0, PhysicalOffset: 0, Storage: StorageOriginal},
		{VirtualOffset: 8, PhysicalOffset: 0, Storage: StoragePatch},
	})
	ctrEx := buildCtrExBlock([]ctrExEntry{
		{Offset: 0, Generation: 7},
	})

	patchData := append(append([]byte{}, indirect...), ctrEx...)
	indirectOffset, indirectSize := int64(0), int64(len(indirect))
	ctrExOffset, ctrExSize := indirectSize, int64(len(ctrEx))
	sectionSize := indirectSize + ctrExSize

	ov, err := NewOverlay(base, patch, patchData, indirectOffset, indirectSize, ctrExOffset, ctrExSize, sectionSize)
	if err != nil {
		t.Fatalf("NewOverlay: %v", err)
	}
	if ov.Size() != 16 {
		t.Fatalf("expected virtual size 16, got %d", ov.Size())
	}

	buf := make([]byte, 8)
	if _, err := ov.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt original: %v", err)
	}
	if string(buf) != "BASEBASE" {
		t.Fatalf("got %q, want BASEBASE", buf)
	}

	if _, err := ov.ReadAt(buf, 8); err != nil {
		t.Fatalf("ReadAt patch: %v", err)
	}
	if string(buf) != "PATCHPAT" {
		t.Fatalf("got %q, want PATCHPAT", buf)
	}

	if !ov.IsRangeUpdated(8, 4) {
		t.Fatalf("expected range [8,12) to be flagged updated")
	}
	if ov.IsRangeUpdated(0, 4) {
		t.Fatalf("expected range [0,4) to not be flagged updated")
	}
}
