package pfs

import (
	"bytes"
	"testing"
)

type memSection struct{ b []byte }

func (m *memSection) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.b)) {
		return 0, nil
	}
	n := copy(p, m.b[off:])
	return n, nil
}

func TestBuilderRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.Add("00.nca", 5)
	b.Add("01.cnmt.nca", 3)

	header, err := b.WriteHeaderToBuffer()
	if err != nil {
		t.Fatalf("WriteHeaderToBuffer: %v", err)
	}
	if len(header)%0x20 != 0 {
		t.Fatalf("header not 0x20-aligned: %d", len(header))
	}

	payload := append(append([]byte{}, "hello"...), "abc"...)
	full := append(append([]byte{}, header...), payload...)

	r, err := Open(&memSection{b: full}, int64(len(full)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r.EntryCount() != 2 {
		t.Fatalf("expected 2 entries, got %d", r.EntryCount())
	}

	e, ok := r.GetEntryByName("00.nca")
	if !ok {
		t.Fatalf("missing 00.nca entry")
	}
	buf := make([]byte, e.Size)
	if _, err := r.ReadEntryData(e, buf, 0); err != nil {
		t.Fatalf("ReadEntryData: %v", err)
	}
	if !bytes.Equal(buf, []byte("hello")) {
		t.Fatalf("got %q, want hello", buf)
	}
}

func TestUpdateEntryName(t *testing.T) {
	b := NewBuilder()
	b.Add("old.nca", 4)
	if err := b.UpdateEntryName(0, "new.nca"); err != nil {
		t.Fatalf("UpdateEntryName: %v", err)
	}
	header, err := b.WriteHeaderToBuffer()
	if err != nil {
		t.Fatalf("WriteHeaderToBuffer: %v", err)
	}
	if !bytes.Contains(header, []byte("new.nca")) {
		t.Fatalf("renamed entry not found in header")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	bad := make([]byte, 0x20)
	copy(bad, "XXXX")
	if _, err := Open(&memSection{b: bad}, int64(len(bad))); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}
