package cnmt

import (
	"encoding/binary"
	"fmt"
	"testing"
)

func buildApplicationCnmt(titleID uint64, contentID [16]byte, size uint64) []byte {
	buf := make([]byte, headerSize+16+contentInfoSize+32)
	binary.LittleEndian.PutUint64(buf[0:8], titleID)
	buf[12] = byte(TypeApplication)
	binary.LittleEndian.PutUint16(buf[14:16], 16) // extended_header_size
	binary.LittleEndian.PutUint16(buf[16:18], 1)  // content_count

	// extended header: patch_id(8) + required_system_version(4) + required_application_version(4)
	binary.LittleEndian.PutUint64(buf[headerSize:headerSize+8], titleID+1)

	rec := buf[headerSize+16 : headerSize+16+contentInfoSize]
	copy(rec[0x20:0x30], contentID[:])
	binary.LittleEndian.PutUint32(rec[0x30:0x34], uint32(size))
	rec[0x36] = 1 // Program

	return buf
}

func TestParseApplicationCnmt(t *testing.T) {
	var cid [16]byte
	cid[0] = 0xAB
	raw := buildApplicationCnmt(0x01001, cid, 12345)
	filename := fmt.Sprintf("Application_%016x.cnmt", uint64(0x01001))

	ctx, err := Parse(raw, filename)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ctx.Header.ContentMetaType != TypeApplication {
		t.Fatalf("wrong type: %v", ctx.Header.ContentMetaType)
	}
	if len(ctx.Contents) != 1 {
		t.Fatalf("expected 1 content record, got %d", len(ctx.Contents))
	}
	if ctx.Contents[0].Size != 12345 {
		t.Fatalf("wrong size: %d", ctx.Contents[0].Size)
	}
	if ctx.RequiredTitleID() != 0x01001+1 {
		t.Fatalf("wrong required title id: %x", ctx.RequiredTitleID())
	}
}

func TestParseRejectsFilenameMismatch(t *testing.T) {
	var cid [16]byte
	raw := buildApplicationCnmt(0x01001, cid, 10)
	if _, err := Parse(raw, "Application_0000000000000999.cnmt"); err == nil {
		t.Fatalf("expected filename mismatch error")
	}
}

func TestUpdateContentInfo(t *testing.T) {
	var cid [16]byte
	raw := buildApplicationCnmt(0x01001, cid, 10)
	filename := fmt.Sprintf("Application_%016x.cnmt", uint64(0x01001))
	ctx, err := Parse(raw, filename)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var newID [16]byte
	newID[0] = 0xFF
	var newHash [32]byte
	newHash[0] = 0x11

	if err := ctx.UpdateContentInfo(1, 0, newID, 999, newHash); err != nil {
		t.Fatalf("UpdateContentInfo: %v", err)
	}
	if ctx.Contents[0].Size != 999 {
		t.Fatalf("size not updated")
	}

	patch := ctx.GeneratePfsPatch()
	if len(patch.Data) != len(raw) {
		t.Fatalf("patch size mismatch")
	}
}
