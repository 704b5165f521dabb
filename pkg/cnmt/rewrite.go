package cnmt

import (
	"encoding/binary"
	"fmt"

	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

// UpdateContentInfo locates the content record matching (contentType,
// idOffset), updates its content ID and 6-byte size, and overwrites
// its hash with the one the emitter reports for the mutated NCA
// (§4.5 "update_content_info"). It mutates both the parsed Contents
// slice and the backing raw blob so a subsequent GeneratePfsPatch sees
// the change.
func (c *Context) UpdateContentInfo(contentType byte, idOffset byte, newContentID [16]byte, newSize uint64, newHash [32]byte) error {
	idx := -1
	for i, ci := range c.Contents {
		if ci.ContentType == contentType && ci.IDOffset == idOffset {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nxerr.New(nxerr.InvalidCnmt, "cnmt.UpdateContentInfo", fmt.Errorf("no content record for type %d offset %d", contentType, idOffset))
	}

	c.Contents[idx].ContentID = newContentID
	c.Contents[idx].Size = newSize
	c.Contents[idx].Hash = newHash

	recOffset := c.contentRecordOffset(idx)
	rec := c.raw[recOffset : recOffset+contentInfoSize]
	copy(rec[0:0x20], newHash[:])
	copy(rec[0x20:0x30], newContentID[:])
	binary.LittleEndian.PutUint32(rec[0x30:0x34], uint32(newSize))
	binary.LittleEndian.PutUint16(rec[0x34:0x36], uint16(newSize>>32))

	return nil
}

// contentRecordOffset computes the byte offset of the i-th content
// record within the raw blob (header + extended header precede it).
func (c *Context) contentRecordOffset(i int) int {
	return headerSize + len(c.ExtendedHeader) + i*contentInfoSize
}

// PfsPatch is a (offset, data) pair against the meta NCA's CNMT PFS
// entry, the unit the NSP builder applies as a hash-layer patch during
// the meta NCA's own streaming (§4.5 "generate_pfs_patch").
type PfsPatch struct {
	Offset int64
	Data   []byte
}

// GeneratePfsPatch returns a patch covering the whole raw CNMT blob,
// since any content-record mutation changes bytes that flow into the
// PFS section's hash tree regardless of which single record changed
// (§4.5 "produces a PFS-entry patch against the meta NCA").
func (c *Context) GeneratePfsPatch() PfsPatch {
	data := make([]byte, len(c.raw))
	copy(data, c.raw)
	return PfsPatch{Offset: 0, Data: data}
}

// RawSize returns the total byte length of the raw CNMT blob, the size
// the owning PFS entry must already have (mutation never changes size).
func (c *Context) RawSize() int64 { return int64(len(c.raw)) }
