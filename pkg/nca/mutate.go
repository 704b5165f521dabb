package nca

import (
	"github.com/nxarchive/nxarchive/internal/swcrypto"
)

// SetDistributionDownload flips the distribution-type byte to Download,
// the first of the three permitted header mutations (§4.1 mutation i).
func (c *Context) SetDistributionDownload() {
	c.Header.DistType = DistributionDownload
	c.mutated = true
}

// RemoveTitlekeyCrypto clears the rights ID and titlekey-crypto
// indicator so the NCA can be re-emitted with standard crypto instead
// of external titlekey crypto (§4.1 mutation ii). The caller is
// responsible for decrypting the body with the resolved titlekey and
// re-encrypting it with a standard key area entry while streaming;
// this method only marks the header for rewrite.
func (c *Context) RemoveTitlekeyCrypto() {
	c.Header.RightsID = [0x10]byte{}
	c.removeTitlekeyCrypt = true
	c.mutated = true
}

// AddHashLayerPatch registers a hash-layer patch against a section's
// plaintext-relative byte range (§4.1 mutation iii), applied while that
// section streams through the NSP builder.
func (c *Context) AddHashLayerPatch(sectionIndex int, offset int64, data []byte) {
	c.hashPatches = append(c.hashPatches, HashLayerPatch{
		SectionIndex: sectionIndex,
		Offset:       offset,
		Data:         data,
	})
	c.mutated = true
}

// IsMutated reports whether any header or hash-layer mutation is pending.
func (c *Context) IsMutated() bool { return c.mutated }

// WriteEncryptedHeaderToBuffer re-encrypts the (possibly mutated)
// 0xC00-byte header block and overlays any pending hash-layer patches
// onto buf, which represents windowOffset..windowOffset+len(buf) of the
// content-relative emitted byte stream (§4.1 "Write-side emission",
// DESIGN NOTES "In-place header mutation while streaming"). Idempotent
// across repeated/overlapping windows.
func (c *Context) WriteEncryptedHeaderToBuffer(buf []byte, windowOffset int64, headerKey []byte) error {
	windowEnd := windowOffset + int64(len(buf))

	if windowOffset < HeaderStructSize && windowEnd > 0 {
		if err := c.overlayHeader(buf, windowOffset, headerKey); err != nil {
			return err
		}
	}

	for i, patch := range c.hashPatches {
		sec := c.sections[patch.SectionIndex]
		if sec == nil {
			continue
		}
		patchStart := sec.ContentAbsoluteOffset(patch.Offset)
		patchEnd := patchStart + int64(len(patch.Data))
		if patchEnd <= windowOffset || patchStart >= windowEnd {
			continue
		}
		overlayRange(buf, windowOffset, patch.Data, patchStart)
		c.hashPatchesWritten[i] = true
	}

	return nil
}

// overlayHeader rebuilds the plaintext header (applying pending field
// mutations), re-encrypts it sector by sector, and copies the
// intersection with [windowOffset, windowOffset+len(buf)) into buf.
func (c *Context) overlayHeader(buf []byte, windowOffset int64, headerKey []byte) error {
	plain := make([]byte, HeaderStructSize)
	copy(plain, c.Header.raw[:])

	// Main header block starts at 0x200 within the decrypted buffer.
	plain[0x200+4] = byte(c.Header.DistType)
	copy(plain[0x200+0x30:0x200+0x40], c.Header.RightsID[:])

	enc, err := xtsEncryptBlocks(plain, headerKey)
	if err != nil {
		return err
	}

	overlayRange(buf, windowOffset, enc, 0)
	c.headerWritten = true
	return nil
}

// overlayRange copies src (which represents absolute bytes
// [srcAbsOffset, srcAbsOffset+len(src))) onto dst (which represents
// absolute bytes [dstAbsOffset, dstAbsOffset+len(dst))), writing only
// the overlapping region. Used for both the header overlay and
// hash-layer patch overlay so the "intersect two absolute byte ranges"
// logic lives in exactly one place.
func overlayRange(dst []byte, dstAbsOffset int64, src []byte, srcAbsOffset int64) {
	dstEnd := dstAbsOffset + int64(len(dst))
	srcEnd := srcAbsOffset + int64(len(src))

	start := dstAbsOffset
	if srcAbsOffset > start {
		start = srcAbsOffset
	}
	end := dstEnd
	if srcEnd < end {
		end = srcEnd
	}
	if start >= end {
		return
	}

	copy(dst[start-dstAbsOffset:end-dstAbsOffset], src[start-srcAbsOffset:end-srcAbsOffset])
}

// SetEmittedHash records the SHA-256 computed over the bytes actually
// emitted to the sink for this content (§4.1 "After a full NCA has
// streamed"), and derives a new content ID when the NCA was mutated.
func (c *Context) SetEmittedHash(hash [32]byte) {
	c.emittedHash = hash
	if c.mutated {
		c.ContentID = sha256ContentID(hash)
	}
}

// EmittedHash returns the hash set by SetEmittedHash.
func (c *Context) EmittedHash() [32]byte { return c.emittedHash }

// reencryptKeyArea re-wraps the resolved titlekey back into the NCA's
// key area under a (possibly different) key-area key, used when
// removing titlekey crypto so the standard-crypto path has a key area
// entry to decrypt back out of (kept for completeness of the
// RemoveTitlekeyCrypto contract; not required by any Non-goal'd feature).
func (c *Context) reencryptKeyArea(kak []byte) error {
	wrapped, err := swcrypto.ECBEncrypt(c.titlekey, kak)
	if err != nil {
		return err
	}
	copy(c.Header.KeyArea[0x20:0x30], wrapped)
	return nil
}
