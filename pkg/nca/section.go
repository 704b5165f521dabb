package nca

import (
	"errors"
	"io"

	"github.com/nxarchive/nxarchive/internal/swcrypto"
	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

var (
	errUnsupportedLayer      = errors.New("section has a sparse or compression layer and no external decoder is attached")
	errOutOfRange            = errors.New("read offset out of section range")
	errUnsupportedEncryption = errors.New("unsupported section encryption type")
	errMissingTitlekey       = errors.New("content key not resolved")
)

func wrapReadErr(err error) error {
	if err == nil {
		return nil
	}
	return nxerr.New(nxerr.SinkIoError, "nca.FsSection", err)
}

// FsSection is one of an NCA's up-to-four FS-section sub-contexts
// (§3.1 "FS section context").
type FsSection struct {
	owner          *Context
	Index          int
	Offset         int64 // NCA-absolute (media_start_offset * 0x200)
	Size           int64
	Encryption     EncryptionType
	Hash           HashType
	Type           SectionType
	ctrCounterSeed [8]byte
	hasSparse      bool
	hasCompression bool
}

// buildSections populates ctx.sections from the header's section table
// and FS headers (§4.1 "Section contexts").
func (c *Context) buildSections() error {
	for i := 0; i < numFsSections; i++ {
		entry := c.Header.Sections[i]
		if entry.MediaStartOffset == 0 && entry.MediaEndOffset == 0 {
			continue
		}

		fh := c.Header.FsHeaders[i]
		offset := int64(entry.MediaStartOffset) * MediaUnitSize
		end := int64(entry.MediaEndOffset) * MediaUnitSize

		// MediaStartOffset/MediaEndOffset are media-unit counts
		// already relative to the start of the NCA (they count the
		// 0xC00-byte header block), so Offset is just the scaled start.
		sec := &FsSection{
			owner:          c,
			Index:          i,
			Offset:         offset,
			Size:           end - offset,
			Encryption:     fh.encryptionType,
			Hash:           fh.hashType,
			ctrCounterSeed: fh.ctrCounterSeed,
			hasSparse:      fh.hasSparseLayer,
			hasCompression: fh.hasCompression,
		}
		sec.Type = classifySectionType(fh, i)

		c.sections[i] = sec
	}
	return nil
}

// classifySectionType derives the section-type classification from
// format type, hash type and encryption type (§4.1).
func classifySectionType(fh rawFsHeader, index int) SectionType {
	switch {
	case fh.encryptionType == EncryptionAesCtrEx || fh.encryptionType == EncryptionAesCtrExSkipLayerHash:
		return SectionPatchRomFs
	case fh.hashType == HashHierarchicalIntegrity:
		return SectionRomFs
	case fh.hashType == HashHierarchicalSha256 || fh.hashType == HashSha256:
		return SectionPartitionFs
	default:
		return SectionInvalid
	}
}

// baseIV builds the 16-byte AES-CTR base counter from the FS header's
// 8-byte counter seed: high 8 bytes, reversed (the on-disk format's
// buildBaseIV), low 8 bytes left for the block index.
func (s *FsSection) baseIV() []byte {
	iv := make([]byte, 16)
	copy(iv[8:], s.ctrCounterSeed[:])
	for i, j := 0, 15; i < j; i, j = i+1, j-1 {
		iv[i], iv[j] = iv[j], iv[i]
	}
	return iv
}

// ReadAt implements io.ReaderAt over this section's plaintext bytes
// (§4.1 "Reading", the read_section steps).
func (s *FsSection) ReadAt(p []byte, off int64) (int, error) {
	if s.hasSparse || s.hasCompression {
		return 0, nxerr.New(nxerr.UnsupportedNca, "nca.FsSection.ReadAt", errUnsupportedLayer)
	}
	if off < 0 || off >= s.Size {
		return 0, nxerr.New(nxerr.InvalidNca, "nca.FsSection.ReadAt", errOutOfRange)
	}

	size := int64(len(p))
	if off+size > s.Size {
		size = s.Size - off
	}
	p = p[:size]

	contentOffset := s.Offset + off

	switch s.Encryption {
	case EncryptionNone:
		n, err := s.owner.contentReader.ReadAt(p, contentOffset)
		return n, wrapReadErr(err)

	case EncryptionAesCtr, EncryptionAesCtrSkipLayerHash:
		return s.readCTR(p, contentOffset, s.baseIV(), 0)

	case EncryptionAesCtrEx, EncryptionAesCtrExSkipLayerHash:
		// Only reached directly when the caller already knows the
		// generation for this byte range; the BKTR package is the
		// only caller that exercises this path (§4.1 rule 4), via
		// ReadAtWithGeneration below.
		return s.readCTR(p, contentOffset, s.baseIV(), 0)

	default:
		return 0, nxerr.New(nxerr.UnsupportedNca, "nca.FsSection.ReadAt", errUnsupportedEncryption)
	}
}

// ReadAtWithGeneration is ReadAt for AesCtrEx ranges, where the BKTR
// overlay supplies the per-range generation counter to mix into the
// nonce's upper 32 bits (§4.1 rule 4, §4.4 rule 5).
func (s *FsSection) ReadAtWithGeneration(p []byte, off int64, generation uint32) (int, error) {
	if off < 0 || off >= s.Size {
		return 0, nxerr.New(nxerr.InvalidNca, "nca.FsSection.ReadAtWithGeneration", errOutOfRange)
	}
	size := int64(len(p))
	if off+size > s.Size {
		size = s.Size - off
	}
	p = p[:size]
	contentOffset := s.Offset + off
	return s.readCTR(p, contentOffset, s.baseIV(), generation)
}

func (s *FsSection) readCTR(p []byte, contentOffset int64, baseIV []byte, generation uint32) (int, error) {
	if s.owner.titlekey == nil {
		return 0, nxerr.New(nxerr.MissingKey, "nca.FsSection.readCTR", errMissingTitlekey)
	}

	// Unaligned reads: widen to the enclosing 16-byte block, decrypt,
	// slice back down (§4.1 rule 5).
	blockStart := contentOffset &^ 0xF
	lead := int(contentOffset - blockStart)
	total := lead + len(p)
	aligned := (total + 0xF) &^ 0xF

	buf := make([]byte, aligned)
	n, err := s.owner.contentReader.ReadAt(buf, blockStart)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, wrapReadErr(err)
	}
	if n == 0 {
		return 0, wrapReadErr(err)
	}
	buf = buf[:n]
	if len(buf) < lead {
		return 0, wrapReadErr(errors.New("short read below lead-in bytes"))
	}

	counter := baseIV
	if generation != 0 {
		counter = swcrypto.CTRExCounter(baseIV, generation)
	}

	stream, serr := swcrypto.CTRStream(s.owner.titlekey, counter, blockStart)
	if serr != nil {
		return 0, nxerr.New(nxerr.InvalidNca, "nca.FsSection.readCTR", serr)
	}
	dec := make([]byte, len(buf))
	stream.XORKeyStream(dec, buf)

	avail := len(dec) - lead
	if avail > len(p) {
		avail = len(p)
	}
	if avail < 0 {
		avail = 0
	}
	copy(p, dec[lead:lead+avail])
	return avail, nil
}

// ContentAbsoluteOffset converts a section-relative plaintext offset
// into a content-absolute offset, used by callers (BKTR) that need to
// address the raw content reader directly.
func (s *FsSection) ContentAbsoluteOffset(sectionRelative int64) int64 {
	return s.Offset + sectionRelative
}

// RawContentReader exposes the owning NCA's raw encrypted byte-range
// reader, for callers (BKTR's Original-storage path) that must read the
// base NCA's RomFS section directly.
func (s *FsSection) RawContentReader() interface {
	ReadAt(p []byte, off int64) (int, error)
} {
	return s.owner.contentReader
}

// Titlekey exposes the resolved content key for callers (BKTR) that
// need to build their own CTR streams against a physical offset this
// section doesn't itself own.
func (s *FsSection) Titlekey() []byte { return s.owner.titlekey }

// BaseIV exposes the section's base AES-CTR counter.
func (s *FsSection) BaseIV() []byte { return s.baseIV() }
