// Package nca implements the NCA container: header decrypt, FS-section
// exposure, plaintext section reads, and the in-place header/hash-layer
// mutation + re-encryption path the NSP builder streams through (§4.1).
// Grounded on pkg/fs/nca_header.go and pkg/fs/nca.go,
// generalised from "read-only, compress to NCZ" to "read, optionally
// mutate, re-emit while streaming to a PFS".
package nca

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nxarchive/nxarchive/internal/swcrypto"
	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

const (
	HeaderStructSize = 0xC00  // decrypted fixed header block
	FullHeaderSize   = 0x400  // main header (signatures + fixed fields), before the four FS headers
	MediaUnitSize    = 0x200  // sector / media unit size
	sectorSize       = 0x200
	numFsSections    = 4
)

// ContentType mirrors NcmContentType.
type ContentType byte

const (
	ContentMeta ContentType = iota
	ContentProgram
	ContentData
	ContentControl
	ContentHtmlDocument
	ContentLegalInformation
	ContentDeltaFragment
)

// DistributionType mirrors NcaDistributionType.
type DistributionType byte

const (
	DistributionSystem DistributionType = iota
	DistributionGamecard
	DistributionDownload
)

// TitleType mirrors the title type recorded by the owning title's meta key.
type TitleType byte

// EncryptionType classifies how an FS section's body is encrypted.
type EncryptionType byte

const (
	EncryptionNone EncryptionType = iota
	EncryptionAesXts
	EncryptionAesCtr
	EncryptionAesCtrEx
	EncryptionAesCtrSkipLayerHash
	EncryptionAesCtrExSkipLayerHash
)

// HashType classifies an FS section's integrity layer.
type HashType byte

const (
	HashNone HashType = iota
	HashSha256
	HashHierarchicalSha256
	HashHierarchicalIntegrity
)

// SectionType classifies an FS section by its contents.
type SectionType byte

const (
	SectionInvalid SectionType = iota
	SectionPartitionFs
	SectionRomFs
	SectionPatchRomFs
	SectionNca0RomFs
)

const (
	magicNCA3 = "NCA3"
	magicNCA2 = "NCA2"
	magicNCA0 = "NCA0"
)

// sectionTableEntry is the on-disk 0x10-byte section table record.
type sectionTableEntry struct {
	MediaStartOffset uint32
	MediaEndOffset   uint32
	_                uint32
	_                uint32
}

// rawFsHeader is the on-disk 0x200-byte FS header, only the fields this
// module needs to act on are kept named; everything else is read as
// raw bytes so hash-layer patch offsets can still address it.
type rawFsHeader struct {
	raw              [0x200]byte
	version          uint16
	formatType       uint8
	hashType         HashType
	encryptionType   EncryptionType
	ctrCounterSeed   [8]byte
	hashTableOffset  uint32
	hashTableSize    uint32
	patchInfoOffset  uint64
	patchInfoSize    uint64
	sparseInfoOffset uint64
	sparseInfoSize   uint64
	hasSparseLayer   bool
	hasCompression   bool
}

// Header is the decrypted 0xC00-byte NCA header plus its four FS
// section headers (§3.1 "NCA context").
type Header struct {
	Magic            [4]byte
	DistType         DistributionType
	ContentType      ContentType
	KeyGeneration    byte
	KeyAreaIndexByte byte
	ContentSize      uint64
	ProgramID        uint64
	ContentIndex     uint32
	SdkVersion       uint32
	KeyGeneration2   byte
	RightsID         [0x10]byte
	Sections         [numFsSections]sectionTableEntry
	FsHeaders        [numFsSections]rawFsHeader
	KeyArea          [0x40]byte

	raw [HeaderStructSize]byte
}

// EffectiveKeyGeneration returns max(KeyGeneration, KeyGeneration2) - 1,
// floored at 0, the index used to look up key-area/titlekek keys.
func (h *Header) EffectiveKeyGeneration() int {
	gen := int(h.KeyGeneration)
	if int(h.KeyGeneration2) > gen {
		gen = int(h.KeyGeneration2)
	}
	gen--
	if gen < 0 {
		gen = 0
	}
	return gen
}

// HasRightsID reports whether this NCA uses external titlekey crypto.
func (h *Header) HasRightsID() bool {
	var zero [0x10]byte
	return h.RightsID != zero
}

// parseHeader decrypts and validates the fixed 0xC00-byte header block
// read from r at offset 0, using AES-XTS-128 with sector-indexed tweak
// starting at sector 0 (§3.2 invariant).
func parseHeader(r io.ReaderAt, headerKey []byte) (*Header, error) {
	enc := make([]byte, HeaderStructSize)
	if _, err := r.ReadAt(enc, 0); err != nil {
		return nil, nxerr.New(nxerr.InvalidNca, "nca.parseHeader", err)
	}

	dec, err := xtsDecryptBlocks(enc, headerKey)
	if err != nil {
		return nil, nxerr.New(nxerr.InvalidNca, "nca.parseHeader", err)
	}

	var h Header
	copy(h.raw[:], dec)

	mainBlock := dec[0x200:0x340]
	copy(h.Magic[:], mainBlock[0:4])
	magic := string(h.Magic[:])
	if magic != magicNCA3 && magic != magicNCA2 && magic != magicNCA0 {
		return nil, nxerr.New(nxerr.InvalidNca, "nca.parseHeader", fmt.Errorf("bad magic %q", magic))
	}
	if magic != magicNCA3 {
		// §9 Open Questions: NCA2/NCA0 layout variants aren't exercised
		// by any sample in this corpus; rather than guess at their
		// section-table offsets we refuse instead of silently
		// mis-parsing one.
		return nil, nxerr.New(nxerr.UnsupportedNca, "nca.parseHeader", fmt.Errorf("NCA layout variant %q not supported", magic))
	}

	h.DistType = DistributionType(mainBlock[4])
	h.ContentType = ContentType(mainBlock[5])
	h.KeyGeneration = mainBlock[6]
	h.KeyAreaIndexByte = mainBlock[7]
	h.ContentSize = binary.LittleEndian.Uint64(mainBlock[8:16])
	h.ProgramID = binary.LittleEndian.Uint64(mainBlock[16:24])
	h.ContentIndex = binary.LittleEndian.Uint32(mainBlock[24:28])
	h.SdkVersion = binary.LittleEndian.Uint32(mainBlock[28:32])
	h.KeyGeneration2 = mainBlock[32]
	copy(h.RightsID[:], mainBlock[0x30:0x40])

	secReader := bytes.NewReader(dec[0x240:0x300])
	if err := binary.Read(secReader, binary.LittleEndian, &h.Sections); err != nil {
		return nil, nxerr.New(nxerr.InvalidNca, "nca.parseHeader", err)
	}
	copy(h.KeyArea[:], dec[0x300:0x340])

	for i := 0; i < numFsSections; i++ {
		off := 0x400 + i*0x200
		data := dec[off : off+0x200]
		var fh rawFsHeader
		copy(fh.raw[:], data)
		fh.version = binary.LittleEndian.Uint16(data[0:2])
		fh.formatType = data[2]
		fh.hashType = HashType(data[3])
		fh.encryptionType = EncryptionType(data[4])
		copy(fh.ctrCounterSeed[:], data[0x140:0x148])

		// Hash-layer table location: offset 0x8/0x48 differ by
		// hash type, but both variants this module supports keep a
		// (offset,size) pair at 0x8.
		fh.hashTableOffset = binary.LittleEndian.Uint32(data[0x8:0xC])
		fh.hashTableSize = binary.LittleEndian.Uint32(data[0xC:0x10])

		// Sparse/compression layer presence flags: any non-zero value
		// in the byte at 0x140+8 and 0x140+9 respectively (conservative probe;
		// absent in the NCA3 variants this corpus exercises, so this
		// only ever disables the fast-path "no decoder attached" case
		// spec.md requires us to fail on, §4.1 rule 1).
		fh.hasSparseLayer = data[0x148] != 0
		fh.hasCompression = data[0x149] != 0

		if fh.encryptionType == EncryptionAesCtrEx || fh.encryptionType == EncryptionAesCtrExSkipLayerHash {
			fh.patchInfoOffset = binary.LittleEndian.Uint64(data[0x100:0x108])
			fh.patchInfoSize = binary.LittleEndian.Uint64(data[0x108:0x110])
		}

		h.FsHeaders[i] = fh
	}

	return &h, nil
}

// xtsDecryptBlocks decrypts data sector-by-sector (0x200 bytes) with
// AES-XTS-128, sector index starting at 0 for the first sector of data.
func xtsDecryptBlocks(data, key []byte) ([]byte, error) {
	out := make([]byte, len(data))
	for i := 0; i*sectorSize < len(data); i++ {
		start := i * sectorSize
		end := start + sectorSize
		chunk, err := swcrypto.XTSDecrypt(data[start:end], key, uint64(i))
		if err != nil {
			return nil, err
		}
		copy(out[start:end], chunk)
	}
	return out, nil
}

// xtsEncryptBlocks is xtsDecryptBlocks's mirror, used to re-encrypt a
// mutated header before it is patched back into the emitted stream.
func xtsEncryptBlocks(data, key []byte) ([]byte, error) {
	out := make([]byte, len(data))
	for i := 0; i*sectorSize < len(data); i++ {
		start := i * sectorSize
		end := start + sectorSize
		chunk, err := swcrypto.XTSEncrypt(data[start:end], key, uint64(i))
		if err != nil {
			return nil, err
		}
		copy(out[start:end], chunk)
	}
	return out, nil
}

// HeaderHashMatches verifies an FS-section header's SHA-256 against the
// value embedded in the main header, when the platform stores one. This
// module doesn't have a separate "section header hash" field in the
// compact Header struct above (NCA3 stores it inline in reserved bytes
// the corpus samples retrieved here don't exercise); it is kept as a
// named hook so callers that do have the field (via a fuller keys file)
// can wire verification without changing call sites.
func HeaderHashMatches(declared, computed [32]byte) bool {
	return declared == computed
}

// sha256Of is a small helper kept here instead of inlined at each call
// site across this package.
func sha256Of(b []byte) [32]byte {
	return sha256.Sum256(b)
}
