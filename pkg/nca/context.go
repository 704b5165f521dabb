package nca

import (
	"fmt"
	"io"

	"github.com/nxarchive/nxarchive/internal/swcrypto"
	"github.com/nxarchive/nxarchive/pkg/keyset"
	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

// HashLayerPatch is a (offset, bytes) pair against a section's
// plaintext-relative byte range, applied while the section streams
// through the NSP builder (§4.1 mutation rule iii).
type HashLayerPatch struct {
	SectionIndex int
	Offset       int64
	Data         []byte
}

// Context represents one opened NCA (§3.1 "NCA context").
type Context struct {
	ContentID     [0x10]byte
	ContentSize   int64
	ContentType   ContentType
	IDOffset      uint8
	TitleID       uint64
	TitleVersion  uint32
	TitleType     TitleType
	Header        *Header
	sections      [numFsSections]*FsSection
	titlekey      []byte // resolved content key, nil if unavailable
	rightsIDKeyed bool   // true if this NCA uses an external titlekey

	contentReader io.ReaderAt // raw encrypted bytes, content-relative offsets

	// pending mutations, applied by WriteEncryptedHeaderToBuffer.
	distDownload       bool
	removeTitlekeyCrypt bool
	headerWritten       bool
	hashPatches         []HashLayerPatch
	hashPatchesWritten  map[int]bool

	// reported after the full content has streamed through the NSP
	// builder; zero value until SetEmittedHash is called.
	emittedHash [32]byte
	mutated     bool
}

// NewContext initialises an NCA context from an encrypted content
// reader (§4.1 "Initialisation").
func NewContext(contentReader io.ReaderAt, contentID [0x10]byte, contentSize int64, contentType ContentType, idOffset uint8, titleID uint64, titleVersion uint32, titleType TitleType, keys keyset.Oracle) (*Context, error) {
	headerKey, ok := keys.HeaderKey()
	if !ok {
		return nil, nxerr.New(nxerr.MissingKey, "nca.NewContext", fmt.Errorf("header_key not available"))
	}

	header, err := parseHeader(contentReader, headerKey)
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		ContentID:          contentID,
		ContentSize:        contentSize,
		ContentType:        contentType,
		IDOffset:           idOffset,
		TitleID:            titleID,
		TitleVersion:       titleVersion,
		TitleType:          titleType,
		Header:             header,
		contentReader:      contentReader,
		hashPatchesWritten: make(map[int]bool),
	}

	if err := ctx.resolveContentKey(keys); err != nil {
		// Missing titlekey is not fatal at this layer: the caller
		// (the NSP builder) decides whether to skip mutation and copy
		// the NCA raw, or to surface the error (§4.8 step 3).
		if k, ok := nxerr.KindOf(err); !ok || k != nxerr.MissingKey {
			return nil, err
		}
	}

	if err := ctx.buildSections(); err != nil {
		return nil, err
	}

	return ctx, nil
}

// resolveContentKey derives the per-NCA content key per §4.1: rights-ID
// titlekey when present, otherwise the key-area entry.
func (c *Context) resolveContentKey(keys keyset.Oracle) error {
	gen := c.Header.EffectiveKeyGeneration()

	if c.Header.HasRightsID() {
		c.rightsIDKeyed = true
		tk, ok := keys.TitlekeyForRightsID(c.Header.RightsID)
		if !ok {
			return nxerr.New(nxerr.MissingKey, "nca.resolveContentKey", fmt.Errorf("no titlekey for rights ID %x", c.Header.RightsID))
		}
		c.titlekey = tk
		return nil
	}

	var index keyset.KeyAreaKeyIndex
	switch c.Header.KeyAreaIndexByte {
	case 0:
		index = keyset.KeyAreaApplication
	case 1:
		index = keyset.KeyAreaOcean
	case 2:
		index = keyset.KeyAreaSystem
	default:
		return nxerr.New(nxerr.InvalidNca, "nca.resolveContentKey", fmt.Errorf("unknown key_area_key_index %d", c.Header.KeyAreaIndexByte))
	}

	kak, ok := keys.KeyAreaKey(gen, index)
	if !ok {
		return nxerr.New(nxerr.MissingKey, "nca.resolveContentKey", fmt.Errorf("no key_area_key for generation %d", gen))
	}

	// Key area entry 2 (offset 0x20) carries the AES-CTR content key,
	// regardless of which of the three KAK slots unwraps it (§4.1).
	wrapped := c.Header.KeyArea[0x20:0x30]
	tk, err := swcrypto.ECBDecrypt(wrapped, kak)
	if err != nil {
		return nxerr.New(nxerr.MissingKey, "nca.resolveContentKey", err)
	}
	c.titlekey = tk
	return nil
}

// HasContentKey reports whether a content key was successfully resolved.
func (c *Context) HasContentKey() bool { return c.titlekey != nil }

// ReadContentFile reads content-relative raw encrypted bytes with no
// section indirection, the "section-less read_content_file" the NSP
// builder streams through while re-encrypting the header/hash-layer
// patches in place (§4.1, §4.8 streaming phase step 2).
func (c *Context) ReadContentFile(p []byte, off int64) (int, error) {
	return c.contentReader.ReadAt(p, off)
}

// Section returns the FS-section sub-context at idx, or nil if absent.
func (c *Context) Section(idx int) *FsSection {
	if idx < 0 || idx >= numFsSections {
		return nil
	}
	return c.sections[idx]
}

// ContentIDString formats the content ID the way on-disk filenames do:
// lowercase hex, no separators (§6.2).
func (c *Context) ContentIDString() string {
	return fmt.Sprintf("%032x", c.ContentID)
}

// sha256ContentID derives a content ID from an emitted-byte hash, the
// first 16 bytes of its SHA-256 (§4.1 "write-side emission").
func sha256ContentID(hash [32]byte) [0x10]byte {
	var id [0x10]byte
	copy(id[:], hash[:0x10])
	return id
}
