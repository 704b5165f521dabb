// Package cnmt implements the content-meta (CNMT) parser and rewriter
// (§4.5): the header/extended-header/content-list/extended-data/digest
// layout that binds a title to its NCAs, plus the two rewrite
// operations the NSP builder needs when a content's ID or hash changes.
//
// Grounded on original_source/source/cnmt.h's
// ContentMetaPackagedContentMetaHeader and per-type extended-header
// structs (the exact on-disk byte layout), and on
// pkg/fs/pfs0.go for the "single-entry PFS, extract by filename" shape
// the meta NCA wraps this blob in.
package cnmt

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

// Type mirrors NcmContentMetaType.
type Type byte

const (
	TypeSystemProgram Type = 0x01
	TypeSystemData    Type = 0x02
	TypeSystemUpdate  Type = 0x03
	TypeBootImagePkg  Type = 0x04
	TypeBootImagePkgSafe Type = 0x05
	TypeApplication   Type = 0x80
	TypePatch         Type = 0x81
	TypeAddOnContent  Type = 0x82
	TypeDelta         Type = 0x83
)

func (t Type) prefix() string {
	switch t {
	case TypeSystemProgram:
		return "SystemProgram"
	case TypeSystemData:
		return "SystemData"
	case TypeSystemUpdate:
		return "SystemUpdate"
	case TypeBootImagePkg:
		return "BootImagePackage"
	case TypeBootImagePkgSafe:
		return "BootImagePackageSafe"
	case TypeApplication:
		return "Application"
	case TypePatch:
		return "Patch"
	case TypeAddOnContent:
		return "AddOnContent"
	case TypeDelta:
		return "Delta"
	default:
		return ""
	}
}

const headerSize = 0x20

// Header is the fixed 0x20-byte ContentMetaPackagedContentMetaHeader.
type Header struct {
	TitleID                     uint64
	Version                     uint32
	ContentMetaType             Type
	ExtendedHeaderSize          uint16
	ContentCount                uint16
	ContentMetaCount            uint16
	ContentMetaAttribute        byte
	StorageID                   byte
	ContentInstallType          byte
	InstallState                byte
	RequiredDownloadSystemVersion uint32
}

// extendedHeaderSize returns the fixed size mandated for typ, or 0 when
// the type carries no extended header at all (§C.2 supplemented sizes
// table).
func extendedHeaderSize(typ Type) int {
	switch typ {
	case TypeSystemUpdate:
		return 4
	case TypeApplication:
		return 16
	case TypePatch:
		return 24
	case TypeAddOnContent:
		return 16
	case TypeDelta:
		return 16
	default:
		return 0
	}
}

// ContentInfo is one NcmPackagedContentInfo record, 0x38 bytes on disk:
// hash[0x20], then id[0x10], a 6-byte little-endian size split across
// size_low(4)/size_high(2), content_type, id_offset (§C.3).
type ContentInfo struct {
	Hash        [32]byte
	ContentID   [16]byte
	Size        uint64 // 48-bit value
	ContentType byte
	IDOffset    byte
}

const contentInfoSize = 0x38

// Context is a parsed CNMT blob (§4.5 "Parse").
type Context struct {
	Header         Header
	ExtendedHeader []byte
	Contents       []ContentInfo
	ExtendedData   []byte
	Digest         [32]byte

	raw []byte // full blob, kept so Rewrite can re-derive offsets
}

// Parse validates and decodes a raw CNMT blob extracted from the meta
// NCA's single-entry PFS (§4.5 "Parse"). filename is the entry's name,
// used to cross-check the embedded title ID and type.
func Parse(raw []byte, filename string) (*Context, error) {
	if len(raw) < headerSize {
		return nil, nxerr.New(nxerr.InvalidCnmt, "cnmt.Parse", fmt.Errorf("blob shorter than header"))
	}

	var h Header
	h.TitleID = binary.LittleEndian.Uint64(raw[0:8])
	h.Version = binary.LittleEndian.Uint32(raw[8:12])
	h.ContentMetaType = Type(raw[12])
	h.ExtendedHeaderSize = binary.LittleEndian.Uint16(raw[14:16])
	h.ContentCount = binary.LittleEndian.Uint16(raw[16:18])
	h.ContentMetaCount = binary.LittleEndian.Uint16(raw[18:20])
	h.ContentMetaAttribute = raw[20]
	h.StorageID = raw[21]
	h.ContentInstallType = raw[22]
	h.InstallState = raw[23]
	h.RequiredDownloadSystemVersion = binary.LittleEndian.Uint32(raw[24:28])

	wantExt := extendedHeaderSize(h.ContentMetaType)
	if int(h.ExtendedHeaderSize) != wantExt {
		return nil, nxerr.New(nxerr.InvalidCnmt, "cnmt.Parse", fmt.Errorf("extended_header_size %d does not match type %v's fixed size %d", h.ExtendedHeaderSize, h.ContentMetaType, wantExt))
	}

	if err := verifyFilename(filename, h.TitleID, h.ContentMetaType); err != nil {
		return nil, err
	}

	pos := headerSize
	if pos+wantExt > len(raw) {
		return nil, nxerr.New(nxerr.InvalidCnmt, "cnmt.Parse", fmt.Errorf("blob shorter than extended header"))
	}
	extHeader := raw[pos : pos+wantExt]
	pos += wantExt

	contentsBytes := int(h.ContentCount) * contentInfoSize
	if pos+contentsBytes > len(raw) {
		return nil, nxerr.New(nxerr.InvalidCnmt, "cnmt.Parse", fmt.Errorf("blob shorter than content list"))
	}
	contents := make([]ContentInfo, h.ContentCount)
	for i := 0; i < int(h.ContentCount); i++ {
		rec := raw[pos+i*contentInfoSize : pos+(i+1)*contentInfoSize]
		var ci ContentInfo
		copy(ci.Hash[:], rec[0:0x20])
		copy(ci.ContentID[:], rec[0x20:0x30])
		sizeLow := binary.LittleEndian.Uint32(rec[0x30:0x34])
		sizeHigh := binary.LittleEndian.Uint16(rec[0x34:0x36])
		ci.Size = uint64(sizeHigh)<<32 | uint64(sizeLow)
		ci.ContentType = rec[0x36]
		ci.IDOffset = rec[0x37]
		contents[i] = ci
	}
	pos += contentsBytes

	// content_meta_info entries (NcmContentMetaInfo, 0x10 bytes each),
	// only present for SystemUpdate; skipped over since this module
	// doesn't expose firmware-variation navigation (§Non-goals).
	pos += int(h.ContentMetaCount) * 0x10

	var extData []byte
	needsExtData := h.ContentMetaType == TypeSystemUpdate || h.ContentMetaType == TypePatch || h.ContentMetaType == TypeDelta
	extDataSize := extendedDataSize(h.ContentMetaType, extHeader)
	if needsExtData && extDataSize == 0 {
		return nil, nxerr.New(nxerr.InvalidCnmt, "cnmt.Parse", fmt.Errorf("type %v requires non-zero extended_data_size", h.ContentMetaType))
	}
	if extDataSize > 0 {
		if pos+extDataSize > len(raw) {
			return nil, nxerr.New(nxerr.InvalidCnmt, "cnmt.Parse", fmt.Errorf("blob shorter than extended data"))
		}
		extData = raw[pos : pos+extDataSize]
		pos += extDataSize
	}

	// Digest placement: the trailing 0x20 bytes of the blob, regardless
	// of type (§C.4).
	if len(raw) < 32 {
		return nil, nxerr.New(nxerr.InvalidCnmt, "cnmt.Parse", fmt.Errorf("blob shorter than digest"))
	}
	var digest [32]byte
	copy(digest[:], raw[len(raw)-32:])

	return &Context{
		Header:         h,
		ExtendedHeader: extHeader,
		Contents:       contents,
		ExtendedData:   extData,
		Digest:         digest,
		raw:            raw,
	}, nil
}

// extendedDataSize reads the 4-byte extended_data_size field carried by
// SystemUpdate/Patch/Delta extended headers at the offset their struct
// places it (§C.2/cnmt.h).
func extendedDataSize(typ Type, extHeader []byte) int {
	switch typ {
	case TypeSystemUpdate:
		if len(extHeader) < 4 {
			return 0
		}
		return int(binary.LittleEndian.Uint32(extHeader[0:4]))
	case TypePatch:
		if len(extHeader) < 16 {
			return 0
		}
		return int(binary.LittleEndian.Uint32(extHeader[12:16]))
	case TypeDelta:
		if len(extHeader) < 12 {
			return 0
		}
		return int(binary.LittleEndian.Uint32(extHeader[8:12]))
	default:
		return 0
	}
}

func verifyFilename(filename string, titleID uint64, typ Type) error {
	want := fmt.Sprintf("%s_%016x.cnmt", typ.prefix(), titleID)
	if typ.prefix() == "" {
		return nxerr.New(nxerr.InvalidCnmt, "cnmt.verifyFilename", fmt.Errorf("unrecognised content_meta_type %#x", byte(typ)))
	}
	if !strings.EqualFold(filename, want) {
		return nxerr.New(nxerr.InvalidCnmt, "cnmt.verifyFilename", fmt.Errorf("filename %q does not match expected %q", filename, want))
	}
	return nil
}

// RequiredApplicationVersion returns the Application extended header's
// required_application_version field (the companion value the NACP
// authoring-tool XML reports alongside its own title version, §C.2's
// Application layout: patch_id(8)+required_system_version(4)+
// required_application_version(4)), or 0 for any other content-meta
// type.
func (c *Context) RequiredApplicationVersion() uint32 {
	if c.Header.ContentMetaType != TypeApplication || len(c.ExtendedHeader) < 16 {
		return 0
	}
	return binary.LittleEndian.Uint32(c.ExtendedHeader[12:16])
}

// RequiredTitleID returns the companion title ID embedded in the
// extended header for Application/Patch/AddOnContent types (cnmt.h's
// cnmtGetRequiredTitleId), or 0 for other types.
func (c *Context) RequiredTitleID() uint64 {
	switch c.Header.ContentMetaType {
	case TypeApplication, TypePatch, TypeAddOnContent:
		if len(c.ExtendedHeader) < 8 {
			return 0
		}
		return binary.LittleEndian.Uint64(c.ExtendedHeader[0:8])
	default:
		return 0
	}
}
