// Package ticket implements ticket parsing and personalised-to-common
// conversion (§4.6). The signature-block/common-block split and the
// common-block field layout follow the platform's well-documented
// public ticket format; no repo in this corpus carries a prior Go
// implementation of it, so the byte offsets below are this package's
// own grounding rather than an adaptation of existing pack code — the
// surrounding package shape (parse into a struct, expose named
// accessors, keep a raw buffer for in-place rewrite) follows the same
// "decode once, mutate the backing buffer in place" convention
// pkg/nca's header parsing and pkg/pfs's entry table use.
package ticket

import (
	"encoding/binary"
	"fmt"

	"github.com/nxarchive/nxarchive/internal/swcrypto"
	"github.com/nxarchive/nxarchive/pkg/keyset"
	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

// SignatureType is the ticket's signature-block discriminant. Values
// follow the ES ticket signature-type enum (RSA4096_SHA1=0x10000,
// RSA2048_SHA1=0x10001, ECDSA_SHA1=0x10002, RSA4096_SHA256=0x10003,
// RSA2048_SHA256=0x10004, ECDSA_SHA256=0x10005); only the four
// SHA-256/RSA2048-SHA1 values below are recognised (§4.6 "verify
// signature-type is one of the four recognised values"), any other
// value including the two SHA-1 variants not listed is rejected.
type SignatureType uint32

const (
	SigRsa4096Sha256 SignatureType = 0x10003
	SigRsa2048Sha256 SignatureType = 0x10004
	SigEcdsaSha256   SignatureType = 0x10005
	SigRsa2048Sha1   SignatureType = 0x10001
)

func signatureBlockSize(t SignatureType) (int, bool) {
	switch t {
	case SigRsa4096Sha256:
		return 0x23C, true // 0x200 sig + 0x3C padding; the 4-byte type field is counted separately
	case SigRsa2048Sha256, SigRsa2048Sha1:
		return 0x13C, true // 0x100 sig + 0x3C padding
	case SigEcdsaSha256:
		return 0x7C, true // 0x3C sig + 0x40 padding
	default:
		return 0, false
	}
}

const (
	commonBlockSize  = 0x180
	titlekeyBlockOff = 0x40
	titlekeyBlockLen = 0x100
)

// TitlekeyType distinguishes a personalised (RSA-OAEP-wrapped) titlekey
// envelope from a common (AES-ECB-wrapped) one.
type TitlekeyType byte

const (
	TitlekeyCommon       TitlekeyType = 0
	TitlekeyPersonalized TitlekeyType = 1
)

// Ticket is a parsed ticket: the signature block is skipped over (its
// bytes are kept in raw for in-place rewrite) and the fixed common
// block is copied out field by field (§4.6 "Ticket parse").
type Ticket struct {
	SigType        SignatureType
	Issuer         [0x40]byte
	TitlekeyBlock  [titlekeyBlockLen]byte
	FormatVersion  byte
	TitlekeyType   TitlekeyType
	TicketVersion  uint16
	LicenseType    byte
	CommonKeyID    byte
	PropertyMask   uint16
	TicketID       uint64
	DeviceID       uint64
	RightsID       [0x10]byte
	AccountID      uint32
	SectionTotalSize uint32

	raw          []byte
	commonOffset int
}

// Parse decodes a raw ticket blob and validates the rights ID against
// the NCA's declared rights ID (§4.6 "Validate the rights ID").
func Parse(raw []byte, expectedRightsID [0x10]byte) (*Ticket, error) {
	if len(raw) < 4 {
		return nil, nxerr.New(nxerr.InvalidTicket, "ticket.Parse", fmt.Errorf("blob too short"))
	}
	sigType := SignatureType(beUint32(raw[0:4]))
	blockSize, ok := signatureBlockSize(sigType)
	if !ok {
		return nil, nxerr.New(nxerr.InvalidTicket, "ticket.Parse", fmt.Errorf("unrecognised signature type %#x", uint32(sigType)))
	}

	commonOffset := 4 + blockSize
	if commonOffset+commonBlockSize > len(raw) {
		return nil, nxerr.New(nxerr.InvalidTicket, "ticket.Parse", fmt.Errorf("blob shorter than declared signature+common block"))
	}
	cb := raw[commonOffset : commonOffset+commonBlockSize]

	t := &Ticket{SigType: sigType, raw: raw, commonOffset: commonOffset}
	copy(t.Issuer[:], cb[0x00:0x40])
	copy(t.TitlekeyBlock[:], cb[titlekeyBlockOff:titlekeyBlockOff+titlekeyBlockLen])
	t.FormatVersion = cb[0x146]
	t.TitlekeyType = TitlekeyType(cb[0x147])
	t.TicketVersion = leUint16(cb[0x148:0x14A])
	t.LicenseType = cb[0x14A]
	t.CommonKeyID = cb[0x14B]
	t.PropertyMask = leUint16(cb[0x14C:0x14E])
	t.TicketID = leUint64(cb[0x150:0x158])
	t.DeviceID = leUint64(cb[0x158:0x160])
	copy(t.RightsID[:], cb[0x160:0x170])
	t.AccountID = leUint32(cb[0x170:0x174])
	t.SectionTotalSize = leUint32(cb[0x174:0x178])

	if t.RightsID != expectedRightsID {
		return nil, nxerr.New(nxerr.InvalidTicket, "ticket.Parse", fmt.Errorf("ticket rights ID does not match NCA rights ID"))
	}

	return t, nil
}

// IsValid reports whether the common block's format_version is 2 and
// the rights ID is non-zero (§4.6 "is_valid_ticket").
func (t *Ticket) IsValid() bool {
	var zero [0x10]byte
	return t.FormatVersion == 2 && t.RightsID != zero
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Bytes returns the full raw ticket blob, including any in-place
// rewrite ConvertPersonalizedToCommon applied, for callers (the NSP
// builder) that stream it out verbatim as a PFS entry.
func (t *Ticket) Bytes() []byte { return t.raw }

// keyGeneration returns the titlekek generation index this ticket's
// common_key_id selects, matching the NCA key-generation convention of
// 0-based master key index.
func (t *Ticket) keyGeneration() int { return int(t.CommonKeyID) }

// ConvertPersonalizedToCommon decrypts the RSA-OAEP-wrapped titlekey,
// re-wraps it under the common titlekek for this ticket's master-key
// revision, and rewrites the common block in place: titlekey-type set
// to Common, identifying fields zeroed, signature forced to the common
// type, and the section table truncated to zero entries (§4.6 steps
// 1-3). Returns a synthesised certificate chain when certs is non-nil.
func (t *Ticket) ConvertPersonalizedToCommon(keys keyset.Oracle, certs CertSource) ([]byte, error) {
	if t.TitlekeyType != TitlekeyPersonalized {
		return nil, nxerr.New(nxerr.InvalidTicket, "ticket.ConvertPersonalizedToCommon", fmt.Errorf("ticket is not personalised"))
	}

	var enc [0x100]byte
	copy(enc[:], t.TitlekeyBlock[:])
	titlekey, ok := keys.RSAOAEPDecryptTitlekey(enc)
	if !ok {
		return nil, nxerr.New(nxerr.MissingKey, "ticket.ConvertPersonalizedToCommon", fmt.Errorf("console RSA key unavailable or decrypt failed"))
	}

	tkek, ok := keys.CommonTitlekek(t.keyGeneration())
	if !ok {
		return nil, nxerr.New(nxerr.MissingKey, "ticket.ConvertPersonalizedToCommon", fmt.Errorf("no common titlekek for generation %d", t.keyGeneration()))
	}
	wrapped, err := swcrypto.ECBEncrypt(titlekey, tkek)
	if err != nil {
		return nil, nxerr.New(nxerr.InvalidTicket, "ticket.ConvertPersonalizedToCommon", err)
	}

	// The common ticket is always signed RSA2048Sha256; if the
	// personalised ticket used a different signature type, its
	// signature block is a different size, so the common block has to
	// be relocated to the offset that signature type implies before
	// any field inside it is rewritten.
	sigBlockSize, _ := signatureBlockSize(SigRsa2048Sha256)
	newCommonOffset := 4 + sigBlockSize
	if newCommonOffset != t.commonOffset {
		newRaw := make([]byte, newCommonOffset+commonBlockSize)
		copy(newRaw[newCommonOffset:], t.raw[t.commonOffset:t.commonOffset+commonBlockSize])
		t.raw = newRaw
		t.commonOffset = newCommonOffset
	}

	cb := t.raw[t.commonOffset : t.commonOffset+commonBlockSize]
	copy(cb[titlekeyBlockOff:titlekeyBlockOff+0x10], wrapped) // common-wrapped titlekey is 16 bytes
	for i := 0x10; i < titlekeyBlockLen; i++ {
		cb[titlekeyBlockOff+i] = 0
	}
	cb[0x147] = byte(TitlekeyCommon)
	for i := 0x150; i < 0x160; i++ {
		cb[i] = 0 // ticket_id, device_id
	}
	leAccountZero := cb[0x170:0x174]
	for i := range leAccountZero {
		leAccountZero[i] = 0
	}
	// Section table header + entries truncated to zero (§4.6 step 3).
	for i := 0x174; i < commonBlockSize; i++ {
		cb[i] = 0
	}

	// Signature type forced to the common-ticket type and signature
	// bytes zeroed.
	binary.BigEndian.PutUint32(t.raw[0:4], uint32(SigRsa2048Sha256))
	for i := 4; i < 4+sigBlockSize && i < t.commonOffset; i++ {
		t.raw[i] = 0
	}

	t.TitlekeyType = TitlekeyCommon
	t.TicketID = 0
	t.DeviceID = 0
	t.AccountID = 0
	t.SectionTotalSize = 0
	t.SigType = SigRsa2048Sha256

	if certs == nil {
		return nil, nil
	}
	return certs.SynthesizeChain(string(t.Issuer[:]))
}

// CertSource supplies a certificate chain for a (possibly rewritten)
// ticket issuer string (§4.6 "Certificate chain retrieval").
type CertSource interface {
	SynthesizeChain(issuer string) ([]byte, error)
	GamecardChain(rightsID [0x10]byte) ([]byte, bool)
}
