package ticket

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/nxarchive/nxarchive/pkg/keyset"
)

func buildMinimalTicket(rightsID [0x10]byte, formatVersion byte) []byte {
	sigSize, _ := signatureBlockSize(SigRsa2048Sha256)
	total := 4 + sigSize + commonBlockSize
	raw := make([]byte, total)
	binary.BigEndian.PutUint32(raw[0:4], uint32(SigRsa2048Sha256))

	cb := raw[4+sigSize : 4+sigSize+commonBlockSize]
	cb[0x146] = formatVersion
	copy(cb[0x160:0x170], rightsID[:])
	return raw
}

func TestParseAndIsValid(t *testing.T) {
	var rid [0x10]byte
	rid[0] = 0x42
	raw := buildMinimalTicket(rid, 2)

	tk, err := Parse(raw, rid)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !tk.IsValid() {
		t.Fatalf("expected valid ticket")
	}
}

func TestParseRejectsRightsIDMismatch(t *testing.T) {
	var rid, other [0x10]byte
	rid[0] = 1
	other[0] = 2
	raw := buildMinimalTicket(rid, 2)
	if _, err := Parse(raw, other); err == nil {
		t.Fatalf("expected rights ID mismatch error")
	}
}

// fakeOracle implements keyset.Oracle with fixed key material, enough
// to exercise ConvertPersonalizedToCommon without a real keyset file.
type fakeOracle struct{}

func (fakeOracle) HeaderKey() ([]byte, bool)                       { return nil, false }
func (fakeOracle) KeyAreaKey(int, keyset.KeyAreaKeyIndex) ([]byte, bool) { return nil, false }
func (fakeOracle) TitlekeyForRightsID([0x10]byte) ([]byte, bool)   { return nil, false }
func (fakeOracle) CommonTitlekek(int) ([]byte, bool) {
	return bytes.Repeat([]byte{0xAB}, 16), true
}
func (fakeOracle) RSAOAEPDecryptTitlekey([0x100]byte) ([]byte, bool) {
	return bytes.Repeat([]byte{0xCD}, 16), true
}

// buildPersonalizedTicket builds a minimal personalised ticket signed
// with sigType, so ConvertPersonalizedToCommon's common-block
// relocation can be exercised against signature block sizes other
// than RSA2048Sha256's.
func buildPersonalizedTicket(sigType SignatureType, rightsID [0x10]byte) []byte {
	sigSize, _ := signatureBlockSize(sigType)
	total := 4 + sigSize + commonBlockSize
	raw := make([]byte, total)
	binary.BigEndian.PutUint32(raw[0:4], uint32(sigType))

	cb := raw[4+sigSize : 4+sigSize+commonBlockSize]
	cb[0x146] = 2 // format_version
	cb[0x147] = byte(TitlekeyPersonalized)
	copy(cb[0x160:0x170], rightsID[:])
	return raw
}

func TestConvertPersonalizedToCommonRelocatesCommonBlock(t *testing.T) {
	var rid [0x10]byte
	rid[0] = 0x7

	for _, sigType := range []SignatureType{SigRsa4096Sha256, SigEcdsaSha256, SigRsa2048Sha256} {
		raw := buildPersonalizedTicket(sigType, rid)
		tk, err := Parse(raw, rid)
		if err != nil {
			t.Fatalf("Parse(sigType=%#x): %v", sigType, err)
		}

		out, err := tk.ConvertPersonalizedToCommon(fakeOracle{}, nil)
		if err != nil {
			t.Fatalf("ConvertPersonalizedToCommon(sigType=%#x): %v", sigType, err)
		}
		_ = out

		reparsed, err := Parse(tk.Bytes(), rid)
		if err != nil {
			t.Fatalf("re-Parse after conversion (sigType=%#x): %v", sigType, err)
		}
		if reparsed.SigType != SigRsa2048Sha256 {
			t.Fatalf("sigType=%#x: reparsed.SigType = %#x, want SigRsa2048Sha256", sigType, reparsed.SigType)
		}
		if reparsed.TitlekeyType != TitlekeyCommon {
			t.Fatalf("sigType=%#x: reparsed.TitlekeyType = %v, want TitlekeyCommon", sigType, reparsed.TitlekeyType)
		}
		if !reparsed.IsValid() {
			t.Fatalf("sigType=%#x: reparsed ticket is not valid", sigType)
		}
	}
}

func TestSynthesizeChainConcatenatesInOrder(t *testing.T) {
	src := NewStaticCertSource([]byte("ROOT"), map[string][]byte{
		"CA00000003": []byte("CA"),
		"XS00000020": []byte("SIGNER"),
	})
	chain, err := src.SynthesizeChain("Root-CA00000003-XS00000020")
	if err != nil {
		t.Fatalf("SynthesizeChain: %v", err)
	}
	if string(chain) != "ROOTCASIGNER" {
		t.Fatalf("got %q, want ROOTCASIGNER", chain)
	}
}
