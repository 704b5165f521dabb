package nsp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"testing"
)

func TestGenerateProgramInfoXml(t *testing.T) {
	id := [0x10]byte{0x01, 0x23, 0x45, 0x67}
	out, err := generateProgramInfoXml(id)
	if err != nil {
		t.Fatalf("generateProgramInfoXml: %v", err)
	}
	if !bytes.HasPrefix(out, []byte(xml.Header)) {
		t.Fatalf("output missing XML header: %q", out)
	}
	var doc programInfoXML
	if err := xml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if want := fmt.Sprintf("%x", id); doc.ContentId != want {
		t.Fatalf("ContentId = %q, want %q", doc.ContentId, want)
	}
}

func TestGenerateLegalInfoXml(t *testing.T) {
	id := [0x10]byte{0xaa, 0xbb}
	out, err := generateLegalInfoXml(id)
	if err != nil {
		t.Fatalf("generateLegalInfoXml: %v", err)
	}
	var doc legalInfoXML
	if err := xml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if doc.ContentId[:4] != "aabb" {
		t.Fatalf("ContentId = %q, want prefix aabb", doc.ContentId)
	}
}

// memSink mirrors pkg/stream's own test fixture, extended with
// RewindAndWriteHeader so it satisfies stream.HeaderRewindSink.
type memSink struct {
	buf       bytes.Buffer
	header    []byte
	cancelled bool
	failAfter int
	written   int
}

func (m *memSink) BeginFile(totalSize int64, name string, headerReserveSize int64) error {
	return nil
}

func (m *memSink) Write(p []byte) (int, error) {
	if m.failAfter >= 0 && m.written >= m.failAfter {
		return 0, errors.New("injected write failure")
	}
	m.written += len(p)
	return m.buf.Write(p)
}

func (m *memSink) EndFile() error { return nil }
func (m *memSink) Cancel() error  { m.cancelled = true; return nil }
func (m *memSink) RewindAndWriteHeader(p []byte) error {
	m.header = append([]byte(nil), p...)
	return nil
}

func TestStreamLiteralWritesAllBytes(t *testing.T) {
	sink := &memSink{failAfter: -1}
	data := bytes.Repeat([]byte("x"), 257)

	if err := streamLiteral(sink, data, Options{}); err != nil {
		t.Fatalf("streamLiteral: %v", err)
	}
	if !bytes.Equal(sink.buf.Bytes(), data) {
		t.Fatalf("sink received %d bytes, want %d", sink.buf.Len(), len(data))
	}
}

func TestStreamLiteralEmptyIsNoop(t *testing.T) {
	sink := &memSink{failAfter: -1}

	if err := streamLiteral(sink, nil, Options{}); err != nil {
		t.Fatalf("streamLiteral: %v", err)
	}
	if sink.buf.Len() != 0 {
		t.Fatalf("expected no bytes written, got %d", sink.buf.Len())
	}
}

func TestStreamLiteralSurfacesWriteError(t *testing.T) {
	sink := &memSink{failAfter: 0}
	data := []byte("some bytes")

	if err := streamLiteral(sink, data, Options{}); err == nil {
		t.Fatalf("expected an error")
	}
}
