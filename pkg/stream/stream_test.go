package stream

import (
	"bytes"
	"errors"
	"testing"
)

type memSink struct {
	buf       bytes.Buffer
	cancelled bool
	failAfter int
	written   int
}

func (m *memSink) BeginFile(totalSize int64, name string, headerReserveSize int64) error { return nil }
func (m *memSink) Write(p []byte) (int, error) {
	if m.failAfter >= 0 && m.written >= m.failAfter {
		return 0, errors.New("injected write failure")
	}
	m.written += len(p)
	return m.buf.Write(p)
}
func (m *memSink) EndFile() error  { return nil }
func (m *memSink) Cancel() error   { m.cancelled = true; return nil }

func TestRunDeliversAllBytes(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), BlockSize/4) // > one block
	src := bytes.NewReader(data)
	sink := &memSink{failAfter: -1}

	if err := Run(src, sink, int64(len(data))); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !bytes.Equal(sink.buf.Bytes(), data) {
		t.Fatalf("sink received %d bytes, want %d", sink.buf.Len(), len(data))
	}
}

func TestRunSurfacesWriteError(t *testing.T) {
	data := make([]byte, BlockSize+10)
	src := bytes.NewReader(data)
	sink := &memSink{failAfter: 0}

	err := Run(src, sink, int64(len(data)))
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestRunSurfacesShortSourceError(t *testing.T) {
	data := make([]byte, 10)
	src := bytes.NewReader(data)
	sink := &memSink{failAfter: -1}

	err := Run(src, sink, int64(len(data))+100)
	if err == nil {
		t.Fatalf("expected an error when the source ends before totalSize")
	}
}

func TestCancellation(t *testing.T) {
	data := make([]byte, BlockSize*4)
	src := bytes.NewReader(data)
	sink := &memSink{failAfter: -1}
	s := NewSession(int64(len(data)))
	s.Cancel()

	err := RunWithSession(s, src, sink)
	if err == nil {
		t.Fatalf("expected a cancellation error")
	}
}
