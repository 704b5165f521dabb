package usbhost

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// loopback is an io.ReadWriter that queues a scripted sequence of
// status replies and records every command/bulk write, so tests can
// drive Host without a real USB transport.
type loopback struct {
	writes  [][]byte
	replies [][]byte
}

func (l *loopback) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	l.writes = append(l.writes, cp)
	return len(p), nil
}

func (l *loopback) Read(p []byte) (int, error) {
	reply := l.replies[0]
	l.replies = l.replies[1:]
	return copy(p, reply), nil
}

func statusReply(status StatusCode, maxPacket uint16) []byte {
	b := make([]byte, statusSize)
	copy(b[0:4], magic)
	binary.LittleEndian.PutUint32(b[4:8], uint32(status))
	binary.LittleEndian.PutUint16(b[8:10], maxPacket)
	return b
}

func TestStartSessionHandshake(t *testing.T) {
	lb := &loopback{replies: [][]byte{statusReply(StatusSuccess, 512)}}
	h := NewHost(lb)

	if err := h.StartSession(1, 2, 3, "abcdef12"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if h.maxPacketSize != 512 {
		t.Fatalf("expected max packet size 512, got %d", h.maxPacketSize)
	}

	// Two writes: header, then the 16-byte command block.
	if len(lb.writes) != 2 {
		t.Fatalf("expected 2 writes, got %d", len(lb.writes))
	}
	if !bytes.Equal(lb.writes[0][0:4], []byte(magic)) {
		t.Fatalf("bad command magic")
	}
	if binary.LittleEndian.Uint32(lb.writes[0][4:8]) != uint32(CmdStartSession) {
		t.Fatalf("wrong command id")
	}
	block := lb.writes[1]
	if block[0] != 1 || block[1] != 2 || block[2] != 3 || block[3] != abiVersion {
		t.Fatalf("unexpected version/abi fields: %v", block[:4])
	}
	if string(block[4:12]) != "abcdef12" {
		t.Fatalf("git commit not written: %q", block[4:12])
	}
}

func TestSendFilePropertiesAndCancel(t *testing.T) {
	lb := &loopback{replies: [][]byte{
		statusReply(StatusSuccess, 512),
		statusReply(StatusSuccess, 512),
	}}
	h := NewHost(lb)
	h.maxPacketSize = 512

	if err := h.SendFileProperties(1000, "game.nca", 0); err != nil {
		t.Fatalf("SendFileProperties: %v", err)
	}
	if err := h.CancelFileTransfer(); err != nil {
		t.Fatalf("CancelFileTransfer: %v", err)
	}
}

func TestWriteChunksAtMost8MiB(t *testing.T) {
	lb := &loopback{}
	h := NewHost(lb)

	data := make([]byte, ChunkSize+10)
	n, err := h.Write(data)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(data) {
		t.Fatalf("wrote %d, want %d", n, len(data))
	}
	if len(lb.writes) != 2 {
		t.Fatalf("expected 2 bulk writes, got %d", len(lb.writes))
	}
	if len(lb.writes[0]) != ChunkSize {
		t.Fatalf("first chunk should be exactly ChunkSize, got %d", len(lb.writes[0]))
	}
	if len(lb.writes[1]) != 10 {
		t.Fatalf("second chunk should be the 10-byte remainder, got %d", len(lb.writes[1]))
	}
}
