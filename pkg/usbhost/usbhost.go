// Package usbhost implements the USB host protocol framing (§6.3,
// §6.4) as a stream.Sink: a 16-byte command header, a command-specific
// block, a 16-byte status reply, and bulk file data sent in chunks of
// at most 8 MiB. Grounded on struct-tag-free manual
// binary.Write/Read framing style (pkg/fs/nca_header.go parses its
// fixed-size header the same way: typed fields populated by sequential
// little-endian reads rather than a single annotated struct), and on
// SPEC_FULL.md C.6 for the exact StartSession command-block layout.
package usbhost

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

// ChunkSize is the maximum bulk-data transfer size per §6.3 "in chunks
// of at most 8 MiB".
const ChunkSize = 8 * 1024 * 1024

// MaxPath is the platform's maximum path length, used to size the
// filename field of SendFileProperties.
const MaxPath = 0x301

const (
	magic      = "NXDT"
	headerSize = 16
	statusSize = 16
	abiVersion = 1
)

// CommandID identifies a command block (§6.3 "Commands").
type CommandID uint32

const (
	CmdStartSession CommandID = iota
	CmdSendFileProperties
	CmdCancelFileTransfer
	CmdSendNspHeader
	CmdEndSession
)

// StatusCode is the result field of a 16-byte status reply (§6.3
// "Error codes returned in status replies").
type StatusCode uint32

const (
	StatusSuccess StatusCode = iota
	StatusInvalidMagic
	StatusUnsupportedCommand
	StatusUnsupportedAbiVersion
	StatusMalformedCommand
	StatusHostIoError
)

func (s StatusCode) Error() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidMagic:
		return "invalid magic"
	case StatusUnsupportedCommand:
		return "unsupported command"
	case StatusUnsupportedAbiVersion:
		return "unsupported ABI version"
	case StatusMalformedCommand:
		return "malformed command"
	case StatusHostIoError:
		return "host I/O error"
	default:
		return fmt.Sprintf("status %d", uint32(s))
	}
}

// Host is a USB host-protocol session, wrapping a single bidirectional
// transport that carries both command/status framing and bulk file
// data, matching how the real device multiplexes both over one USB
// interface (§6.3).
type Host struct {
	rw            io.ReadWriter
	maxPacketSize uint16

	nspMode       bool
	nspHeaderSize int64
	fileSize      int64
	written       int64
	lastChunkLen  int
}

// NewHost wraps rw as a USB host-protocol session.
func NewHost(rw io.ReadWriter) *Host {
	return &Host{rw: rw}
}

func (h *Host) sendCommand(id CommandID, block []byte) error {
	var hdr [headerSize]byte
	copy(hdr[0:4], magic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(id))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(block)))
	if _, err := h.rw.Write(hdr[:]); err != nil {
		return nxerr.New(nxerr.SinkIoError, "usbhost.sendCommand", err)
	}
	if len(block) > 0 {
		if _, err := h.rw.Write(block); err != nil {
			return nxerr.New(nxerr.SinkIoError, "usbhost.sendCommand", err)
		}
	}
	return nil
}

func (h *Host) readStatus() (StatusCode, uint16, error) {
	var reply [statusSize]byte
	if _, err := io.ReadFull(h.rw, reply[:]); err != nil {
		return 0, 0, nxerr.New(nxerr.SinkIoError, "usbhost.readStatus", err)
	}
	if !bytes.Equal(reply[0:4], []byte(magic)) {
		return 0, 0, nxerr.New(nxerr.SinkIoError, "usbhost.readStatus", fmt.Errorf("bad status magic"))
	}
	status := StatusCode(binary.LittleEndian.Uint32(reply[4:8]))
	maxPacket := binary.LittleEndian.Uint16(reply[8:10])
	return status, maxPacket, nil
}

func (h *Host) roundTrip(id CommandID, block []byte) (StatusCode, uint16, error) {
	if err := h.sendCommand(id, block); err != nil {
		return 0, 0, err
	}
	return h.readStatus()
}

func padOrTruncate(s string, n int) []byte {
	out := make([]byte, n)
	copy(out, s)
	return out
}

// StartSession performs the ABI handshake (§6.3 command 1,
// SPEC_FULL.md C.6's exact block layout: app_version major/minor/micro
// + abi_version + an 8-byte git commit short-hash + 4 reserved bytes).
func (h *Host) StartSession(appVersionMajor, appVersionMinor, appVersionMicro byte, gitCommit string) error {
	block := make([]byte, 16)
	block[0] = appVersionMajor
	block[1] = appVersionMinor
	block[2] = appVersionMicro
	block[3] = abiVersion
	copy(block[4:12], padOrTruncate(gitCommit, 8))

	status, maxPacket, err := h.roundTrip(CmdStartSession, block)
	if err != nil {
		return err
	}
	if status != StatusSuccess {
		return nxerr.New(nxerr.SinkUnavailable, "usbhost.StartSession", status)
	}
	h.maxPacketSize = maxPacket
	return nil
}

// SendFileProperties announces an upcoming file transfer (§6.3 command
// 2). nspHeaderSize > 0 enters NSP mode.
func (h *Host) SendFileProperties(fileSize int64, filename string, nspHeaderSize uint32) error {
	nameBytes := padOrTruncate(filename, MaxPath)
	block := make([]byte, 8+4+4+MaxPath)
	binary.LittleEndian.PutUint64(block[0:8], uint64(fileSize))
	binary.LittleEndian.PutUint32(block[8:12], uint32(len(filename)))
	binary.LittleEndian.PutUint32(block[12:16], nspHeaderSize)
	copy(block[16:], nameBytes)

	status, _, err := h.roundTrip(CmdSendFileProperties, block)
	if err != nil {
		return err
	}
	if status != StatusSuccess {
		return nxerr.New(nxerr.SinkIoError, "usbhost.SendFileProperties", status)
	}

	h.fileSize = fileSize
	h.written = 0
	h.lastChunkLen = 0
	if nspHeaderSize > 0 {
		h.nspMode = true
		h.nspHeaderSize = int64(nspHeaderSize)
	}
	return nil
}

// CancelFileTransfer aborts the current transfer, keeping the session
// alive (§6.3 command 3).
func (h *Host) CancelFileTransfer() error {
	status, _, err := h.roundTrip(CmdCancelFileTransfer, nil)
	if err != nil {
		return err
	}
	if status != StatusSuccess {
		return nxerr.New(nxerr.SinkIoError, "usbhost.CancelFileTransfer", status)
	}
	return nil
}

// SendNspHeader delivers the finalised PFS header and ends NSP mode
// (§6.3 command 4).
func (h *Host) SendNspHeader(header []byte) error {
	status, _, err := h.roundTrip(CmdSendNspHeader, header)
	if err != nil {
		return err
	}
	if status != StatusSuccess {
		return nxerr.New(nxerr.SinkIoError, "usbhost.SendNspHeader", status)
	}
	h.nspMode = false
	return nil
}

// EndSession tears down the session (§6.3 command 5).
func (h *Host) EndSession() error {
	status, _, err := h.roundTrip(CmdEndSession, nil)
	if err != nil {
		return err
	}
	if status != StatusSuccess {
		return nxerr.New(nxerr.SinkIoError, "usbhost.EndSession", status)
	}
	return nil
}

// BeginFile implements stream.Sink over SendFileProperties.
func (h *Host) BeginFile(totalSize int64, name string, headerReserveSize int64) error {
	return h.SendFileProperties(totalSize, name, uint32(headerReserveSize))
}

// Write sends bulk file data in chunks of at most ChunkSize bytes
// (§6.3 "File data is sent on the bulk endpoint ... in chunks of at
// most 8 MiB").
func (h *Host) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > ChunkSize {
			n = ChunkSize
		}
		chunk := p[:n]
		if _, err := h.rw.Write(chunk); err != nil {
			return total, nxerr.New(nxerr.SinkIoError, "usbhost.Write", err)
		}
		total += n
		h.written += int64(n)
		h.lastChunkLen = n
		p = p[n:]
	}
	return total, nil
}

// EndFile sends a zero-length termination packet if the final chunk
// exactly filled an endpoint max-packet-size boundary (§6.3 "The host
// must recognise a zero-length termination packet when the final chunk
// ... is an exact multiple of its endpoint max-packet-size").
func (h *Host) EndFile() error {
	if h.maxPacketSize > 0 && h.lastChunkLen > 0 && h.lastChunkLen%int(h.maxPacketSize) == 0 {
		if _, err := h.rw.Write(nil); err != nil {
			return nxerr.New(nxerr.SinkIoError, "usbhost.EndFile", err)
		}
	}
	return nil
}

// Cancel implements stream.Sink by issuing CancelFileTransfer (§4.9
// "for a USB sink, additionally issues a cancel command to the host").
func (h *Host) Cancel() error {
	return h.CancelFileTransfer()
}

// RewindAndWriteHeader implements stream.HeaderRewindSink by issuing
// SendNspHeader, the USB protocol's equivalent of seeking back to
// offset 0 on a local file (§4.9 "rewind_and_write_header").
func (h *Host) RewindAndWriteHeader(p []byte) error {
	return h.SendNspHeader(p)
}
