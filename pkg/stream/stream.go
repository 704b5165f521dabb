// Package stream implements the producer/consumer streaming framework
// (§4.9): a reader fiber pulls bytes from a Source (a gamecard, an NCA
// section, a PFS/RomFS/BKTR entry, or the NSP builder's per-content
// emission) and a writer fiber pushes them to a Sink (local filesystem
// or USB host), the two coordinating through a mutex and two condition
// variables over a pair of fixed-size buffers exactly as spec'd, rather
// than through an unbounded channel.
//
// The original NCZ pipeline's concurrency (its compressBlocks routine)
// fans a bounded work queue out to N parallel compressor goroutines and
// collects results through channels — a different shape, since NCZ
// compression is an embarrassingly-parallel batch transform. Streaming
// a single ordered byte sequence to one sink is instead a strict
// double-buffered handoff, so this package follows §4.9's explicit
// mutex/condvar protocol using sync.Cond rather than adapting that
// channel-based fan-out.
package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nxarchive/nxarchive/pkg/nxerr"
	"github.com/nxarchive/nxarchive/pkg/nxlog"
)

// BlockSize is the default chunk size a reader fiber pulls per
// iteration (§4.9 "implementation default: 8 MiB").
const BlockSize = 8 * 1024 * 1024

// Source supplies the bytes a Session streams to a Sink. A plain
// io.Reader is sufficient; callers wrap an io.SectionReader, an NCA
// content reader, or a PFS/RomFS/BKTR entry reader to satisfy it.
type Source interface {
	Read(p []byte) (int, error)
}

// Sink is the streaming framework's write side (§4.9 "Sinks").
type Sink interface {
	// BeginFile announces an upcoming file transfer. headerReserveSize
	// is non-zero only for the NSP builder's own output file, where the
	// PFS header is back-patched once sizes are final.
	BeginFile(totalSize int64, name string, headerReserveSize int64) error
	Write(p []byte) (int, error)
	EndFile() error
	Cancel() error
}

// HeaderRewindSink is implemented by sinks the NSP builder can use,
// which support seeking back to offset 0 (or issuing the USB "send NSP
// header" command) once final sizes and content IDs are known (§4.8
// step 6, §4.9 "rewind_and_write_header").
type HeaderRewindSink interface {
	Sink
	RewindAndWriteHeader(p []byte) error
}

// Session coordinates one reader fiber and one writer fiber over two
// fixed-size buffers (§4.9 "A session struct holds a mutex, two
// condition variables, two page-aligned buffers...").
type Session struct {
	mu         sync.Mutex
	readCond   *sync.Cond
	writeCond  *sync.Cond
	bufs       [2][]byte
	fillIdx    int
	data       []byte
	dataSize   int
	dataWritten int64
	totalSize  int64
	readErr    error
	writeErr   error
	cancelled  bool

	// Progress is an optional hook invoked after each chunk is
	// successfully written, with the running dataWritten total
	// (§SPEC_FULL.md ambient stack "Progress / UX").
	Progress func(written, total int64)

	Log nxlog.Logger
}

// NewSession allocates a session with two BlockSize buffers for a
// transfer of totalSize bytes.
func NewSession(totalSize int64) *Session {
	s := &Session{totalSize: totalSize, Log: nxlog.Nop{}}
	s.bufs[0] = make([]byte, BlockSize)
	s.bufs[1] = make([]byte, BlockSize)
	s.readCond = sync.NewCond(&s.mu)
	s.writeCond = sync.NewCond(&s.mu)
	return s
}

// Cancel requests cooperative cancellation; both fibers observe it at
// the next chunk boundary (§4.9 "Cancellation semantics").
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.readCond.Broadcast()
	s.writeCond.Broadcast()
}

// DataWritten returns the running count of bytes delivered to the sink.
func (s *Session) DataWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataWritten
}

// Run drives the reader/writer protocol to completion (or to the first
// error/cancellation) and returns the first error observed by either
// fiber, or nil on a clean totalSize-byte transfer (§4.9 protocol steps
// 1-7, §5 "spawns the reader/writer pair and waits for both to join").
func Run(src Source, sink Sink, totalSize int64) error {
	s := NewSession(totalSize)
	return s.run(src, sink)
}

func RunWithSession(s *Session, src Source, sink Sink) error {
	return s.run(src, sink)
}

func (s *Session) run(src Source, sink Sink) error {
	if s.totalSize <= 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.readLoop(src)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(sink)
	}()
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return nxerr.New(nxerr.Cancelled, "stream.Run", errors.New("transfer cancelled"))
	}
	if s.readErr != nil {
		return s.readErr
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	return nil
}

// readLoop is the reader fiber (§4.9 protocol steps 1-4).
func (s *Session) readLoop(src Source) {
	for {
		s.mu.Lock()
		if s.cancelled || s.writeErr != nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		buf := s.bufs[s.fillIdx]
		n, err := io.ReadFull(src, buf)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			s.mu.Lock()
			s.readErr = nxerr.New(nxerr.SinkIoError, "stream.readLoop", err)
			s.mu.Unlock()
			s.writeCond.Signal()
			return
		}

		s.mu.Lock()
		for s.dataSize != 0 && s.writeErr == nil && !s.cancelled {
			s.readCond.Wait()
		}
		if s.writeErr != nil || s.cancelled {
			s.mu.Unlock()
			return
		}

		if n == 0 {
			// The source ran dry before totalSize bytes were
			// delivered (a truncated/short source): a clean
			// completion would already have returned above via
			// done, so reaching here is always an error, and
			// dataSize stays 0 — readErr is what unblocks writeLoop.
			s.readErr = nxerr.New(nxerr.SinkIoError, "stream.readLoop", fmt.Errorf("source ended after %d of %d bytes", s.dataWritten, s.totalSize))
			s.mu.Unlock()
			s.writeCond.Signal()
			return
		}

		s.data = buf[:n]
		s.dataSize = n
		s.fillIdx = 1 - s.fillIdx
		done := s.dataWritten+int64(n) >= s.totalSize
		s.mu.Unlock()
		s.writeCond.Signal()

		if done {
			return
		}
	}
}

// writeLoop is the writer fiber (§4.9 protocol steps 5-7).
func (s *Session) writeLoop(sink Sink) {
	for {
		s.mu.Lock()
		for s.dataSize == 0 && s.readErr == nil && !s.cancelled {
			s.writeCond.Wait()
		}
		if s.cancelled {
			s.mu.Unlock()
			_ = sink.Cancel()
			return
		}
		if s.readErr != nil && s.dataSize == 0 {
			s.mu.Unlock()
			return
		}
		chunk := s.data
		size := s.dataSize
		s.mu.Unlock()

		_, err := sink.Write(chunk)

		s.mu.Lock()
		if err != nil {
			s.writeErr = nxerr.New(nxerr.SinkIoError, "stream.writeLoop", err)
			s.mu.Unlock()
			s.readCond.Signal()
			return
		}
		s.dataWritten += int64(size)
		s.dataSize = 0
		written := s.dataWritten
		total := s.totalSize
		s.mu.Unlock()
		s.readCond.Signal()

		if s.Progress != nil {
			s.Progress(written, total)
		}

		if written >= total {
			return
		}
	}
}
