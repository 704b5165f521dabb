// Package gamecard implements the whole-cartridge image dumper (§4.10):
// streams the card through the §4.9 framework with an on-the-fly
// certificate-region scrub and optional key-area prefix and CRC-32
// accounting. Grounded on streaming-transform shape
// (pkg/fs/compressor.go reads a source byte range, mutates it in
// flight, and writes it onward) generalised from "decrypt+compress"
// to "pass through, stripping one fixed byte range."
package gamecard

import (
	"fmt"
	"hash/crc32"
	"io"

	"github.com/nxarchive/nxarchive/pkg/nxerr"
	"github.com/nxarchive/nxarchive/pkg/stream"
)

// KeyAreaSize is the size of the prepended key-area block (§4.10
// "add 0x200 bytes for the key area if prepended").
const KeyAreaSize = 0x200

// certificateOffset/certificateSize is the fixed on-cartridge
// certificate region that gets scrubbed to 0xFF when KeepCertificate
// is false (§4.10 "at offset 0x7000 ... overwrite 0x200 bytes with
// 0xFF").
const (
	certificateOffset = 0x7000
	certificateSize    = 0x200
)

// Options mirrors §4.10's four dump flags.
type Options struct {
	PrependKeyArea   bool
	KeepCertificate  bool
	TrimDump         bool
	CalculateChecksum bool
}

// Card is the external gamecard transport this package streams from:
// sequential byte access to the (already size-selected, i.e. trimmed
// or full per Options.TrimDump) card image, plus an on-demand key-area
// fetch from the external gamecard-security service (§4.10 "fetched
// from an external gamecard-security service").
type Card struct {
	Reader   io.Reader
	Size     int64
	KeyArea  func() ([KeyAreaSize]byte, error)
}

// Result reports the checksums computed during a dump, when
// Options.CalculateChecksum is set (§4.10 "report both on completion").
type Result struct {
	CardChecksum uint32 // CRC-32 over the (certificate-scrubbed) card image
	FullChecksum uint32 // CRC-32 over the key-area-prepended bytes, when PrependKeyArea
}

// Dump streams card to sink under name, applying Options, and returns
// the checksums collected if CalculateChecksum is set (§4.10).
func Dump(card *Card, sink stream.Sink, name string, opts Options) (Result, error) {
	total := card.Size
	if opts.PrependKeyArea {
		total += KeyAreaSize
	}

	if err := sink.BeginFile(total, name, 0); err != nil {
		return Result{}, err
	}

	src := &dumpSource{card: card, opts: opts}
	if opts.PrependKeyArea {
		ka, err := card.KeyArea()
		if err != nil {
			_ = sink.Cancel()
			return Result{}, nxerr.New(nxerr.SinkUnavailable, "gamecard.Dump", fmt.Errorf("key area unavailable: %w", err))
		}
		src.keyArea = ka[:]
	}

	if err := stream.Run(src, sink, total); err != nil {
		return Result{}, err
	}

	if err := sink.EndFile(); err != nil {
		return Result{}, err
	}

	res := Result{}
	if opts.CalculateChecksum {
		res.CardChecksum = src.crcCard.Sum32()
		if opts.PrependKeyArea {
			res.FullChecksum = src.crcFull.Sum32()
		}
	}
	return res, nil
}

// dumpSource implements stream.Source: optionally prefixes the key
// area, then streams the card image with the certificate region
// scrubbed, accumulating CRC-32(s) as bytes pass through.
type dumpSource struct {
	card *Card
	opts Options

	keyArea    []byte // remaining key-area bytes to emit, nil once exhausted
	cardPos    int64
	crcCard    crc32Accum
	crcFull    crc32Accum
}

func (s *dumpSource) Read(p []byte) (int, error) {
	if len(s.keyArea) > 0 {
		n := copy(p, s.keyArea)
		s.keyArea = s.keyArea[n:]
		s.crcFull.Write(p[:n])
		return n, nil
	}

	n, err := s.card.Reader.Read(p)
	if n > 0 {
		chunk := p[:n]
		s.scrubCertificate(chunk, s.cardPos)
		s.cardPos += int64(n)
		s.crcCard.Write(chunk)
		s.crcFull.Write(chunk)
	}
	return n, err
}

// scrubCertificate overwrites the intersection of chunk (representing
// card-relative bytes [chunkStart, chunkStart+len(chunk))) with
// [certificateOffset, certificateOffset+certificateSize) with 0xFF,
// when KeepCertificate is false (§4.10).
func (s *dumpSource) scrubCertificate(chunk []byte, chunkStart int64) {
	if s.opts.KeepCertificate {
		return
	}
	chunkEnd := chunkStart + int64(len(chunk))
	start := chunkStart
	if certificateOffset > start {
		start = certificateOffset
	}
	end := chunkEnd
	if certificateOffset+certificateSize < end {
		end = certificateOffset + certificateSize
	}
	if start >= end {
		return
	}
	for i := start - chunkStart; i < end-chunkStart; i++ {
		chunk[i] = 0xFF
	}
}

// crc32Accum is a tiny running-CRC32 wrapper so Result doesn't need to
// expose a hash.Hash32 value directly.
type crc32Accum struct {
	h uint32
}

func (c *crc32Accum) Write(p []byte) {
	c.h = crc32.Update(c.h, crc32.IEEETable, p)
}

func (c *crc32Accum) Sum32() uint32 { return c.h }
