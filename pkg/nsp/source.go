package nsp

import (
	"crypto/sha256"
	"hash"
	"io"

	"github.com/nxarchive/nxarchive/pkg/nca"
)

// ncaSource implements stream.Source over one NCA's section-less raw
// content stream, maintaining the clean (source bytes) and dirty
// (emitted bytes, after header/hash-layer overlay) SHA-256 contexts
// the streaming phase needs (§4.8 streaming phase steps 1-2).
type ncaSource struct {
	ctx       *nca.Context
	headerKey []byte
	pos       int64
	total     int64
	clean     hash.Hash
	dirty     hash.Hash
}

func newNcaSource(ctx *nca.Context, headerKey []byte) *ncaSource {
	return &ncaSource{
		ctx:       ctx,
		headerKey: headerKey,
		total:     ctx.ContentSize,
		clean:     sha256.New(),
		dirty:     sha256.New(),
	}
}

func (s *ncaSource) Read(p []byte) (int, error) {
	if s.pos >= s.total {
		return 0, io.EOF
	}
	if remaining := s.total - s.pos; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := s.ctx.ReadContentFile(p, s.pos)
	if n > 0 {
		chunk := p[:n]
		s.clean.Write(chunk)
		if werr := s.ctx.WriteEncryptedHeaderToBuffer(chunk, s.pos, s.headerKey); werr != nil {
			return n, werr
		}
		s.dirty.Write(chunk)
		s.pos += int64(n)
	}
	if err != nil && err != io.EOF {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *ncaSource) cleanSum() [32]byte {
	var out [32]byte
	copy(out[:], s.clean.Sum(nil))
	return out
}

func (s *ncaSource) dirtySum() [32]byte {
	var out [32]byte
	copy(out[:], s.dirty.Sum(nil))
	return out
}
