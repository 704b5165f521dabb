// Package ioutil2 supplies small offset/limited-reader helpers for
// "read N bytes starting at absolute offset O" - the same shape
// bodgit/plumbing's OffsetReader and LimitReader wrap for archive
// member extraction. No other package in this module imports it.
package ioutil2

import (
	"io"

	"github.com/bodgit/plumbing"
)

// SectionReader returns an io.ReaderAt limited to [offset, offset+size)
// of r, with reads re-based so offset 0 of the result is offset of r.
// Thin wrapper around io.NewSectionReader kept here so every caller in
// this module imports one helper instead of wiring io.SectionReader by
// hand at each call site.
func SectionReader(r io.ReaderAt, offset, size int64) *io.SectionReader {
	return io.NewSectionReader(r, offset, size)
}

// OffsetReader wraps a forward-only stream (the gamecard transport, a
// USB bulk source) so that the first byte read through the result is
// the byte at the given absolute offset, using bodgit/plumbing's offset
// reader rather than re-implementing the discard-until-offset dance by
// hand for every sequential source in this module.
func OffsetReader(r io.Reader, offset int64) (io.Reader, error) {
	return plumbing.NewOffsetReader(r, offset)
}

// LimitReadAt reads up to len(p) bytes at off from r, tolerating a short
// final read (io.EOF with n > 0) the way every streaming chunk loop in
// this module expects.
func LimitReadAt(r io.ReaderAt, p []byte, off int64) (int, error) {
	n, err := r.ReadAt(p, off)
	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, err
}
