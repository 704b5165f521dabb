// Package sink implements the concrete Sinks §4.9 requires: a local
// filesystem sink (this file) and, in pkg/usbhost, a USB host sink.
// The afero filesystem abstraction and its package-level "fs" handle
// mirror bodgit/wud's Extract path (var fs = afero.NewOsFs(), fs.Create,
// fs.MkdirAll), swapped in here so tests can exercise free-space and
// FAT32-split logic against an in-memory filesystem instead of touching
// disk.
package sink

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/nxarchive/nxarchive/pkg/nxerr"
)

// Fat32MaxFileSize is the single-file size ceiling the "FAT32 split"
// mode enforces (§4.9 "FAT32-style single-file size limits").
const Fat32MaxFileSize = 0xFFFFFFFF - (0xFFFFFFFF % (1 << 20)) // largest MiB-aligned value under 4 GiB

// FreeSpacer reports free space at a path, so the local sink can
// pre-check before a transfer (§4.9 "Enforces free-space pre-check").
// Implementations that can't determine free space return ok=false, in
// which case the pre-check is skipped rather than failing the
// transfer: the sink is advisory here, not authoritative.
type FreeSpacer interface {
	FreeSpace(path string) (bytes uint64, ok bool)
}

// LocalFile is the local-filesystem sink (§4.9 "Local file sink").
type LocalFile struct {
	Fs   afero.Fs
	Free FreeSpacer

	// EnforceFat32Split, when true, splits a file larger than
	// Fat32MaxFileSize into <name>.<NN> pieces rather than failing with
	// FileTooLargeForFilesystem.
	EnforceFat32Split bool

	dir        string
	name       string
	totalSize  int64
	headerSize int64

	pieces      []afero.File
	pieceNames  []string
	cur         int
	writtenCur  int64
	writtenTotal int64
}

// NewLocalFile builds a local-filesystem sink rooted at dir, backed by
// the real OS filesystem unless fsys is overridden (tests pass an
// in-memory afero.Fs).
func NewLocalFile(fsys afero.Fs, dir string) *LocalFile {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &LocalFile{Fs: fsys, dir: dir}
}

// BeginFile creates parent directories, pre-checks free space, and (if
// EnforceFat32Split and totalSize exceeds the 4-GiB ceiling) prepares
// the first split piece (§4.9 "Local file sink").
func (l *LocalFile) BeginFile(totalSize int64, name string, headerReserveSize int64) error {
	if err := l.Fs.MkdirAll(l.dir, 0o755); err != nil {
		return nxerr.New(nxerr.SinkUnavailable, "sink.LocalFile.BeginFile", err)
	}

	if l.Free != nil {
		if free, ok := l.Free.FreeSpace(l.dir); ok && free < uint64(totalSize) {
			return nxerr.New(nxerr.SinkUnavailable, "sink.LocalFile.BeginFile", fmt.Errorf("insufficient free space: need %d, have %d", totalSize, free))
		}
	}

	if totalSize > Fat32MaxFileSize && !l.EnforceFat32Split {
		return nxerr.New(nxerr.FileTooLargeForFilesystem, "sink.LocalFile.BeginFile", fmt.Errorf("%d bytes exceeds the single-file limit and splitting is disabled", totalSize))
	}

	l.name = name
	l.totalSize = totalSize
	l.headerSize = headerReserveSize
	l.pieces = nil
	l.pieceNames = nil
	l.cur = 0
	l.writtenCur = 0
	l.writtenTotal = 0

	return l.openPiece(0)
}

func (l *LocalFile) pieceName(index int) string {
	if index == 0 && (!l.EnforceFat32Split || l.totalSize <= Fat32MaxFileSize) {
		return l.name
	}
	return fmt.Sprintf("%s.%02d", l.name, index)
}

func (l *LocalFile) openPiece(index int) error {
	name := l.pieceName(index)
	path := filepath.Join(l.dir, name)
	f, err := l.Fs.Create(path)
	if err != nil {
		return nxerr.New(nxerr.SinkIoError, "sink.LocalFile.openPiece", err)
	}
	if l.headerSize > 0 && index == 0 {
		if err := f.Truncate(l.headerSize); err != nil {
			return nxerr.New(nxerr.SinkIoError, "sink.LocalFile.openPiece", err)
		}
		if _, err := f.Seek(l.headerSize, io.SeekStart); err != nil {
			return nxerr.New(nxerr.SinkIoError, "sink.LocalFile.openPiece", err)
		}
	}
	l.pieces = append(l.pieces, f)
	l.pieceNames = append(l.pieceNames, path)
	l.writtenCur = 0
	return nil
}

// Write implements stream.Sink, splitting across Fat32MaxFileSize-sized
// pieces when EnforceFat32Split is set.
func (l *LocalFile) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		f := l.pieces[l.cur]
		room := int64(len(p))
		if l.EnforceFat32Split {
			remaining := Fat32MaxFileSize - l.writtenCur
			if remaining < room {
				room = remaining
			}
		}
		chunk := p[:room]
		n, err := f.Write(chunk)
		total += n
		l.writtenCur += int64(n)
		l.writtenTotal += int64(n)
		if err != nil {
			return total, nxerr.New(nxerr.SinkIoError, "sink.LocalFile.Write", err)
		}
		p = p[n:]
		if l.EnforceFat32Split && l.writtenCur >= Fat32MaxFileSize && len(p) > 0 {
			l.cur++
			if err := l.openPiece(l.cur); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// EndFile closes every open piece.
func (l *LocalFile) EndFile() error {
	for _, f := range l.pieces {
		if err := f.Close(); err != nil {
			return nxerr.New(nxerr.SinkIoError, "sink.LocalFile.EndFile", err)
		}
	}
	return nil
}

// Cancel closes and removes every piece written so far (§4.9
// "Cancellation semantics ... closes and removes the partial file").
func (l *LocalFile) Cancel() error {
	for _, f := range l.pieces {
		_ = f.Close()
	}
	for _, name := range l.pieceNames {
		_ = l.Fs.Remove(name)
	}
	return nil
}

// RewindAndWriteHeader seeks the first piece back to offset 0 and
// writes the finalised header, for the NSP builder's own output file
// (§4.8 step 6, §4.9 "rewind_and_write_header").
func (l *LocalFile) RewindAndWriteHeader(p []byte) error {
	if len(l.pieces) == 0 {
		return nxerr.New(nxerr.SinkUnavailable, "sink.LocalFile.RewindAndWriteHeader", fmt.Errorf("no open file"))
	}
	f := l.pieces[0]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nxerr.New(nxerr.SinkIoError, "sink.LocalFile.RewindAndWriteHeader", err)
	}
	if _, err := f.Write(p); err != nil {
		return nxerr.New(nxerr.SinkIoError, "sink.LocalFile.RewindAndWriteHeader", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nxerr.New(nxerr.SinkIoError, "sink.LocalFile.RewindAndWriteHeader", err)
	}
	return nil
}

// PieceNames reports the on-disk filenames written so far, for callers
// that need to clean up a FAT32 split after the fact.
func (l *LocalFile) PieceNames() []string {
	out := make([]string, len(l.pieceNames))
	copy(out, l.pieceNames)
	return out
}
