// Package nxlog is the narrow logging hook the core calls into. The core
// never gates behaviour on a log call succeeding or even being wired up.
package nxlog

import (
	"io"
	"log"
)

// Logger is the structured logging hook. Implementations must be safe
// for concurrent use; the streaming framework logs from both the reader
// and writer fiber.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Nop discards everything. Used when the caller doesn't wire a logger.
type Nop struct{}

func (Nop) Debugf(string, ...any) {}
func (Nop) Infof(string, ...any)  {}
func (Nop) Warnf(string, ...any)  {}
func (Nop) Errorf(string, ...any) {}

// Std is a minimal logger built on the standard library's log package
// (see DESIGN.md).
type Std struct {
	l *log.Logger
}

func NewStd(w io.Writer) *Std {
	return &Std{l: log.New(w, "", log.LstdFlags)}
}

func (s *Std) Debugf(format string, args ...any) { s.l.Printf("DEBUG "+format, args...) }
func (s *Std) Infof(format string, args ...any)  { s.l.Printf("INFO  "+format, args...) }
func (s *Std) Warnf(format string, args ...any)  { s.l.Printf("WARN  "+format, args...) }
func (s *Std) Errorf(format string, args ...any) { s.l.Printf("ERROR "+format, args...) }
