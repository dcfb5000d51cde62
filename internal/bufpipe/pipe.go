// Package bufpipe implements the byte-buffer and resumable-parser primitive
// that every other wire codec in this module is built on: a growable buffer
// that accepts fed bytes and an EOF signal, plus a Cursor that a parser uses
// to ask for "N more bytes, or tell me to come back later". No parser in
// this module blocks; when the buffer is short, it returns ErrNeedMore and
// waits to be driven again once more bytes have been written.
package bufpipe

import (
	"bytes"
	"errors"
)

// ErrNeedMore is returned by a Cursor read when the buffered bytes are not
// yet sufficient to satisfy the request. The caller must Write more data to
// the underlying Pipe and retry the parse from the start.
var ErrNeedMore = errors.New("bufpipe: need more bytes")

// ErrClosed is returned when CloseWrite has been called (no more bytes will
// ever arrive) and a parser still needs bytes that were never delivered.
// pkg/wsproto treats it the same as ErrNeedMore and reports no protocol
// error for it.
var ErrClosed = errors.New("bufpipe: closed before requested bytes arrived")

// ErrLineTooLong is returned by Cursor.Line when no line terminator is found
// within maxLen bytes.
var ErrLineTooLong = errors.New("bufpipe: line exceeds maximum length")

// Pipe is a growable byte buffer fed by a transport and drained by parsers.
// It owns no goroutines and performs no I/O; Write and CloseWrite are the
// only mutators.
type Pipe struct {
	buf []byte
	eof bool
}

// New returns an empty Pipe.
func New() *Pipe {
	return &Pipe{}
}

// Write appends b to the buffered, not-yet-consumed bytes.
func (p *Pipe) Write(b []byte) {
	if len(b) == 0 {
		return
	}
	p.buf = append(p.buf, b...)
}

// CloseWrite signals that no further bytes will ever be written.
func (p *Pipe) CloseWrite() {
	p.eof = true
}

// EOF reports whether CloseWrite has been called.
func (p *Pipe) EOF() bool {
	return p.eof
}

// Len returns the number of unconsumed buffered bytes.
func (p *Pipe) Len() int {
	return len(p.buf)
}

// Cursor starts a new read attempt over the currently buffered bytes. A
// Cursor is cheap and disposable: on parse failure (ErrNeedMore) it is
// simply discarded and a fresh one is created once more bytes arrive.
func (p *Pipe) Cursor() *Cursor {
	return &Cursor{p: p}
}

// Cursor is a non-destructive read head into a Pipe's buffer. Reads advance
// the cursor's local position but do not remove bytes from the Pipe until
// Commit is called, so a parser that runs out of bytes partway through can
// simply be abandoned without corrupting the buffer for the next attempt.
type Cursor struct {
	p   *Pipe
	pos int
}

// Need returns the next n bytes, advancing the cursor, or ErrNeedMore /
// ErrClosed if they are not yet available.
func (c *Cursor) Need(n int) ([]byte, error) {
	avail := len(c.p.buf) - c.pos
	if avail < n {
		if c.p.eof {
			return nil, ErrClosed
		}
		return nil, ErrNeedMore
	}
	b := c.p.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Byte reads a single byte.
func (c *Cursor) Byte() (byte, error) {
	b, err := c.Need(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Line scans for the next CRLF-terminated line, returning its content
// without the terminator and advancing the cursor past it. maxLen bounds how
// far ahead the scan looks before giving up with ErrLineTooLong.
func (c *Cursor) Line(maxLen int) ([]byte, error) {
	avail := c.p.buf[c.pos:]
	limit := len(avail)
	if limit > maxLen {
		limit = maxLen
	}
	idx := bytes.Index(avail[:limit], crlf)
	if idx < 0 {
		if limit >= maxLen {
			return nil, ErrLineTooLong
		}
		if c.p.eof {
			return nil, ErrClosed
		}
		return nil, ErrNeedMore
	}
	line := avail[:idx]
	c.pos += idx + len(crlf)
	return line, nil
}

// Pos reports how many bytes this cursor has read so far.
func (c *Cursor) Pos() int {
	return c.pos
}

// Commit discards the bytes this cursor has read from the underlying Pipe,
// making them unavailable to future cursors. Call it once a parser has fully
// and successfully consumed a logical unit (an HTTP message, a frame).
func (c *Cursor) Commit() {
	c.p.buf = c.p.buf[c.pos:]
	c.pos = 0
}

var crlf = []byte("\r\n")
