// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdf

import (
	"errors"
	"io"
	"sync"
)

// RandomAccessRead is the random-access capability the core is given
// in place of a bare *os.File. file_source.go and mmap.go provide the
// two stock implementations; tests and callers may supply their own
// (e.g. one that returns a sentinel error after a cancellation signal,
// which the core surfaces as an IoError).
type RandomAccessRead interface {
	io.ReaderAt
	// Size returns the total length of the backing data in bytes.
	Size() (int64, error)
}

var errClosedSource = errors.New("pdf: read from closed RandomAccessRead")

const cursorBufSize = 4096

// bufferPool recycles the fixed-size byte slices ByteCursor reads
// into, the same role the teacher's (now-removed) GetPDFBuffer /
// PutPDFBuffer pair played for its buffer type.
var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, cursorBufSize)
		return &b
	},
}

func getCursorBuf() []byte {
	p := bufferPool.Get().(*[]byte)
	return (*p)[:cursorBufSize]
}

func putCursorBuf(b []byte) {
	b = b[:cursorBufSize]
	bufferPool.Put(&b)
}

// ByteCursor is a seekable byte source over a RandomAccessRead, with a
// small read-ahead buffer so the tokenizer isn't making one ReadAt
// syscall per byte.
type ByteCursor struct {
	src    RandomAccessRead
	length int64

	buf    []byte // read-ahead window
	bufOff int64  // file offset of buf[0]
	pos    int    // read index into buf
	eof    bool
	readErr error

	timer *parseTimer

	maxHexStringBytes int
}

// WithLimits attaches a parse-time budget to the cursor: once
// limits.MaxParseTime elapses, fill begins failing with
// ErrMaxParseTimeExceeded instead of blocking on a runaway recovery
// scan. A zero MaxParseTime leaves the cursor unbounded. It also
// carries limits.MaxHexStringBytes through to TokenReader.readHexString,
// the only other limit the tokenizer itself enforces.
func (c *ByteCursor) WithLimits(limits ParseLimits) *ByteCursor {
	if limits.MaxParseTime > 0 {
		c.timer = newParseTimer(limits.MaxParseTime, limits.CheckInterval)
	}
	c.maxHexStringBytes = limits.MaxHexStringBytes
	return c
}

// NewByteCursor constructs a cursor positioned at offset 0.
func NewByteCursor(src RandomAccessRead) (*ByteCursor, error) {
	n, err := src.Size()
	if err != nil {
		return nil, wrapErr("open cursor", -1, KindIO, err)
	}
	return &ByteCursor{src: src, length: n, buf: getCursorBuf()[:0]}, nil
}

// Release returns the cursor's read-ahead buffer to the pool. Callers
// should call this when the cursor itself is no longer needed (a
// document closes all cursors it opened).
func (c *ByteCursor) Release() {
	if c.buf != nil {
		putCursorBuf(c.buf[:cap(c.buf)])
		c.buf = nil
	}
}

// Length reports the total size of the backing data.
func (c *ByteCursor) Length() int64 { return c.length }

// Position reports the offset of the next byte Read would return.
func (c *ByteCursor) Position() int64 { return c.bufOff + int64(c.pos) }

// IsEOF reports whether the cursor has observed end-of-data at the
// current position (valid only immediately after a failed Read).
func (c *ByteCursor) IsEOF() bool { return c.eof && c.pos >= len(c.buf) }

// Seek repositions the cursor, discarding the read-ahead window.
func (c *ByteCursor) Seek(offset int64) {
	c.bufOff = offset
	c.buf = c.buf[:0]
	c.pos = 0
	c.eof = false
	c.readErr = nil
}

// Err returns the first IO error observed by the cursor, if any.
func (c *ByteCursor) Err() error { return c.readErr }

func (c *ByteCursor) fill() bool {
	if c.readErr != nil {
		return false
	}
	if c.timer != nil && c.timer.Check() {
		c.readErr = ErrMaxParseTimeExceeded
		c.eof = true
		return false
	}
	pos := c.bufOff + int64(len(c.buf))
	if pos >= c.length {
		c.eof = true
		return false
	}
	if cap(c.buf) == 0 {
		c.buf = getCursorBuf()[:0]
	}
	want := cap(c.buf)
	if rem := c.length - pos; rem < int64(want) {
		want = int(rem)
	}
	buf := c.buf[:cap(c.buf)][:want]
	n, err := c.src.ReadAt(buf, pos)
	if n == 0 {
		if err != nil && err != io.EOF {
			c.readErr = err
		}
		c.eof = true
		return false
	}
	// Slide the consumed prefix out before appending fresh bytes so
	// bufOff/pos stay consistent with Position().
	c.bufOff += int64(c.pos)
	c.buf = buf[:n]
	c.pos = 0
	return true
}

// Peek returns the next byte without consuming it; ok is false at EOF.
func (c *ByteCursor) Peek() (b byte, ok bool) {
	if c.pos >= len(c.buf) {
		if !c.fill() {
			return 0, false
		}
	}
	return c.buf[c.pos], true
}

// Read consumes and returns the next byte; ok is false at EOF.
func (c *ByteCursor) Read() (b byte, ok bool) {
	if c.pos >= len(c.buf) {
		if !c.fill() {
			return 0, false
		}
	}
	b = c.buf[c.pos]
	c.pos++
	return b, true
}

// Rewind un-consumes the last n bytes read. n must not exceed the
// number of bytes currently available in the read-ahead window
// (true for every caller in this package: lookahead never spans a
// fill boundary by more than one byte).
func (c *ByteCursor) Rewind(n int) {
	c.pos -= n
	if c.pos < 0 {
		c.pos = 0
	}
}

// ReadFully reads exactly n bytes, or returns as many as were
// available with ok=false at EOF.
func (c *ByteCursor) ReadFully(n int) (data []byte, ok bool) {
	data = make([]byte, 0, n)
	for len(data) < n {
		b, more := c.Read()
		if !more {
			return data, false
		}
		data = append(data, b)
	}
	return data, true
}

// ReadLine reads bytes up to (but not including) the first EOL
// sequence (CR, LF, or CRLF; bare CR and bare LF both terminate) and
// consumes the EOL itself.
func (c *ByteCursor) ReadLine() []byte {
	var line []byte
	for {
		b, ok := c.Read()
		if !ok {
			return line
		}
		if b == '\n' {
			return line
		}
		if b == '\r' {
			if nb, ok := c.Read(); ok && nb != '\n' {
				c.Rewind(1)
			}
			return line
		}
		line = append(line, b)
	}
}

// SkipSpaces skips PDF whitespace and, per the PDF comment rule,
// "%"-introduced comments through end of line.
func (c *ByteCursor) SkipSpaces() {
	for {
		b, ok := c.Peek()
		if !ok {
			return
		}
		if isWhitespace(b) {
			c.Read()
			continue
		}
		if b == '%' {
			c.Read()
			for {
				nb, ok := c.Read()
				if !ok || isEOL(nb) {
					break
				}
			}
			continue
		}
		return
	}
}

func isWhitespace(b byte) bool {
	switch b {
	case 0, 9, 12, 10, 13, 32:
		return true
	}
	return false
}

func isEOL(b byte) bool { return b == 10 || b == 13 }

func isDigitByte(b byte) bool { return b >= '0' && b <= '9' }

func isSpaceByte(b byte) bool { return b == 32 }
