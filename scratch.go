// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// ScratchAllocator is the default implementation of the "opaque
// allocator of writable blobs" spec §1 names as an external
// collaborator: stream payloads are buffered here rather than held as
// plain Go byte slices. Open always creates its own allocator with
// NewScratchAllocator(""); callers cannot supply a different one.

package pdf

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// spillThreshold is the payload size past which a blob switches from
// an in-memory buffer to a temp file.
const spillThreshold = 4 << 20

// ScratchBlob is a single writable-then-readable byte blob. Write
// calls happen during stream reading; Reader is requested by callers
// once parsing has produced a final payload.
type ScratchBlob struct {
	id   uuid.UUID
	mem  []byte
	file *os.File
	dir  string
	size int64
}

// New begins a new blob. It starts in memory and spills to a temp
// file transparently if it grows past spillThreshold.
func (a *ScratchAllocator) New() *ScratchBlob {
	b := &ScratchBlob{id: uuid.New(), dir: a.dir}
	a.blobs = append(a.blobs, b)
	return b
}

// Write appends p to the blob.
func (b *ScratchBlob) Write(p []byte) error {
	if b.file == nil && int64(len(b.mem))+int64(len(p)) > spillThreshold {
		f, err := os.CreateTemp(b.dir, "pdfxref-"+b.id.String()+"-*.blob")
		if err != nil {
			return fmt.Errorf("scratch: spill to temp file: %w", err)
		}
		if len(b.mem) > 0 {
			if _, err := f.Write(b.mem); err != nil {
				f.Close()
				os.Remove(f.Name())
				return err
			}
		}
		b.file = f
		b.mem = nil
	}
	if b.file != nil {
		n, err := b.file.Write(p)
		b.size += int64(n)
		return err
	}
	b.mem = append(b.mem, p...)
	b.size += int64(len(p))
	return nil
}

// Len reports the number of bytes written so far.
func (b *ScratchBlob) Len() int64 { return b.size }

// Bytes returns the blob's contents as a slice when it never spilled
// to disk; ok is false once the blob is file-backed (use Reader
// instead to avoid holding the whole payload in memory).
func (b *ScratchBlob) Bytes() ([]byte, bool) {
	if b.file != nil {
		return nil, false
	}
	return b.mem, true
}

// Reader returns a fresh io.ReadCloser over the blob's contents from
// the beginning.
func (b *ScratchBlob) Reader() (io.ReadCloser, error) {
	if b.file != nil {
		f, err := os.Open(b.file.Name())
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return io.NopCloser(newByteReader(b.mem)), nil
}

func (b *ScratchBlob) close() {
	if b.file != nil {
		b.file.Close()
		os.Remove(b.file.Name())
	}
}

// ScratchAllocator owns every blob created for one document's stream
// payloads and releases them all on Close.
type ScratchAllocator struct {
	dir   string
	blobs []*ScratchBlob
}

// NewScratchAllocator returns an allocator that spills to dir (the OS
// temp directory when dir is empty).
func NewScratchAllocator(dir string) *ScratchAllocator {
	return &ScratchAllocator{dir: dir}
}

// Close releases every blob this allocator produced, removing any
// backing temp files.
func (a *ScratchAllocator) Close() {
	for _, b := range a.blobs {
		b.close()
	}
	a.blobs = nil
}

type byteReader struct {
	b   []byte
	pos int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += n
	return n, nil
}
