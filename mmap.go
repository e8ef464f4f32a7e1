// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

// MmapSource is a RandomAccessRead backed by a memory-mapped file.
// The teacher's own NewReaderEncryptedWithMmap left this as a
// "TODO: Implement actual memory mapping using syscall.Mmap or
// similar"; this gives that TODO a real implementation using the
// same golang.org/x/sys dependency the teacher already carried
// (previously wired only to its now-deleted SIMD hex decoder).

package pdf

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// MmapSource maps an entire file read-only into memory.
type MmapSource struct {
	f    *os.File
	data []byte
}

// OpenMmap opens path and maps its full contents.
func OpenMmap(path string) (*MmapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapErr("open file for mmap", -1, KindIO, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapErr("stat file for mmap", -1, KindIO, err)
	}
	size := fi.Size()
	if size == 0 {
		f.Close()
		return nil, wrapErr("mmap empty file", -1, KindIO, errClosedSource)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, wrapErr("mmap file", -1, KindIO, err)
	}
	return &MmapSource{f: f, data: data}, nil
}

func (m *MmapSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MmapSource) Size() (int64, error) {
	return int64(len(m.data)), nil
}

// Close unmaps the file and closes the descriptor.
func (m *MmapSource) Close() error {
	err := unix.Munmap(m.data)
	m.data = nil
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}
