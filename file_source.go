// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdf

import "os"

// FileSource is the plain RandomAccessRead backed by an *os.File. It
// does not take ownership of f's lifetime beyond Close.
type FileSource struct {
	f *os.File
}

// OpenFile opens path for reading and wraps it as a RandomAccessRead.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrapErr("open file", -1, KindIO, err)
	}
	return &FileSource{f: f}, nil
}

// NewFileSource wraps an already-open file.
func NewFileSource(f *os.File) *FileSource { return &FileSource{f: f} }

func (s *FileSource) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *FileSource) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error { return s.f.Close() }
