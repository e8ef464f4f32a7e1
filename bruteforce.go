// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// BruteForceScanner (C7): scans the whole file once for "N G obj",
// "xref", and "/XRef" patterns to rebuild a missing or broken index.
// Results are cached; every caller consults the same cache (spec §9
// "Whole-file scans... do not rescan").

package pdf

import "context"

const scanChunkSize = 64 * 1024

// objCandidate is one "N G obj" hit: the byte offset where the object
// number's first digit starts.
type objCandidate struct {
	key    ObjectKey
	offset int64
}

// BruteForceScanner materializes, once, every plausible object
// header, xref table start, and xref stream start in the file.
type BruteForceScanner struct {
	src    RandomAccessRead
	length int64

	scanned      bool
	objects      map[ObjectKey]int64
	xrefTables   []int64
	xrefStreams  []int64

	cc      *contextChecker
	scanErr error
}

// NewBruteForceScanner returns a scanner that performs no I/O until
// its first query.
func NewBruteForceScanner(src RandomAccessRead, length int64) *BruteForceScanner {
	return &BruteForceScanner{src: src, length: length}
}

// WithContext attaches a cancellation context to the scanner: the
// whole-file scan, the most expensive recovery operation the core
// performs, stops once the context is cancelled or its deadline passes
// instead of running to completion on a multi-gigabyte input, and Err
// then reports the checker's ErrContextCancelled or ErrTimeout.
func (s *BruteForceScanner) WithContext(ctx context.Context, checkInterval int) *BruteForceScanner {
	if ctx != nil {
		s.cc = newContextChecker(ctx, checkInterval)
	}
	return s
}

// Err returns the cancellation error observed during the last scan, if
// any.
func (s *BruteForceScanner) Err() error { return s.scanErr }

func (s *BruteForceScanner) ensureScanned() {
	if s.scanned {
		return
	}
	s.scanned = true
	s.objects = make(map[ObjectKey]int64)

	const ctxBack = 24 // enough to read back "1234567 65535 " before " obj"
	overlap := make([]byte, 0, ctxBack+8)
	var pos int64 = 6 // spec §4.7: "starting from byte 6"
	buf := make([]byte, scanChunkSize)

	for pos < s.length {
		if s.cc != nil && s.cc.Check() {
			s.scanErr = s.cc.Err()
			break
		}
		n, err := s.src.ReadAt(buf, pos)
		if n == 0 {
			if err != nil {
				break
			}
			continue
		}
		chunk := buf[:n]
		full := append(append([]byte{}, overlap...), chunk...)
		fullBase := pos - int64(len(overlap))

		for i := 0; i+4 <= len(full); i++ {
			if full[i] == ' ' && full[i+1] == 'o' && full[i+2] == 'b' && full[i+3] == 'j' {
				if key, numStart, ok := scanObjHeaderBackward(full, i, fullBase); ok {
					s.objects[key] = numStart
				}
			}
			if matchAt(full, i, "xref") && (i == 0 || isWhitespace(full[i-1])) {
				// Exclude "startxref": a preceding 'start' would put a
				// letter, not whitespace, right before "xref".
				s.xrefTables = append(s.xrefTables, fullBase+int64(i))
			}
			if matchAt(full, i, "/XRef") {
				if hdrOffset, ok := findPrecedingObjHeader(full, i, fullBase); ok {
					s.xrefStreams = append(s.xrefStreams, hdrOffset)
				}
			}
		}

		keep := ctxBack + 8
		if len(full) < keep {
			keep = len(full)
		}
		overlap = append(overlap[:0], full[len(full)-keep:]...)
		pos += int64(n)
	}
}

func matchAt(buf []byte, i int, s string) bool {
	if i+len(s) > len(buf) {
		return false
	}
	for j := 0; j < len(s); j++ {
		if buf[i+j] != s[j] {
			return false
		}
	}
	return true
}

// scanObjHeaderBackward walks backward from the " obj" hit at full[i]
// to read an optional generation, a space, then the object number.
func scanObjHeaderBackward(full []byte, i int, base int64) (ObjectKey, int64, bool) {
	p := i - 1
	for p >= 0 && isDigitByte(full[p]) {
		p--
	}
	if p == i-1 {
		return ObjectKey{}, 0, false
	}
	genStart := p + 1
	gen, ok := parseUintBytes(full[genStart:i])
	if !ok {
		return ObjectKey{}, 0, false
	}
	if p < 0 || !isWhitespace(full[p]) {
		return ObjectKey{}, 0, false
	}
	p--
	numEnd := p + 1
	for p >= 0 && isDigitByte(full[p]) {
		p--
	}
	numStart := p + 1
	if numStart == numEnd {
		return ObjectKey{}, 0, false
	}
	num, ok := parseUintBytes(full[numStart:numEnd])
	if !ok {
		return ObjectKey{}, 0, false
	}
	return ObjectKey{Num: uint32(num), Gen: uint16(gen)}, base + int64(numStart), true
}

// findPrecedingObjHeader walks back up to 300 bytes from a "/XRef"
// hit looking for "N G obj" (spec §4.7: "up to 30×10 bytes").
func findPrecedingObjHeader(full []byte, i int, base int64) (int64, bool) {
	lo := i - 300
	if lo < 0 {
		lo = 0
	}
	best := int64(-1)
	for j := lo; j < i; j++ {
		if matchAt(full, j, " obj") {
			if _, numStart, ok := scanObjHeaderBackward(full, j, base); ok {
				best = numStart
			}
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

func parseUintBytes(b []byte) (uint64, bool) {
	if len(b) == 0 {
		return 0, false
	}
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint64(c-'0')
	}
	return n, true
}

// Objects returns the cached (num,gen) -> offset-of-number-start map.
func (s *BruteForceScanner) Objects() map[ObjectKey]int64 {
	s.ensureScanned()
	return s.objects
}

// NearestXref chooses the xref-table or xref-stream start nearest to
// expected, per spec §4.5 bfSearchForXRef: smaller absolute distance
// wins; ties prefer tables.
func (s *BruteForceScanner) NearestXref(expected int64) (offset int64, isStream bool, ok bool) {
	s.ensureScanned()
	best := int64(-1)
	bestDiff := int64(-1)
	bestIsStream := false
	consider := func(off int64, stream bool) {
		diff := off - expected
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff || (diff == bestDiff && !stream && bestIsStream) {
			best, bestDiff, bestIsStream = off, diff, stream
		}
	}
	for _, off := range s.xrefTables {
		consider(off, false)
	}
	for _, off := range s.xrefStreams {
		consider(off, true)
	}
	if best < 0 {
		return 0, false, false
	}
	return best, bestIsStream, true
}

// RebuildXref reconstructs a full xref map purely from the scanned
// object headers: every candidate is InUse at its "N G obj" start.
func (s *BruteForceScanner) RebuildXref() map[ObjectKey]XrefEntry {
	s.ensureScanned()
	out := make(map[ObjectKey]XrefEntry, len(s.objects))
	for key, numStart := range s.objects {
		out[key] = XrefEntry{Kind: XrefInUse, Offset: numStart}
	}
	return out
}

// findFirstEOFAfter returns the offset of the 'F' in the nearest
// "%%EOF" occurring at or after from, or -1 if none is found.
func (s *BruteForceScanner) findFirstEOFAfter(from int64) int64 {
	const marker = "%%EOF"
	buf := make([]byte, scanChunkSize)
	pos := from
	if pos < 0 {
		pos = 0
	}
	overlap := make([]byte, 0, len(marker))
	for pos < s.length {
		n, err := s.src.ReadAt(buf, pos)
		if n == 0 {
			if err != nil {
				break
			}
			continue
		}
		chunk := buf[:n]
		full := append(append([]byte{}, overlap...), chunk...)
		fullBase := pos - int64(len(overlap))
		for i := 0; i+len(marker) <= len(full); i++ {
			if matchAt(full, i, marker) {
				return fullBase + int64(i) + int64(len(marker)) - 1
			}
		}
		keep := len(marker) - 1
		if len(full) < keep {
			keep = len(full)
		}
		overlap = append(overlap[:0], full[len(full)-keep:]...)
		pos += int64(n)
	}
	return -1
}
