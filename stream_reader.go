// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// StreamReader (C8): reads a stream body. Length-known fast path when
// /Length resolves and endstream follows it; otherwise a
// Boyer-Moore-Horspool-style scan for "endstream" (falling back to
// "endobj" on the corrupt files that omit it), per spec §4.8.

package pdf

import "bytes"

// lengthResolverFunc resolves a /Length value (an int64 or a Ref) to
// a byte count. ObjectStore supplies the implementation so the
// indirect-/Length cycle guard (spec §4.6) lives with the rest of the
// in-flight bookkeeping.
type lengthResolverFunc func(v ObjectValue) (int64, error)

var streamScanKeyword = []byte("endstream")
var objScanKeyword = []byte("endobj")

// horspoolSkip builds the bad-character skip table used by the
// Boyer-Moore-Horspool scan below.
func horspoolSkip(pattern []byte) [256]int {
	var table [256]int
	for i := range table {
		table[i] = len(pattern)
	}
	for i := 0; i < len(pattern)-1; i++ {
		table[pattern[i]] = len(pattern) - 1 - i
	}
	return table
}

var streamSkipTable = horspoolSkip(streamScanKeyword)
var objSkipTable = horspoolSkip(objScanKeyword)

// ReadStream produces the final *Stream for a StreamHeader returned
// by ObjectGrammar. owner identifies the indirect object the stream
// belongs to (for decryption). limits.MaxStreamBytes caps how much of
// the payload is actually materialized into scratch storage; s.ActualLength
// always reports the true, untruncated length.
func ReadStream(src RandomAccessRead, fileLen int64, hdr StreamHeader, owner ObjectKey, resolveLength lengthResolverFunc, scratch *ScratchAllocator, mode Mode, limits ParseLimits, sink *ValidationSink, diag *diagnostics) (*Stream, error) {
	start := hdr.BodyOffset
	s := &Stream{Dict: hdr.Dict, Owner: owner, StreamKeywordEOLCompliant: hdr.StreamKeywordEOLCompliant, EndstreamKeywordEOLCompliant: true}

	if lv, ok := hdr.Dict["Length"]; ok {
		if L, err := resolveLength(lv); err == nil && L >= 0 {
			if end, _, ok := verifyEndstreamAt(src, fileLen, start+L); ok {
				copyEnd := clampStreamEnd(start, start+L, limits, start, diag)
				blob, err := copyRange(src, scratch, start, copyEnd)
				if err != nil {
					return nil, err
				}
				s.Payload = blob
				s.ActualLength = L
				if _, eolBytes := trimTrailingEOL(src, start, end-int64(len(streamScanKeyword))); eolBytes == 0 {
					s.EndstreamKeywordEOLCompliant = false
				}
				return s, nil
			}
		} else if err != nil && mode.Name == ModeStrict {
			return nil, wrapErr("read stream", start, KindStreamLength, err)
		}
	} else if mode.Name == ModeStrict {
		return nil, wrapErr("read stream", start, KindStreamLength, causeNoEndstream)
	}

	// Fallback scan.
	matchStart, usedObj, found := scanForEndKeyword(src, fileLen, start)
	if !found {
		if mode.Name == ModeStrict {
			return nil, wrapErr("read stream", start, KindStreamLength, causeNoEndstream)
		}
		if diag != nil {
			diag.add(start, "stream has no resolvable /Length and no endstream/endobj found; truncating at EOF")
		}
		matchStart = fileLen
		s.EndstreamKeywordEOLCompliant = false
	} else if usedObj {
		s.EndstreamKeywordEOLCompliant = false
		if diag != nil {
			diag.add(start, "stream missing endstream; recovered using endobj boundary")
		}
	}

	payloadEnd, eolBytes := trimTrailingEOL(src, start, matchStart)
	copyEnd := clampStreamEnd(start, payloadEnd, limits, start, diag)
	blob, err := copyRange(src, scratch, start, copyEnd)
	if err != nil {
		return nil, err
	}
	s.Payload = blob
	s.ActualLength = payloadEnd - start
	if eolBytes == 0 {
		s.EndstreamKeywordEOLCompliant = false
	}
	return s, nil
}

// clampStreamEnd caps the range copyRange will actually materialize at
// limits.MaxStreamBytes, leaving s.ActualLength (computed by the
// caller from the untouched true end) to still report the real,
// untruncated stream length.
func clampStreamEnd(start, end int64, limits ParseLimits, reportAt int64, diag *diagnostics) int64 {
	if limits.MaxStreamBytes <= 0 || end-start <= limits.MaxStreamBytes {
		return end
	}
	if diag != nil {
		diag.add(reportAt, "stream payload exceeds configured MaxStreamBytes; truncating buffered copy")
	}
	return start + limits.MaxStreamBytes
}

// verifyEndstreamAt checks that, allowing for optional whitespace,
// "endstream" begins at or shortly after pos.
func verifyEndstreamAt(src RandomAccessRead, fileLen, pos int64) (end int64, eolLen int, ok bool) {
	if pos < 0 || pos > fileLen {
		return 0, 0, false
	}
	window := make([]byte, 32)
	n, _ := src.ReadAt(window, pos)
	window = window[:n]
	i := 0
	for i < len(window) && isWhitespace(window[i]) {
		i++
	}
	if bytes.HasPrefix(window[i:], streamScanKeyword) {
		return pos + int64(i) + int64(len(streamScanKeyword)), i, true
	}
	return 0, 0, false
}

// scanForEndKeyword runs the Horspool scan over 64 KiB windows,
// searching each window for "endstream" and then for "endobj". The
// first window that holds either keyword decides the result (an
// "endobj" in an earlier window wins over an "endstream" in a later
// one); it returns the offset of the keyword's first byte.
func scanForEndKeyword(src RandomAccessRead, fileLen, from int64) (matchStart int64, usedObj bool, found bool) {
	const chunk = 64 * 1024
	buf := make([]byte, chunk)
	pos := from
	overlap := make([]byte, 0, len(streamScanKeyword))

	for pos < fileLen {
		n, err := src.ReadAt(buf, pos)
		if n == 0 {
			if err != nil {
				break
			}
			continue
		}
		window := append(append([]byte{}, overlap...), buf[:n]...)
		base := pos - int64(len(overlap))

		if idx := indexHorspool(window, streamScanKeyword, streamSkipTable); idx >= 0 {
			return base + int64(idx), false, true
		}
		if idx := indexHorspool(window, objScanKeyword, objSkipTable); idx >= 0 {
			return base + int64(idx), true, true
		}

		keep := len(streamScanKeyword) - 1
		if len(window) < keep {
			keep = len(window)
		}
		overlap = append(overlap[:0], window[len(window)-keep:]...)
		pos += int64(n)
	}
	return 0, false, false
}

// indexHorspool implements the shortcut spec §4.8 describes: compare
// the candidate byte at position+|pattern|-1 first, and on mismatch
// jump by the bad-character table instead of sliding by one.
func indexHorspool(text, pattern []byte, skip [256]int) int {
	m := len(pattern)
	n := len(text)
	if m == 0 || n < m {
		return -1
	}
	i := 0
	for i <= n-m {
		last := text[i+m-1]
		if last == pattern[m-1] && bytes.Equal(text[i:i+m-1], pattern[:m-1]) {
			return i
		}
		i += skip[last]
	}
	return -1
}

// trimTrailingEOL backs payloadEnd off any CR LF, LF, or CR
// immediately preceding matchStart, per spec §4.8's "subtracting a
// trailing CR LF | LF | CR" rule (shared with ValidationSink's
// postEOFDataSize computation).
func trimTrailingEOL(src RandomAccessRead, payloadStart, matchStart int64) (end int64, eolBytes int) {
	if matchStart-2 >= payloadStart {
		two := make([]byte, 2)
		src.ReadAt(two, matchStart-2)
		if two[0] == '\r' && two[1] == '\n' {
			return matchStart - 2, 2
		}
	}
	if matchStart-1 >= payloadStart {
		one := make([]byte, 1)
		src.ReadAt(one, matchStart-1)
		if one[0] == '\n' || one[0] == '\r' {
			return matchStart - 1, 1
		}
	}
	return matchStart, 0
}

// readRawBytesAt reads [start,end) directly into memory, for the
// bootstrap consumers (xref streams, object streams) that need the
// decoded bytes immediately rather than a persisted ScratchBlob.
func readRawBytesAt(src RandomAccessRead, start, end int64) ([]byte, error) {
	if end < start {
		return nil, nil
	}
	buf := make([]byte, end-start)
	off := int64(0)
	for off < int64(len(buf)) {
		n, err := src.ReadAt(buf[off:], start+off)
		off += int64(n)
		if err != nil {
			if off >= int64(len(buf)) {
				break
			}
			return nil, wrapErr("read raw bytes", start+off, KindIO, err)
		}
	}
	return buf, nil
}

func copyRange(src RandomAccessRead, scratch *ScratchAllocator, start, end int64) (*ScratchBlob, error) {
	if end < start {
		end = start
	}
	blob := scratch.New()
	const chunk = 256 * 1024
	buf := make([]byte, chunk)
	for pos := start; pos < end; {
		want := end - pos
		if want > chunk {
			want = chunk
		}
		n, err := src.ReadAt(buf[:want], pos)
		if n > 0 {
			if werr := blob.Write(buf[:n]); werr != nil {
				return nil, wrapErr("buffer stream payload", pos, KindIO, werr)
			}
			pos += int64(n)
		}
		if err != nil && n == 0 {
			break
		}
	}
	return blob, nil
}
