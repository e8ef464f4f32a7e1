// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// ValidationSink (C9): collects PDF/A-1b-flavored conformance signals
// and signature byte-range candidates discovered while parsing.
// Nothing here evaluates PDF/A *rules*; it only records what was
// observed, per spec §1's "record signals, don't invent data".

package pdf

// SignatureRange is one /Contents + /ByteRange candidate discovered
// while parsing a dictionary, per spec §4.3/§4.9.
type SignatureRange struct {
	Dict              Dict
	ContentsBegin     int64
	ContentsEnd       int64
	FirstEOF          int64
	ContentsIndirect  *ObjectKey // non-nil when /Contents was a reference
	byteRangeRaw      Array
	resolved          bool
	GoodByteRange     bool
}

// HeaderComment is the four bytes of the %xxxx binary-comment line
// following the header, or (-1,-1,-1,-1) if missing/invalid.
type HeaderComment [4]int

// ValidationSink accumulates the signals spec §4.9 describes. All
// boolean signals default to true (compliant) until a violation
// flips them.
type ValidationSink struct {
	PostEOFDataSize                int64
	XrefEOLMarkersComplyPDFA       bool
	SubsectionHeaderSpaceSeparated bool
	HeaderComment                  HeaderComment

	HexStringCount   int
	HexStringAllHex  bool

	Signatures []*SignatureRange
}

// NewValidationSink returns a sink with every compliance bit set to
// its default "true"/sentinel state.
func NewValidationSink() *ValidationSink {
	return &ValidationSink{
		PostEOFDataSize:                -1,
		XrefEOLMarkersComplyPDFA:       true,
		SubsectionHeaderSpaceSeparated: true,
		HeaderComment:                  HeaderComment{-1, -1, -1, -1},
		HexStringAllHex:                true,
	}
}

func (s *ValidationSink) recordHexString(digitCount int, hexOnly bool) {
	s.HexStringCount += digitCount
	if !hexOnly {
		s.HexStringAllHex = false
	}
}

func (s *ValidationSink) flagXrefEOLViolation() { s.XrefEOLMarkersComplyPDFA = false }

func (s *ValidationSink) flagSubsectionSpacing() { s.SubsectionHeaderSpaceSeparated = false }

// subsectionSpacingOK reports whether exactly one space separates the
// subsection header's object-number and count, per spec §4.9's
// subsectionHeaderSpaceSeparated: pos is the byte right after the
// object-number digits, so this is compliant only when that byte is a
// single space immediately followed by the count's first digit.
func subsectionSpacingOK(src RandomAccessRead, pos int64) bool {
	buf := make([]byte, 2)
	n, _ := src.ReadAt(buf, pos)
	if n < 2 {
		return false
	}
	return buf[0] == ' ' && isDigitByte(buf[1])
}

// xrefEOLCompliant scans the raw bytes of a classic xref table's
// subsection body (from just after the "xref" keyword to just before
// "trailer") for xrefEOLMarkersComplyPDFA (spec §4.9, PDF/A-1b clause
// 6.1.4): every CR must be followed by either LF or a digit (the
// latter tolerating a bare-CR line break running straight into the
// next entry's offset).
func xrefEOLCompliant(src RandomAccessRead, start, end int64) bool {
	if end <= start {
		return true
	}
	buf := make([]byte, end-start)
	n, _ := src.ReadAt(buf, start)
	buf = buf[:n]
	for i, b := range buf {
		if b != '\r' {
			continue
		}
		if i+1 >= len(buf) {
			continue
		}
		next := buf[i+1]
		if next != '\n' && !isDigitByte(next) {
			return false
		}
	}
	return true
}

// recordSignatureCandidate is called by ObjectGrammar when a
// dictionary carries both /Contents and /ByteRange.
func (s *ValidationSink) recordSignatureCandidate(d Dict, contents, byteRange ObjectValue, begin, end int64) {
	sr := &SignatureRange{Dict: d, ContentsBegin: -1, ContentsEnd: -1, FirstEOF: -1}
	if ref, ok := contents.(Ref); ok {
		k := ref.Key
		sr.ContentsIndirect = &k
	} else {
		sr.ContentsBegin = begin
		sr.ContentsEnd = end
		sr.resolved = true
	}
	if arr, ok := byteRange.(Array); ok {
		sr.byteRangeRaw = arr
	}
	s.Signatures = append(s.Signatures, sr)
}

// resolveIndirectContents is invoked by the post-parse pass for any
// SignatureRange whose /Contents was indirect: it seeks into the
// referenced object's raw bytes to find the hex string's actual
// begin/end offsets, since the dictionary parse only captured the
// reference token's own span.
func resolveIndirectContents(store *ObjectStore, sr *SignatureRange) {
	if sr.resolved || sr.ContentsIndirect == nil {
		return
	}
	entry, ok := store.xref[*sr.ContentsIndirect]
	if !ok || entry.Kind != XrefInUse {
		return
	}
	cur := store.newCursorAt(entry.Offset)
	defer cur.Release()
	tr := NewTokenReader(cur, false)
	// N G obj
	tr.ReadToken()
	tr.ReadToken()
	tr.ReadToken()
	cur.SkipSpaces()
	start := cur.Position()
	tok := tr.ReadToken()
	if _, ok := tok.(*stringTok); ok {
		end := cur.Position()
		sr.ContentsBegin = start
		sr.ContentsEnd = end
		sr.resolved = true
	}
}

// verifyByteRange checks /ByteRange = [0, b, c, d] against
// (contentsBegin, contentsEnd, firstEOF), deliberately checking ALL
// three offsets rather than replicating the original implementation's
// "1..2" loop-bound bug (spec §9 open question): that bug effectively
// checked only byteRange[1], silently accepting wrong c/d values.
func verifyByteRange(sr *SignatureRange) bool {
	if len(sr.byteRangeRaw) != 4 {
		return false
	}
	nums := make([]int64, 4)
	for i, v := range sr.byteRangeRaw {
		n, ok := asInt64(v)
		if !ok {
			return false
		}
		nums[i] = n
	}
	if nums[0] != 0 {
		return false
	}
	b, c, d := nums[1], nums[2], nums[3]
	wantC := sr.ContentsEnd + 1
	wantD := sr.FirstEOF - sr.ContentsEnd
	return b == sr.ContentsBegin && c == wantC && d == wantD
}

func asInt64(v ObjectValue) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// FinalizePass runs after the whole document is parsed: it resolves
// any indirect /Contents offsets and checks each signature candidate's
// /ByteRange, per spec §4.9/§8 property 8.
func (s *ValidationSink) FinalizePass(store *ObjectStore) {
	for _, sr := range s.Signatures {
		resolveIndirectContents(store, sr)
		if sr.resolved && sr.FirstEOF < 0 {
			sr.FirstEOF = store.scanner.findFirstEOFAfter(sr.ContentsEnd)
		}
		if sr.resolved {
			sr.GoodByteRange = verifyByteRange(sr)
		}
	}
}
