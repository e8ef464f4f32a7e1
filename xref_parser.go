// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// XrefParser (C5): follows startxref -> xref -> /Prev, dispatching to
// classic-table or xref-stream parsing, merging a hybrid /XRefStm,
// and repairing bad offsets via BruteForceScanner.

package pdf

import "fmt"

// XrefParser drives one document's xref-chain walk.
type XrefParser struct {
	src          RandomAccessRead
	fileLen      int64
	headerOffset int64
	mode         Mode
	scanner      *BruteForceScanner
	diag         *diagnostics
	sink         *ValidationSink
	limits       ParseLimits

	resolver *XrefResolver
	visited  map[int64]bool
}

// NewXrefParser builds a parser for one document.
func NewXrefParser(src RandomAccessRead, fileLen, headerOffset int64, mode Mode, scanner *BruteForceScanner, diag *diagnostics, sink *ValidationSink, limits ParseLimits) *XrefParser {
	return &XrefParser{
		src: src, fileLen: fileLen, headerOffset: headerOffset, mode: mode,
		scanner: scanner, diag: diag, sink: sink, limits: limits,
		resolver: NewXrefResolver(), visited: make(map[int64]bool),
	}
}

// Parse walks the chain starting at startxrefValue (as read from the
// "startxref" keyword near EOF, before header-offset translation) and
// returns the populated resolver.
func (p *XrefParser) Parse(startxrefValue int64) (*XrefResolver, error) {
	offset := startxrefValue + p.headerOffset
	return p.walk(offset)
}

func (p *XrefParser) walk(offset int64) (*XrefResolver, error) {
	for {
		if offset < 0 || offset >= p.fileLen {
			return p.recoverChainBreak(offset, "startxref points outside the file")
		}
		if p.visited[offset] {
			// spec §9: /Prev cycle detection via an explicit
			// visited-offsets set, unlike the best-effort original.
			if p.diag != nil {
				p.diag.add(offset, "xref chain revisits offset %d; stopping to break cycle", offset)
			}
			return p.resolver, nil
		}
		p.visited[offset] = true

		kind, err := p.sniffSectionKind(offset)
		if err != nil {
			return p.recoverChainBreak(offset, "no xref table or stream at expected offset")
		}

		var section *xrefSection
		switch kind {
		case SectionTable:
			section, err = p.parseClassicTable(offset)
		case SectionStream:
			section, err = p.parseXrefStream(offset)
		}
		if err != nil {
			return p.recoverChainBreak(offset, "failed to parse xref section")
		}

		if hybrid, ok := section.trailer["XRefStm"]; ok {
			if hoff, ok := asInt64(hybrid); ok {
				p.mergeHybridStream(section, hoff+p.headerOffset)
			}
		}

		next, ok := section.trailer["Prev"]
		if !ok {
			return p.resolver, nil
		}
		prevOffset, ok := asInt64(next)
		if !ok {
			return p.resolver, nil
		}
		offset = prevOffset + p.headerOffset
	}
}

// recoverChainBreak handles a broken link in the startxref/Prev chain:
// in lenient/validation mode it defers to BruteForceScanner and
// continues from the nearest candidate; in strict mode it fails.
func (p *XrefParser) recoverChainBreak(expected int64, reason string) (*XrefResolver, error) {
	if p.mode.Name == ModeStrict || !p.mode.RecoverOnBadOffsets {
		return nil, wrapErr("parse xref chain", expected, KindBadXref, fmt.Errorf("%s", reason))
	}
	nearest, isStream, ok := p.scanner.NearestXref(expected)
	if !ok {
		if len(p.resolver.sections) == 0 {
			// Nothing at all could be found: rebuild straight from
			// brute-forced object headers so callers still get a
			// usable (if trailer-less) document.
			section := p.resolver.NextSection(expected, SectionTable)
			for k, e := range p.scanner.RebuildXref() {
				section.SetEntry(k, e)
			}
			if p.diag != nil {
				p.diag.add(expected, "no xref structures found anywhere in file; rebuilt from scanned object headers")
			}
		}
		return p.resolver, nil
	}
	if p.visited[nearest] {
		return p.resolver, nil
	}
	if p.diag != nil {
		p.diag.add(expected, "%s; recovered using brute-force scan at offset %d", reason, nearest)
	}
	kind := SectionTable
	if isStream {
		kind = SectionStream
	}
	p.visited[nearest] = true
	var section *xrefSection
	var err error
	if kind == SectionTable {
		section, err = p.parseClassicTable(nearest)
	} else {
		section, err = p.parseXrefStream(nearest)
	}
	if err != nil {
		return p.resolver, nil
	}
	if next, ok := section.trailer["Prev"]; ok {
		if prevOffset, ok := asInt64(next); ok {
			return p.walk(prevOffset + p.headerOffset)
		}
	}
	return p.resolver, nil
}

// sniffSectionKind peeks at offset without disturbing a fresh cursor
// seeked there, per spec §4.5 step 1.
func (p *XrefParser) sniffSectionKind(offset int64) (XrefSectionKind, error) {
	cur, err := NewByteCursor(p.src)
	if err != nil {
		return SectionTable, err
	}
	cur.WithLimits(p.limits)
	defer cur.Release()
	cur.Seek(offset)
	cur.SkipSpaces()
	b, ok := cur.Peek()
	if !ok {
		return SectionTable, causeBadXrefSection
	}
	if b == 'x' {
		tr := NewTokenReader(cur, false)
		if tok := tr.ReadToken(); tok == keyword("xref") {
			return SectionTable, nil
		}
		return SectionTable, causeBadXrefSection
	}
	if isDigitByte(b) {
		tr := NewTokenReader(cur, false)
		if n1 := tr.ReadToken(); isIntTok(n1) {
			if n2 := tr.ReadToken(); isIntTok(n2) {
				if tok := tr.ReadToken(); tok == keyword("obj") {
					return SectionStream, nil
				}
			}
		}
	}
	return SectionTable, causeBadXrefSection
}

func isIntTok(t token) bool { _, ok := t.(int64); return ok }

// parseClassicTable parses "xref" (subsection)* "trailer" <<...>> at
// offset, per spec §4.5 step 2.
func (p *XrefParser) parseClassicTable(offset int64) (*xrefSection, error) {
	cur, err := NewByteCursor(p.src)
	if err != nil {
		return nil, err
	}
	cur.WithLimits(p.limits)
	defer cur.Release()
	cur.Seek(offset)
	tr := NewTokenReader(cur, p.sink != nil)

	if tok := tr.ReadToken(); tok != keyword("xref") {
		return nil, causeBadXrefSection
	}
	tableStart := cur.Position()

	section := p.resolver.NextSection(offset, SectionTable)

	var tableEnd int64
	for {
		before := cur.Position()
		startTok := tr.ReadToken()
		if startTok == keyword("trailer") {
			tableEnd = before
			break
		}
		startNum, ok := startTok.(int64)
		if !ok {
			return nil, causeBadXrefSection
		}
		afterStart := cur.Position()
		countTok := tr.ReadToken()
		count, ok := countTok.(int64)
		if !ok {
			return nil, causeBadXrefSection
		}
		if p.sink != nil && !subsectionSpacingOK(p.src, afterStart) {
			p.sink.flagSubsectionSpacing()
		}
		for i := int64(0); i < count; i++ {
			offTok := tr.ReadToken()
			off, ok := offTok.(int64)
			if !ok {
				continue
			}
			genTok := tr.ReadToken()
			gen, ok := genTok.(int64)
			if !ok {
				continue
			}
			kindTok := tr.ReadToken()
			key := ObjectKey{Num: uint32(startNum + i), Gen: uint16(gen)}
			switch kindTok {
			case keyword("n"):
				section.SetEntry(key, XrefEntry{Kind: XrefInUse, Offset: off + p.headerOffset})
			case keyword("f"):
				section.SetEntry(key, XrefEntry{Kind: XrefFree})
			}
		}
	}

	obj, err := NewObjectGrammar(tr, p.diag, p.sink).ParseDirectObject()
	if err != nil {
		return nil, err
	}
	d, _ := obj.(Dict)
	section.SetTrailer(d)

	if p.sink != nil && !xrefEOLCompliant(p.src, tableStart, tableEnd) {
		p.sink.flagXrefEOLViolation()
	}

	return section, nil
}

// parseXrefStream parses "N G obj <<dict>> stream ... endstream
// endobj" at offset and decodes its entries per /W, /Index, /Size
// (spec §4.5 step 5).
func (p *XrefParser) parseXrefStream(offset int64) (*xrefSection, error) {
	cur, err := NewByteCursor(p.src)
	if err != nil {
		return nil, err
	}
	cur.WithLimits(p.limits)
	defer cur.Release()
	cur.Seek(offset)
	tr := NewTokenReader(cur, p.sink != nil)

	numTok, genTok, objTok := tr.ReadToken(), tr.ReadToken(), tr.ReadToken()
	if _, ok := numTok.(int64); !ok {
		return nil, causeBadXrefSection
	}
	if _, ok := genTok.(int64); !ok {
		return nil, causeBadXrefSection
	}
	if objTok != keyword("obj") {
		return nil, causeBadXrefSection
	}

	grammar := NewObjectGrammar(tr, p.diag, p.sink)
	obj, err := grammar.ParseDirectObject()
	if err != nil {
		return nil, err
	}
	hdr, ok := obj.(StreamHeader)
	if !ok {
		return nil, causeBadXrefSection
	}

	raw, err := p.readBootstrapStreamBytes(hdr)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeStreamForParsing(raw, hdr.Dict)
	if err != nil {
		return nil, wrapErr("decode xref stream", offset, KindBadXref, err)
	}

	section := p.resolver.NextSection(offset, SectionStream)
	if err := decodeXrefStreamEntries(hdr.Dict, decoded, section, p.headerOffset); err != nil {
		return nil, err
	}
	section.SetTrailer(hdr.Dict)
	return section, nil
}

// readBootstrapStreamBytes reads an xref stream's raw payload straight
// into memory, the same way ReadStream would, but without a
// ScratchAllocator: these bytes are decoded immediately and discarded,
// never surfaced as a *Stream, so spilling them to scratch storage
// would be pure overhead.
func (p *XrefParser) readBootstrapStreamBytes(hdr StreamHeader) ([]byte, error) {
	start := hdr.BodyOffset
	if lv, ok := hdr.Dict["Length"]; ok {
		if L, ok := lv.(int64); ok && L >= 0 {
			if _, _, ok := verifyEndstreamAt(p.src, p.fileLen, start+L); ok {
				return readRawBytesAt(p.src, start, start+L)
			}
		}
	}
	matchStart, _, found := scanForEndKeyword(p.src, p.fileLen, start)
	if !found {
		if p.mode.Name == ModeStrict {
			return nil, wrapErr("read xref stream", start, KindStreamLength, causeNoEndstream)
		}
		matchStart = p.fileLen
	}
	end, _ := trimTrailingEOL(p.src, start, matchStart)
	return readRawBytesAt(p.src, start, end)
}

func decodeXrefStreamEntries(d Dict, data []byte, section *xrefSection, headerOffset int64) error {
	w, ok := d["W"].(Array)
	if !ok || len(w) != 3 {
		return causeBadXrefSection
	}
	w0, _ := asInt64(w[0])
	w1, _ := asInt64(w[1])
	w2, _ := asInt64(w[2])

	var index []int64
	if idx, ok := d["Index"].(Array); ok {
		for _, v := range idx {
			n, _ := asInt64(v)
			index = append(index, n)
		}
	} else {
		size, _ := asInt64(d["Size"])
		index = []int64{0, size}
	}

	rowLen := int(w0 + w1 + w2)
	if rowLen <= 0 {
		return causeBadXrefSection
	}

	pos := 0
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := int64(0); j < count; j++ {
			if pos+rowLen > len(data) {
				return nil
			}
			row := data[pos : pos+rowLen]
			pos += rowLen
			typ := int64(1)
			if w0 > 0 {
				typ = beInt(row[:w0])
			}
			f2 := beInt(row[w0 : w0+w1])
			f3 := beInt(row[w0+w1 : w0+w1+w2])
			key := ObjectKey{Num: uint32(start + j)}
			switch typ {
			case 0:
				section.SetEntry(key, XrefEntry{Kind: XrefFree})
			case 1:
				key.Gen = uint16(f3)
				section.SetEntry(key, XrefEntry{Kind: XrefInUse, Offset: f2 + headerOffset})
			case 2:
				section.SetEntry(key, XrefEntry{Kind: XrefCompressed, Container: uint32(f2), Index: uint32(f3)})
			}
		}
	}
	return nil
}

func beInt(b []byte) int64 {
	var n int64
	for _, c := range b {
		n = n<<8 | int64(c)
	}
	return n
}

// mergeHybridStream parses the /XRefStm hybrid xref stream referenced
// by a classic table's trailer and merges its entries into section,
// per spec §4.5 step 3. The hybrid stream's own trailer is discarded;
// only its entries are merged.
func (p *XrefParser) mergeHybridStream(section *xrefSection, offset int64) {
	if offset < 0 || offset >= p.fileLen || p.visited[offset] {
		return
	}
	p.visited[offset] = true
	hybridSection, err := p.parseXrefStream(offset)
	if err != nil {
		if p.diag != nil {
			p.diag.add(offset, "hybrid /XRefStm at %d failed to parse; ignoring", offset)
		}
		return
	}
	for k, e := range hybridSection.entries {
		if _, exists := section.entries[k]; !exists {
			section.SetEntry(k, e)
		}
	}
	// The hybrid stream's own section was appended to the resolver by
	// parseXrefStream; since it duplicates the classic section's
	// coverage and must not independently outrank it in the merge
	// order, drop it from the chain now that its entries are folded
	// in directly.
	p.resolver.sections = p.resolver.sections[:len(p.resolver.sections)-1]
}

// VerifyAndRepairOffsets implements spec §4.5's "Offset check &
// repair": for each live key, confirm "N G obj" is actually present
// at its recorded offset.
func (p *XrefParser) VerifyAndRepairOffsets(xref map[ObjectKey]XrefEntry) map[ObjectKey]XrefEntry {
	if p.mode.Name == ModeStrict {
		return xref
	}
	var mismatches []ObjectKey
	for key, entry := range xref {
		if entry.Kind != XrefInUse {
			continue
		}
		if !p.objHeaderMatches(entry.Offset, key) {
			mismatches = append(mismatches, key)
		}
	}
	if len(mismatches) == 0 {
		return xref
	}
	if p.mode.DropInsteadOfReplace {
		for _, key := range mismatches {
			offset := xref[key].Offset
			delete(xref, key)
			if p.diag != nil {
				p.diag.add(offset, "dropping key %v: offset does not resolve to its N G obj header", key)
			}
		}
		return xref
	}
	if !p.mode.RecoverOnBadOffsets {
		return xref
	}
	rebuilt := p.scanner.RebuildXref()
	for _, key := range mismatches {
		if e, ok := rebuilt[key]; ok {
			xref[key] = e
			if p.diag != nil {
				p.diag.add(e.Offset, "fixed reference for key %v using brute-force scan", key)
			}
		}
	}
	return xref
}

func (p *XrefParser) objHeaderMatches(offset int64, key ObjectKey) bool {
	if offset < 0 || offset >= p.fileLen {
		return false
	}
	cur, err := NewByteCursor(p.src)
	if err != nil {
		return false
	}
	cur.WithLimits(p.limits)
	defer cur.Release()
	cur.Seek(offset)
	tr := NewTokenReader(cur, false)
	n1, n2, n3 := tr.ReadToken(), tr.ReadToken(), tr.ReadToken()
	num, ok1 := n1.(int64)
	gen, ok2 := n2.(int64)
	return ok1 && ok2 && n3 == keyword("obj") && uint32(num) == key.Num && uint16(gen) == key.Gen
}
