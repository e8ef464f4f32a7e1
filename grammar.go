// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// ObjectGrammar (C3): builds the ObjectValue tree — dictionaries,
// arrays, streams, and indirect-reference placeholders — out of the
// tokens TokenReader produces.

package pdf

// ObjectGrammar parses direct objects, dictionaries, arrays, and
// streams from a TokenReader. It never resolves a Ref: that is
// ObjectStore's job.
type ObjectGrammar struct {
	tr    *TokenReader
	diag  *diagnostics
	sink  *ValidationSink
	depth int
}

const maxGrammarDepth = 200
const maxArrayElements = 100_000

// NewObjectGrammar builds a grammar over tr. diag and sink may be nil
// (strict/lenient modes with diagnostics disabled).
func NewObjectGrammar(tr *TokenReader, diag *diagnostics, sink *ValidationSink) *ObjectGrammar {
	return &ObjectGrammar{tr: tr, diag: diag, sink: sink}
}

// ParseDirectObject dispatches on the next token per spec §4.3. The
// returned value never embeds an unresolved stream without its
// dictionary, and "<int> <int> R" is synthesized into a Ref by the
// array/dict aggregators calling parseObjectOrRef, not here: this
// entry point assumes the caller already consumed any leading
// integers that might start a reference.
func (g *ObjectGrammar) ParseDirectObject() (ObjectValue, error) {
	tok := g.tr.ReadToken()
	return g.fromToken(tok)
}

func (g *ObjectGrammar) fromToken(tok token) (ObjectValue, error) {
	switch v := tok.(type) {
	case nil:
		return nil, nil
	case bool, int64, float64:
		return v, nil
	case Name:
		return v, nil
	case *stringTok:
		return g.decodeString(v), nil
	case keyword:
		switch v {
		case "<<":
			return g.parseDict()
		case "[":
			return g.parseArray()
		case "null":
			return nil, nil
		case ">>", "endobj", "endstream", "stream", "]":
			// Tolerate these keywords showing up where a value was
			// expected in corrupted input; caller treats nil as null.
			g.tr.unreadToken(v)
			return nil, nil
		default:
			// Unexpected keyword: recover as null, but give the
			// caller the keyword back so it can decide to stop.
			g.tr.unreadToken(v)
			return nil, nil
		}
	}
	return nil, nil
}

func (g *ObjectGrammar) decodeString(s *stringTok) ObjectValue {
	data := s.data
	if g.tr.decrypt && g.tr.handler != nil {
		data = g.tr.handler.DecryptString(data, g.tr.curKey)
	}
	kind := KindLiteral
	if s.hex {
		kind = KindHex
		if g.sink != nil {
			g.sink.recordHexString(s.hexDigitCount, s.hexOnly)
		}
	}
	return &String{Bytes: data, Kind: kind}
}

// parseObjectOrRef reads one value, first checking whether it is the
// start of "<int> <int> R" which synthesizes a Ref instead of two
// bare integers. This is the entry point array and dict element
// parsing both use (spec §4.3's reference recognition lives in the
// aggregator, not ParseDirectObject, because it needs two tokens of
// lookahead).
func (g *ObjectGrammar) parseObjectOrRef() (ObjectValue, error) {
	tok := g.tr.ReadToken()
	if n1, ok := tok.(int64); ok && n1 >= 0 && n1 < maxObjectNum {
		tok2 := g.tr.ReadToken()
		if n2, ok := tok2.(int64); ok && n2 >= 0 && n2 <= 65535 {
			tok3 := g.tr.ReadToken()
			if tok3 == keyword("R") {
				return Ref{Key: ObjectKey{Num: uint32(n1), Gen: uint16(n2)}}, nil
			}
			g.tr.unreadToken(tok3)
		}
		g.tr.unreadToken(tok2)
	}
	return g.fromToken(tok)
}

func (g *ObjectGrammar) parseArray() (ObjectValue, error) {
	if g.depth >= maxGrammarDepth {
		return nil, wrapErr("parse array", -1, KindMalformedNesting, causeDepthExceeded)
	}
	g.depth++
	defer func() { g.depth-- }()

	var arr Array
	for {
		tok := g.tr.ReadToken()
		if tok == nil || tok == keyword("]") {
			break
		}
		if tok == keyword("endobj") || tok == keyword("endstream") {
			g.tr.unreadToken(tok)
			break
		}
		if len(arr) >= maxArrayElements {
			break
		}
		g.tr.unreadToken(tok)
		v, err := g.parseObjectOrRef()
		if err != nil {
			return arr, err
		}
		arr = append(arr, v)
	}
	return arr, nil
}

// parseDict reads "<<" (/Name value)* ">>", optionally followed by a
// "stream" keyword, in which case it returns a StreamHeader (the
// dictionary plus the payload offset) instead of the Dict. The leading "<<"
// has already been consumed by the caller (ParseDirectObject).
func (g *ObjectGrammar) parseDict() (ObjectValue, error) {
	if g.depth >= maxGrammarDepth {
		return nil, wrapErr("parse dict", -1, KindMalformedNesting, causeDepthExceeded)
	}
	g.depth++
	defer func() { g.depth-- }()

	d := make(Dict)
	var contentsKey *ObjectValue
	var byteRange *ObjectValue
	contentsOffsetStart, contentsOffsetEnd := int64(-1), int64(-1)

	for {
		tok := g.tr.ReadToken()
		if tok == nil || tok == keyword(">>") {
			break
		}
		if tok == keyword("endobj") || tok == keyword("endstream") {
			g.tr.unreadToken(tok)
			break
		}
		n, ok := tok.(Name)
		if !ok {
			// Recovery: scan ahead to the next plausible boundary.
			if g.diag != nil {
				g.diag.add(g.tr.cur.Position(), "dictionary: expected name key, got %v; recovering", tok)
			}
			g.recoverToBoundary()
			break
		}

		if len(g.tr.unread) == 0 {
			g.tr.cur.SkipSpaces()
		}
		startPos := g.tr.cur.Position()
		v, err := g.parseObjectOrRef()
		if err != nil {
			return d, err
		}
		endPos := g.tr.cur.Position()

		// "def" suffix (content-stream dictionaries) is consumed if
		// present, per spec §4.3.
		if dtok := g.tr.ReadToken(); dtok != keyword("def") {
			g.tr.unreadToken(dtok)
		}

		if _, dup := d[n]; dup && g.diag != nil {
			g.diag.add(startPos, "dictionary: duplicate key %q, keeping last value", n)
		}
		d[n] = v

		if n == "Contents" {
			cv := v
			contentsKey = &cv
			contentsOffsetStart = startPos
			contentsOffsetEnd = endPos
		}
		if n == "ByteRange" {
			bv := v
			byteRange = &bv
		}
	}

	if g.sink != nil && contentsKey != nil && byteRange != nil {
		if typ, ok := d["Type"].(Name); !ok || typ == "Sig" {
			g.sink.recordSignatureCandidate(d, *contentsKey, *byteRange, contentsOffsetStart, contentsOffsetEnd)
		}
	}

	streamTok := g.tr.ReadToken()
	if streamTok != keyword("stream") {
		g.tr.unreadToken(streamTok)
		return d, nil
	}

	eolOK := g.consumeStreamEOL()

	return StreamHeader{Dict: d, BodyOffset: g.tr.cur.Position(), StreamKeywordEOLCompliant: eolOK}, nil
}

// consumeStreamEOL consumes the single CR LF or LF required after the
// "stream" keyword and reports whether it was exactly that sequence.
func (g *ObjectGrammar) consumeStreamEOL() bool {
	c, ok := g.tr.cur.Read()
	if !ok {
		return false
	}
	switch c {
	case '\r':
		nb, ok := g.tr.cur.Read()
		if !ok || nb != '\n' {
			if ok {
				g.tr.cur.Rewind(1)
			}
			return false
		}
		return true
	case '\n':
		return true
	default:
		g.tr.cur.Rewind(1)
		return false
	}
}

// recoverToBoundary scans forward to the next "/", ">", "endstream",
// or "endobj" so a malformed dictionary entry doesn't corrupt parsing
// of everything that follows it.
func (g *ObjectGrammar) recoverToBoundary() {
	for {
		b, ok := g.tr.cur.Peek()
		if !ok {
			return
		}
		if b == '/' || b == '>' {
			return
		}
		g.tr.cur.Read()
		if matchesKeywordAhead(g.tr.cur, "endstream") || matchesKeywordAhead(g.tr.cur, "endobj") {
			return
		}
	}
}

// matchesKeywordAhead reports whether kw appears starting at the
// cursor's current position, without consuming any bytes.
func matchesKeywordAhead(cur *ByteCursor, kw string) bool {
	save := cur.Position()
	ok := true
	for i := 0; i < len(kw); i++ {
		b, more := cur.Read()
		if !more || b != kw[i] {
			ok = false
			break
		}
	}
	cur.Seek(save)
	return ok
}
