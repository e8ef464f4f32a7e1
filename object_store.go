// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// ObjectStore (C6): the object pool. Resolves a key to a value by
// seeking to its xref-recorded offset (direct) or expanding its
// containing object stream (compressed), with explicit monotonic
// slot states and an explicit in-flight guard for /Length cycles.

package pdf

// ObjectStore owns every IndirectSlot for one document.
type ObjectStore struct {
	src     RandomAccessRead
	fileLen int64

	xref    map[ObjectKey]XrefEntry
	slots   map[ObjectKey]*IndirectSlot
	scanner *BruteForceScanner
	scratch *ScratchAllocator
	handler SecurityHandler

	mode   Mode
	limits ParseLimits
	diag   *diagnostics
	sink   *ValidationSink

	inFlight map[ObjectKey]bool // /Length and resolve re-entrancy guard
}

// NewObjectStore builds a store over an already-merged xref map.
func NewObjectStore(src RandomAccessRead, fileLen int64, xref map[ObjectKey]XrefEntry, scanner *BruteForceScanner, scratch *ScratchAllocator, handler SecurityHandler, mode Mode, limits ParseLimits, diag *diagnostics, sink *ValidationSink) *ObjectStore {
	return &ObjectStore{
		src: src, fileLen: fileLen, xref: xref,
		slots: make(map[ObjectKey]*IndirectSlot), scanner: scanner, scratch: scratch,
		handler: handler, mode: mode, limits: limits, diag: diag, sink: sink,
		inFlight: make(map[ObjectKey]bool),
	}
}

func (s *ObjectStore) newCursorAt(offset int64) *ByteCursor {
	cur, err := NewByteCursor(s.src)
	if err != nil {
		cur = &ByteCursor{src: s.src, length: s.fileLen}
	}
	cur.WithLimits(s.limits)
	cur.Seek(offset)
	return cur
}

func (s *ObjectStore) slotFor(key ObjectKey) *IndirectSlot {
	if slot, ok := s.slots[key]; ok {
		return slot
	}
	slot := &IndirectSlot{Key: key, State: StateUnparsed, Flags: ValidationFlags{true, true, true}}
	s.slots[key] = slot
	return slot
}

// Resolve returns the value for key, lazily parsing it on first
// access. Per spec §7, a broken or missing slot resolves to nil (PDF
// null) rather than propagating an error to the caller.
func (s *ObjectStore) Resolve(key ObjectKey) ObjectValue {
	v, _ := s.resolveDepth(key, 0)
	return v
}

func (s *ObjectStore) resolveDepth(key ObjectKey, depth int) (ObjectValue, error) {
	slot := s.slotFor(key)

	switch slot.State {
	case StateParsed:
		return slot.Value, nil
	case StateNull, StateBroken:
		return nil, nil
	case StateParsing:
		return nil, wrapErr("resolve object", -1, KindMalformedNesting, causeDepthExceeded)
	}

	if depth > s.limits.MaxRecursionDepth {
		slot.State = StateBroken
		slot.BrokenErr = wrapErr("resolve object", -1, KindMalformedNesting, causeDepthExceeded)
		return nil, slot.BrokenErr
	}

	entry, ok := s.xref[key]
	if !ok {
		slot.State = StateNull
		return nil, nil
	}

	slot.State = StateParsing
	var value ObjectValue
	var err error

	switch entry.Kind {
	case XrefFree:
		slot.State = StateNull
		return nil, nil
	case XrefInUse:
		value, err = s.parseIndirectObject(entry.Offset, key, depth)
	case XrefCompressed:
		err = s.parseObjectStream(entry.Container, depth)
		if err == nil {
			if s2, ok2 := s.slots[key]; ok2 && s2.State == StateParsed {
				value = s2.Value
			}
			slot = s.slotFor(key)
			if slot.State == StateParsed {
				return slot.Value, nil
			}
		}
	}

	if err != nil {
		slot.State = StateBroken
		slot.BrokenErr = err
		if s.diag != nil {
			s.diag.add(-1, "object %v broken: %v", key, err)
		}
		if s.mode.Name == ModeStrict {
			return nil, err
		}
		return nil, nil
	}

	slot.State = StateParsed
	slot.Value = value
	return value, nil
}

// parseIndirectObject implements spec §4.6's parse_indirect_object.
func (s *ObjectStore) parseIndirectObject(offset int64, key ObjectKey, depth int) (ObjectValue, error) {
	cur := s.newCursorAt(offset)
	defer cur.Release()

	precedingEOL := offset == 0
	if offset > 0 {
		one := make([]byte, 1)
		if n, _ := s.src.ReadAt(one, offset-1); n == 1 {
			precedingEOL = isEOL(one[0])
		}
	}

	tr := NewTokenReader(cur, s.sink != nil)
	tr.curKey = key
	if s.handler != nil && !s.handler.IsEncryptionDict(key) {
		tr.handler = s.handler
		tr.decrypt = true
	}

	numTok, genTok, objTok := tr.ReadToken(), tr.ReadToken(), tr.ReadToken()
	num, ok1 := numTok.(int64)
	gen, ok2 := genTok.(int64)
	headerOK := ok1 && ok2 && objTok == keyword("obj") && uint32(num) == key.Num && uint16(gen) == key.Gen

	slot := s.slotFor(key)
	slot.Flags.HeaderFormatCompliant = headerOK
	slot.Flags.HeaderEOLCompliant = precedingEOL

	if !headerOK {
		if s.mode.Name == ModeStrict {
			return nil, wrapErr("parse indirect object", offset, KindUnresolvedObject, causeObjHeaderMismatch)
		}
		if s.diag != nil {
			s.diag.add(offset, "object header at %d does not match expected key %v", offset, key)
		}
		return nil, nil
	}

	grammar := NewObjectGrammar(tr, s.diag, s.sink)
	direct, err := grammar.ParseDirectObject()
	if err != nil {
		return nil, err
	}

	if hdr, ok := direct.(StreamHeader); ok {
		resolveLength := s.lengthResolverFor(key, depth)
		st, err := ReadStream(s.src, s.fileLen, hdr, key, resolveLength, s.scratch, s.mode, s.limits, s.sink, s.diag)
		if err != nil {
			return nil, err
		}
		if s.handler != nil && !s.handler.IsEncryptionDict(key) {
			s.decryptStreamPayload(st, key)
		}
		s.consumeStreamTrailer(cur)
		direct = st
	} else {
		next := tr.ReadToken()
		if next != keyword("endobj") {
			tr.unreadToken(next)
			slot.Flags.EndOfObjectEOLCompliant = false
		}
	}

	return direct, nil
}

func (s *ObjectStore) consumeStreamTrailer(cur *ByteCursor) {
	tr := NewTokenReader(cur, false)
	if tok := tr.ReadToken(); tok != keyword("endstream") {
		tr.unreadToken(tok)
	}
	if tok := tr.ReadToken(); tok != keyword("endobj") {
		tr.unreadToken(tok)
	}
}

func (s *ObjectStore) decryptStreamPayload(st *Stream, key ObjectKey) {
	raw, ok := st.Payload.Bytes()
	if !ok || s.handler == nil {
		return
	}
	dec := s.handler.DecryptStream(raw, key)
	blob := s.scratch.New()
	blob.Write(dec)
	st.Payload = blob
}

// lengthResolverFor builds the callback StreamReader uses to resolve
// a possibly-indirect /Length, guarding against the classic cycle
// (object 5's /Length is 6 0 R, object 6's /Length is 5 0 R) by
// marking key in-flight for the duration of the recursive resolve.
func (s *ObjectStore) lengthResolverFor(key ObjectKey, depth int) lengthResolverFunc {
	return func(v ObjectValue) (int64, error) {
		switch n := v.(type) {
		case int64:
			return n, nil
		case Ref:
			if s.inFlight[key] {
				return 0, wrapErr("resolve /Length", -1, KindStreamLength, causeLengthCycle)
			}
			s.inFlight[key] = true
			defer delete(s.inFlight, key)
			val, err := s.resolveDepth(n.Key, depth+1)
			if err != nil {
				return 0, err
			}
			if ln, ok := val.(int64); ok {
				return ln, nil
			}
			return 0, wrapErr("resolve /Length", -1, KindStreamLength, causeLengthCycle)
		}
		return 0, wrapErr("resolve /Length", -1, KindStreamLength, causeLengthCycle)
	}
}

// parseObjectStream expands a compressed-object container, populating
// slots for every object number it packs, per spec §4.6.
func (s *ObjectStore) parseObjectStream(container uint32, depth int) error {
	containerKey := ObjectKey{Num: container}
	if slot, ok := s.slots[containerKey]; ok && slot.State == StateParsed {
		if _, ok := slot.Value.(*Stream); ok {
			return nil // already expanded this container
		}
	}

	val, err := s.resolveDepth(containerKey, depth+1)
	if err != nil {
		return err
	}
	st, ok := val.(*Stream)
	if !ok {
		return wrapErr("parse object stream", -1, KindBadXref, causeBadXrefSection)
	}

	raw, ok := st.Payload.Bytes()
	if !ok {
		r, err := st.Payload.Reader()
		if err != nil {
			return wrapErr("read object stream payload", -1, KindIO, err)
		}
		defer r.Close()
		buf := make([]byte, 0, st.ActualLength)
		tmp := make([]byte, 64*1024)
		for {
			n, rerr := r.Read(tmp)
			if n > 0 {
				buf = append(buf, tmp[:n]...)
			}
			if rerr != nil {
				break
			}
		}
		raw = buf
	}

	decoded, err := decodeStreamForParsing(raw, st.Dict)
	if err != nil {
		return wrapErr("decode object stream", -1, KindBadXref, err)
	}

	n, _ := asInt64(st.Dict["N"])
	first, _ := asInt64(st.Dict["First"])

	mem := newMemSource(decoded)
	headerCur, err := NewByteCursor(mem)
	if err != nil {
		return err
	}
	defer headerCur.Release()
	headerTR := NewTokenReader(headerCur, false)

	type pair struct {
		num    uint32
		offset int64
	}
	pairs := make([]pair, 0, n)
	for i := int64(0); i < n; i++ {
		numTok := headerTR.ReadToken()
		offTok := headerTR.ReadToken()
		num, ok1 := numTok.(int64)
		off, ok2 := offTok.(int64)
		if !ok1 || !ok2 {
			break
		}
		pairs = append(pairs, pair{uint32(num), off})
	}

	if extendsRef, ok := st.Dict["Extends"].(Ref); ok {
		if err := s.parseObjectStream(extendsRef.Key.Num, depth+1); err != nil && s.mode.Name == ModeStrict {
			return err
		}
	}

	for _, pr := range pairs {
		key := ObjectKey{Num: pr.num}
		slot := s.slotFor(key)
		if slot.State == StateParsed || slot.State == StateParsing {
			continue
		}
		bodyCur, err := NewByteCursor(mem)
		if err != nil {
			continue
		}
		bodyCur.Seek(first + pr.offset)
		bodyTR := NewTokenReader(bodyCur, s.sink != nil)
		grammar := NewObjectGrammar(bodyTR, s.diag, s.sink)
		slot.State = StateParsing
		v, err := grammar.ParseDirectObject()
		bodyCur.Release()
		if err != nil {
			slot.State = StateBroken
			slot.BrokenErr = err
			continue
		}
		slot.State = StateParsed
		slot.Value = v
	}

	return nil
}

// memSource is a trivial RandomAccessRead over an in-memory byte
// slice, used for tokenizing an already-decoded object-stream
// payload without a second file-backed cursor.
type memSource struct{ data []byte }

func newMemSource(data []byte) *memSource { return &memSource{data: data} }

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, errClosedSource
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, errClosedSource
	}
	return n, nil
}

func (m *memSource) Size() (int64, error) { return int64(len(m.data)), nil }
