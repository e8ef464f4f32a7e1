// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// ParsedDocument / DocumentState: the public surface tying together
// HeaderParser, XrefParser, ObjectStore, SecurityHandler, and
// ValidationSink into one Open call, mirroring the shape of the
// teacher's own NewReader/NewReaderEncrypted entry points while
// exposing the richer DocumentState spec §3 describes.

package pdf

import (
	"bytes"
	"context"
	"fmt"
)

// DocumentState is the document-wide metadata spec §3 describes,
// independent of any individual resolved object.
type DocumentState struct {
	Version          float64
	HeaderOffset     int64
	IsEncrypted      bool
	IsLinearized     bool
	IsXrefStream     bool
	StartXref        int64
	PostEOFDataSize  int64
	Trailer          Dict
	FirstPageTrailer Dict
	LastTrailer      Dict
}

// ParsedDocument is the result of Open: a document-wide state plus the
// lazily-resolving object store and the diagnostics/validation signals
// accumulated while getting there.
type ParsedDocument struct {
	State      DocumentState
	store      *ObjectStore
	scanner    *BruteForceScanner
	diag       *diagnostics
	Validation *ValidationSink
	mode       Mode
}

// Open parses a document's header and xref structure eagerly, leaving
// every indirect object unresolved until first access. cfg may be nil
// (NewDefaultConfig's lenient mode is used); password is tried only
// when the trailer carries an /Encrypt entry. ctx bounds only the
// whole-file recovery scan, the one operation expensive enough on a
// large, badly corrupted input to be worth cancelling mid-flight; pass
// context.Background() for no cancellation.
func Open(ctx context.Context, src RandomAccessRead, cfg *Config, password string) (*ParsedDocument, []Diagnostic, error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("pdf: invalid config: %w", err)
	}
	if cfg.Logger != nil {
		SetLogger(cfg.Logger)
	}
	mode := cfg.mode()

	fileLen, err := src.Size()
	if err != nil {
		return nil, nil, wrapErr("open document", 0, KindIO, err)
	}

	// Non-fatal diagnostics (spec §7: "the parser returns a document
	// plus a list of non-fatal diagnostics") are collected in both
	// lenient and validation mode; only strict mode's all-fatal posture
	// makes the list moot. This is independent of mode.RecordDiagnostics,
	// which gates ValidationSink's separate fine-grained conformance
	// signals.
	diag := &diagnostics{recordEnabled: mode.Name != ModeStrict}
	sink := NewValidationSink()
	var recSink *ValidationSink
	if mode.RecordDiagnostics {
		recSink = sink
	}

	headerCur, err := NewByteCursor(src)
	if err != nil {
		return nil, nil, wrapErr("open document", 0, KindIO, err)
	}
	headerCur.WithLimits(cfg.Limits)
	hdr, err := ParseHeader(headerCur, diag)
	headerCur.Release()
	if err != nil {
		if mode.Name == ModeStrict {
			return nil, diag.entries, err
		}
		hdr = &HeaderInfo{Version: 1.4, BinaryComment: HeaderComment{-1, -1, -1, -1}}
	}

	startXref, err := findStartxref(src, fileLen, cfg.EOFLookupRange)
	scanner := NewBruteForceScanner(src, fileLen).WithContext(ctx, cfg.Limits.CheckInterval)
	if err != nil {
		if mode.Name == ModeStrict || !mode.RecoverOnBadOffsets {
			return nil, diag.entries, wrapErr("open document", fileLen, KindMissingStartxref, causeNoStartxref)
		}
		diag.add(fileLen, "no startxref found in lookup window; falling back to brute-force xref recovery")
	}

	xp := NewXrefParser(src, fileLen, hdr.HeaderOffset, mode, scanner, diag, recSink, cfg.Limits)
	resolver, err := xp.Parse(startXref)
	if err != nil {
		return nil, diag.entries, err
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, diag.entries, wrapErr("open document", fileLen, KindIO, scanErr)
	}

	mergedXref := xp.VerifyAndRepairOffsets(resolver.MergedXref())
	trailer := resolver.MergedTrailer()

	scratch := NewScratchAllocator("")

	var handler SecurityHandler
	isEncrypted := false
	if encRef, ok := trailer["Encrypt"].(Ref); ok {
		isEncrypted = true
		tmpStore := NewObjectStore(src, fileLen, mergedXref, scanner, scratch, nil, mode, cfg.Limits, diag, recSink)
		if encDict, ok := tmpStore.Resolve(encRef.Key).(Dict); ok {
			id, _ := trailer["ID"].(Array)
			h, herr := NewStandardSecurityHandler(encDict, encRef.Key, id, password)
			if herr != nil {
				if mode.Name == ModeStrict {
					return nil, diag.entries, wrapErr("open document", 0, KindSecurity, herr)
				}
				diag.add(0, "failed to authenticate encrypted document: %v", herr)
			} else {
				handler = h
			}
		}
	}

	store := NewObjectStore(src, fileLen, mergedXref, scanner, scratch, handler, mode, cfg.Limits, diag, recSink)

	if mode.RecordDiagnostics {
		for key := range mergedXref {
			store.Resolve(key)
		}
		sink.FinalizePass(store)
	}

	kind, _ := resolver.FirstSectionKind()
	state := DocumentState{
		Version:          hdr.Version,
		HeaderOffset:     hdr.HeaderOffset,
		IsEncrypted:      isEncrypted,
		IsLinearized:     detectLinearized(src, hdr.HeaderOffset, fileLen),
		IsXrefStream:     kind == SectionStream,
		StartXref:        startXref,
		PostEOFDataSize:  postEOFDataSize(src, fileLen),
		Trailer:          trailer,
		FirstPageTrailer: resolver.FirstTrailer(),
		LastTrailer:      resolver.LastTrailer(),
	}

	doc := &ParsedDocument{State: state, store: store, scanner: scanner, diag: diag, Validation: sink, mode: mode}
	return doc, diag.entries, nil
}

// Resolve dereferences key, returning PDF null for any broken or
// missing slot (spec §7).
func (d *ParsedDocument) Resolve(key ObjectKey) ObjectValue { return d.store.Resolve(key) }

// ObjectsByType returns every indirect object key in the live xref map
// whose resolved dictionary (or stream dictionary) carries /Type
// matching typeName.
func (d *ParsedDocument) ObjectsByType(typeName Name) []ObjectKey {
	var out []ObjectKey
	for key, entry := range d.store.xref {
		if entry.Kind == XrefFree {
			continue
		}
		var dict Dict
		switch v := d.store.Resolve(key).(type) {
		case Dict:
			dict = v
		case *Stream:
			dict = v.Dict
		default:
			continue
		}
		if t, _ := dict["Type"].(Name); t == typeName {
			out = append(out, key)
		}
	}
	return out
}

// Diagnostics returns the non-fatal notices accumulated while parsing.
func (d *ParsedDocument) Diagnostics() []Diagnostic { return d.diag.entries }

// Close releases every scratch blob the document's streams were
// buffered into, removing any spilled temp files.
func (d *ParsedDocument) Close() { d.store.scratch.Close() }

// findStartxref locates the "startxref" keyword and the integer that
// follows it, searching backward from EOF in the widening windows the
// teacher's findStartxrefEnhanced used, before resorting to the error
// that tells Open to fall back to brute-force xref rebuilding.
func findStartxref(src RandomAccessRead, fileLen int64, lookupRange int) (int64, error) {
	windows := []int64{int64(lookupRange), 4096, 65536, 1 << 20}
	for _, w := range windows {
		if w > fileLen {
			w = fileLen
		}
		start := fileLen - w
		buf := make([]byte, w)
		n, _ := src.ReadAt(buf, start)
		buf = buf[:n]
		if val, ok := lastStartxref(buf); ok {
			return val, nil
		}
		if w == fileLen {
			break
		}
	}
	return 0, causeNoStartxref
}

func lastStartxref(buf []byte) (value int64, ok bool) {
	marker := []byte("startxref")
	search := buf
	for {
		idx := bytes.LastIndex(search, marker)
		if idx < 0 {
			return 0, false
		}
		after := idx + len(marker)
		i := after
		for i < len(search) && isWhitespace(search[i]) {
			i++
		}
		j := i
		for j < len(search) && isDigitByte(search[j]) {
			j++
		}
		if j > i {
			n := int64(0)
			for _, c := range search[i:j] {
				n = n*10 + int64(c-'0')
			}
			return n, true
		}
		search = search[:idx]
	}
}

// detectLinearized looks for "/Linearized" in the first 2KB after the
// header, where a linearized file's first-page dictionary must live
// per the Linearized PDF spec.
func detectLinearized(src RandomAccessRead, headerOffset, fileLen int64) bool {
	const window = 2048
	n := int64(window)
	if headerOffset+n > fileLen {
		n = fileLen - headerOffset
	}
	if n <= 0 {
		return false
	}
	buf := make([]byte, n)
	read, _ := src.ReadAt(buf, headerOffset)
	return bytes.Contains(buf[:read], []byte("/Linearized"))
}

// postEOFDataSize reports how many bytes follow the last "%%EOF"
// marker in the final 4096 bytes of the file, not counting a single
// CR LF, LF or CR directly after the marker, or -1 when that window
// holds no "%%EOF". Trailing bytes are a common signal of junk or an
// update appended without a new xref section.
func postEOFDataSize(src RandomAccessRead, fileLen int64) int64 {
	const window = 4096
	w := int64(window)
	if w > fileLen {
		w = fileLen
	}
	start := fileLen - w
	buf := make([]byte, w)
	n, _ := src.ReadAt(buf, start)
	buf = buf[:n]
	idx := bytes.LastIndex(buf, []byte("%%EOF"))
	if idx < 0 {
		return -1
	}
	end := start + int64(idx) + int64(len("%%EOF"))
	two := make([]byte, 2)
	if n, _ := src.ReadAt(two, end); n == 2 && two[0] == '\r' && two[1] == '\n' {
		end += 2
	} else if n >= 1 && (two[0] == '\r' || two[0] == '\n') {
		end++
	}
	return fileLen - end
}
