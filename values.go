// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The ObjectValue data model (spec §3): the tagged variant every
// parsed PDF value belongs to, plus ObjectKey and the xref/slot types
// the rest of the package threads through.

package pdf

// ObjectKey identifies an indirect object by its (number, generation)
// pair. Equality is structural, so ObjectKey is comparable and usable
// directly as a map key.
type ObjectKey struct {
	Num uint32
	Gen uint16
}

// maxObjectNum / maxGeneration bound object/generation numbers per
// spec §4.2: "object number ≥ 0 and < 10,000,000,000; generation ≤
// 65,535". ObjectKey.Num is a uint32, which already caps numbers well
// under 10,000,000,000, so only the upper literal bound from the
// grammar's integer lexeme needs checking before the cast.
const maxObjectNum = 10_000_000_000

// StringKind distinguishes the two PDF string syntaxes; both decode
// to the same byte-string representation, but validation mode and
// signature capture care which syntax produced a value.
type StringKind int

const (
	KindLiteral StringKind = iota
	KindHex
)

// String is a decoded PDF string value.
type String struct {
	Bytes []byte
	Kind  StringKind
}

// Name is a decoded PDF name (the bytes after #xx decoding), compared
// bytewise including the cases where the raw name held non-ASCII
// bytes.
type Name string

// Array is an ordered sequence of values.
type Array []ObjectValue

// Dict is a name-keyed PDF dictionary. Duplicate keys collapse to the
// last value parsed, per spec §3; this mirrors how the teacher's own
// dict type (a plain Go map) already behaves; no separate warning
// channel is threaded through construction, but ObjectGrammar records
// a diagnostic at the call site when it notices a repeat key.
type Dict map[Name]ObjectValue

// Stream is a dictionary plus an opaque handle to its (possibly still
// undecoded) payload bytes, owned by the document's ScratchAllocator.
type Stream struct {
	Dict    Dict
	Payload *ScratchBlob
	Owner   ObjectKey // the indirect object the stream belongs to

	// Per-stream conformance signals (spec §4.9 "per-stream"), set by
	// ReadStream in every mode; ActualLength is the true, untruncated
	// payload length and is also used to expand object streams.
	StreamKeywordEOLCompliant    bool
	EndstreamKeywordEOLCompliant bool
	ActualLength                 int64
}

// StreamHeader is what ObjectGrammar hands back when it sees the
// "stream" keyword after a dictionary: the dictionary plus the file
// offset of the first payload byte (just past the required EOL).
// ObjectStore passes this to StreamReader to produce the final
// *Stream once /Length is resolved.
type StreamHeader struct {
	Dict                      Dict
	BodyOffset                int64
	StreamKeywordEOLCompliant bool
}

// Ref is a lazy indirect reference; ObjectGrammar never resolves it
// itself — only ObjectStore.Resolve does.
type Ref struct {
	Key ObjectKey
}

// ObjectValue is the tagged variant described in spec §3. A Go value
// of this type is always one of:
//
//	nil            – PDF null
//	bool           – PDF boolean
//	int64          – PDF integer
//	float64        – PDF real
//	Name           – PDF name
//	*String        – PDF literal or hex string
//	Array          – PDF array
//	Dict           – PDF dictionary
//	*Stream        – PDF stream (dictionary + payload)
//	Ref            – indirect reference, lazy
type ObjectValue = interface{}

// SlotState is the state of one ObjectStore entry. Transitions are
// monotonic: Unparsed -> Parsing -> (Parsed | Null | Broken). No slot
// is Parsing at quiescence; re-entry while Parsing is the cycle error.
type SlotState int

const (
	StateUnparsed SlotState = iota
	StateParsing
	StateParsed
	StateNull
	StateBroken
)

// ValidationFlags carries the per-object conformance signals spec
// §4.9 asks ValidationSink to track. All fields default to the
// "compliant" value; a violation flips the bit to false.
type ValidationFlags struct {
	HeaderFormatCompliant    bool
	HeaderEOLCompliant       bool
	EndOfObjectEOLCompliant  bool
}

// IndirectSlot is one entry in the ObjectStore's object pool.
type IndirectSlot struct {
	Key   ObjectKey
	State SlotState
	Value ObjectValue
	Flags ValidationFlags

	// BrokenErr records why the slot became Broken, for diagnostics;
	// resolve() still returns nil (PDF null) to callers per spec §7.
	BrokenErr error
}

// XrefKind distinguishes the three xref-entry shapes of spec §3.
type XrefKind int

const (
	XrefFree XrefKind = iota
	XrefInUse
	XrefCompressed
)

// XrefEntry is one resolution for an ObjectKey: either free (absent
// from the live map), a direct byte offset, or a location inside a
// compressed object stream.
type XrefEntry struct {
	Kind      XrefKind
	Offset    int64  // valid when Kind == XrefInUse
	Container uint32 // valid when Kind == XrefCompressed
	Index     uint32 // valid when Kind == XrefCompressed
}
