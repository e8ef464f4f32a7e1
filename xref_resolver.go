// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// XrefResolver (C4): accumulates xref sections as XrefParser walks
// the startxref -> /Prev chain, and folds them into one merged xref
// map and one merged trailer with latest-wins semantics.

package pdf

// XrefSectionKind distinguishes a classic table section from an xref
// stream section.
type XrefSectionKind int

const (
	SectionTable XrefSectionKind = iota
	SectionStream
)

// xrefSection is one entry in the discovery-order chain (spec §3
// TrailerChain): the byte offset it was found at, its kind, its own
// trailer dictionary, and the entries it contributed.
type xrefSection struct {
	startOffset int64
	kind        XrefSectionKind
	trailer     Dict
	entries     map[ObjectKey]XrefEntry
}

// XrefResolver holds sections in discovery order: index 0 is the
// section startxref pointed at directly (newest), increasing index
// follows /Prev (older).
type XrefResolver struct {
	sections []*xrefSection
}

// NewXrefResolver returns an empty resolver.
func NewXrefResolver() *XrefResolver { return &XrefResolver{} }

// NextSection begins a new section at offset, appended after any
// sections already added (i.e. in "newest first" discovery order).
func (r *XrefResolver) NextSection(offset int64, kind XrefSectionKind) *xrefSection {
	s := &xrefSection{startOffset: offset, kind: kind, trailer: make(Dict), entries: make(map[ObjectKey]XrefEntry)}
	r.sections = append(r.sections, s)
	return s
}

func (s *xrefSection) SetTrailer(d Dict) { s.trailer = d }

func (s *xrefSection) SetEntry(key ObjectKey, e XrefEntry) { s.entries[key] = e }

// MergedXref folds sections oldest-to-newest so a newer section's
// entry for a key overwrites an older one (spec §4.4/§8 property 3).
func (r *XrefResolver) MergedXref() map[ObjectKey]XrefEntry {
	out := make(map[ObjectKey]XrefEntry)
	for i := len(r.sections) - 1; i >= 0; i-- {
		for k, e := range r.sections[i].entries {
			out[k] = e
		}
	}
	return out
}

// MergedTrailer folds trailers oldest-to-newest so a newer section's
// value for a key overwrites an older one.
func (r *XrefResolver) MergedTrailer() Dict {
	out := make(Dict)
	for i := len(r.sections) - 1; i >= 0; i-- {
		for k, v := range r.sections[i].trailer {
			out[k] = v
		}
	}
	return out
}

// FirstTrailer is the most-recently-discovered section's trailer
// (the one startxref pointed to directly), used as DocumentState's
// first_page_trailer before following /Prev (it is the "original
// latest trailer before linearization rewrite" per spec §3).
func (r *XrefResolver) FirstTrailer() Dict {
	if len(r.sections) == 0 {
		return nil
	}
	return r.sections[0].trailer
}

// LastTrailer is the oldest section's trailer, i.e. the end of the
// /Prev chain.
func (r *XrefResolver) LastTrailer() Dict {
	if len(r.sections) == 0 {
		return nil
	}
	return r.sections[len(r.sections)-1].trailer
}

// FirstSectionKind reports whether the section startxref pointed to
// directly was a classic table or an xref stream, for
// DocumentState.is_xref_stream.
func (r *XrefResolver) FirstSectionKind() (XrefSectionKind, bool) {
	if len(r.sections) == 0 {
		return SectionTable, false
	}
	return r.sections[0].kind, true
}
