// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdf

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lenientConfig() *Config {
	cfg := NewDefaultConfig()
	return cfg
}

func strictConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Mode = ModeStrict
	return cfg
}

func validationConfig() *Config {
	cfg := NewDefaultConfig()
	cfg.Mode = ModeValidation
	return cfg
}

// E1 — Minimal PDF: classic xref table, single-line trailer.
func TestOpen_MinimalClassicXref(t *testing.T) {
	data := buildClassicXrefPDF("1.4", catalogObjs(), 1, 4, "")
	doc, _, err := Open(context.Background(), newMemSource(data), lenientConfig(), "")
	require.NoError(t, err)
	defer doc.Close()

	assert.Equal(t, 1.4, doc.State.Version)
	assert.False(t, doc.State.IsXrefStream)
	assert.False(t, doc.State.IsEncrypted)

	val := doc.Resolve(ObjectKey{Num: 1})
	dict, ok := val.(Dict)
	require.True(t, ok, "resolve(1,0) should yield a Dict, got %T", val)
	assert.Equal(t, Name("Catalog"), dict["Type"])
}

// E2 — Xref stream: PDF 1.5 /XRef stream producing the same merged
// xref as E1.
func TestOpen_XrefStream(t *testing.T) {
	data := buildXrefStreamPDF("1.5", catalogObjs(), 1)
	doc, _, err := Open(context.Background(), newMemSource(data), lenientConfig(), "")
	require.NoError(t, err)
	defer doc.Close()

	assert.Equal(t, 1.5, doc.State.Version)
	assert.True(t, doc.State.IsXrefStream)

	val := doc.Resolve(ObjectKey{Num: 1})
	dict, ok := val.(Dict)
	require.True(t, ok)
	assert.Equal(t, Name("Catalog"), dict["Type"])

	pages := doc.Resolve(ObjectKey{Num: 2}).(Dict)
	assert.Equal(t, Name("Pages"), pages["Type"])
}

// Both E1 and E2 must resolve the same Page object (3 0) with the same
// /Type and /Parent: the xref representation is a transport detail (property 5,
// "lenient ⊇ strict" by proxy: the two transports agree on objects).
func TestOpen_ClassicAndStreamXrefAgree(t *testing.T) {
	classic := buildClassicXrefPDF("1.4", catalogObjs(), 1, 4, "")
	stream := buildXrefStreamPDF("1.5", catalogObjs(), 1)

	docA, _, err := Open(context.Background(), newMemSource(classic), lenientConfig(), "")
	require.NoError(t, err)
	defer docA.Close()
	docB, _, err := Open(context.Background(), newMemSource(stream), lenientConfig(), "")
	require.NoError(t, err)
	defer docB.Close()

	a := docA.Resolve(ObjectKey{Num: 3}).(Dict)
	b := docB.Resolve(ObjectKey{Num: 3}).(Dict)
	assert.Equal(t, a["Type"], b["Type"])
	assert.Equal(t, a["Parent"], b["Parent"])
}

// E4 — Broken startxref (lenient): the brute-force scanner must find
// the classic table even when startxref points nowhere useful, and
// the objects it recovers must match E1.
func TestOpen_BrokenStartxrefRecoversViaBruteForce(t *testing.T) {
	data := buildClassicXrefPDF("1.4", catalogObjs(), 1, 4, "")
	// Corrupt the startxref target: point it well past EOF.
	corrupted := bytes.Replace(data, []byte("startxref\n"+itoa(lastXrefOffset(data))), []byte("startxref\n999999999"), 1)
	require.NotEqual(t, data, corrupted, "fixture helper failed to locate startxref value to corrupt")

	doc, diags, err := Open(context.Background(), newMemSource(corrupted), lenientConfig(), "")
	require.NoError(t, err)
	defer doc.Close()

	val := doc.Resolve(ObjectKey{Num: 1})
	dict, ok := val.(Dict)
	require.True(t, ok, "expected recovery to still resolve object 1, got %T", val)
	assert.Equal(t, Name("Catalog"), dict["Type"])

	found := false
	for _, d := range diags {
		if strings.Contains(d.Message, "brute-force") || strings.Contains(d.Message, "rebuilt") {
			found = true
		}
	}
	assert.True(t, found, "expected a recovery diagnostic, got %+v", diags)
}

// The same broken-startxref input must fail outright in strict mode
// (property 5's contrapositive: strict never recovers).
func TestOpen_BrokenStartxrefFailsInStrictMode(t *testing.T) {
	data := buildClassicXrefPDF("1.4", catalogObjs(), 1, 4, "")
	corrupted := bytes.Replace(data, []byte("startxref\n"+itoa(lastXrefOffset(data))), []byte("startxref\n999999999"), 1)

	_, _, err := Open(context.Background(), newMemSource(corrupted), strictConfig(), "")
	assert.Error(t, err)
}

// E5 — Length cycle: object 5's /Length is 6 0 R and object 6's
// /Length is 5 0 R. Lenient mode degrades to a length-less endstream
// scan; in strict mode, if Open succeeds, object 5 must resolve to null.
func TestOpen_StreamLengthCycle(t *testing.T) {
	objs := append(catalogObjs(),
		testObj{5, 0, "<< /Length 6 0 R >>\nstream\nhello world\nendstream"},
		testObj{6, 0, "<< /Length 5 0 R >>"},
	)
	data := buildClassicXrefPDF("1.4", objs, 1, 7, "")

	lenientDoc, _, err := Open(context.Background(), newMemSource(data), lenientConfig(), "")
	require.NoError(t, err)
	defer lenientDoc.Close()

	st, ok := lenientDoc.Resolve(ObjectKey{Num: 5}).(*Stream)
	require.True(t, ok, "lenient mode should still degrade stream 5 to a scanned payload")
	raw, ok := st.Payload.Bytes()
	require.True(t, ok)
	assert.Equal(t, "hello world", string(raw))

	strictDoc, diags, err := Open(context.Background(), newMemSource(data), strictConfig(), "")
	if err == nil {
		defer strictDoc.Close()
		val := strictDoc.Resolve(ObjectKey{Num: 5})
		assert.Nil(t, val, "strict mode must not silently resolve a length-cycle stream")
	}
	_ = diags
}

// E3 — Hybrid xref: a classic table whose trailer carries /XRefStm.
// The hybrid stream must both supply an entry the classic table never
// declares and lose, for any key the classic table does declare, to
// that table's own (newer/authoritative) offset.
func TestOpen_HybridXRefStmMerge(t *testing.T) {
	objs := append(catalogObjs(), testObj{4, 0, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>"})
	data := buildHybridXrefPDF(objs, 1, 4, 3)

	doc, _, err := Open(context.Background(), newMemSource(data), lenientConfig(), "")
	require.NoError(t, err)
	defer doc.Close()

	// Object 3 (the duplicate key) must resolve via the classic
	// table's correct offset, not the hybrid stream's stale one.
	page, ok := doc.Resolve(ObjectKey{Num: 3}).(Dict)
	require.True(t, ok, "classic table's entry for the duplicate key should win")
	assert.Equal(t, Name("Page"), page["Type"])

	// Object 4 only exists via the hybrid stream's entry.
	font, ok := doc.Resolve(ObjectKey{Num: 4}).(Dict)
	require.True(t, ok, "hybrid stream should supply the entry the classic table omits")
	assert.Equal(t, Name("Font"), font["Type"])
}

// E6 — Signature byte-range: an indirect /Contents hex string plus a
// /ByteRange that exactly brackets it must be reported as good in
// ModeValidation.
func TestOpen_ValidationMode_SignatureByteRange(t *testing.T) {
	data := buildSignedPDF()

	doc, _, err := Open(context.Background(), newMemSource(data), validationConfig(), "")
	require.NoError(t, err)
	defer doc.Close()

	require.Len(t, doc.Validation.Signatures, 1)
	sr := doc.Validation.Signatures[0]
	require.NotNil(t, sr.ContentsIndirect)
	assert.True(t, sr.GoodByteRange, "byte range should verify against the indirect /Contents span")
}

// A malformed subsection header ("0  4", two spaces instead of one)
// must flip SubsectionHeaderSpaceSeparated, and a bare CR running into
// non-digit, non-LF bytes must flip XrefEOLMarkersComplyPDFA — both
// only observable in ModeValidation, against the raw classic-table
// bytes xref_parser.go still has in hand while parsing.
func TestOpen_ValidationMode_FlagsMalformedSubsectionHeader(t *testing.T) {
	data := buildClassicXrefPDF("1.4", catalogObjs(), 1, 4, "")
	corrupted := bytes.Replace(data, []byte("0 4\n"), []byte("0  4\n"), 1)
	require.NotEqual(t, data, corrupted, "fixture helper failed to locate the subsection header to corrupt")

	doc, _, err := Open(context.Background(), newMemSource(corrupted), validationConfig(), "")
	require.NoError(t, err)
	defer doc.Close()

	assert.False(t, doc.Validation.SubsectionHeaderSpaceSeparated)
}

func TestOpen_ValidationMode_FlagsBareCRInXrefTable(t *testing.T) {
	data := buildClassicXrefPDF("1.4", catalogObjs(), 1, 4, "")
	// Replace the free entry's internal separator with a bare CR
	// immediately followed by 'f' — neither LF nor a digit, so clause
	// 6.1.4 is violated. The tokenizer treats CR as whitespace just
	// like the space it replaces, so the entry still parses the same;
	// only the raw-byte EOL scan sees the difference.
	corrupted := bytes.Replace(data, []byte("65535 f \n"), []byte("65535\rf \n"), 1)
	require.NotEqual(t, data, corrupted, "fixture helper failed to locate the free entry to corrupt")

	doc, _, err := Open(context.Background(), newMemSource(corrupted), validationConfig(), "")
	require.NoError(t, err)
	defer doc.Close()

	assert.False(t, doc.Validation.XrefEOLMarkersComplyPDFA)
}

// Property 6 — Idempotent resolve: repeated resolution of the same key
// returns identical values without re-parsing differently each time.
func TestResolve_Idempotent(t *testing.T) {
	data := buildClassicXrefPDF("1.4", catalogObjs(), 1, 4, "")
	doc, _, err := Open(context.Background(), newMemSource(data), lenientConfig(), "")
	require.NoError(t, err)
	defer doc.Close()

	first := doc.Resolve(ObjectKey{Num: 2})
	second := doc.Resolve(ObjectKey{Num: 2})
	assert.Equal(t, first, second)
}

// Property 2 — XRef coverage: resolving a key absent from the xref
// map yields PDF null (nil), never a panic or propagated error.
func TestResolve_MissingKeyYieldsNull(t *testing.T) {
	data := buildClassicXrefPDF("1.4", catalogObjs(), 1, 4, "")
	doc, _, err := Open(context.Background(), newMemSource(data), lenientConfig(), "")
	require.NoError(t, err)
	defer doc.Close()

	val := doc.Resolve(ObjectKey{Num: 999})
	assert.Nil(t, val)
}

func TestObjectsByType(t *testing.T) {
	data := buildClassicXrefPDF("1.4", catalogObjs(), 1, 4, "")
	doc, _, err := Open(context.Background(), newMemSource(data), lenientConfig(), "")
	require.NoError(t, err)
	defer doc.Close()

	pages := doc.ObjectsByType("Page")
	require.Len(t, pages, 1)
	assert.Equal(t, ObjectKey{Num: 3}, pages[0])
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

// lastXrefOffset re-derives the integer buildClassicXrefPDF wrote after
// "startxref\n", so tests can target it for corruption without
// hard-coding fixture byte offsets.
func lastXrefOffset(data []byte) int64 {
	const marker = "startxref\n"
	idx := bytes.LastIndex(data, []byte(marker))
	if idx < 0 {
		return 0
	}
	rest := data[idx+len(marker):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	var n int64
	for _, c := range rest[:end] {
		n = n*10 + int64(c-'0')
	}
	return n
}
