// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pdf

import (
	"bytes"
	"fmt"
)

// testObj is one indirect object body used to assemble a fixture PDF.
type testObj struct {
	num  int
	gen  int
	body string
}

// catalogObjs is the minimal 3-object Catalog/Pages/Page graph every
// scenario in spec.md §8 builds on top of.
func catalogObjs() []testObj {
	return []testObj{
		{1, 0, "<< /Type /Catalog /Pages 2 0 R >>"},
		{2, 0, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>"},
		{3, 0, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>"},
	}
}

// buildClassicXrefPDF assembles a PDF using a classic "xref" table and
// a single-section trailer, computing every offset at build time so
// the fixture is always byte-accurate (E1, E4, E5).
func buildClassicXrefPDF(version string, objs []testObj, rootNum, size int, extraTrailer string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-" + version + "\n%\xe2\xe3\xcf\xd3\n")

	offsets := make(map[int]int64)
	for _, o := range objs {
		offsets[o.num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d %d obj\n%s\nendobj\n", o.num, o.gen, o.body)
	}

	maxNum := 0
	for _, o := range objs {
		if o.num > maxNum {
			maxNum = o.num
		}
	}

	xrefOffset := int64(buf.Len())
	buf.WriteString("xref\n")
	fmt.Fprintf(&buf, "0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= maxNum; n++ {
		off, ok := offsets[n]
		if !ok {
			buf.WriteString("0000000000 00000 f \n")
			continue
		}
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	buf.WriteString("trailer\n")
	fmt.Fprintf(&buf, "<< /Root %d 0 R /Size %d%s >>\n", rootNum, size, extraTrailer)
	buf.WriteString("startxref\n")
	fmt.Fprintf(&buf, "%d\n", xrefOffset)
	buf.WriteString("%%EOF")
	return buf.Bytes()
}

// xrefStreamRow packs one (type, offset-or-container, gen-or-index)
// triple using the fixed width [1,4,1] this package's test fixtures
// use throughout.
func xrefStreamRow(typ byte, f2 uint32, f3 byte) []byte {
	return []byte{typ, byte(f2 >> 24), byte(f2 >> 16), byte(f2 >> 8), byte(f2), f3}
}

// buildXrefStreamPDF assembles a PDF whose cross-reference section is
// a PDF 1.5 "/Type /XRef" stream (E2), logically identical to
// buildClassicXrefPDF's catalog/pages/page graph.
func buildXrefStreamPDF(version string, objs []testObj, rootNum int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-" + version + "\n%\xe2\xe3\xcf\xd3\n")

	offsets := make(map[int]int64)
	for _, o := range objs {
		offsets[o.num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d %d obj\n%s\nendobj\n", o.num, o.gen, o.body)
	}

	maxNum := 0
	for _, o := range objs {
		if o.num > maxNum {
			maxNum = o.num
		}
	}
	xrefNum := maxNum + 1
	xrefOffset := int64(buf.Len())
	offsets[xrefNum] = xrefOffset

	var payload bytes.Buffer
	payload.Write(xrefStreamRow(0, 0, 0))
	for n := 1; n <= maxNum; n++ {
		payload.Write(xrefStreamRow(1, uint32(offsets[n]), 0))
	}
	payload.Write(xrefStreamRow(1, uint32(offsets[xrefNum]), 0))

	dict := fmt.Sprintf("<< /Type /XRef /W [1 4 1] /Size %d /Root %d 0 R /Length %d >>",
		xrefNum+1, rootNum, payload.Len())
	fmt.Fprintf(&buf, "%d 0 obj\n%s\nstream\n", xrefNum, dict)
	buf.Write(payload.Bytes())
	buf.WriteString("\nendstream\nendobj\n")

	buf.WriteString("startxref\n")
	fmt.Fprintf(&buf, "%d\n", xrefOffset)
	buf.WriteString("%%EOF")
	return buf.Bytes()
}

// buildHybridXrefPDF assembles a classic-xref PDF whose trailer also
// carries /XRefStm (E3): the hybrid stream supplies a real entry for
// hybridOnlyNum, which the classic table never declares at all, and
// also carries a stale duplicate offset (0) for dupNum that the
// classic table's own (correct) entry must win over — spec §4.5 step
// 3's "duplicate key prefers the newest [i.e. classic] section".
func buildHybridXrefPDF(objs []testObj, rootNum, hybridOnlyNum, dupNum int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n%\xe2\xe3\xcf\xd3\n")

	offsets := make(map[int]int64)
	for _, o := range objs {
		offsets[o.num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d %d obj\n%s\nendobj\n", o.num, o.gen, o.body)
	}

	maxNum := 0
	for _, o := range objs {
		if o.num > maxNum {
			maxNum = o.num
		}
	}

	hybridNum := maxNum + 1
	hybridOffset := int64(buf.Len())
	var payload bytes.Buffer
	payload.Write(xrefStreamRow(0, 0, 0))
	for n := 1; n <= maxNum; n++ {
		if n == dupNum {
			payload.Write(xrefStreamRow(1, 0, 0))
			continue
		}
		payload.Write(xrefStreamRow(1, uint32(offsets[n]), 0))
	}
	dict := fmt.Sprintf("<< /Type /XRef /W [1 4 1] /Size %d /Length %d >>", maxNum+1, payload.Len())
	fmt.Fprintf(&buf, "%d 0 obj\n%s\nstream\n", hybridNum, dict)
	buf.Write(payload.Bytes())
	buf.WriteString("\nendstream\nendobj\n")

	// Classic table: every object except hybridOnlyNum, which it leaves
	// entirely undeclared so the hybrid stream's entry is the only
	// source for it.
	xrefOffset2 := int64(buf.Len())
	buf.WriteString("xref\n")
	fmt.Fprintf(&buf, "0 %d\n", hybridOnlyNum)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n < hybridOnlyNum; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	buf.WriteString("trailer\n")
	fmt.Fprintf(&buf, "<< /Root %d 0 R /Size %d /XRefStm %d >>\n", rootNum, maxNum+1, hybridOffset)
	buf.WriteString("startxref\n")
	fmt.Fprintf(&buf, "%d\n", xrefOffset2)
	buf.WriteString("%%EOF")
	return buf.Bytes()
}

// buildSignedPDF assembles a classic-xref PDF whose object 8 is a
// /Sig dictionary with an indirect /Contents (object 9, a hex-string
// placeholder) and a /ByteRange computed to exactly satisfy
// verifyByteRange (E6). The ByteRange's final element is a
// fixed-width placeholder patched in once the whole file (and so the
// true first-%%EOF offset) is known, so the patch never shifts any
// other byte offset already baked into the xref table.
func buildSignedPDF() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.6\n%\xe2\xe3\xcf\xd3\n")

	offsets := make(map[int]int64)
	write := func(num, gen int, body string) {
		offsets[num] = int64(buf.Len())
		fmt.Fprintf(&buf, "%d %d obj\n%s\nendobj\n", num, gen, body)
	}
	write(1, 0, "<< /Type /Catalog /Pages 2 0 R >>")
	write(2, 0, "<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	write(3, 0, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")

	offsets[9] = int64(buf.Len())
	fmt.Fprintf(&buf, "9 0 obj\n")
	contentsBegin := int64(buf.Len())
	buf.WriteString("<")
	buf.Write(bytes.Repeat([]byte("00"), 64))
	buf.WriteString(">")
	contentsEnd := int64(buf.Len())
	buf.WriteString("\nendobj\n")

	offsets[8] = int64(buf.Len())
	byteRangeC := contentsEnd + 1
	fmt.Fprintf(&buf, "8 0 obj\n<< /Type /Sig /Contents 9 0 R /ByteRange [0 %d %d ", contentsBegin, byteRangeC)
	dPos := buf.Len()
	buf.WriteString("00000")
	buf.WriteString("] >>\nendobj\n")

	xrefOffset := int64(buf.Len())
	buf.WriteString("xref\n")
	buf.WriteString("0 10\n")
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= 9; n++ {
		off, ok := offsets[n]
		if !ok {
			buf.WriteString("0000000000 00000 f \n")
			continue
		}
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	buf.WriteString("trailer\n")
	buf.WriteString("<< /Root 1 0 R /Size 10 >>\n")
	buf.WriteString("startxref\n")
	fmt.Fprintf(&buf, "%d\n", xrefOffset)
	buf.WriteString("%%EOF")

	data := buf.Bytes()
	firstEOF := int64(len(data)) - 1 // index of the trailing 'F' in "%%EOF"
	wantD := firstEOF - contentsEnd
	copy(data[dPos:dPos+5], []byte(fmt.Sprintf("%05d", wantD)))
	return data
}

