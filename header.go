// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// HeaderParser (C10): locates %PDF-x.y / %FDF-x.y, tolerating a junk
// prefix, and captures the header byte offset every other stored
// offset in the document is translated by.

package pdf

import (
	"strconv"
	"strings"
)

const maxHeaderScanLines = 25
const maxHeaderScanBytes = 4096

// HeaderInfo is what HeaderParser discovers at the start of a file.
type HeaderInfo struct {
	Version       float64
	IsFDF         bool
	HeaderOffset  int64
	BinaryComment HeaderComment
}

// ParseHeader scans from the start of src for a %PDF- or %FDF- marker,
// tolerating leading junk (some generators prepend bytes before the
// header). diag may be nil.
func ParseHeader(cur *ByteCursor, diag *diagnostics) (*HeaderInfo, error) {
	cur.Seek(0)
	info := &HeaderInfo{Version: 1.4, BinaryComment: HeaderComment{-1, -1, -1, -1}}

	for lines := 0; lines < maxHeaderScanLines && cur.Position() < maxHeaderScanBytes; lines++ {
		lineStart := cur.Position()
		line := cur.ReadLine()
		idx := indexOfMarker(line)
		if idx < 0 {
			if cur.IsEOF() {
				break
			}
			continue
		}
		info.HeaderOffset = lineStart + int64(idx)
		info.IsFDF = line[idx+1] == 'F'
		info.Version = parseVersion(line[idx:], info.IsFDF)

		// Second line: binary-comment bytes, per spec §4.10.
		second := cur.ReadLine()
		if len(second) >= 5 && second[0] == '%' {
			for i := 0; i < 4; i++ {
				info.BinaryComment[i] = int(second[i+1])
			}
		}
		return info, nil
	}

	if diag != nil {
		diag.add(0, "no %%PDF- or %%FDF- header found within scan window")
	}
	return nil, wrapErr("parse header", 0, KindMalformedHeader, causeNoHeader)
}

func indexOfMarker(line []byte) int {
	s := string(line)
	if i := strings.Index(s, "%PDF-"); i >= 0 {
		return i
	}
	if i := strings.Index(s, "%FDF-"); i >= 0 {
		return i
	}
	return -1
}

// parseVersion parses "x.y" out of a line starting with "%PDF-" or
// "%FDF-", defaulting to 1.4 (1.0 for FDF) on a malformed trailer.
func parseVersion(marker []byte, isFDF bool) float64 {
	dflt := 1.4
	if isFDF {
		dflt = 1.0
	}
	s := string(marker)
	dash := strings.IndexByte(s, '-')
	if dash < 0 || dash+1 >= len(s) {
		return dflt
	}
	rest := s[dash+1:]
	end := 0
	for end < len(rest) && (rest[end] == '.' || (rest[end] >= '0' && rest[end] <= '9')) {
		end++
	}
	v, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil || v == 0 {
		return dflt
	}
	return v
}
