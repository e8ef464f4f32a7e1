// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// IntegrityStatus/CheckIntegrity: a cheap pre-flight scan a caller can
// run before committing to a full Open, reporting whether the
// structural landmarks (header, EOF, startxref, xref, trailer) are
// present without actually building an ObjectStore.

package pdf

import "bytes"

// IntegrityStatus summarizes what a quick scan of a file's landmarks
// found, without attempting to parse any object.
type IntegrityStatus struct {
	IsValid          bool
	IsTruncated      bool
	HasValidHeader   bool
	HasValidEOF      bool
	HasStartxref     bool
	HasXref          bool
	HasTrailer       bool
	EstimatedObjects int
	Issues           []string
}

// CheckIntegrity performs a sampling scan over a RandomAccessRead,
// sharing a backing source with the rest of the core instead of
// requiring its own io.ReaderAt+size pair.
func CheckIntegrity(src RandomAccessRead) *IntegrityStatus {
	status := &IntegrityStatus{IsValid: true}

	size, err := src.Size()
	if err != nil || size < 20 {
		status.IsValid = false
		status.Issues = append(status.Issues, "file too small or unreadable to be a valid PDF")
		return status
	}

	headerLen := int64(1024)
	if size < headerLen {
		headerLen = size
	}
	header := make([]byte, headerLen)
	src.ReadAt(header, 0)

	if idx := bytes.Index(header, []byte("%PDF-")); idx >= 0 {
		status.HasValidHeader = true
		if idx > 0 {
			status.Issues = append(status.Issues, "junk precedes %PDF- header")
		}
	} else if idx := bytes.Index(header, []byte("%FDF-")); idx >= 0 {
		status.HasValidHeader = true
	} else {
		status.IsValid = false
		status.Issues = append(status.Issues, "missing PDF/FDF header")
		return status
	}

	tailLen := int64(4096)
	if size < tailLen {
		tailLen = size
	}
	tail := make([]byte, tailLen)
	src.ReadAt(tail, size-tailLen)

	if bytes.Contains(tail, []byte("%%EOF")) {
		status.HasValidEOF = true
	} else {
		status.IsTruncated = true
		status.Issues = append(status.Issues, "missing %%EOF marker (file may be truncated)")
	}

	if bytes.Contains(tail, []byte("startxref")) {
		status.HasStartxref = true
	} else {
		status.Issues = append(status.Issues, "missing startxref marker")
	}

	if bytes.Contains(tail, []byte("xref")) || bytes.Contains(tail, []byte("/Type /XRef")) || bytes.Contains(tail, []byte("/Type/XRef")) {
		status.HasXref = true
	} else {
		status.Issues = append(status.Issues, "xref table/stream not found in expected tail location")
	}

	if bytes.Contains(tail, []byte("trailer")) || status.HasXref {
		status.HasTrailer = true
	} else {
		status.Issues = append(status.Issues, "trailer not found")
	}

	sampleSize := int64(512 << 10)
	if size < sampleSize {
		sampleSize = size
	}
	sample := make([]byte, sampleSize)
	src.ReadAt(sample, 0)
	objCount := bytes.Count(sample, []byte(" obj"))
	if size > sampleSize {
		objCount = int(float64(objCount) * float64(size) / float64(sampleSize))
	}
	status.EstimatedObjects = objCount

	if !status.HasValidHeader {
		status.IsValid = false
	} else if !status.HasStartxref && !status.HasXref {
		status.IsValid = len(status.Issues) < 3
	}

	return status
}
