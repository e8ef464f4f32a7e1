// Copyright 2024 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// filters.go decodes the handful of stream filters the object/xref
// layer itself needs to unpack before the tokenizer can read packed
// objects: FlateDecode (object streams, xref streams) and LZWDecode
// (less common but occasionally used for xref streams), plus the PNG
// "Up" predictor xref streams commonly apply. Image and other
// content-stream filters (DCTDecode, CCITTFaxDecode, JPXDecode, ...)
// are out of scope: this package never interprets stream *content*,
// only the object/xref container format.

package pdf

import (
	"bytes"
	"compress/lzw"
	"io"

	"github.com/klauspost/compress/zlib"
)

// inflateFlate decodes a FlateDecode-filtered payload. klauspost's
// zlib is a drop-in for compress/zlib with a materially faster
// inflate loop, which matters here because object streams and xref
// streams are on the hot path of every lazy dereference.
func inflateFlate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// inflateLZW decodes an LZWDecode-filtered payload using the PDF
// default parameters (MSB-first, 8-bit initial code width). stdlib's
// compress/lzw has no knob for the PDF /EarlyChange flag; PDF
// producers essentially always leave it at its default (1), so this
// decodes that common case and leaves the rare EarlyChange=0 stream
// to fall through to the undecoded-payload path upstream.
func inflateLZW(data []byte) ([]byte, error) {
	lr := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
	defer lr.Close()
	return io.ReadAll(lr)
}

// applyPNGUpPredictor reverses the PNG "Up" predictor (predictor 12,
// the overwhelming majority of PDF producers use no other value for
// xref streams and object streams) with the given number of bytes
// per row (columns*colors*bitsPerComponent/8). Each input row is
// prefixed by its PNG predictor tag byte, which this function reads
// past and drops, so the input stride is rowBytes+1.
func applyPNGUpPredictor(data []byte, rowBytes int) []byte {
	if rowBytes <= 0 {
		return data
	}
	stride := rowBytes + 1 // PNG predictor tag byte prefixes every row
	out := make([]byte, 0, len(data))
	prev := make([]byte, rowBytes)
	for i := 0; i+stride <= len(data); i += stride {
		tag := data[i]
		row := data[i+1 : i+stride]
		cur := make([]byte, rowBytes)
		switch tag {
		case 2: // Up
			for j := range row {
				cur[j] = row[j] + prev[j]
			}
		default: // None and anything unsupported: pass through
			copy(cur, row)
		}
		out = append(out, cur...)
		prev = cur
	}
	return out
}

// decodeStreamForParsing decodes a stream payload using /Filter and
// /DecodeParms so the object/xref layer can read the packed bytes.
// Only the filters named above are understood; anything else is
// returned undecoded (callers treat that as "nothing left to parse
// here", which is correct for content-stream-only filters).
func decodeStreamForParsing(payload []byte, filterDict Dict) ([]byte, error) {
	filterName, params := streamFilterOf(filterDict)
	switch filterName {
	case "FlateDecode", "Fl":
		out, err := inflateFlate(payload)
		if err != nil {
			return nil, err
		}
		return applyPredictorIfAny(out, params), nil
	case "LZWDecode", "LZW":
		if v, ok := params["EarlyChange"]; ok {
			if n, ok := v.(int64); ok && n == 0 {
				return payload, nil
			}
		}
		out, err := inflateLZW(payload)
		if err != nil {
			return nil, err
		}
		return applyPredictorIfAny(out, params), nil
	default:
		return payload, nil
	}
}

func streamFilterOf(d Dict) (string, Dict) {
	var filter string
	switch f := d["Filter"].(type) {
	case Name:
		filter = string(f)
	case Array:
		if len(f) > 0 {
			if n, ok := f[0].(Name); ok {
				filter = string(n)
			}
		}
	}
	var params Dict
	switch p := d["DecodeParms"].(type) {
	case Dict:
		params = p
	case Array:
		if len(p) > 0 {
			if pd, ok := p[0].(Dict); ok {
				params = pd
			}
		}
	}
	if params == nil {
		params = Dict{}
	}
	return filter, params
}

func applyPredictorIfAny(data []byte, params Dict) []byte {
	predictor := int64(1)
	if v, ok := params["Predictor"].(int64); ok {
		predictor = v
	}
	if predictor < 2 {
		return data
	}
	columns := int64(1)
	if v, ok := params["Columns"].(int64); ok {
		columns = v
	}
	colors := int64(1)
	if v, ok := params["Colors"].(int64); ok {
		colors = v
	}
	bpc := int64(8)
	if v, ok := params["BitsPerComponent"].(int64); ok {
		bpc = v
	}
	rowBytes := int((columns*colors*bpc + 7) / 8)
	if predictor == 2 {
		// TIFF predictor: not used by xref/object streams in
		// practice; pass through rather than mis-decode.
		return data
	}
	return applyPNGUpPredictor(data, rowBytes)
}
