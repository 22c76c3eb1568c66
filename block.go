// Copyright 2024 The Parallelgz Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pgzip

import (
	"bytes"
	"compress/flate"
)

// compressBlock compresses data at the given level and returns a raw
// DEFLATE segment. Every call constructs its own *flate.Writer, so
// blocks produced by concurrent callers are independently decodable up
// to their own trailer: that independence is what makes it safe to
// compress blocks out of order and reassemble them later.
//
// Intermediate blocks (isLast == false) are terminated with a sync
// flush, which compress/flate implements as the empty stored block
// (00 00 FF FF) the gzip framing contract requires. The final block is
// terminated by closing the writer, which sets the DEFLATE final-block
// bit and aligns to a byte boundary without a trailing sync marker.
func compressBlock(level int, data []byte, isLast bool) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, newErr(CodecError, "", -1, err)
	}
	if len(data) > 0 {
		if _, err := fw.Write(data); err != nil {
			return nil, newErr(CodecError, "", -1, err)
		}
	}
	if isLast {
		if err := fw.Close(); err != nil {
			return nil, newErr(CodecError, "", -1, err)
		}
	} else {
		if err := fw.Flush(); err != nil {
			return nil, newErr(CodecError, "", -1, err)
		}
	}
	return buf.Bytes(), nil
}
