// Copyright 2024 The Parallelgz Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pgzip

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"runtime"
	"time"
)

func wallClockSeconds() int64 { return time.Now().Unix() }

// Metadata supplies the gzip header fields that come from the input
// file rather than from the compression pipeline itself.
type Metadata struct {
	// ModTime is written as MTIME: seconds since the Unix epoch. It is
	// only honored when HasModTime is true; a genuine mtime of exactly
	// the Unix epoch is a legitimate value in its own right and must not
	// be confused with "no mtime available."
	ModTime int64
	// HasModTime reports whether ModTime came from an actual stat of the
	// input. When false, MTIME falls back to the current wall-clock time
	// at the call to Compress, per RFC 1952 ("if the compressed data did
	// not come from a file, MTIME is set to the time at which
	// compression started").
	HasModTime bool
	// Name is the basename used to derive FNAME. A trailing ".gz" is
	// stripped. Empty means no FNAME is written.
	Name string
}

// writeHeader emits the fixed 10-byte gzip header followed by an
// optional NUL-terminated Latin-1 FNAME, per RFC 1952. The XFL byte
// depends only on level, and OS only on the build platform, matching
// the spec's requirement that neither vary with input.
func writeHeader(w io.Writer, meta Metadata, level int) error {
	fname, haveName := encodeFNAME(meta.Name)

	var hdr [10]byte
	hdr[0] = 0x1f
	hdr[1] = 0x8b
	hdr[2] = 0x08 // CM = DEFLATE
	if haveName {
		hdr[3] = 0x08
	}
	mtime := meta.ModTime
	if !meta.HasModTime {
		mtime = wallClockSeconds()
	}
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(mtime))
	hdr[8] = xflForLevel(level)
	hdr[9] = osByte()

	if _, err := w.Write(hdr[:]); err != nil {
		return newErr(IoWrite, "", -1, err)
	}
	if haveName {
		if _, err := w.Write(fname); err != nil {
			return newErr(IoWrite, "", -1, err)
		}
	}
	return nil
}

func xflForLevel(level int) byte {
	switch {
	case level >= 9:
		return 2
	case level == 1:
		return 4
	default:
		return 0
	}
}

// osByte returns the RFC 1952 OS field. Darwin is standardized on 3
// (Unix), matching this spec's resolution of the ambiguity between
// source revisions (see DESIGN.md).
func osByte() byte {
	switch runtime.GOOS {
	case "linux", "freebsd", "aix", "darwin":
		return 3
	case "windows":
		return 0
	default:
		return 255
	}
}

// encodeFNAME returns the NUL-terminated Latin-1 FNAME bytes for name,
// with a trailing ".gz" stripped, and whether it could be represented
// at all. A name that cannot be represented in Latin-1 is silently
// omitted: this is Kind EncodingError, which is never fatal.
func encodeFNAME(name string) ([]byte, bool) {
	if name == "" {
		return nil, false
	}
	trimmed := name
	if len(trimmed) > 3 && trimmed[len(trimmed)-3:] == ".gz" {
		trimmed = trimmed[:len(trimmed)-3]
	}
	out := make([]byte, 0, len(trimmed)+1)
	for _, r := range trimmed {
		if r == 0 || r > 0xff {
			return nil, false
		}
		out = append(out, byte(r))
	}
	out = append(out, 0)
	return out, true
}

// framer is the writer/single-consumer stage. It pops compressed
// blocks strictly in seq order, writes their DEFLATE payload through
// to dst, and folds each block's original bytes into a running
// CRC-32 computed in release order (which equals input order).
type framer struct {
	dst        io.Writer
	rb         *reorderBuffer
	progressCh chan<- Progress

	checksum uint32
}

func newFramer(dst io.Writer, rb *reorderBuffer, progressCh chan<- Progress) *framer {
	return &framer{dst: dst, rb: rb, progressCh: progressCh}
}

// run writes the gzip header, streams reordered blocks until the last
// one arrives, and writes the trailer. run calls inputSize only once
// the final block has been observed, establishing
// the happens-before relationship the reader's byte counter needs.
func (f *framer) run(meta Metadata, level int, inputSize func() uint64) error {
	if err := writeHeader(f.dst, meta, level); err != nil {
		return err
	}

	var expected int64
	for {
		cb, ok := f.rb.popNext(expected)
		if !ok {
			return newErr(IoWrite, "", expected, errShutdown)
		}
		f.checksum = crc32.Update(f.checksum, crc32.IEEETable, cb.original)
		if len(cb.deflate) > 0 {
			if _, err := f.dst.Write(cb.deflate); err != nil {
				return newErr(IoWrite, "", cb.seq, err)
			}
		}
		if f.progressCh != nil {
			f.progressCh <- Progress{
				Seq:        cb.seq,
				Original:   len(cb.original),
				Compressed: len(cb.deflate),
				Last:       cb.isLast,
			}
		}
		if cb.isLast {
			break
		}
		expected++
	}

	var trailer [8]byte
	binary.LittleEndian.PutUint32(trailer[0:4], f.checksum)
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(inputSize()))
	if _, err := f.dst.Write(trailer[:]); err != nil {
		return newErr(IoWrite, "", -1, err)
	}
	return nil
}
