// Copyright 2024 The Parallelgz Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pgzip_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/rand"
	"errors"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/parallelgz/pgzip"
)

func compressAll(t *testing.T, data []byte, opts ...pgzip.Option) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := pgzip.Compress(context.Background(), &buf, bytes.NewReader(data), pgzip.Metadata{}, opts...); err != nil {
		t.Fatalf("Compress: %v", err)
	}
	return buf.Bytes()
}

func gunzipAll(t *testing.T, data []byte) []byte {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	out, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("gzip read: %v", err)
	}
	return out
}

// TestRoundTrip covers universal invariants 1-4: round trip, CRC, and
// ISIZE correctness, across a range of input shapes and block sizes
// small enough to force multiple blocks.
func TestRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":       {},
		"short":       []byte("This is a test string"),
		"exact-block": bytes.Repeat([]byte("x"), 4000),
		"multi-block": bytes.Repeat([]byte("abcdefgh"), 4000), // 32000 bytes
	}
	randomBig := make([]byte, 500_000)
	if _, err := rand.Read(randomBig); err != nil {
		t.Fatal(err)
	}
	inputs["random-large"] = randomBig

	for name, data := range inputs {
		data := data
		t.Run(name, func(t *testing.T) {
			compressed := compressAll(t, data, pgzip.WithBlockSizeKB(1), pgzip.WithWorkers(4))
			got := gunzipAll(t, compressed)
			if !bytes.Equal(got, data) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(data))
			}

			if len(compressed) < 18 {
				t.Fatalf("compressed stream too short to hold header+trailer: %d bytes", len(compressed))
			}
			trailer := compressed[len(compressed)-8:]
			wantCRC := crc32.ChecksumIEEE(data)
			gotCRC := uint32(trailer[0]) | uint32(trailer[1])<<8 | uint32(trailer[2])<<16 | uint32(trailer[3])<<24
			if gotCRC != wantCRC {
				t.Errorf("CRC-32: got %#x, want %#x", gotCRC, wantCRC)
			}
			gotSize := uint32(trailer[4]) | uint32(trailer[5])<<8 | uint32(trailer[6])<<16 | uint32(trailer[7])<<24
			wantSize := uint32(uint64(len(data)) % (1 << 32))
			if gotSize != wantSize {
				t.Errorf("ISIZE: got %d, want %d", gotSize, wantSize)
			}
		})
	}
}

// TestEmptyInput is scenario/invariant 7: compressing an empty byte
// string yields a valid gzip stream decompressing to empty, with
// CRC=0 and ISIZE=0.
func TestEmptyInput(t *testing.T) {
	compressed := compressAll(t, nil)
	got := gunzipAll(t, compressed)
	if len(got) != 0 {
		t.Fatalf("expected empty output, got %d bytes", len(got))
	}
	trailer := compressed[len(compressed)-8:]
	for i, b := range trailer {
		if b != 0 {
			t.Errorf("trailer byte %d: got %#x, want 0", i, b)
		}
	}
}

// TestWorkerCountInvariance is invariant 6 and scenario S7: varying
// worker count over the same input yields byte-identical output.
func TestWorkerCountInvariance(t *testing.T) {
	data := make([]byte, 400_000)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	var baseline []byte
	for _, workers := range []int{1, 2, 4, 16} {
		got := compressAll(t, data, pgzip.WithBlockSizeKB(8), pgzip.WithWorkers(workers))
		if baseline == nil {
			baseline = got
			continue
		}
		if !bytes.Equal(got, baseline) {
			t.Errorf("workers=%d produced different output than the baseline", workers)
		}
	}
}

// TestTwoBlockBoundary is scenario S3: an input of exactly two blocks
// produces exactly two DEFLATE segments, the first ending in the
// sync-flush marker and the second not.
func TestTwoBlockBoundary(t *testing.T) {
	const blockSizeKB = 1
	data := bytes.Repeat([]byte("y"), 2*blockSizeKB*1000)

	compressed := compressAll(t, data, pgzip.WithBlockSizeKB(blockSizeKB), pgzip.WithWorkers(1))

	body := compressed[10 : len(compressed)-8]
	idx := bytes.Index(body, []byte{0x00, 0x00, 0xff, 0xff})
	if idx == -1 {
		t.Fatalf("expected a sync-flush marker between the two blocks")
	}
	if bytes.Contains(body[idx+4:], []byte{0x00, 0x00, 0xff, 0xff}) {
		t.Errorf("found a second sync-flush marker; final block must not carry one")
	}

	got := gunzipAll(t, compressed)
	if !bytes.Equal(got, data) {
		t.Errorf("round trip failed across the two-block boundary")
	}
}

// TestDeterministicFraming is invariant 5: header, trailer, and block
// boundaries are deterministic for a fixed configuration.
func TestDeterministicFraming(t *testing.T) {
	data := bytes.Repeat([]byte("deterministic"), 10000)
	a := compressAll(t, data, pgzip.WithBlockSizeKB(4), pgzip.WithWorkers(3))
	b := compressAll(t, data, pgzip.WithBlockSizeKB(4), pgzip.WithWorkers(3))
	if !bytes.Equal(a, b) {
		t.Errorf("two compressions of the same input with the same config diverged")
	}
}

func TestInvalidOptions(t *testing.T) {
	cases := []struct {
		name  string
		level int
	}{
		{"too-high", 20},
		{"too-low", 0},
		{"negative", -2}, // flate.HuffmanOnly; valid for flate, invalid per this package's [1, 9]
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := pgzip.Compress(context.Background(), &bytes.Buffer{}, bytes.NewReader(nil), pgzip.Metadata{}, pgzip.WithLevel(c.level))
			if err == nil {
				t.Errorf("expected an error for compression level %d", c.level)
			}
		})
	}
}

// TestCompressFileInputNotFound is scenario "InputNotFound" (§6, §7):
// construction fails immediately when the input path does not exist.
func TestCompressFileInputNotFound(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "does-not-exist")

	_, err := pgzip.CompressFile(context.Background(), missing)
	if err == nil {
		t.Fatal("expected an error for a missing input path")
	}
	var perr *pgzip.Error
	if !errors.As(err, &perr) || perr.Kind != pgzip.InputNotFound {
		t.Errorf("got %v, want Kind InputNotFound", err)
	}
}

// TestCompressFileUnsupportedInput is scenario "UnsupportedInput" (§6,
// §7): construction fails immediately when the input path is a
// directory.
func TestCompressFileUnsupportedInput(t *testing.T) {
	dir := t.TempDir()

	_, err := pgzip.CompressFile(context.Background(), dir)
	if err == nil {
		t.Fatal("expected an error for a directory input")
	}
	var perr *pgzip.Error
	if !errors.As(err, &perr) || perr.Kind != pgzip.UnsupportedInput {
		t.Errorf("got %v, want Kind UnsupportedInput", err)
	}
}

// chdir switches the working directory for the duration of the test,
// since CompressFile writes its output relative to the cwd.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

// TestCompressFileRemovesPartialOutputOnFailure is §7's partial-output
// cleanup policy: a failure after
// the output file has been created must not leave a partial gzip
// stream behind.
func TestCompressFileRemovesPartialOutputOnFailure(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	inputPath := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(inputPath, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := pgzip.CompressFile(context.Background(), inputPath, pgzip.WithLevel(20)); err == nil {
		t.Fatal("expected an error for an invalid compression level")
	}

	if _, statErr := os.Stat(filepath.Join(dir, "input.txt.gz")); !os.IsNotExist(statErr) {
		t.Errorf("expected the partial output file to be removed, stat err = %v", statErr)
	}
}

// TestCompressFileRoundTrip exercises the success path end-to-end:
// CompressFile produces a named output file in the cwd that
// decompresses back to the original input.
func TestCompressFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	data := []byte("round trip through CompressFile\n")
	inputPath := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		t.Fatal(err)
	}

	outputPath, err := pgzip.CompressFile(context.Background(), inputPath)
	if err != nil {
		t.Fatalf("CompressFile: %v", err)
	}
	if outputPath != "input.txt.gz" {
		t.Errorf("outputPath: got %q, want %q", outputPath, "input.txt.gz")
	}

	compressed, err := os.ReadFile(filepath.Join(dir, outputPath))
	if err != nil {
		t.Fatal(err)
	}
	got := gunzipAll(t, compressed)
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch: got %q, want %q", got, data)
	}
}
