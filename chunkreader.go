// Copyright 2024 The Parallelgz Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pgzip

import (
	"context"
	"io"
)

// block is a single chunk of original input bytes in the order the
// chunkReader produced it. isLast is set by the reader itself (see
// chunkReader for why), never inferred by a worker.
type block struct {
	seq    int64
	data   []byte
	isLast bool
}

// chunkReader is the single producer stage of the pipeline. It reads
// blockSize-byte chunks from src, assigns each a monotonic seq
// starting at zero, and submits them on out. It looks one read ahead
// of what it submits so that it can stamp isLast on the correct block
// itself instead of leaving that decision to a downstream worker
// racing against an end-of-input signal.
type chunkReader struct {
	src       io.Reader
	blockSize int
	out       chan<- block

	inputSize uint64
}

func newChunkReader(src io.Reader, blockSize int, out chan<- block) *chunkReader {
	return &chunkReader{src: src, blockSize: blockSize, out: out}
}

// run reads the entire input and submits blocks on r.out, closing it
// when done. It returns an *Error of Kind IoRead on a read failure
// other than io.EOF, or ctx.Err() if canceled. A completely empty
// input still yields exactly one synthetic block with seq 0 and
// isLast true, so the framer always has a final block to close the
// stream with.
func (r *chunkReader) run(ctx context.Context) error {
	defer close(r.out)

	pending, havePending, err := r.readOne()
	if err != nil {
		return err
	}
	if !havePending {
		select {
		case r.out <- block{seq: 0, isLast: true}:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	var seq int64
	for {
		next, haveNext, err := r.readOne()
		if err != nil {
			return err
		}
		b := block{seq: seq, data: pending, isLast: !haveNext}
		select {
		case r.out <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !haveNext {
			return nil
		}
		pending = next
		seq++
	}
}

// readOne reads a single blockSize chunk, returning ok == false at
// EOF with no bytes read.
func (r *chunkReader) readOne() (data []byte, ok bool, err error) {
	buf := make([]byte, r.blockSize)
	n, err := io.ReadFull(r.src, buf)
	switch {
	case err == nil:
		r.inputSize += uint64(n)
		return buf, true, nil
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		if n == 0 {
			return nil, false, nil
		}
		r.inputSize += uint64(n)
		return buf[:n], true, nil
	default:
		return nil, false, newErr(IoRead, "", r.seqHint(), err)
	}
}

// seqHint is best-effort context for an IoRead error; the reader does
// not track the in-progress seq separately from the loop above.
func (r *chunkReader) seqHint() int64 { return -1 }

// InputSize returns the number of original bytes read so far. It must
// only be read after the reader goroutine has exited (or, during
// normal operation, after observing the final block), matching the
// happens-before relationship the running byte counter depends on.
func (r *chunkReader) InputSize() uint64 { return r.inputSize }
