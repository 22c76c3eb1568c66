// Copyright 2024 The Parallelgz Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pgzip

import (
	"container/heap"
	"context"
	"sync"
)

// compressedBlock is the result of running the block codec over a
// block. original is retained past compression because CRC-32 and
// ISIZE accounting happen in the writer, over the original bytes, in
// release order.
type compressedBlock struct {
	seq      int64
	original []byte
	deflate  []byte
	isLast   bool
}

// runWorkers starts n goroutines that each pull blocks from in,
// compress them at the given level, and push the result onto rb. It
// returns once in is closed and every worker has exited, or as soon as
// ctx is canceled.
func runWorkers(ctx context.Context, n int, level int, in <-chan block, rb *reorderBuffer) error {
	var wg sync.WaitGroup
	errCh := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := worker(ctx, level, in, rb); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func worker(ctx context.Context, level int, in <-chan block, rb *reorderBuffer) error {
	for {
		select {
		case b, ok := <-in:
			if !ok {
				return nil
			}
			deflate, err := compressBlock(level, b.data, b.isLast)
			if err != nil {
				return err
			}
			cb := compressedBlock{seq: b.seq, original: b.data, deflate: deflate, isLast: b.isLast}
			if !rb.push(ctx, cb) {
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reorderBuffer is a min-heap keyed by seq that lets workers complete
// out of order while the framer consumes strictly in order starting
// at zero. push is safe for concurrent callers; popNext has a single
// caller, the framer.
type reorderBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	heap   blockHeap
	closed bool
}

func newReorderBuffer() *reorderBuffer {
	rb := &reorderBuffer{}
	rb.cond = sync.NewCond(&rb.mu)
	return rb
}

// push inserts cb and wakes any waiter that may now be able to proceed.
// It returns false if the context was already canceled.
func (rb *reorderBuffer) push(ctx context.Context, cb compressedBlock) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	rb.mu.Lock()
	heap.Push(&rb.heap, cb)
	rb.mu.Unlock()
	rb.cond.Broadcast()
	return true
}

// popNext blocks until the head of the heap has the expected seq, then
// removes and returns it. It returns ok == false if the buffer has
// been closed for shutdown while waiting.
func (rb *reorderBuffer) popNext(expected int64) (cb compressedBlock, ok bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	for {
		if rb.closed {
			return compressedBlock{}, false
		}
		if len(rb.heap) > 0 && rb.heap[0].seq == expected {
			return heap.Pop(&rb.heap).(compressedBlock), true
		}
		rb.cond.Wait()
	}
}

// close unblocks any waiter in popNext, used during shutdown.
func (rb *reorderBuffer) close() {
	rb.mu.Lock()
	rb.closed = true
	rb.mu.Unlock()
	rb.cond.Broadcast()
}

type blockHeap []compressedBlock

func (h blockHeap) Len() int            { return len(h) }
func (h blockHeap) Less(i, j int) bool  { return h[i].seq < h[j].seq }
func (h blockHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *blockHeap) Push(x interface{}) { *h = append(*h, x.(compressedBlock)) }
func (h *blockHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
