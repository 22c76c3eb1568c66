// Copyright 2024 The Parallelgz Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pgzip

import (
	"compress/flate"
	"fmt"
	"runtime"
)

const (
	defaultBlockSizeKB = 128
	defaultLevel       = flate.BestCompression
)

type options struct {
	level      int
	blockSize  int // bytes
	workers    int
	progressCh chan<- Progress
	verbose    bool
}

// Option configures a call to Compress or CompressFile.
type Option func(*options)

// WithLevel sets the DEFLATE compression level, in [1, 9]. The default
// is 9 (flate.BestCompression).
func WithLevel(level int) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithBlockSizeKB sets the target block size in decimal kilobytes
// (blockSizeKB * 1000 bytes). The default is 128.
func WithBlockSizeKB(blockSizeKB int) Option {
	return func(o *options) {
		o.blockSize = blockSizeKB * 1000
	}
}

// WithWorkers sets the number of worker goroutines used to compress
// blocks in parallel. The default is runtime.GOMAXPROCS(-1).
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithProgress sets a channel on which a Progress value is sent after
// each in-order block is written to the output. The channel is never
// closed by this package.
func WithProgress(ch chan<- Progress) Option {
	return func(o *options) {
		o.progressCh = ch
	}
}

// WithVerbose enables trace logging of the pipeline's internal stage
// transitions, in the style of a debug log rather than user output.
func WithVerbose(v bool) Option {
	return func(o *options) {
		o.verbose = v
	}
}

func newOptions(opts ...Option) (options, error) {
	o := options{
		level:     defaultLevel,
		blockSize: defaultBlockSizeKB * 1000,
		workers:   runtime.GOMAXPROCS(-1),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.level < 1 || o.level > flate.BestCompression {
		return options{}, fmt.Errorf("pgzip: invalid compression level %d", o.level)
	}
	if o.blockSize <= 0 {
		return options{}, fmt.Errorf("pgzip: invalid block size %d", o.blockSize)
	}
	if o.workers < 1 {
		return options{}, fmt.Errorf("pgzip: invalid worker count %d", o.workers)
	}
	return o, nil
}

// Progress reports the completion of a single in-order block. It is
// produced by the writer stage as blocks are released, not by
// individual workers.
type Progress struct {
	Seq        int64
	Original   int
	Compressed int
	Last       bool
}
