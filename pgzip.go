// Copyright 2024 The Parallelgz Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package pgzip implements a block-parallel, gzip-compatible
// compressor. An input byte stream is split into fixed-size blocks,
// the blocks are compressed concurrently across worker goroutines,
// and a single byte-exact RFC 1952 gzip stream is emitted whose
// concatenated DEFLATE payloads reconstruct the input losslessly.
//
// Decompression, directory recursion, and source-file deletion policy
// are the concern of callers, not of this package.
package pgzip

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	cerrors "cloudeng.io/errors"
	"github.com/grailbio/base/file"
	"golang.org/x/sync/errgroup"
)

// errShutdown is returned internally when a stage observes that the
// pipeline has been asked to stop rather than finish normally.
var errShutdown = errors.New("pgzip: shutdown")

// state is the coordinator's lifecycle, per the design's state
// machine: idle -> running -> draining -> done, with failed reachable
// from running or draining.
type state int32

const (
	stateIdle state = iota
	stateRunning
	stateDraining
	stateDone
	stateFailed
)

// session is the per-compression coordinator. It owns the dispatch
// channel, the reorder buffer, and the stage goroutines, and is
// discarded once the output is closed. No stage holds a reference back
// to the session; each is handed only the shared structures it needs.
type session struct {
	opts    options
	verbose bool
	state   int32 // atomic; holds a state value, set with setState
}

// State reports the coordinator's current lifecycle state. It is safe
// to call from any goroutine.
func (s *session) State() state { return state(atomic.LoadInt32(&s.state)) }

func (s *session) setState(st state) { atomic.StoreInt32(&s.state, int32(st)) }

// Compress reads src, compresses it in blockSize-sized chunks across
// opts' worker count, and writes a complete gzip stream to dst. meta
// supplies the header fields that come from the input file (mtime,
// name); callers synthesizing a stream from something other than a
// real file may leave Metadata zero.
func Compress(ctx context.Context, dst io.Writer, src io.Reader, meta Metadata, opts ...Option) error {
	o, err := newOptions(opts...)
	if err != nil {
		return err
	}
	s := &session{opts: o, verbose: o.verbose}
	s.setState(stateIdle)
	return s.run(ctx, dst, src, meta)
}

func (s *session) trace(format string, args ...interface{}) {
	if s.verbose {
		log.Printf(format, args...)
	}
}

// run starts the chunk reader, the worker pool and the framer as
// goroutines of one errgroup, in that order, and waits for all of them
// to return, reporting the first error. The framer is not started
// first: it writes the gzip header from its own goroutine, possibly
// after the reader has begun reading, and blocks wait in the dispatch
// channel and the reorder buffer until the framer consumes them.
func (s *session) run(ctx context.Context, dst io.Writer, src io.Reader, meta Metadata) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(stateRunning)

	dispatch := make(chan block, 2*s.opts.workers)
	rb := newReorderBuffer()
	reader := newChunkReader(src, s.opts.blockSize, dispatch)
	fr := newFramer(dst, rb, s.opts.progressCh)

	g, gctx := errgroup.WithContext(ctx)

	// The framer blocks inside rb.popNext, a plain condition-variable
	// wait with no ctx awareness, whenever the seq it is waiting on will
	// never arrive (e.g. the reader died mid-stream without ever
	// submitting a final block). Closing rb as soon as gctx is done -
	// whether because a stage errored or the caller's ctx was canceled -
	// is what wakes that wait; waiting for g.Wait() to return first
	// would deadlock, since g.Wait() cannot return until the framer does.
	go func() {
		<-gctx.Done()
		rb.close()
	}()

	g.Go(func() error {
		s.trace("reader: starting")
		err := reader.run(gctx)
		if err == nil {
			// The reader has submitted every block, the last one
			// carrying isLast=true: LastSeq is now published.
			s.setState(stateDraining)
		}
		s.trace("reader: done err=%v", err)
		return err
	})

	g.Go(func() error {
		s.trace("pool: starting %d workers", s.opts.workers)
		err := runWorkers(gctx, s.opts.workers, s.opts.level, dispatch, rb)
		s.trace("pool: done err=%v", err)
		return err
	})

	g.Go(func() error {
		s.trace("framer: starting")
		err := fr.run(meta, s.opts.level, reader.InputSize)
		s.trace("framer: done err=%v", err)
		return err
	})

	if err := g.Wait(); err != nil {
		s.setState(stateFailed)
		return err
	}
	s.setState(stateDone)
	return nil
}

// CompressFile compresses the file at inputPath and writes
// "<basename(inputPath)>.gz" in the current working directory,
// returning its path. It fails immediately with Kind InputNotFound if
// inputPath cannot be stat'ed, or UnsupportedInput if it is a
// directory; other kinds of non-regular file are not rejected here. On
// any other failure the partial output file is removed before
// returning.
func CompressFile(ctx context.Context, inputPath string, opts ...Option) (outputPath string, err error) {
	info, statErr := file.Stat(ctx, inputPath)
	if statErr != nil {
		return "", newErr(InputNotFound, inputPath, -1, statErr)
	}
	if info.IsDir() {
		return "", newErr(UnsupportedInput, inputPath, -1, errors.New("is a directory"))
	}

	in, err := file.Open(ctx, inputPath)
	if err != nil {
		return "", newErr(InputNotFound, inputPath, -1, err)
	}
	defer in.Close(ctx) //nolint:errcheck

	base := filepath.Base(inputPath)
	outputPath = base + ".gz"

	out, err := file.Create(ctx, outputPath)
	if err != nil {
		return "", newErr(IoWrite, outputPath, -1, err)
	}

	meta := Metadata{ModTime: info.ModTime().Unix(), HasModTime: true, Name: base}

	compressErr := Compress(ctx, out.Writer(ctx), in.Reader(ctx), meta, opts...)

	errs := &cerrors.M{}
	errs.Append(compressErr)
	errs.Append(out.Close(ctx))

	if errs.Err() != nil {
		// Best-effort cleanup: a partially written gzip stream is not a
		// useful artifact. Removal failures are subordinate to the
		// original error.
		errs.Append(os.Remove(outputPath))
		return "", errs.Err()
	}
	return outputPath, errs.Err()
}
