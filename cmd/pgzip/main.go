// Copyright 2024 The Parallelgz Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"cloudeng.io/cmdutil"
	"cloudeng.io/cmdutil/subcmd"
	"cloudeng.io/errors"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/parallelgz/pgzip"
	"github.com/schollz/progressbar/v2"
	"golang.org/x/crypto/ssh/terminal"
)

type compressFlags struct {
	Level       int    `subcmd:"level,9,'DEFLATE compression level, 1 (fastest) to 9 (best compression)'"`
	BlockSizeKB int    `subcmd:"block-size-kb,128,'target block size in KB; smaller values increase parallelism at the cost of ratio'"`
	Workers     int    `subcmd:"workers,,'number of worker goroutines, defaults to GOMAXPROCS'"`
	OutputFile  string `subcmd:"output,,'output file or s3 path, omit for stdout'"`
	ProgressBar bool   `subcmd:"progress,true,display a progress bar"`
	Verbose     bool   `subcmd:"verbose,false,verbose debug/trace information"`
}

var cmdSet *subcmd.CommandSet

func init() {
	defaults := map[string]interface{}{
		"workers": runtime.GOMAXPROCS(-1),
	}

	compressCmd := subcmd.NewCommand("compress",
		subcmd.MustRegisterFlagStruct(&compressFlags{}, defaults, nil),
		compress, subcmd.ExactlyNumArguments(1))
	compressCmd.Document(`compress a file into a gzip-compatible stream using a block-parallel pipeline. The input may be local or on S3.`)

	cmdSet = subcmd.NewCommandSet(compressCmd)
	cmdSet.Document(`compress files into gzip-compatible streams in parallel.`)

	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func progressBar(ctx context.Context, progressBarWr io.Writer, ch chan pgzip.Progress, size int64) {
	next := int64(0)
	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetBytes64(size),
		progressbar.OptionSetWriter(progressBarWr),
		progressbar.OptionSetPredictTime(true))
	bar.RenderBlank()
	for {
		select {
		case p, ok := <-ch:
			if !ok {
				fmt.Fprintf(progressBarWr, "\n")
				return
			}
			if p.Seq != next {
				log.Fatalf("out of sequence block %#v\n", p)
			}
			bar.Add(p.Original)
			next++
			if p.Last {
				fmt.Fprintf(progressBarWr, "\n")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func openInput(ctx context.Context, name string) (io.Reader, int64, int64, func(context.Context) error, error) {
	info, err := file.Stat(ctx, name)
	if err != nil {
		return nil, 0, 0, nil, err
	}
	f, err := file.Open(ctx, name)
	if err != nil {
		return nil, 0, 0, nil, err
	}
	return f.Reader(ctx), info.Size(), info.ModTime().Unix(), f.Close, nil
}

func createOutput(ctx context.Context, name string) (io.Writer, func(context.Context) error, error) {
	if len(name) == 0 {
		return os.Stdout,
			func(context.Context) error { return nil },
			nil
	}
	f, err := file.Create(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return f.Writer(ctx), f.Close, nil
}

func main() {
	cmdSet.MustDispatch(context.Background())
}

func optsFromFlags(cl *compressFlags) []pgzip.Option {
	opts := []pgzip.Option{
		pgzip.WithLevel(cl.Level),
		pgzip.WithBlockSizeKB(cl.BlockSizeKB),
		pgzip.WithVerbose(cl.Verbose),
	}
	if cl.Workers > 0 {
		opts = append(opts, pgzip.WithWorkers(cl.Workers))
	}
	return opts
}

// compress reads args[0] and writes a gzip-compatible stream to
// cl.OutputFile, or to stdout if it is empty. It streams through
// pgzip.Compress directly rather than pgzip.CompressFile, since the
// CLI (unlike the library's path-based entry point) must support
// writing to stdout and to an explicit output path or S3 URL.
func compress(ctx context.Context, values interface{}, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cl := values.(*compressFlags)
	cmdutil.HandleSignals(cancel, os.Interrupt)

	rd, size, modTime, readerCleanup, err := openInput(ctx, args[0])
	if err != nil {
		return err
	}
	defer readerCleanup(ctx) //nolint:errcheck

	wr, writerCleanup, err := createOutput(ctx, cl.OutputFile)
	if err != nil {
		return err
	}

	opts := optsFromFlags(cl)

	isTTY := terminal.IsTerminal(int(os.Stdout.Fd()))
	var progressCh chan pgzip.Progress
	if cl.ProgressBar && (len(cl.OutputFile) > 0 || !isTTY) {
		progressCh = make(chan pgzip.Progress, 16)
		opts = append(opts, pgzip.WithProgress(progressCh))
	}

	var (
		progressBarWg sync.WaitGroup
		progressBarWr = os.Stdout
	)
	if progressCh != nil {
		progressBarWg.Add(1)
		if !isTTY {
			progressBarWr = os.Stderr
		}
		go func() {
			progressBar(ctx, progressBarWr, progressCh, size)
			progressBarWg.Done()
		}()
	}

	meta := pgzip.Metadata{ModTime: modTime, HasModTime: true, Name: filepath.Base(args[0])}
	err = pgzip.Compress(ctx, wr, rd, meta, opts...)

	if progressCh != nil {
		close(progressCh)
		progressBarWg.Wait()
	}

	errs := &errors.M{}
	errs.Append(err)
	errs.Append(writerCleanup(ctx))
	return errs.Err()
}
