// Copyright 2024 The Parallelgz Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package pgzip

import "fmt"

// Kind identifies the class of a failure reported by this package,
// following the taxonomy of the underlying compression pipeline.
type Kind int

const (
	// InputNotFound means the input path does not exist.
	InputNotFound Kind = iota
	// UnsupportedInput means the input path is a directory or otherwise
	// not a regular file.
	UnsupportedInput
	// IoRead means a read from the input failed mid-stream.
	IoRead
	// IoWrite means a write to the output failed.
	IoWrite
	// CodecError means the DEFLATE codec reported an internal error.
	CodecError
	// EncodingError means the FNAME field could not be represented in
	// Latin-1 and was silently omitted; this is informational only and
	// is never returned as a fatal error.
	EncodingError
)

func (k Kind) String() string {
	switch k {
	case InputNotFound:
		return "InputNotFound"
	case UnsupportedInput:
		return "UnsupportedInput"
	case IoRead:
		return "IoRead"
	case IoWrite:
		return "IoWrite"
	case CodecError:
		return "CodecError"
	case EncodingError:
		return "EncodingError"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying failure with the Kind that classifies it.
type Error struct {
	Kind Kind
	Path string
	Seq  int64
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("pgzip: %s: %s: %v", e.Kind, e.Path, e.Err)
	}
	if e.Seq >= 0 {
		return fmt.Sprintf("pgzip: %s: block %d: %v", e.Kind, e.Seq, e.Err)
	}
	return fmt.Sprintf("pgzip: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether err is a *Error of the given Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func newErr(kind Kind, path string, seq int64, err error) *Error {
	return &Error{Kind: kind, Path: path, Seq: seq, Err: err}
}
