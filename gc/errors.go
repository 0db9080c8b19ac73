// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOutOfMemory is matched by every *OutOfMemoryError.
var ErrOutOfMemory = errors.New("gc: out of memory")

// An OutOfMemoryError reports an allocation that failed after every
// collection the heap could run.
type OutOfMemoryError struct {
	Bytes         uintptr // size of the failed allocation
	Allocator     AllocatorType
	FreeBytes     uintptr // target footprint minus bytes allocated
	UntilOOM      uintptr // growth limit minus bytes allocated
	Target        uintptr
	GrowthLimit   uintptr
	Fragmentation string // set when fragmentation explains the failure
}

func (e *OutOfMemoryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Failed to allocate a %d byte allocation with %d free bytes and %s until OOM, target footprint %d, growth limit %d",
		e.Bytes, e.FreeBytes, prettySize(uint64(e.UntilOOM)), e.Target, e.GrowthLimit)
	if e.Fragmentation != "" {
		b.WriteString("; ")
		b.WriteString(e.Fragmentation)
	}
	return b.String()
}

func (e *OutOfMemoryError) Is(target error) bool { return target == ErrOutOfMemory }

// A VerificationError describes heap corruption found by one of the
// verification passes. The heap panics with it.
type VerificationError struct {
	Phase    string // "pre-gc", "pre-sweeping", "post-gc" or "rosalloc"
	Failures int
	First    string
	Err      error
}

func (e *VerificationError) Error() string {
	msg := fmt.Sprintf("gc: %s heap verification failed with %d failures", e.Phase, e.Failures)
	if e.First != "" {
		msg += ": " + e.First
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerificationError) Unwrap() error { return e.Err }

// A ConfigError reports options the heap cannot be built from.
type ConfigError struct {
	Option string
	Msg    string
	Err    error
}

func (e *ConfigError) Error() string {
	s := "gc: invalid " + e.Option
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configErrorf(option, format string, args ...any) *ConfigError {
	return &ConfigError{Option: option, Msg: fmt.Sprintf(format, args...)}
}
