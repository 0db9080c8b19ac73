// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vm ties a heap to a class linker. A Runtime is the context
// object for a single managed heap: there is no process-wide instance.
package vm

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MotorolaMobilityLLC/art-sub006/gc"
)

type Config struct {
	Heap gc.Options
	// AOT selects the ahead-of-time class linker.
	AOT bool
}

// A Runtime owns a heap, its class linker and the main thread.
type Runtime struct {
	heap   *gc.Heap
	linker *ClassLinker
	aot    *AotClassLinker
	main   *gc.Thread
	log    *slog.Logger
}

// NewRuntime creates the heap and attaches the main thread to it.
func NewRuntime(cfg Config) (*Runtime, error) {
	r := &Runtime{}
	if cfg.AOT {
		r.aot = NewAotClassLinker()
		r.linker = r.aot.ClassLinker
	} else {
		r.linker = NewClassLinker()
	}
	h, err := gc.New(cfg.Heap, r.linker.Classes())
	if err != nil {
		return nil, err
	}
	r.heap = h
	r.log = h.Logger()
	r.main = h.AttachThread("main")
	if err := r.linker.Attach(r.main, h); err != nil {
		r.main.Detach()
		return nil, errors.Join(err, h.Close())
	}
	r.log.Debug("runtime started", "collector", h.CollectorType(), "classes", r.linker.Classes().Len())
	return r, nil
}

// NewRuntimeFromArgs parses runtime options such as -Xmx64m and
// -Xgc:CMS before creating the runtime.
func NewRuntimeFromArgs(args []string, logger *slog.Logger) (*Runtime, error) {
	o, err := gc.ParseOptions(args)
	if err != nil {
		return nil, fmt.Errorf("vm: %w", err)
	}
	if logger != nil {
		o.Logger = logger
	}
	return NewRuntime(Config{Heap: o})
}

func (r *Runtime) Heap() *gc.Heap            { return r.heap }
func (r *Runtime) ClassLinker() *ClassLinker { return r.linker }
func (r *Runtime) MainThread() *gc.Thread    { return r.main }

// AotClassLinker returns the ahead-of-time linker, or nil when the
// runtime was not created for AOT.
func (r *Runtime) AotClassLinker() *AotClassLinker { return r.aot }

// AttachThread registers a new mutator. Call Detach on it when done.
func (r *Runtime) AttachThread(name string) *gc.Thread { return r.heap.AttachThread(name) }

// Close detaches the main thread and releases the heap. Every other
// thread must be detached first.
func (r *Runtime) Close() error {
	r.main.Detach()
	return r.heap.Close()
}
