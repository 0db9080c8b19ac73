// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/MotorolaMobilityLLC/art-sub006/gc"
	"github.com/MotorolaMobilityLLC/art-sub006/metrics"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
	"github.com/MotorolaMobilityLLC/art-sub006/vm"
)

// Node fields.
const (
	nodeNext  = mirror.HeaderSize
	nodeValue = mirror.HeaderSize + mirror.ReferenceSize
)

type result struct {
	elapsed time.Duration
	nodes   atomic.Int64
	arrays  atomic.Int64
	bytes   atomic.Int64
	oom     atomic.Int64
}

func runWorkload(ctx context.Context, rt *vm.Runtime, cfg config) (*result, error) {
	l := rt.ClassLinker()
	node, err := l.DefineClass(rt.MainThread(), "LNode;", vm.ObjectDescriptor, mirror.Layout{RefFields: 1, PrimitiveBytes: 8})
	if err != nil {
		return nil, err
	}
	bytes := l.PrimitiveArrayClass(mirror.PrimByte)

	res := new(result)
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.workers; i++ {
		w := &worker{
			rt:    rt,
			self:  rt.AttachThread(fmt.Sprintf("worker-%d", i)),
			node:  node,
			bytes: bytes,
			cfg:   cfg,
			res:   res,
			rand:  rand.New(rand.NewPCG(uint64(i), uint64(start.UnixNano()))),
		}
		g.Go(func() error {
			defer w.self.Detach()
			return w.run(ctx)
		})
	}
	err = g.Wait()
	res.elapsed = time.Since(start)
	return res, err
}

type worker struct {
	rt    *vm.Runtime
	self  *gc.Thread
	node  *mirror.Class
	bytes *mirror.Class
	cfg   config
	res   *result
	rand  *rand.Rand
}

func (w *worker) run(ctx context.Context) error {
	self := w.self
	scope := self.OpenHandleScope()
	defer scope.Close()
	slots := make([]gc.Handle, w.cfg.live)
	for i := range slots {
		slots[i] = self.NewHandle(0)
	}
	for ctx.Err() == nil {
		var err error
		self.Runnable(func() { err = w.step(slots) })
		var oom *gc.OutOfMemoryError
		switch {
		case errors.As(err, &oom):
			w.res.oom.Add(1)
			for i := 0; i < len(slots); i += 2 {
				slots[i].Set(0)
			}
		case err != nil:
			return err
		}
	}
	return nil
}

// step allocates one object and stores it in a random slot.
func (w *worker) step(slots []gc.Handle) error {
	l, h := w.rt.ClassLinker(), w.rt.Heap()
	i := w.rand.IntN(len(slots))
	if w.cfg.maxArray > 0 && w.rand.IntN(4) == 0 {
		n := w.rand.IntN(w.cfg.maxArray + 1)
		a, err := l.AllocArray(w.self, w.bytes, n)
		if err != nil {
			return err
		}
		slots[i].Set(a)
		w.res.arrays.Add(1)
		w.res.bytes.Add(int64(mirror.SizeOf(h.Memory(), l.Classes(), a)))
		return nil
	}
	obj, err := l.AllocObject(w.self, w.node)
	if err != nil {
		return err
	}
	// Link to a node from another slot so the live set has some depth.
	if next := slots[w.rand.IntN(len(slots))].Get(); next != 0 && mirror.ClassOf(h.Memory(), l.Classes(), next) == w.node {
		h.SetFieldObject(w.self, obj, nodeNext, next)
	}
	h.SetField64(w.self, obj, nodeValue, w.rand.Uint64())
	slots[i].Set(obj)
	w.res.nodes.Add(1)
	w.res.bytes.Add(int64(w.node.ObjectSize()))
	return nil
}

func printResult(w io.Writer, r *result, s metrics.Summary) {
	p := message.NewPrinter(language.English)
	secs := r.elapsed.Seconds()
	p.Fprintf(w, "allocated %d nodes and %d arrays, %d bytes in %v (%.0f bytes/s)\n",
		r.nodes.Load(), r.arrays.Load(), r.bytes.Load(), r.elapsed.Round(time.Millisecond), float64(r.bytes.Load())/secs)
	p.Fprintf(w, "%d collections, %d out of memory errors\n", s.GCs, r.oom.Load())
	p.Fprintf(w, "pause mean %v, p50 %v, p99 %v, max %v\n", s.PauseMean, s.Pause50, s.Pause99, s.PauseMax)
}
