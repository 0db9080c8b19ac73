// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package collector implements the garbage collectors of the heap:
// mark-sweep (optionally concurrent), semi-space and concurrent
// copying, plus the compaction run before the zygote forks.
//
// A collector sees the heap through the Heap interface. Every run is
// bracketed by the heap's GC coordination; the collector suspends and
// resumes mutators itself and accounts each pause.
package collector

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// Heap is what the collectors need from the heap.
type Heap interface {
	Logger() *slog.Logger
	Classes() *mirror.ClassTable
	Memory() space.Memory

	// ContinuousSpaces returns the continuous spaces in address order.
	ContinuousSpaces() []space.ContinuousSpace
	LargeObjectSpace() *space.LargeObjectSpace // nil if disabled
	NonMovingSpace() *space.MallocSpace
	BumpPointerSpace() *space.BumpPointerSpace // nil unless semi-space
	TempSpace() *space.BumpPointerSpace
	SwapSemiSpaces()
	RegionSpace() *space.RegionSpace // nil unless concurrent copying

	CardTable() *accounting.CardTable
	LiveBitmap() *accounting.HeapBitmap
	MarkBitmap() *accounting.HeapBitmap
	AllocationStack() *accounting.ObjectStack
	LiveStack() *accounting.ObjectStack
	SwapStacks()
	// MarkAllocStackAsLive sets the live bit of every object on stack.
	MarkAllocStackAsLive(stack *accounting.ObjectStack)

	// VisitRoots calls fn for every root slot. Mutators must be suspended.
	VisitRoots(fn func(root *mirror.Address))
	SuspendAll(cause string)
	ResumeAll()
	RevokeAllThreadLocalBuffers()
	// RecordFree lowers the heap's allocation counters.
	RecordFree(objects, bytes int64)

	ParallelGCThreads() int
	ConcGCThreads() int

	PreGcVerification(gc GarbageCollector)
	PreSweepingVerification(gc GarbageCollector)
	PostGcVerification(gc GarbageCollector)
}

// A GarbageCollector runs collections of one kind.
type GarbageCollector interface {
	Name() string
	CollectorType() CollectorType
	GcType() GcType
	// IsConcurrent reports whether mutators run during part of a
	// collection.
	IsConcurrent() bool
	// Run performs one collection and returns its record.
	Run(cause GcCause, clearSoftReferences bool) Iteration
	CurrentIteration() *Iteration
	Stats() Stats
	ResetCumulativeStatistics()
	DumpPerformanceInfo(w io.Writer)
}

// collector holds what every collector shares: the current iteration,
// cumulative statistics and the pause and worker helpers.
type collector struct {
	name string
	heap Heap
	log  *slog.Logger

	current Iteration
	cum     *cumulative

	// workerTime accumulates busy time of parallel workers.
	workerTime atomic.Int64
	// waitTime accumulates the time the collector waited for them.
	waitTime atomic.Int64

	paused bool
	// serial makes parallel run its tasks one after another, for
	// collectors whose marking moves objects.
	serial bool
}

func (c *collector) init(h Heap, name string) {
	c.name, c.heap, c.cum = name, h, newCumulative()
	c.log = h.Logger().With("collector", name)
}

func (c *collector) Name() string                       { return c.name }
func (c *collector) CurrentIteration() *Iteration       { return &c.current }
func (c *collector) Stats() Stats                       { return c.cum.snapshot() }
func (c *collector) ResetCumulativeStatistics()         { c.cum.reset() }
func (c *collector) memory() space.Memory               { return c.heap.Memory() }
func (c *collector) classes() *mirror.ClassTable        { return c.heap.Classes() }
func (c *collector) cards() *accounting.CardTable       { return c.heap.CardTable() }
func (c *collector) markBitmap() *accounting.HeapBitmap { return c.heap.MarkBitmap() }

// run frames one collection around phases.
func (c *collector) run(gcType GcType, cause GcCause, clearSoftReferences bool, phases func()) Iteration {
	c.current.reset(gcType, cause, clearSoftReferences)
	c.workerTime.Store(0)
	c.waitTime.Store(0)
	phases()
	it := &c.current
	it.Duration = time.Since(it.Start)
	it.CPUTime = it.Duration + time.Duration(c.workerTime.Load()-c.waitTime.Load())
	c.cum.add(it)
	return *it
}

// pause runs fn with every mutator suspended and records the pause.
func (c *collector) pause(fn func()) {
	start := time.Now()
	c.heap.SuspendAll(c.name)
	c.paused = true
	fn()
	c.paused = false
	c.heap.ResumeAll()
	c.current.Pauses = append(c.current.Pauses, time.Since(start))
}

// timing starts a split; calling the result ends it.
func (c *collector) timing(name string) func() {
	start := time.Now()
	return func() {
		c.current.Timings = append(c.current.Timings, Split{name, time.Since(start)})
	}
}

// parallel runs tasks on a bounded pool and waits for them. The pool
// is ParallelGCThreads wide in a pause and ConcGCThreads wide outside.
func (c *collector) parallel(tasks []func()) {
	if c.serial {
		for _, task := range tasks {
			task()
		}
		return
	}
	n := c.heap.ConcGCThreads()
	if c.paused {
		n = c.heap.ParallelGCThreads()
	}
	start := time.Now()
	var g errgroup.Group
	g.SetLimit(max(n, 1))
	for _, task := range tasks {
		g.Go(func() error {
			t := time.Now()
			task()
			c.workerTime.Add(int64(time.Since(t)))
			return nil
		})
	}
	g.Wait()
	c.waitTime.Add(int64(time.Since(start)))
}

// recordFree accounts freed objects in the iteration and the heap.
func (c *collector) recordFree(objects, bytes int64) {
	c.current.recordFree(objects, bytes)
	c.heap.RecordFree(objects, bytes)
}

func (c *collector) recordFreeLOS(objects, bytes int64) {
	c.current.recordFreeLOS(objects, bytes)
	c.heap.RecordFree(objects, bytes)
}

func (c *collector) DumpPerformanceInfo(w io.Writer) {
	s := c.Stats()
	if s.Iterations == 0 {
		return
	}
	fmt.Fprintf(w, "%s total time: %v mean time: %v\n", c.name, s.TotalTime, s.TotalTime/time.Duration(s.Iterations))
	fmt.Fprintf(w, "%s freed: %d objects with total size %d\n", c.name, s.TotalFreedObjects, s.TotalFreedBytes)
	fmt.Fprintf(w, "%s throughput: %d/s mean pause %v 99%% %v max %v\n", c.name,
		s.MeanThroughput, s.PauseMean, s.Pause99, s.PauseMax)
	fmt.Fprintf(w, "%s total paused: %v cpu: %v\n", c.name, s.TotalPausedTime, s.TotalCPUTime)
	c.cum.dump(w, c.name)
}

// swapBitmaps swaps the live and mark bitmaps of a space and keeps the
// heap's aggregations in step.
func (c *collector) swapBitmaps(s swappable) {
	live, mark := s.LiveBitmap(), s.MarkBitmap()
	c.heap.LiveBitmap().ReplaceBitmap(live, mark)
	c.heap.MarkBitmap().ReplaceBitmap(mark, live)
	s.SwapBitmaps()
}

type swappable interface {
	space.ContinuousSpace
	SwapBitmaps()
}

func (c *collector) swapLargeObjectBitmaps(los *space.LargeObjectSpace) {
	live, mark := los.LiveBitmap(), los.MarkBitmap()
	c.heap.LiveBitmap().ReplaceLargeObjectBitmap(live, mark)
	c.heap.MarkBitmap().ReplaceLargeObjectBitmap(mark, live)
	los.SwapBitmaps()
}

// bindLiveToMark makes a malloc space's mark bitmap alias its live one.
func (c *collector) bindLiveToMark(s *space.MallocSpace) {
	if s.HasBoundBitmaps() {
		return
	}
	c.heap.MarkBitmap().ReplaceBitmap(s.MarkBitmap(), s.LiveBitmap())
	s.BindLiveToMarkBitmap()
}

func (c *collector) unbindBitmaps(s *space.MallocSpace) {
	if !s.HasBoundBitmaps() {
		return
	}
	bound := s.MarkBitmap()
	s.UnBindBitmaps()
	c.heap.MarkBitmap().ReplaceBitmap(bound, s.MarkBitmap())
}

// clearMarkBitmaps clears the mark bitmaps of the collected spaces.
func (c *collector) clearMarkBitmaps(spaces []space.ContinuousSpace) {
	var tasks []func()
	for _, s := range spaces {
		if b := s.MarkBitmap(); b != nil && b != s.LiveBitmap() {
			tasks = append(tasks, b.ClearAll)
		}
	}
	if los := c.heap.LargeObjectSpace(); los != nil {
		tasks = append(tasks, los.MarkBitmap().ClearAll)
	}
	c.parallel(tasks)
}
