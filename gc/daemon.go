// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"container/heap"
	"sync"
	"time"

	"golang.org/x/net/trace"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
)

const (
	collectorTransitionWait = 5 * time.Second
	heapTrimWait            = 5 * time.Second
)

type taskKind uint8

const (
	taskConcurrentGC taskKind = iota
	taskCollectorTransition
	taskHeapTrim
)

var taskNames = [...]string{
	taskConcurrentGC:        "concurrent GC",
	taskCollectorTransition: "collector transition",
	taskHeapTrim:            "heap trim",
}

// A heapTask is work for the heap daemon, run at or after target.
type heapTask struct {
	kind   taskKind
	target time.Time
	seq    uint64
	index  int

	cause     collector.GcCause
	forceFull bool
}

// taskQueue orders tasks by target time, then by arrival.
type taskQueue []*heapTask

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if !q[i].target.Equal(q[j].target) {
		return q[i].target.Before(q[j].target)
	}
	return q[i].seq < q[j].seq
}
func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *taskQueue) Push(x any) {
	t := x.(*heapTask)
	t.index = len(*q)
	*q = append(*q, t)
}
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// taskProcessor is the heap daemon: one goroutine with its own Thread
// that runs concurrent GCs, collector transitions and trims.
type taskProcessor struct {
	h      *Heap
	thread *Thread
	events trace.EventLog

	mu      sync.Mutex
	tasks   taskQueue
	seq     uint64
	stopped bool
	// At most one transition and one trim are pending.
	transition *heapTask
	desired    collector.CollectorType
	trim       *heapTask

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

func newTaskProcessor(h *Heap) *taskProcessor {
	t := h.AttachThread("HeapTaskDaemon")
	t.daemon = true
	p := &taskProcessor{
		h:       h,
		thread:  t,
		events:  trace.NewEventLog("gc.HeapTaskDaemon", h.opts.ForegroundCollector.String()),
		desired: h.opts.ForegroundCollector,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *taskProcessor) add(t *heapTask) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	p.seq++
	t.seq = p.seq
	heap.Push(&p.tasks, t)
	p.signal()
	return true
}

// updateTargetLocked moves a queued task to a new run time.
func (p *taskProcessor) updateTargetLocked(t *heapTask, target time.Time) {
	if t.index < 0 {
		return
	}
	t.target = target
	heap.Fix(&p.tasks, t.index)
	p.signal()
}

func (p *taskProcessor) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *taskProcessor) loop() {
	defer close(p.done)
	for {
		p.mu.Lock()
		var next *heapTask
		wait := time.Duration(-1)
		if len(p.tasks) > 0 {
			if d := time.Until(p.tasks[0].target); d <= 0 {
				next = heap.Pop(&p.tasks).(*heapTask)
			} else {
				wait = d
			}
		}
		p.mu.Unlock()
		if next != nil {
			p.run(next)
			continue
		}
		var timer *time.Timer
		var timeout <-chan time.Time
		if wait >= 0 {
			timer = time.NewTimer(wait)
			timeout = timer.C
		}
		select {
		case <-p.wake:
		case <-timeout:
		case <-p.quit:
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (p *taskProcessor) run(t *heapTask) {
	h, self := p.h, p.thread
	start := time.Now()
	switch t.kind {
	case taskConcurrentGC:
		h.ConcurrentGC(self, t.cause, t.forceFull)
		h.concurrentPending.Store(false)
	case taskCollectorTransition:
		p.mu.Lock()
		desired := p.desired
		p.transition = nil
		p.mu.Unlock()
		h.doPendingCollectorTransition(self, desired)
	case taskHeapTrim:
		p.mu.Lock()
		p.trim = nil
		p.mu.Unlock()
		h.TrimSpaces(self)
	}
	p.events.Printf("%s took %v", taskNames[t.kind], time.Since(start))
}

// stop lets the running task finish and drops the queued ones.
func (p *taskProcessor) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()
	<-p.done
	p.thread.Detach()
	p.events.Finish()
}

// RequestConcurrentGC asks the daemon for a concurrent collection. It
// never blocks; a request while one is pending is dropped.
func (h *Heap) RequestConcurrentGC(self *Thread, cause collector.GcCause, forceFull bool) {
	if h.tasks == nil || !h.concurrentPending.CompareAndSwap(false, true) {
		return
	}
	if !h.tasks.add(&heapTask{kind: taskConcurrentGC, target: time.Now(), cause: cause, forceFull: forceFull}) {
		h.concurrentPending.Store(false)
	}
}

// ConcurrentGC runs the next planned collection unless one just ran. If
// the heap cannot run that type it escalates along the GC plan.
func (h *Heap) ConcurrentGC(self *Thread, cause collector.GcCause, forceFull bool) {
	if h.WaitForGcToComplete(cause, self) != collector.GcTypeNone {
		return
	}
	h.gcMu.Lock()
	next := h.nextGcType
	plan := h.gcPlan
	h.gcMu.Unlock()
	if forceFull && next == collector.GcTypeSticky {
		next = h.nonStickyGcType()
	}
	if h.CollectGarbageInternal(self, next, cause, false) != collector.GcTypeNone {
		return
	}
	for _, t := range plan {
		if t > next && h.CollectGarbageInternal(self, t, cause, false) != collector.GcTypeNone {
			return
		}
	}
}

// RequestCollectorTransition schedules a switch to desired after delay.
// A newer request replaces a pending one.
func (h *Heap) RequestCollectorTransition(desired collector.CollectorType, delay time.Duration) {
	p := h.tasks
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.desired == desired {
		p.mu.Unlock()
		return
	}
	p.desired = desired
	target := time.Now().Add(delay)
	if p.transition != nil {
		p.updateTargetLocked(p.transition, target)
		p.mu.Unlock()
		return
	}
	t := &heapTask{kind: taskCollectorTransition, target: target}
	p.transition = t
	p.mu.Unlock()
	if !p.add(t) {
		p.mu.Lock()
		p.transition = nil
		p.mu.Unlock()
	}
}

// RequestTrim schedules a trim of the heap's spaces.
func (h *Heap) RequestTrim(self *Thread) {
	p := h.tasks
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.trim != nil || p.stopped {
		p.mu.Unlock()
		return
	}
	t := &heapTask{kind: taskHeapTrim, target: time.Now().Add(heapTrimWait)}
	p.trim = t
	p.mu.Unlock()
	if !p.add(t) {
		p.mu.Lock()
		p.trim = nil
		p.mu.Unlock()
	}
}

// TrimSpaces gives the unused pages of the malloc spaces back to the
// OS. It holds off collections while it runs.
func (h *Heap) TrimSpaces(self *Thread) {
	var reclaimed, size uint64
	start := time.Now()
	self.suspended(func() {
		h.startGC(self, collector.GcCauseTrim, collector.CollectorTypeHeapTrim)
		defer h.FinishGC(self, collector.GcTypeNone)
		for _, s := range h.ContinuousSpaces() {
			ms, ok := s.(*space.MallocSpace)
			if !ok {
				continue
			}
			// Trimming dlmalloc holds its lock for long.
			if ms.IsRosAlloc() || !h.careAboutPauseTimes() {
				reclaimed += uint64(ms.Trim())
			}
			size += uint64(ms.Size())
		}
	})
	allocated := h.GetBytesAllocated()
	if h.largeObjectSpace != nil {
		allocated -= min(allocated, h.largeObjectSpace.BytesAllocated())
	}
	if h.bumpPointerSpace != nil {
		allocated -= min(allocated, h.bumpPointerSpace.BytesAllocated())
	}
	if h.regionSpace != nil {
		allocated -= min(allocated, h.regionSpace.BytesAllocated())
	}
	utilization := 0.0
	if size > 0 {
		utilization = float64(allocated) / float64(size)
	}
	h.log.Debug("heap trim", "duration", time.Since(start), "advised", prettySize(reclaimed),
		"utilization", int(100*utilization))
}
