// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
)

// stickyGcThroughputAdjustment weighs sticky throughput against the
// non-sticky collector when picking the next GC type.
const stickyGcThroughputAdjustment = 1.0

// ProcessState tells the heap whether pauses are user visible.
type ProcessState uint32

const (
	ProcessStateJankPerceptible ProcessState = iota
	ProcessStateJankImperceptible
)

func (s ProcessState) String() string {
	if s == ProcessStateJankImperceptible {
		return "JankImperceptible"
	}
	return "JankPerceptible"
}

// changeCollector switches the heap to collector type t and picks the
// allocators and GC plan that go with it. Mutators must be suspended
// unless the heap is not yet shared.
func (h *Heap) changeCollector(t collector.CollectorType) {
	h.gcMu.Lock()
	defer h.gcMu.Unlock()
	h.collectorType = t
	var alloc, nonMoving AllocatorType
	switch t {
	case collector.CollectorTypeMS, collector.CollectorTypeCMS:
		h.concurrentGC.Store(t == collector.CollectorTypeCMS)
		h.gcPlan = []collector.GcType{collector.GcTypeSticky, collector.GcTypePartial, collector.GcTypeFull}
		alloc = AllocatorTypeDlMalloc
		if h.mainSpace.IsRosAlloc() {
			alloc = AllocatorTypeRosAlloc
		}
		nonMoving = alloc
	case collector.CollectorTypeSS:
		h.concurrentGC.Store(false)
		h.gcPlan = []collector.GcType{collector.GcTypeFull}
		alloc = AllocatorTypeBumpPointer
		if h.opts.UseTLAB {
			alloc = AllocatorTypeTLAB
		}
		nonMoving = AllocatorTypeNonMoving
	case collector.CollectorTypeCC:
		h.concurrentGC.Store(true)
		h.gcPlan = []collector.GcType{collector.GcTypeFull}
		if h.ccYoung != nil {
			h.gcPlan = []collector.GcType{collector.GcTypeSticky, collector.GcTypeFull}
		}
		alloc = AllocatorTypeRegion
		if h.opts.UseTLAB {
			alloc = AllocatorTypeRegionTLAB
		}
		nonMoving = AllocatorTypeNonMoving
	default:
		panic("gc: cannot change to collector " + t.String())
	}
	h.currentAllocator.Store(uint32(alloc))
	h.currentNonMovingAllocator.Store(uint32(nonMoving))
	if h.concurrentGC.Load() {
		h.concurrentStartBytes.Store(max(h.maxAllowedFootprint.Load(), minConcurrentRemainingBytes) - minConcurrentRemainingBytes)
	} else {
		h.concurrentStartBytes.Store(^uint64(0))
	}
}

func (h *Heap) isGcConcurrent() bool { return h.concurrentGC.Load() }

// CollectorType returns the collector the heap currently runs.
func (h *Heap) CollectorType() collector.CollectorType {
	h.gcMu.Lock()
	defer h.gcMu.Unlock()
	return h.collectorType
}

// collectorForLocked picks the collector for t. h.gcMu must be held, so
// the young and full concurrent copying collectors never race.
func (h *Heap) collectorForLocked(t collector.GcType) collector.GarbageCollector {
	switch h.collectorType {
	case collector.CollectorTypeMS, collector.CollectorTypeCMS:
		i := 0
		if h.collectorType == collector.CollectorTypeCMS {
			i = 3
		}
		switch t {
		case collector.GcTypeSticky:
			return h.markSweeps[i]
		case collector.GcTypePartial:
			return h.markSweeps[i+1]
		}
		return h.markSweeps[i+2]
	case collector.CollectorTypeSS:
		return h.semiSpace
	case collector.CollectorTypeCC:
		if t == collector.GcTypeSticky && h.ccYoung != nil {
			return h.ccYoung
		}
		return h.ccFull
	}
	panic("gc: no collector for " + h.collectorType.String())
}

func (h *Heap) nonStickyGcType() collector.GcType {
	if h.HasZygoteSpace() {
		return collector.GcTypePartial
	}
	return collector.GcTypeFull
}

// WaitForGcToComplete blocks until no collection is running and returns
// the type of the last one it waited for, or GcTypeNone if it did not
// wait. Calling it from the thread running the collection panics.
func (h *Heap) WaitForGcToComplete(cause collector.GcCause, self *Thread) collector.GcType {
	var last collector.GcType
	self.suspended(func() {
		h.gcMu.Lock()
		defer h.gcMu.Unlock()
		last = h.waitForGcToCompleteLocked(cause, self)
	})
	return last
}

// waitForGcToCompleteLocked must be called with h.gcMu held and self not
// runnable.
func (h *Heap) waitForGcToCompleteLocked(cause collector.GcCause, self *Thread) collector.GcType {
	last := collector.GcTypeNone
	start := time.Now()
	for h.collectorTypeRunning != collector.CollectorTypeNone {
		if self != nil && h.gcRunningThread == self {
			panic(fmt.Sprintf("gc: %v waits for the %v it is running", self, h.collectorTypeRunning))
		}
		if self == nil || !self.daemon {
			// Someone other than the daemon waits: the collection blocks.
			h.runningCollectionIsBlocking = true
		}
		h.gcCond.Wait()
		last = h.lastGcType
	}
	wait := time.Since(start)
	h.totalWaitTime += wait
	if wait > h.opts.LongPauseLogThreshold {
		h.log.Info("WaitForGcToComplete blocked", "cause", cause, "for", wait)
	}
	return last
}

// startGC waits for the running collection and marks t as running.
// self must not be runnable.
func (h *Heap) startGC(self *Thread, cause collector.GcCause, t collector.CollectorType) {
	h.gcMu.Lock()
	defer h.gcMu.Unlock()
	h.startGCLocked(self, cause, t)
}

func (h *Heap) startGCLocked(self *Thread, cause collector.GcCause, t collector.CollectorType) {
	h.waitForGcToCompleteLocked(cause, self)
	h.collectorTypeRunning = t
	h.lastGcCause = cause
	h.gcRunningThread = self
}

// FinishGC ends the running collection and wakes its waiters. Pass
// GcTypeNone when the heap ran something other than a collection.
func (h *Heap) FinishGC(self *Thread, t collector.GcType) {
	h.gcMu.Lock()
	defer h.gcMu.Unlock()
	h.collectorTypeRunning = collector.CollectorTypeNone
	if t != collector.GcTypeNone {
		h.lastGcType = t
		h.gcCountLastWindow++
		if h.runningCollectionIsBlocking {
			h.blockingGcCount++
			h.blockingGcTime += h.lastGcIteration.Duration
			h.blockingGcCountLastWindow++
		}
		h.updateGcCountRateHistogramsLocked()
	}
	h.runningCollectionIsBlocking = false
	h.gcRunningThread = nil
	h.gcCond.Broadcast()
}

// updateGcCountRateHistogramsLocked records the GC counts of every
// window that ended since the last update.
func (h *Heap) updateGcCountRateHistogramsLocked() {
	now := time.Now()
	since := now.Sub(h.lastGcCountRateUpdate)
	if since < gcCountRateWindow {
		return
	}
	// The current collection belongs to the new window.
	h.gcCountRateHist.Add(float64(h.gcCountLastWindow - 1))
	blocking := h.blockingGcCountLastWindow
	if h.runningCollectionIsBlocking {
		blocking--
	}
	h.blockingGcCountRateHist.Add(float64(blocking))
	for i := int64(1); i < min(int64(since/gcCountRateWindow), gcCountRateMaxWindows); i++ {
		h.gcCountRateHist.Add(0)
		h.blockingGcCountRateHist.Add(0)
	}
	h.lastGcCountRateUpdate = now.Truncate(gcCountRateWindow)
	h.gcCountLastWindow = 1
	h.blockingGcCountLastWindow = 0
	if h.runningCollectionIsBlocking {
		h.blockingGcCountLastWindow = 1
	}
}

// CollectGarbage runs an explicit full collection.
func (h *Heap) CollectGarbage(self *Thread, clearSoftReferences bool) {
	// Even if a GC is running, run another one: the caller wants what is
	// dead now to be freed.
	h.WaitForGcToComplete(collector.GcCauseExplicit, self)
	h.CollectGarbageInternal(self, collector.GcTypeFull, collector.GcCauseExplicit, clearSoftReferences)
	h.RequestTrim(self)
}

// CollectGarbageInternal runs a collection of type t, or a different
// one if the heap cannot run t, and returns the type that ran. It
// returns GcTypeNone when no collection ran.
func (h *Heap) CollectGarbageInternal(self *Thread, t collector.GcType, cause collector.GcCause, clearSoftReferences bool) collector.GcType {
	ran := collector.GcTypeNone
	self.suspended(func() {
		ran = h.collectGarbageInternal(self, t, cause, clearSoftReferences)
	})
	return ran
}

func (h *Heap) collectGarbageInternal(self *Thread, t collector.GcType, cause collector.GcCause, clearSoftReferences bool) collector.GcType {
	h.gcMu.Lock()
	h.startGCLocked(self, cause, h.collectorType)
	if t == collector.GcTypePartial && !h.HasZygoteSpace() && !h.collectorType.IsMoving() {
		// Without a zygote space a partial GC is a full GC; let the
		// caller pick that explicitly.
		h.collectorTypeRunning = collector.CollectorTypeNone
		h.gcRunningThread = nil
		h.gcCond.Broadcast()
		h.gcMu.Unlock()
		return collector.GcTypeNone
	}
	if cause == collector.GcCauseForAlloc || cause == collector.GcCauseForNativeAlloc {
		h.runningCollectionIsBlocking = true
	}
	gc := h.collectorForLocked(t)
	h.gcMu.Unlock()

	bytesBefore := h.GetBytesAllocated()
	it := gc.Run(cause, clearSoftReferences)
	h.totalObjectsFreedEver.Add(uint64(it.FreedObjects + it.FreedLargeObjects))
	h.totalBytesFreedEver.Add(uint64(it.FreedBytes + it.FreedLargeObjectBytes))
	h.growForUtilization(gc, &it, bytesBefore)
	h.bytesAliveAfterGC.Store(h.GetBytesAllocated())
	h.oldNativeBytes.Store(h.nativeBytesRegistered.Load())
	h.gcsCompleted.Add(1)

	h.gcMu.Lock()
	h.lastGcIteration = it
	blocking := h.runningCollectionIsBlocking
	h.gcMu.Unlock()
	h.logGC(cause, gc, &it)
	h.FinishGC(self, it.GcType)
	h.notify(gc, &it, blocking)
	return it.GcType
}

// heapGrowthMultiplier scales the free space targets while pauses are
// visible to the user.
func (h *Heap) heapGrowthMultiplier() float64 {
	if !h.careAboutPauseTimes() || h.opts.LowMemoryMode {
		return 1.0
	}
	return h.opts.ForegroundHeapGrowthMultiplier
}

func (h *Heap) careAboutPauseTimes() bool {
	return ProcessState(h.processState.Load()) == ProcessStateJankPerceptible
}

// growForUtilization sets the footprint target after a collection and
// picks the next GC type and, for concurrent collectors, the byte count
// at which the next concurrent GC starts.
func (h *Heap) growForUtilization(ran collector.GarbageCollector, it *collector.Iteration, bytesBefore uint64) {
	allocated := h.GetBytesAllocated()
	multiplier := h.heapGrowthMultiplier()
	minFree := uint64(float64(h.opts.MinFree) * multiplier)
	maxFree := uint64(float64(h.opts.MaxFree) * multiplier)
	maxAllowed := h.maxAllowedFootprint.Load()

	var target uint64
	var next collector.GcType
	if it.GcType != collector.GcTypeSticky {
		delta := uint64(float64(allocated)/h.getTargetUtilization()) - allocated
		target = allocated + uint64(float64(delta)*multiplier)
		target = min(target, allocated+maxFree)
		target = max(target, allocated+minFree)
		next = collector.GcTypeSticky
	} else {
		nonSticky := h.nonStickyGcType()
		h.gcMu.Lock()
		other := h.collectorForLocked(nonSticky)
		h.gcMu.Unlock()
		st := other.Stats()
		// Keep running sticky GCs while they free as fast as the
		// non-sticky collector and the heap stays within its target.
		if float64(it.EstimatedThroughput())*stickyGcThroughputAdjustment >= float64(st.MeanThroughput) &&
			st.Iterations > 0 && allocated <= maxAllowed {
			next = collector.GcTypeSticky
		} else {
			next = nonSticky
		}
		if allocated+maxFree < maxAllowed {
			target = allocated + maxFree
		} else {
			target = max(allocated, maxAllowed)
		}
	}
	h.gcMu.Lock()
	h.nextGcType = next
	h.gcMu.Unlock()
	if h.opts.IgnoreMaxFootprint {
		return
	}
	h.SetIdealFootprint(target)
	if h.isGcConcurrent() {
		freed := uint64(it.FreedBytes + it.FreedLargeObjectBytes)
		var during uint64
		if allocated+freed > bytesBefore {
			during = allocated + freed - bytesBefore
		}
		remaining := uint64(float64(during) * it.Duration.Seconds())
		remaining = min(max(remaining, minConcurrentRemainingBytes), maxConcurrentRemainingBytes)
		footprint := h.maxAllowedFootprint.Load()
		if remaining > footprint {
			remaining = minConcurrentRemainingBytes
		}
		start := allocated
		if footprint > remaining {
			start = max(footprint-remaining, allocated)
		}
		h.concurrentStartBytes.Store(start)
	}
	h.log.Debug("heap growth", "collector", ran.Name(), "allocated", allocated, "target", target,
		"next", next, "concurrentStart", h.concurrentStartBytes.Load())
}

// SetIdealFootprint sets the footprint target, capped at GetMaxMemory.
func (h *Heap) SetIdealFootprint(footprint uint64) {
	h.maxAllowedFootprint.Store(min(footprint, h.GetMaxMemory()))
}

// logGC prints explicit and slow collections at info level.
func (h *Heap) logGC(cause collector.GcCause, gc collector.GarbageCollector, it *collector.Iteration) {
	logIt := cause == collector.GcCauseExplicit && h.opts.AlwaysLogExplicitGCs
	if !logIt && h.careAboutPauseTimes() {
		logIt = it.Duration > h.opts.LongGCLogThreshold ||
			(cause == collector.GcCauseForAlloc && it.Duration > h.opts.LongPauseLogThreshold)
		for _, p := range it.Pauses {
			logIt = logIt || p >= h.opts.LongPauseLogThreshold
		}
	}
	level := slog.LevelDebug
	if logIt {
		level = slog.LevelInfo
	}
	if !h.log.Enabled(context.Background(), level) {
		return
	}
	pauses := make([]string, len(it.Pauses))
	for i, p := range it.Pauses {
		pauses[i] = p.Truncate(time.Microsecond).String()
	}
	msg := fmt.Sprintf("%v %s GC freed %d(%s) AllocSpace objects, %d(%s) LOS objects, %d%% free, %s/%s, paused %s total %v",
		cause, gc.Name(),
		it.FreedObjects, prettySize(uint64(max(it.FreedBytes, 0))),
		it.FreedLargeObjects, prettySize(uint64(max(it.FreedLargeObjectBytes, 0))),
		h.GetPercentFree(), prettySize(h.GetBytesAllocated()), prettySize(h.GetTotalMemory()),
		strings.Join(pauses, ","), it.Duration.Truncate(time.Microsecond))
	args := []any{"type", it.GcType, "cause", cause}
	if h.opts.MeasureGCPerformance {
		for _, s := range it.Timings {
			args = append(args, s.Name, s.Duration)
		}
	}
	h.log.Log(context.Background(), level, msg, args...)
}

// GetBytesAllocated returns the bytes held by objects, TLABs included.
func (h *Heap) GetBytesAllocated() uint64 {
	return uint64(max(h.numBytesAllocated.Load(), 0))
}

// GetObjectsAllocated sums the objects of every allocation space. Objects
// in TLABs that are still in use are not counted.
func (h *Heap) GetObjectsAllocated() uint64 {
	var n uint64
	for _, s := range h.ContinuousSpaces() {
		switch s := s.(type) {
		case space.AllocSpace:
			n += s.ObjectsAllocated()
		case *space.ZygoteSpace:
			n += s.ObjectsAllocated()
		}
	}
	if h.largeObjectSpace != nil {
		n += h.largeObjectSpace.ObjectsAllocated()
	}
	return n
}

func (h *Heap) GetObjectsFreedEver() uint64 { return h.totalObjectsFreedEver.Load() }
func (h *Heap) GetBytesFreedEver() uint64   { return h.totalBytesFreedEver.Load() }

func (h *Heap) GetObjectsAllocatedEver() uint64 {
	return h.GetObjectsFreedEver() + h.GetObjectsAllocated()
}

func (h *Heap) GetBytesAllocatedEver() uint64 {
	return h.GetBytesFreedEver() + h.GetBytesAllocated()
}

// GetMaxMemory is the most the heap may grow to.
func (h *Heap) GetMaxMemory() uint64 {
	return max(h.GetBytesAllocated(), h.growthLimit.Load())
}

// GetTotalMemory is the current footprint target.
func (h *Heap) GetTotalMemory() uint64 {
	return max(h.maxAllowedFootprint.Load(), h.GetBytesAllocated())
}

func (h *Heap) GetFreeMemory() uint64 {
	total, allocated := h.GetTotalMemory(), h.GetBytesAllocated()
	if allocated > total {
		return 0
	}
	return total - allocated
}

func (h *Heap) GetPercentFree() int {
	return int(100 * float64(h.GetFreeMemory()) / float64(h.GetTotalMemory()))
}

// GrowthLimit returns how far the heap may grow before an allocation
// fails.
func (h *Heap) GrowthLimit() uint64 { return h.growthLimit.Load() }

// Capacity returns the reserved size of the allocation spaces.
func (h *Heap) Capacity() uint64 { return h.capacity.Load() }

// MaxAllowedFootprint returns the footprint target allocations are
// checked against.
func (h *Heap) MaxAllowedFootprint() uint64 { return h.maxAllowedFootprint.Load() }

// ConcurrentStartBytes returns the allocation level that wakes the
// concurrent collector.
func (h *Heap) ConcurrentStartBytes() uint64 { return h.concurrentStartBytes.Load() }

// LastGcType returns the type of the last completed collection.
func (h *Heap) LastGcType() collector.GcType {
	h.gcMu.Lock()
	defer h.gcMu.Unlock()
	return h.lastGcType
}

// NextGcType returns the type the next collection for allocation starts
// with.
func (h *Heap) NextGcType() collector.GcType {
	h.gcMu.Lock()
	defer h.gcMu.Unlock()
	return h.nextGcType
}

// GcCount returns the number of completed collections.
func (h *Heap) GcCount() uint32 { return h.gcsCompleted.Load() }

// ClearGrowthLimit lets the heap grow to its capacity.
func (h *Heap) ClearGrowthLimit(self *Thread) {
	h.criticalSection(self, collector.GcCauseNone, false, func() {
		h.growthLimit.Store(h.capacity.Load())
		for _, s := range h.ContinuousSpaces() {
			if ms, ok := s.(*space.MallocSpace); ok {
				ms.ClearGrowthLimit()
				ms.SetFootprintLimit(ms.Capacity())
			}
		}
	})
}

// ClampGrowthLimit gives the space beyond the growth limit back. The
// region space keeps its reservation.
func (h *Heap) ClampGrowthLimit(self *Thread) {
	h.criticalSection(self, collector.GcCauseNone, true, func() {
		h.capacity.Store(h.growthLimit.Load())
		for _, s := range h.ContinuousSpaces() {
			if ms, ok := s.(*space.MallocSpace); ok {
				ms.ClampGrowthLimit()
			}
		}
	})
}

// criticalSection runs fn while no collection can start. With suspend
// set, mutators are stopped as well.
func (h *Heap) criticalSection(self *Thread, cause collector.GcCause, suspend bool, fn func()) {
	self.suspended(func() {
		h.startGC(self, cause, collector.CollectorTypeCriticalSection)
		defer h.FinishGC(self, collector.GcTypeNone)
		if suspend {
			h.SuspendAll("critical section")
			defer h.ResumeAll()
		}
		fn()
	})
}

// TransitionCollector switches between compatible collectors, for
// example to the non-concurrent mark-sweep when the process is in the
// background.
func (h *Heap) TransitionCollector(self *Thread, desired collector.CollectorType) {
	current := h.CollectorType()
	if desired == current {
		return
	}
	if !compatibleCollectors(current, desired) {
		h.log.Warn("ignoring collector transition", "from", current, "to", desired)
		return
	}
	start := time.Now()
	before := h.GetBytesAllocated()
	h.criticalSection(self, collector.GcCauseCollectorTransition, true, func() {
		h.RevokeAllThreadLocalBuffers()
		h.changeCollector(desired)
	})
	h.log.Info("heap transition", "to", desired, "took", time.Since(start),
		"allocated", prettySize(before))
}

// UpdateProcessState schedules the collector transition for a process
// moving between the foreground and the background.
func (h *Heap) UpdateProcessState(state ProcessState) {
	old := ProcessState(h.processState.Swap(uint32(state)))
	if old == state {
		return
	}
	if state == ProcessStateJankPerceptible {
		h.RequestCollectorTransition(h.foregroundCollector, 0)
	} else {
		h.RequestCollectorTransition(h.backgroundCollector, collectorTransitionWait)
	}
}

func (h *Heap) ProcessState() ProcessState { return ProcessState(h.processState.Load()) }

// doPendingCollectorTransition runs on the daemon. A copying collector
// has nothing to switch to; it compacts the heap once instead.
func (h *Heap) doPendingCollectorTransition(self *Thread, desired collector.CollectorType) {
	if desired == h.CollectorType() && desired.IsMoving() {
		if !h.careAboutPauseTimes() {
			h.CollectGarbageInternal(self, collector.GcTypeFull, collector.GcCauseCollectorTransition, false)
		}
		return
	}
	h.TransitionCollector(self, desired)
	if !h.careAboutPauseTimes() {
		h.RequestTrim(self)
	}
}
