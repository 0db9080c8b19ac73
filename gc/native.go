// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
)

const (
	// NotifyNativeInterval is how many native registrations go by
	// between checks. Callers batching their own counts call
	// NotifyNativeAllocations once per interval instead.
	NotifyNativeInterval = 32

	// Registrations above checkImmediatelyThreshold bytes are checked
	// at once.
	checkImmediatelyThreshold = 300000

	// Native bytes are discounted against the Java heap: new ones by
	// half, those that survived the last GC almost entirely.
	newNativeDiscountFactor = 2
	oldNativeDiscountFactor = 65536

	// Past stopForNativeFactor times the target, a registering thread
	// waits for the GC it asked for.
	stopForNativeFactor = 4
)

// RegisterNativeAllocation records bytes of memory held outside the heap
// on behalf of heap objects, collecting when native memory grows
// faster than the heap is collected.
func (h *Heap) RegisterNativeAllocation(self *Thread, bytes uint64) {
	h.nativeBytesRegistered.Add(bytes)
	n := h.nativeObjectsNotified.Add(1) - 1
	if n%NotifyNativeInterval == NotifyNativeInterval-1 || bytes > checkImmediatelyThreshold {
		h.checkGCForNative(self)
	}
}

// RegisterNativeFree records that bytes of native memory were released.
// Frees beyond what was registered are ignored.
func (h *Heap) RegisterNativeFree(self *Thread, bytes uint64) {
	for {
		old := h.nativeBytesRegistered.Load()
		if h.nativeBytesRegistered.CompareAndSwap(old, old-min(old, bytes)) {
			return
		}
	}
}

// NotifyNativeAllocations accounts for NotifyNativeInterval unregistered
// native allocations and checks whether to collect.
func (h *Heap) NotifyNativeAllocations(self *Thread) {
	h.nativeObjectsNotified.Add(NotifyNativeInterval)
	h.checkGCForNative(self)
}

// NativeBytes returns the registered native bytes.
func (h *Heap) NativeBytes() uint64 { return h.nativeBytesRegistered.Load() }

// nativeAllocationGcWatermark is how much native memory may be added
// before it counts fully against the heap.
func (h *Heap) nativeAllocationGcWatermark() uint64 {
	return h.maxAllowedFootprint.Load()/8 + uint64(h.opts.MaxFree)
}

// NativeMemoryOverTarget returns the weighted size of the heap plus
// native memory relative to where a GC should start. A value of 1 or
// more asks for a collection.
func (h *Heap) NativeMemoryOverTarget(current uint64, concurrent bool) float64 {
	old := h.oldNativeBytes.Load()
	if old > current {
		// Native memory shrank; start over from here.
		h.oldNativeBytes.Store(current)
		return 0
	}
	weighted := (current-old)/newNativeDiscountFactor + old/oldNativeDiscountFactor
	allowed := uint64(float64(h.nativeAllocationGcWatermark()) * h.heapGrowthMultiplier())
	start := h.maxAllowedFootprint.Load()
	if concurrent {
		start = h.concurrentStartBytes.Load()
	}
	adjusted := start + allowed/newNativeDiscountFactor
	if adjusted < start {
		adjusted = ^uint64(0)
	}
	return float64(h.GetBytesAllocated()+weighted) / float64(adjusted)
}

func (h *Heap) checkGCForNative(self *Thread) {
	concurrent := h.isGcConcurrent()
	current := h.NativeBytes()
	urgency := h.NativeMemoryOverTarget(current, concurrent)
	if urgency < 1 {
		return
	}
	if !concurrent {
		h.CollectGarbageInternal(self, h.nonStickyGcType(), collector.GcCauseForNativeAlloc, false)
		return
	}
	h.RequestConcurrentGC(self, collector.GcCauseForNativeAlloc, true)
	if urgency > stopForNativeFactor && current > h.opts.StopForNativeAllocs {
		h.log.Info("stopping for native allocation", "urgency", urgency, "native", prettySize(current))
		h.WaitForGcToComplete(collector.GcCauseForNativeAlloc, self)
	}
}
