// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"fmt"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	imath "github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// AllocatorType selects the space and path an allocation takes.
type AllocatorType uint32

const (
	AllocatorTypeBumpPointer AllocatorType = iota // shared bump pointer
	AllocatorTypeTLAB                             // thread-local bump pointer buffers
	AllocatorTypeRosAlloc
	AllocatorTypeDlMalloc
	AllocatorTypeNonMoving
	AllocatorTypeLOS
	AllocatorTypeRegion
	AllocatorTypeRegionTLAB
)

var allocatorNames = [...]string{
	AllocatorTypeBumpPointer: "BumpPointer",
	AllocatorTypeTLAB:        "TLAB",
	AllocatorTypeRosAlloc:    "RosAlloc",
	AllocatorTypeDlMalloc:    "DlMalloc",
	AllocatorTypeNonMoving:   "NonMoving",
	AllocatorTypeLOS:         "LOS",
	AllocatorTypeRegion:      "Region",
	AllocatorTypeRegionTLAB:  "RegionTLAB",
}

func (a AllocatorType) String() string {
	if int(a) < len(allocatorNames) {
		return allocatorNames[a]
	}
	return fmt.Sprintf("AllocatorType(%d)", a)
}

// hasAllocationStack reports whether objects from a must be pushed on
// the allocation stack. Bump pointer objects are found by walking the
// space instead.
func (a AllocatorType) hasAllocationStack() bool {
	switch a {
	case AllocatorTypeBumpPointer, AllocatorTypeTLAB, AllocatorTypeRegion, AllocatorTypeRegionTLAB:
		return false
	}
	return true
}

// mayHaveConcurrentGC reports whether the heap could collect the space
// behind a concurrently.
func (a AllocatorType) mayHaveConcurrentGC() bool {
	switch a {
	case AllocatorTypeBumpPointer, AllocatorTypeTLAB:
		return false
	}
	return true
}

func (h *Heap) CurrentAllocator() AllocatorType {
	return AllocatorType(h.currentAllocator.Load())
}

func (h *Heap) CurrentNonMovingAllocator() AllocatorType {
	return AllocatorType(h.currentNonMovingAllocator.Load())
}

// PreFenceVisitor initializes an object after its class word is set and
// before other threads or the collector can see it. usable is the
// number of bytes the object may use.
type PreFenceVisitor func(obj mirror.Address, usable uintptr)

// AllocObject allocates byteCount bytes of klass with the current
// allocator. klass is nil only while bootstrapping the class of classes.
func (h *Heap) AllocObject(self *Thread, klass *mirror.Class, byteCount uintptr, preFence PreFenceVisitor) (mirror.Address, error) {
	return h.AllocObjectWithAllocator(self, klass, byteCount, h.CurrentAllocator(), preFence)
}

// AllocNonMovableObject allocates an object the collectors never move.
func (h *Heap) AllocNonMovableObject(self *Thread, klass *mirror.Class, byteCount uintptr, preFence PreFenceVisitor) (mirror.Address, error) {
	return h.AllocObjectWithAllocator(self, klass, byteCount, h.CurrentNonMovingAllocator(), preFence)
}

// AllocObjectWithAllocator allocates with an explicit allocator. It
// returns the object, whose class word is set, or a nil address and an
// *OutOfMemoryError once every collection has failed to make room.
//
// The call is a safepoint: any address self holds outside a Handle may
// be stale when it returns.
func (h *Heap) AllocObjectWithAllocator(self *Thread, klass *mirror.Class, byteCount uintptr, allocator AllocatorType, preFence PreFenceVisitor) (mirror.Address, error) {
	self.enter()
	defer self.leave()
	self.checkSuspend()

	if klass == nil {
		if klass = h.classes.ClassClass(); klass == nil {
			panic("gc: allocation without a class before the class of classes is registered")
		}
	}
	if byteCount < mirror.HeaderSize {
		panic(fmt.Sprintf("gc: allocation of %d bytes is smaller than an object header", byteCount))
	}
	byteCount = imath.AlignUp(byteCount, mirror.ObjectAlignment)

	for {
		if h.ShouldAllocLargeObject(klass, byteCount) {
			allocator = AllocatorTypeLOS
		}
		obj, bytesAllocated, usable := h.TryToAllocate(self, allocator, byteCount, false)
		if obj == 0 {
			var err error
			obj, bytesAllocated, usable, err = h.allocateInternalWithGc(self, allocator, byteCount)
			if err != nil {
				return 0, err
			}
			if obj == 0 {
				// The collector changed under us. Start over with the
				// allocator of the same kind.
				if allocator == h.CurrentNonMovingAllocator() || allocator == AllocatorTypeNonMoving {
					allocator = h.CurrentNonMovingAllocator()
				} else {
					allocator = h.CurrentAllocator()
				}
				continue
			}
		}

		mem := h.mem
		mirror.SetClassID(mem, obj, klass.ID())
		if preFence != nil {
			preFence(obj, usable)
		}
		newBytes := h.numBytesAllocated.Add(int64(bytesAllocated))
		if h.opts.Instrumentation {
			self.stats.Objects++
			self.stats.Bytes += uint64(bytesAllocated)
			h.objectsAllocated.Add(1)
			h.bytesAllocated.Add(uint64(bytesAllocated))
		}
		if allocator.hasAllocationStack() {
			obj = h.pushOnAllocationStack(self, obj)
		}
		if allocator.mayHaveConcurrentGC() && h.isGcConcurrent() && uint64(newBytes) >= h.concurrentStartBytes.Load() {
			h.RequestConcurrentGC(self, collector.GcCauseBackground, false)
		}
		return obj, nil
	}
}

// ShouldAllocLargeObject reports whether an allocation belongs in the
// large object space. Only primitive arrays go there: the card table
// does not cover the space. Before the zygote space exists a large
// object would be swallowed by it.
func (h *Heap) ShouldAllocLargeObject(klass *mirror.Class, byteCount uintptr) bool {
	return h.largeObjectSpace != nil &&
		byteCount >= h.opts.LargeObjectThreshold &&
		h.HasZygoteSpace() &&
		klass.IsPrimitiveArray()
}

// TryToAllocate makes one attempt without collecting. It returns the
// object, the bytes charged to the heap (a whole buffer when a new TLAB
// was taken, 0 for an allocation inside the current one) and the usable
// size.
func (h *Heap) TryToAllocate(self *Thread, allocator AllocatorType, n uintptr, grow bool) (obj mirror.Address, bytesAllocated, usable uintptr) {
	tl := &self.tl
	switch allocator {
	case AllocatorTypeBumpPointer:
		if h.IsOutOfMemoryOnAllocation(allocator, n, grow) {
			return 0, 0, 0
		}
		obj, bytesAllocated = h.bumpPointerSpace.Alloc(tl, n)
		usable = bytesAllocated
	case AllocatorTypeTLAB:
		if tl.TLABRemaining() < n {
			size := n + defaultTLABSize
			if h.IsOutOfMemoryOnAllocation(allocator, size, grow) {
				return 0, 0, 0
			}
			if !h.bumpPointerSpace.AllocNewTLAB(tl, size) {
				return 0, 0, 0
			}
			bytesAllocated = imath.AlignUp(size, space.BumpPointerAlignment)
		}
		obj, usable = tl.AllocTLAB(n), n
	case AllocatorTypeRosAlloc, AllocatorTypeDlMalloc:
		obj, bytesAllocated, usable = h.mallocAlloc(h.mainSpace, allocator, tl, n, grow)
	case AllocatorTypeNonMoving:
		obj, bytesAllocated, usable = h.mallocAlloc(h.nonMovingSpace, allocator, tl, n, grow)
	case AllocatorTypeLOS:
		if h.IsOutOfMemoryOnAllocation(allocator, n, grow) {
			return 0, 0, 0
		}
		obj, bytesAllocated = h.largeObjectSpace.Alloc(nil, n)
		usable = bytesAllocated
	case AllocatorTypeRegion:
		if h.IsOutOfMemoryOnAllocation(allocator, n, grow) {
			return 0, 0, 0
		}
		obj, bytesAllocated = h.regionSpace.Alloc(tl, n)
		usable = n
	case AllocatorTypeRegionTLAB:
		if tl.TLABRemaining() >= n {
			return tl.AllocTLAB(n), 0, n
		}
		// Objects of a quarter region or more are not worth a buffer.
		if n < space.RegionSize/4 && !h.IsOutOfMemoryOnAllocation(allocator, space.RegionSize, grow) &&
			h.regionSpace.AllocNewTLAB(tl) {
			return tl.AllocTLAB(n), space.RegionSize, n
		}
		if h.IsOutOfMemoryOnAllocation(allocator, n, grow) {
			return 0, 0, 0
		}
		obj, bytesAllocated = h.regionSpace.Alloc(tl, n)
		usable = n
	default:
		panic("gc: unknown allocator " + allocator.String())
	}
	if obj == 0 {
		return 0, 0, 0
	}
	return obj, bytesAllocated, usable
}

func (h *Heap) mallocAlloc(s *space.MallocSpace, allocator AllocatorType, tl *space.ThreadLocal, n uintptr, grow bool) (mirror.Address, uintptr, uintptr) {
	if s == nil {
		panic("gc: no space for allocator " + allocator.String())
	}
	if h.IsOutOfMemoryOnAllocation(allocator, n, grow) {
		return 0, 0, 0
	}
	if !s.IsRosAlloc() {
		tl = nil
	}
	obj, allocated := s.Alloc(tl, n)
	if obj == 0 {
		return 0, 0, 0
	}
	return obj, allocated, s.AllocationSize(obj)
}

// IsOutOfMemoryOnAllocation reports whether allocating allocSize more
// bytes would exceed what the heap may use. With grow set, a footprint
// below the growth limit is raised to fit the allocation.
func (h *Heap) IsOutOfMemoryOnAllocation(allocator AllocatorType, allocSize uintptr, grow bool) bool {
	newFootprint := uint64(h.numBytesAllocated.Load()) + uint64(allocSize)
	for {
		old := h.maxAllowedFootprint.Load()
		if newFootprint <= old {
			return false
		}
		if newFootprint > h.growthLimit.Load() {
			return true
		}
		concurrent := allocator.mayHaveConcurrentGC() && h.isGcConcurrent()
		if !concurrent && !grow {
			return true
		}
		if !grow {
			// A concurrent GC will catch up.
			return false
		}
		if h.maxAllowedFootprint.CompareAndSwap(old, newFootprint) {
			h.log.Debug("growing heap for allocation", "from", old, "to", newFootprint, "allocator", allocator)
			return false
		}
	}
}

// allocateInternalWithGc is the slow path. It returns a nil address and
// error when the allocator changed and the caller must retry.
func (h *Heap) allocateInternalWithGc(self *Thread, allocator AllocatorType, n uintptr) (mirror.Address, uintptr, uintptr, error) {
	instrumented := h.opts.Instrumentation
	wasDefault := allocator == h.CurrentAllocator()
	changed := func() bool {
		return wasDefault && allocator != h.CurrentAllocator()
	}
	try := func(grow bool) (mirror.Address, uintptr, uintptr, bool) {
		if changed() {
			return 0, 0, 0, true
		}
		obj, b, u := h.TryToAllocate(self, allocator, n, grow)
		return obj, b, u, obj != 0
	}
	collect := func(t collector.GcType, clearSoft bool) bool {
		if instrumented {
			self.stats.GcForAlloc++
			h.gcForAlloc.Add(1)
		}
		return h.CollectGarbageInternal(self, t, collector.GcCauseForAlloc, clearSoft) != collector.GcTypeNone
	}

	// A running GC may already be freeing what we need.
	if last := h.WaitForGcToComplete(collector.GcCauseForAlloc, self); last != collector.GcTypeNone {
		if obj, b, u, done := try(false); done {
			return obj, b, u, nil
		}
	}

	h.gcMu.Lock()
	tried := h.nextGcType
	plan := h.gcPlan
	h.gcMu.Unlock()
	if tried != collector.GcTypeNone && collect(tried, false) {
		if obj, b, u, done := try(false); done {
			return obj, b, u, nil
		}
	}
	for _, t := range plan {
		if t == tried {
			continue
		}
		if collect(t, false) {
			if obj, b, u, done := try(false); done {
				return obj, b, u, nil
			}
		}
	}

	if obj, b, u, done := try(true); done {
		return obj, b, u, nil
	}
	// Last resort: the heaviest collection, clearing soft references.
	last := collector.GcTypeFull
	if len(plan) > 0 {
		last = plan[len(plan)-1]
	}
	h.log.Info("forcing collection of soft references", "bytes", n, "allocator", allocator)
	collect(last, true)
	if obj, b, u, done := try(true); done {
		return obj, b, u, nil
	}
	return 0, 0, 0, h.outOfMemory(self, allocator, n)
}

func (h *Heap) outOfMemory(self *Thread, allocator AllocatorType, n uintptr) error {
	allocated := uint64(max(h.numBytesAllocated.Load(), 0))
	target := h.maxAllowedFootprint.Load()
	limit := h.growthLimit.Load()
	e := &OutOfMemoryError{
		Bytes:       n,
		Allocator:   allocator,
		Target:      uintptr(target),
		GrowthLimit: uintptr(limit),
	}
	if target > allocated {
		e.FreeBytes = uintptr(target - allocated)
	}
	if limit > allocated {
		e.UntilOOM = uintptr(limit - allocated)
	}
	if e.FreeBytes >= n {
		switch allocator {
		case AllocatorTypeRosAlloc, AllocatorTypeDlMalloc, AllocatorTypeNonMoving:
			s := h.mainSpace
			if allocator == AllocatorTypeNonMoving {
				s = h.nonMovingSpace
			}
			if largest := s.LargestFreeContiguous(); largest < n {
				e.Fragmentation = fmt.Sprintf("failed due to fragmentation (largest possible contiguous allocation %d bytes)", largest)
			}
		case AllocatorTypeBumpPointer, AllocatorTypeTLAB:
			e.Fragmentation = fmt.Sprintf("failed due to fragmentation (required contiguous free %d bytes)", n)
		}
	}
	if h.opts.Instrumentation {
		self.stats.OOMs++
	}
	h.ooms.Add(1)
	h.log.Warn("throwing OutOfMemoryError", "thread", self, "err", e)
	return e
}

// pushOnAllocationStack records obj for the next sticky collection. A
// full stack is drained by a sticky GC; obj is kept in a handle while
// it runs and may come back moved.
func (h *Heap) pushOnAllocationStack(self *Thread, obj mirror.Address) mirror.Address {
	if h.allocStack.AtomicPushBack(obj) {
		return obj
	}
	scope := self.OpenHandleScope()
	defer scope.Close()
	hd := self.NewHandle(obj)
	for {
		h.CollectGarbageInternal(self, collector.GcTypeSticky, collector.GcCauseForAlloc, false)
		if obj = hd.Get(); h.allocStack.AtomicPushBack(obj) {
			return obj
		}
	}
}
