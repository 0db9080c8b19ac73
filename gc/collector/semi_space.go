// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collector

import (
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// SemiSpace copies the live objects of the bump pointer space into the
// empty temp space within one pause and then flips the two. Objects in
// the non-moving and large object spaces are marked in place and swept.
// The image and zygote spaces are immune.
type SemiSpace struct {
	collector

	immune   immuneSpaces
	t        *tracer
	from, to *space.BumpPointerSpace
	fallback *space.MallocSpace
	m        space.Memory

	movedObjects, movedBytes       int64
	promotedObjects, promotedBytes int64
}

func NewSemiSpace(h Heap) *SemiSpace {
	ss := new(SemiSpace)
	ss.init(h, "semispace")
	ss.serial = true
	return ss
}

func (ss *SemiSpace) GcType() GcType               { return GcTypePartial }
func (ss *SemiSpace) CollectorType() CollectorType { return CollectorTypeSS }
func (ss *SemiSpace) IsConcurrent() bool           { return false }

func (ss *SemiSpace) Run(cause GcCause, clearSoftReferences bool) Iteration {
	return ss.run(GcTypePartial, cause, clearSoftReferences, ss.runPhases)
}

func (ss *SemiSpace) runPhases() {
	h := ss.heap
	ss.pause(func() {
		h.PreGcVerification(ss)
		h.RevokeAllThreadLocalBuffers()
		ss.initializePhase()
		ss.markingPhase()
		h.PreSweepingVerification(ss)
		ss.reclaimPhase()
	})
	h.PostGcVerification(ss)
	ss.finishPhase()
}

func (ss *SemiSpace) initializePhase() {
	h := ss.heap
	ss.immune.reset()
	ss.from, ss.to = h.BumpPointerSpace(), h.TempSpace()
	ss.fallback = h.NonMovingSpace()
	ss.m = ss.memory()
	ss.t = newTracer(ss.m, ss.classes(), ss.markObject)
	ss.movedObjects, ss.movedBytes = 0, 0
	ss.promotedObjects, ss.promotedBytes = 0, 0
	for _, s := range h.ContinuousSpaces() {
		if p := s.GcRetentionPolicy(); p == space.NeverCollect || p == space.FullCollect {
			ss.immune.add(s)
		}
	}
}

func (ss *SemiSpace) markingPhase() {
	h := ss.heap
	func() {
		defer ss.timing("ProcessCards")()
		ss.processCards(true)
	}()
	func() {
		defer ss.timing("SwapStacks")()
		h.SwapStacks()
		live := h.LiveStack()
		h.MarkAllocStackAsLive(live)
		live.Reset()
	}()
	func() {
		defer ss.timing("MarkRoots")()
		h.VisitRoots(ss.t.markRoot)
	}()
	for _, s := range ss.immune.spaces {
		ss.scanSpace(ss.t, s, s.LiveBitmap())
	}
	func() {
		defer ss.timing("ProcessMarkStack")()
		ss.t.drain()
	}()
}

// markObject forwards from-space objects and marks the others.
func (ss *SemiSpace) markObject(ref mirror.Address, push func(mirror.Address)) mirror.Address {
	switch {
	case ss.from.HasAddress(ref):
		to, size := forward(ss.m, ss.classes(), ref, ss.allocTo)
		if to == 0 {
			to, size = forward(ss.m, ss.classes(), ref, ss.allocFallback)
			if to == 0 {
				panic("collector: semispace ran out of room evacuating " + ref.String())
			}
		}
		if size != 0 {
			push(to)
		}
		return to
	case ss.to.HasAddress(ref), ss.immune.contains(ref):
		return ref
	}
	mb := ss.markBitmap()
	if !mb.Covers(ref) {
		badReference(ref)
	}
	if !mb.Set(ref) {
		push(ref)
	}
	return ref
}

func (ss *SemiSpace) allocTo(n uintptr) mirror.Address {
	to := ss.to.AllocNonvirtual(n)
	if to != 0 {
		ss.movedObjects++
		ss.movedBytes += int64(n)
	}
	return to
}

// allocFallback puts an object that does not fit the to-space into the
// non-moving space. It is marked so the sweep keeps it.
func (ss *SemiSpace) allocFallback(n uintptr) mirror.Address {
	to, allocated := ss.fallback.AllocWithGrowth(nil, n)
	if to == 0 {
		return 0
	}
	ss.fallback.MarkBitmap().Set(to)
	ss.promotedObjects++
	ss.promotedBytes += int64(allocated)
	ss.log.Debug("promoting object to the non-moving space", "obj", to, "bytes", n)
	return to
}

func (ss *SemiSpace) reclaimPhase() {
	fromBytes := int64(ss.from.BytesAllocated())
	fromObjects := int64(ss.from.ObjectsAllocated())
	ss.current.MovedObjects = ss.movedObjects + ss.promotedObjects
	ss.current.MovedBytes = ss.movedBytes + ss.promotedBytes
	ss.recordFree(fromObjects-ss.current.MovedObjects, fromBytes-ss.current.MovedBytes)

	var spaces []space.ContinuousSpace
	for _, s := range ss.heap.ContinuousSpaces() {
		if !ss.immune.containsSpace(s) && s.LiveBitmap() != nil {
			spaces = append(spaces, s)
		}
	}
	swept := ss.sweepSpaces(spaces)
	ss.sweepLargeObjects()
	ss.swapSweptBitmaps(swept)

	func() {
		defer ss.timing("ResetFromSpace")()
		ss.from.Reset()
		ss.heap.SwapSemiSpaces()
	}()
}

func (ss *SemiSpace) finishPhase() {
	ss.clearMarkBitmaps(ss.heap.ContinuousSpaces())
	ss.t.markStack.Reset()
	ss.from, ss.to = nil, nil
}

var _ GarbageCollector = (*SemiSpace)(nil)
