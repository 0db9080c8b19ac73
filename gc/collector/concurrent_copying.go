// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collector

import (
	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// ConcurrentCopying collects the region space by evacuation.
//
// The flip pause turns the regions being collected into from-space:
// every regular region for a full collection, only the regions
// allocated into since the last GC for a young one. Reachable
// from-space objects are copied into fresh to-space regions; large
// objects are marked where they are. Afterwards the from-space regions
// are freed. Evacuation finishes inside the pause, so mutators never
// see a from-space reference and no read barrier is needed.
//
// A young collection leaves the old regions, the non-moving space and
// the large objects allocated before the last GC alone, and finds their
// references into young regions through the dirty cards.
type ConcurrentCopying struct {
	collector

	young bool

	immune   immuneSpaces
	t        *tracer
	rs       *space.RegionSpace
	fallback *space.MallocSpace
	m        space.Memory

	movedObjects, movedBytes int64
}

func NewConcurrentCopying(h Heap, young bool) *ConcurrentCopying {
	name := "concurrent copying"
	if young {
		name = "young concurrent copying"
	}
	cc := &ConcurrentCopying{young: young}
	cc.init(h, name)
	cc.serial = true
	return cc
}

func (cc *ConcurrentCopying) CollectorType() CollectorType { return CollectorTypeCC }
func (cc *ConcurrentCopying) IsConcurrent() bool           { return true }
func (cc *ConcurrentCopying) IsYoung() bool                { return cc.young }

func (cc *ConcurrentCopying) GcType() GcType {
	if cc.young {
		return GcTypeSticky
	}
	return GcTypePartial
}

func (cc *ConcurrentCopying) Run(cause GcCause, clearSoftReferences bool) Iteration {
	return cc.run(cc.GcType(), cause, clearSoftReferences, cc.runPhases)
}

func (cc *ConcurrentCopying) runPhases() {
	h := cc.heap
	cc.pause(func() {
		h.PreGcVerification(cc)
		h.RevokeAllThreadLocalBuffers()
		cc.initializePhase()
		cc.flipPhase()
		h.PreSweepingVerification(cc)
	})
	cc.reclaimPhase()
	h.PostGcVerification(cc)
	cc.finishPhase()
}

func (cc *ConcurrentCopying) initializePhase() {
	h := cc.heap
	cc.immune.reset()
	cc.rs = h.RegionSpace()
	cc.fallback = h.NonMovingSpace()
	cc.m = cc.memory()
	cc.t = newTracer(cc.m, cc.classes(), cc.markObject)
	cc.movedObjects, cc.movedBytes = 0, 0
	for _, s := range h.ContinuousSpaces() {
		if p := s.GcRetentionPolicy(); p == space.NeverCollect || p == space.FullCollect {
			cc.immune.add(s)
		}
	}
}

func (cc *ConcurrentCopying) flipPhase() {
	h := cc.heap
	func() {
		defer cc.timing("ProcessCards")()
		cc.processCards(!cc.young)
	}()
	if los := h.LargeObjectSpace(); los != nil && cc.young {
		// Old large objects survive a young collection.
		los.CopyLiveToMarked()
	}
	func() {
		defer cc.timing("SwapStacks")()
		h.SwapStacks()
		live := h.LiveStack()
		h.MarkAllocStackAsLive(live)
		live.Reset()
	}()
	cc.rs.SetFromSpace(cc.young)
	func() {
		defer cc.timing("MarkRoots")()
		h.VisitRoots(cc.t.markRoot)
	}()
	if cc.young {
		cc.scanOldToYoung()
	} else {
		for _, s := range cc.immune.spaces {
			cc.scanSpace(cc.t, s, s.LiveBitmap())
		}
	}
	func() {
		defer cc.timing("ProcessMarkStack")()
		cc.t.drain()
	}()
}

// scanOldToYoung scans the objects outside the young regions that sit
// on cards dirtied since the last GC.
func (cc *ConcurrentCopying) scanOldToYoung() {
	defer cc.timing("ScanCards")()
	cards := cc.cards()
	for _, s := range cc.heap.ContinuousSpaces() {
		if s == space.ContinuousSpace(cc.rs) {
			continue
		}
		if b := s.LiveBitmap(); b != nil {
			cc.scanCards(cc.t, s, b, accounting.CardAged)
		}
	}
	for _, ri := range cc.rs.Regions() {
		if ri.Type != space.RegionTypeNone {
			continue
		}
		cc.rs.WalkRegion(cc.classes(), ri, func(obj mirror.Address) {
			if cards.GetCard(obj) >= accounting.CardAged {
				cc.t.scanObject(obj, cc.t.push)
			}
		})
	}
}

func (cc *ConcurrentCopying) markObject(ref mirror.Address, push func(mirror.Address)) mirror.Address {
	if cc.rs.HasAddress(ref) {
		switch cc.rs.RegionType(ref) {
		case space.RegionTypeFromSpace:
			to, size := forward(cc.m, cc.classes(), ref, cc.allocEvac)
			if to == 0 {
				to, size = forward(cc.m, cc.classes(), ref, cc.allocFallback)
				if to == 0 {
					panic("collector: concurrent copying ran out of room evacuating " + ref.String())
				}
			}
			if size != 0 {
				push(to)
			}
			return to
		case space.RegionTypeUnevacFromSpace:
			if !cc.rs.MarkBitmap().Set(ref) {
				push(ref)
			}
		}
		return ref
	}
	if cc.immune.contains(ref) {
		return ref
	}
	if cc.young {
		// Large objects allocated since the last GC are the only young
		// ones outside the region space. They hold no references.
		if los := cc.heap.LargeObjectSpace(); los != nil && los.Contains(ref) {
			los.MarkBitmap().Set(ref)
		}
		return ref
	}
	mb := cc.markBitmap()
	if !mb.Covers(ref) {
		badReference(ref)
	}
	if !mb.Set(ref) {
		push(ref)
	}
	return ref
}

func (cc *ConcurrentCopying) allocEvac(n uintptr) mirror.Address {
	to := cc.rs.AllocEvac(n)
	if to != 0 {
		cc.movedObjects++
		cc.movedBytes += int64(n)
	}
	return to
}

func (cc *ConcurrentCopying) allocFallback(n uintptr) mirror.Address {
	to, allocated := cc.fallback.AllocWithGrowth(nil, n)
	if to == 0 {
		return 0
	}
	if !cc.young {
		cc.fallback.MarkBitmap().Set(to)
	} else {
		cc.fallback.LiveBitmap().Set(to)
	}
	cc.movedObjects++
	cc.movedBytes += int64(allocated)
	cc.log.Debug("evacuating object to the non-moving space", "obj", to, "bytes", n)
	return to
}

func (cc *ConcurrentCopying) reclaimPhase() {
	func() {
		defer cc.timing("ClearFromSpace")()
		cc.pause(func() {
			freedBytes, freedObjects := cc.rs.ClearFromSpace()
			cc.current.MovedObjects = cc.movedObjects
			cc.current.MovedBytes = cc.movedBytes
			cc.recordFree(int64(freedObjects)-cc.movedObjects, int64(freedBytes)-cc.movedBytes)
		})
	}()
	if cc.young {
		if los := cc.heap.LargeObjectSpace(); los != nil {
			// Only young large objects can have died. The mark bitmap
			// holds the old ones plus the young ones reached.
			cc.sweepLargeObjects()
			cc.swapLargeObjectBitmaps(los)
		}
		return
	}
	var spaces []space.ContinuousSpace
	for _, s := range cc.heap.ContinuousSpaces() {
		if !cc.immune.containsSpace(s) && s.LiveBitmap() != nil {
			spaces = append(spaces, s)
		}
	}
	swept := cc.sweepSpaces(spaces)
	cc.sweepLargeObjects()
	cc.swapSweptBitmaps(swept)
}

func (cc *ConcurrentCopying) finishPhase() {
	cc.clearMarkBitmaps(cc.heap.ContinuousSpaces())
	cc.t.markStack.Reset()
}

var _ GarbageCollector = (*ConcurrentCopying)(nil)
