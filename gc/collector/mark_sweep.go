// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collector

import (
	"fmt"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// MarkSweep is a non-moving tracing collector.
//
// A full collection traces everything but the image spaces. A partial
// one also leaves the zygote space alone. A sticky one binds the live
// bitmaps of the always-collect spaces to their mark bitmaps, so every
// object that survived the previous GC counts as marked, and only
// sweeps the objects allocated since: those on the live stack after the
// stacks are swapped.
//
// The concurrent variant marks roots in a short pause, traces with
// mutators running, and then re-marks roots and dirty cards in a second
// pause. Mutators stay stopped over the whole marking otherwise.
// Sweeping always runs with mutators going.
type MarkSweep struct {
	collector

	gcType     GcType
	concurrent bool

	immune              immuneSpaces
	t                   *tracer
	markBits            *accounting.HeapBitmap
	liveStackFreezeSize int
	cardsScanned        int
}

func NewMarkSweep(h Heap, gcType GcType, concurrent bool) *MarkSweep {
	name := "mark sweep"
	if concurrent {
		name = "concurrent mark sweep"
	}
	switch gcType {
	case GcTypeSticky:
		name = "sticky " + name
	case GcTypePartial:
		name = "partial " + name
	case GcTypeFull:
	default:
		panic(fmt.Sprintf("collector: mark sweep cannot run %v collections", gcType))
	}
	ms := &MarkSweep{gcType: gcType, concurrent: concurrent}
	ms.init(h, name)
	return ms
}

func (ms *MarkSweep) GcType() GcType     { return ms.gcType }
func (ms *MarkSweep) IsConcurrent() bool { return ms.concurrent }

func (ms *MarkSweep) CollectorType() CollectorType {
	if ms.concurrent {
		return CollectorTypeCMS
	}
	return CollectorTypeMS
}

func (ms *MarkSweep) Run(cause GcCause, clearSoftReferences bool) Iteration {
	return ms.run(ms.gcType, cause, clearSoftReferences, ms.runPhases)
}

func (ms *MarkSweep) runPhases() {
	h := ms.heap
	ms.initializePhase()
	if ms.concurrent {
		ms.pause(func() {
			h.PreGcVerification(ms)
			h.RevokeAllThreadLocalBuffers()
			ms.markingPhase()
		})
		ms.markReachableObjects()
		ms.preCleanCards()
		ms.pause(ms.pausePhase)
	} else {
		ms.pause(func() {
			h.PreGcVerification(ms)
			h.RevokeAllThreadLocalBuffers()
			ms.markingPhase()
			ms.markReachableObjects()
			ms.pausePhase()
		})
	}
	ms.reclaimPhase()
	h.PostGcVerification(ms)
	ms.finishPhase()
}

func (ms *MarkSweep) initializePhase() {
	ms.immune.reset()
	ms.markBits = ms.markBitmap()
	ms.t = newTracer(ms.memory(), ms.classes(), ms.markObject)
	ms.cardsScanned = 0
}

// bindBitmaps decides which spaces this collection leaves alone.
func (ms *MarkSweep) bindBitmaps() {
	defer ms.timing("BindBitmaps")()
	for _, s := range ms.heap.ContinuousSpaces() {
		switch s.GcRetentionPolicy() {
		case space.NeverCollect:
			ms.immune.add(s)
		case space.FullCollect:
			if ms.gcType != GcTypeFull {
				ms.immune.add(s)
			}
		case space.AlwaysCollect:
			if m, ok := s.(*space.MallocSpace); ok && ms.gcType == GcTypeSticky {
				ms.bindLiveToMark(m)
			}
		}
	}
	if los := ms.heap.LargeObjectSpace(); los != nil && ms.gcType == GcTypeSticky {
		los.CopyLiveToMarked()
	}
}

func (ms *MarkSweep) markingPhase() {
	ms.bindBitmaps()
	func() {
		defer ms.timing("ProcessCards")()
		ms.processCards(ms.gcType != GcTypeSticky)
	}()
	ms.markRoots()
}

func (ms *MarkSweep) markRoots() {
	defer ms.timing("MarkRoots")()
	ms.heap.VisitRoots(ms.t.markRoot)
}

// markReachableObjects greys what the roots miss and traces.
func (ms *MarkSweep) markReachableObjects() {
	defer ms.timing("MarkReachableObjects")()
	if ms.gcType == GcTypeSticky {
		// Old objects count as marked. A new object is reachable from a
		// root, from another new object or from a dirty card.
		ms.recursiveMarkDirtyObjects(accounting.CardAged)
		return
	}
	for _, s := range ms.immune.spaces {
		ms.scanSpace(ms.t, s, s.LiveBitmap())
	}
	ms.t.drain()
}

// preCleanCards ages and scans the cards mutators dirtied while the
// concurrent marking ran, so the remark pause sees fewer.
func (ms *MarkSweep) preCleanCards() {
	defer ms.timing("PreCleanCards")()
	ms.processCards(false)
	ms.recursiveMarkDirtyObjects(accounting.CardAged)
}

// recursiveMarkDirtyObjects scans the marked objects on cards at least
// minAge and traces from them.
func (ms *MarkSweep) recursiveMarkDirtyObjects(minAge byte) {
	for _, s := range ms.heap.ContinuousSpaces() {
		bitmap := s.MarkBitmap()
		if ms.immune.containsSpace(s) {
			bitmap = s.LiveBitmap()
		}
		if bitmap == nil {
			continue
		}
		ms.cardsScanned += ms.scanCards(ms.t, s, bitmap, minAge)
	}
	ms.t.drain()
}

// pausePhase runs with mutators suspended once marking is done.
func (ms *MarkSweep) pausePhase() {
	h := ms.heap
	if ms.concurrent {
		ms.markRoots()
		ms.recursiveMarkDirtyObjects(accounting.CardDirty)
	}
	func() {
		defer ms.timing("SwapStacks")()
		h.SwapStacks()
		ms.liveStackFreezeSize = h.LiveStack().Size()
	}()
	h.PreSweepingVerification(ms)
}

func (ms *MarkSweep) markObject(ref mirror.Address, push func(mirror.Address)) mirror.Address {
	if ms.immune.contains(ref) {
		return ref
	}
	if !ms.markBits.Covers(ref) {
		badReference(ref)
	}
	if !ms.markBits.Set(ref) {
		push(ref)
	}
	return ref
}

// collected returns the continuous spaces this collection may free
// objects in.
func (ms *MarkSweep) collected() []space.ContinuousSpace {
	var out []space.ContinuousSpace
	for _, s := range ms.heap.ContinuousSpaces() {
		if !ms.immune.containsSpace(s) && s.LiveBitmap() != nil {
			out = append(out, s)
		}
	}
	return out
}

func (ms *MarkSweep) reclaimPhase() {
	h := ms.heap
	live := h.LiveStack()
	if live.Size() > ms.liveStackFreezeSize {
		panic(fmt.Sprintf("collector: live stack grew from %d to %d after the pause", ms.liveStackFreezeSize, live.Size()))
	}
	if ms.gcType == GcTypeSticky {
		var spaces []*space.MallocSpace
		for _, s := range ms.collected() {
			if m, ok := s.(*space.MallocSpace); ok {
				spaces = append(spaces, m)
			}
		}
		ms.sweepArray(live, spaces)
		ms.swapSweptBitmaps(nil)
		return
	}
	// Whatever was allocated since the last GC is live until proven
	// otherwise; allocations from now on stay unmarked and unswept.
	h.MarkAllocStackAsLive(live)
	live.Reset()
	swept := ms.sweepSpaces(ms.collected())
	ms.sweepLargeObjects()
	ms.swapSweptBitmaps(swept)
}

func (ms *MarkSweep) finishPhase() {
	defer ms.timing("FinishPhase")()
	spaces := ms.heap.ContinuousSpaces()
	for _, s := range spaces {
		if m, ok := s.(*space.MallocSpace); ok {
			ms.unbindBitmaps(m)
		}
	}
	ms.clearMarkBitmaps(spaces)
	ms.t.markStack.Reset()
}

var _ GarbageCollector = (*MarkSweep)(nil)
