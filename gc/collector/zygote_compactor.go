// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collector

import (
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// ZygoteCompactor moves every reachable object of the moving space into
// the non-moving space before the zygote forks, so the space that
// becomes the zygote space holds them all. It leaves the moving space
// empty. Objects outside the moving space are kept whether reachable or
// not.
type ZygoteCompactor struct {
	collector

	t    *tracer
	m    space.Memory
	src  space.ContinuousSpace
	dest *space.MallocSpace

	movedObjects, movedBytes int64
}

func NewZygoteCompactor(h Heap) *ZygoteCompactor {
	zc := new(ZygoteCompactor)
	zc.init(h, "zygote compactor")
	zc.serial = true
	return zc
}

func (zc *ZygoteCompactor) GcType() GcType               { return GcTypeFull }
func (zc *ZygoteCompactor) CollectorType() CollectorType { return CollectorTypeZygote }
func (zc *ZygoteCompactor) IsConcurrent() bool           { return false }

func (zc *ZygoteCompactor) Run(cause GcCause, clearSoftReferences bool) Iteration {
	return zc.run(GcTypeFull, cause, clearSoftReferences, func() {
		zc.pause(zc.compact)
	})
}

func (zc *ZygoteCompactor) compact() {
	h := zc.heap
	h.RevokeAllThreadLocalBuffers()
	zc.m = zc.memory()
	zc.dest = h.NonMovingSpace()
	zc.t = newTracer(zc.m, zc.classes(), zc.markObject)
	zc.movedObjects, zc.movedBytes = 0, 0

	bump, rs := h.BumpPointerSpace(), h.RegionSpace()
	switch {
	case bump != nil:
		zc.src = bump
	case rs != nil:
		zc.src = rs
		rs.SetFromSpace(false)
	default:
		return
	}
	func() {
		defer zc.timing("SwapStacks")()
		h.SwapStacks()
		live := h.LiveStack()
		h.MarkAllocStackAsLive(live)
		live.Reset()
	}()
	func() {
		defer zc.timing("MarkRoots")()
		h.VisitRoots(zc.t.markRoot)
	}()
	func() {
		defer zc.timing("ScanSpaces")()
		for _, s := range h.ContinuousSpaces() {
			if b := s.LiveBitmap(); b != nil {
				zc.scanSpace(zc.t, s, b)
			}
		}
		zc.t.drain()
	}()

	zc.current.MovedObjects = zc.movedObjects
	zc.current.MovedBytes = zc.movedBytes
	var freedObjects, freedBytes int64
	if bump != nil {
		freedObjects, freedBytes = int64(bump.ObjectsAllocated()), int64(bump.BytesAllocated())
		bump.Reset()
	} else {
		b, o := rs.ClearFromSpace()
		freedObjects, freedBytes = int64(o), int64(b)
	}
	zc.recordFree(freedObjects-zc.movedObjects, freedBytes-zc.movedBytes)
	zc.log.Info("compacted moving space", "space", zc.src.Name(), "objects", zc.movedObjects, "bytes", zc.movedBytes)
	zc.src = nil
}

func (zc *ZygoteCompactor) markObject(ref mirror.Address, push func(mirror.Address)) mirror.Address {
	if ref < zc.src.Begin() || ref >= zc.src.Limit() {
		return ref
	}
	to, size := forward(zc.m, zc.classes(), ref, zc.allocDest)
	if to == 0 {
		panic("collector: no room in the non-moving space for " + ref.String())
	}
	if size != 0 {
		push(to)
	}
	return to
}

func (zc *ZygoteCompactor) allocDest(n uintptr) mirror.Address {
	to, allocated := zc.dest.AllocWithGrowth(nil, n)
	if to == 0 {
		return 0
	}
	zc.dest.LiveBitmap().Set(to)
	zc.movedObjects++
	zc.movedBytes += int64(allocated)
	return to
}

var _ GarbageCollector = (*ZygoteCompactor)(nil)
