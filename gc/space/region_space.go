// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package space

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

const RegionSize = 256 << 10

type RegionState uint8

const (
	RegionFree RegionState = iota
	RegionAllocated
	RegionLarge     // first region of a large object
	RegionLargeTail // the rest of it
)

// RegionType is a region's role in a copying collection.
type RegionType uint8

const (
	RegionTypeNone            RegionType = iota // not collected by this GC
	RegionTypeToSpace                           // allocated into since the last GC, or GC destination
	RegionTypeFromSpace                         // being evacuated
	RegionTypeUnevacFromSpace                   // collected in place
)

type region struct {
	begin          mirror.Address
	top            atomic.Uintptr
	state          RegionState
	typ            RegionType
	newlyAllocated bool
	largeRegions   int // for RegionLarge
	objects        atomic.Uint64
}

func (r *region) end() mirror.Address { return r.begin + RegionSize }

func (r *region) alloc(n uintptr) mirror.Address {
	for {
		old := r.top.Load()
		if old+n > uintptr(r.end()) {
			return 0
		}
		if r.top.CompareAndSwap(old, old+n) {
			r.objects.Add(1)
			return mirror.Address(old)
		}
	}
}

func (r *region) bytesAllocated() uintptr {
	switch r.state {
	case RegionAllocated:
		return uintptr(mirror.Address(r.top.Load()) - r.begin)
	case RegionLarge:
		return uintptr(r.largeRegions) * RegionSize
	}
	return 0
}

// A RegionSpace is a bump pointer space cut into fixed regions so a
// copying collector can evacuate some regions and keep others. Objects
// larger than a region take a run of whole regions.
//
// Mutators may only fill half of the regions; the rest is kept for
// evacuation.
type RegionSpace struct {
	continuousSpace

	lock       sync.Mutex
	regions    []region
	current    *region // shared mutator region
	evac       *region // GC destination region
	numNonFree int

	mark *accounting.ContinuousSpaceBitmap
}

// CreateRegionSpace maps capacity bytes, rounded up to whole regions.
func CreateRegionSpace(name string, begin mirror.Address, capacity uintptr) (*RegionSpace, error) {
	capacity = math.AlignUp(capacity, RegionSize)
	mm, err := mem.MapAnonymous(name, capacity)
	if err != nil {
		return nil, fmt.Errorf("space: %w", err)
	}
	mark, err := accounting.CreateContinuousSpaceBitmap(bitmapName(name, "mark"), begin, capacity)
	if err != nil {
		mm.Unmap()
		return nil, fmt.Errorf("space: %s: %w", name, err)
	}
	n := capacity / RegionSize
	s := &RegionSpace{regions: make([]region, n), mark: mark}
	s.init(name, mm, begin, begin+mirror.Address(capacity), AlwaysCollect)
	for i := range s.regions {
		r := &s.regions[i]
		r.begin = begin + mirror.Address(uintptr(i)*RegionSize)
		r.top.Store(uintptr(r.begin))
	}
	return s, nil
}

func (s *RegionSpace) Type() Type           { return TypeRegion }
func (s *RegionSpace) CanMoveObjects() bool { return true }

func (s *RegionSpace) LiveBitmap() *accounting.ContinuousSpaceBitmap { return nil }

// MarkBitmap records objects marked in place in unevacuated regions.
func (s *RegionSpace) MarkBitmap() *accounting.ContinuousSpaceBitmap { return s.mark }

func (s *RegionSpace) NumRegions() int { return len(s.regions) }

func (s *RegionSpace) regionOf(a mirror.Address) *region {
	return &s.regions[uintptr(a-s.begin)/RegionSize]
}

// Contains reports whether obj is inside a region in use.
func (s *RegionSpace) Contains(obj mirror.Address) bool {
	if !s.HasAddress(obj) {
		return false
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.regionOf(obj).state != RegionFree
}

// allocRegion takes a free region. s.lock must be held.
func (s *RegionSpace) allocRegion(forEvac bool) *region {
	if !forEvac && (s.numNonFree+1)*2 > len(s.regions) {
		return nil
	}
	for i := range s.regions {
		r := &s.regions[i]
		if r.state != RegionFree {
			continue
		}
		r.state = RegionAllocated
		r.typ = RegionTypeToSpace
		r.newlyAllocated = !forEvac
		r.top.Store(uintptr(r.begin))
		r.objects.Store(0)
		s.numNonFree++
		return r
	}
	return nil
}

func (s *RegionSpace) Alloc(tl *ThreadLocal, n uintptr) (mirror.Address, uintptr) {
	n = math.AlignUp(n, BumpPointerAlignment)
	if n > RegionSize {
		return s.allocLarge(n)
	}
	obj := s.allocFrom(&s.current, n, false)
	if obj == 0 {
		return 0, 0
	}
	return obj, n
}

// AllocEvac allocates n bytes of to-space for a copying collector.
func (s *RegionSpace) AllocEvac(n uintptr) mirror.Address {
	return s.allocFrom(&s.evac, math.AlignUp(n, BumpPointerAlignment), true)
}

func (s *RegionSpace) allocFrom(cur **region, n uintptr, forEvac bool) mirror.Address {
	s.lock.Lock()
	r := *cur
	s.lock.Unlock()
	if r != nil {
		if obj := r.alloc(n); obj != 0 {
			return obj
		}
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	// 可能其他线程已经换了region
	if *cur != nil && *cur != r {
		if obj := (*cur).alloc(n); obj != 0 {
			return obj
		}
	}
	nr := s.allocRegion(forEvac)
	if nr == nil {
		return 0
	}
	*cur = nr
	return nr.alloc(n)
}

func (s *RegionSpace) allocLarge(n uintptr) (mirror.Address, uintptr) {
	k := int(math.DivRoundUp(n, RegionSize))
	s.lock.Lock()
	defer s.lock.Unlock()
	if (s.numNonFree+k)*2 > len(s.regions) {
		return 0, 0
	}
	for i := 0; i+k <= len(s.regions); i++ {
		free := true
		for j := i; j < i+k; j++ {
			if s.regions[j].state != RegionFree {
				free = false
				i = j
				break
			}
		}
		if !free {
			continue
		}
		head := &s.regions[i]
		head.state = RegionLarge
		head.largeRegions = k
		head.top.Store(uintptr(head.begin) + n)
		head.objects.Store(1)
		for j := i; j < i+k; j++ {
			r := &s.regions[j]
			if j > i {
				r.state = RegionLargeTail
				r.top.Store(uintptr(r.end()))
			}
			r.typ = RegionTypeToSpace
			r.newlyAllocated = true
		}
		s.numNonFree += k
		return head.begin, uintptr(k) * RegionSize
	}
	return 0, 0
}

// AllocNewTLAB hands tl a whole free region. The region is accounted as
// fully used from the start.
func (s *RegionSpace) AllocNewTLAB(tl *ThreadLocal) bool {
	s.RevokeThreadLocalBuffers(tl)
	s.lock.Lock()
	r := s.allocRegion(false)
	if r != nil {
		r.top.Store(uintptr(r.end()))
	}
	s.lock.Unlock()
	if r == nil {
		return false
	}
	tl.TLABStart, tl.TLABPos, tl.TLABEnd = r.begin, r.begin, r.end()
	tl.TLABObjects = 0
	return true
}

func (s *RegionSpace) RevokeThreadLocalBuffers(tl *ThreadLocal) uintptr {
	if tl == nil || !tl.HasTLAB() || !s.HasAddress(tl.TLABStart) {
		return 0
	}
	unused := tl.TLABRemaining()
	s.regionOf(tl.TLABStart).objects.Add(tl.TLABObjects)
	tl.resetTLAB()
	return unused
}

func (s *RegionSpace) AllocationSize(obj mirror.Address) uintptr { return 0 }

func (s *RegionSpace) BytesAllocated() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	var n uint64
	for i := range s.regions {
		n += uint64(s.regions[i].bytesAllocated())
	}
	return n
}

func (s *RegionSpace) ObjectsAllocated() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	var n uint64
	for i := range s.regions {
		n += s.regions[i].objects.Load()
	}
	return n
}

func (s *RegionSpace) NumNonFreeRegions() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.numNonFree
}

// SetFromSpace assigns region types for a copying GC. A full GC
// evacuates every regular region; a young GC only those allocated since
// the previous GC and leaves the rest alone. Large objects are never
// moved. Thread-local buffers must have been revoked.
func (s *RegionSpace) SetFromSpace(young bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.current, s.evac = nil, nil
	for i := range s.regions {
		r := &s.regions[i]
		switch {
		case r.state == RegionFree:
		case young && !r.newlyAllocated:
			r.typ = RegionTypeNone
		case r.state == RegionAllocated:
			r.typ = RegionTypeFromSpace
		default:
			r.typ = RegionTypeUnevacFromSpace
		}
	}
}

func (s *RegionSpace) RegionType(a mirror.Address) RegionType {
	if !s.HasAddress(a) {
		return RegionTypeNone
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	r := s.regionOf(a)
	if r.state == RegionFree {
		return RegionTypeNone
	}
	return r.typ
}

func (s *RegionSpace) IsInFromSpace(a mirror.Address) bool {
	return s.RegionType(a) == RegionTypeFromSpace
}

func (s *RegionSpace) IsInUnevacFromSpace(a mirror.Address) bool {
	return s.RegionType(a) == RegionTypeUnevacFromSpace
}

func (s *RegionSpace) IsInToSpace(a mirror.Address) bool {
	return s.RegionType(a) == RegionTypeToSpace
}

// ClearFromSpace frees the evacuated regions and the unevacuated ones
// with nothing marked, and makes every surviving region old. It returns
// the bytes and objects freed and clears the mark bitmap.
func (s *RegionSpace) ClearFromSpace() (freedBytes, freedObjects uint64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i := range s.regions {
		r := &s.regions[i]
		switch {
		case r.state == RegionFree:
			continue
		case r.typ == RegionTypeFromSpace:
			freedBytes += uint64(r.bytesAllocated())
			freedObjects += r.objects.Load()
			s.freeRegion(r)
		case r.typ == RegionTypeUnevacFromSpace && r.state == RegionLarge && !s.mark.Test(r.begin):
			freedBytes += uint64(r.bytesAllocated())
			freedObjects++
			k := r.largeRegions
			for j := i; j < i+k; j++ {
				s.freeRegion(&s.regions[j])
			}
		case r.typ != RegionTypeNone:
			r.typ = RegionTypeToSpace
		}
		r.newlyAllocated = false
	}
	s.mark.ClearAll()
	return freedBytes, freedObjects
}

func (s *RegionSpace) freeRegion(r *region) {
	s.release(r.begin, RegionSize)
	r.state = RegionFree
	r.typ = RegionTypeNone
	r.newlyAllocated = false
	r.largeRegions = 0
	r.objects.Store(0)
	r.top.Store(uintptr(r.begin))
	s.numNonFree--
}

// RegionInfo describes one region in use.
type RegionInfo struct {
	Begin, Top     mirror.Address
	State          RegionState
	Type           RegionType
	NewlyAllocated bool
}

// Regions returns the regions in use in address order.
func (s *RegionSpace) Regions() []RegionInfo {
	s.lock.Lock()
	defer s.lock.Unlock()
	var out []RegionInfo
	for i := range s.regions {
		r := &s.regions[i]
		if r.state == RegionFree {
			continue
		}
		out = append(out, RegionInfo{r.begin, mirror.Address(r.top.Load()), r.state, r.typ, r.newlyAllocated})
	}
	return out
}

// WalkRegion visits the objects of one region in use.
func (s *RegionSpace) WalkRegion(ct *mirror.ClassTable, ri RegionInfo, fn func(obj mirror.Address)) {
	switch ri.State {
	case RegionLarge:
		fn(ri.Begin)
	case RegionAllocated:
		walkRange(MemoryOf(s), ct, ri.Begin, ri.Top, fn)
	}
}

// Walk visits every object in the space. Mutators must be suspended.
func (s *RegionSpace) Walk(ct *mirror.ClassTable, fn func(obj mirror.Address)) {
	for _, ri := range s.Regions() {
		s.WalkRegion(ct, ri, fn)
	}
}

func (s *RegionSpace) Release() error {
	s.mark.Release()
	return s.mm.Unmap()
}

func (s *RegionSpace) Dump() string {
	return fmt.Sprintf("%s,regions=%d,non_free=%d", s.dump(TypeRegion), len(s.regions), s.NumNonFreeRegions())
}

var _ AllocSpace = (*RegionSpace)(nil)
var _ ContinuousSpace = (*RegionSpace)(nil)
var _ Walker = (*RegionSpace)(nil)
