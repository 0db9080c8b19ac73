// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package space

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/allocator"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// A MallocSpace allocates through a free-list allocator. Its live and
// mark bitmaps cover the whole mapping.
type MallocSpace struct {
	continuousSpace

	alloc     allocator.Allocator
	rosAlloc  bool
	canMove   bool
	lock      sync.Mutex // growth limit and bitmap binding
	growLimit uintptr

	live, mark, temp *accounting.ContinuousSpaceBitmap

	bytesAllocated   atomic.Uint64
	objectsAllocated atomic.Uint64
	totalBytes       atomic.Uint64
	totalObjects     atomic.Uint64
}

// MallocSpaceConfig describes a new malloc space.
type MallocSpaceConfig struct {
	Name        string
	Begin       mirror.Address
	InitialSize uintptr // starting footprint limit
	GrowthLimit uintptr
	Capacity    uintptr
	RosAlloc    bool
	CanMove     bool
}

// CreateMallocSpace maps Capacity bytes at Begin. Allocation may use
// InitialSize bytes before the footprint limit has to be raised.
func CreateMallocSpace(cfg MallocSpaceConfig) (*MallocSpace, error) {
	if cfg.GrowthLimit == 0 {
		cfg.GrowthLimit = cfg.Capacity
	}
	switch {
	case cfg.InitialSize > cfg.GrowthLimit:
		return nil, fmt.Errorf("space: %s: initial size %d exceeds growth limit %d", cfg.Name, cfg.InitialSize, cfg.GrowthLimit)
	case cfg.GrowthLimit > cfg.Capacity:
		return nil, fmt.Errorf("space: %s: growth limit %d exceeds capacity %d", cfg.Name, cfg.GrowthLimit, cfg.Capacity)
	case cfg.Begin%mem.PageSize != 0:
		return nil, fmt.Errorf("space: %s: begin %v is not page aligned", cfg.Name, cfg.Begin)
	}
	mm, err := mem.MapAnonymous(cfg.Name, math.AlignUp(cfg.Capacity, mem.PageSize))
	if err != nil {
		return nil, fmt.Errorf("space: %w", err)
	}
	s, err := newMallocSpace(cfg.Name, mm, cfg.Begin, math.AlignUp(cfg.GrowthLimit, mem.PageSize), cfg.RosAlloc, cfg.CanMove)
	if err != nil {
		mm.Unmap()
		return nil, err
	}
	s.alloc.SetFootprintLimit(cfg.InitialSize)
	return s, nil
}

func newMallocSpace(name string, mm *mem.MemMap, begin mirror.Address, growthLimit uintptr, rosAlloc, canMove bool) (*MallocSpace, error) {
	s := &MallocSpace{rosAlloc: rosAlloc, canMove: canMove, growLimit: growthLimit}
	s.init(name, mm, begin, begin, AlwaysCollect)
	if rosAlloc {
		s.alloc = allocator.NewRosAlloc(mm, mm.Len())
	} else {
		s.alloc = allocator.NewDlMalloc(mm, mm.Len())
	}
	var err error
	if s.live, err = accounting.CreateContinuousSpaceBitmap(bitmapName(name, "live"), begin, mm.Len()); err != nil {
		return nil, fmt.Errorf("space: %s: %w", name, err)
	}
	if s.mark, err = accounting.CreateContinuousSpaceBitmap(bitmapName(name, "mark"), begin, mm.Len()); err != nil {
		s.live.Release()
		return nil, fmt.Errorf("space: %s: %w", name, err)
	}
	return s, nil
}

func (s *MallocSpace) Type() Type           { return TypeMalloc }
func (s *MallocSpace) CanMoveObjects() bool { return s.canMove }
func (s *MallocSpace) IsRosAlloc() bool     { return s.rosAlloc }

func (s *MallocSpace) LiveBitmap() *accounting.ContinuousSpaceBitmap { return s.live }
func (s *MallocSpace) MarkBitmap() *accounting.ContinuousSpaceBitmap { return s.mark }

func (s *MallocSpace) Alloc(tl *ThreadLocal, n uintptr) (mirror.Address, uintptr) {
	var tc *allocator.ThreadCache
	if tl != nil {
		if tl.Runs == nil {
			tl.Runs = s.alloc.NewThreadCache()
		}
		tc = tl.Runs
	}
	off, allocated, ok := s.alloc.Alloc(tc, n)
	if !ok {
		return 0, 0
	}
	s.recordAlloc(allocated)
	return s.begin + mirror.Address(off), allocated
}

// AllocWithGrowth allocates after lifting the footprint limit to the
// growth limit, then lowers the limit back to the footprint.
func (s *MallocSpace) AllocWithGrowth(tl *ThreadLocal, n uintptr) (mirror.Address, uintptr) {
	s.lock.Lock()
	s.alloc.SetFootprintLimit(s.growLimit)
	s.lock.Unlock()
	obj, allocated := s.Alloc(tl, n)
	s.lock.Lock()
	s.alloc.SetFootprintLimit(s.alloc.Footprint())
	s.lock.Unlock()
	return obj, allocated
}

func (s *MallocSpace) recordAlloc(n uintptr) {
	s.bytesAllocated.Add(uint64(n))
	s.objectsAllocated.Add(1)
	s.totalBytes.Add(uint64(n))
	s.totalObjects.Add(1)
	s.bumpEnd()
}

func (s *MallocSpace) bumpEnd() {
	end := uintptr(s.begin) + s.alloc.Footprint()
	for {
		old := s.end.Load()
		if old >= end || s.end.CompareAndSwap(old, end) {
			return
		}
	}
}

func (s *MallocSpace) AllocationSize(obj mirror.Address) uintptr {
	return s.alloc.UsableSize(uintptr(obj - s.begin))
}

func (s *MallocSpace) Free(obj mirror.Address) uintptr {
	return s.FreeList([]mirror.Address{obj})
}

// FreeList frees a batch of objects found dead by the sweep.
func (s *MallocSpace) FreeList(objs []mirror.Address) uintptr {
	offs := make([]uintptr, len(objs))
	for i, obj := range objs {
		if !s.Contains(obj) {
			panic(fmt.Sprintf("space: free of %v outside %s", obj, s.name))
		}
		offs[i] = uintptr(obj - s.begin)
	}
	freed := s.alloc.FreeList(offs)
	s.bytesAllocated.Add(-uint64(freed))
	s.objectsAllocated.Add(-uint64(len(objs)))
	return freed
}

func (s *MallocSpace) BytesAllocated() uint64        { return s.bytesAllocated.Load() }
func (s *MallocSpace) ObjectsAllocated() uint64      { return s.objectsAllocated.Load() }
func (s *MallocSpace) TotalBytesAllocated() uint64   { return s.totalBytes.Load() }
func (s *MallocSpace) TotalObjectsAllocated() uint64 { return s.totalObjects.Load() }

// RevokeThreadLocalBuffers returns the thread's runs. Revoking twice is
// harmless.
func (s *MallocSpace) RevokeThreadLocalBuffers(tl *ThreadLocal) uintptr {
	if tl == nil || tl.Runs == nil {
		return 0
	}
	n := s.alloc.RevokeThreadCache(tl.Runs)
	tl.Runs = nil
	return n
}

// Trim hands unused pages back to the OS.
func (s *MallocSpace) Trim() uintptr { return s.alloc.Trim() }

func (s *MallocSpace) Footprint() uintptr      { return s.alloc.Footprint() }
func (s *MallocSpace) FootprintLimit() uintptr { return s.alloc.FootprintLimit() }

func (s *MallocSpace) SetFootprintLimit(limit uintptr) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.alloc.SetFootprintLimit(min(max(limit, s.alloc.Footprint()), s.growLimit))
}

// Capacity returns the growth limit, which is what the space may use.
func (s *MallocSpace) Capacity() uintptr {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.growLimit
}

// NonGrowthLimitCapacity returns the size of the reservation.
func (s *MallocSpace) NonGrowthLimitCapacity() uintptr { return uintptr(s.limit - s.begin) }

// ClearGrowthLimit lets the space use the whole reservation.
func (s *MallocSpace) ClearGrowthLimit() {
	s.lock.Lock()
	s.growLimit = uintptr(s.limit - s.begin)
	s.lock.Unlock()
}

// ClampGrowthLimit shrinks the reservation to the growth limit. The
// bitmaps keep their size but stop covering the released tail.
func (s *MallocSpace) ClampGrowthLimit() {
	s.lock.Lock()
	defer s.lock.Unlock()
	newEnd := s.begin + mirror.Address(s.growLimit)
	s.live.SetHeapLimit(newEnd)
	s.mark.SetHeapLimit(newEnd)
	s.limit = newEnd
}

// SetGrowthLimit changes the growth limit, never below the footprint.
func (s *MallocSpace) SetGrowthLimit(limit uintptr) {
	s.lock.Lock()
	defer s.lock.Unlock()
	limit = math.AlignUp(limit, mem.PageSize)
	limit = min(max(limit, s.alloc.Footprint()), uintptr(s.limit-s.begin))
	s.growLimit = limit
	if s.alloc.FootprintLimit() > limit {
		s.alloc.SetFootprintLimit(limit)
	}
}

// LargestFreeContiguous reports the largest allocation that could
// succeed right now, for out of memory messages.
func (s *MallocSpace) LargestFreeContiguous() uintptr { return s.alloc.LargestFreeContiguous() }

func (s *MallocSpace) Verify() error {
	if err := s.alloc.Verify(); err != nil {
		return fmt.Errorf("space %s: %w", s.name, err)
	}
	return nil
}

// SwapBitmaps exchanges the live and mark bitmaps after a sweep.
func (s *MallocSpace) SwapBitmaps() {
	s.live, s.mark = s.mark, s.live
	ln, mn := s.live.Name(), s.mark.Name()
	s.live.SetName(mn)
	s.mark.SetName(ln)
}

// BindLiveToMarkBitmap makes the mark bitmap alias the live one, so a
// GC that does not collect the space treats every object as marked.
func (s *MallocSpace) BindLiveToMarkBitmap() {
	if s.temp != nil {
		return
	}
	s.temp, s.mark = s.mark, s.live
}

func (s *MallocSpace) HasBoundBitmaps() bool { return s.temp != nil }

func (s *MallocSpace) UnBindBitmaps() {
	if s.temp == nil {
		return
	}
	s.mark, s.temp = s.temp, nil
}

// CreateZygoteSpace turns the used part of the space into a zygote space
// and returns a new malloc space over the rest of the reservation. s
// must not be used afterwards.
func (s *MallocSpace) CreateZygoteSpace(allocSpaceName string, lowMemoryMode bool) (*ZygoteSpace, *MallocSpace, error) {
	s.UnBindBitmaps()
	end := math.AlignUp(uintptr(s.End()-s.begin), mem.PageSize)
	if end == 0 {
		end = mem.PageSize
	}
	if end >= s.mm.Len() {
		return nil, nil, fmt.Errorf("space: %s has no room left to split off %s", s.name, allocSpaceName)
	}
	growthLimit := s.growLimit
	head, tail := s.mm.Split(end, allocSpaceName)

	z := newZygoteSpace("zygote space", head, s.begin, s.live, s.mark, s.objectsAllocated.Load())
	z.live.SetHeapLimit(s.begin + mirror.Address(end))
	z.mark.SetHeapLimit(s.begin + mirror.Address(end))

	newBegin := s.begin + mirror.Address(end)
	newLimit := uintptr(mem.PageSize)
	if growthLimit > end+mem.PageSize {
		newLimit = growthLimit - end
	}
	ns, err := newMallocSpace(allocSpaceName, tail, newBegin, newLimit, s.rosAlloc, s.canMove)
	if err != nil {
		return nil, nil, err
	}
	headroom := uintptr(mem.PageSize)
	if fl := s.alloc.FootprintLimit(); !lowMemoryMode && fl > end {
		// 新空间继承旧空间剩下的余量
		headroom = fl - end
	}
	ns.alloc.SetFootprintLimit(min(headroom, ns.growLimit))
	return z, ns, nil
}

// Release unmaps the space and its bitmaps.
func (s *MallocSpace) Release() error {
	s.UnBindBitmaps()
	s.live.Release()
	s.mark.Release()
	return s.mm.Unmap()
}

func (s *MallocSpace) Dump() string {
	kind := "dlmalloc"
	if s.rosAlloc {
		kind = "rosalloc"
	}
	return fmt.Sprintf("%s,%s,growth_limit=%d,footprint=%d", s.dump(TypeMalloc), kind, s.Capacity(), s.Footprint())
}

var _ AllocSpace = (*MallocSpace)(nil)
var _ ContinuousSpace = (*MallocSpace)(nil)
