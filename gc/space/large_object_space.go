// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package space

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

type largeObject struct {
	begin mirror.Address
	mm    *mem.MemMap
}

func (o *largeObject) size() uintptr { return o.mm.Len() }

// A LargeObjectSpace gives every object its own mapping. The objects
// sit at page aligned addresses inside a reserved range and are found
// through a table sorted by address.
type LargeObjectSpace struct {
	name        string
	begin, end  mirror.Address
	lock        sync.Mutex
	objs        []largeObject // sorted by begin
	live, mark  *accounting.LargeObjectBitmap
	bytesAlloc  atomic.Uint64
	objectAlloc atomic.Uint64
	totalBytes  atomic.Uint64
	totalObjs   atomic.Uint64
}

// CreateLargeObjectSpace reserves [begin, begin+capacity) for large
// objects.
func CreateLargeObjectSpace(name string, begin mirror.Address, capacity uintptr) (*LargeObjectSpace, error) {
	capacity = math.AlignUp(capacity, mem.PageSize)
	live, err := accounting.CreateLargeObjectBitmap(bitmapName(name, "live"), begin, capacity)
	if err != nil {
		return nil, fmt.Errorf("space: %s: %w", name, err)
	}
	mark, err := accounting.CreateLargeObjectBitmap(bitmapName(name, "mark"), begin, capacity)
	if err != nil {
		live.Release()
		return nil, fmt.Errorf("space: %s: %w", name, err)
	}
	return &LargeObjectSpace{
		name:  name,
		begin: begin,
		end:   begin + mirror.Address(capacity),
		live:  live,
		mark:  mark,
	}, nil
}

func (s *LargeObjectSpace) Name() string                         { return s.name }
func (s *LargeObjectSpace) Type() Type                           { return TypeLargeObject }
func (s *LargeObjectSpace) GcRetentionPolicy() GcRetentionPolicy { return AlwaysCollect }
func (s *LargeObjectSpace) CanMoveObjects() bool                 { return false }
func (s *LargeObjectSpace) Begin() mirror.Address                { return s.begin }
func (s *LargeObjectSpace) End() mirror.Address                  { return s.end }

func (s *LargeObjectSpace) LiveBitmap() *accounting.LargeObjectBitmap { return s.live }
func (s *LargeObjectSpace) MarkBitmap() *accounting.LargeObjectBitmap { return s.mark }

// find returns the index of the object holding a. s.lock must be held.
func (s *LargeObjectSpace) find(a mirror.Address) (int, bool) {
	i, found := slices.BinarySearchFunc(s.objs, a, func(o largeObject, a mirror.Address) int { return cmp.Compare(o.begin, a) })
	if found {
		return i, true
	}
	if i > 0 && a < s.objs[i-1].begin+mirror.Address(s.objs[i-1].size()) {
		return i - 1, true
	}
	return 0, false
}

// Contains reports whether obj lies inside an allocated large object.
func (s *LargeObjectSpace) Contains(obj mirror.Address) bool {
	if obj < s.begin || obj >= s.end {
		return false
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.find(obj)
	return ok
}

func (s *LargeObjectSpace) Word(a mirror.Address) *uint64 {
	s.lock.Lock()
	i, ok := s.find(a)
	if !ok {
		s.lock.Unlock()
		panic(fmt.Sprintf("space: %v is not inside a large object", a))
	}
	o := s.objs[i]
	s.lock.Unlock()
	return o.mm.Word(uintptr(a - o.begin))
}

// Alloc maps a new object of n bytes, rounded up to whole pages.
func (s *LargeObjectSpace) Alloc(_ *ThreadLocal, n uintptr) (mirror.Address, uintptr) {
	n = math.AlignUp(n, mem.PageSize)
	s.lock.Lock()
	defer s.lock.Unlock()
	// first fit over the gaps between objects
	at, pos := s.begin, 0
	for pos < len(s.objs) && s.objs[pos].begin-at < mirror.Address(n) {
		at = s.objs[pos].begin + mirror.Address(s.objs[pos].size())
		pos++
	}
	if at+mirror.Address(n) > s.end || at+mirror.Address(n) < at {
		return 0, 0
	}
	mm, err := mem.MapAnonymous(fmt.Sprintf("%s object %v", s.name, at), n)
	if err != nil {
		return 0, 0
	}
	s.objs = slices.Insert(s.objs, pos, largeObject{at, mm})
	s.bytesAlloc.Add(uint64(n))
	s.objectAlloc.Add(1)
	s.totalBytes.Add(uint64(n))
	s.totalObjs.Add(1)
	return at, n
}

func (s *LargeObjectSpace) AllocationSize(obj mirror.Address) uintptr {
	s.lock.Lock()
	defer s.lock.Unlock()
	if i, ok := s.find(obj); ok && s.objs[i].begin == obj {
		return s.objs[i].size()
	}
	return 0
}

func (s *LargeObjectSpace) Free(obj mirror.Address) uintptr {
	return s.FreeList([]mirror.Address{obj})
}

// FreeList unmaps a batch of dead objects and returns the bytes freed.
func (s *LargeObjectSpace) FreeList(objs []mirror.Address) uintptr {
	s.lock.Lock()
	var dead []*mem.MemMap
	var freed uintptr
	for _, obj := range objs {
		i, ok := s.find(obj)
		if !ok || s.objs[i].begin != obj {
			s.lock.Unlock()
			panic(fmt.Sprintf("space: free of %v which is not a large object", obj))
		}
		freed += s.objs[i].size()
		dead = append(dead, s.objs[i].mm)
		s.objs = slices.Delete(s.objs, i, i+1)
	}
	s.lock.Unlock()
	for _, mm := range dead {
		mm.Unmap()
	}
	s.bytesAlloc.Add(-uint64(freed))
	s.objectAlloc.Add(-uint64(len(objs)))
	return freed
}

func (s *LargeObjectSpace) RevokeThreadLocalBuffers(*ThreadLocal) uintptr { return 0 }

func (s *LargeObjectSpace) BytesAllocated() uint64        { return s.bytesAlloc.Load() }
func (s *LargeObjectSpace) ObjectsAllocated() uint64      { return s.objectAlloc.Load() }
func (s *LargeObjectSpace) TotalBytesAllocated() uint64   { return s.totalBytes.Load() }
func (s *LargeObjectSpace) TotalObjectsAllocated() uint64 { return s.totalObjs.Load() }

// Objects returns the begins of every object in address order.
func (s *LargeObjectSpace) Objects() []mirror.Address {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]mirror.Address, len(s.objs))
	for i, o := range s.objs {
		out[i] = o.begin
	}
	return out
}

func (s *LargeObjectSpace) SwapBitmaps() {
	s.live, s.mark = s.mark, s.live
	ln, mn := s.live.Name(), s.mark.Name()
	s.live.SetName(mn)
	s.mark.SetName(ln)
}

// CopyLiveToMarked makes every live object marked, for GCs that do not
// collect the space.
func (s *LargeObjectSpace) CopyLiveToMarked() { s.mark.CopyFrom(s.live) }

func (s *LargeObjectSpace) Release() error {
	s.lock.Lock()
	objs := s.objs
	s.objs = nil
	s.lock.Unlock()
	for _, o := range objs {
		o.mm.Unmap()
	}
	s.live.Release()
	return s.mark.Release()
}

func (s *LargeObjectSpace) Dump() string {
	s.lock.Lock()
	n := len(s.objs)
	s.lock.Unlock()
	return fmt.Sprintf("%v begin=%v,end=%v,objects=%d,bytes=%d,name=%q",
		TypeLargeObject, s.begin, s.end, n, s.bytesAlloc.Load(), s.name)
}

var _ AllocSpace = (*LargeObjectSpace)(nil)
