// Copyright 2013 The Go Authors. All rights reserved.
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

// BumpPointerAlignment is the alignment of every bump pointer allocation.
const BumpPointerAlignment = mirror.ObjectAlignment

// A BumpPointerSpace allocates by advancing End. Objects are never freed
// one at a time; the whole space is reset once a copying collector has
// moved the survivors out.
//
// Memory between objects is zero. A thread-local buffer is a block of
// the space handed to one thread; the part of it the thread did not use
// starts with a zero class word.
type BumpPointerSpace struct {
	continuousSpace

	lock    sync.Mutex // blocks
	blocks  []tlabBlock
	objects atomic.Uint64 // objects outside live buffers
}

type tlabBlock struct {
	begin mirror.Address
	size  uintptr
}

// CreateBumpPointerSpace maps a space of capacity bytes at begin.
func CreateBumpPointerSpace(name string, begin mirror.Address, capacity uintptr) (*BumpPointerSpace, error) {
	capacity = math.AlignUp(capacity, mem.PageSize)
	mm, err := mem.MapAnonymous(name, capacity)
	if err != nil {
		return nil, fmt.Errorf("space: %w", err)
	}
	s := new(BumpPointerSpace)
	s.init(name, mm, begin, begin, AlwaysCollect)
	return s, nil
}

func (s *BumpPointerSpace) Type() Type           { return TypeBumpPointer }
func (s *BumpPointerSpace) CanMoveObjects() bool { return true }

func (s *BumpPointerSpace) LiveBitmap() *accounting.ContinuousSpaceBitmap { return nil }
func (s *BumpPointerSpace) MarkBitmap() *accounting.ContinuousSpaceBitmap { return nil }

// AllocNonvirtual carves n bytes off the end of the space.
func (s *BumpPointerSpace) AllocNonvirtual(n uintptr) mirror.Address {
	n = math.AlignUp(n, BumpPointerAlignment)
	obj := s.allocRaw(n)
	if obj != 0 {
		s.objects.Add(1)
	}
	return obj
}

func (s *BumpPointerSpace) allocRaw(n uintptr) mirror.Address {
	for {
		old := s.end.Load()
		if old+n > uintptr(s.limit) || old+n < old {
			return 0
		}
		if s.end.CompareAndSwap(old, old+n) {
			return mirror.Address(old)
		}
	}
}

func (s *BumpPointerSpace) Alloc(tl *ThreadLocal, n uintptr) (mirror.Address, uintptr) {
	n = math.AlignUp(n, BumpPointerAlignment)
	obj := s.AllocNonvirtual(n)
	if obj == 0 {
		return 0, 0
	}
	return obj, n
}

// AllocNewTLAB gives tl a fresh buffer of n bytes, revoking its old one.
func (s *BumpPointerSpace) AllocNewTLAB(tl *ThreadLocal, n uintptr) bool {
	s.RevokeThreadLocalBuffers(tl)
	n = math.AlignUp(n, BumpPointerAlignment)
	begin := s.allocRaw(n)
	if begin == 0 {
		return false
	}
	s.lock.Lock()
	s.blocks = append(s.blocks, tlabBlock{begin, n})
	s.lock.Unlock()
	tl.TLABStart, tl.TLABPos, tl.TLABEnd = begin, begin, begin+mirror.Address(n)
	tl.TLABObjects = 0
	return true
}

// RevokeThreadLocalBuffers folds tl's buffer into the space counters.
// It returns the bytes tl left unused.
func (s *BumpPointerSpace) RevokeThreadLocalBuffers(tl *ThreadLocal) uintptr {
	if tl == nil || !tl.HasTLAB() || !s.HasAddress(tl.TLABStart) {
		return 0
	}
	unused := tl.TLABRemaining()
	s.objects.Add(tl.TLABObjects)
	tl.resetTLAB()
	return unused
}

func (s *BumpPointerSpace) AllocationSize(obj mirror.Address) uintptr { return 0 }

// BytesAllocated counts every byte below End, unused buffer space
// included.
func (s *BumpPointerSpace) BytesAllocated() uint64 { return uint64(s.Size()) }

// ObjectsAllocated does not count objects in buffers that are still
// held by threads.
func (s *BumpPointerSpace) ObjectsAllocated() uint64 { return s.objects.Load() }

// Walk visits the objects of the space in address order. Mutators must
// be suspended and their buffers revoked.
func (s *BumpPointerSpace) Walk(ct *mirror.ClassTable, fn func(obj mirror.Address)) {
	s.lock.Lock()
	blocks := slices.Clone(s.blocks)
	s.lock.Unlock()
	slices.SortFunc(blocks, func(a, b tlabBlock) int { return cmp.Compare(a.begin, b.begin) })

	m := MemoryOf(s)
	pos, end := s.begin, s.End()
	for pos < end {
		if len(blocks) > 0 && blocks[0].begin == pos {
			b := blocks[0]
			blocks = blocks[1:]
			walkRange(m, ct, pos, b.begin+mirror.Address(b.size), fn)
			pos = b.begin + mirror.Address(b.size)
			continue
		}
		limit := end
		if len(blocks) > 0 {
			limit = blocks[0].begin
		}
		pos = walkRange(m, ct, pos, limit, fn)
		if pos < limit {
			// 分配到一半的对象, 后面没有东西了
			return
		}
	}
}

// walkRange visits contiguous objects in [pos, limit) until it finds a
// zero class word. It returns where it stopped.
func walkRange(m mirror.Memory, ct *mirror.ClassTable, pos, limit mirror.Address, fn func(mirror.Address)) mirror.Address {
	for pos < limit && mirror.ClassID(m, pos) != 0 {
		size := math.AlignUp(mirror.SizeOf(m, ct, pos), mirror.ObjectAlignment)
		fn(pos)
		pos += mirror.Address(size)
	}
	return pos
}

// Reset discards every object. The memory is zeroed.
func (s *BumpPointerSpace) Reset() {
	s.lock.Lock()
	s.blocks = s.blocks[:0]
	s.lock.Unlock()
	s.release(s.begin, s.Size())
	s.end.Store(uintptr(s.begin))
	s.objects.Store(0)
}

func (s *BumpPointerSpace) Release() error { return s.mm.Unmap() }

func (s *BumpPointerSpace) Dump() string {
	s.lock.Lock()
	n := len(s.blocks)
	s.lock.Unlock()
	return fmt.Sprintf("%s,blocks=%d", s.dump(TypeBumpPointer), n)
}

var _ AllocSpace = (*BumpPointerSpace)(nil)
var _ Walker = (*BumpPointerSpace)(nil)
var _ ContinuousSpace = (*BumpPointerSpace)(nil)
