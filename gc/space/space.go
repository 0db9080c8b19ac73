// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package space implements the regions of the heap address space that
// objects are allocated in.
//
// A continuous space covers [Begin, Limit) and hands out memory up to
// End. The large object space is discontinuous: its objects live in
// separate mappings inside a reserved range and are found through a
// sorted table. Every space reads and writes its own memory through
// Word; a mirror.Memory over a set of spaces is built from that.
package space

import (
	"fmt"
	"sync/atomic"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/allocator"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

type Type uint8

const (
	TypeImage Type = iota
	TypeMalloc
	TypeZygote
	TypeBumpPointer
	TypeLargeObject
	TypeRegion
)

func (t Type) String() string {
	switch t {
	case TypeImage:
		return "ImageSpace"
	case TypeMalloc:
		return "MallocSpace"
	case TypeZygote:
		return "ZygoteSpace"
	case TypeBumpPointer:
		return "BumpPointerSpace"
	case TypeLargeObject:
		return "LargeObjectSpace"
	case TypeRegion:
		return "RegionSpace"
	}
	return fmt.Sprintf("Type(%d)", t)
}

// GcRetentionPolicy says which collections may free a space's objects.
type GcRetentionPolicy uint8

const (
	NeverCollect  GcRetentionPolicy = iota // image spaces
	AlwaysCollect                          // every GC, sticky included
	FullCollect                            // only full GCs (zygote)
)

func (p GcRetentionPolicy) String() string {
	switch p {
	case NeverCollect:
		return "NeverCollect"
	case AlwaysCollect:
		return "AlwaysCollect"
	case FullCollect:
		return "FullCollect"
	}
	return fmt.Sprintf("GcRetentionPolicy(%d)", p)
}

type Space interface {
	Name() string
	Type() Type
	GcRetentionPolicy() GcRetentionPolicy
	Contains(obj mirror.Address) bool
	// Word returns the heap word at a, which the space must contain.
	Word(a mirror.Address) *uint64
	CanMoveObjects() bool
	Dump() string
}

type ContinuousSpace interface {
	Space
	Begin() mirror.Address
	End() mirror.Address
	Limit() mirror.Address
	// LiveBitmap and MarkBitmap are nil for spaces that do not keep
	// per-object liveness.
	LiveBitmap() *accounting.ContinuousSpaceBitmap
	MarkBitmap() *accounting.ContinuousSpaceBitmap
}

// An AllocSpace is a space mutators allocate into.
type AllocSpace interface {
	Space
	// Alloc returns zeroed memory for n bytes and the number of bytes
	// it took, or (0, 0). It never grows the space past its footprint
	// limit.
	Alloc(tl *ThreadLocal, n uintptr) (mirror.Address, uintptr)
	AllocationSize(obj mirror.Address) uintptr
	BytesAllocated() uint64
	ObjectsAllocated() uint64
	RevokeThreadLocalBuffers(tl *ThreadLocal) uintptr
}

// ThreadLocal is the allocation state a thread keeps in the spaces.
type ThreadLocal struct {
	Runs *allocator.ThreadCache

	TLABStart   mirror.Address
	TLABPos     mirror.Address
	TLABEnd     mirror.Address
	TLABObjects uint64
}

// TLABRemaining returns the free bytes left in the buffer.
func (tl *ThreadLocal) TLABRemaining() uintptr { return uintptr(tl.TLABEnd - tl.TLABPos) }

// AllocTLAB bumps n bytes out of the thread's buffer.
func (tl *ThreadLocal) AllocTLAB(n uintptr) mirror.Address {
	if tl.TLABRemaining() < n {
		return 0
	}
	obj := tl.TLABPos
	tl.TLABPos += mirror.Address(n)
	tl.TLABObjects++
	return obj
}

func (tl *ThreadLocal) HasTLAB() bool { return tl.TLABStart != 0 }

func (tl *ThreadLocal) resetTLAB() {
	tl.TLABStart, tl.TLABPos, tl.TLABEnd, tl.TLABObjects = 0, 0, 0, 0
}

// continuousSpace is the part shared by spaces over one mapping.
type continuousSpace struct {
	name   string
	mm     *mem.MemMap
	begin  mirror.Address
	end    atomic.Uintptr
	limit  mirror.Address
	policy GcRetentionPolicy
}

// init sets up s in place.
func (s *continuousSpace) init(name string, mm *mem.MemMap, begin, end mirror.Address, policy GcRetentionPolicy) {
	s.name, s.mm, s.begin, s.policy = name, mm, begin, policy
	s.limit = begin + mirror.Address(mm.Len())
	s.end.Store(uintptr(end))
}

func (s *continuousSpace) Name() string                         { return s.name }
func (s *continuousSpace) GcRetentionPolicy() GcRetentionPolicy { return s.policy }
func (s *continuousSpace) Begin() mirror.Address                { return s.begin }
func (s *continuousSpace) End() mirror.Address                  { return mirror.Address(s.end.Load()) }
func (s *continuousSpace) Limit() mirror.Address                { return s.limit }

// Size returns End - Begin.
func (s *continuousSpace) Size() uintptr { return uintptr(s.End() - s.begin) }

// Capacity returns Limit - Begin.
func (s *continuousSpace) Capacity() uintptr { return uintptr(s.limit - s.begin) }

// HasAddress reports whether a is in [Begin, Limit).
func (s *continuousSpace) HasAddress(a mirror.Address) bool {
	return a >= s.begin && a < s.limit
}

// Contains reports whether obj is in [Begin, End).
func (s *continuousSpace) Contains(obj mirror.Address) bool {
	return obj >= s.begin && obj < s.End()
}

func (s *continuousSpace) Word(a mirror.Address) *uint64 {
	return s.mm.Word(uintptr(a - s.begin))
}

func (s *continuousSpace) zero(a mirror.Address, n uintptr) {
	s.mm.Zero(uintptr(a-s.begin), n)
}

func (s *continuousSpace) release(a mirror.Address, n uintptr) uintptr {
	return s.mm.Release(uintptr(a-s.begin), n)
}

func (s *continuousSpace) dump(typ Type) string {
	return fmt.Sprintf("%v begin=%v,end=%v,limit=%v,size=%d,capacity=%d,name=%q",
		typ, s.begin, s.End(), s.limit, s.Size(), s.Capacity(), s.name)
}

// Memory reads heap words through the space that holds them.
type Memory struct {
	find func(a mirror.Address) Space
}

// NewMemory returns a Memory that resolves addresses with find.
func NewMemory(find func(a mirror.Address) Space) Memory { return Memory{find: find} }

// MemoryOf returns a Memory over the given spaces.
func MemoryOf(spaces ...Space) Memory {
	return NewMemory(func(a mirror.Address) Space {
		for _, s := range spaces {
			if c, ok := s.(interface{ HasAddress(mirror.Address) bool }); ok && c.HasAddress(a) {
				return s
			}
			if s.Contains(a) {
				return s
			}
		}
		return nil
	})
}

func (m Memory) word(a mirror.Address) *uint64 {
	s := m.find(a)
	if s == nil {
		panic(fmt.Sprintf("space: access to unmapped heap address %v", a))
	}
	return s.Word(a)
}

func (m Memory) Load(a mirror.Address) uint64     { return atomic.LoadUint64(m.word(a)) }
func (m Memory) Store(a mirror.Address, v uint64) { atomic.StoreUint64(m.word(a), v) }
func (m Memory) CompareAndSwap(a mirror.Address, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(m.word(a), old, new)
}

// Copy copies n bytes of object memory from src to dst, a word at a time.
func (m Memory) Copy(dst, src mirror.Address, n uintptr) {
	for off := uintptr(0); off < n; off += 8 {
		m.Store(dst+mirror.Address(off), m.Load(src+mirror.Address(off)))
	}
}

var _ mirror.Memory = Memory{}

// Walker is implemented by spaces that can enumerate their objects by
// walking memory rather than a bitmap.
type Walker interface {
	Walk(ct *mirror.ClassTable, fn func(obj mirror.Address))
}

var bitmapIndex atomic.Int32

func bitmapName(space, kind string) string {
	return fmt.Sprintf("%s %s-bitmap %d", space, kind, bitmapIndex.Add(1))
}
