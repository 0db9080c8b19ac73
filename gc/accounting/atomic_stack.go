// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package accounting

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// An ObjectStack is a bounded stack of object addresses. AtomicPushBack
// may be called concurrently by mutators; every other method requires
// the stack to be quiescent, either because mutators are suspended or
// because the stack is private to one collector.
type ObjectStack struct {
	name      string
	slots     []uintptr
	backIndex atomic.Int64
	sorted    bool
	growable  bool
}

// NewObjectStack returns an empty stack holding up to capacity entries.
// A growable stack doubles when PushBack finds it full.
func NewObjectStack(name string, capacity int, growable bool) *ObjectStack {
	return &ObjectStack{name: name, slots: make([]uintptr, capacity), growable: growable}
}

func (s *ObjectStack) Name() string { return s.name }

// AtomicPushBack pushes obj and reports whether there was room.
func (s *ObjectStack) AtomicPushBack(obj mirror.Address) bool {
	for {
		i := s.backIndex.Load()
		if i >= int64(len(s.slots)) {
			return false
		}
		if s.backIndex.CompareAndSwap(i, i+1) {
			atomic.StoreUintptr(&s.slots[i], uintptr(obj))
			return true
		}
	}
}

// PushBack pushes obj, growing a growable stack when full.
func (s *ObjectStack) PushBack(obj mirror.Address) {
	i := s.backIndex.Load()
	if i >= int64(len(s.slots)) {
		if !s.growable {
			panic(fmt.Sprintf("accounting: %s overflow at %d entries", s.name, len(s.slots)))
		}
		s.resize(2*len(s.slots) + 1)
	}
	s.slots[i] = uintptr(obj)
	s.backIndex.Store(i + 1)
	s.sorted = false
}

func (s *ObjectStack) resize(capacity int) {
	n := make([]uintptr, capacity)
	copy(n, s.slots[:s.backIndex.Load()])
	s.slots = n
}

// PopBack removes and returns the top entry. The stack must not be empty.
func (s *ObjectStack) PopBack() mirror.Address {
	i := s.backIndex.Load() - 1
	if i < 0 {
		panic(fmt.Sprintf("accounting: pop from empty %s", s.name))
	}
	s.backIndex.Store(i)
	return mirror.Address(s.slots[i])
}

func (s *ObjectStack) Size() int     { return int(s.backIndex.Load()) }
func (s *ObjectStack) IsEmpty() bool { return s.Size() == 0 }
func (s *ObjectStack) Capacity() int { return len(s.slots) }
func (s *ObjectStack) IsFull() bool  { return s.Size() >= len(s.slots) }

// Reset empties the stack.
func (s *ObjectStack) Reset() {
	clear(s.slots[:s.Size()])
	s.backIndex.Store(0)
	s.sorted = false
}

// Objects returns the entries in push order. Slots reserved by a racing
// AtomicPushBack but not yet written read as zero.
func (s *ObjectStack) Objects() []mirror.Address {
	n := s.Size()
	out := make([]mirror.Address, 0, n)
	for i := 0; i < n; i++ {
		if a := atomic.LoadUintptr(&s.slots[i]); a != 0 {
			out = append(out, mirror.Address(a))
		}
	}
	return out
}

// Sort orders the entries by address so Contains can binary search.
func (s *ObjectStack) Sort() {
	slices.Sort(s.slots[:s.Size()])
	s.sorted = true
}

// Contains reports whether obj is on the stack.
func (s *ObjectStack) Contains(obj mirror.Address) bool {
	entries := s.slots[:s.Size()]
	if s.sorted {
		_, ok := slices.BinarySearch(entries, uintptr(obj))
		return ok
	}
	return slices.Contains(entries, uintptr(obj))
}

// Swap exchanges the contents of s and o.
func (s *ObjectStack) Swap(o *ObjectStack) {
	s.slots, o.slots = o.slots, s.slots
	si, oi := s.backIndex.Load(), o.backIndex.Load()
	s.backIndex.Store(oi)
	o.backIndex.Store(si)
	s.sorted, o.sorted = o.sorted, s.sorted
}
