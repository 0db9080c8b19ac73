// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// VisitObjects calls fn for every object in the heap with mutators
// suspended and no collection running. fn must not allocate or block on
// other threads.
func (h *Heap) VisitObjects(self *Thread, fn func(obj mirror.Address)) {
	h.criticalSection(self, collector.GcCauseNone, true, func() {
		h.VisitObjectsPaused(fn)
	})
}

// VisitObjectsPaused is VisitObjects for a caller that already holds
// every mutator suspended.
func (h *Heap) VisitObjectsPaused(fn func(obj mirror.Address)) {
	ct := h.classes
	if h.bumpPointerSpace != nil {
		h.bumpPointerSpace.Walk(ct, fn)
	}
	if h.regionSpace != nil {
		h.regionSpace.Walk(ct, fn)
	}
	// Allocation stack objects get their live bit at the next GC; the
	// ones pushed right after a GC may already have it.
	for _, obj := range h.allocStack.Objects() {
		if obj != 0 && !h.live.Test(obj) && mirror.ClassID(h.mem, obj) != 0 {
			fn(obj)
		}
	}
	h.live.Walk(fn)
}

// IsLiveObjectLocked reports whether obj is a live object. Mutators must
// be suspended. The stacks are searched only when asked, since that is
// linear in their size.
func (h *Heap) IsLiveObjectLocked(obj mirror.Address, searchAllocStack, searchLiveStack bool) bool {
	if obj == 0 || obj%mirror.ObjectAlignment != 0 {
		return false
	}
	s := h.findSpace(obj)
	switch {
	case s == nil:
		return false
	case s == h.bumpPointerSpace || s == h.tempSpace:
		return s == h.bumpPointerSpace && h.walkFinds(func(fn func(mirror.Address)) { h.bumpPointerSpace.Walk(h.classes, fn) }, obj)
	case s == h.regionSpace:
		return h.walkFinds(func(fn func(mirror.Address)) { h.regionSpace.Walk(h.classes, fn) }, obj)
	}
	if h.live.Test(obj) {
		return true
	}
	if searchAllocStack && h.allocStack.Contains(obj) {
		return true
	}
	return searchLiveStack && h.liveStack.Contains(obj)
}

func (h *Heap) walkFinds(walk func(fn func(mirror.Address)), obj mirror.Address) bool {
	found := false
	walk(func(o mirror.Address) { found = found || o == obj })
	return found
}

// CountInstances counts the objects of each class in classes. With
// assignable set, instances of subclasses count as well.
func (h *Heap) CountInstances(self *Thread, classes []*mirror.Class, assignable bool) []uint64 {
	counts := make([]uint64, len(classes))
	h.VisitObjects(self, func(obj mirror.Address) {
		c := mirror.ClassOf(h.mem, h.classes, obj)
		for i, want := range classes {
			if c == want || (assignable && want.IsAssignableFrom(c)) {
				counts[i]++
			}
		}
	})
	return counts
}

// GetInstances returns handles to at most maxCount instances of c, or
// all of them if maxCount is 0. The handles belong to self.
func (h *Heap) GetInstances(self *Thread, c *mirror.Class, maxCount int) []Handle {
	var out []Handle
	h.VisitObjects(self, func(obj mirror.Address) {
		if (maxCount == 0 || len(out) < maxCount) && mirror.ClassOf(h.mem, h.classes, obj) == c {
			// No collection can run here, and NewHandle would block on
			// the mutator lock.
			self.handles = append(self.handles, obj)
			out = append(out, Handle{self, len(self.handles) - 1})
		}
	})
	return out
}

// WriteBarrier dirties the card of obj after one of its reference
// fields changed.
func (h *Heap) WriteBarrier(obj mirror.Address) {
	if h.cards.Covers(obj) {
		h.cards.MarkCard(obj)
	}
}

// SetFieldObject stores a reference at obj+offset, marks the card and
// records the old value in the active transaction.
func (h *Heap) SetFieldObject(self *Thread, obj mirror.Address, offset uintptr, value mirror.Address) {
	self.enter()
	defer self.leave()
	slot := obj + mirror.Address(offset)
	if tx := h.transaction.Load(); tx != nil {
		tx.recordField(obj, offset, h.mem.Load(slot), true)
	}
	h.mem.Store(slot, uint64(value))
	h.WriteBarrier(obj)
}

func (h *Heap) GetFieldObject(self *Thread, obj mirror.Address, offset uintptr) mirror.Address {
	self.enter()
	defer self.leave()
	return mirror.Address(h.mem.Load(obj + mirror.Address(offset)))
}

// SetField64 stores a primitive word at obj+offset.
func (h *Heap) SetField64(self *Thread, obj mirror.Address, offset uintptr, value uint64) {
	self.enter()
	defer self.leave()
	slot := obj + mirror.Address(offset)
	if tx := h.transaction.Load(); tx != nil {
		tx.recordField(obj, offset, h.mem.Load(slot), false)
	}
	h.mem.Store(slot, value)
}

func (h *Heap) GetField64(self *Thread, obj mirror.Address, offset uintptr) uint64 {
	self.enter()
	defer self.leave()
	return h.mem.Load(obj + mirror.Address(offset))
}
