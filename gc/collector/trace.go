// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collector

import (
	"fmt"
	"sync/atomic"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// scanChunkSize is how much of a space one parallel scan task covers.
const scanChunkSize = 256 * accounting.CardSize

const markStackSize = 64 << 10

// immuneSpaces are the spaces a collection neither frees nor moves
// objects in. Their objects are implicitly marked.
type immuneSpaces struct {
	spaces []space.ContinuousSpace
}

func (is *immuneSpaces) add(s space.ContinuousSpace) { is.spaces = append(is.spaces, s) }
func (is *immuneSpaces) reset()                      { is.spaces = is.spaces[:0] }

func (is *immuneSpaces) contains(a mirror.Address) bool {
	for _, s := range is.spaces {
		if a >= s.Begin() && a < s.End() {
			return true
		}
	}
	return false
}

func (is *immuneSpaces) containsSpace(s space.ContinuousSpace) bool {
	for _, o := range is.spaces {
		if o == s {
			return true
		}
	}
	return false
}

// markFunc marks ref and returns where it lives now. A newly grey
// object is handed to push.
type markFunc func(ref mirror.Address, push func(mirror.Address)) mirror.Address

// A tracer computes the transitive closure of the marked objects.
type tracer struct {
	m         space.Memory
	ct        *mirror.ClassTable
	markStack *accounting.ObjectStack
	mark      markFunc
	scanned   atomic.Int64
}

func newTracer(m space.Memory, ct *mirror.ClassTable, mark markFunc) *tracer {
	return &tracer{
		m:         m,
		ct:        ct,
		markStack: accounting.NewObjectStack("mark stack", markStackSize, true),
		mark:      mark,
	}
}

func (t *tracer) push(obj mirror.Address) { t.markStack.PushBack(obj) }

// markRoot marks the referent of a root slot and updates the slot if
// the referent moved.
func (t *tracer) markRoot(root *mirror.Address) {
	if *root == 0 {
		return
	}
	if nref := t.mark(*root, t.push); nref != *root {
		*root = nref
	}
}

// scanObject marks every referent of obj, updating moved ones.
func (t *tracer) scanObject(obj mirror.Address, push func(mirror.Address)) {
	t.scanned.Add(1)
	mirror.VisitReferences(t.m, t.ct, obj, func(slot mirror.Address) {
		ref := mirror.Address(t.m.Load(slot))
		if ref == 0 {
			return
		}
		if nref := t.mark(ref, push); nref != ref {
			t.m.Store(slot, uint64(nref))
		}
	})
}

// drain scans grey objects until the mark stack is empty.
func (t *tracer) drain() {
	for !t.markStack.IsEmpty() {
		t.scanObject(t.markStack.PopBack(), t.push)
	}
}

// scanTasks returns tasks that scan the objects visit reports. Each task
// collects the objects it greys; merge moves them to the mark stack.
type scanTasks struct {
	t      *tracer
	tasks  []func()
	locals []*[]mirror.Address
}

func (st *scanTasks) add(visit func(fn func(obj mirror.Address))) {
	local := new([]mirror.Address)
	st.locals = append(st.locals, local)
	push := func(obj mirror.Address) { *local = append(*local, obj) }
	st.tasks = append(st.tasks, func() {
		visit(func(obj mirror.Address) { st.t.scanObject(obj, push) })
	})
}

func (st *scanTasks) merge() {
	for _, local := range st.locals {
		for _, obj := range *local {
			st.t.push(obj)
		}
		*local = nil
	}
}

// chunks splits [begin, end) for parallel scanning.
func chunks(begin, end mirror.Address, fn func(b, e mirror.Address)) {
	for b := begin; b < end; b += scanChunkSize {
		fn(b, min(b+scanChunkSize, end))
	}
}

// scanSpace greys the referents of every object marked in bitmap.
func (c *collector) scanSpace(t *tracer, s space.ContinuousSpace, bitmap *accounting.ContinuousSpaceBitmap) {
	st := &scanTasks{t: t}
	chunks(s.Begin(), s.End(), func(b, e mirror.Address) {
		st.add(func(fn func(mirror.Address)) { bitmap.VisitMarkedRange(b, e, fn) })
	})
	c.parallel(st.tasks)
	st.merge()
}

// scanCards greys the referents of the objects marked in bitmap that
// sit on cards at least minAge. It returns the number of cards
// scanned.
func (c *collector) scanCards(t *tracer, s space.ContinuousSpace, bitmap *accounting.ContinuousSpaceBitmap, minAge byte) int {
	cards := c.cards()
	st := &scanTasks{t: t}
	var n atomic.Int64
	chunks(s.Begin(), s.End(), func(b, e mirror.Address) {
		st.add(func(fn func(mirror.Address)) { n.Add(int64(cards.Scan(bitmap, b, e, minAge, fn))) })
	})
	c.parallel(st.tasks)
	st.merge()
	return int(n.Load())
}

// processCards ages the cards of every continuous space, or clears them
// when the collection traces the whole heap anyway.
func (c *collector) processCards(clear bool) {
	cards := c.cards()
	var tasks []func()
	for _, s := range c.heap.ContinuousSpaces() {
		begin, end := s.Begin(), s.End()
		if clear {
			tasks = append(tasks, func() { cards.ClearCardRange(begin, end) })
			continue
		}
		tasks = append(tasks, func() { cards.ModifyCardsAtomic(begin, end, accounting.AgeCard, nil) })
	}
	c.parallel(tasks)
}

// forward copies obj to the address alloc returns and leaves a
// forwarding address behind. It returns the new address, or 0 if alloc
// failed.
func forward(m space.Memory, ct *mirror.ClassTable, obj mirror.Address, alloc func(n uintptr) mirror.Address) (mirror.Address, uintptr) {
	lw := mirror.GetLockWord(m, obj)
	if lw.State() == mirror.LockStateForwardingAddress {
		return lw.ForwardingAddress(), 0
	}
	size := mirror.SizeOf(m, ct, obj)
	to := alloc(size)
	if to == 0 {
		return 0, 0
	}
	m.Copy(to, obj, size)
	mirror.SetLockWord(m, obj, mirror.ForwardingLockWord(to))
	return to, size
}

func badReference(ref mirror.Address) {
	panic(fmt.Sprintf("collector: tried to mark %v not contained by any space", ref))
}
