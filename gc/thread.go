// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"fmt"
	"slices"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// A Thread is a mutator attached to a heap. A Thread belongs to one
// goroutine at a time.
//
// A thread is runnable while it is inside a heap entry point or a
// Runnable callback: it then holds the heap's mutator lock shared and
// the addresses it holds stay valid. Addresses are only stable until
// the thread next passes a safepoint (any allocation, or leaving the
// runnable state); keep anything that must survive in a Handle.
type Thread struct {
	heap   *Heap
	name   string
	id     int
	daemon bool

	depth int // nesting of runnable sections
	tl    space.ThreadLocal

	handles []mirror.Address
	stats   AllocStats
}

// AllocStats counts the allocations of a thread, or of the whole heap,
// while instrumentation is enabled.
type AllocStats struct {
	Objects    uint64
	Bytes      uint64
	GcForAlloc uint64 // collections the allocating thread had to run
	OOMs       uint64
}

// AttachThread registers a new mutator.
func (h *Heap) AttachThread(name string) *Thread {
	h.threadsMu.Lock()
	defer h.threadsMu.Unlock()
	h.nextThreadID++
	t := &Thread{heap: h, name: name, id: h.nextThreadID}
	h.threads = append(h.threads, t)
	return t
}

// Detach returns the thread's buffers to the heap and forgets its
// handles. The thread must not be used afterwards.
func (t *Thread) Detach() {
	h := t.heap
	t.Runnable(func() {
		h.revokeThreadLocalBuffers(t)
		t.handles = nil
	})
	h.threadsMu.Lock()
	h.threads = slices.DeleteFunc(h.threads, func(o *Thread) bool { return o == t })
	h.threadsMu.Unlock()
}

func (t *Thread) Name() string   { return t.name }
func (t *Thread) ID() int        { return t.id }
func (t *Thread) String() string { return fmt.Sprintf("%s#%d", t.name, t.id) }

// AllocStats returns the thread's instrumented allocation counts.
func (t *Thread) AllocStats() AllocStats { return t.stats }

// Runnable runs fn with the thread runnable, so no collection can start
// while fn runs unless fn allocates or blocks.
func (t *Thread) Runnable(fn func()) {
	t.enter()
	defer t.leave()
	fn()
}

func (t *Thread) enter() {
	if t.depth == 0 {
		t.heap.mutatorLock.RLock()
	}
	t.depth++
}

func (t *Thread) leave() {
	t.depth--
	if t.depth == 0 {
		t.heap.mutatorLock.RUnlock()
	} else if t.depth < 0 {
		panic("gc: " + t.String() + " left a runnable section it never entered")
	}
}

// suspended runs fn with the thread's share of the mutator lock
// released, for waits that a collection must be able to proceed past.
func (t *Thread) suspended(fn func()) {
	if t == nil || t.depth == 0 {
		fn()
		return
	}
	saved := t.depth
	t.depth = 0
	t.heap.mutatorLock.RUnlock()
	defer func() {
		t.heap.mutatorLock.RLock()
		t.depth = saved
	}()
	fn()
}

// checkSuspend is the allocation safepoint. When a collector is waiting
// to suspend mutators the thread hands in its buffers and lets the
// pause happen.
func (t *Thread) checkSuspend() {
	h := t.heap
	if t.depth == 0 || h.suspendPending.Load() == 0 {
		return
	}
	h.revokeThreadLocalBuffers(t)
	h.mutatorLock.RUnlock()
	h.mutatorLock.RLock()
}

// IsRunnable reports whether the thread holds the mutator lock.
func (t *Thread) IsRunnable() bool { return t.depth > 0 }

// A Handle is a root slot owned by a thread. The collectors update it
// when they move the object.
type Handle struct {
	t *Thread
	i int
}

// NewHandle roots obj in the thread's current handle scope.
func (t *Thread) NewHandle(obj mirror.Address) Handle {
	t.enter()
	defer t.leave()
	t.handles = append(t.handles, obj)
	return Handle{t, len(t.handles) - 1}
}

// Get returns the object the handle roots. The thread must be runnable
// for the result to stay valid.
func (h Handle) Get() mirror.Address {
	h.t.enter()
	defer h.t.leave()
	return h.t.handles[h.i]
}

func (h Handle) Set(obj mirror.Address) {
	h.t.enter()
	defer h.t.leave()
	h.t.handles[h.i] = obj
}

func (h Handle) IsNull() bool { return h.Get() == 0 }

// A HandleScope releases the handles created since it was opened.
type HandleScope struct {
	t    *Thread
	mark int
}

func (t *Thread) OpenHandleScope() HandleScope { return HandleScope{t, len(t.handles)} }

func (s HandleScope) Close() {
	s.t.enter()
	defer s.t.leave()
	clear(s.t.handles[s.mark:])
	s.t.handles = s.t.handles[:s.mark]
}

// NumHandles returns how many handles the thread holds.
func (t *Thread) NumHandles() int { return len(t.handles) }

func (t *Thread) visitRoots(fn func(root *mirror.Address)) {
	for i := range t.handles {
		if t.handles[i] != 0 {
			fn(&t.handles[i])
		}
	}
}

// A GlobalRef is a root owned by the heap rather than a thread.
type GlobalRef struct {
	h *Heap
	i int
}

// NewGlobalRef roots obj until the reference is deleted.
func (h *Heap) NewGlobalRef(self *Thread, obj mirror.Address) GlobalRef {
	self.enter()
	defer self.leave()
	h.globalsMu.Lock()
	defer h.globalsMu.Unlock()
	if n := len(h.freeGlobals); n > 0 {
		i := h.freeGlobals[n-1]
		h.freeGlobals = h.freeGlobals[:n-1]
		h.globals[i] = obj
		return GlobalRef{h, i}
	}
	h.globals = append(h.globals, obj)
	return GlobalRef{h, len(h.globals) - 1}
}

func (r GlobalRef) Get(self *Thread) mirror.Address {
	self.enter()
	defer self.leave()
	r.h.globalsMu.Lock()
	defer r.h.globalsMu.Unlock()
	return r.h.globals[r.i]
}

func (r GlobalRef) Delete(self *Thread) {
	self.enter()
	defer self.leave()
	r.h.globalsMu.Lock()
	defer r.h.globalsMu.Unlock()
	r.h.globals[r.i] = 0
	r.h.freeGlobals = append(r.h.freeGlobals, r.i)
}
