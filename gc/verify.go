// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"fmt"
	"strings"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// maxLoggedFailures bounds the failures logged by one verification.
const maxLoggedFailures = 10

// A verifier collects the failures of one verification pass.
type verifier struct {
	h        *Heap
	phase    string
	failures int
	first    string
}

func (v *verifier) failf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if v.failures == 0 {
		v.first = msg
	}
	v.failures++
	if v.failures <= maxLoggedFailures {
		v.h.log.Error("heap verification", "phase", v.phase, "failure", msg)
	}
}

// done panics with a *VerificationError if anything failed.
func (v *verifier) done(err error) {
	if v.failures == 0 && err == nil {
		return
	}
	if err != nil && v.failures == 0 {
		v.failures = 1
	}
	var b strings.Builder
	v.h.DumpSpaces(&b)
	v.h.log.Error("heap corrupted", "phase", v.phase, "failures", v.failures, "spaces", b.String())
	panic(&VerificationError{Phase: v.phase, Failures: v.failures, First: v.first, Err: err})
}

// PreGcVerification runs in the collector's first pause.
func (h *Heap) PreGcVerification(gc collector.GarbageCollector) {
	if h.opts.VerifyPreGcHeap {
		h.verifyHeapReferences("pre-gc")
	}
	if h.opts.VerifyPreGcRosAlloc {
		h.verifyRosAlloc("pre-gc rosalloc")
	}
}

// PreSweepingVerification runs in the pause before the sweep. Every
// marked object must only refer to objects that survive the collection.
// Copying collectors have nothing to sweep.
func (h *Heap) PreSweepingVerification(gc collector.GarbageCollector) {
	if h.opts.VerifyPreSweepingHeap && !gc.CollectorType().IsMoving() {
		h.verifyMarkedReferences(gc.GcType())
	}
	if h.opts.VerifyPreSweepingRosAlloc {
		h.verifyRosAlloc("pre-sweeping rosalloc")
	}
}

// PostGcVerification runs after the collector resumed the mutators, so
// it suspends them itself.
func (h *Heap) PostGcVerification(gc collector.GarbageCollector) {
	if !h.opts.VerifyPostGcHeap && !h.opts.VerifyPostGcRosAlloc {
		return
	}
	h.SuspendAll("post-gc verification")
	defer h.ResumeAll()
	if h.opts.VerifyPostGcHeap {
		h.verifyHeapReferences("post-gc")
	}
	if h.opts.VerifyPostGcRosAlloc {
		h.verifyRosAlloc("post-gc rosalloc")
	}
}

// VerifyHeap checks every reference in the heap, panicking with a
// *VerificationError on corruption.
func (h *Heap) VerifyHeap(self *Thread) {
	h.criticalSection(self, collector.GcCauseNone, true, func() {
		h.verifyHeapReferences("explicit")
	})
}

// verifyHeapReferences checks that every root and every reference field
// of every object refers to an object. Mutators must be suspended.
func (h *Heap) verifyHeapReferences(phase string) {
	v := &verifier{h: h, phase: phase}
	h.RevokeAllThreadLocalBuffers()
	objs := make(map[mirror.Address]bool)
	var order []mirror.Address
	h.VisitObjectsPaused(func(obj mirror.Address) {
		if !objs[obj] {
			objs[obj] = true
			order = append(order, obj)
		}
	})
	for _, obj := range order {
		c := mirror.ClassOf(h.mem, h.classes, obj)
		if c == nil {
			v.failf("object %v has invalid class word %d", obj, mirror.ClassID(h.mem, obj))
			continue
		}
		mirror.VisitReferences(h.mem, h.classes, obj, func(slot mirror.Address) {
			if ref := mirror.Address(h.mem.Load(slot)); ref != 0 && !objs[ref] {
				v.failf("%v (%s) field +%d refers to %v, which is not an object%s",
					obj, c.Descriptor(), slot-obj, ref, h.describeAddress(ref))
			}
		})
	}
	h.VisitRoots(func(root *mirror.Address) {
		if *root != 0 && !objs[*root] {
			v.failf("root refers to %v, which is not an object%s", *root, h.describeAddress(*root))
		}
	})
	v.done(nil)
}

// verifyMarkedReferences checks the objects about to survive a
// mark-sweep collection of type t.
func (h *Heap) verifyMarkedReferences(t collector.GcType) {
	v := &verifier{h: h, phase: "pre-sweeping"}
	// Objects allocated since the last GC are live without a mark.
	pending := make(map[mirror.Address]bool)
	for _, obj := range h.liveStack.Objects() {
		pending[obj] = true
	}
	for _, obj := range h.allocStack.Objects() {
		pending[obj] = true
	}
	survives := func(ref mirror.Address) bool {
		if ref == 0 || pending[ref] || h.mark.Test(ref) {
			return true
		}
		s := h.findSpace(ref)
		return s != nil && !collects(s, t)
	}
	check := func(obj mirror.Address) {
		c := mirror.ClassOf(h.mem, h.classes, obj)
		if c == nil {
			v.failf("marked object %v has invalid class word %d", obj, mirror.ClassID(h.mem, obj))
			return
		}
		mirror.VisitReferences(h.mem, h.classes, obj, func(slot mirror.Address) {
			if ref := mirror.Address(h.mem.Load(slot)); !survives(ref) {
				v.failf("marked %v (%s) field +%d refers to unmarked %v%s",
					obj, c.Descriptor(), slot-obj, ref, h.describeAddress(ref))
			}
		})
	}
	for _, s := range h.ContinuousSpaces() {
		if mark := s.MarkBitmap(); mark != nil && collects(s, t) {
			mark.Walk(check)
		}
	}
	if h.largeObjectSpace != nil {
		h.largeObjectSpace.MarkBitmap().Walk(check)
	}
	h.VisitRoots(func(root *mirror.Address) {
		if !survives(*root) {
			v.failf("root refers to unmarked %v%s", *root, h.describeAddress(*root))
		}
	})
	v.done(nil)
}

// collects reports whether a collection of type t may free objects of s.
func collects(s space.Space, t collector.GcType) bool {
	switch s.GcRetentionPolicy() {
	case space.NeverCollect:
		return false
	case space.FullCollect:
		return t == collector.GcTypeFull
	}
	return true
}

func (h *Heap) verifyRosAlloc(phase string) {
	v := &verifier{h: h, phase: phase}
	h.RevokeAllThreadLocalBuffers()
	var err error
	for _, s := range h.ContinuousSpaces() {
		if ms, ok := s.(*space.MallocSpace); ok && ms.IsRosAlloc() {
			if e := ms.Verify(); e != nil && err == nil {
				err = e
			}
		}
	}
	v.done(err)
}

// describeAddress names the space holding a, for failure messages.
func (h *Heap) describeAddress(a mirror.Address) string {
	s := h.findSpace(a)
	if s == nil {
		return " outside the heap"
	}
	card := ""
	if h.cards.Covers(a) {
		card = fmt.Sprintf(", card %#x", h.cards.GetCard(a))
	}
	return fmt.Sprintf(" in %s%s", s.Name(), card)
}
