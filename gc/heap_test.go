// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

var allCollectorTypes = []collector.CollectorType{
	collector.CollectorTypeMS,
	collector.CollectorTypeCMS,
	collector.CollectorTypeSS,
	collector.CollectorTypeCC,
}

func testOptions(c collector.CollectorType) Options {
	o := DefaultOptions()
	o.ForegroundCollector = c
	o.InitialSize = 1 * MB
	o.GrowthLimit = 8 * MB
	o.Capacity = 16 * MB
	o.NonMovingSpaceCapacity = 4 * MB
	o.AllocationStackSize = 1 << 12
	o.ParallelGCThreads = 2
	o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return o
}

type classes struct {
	ct                *mirror.ClassTable
	object, class     *mirror.Class
	pair, bytes, refs *mirror.Class
}

func testClasses(t *testing.T) *classes {
	t.Helper()
	c := &classes{ct: mirror.NewClassTable()}
	c.object = mirror.NewInstanceClass("Ljava/lang/Object;", nil, mirror.Layout{})
	c.class = mirror.NewClassClass("Ljava/lang/Class;", c.object)
	c.pair = mirror.NewInstanceClass("LPair;", c.object, mirror.Layout{RefFields: 2, PrimitiveBytes: 8})
	c.bytes = mirror.NewArrayClass("[B", c.object, mirror.PrimByte)
	c.refs = mirror.NewArrayClass("[Ljava/lang/Object;", c.object, mirror.PrimNot)
	for _, k := range []*mirror.Class{c.object, c.class, c.pair, c.bytes, c.refs} {
		if _, err := c.ct.Register(k); err != nil {
			t.Fatal(err)
		}
	}
	return c
}

type testHeap struct {
	*Heap
	t    *testing.T
	c    *classes
	self *Thread
}

func newTestHeap(t *testing.T, o Options) *testHeap {
	t.Helper()
	c := testClasses(t)
	h, err := New(o, c.ct)
	if err != nil {
		t.Fatal(err)
	}
	th := &testHeap{Heap: h, t: t, c: c, self: h.AttachThread("main")}
	t.Cleanup(func() {
		th.self.Detach()
		if err := h.Close(); err != nil {
			t.Error(err)
		}
	})
	return th
}

// Offsets of the Pair fields.
const (
	pairFirst  = mirror.HeaderSize
	pairSecond = mirror.HeaderSize + mirror.ReferenceSize
	pairValue  = mirror.HeaderSize + 2*mirror.ReferenceSize
)

func (h *testHeap) newPair(first, second mirror.Address) mirror.Address {
	h.t.Helper()
	obj, err := h.AllocObject(h.self, h.c.pair, h.c.pair.ObjectSize(), func(obj mirror.Address, _ uintptr) {
		h.Memory().Store(obj+pairFirst, uint64(first))
		h.Memory().Store(obj+pairSecond, uint64(second))
	})
	if err != nil {
		h.t.Fatal(err)
	}
	return obj
}

func (h *testHeap) newBytes(n uintptr) (mirror.Address, error) {
	size, _ := h.c.bytes.ArraySize(n)
	return h.AllocObject(h.self, h.c.bytes, size, func(obj mirror.Address, _ uintptr) {
		mirror.SetArrayLength(h.Memory(), obj, n)
	})
}

func (h *testHeap) field(obj mirror.Address, off uintptr) mirror.Address {
	return h.GetFieldObject(h.self, obj, off)
}

func TestNewSpaceLayout(t *testing.T) {
	for _, ct := range allCollectorTypes {
		h := newTestHeap(t, testOptions(ct))
		if h.CollectorType() != ct {
			t.Errorf("%v heap runs %v", ct, h.CollectorType())
		}
		if h.NonMovingSpace() == nil || h.LargeObjectSpace() == nil {
			t.Fatalf("%v heap is missing its non-moving or large object space", ct)
		}
		switch ct {
		case collector.CollectorTypeSS:
			if h.BumpPointerSpace() == nil || h.TempSpace() == nil || h.MainSpace() != nil {
				t.Errorf("SS heap spaces: %d", len(h.ContinuousSpaces()))
			}
		case collector.CollectorTypeCC:
			if h.RegionSpace() == nil || h.MainSpace() != nil {
				t.Errorf("CC heap has no region space")
			}
		default:
			if h.MainSpace() != h.NonMovingSpace() {
				t.Errorf("%v heap: main space is not the non-moving space", ct)
			}
		}
		spaces := h.ContinuousSpaces()
		for i := 1; i < len(spaces); i++ {
			if spaces[i-1].Limit() > spaces[i].Begin() {
				t.Errorf("%v heap: %s overlaps %s", ct, spaces[i-1].Name(), spaces[i].Name())
			}
		}
		for _, s := range spaces {
			if got := h.FindContinuousSpaceFromAddress(s.Begin()); got != s {
				t.Errorf("%v heap: lookup of %s begin found %v", ct, s.Name(), got)
			}
		}
		if h.FindSpaceFromAddress(0) != nil {
			t.Errorf("%v heap: null belongs to a space", ct)
		}
	}
}

func TestEmptyHeapFullGC(t *testing.T) {
	for _, ct := range allCollectorTypes {
		h := newTestHeap(t, testOptions(ct))
		limit, capacity := h.GrowthLimit(), h.Capacity()
		if got := h.CollectGarbageInternal(h.self, collector.GcTypeFull, collector.GcCauseExplicit, false); got == collector.GcTypeNone {
			t.Errorf("%v: full GC did not run", ct)
		}
		if n := h.GetBytesAllocated(); n != 0 {
			t.Errorf("%v: %d bytes allocated after GC of an empty heap", ct, n)
		}
		if h.GrowthLimit() != limit || h.Capacity() != capacity {
			t.Errorf("%v: GC changed growth limit %d -> %d or capacity %d -> %d", ct, limit, h.GrowthLimit(), capacity, h.Capacity())
		}
		if h.GcCount() != 1 {
			t.Errorf("%v: GcCount = %d", ct, h.GcCount())
		}
	}
}

func TestCollectGarbageKeepsReachable(t *testing.T) {
	for _, ct := range allCollectorTypes {
		h := newTestHeap(t, testOptions(ct))
		scope := h.self.OpenHandleScope()
		var root Handle
		h.self.Runnable(func() {
			tail := h.newPair(0, 0)
			hd := h.self.NewHandle(tail)
			for i := 0; i < 100; i++ {
				h.newPair(hd.Get(), 0) // garbage
			}
			root = h.self.NewHandle(h.newPair(hd.Get(), 0))
			h.SetField64(h.self, root.Get(), pairValue, 42)
		})
		h.CollectGarbage(h.self, false)

		h.self.Runnable(func() {
			obj := root.Get()
			m := h.Memory()
			if c := mirror.ClassOf(m, h.c.ct, obj); c != h.c.pair {
				t.Fatalf("%v: root has class %v after GC", ct, c)
			}
			if v := h.GetField64(h.self, obj, pairValue); v != 42 {
				t.Errorf("%v: root value = %d after GC", ct, v)
			}
			tail := h.field(obj, pairFirst)
			if c := mirror.ClassOf(m, h.c.ct, tail); c != h.c.pair {
				t.Errorf("%v: tail has class %v after GC", ct, c)
			}
		})
		if n := h.CountInstances(h.self, []*mirror.Class{h.c.pair}, false); n[0] != 2 {
			t.Errorf("%v: %d pairs survived, want 2", ct, n[0])
		}
		if h.GetBytesFreedEver() == 0 {
			t.Errorf("%v: GC freed nothing", ct)
		}
		scope.Close()
	}
}

func TestGarbageIsFreed(t *testing.T) {
	o := testOptions(collector.CollectorTypeMS)
	o.UseRosAlloc = false
	h := newTestHeap(t, o)
	h.self.Runnable(func() {
		for i := 0; i < 1000; i++ {
			h.newPair(0, 0)
		}
	})
	if h.GetBytesAllocated() == 0 {
		t.Fatal("allocations were not counted")
	}
	h.CollectGarbage(h.self, false)
	if n := h.GetBytesAllocated(); n != 0 {
		t.Errorf("%d bytes allocated after collecting garbage", n)
	}
	if n := h.GetObjectsAllocated(); n != 0 {
		t.Errorf("%d objects allocated after collecting garbage", n)
	}
	if h.GetObjectsAllocatedEver() != 1000 {
		t.Errorf("GetObjectsAllocatedEver = %d", h.GetObjectsAllocatedEver())
	}
}

func TestIsOutOfMemoryOnAllocation(t *testing.T) {
	o := testOptions(collector.CollectorTypeMS)
	o.GrowthLimit = 2 * MB
	o.Capacity = 16 * MB
	o.InitialSize = 512 * KB
	o.UseRosAlloc = false
	h := newTestHeap(t, o)
	const size = 16 * KB
	alloc := h.CurrentAllocator()

	scope := h.self.OpenHandleScope()
	defer scope.Close()
	found := false
	for i := 0; i < 1000; i++ {
		if h.IsOutOfMemoryOnAllocation(alloc, size, false) {
			found = true
			break
		}
		obj, err := h.newBytes(size - mirror.ArrayDataOffset)
		if err != nil {
			t.Fatal(err)
		}
		h.self.NewHandle(obj)
	}
	if !found {
		t.Fatal("allocation never reached the footprint")
	}
	allocated := h.GetBytesAllocated()
	if allocated+size <= h.MaxAllowedFootprint() {
		t.Errorf("out of memory with %d allocated and footprint %d", allocated, h.MaxAllowedFootprint())
	}
	if allocated+size > h.GrowthLimit() {
		t.Errorf("footprint reached only past the growth limit: %d allocated", allocated)
	}
	if h.IsOutOfMemoryOnAllocation(alloc, size, true) {
		t.Fatal("growing allocation failed below the growth limit")
	}
	if got := h.MaxAllowedFootprint(); got != allocated+size {
		t.Errorf("footprint grew to %d, want %d", got, allocated+size)
	}
	if _, err := h.newBytes(size - mirror.ArrayDataOffset); err != nil {
		t.Errorf("allocation after growing: %v", err)
	}
}

func TestOutOfMemory(t *testing.T) {
	for _, ct := range allCollectorTypes {
		o := testOptions(ct)
		o.GrowthLimit = 2 * MB
		o.InitialSize = 512 * KB
		h := newTestHeap(t, o)
		scope := h.self.OpenHandleScope()
		var err error
		for i := 0; i < 1000 && err == nil; i++ {
			var obj mirror.Address
			obj, err = h.newBytes(64*KB - mirror.ArrayDataOffset)
			if err == nil {
				h.self.NewHandle(obj)
			}
			if n := h.GetBytesAllocated(); n > h.GrowthLimit() {
				t.Fatalf("%v: %d bytes allocated past the growth limit", ct, n)
			}
		}
		if !errors.Is(err, ErrOutOfMemory) {
			t.Fatalf("%v: filling the heap ended with %v", ct, err)
		}
		var oom *OutOfMemoryError
		if !errors.As(err, &oom) || oom.Bytes < 64*KB || !strings.HasPrefix(oom.Error(), "Failed to allocate a ") {
			t.Errorf("%v: error = %v", ct, err)
		}
		// Letting go of the arrays makes room again.
		scope.Close()
		if _, err := h.newBytes(64*KB - mirror.ArrayDataOffset); err != nil {
			t.Errorf("%v: allocation after release: %v", ct, err)
		}
	}
}

func TestWaitForGcToCompleteFromCollectingThread(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeMS))
	h.startGC(h.self, collector.GcCauseExplicit, collector.CollectorTypeMS)
	defer h.FinishGC(h.self, collector.GcTypeNone)
	defer func() {
		if r := recover(); r == nil {
			t.Error("waiting for our own GC did not panic")
		}
	}()
	h.WaitForGcToComplete(collector.GcCauseForAlloc, h.self)
}

func TestRevokeThreadLocalBuffersIdempotent(t *testing.T) {
	for _, ct := range []collector.CollectorType{collector.CollectorTypeSS, collector.CollectorTypeCC} {
		h := newTestHeap(t, testOptions(ct))
		h.self.Runnable(func() { h.newPair(0, 0) })
		if !h.self.tl.HasTLAB() {
			t.Fatalf("%v: allocation did not take a TLAB", ct)
		}
		before := h.GetBytesAllocated()
		h.RevokeAllThreadLocalBuffers()
		if h.self.tl.HasTLAB() {
			t.Errorf("%v: TLAB survived revocation", ct)
		}
		h.RevokeAllThreadLocalBuffers()
		if h.self.tl.HasTLAB() || h.GetBytesAllocated() != before {
			t.Errorf("%v: second revocation changed the heap", ct)
		}
	}
}

func TestPreZygoteFork(t *testing.T) {
	for _, ct := range []collector.CollectorType{collector.CollectorTypeMS, collector.CollectorTypeSS} {
		h := newTestHeap(t, testOptions(ct))
		scope := h.self.OpenHandleScope()
		var hd Handle
		h.self.Runnable(func() { hd = h.self.NewHandle(h.newPair(0, 0)) })
		if h.HasZygoteSpace() {
			t.Fatal("new heap has a zygote space")
		}
		if err := h.PreZygoteFork(h.self); err != nil {
			t.Fatalf("%v: %v", ct, err)
		}
		if !h.HasZygoteSpace() || h.ZygoteSpace() == nil {
			t.Fatalf("%v: no zygote space after fork", ct)
		}
		h.self.Runnable(func() {
			if s := h.FindSpaceFromAddress(hd.Get()); s != space.Space(h.ZygoteSpace()) {
				t.Errorf("%v: object is in %v after fork, want the zygote space", ct, s)
			}
		})
		if err := h.PreZygoteFork(h.self); err != nil || !h.HasZygoteSpace() {
			t.Errorf("%v: second fork: %v", ct, err)
		}
		h.self.Runnable(func() {
			obj := h.newPair(hd.Get(), 0)
			if h.FindSpaceFromAddress(obj) == space.Space(h.ZygoteSpace()) {
				t.Errorf("%v: allocated into the zygote space", ct)
			}
		})
		if !h.ShouldAllocLargeObject(h.c.bytes, h.Options().LargeObjectThreshold) {
			t.Errorf("%v: large arrays do not go to the large object space after fork", ct)
		}
		h.CollectGarbage(h.self, false)
		if !h.HasZygoteSpace() {
			t.Errorf("%v: zygote space lost after GC", ct)
		}
		scope.Close()
	}
}

func TestPartialGCNeedsZygote(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeMS))
	if got := h.CollectGarbageInternal(h.self, collector.GcTypePartial, collector.GcCauseExplicit, false); got != collector.GcTypeNone {
		t.Errorf("partial GC without a zygote space ran as %v", got)
	}
	if err := h.PreZygoteFork(h.self); err != nil {
		t.Fatal(err)
	}
	if got := h.CollectGarbageInternal(h.self, collector.GcTypePartial, collector.GcCauseExplicit, false); got != collector.GcTypePartial {
		t.Errorf("partial GC ran as %v", got)
	}
}

func TestLargeObjects(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeCMS))
	if err := h.PreZygoteFork(h.self); err != nil {
		t.Fatal(err)
	}
	scope := h.self.OpenHandleScope()
	defer scope.Close()
	obj, err := h.newBytes(64 * KB)
	if err != nil {
		t.Fatal(err)
	}
	hd := h.self.NewHandle(obj)
	if !h.LargeObjectSpace().Contains(obj) {
		t.Fatal("large array is not in the large object space")
	}
	if _, err := h.newBytes(64 * KB); err != nil {
		t.Fatal(err)
	}
	h.CollectGarbage(h.self, false)
	if los := h.LargeObjectSpace(); los.ObjectsAllocated() != 1 || !los.Contains(hd.Get()) {
		t.Errorf("large object space holds %d objects after GC, want 1", los.ObjectsAllocated())
	}
}

func TestConcurrentAllocation(t *testing.T) {
	for _, ct := range allCollectorTypes {
		o := testOptions(ct)
		o.InitialSize = 256 * KB
		h := newTestHeap(t, o)
		const workers = 4
		n := 5000
		if testing.Short() {
			n = 500
		}
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				self := h.AttachThread("worker")
				defer self.Detach()
				scope := self.OpenHandleScope()
				defer scope.Close()
				head := self.NewHandle(0)
				for i := 0; i < n; i++ {
					self.Runnable(func() {
						obj, err := h.AllocObject(self, h.c.pair, h.c.pair.ObjectSize(), nil)
						if err != nil {
							select {
							case errs <- err:
							default:
							}
							return
						}
						// Keep a chain of ten.
						if i%10 != 0 {
							h.SetFieldObject(self, obj, pairFirst, head.Get())
						}
						head.Set(obj)
					})
				}
				self.Runnable(func() {
					length := 0
					for obj := head.Get(); obj != 0; obj = h.GetFieldObject(self, obj, pairFirst) {
						if c := mirror.ClassOf(h.Memory(), h.c.ct, obj); c != h.c.pair {
							t.Errorf("%v: chain holds an object of class %v", ct, c)
							return
						}
						length++
					}
					if length != 10 {
						t.Errorf("%v: chain length %d, want 10", ct, length)
					}
				})
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			self := h.AttachThread("collector")
			defer self.Detach()
			for i := 0; i < 5; i++ {
				h.CollectGarbage(self, false)
			}
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("%v: %v", ct, err)
		}
	}
}

func TestGetInstances(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeCMS))
	scope := h.self.OpenHandleScope()
	defer scope.Close()
	h.self.Runnable(func() {
		for i := 0; i < 5; i++ {
			h.self.NewHandle(h.newPair(0, 0))
		}
		if _, err := h.newBytes(10); err != nil {
			t.Fatal(err)
		}
	})
	got := h.CountInstances(h.self, []*mirror.Class{h.c.pair, h.c.bytes, h.c.object}, false)
	if got[0] != 5 || got[1] != 1 || got[2] != 0 {
		t.Errorf("CountInstances = %v, want [5 1 0]", got)
	}
	got = h.CountInstances(h.self, []*mirror.Class{h.c.object}, true)
	if got[0] != 6 {
		t.Errorf("assignable CountInstances(Object) = %d, want 6", got[0])
	}
	if hs := h.GetInstances(h.self, h.c.pair, 3); len(hs) != 3 {
		t.Errorf("GetInstances returned %d handles, want 3", len(hs))
	}
	hs := h.GetInstances(h.self, h.c.pair, 0)
	if len(hs) != 5 {
		t.Fatalf("GetInstances returned %d handles, want 5", len(hs))
	}
	var objs []mirror.Address
	h.self.Runnable(func() {
		for _, hd := range hs {
			objs = append(objs, hd.Get())
		}
	})
	h.SuspendAll("test")
	defer h.ResumeAll()
	for _, obj := range objs {
		if !h.IsLiveObjectLocked(obj, true, true) {
			t.Errorf("instance %v is not live", obj)
		}
	}
	if h.IsLiveObjectLocked(objs[0]+8, true, true) {
		t.Errorf("%v inside an object is live", objs[0]+8)
	}
}

func TestTransitionCollector(t *testing.T) {
	o := testOptions(collector.CollectorTypeCMS)
	o.BackgroundCollector = collector.CollectorTypeMS
	h := newTestHeap(t, o)
	h.TransitionCollector(h.self, collector.CollectorTypeMS)
	if h.CollectorType() != collector.CollectorTypeMS || h.isGcConcurrent() {
		t.Fatalf("collector = %v after transition", h.CollectorType())
	}
	if h.ConcurrentStartBytes() != ^uint64(0) {
		t.Errorf("non-concurrent collector starts concurrent GCs at %d", h.ConcurrentStartBytes())
	}
	h.TransitionCollector(h.self, collector.CollectorTypeSS)
	if h.CollectorType() != collector.CollectorTypeMS {
		t.Errorf("incompatible transition switched to %v", h.CollectorType())
	}
	h.self.Runnable(func() { h.newPair(0, 0) })
	h.CollectGarbage(h.self, false)
	h.TransitionCollector(h.self, collector.CollectorTypeCMS)
	if !h.isGcConcurrent() {
		t.Error("CMS is not concurrent")
	}
}

func TestGrowthLimit(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeMS))
	if h.GrowthLimit() != 8*MB || h.Capacity() != 16*MB {
		t.Fatalf("growth limit %d, capacity %d", h.GrowthLimit(), h.Capacity())
	}
	h.ClearGrowthLimit(h.self)
	if h.GrowthLimit() != h.Capacity() || h.GetMaxMemory() != 16*MB {
		t.Errorf("after ClearGrowthLimit: growth limit %d, max memory %d", h.GrowthLimit(), h.GetMaxMemory())
	}

	h = newTestHeap(t, testOptions(collector.CollectorTypeMS))
	h.ClampGrowthLimit(h.self)
	if h.Capacity() != 8*MB {
		t.Errorf("after ClampGrowthLimit: capacity %d", h.Capacity())
	}
	if u := h.GetTargetHeapUtilization(); u != 0.5 {
		t.Errorf("target utilization %v", u)
	}
	h.SetTargetHeapUtilization(0.75)
	if u := h.GetTargetHeapUtilization(); u != 0.75 {
		t.Errorf("target utilization %v after set", u)
	}
}

func TestNativeAllocation(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeMS))
	h.RegisterNativeAllocation(h.self, 1000)
	if h.GcCount() != 0 {
		t.Fatal("small native allocation collected")
	}
	h.RegisterNativeAllocation(h.self, 64*MB)
	if h.GcCount() == 0 {
		t.Error("large native allocation did not collect")
	}
	if h.NativeBytes() != 64*MB+1000 {
		t.Errorf("NativeBytes = %d", h.NativeBytes())
	}
	if u := h.NativeMemoryOverTarget(h.NativeBytes(), false); u >= 1 {
		t.Errorf("native memory over target %v right after collecting", u)
	}
	h.RegisterNativeFree(h.self, 64*MB)
	h.RegisterNativeFree(h.self, 1<<40)
	if h.NativeBytes() != 0 {
		t.Errorf("NativeBytes = %d after freeing more than registered", h.NativeBytes())
	}
}

func TestNativeAllocationChecks(t *testing.T) {
	// Each registration stays below checkImmediatelyThreshold, so only
	// the periodic check or an explicit notification can collect.
	const quiet = 280000
	tests := []struct {
		name    string
		trigger func(h *testHeap)
		wantGCs int
	}{
		{"31 registrations", func(h *testHeap) {}, 0},
		{"32nd registration", func(h *testHeap) { h.RegisterNativeAllocation(h.self, quiet) }, 1},
		{"notify", func(h *testHeap) { h.NotifyNativeAllocations(h.self) }, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			var causes []collector.GcCause
			o := testOptions(collector.CollectorTypeMS)
			o.Observer = ObserverFunc(func(e GcEvent) {
				mu.Lock()
				causes = append(causes, e.Iteration.Cause)
				mu.Unlock()
			})
			h := newTestHeap(t, o)
			for i := 0; i < NotifyNativeInterval-1; i++ {
				h.RegisterNativeAllocation(h.self, quiet)
			}
			if h.GcCount() != 0 {
				t.Fatalf("collected after %d registrations", NotifyNativeInterval-1)
			}
			if u := h.NativeMemoryOverTarget(h.NativeBytes()+quiet, false); u < 1 {
				t.Fatalf("native memory over target = %v, want a collection to be due", u)
			}
			tt.trigger(h)
			if got := int(h.GcCount()); got != tt.wantGCs {
				t.Fatalf("GcCount = %d, want %d", got, tt.wantGCs)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, c := range causes {
				if c != collector.GcCauseForNativeAlloc {
					t.Errorf("collection cause %v, want %v", c, collector.GcCauseForNativeAlloc)
				}
			}
		})
	}
}

type syncWriter struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestNativeAllocationStopsThread(t *testing.T) {
	for _, stop := range []uint64{1 * MB, 1 * GB} {
		var logs syncWriter
		o := testOptions(collector.CollectorTypeCMS)
		o.StopForNativeAllocs = stop
		o.Logger = slog.New(slog.NewTextHandler(&logs, nil))
		h := newTestHeap(t, o)
		h.RegisterNativeAllocation(h.self, 64*MB)
		for deadline := time.Now().Add(5 * time.Second); h.GcCount() == 0; {
			if time.Now().After(deadline) {
				t.Fatalf("stop at %d: no concurrent collection was requested", stop)
			}
			time.Sleep(time.Millisecond)
		}
		stopped := strings.Contains(logs.String(), "stopping for native allocation")
		if want := stop < 64*MB; stopped != want {
			t.Errorf("stop at %d: thread stopped = %v, want %v", stop, stopped, want)
		}
	}
}

func TestAllocationStackOverflow(t *testing.T) {
	var mu sync.Mutex
	var sticky int
	o := testOptions(collector.CollectorTypeMS)
	o.AllocationStackSize = 16
	o.Observer = ObserverFunc(func(e GcEvent) {
		mu.Lock()
		if e.Iteration.GcType == collector.GcTypeSticky && e.Iteration.Cause == collector.GcCauseForAlloc {
			sticky++
		}
		mu.Unlock()
	})
	h := newTestHeap(t, o)
	scope := h.self.OpenHandleScope()
	defer scope.Close()
	const n = 100
	handles := make([]Handle, n)
	h.self.Runnable(func() {
		for i := range handles {
			handles[i] = h.self.NewHandle(h.newPair(0, 0))
			h.SetField64(h.self, handles[i].Get(), pairValue, uint64(i))
		}
	})
	mu.Lock()
	if sticky == 0 {
		t.Error("a full allocation stack did not run a sticky collection")
	}
	mu.Unlock()
	if size := h.AllocationStack().Size(); size > o.AllocationStackSize {
		t.Errorf("allocation stack holds %d objects, capacity %d", size, o.AllocationStackSize)
	}
	h.self.Runnable(func() {
		for i, hd := range handles {
			obj := hd.Get()
			if c := mirror.ClassOf(h.Memory(), h.c.ct, obj); c != h.c.pair {
				t.Fatalf("object %d has class %v", i, c)
			}
			if v := h.GetField64(h.self, obj, pairValue); v != uint64(i) {
				t.Errorf("object %d value = %d", i, v)
			}
		}
	})
	if got := h.CountInstances(h.self, []*mirror.Class{h.c.pair}, false); got[0] != n {
		t.Errorf("%d pairs live, want %d", got[0], n)
	}
}

func TestUpdateProcessState(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeCMS))
	if h.ProcessState() != ProcessStateJankPerceptible || !h.careAboutPauseTimes() {
		t.Fatal("heap starts in the background")
	}
	if m := h.heapGrowthMultiplier(); m != 2.0 {
		t.Errorf("foreground growth multiplier %v", m)
	}
	h.UpdateProcessState(ProcessStateJankImperceptible)
	if h.careAboutPauseTimes() || h.heapGrowthMultiplier() != 1.0 {
		t.Error("background heap still cares about pause times")
	}
}

func TestObserver(t *testing.T) {
	var mu sync.Mutex
	var events []GcEvent
	o := testOptions(collector.CollectorTypeMS)
	o.Observer = ObserverFunc(func(e GcEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	h := newTestHeap(t, o)
	h.CollectGarbage(h.self, false)
	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("observer saw %d collections", len(events))
	}
	e := events[0]
	if e.Iteration.Cause != collector.GcCauseExplicit || e.Iteration.GcType != collector.GcTypeFull || e.CollectorType != collector.CollectorTypeMS {
		t.Errorf("event = %+v", e)
	}
	s := h.Snapshot()
	if s.GcCount != 1 || s.CollectorType != collector.CollectorTypeMS || s.MaxMemory != 8*MB {
		t.Errorf("snapshot = %+v", s)
	}
}
