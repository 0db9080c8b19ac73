// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/MotorolaMobilityLLC/art-sub006/gc"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

func newRuntime(t *testing.T, ct collector.CollectorType, aot bool) *Runtime {
	t.Helper()
	o := gc.DefaultOptions()
	o.ForegroundCollector = ct
	o.InitialSize = 1 * gc.MB
	o.GrowthLimit = 8 * gc.MB
	o.Capacity = 8 * gc.MB
	o.NonMovingSpaceCapacity = 2 * gc.MB
	o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := NewRuntime(Config{Heap: o, AOT: aot})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Error(err)
		}
	})
	return r
}

func TestBootstrap(t *testing.T) {
	for _, ct := range []collector.CollectorType{collector.CollectorTypeCMS, collector.CollectorTypeSS} {
		r := newRuntime(t, ct, false)
		h, l, self := r.Heap(), r.ClassLinker(), r.MainThread()
		descs := []string{ObjectDescriptor, ClassDescriptor, ObjectArrayDescriptor, "[Z", "[B", "[C", "[S", "[I", "[J", "[F", "[D"}
		before := make(map[string]mirror.Address)
		for _, d := range descs {
			c, err := l.FindClass(d)
			if err != nil {
				t.Fatal(err)
			}
			if c.Status() != mirror.StatusInitialized {
				t.Errorf("%v: %s is %v", ct, d, c.Status())
			}
			if c.Object == 0 {
				t.Fatalf("%v: %s has no class object", ct, d)
			}
			if got := mirror.ClassOf(h.Memory(), l.Classes(), c.Object); got != l.ClassClass() {
				t.Errorf("%v: class object of %s has class %v", ct, d, got)
			}
			if got := mirror.MirroredClass(h.Memory(), l.Classes(), c.Object); got != c {
				t.Errorf("%v: class object of %s mirrors %v", ct, d, got)
			}
			if s := h.FindSpaceFromAddress(c.Object); s != h.NonMovingSpace() {
				t.Errorf("%v: class object of %s is in %v, want the non-moving space", ct, d, s)
			}
			before[d] = c.Object
		}
		if l.PrimitiveArrayClass(mirror.PrimInt).Descriptor() != "[I" || l.PrimitiveArrayClass(mirror.PrimNot) != nil {
			t.Errorf("%v: wrong primitive array classes", ct)
		}
		h.CollectGarbage(self, false)
		for _, d := range descs {
			c, _ := l.FindClass(d)
			if c.Object != before[d] {
				t.Errorf("%v: class object of %s moved", ct, d)
			}
		}
		if _, err := l.FindClass("LMissing;"); !errors.Is(err, ErrNoSuchClass) {
			t.Errorf("%v: FindClass of a missing class: %v", ct, err)
		}
		if err := l.Attach(self, h); !errors.Is(err, ErrAlreadyLinked) {
			t.Errorf("%v: second Attach: %v", ct, err)
		}
	}
}

func TestDefineAndAllocate(t *testing.T) {
	r := newRuntime(t, collector.CollectorTypeCMS, false)
	h, l, self := r.Heap(), r.ClassLinker(), r.MainThread()

	point, err := l.DefineClass(self, "LPoint;", ObjectDescriptor, mirror.Layout{RefFields: 1, PrimitiveBytes: 8})
	if err != nil {
		t.Fatal(err)
	}
	if point.Status() != mirror.StatusResolved || point.ObjectSize() != mirror.HeaderSize+16 {
		t.Errorf("LPoint; is %v with size %d", point.Status(), point.ObjectSize())
	}
	if _, err := l.DefineClass(self, "LPoint;", ObjectDescriptor, mirror.Layout{}); !errors.Is(err, mirror.ErrDuplicateClass) {
		t.Errorf("redefining LPoint;: %v", err)
	}
	if _, err := l.DefineClass(self, "LBad;", "LMissing;", mirror.Layout{}); !errors.Is(err, ErrNoSuchClass) {
		t.Errorf("missing superclass: %v", err)
	}
	if _, err := l.DefineClass(self, "LBad;", "[I", mirror.Layout{}); !errors.Is(err, ErrNotInstance) {
		t.Errorf("array superclass: %v", err)
	}

	p, err := l.AllocObject(self, point)
	if err != nil {
		t.Fatal(err)
	}
	if got := mirror.ClassOf(h.Memory(), l.Classes(), p); got != point {
		t.Errorf("instance has class %v", got)
	}
	if _, err := l.AllocObject(self, l.PrimitiveArrayClass(mirror.PrimInt)); !errors.Is(err, ErrNotInstance) {
		t.Errorf("AllocObject of an array class: %v", err)
	}

	ints := l.PrimitiveArrayClass(mirror.PrimInt)
	a, err := l.AllocArray(self, ints, 10)
	if err != nil {
		t.Fatal(err)
	}
	if n := mirror.ArrayLength(h.Memory(), a); n != 10 {
		t.Errorf("array length %d, want 10", n)
	}
	if size := mirror.SizeOf(h.Memory(), l.Classes(), a); size != mirror.ArrayDataOffset+40 {
		t.Errorf("array size %d, want %d", size, mirror.ArrayDataOffset+40)
	}
	if _, err := l.AllocArray(self, ints, math.MaxInt); !errors.Is(err, gc.ErrOutOfMemory) {
		t.Errorf("oversized array: %v", err)
	}
	if _, err := l.AllocArray(self, ints, -1); err == nil {
		t.Error("negative array size accepted")
	}
	if _, err := l.AllocArray(self, point, 1); !errors.Is(err, ErrNotArray) {
		t.Errorf("AllocArray of an instance class: %v", err)
	}

	points, err := l.DefineArrayClass(self, point)
	if err != nil {
		t.Fatal(err)
	}
	if again, _ := l.DefineArrayClass(self, point); again != points {
		t.Error("DefineArrayClass returned a second class")
	}
	if points.Descriptor() != "[LPoint;" || !points.IsObjectArray() {
		t.Errorf("array class %s", points.Descriptor())
	}
}

func TestInitializeClass(t *testing.T) {
	r := newRuntime(t, collector.CollectorTypeMS, false)
	l, self := r.ClassLinker(), r.MainThread()

	base, err := l.DefineClass(self, "LBase;", ObjectDescriptor, mirror.Layout{StaticPrimitiveBytes: 8})
	if err != nil {
		t.Fatal(err)
	}
	derived, err := l.DefineClass(self, "LDerived;", "LBase;", mirror.Layout{StaticRefFields: 1, StaticPrimitiveBytes: 8})
	if err != nil {
		t.Fatal(err)
	}
	runs := 0
	err = l.InitializeClass(self, derived, func(self *gc.Thread, c *mirror.Class, _ mirror.Address) error {
		runs++
		if base.Status() != mirror.StatusInitialized {
			t.Errorf("superclass is %v while initializing %s", base.Status(), c.Descriptor())
		}
		obj, err := l.AllocObject(self, l.ObjectClass())
		if err != nil {
			return err
		}
		l.SetStaticObject(self, c, 0, obj)
		l.SetStatic64(self, c, 0, 99)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if derived.Status() != mirror.StatusInitialized || runs != 1 {
		t.Errorf("LDerived; is %v after %d runs", derived.Status(), runs)
	}
	if err := l.InitializeClass(self, derived, func(*gc.Thread, *mirror.Class, mirror.Address) error {
		runs++
		return nil
	}); err != nil || runs != 1 {
		t.Errorf("second InitializeClass: err %v, %d runs", err, runs)
	}

	// The static keeps its object alive.
	r.Heap().CollectGarbage(self, false)
	obj := l.StaticObject(self, derived, 0)
	if obj == 0 || mirror.ClassOf(r.Heap().Memory(), l.Classes(), obj) != l.ObjectClass() {
		t.Errorf("static field holds %v after GC", obj)
	}
	if v := l.Static64(self, derived, 0); v != 99 {
		t.Errorf("static word = %d, want 99", v)
	}

	broken, err := l.DefineClass(self, "LBroken;", ObjectDescriptor, mirror.Layout{})
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if err := l.InitializeClass(self, broken, func(*gc.Thread, *mirror.Class, mirror.Address) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("failing initializer: %v", err)
	}
	if broken.Status() != mirror.StatusError {
		t.Errorf("LBroken; is %v, want Error", broken.Status())
	}
	if _, err := l.AllocObject(self, broken); !errors.Is(err, ErrClassError) {
		t.Errorf("AllocObject of an erroneous class: %v", err)
	}
	if err := l.InitializeClass(self, broken, nil); !errors.Is(err, ErrClassError) {
		t.Errorf("reinitializing an erroneous class: %v", err)
	}
}

func TestAotRollback(t *testing.T) {
	r := newRuntime(t, collector.CollectorTypeMS, true)
	l, self := r.AotClassLinker(), r.MainThread()
	if l == nil {
		t.Fatal("no AOT class linker")
	}

	holder, err := l.DefineClass(self, "LHolder;", ObjectDescriptor, mirror.Layout{StaticPrimitiveBytes: 8})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.InitializeClass(self, holder, func(self *gc.Thread, c *mirror.Class, _ mirror.Address) error {
		l.SetStatic64(self, c, 0, 1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	base, err := l.DefineClass(self, "LAotBase;", ObjectDescriptor, mirror.Layout{})
	if err != nil {
		t.Fatal(err)
	}
	failing, err := l.DefineClass(self, "LFailing;", "LAotBase;", mirror.Layout{StaticRefFields: 1})
	if err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	err = l.InitializeClass(self, failing, func(self *gc.Thread, c *mirror.Class, _ mirror.Address) error {
		obj, err := l.AllocObject(self, l.ObjectClass())
		if err != nil {
			return err
		}
		l.SetStaticObject(self, c, 0, obj)
		l.SetStatic64(self, holder, 0, 2)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("failing initializer: %v", err)
	}
	if r.Heap().ActiveTransaction() != nil {
		t.Error("transaction left open")
	}
	if failing.Status() != mirror.StatusResolved || base.Status() != mirror.StatusResolved {
		t.Errorf("after rollback LFailing; is %v and LAotBase; is %v, want Resolved", failing.Status(), base.Status())
	}
	if obj := l.StaticObject(self, failing, 0); obj != 0 {
		t.Errorf("static field holds %v after rollback", obj)
	}
	if v := l.Static64(self, holder, 0); v != 1 {
		t.Errorf("other class's static = %d after rollback, want 1", v)
	}

	err = l.InitializeClass(self, failing, func(*gc.Thread, *mirror.Class, mirror.Address) error {
		l.AbortTransaction("needs run time")
		return nil
	})
	if !errors.Is(err, ErrTransactionAborted) || failing.Status() != mirror.StatusResolved {
		t.Errorf("aborted initializer: %v, status %v", err, failing.Status())
	}

	if err := l.InitializeClass(self, failing, nil); err != nil {
		t.Fatal(err)
	}
	if failing.Status() != mirror.StatusInitialized || base.Status() != mirror.StatusInitialized {
		t.Errorf("after commit LFailing; is %v and LAotBase; is %v", failing.Status(), base.Status())
	}
}
