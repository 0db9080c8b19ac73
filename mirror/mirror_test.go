// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mirror

import (
	"errors"
	"testing"
)

// wordMemory is a flat Memory starting at base.
type wordMemory struct {
	base  Address
	words []uint64
}

func (m *wordMemory) Load(a Address) uint64     { return m.words[(a-m.base)/8] }
func (m *wordMemory) Store(a Address, v uint64) { m.words[(a-m.base)/8] = v }
func (m *wordMemory) CompareAndSwap(a Address, old, new uint64) bool {
	if m.Load(a) != old {
		return false
	}
	m.Store(a, new)
	return true
}

func TestInstanceLayout(t *testing.T) {
	object := NewInstanceClass("Ljava/lang/Object;", nil, Layout{})
	if got := object.ObjectSize(); got != HeaderSize {
		t.Fatalf("Object size = %d, want %d", got, HeaderSize)
	}
	node := NewInstanceClass("LNode;", object, Layout{RefFields: 2, PrimitiveBytes: 4})
	if got, want := node.ObjectSize(), uintptr(HeaderSize+16+8); got != want {
		t.Errorf("Node size = %d, want %d", got, want)
	}
	leaf := NewInstanceClass("LLeaf;", node, Layout{RefFields: 1, StaticRefFields: 2})
	offs := leaf.RefOffsets()
	if len(offs) != 3 || offs[0] != 16 || offs[1] != 24 || offs[2] != 40 {
		t.Errorf("Leaf ref offsets = %v", offs)
	}
	if got, want := leaf.ClassObjectSize(), uintptr(ClassStaticsOffset+16); got != want {
		t.Errorf("Leaf class object size = %d, want %d", got, want)
	}
	if !node.IsAssignableFrom(leaf) || leaf.IsAssignableFrom(node) {
		t.Errorf("IsAssignableFrom is wrong")
	}
}

func TestArraySize(t *testing.T) {
	ints := NewArrayClass("[I", nil, PrimInt)
	if size, _ := ints.ArraySize(3); size != 40 {
		t.Errorf("int[3] size = %d, want 40", size)
	}
	if _, overflow := ints.ArraySize(^uintptr(0) / 2); !overflow {
		t.Errorf("huge int[] did not overflow")
	}
	objs := NewArrayClass("[Ljava/lang/Object;", nil, PrimNot)
	if !objs.IsObjectArray() || objs.IsPrimitiveArray() {
		t.Errorf("object array kind = %v", objs.Kind())
	}
}

func TestClassTable(t *testing.T) {
	ct := NewClassTable()
	if ct.Lookup(0) != nil || ct.Lookup(1) != nil {
		t.Fatal("empty table resolves ids")
	}
	klass := NewClassClass("Ljava/lang/Class;", nil)
	if id, err := ct.Register(klass); err != nil || id != 1 {
		t.Fatalf("Register = %d, %v", id, err)
	}
	if ct.ClassClass() != klass {
		t.Errorf("ClassClass not set")
	}
	if _, err := ct.Register(NewClassClass("Ljava/lang/Class;", nil)); !errors.Is(err, ErrDuplicateClass) {
		t.Errorf("duplicate Register error = %v", err)
	}
	if ct.FindClass("Ljava/lang/Class;") != klass || ct.Lookup(1) != klass {
		t.Errorf("lookup failed")
	}
}

func TestVisitReferences(t *testing.T) {
	ct := NewClassTable()
	klass := NewClassClass("Ljava/lang/Class;", nil)
	ct.Register(klass)
	node := NewInstanceClass("LNode;", nil, Layout{RefFields: 2, StaticRefFields: 1})
	ct.Register(node)
	objs := NewArrayClass("[Ljava/lang/Object;", nil, PrimNot)
	ct.Register(objs)

	m := &wordMemory{base: 0x1000, words: make([]uint64, 64)}
	inst := Address(0x1000)
	SetClassID(m, inst, node.ID())
	arr := Address(0x1100)
	SetClassID(m, arr, objs.ID())
	SetArrayLength(m, arr, 3)
	co := Address(0x1040)
	SetClassID(m, co, klass.ID())
	m.Store(co+ClassMirrorOffset, uint64(node.ID()))

	tests := []struct {
		obj   Address
		size  uintptr
		slots int
	}{
		{inst, 32, 2},
		{arr, 48, 3},
		{co, 32, 1},
	}
	for _, tt := range tests {
		if got := SizeOf(m, ct, tt.obj); got != tt.size {
			t.Errorf("SizeOf(%v) = %d, want %d", tt.obj, got, tt.size)
		}
		n := 0
		VisitReferences(m, ct, tt.obj, func(Address) { n++ })
		if n != tt.slots {
			t.Errorf("VisitReferences(%v) visited %d slots, want %d", tt.obj, n, tt.slots)
		}
	}
}

func TestSetStatus(t *testing.T) {
	c := NewInstanceClass("LA;", nil, Layout{})
	c.SetStatus(StatusLoaded)
	c.SetStatus(StatusInitialized)
	c.SetStatus(StatusError)
	defer func() {
		if recover() == nil {
			t.Errorf("backwards SetStatus did not panic")
		}
	}()
	d := NewInstanceClass("LB;", nil, Layout{})
	d.SetStatus(StatusVerified)
	d.SetStatus(StatusLoaded)
}

func TestLockWord(t *testing.T) {
	m := &wordMemory{base: 0x1000, words: make([]uint64, 4)}
	obj := Address(0x1000)
	if s := GetLockWord(m, obj).State(); s != LockStateUnlocked {
		t.Fatalf("fresh lock word state = %v", s)
	}
	to := Address(0x7f0012345678)
	if !CasLockWord(m, obj, 0, ForwardingLockWord(to)) {
		t.Fatal("CasLockWord on a fresh lock word failed")
	}
	if CasLockWord(m, obj, 0, ForwardingLockWord(0x2000)) {
		t.Fatal("second CasLockWord succeeded")
	}
	lw := GetLockWord(m, obj)
	if lw.State() != LockStateForwardingAddress || lw.ForwardingAddress() != to {
		t.Errorf("lock word = %#x, want forwarding to %v", uint64(lw), to)
	}
	if ClassID(m, obj) != 0 {
		t.Errorf("lock word update touched the class word")
	}

	SetLockWord(m, obj, 0)
	defer func() {
		if recover() == nil {
			t.Errorf("ForwardingAddress of an unlocked word did not panic")
		}
	}()
	GetLockWord(m, obj).ForwardingAddress()
}
