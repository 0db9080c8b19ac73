// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mirror describes the layout of heap objects and the classes
// that describe them.
//
// Every object starts with a 16 byte header:
//
//	+0  class word  ClassTable id of the object's class, 0 for free memory
//	+8  lock word   monitor state, or a forwarding address while a
//	                copying collector is running
//
// Arrays store their length at +16 and their elements from +24. Class
// objects store the id of the class they mirror at +16 and their static
// fields from +24. All sizes are multiples of ObjectAlignment.
package mirror

import "fmt"

// An Address is the location of an object in the heap's address space.
// Zero is the null reference.
type Address uintptr

const (
	ObjectAlignment = 8
	ReferenceSize   = 8

	ClassOffset       = 0
	LockWordOffset    = 8
	HeaderSize        = 16
	ArrayLengthOffset = 16
	ArrayDataOffset   = 24

	ClassMirrorOffset  = 16
	ClassStaticsOffset = 24
)

func (a Address) String() string { return fmt.Sprintf("%#x", uintptr(a)) }

// Memory reads and writes heap words. Every access is an atomic 8-byte
// operation on an 8-byte aligned address.
type Memory interface {
	Load(a Address) uint64
	Store(a Address, v uint64)
	CompareAndSwap(a Address, old, new uint64) bool
}

// ClassID returns the class word of obj.
func ClassID(m Memory, obj Address) uint32 {
	return uint32(m.Load(obj + ClassOffset))
}

// SetClassID stores the class word of obj.
func SetClassID(m Memory, obj Address, id uint32) {
	m.Store(obj+ClassOffset, uint64(id))
}

// ArrayLength returns the element count of the array obj.
func ArrayLength(m Memory, obj Address) uintptr {
	return uintptr(m.Load(obj + ArrayLengthOffset))
}

// SetArrayLength stores the element count of the array obj.
func SetArrayLength(m Memory, obj Address, n uintptr) {
	m.Store(obj+ArrayLengthOffset, uint64(n))
}

// ClassOf returns the class of obj, or nil if obj's class word is unset
// or unknown.
func ClassOf(m Memory, ct *ClassTable, obj Address) *Class {
	return ct.Lookup(ClassID(m, obj))
}

// MirroredClass returns the class described by the class object obj.
func MirroredClass(m Memory, ct *ClassTable, obj Address) *Class {
	return ct.Lookup(uint32(m.Load(obj + ClassMirrorOffset)))
}

// SizeOf returns the size in bytes of obj.
func SizeOf(m Memory, ct *ClassTable, obj Address) uintptr {
	cls := ClassOf(m, ct, obj)
	if cls == nil {
		panic(fmt.Sprintf("mirror: object %v has invalid class word %d", obj, ClassID(m, obj)))
	}
	switch cls.kind {
	case KindObjectArray, KindPrimitiveArray:
		size, _ := cls.ArraySize(ArrayLength(m, obj))
		return size
	case KindClass:
		if mc := MirroredClass(m, ct, obj); mc != nil {
			return mc.ClassObjectSize()
		}
		return cls.objectSize
	}
	return cls.objectSize
}

// VisitReferences calls fn with the address of every reference slot of obj.
// The class word is a table handle and is not visited.
func VisitReferences(m Memory, ct *ClassTable, obj Address, fn func(slot Address)) {
	cls := ClassOf(m, ct, obj)
	if cls == nil {
		panic(fmt.Sprintf("mirror: object %v has invalid class word %d", obj, ClassID(m, obj)))
	}
	switch cls.kind {
	case KindInstance:
		for _, off := range cls.refOffsets {
			fn(obj + Address(off))
		}
	case KindObjectArray:
		n := ArrayLength(m, obj)
		for i := uintptr(0); i < n; i++ {
			fn(obj + ArrayDataOffset + Address(i*ReferenceSize))
		}
	case KindClass:
		mc := MirroredClass(m, ct, obj)
		if mc == nil {
			return
		}
		for _, off := range mc.staticRefOffsets {
			fn(obj + Address(off))
		}
	}
}
