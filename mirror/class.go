// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mirror

import (
	"fmt"
	"sync/atomic"

	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
)

// Kind says how instances of a class are laid out.
type Kind uint8

const (
	KindInstance Kind = iota
	KindObjectArray
	KindPrimitiveArray
	KindClass // instances are class objects
)

// ClassStatus is the lifecycle state of a class. Status only moves
// forward, except to StatusError.
type ClassStatus int32

const (
	StatusError ClassStatus = iota - 1
	StatusNotReady
	StatusLoaded
	StatusResolving
	StatusResolved
	StatusVerifying
	StatusVerified
	StatusInitializing
	StatusInitialized
)

var statusNames = [...]string{
	"Error", "NotReady", "Loaded", "Resolving", "Resolved",
	"Verifying", "Verified", "Initializing", "Initialized",
}

func (s ClassStatus) String() string {
	if i := int(s) + 1; i >= 0 && i < len(statusNames) {
		return statusNames[i]
	}
	return fmt.Sprintf("ClassStatus(%d)", int32(s))
}

// Layout gives the fields a class adds to its superclass.
type Layout struct {
	RefFields            int     // reference instance fields
	PrimitiveBytes       uintptr // primitive instance field bytes
	StaticRefFields      int     // reference static fields
	StaticPrimitiveBytes uintptr // primitive static field bytes
}

// A Class describes the layout of its instances. Heap objects refer to
// classes by their ClassTable id.
type Class struct {
	id               uint32
	descriptor       string
	kind             Kind
	component        Primitive
	super            *Class
	objectSize       uintptr
	refOffsets       []uint32
	staticRefOffsets []uint32
	classObjectSize  uintptr
	status           atomic.Int32

	// Object is the heap object mirroring this class. It is a GC root and
	// is only updated while mutators are suspended.
	Object Address
}

// NewInstanceClass returns a class whose instances carry super's fields
// followed by the fields in l.
func NewInstanceClass(descriptor string, super *Class, l Layout) *Class {
	c := &Class{descriptor: descriptor, kind: KindInstance, super: super}
	off := uintptr(HeaderSize)
	if super != nil {
		off = super.objectSize
		c.refOffsets = append(c.refOffsets, super.refOffsets...)
	}
	for i := 0; i < l.RefFields; i++ {
		c.refOffsets = append(c.refOffsets, uint32(off))
		off += ReferenceSize
	}
	c.objectSize = math.AlignUp(off+l.PrimitiveBytes, ObjectAlignment)
	c.setStatics(l)
	return c
}

// NewArrayClass returns an array class with elements of kind component.
// PrimNot makes an array of references.
func NewArrayClass(descriptor string, super *Class, component Primitive) *Class {
	c := &Class{descriptor: descriptor, kind: KindPrimitiveArray, component: component, super: super}
	if component == PrimNot {
		c.kind = KindObjectArray
	}
	c.objectSize = ArrayDataOffset
	c.classObjectSize = ClassStaticsOffset
	return c
}

// NewClassClass returns the class of class objects.
func NewClassClass(descriptor string, super *Class) *Class {
	c := &Class{descriptor: descriptor, kind: KindClass, super: super}
	c.objectSize = ClassStaticsOffset
	c.classObjectSize = ClassStaticsOffset
	return c
}

func (c *Class) setStatics(l Layout) {
	off := uintptr(ClassStaticsOffset)
	for i := 0; i < l.StaticRefFields; i++ {
		c.staticRefOffsets = append(c.staticRefOffsets, uint32(off))
		off += ReferenceSize
	}
	c.classObjectSize = math.AlignUp(off+l.StaticPrimitiveBytes, ObjectAlignment)
}

func (c *Class) ID() uint32           { return c.id }
func (c *Class) Descriptor() string   { return c.descriptor }
func (c *Class) Kind() Kind           { return c.kind }
func (c *Class) Super() *Class        { return c.super }
func (c *Class) Component() Primitive { return c.component }

func (c *Class) IsArray() bool {
	return c.kind == KindObjectArray || c.kind == KindPrimitiveArray
}

func (c *Class) IsPrimitiveArray() bool { return c.kind == KindPrimitiveArray }
func (c *Class) IsObjectArray() bool    { return c.kind == KindObjectArray }
func (c *Class) IsClassClass() bool     { return c.kind == KindClass }

// ObjectSize is the size of an instance. For arrays it is the header size.
func (c *Class) ObjectSize() uintptr { return c.objectSize }

// ClassObjectSize is the size of the class object mirroring c.
func (c *Class) ClassObjectSize() uintptr { return c.classObjectSize }

// RefOffsets returns the offsets of the reference instance fields.
func (c *Class) RefOffsets() []uint32 { return c.refOffsets }

// StaticRefOffsets returns the offsets of the reference static fields
// within the class object.
func (c *Class) StaticRefOffsets() []uint32 { return c.staticRefOffsets }

// ArraySize returns the byte size of an array of c with n elements and
// whether the size overflowed.
func (c *Class) ArraySize(n uintptr) (uintptr, bool) {
	data, overflow := math.MulUintptr(n, c.component.ComponentSize())
	if overflow {
		return 0, true
	}
	size, overflow := math.AddUintptr(data, ArrayDataOffset+ObjectAlignment-1)
	if overflow {
		return 0, true
	}
	return size &^ (ObjectAlignment - 1), false
}

// IsAssignableFrom reports whether instances of src can be stored in a
// variable of type c.
func (c *Class) IsAssignableFrom(src *Class) bool {
	for k := src; k != nil; k = k.super {
		if k == c {
			return true
		}
	}
	return false
}

func (c *Class) Status() ClassStatus { return ClassStatus(c.status.Load()) }

// SetStatus moves c to s. Moving backwards, other than to StatusError,
// is an invariant violation.
func (c *Class) SetStatus(s ClassStatus) {
	for {
		old := c.status.Load()
		if s != StatusError && ClassStatus(old) != StatusError && s < ClassStatus(old) {
			panic(fmt.Sprintf("mirror: class %s status %v -> %v", c.descriptor, ClassStatus(old), s))
		}
		if c.status.CompareAndSwap(old, int32(s)) {
			return
		}
	}
}

// CompareAndSetStatus moves c from old to s if c is still in old.
func (c *Class) CompareAndSetStatus(old, s ClassStatus) bool {
	return c.status.CompareAndSwap(int32(old), int32(s))
}

// RestoreStatus forces c back to s. Only transactions rolling back a
// failed class initialization use it.
func (c *Class) RestoreStatus(s ClassStatus) {
	c.status.Store(int32(s))
}

func (c *Class) String() string {
	return c.descriptor
}
