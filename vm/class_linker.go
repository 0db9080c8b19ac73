// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MotorolaMobilityLLC/art-sub006/gc"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

var (
	ErrNoSuchClass   = errors.New("vm: no such class")
	ErrNotInstance   = errors.New("vm: class is not instantiable")
	ErrNotArray      = errors.New("vm: class is not an array class")
	ErrClassError    = errors.New("vm: class is in the error state")
	ErrNotLinked     = errors.New("vm: class linker is not attached to a heap")
	ErrAlreadyLinked = errors.New("vm: class linker is already attached to a heap")
)

// Bootstrap class descriptors.
const (
	ObjectDescriptor      = "Ljava/lang/Object;"
	ClassDescriptor       = "Ljava/lang/Class;"
	ObjectArrayDescriptor = "[Ljava/lang/Object;"
)

// An Initializer runs a class's static initializer. classObj is the
// class object holding the statics.
type Initializer func(self *gc.Thread, c *mirror.Class, classObj mirror.Address) error

// A ClassLinker defines classes and allocates their instances. The
// bootstrap classes are registered by NewClassLinker. Their class
// objects are allocated when the linker is attached to a heap.
type ClassLinker struct {
	ct *mirror.ClassTable
	h  *gc.Heap

	object, class, objectArray *mirror.Class
	primitiveArrays            [mirror.PrimDouble + 1]*mirror.Class

	// initMu serializes class initialization.
	initMu sync.Mutex
}

func NewClassLinker() *ClassLinker {
	l := &ClassLinker{ct: mirror.NewClassTable()}
	l.object = mirror.NewInstanceClass(ObjectDescriptor, nil, mirror.Layout{})
	l.class = mirror.NewClassClass(ClassDescriptor, l.object)
	l.objectArray = mirror.NewArrayClass(ObjectArrayDescriptor, l.object, mirror.PrimNot)
	boot := []*mirror.Class{l.object, l.class, l.objectArray}
	for p := mirror.PrimBoolean; p <= mirror.PrimDouble; p++ {
		c := mirror.NewArrayClass("["+string(p.Descriptor()), l.object, p)
		l.primitiveArrays[p] = c
		boot = append(boot, c)
	}
	for _, c := range boot {
		if _, err := l.ct.Register(c); err != nil {
			panic(err)
		}
		c.SetStatus(mirror.StatusLoaded)
	}
	return l
}

// Classes returns the linker's class table, to be handed to gc.New.
func (l *ClassLinker) Classes() *mirror.ClassTable { return l.ct }

func (l *ClassLinker) Heap() *gc.Heap { return l.h }

// Attach allocates the class objects of every class registered so far
// and marks the bootstrap classes initialized.
func (l *ClassLinker) Attach(self *gc.Thread, h *gc.Heap) error {
	if l.h != nil {
		return ErrAlreadyLinked
	}
	if h.Classes() != l.ct {
		return fmt.Errorf("vm: heap uses a different class table")
	}
	l.h = h
	for _, c := range l.ct.Classes() {
		if c.Object != 0 {
			continue
		}
		if err := l.allocClassObject(self, c); err != nil {
			return fmt.Errorf("vm: bootstrapping %s: %w", c.Descriptor(), err)
		}
		l.setStatus(c, mirror.StatusInitialized)
	}
	return nil
}

func (l *ClassLinker) ObjectClass() *mirror.Class      { return l.object }
func (l *ClassLinker) ClassClass() *mirror.Class       { return l.class }
func (l *ClassLinker) ObjectArrayClass() *mirror.Class { return l.objectArray }

// PrimitiveArrayClass returns the array class with elements of kind p.
func (l *ClassLinker) PrimitiveArrayClass(p mirror.Primitive) *mirror.Class {
	if p == mirror.PrimNot || int(p) >= len(l.primitiveArrays) {
		return nil
	}
	return l.primitiveArrays[p]
}

func (l *ClassLinker) FindClass(descriptor string) (*mirror.Class, error) {
	if c := l.ct.FindClass(descriptor); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchClass, descriptor)
}

// DefineClass registers an instance class extending super and allocates
// its class object in the non-moving space. The class is left resolved.
func (l *ClassLinker) DefineClass(self *gc.Thread, descriptor, super string, layout mirror.Layout) (*mirror.Class, error) {
	if l.h == nil {
		return nil, ErrNotLinked
	}
	sc, err := l.FindClass(super)
	if err != nil {
		return nil, err
	}
	if sc.Kind() != mirror.KindInstance {
		return nil, fmt.Errorf("%w: %s cannot be extended", ErrNotInstance, super)
	}
	c := mirror.NewInstanceClass(descriptor, sc, layout)
	if _, err := l.ct.Register(c); err != nil {
		return nil, err
	}
	l.setStatus(c, mirror.StatusLoaded)
	if err := l.allocClassObject(self, c); err != nil {
		l.setStatus(c, mirror.StatusError)
		return nil, fmt.Errorf("vm: defining %s: %w", descriptor, err)
	}
	l.setStatus(c, mirror.StatusResolved)
	return c, nil
}

// DefineArrayClass registers the array class of component elements.
func (l *ClassLinker) DefineArrayClass(self *gc.Thread, component *mirror.Class) (*mirror.Class, error) {
	if l.h == nil {
		return nil, ErrNotLinked
	}
	d := "[" + component.Descriptor()
	if c := l.ct.FindClass(d); c != nil {
		return c, nil
	}
	c := mirror.NewArrayClass(d, l.object, mirror.PrimNot)
	if _, err := l.ct.Register(c); err != nil {
		if errors.Is(err, mirror.ErrDuplicateClass) {
			return l.FindClass(d)
		}
		return nil, err
	}
	if err := l.allocClassObject(self, c); err != nil {
		l.setStatus(c, mirror.StatusError)
		return nil, fmt.Errorf("vm: defining %s: %w", d, err)
	}
	l.setStatus(c, mirror.StatusInitialized)
	return c, nil
}

func (l *ClassLinker) allocClassObject(self *gc.Thread, c *mirror.Class) error {
	h := l.h
	_, err := h.AllocNonMovableObject(self, l.class, c.ClassObjectSize(), func(obj mirror.Address, _ uintptr) {
		h.Memory().Store(obj+mirror.ClassMirrorOffset, uint64(c.ID()))
		c.Object = obj
	})
	return err
}

// setStatus moves c to s, first recording the old status in the heap's
// open transaction.
func (l *ClassLinker) setStatus(c *mirror.Class, s mirror.ClassStatus) {
	if l.h != nil {
		if tx := l.h.ActiveTransaction(); tx != nil {
			tx.RecordClassStatus(c)
		}
	}
	c.SetStatus(s)
}

// AllocObject allocates an instance of c with its fields zeroed.
func (l *ClassLinker) AllocObject(self *gc.Thread, c *mirror.Class) (mirror.Address, error) {
	if l.h == nil {
		return 0, ErrNotLinked
	}
	switch {
	case c.Kind() != mirror.KindInstance:
		return 0, fmt.Errorf("%w: %s", ErrNotInstance, c.Descriptor())
	case c.Status() == mirror.StatusError:
		return 0, fmt.Errorf("%w: %s", ErrClassError, c.Descriptor())
	}
	return l.h.AllocObject(self, c, c.ObjectSize(), nil)
}

// AllocArray allocates an array of n elements of the array class c. The
// length is set before the array becomes visible. A length whose size
// does not fit in the address space fails with gc.ErrOutOfMemory.
func (l *ClassLinker) AllocArray(self *gc.Thread, c *mirror.Class, n int) (mirror.Address, error) {
	if l.h == nil {
		return 0, ErrNotLinked
	}
	if !c.IsArray() {
		return 0, fmt.Errorf("%w: %s", ErrNotArray, c.Descriptor())
	}
	if n < 0 {
		return 0, fmt.Errorf("vm: negative array size %d", n)
	}
	size, overflow := c.ArraySize(uintptr(n))
	if overflow {
		return 0, fmt.Errorf("%w: %s of length %d exceeds the addressable size", gc.ErrOutOfMemory, c.Descriptor(), n)
	}
	mem := l.h.Memory()
	return l.h.AllocObject(self, c, size, func(obj mirror.Address, _ uintptr) {
		mirror.SetArrayLength(mem, obj, uintptr(n))
	})
}

// InitializeClass runs init for c once, after initializing c's
// superclasses. A failed initializer leaves the class in the error
// state. InitializeClass must not be called from a runnable section.
func (l *ClassLinker) InitializeClass(self *gc.Thread, c *mirror.Class, init Initializer) error {
	if l.h == nil {
		return ErrNotLinked
	}
	l.initMu.Lock()
	defer l.initMu.Unlock()
	return l.initializeLocked(self, c, init, true)
}

func (l *ClassLinker) initializeLocked(self *gc.Thread, c *mirror.Class, init Initializer, markError bool) error {
	switch c.Status() {
	case mirror.StatusInitialized:
		return nil
	case mirror.StatusError:
		return fmt.Errorf("%w: %s", ErrClassError, c.Descriptor())
	}
	if s := c.Super(); s != nil {
		if err := l.initializeLocked(self, s, nil, markError); err != nil {
			return err
		}
	}
	if c.Status() < mirror.StatusVerified {
		l.setStatus(c, mirror.StatusVerified)
	}
	l.setStatus(c, mirror.StatusInitializing)
	if init != nil {
		if err := init(self, c, c.Object); err != nil {
			if markError {
				l.setStatus(c, mirror.StatusError)
			}
			return fmt.Errorf("vm: initializing %s: %w", c.Descriptor(), err)
		}
	}
	l.setStatus(c, mirror.StatusInitialized)
	return nil
}

func (l *ClassLinker) staticRefSlot(c *mirror.Class, i int) uintptr {
	offs := c.StaticRefOffsets()
	if i < 0 || i >= len(offs) {
		panic(fmt.Sprintf("vm: %s has no static reference field %d", c.Descriptor(), i))
	}
	return uintptr(offs[i])
}

func (l *ClassLinker) staticWordSlot(c *mirror.Class, i int) uintptr {
	off := mirror.ClassStaticsOffset + uintptr(len(c.StaticRefOffsets()))*mirror.ReferenceSize + uintptr(i)*8
	if i < 0 || off+8 > c.ClassObjectSize() {
		panic(fmt.Sprintf("vm: %s has no static primitive word %d", c.Descriptor(), i))
	}
	return off
}

// SetStaticObject stores v in c's i'th static reference field.
func (l *ClassLinker) SetStaticObject(self *gc.Thread, c *mirror.Class, i int, v mirror.Address) {
	l.h.SetFieldObject(self, c.Object, l.staticRefSlot(c, i), v)
}

func (l *ClassLinker) StaticObject(self *gc.Thread, c *mirror.Class, i int) mirror.Address {
	return l.h.GetFieldObject(self, c.Object, l.staticRefSlot(c, i))
}

// SetStatic64 stores v in c's i'th 8-byte static primitive word.
func (l *ClassLinker) SetStatic64(self *gc.Thread, c *mirror.Class, i int, v uint64) {
	l.h.SetField64(self, c.Object, l.staticWordSlot(c, i), v)
}

func (l *ClassLinker) Static64(self *gc.Thread, c *mirror.Class, i int) uint64 {
	return l.h.GetField64(self, c.Object, l.staticWordSlot(c, i))
}
