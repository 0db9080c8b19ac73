// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mirror

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrDuplicateClass = errors.New("mirror: duplicate class descriptor")

// A ClassTable hands out the ids stored in object class words. Id 0 is
// never used, so a zero class word marks memory that holds no object.
// Lookups are lock free.
type ClassTable struct {
	mu           sync.Mutex
	classes      atomic.Pointer[[]*Class]
	byDescriptor map[string]*Class
	classClass   atomic.Pointer[Class]
}

func NewClassTable() *ClassTable {
	ct := &ClassTable{byDescriptor: make(map[string]*Class)}
	empty := []*Class{nil}
	ct.classes.Store(&empty)
	return ct
}

// Register assigns c the next id. The first KindClass class registered
// becomes the class of class objects.
func (ct *ClassTable) Register(c *Class) (uint32, error) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if _, ok := ct.byDescriptor[c.descriptor]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateClass, c.descriptor)
	}
	old := *ct.classes.Load()
	next := make([]*Class, len(old), len(old)+1)
	copy(next, old)
	c.id = uint32(len(next))
	next = append(next, c)
	ct.classes.Store(&next)
	ct.byDescriptor[c.descriptor] = c
	if c.kind == KindClass && ct.classClass.Load() == nil {
		ct.classClass.Store(c)
	}
	return c.id, nil
}

// Lookup returns the class with the given id, or nil.
func (ct *ClassTable) Lookup(id uint32) *Class {
	classes := *ct.classes.Load()
	if id == 0 || int(id) >= len(classes) {
		return nil
	}
	return classes[id]
}

// FindClass returns the class registered under descriptor, or nil.
func (ct *ClassTable) FindClass(descriptor string) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return ct.byDescriptor[descriptor]
}

// ClassClass returns the class of class objects, or nil before bootstrap.
func (ct *ClassTable) ClassClass() *Class { return ct.classClass.Load() }

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int { return len(*ct.classes.Load()) - 1 }

// Classes returns the registered classes in id order.
func (ct *ClassTable) Classes() []*Class {
	return (*ct.classes.Load())[1:]
}

// VisitRoots calls fn with the class object slot of every class.
// Mutators must be suspended.
func (ct *ClassTable) VisitRoots(fn func(root *Address)) {
	for _, c := range ct.Classes() {
		if c.Object != 0 {
			fn(&c.Object)
		}
	}
}
