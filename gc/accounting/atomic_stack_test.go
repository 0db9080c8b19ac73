// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package accounting

import (
	"slices"
	"sync"
	"testing"

	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

func TestAtomicPushBackBounded(t *testing.T) {
	s := NewObjectStack("allocation stack", 1000, false)
	var wg sync.WaitGroup
	var mu sync.Mutex
	pushed := 0
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if s.AtomicPushBack(mirror.Address(0x1000 + 8*(g*200+i))) {
					mu.Lock()
					pushed++
					mu.Unlock()
				}
			}
		}(g)
	}
	wg.Wait()
	if pushed != 1000 || s.Size() != 1000 || !s.IsFull() {
		t.Fatalf("pushed %d, size %d", pushed, s.Size())
	}
	if s.AtomicPushBack(8) {
		t.Errorf("push onto a full stack succeeded")
	}
	objs := s.Objects()
	slices.Sort(objs)
	if len(slices.Compact(objs)) != 1000 {
		t.Errorf("duplicate entries on the stack")
	}
}

func TestStackOps(t *testing.T) {
	s := NewObjectStack("mark stack", 2, true)
	for _, a := range []mirror.Address{0x30, 0x10, 0x20} {
		s.PushBack(a)
	}
	if s.Capacity() < 3 {
		t.Errorf("growable stack did not grow")
	}
	if !s.Contains(0x10) || s.Contains(0x40) {
		t.Errorf("unsorted Contains is wrong")
	}
	s.Sort()
	if !s.Contains(0x20) || s.Contains(0x18) {
		t.Errorf("sorted Contains is wrong")
	}
	if got := s.PopBack(); got != 0x30 {
		t.Errorf("PopBack = %v, want 0x30", got)
	}
	o := NewObjectStack("live stack", 2, true)
	s.Swap(o)
	if s.Size() != 0 || o.Size() != 2 {
		t.Errorf("Swap sizes %d, %d", s.Size(), o.Size())
	}
	o.Reset()
	if !o.IsEmpty() {
		t.Errorf("Reset left entries")
	}
}
