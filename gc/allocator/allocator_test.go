// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package allocator

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
)

func newArena(t *testing.T, size uintptr) *mem.MemMap {
	t.Helper()
	mm, err := mem.MapAnonymous("test arena", size)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mm.Unmap() })
	return mm
}

func allocators(t *testing.T, size uintptr) map[string]Allocator {
	return map[string]Allocator{
		"rosalloc": NewRosAlloc(newArena(t, size), size),
		"dlmalloc": NewDlMalloc(newArena(t, size), size),
	}
}

func TestBracketSizes(t *testing.T) {
	for size := uintptr(1); size <= MaxBracketSize; size++ {
		idx := sizeToIndex(size)
		if bs := bracketSize(idx); bs < size {
			t.Fatalf("sizeToIndex(%d) = %d with bracket size %d", size, idx, bs)
		}
		if idx > 0 && bracketSize(idx-1) >= size {
			t.Fatalf("sizeToIndex(%d) = %d, smaller bracket %d fits", size, idx, bracketSize(idx-1))
		}
	}
	if got := numPagesOf(sizeToIndex(2048)); got != 4 {
		t.Errorf("pages per 2KB run = %d, want 4", got)
	}
}

func TestAllocFree(t *testing.T) {
	for name, a := range allocators(t, 1<<20) {
		t.Run(name, func(t *testing.T) {
			sizes := []uintptr{8, 16, 24, 100, 513, 2000, 3000, 9000}
			offs := make([]uintptr, len(sizes))
			for i, size := range sizes {
				off, n, ok := a.Alloc(nil, size)
				if !ok {
					t.Fatalf("Alloc(%d) failed", size)
				}
				if n < size || a.UsableSize(off) != n {
					t.Errorf("Alloc(%d) = %d bytes, UsableSize = %d", size, n, a.UsableSize(off))
				}
				for j := 0; j < i; j++ {
					if offs[j] == off {
						t.Fatalf("Alloc(%d) reused live offset %#x", size, off)
					}
				}
				offs[i] = off
			}
			if err := a.Verify(); err != nil {
				t.Fatal(err)
			}
			var want uintptr
			for _, off := range offs {
				want += a.UsableSize(off)
			}
			if got := a.FreeList(offs); got != want {
				t.Errorf("FreeList freed %d bytes, want %d", got, want)
			}
			if err := a.Verify(); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestAllocZeroed(t *testing.T) {
	for name, a := range allocators(t, 1<<16) {
		t.Run(name, func(t *testing.T) {
			var mm *mem.MemMap
			switch a := a.(type) {
			case *RosAlloc:
				mm = a.mm
			case *DlMalloc:
				mm = a.mm
			}
			off, n, _ := a.Alloc(nil, 64)
			for i := uintptr(0); i < n; i++ {
				mm.Bytes()[off+i] = 0xff
			}
			a.Free(off)
			off, n, _ = a.Alloc(nil, 64)
			for i := uintptr(0); i < n; i++ {
				if mm.Bytes()[off+i] != 0 {
					t.Fatalf("byte %d of reused allocation is %#x", i, mm.Bytes()[off+i])
				}
			}
		})
	}
}

func TestExhaustion(t *testing.T) {
	for name, a := range allocators(t, 64<<10) {
		t.Run(name, func(t *testing.T) {
			var total uintptr
			for {
				_, n, ok := a.Alloc(nil, 4096)
				if !ok {
					break
				}
				total += n
			}
			if total == 0 || total > 64<<10 {
				t.Errorf("allocated %d bytes from a 64KB arena", total)
			}
			if got := a.LargestFreeContiguous(); got >= 4096 {
				t.Errorf("LargestFreeContiguous = %d after exhaustion", got)
			}
		})
	}
}

func TestFootprintLimit(t *testing.T) {
	for name, a := range allocators(t, 1<<20) {
		t.Run(name, func(t *testing.T) {
			a.SetFootprintLimit(8192)
			if _, _, ok := a.Alloc(nil, 3*4096); ok {
				t.Fatal("allocation past the footprint limit succeeded")
			}
			a.SetFootprintLimit(1 << 20)
			if _, _, ok := a.Alloc(nil, 3*4096); !ok {
				t.Fatal("allocation below the raised limit failed")
			}
		})
	}
}

func TestGrowFreeTail(t *testing.T) {
	for name, a := range allocators(t, 3*PageSize) {
		t.Run(name, func(t *testing.T) {
			if _, _, ok := a.Alloc(nil, PageSize); !ok {
				t.Fatal("first page allocation failed")
			}
			second, _, ok := a.Alloc(nil, PageSize)
			if !ok {
				t.Fatal("second page allocation failed")
			}
			a.Free(second)
			if got := a.LargestFreeContiguous(); got != 2*PageSize {
				t.Fatalf("LargestFreeContiguous = %d, want %d", got, 2*PageSize)
			}
			off, n, ok := a.Alloc(nil, 2*PageSize)
			if !ok {
				t.Fatal("2-page allocation over the free tail failed")
			}
			if off != second || n != 2*PageSize {
				t.Errorf("Alloc(2 pages) = %#x, %d; want %#x, %d", off, n, second, 2*PageSize)
			}
			if got := a.Footprint(); got != 3*PageSize {
				t.Errorf("Footprint = %d, want %d", got, 3*PageSize)
			}
			if _, _, ok := a.Alloc(nil, 16); ok {
				t.Error("allocation from a full arena succeeded")
			}
		})
	}
}

func TestTrim(t *testing.T) {
	for name, a := range allocators(t, 1<<20) {
		t.Run(name, func(t *testing.T) {
			off, _, _ := a.Alloc(nil, 64<<10)
			if a.Footprint() < 64<<10 {
				t.Fatalf("Footprint = %d after a 64KB allocation", a.Footprint())
			}
			a.Free(off)
			a.Trim()
			if got := a.Footprint(); got != 0 {
				t.Errorf("Footprint = %d after freeing everything and trimming", got)
			}
		})
	}
}

func TestThreadCache(t *testing.T) {
	a := NewRosAlloc(newArena(t, 4<<20), 4<<20)
	var wg sync.WaitGroup
	perThread := make([][]uintptr, 8)
	for i := range perThread {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tc := a.NewThreadCache()
			r := rand.New(rand.NewSource(int64(i)))
			for j := 0; j < 2000; j++ {
				off, _, ok := a.Alloc(tc, uintptr(8+r.Intn(200)))
				if !ok {
					t.Errorf("thread %d: allocation %d failed", i, j)
					return
				}
				perThread[i] = append(perThread[i], off)
			}
			a.RevokeThreadCache(tc)
		}(i)
	}
	wg.Wait()
	seen := make(map[uintptr]bool)
	for _, offs := range perThread {
		for _, off := range offs {
			if seen[off] {
				t.Fatalf("offset %#x handed out twice", off)
			}
			seen[off] = true
		}
	}
	if err := a.Verify(); err != nil {
		t.Fatal(err)
	}
	for _, offs := range perThread {
		a.FreeList(offs)
	}
	a.Trim()
	if got := a.Footprint(); got != 0 {
		t.Errorf("Footprint = %d after freeing every allocation", got)
	}
}

func TestRevokeIdempotent(t *testing.T) {
	a := NewRosAlloc(newArena(t, 1<<20), 1<<20)
	tc := a.NewThreadCache()
	off, n, _ := a.Alloc(tc, 32)
	first := a.RevokeThreadCache(tc)
	if first == 0 {
		t.Errorf("revoking a partly used run reported no unused bytes")
	}
	if second := a.RevokeThreadCache(tc); second != 0 {
		t.Errorf("second revoke reported %d bytes", second)
	}
	if got := a.Free(off); got != n {
		t.Errorf("Free = %d, want %d", got, n)
	}
}
