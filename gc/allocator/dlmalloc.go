// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package allocator

import (
	"fmt"
	"slices"
	"sync"

	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
)

// DlMalloc is a first-fit chunk allocator with boundary coalescing.
// Chunks are multiples of dlAlign. Memory past top has never been used.
type DlMalloc struct {
	mm *mem.MemMap

	lock  sync.Mutex
	free  []chunk // ordered by offset, never adjacent
	used  map[uintptr]uintptr
	top   uintptr
	limit uintptr
}

const dlAlign = 16

type chunk struct {
	off, n uintptr
}

func NewDlMalloc(mm *mem.MemMap, capacity uintptr) *DlMalloc {
	capacity = math.AlignDown(min(capacity, mm.Len()), PageSize)
	return &DlMalloc{mm: mm, used: make(map[uintptr]uintptr), limit: capacity}
}

// NewThreadCache returns nil; DlMalloc has no thread-local state.
func (d *DlMalloc) NewThreadCache() *ThreadCache { return nil }

func (d *DlMalloc) RevokeThreadCache(*ThreadCache) uintptr { return 0 }

func (d *DlMalloc) Alloc(_ *ThreadCache, size uintptr) (off, allocated uintptr, ok bool) {
	n := math.AlignUp(max(size, dlAlign), dlAlign)
	d.lock.Lock()
	off, ok = d.take(n)
	if ok {
		d.used[off] = n
	}
	d.lock.Unlock()
	if !ok {
		return 0, 0, false
	}
	d.mm.Zero(off, n)
	return off, n, true
}

func (d *DlMalloc) take(n uintptr) (uintptr, bool) {
	for i, c := range d.free {
		if c.n < n {
			continue
		}
		if c.n == n {
			d.free = slices.Delete(d.free, i, i+1)
		} else {
			d.free[i] = chunk{c.off + n, c.n - n}
		}
		return c.off, true
	}
	// 从top切一块
	off := d.top
	last := len(d.free) - 1
	if last >= 0 && d.free[last].off+d.free[last].n == d.top {
		// the last free chunk ends at top: grow it
		off = d.free[last].off
	}
	if off+n > d.limit {
		return 0, false
	}
	if off != d.top {
		d.free = d.free[:last]
	}
	d.top = off + n
	return off, true
}

func (d *DlMalloc) Free(off uintptr) uintptr { return d.FreeList([]uintptr{off}) }

func (d *DlMalloc) FreeList(offs []uintptr) uintptr {
	d.lock.Lock()
	defer d.lock.Unlock()
	var freed uintptr
	for _, off := range offs {
		n, ok := d.used[off]
		if !ok {
			panic(fmt.Sprintf("allocator: free of unallocated chunk %#x", off))
		}
		delete(d.used, off)
		d.insertFree(chunk{off, n})
		freed += n
	}
	return freed
}

func (d *DlMalloc) insertFree(c chunk) {
	i, _ := slices.BinarySearchFunc(d.free, c.off, func(x chunk, off uintptr) int { return cmpUintptr(x.off, off) })
	d.free = slices.Insert(d.free, i, c)
	if i+1 < len(d.free) && d.free[i].off+d.free[i].n == d.free[i+1].off {
		d.free[i].n += d.free[i+1].n
		d.free = slices.Delete(d.free, i+1, i+2)
	}
	if i > 0 && d.free[i-1].off+d.free[i-1].n == d.free[i].off {
		d.free[i-1].n += d.free[i].n
		d.free = slices.Delete(d.free, i, i+1)
	}
}

func (d *DlMalloc) UsableSize(off uintptr) uintptr {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.used[off]
}

// Footprint returns the bytes below top.
func (d *DlMalloc) Footprint() uintptr {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.top
}

func (d *DlMalloc) Capacity() uintptr { return math.AlignDown(d.mm.Len(), PageSize) }

func (d *DlMalloc) SetFootprintLimit(limit uintptr) {
	d.lock.Lock()
	d.limit = min(math.AlignUp(limit, PageSize), d.Capacity())
	d.lock.Unlock()
}

func (d *DlMalloc) FootprintLimit() uintptr {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.limit
}

func (d *DlMalloc) LargestFreeContiguous() uintptr {
	d.lock.Lock()
	defer d.lock.Unlock()
	var grow uintptr
	if d.limit > d.top {
		grow = d.limit - d.top
	}
	best := grow
	for i, c := range d.free {
		n := c.n
		if i == len(d.free)-1 && c.off+c.n == d.top {
			n += grow
		}
		best = max(best, n)
	}
	return best
}

// Trim lowers top over a free tail chunk and releases free pages.
func (d *DlMalloc) Trim() uintptr {
	d.lock.Lock()
	defer d.lock.Unlock()
	var released uintptr
	if n := len(d.free); n > 0 && d.free[n-1].off+d.free[n-1].n == d.top {
		last := d.free[n-1]
		d.free = d.free[:n-1]
		d.top = last.off
		d.mm.Release(last.off, last.n)
		released += last.n
	}
	for _, c := range d.free {
		released += d.mm.Release(c.off, c.n)
	}
	return released
}

func (d *DlMalloc) Verify() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	var prev uintptr
	for i, c := range d.free {
		if i > 0 && c.off <= prev {
			return fmt.Errorf("%w: free chunk %#x out of order", errCorrupt, c.off)
		}
		if c.off+c.n > d.top {
			return fmt.Errorf("%w: free chunk %#x past top %#x", errCorrupt, c.off, d.top)
		}
		if _, ok := d.used[c.off]; ok {
			return fmt.Errorf("%w: chunk %#x both free and in use", errCorrupt, c.off)
		}
		prev = c.off + c.n
	}
	return nil
}
