// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package allocator implements the free-list allocators behind the
// malloc spaces.
//
// RosAlloc is a runs-of-slots allocator. The arena is managed in pages.
// Small requests are rounded up to a bracket size and served from a run:
// a group of pages cut into equal slots with an allocation bitmap.
// Requests above the largest bracket get whole pages. Each bracket has
// its own lock and current run, like a central free list; threads cache
// one run per small bracket and allocate from it without locking.
//
// Lock order: bracket lock, then the page lock.
package allocator

import (
	"errors"
	"fmt"
	"math/bits"
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
)

const (
	PageSize = mem.PageSize

	bracketQuantum         = 16
	numQuantumBrackets     = 32 // 16, 32, ..., 512
	numBrackets            = numQuantumBrackets + 2
	maxQuantumBracket      = bracketQuantum * numQuantumBrackets
	MaxBracketSize         = 2048
	maxThreadLocalSize     = 128
	NumThreadLocalBrackets = maxThreadLocalSize / bracketQuantum
)

// pageKind is the state of one arena page.
type pageKind uint8

const (
	pageReleased pageKind = iota // never used, or handed back to the OS
	pageEmpty                    // free
	pageRun                      // first page of a run
	pageRunPart                  // later page of a run
	pageLarge                    // first page of a large allocation
	pageLargePart                // later page of a large allocation
)

func bracketSize(idx int) uintptr {
	switch {
	case idx < numQuantumBrackets:
		return uintptr(idx+1) * bracketQuantum
	case idx == numQuantumBrackets:
		return 1024
	}
	return 2048
}

// sizeToIndex returns the bracket for size, which must not exceed
// MaxBracketSize.
func sizeToIndex(size uintptr) int {
	switch {
	case size <= maxQuantumBracket:
		if size == 0 {
			return 0
		}
		return int((size+bracketQuantum-1)/bracketQuantum) - 1
	case size <= 1024:
		return numQuantumBrackets
	}
	return numQuantumBrackets + 1
}

func numPagesOf(idx int) uintptr {
	return max(1, bracketSize(idx)*8/PageSize)
}

// A run is a group of pages cut into slots of one bracket.
type run struct {
	idx       int
	page      uintptr // first page
	numPages  uintptr
	numSlots  int
	allocBits []uint64
	free      atomic.Int32

	// Guarded by the bracket lock.
	threadLocal bool
	inNonFull   bool
}

func newRun(idx int, page uintptr) *run {
	n := int(numPagesOf(idx) * PageSize / bracketSize(idx))
	r := &run{idx: idx, page: page, numPages: numPagesOf(idx), numSlots: n}
	r.allocBits = make([]uint64, (n+63)/64)
	r.free.Store(int32(n))
	return r
}

// allocSlot claims a free slot and returns its index within the run.
func (r *run) allocSlot() (int, bool) {
	if r.free.Load() == 0 {
		return 0, false
	}
	for i := range r.allocBits {
		p := &r.allocBits[i]
		for {
			w := atomic.LoadUint64(p)
			bit := bits.TrailingZeros64(^w)
			slot := i*64 + bit
			if bit == 64 || slot >= r.numSlots {
				break
			}
			if atomic.CompareAndSwapUint64(p, w, w|1<<bit) {
				r.free.Add(-1)
				return slot, true
			}
		}
	}
	return 0, false
}

func (r *run) freeSlot(slot int) {
	mask := uint64(1) << (slot % 64)
	if atomic.AndUint64(&r.allocBits[slot/64], ^mask)&mask == 0 {
		panic(fmt.Sprintf("allocator: double free of slot %d in run at page %d", slot, r.page))
	}
	r.free.Add(1)
}

func (r *run) isEmpty() bool { return int(r.free.Load()) == r.numSlots }

type bracket struct {
	lock    sync.Mutex
	current *run
	nonFull []*run // ordered by address
}

// addNonFull and removeNonFull require the bracket lock.
func (b *bracket) addNonFull(r *run) {
	if r.inNonFull {
		return
	}
	i, _ := slices.BinarySearchFunc(b.nonFull, r.page, func(x *run, p uintptr) int { return cmpUintptr(x.page, p) })
	b.nonFull = slices.Insert(b.nonFull, i, r)
	r.inNonFull = true
}

func (b *bracket) removeNonFull(r *run) {
	if !r.inNonFull {
		return
	}
	i, ok := slices.BinarySearchFunc(b.nonFull, r.page, func(x *run, p uintptr) int { return cmpUintptr(x.page, p) })
	if ok {
		b.nonFull = slices.Delete(b.nonFull, i, i+1)
	}
	r.inNonFull = false
}

func cmpUintptr(a, b uintptr) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

const cacheLinePadSize = unsafe.Sizeof(cpu.CacheLinePad{})

type pageRange struct {
	page, n uintptr
}

// A ThreadCache holds one thread's runs for the small brackets.
// It must only be used by its thread, or while the thread is suspended.
type ThreadCache struct {
	owner *RosAlloc
	runs  [NumThreadLocalBrackets]*run
}

// RosAlloc allocates from an arena of mapped memory. Offsets it returns
// are relative to the start of the arena.
type RosAlloc struct {
	mm       *mem.MemMap
	capacity uintptr

	lock      sync.Mutex
	pageMap   []pageKind
	runs      []*run // indexed by page, set on every page of a run
	large     map[uintptr]uintptr
	freePages []pageRange // ordered and coalesced
	footprint uintptr     // bytes of arena ever used
	limit     uintptr     // footprint may not grow past this

	// the padding makes sure that each bracket lock gets its own cache line.
	brackets [numBrackets]struct {
		bracket
		pad [cacheLinePadSize - unsafe.Sizeof(bracket{})%cacheLinePadSize]byte
	}
}

// NewRosAlloc returns an allocator over the first capacity bytes of mm.
func NewRosAlloc(mm *mem.MemMap, capacity uintptr) *RosAlloc {
	capacity = math.AlignDown(min(capacity, mm.Len()), PageSize)
	n := capacity / PageSize
	return &RosAlloc{
		mm:       mm,
		capacity: capacity,
		limit:    capacity,
		pageMap:  make([]pageKind, n),
		runs:     make([]*run, n),
		large:    make(map[uintptr]uintptr),
	}
}

func (r *RosAlloc) NewThreadCache() *ThreadCache { return &ThreadCache{owner: r} }

// allocPages hands out npages contiguous pages. r.lock must be held.
func (r *RosAlloc) allocPages(npages uintptr, kind pageKind) (uintptr, bool) {
	page := ^uintptr(0)
	for i, fr := range r.freePages {
		if fr.n < npages {
			continue
		}
		page = fr.page
		if fr.n == npages {
			r.freePages = slices.Delete(r.freePages, i, i+1)
		} else {
			r.freePages[i] = pageRange{fr.page + npages, fr.n - npages}
		}
		break
	}
	if page == ^uintptr(0) {
		// 空闲页不够, 扩展footprint
		top := r.footprint / PageSize
		tail := uintptr(0)
		if n := len(r.freePages); n > 0 && r.freePages[n-1].page+r.freePages[n-1].n == top {
			// the last free range ends at the top: grow it in place
			tail = r.freePages[n-1].n
		}
		if (top-tail+npages)*PageSize > r.limit {
			return 0, false
		}
		if tail > 0 {
			r.freePages = r.freePages[:len(r.freePages)-1]
		}
		page = top - tail
		r.footprint = (page + npages) * PageSize
	}
	r.pageMap[page] = kind
	for i := page + 1; i < page+npages; i++ {
		r.pageMap[i] = kind + 1
	}
	return page, true
}

// freePagesLocked returns npages at page to the free page set.
func (r *RosAlloc) freePagesLocked(page, npages uintptr) {
	for i := page; i < page+npages; i++ {
		r.pageMap[i] = pageEmpty
		r.runs[i] = nil
	}
	i, _ := slices.BinarySearchFunc(r.freePages, page, func(fr pageRange, p uintptr) int { return cmpUintptr(fr.page, p) })
	r.freePages = slices.Insert(r.freePages, i, pageRange{page, npages})
	if i+1 < len(r.freePages) && r.freePages[i].page+r.freePages[i].n == r.freePages[i+1].page {
		r.freePages[i].n += r.freePages[i+1].n
		r.freePages = slices.Delete(r.freePages, i+1, i+2)
	}
	if i > 0 && r.freePages[i-1].page+r.freePages[i-1].n == r.freePages[i].page {
		r.freePages[i-1].n += r.freePages[i].n
		r.freePages = slices.Delete(r.freePages, i, i+1)
	}
}

// refillRun returns a run of bracket idx with free slots.
// The bracket lock must be held.
func (r *RosAlloc) refillRun(idx int) *run {
	b := &r.brackets[idx].bracket
	if len(b.nonFull) > 0 {
		rn := b.nonFull[0]
		b.removeNonFull(rn)
		return rn
	}
	r.lock.Lock()
	page, ok := r.allocPages(numPagesOf(idx), pageRun)
	var rn *run
	if ok {
		rn = newRun(idx, page)
		for i := page; i < page+rn.numPages; i++ {
			r.runs[i] = rn
		}
	}
	r.lock.Unlock()
	return rn
}

// Alloc allocates size bytes and returns the offset and the number of
// bytes actually taken. The memory is zeroed. tc may be nil.
func (r *RosAlloc) Alloc(tc *ThreadCache, size uintptr) (off, allocated uintptr, ok bool) {
	if size > MaxBracketSize {
		return r.allocLarge(size)
	}
	idx := sizeToIndex(size)
	bsize := bracketSize(idx)
	var rn *run
	var slot int
	if tc != nil && idx < NumThreadLocalBrackets {
		if tc.owner != r {
			panic("allocator: thread cache used with another RosAlloc")
		}
		rn, slot, ok = r.allocThreadLocal(tc, idx)
	} else {
		rn, slot, ok = r.allocShared(idx)
	}
	if !ok {
		return 0, 0, false
	}
	off = rn.page*PageSize + uintptr(slot)*bsize
	// 在锁外清零
	r.mm.Zero(off, bsize)
	return off, bsize, true
}

func (r *RosAlloc) allocThreadLocal(tc *ThreadCache, idx int) (*run, int, bool) {
	rn := tc.runs[idx]
	if rn != nil {
		if slot, ok := rn.allocSlot(); ok {
			return rn, slot, true
		}
	}
	b := &r.brackets[idx].bracket
	b.lock.Lock()
	if rn != nil {
		rn.threadLocal = false
		if rn.free.Load() > 0 {
			b.addNonFull(rn)
		}
	}
	rn = r.refillRun(idx)
	if rn != nil {
		rn.threadLocal = true
	}
	tc.runs[idx] = rn
	b.lock.Unlock()
	if rn == nil {
		return nil, 0, false
	}
	slot, ok := rn.allocSlot()
	return rn, slot, ok
}

func (r *RosAlloc) allocShared(idx int) (*run, int, bool) {
	b := &r.brackets[idx].bracket
	b.lock.Lock()
	defer b.lock.Unlock()
	for {
		if b.current != nil {
			if slot, ok := b.current.allocSlot(); ok {
				return b.current, slot, true
			}
		}
		b.current = r.refillRun(idx)
		if b.current == nil {
			return nil, 0, false
		}
	}
}

func (r *RosAlloc) allocLarge(size uintptr) (uintptr, uintptr, bool) {
	npages := math.DivRoundUp(size, PageSize)
	r.lock.Lock()
	page, ok := r.allocPages(npages, pageLarge)
	if ok {
		r.large[page] = npages
	}
	r.lock.Unlock()
	if !ok {
		return 0, 0, false
	}
	off := page * PageSize
	r.mm.Zero(off, npages*PageSize)
	return off, npages * PageSize, true
}

// Free frees the allocation at off and returns the bytes freed.
func (r *RosAlloc) Free(off uintptr) uintptr {
	return r.FreeList([]uintptr{off})
}

// FreeList frees every allocation in offs and returns the bytes freed.
func (r *RosAlloc) FreeList(offs []uintptr) uintptr {
	type slotRef struct {
		rn   *run
		slot int
	}
	var small []slotRef
	var freed uintptr
	r.lock.Lock()
	for _, off := range offs {
		page := off / PageSize
		switch r.pageMap[page] {
		case pageLarge:
			n := r.large[page]
			delete(r.large, page)
			r.freePagesLocked(page, n)
			freed += n * PageSize
		case pageRun, pageRunPart:
			rn := r.runs[page]
			small = append(small, slotRef{rn, int((off - rn.page*PageSize) / bracketSize(rn.idx))})
		default:
			r.lock.Unlock()
			panic(fmt.Sprintf("allocator: free of unallocated offset %#x", off))
		}
	}
	r.lock.Unlock()

	slices.SortFunc(small, func(a, b slotRef) int { return cmpUintptr(a.rn.page, b.rn.page) })
	for i := 0; i < len(small); {
		rn := small[i].rn
		b := &r.brackets[rn.idx].bracket
		b.lock.Lock()
		for ; i < len(small) && small[i].rn == rn; i++ {
			rn.freeSlot(small[i].slot)
			freed += bracketSize(rn.idx)
		}
		switch {
		case rn.threadLocal:
		case rn.isEmpty():
			if rn == b.current {
				b.current = nil
			}
			b.removeNonFull(rn)
			r.lock.Lock()
			r.freePagesLocked(rn.page, rn.numPages)
			r.lock.Unlock()
		case rn != b.current:
			b.addNonFull(rn)
		}
		b.lock.Unlock()
	}
	return freed
}

// RevokeThreadCache returns tc's runs to their brackets and reports the
// free bytes they still held.
func (r *RosAlloc) RevokeThreadCache(tc *ThreadCache) uintptr {
	if tc == nil {
		return 0
	}
	var unused uintptr
	for idx, rn := range tc.runs {
		if rn == nil {
			continue
		}
		b := &r.brackets[idx].bracket
		b.lock.Lock()
		rn.threadLocal = false
		unused += uintptr(rn.free.Load()) * bracketSize(idx)
		switch {
		case rn.isEmpty():
			r.lock.Lock()
			r.freePagesLocked(rn.page, rn.numPages)
			r.lock.Unlock()
		case rn.free.Load() > 0:
			b.addNonFull(rn)
		}
		b.lock.Unlock()
		tc.runs[idx] = nil
	}
	return unused
}

// UsableSize returns the bytes reserved for the allocation at off.
func (r *RosAlloc) UsableSize(off uintptr) uintptr {
	page := off / PageSize
	r.lock.Lock()
	defer r.lock.Unlock()
	switch r.pageMap[page] {
	case pageLarge:
		return r.large[page] * PageSize
	case pageRun, pageRunPart:
		return bracketSize(r.runs[page].idx)
	}
	return 0
}

// Footprint returns the bytes of arena handed out so far.
func (r *RosAlloc) Footprint() uintptr {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.footprint
}

func (r *RosAlloc) Capacity() uintptr { return r.capacity }

// SetFootprintLimit bounds future growth of the footprint. A limit
// below the current footprint stops growth without shrinking anything.
func (r *RosAlloc) SetFootprintLimit(limit uintptr) {
	r.lock.Lock()
	r.limit = min(math.AlignUp(limit, PageSize), r.capacity)
	r.lock.Unlock()
}

func (r *RosAlloc) FootprintLimit() uintptr {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.limit
}

// LargestFreeContiguous returns the largest allocation that could be
// served without growing the footprint past capacity.
func (r *RosAlloc) LargestFreeContiguous() uintptr {
	r.lock.Lock()
	defer r.lock.Unlock()
	var grow uintptr
	if r.limit > r.footprint {
		grow = r.limit - r.footprint
	}
	best := grow
	for i, fr := range r.freePages {
		n := fr.n * PageSize
		if i == len(r.freePages)-1 && (fr.page+fr.n)*PageSize == r.footprint {
			n += grow
		}
		best = max(best, n)
	}
	return best
}

// Trim hands free pages back to the OS and shrinks the footprint when
// its tail is free. It returns the bytes released.
func (r *RosAlloc) Trim() uintptr {
	r.lock.Lock()
	defer r.lock.Unlock()
	var released uintptr
	if n := len(r.freePages); n > 0 {
		last := r.freePages[n-1]
		if (last.page+last.n)*PageSize == r.footprint {
			r.footprint = last.page * PageSize
			r.freePages = r.freePages[:n-1]
			for i := last.page; i < last.page+last.n; i++ {
				r.pageMap[i] = pageReleased
			}
			r.mm.Release(last.page*PageSize, last.n*PageSize)
			released += last.n * PageSize
		}
	}
	for _, fr := range r.freePages {
		released += r.mm.Release(fr.page*PageSize, fr.n*PageSize)
	}
	return released
}

var errCorrupt = errors.New("allocator: rosalloc metadata corrupt")

// Verify checks the page map and run bookkeeping. Mutators must be
// suspended.
func (r *RosAlloc) Verify() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for page := uintptr(0); page < r.footprint/PageSize; {
		switch r.pageMap[page] {
		case pageRun:
			rn := r.runs[page]
			if rn == nil || rn.page != page {
				return fmt.Errorf("%w: page %d has no run", errCorrupt, page)
			}
			set := 0
			for _, w := range rn.allocBits {
				set += bits.OnesCount64(w)
			}
			if set+int(rn.free.Load()) != rn.numSlots {
				return fmt.Errorf("%w: run at page %d has %d allocated and %d free of %d slots",
					errCorrupt, page, set, rn.free.Load(), rn.numSlots)
			}
			page += rn.numPages
		case pageLarge:
			n, ok := r.large[page]
			if !ok {
				return fmt.Errorf("%w: large page %d not recorded", errCorrupt, page)
			}
			page += n
		case pageEmpty, pageReleased:
			page++
		default:
			return fmt.Errorf("%w: page %d is a stray continuation page", errCorrupt, page)
		}
	}
	return nil
}
