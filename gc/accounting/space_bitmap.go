// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package accounting holds the side tables the collectors keep about the
// heap: liveness bitmaps, the card table and the object stacks.
package accounting

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

const bitsPerWord = 64

// An Alignment is the distance between two bits of a SpaceBitmap.
type Alignment interface {
	Bytes() uintptr
}

// ObjectAlignment gives one bit per object alignment slot.
type ObjectAlignment struct{}

func (ObjectAlignment) Bytes() uintptr { return mirror.ObjectAlignment }

// LargeObjectAlignment gives one bit per page.
type LargeObjectAlignment struct{}

func (LargeObjectAlignment) Bytes() uintptr { return mem.PageSize }

type (
	ContinuousSpaceBitmap = SpaceBitmap[ObjectAlignment]
	LargeObjectBitmap     = SpaceBitmap[LargeObjectAlignment]
)

// A SpaceBitmap has one bit for every A-aligned address in
// [HeapBegin, HeapBegin+HeapSize). Bit i of word w covers
// HeapBegin + (w*64+i)*A. All bit updates are atomic.
type SpaceBitmap[A Alignment] struct {
	name      string
	mm        *mem.MemMap
	all       []uint64 // backing words
	words     []uint64 // words in use
	heapBegin mirror.Address
	heapLimit mirror.Address
	align     uintptr
}

func alignmentOf[A Alignment]() uintptr {
	var a A
	return a.Bytes()
}

// ComputeBitmapSize returns the number of bitmap bytes needed to cover
// capacity bytes of heap.
func ComputeBitmapSize[A Alignment](capacity uintptr) uintptr {
	return math.DivRoundUp(capacity, alignmentOf[A]()*bitsPerWord) * 8
}

// ComputeHeapSize returns the number of heap bytes covered by bitmapBytes.
func ComputeHeapSize[A Alignment](bitmapBytes uintptr) uintptr {
	return bitmapBytes * 8 * alignmentOf[A]()
}

// CreateSpaceBitmap maps a cleared bitmap covering heapCapacity bytes
// from heapBegin.
func CreateSpaceBitmap[A Alignment](name string, heapBegin mirror.Address, heapCapacity uintptr) (*SpaceBitmap[A], error) {
	size := ComputeBitmapSize[A](heapCapacity)
	mm, err := mem.MapAnonymous(name, size)
	if err != nil {
		return nil, fmt.Errorf("accounting: create bitmap: %w", err)
	}
	all := mm.Words()
	return &SpaceBitmap[A]{
		name:      name,
		mm:        mm,
		all:       all,
		words:     all[:size/8],
		heapBegin: heapBegin,
		heapLimit: heapBegin + mirror.Address(heapCapacity),
		align:     alignmentOf[A](),
	}, nil
}

func CreateContinuousSpaceBitmap(name string, heapBegin mirror.Address, heapCapacity uintptr) (*ContinuousSpaceBitmap, error) {
	return CreateSpaceBitmap[ObjectAlignment](name, heapBegin, heapCapacity)
}

func CreateLargeObjectBitmap(name string, heapBegin mirror.Address, heapCapacity uintptr) (*LargeObjectBitmap, error) {
	return CreateSpaceBitmap[LargeObjectAlignment](name, heapBegin, heapCapacity)
}

// OffsetToIndex returns the word holding the bit for a heap offset.
func (b *SpaceBitmap[A]) OffsetToIndex(offset uintptr) uintptr {
	return offset / b.align / bitsPerWord
}

// IndexToOffset returns the heap offset covered by the first bit of word index.
func (b *SpaceBitmap[A]) IndexToOffset(index uintptr) uintptr {
	return index * b.align * bitsPerWord
}

func (b *SpaceBitmap[A]) offsetBitIndex(offset uintptr) uint {
	return uint((offset / b.align) % bitsPerWord)
}

func (b *SpaceBitmap[A]) offsetToMask(offset uintptr) uint64 {
	return 1 << b.offsetBitIndex(offset)
}

// HasAddress reports whether a lies in [HeapBegin, HeapLimit). The
// subtraction wraps for addresses below HeapBegin, which then fail the
// bound.
func (b *SpaceBitmap[A]) HasAddress(a mirror.Address) bool {
	return uintptr(a-b.heapBegin) < uintptr(b.heapLimit-b.heapBegin)
}

func (b *SpaceBitmap[A]) check(a mirror.Address) uintptr {
	offset := uintptr(a - b.heapBegin)
	if !b.HasAddress(a) {
		panic(fmt.Sprintf("accounting: %v outside bitmap %s", a, b.Dump()))
	}
	if offset%b.align != 0 {
		panic(fmt.Sprintf("accounting: %v misaligned for bitmap %s", a, b.name))
	}
	return offset
}

// Set sets the bit for a and returns its previous value.
func (b *SpaceBitmap[A]) Set(a mirror.Address) bool {
	offset := b.check(a)
	mask := b.offsetToMask(offset)
	old := atomic.OrUint64(&b.words[b.OffsetToIndex(offset)], mask)
	return old&mask != 0
}

// AtomicTestAndSet is Set. It exists so callers that rely on the
// returned previous value read as such.
func (b *SpaceBitmap[A]) AtomicTestAndSet(a mirror.Address) bool {
	return b.Set(a)
}

// Clear clears the bit for a and returns its previous value.
func (b *SpaceBitmap[A]) Clear(a mirror.Address) bool {
	offset := b.check(a)
	mask := b.offsetToMask(offset)
	old := atomic.AndUint64(&b.words[b.OffsetToIndex(offset)], ^mask)
	return old&mask != 0
}

// Test reports whether the bit for a is set. Addresses outside the
// bitmap report false.
func (b *SpaceBitmap[A]) Test(a mirror.Address) bool {
	if !b.HasAddress(a) {
		return false
	}
	offset := uintptr(a - b.heapBegin)
	mask := b.offsetToMask(offset)
	return atomic.LoadUint64(&b.words[b.OffsetToIndex(offset)])&mask != 0
}

func (b *SpaceBitmap[A]) visitWord(w uint64, base mirror.Address, fn func(mirror.Address)) {
	for w != 0 {
		shift := bits.TrailingZeros64(w)
		w ^= 1 << shift
		fn(base + mirror.Address(uintptr(shift)*b.align))
	}
}

// VisitMarkedRange calls fn in ascending order for every set bit in
// [begin, end). Bits set by fn ahead of the cursor may or may not be
// visited.
func (b *SpaceBitmap[A]) VisitMarkedRange(begin, end mirror.Address, fn func(obj mirror.Address)) {
	if end <= begin {
		return
	}
	offsetStart := uintptr(begin - b.heapBegin)
	offsetEnd := uintptr(end - b.heapBegin)
	indexStart := b.OffsetToIndex(offsetStart)
	indexEnd := b.OffsetToIndex(offsetEnd)
	bitStart := b.offsetBitIndex(offsetStart)
	bitEnd := b.offsetBitIndex(offsetEnd)

	// Index(begin)  ...    Index(end)
	// [xxxxx???][........][????yyyy]
	//      ^                   ^
	//      |                   #---- bit of end
	//      #---- bit of begin
	leftEdge := atomic.LoadUint64(&b.words[indexStart])
	leftEdge &^= (uint64(1) << bitStart) - 1
	var rightEdge uint64
	if indexStart < indexEnd {
		b.visitWord(leftEdge, b.heapBegin+mirror.Address(b.IndexToOffset(indexStart)), fn)
		for i := indexStart + 1; i < indexEnd; i++ {
			if w := atomic.LoadUint64(&b.words[i]); w != 0 {
				b.visitWord(w, b.heapBegin+mirror.Address(b.IndexToOffset(i)), fn)
			}
		}
		// end starts a new word: do not read past the bitmap.
		if bitEnd != 0 {
			rightEdge = atomic.LoadUint64(&b.words[indexEnd])
		}
	} else {
		rightEdge = leftEdge
	}
	rightEdge &= (uint64(1) << bitEnd) - 1
	b.visitWord(rightEdge, b.heapBegin+mirror.Address(b.IndexToOffset(indexEnd)), fn)
}

// Walk calls fn in ascending order for every set bit.
func (b *SpaceBitmap[A]) Walk(fn func(obj mirror.Address)) {
	end := b.OffsetToIndex(uintptr(b.heapLimit-b.heapBegin) - 1)
	if end >= uintptr(len(b.words)) {
		end = uintptr(len(b.words)) - 1
	}
	for i := uintptr(0); i <= end && len(b.words) > 0; i++ {
		if w := atomic.LoadUint64(&b.words[i]); w != 0 {
			b.visitWord(w, b.heapBegin+mirror.Address(b.IndexToOffset(i)), fn)
		}
	}
}

// SweepWalk calls fn with every address in [sweepBegin, sweepEnd) that is
// set in live and clear in mark, in ascending order and in batches. The
// batch slice is reused between calls.
func SweepWalk[A Alignment](live, mark *SpaceBitmap[A], sweepBegin, sweepEnd mirror.Address, fn func(objs []mirror.Address)) {
	if live.heapBegin != mark.heapBegin {
		panic(fmt.Sprintf("accounting: sweep of %s with %s: heap begins differ", live.name, mark.name))
	}
	if sweepEnd <= sweepBegin {
		return
	}
	// Always keep room for a whole word of set bits.
	buf := make([]mirror.Address, 0, 4*bitsPerWord)
	start := live.OffsetToIndex(uintptr(sweepBegin - live.heapBegin))
	end := live.OffsetToIndex(uintptr(sweepEnd-live.heapBegin) - 1)
	if end >= uintptr(len(live.words)) || end >= uintptr(len(mark.words)) {
		panic(fmt.Sprintf("accounting: sweep end %v outside %s", sweepEnd, live.Dump()))
	}
	for i := start; i <= end; i++ {
		garbage := atomic.LoadUint64(&live.words[i]) &^ atomic.LoadUint64(&mark.words[i])
		if garbage == 0 {
			continue
		}
		base := live.heapBegin + mirror.Address(live.IndexToOffset(i))
		live.visitWord(garbage, base, func(obj mirror.Address) {
			if obj >= sweepBegin && obj < sweepEnd {
				buf = append(buf, obj)
			}
		})
		if len(buf) >= cap(buf)-bitsPerWord {
			fn(buf)
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		fn(buf)
	}
}

// CopyFrom copies the bits of src, which must cover the same range.
func (b *SpaceBitmap[A]) CopyFrom(src *SpaceBitmap[A]) {
	if src.heapBegin != b.heapBegin || len(src.words) != len(b.words) {
		panic(fmt.Sprintf("accounting: copy %s to %s: ranges differ", src.Dump(), b.Dump()))
	}
	for i := range src.words {
		atomic.StoreUint64(&b.words[i], atomic.LoadUint64(&src.words[i]))
	}
}

// ClearAll clears every bit and gives the backing pages back to the OS.
func (b *SpaceBitmap[A]) ClearAll() {
	b.mm.Release(0, b.mm.Len())
}

// ClearRange clears the bits for [begin, end).
func (b *SpaceBitmap[A]) ClearRange(begin, end mirror.Address) {
	if end <= begin {
		return
	}
	wordBytes := mirror.Address(b.align * bitsPerWord)
	for begin < end && uintptr(begin-b.heapBegin)%uintptr(wordBytes) != 0 {
		b.Clear(begin)
		begin += mirror.Address(b.align)
	}
	for end > begin && uintptr(end-b.heapBegin)%uintptr(wordBytes) != 0 {
		end -= mirror.Address(b.align)
		b.Clear(end)
	}
	for i := b.OffsetToIndex(uintptr(begin - b.heapBegin)); i < b.OffsetToIndex(uintptr(end-b.heapBegin)); i++ {
		atomic.StoreUint64(&b.words[i], 0)
	}
}

// SetHeapLimit moves the end of the covered range to newEnd. The range
// cannot grow past the capacity the bitmap was created with.
func (b *SpaceBitmap[A]) SetHeapLimit(newEnd mirror.Address) {
	n := math.DivRoundUp(uintptr(newEnd-b.heapBegin), b.align*bitsPerWord)
	if n > uintptr(len(b.all)) {
		panic(fmt.Sprintf("accounting: heap limit %v beyond capacity of %s", newEnd, b.Dump()))
	}
	b.words = b.all[:n]
	b.heapLimit = newEnd
}

func (b *SpaceBitmap[A]) Name() string              { return b.name }
func (b *SpaceBitmap[A]) SetName(name string)       { b.name = name }
func (b *SpaceBitmap[A]) HeapBegin() mirror.Address { return b.heapBegin }
func (b *SpaceBitmap[A]) HeapLimit() mirror.Address { return b.heapLimit }

// Size returns the size of the bitmap words in bytes.
func (b *SpaceBitmap[A]) Size() uintptr { return uintptr(len(b.words)) * 8 }

// HeapSize returns the number of heap bytes the bitmap covers.
func (b *SpaceBitmap[A]) HeapSize() uintptr { return b.IndexToOffset(b.Size() / 8) }

// Release unmaps the bitmap.
func (b *SpaceBitmap[A]) Release() error {
	b.words, b.all = nil, nil
	return b.mm.Unmap()
}

func (b *SpaceBitmap[A]) Dump() string {
	return fmt.Sprintf("[%s: heap_begin=%v heap_limit=%v]", b.name, b.heapBegin, b.heapLimit)
}

func (b *SpaceBitmap[A]) String() string { return b.Dump() }
