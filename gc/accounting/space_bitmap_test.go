// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package accounting

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

const (
	testHeapBegin    = mirror.Address(0x10000000)
	testHeapCapacity = 16 << 20
)

func newTestBitmap(t *testing.T, name string) *ContinuousSpaceBitmap {
	t.Helper()
	b, err := CreateContinuousSpaceBitmap(name, testHeapBegin, testHeapCapacity)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Release() })
	return b
}

func TestInit(t *testing.T) {
	b := newTestBitmap(t, "test-bitmap")
	if got := b.HeapSize(); got != b.IndexToOffset(b.Size()/8) {
		t.Errorf("HeapSize = %d, want IndexToOffset(Size/8) = %d", got, b.IndexToOffset(b.Size()/8))
	}
	if b.HeapSize() < testHeapCapacity {
		t.Errorf("HeapSize %d smaller than capacity", b.HeapSize())
	}
	if b.HasAddress(testHeapBegin-8) || b.HasAddress(testHeapBegin+testHeapCapacity) {
		t.Errorf("HasAddress accepts addresses outside the heap")
	}
	if !b.HasAddress(testHeapBegin) || !b.HasAddress(testHeapBegin+testHeapCapacity-8) {
		t.Errorf("HasAddress rejects heap addresses")
	}
	if b.Test(testHeapBegin - 8) {
		t.Errorf("Test outside range returned true")
	}
}

func TestHeapSizeInvariant(t *testing.T) {
	for _, capacity := range []uintptr{1, 511, 512, 513, 4096, 1 << 20, 3<<20 + 8} {
		b, err := CreateContinuousSpaceBitmap("sizes", testHeapBegin, capacity)
		if err != nil {
			t.Fatal(err)
		}
		if b.HeapSize() != b.IndexToOffset(b.Size()/8) {
			t.Errorf("capacity %d: HeapSize %d != IndexToOffset(%d)", capacity, b.HeapSize(), b.Size()/8)
		}
		if b.HeapSize() < capacity {
			t.Errorf("capacity %d: HeapSize %d too small", capacity, b.HeapSize())
		}
		b.Release()
	}
	lb, err := CreateLargeObjectBitmap("large", testHeapBegin, 64*mem.PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer lb.Release()
	if lb.HeapSize() != 64*mem.PageSize || lb.Size() != 8 {
		t.Errorf("large bitmap HeapSize %d Size %d", lb.HeapSize(), lb.Size())
	}
}

func TestSetClear(t *testing.T) {
	b := newTestBitmap(t, "set-clear")
	a := testHeapBegin + 8*100
	if b.Set(a) {
		t.Errorf("first Set returned true")
	}
	if !b.Set(a) || !b.AtomicTestAndSet(a) {
		t.Errorf("second Set returned false")
	}
	if !b.Test(a) || b.Test(a+8) || b.Test(a-8) {
		t.Errorf("neighbouring bits disturbed")
	}
	if !b.Clear(a) || b.Clear(a) || b.Test(a) {
		t.Errorf("Clear did not report and clear the bit")
	}
}

// Set all the odd bits in the first 64*3 slots, then visit every range
// starting in the first word and up to two words long.
func TestScanRange(t *testing.T) {
	b := newTestBitmap(t, "test-bitmap")
	for j := uintptr(0); j < bitsPerWord*3; j++ {
		obj := testHeapBegin + mirror.Address(j*mirror.ObjectAlignment)
		if uintptr(obj)&0xf != 0 {
			b.Set(obj)
		}
	}
	for i := uintptr(0); i < bitsPerWord; i++ {
		start := testHeapBegin + mirror.Address(i*mirror.ObjectAlignment)
		for j := uintptr(0); j < bitsPerWord*2; j++ {
			end := testHeapBegin + mirror.Address((i+j)*mirror.ObjectAlignment)
			var got []mirror.Address
			b.VisitMarkedRange(start, end, func(obj mirror.Address) {
				if obj < start || obj >= end {
					t.Fatalf("[%v, %v): visited %v", start, end, obj)
				}
				if !b.Test(obj) || uintptr(obj)&0xf == 0 {
					t.Fatalf("[%v, %v): visited unmarked %v", start, end, obj)
				}
				got = append(got, obj)
			})
			var want []mirror.Address
			for a := start; a < end; a += mirror.ObjectAlignment {
				if uintptr(a)&0xf != 0 {
					want = append(want, a)
				}
			}
			if !slices.Equal(got, want) {
				t.Fatalf("[%v, %v): visited %v, want %v", start, end, got, want)
			}
		}
	}
}

func TestSweepWalk(t *testing.T) {
	live := newTestBitmap(t, "live")
	mark := newTestBitmap(t, "mark")
	rng := rand.New(rand.NewSource(1))
	var want []mirror.Address
	base := testHeapBegin + 4096
	limit := base + 64<<10
	for a := testHeapBegin; a < testHeapBegin+128<<10; a += mirror.ObjectAlignment {
		isLive := rng.Intn(3) == 0
		isMarked := rng.Intn(2) == 0
		if isLive {
			live.Set(a)
		}
		if isMarked {
			mark.Set(a)
		}
		if isLive && !isMarked && a >= base && a < limit {
			want = append(want, a)
		}
	}
	var got []mirror.Address
	batches := 0
	SweepWalk(live, mark, base, limit, func(objs []mirror.Address) {
		if len(objs) == 0 || len(objs) > 4*bitsPerWord {
			t.Fatalf("batch of %d objects", len(objs))
		}
		batches++
		got = append(got, objs...)
	})
	if !slices.Equal(got, want) {
		t.Fatalf("SweepWalk visited %d objects, want %d", len(got), len(want))
	}
	if !slices.IsSorted(got) {
		t.Errorf("SweepWalk out of order")
	}
	if batches < 2 {
		t.Errorf("SweepWalk delivered %d batches", batches)
	}
}

func TestWalkAndCopy(t *testing.T) {
	src := newTestBitmap(t, "src")
	dst := newTestBitmap(t, "dst")
	objs := []mirror.Address{testHeapBegin, testHeapBegin + 520, testHeapBegin + testHeapCapacity - 8}
	for _, a := range objs {
		src.Set(a)
	}
	dst.CopyFrom(src)
	var got []mirror.Address
	dst.Walk(func(a mirror.Address) { got = append(got, a) })
	if !slices.Equal(got, objs) {
		t.Errorf("Walk after CopyFrom = %v, want %v", got, objs)
	}
	dst.ClearRange(testHeapBegin+8, testHeapBegin+testHeapCapacity)
	got = got[:0]
	dst.Walk(func(a mirror.Address) { got = append(got, a) })
	if !slices.Equal(got, objs[:1]) {
		t.Errorf("Walk after ClearRange = %v", got)
	}
	dst.ClearAll()
	if dst.Test(testHeapBegin) {
		t.Errorf("ClearAll left a bit set")
	}
}

func TestSetHeapLimit(t *testing.T) {
	b := newTestBitmap(t, "limit")
	b.SetHeapLimit(testHeapBegin + 1<<20)
	if b.HasAddress(testHeapBegin + 1<<20) {
		t.Errorf("address at the new limit still covered")
	}
	if b.HeapBegin() != testHeapBegin || b.HeapSize() != 1<<20 {
		t.Errorf("HeapBegin %v HeapSize %d", b.HeapBegin(), b.HeapSize())
	}
	b.SetHeapLimit(testHeapBegin + testHeapCapacity)
	if !b.HasAddress(testHeapBegin + 1<<20) {
		t.Errorf("extending the limit did not cover the address")
	}
}

func TestHeapLimitBoundsAddresses(t *testing.T) {
	b, err := CreateContinuousSpaceBitmap("small", testHeapBegin, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()
	if !b.HasAddress(testHeapBegin + 56) {
		t.Errorf("HasAddress rejects the last object of the heap")
	}
	for _, a := range []mirror.Address{testHeapBegin + 64, testHeapBegin + 0x80, testHeapBegin + 504} {
		if b.HasAddress(a) {
			t.Errorf("HasAddress(%v) = true beyond heap limit %v", a, b.HeapLimit())
		}
		if b.Test(a) {
			t.Errorf("Test(%v) = true beyond heap limit %v", a, b.HeapLimit())
		}
	}
	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("Set beyond the heap limit did not panic")
			}
		}()
		b.Set(testHeapBegin + 64)
	}()

	big := newTestBitmap(t, "shrunk")
	big.SetHeapLimit(testHeapBegin + 1000)
	if !big.HasAddress(testHeapBegin+992) || big.HasAddress(testHeapBegin+1000) || big.HasAddress(testHeapBegin+1016) {
		t.Errorf("HasAddress does not stop at the shrunk limit %v", big.HeapLimit())
	}
}
