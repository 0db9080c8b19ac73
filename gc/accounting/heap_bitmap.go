// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package accounting

import (
	"fmt"
	"slices"

	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// A HeapBitmap is the union of the bitmaps of every space: one bitmap per
// continuous space, one per large object space. The spaces own the
// bitmaps; the heap keeps the HeapBitmap in step when they are swapped.
type HeapBitmap struct {
	continuous []*ContinuousSpaceBitmap
	large      []*LargeObjectBitmap
}

// GetContinuousSpaceBitmap returns the continuous bitmap covering a, or nil.
func (hb *HeapBitmap) GetContinuousSpaceBitmap(a mirror.Address) *ContinuousSpaceBitmap {
	for _, b := range hb.continuous {
		if b.HasAddress(a) {
			return b
		}
	}
	return nil
}

func (hb *HeapBitmap) getLargeObjectBitmap(a mirror.Address) *LargeObjectBitmap {
	for _, b := range hb.large {
		if b.HasAddress(a) {
			return b
		}
	}
	return nil
}

// Test reports whether a is marked in any bitmap.
func (hb *HeapBitmap) Test(a mirror.Address) bool {
	if b := hb.GetContinuousSpaceBitmap(a); b != nil {
		return b.Test(a)
	}
	if b := hb.getLargeObjectBitmap(a); b != nil {
		return b.Test(a)
	}
	return false
}

// Set marks a and returns the previous bit. a must be covered.
func (hb *HeapBitmap) Set(a mirror.Address) bool {
	if b := hb.GetContinuousSpaceBitmap(a); b != nil {
		return b.Set(a)
	}
	if b := hb.getLargeObjectBitmap(a); b != nil {
		return b.Set(a)
	}
	panic(fmt.Sprintf("accounting: no bitmap covers %v", a))
}

// Clear unmarks a and returns the previous bit. a must be covered.
func (hb *HeapBitmap) Clear(a mirror.Address) bool {
	if b := hb.GetContinuousSpaceBitmap(a); b != nil {
		return b.Clear(a)
	}
	if b := hb.getLargeObjectBitmap(a); b != nil {
		return b.Clear(a)
	}
	panic(fmt.Sprintf("accounting: no bitmap covers %v", a))
}

// Covers reports whether some bitmap covers a.
func (hb *HeapBitmap) Covers(a mirror.Address) bool {
	return hb.GetContinuousSpaceBitmap(a) != nil || hb.getLargeObjectBitmap(a) != nil
}

// AddContinuousSpaceBitmap adds b. Bitmaps must not overlap.
func (hb *HeapBitmap) AddContinuousSpaceBitmap(b *ContinuousSpaceBitmap) {
	for _, o := range hb.continuous {
		if b.HeapBegin() < o.HeapLimit() && o.HeapBegin() < b.HeapLimit() {
			panic(fmt.Sprintf("accounting: bitmap %s overlaps %s", b.Dump(), o.Dump()))
		}
	}
	hb.continuous = append(hb.continuous, b)
}

func (hb *HeapBitmap) RemoveContinuousSpaceBitmap(b *ContinuousSpaceBitmap) {
	hb.continuous = slices.DeleteFunc(hb.continuous, func(o *ContinuousSpaceBitmap) bool { return o == b })
}

func (hb *HeapBitmap) AddLargeObjectBitmap(b *LargeObjectBitmap) {
	hb.large = append(hb.large, b)
}

func (hb *HeapBitmap) RemoveLargeObjectBitmap(b *LargeObjectBitmap) {
	hb.large = slices.DeleteFunc(hb.large, func(o *LargeObjectBitmap) bool { return o == b })
}

// ReplaceBitmap swaps old for new after the owning space swapped its
// live and mark bitmaps.
func (hb *HeapBitmap) ReplaceBitmap(old, new *ContinuousSpaceBitmap) {
	for i, b := range hb.continuous {
		if b == old {
			hb.continuous[i] = new
			return
		}
	}
	panic(fmt.Sprintf("accounting: bitmap %s not found", old.Dump()))
}

func (hb *HeapBitmap) ReplaceLargeObjectBitmap(old, new *LargeObjectBitmap) {
	for i, b := range hb.large {
		if b == old {
			hb.large[i] = new
			return
		}
	}
	panic(fmt.Sprintf("accounting: bitmap %s not found", old.Dump()))
}

// Walk visits every marked object, continuous spaces first.
func (hb *HeapBitmap) Walk(fn func(obj mirror.Address)) {
	for _, b := range hb.continuous {
		b.Walk(fn)
	}
	for _, b := range hb.large {
		b.Walk(fn)
	}
}

func (hb *HeapBitmap) ContinuousSpaceBitmaps() []*ContinuousSpaceBitmap { return hb.continuous }
func (hb *HeapBitmap) LargeObjectBitmaps() []*LargeObjectBitmap         { return hb.large }
