// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package accounting

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

const (
	CardShift = 10
	CardSize  = 1 << CardShift

	CardClean = 0x00
	CardDirty = 0x70
	CardAged  = CardDirty - 1
)

// A CardTable keeps one byte per CardSize bytes of the continuous spaces.
// The write barrier dirties the card holding the start of an object
// whenever a reference field of the object is written. Cards are
// updated with word-sized CAS so concurrent updates of neighbours never
// lose each other.
type CardTable struct {
	mm    *mem.MemMap
	words []uint32
	begin mirror.Address
	end   mirror.Address
}

// CreateCardTable maps a clean table covering [begin, begin+size).
func CreateCardTable(begin mirror.Address, size uintptr) (*CardTable, error) {
	if uintptr(begin)%CardSize != 0 {
		return nil, fmt.Errorf("accounting: card table begin %v not card aligned", begin)
	}
	cards := math.AlignUp(math.DivRoundUp(size, CardSize), 4)
	mm, err := mem.MapAnonymous("card table", cards)
	if err != nil {
		return nil, fmt.Errorf("accounting: create card table: %w", err)
	}
	data := mm.Bytes()
	words := unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
	return &CardTable{mm: mm, words: words, begin: begin, end: begin + mirror.Address(size)}, nil
}

func (ct *CardTable) Begin() mirror.Address { return ct.begin }
func (ct *CardTable) End() mirror.Address   { return ct.end }

// Covers reports whether a has a card.
func (ct *CardTable) Covers(a mirror.Address) bool {
	return a >= ct.begin && a < ct.end
}

func (ct *CardTable) cardIndex(a mirror.Address) uintptr {
	if !ct.Covers(a) {
		panic(fmt.Sprintf("accounting: %v has no card in [%v, %v)", a, ct.begin, ct.end))
	}
	return uintptr(a-ct.begin) >> CardShift
}

// AddrFromCard returns the first address covered by card index i.
func (ct *CardTable) AddrFromCard(i uintptr) mirror.Address {
	return ct.begin + mirror.Address(i<<CardShift)
}

func (ct *CardTable) load(i uintptr) byte {
	w := atomic.LoadUint32(&ct.words[i/4])
	return byte(w >> (8 * (i % 4)))
}

// modify applies fn to card i and returns the old value.
func (ct *CardTable) modify(i uintptr, fn func(old byte) byte) byte {
	p := &ct.words[i/4]
	shift := 8 * (i % 4)
	for {
		w := atomic.LoadUint32(p)
		old := byte(w >> shift)
		v := fn(old)
		if v == old {
			return old
		}
		nw := w&^(0xff<<shift) | uint32(v)<<shift
		if atomic.CompareAndSwapUint32(p, w, nw) {
			return old
		}
	}
}

// MarkCard dirties the card of a.
func (ct *CardTable) MarkCard(a mirror.Address) {
	i := ct.cardIndex(a)
	if ct.load(i) == CardDirty {
		return
	}
	ct.modify(i, func(byte) byte { return CardDirty })
}

// GetCard returns the card value for a.
func (ct *CardTable) GetCard(a mirror.Address) byte {
	return ct.load(ct.cardIndex(a))
}

func (ct *CardTable) IsDirty(a mirror.Address) bool {
	return ct.GetCard(a) == CardDirty
}

func (ct *CardTable) cardRange(begin, end mirror.Address) (uintptr, uintptr) {
	if begin < ct.begin {
		begin = ct.begin
	}
	if end > ct.end {
		end = ct.end
	}
	if end <= begin {
		return 0, 0
	}
	return uintptr(begin-ct.begin) >> CardShift, math.DivRoundUp(uintptr(end-ct.begin), CardSize)
}

// ModifyCardsAtomic applies fn to every card covering [begin, end) and
// calls changed, if not nil, for each card whose value fn changed.
func (ct *CardTable) ModifyCardsAtomic(begin, end mirror.Address, fn func(old byte) byte, changed func(card mirror.Address, old, new byte)) {
	lo, hi := ct.cardRange(begin, end)
	for i := lo; i < hi; i++ {
		var v byte
		old := ct.modify(i, func(o byte) byte { v = fn(o); return v })
		if changed != nil && old != v {
			changed(ct.AddrFromCard(i), old, v)
		}
	}
}

// AgeCard is the card transition run at the start of every collection:
// dirty cards become aged and everything else becomes clean.
func AgeCard(old byte) byte {
	if old == CardDirty {
		return CardAged
	}
	return CardClean
}

// ClearCardRange cleans every card covering [begin, end).
func (ct *CardTable) ClearCardRange(begin, end mirror.Address) {
	ct.ModifyCardsAtomic(begin, end, func(byte) byte { return CardClean }, nil)
}

// Scan calls fn for every object marked in bitmap whose start lies on a
// card in [begin, end) with value >= minAge. It returns the number of
// cards scanned.
func (ct *CardTable) Scan(bitmap *ContinuousSpaceBitmap, begin, end mirror.Address, minAge byte, fn func(obj mirror.Address)) int {
	lo, hi := ct.cardRange(begin, end)
	n := 0
	for i := lo; i < hi; i++ {
		if ct.load(i) < minAge {
			continue
		}
		n++
		cb := ct.AddrFromCard(i)
		ce := cb + CardSize
		if cb < begin {
			cb = begin
		}
		if ce > end {
			ce = end
		}
		bitmap.VisitMarkedRange(cb, ce, fn)
	}
	return n
}

// Release unmaps the table.
func (ct *CardTable) Release() error {
	ct.words = nil
	return ct.mm.Unmap()
}
