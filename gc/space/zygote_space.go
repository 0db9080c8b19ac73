// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package space

import (
	"fmt"
	"sync/atomic"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// A ZygoteSpace holds the objects allocated before the first fork. It
// cannot be allocated into or freed from; only a full GC collects it,
// and then only by clearing live bits.
type ZygoteSpace struct {
	continuousSpace
	live, mark *accounting.ContinuousSpaceBitmap
	objects    atomic.Int64
}

func newZygoteSpace(name string, mm *mem.MemMap, begin mirror.Address, live, mark *accounting.ContinuousSpaceBitmap, objects uint64) *ZygoteSpace {
	end := begin + mirror.Address(mm.Len())
	z := &ZygoteSpace{live: live, mark: mark}
	z.init(name, mm, begin, end, FullCollect)
	z.objects.Store(int64(objects))
	return z
}

func (z *ZygoteSpace) Type() Type           { return TypeZygote }
func (z *ZygoteSpace) CanMoveObjects() bool { return false }

func (z *ZygoteSpace) LiveBitmap() *accounting.ContinuousSpaceBitmap { return z.live }
func (z *ZygoteSpace) MarkBitmap() *accounting.ContinuousSpaceBitmap { return z.mark }

func (z *ZygoteSpace) BytesAllocated() uint64   { return uint64(z.Size()) }
func (z *ZygoteSpace) ObjectsAllocated() uint64 { return uint64(z.objects.Load()) }

// Sweep handles a batch of dead zygote objects. The memory stays where
// it is: the live bits are cleared and the cards are dirtied, since the
// objects may still hold references the next GC has to see.
// It returns the number of objects swept.
func (z *ZygoteSpace) Sweep(objs []mirror.Address, cards *accounting.CardTable) int {
	for _, obj := range objs {
		z.live.Clear(obj)
		cards.MarkCard(obj)
	}
	z.objects.Add(-int64(len(objs)))
	return len(objs)
}

// SwapBitmaps exchanges the live and mark bitmaps after a sweep.
func (z *ZygoteSpace) SwapBitmaps() {
	z.live, z.mark = z.mark, z.live
	ln, mn := z.live.Name(), z.mark.Name()
	z.live.SetName(mn)
	z.mark.SetName(ln)
}

// Release unmaps the space and the bitmaps it inherited.
func (z *ZygoteSpace) Release() error {
	z.live.Release()
	z.mark.Release()
	return z.mm.Unmap()
}

func (z *ZygoteSpace) Dump() string {
	return fmt.Sprintf("%s,objects=%d", z.dump(TypeZygote), z.objects.Load())
}

var _ ContinuousSpace = (*ZygoteSpace)(nil)
