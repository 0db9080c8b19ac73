// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collector

import (
	"sync/atomic"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/space"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// sweepArrayChunk bounds the objects freed with one FreeList call.
const sweepArrayChunk = 1024

// sweepSpaces frees every object live but not marked in the given
// spaces. Spaces with bound bitmaps are skipped. It returns the spaces
// it swept.
func (c *collector) sweepSpaces(spaces []space.ContinuousSpace) []space.ContinuousSpace {
	defer c.timing("SweepSpaces")()
	cards := c.cards()
	var objects, bytes atomic.Int64
	var swept []space.ContinuousSpace
	var tasks []func()
	for _, s := range spaces {
		switch s := s.(type) {
		case *space.MallocSpace:
			if s.HasBoundBitmaps() {
				continue
			}
			swept = append(swept, s)
			tasks = append(tasks, func() {
				accounting.SweepWalk(s.LiveBitmap(), s.MarkBitmap(), s.Begin(), s.End(), func(batch []mirror.Address) {
					objects.Add(int64(len(batch)))
					bytes.Add(int64(s.FreeList(batch)))
				})
			})
		case *space.ZygoteSpace:
			swept = append(swept, s)
			tasks = append(tasks, func() {
				accounting.SweepWalk(s.LiveBitmap(), s.MarkBitmap(), s.Begin(), s.End(), func(batch []mirror.Address) {
					objects.Add(int64(s.Sweep(batch, cards)))
				})
			})
		}
	}
	c.parallel(tasks)
	c.recordFree(objects.Load(), bytes.Load())
	return swept
}

func (c *collector) sweepLargeObjects() {
	los := c.heap.LargeObjectSpace()
	if los == nil {
		return
	}
	defer c.timing("SweepLargeObjects")()
	var objects, bytes int64
	accounting.SweepWalk(los.LiveBitmap(), los.MarkBitmap(), los.Begin(), los.End(), func(batch []mirror.Address) {
		objects += int64(len(batch))
		bytes += int64(los.FreeList(batch))
	})
	c.recordFreeLOS(objects, bytes)
}

// swapSweptBitmaps makes the mark bitmaps of the swept spaces their
// live bitmaps.
func (c *collector) swapSweptBitmaps(swept []space.ContinuousSpace) {
	for _, s := range swept {
		c.swapBitmaps(s.(swappable))
	}
	if los := c.heap.LargeObjectSpace(); los != nil {
		c.swapLargeObjectBitmaps(los)
	}
}

// sweepArray frees the unmarked objects on stack that belong to spaces
// or the large object space, then empties the stack.
func (c *collector) sweepArray(stack *accounting.ObjectStack, spaces []*space.MallocSpace) {
	defer c.timing("SweepArray")()
	objs := stack.Objects()
	var objects, bytes int64
	for _, s := range spaces {
		mark := s.MarkBitmap()
		var free []mirror.Address
		out := objs[:0]
		for _, obj := range objs {
			if !s.Contains(obj) {
				out = append(out, obj)
				continue
			}
			if mark.Test(obj) {
				continue
			}
			free = append(free, obj)
			if len(free) == sweepArrayChunk {
				objects += int64(len(free))
				bytes += int64(s.FreeList(free))
				free = free[:0]
			}
		}
		if len(free) > 0 {
			objects += int64(len(free))
			bytes += int64(s.FreeList(free))
		}
		objs = out
	}
	c.recordFree(objects, bytes)

	if los := c.heap.LargeObjectSpace(); los != nil {
		mark := los.MarkBitmap()
		var free []mirror.Address
		for _, obj := range objs {
			if los.Contains(obj) && !mark.Test(obj) {
				free = append(free, obj)
			}
		}
		if len(free) > 0 {
			c.recordFreeLOS(int64(len(free)), int64(los.FreeList(free)))
		}
	}
	stack.Reset()
}
