// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/pprof/profile"

	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

type profileKey struct {
	class *mirror.Class
	space string
}

type profileCount struct {
	objects, bytes int64
}

// HeapProfile builds a pprof profile of the live heap: one sample per
// class and space, with object counts and sizes. Objects unreachable
// since the last collection are included.
func (h *Heap) HeapProfile(self *Thread) *profile.Profile {
	counts := make(map[profileKey]*profileCount)
	h.VisitObjects(self, func(obj mirror.Address) {
		k := profileKey{class: mirror.ClassOf(h.mem, h.classes, obj)}
		if s := h.findSpace(obj); s != nil {
			k.space = s.Name()
		}
		c := counts[k]
		if c == nil {
			c = new(profileCount)
			counts[k] = c
		}
		c.objects++
		c.bytes += int64(mirror.SizeOf(h.mem, h.classes, obj))
	})

	keys := make([]profileKey, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]].bytes != counts[keys[j]].bytes {
			return counts[keys[i]].bytes > counts[keys[j]].bytes
		}
		if keys[i].class.ID() != keys[j].class.ID() {
			return keys[i].class.ID() < keys[j].class.ID()
		}
		return keys[i].space < keys[j].space
	})

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "objects", Unit: "count"},
			{Type: "space", Unit: "bytes"},
		},
		PeriodType:        &profile.ValueType{Type: "space", Unit: "bytes"},
		TimeNanos:         time.Now().UnixNano(),
		DefaultSampleType: "space",
	}
	locs := make(map[*mirror.Class]*profile.Location)
	for _, k := range keys {
		loc := locs[k.class]
		if loc == nil {
			id := uint64(len(p.Function) + 1)
			fn := &profile.Function{ID: id, Name: k.class.Descriptor(), SystemName: fmt.Sprintf("class#%d", k.class.ID())}
			loc = &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
			p.Function = append(p.Function, fn)
			p.Location = append(p.Location, loc)
			locs[k.class] = loc
		}
		c := counts[k]
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{c.objects, c.bytes},
			Label:    map[string][]string{"space": {k.space}},
		})
	}
	return p
}

// WriteHeapProfile writes HeapProfile in the gzipped pprof format.
func (h *Heap) WriteHeapProfile(self *Thread, w io.Writer) error {
	p := h.HeapProfile(self)
	if err := p.CheckValid(); err != nil {
		return fmt.Errorf("gc: heap profile: %w", err)
	}
	if err := p.Write(w); err != nil {
		return fmt.Errorf("gc: writing heap profile: %w", err)
	}
	return nil
}
