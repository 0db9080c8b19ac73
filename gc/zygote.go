// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"fmt"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
)

// HasZygoteSpace reports whether PreZygoteFork has run. Once true it
// stays true.
func (h *Heap) HasZygoteSpace() bool { return h.hasZygoteSpace.Load() }

// PreZygoteFork prepares the heap to be shared with forked children. It
// collects, compacts the moving space into the non-moving space and
// splits the non-moving space: what is allocated becomes the zygote
// space, the rest a fresh malloc space. Calls after the first do
// nothing.
func (h *Heap) PreZygoteFork(self *Thread) error {
	if !h.HasZygoteSpace() {
		// Dead non-moving objects would be frozen into the zygote.
		h.CollectGarbageInternal(self, collector.GcTypeFull, collector.GcCauseZygote, false)
		h.nonMovingSpace.Trim()
	}
	h.zygoteMu.Lock()
	defer h.zygoteMu.Unlock()
	if h.HasZygoteSpace() {
		return nil
	}

	var err error
	self.suspended(func() {
		h.startGC(self, collector.GcCauseZygote, collector.CollectorTypeZygote)
		defer h.FinishGC(self, collector.GcTypeNone)
		if zc := h.zygoteCompactor; zc != nil {
			it := zc.Run(collector.GcCauseZygote, false)
			h.nonMovingSpace.SetFootprintLimit(h.nonMovingSpace.Capacity())
			h.log.Debug("zygote compaction", "moved", it.MovedObjects, "bytes", prettySize(uint64(it.MovedBytes)))
		}

		h.SuspendAll("zygote fork")
		defer h.ResumeAll()
		h.RevokeAllThreadLocalBuffers()
		old := h.nonMovingSpace
		same := old == h.mainSpace
		name := "non moving space"
		if same {
			name = old.Name()
		}
		h.removeContinuousSpace(old)
		zs, ns, e := old.CreateZygoteSpace(name, h.opts.LowMemoryMode)
		if e != nil {
			h.addContinuousSpace(old)
			err = fmt.Errorf("gc: creating zygote space: %w", e)
			return
		}
		h.zygoteSpace = zs
		h.nonMovingSpace = ns
		if same {
			h.mainSpace = ns
		}
		if h.rosAllocSpace == old {
			h.rosAllocSpace = ns
		}
		ns.SetFootprintLimit(ns.Capacity())
		h.addContinuousSpace(zs)
		h.addContinuousSpace(ns)
		h.hasZygoteSpace.Store(true)
		// The collectors now have an immune space to account.
		for _, gc := range h.allCollectors() {
			gc.ResetCumulativeStatistics()
		}
	})
	if err != nil {
		return err
	}
	h.log.Info("zygote space created", "objects", h.zygoteSpace.ObjectsAllocated(),
		"size", prettySize(h.zygoteSpace.BytesAllocated()))
	return nil
}

// allCollectors returns every collector the heap built.
func (h *Heap) allCollectors() []collector.GarbageCollector {
	gcs := append([]collector.GarbageCollector(nil), h.collectors...)
	if h.zygoteCompactor != nil {
		gcs = append(gcs, h.zygoteCompactor)
	}
	return gcs
}
