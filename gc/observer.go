// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"time"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
)

// An Observer is told about every completed collection. GcCompleted is
// called on the goroutine that ran the collection, after waiters were
// woken, and must not block.
type Observer interface {
	GcCompleted(e GcEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e GcEvent)

func (f ObserverFunc) GcCompleted(e GcEvent) { f(e) }

// A GcEvent describes one completed collection.
type GcEvent struct {
	Collector     string
	CollectorType collector.CollectorType
	Iteration     collector.Iteration
	// Blocking is set when a mutator waited for the collection.
	Blocking bool

	BytesAllocated      uint64 // after the collection
	MaxAllowedFootprint uint64
	NextGcType          collector.GcType
}

// A Snapshot is a point-in-time view of the heap's counters.
type Snapshot struct {
	Time time.Time

	BytesAllocated      uint64
	ObjectsAllocated    uint64
	BytesFreedEver      uint64
	ObjectsFreedEver    uint64
	TotalMemory         uint64
	FreeMemory          uint64
	MaxMemory           uint64
	MaxAllowedFootprint uint64
	ConcurrentStart     uint64
	NativeBytes         uint64

	CollectorType   collector.CollectorType
	ProcessState    ProcessState
	HasZygoteSpace  bool
	GcCount         uint32
	BlockingGcCount uint64
	BlockingGcTime  time.Duration
	TotalWaitTime   time.Duration
}

// Snapshot reads the heap's counters. The values are read one at a time
// and need not be consistent with each other.
func (h *Heap) Snapshot() Snapshot {
	s := Snapshot{
		Time:                time.Now(),
		BytesAllocated:      h.GetBytesAllocated(),
		ObjectsAllocated:    h.GetObjectsAllocated(),
		BytesFreedEver:      h.GetBytesFreedEver(),
		ObjectsFreedEver:    h.GetObjectsFreedEver(),
		TotalMemory:         h.GetTotalMemory(),
		FreeMemory:          h.GetFreeMemory(),
		MaxMemory:           h.GetMaxMemory(),
		MaxAllowedFootprint: h.MaxAllowedFootprint(),
		ConcurrentStart:     h.ConcurrentStartBytes(),
		NativeBytes:         h.NativeBytes(),
		ProcessState:        h.ProcessState(),
		HasZygoteSpace:      h.HasZygoteSpace(),
		GcCount:             h.GcCount(),
	}
	h.gcMu.Lock()
	s.CollectorType = h.collectorType
	s.BlockingGcCount = h.blockingGcCount
	s.BlockingGcTime = h.blockingGcTime
	s.TotalWaitTime = h.totalWaitTime
	h.gcMu.Unlock()
	return s
}

func (h *Heap) notify(gc collector.GarbageCollector, it *collector.Iteration, blocking bool) {
	o := h.opts.Observer
	if o == nil {
		return
	}
	o.GcCompleted(GcEvent{
		Collector:           gc.Name(),
		CollectorType:       gc.CollectorType(),
		Iteration:           *it,
		Blocking:            blocking,
		BytesAllocated:      h.GetBytesAllocated(),
		MaxAllowedFootprint: h.MaxAllowedFootprint(),
		NextGcType:          h.NextGcType(),
	})
}
