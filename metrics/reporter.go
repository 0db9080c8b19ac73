// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics reports heap activity. A Reporter receives collection
// events from the heap and polls its counters on a ticker, handing both
// to backends.
package metrics

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aclements/go-moremath/stats"
	"golang.org/x/net/trace"

	"github.com/MotorolaMobilityLLC/art-sub006/gc"
)

// A Source is polled for heap counters. *gc.Heap is a Source.
type Source interface {
	Snapshot() gc.Snapshot
}

// A Backend receives reports. Calls come from the reporter's goroutine
// only.
type Backend interface {
	ReportGC(e gc.GcEvent)
	ReportSnapshot(s gc.Snapshot)
	ReportSummary(s Summary)
}

type ReporterConfig struct {
	// Interval between snapshots. Zero disables polling.
	Interval time.Duration
	// BufferSize is the capacity of the event queue. Events that find
	// it full are dropped and counted.
	BufferSize int
	Backends   []Backend
	Logger     *slog.Logger
}

// A Summary aggregates every event the reporter processed.
type Summary struct {
	GCs            int
	BlockingGCs    int
	Dropped        uint64
	Snapshots      int
	PauseMean      time.Duration
	Pause50        time.Duration
	Pause99        time.Duration
	PauseMax       time.Duration
	FreedBytes     int64
	ThroughputMean float64 // freed bytes per second of GC time
	PeakAllocated  uint64
}

// A Reporter is a gc.Observer. Create it before the heap, pass it as
// gc.Options.Observer, then Start it with the heap.
type Reporter struct {
	cfg     ReporterConfig
	log     *slog.Logger
	events  chan gc.GcEvent
	dropped atomic.Uint64
	elog    trace.EventLog

	mu          sync.Mutex
	pauses      stats.Sample // µs
	throughput  stats.Sample // bytes/s
	gcs         int
	blocking    int
	snapshots   int
	freed       int64
	peak        uint64
	started     bool
	quit, done  chan struct{}
	stopOnce    sync.Once
	lastSummary Summary
}

const defaultBufferSize = 64

func NewReporter(cfg ReporterConfig) *Reporter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Reporter{
		cfg:    cfg,
		log:    log.With("component", "metrics"),
		events: make(chan gc.GcEvent, cfg.BufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// GcCompleted queues e without blocking the collecting goroutine.
func (r *Reporter) GcCompleted(e gc.GcEvent) {
	select {
	case r.events <- e:
	default:
		r.dropped.Add(1)
	}
}

// Start runs the reporter's goroutine. src may be nil when no polling
// is wanted.
func (r *Reporter) Start(src Source) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		panic("metrics: Reporter started twice")
	}
	r.started = true
	r.mu.Unlock()
	r.elog = trace.NewEventLog("metrics.Reporter", "heap")
	go r.loop(src)
}

func (r *Reporter) loop(src Source) {
	defer close(r.done)
	defer r.elog.Finish()
	var tick <-chan time.Time
	if src != nil && r.cfg.Interval > 0 {
		t := time.NewTicker(r.cfg.Interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case e := <-r.events:
			r.handleGC(e)
		case <-tick:
			r.handleSnapshot(src.Snapshot())
		case <-r.quit:
			for {
				select {
				case e := <-r.events:
					r.handleGC(e)
				default:
					if src != nil {
						r.handleSnapshot(src.Snapshot())
					}
					return
				}
			}
		}
	}
}

func (r *Reporter) handleGC(e gc.GcEvent) {
	it := &e.Iteration
	freed := it.FreedBytes + it.FreedLargeObjectBytes
	r.mu.Lock()
	r.gcs++
	if e.Blocking {
		r.blocking++
	}
	for _, p := range it.Pauses {
		r.pauses.Xs = append(r.pauses.Xs, float64(p.Microseconds()))
	}
	r.pauses.Sorted = false
	if it.Duration > 0 {
		r.throughput.Xs = append(r.throughput.Xs, float64(freed)/it.Duration.Seconds())
	}
	r.freed += freed
	r.peak = max(r.peak, e.BytesAllocated)
	r.mu.Unlock()

	r.elog.Printf("%s %v freed %d bytes, paused %v", e.Collector, it.GcType, freed, it.PauseTime())
	for _, b := range r.cfg.Backends {
		b.ReportGC(e)
	}
}

func (r *Reporter) handleSnapshot(s gc.Snapshot) {
	r.mu.Lock()
	r.snapshots++
	r.peak = max(r.peak, s.BytesAllocated)
	r.mu.Unlock()
	for _, b := range r.cfg.Backends {
		b.ReportSnapshot(s)
	}
}

// Summary aggregates the events processed so far.
func (r *Reporter) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{
		GCs:           r.gcs,
		BlockingGCs:   r.blocking,
		Dropped:       r.dropped.Load(),
		Snapshots:     r.snapshots,
		FreedBytes:    r.freed,
		PeakAllocated: r.peak,
	}
	if len(r.pauses.Xs) > 0 {
		r.pauses.Sort()
		_, hi := r.pauses.Bounds()
		s.PauseMean = time.Duration(r.pauses.Mean()) * time.Microsecond
		s.Pause50 = time.Duration(r.pauses.Quantile(0.5)) * time.Microsecond
		s.Pause99 = time.Duration(r.pauses.Quantile(0.99)) * time.Microsecond
		s.PauseMax = time.Duration(hi) * time.Microsecond
	}
	if len(r.throughput.Xs) > 0 {
		s.ThroughputMean = r.throughput.Mean()
	}
	return s
}

// Stop drains queued events, takes a last snapshot and reports the
// summary to every backend. It returns the summary. Stop may be called
// more than once.
func (r *Reporter) Stop() Summary {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.started
		r.mu.Unlock()
		close(r.quit)
		if started {
			<-r.done
		}
		s := r.Summary()
		if s.Dropped > 0 {
			r.log.Warn("dropped collection events", "count", s.Dropped)
		}
		for _, b := range r.cfg.Backends {
			b.ReportSummary(s)
		}
		r.mu.Lock()
		r.lastSummary = s
		r.mu.Unlock()
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSummary
}
