// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package collector

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aclements/go-moremath/stats"
)

// A Split is one timed phase of a collection.
type Split struct {
	Name     string
	Duration time.Duration
}

// An Iteration records one run of a collector.
type Iteration struct {
	GcType              GcType
	Cause               GcCause
	ClearSoftReferences bool

	Start    time.Time
	Duration time.Duration
	Pauses   []time.Duration
	// CPUTime is the time spent by every goroutine working for the GC:
	// the collector itself plus its parallel workers.
	CPUTime time.Duration
	Timings []Split

	FreedObjects          int64
	FreedBytes            int64
	FreedLargeObjects     int64
	FreedLargeObjectBytes int64
	MovedObjects          int64
	MovedBytes            int64
}

func (it *Iteration) reset(gcType GcType, cause GcCause, clearSoftReferences bool) {
	*it = Iteration{
		GcType:              gcType,
		Cause:               cause,
		ClearSoftReferences: clearSoftReferences,
		Start:               time.Now(),
	}
}

// PauseTime is the total time mutators were suspended.
func (it *Iteration) PauseTime() time.Duration {
	var d time.Duration
	for _, p := range it.Pauses {
		d += p
	}
	return d
}

// EstimatedThroughput returns freed bytes per second.
func (it *Iteration) EstimatedThroughput() uint64 {
	if it.FreedBytes <= 0 {
		return 0
	}
	return uint64(it.FreedBytes) * 1000 / uint64(it.Duration.Milliseconds()+1)
}

func (it *Iteration) recordFree(objects, bytes int64) {
	it.FreedObjects += objects
	it.FreedBytes += bytes
}

func (it *Iteration) recordFreeLOS(objects, bytes int64) {
	it.FreedLargeObjects += objects
	it.FreedLargeObjectBytes += bytes
}

// Stats are a collector's totals over every iteration since the last
// reset.
type Stats struct {
	Iterations        uint64
	TotalTime         time.Duration
	TotalPausedTime   time.Duration
	TotalCPUTime      time.Duration
	TotalFreedObjects int64
	TotalFreedBytes   int64
	// MeanThroughput is freed bytes per second of collector time.
	MeanThroughput uint64
	PauseMean      time.Duration
	Pause99        time.Duration
	PauseMax       time.Duration
}

const (
	pauseHistMin = 1   // µs
	pauseHistMax = 1e8 // µs
)

// cumulative accumulates Stats.
type cumulative struct {
	mu        sync.Mutex
	stats     Stats
	pauses    stats.Sample // µs
	pauseHist *stats.LogHist
}

func newCumulative() *cumulative {
	return &cumulative{pauseHist: stats.NewLogHist(2, pauseHistMin, pauseHistMax)}
}

func (c *cumulative) add(it *Iteration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.stats
	s.Iterations++
	s.TotalTime += it.Duration
	s.TotalPausedTime += it.PauseTime()
	s.TotalCPUTime += it.CPUTime
	s.TotalFreedObjects += it.FreedObjects + it.FreedLargeObjects
	s.TotalFreedBytes += it.FreedBytes + it.FreedLargeObjectBytes
	for _, p := range it.Pauses {
		us := float64(p.Microseconds())
		c.pauses.Xs = append(c.pauses.Xs, us)
		c.pauses.Sorted = false
		c.pauseHist.Add(max(us, pauseHistMin))
	}
}

func (c *cumulative) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	if s.TotalFreedBytes > 0 {
		s.MeanThroughput = uint64(s.TotalFreedBytes) * 1000 / uint64(s.TotalTime.Milliseconds()+1)
	}
	if len(c.pauses.Xs) > 0 {
		c.pauses.Sort()
		_, hi := c.pauses.Bounds()
		s.PauseMean = time.Duration(c.pauses.Mean()) * time.Microsecond
		s.Pause99 = time.Duration(c.pauses.Quantile(0.99)) * time.Microsecond
		s.PauseMax = time.Duration(hi) * time.Microsecond
	}
	return s
}

func (c *cumulative) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
	c.pauses = stats.Sample{}
	c.pauseHist = stats.NewLogHist(2, pauseHistMin, pauseHistMax)
}

// dump writes the pause histogram, one line per non-empty bucket.
func (c *cumulative) dump(w io.Writer, name string) {
	c.mu.Lock()
	under, counts, over := c.pauseHist.Counts()
	c.mu.Unlock()
	if under > 0 {
		fmt.Fprintf(w, "%s pause < %dus: %d\n", name, pauseHistMin, under)
	}
	for i, n := range counts {
		if n == 0 {
			continue
		}
		lo := c.pauseHist.BinToValue(float64(i))
		hi := c.pauseHist.BinToValue(float64(i + 1))
		fmt.Fprintf(w, "%s pause %v-%v: %d\n", name,
			time.Duration(lo)*time.Microsecond, time.Duration(hi)*time.Microsecond, n)
	}
	if over > 0 {
		fmt.Fprintf(w, "%s pause > %v: %d\n", name, time.Duration(pauseHistMax)*time.Microsecond, over)
	}
}
