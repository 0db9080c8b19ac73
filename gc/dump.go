// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"fmt"
	"io"
	"time"

	"github.com/aclements/go-moremath/stats"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// prettySize formats a byte count in the largest unit that keeps it
// readable: bytes below 3KB, KB below 2MB, MB below 1GB.
func prettySize(n uint64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%dGB", n/gb)
	case n >= 2*mb:
		return fmt.Sprintf("%dMB", n/mb)
	case n >= 3*kb:
		return fmt.Sprintf("%dKB", n/kb)
	}
	return fmt.Sprintf("%dB", n)
}

// DumpSpaces writes one line per space and bitmap.
func (h *Heap) DumpSpaces(w io.Writer) {
	for _, s := range h.ContinuousSpaces() {
		fmt.Fprintln(w, s.Dump())
		if live := s.LiveBitmap(); live != nil {
			fmt.Fprintf(w, "  live %v\n", live)
		}
		if mark := s.MarkBitmap(); mark != nil && mark != s.LiveBitmap() {
			fmt.Fprintf(w, "  mark %v\n", mark)
		}
	}
	if los := h.largeObjectSpace; los != nil {
		fmt.Fprintln(w, los.Dump())
	}
}

// DumpGcPerformanceInfo writes the cumulative statistics of every
// collector followed by the heap's totals.
func (h *Heap) DumpGcPerformanceInfo(w io.Writer) {
	p := message.NewPrinter(language.English)
	var total, paused time.Duration
	var freedBytes int64
	var iterations uint64
	for _, gc := range h.allCollectors() {
		st := gc.Stats()
		if st.Iterations == 0 {
			continue
		}
		gc.DumpPerformanceInfo(w)
		fmt.Fprintln(w)
		total += st.TotalTime
		paused += st.TotalPausedTime
		freedBytes += st.TotalFreedBytes
		iterations += st.Iterations
	}
	allocated := h.GetBytesAllocated()
	p.Fprintf(w, "Total time spent in GC: %v\n", total)
	if total > 0 {
		p.Fprintf(w, "Mean GC size throughput: %s/s\n", prettySize(uint64(float64(freedBytes)/total.Seconds())))
	}
	p.Fprintf(w, "Total number of allocations %d\n", h.GetObjectsAllocatedEver())
	p.Fprintf(w, "Total bytes allocated %s\n", prettySize(h.GetBytesAllocatedEver()))
	p.Fprintf(w, "Total bytes freed %s\n", prettySize(h.GetBytesFreedEver()))
	p.Fprintf(w, "Free memory %s\n", prettySize(h.GetFreeMemory()))
	p.Fprintf(w, "Free memory until GC %s\n", prettySize(h.MaxAllowedFootprint()-min(allocated, h.MaxAllowedFootprint())))
	p.Fprintf(w, "Free memory until OOM %s\n", prettySize(h.GrowthLimit()-min(allocated, h.GrowthLimit())))
	p.Fprintf(w, "Total memory %s\n", prettySize(h.GetTotalMemory()))
	p.Fprintf(w, "Max memory %s\n", prettySize(h.GetMaxMemory()))
	if h.zygoteSpace != nil {
		p.Fprintf(w, "Zygote space size %s\n", prettySize(h.zygoteSpace.BytesAllocated()))
	}
	p.Fprintf(w, "Total mutator paused time: %v\n", paused)
	p.Fprintf(w, "Registered native bytes allocated: %d\n", h.NativeBytes())

	h.gcMu.Lock()
	defer h.gcMu.Unlock()
	p.Fprintf(w, "Total time waiting for GC to complete: %v\n", h.totalWaitTime)
	p.Fprintf(w, "Total GC count: %d\n", iterations)
	p.Fprintf(w, "Total GC time: %v\n", total)
	p.Fprintf(w, "Total blocking GC count: %d\n", h.blockingGcCount)
	p.Fprintf(w, "Total blocking GC time: %v\n", h.blockingGcTime)
	dumpRateHist(w, "GC", h.gcCountRateHist)
	dumpRateHist(w, "Blocking GC", h.blockingGcCountRateHist)
}

// dumpRateHist writes a histogram of collections per rate window as
// "count:windows" pairs.
func dumpRateHist(w io.Writer, what string, hist *stats.LinearHist) {
	_, counts, over := hist.Counts()
	fmt.Fprintf(w, "Histogram of %s count per %v:", what, gcCountRateWindow)
	for i, n := range counts {
		if n > 0 {
			fmt.Fprintf(w, " %d:%d", int(hist.BinToValue(float64(i))), n)
		}
	}
	if over > 0 {
		fmt.Fprintf(w, " >:%d", over)
	}
	fmt.Fprintln(w)
}
