// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"context"
	"io"
	"log/slog"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/MotorolaMobilityLLC/art-sub006/gc"
)

// TextBackend writes one human-readable line per report.
type TextBackend struct {
	w io.Writer
	p *message.Printer
}

func NewTextBackend(w io.Writer) *TextBackend {
	return &TextBackend{w: w, p: message.NewPrinter(language.English)}
}

func (b *TextBackend) ReportGC(e gc.GcEvent) {
	it := &e.Iteration
	b.p.Fprintf(b.w, "gc %s %v (%v): freed %d objects %d bytes, %d LOS objects %d bytes, paused %v, took %v, allocated %d of %d\n",
		e.Collector, it.GcType, it.Cause,
		it.FreedObjects, it.FreedBytes, it.FreedLargeObjects, it.FreedLargeObjectBytes,
		it.PauseTime(), it.Duration, e.BytesAllocated, e.MaxAllowedFootprint)
}

func (b *TextBackend) ReportSnapshot(s gc.Snapshot) {
	b.p.Fprintf(b.w, "heap %s: allocated %d bytes in %d objects, footprint %d, free %d, native %d, gcs %d\n",
		s.CollectorType, s.BytesAllocated, s.ObjectsAllocated, s.MaxAllowedFootprint, s.FreeMemory, s.NativeBytes, s.GcCount)
}

func (b *TextBackend) ReportSummary(s Summary) {
	b.p.Fprintf(b.w, "%d collections (%d blocking, %d events dropped), freed %d bytes at %.0f bytes/s\n",
		s.GCs, s.BlockingGCs, s.Dropped, s.FreedBytes, s.ThroughputMean)
	b.p.Fprintf(b.w, "pauses: mean %v, p50 %v, p99 %v, max %v; peak allocated %d bytes\n",
		s.PauseMean, s.Pause50, s.Pause99, s.PauseMax, s.PeakAllocated)
}

// SlogBackend logs reports as structured records. Snapshots log at
// debug level.
type SlogBackend struct {
	Logger *slog.Logger
}

func (b SlogBackend) ReportGC(e gc.GcEvent) {
	it := &e.Iteration
	b.Logger.LogAttrs(context.Background(), slog.LevelInfo, "gc",
		slog.String("collector", e.Collector),
		slog.String("type", it.GcType.String()),
		slog.String("cause", it.Cause.String()),
		slog.Bool("blocking", e.Blocking),
		slog.Int64("freed_bytes", it.FreedBytes+it.FreedLargeObjectBytes),
		slog.Duration("paused", it.PauseTime()),
		slog.Duration("duration", it.Duration),
		slog.Uint64("allocated", e.BytesAllocated),
	)
}

func (b SlogBackend) ReportSnapshot(s gc.Snapshot) {
	b.Logger.LogAttrs(context.Background(), slog.LevelDebug, "heap",
		slog.Uint64("allocated", s.BytesAllocated),
		slog.Uint64("objects", s.ObjectsAllocated),
		slog.Uint64("footprint", s.MaxAllowedFootprint),
		slog.Uint64("native", s.NativeBytes),
		slog.Uint64("gcs", uint64(s.GcCount)),
	)
}

func (b SlogBackend) ReportSummary(s Summary) {
	b.Logger.Info("gc summary",
		"gcs", s.GCs,
		"blocking", s.BlockingGCs,
		"dropped", s.Dropped,
		"pause_mean", s.PauseMean,
		"pause_p99", s.Pause99,
		"pause_max", s.PauseMax,
		"throughput", s.ThroughputMean,
	)
}
