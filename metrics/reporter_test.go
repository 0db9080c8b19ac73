// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metrics

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MotorolaMobilityLLC/art-sub006/gc"
	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

type recorder struct {
	mu        sync.Mutex
	gcs       []gc.GcEvent
	snapshots int
	summaries []Summary
}

func (r *recorder) ReportGC(e gc.GcEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gcs = append(r.gcs, e)
}

func (r *recorder) ReportSnapshot(gc.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots++
}

func (r *recorder) ReportSummary(s Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

type fixedSource struct{ allocated uint64 }

func (s fixedSource) Snapshot() gc.Snapshot {
	return gc.Snapshot{Time: time.Now(), BytesAllocated: s.allocated}
}

func event(pause time.Duration, freed int64) gc.GcEvent {
	return gc.GcEvent{
		Collector: "test",
		Iteration: collector.Iteration{
			GcType:     collector.GcTypeFull,
			Duration:   2 * pause,
			Pauses:     []time.Duration{pause},
			FreedBytes: freed,
		},
		BytesAllocated: 100,
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestReporterSummary(t *testing.T) {
	rec := new(recorder)
	r := NewReporter(ReporterConfig{
		Interval: time.Hour,
		Backends: []Backend{rec},
		Logger:   quiet(),
	})
	r.Start(fixedSource{allocated: 4096})
	for i := 1; i <= 3; i++ {
		r.GcCompleted(event(time.Duration(i)*time.Millisecond, 1000))
	}
	s := r.Stop()

	if s.GCs != 3 || s.FreedBytes != 3000 || s.Dropped != 0 {
		t.Errorf("summary = %+v", s)
	}
	if s.PauseMean != 2*time.Millisecond || s.PauseMax != 3*time.Millisecond {
		t.Errorf("pause mean %v max %v, want 2ms and 3ms", s.PauseMean, s.PauseMax)
	}
	if s.Pause50 < 1900*time.Microsecond || s.Pause50 > 2*time.Millisecond || s.Pause99 != 3*time.Millisecond {
		t.Errorf("pause median %v p99 %v, want about 2ms and 3ms", s.Pause50, s.Pause99)
	}
	if s.PeakAllocated != 4096 {
		t.Errorf("peak allocated %d, want 4096", s.PeakAllocated)
	}
	if s.ThroughputMean <= 0 {
		t.Errorf("throughput %v, want > 0", s.ThroughputMean)
	}
	if len(rec.gcs) != 3 || rec.snapshots != 1 || len(rec.summaries) != 1 {
		t.Errorf("backend saw %d gcs, %d snapshots, %d summaries", len(rec.gcs), rec.snapshots, len(rec.summaries))
	}
	if again := r.Stop(); again != s {
		t.Errorf("second Stop = %+v, want %+v", again, s)
	}
}

func TestReporterDropsWhenFull(t *testing.T) {
	r := NewReporter(ReporterConfig{BufferSize: 2, Logger: quiet()})
	for i := 0; i < 5; i++ {
		r.GcCompleted(event(time.Millisecond, 1))
	}
	if s := r.Stop(); s.Dropped != 3 || s.GCs != 0 {
		t.Errorf("summary = %+v, want 3 dropped and no collections", s)
	}
}

func TestReporterWithHeap(t *testing.T) {
	var out bytes.Buffer
	r := NewReporter(ReporterConfig{
		Backends: []Backend{NewTextBackend(&out), SlogBackend{Logger: quiet()}},
		Logger:   quiet(),
	})
	o := gc.DefaultOptions()
	o.ForegroundCollector = collector.CollectorTypeMS
	o.InitialSize = 1 * gc.MB
	o.GrowthLimit = 4 * gc.MB
	o.Capacity = 4 * gc.MB
	o.Logger = quiet()
	o.Observer = r

	ct := mirror.NewClassTable()
	object := mirror.NewInstanceClass("Ljava/lang/Object;", nil, mirror.Layout{})
	class := mirror.NewClassClass("Ljava/lang/Class;", object)
	for _, c := range []*mirror.Class{object, class} {
		if _, err := ct.Register(c); err != nil {
			t.Fatal(err)
		}
	}
	h, err := gc.New(o, ct)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	r.Start(h)

	self := h.AttachThread("main")
	for i := 0; i < 10; i++ {
		if _, err := h.AllocObject(self, object, object.ObjectSize(), nil); err != nil {
			t.Fatal(err)
		}
	}
	h.CollectGarbage(self, false)
	h.CollectGarbage(self, false)
	self.Detach()

	s := r.Stop()
	if s.GCs != 2 {
		t.Errorf("summary = %+v, want 2 collections", s)
	}
	if s.Snapshots != 1 {
		t.Errorf("%d snapshots, want the final one", s.Snapshots)
	}
	gcLines := 0
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "gc ") {
			gcLines++
		}
	}
	if gcLines != 2 || !strings.Contains(out.String(), "collections") {
		t.Errorf("text backend output:\n%s", out.String())
	}
}
