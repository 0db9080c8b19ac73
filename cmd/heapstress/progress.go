// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/MotorolaMobilityLLC/art-sub006/gc"
	"github.com/MotorolaMobilityLLC/art-sub006/metrics"
)

// progress is a metrics backend that redraws one status line on a
// terminal.
type progress struct {
	w     io.Writer
	width int
	p     *message.Printer

	mu   sync.Mutex
	gcs  int
	last gc.Snapshot
}

// newProgress returns nil when w is not a terminal.
func newProgress(w io.Writer) *progress {
	width, ok := isTerminal(w)
	if !ok {
		return nil
	}
	return &progress{w: w, width: width, p: message.NewPrinter(language.English)}
}

func (p *progress) ReportGC(e gc.GcEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gcs++
	p.redrawLocked()
}

func (p *progress) ReportSnapshot(s gc.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = s
	p.redrawLocked()
}

func (p *progress) ReportSummary(metrics.Summary) {}

func (p *progress) redrawLocked() {
	s := p.last
	line := p.p.Sprintf("%v  allocated %d / %d bytes  objects %d  gcs %d",
		s.CollectorType, s.BytesAllocated, s.MaxAllowedFootprint, s.ObjectsAllocated, p.gcs)
	if len(line) > p.width-1 {
		line = line[:p.width-1]
	}
	fmt.Fprintf(p.w, "\r%-*s", p.width-1, line)
}

// finish leaves the status line in place.
func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w)
}
