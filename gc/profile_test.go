// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/pprof/profile"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
)

func TestWriteHeapProfile(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeCMS))
	for i := 0; i < 3; i++ {
		h.self.NewHandle(h.newPair(0, 0))
	}
	if _, err := h.newBytes(100); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := h.WriteHeapProfile(h.self, &buf); err != nil {
		t.Fatal(err)
	}
	p, err := profile.Parse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	objects := make(map[string]int64)
	for _, s := range p.Sample {
		objects[s.Location[0].Line[0].Function.Name] += s.Value[0]
		if len(s.Label["space"]) != 1 {
			t.Errorf("sample without a space label: %v", s)
		}
	}
	if objects["LPair;"] != 3 || objects["[B"] != 1 {
		t.Errorf("object counts %v, want 3 pairs and 1 byte array", objects)
	}
}

func TestPrettySize(t *testing.T) {
	tests := []struct {
		n    uint64
		want string
	}{
		{0, "0B"},
		{3*KB - 1, "3071B"},
		{3 * KB, "3KB"},
		{2*MB - 1, "2047KB"},
		{2 * MB, "2MB"},
		{5 * GB, "5GB"},
	}
	for _, tt := range tests {
		if got := prettySize(tt.n); got != tt.want {
			t.Errorf("prettySize(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestDumpGcPerformanceInfo(t *testing.T) {
	h := newTestHeap(t, testOptions(collector.CollectorTypeMS))
	h.CollectGarbage(h.self, false)
	var b strings.Builder
	h.DumpGcPerformanceInfo(&b)
	for _, want := range []string{"Total GC count: 1\n", "Total bytes allocated", "Histogram of GC count per"} {
		if !strings.Contains(b.String(), want) {
			t.Errorf("performance info missing %q:\n%s", want, b.String())
		}
	}
	b.Reset()
	h.DumpSpaces(&b)
	if !strings.Contains(b.String(), "live") {
		t.Errorf("DumpSpaces wrote no bitmaps:\n%s", b.String())
	}
}
