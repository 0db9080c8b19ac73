// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gc

import (
	"errors"
	"testing"
	"time"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/collector"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		args  []string
		check func(o Options) bool
	}{
		{[]string{"-Xms4m", "-Xmx64m"}, func(o Options) bool {
			return o.InitialSize == 4*MB && o.Capacity == 64*MB && o.GrowthLimit == 64*MB
		}},
		{[]string{"-Xmx64m", "-XX:HeapGrowthLimit=32m"}, func(o Options) bool {
			return o.GrowthLimit == 32*MB
		}},
		{[]string{"-XX:HeapMinFree=256k", "-XX:HeapMaxFree=4m", "-XX:HeapTargetUtilization=0.75"}, func(o Options) bool {
			return o.MinFree == 256*KB && o.MaxFree == 4*MB && o.TargetUtilization == 0.75
		}},
		{[]string{"-Xgc:MS,preverify,nopostverify,measure"}, func(o Options) bool {
			return o.ForegroundCollector == collector.CollectorTypeMS && o.VerifyPreGcHeap &&
				!o.VerifyPostGcHeap && o.MeasureGCPerformance && o.BackgroundCollector == collector.CollectorTypeMS
		}},
		{[]string{"-Xgc:CC,nogenerational_cc"}, func(o Options) bool {
			return o.ForegroundCollector == collector.CollectorTypeCC && !o.UseGenerationalCC
		}},
		{[]string{"-XX:BackgroundGC=MS"}, func(o Options) bool {
			return o.ForegroundCollector == collector.CollectorTypeCMS && o.BackgroundCollector == collector.CollectorTypeMS
		}},
		{[]string{"-XX:LargeObjectSpace=disabled", "-XX:LargeObjectThreshold=64k"}, func(o Options) bool {
			return o.LargeObjectSpace == LargeObjectSpaceDisabled && o.LargeObjectThreshold == 64*KB
		}},
		{[]string{"-XX:LowMemoryMode", "-XX:UseTLAB=false", "-XX:UseRosAlloc=false"}, func(o Options) bool {
			return o.LowMemoryMode && !o.UseTLAB && !o.UseRosAlloc
		}},
		{[]string{"-XX:ParallelGCThreads=3", "-XX:ConcGCThreads=2", "-XX:LongPauseLogThreshold=20"}, func(o Options) bool {
			return o.ParallelGCThreads == 3 && o.ConcGCThreads == 2 && o.LongPauseLogThreshold == 20*time.Millisecond
		}},
		{[]string{"-Ximage:/tmp/boot.art"}, func(o Options) bool {
			return o.ImageFile == "/tmp/boot.art"
		}},
	}
	for _, tt := range tests {
		o, err := ParseOptions(tt.args)
		if err != nil {
			t.Errorf("ParseOptions(%q): %v", tt.args, err)
			continue
		}
		if !tt.check(o) {
			t.Errorf("ParseOptions(%q) = %v", tt.args, o)
		}
	}
}

func TestParseOptionsErrors(t *testing.T) {
	tests := [][]string{
		{"-Xss1m"},
		{"-Xms"},
		{"-Xms12345"},
		{"-Xmsbig"},
		{"-Xgc:GSS"},
		{"-XX:BackgroundGC=SS"},
		{"-XX:LargeObjectSpace=freelist"},
		{"-XX:ParallelGCThreads=-1"},
		{"-XX:UseTLAB=maybe"},
		{"-XX:NoSuchFlag"},
		{"-Xms64m", "-Xmx32m"},
		{"-Xmx64m", "-XX:HeapGrowthLimit=128m"},
		{"-XX:HeapTargetUtilization=1.5"},
		{"-XX:HeapMinFree=8m", "-XX:HeapMaxFree=4m"},
	}
	for _, args := range tests {
		_, err := ParseOptions(args)
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Errorf("ParseOptions(%q) error = %v, want a *ConfigError", args, err)
		}
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	o := testOptions(collector.CollectorTypeMS)
	o.InitialSize = o.GrowthLimit + MB
	if h, err := New(o, testClasses(t).ct); err == nil {
		h.Close()
		t.Fatal("New accepted an initial size above the growth limit")
	}

	o = testOptions(collector.CollectorTypeSS)
	o.NonMovingSpaceCapacity = 0
	var ce *ConfigError
	if _, err := New(o, testClasses(t).ct); !errors.As(err, &ce) || ce.Option != "NonMovingSpaceCapacity" {
		t.Fatalf("New without a non-moving space: %v", err)
	}
}
