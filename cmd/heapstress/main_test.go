// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping workload in short mode")
	}
	for _, args := range [][]string{
		{"-Xmx16m", "-Xgc:MS"},
		{"-Xmx16m", "-Xgc:CMS"},
	} {
		prof := filepath.Join(t.TempDir(), "heap.pb.gz")
		cfg := config{
			workers:  2,
			duration: 200 * time.Millisecond,
			live:     64,
			maxArray: 4096,
			interval: 50 * time.Millisecond,
			profile:  prof,
			dump:     true,
			args:     args,
		}
		var out bytes.Buffer
		if err := run(context.Background(), cfg, &out, io.Discard); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
		for _, want := range []string{"allocated ", "collections", "Total GC count"} {
			if !strings.Contains(out.String(), want) {
				t.Errorf("%v: output missing %q:\n%s", args, want, out.String())
			}
		}
		if fi, err := os.Stat(prof); err != nil || fi.Size() == 0 {
			t.Errorf("%v: heap profile not written: %v", args, err)
		}
	}
}

func TestRunBadOptions(t *testing.T) {
	cfg := config{workers: 1, live: 1, duration: time.Millisecond, args: []string{"-Xgc:nosuch"}}
	if err := run(context.Background(), cfg, io.Discard, io.Discard); err == nil {
		t.Fatal("run accepted an unknown collector")
	}
}
