// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/term"

	"github.com/MotorolaMobilityLLC/art-sub006/gc"
	"github.com/MotorolaMobilityLLC/art-sub006/metrics"
	"github.com/MotorolaMobilityLLC/art-sub006/vm"
)

type config struct {
	workers  int
	duration time.Duration
	live     int
	maxArray int
	zygote   bool
	interval time.Duration
	profile  string
	dump     bool
	verbose  bool
	args     []string
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: heapstress [flags] [-- runtime options]\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("heapstress: ")

	var cfg config
	flag.IntVar(&cfg.workers, "workers", 4, "number of mutator goroutines")
	flag.DurationVar(&cfg.duration, "duration", 5*time.Second, "how long to run")
	flag.IntVar(&cfg.live, "live", 1024, "live slots per worker")
	flag.IntVar(&cfg.maxArray, "maxarray", 16<<10, "largest byte array allocated")
	flag.BoolVar(&cfg.zygote, "zygote", false, "fork the zygote space before the workload")
	flag.DurationVar(&cfg.interval, "interval", time.Second, "interval between heap snapshots")
	flag.StringVar(&cfg.profile, "profile", "", "write a heap profile to `file`")
	flag.BoolVar(&cfg.dump, "dump", false, "print GC performance information")
	flag.BoolVar(&cfg.verbose, "v", false, "log every collection")
	flag.Usage = usage
	flag.Parse()
	cfg.args = flag.Args()
	if cfg.workers < 1 || cfg.live < 1 || cfg.maxArray < 0 {
		usage()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config, stdout, stderr io.Writer) error {
	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	opts, err := gc.ParseOptions(cfg.args)
	if err != nil {
		return err
	}
	opts.Logger = logger

	backends := []metrics.Backend{metrics.SlogBackend{Logger: logger}}
	prog := newProgress(stderr)
	if prog != nil {
		backends = append(backends, prog)
	} else {
		backends = append(backends, metrics.NewTextBackend(stdout))
	}
	rep := metrics.NewReporter(metrics.ReporterConfig{
		Interval: cfg.interval,
		Backends: backends,
		Logger:   logger,
	})
	opts.Observer = rep

	rt, err := vm.NewRuntime(vm.Config{Heap: opts})
	if err != nil {
		return err
	}
	defer rt.Close()
	rep.Start(rt.Heap())

	if cfg.zygote {
		if err := rt.Heap().PreZygoteFork(rt.MainThread()); err != nil {
			rep.Stop()
			return err
		}
	}

	wctx, cancel := context.WithTimeout(ctx, cfg.duration)
	defer cancel()
	res, err := runWorkload(wctx, rt, cfg)
	sum := rep.Stop()
	if prog != nil {
		prog.finish()
	}
	if err != nil {
		return err
	}
	printResult(stdout, res, sum)

	if cfg.dump {
		rt.Heap().DumpGcPerformanceInfo(stdout)
	}
	if cfg.profile != "" {
		f, err := os.Create(cfg.profile)
		if err != nil {
			return err
		}
		if err := rt.Heap().WriteHeapProfile(rt.MainThread(), f); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

// isTerminal reports whether w is a terminal and its width.
func isTerminal(w io.Writer) (int, bool) {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0, false
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}
	return width, true
}
