// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Heapstress runs an allocation workload against a managed heap and
reports its collections.

Usage:

	heapstress [flags] [-- runtime options]

Each worker goroutine attaches a thread to the heap and keeps a fixed
number of live slots. It repeatedly allocates a linked node or a byte
array of random size and stores it in a random slot, dropping the
object that was there. Running out of memory clears half of the
worker's slots.

The runtime options after -- are passed to the heap, for example:

	heapstress -workers 8 -duration 10s -- -Xmx64m -Xgc:CMS,preverify

The flags are:

	-workers n
		Number of mutator goroutines (default 4).
	-duration d
		How long to run (default 5s).
	-live n
		Live slots per worker (default 1024).
	-maxarray n
		Largest byte array allocated, in bytes (default 16384).
	-zygote
		Fork the zygote space before starting the workload.
	-interval d
		Interval between heap snapshots (default 1s). On a terminal
		a one-line progress display is updated instead.
	-profile file
		Write a pprof heap profile to file at the end.
	-dump
		Print the collectors' performance information at the end.
	-v
		Log every collection.
*/
package main
