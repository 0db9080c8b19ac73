// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux && !darwin

package mem

import (
	"io"
	"os"
)

// Without mmap the mappings live in the Go heap.

func sysMap(n uintptr) ([]byte, error) {
	return make([]byte, n), nil
}

func sysMapFile(f *os.File, offset int64, n uintptr) ([]byte, error) {
	b := make([]byte, n)
	if _, err := f.ReadAt(b, offset); err != nil && err != io.EOF {
		return nil, err
	}
	return b, nil
}

func sysUnused(b []byte) error { return nil }

func sysFree(b []byte) error { return nil }
