// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mem

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMapAnonymous(t *testing.T) {
	mm, err := MapAnonymous("test", 10000)
	if err != nil {
		t.Fatal(err)
	}
	defer mm.Unmap()
	if got, want := mm.Len(), uintptr(3*PageSize); got != want {
		t.Fatalf("Len = %d, want %d", got, want)
	}
	for i, b := range mm.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
	*mm.Word(8) = 0xdeadbeef
	if got := mm.Words()[1]; got != 0xdeadbeef {
		t.Errorf("Words()[1] = %#x", got)
	}
	mm.Release(0, mm.Len())
	if got := *mm.Word(8); got != 0 {
		t.Errorf("word after Release = %#x, want 0", got)
	}
}

func TestMapEmpty(t *testing.T) {
	if _, err := MapAnonymous("empty", 0); !errors.Is(err, ErrEmptyMapping) {
		t.Fatalf("MapAnonymous(0) error = %v, want ErrEmptyMapping", err)
	}
}

func TestSplit(t *testing.T) {
	mm, err := MapAnonymous("whole", 4*PageSize)
	if err != nil {
		t.Fatal(err)
	}
	mm.Bytes()[PageSize] = 7
	head, tail := mm.Split(PageSize, "tail")
	if head.Len() != PageSize || tail.Len() != 3*PageSize {
		t.Fatalf("split lengths %d, %d", head.Len(), tail.Len())
	}
	if tail.Bytes()[0] != 7 {
		t.Errorf("tail does not alias the mapping")
	}
	if err := head.Unmap(); err != nil {
		t.Fatal(err)
	}
	// The tail is still mapped.
	tail.Bytes()[1] = 1
	if err := tail.Unmap(); err != nil {
		t.Fatal(err)
	}
}

func TestMapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")
	want := make([]byte, 2*PageSize)
	for i := range want {
		want[i] = byte(i)
	}
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	mm, err := MapFile("file", f, PageSize, PageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer mm.Unmap()
	if got := mm.Bytes()[3]; got != want[PageSize+3] {
		t.Errorf("byte 3 = %d, want %d", got, want[PageSize+3])
	}
	// Private mapping: writes stay in memory.
	mm.Bytes()[0] = 0xff
	disk, _ := os.ReadFile(path)
	if disk[PageSize] == 0xff {
		t.Errorf("write reached the file")
	}
}
