// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mem manages the memory mappings that back heap spaces, bitmaps
// and card tables.
//
// A mapping moves through the states the system allocator uses:
//
//	None     no mapping
//	Ready    mapped read/write and safe to access
//	Prepared mapped, but the pages have been handed back to the OS;
//	         the contents are undefined until written again
//
// MapAnonymous and MapFile go None -> Ready, Release goes Ready -> Prepared
// and Unmap goes back to None.
package mem

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
)

// PageSize is the allocation granule of spaces and of the large object
// space. It is independent of the OS page size.
const PageSize = 4096

var ErrEmptyMapping = errors.New("mem: zero-length mapping")

// mapping is one OS mapping, shared by the MemMaps split from it.
type mapping struct {
	data []byte
	anon bool
	refs atomic.Int32
}

// A MemMap is a view of a mapping.
type MemMap struct {
	name string
	m    *mapping
	data []byte
	off  uintptr // offset of data within m.data
}

// MapAnonymous maps size bytes of zeroed private memory, rounded up to
// PageSize. None -> Ready.
func MapAnonymous(name string, size uintptr) (*MemMap, error) {
	if size == 0 {
		return nil, fmt.Errorf("mem: map %s: %w", name, ErrEmptyMapping)
	}
	size = math.AlignUp(size, PageSize)
	data, err := sysMap(size)
	if err != nil {
		return nil, fmt.Errorf("mem: map %s (%d bytes): %w", name, size, err)
	}
	return newMemMap(name, data, true), nil
}

// MapFile maps size bytes of f starting at offset as a private writable
// mapping. Writes are never carried back to the file.
func MapFile(name string, f *os.File, offset int64, size uintptr) (*MemMap, error) {
	if size == 0 {
		return nil, fmt.Errorf("mem: map %s: %w", name, ErrEmptyMapping)
	}
	size = math.AlignUp(size, PageSize)
	data, err := sysMapFile(f, offset, size)
	if err != nil {
		return nil, fmt.Errorf("mem: map %s from %s at %d: %w", name, f.Name(), offset, err)
	}
	return newMemMap(name, data, false), nil
}

func newMemMap(name string, data []byte, anon bool) *MemMap {
	m := &mapping{data: data, anon: anon}
	m.refs.Store(1)
	return &MemMap{name: name, m: m, data: data}
}

func (mm *MemMap) Name() string { return mm.name }

// Len returns the size of the view in bytes.
func (mm *MemMap) Len() uintptr { return uintptr(len(mm.data)) }

// Bytes returns the memory of the view.
func (mm *MemMap) Bytes() []byte { return mm.data }

// Word returns the 8-byte word at off. off must be 8-byte aligned.
func (mm *MemMap) Word(off uintptr) *uint64 {
	if off&7 != 0 {
		panic(fmt.Sprintf("mem: unaligned word offset %#x in %s", off, mm.name))
	}
	return (*uint64)(unsafe.Pointer(&mm.data[off]))
}

// Words returns the view as a slice of 8-byte words.
func (mm *MemMap) Words() []uint64 {
	if len(mm.data) == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&mm.data[0])), len(mm.data)/8)
}

// Zero clears n bytes at off.
func (mm *MemMap) Zero(off, n uintptr) {
	clear(mm.data[off : off+n])
}

// Release zeroes n bytes at off and hands the whole OS pages inside the
// range back to the system. Ready -> Prepared. It returns the number of
// bytes handed back.
func (mm *MemMap) Release(off, n uintptr) uintptr {
	mm.Zero(off, n)
	if !mm.m.anon {
		// 私有文件映射释放后会重新读到文件内容
		return 0
	}
	ps := uintptr(os.Getpagesize())
	base := uintptr(unsafe.Pointer(&mm.data[0]))
	begin := math.AlignUp(base+off, ps) - base
	end := math.AlignDown(base+off+n, ps) - base
	if begin >= end || end > off+n {
		return 0
	}
	if err := sysUnused(mm.data[begin:end]); err != nil {
		return 0
	}
	return end - begin
}

// Split cuts the view at off and returns the two halves. mm must not be
// used afterwards; each half must be unmapped separately.
func (mm *MemMap) Split(off uintptr, tailName string) (*MemMap, *MemMap) {
	if off > mm.Len() || off%PageSize != 0 {
		panic(fmt.Sprintf("mem: bad split offset %#x of %s", off, mm.name))
	}
	mm.m.refs.Add(1)
	head := &MemMap{name: mm.name, m: mm.m, data: mm.data[:off:off], off: mm.off}
	tail := &MemMap{name: tailName, m: mm.m, data: mm.data[off:], off: mm.off + off}
	mm.data = nil
	return head, tail
}

// Unmap drops the view. The OS mapping goes away once every view split
// from it is unmapped. Ready|Prepared -> None.
func (mm *MemMap) Unmap() error {
	if mm.m == nil {
		return nil
	}
	m := mm.m
	mm.m, mm.data = nil, nil
	if m.refs.Add(-1) != 0 {
		return nil
	}
	if err := sysFree(m.data); err != nil {
		return fmt.Errorf("mem: unmap %s: %w", mm.name, err)
	}
	return nil
}

func (mm *MemMap) String() string {
	return fmt.Sprintf("%s [%#x bytes]", mm.name, len(mm.data))
}
