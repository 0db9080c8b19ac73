// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package allocator

// An Allocator hands out zeroed ranges of an arena by offset.
type Allocator interface {
	// Alloc returns the offset of size zeroed bytes and how many bytes
	// were actually taken. tc may be nil.
	Alloc(tc *ThreadCache, size uintptr) (off, allocated uintptr, ok bool)
	Free(off uintptr) uintptr
	FreeList(offs []uintptr) uintptr
	UsableSize(off uintptr) uintptr

	NewThreadCache() *ThreadCache
	RevokeThreadCache(tc *ThreadCache) uintptr

	Footprint() uintptr
	FootprintLimit() uintptr
	SetFootprintLimit(limit uintptr)
	Capacity() uintptr
	LargestFreeContiguous() uintptr
	Trim() uintptr
	Verify() error
}

var (
	_ Allocator = (*RosAlloc)(nil)
	_ Allocator = (*DlMalloc)(nil)
)
