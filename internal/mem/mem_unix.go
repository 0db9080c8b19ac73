// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux || darwin

package mem

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// 向系统申请内存 None -> Ready
// syscall(mmap)
func sysMap(n uintptr) ([]byte, error) {
	return unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// sysMapFile maps a private copy-on-write view of f. Offsets that are not
// aligned to the OS page size are read instead.
func sysMapFile(f *os.File, offset int64, n uintptr) ([]byte, error) {
	if offset%int64(os.Getpagesize()) == 0 {
		b, err := unix.Mmap(int(f.Fd()), offset, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
		if err == nil {
			return b, nil
		}
	}
	b, err := sysMap(n)
	if err != nil {
		return nil, err
	}
	if _, err := f.ReadAt(b, offset); err != nil && err != io.EOF {
		unix.Munmap(b)
		return nil, err
	}
	return b, nil
}

// 通知系统物理内存不再需要 Ready -> Prepared
// syscall(madvise)
func sysUnused(b []byte) error {
	return unix.Madvise(b, unix.MADV_DONTNEED)
}

// Ready|Prepared -> None
// syscall(munmap)
func sysFree(b []byte) error {
	return unix.Munmap(b)
}
