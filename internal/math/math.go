// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package math

import "math/bits"

const MaxUintptr = ^uintptr(0)

const ptrSize = bits.UintSize / 8

// MulUintptr returns a * b and whether the multiplication overflowed.
func MulUintptr(a, b uintptr) (uintptr, bool) {
	// 高位没有1的数, 乘起来, 肯定不会溢出
	if a|b < 1<<(4*ptrSize) || a == 0 {
		return a * b, false
	}
	overflow := b > MaxUintptr/a
	return a * b, overflow
}

// AddUintptr returns a + b and whether the addition overflowed.
func AddUintptr(a, b uintptr) (uintptr, bool) {
	s := a + b
	return s, s < a
}

// AlignUp rounds n up to a multiple of a. a must be a power of 2.
func AlignUp(n, a uintptr) uintptr {
	return (n + a - 1) &^ (a - 1)
}

// AlignDown rounds n down to a multiple of a. a must be a power of 2.
func AlignDown(n, a uintptr) uintptr {
	return n &^ (a - 1)
}

// IsAligned reports whether n is a multiple of a. a must be a power of 2.
func IsAligned(n, a uintptr) bool {
	return n&(a-1) == 0
}

// DivRoundUp returns ceil(n / a).
func DivRoundUp(n, a uintptr) uintptr {
	return (n + a - 1) / a
}

// RoundUp rounds n up to a multiple of a, for any a > 0.
func RoundUp(n, a uintptr) uintptr {
	return DivRoundUp(n, a) * a
}
