// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mirror

// Primitive is the element kind of an array class.
type Primitive uint8

const (
	PrimNot     Primitive = iota // reference
	PrimBoolean                  // Z
	PrimByte                     // B
	PrimChar                     // C
	PrimShort                    // S
	PrimInt                      // I 5
	PrimLong                     // J
	PrimFloat                    // F
	PrimDouble                   // D

	primLast = PrimDouble
)

var primitiveSizes = [...]uintptr{
	PrimNot:     ReferenceSize,
	PrimBoolean: 1,
	PrimByte:    1,
	PrimChar:    2,
	PrimShort:   2,
	PrimInt:     4,
	PrimLong:    8,
	PrimFloat:   4,
	PrimDouble:  8,
}

var primitiveDescriptors = [...]byte{
	PrimNot:     'L',
	PrimBoolean: 'Z',
	PrimByte:    'B',
	PrimChar:    'C',
	PrimShort:   'S',
	PrimInt:     'I',
	PrimLong:    'J',
	PrimFloat:   'F',
	PrimDouble:  'D',
}

// ComponentSize returns the size in bytes of one array element of kind p.
func (p Primitive) ComponentSize() uintptr {
	if p > primLast {
		return 0
	}
	return primitiveSizes[p]
}

// Descriptor returns the one-letter type descriptor of p.
func (p Primitive) Descriptor() byte {
	if p > primLast {
		return '?'
	}
	return primitiveDescriptors[p]
}

// PrimitiveFromDescriptor maps a one-letter descriptor back to its kind.
func PrimitiveFromDescriptor(c byte) (Primitive, bool) {
	for p, d := range primitiveDescriptors {
		if d == c {
			return Primitive(p), true
		}
	}
	return 0, false
}
