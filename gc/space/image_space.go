// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package space

import (
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"math/bits"
	"os"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

// An ImageSpace holds the objects of an image file, mapped privately at
// the address the image was built for. It is never collected.
type ImageSpace struct {
	continuousSpace
	header ImageHeader
	live   *accounting.ContinuousSpaceBitmap
}

// OpenImageSpace maps the image at path and loads its live bitmap.
func OpenImageSpace(path string) (*ImageSpace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("space: open image: %w", err)
	}
	defer f.Close()

	var buf [ImageHeaderSize]byte
	if _, err := f.ReadAt(buf[:], 0); err != nil {
		return nil, fmt.Errorf("space: read image header of %s: %w", path, err)
	}
	var h ImageHeader
	if err := h.UnmarshalBinary(buf[:]); err != nil {
		return nil, err
	}
	if !h.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidImage, path)
	}
	begin := mirror.Address(h.ImageBegin)
	if begin%mem.PageSize != 0 {
		return nil, fmt.Errorf("%w: %s begins at unaligned %v", ErrInvalidImage, path, begin)
	}

	mm, err := mem.MapFile(path, f, 0, uintptr(h.ImageSize))
	if err != nil {
		return nil, fmt.Errorf("space: %w", err)
	}
	data := mm.Bytes()[:h.ImageSize]
	if sum := adler32.Checksum(data[imageObjectsOffset:]); sum != h.OatChecksum {
		mm.Unmap()
		return nil, fmt.Errorf("%w: %s checksum %#x, header says %#x", ErrInvalidImage, path, sum, h.OatChecksum)
	}

	bitmap := make([]byte, h.ImageBitmapSize)
	if _, err := f.ReadAt(bitmap, int64(h.BitmapOffset())); err != nil {
		mm.Unmap()
		return nil, fmt.Errorf("space: read image bitmap of %s: %w", path, err)
	}
	live, err := accounting.CreateContinuousSpaceBitmap(bitmapName(path, "live"), begin, mm.Len())
	if err != nil {
		mm.Unmap()
		return nil, fmt.Errorf("space: %s: %w", path, err)
	}
	for w := 0; w+8 <= len(bitmap); w += 8 {
		word := binary.LittleEndian.Uint64(bitmap[w:])
		for word != 0 {
			i := uintptr(w/8*64) + uintptr(bits.TrailingZeros64(word))
			live.Set(begin + mirror.Address(i*mirror.ObjectAlignment))
			word &= word - 1
		}
	}
	end := begin + mirror.Address(h.ImageSize)
	s := &ImageSpace{header: h, live: live}
	s.init(path, mm, begin, end, NeverCollect)
	return s, nil
}

func (s *ImageSpace) Type() Type           { return TypeImage }
func (s *ImageSpace) CanMoveObjects() bool { return false }
func (s *ImageSpace) Header() ImageHeader  { return s.header }

// Roots returns the object array the image was written with as its root.
func (s *ImageSpace) Roots() mirror.Address { return mirror.Address(s.header.ImageRoots) }

// ObjectsBegin returns the address of the first object.
func (s *ImageSpace) ObjectsBegin() mirror.Address { return s.begin + mirror.Address(imageObjectsOffset) }

func (s *ImageSpace) LiveBitmap() *accounting.ContinuousSpaceBitmap { return s.live }

// MarkBitmap is the live bitmap: image objects are always marked.
func (s *ImageSpace) MarkBitmap() *accounting.ContinuousSpaceBitmap { return s.live }

func (s *ImageSpace) Release() error {
	s.live.Release()
	return s.mm.Unmap()
}

func (s *ImageSpace) Dump() string {
	return fmt.Sprintf("%s,roots=%#x", s.dump(TypeImage), s.header.ImageRoots)
}

var _ ContinuousSpace = (*ImageSpace)(nil)
