// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package space

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/adler32"
	"io"

	"github.com/MotorolaMobilityLLC/art-sub006/gc/accounting"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/math"
	"github.com/MotorolaMobilityLLC/art-sub006/internal/mem"
	"github.com/MotorolaMobilityLLC/art-sub006/mirror"
)

var (
	ImageMagic   = [4]byte{'a', 'r', 't', '\n'}
	ImageVersion = [4]byte{'0', '0', '9', 0}
)

// ImageHeaderSize is the encoded size of an ImageHeader.
const ImageHeaderSize = 52

// imageObjectsOffset is where the first object of an image starts.
var imageObjectsOffset = math.AlignUp(ImageHeaderSize, mirror.ObjectAlignment)

var ErrInvalidImage = errors.New("space: invalid image header")

// An ImageHeader starts every image file. It is stored little endian, in
// field order.
type ImageHeader struct {
	Magic             [4]byte
	Version           [4]byte
	ImageBegin        uint32
	ImageSize         uint32
	ImageBitmapOffset uint32
	ImageBitmapSize   uint32
	OatChecksum       uint32
	OatFileBegin      uint32
	OatDataBegin      uint32
	OatDataEnd        uint32
	OatFileEnd        uint32
	PatchDelta        int32
	ImageRoots        uint32
}

func (h *ImageHeader) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(ImageHeaderSize)
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *ImageHeader) UnmarshalBinary(data []byte) error {
	if len(data) < ImageHeaderSize {
		return fmt.Errorf("%w: %d bytes, want %d", ErrInvalidImage, len(data), ImageHeaderSize)
	}
	return binary.Read(bytes.NewReader(data[:ImageHeaderSize]), binary.LittleEndian, h)
}

// IsValid reports whether the header is one this loader understands and
// its ranges are consistent.
func (h *ImageHeader) IsValid() bool {
	switch {
	case h.Magic != ImageMagic, h.Version != ImageVersion:
		return false
	case h.ImageBegin >= h.ImageBegin+h.ImageSize: // unsigned, so wraparound fails
		return false
	case h.OatFileBegin > h.OatFileEnd:
		return false
	case h.OatDataBegin > h.OatDataEnd:
		return false
	case h.OatFileBegin >= h.OatDataBegin:
		return false
	case h.ImageRoots <= h.ImageBegin || h.OatFileBegin <= h.ImageRoots:
		return false
	case !math.IsAligned(uintptr(int64(h.PatchDelta)), mem.PageSize):
		return false
	}
	return true
}

// BitmapOffset returns the file offset of the live bitmap.
func (h *ImageHeader) BitmapOffset() uintptr {
	return math.RoundUp(uintptr(h.ImageSize), mem.PageSize)
}

// An ImageBuilder lays out objects for an image file at a fixed address.
type ImageBuilder struct {
	begin mirror.Address
	data  []byte // contents from begin, header included
	objs  []mirror.Address
	roots mirror.Address
}

func NewImageBuilder(begin mirror.Address) *ImageBuilder {
	return &ImageBuilder{begin: begin, data: make([]byte, imageObjectsOffset)}
}

// Alloc reserves n zeroed bytes for a new object.
func (b *ImageBuilder) Alloc(n uintptr) mirror.Address {
	n = math.AlignUp(n, mirror.ObjectAlignment)
	obj := b.begin + mirror.Address(len(b.data))
	b.data = append(b.data, make([]byte, n)...)
	b.objs = append(b.objs, obj)
	return obj
}

// SetRoots records the object array holding the image roots.
func (b *ImageBuilder) SetRoots(obj mirror.Address) { b.roots = obj }

// Memory gives read and write access to the objects being built.
func (b *ImageBuilder) Memory() mirror.Memory { return (*builderMemory)(b) }

type builderMemory ImageBuilder

func (m *builderMemory) at(a mirror.Address) []byte {
	off := uintptr(a - m.begin)
	return m.data[off : off+8]
}

func (m *builderMemory) Load(a mirror.Address) uint64 {
	return binary.LittleEndian.Uint64(m.at(a))
}

func (m *builderMemory) Store(a mirror.Address, v uint64) {
	binary.LittleEndian.PutUint64(m.at(a), v)
}

func (m *builderMemory) CompareAndSwap(a mirror.Address, old, new uint64) bool {
	if m.Load(a) != old {
		return false
	}
	m.Store(a, new)
	return true
}

// Header returns the header the image will be written with.
func (b *ImageBuilder) Header() ImageHeader {
	size := uint32(len(b.data))
	bitmapSize := accounting.ComputeBitmapSize[accounting.ObjectAlignment](uintptr(size))
	oatBegin := uint32(math.AlignUp(uintptr(b.begin)+uintptr(size), mem.PageSize))
	return ImageHeader{
		Magic:             ImageMagic,
		Version:           ImageVersion,
		ImageBegin:        uint32(b.begin),
		ImageSize:         size,
		ImageBitmapOffset: uint32(math.RoundUp(uintptr(size), mem.PageSize)),
		ImageBitmapSize:   uint32(bitmapSize),
		OatChecksum:       adler32.Checksum(b.data[imageObjectsOffset:]),
		OatFileBegin:      oatBegin,
		OatDataBegin:      oatBegin + mem.PageSize,
		OatDataEnd:        oatBegin + mem.PageSize,
		OatFileEnd:        oatBegin + mem.PageSize,
		ImageRoots:        uint32(b.roots),
	}
}

// WriteTo writes the image: header and objects, padding to a page, then
// the live bitmap.
func (b *ImageBuilder) WriteTo(w io.Writer) (int64, error) {
	h := b.Header()
	if !h.IsValid() {
		return 0, fmt.Errorf("%w: image at %v (roots %#x)", ErrInvalidImage, b.begin, h.ImageRoots)
	}
	hdr, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}
	out := make([]byte, h.BitmapOffset()+uintptr(h.ImageBitmapSize))
	copy(out, b.data)
	copy(out, hdr)
	bitmap := out[h.BitmapOffset():]
	for _, obj := range b.objs {
		i := uintptr(obj-b.begin) / mirror.ObjectAlignment
		word := binary.LittleEndian.Uint64(bitmap[i/64*8:])
		binary.LittleEndian.PutUint64(bitmap[i/64*8:], word|1<<(i%64))
	}
	n, err := w.Write(out)
	return int64(n), err
}
