package hbm

import "github.com/cockroachdb/errors"

// Extent is the size descriptor of a buffer object: a 1-D byte size for
// opaque formats or 2-D pixel dimensions for pixel formats. Geometry code
// switches on the concrete type.
type Extent interface {
	isExtent()
}

// BufferExtent is the extent of an opaque byte buffer.
type BufferExtent struct {
	Size uint64
}

func (BufferExtent) isExtent() {}

// ImageExtent is the extent of a 2-D image.
type ImageExtent struct {
	Width  uint32
	Height uint32
}

func (ImageExtent) isExtent() {}

// resolveExtent builds the extent for a resolved format. The opaque sentinel
// format always yields a BufferExtent whose size is the requested width.
func resolveExtent(format Format, width, height uint32) (Extent, error) {
	if format == FormatInvalid {
		if height != 1 {
			return nil, errors.AssertionFailedf("byte buffers must have height 1, got %d", height)
		}
		return BufferExtent{Size: uint64(width)}, nil
	}

	return ImageExtent{Width: width, Height: height}, nil
}
