package hbm

// Format is a DRM fourcc pixel format code. FormatInvalid is the opaque
// sentinel: extents and staging geometry for it are expressed in bytes
// rather than pixels.
type Format uint32

const (
	FormatInvalid Format = 0

	FormatR8     = Format('R' | '8'<<8 | ' '<<16 | ' '<<24)
	FormatGR88   = Format('G' | 'R'<<8 | '8'<<16 | '8'<<24)
	FormatRGB565 = Format('R' | 'G'<<8 | '1'<<16 | '6'<<24)
	FormatBGR888 = Format('B' | 'G'<<8 | '2'<<16 | '4'<<24)

	FormatARGB8888 = Format('A' | 'R'<<8 | '2'<<16 | '4'<<24)
	FormatXRGB8888 = Format('X' | 'R'<<8 | '2'<<16 | '4'<<24)
	FormatABGR8888 = Format('A' | 'B'<<8 | '2'<<16 | '4'<<24)
	FormatXBGR8888 = Format('X' | 'B'<<8 | '2'<<16 | '4'<<24)

	FormatABGR2101010 = Format('A' | 'B'<<8 | '3'<<16 | '0'<<24)

	FormatNV12   = Format('N' | 'V'<<8 | '1'<<16 | '2'<<24)
	FormatNV21   = Format('N' | 'V'<<8 | '2'<<16 | '1'<<24)
	FormatYVU420 = Format('Y' | 'V'<<8 | '1'<<16 | '2'<<24)
	FormatP010   = Format('P' | '0'<<8 | '1'<<16 | '0'<<24)
)

// Modifier is an opaque DRM layout modifier describing tiling or compression
// beyond the per-plane stride/offset model.
type Modifier uint64

const (
	// ModifierLinear is the explicit linear layout.
	ModifierLinear Modifier = 0
	// ModifierInvalid means no modifier was requested (implicit layout).
	ModifierInvalid Modifier = 0x00ffffffffffffff
)

// MaxPlanes is the largest plane count of any supported format.
const MaxPlanes = 4

// formatPlaneCount returns the number of contiguous data planes of a format.
func formatPlaneCount(format Format) int {
	switch format {
	case FormatNV12, FormatNV21, FormatP010:
		return 2
	case FormatYVU420:
		return 3
	default:
		return 1
	}
}

// formatBytesPerPixel returns the byte width of one sample in the given
// plane. Interleaved chroma planes count both samples.
func formatBytesPerPixel(format Format, plane int) uint32 {
	switch format {
	case FormatR8:
		return 1
	case FormatGR88, FormatRGB565:
		return 2
	case FormatBGR888:
		return 3
	case FormatARGB8888, FormatXRGB8888, FormatABGR8888, FormatXBGR8888, FormatABGR2101010:
		return 4
	case FormatNV12, FormatNV21:
		if plane == 0 {
			return 1
		}
		return 2
	case FormatP010:
		if plane == 0 {
			return 2
		}
		return 4
	case FormatYVU420:
		return 1
	default:
		return 0
	}
}

// Chroma subsampling divisors per plane.
func formatSubsampling(format Format, plane int) (horizontal, vertical uint32) {
	if plane == 0 {
		return 1, 1
	}
	switch format {
	case FormatNV12, FormatNV21, FormatP010, FormatYVU420:
		return 2, 2
	default:
		return 1, 1
	}
}

// formatStride returns the tightly-packed stride of one plane in bytes.
func formatStride(format Format, width uint32, plane int) uint32 {
	horizontal, _ := formatSubsampling(format, plane)
	return divRoundUp(width, horizontal) * formatBytesPerPixel(format, plane)
}

// formatPlaneSize returns the byte size of one plane given its stride and
// the full image height.
func formatPlaneSize(format Format, stride, height uint32, plane int) uint32 {
	_, vertical := formatSubsampling(format, plane)
	return divRoundUp(height, vertical) * stride
}

func divRoundUp(n, d uint32) uint32 {
	return (n + d - 1) / d
}
