package hbm

// Layout is the memory layout of a buffer object as reported by the
// provider after creation: total byte size, the concrete modifier, and
// per-plane offsets and strides. Plane offsets are monotonically
// non-decreasing.
type Layout struct {
	TotalSize  uint64
	Modifier   Modifier
	PlaneCount int
	Offsets    [MaxPlanes]uint64
	Strides    [MaxPlanes]uint32
}

// Metadata is the externally-visible form of a Layout, with per-plane sizes
// derived from consecutive offsets.
type Metadata struct {
	TotalSize  uint64
	Modifier   Modifier
	PlaneCount int
	Offsets    [MaxPlanes]uint64
	Strides    [MaxPlanes]uint32
	Sizes      [MaxPlanes]uint64
}

// Metadata derives caller-facing layout metadata. The size of plane i is
// offsets[i+1]-offsets[i], or total-offsets[i] for the last plane; planes
// are assumed to be ordered.
func (l *Layout) Metadata() Metadata {
	meta := Metadata{
		TotalSize:  l.TotalSize,
		Modifier:   l.Modifier,
		PlaneCount: l.PlaneCount,
	}

	for i := 0; i < l.PlaneCount; i++ {
		meta.Offsets[i] = l.Offsets[i]
		meta.Strides[i] = l.Strides[i]

		nextOffset := l.TotalSize
		if i+1 < l.PlaneCount {
			nextOffset = l.Offsets[i+1]
		}
		meta.Sizes[i] = nextOffset - l.Offsets[i]
	}

	return meta
}
