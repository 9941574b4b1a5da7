package hbm

import "github.com/cockroachdb/errors"

// A staging resource is a secondary, always-linear, host-mappable buffer
// object standing in for a primary object whose layout cannot or should not
// be mapped directly. One is created per map/unmap cycle, sized to the
// geometry precomputed at resource creation.

func stagingDescription() Description {
	return Description{
		Flags:    DescriptionMap | DescriptionCopy,
		Format:   FormatInvalid,
		Modifier: ModifierInvalid,
	}
}

func (e *Engine) createStagingObject(size uint64) (Object, error) {
	desc := stagingDescription()
	extent := BufferExtent{Size: size}

	return e.provider.CreateWithConstraint(&desc, extent, nil)
}

// pickStagingMemoryType selects the memory type every staged resource will
// use, by enumerating the candidates of a throwaway 1-byte staging object.
// Mappable and coherent are required (the sync path never flushes staging
// memory); cached is preferred.
func (e *Engine) pickStagingMemoryType() (MemoryType, error) {
	obj, err := e.createStagingObject(1)
	if err != nil {
		return MemoryType{}, errors.Wrap(err, "creating probe staging object")
	}
	candidates := e.provider.MemoryTypes(obj)
	e.provider.Destroy(obj)

	const required = MemoryTypeMappable | MemoryTypeCoherent
	const preferred = MemoryTypeCached

	best := -1
	for i, candidate := range candidates {
		if candidate.Flags&required != required {
			continue
		}

		if candidate.Flags&preferred != 0 {
			best = i
			break
		} else if best < 0 {
			best = i
		}
	}

	if best < 0 {
		return MemoryType{}, errors.New("no mappable, coherent memory type for staging")
	}

	return candidates[best], nil
}

// resolveStagingGeometry lays planes out back to back in index order. The
// opaque format is a single contiguous region.
func resolveStagingGeometry(format Format, extent Extent) *stagingGeometry {
	switch ext := extent.(type) {
	case BufferExtent:
		return &stagingGeometry{
			size:       ext.Size,
			planeCount: 1,
		}
	case ImageExtent:
		geometry := &stagingGeometry{
			planeCount: formatPlaneCount(format),
		}

		var offset uint64
		for plane := 0; plane < geometry.planeCount; plane++ {
			stride := formatStride(format, ext.Width, plane)
			size := formatPlaneSize(format, stride, ext.Height, plane)

			geometry.offsets[plane] = offset
			geometry.strides[plane] = stride
			offset += uint64(size)
		}

		geometry.size = offset
		return geometry
	default:
		return nil
	}
}
