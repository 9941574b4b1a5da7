package hbm

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// resource is the engine's record of one allocation: exactly one provider
// object, owned for the resource's lifetime, plus an optional owned dma-buf
// descriptor used for implicit-fence emulation and precomputed staging
// geometry when the staged-copy path was selected at creation.
type resource struct {
	object Object
	format Format
	use    UseFlags

	useSW bool
	// Owned; -1 when absent. Closed exactly once, on destruction.
	implicitFenceFd int

	// Present if and only if the staged path was selected.
	staging *stagingGeometry
}

// stagingGeometry is computed once, at resource creation, from the resolved
// format and dimensions.
type stagingGeometry struct {
	size       uint64
	planeCount int
	offsets    [MaxPlanes]uint64
	strides    [MaxPlanes]uint32
}

// ImportData describes an externally-allocated buffer to adopt. Fds holds
// one dma-buf descriptor per plane; Fds[0] backs the whole buffer and is
// borrowed, never consumed.
type ImportData struct {
	Fds      []int
	Format   Format
	Modifier Modifier
	Width    uint32
	Height   uint32
	Offsets  [MaxPlanes]uint32
	Strides  [MaxPlanes]uint32
	Use      UseFlags
}

// Allocate creates a resource for the given dimensions, format, and usage
// intents. The modifier candidate list, when non-empty, constrains the
// layout; a single candidate is folded into the description, more than one
// is passed through to the provider. Returns the resource handle and the
// caller-facing layout metadata.
func (e *Engine) Allocate(width, height uint32, format Format, use UseFlags, modifiers []Modifier) (ResourceID, Metadata, error) {
	descModifier := ModifierInvalid
	if len(modifiers) == 1 {
		descModifier = modifiers[0]
	}

	desc, err := e.resolveDescription(format, descModifier, use)
	if err != nil {
		return 0, Metadata{}, err
	}

	extent, err := resolveExtent(desc.Format, width, height)
	if err != nil {
		return 0, Metadata{}, err
	}

	var constraint []Modifier
	if len(modifiers) > 1 {
		constraint = modifiers
	}

	obj, err := e.provider.CreateWithConstraint(&desc, extent, constraint)
	if err != nil {
		return 0, Metadata{}, errors.Wrap(err, "creating buffer object")
	}

	layout := e.provider.Layout(obj)

	id, err := e.createResource(obj, &desc, extent, &layout, use, -1)
	if err != nil {
		e.provider.Destroy(obj)
		return 0, Metadata{}, err
	}

	return id, layout.Metadata(), nil
}

// Import adopts an externally-allocated buffer. The total size always comes
// from the descriptor's length; plane offsets, strides, and the modifier
// come from the caller. A descriptor with the no-modifier sentinel and a
// zero first stride is treated purely as an opaque size probe.
func (e *Engine) Import(data *ImportData) (ResourceID, Metadata, error) {
	if len(data.Fds) == 0 || data.Fds[0] < 0 {
		return 0, Metadata{}, errors.New("import requires at least one descriptor")
	}

	size, err := unix.Seek(data.Fds[0], 0, unix.SEEK_END)
	if err != nil {
		return 0, Metadata{}, errors.Wrap(err, "probing descriptor size")
	}

	format := data.Format
	width, height := data.Width, data.Height
	if data.Modifier == ModifierInvalid && data.Strides[0] == 0 {
		// No layout to speak of; adopt the bytes as-is.
		format = FormatInvalid
	}

	desc, err := e.resolveDescription(format, data.Modifier, data.Use)
	if err != nil {
		return 0, Metadata{}, err
	}

	var extent Extent
	if desc.Format == FormatInvalid {
		extent = BufferExtent{Size: uint64(size)}
	} else {
		extent, err = resolveExtent(desc.Format, width, height)
		if err != nil {
			return 0, Metadata{}, err
		}
	}

	layout := Layout{TotalSize: uint64(size)}
	if desc.Format != FormatInvalid {
		layout.Modifier = data.Modifier
		for i, fd := range data.Fds {
			if fd < 0 || i >= MaxPlanes {
				break
			}
			layout.PlaneCount++
			layout.Offsets[i] = uint64(data.Offsets[i])
			layout.Strides[i] = data.Strides[i]
		}
	}

	obj, err := e.provider.CreateWithLayout(&desc, extent, &layout, data.Fds[0])
	if err != nil {
		return 0, Metadata{}, errors.Wrap(err, "creating buffer object for import")
	}

	id, err := e.createResource(obj, &desc, extent, &layout, data.Use, data.Fds[0])
	if err != nil {
		e.provider.Destroy(obj)
		return 0, Metadata{}, err
	}

	return id, layout.Metadata(), nil
}

// createResource runs memory-type selection, binds memory, and records the
// resource. The caller still owns obj on failure. A supplied dma-buf fd is
// duplicated so the bind always consumes a disposable copy.
func (e *Engine) createResource(obj Object, desc *Description, extent Extent, layout *Layout, use UseFlags, dmabufFd int) (ResourceID, error) {
	memoryType, useStaging, err := pickMemoryType(e.provider.MemoryTypes(obj), layout.Modifier, use)
	if err != nil {
		return 0, err
	}

	if dmabufFd >= 0 {
		dmabufFd, err = unix.Dup(dmabufFd)
		if err != nil {
			return 0, errors.Mark(errors.Wrap(err, "duplicating dma-buf descriptor"), ErrBindFailure)
		}
	}

	// fd ownership is always transferred to the provider.
	if err := e.provider.BindMemory(obj, memoryType.Index, dmabufFd); err != nil {
		return 0, errors.Mark(errors.Wrap(err, "binding memory"), ErrBindFailure)
	}

	res := &resource{
		object:          obj,
		format:          desc.Format,
		use:             use,
		useSW:           useSW(use),
		implicitFenceFd: -1,
	}

	if useStaging {
		res.staging = resolveStagingGeometry(desc.Format, extent)
	}

	id := e.insertResource(res)

	e.logger.Debug("Engine::createResource",
		slog.Uint64("id", uint64(id)),
		slog.Int("MemoryTypeIndex", memoryType.Index),
		slog.Bool("UseStaging", useStaging))

	return id, nil
}

// Free destroys a resource. Calling it twice with the same id is the
// caller's bug; the second call fails.
func (e *Engine) Free(id ResourceID) error {
	e.resourceMutex.Lock()
	defer e.resourceMutex.Unlock()

	res, ok := e.resources.Get(id)
	if !ok {
		return errors.Newf("unknown resource id %d", id)
	}
	e.resources.Delete(id)

	e.destroyResource(res)
	return nil
}

func (e *Engine) destroyResource(res *resource) {
	e.provider.Destroy(res.object)

	if res.implicitFenceFd >= 0 {
		if err := unix.Close(res.implicitFenceFd); err != nil {
			e.logger.Error("error closing implicit-fence descriptor", slog.Any("error", err))
		}
		res.implicitFenceFd = -1
	}
}

// ReimportToDriver exports the resource as a dma-buf (or borrows the
// caller-supplied descriptor) and converts it to a foreign-subsystem handle.
// For software-visible resources the descriptor is retained as the
// resource's implicit-fence descriptor, replacing and closing any prior one.
// Returns the sentinel zero handle with ErrExportFailure when the descriptor
// cannot be obtained or translated.
func (e *Engine) ReimportToDriver(id ResourceID, data *ImportData) (uint32, error) {
	res, err := e.resource(id)
	if err != nil {
		return 0, err
	}
	if e.prime == nil {
		return 0, errors.Mark(errors.New("no PrimeImporter configured"), ErrExportFailure)
	}

	var dmabuf int
	owned := false
	if data != nil {
		if len(data.Fds) == 0 || data.Fds[0] < 0 {
			return 0, errors.Mark(errors.New("reimport data carries no descriptor"), ErrExportFailure)
		}
		dmabuf = data.Fds[0]

		if res.useSW {
			dmabuf, err = unix.Dup(dmabuf)
			if err != nil {
				return 0, errors.Mark(errors.Wrap(err, "duplicating dma-buf descriptor"), ErrExportFailure)
			}
			owned = true
		}
	} else {
		dmabuf, err = e.provider.ExportDmaBuf(res.object)
		if err != nil {
			return 0, errors.Mark(errors.Wrap(err, "exporting dma-buf"), ErrExportFailure)
		}
		owned = true
	}

	handle, err := e.prime.FDToHandle(dmabuf)
	if err != nil {
		if owned {
			_ = unix.Close(dmabuf)
		}
		return 0, errors.Mark(errors.Wrap(err, "translating dma-buf to handle"), ErrExportFailure)
	}

	if res.useSW {
		// Descriptor ownership moves to the resource for fence emulation.
		// A prior descriptor is superseded; close it here, once.
		if res.implicitFenceFd >= 0 {
			_ = unix.Close(res.implicitFenceFd)
		}
		res.implicitFenceFd = dmabuf
	} else if owned {
		_ = unix.Close(dmabuf)
	}

	return handle, nil
}
