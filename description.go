package hbm

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
)

// DescriptionFlags are capability flags on a canonical buffer description.
type DescriptionFlags uint32

var descriptionFlagsMapping = common.NewFlagStringMapping[DescriptionFlags]()

func (f DescriptionFlags) Register(str string) {
	descriptionFlagsMapping.Register(f, str)
}
func (f DescriptionFlags) String() string {
	return descriptionFlagsMapping.FlagsToString(f)
}

const (
	// DescriptionExternal marks the buffer as shareable outside the device.
	DescriptionExternal DescriptionFlags = 1 << iota
	// DescriptionProtected requests protected-content memory.
	DescriptionProtected
	// DescriptionNoCompression disables layout compression.
	DescriptionNoCompression
	// DescriptionMap requests host-mappable capability.
	DescriptionMap
	// DescriptionCopy requests transfer-copy capability.
	DescriptionCopy
)

func init() {
	DescriptionExternal.Register("DescriptionExternal")
	DescriptionProtected.Register("DescriptionProtected")
	DescriptionNoCompression.Register("DescriptionNoCompression")
	DescriptionMap.Register("DescriptionMap")
	DescriptionCopy.Register("DescriptionCopy")
}

// DescriptionUsage is the GPU usage bitset of a description.
type DescriptionUsage uint32

var descriptionUsageMapping = common.NewFlagStringMapping[DescriptionUsage]()

func (u DescriptionUsage) Register(str string) {
	descriptionUsageMapping.Register(u, str)
}
func (u DescriptionUsage) String() string {
	return descriptionUsageMapping.FlagsToString(u)
}

const (
	// UsageGPUColor marks the buffer as a color render target.
	UsageGPUColor DescriptionUsage = 1 << iota
	// UsageGPUSampled marks the buffer as a sampled texture.
	UsageGPUSampled
	// UsageGPUUniform marks the buffer as a uniform data buffer.
	UsageGPUUniform
	// UsageGPUStorage marks the buffer as a storage data buffer.
	UsageGPUStorage
	// UsageGPUScanoutHack hints to the provider that the buffer is destined
	// for a display overlay even though no modifier was negotiated.
	UsageGPUScanoutHack
)

func init() {
	UsageGPUColor.Register("UsageGPUColor")
	UsageGPUSampled.Register("UsageGPUSampled")
	UsageGPUUniform.Register("UsageGPUUniform")
	UsageGPUStorage.Register("UsageGPUStorage")
	UsageGPUScanoutHack.Register("UsageGPUScanoutHack")
}

// Description is the canonical, provider-facing form of an allocation
// request. It is derived deterministically from the caller's format,
// modifier, and usage intents and never mutated afterwards.
type Description struct {
	Flags    DescriptionFlags
	Format   Format
	Modifier Modifier
	Usage    DescriptionUsage
}

// resolveDescription normalizes a request into a Description.
//
// Byte-buffer intents (UseGPUDataBuffer, UseSensorDirectData) rewrite the
// format to FormatInvalid; callers are expected to have declared FormatR8
// for such buffers. When no modifier was requested, linear is forced for
// linear/cursor use, overlay use adds the scanout hint, and software use
// probes the provider for a linear layout when the direct-map path is
// preferred.
func (e *Engine) resolveDescription(format Format, modifier Modifier, use UseFlags) (Description, error) {
	flags := DescriptionExternal
	if use&UseProtected != 0 {
		flags |= DescriptionProtected
	}
	if use&UseFrontRendering != 0 {
		flags |= DescriptionNoCompression
	}

	var usage DescriptionUsage
	if use&UseRendering != 0 {
		usage |= UsageGPUColor
	}
	if use&UseTexture != 0 {
		usage |= UsageGPUSampled
	}
	if use&UseGPUDataBuffer != 0 {
		usage |= UsageGPUUniform | UsageGPUStorage
	}
	if useGPU(use) != (usage != 0) {
		return Description{}, errors.AssertionFailedf("GPU use flags %s resolved to inconsistent usage %s", use, usage)
	}

	if useBlob(use) && format != FormatInvalid {
		if format != FormatR8 {
			return Description{}, errors.AssertionFailedf("byte-buffer use flags require FormatR8, got %#x", uint32(format))
		}
		format = FormatInvalid
	}

	if modifier == ModifierInvalid {
		if use&(UseLinear|UseCursor) != 0 {
			modifier = ModifierLinear
		}
		if useOverlay(use) {
			usage |= UsageGPUScanoutHack
		}
	}

	if useSW(use) {
		// Request both so the memory-type selector can pick either path.
		flags |= DescriptionMap | DescriptionCopy

		if modifier == ModifierInvalid && preferMap(use) {
			probe := Description{
				Flags:    flags,
				Format:   format,
				Modifier: modifier,
				Usage:    usage,
			}
			if e.provider.HasModifier(&probe, ModifierLinear) {
				modifier = ModifierLinear
			}
		}
	}

	return Description{
		Flags:    flags,
		Format:   format,
		Modifier: modifier,
		Usage:    usage,
	}, nil
}

// FormatModifiers returns the layout modifiers the provider supports for a
// format under the given usage intents.
func (e *Engine) FormatModifiers(format Format, use UseFlags) ([]Modifier, error) {
	desc, err := e.resolveDescription(format, ModifierInvalid, use)
	if err != nil {
		return nil, err
	}

	return e.provider.Modifiers(&desc), nil
}
