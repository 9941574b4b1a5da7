package hbm

import "github.com/vkngwrapper/core/v2/common"

// UseFlags is a bitset of caller-declared usage intents for a buffer. It
// describes how the buffer will be consumed (render target, sampled texture,
// display scanout, software access frequency, etc.) and drives memory-type
// selection and the choice between the direct-map and staged-copy data paths.
type UseFlags uint32

var useFlagsMapping = common.NewFlagStringMapping[UseFlags]()

func (f UseFlags) Register(str string) {
	useFlagsMapping.Register(f, str)
}
func (f UseFlags) String() string {
	return useFlagsMapping.FlagsToString(f)
}

const (
	// UseScanout indicates the buffer may be presented on a display plane.
	UseScanout UseFlags = 1 << iota
	// UseCursor indicates the buffer backs a hardware cursor. Cursor buffers
	// must be linear.
	UseCursor
	// UseRendering indicates the buffer will be used as a GPU render target.
	UseRendering
	// UseLinear requests a linear memory layout regardless of other intents.
	UseLinear
	// UseTexture indicates the buffer will be sampled by the GPU.
	UseTexture
	// UseCameraWrite indicates the camera subsystem writes into the buffer.
	UseCameraWrite
	// UseCameraRead indicates the camera subsystem reads from the buffer.
	UseCameraRead
	// UseProtected requests protected-content memory.
	UseProtected
	// UseSWReadOften indicates frequent CPU reads.
	UseSWReadOften
	// UseSWReadRarely indicates occasional CPU reads.
	UseSWReadRarely
	// UseSWWriteOften indicates frequent CPU writes.
	UseSWWriteOften
	// UseSWWriteRarely indicates occasional CPU writes.
	UseSWWriteRarely
	// UseHWVideoDecoder indicates the buffer is written by a video decoder.
	UseHWVideoDecoder
	// UseHWVideoEncoder indicates the buffer is read by a video encoder.
	UseHWVideoEncoder
	// UseFrontRendering indicates the buffer is rendered to while scanned
	// out, which disables compression.
	UseFrontRendering
	// UseGPUDataBuffer indicates the buffer holds generic GPU data rather
	// than pixels. The format is reinterpreted as an opaque byte buffer.
	UseGPUDataBuffer
	// UseSensorDirectData indicates the buffer receives sensor data
	// directly. Like UseGPUDataBuffer, it implies byte-buffer semantics.
	UseSensorDirectData
)

func init() {
	UseScanout.Register("UseScanout")
	UseCursor.Register("UseCursor")
	UseRendering.Register("UseRendering")
	UseLinear.Register("UseLinear")
	UseTexture.Register("UseTexture")
	UseCameraWrite.Register("UseCameraWrite")
	UseCameraRead.Register("UseCameraRead")
	UseProtected.Register("UseProtected")
	UseSWReadOften.Register("UseSWReadOften")
	UseSWReadRarely.Register("UseSWReadRarely")
	UseSWWriteOften.Register("UseSWWriteOften")
	UseSWWriteRarely.Register("UseSWWriteRarely")
	UseHWVideoDecoder.Register("UseHWVideoDecoder")
	UseHWVideoEncoder.Register("UseHWVideoEncoder")
	UseFrontRendering.Register("UseFrontRendering")
	UseGPUDataBuffer.Register("UseGPUDataBuffer")
	UseSensorDirectData.Register("UseSensorDirectData")
}

// The engine assumes no knowledge about the display beyond these rules:
// scanout and cursor buffers must live in local, non-cached memory (so
// readback goes through a copy), and cursor buffers must be linear.
func useOverlay(use UseFlags) bool {
	return use&(UseScanout|UseCursor) != 0
}

func useGPU(use UseFlags) bool {
	return use&(UseRendering|UseTexture|UseGPUDataBuffer) != 0
}

func useBlob(use UseFlags) bool {
	return use&(UseGPUDataBuffer|UseSensorDirectData) != 0
}

func useSWRead(use UseFlags) bool {
	return use&(UseSWReadOften|UseSWReadRarely) != 0
}

func useSWWrite(use UseFlags) bool {
	return use&(UseSWWriteOften|UseSWWriteRarely) != 0
}

func useSW(use UseFlags) bool {
	return useSWRead(use) || useSWWrite(use)
}

func useSWOften(use UseFlags) bool {
	return use&(UseSWReadOften|UseSWWriteOften) != 0
}

// preferMap chooses between the direct-map and staged-copy data paths for a
// software-visible buffer. Overlay memory is tiled and uncached, so direct
// mapping only pays off for frequent write-only access; GPU buffers map
// directly only under frequent software access; pure CPU buffers always map.
func preferMap(use UseFlags) bool {
	if useOverlay(use) {
		return useSWOften(use) && !useSWRead(use)
	}
	if useGPU(use) {
		return useSWOften(use)
	}
	return true
}

// MapFlags describes the software access mode of one map/unmap cycle.
type MapFlags uint32

var mapFlagsMapping = common.NewFlagStringMapping[MapFlags]()

func (f MapFlags) Register(str string) {
	mapFlagsMapping.Register(f, str)
}
func (f MapFlags) String() string {
	return mapFlagsMapping.FlagsToString(f)
}

const (
	// MapRead requests CPU read access to the mapped region.
	MapRead MapFlags = 1 << iota
	// MapWrite requests CPU write access to the mapped region.
	MapWrite
)

func init() {
	MapRead.Register("MapRead")
	MapWrite.Register("MapWrite")
}
