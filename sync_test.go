package hbm

import (
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func mappedBytes(ptr unsafe.Pointer, size uint64) []byte {
	return unsafe.Slice((*byte)(ptr), size)
}

func TestDirectMapSync(t *testing.T) {
	provider := newFakeProvider(defaultTestTypes())
	provider.supportsLinear = true
	engine := newTestEngine(t, provider, CreateOptions{})
	defer engine.Destroy()

	id, _, err := engine.Allocate(16, 1, FormatR8, UseSensorDirectData|UseSWWriteOften, nil)
	require.NoError(t, err)

	ptr, mapping, err := engine.Map(id, MapWrite)
	require.NoError(t, err)
	require.NotNil(t, ptr)
	require.Nil(t, mapping.staging)

	res, err := engine.resource(id)
	require.NoError(t, err)
	primary := res.object.(*fakeObject)
	require.True(t, primary.mapped)

	require.NoError(t, engine.Sync(id, mapping, 0, Rect{X: 0, Width: 16}, SyncFlush))
	require.Equal(t, 1, provider.flushes)

	require.NoError(t, engine.Sync(id, mapping, 0, Rect{X: 0, Width: 16}, SyncInvalidate))
	require.Equal(t, 1, provider.invalidates)

	require.NoError(t, engine.Unmap(id, mapping))
	require.False(t, primary.mapped)

	require.NoError(t, engine.Free(id))
}

func TestDirectSyncReportsDirection(t *testing.T) {
	provider := newFakeProvider(defaultTestTypes())
	provider.supportsLinear = true
	engine := newTestEngine(t, provider, CreateOptions{})
	defer engine.Destroy()

	id, _, err := engine.Allocate(16, 1, FormatR8, UseSensorDirectData|UseSWWriteOften, nil)
	require.NoError(t, err)

	_, mapping, err := engine.Map(id, MapWrite)
	require.NoError(t, err)

	provider.flushErr = errors.New("flush rejected")
	err = engine.Sync(id, mapping, 0, Rect{X: 0, Width: 16}, SyncFlush)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSyncFailure))
	require.Contains(t, err.Error(), "flushing primary object")
	provider.flushErr = nil

	provider.invalidateErr = errors.New("invalidate rejected")
	err = engine.Sync(id, mapping, 0, Rect{X: 0, Width: 16}, SyncInvalidate)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrSyncFailure))
	require.Contains(t, err.Error(), "invalidating primary object")
	provider.invalidateErr = nil

	require.NoError(t, engine.Unmap(id, mapping))
	require.NoError(t, engine.Free(id))
}

func TestStagedByteBufferRoundTrip(t *testing.T) {
	provider := newFakeProvider(defaultTestTypes())
	engine := newTestEngine(t, provider, CreateOptions{})
	defer engine.Destroy()

	id, _, err := engine.Allocate(4, 1, FormatR8, UseGPUDataBuffer|UseSWReadOften|UseSWWriteOften, nil)
	require.NoError(t, err)

	res, err := engine.resource(id)
	require.NoError(t, err)
	require.NotNil(t, res.staging)
	primary := res.object.(*fakeObject)

	ptr, mapping, err := engine.Map(id, MapRead|MapWrite)
	require.NoError(t, err)
	require.NotNil(t, mapping.staging)
	require.Equal(t, engine.stagingType.Index, mapping.staging.(*fakeObject).boundType)

	staged := mappedBytes(ptr, res.staging.size)
	copy(staged, []byte{1, 2, 3, 4})

	require.NoError(t, engine.Sync(id, mapping, 0, Rect{X: 0, Width: 4}, SyncFlush))
	require.Equal(t, []byte{1, 2, 3, 4}, primary.data)

	// Device-side change becomes visible after an invalidate.
	primary.data[2] = 9
	require.NoError(t, engine.Sync(id, mapping, 0, Rect{X: 0, Width: 4}, SyncInvalidate))
	require.Equal(t, []byte{1, 2, 9, 4}, staged)

	// A bounded flush leaves bytes outside the range untouched.
	staged[0] = 7
	staged[3] = 8
	require.NoError(t, engine.Sync(id, mapping, 0, Rect{X: 3, Width: 1}, SyncFlush))
	require.Equal(t, []byte{1, 2, 9, 8}, primary.data)

	require.NoError(t, engine.Unmap(id, mapping))
	require.NoError(t, engine.Free(id))
	require.Equal(t, 0, provider.liveObjects())
}

func TestStagedImageRoundTrip(t *testing.T) {
	provider := newFakeProvider(defaultTestTypes())
	engine := newTestEngine(t, provider, CreateOptions{})
	defer engine.Destroy()

	id, _, err := engine.Allocate(4, 2, FormatARGB8888, UseTexture|UseSWWriteOften|UseSWReadOften, nil)
	require.NoError(t, err)

	res, err := engine.resource(id)
	require.NoError(t, err)
	require.NotNil(t, res.staging)
	require.Equal(t, uint64(32), res.staging.size)
	primary := res.object.(*fakeObject)

	ptr, mapping, err := engine.Map(id, MapWrite)
	require.NoError(t, err)

	staged := mappedBytes(ptr, res.staging.size)
	for i := range staged {
		staged[i] = byte(i)
	}

	require.NoError(t, engine.Sync(id, mapping, 0, Rect{X: 0, Y: 0, Width: 4, Height: 2}, SyncFlush))
	require.Equal(t, staged, primary.data)

	// Flush a 2x1 rectangle at (1, 1): pixels 5 and 6 of the image.
	for i := range staged {
		staged[i] = 0xff
	}
	require.NoError(t, engine.Sync(id, mapping, 0, Rect{X: 1, Y: 1, Width: 2, Height: 1}, SyncFlush))

	// The buffer-side row pitch always spans the full plane, in bytes and
	// in texels, even when the rectangle is narrower.
	require.Equal(t, uint32(16), provider.lastImageCopy.Stride)
	require.Equal(t, uint32(4), provider.lastImageCopy.RowLength)
	require.Equal(t, uint32(2), provider.lastImageCopy.Width)

	for i := 0; i < len(primary.data); i++ {
		if i >= 20 && i < 28 {
			require.Equal(t, byte(0xff), primary.data[i], "byte %d", i)
		} else {
			require.Equal(t, byte(i), primary.data[i], "byte %d", i)
		}
	}

	require.NoError(t, engine.Unmap(id, mapping))
	require.NoError(t, engine.Free(id))
}

func TestStagedPlanarInvalidate(t *testing.T) {
	provider := newFakeProvider(defaultTestTypes())
	engine := newTestEngine(t, provider, CreateOptions{})
	defer engine.Destroy()

	id, _, err := engine.Allocate(4, 4, FormatNV12, UseHWVideoDecoder|UseSWReadOften, nil)
	require.NoError(t, err)

	res, err := engine.resource(id)
	require.NoError(t, err)
	require.NotNil(t, res.staging)
	require.Equal(t, 2, res.staging.planeCount)
	primary := res.object.(*fakeObject)

	ptr, mapping, err := engine.Map(id, MapRead)
	require.NoError(t, err)
	staged := mappedBytes(ptr, res.staging.size)

	primary.ensureData()
	for i := range primary.data {
		primary.data[i] = byte(0x80 + i)
	}

	require.NoError(t, engine.Sync(id, mapping, 0, Rect{X: 0, Y: 0, Width: 4, Height: 4}, SyncInvalidate))
	require.NoError(t, engine.Sync(id, mapping, 1, Rect{X: 0, Y: 0, Width: 2, Height: 2}, SyncInvalidate))
	require.Equal(t, primary.data, staged)

	require.NoError(t, engine.Unmap(id, mapping))
	require.NoError(t, engine.Free(id))
}

func TestMapRollsBackOnBindFailure(t *testing.T) {
	provider := newFakeProvider(defaultTestTypes())
	engine := newTestEngine(t, provider, CreateOptions{})
	defer engine.Destroy()

	id, _, err := engine.Allocate(4, 1, FormatR8, UseGPUDataBuffer|UseSWReadOften, nil)
	require.NoError(t, err)

	provider.bindErrAfter = 0
	_, _, err = engine.Map(id, MapRead)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMapFailure))

	// Only the primary object survives the failed mapping.
	require.Equal(t, 1, provider.liveObjects())

	provider.bindErrAfter = -1
	require.NoError(t, engine.Free(id))
}

func TestSyncWaitsOnImplicitFence(t *testing.T) {
	provider := newFakeProvider(defaultTestTypes())
	importer := &fakePrimeImporter{}
	engine := newTestEngine(t, provider, CreateOptions{PrimeImporter: importer})
	defer engine.Destroy()

	id, _, err := engine.Allocate(4, 1, FormatR8, UseGPUDataBuffer|UseSWWriteOften, nil)
	require.NoError(t, err)

	// Attach a fence descriptor. A memfd is always ready, so the wait
	// returns immediately.
	_, err = engine.ReimportToDriver(id, nil)
	require.NoError(t, err)

	ptr, mapping, err := engine.Map(id, MapWrite)
	require.NoError(t, err)
	require.NotNil(t, ptr)

	require.NoError(t, engine.Sync(id, mapping, 0, Rect{X: 0, Width: 4}, SyncFlush))

	require.NoError(t, engine.Unmap(id, mapping))
	require.NoError(t, engine.Free(id))
}

func TestWaitResource(t *testing.T) {
	t.Run("NoFence", func(t *testing.T) {
		res := &resource{implicitFenceFd: -1}
		require.NoError(t, waitResource(res, MapRead))
		require.NoError(t, waitResource(res, MapWrite))
	})

	t.Run("ReadyFence", func(t *testing.T) {
		fd, err := unix.MemfdCreate("hbm-test-fence", 0)
		require.NoError(t, err)
		defer unix.Close(fd)

		res := &resource{implicitFenceFd: fd}
		require.NoError(t, waitResource(res, MapRead))
		require.NoError(t, waitResource(res, MapWrite))
	})

	t.Run("InvalidFence", func(t *testing.T) {
		fd, err := unix.MemfdCreate("hbm-test-fence", 0)
		require.NoError(t, err)
		require.NoError(t, unix.Close(fd))

		res := &resource{implicitFenceFd: fd}
		err = waitResource(res, MapRead)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrSyncFailure))
	})
}
