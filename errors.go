package hbm

import "github.com/cockroachdb/errors"

// Failure kinds. Operations wrap provider errors and mark them with one of
// these sentinels so callers can classify with errors.Is.
var (
	// ErrInitFailure means the engine instance could not be created. Fatal
	// to the instance.
	ErrInitFailure = errors.New("engine initialization failed")
	// ErrNoCompatibleType means no memory type satisfies the usage policy.
	// The resource was not created.
	ErrNoCompatibleType = errors.New("no compatible memory type")
	// ErrBindFailure means the provider rejected the memory bind. The
	// resource was not created.
	ErrBindFailure = errors.New("memory bind failed")
	// ErrMapFailure means staging creation, bind, or map failed. All
	// partially-created state was rolled back; the resource is untouched.
	ErrMapFailure = errors.New("map failed")
	// ErrSyncFailure means the implicit-fence wait or the staged copy
	// failed. The mapping remains open; the caller decides whether to retry.
	ErrSyncFailure = errors.New("sync failed")
	// ErrExportFailure means dma-buf export or handle translation failed.
	// The resource remains valid; only the external handle is unusable.
	ErrExportFailure = errors.New("export failed")
)
