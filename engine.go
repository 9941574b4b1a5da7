package hbm

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/hbm/internal/utils"
	"golang.org/x/exp/slog"
)

// ResourceID is an opaque handle to a live resource. The zero value is
// never a valid id.
type ResourceID uint64

// CreateOptions adjusts engine behavior at creation time.
type CreateOptions struct {
	// PrimeImporter translates dma-buf descriptors to foreign-subsystem
	// handles. Required for Engine.ReimportToDriver; other operations work
	// without it.
	PrimeImporter PrimeImporter
	// UseSynchronization guards the resource table with a mutex. The engine
	// otherwise assumes the caller serializes all operations.
	UseSynchronization bool
}

// Engine is the buffer-allocation policy and synchronization engine. It
// translates abstract allocation requests into provider objects, choosing a
// memory type, an optional staging path, and a CPU-visibility strategy per
// resource.
//
// One Engine serves one provider instance. The staging memory type is fixed
// at creation and reused for every staged resource.
type Engine struct {
	logger   *slog.Logger
	provider Provider
	prime    PrimeImporter

	stagingType MemoryType

	resourceMutex  utils.OptionalMutex
	nextResourceID ResourceID
	resources      *swiss.Map[ResourceID, *resource]
}

// New creates an engine over a provider. Picking the staging memory type
// requires a throwaway provider allocation; failure there is fatal to the
// instance and reported as ErrInitFailure.
func New(logger *slog.Logger, provider Provider, options CreateOptions) (*Engine, error) {
	if provider == nil {
		return nil, errors.Mark(errors.New("a Provider is required"), ErrInitFailure)
	}

	e := &Engine{
		logger:   logger,
		provider: provider,
		prime:    options.PrimeImporter,

		resourceMutex: utils.OptionalMutex{
			UseMutex: options.UseSynchronization,
		},
		nextResourceID: 1,
		resources:      swiss.NewMap[ResourceID, *resource](16),
	}

	stagingType, err := e.pickStagingMemoryType()
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "selecting staging memory type"), ErrInitFailure)
	}
	e.stagingType = stagingType

	e.logger.Debug("Engine::New",
		slog.Int("StagingMemoryTypeIndex", stagingType.Index),
		slog.String("StagingMemoryTypeFlags", stagingType.Flags.String()))

	return e, nil
}

// Destroy tears down the engine. Resources are caller-owned; any still live
// at this point are logged and released.
func (e *Engine) Destroy() {
	e.resourceMutex.Lock()
	defer e.resourceMutex.Unlock()

	e.resources.Iter(func(id ResourceID, res *resource) bool {
		e.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed resource",
			slog.Uint64("id", uint64(id)),
			slog.String("useFlags", res.use.String()))
		e.destroyResource(res)
		return false
	})
	e.resources = swiss.NewMap[ResourceID, *resource](0)
}

func (e *Engine) resource(id ResourceID) (*resource, error) {
	e.resourceMutex.Lock()
	defer e.resourceMutex.Unlock()

	res, ok := e.resources.Get(id)
	if !ok {
		return nil, errors.Newf("unknown resource id %d", id)
	}
	return res, nil
}

func (e *Engine) insertResource(res *resource) ResourceID {
	e.resourceMutex.Lock()
	defer e.resourceMutex.Unlock()

	id := e.nextResourceID
	e.nextResourceID++
	e.resources.Put(id, res)
	return id
}
