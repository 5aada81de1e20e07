// Package registry creates, looks up, and deletes named queue engines.
//
// The registry is the only owner of engine instances: Get always returns the
// same engine for a name (reference identity), and after Delete the name
// behaves as if it never existed. Check-then-act on the name map is atomic,
// so the already-exists / does-not-exist contracts hold under concurrent
// creation and deletion.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/snehjoshi/relayq/internal/queue"
	"github.com/snehjoshi/relayq/internal/queue/store"
)

var (
	// ErrQueueExists is returned by Create when the name is taken.
	ErrQueueExists = errors.New("registry: queue already exists")
	// ErrQueueNotFound is returned by Get and Delete for unknown names.
	ErrQueueNotFound = errors.New("registry: queue not found")
)

// StoreFactory builds the backing store for a newly created queue.
//
// Typical implementations:
//
//	func(name string) (store.Store[[]byte], error) { return memory.New[[]byte](), nil }
//	func(name string) (store.Store[[]byte], error) {
//	    return bolt.Open(filepath.Join(dataDir, name+".db"), codec.Bytes{})
//	}
type StoreFactory[P any] func(name string) (store.Store[P], error)

// Registry owns the lifecycle of all queue engines for one payload type.
// All methods are safe for concurrent use.
type Registry[P any] struct {
	mu      sync.Mutex
	queues  map[string]*queue.Engine[P]
	factory StoreFactory[P]
	defCfg  queue.Config // applied when Create is called with a nil config
}

// New creates a Registry. factory builds each queue's record store; defCfg is
// the policy applied to queues created without an explicit one.
func New[P any](factory StoreFactory[P], defCfg queue.Config) *Registry[P] {
	return &Registry[P]{
		queues:  make(map[string]*queue.Engine[P]),
		factory: factory,
		defCfg:  defCfg,
	}
}

// DefaultConfig returns the policy applied to queues created without an
// explicit one.
func (r *Registry[P]) DefaultConfig() queue.Config { return r.defCfg }

// Create registers a new engine under name. cfg may be nil to use the
// registry default; dlq may be nil for no dead-letter target. Additional
// engine options (serializer, drop hook) are passed through.
// Returns ErrQueueExists when the name is already registered.
func (r *Registry[P]) Create(name string, cfg *queue.Config, dlq *queue.Engine[P], opts ...queue.Option[P]) (*queue.Engine[P], error) {
	c := r.defCfg
	if cfg != nil {
		c = *cfg
	}
	if dlq != nil {
		opts = append(opts, queue.WithDeadLetter(dlq))
	}

	// The name check and the insert must happen under one critical section;
	// the factory runs inside it too so a losing concurrent Create never
	// builds (and then leaks) a second store for the same name.
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.queues[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueExists, name)
	}

	st, err := r.factory(name)
	if err != nil {
		return nil, fmt.Errorf("registry: create %s: store: %w", name, err)
	}
	eng := queue.New(name, st, c, opts...)
	r.queues[name] = eng
	return eng, nil
}

// Get returns the engine registered under name, or ErrQueueNotFound.
// The same instance is returned on every call.
func (r *Registry[P]) Get(name string) (*queue.Engine[P], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eng, ok := r.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return eng, nil
}

// Delete removes the registration for name and closes the engine's store.
// Returns ErrQueueNotFound for unknown names. Afterwards the name can be
// created anew as if it had never existed.
func (r *Registry[P]) Delete(name string) error {
	r.mu.Lock()
	eng, ok := r.queues[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	delete(r.queues, name)
	r.mu.Unlock()

	if err := eng.Close(); err != nil {
		return fmt.Errorf("registry: delete %s: close: %w", name, err)
	}
	return nil
}

// List returns a sorted snapshot of all registered queue names.
func (r *Registry[P]) List() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// Close closes every registered engine and empties the registry.
// The first error encountered is returned; all engines are still closed.
func (r *Registry[P]) Close() error {
	r.mu.Lock()
	engines := make([]*queue.Engine[P], 0, len(r.queues))
	for _, eng := range r.queues {
		engines = append(engines, eng)
	}
	r.queues = make(map[string]*queue.Engine[P])
	r.mu.Unlock()

	var firstErr error
	for _, eng := range engines {
		if err := eng.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
