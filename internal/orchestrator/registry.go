package orchestrator

import (
	"sort"
	"sync"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

// Registry maps network names to the instances running for them. Several
// instances may share a name; each keeps its own id. No I/O happens while
// the lock is held.
type Registry struct {
	mu       sync.RWMutex
	networks map[string][]*Instance
	closed   bool

	// live counts registered instances whose serve goroutine has not
	// exited yet, including ones already unregistered and draining.
	live sync.WaitGroup
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{networks: make(map[string][]*Instance)}
}

// Register appends inst under network. With exclusive set, a network that
// already has an instance is refused with ErrNetworkBusy. After Drain every
// Register fails with ErrShuttingDown. A successful Register must be paired
// with Exited once the instance's serve goroutine ends.
func (r *Registry) Register(network string, inst *Instance, exclusive bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrShuttingDown
	}
	if exclusive && len(r.networks[network]) > 0 {
		return ErrNetworkBusy
	}
	r.networks[network] = append(r.networks[network], inst)
	r.live.Add(1)
	return nil
}

// Exited marks a registered instance's serve goroutine as finished.
func (r *Registry) Exited() { r.live.Done() }

// Get returns the registered instance with id, if any.
func (r *Registry) Get(network string, id uint64) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inst := range r.networks[network] {
		if inst.ID() == id {
			return inst, true
		}
	}
	return nil, false
}

// Unregister removes the instance with id from network and returns it.
func (r *Registry) Unregister(network string, id uint64) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.networks[network]
	for i, inst := range bucket {
		if inst.ID() != id {
			continue
		}
		bucket = append(bucket[:i:i], bucket[i+1:]...)
		if len(bucket) == 0 {
			delete(r.networks, network)
		} else {
			r.networks[network] = bucket
		}
		return inst, true
	}
	return nil, false
}

// List returns snapshots of the instances running for network, in start
// order. Unknown networks yield an empty, non-nil slice.
func (r *Registry) List(network string) []domain.ServerGroup {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.networks[network]
	groups := make([]domain.ServerGroup, 0, len(bucket))
	for _, inst := range bucket {
		groups = append(groups, inst.Group())
	}
	return groups
}

// Networks returns the names that have at least one instance, sorted.
func (r *Registry) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.networks))
	for name := range r.networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the total number of registered instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, bucket := range r.networks {
		n += len(bucket)
	}
	return n
}

// Drain closes the registry and removes and returns every registered
// instance.
func (r *Registry) Drain() []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	var all []*Instance
	for name, bucket := range r.networks {
		all = append(all, bucket...)
		delete(r.networks, name)
	}
	return all
}

// Wait blocks until every instance ever registered has exited. It must only
// be called after Drain.
func (r *Registry) Wait() { r.live.Wait() }
