package tracking

import "sync"

// Registry hands out the per-visitor coordinator, creating it on first use.
// Coordinators are long-lived so their prompt timers and in-memory guards
// survive across requests from the same visitor.
type Registry struct {
	mu      sync.Mutex
	coords  map[string]*Coordinator
	factory func(visitorID string) *Coordinator
}

// NewRegistry creates a registry backed by the given factory
func NewRegistry(factory func(visitorID string) *Coordinator) *Registry {
	return &Registry{
		coords:  make(map[string]*Coordinator),
		factory: factory,
	}
}

// Get returns the coordinator for a visitor, constructing it if needed
func (r *Registry) Get(visitorID string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coords[visitorID]
	if !ok {
		c = r.factory(visitorID)
		r.coords[visitorID] = c
	}
	return c
}

// Close stops every coordinator's pending timers
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.coords {
		c.Close()
	}
	r.coords = make(map[string]*Coordinator)
}
