package breaker

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"goflare.io/encore/internal/models"
)

// Registry owns one Breaker per protected resource for the lifetime of the process.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	defaults  Settings
	overrides map[string]Settings
	logger    *zap.Logger
	observer  models.Observer
}

// NewRegistry creates a Registry. overrides replaces defaults for the named resources.
func NewRegistry(defaults Settings, overrides map[string]Settings, logger *zap.Logger, observer models.Observer) *Registry {
	if overrides == nil {
		overrides = map[string]Settings{}
	}
	return &Registry{
		breakers:  make(map[string]*Breaker),
		defaults:  defaults,
		overrides: overrides,
		logger:    logger,
		observer:  observer,
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}

	s := r.defaults
	if o, ok := r.overrides[name]; ok {
		s = o
	}
	s.Name = name
	b := New(s, r.logger, r.observer)
	r.breakers[name] = b
	return b
}

// Snapshots returns the state of every breaker created so far, ordered by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	list := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(list))
	for _, b := range list {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
