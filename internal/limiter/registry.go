package limiter

import "sync"

// Registry holds the per-class budgets and supports whole-table swaps at
// runtime (the admin reload endpoint), so thresholds stay policy rather
// than compiled-in mechanism.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]Config
}

func NewRegistry(classes map[string]Config) *Registry {
	copied := make(map[string]Config, len(classes))
	for k, v := range classes {
		copied[k] = v
	}
	return &Registry{classes: copied}
}

func (r *Registry) Get(class string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.classes[class]
	return cfg, ok
}

// Update replaces the budgets for the listed classes, leaving others
// untouched.
func (r *Registry) Update(classes map[string]Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range classes {
		r.classes[k] = v
	}
}

// Snapshot returns a copy of the current table.
func (r *Registry) Snapshot() map[string]Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Config, len(r.classes))
	for k, v := range r.classes {
		out[k] = v
	}
	return out
}
