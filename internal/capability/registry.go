package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry maps capability names to typed handlers. It is thread-safe
// and populated once at startup from the config catalog.
type Registry struct {
	mu         sync.RWMutex
	caps       map[string]*registered
	byCategory map[string][]Definition
	limiter    *RateLimiter
}

type registered struct {
	def     Definition
	handler Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		caps:       make(map[string]*registered),
		byCategory: make(map[string][]Definition),
		limiter:    NewRateLimiter(),
	}
}

// Register adds a capability. Duplicate names are an error.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("capability with empty name")
	}
	if handler == nil {
		return fmt.Errorf("capability %s has nil handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.caps[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, def.Name)
	}

	r.caps[def.Name] = &registered{def: def, handler: handler}
	r.byCategory[def.Category] = append(r.byCategory[def.Category], def)
	return nil
}

// SetRateLimit configures the hourly request budget for a capability.
// Zero means unlimited.
func (r *Registry) SetRateLimit(name string, requestsPerHour int) {
	if requestsPerHour > 0 {
		r.limiter.RegisterService(name, requestsPerHour)
	}
}

// Lookup returns the definition for a name.
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.caps[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	return reg.def, nil
}

// Has reports whether a name is registered and enabled.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.caps[name]
	return ok && reg.def.Enabled
}

// Catalog returns all enabled definitions grouped by category, with
// deterministic ordering for prompt construction.
func (r *Registry) Catalog() map[string][]Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]Definition, len(r.byCategory))
	for category, defs := range r.byCategory {
		enabled := make([]Definition, 0, len(defs))
		for _, d := range defs {
			if d.Enabled {
				enabled = append(enabled, d)
			}
		}
		if len(enabled) == 0 {
			continue
		}
		sort.Slice(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })
		out[category] = enabled
	}
	return out
}

// Categories returns the catalog's category names, sorted.
func (r *Registry) Categories() []string {
	catalog := r.Catalog()
	names := make([]string, 0, len(catalog))
	for c := range catalog {
		names = append(names, c)
	}
	sort.Strings(names)
	return names
}

// Definitions resolves names to definitions, skipping unknown ones.
func (r *Registry) Definitions(names []string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(names))
	for _, name := range names {
		if reg, ok := r.caps[name]; ok && reg.def.Enabled {
			out = append(out, reg.def)
		}
	}
	return out
}

// Invoke looks up and executes a capability. Unknown names, disabled
// capabilities, exhausted budgets, and handler failures all come back
// as errors for the caller to record; nothing is ever raised.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	reg, ok := r.caps[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
	}
	if !reg.def.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityDisabled, name)
	}

	allowed, err := r.limiter.Allow(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("rate limiter failed for %s: %w", name, err)
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, name)
	}

	data, err := reg.handler.Invoke(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("capability %s failed: %w", name, err)
	}
	return data, nil
}
