package jsengine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/jsworker/internal/worker"
)

// Capabilities describes what an engine supports.
type Capabilities struct {
	Promises      bool `json:"promises"`
	Timers        bool `json:"timers"`
	HostFunctions bool `json:"host_functions"`
	Modules       bool `json:"modules"`
}

// EngineInfo pairs an engine name with its capabilities.
type EngineInfo struct {
	Name         string       `json:"name"`
	Default      bool         `json:"default"`
	Capabilities Capabilities `json:"capabilities"`
}

type registration struct {
	factory worker.Factory[worker.Engine]
	caps    Capabilities
}

// Registry holds the engines a worker can be built with.
type Registry struct {
	mu       sync.RWMutex
	engines  map[string]registration
	fallback string
}

// NewRegistry creates an empty engine registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]registration),
	}
}

// DefaultRegistry returns a registry holding goja (the default) and quickjs.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("goja", Erase(NewGoja), Capabilities{
		Promises: true, Timers: true, HostFunctions: true, Modules: true,
	})
	r.Register("quickjs", Erase(NewQuickJS), Capabilities{Modules: true})
	r.SetDefault("goja")
	return r
}

// Erase adapts a typed factory to one returning the Engine interface.
func Erase[E worker.Engine](f worker.Factory[E]) worker.Factory[worker.Engine] {
	return func(opts worker.Options) (worker.Engine, error) {
		e, err := f(opts)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// Register adds an engine factory under the given name. The first engine
// registered becomes the default.
func (r *Registry) Register(name string, f worker.Factory[worker.Engine], caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = registration{factory: f, caps: caps}
	if r.fallback == "" {
		r.fallback = name
	}
}

// SetDefault selects the engine Resolve returns for an empty name.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = name
}

// Default returns the name Resolve uses for an empty name.
func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

// Resolve returns the factory registered under name, or the default engine
// when name is empty.
func (r *Registry) Resolve(name string) (worker.Factory[worker.Engine], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.fallback
	}
	reg, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("engine %q is not registered", name)
	}
	return reg.factory, nil
}

// List returns all registered engines sorted by name.
func (r *Registry) List() []EngineInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]EngineInfo, 0, len(r.engines))
	for name, reg := range r.engines {
		infos = append(infos, EngineInfo{
			Name:         name,
			Default:      name == r.fallback,
			Capabilities: reg.caps,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
