package module

import (
	"fmt"
	"sort"
	"sync"

	sferrors "github.com/drblury/servoflow/internal/runtime/errors"
)

// Constructor builds a module from its parameters. It must not open devices,
// files or sockets; that belongs in Init.
type Constructor func(params Params) (Module, error)

type entry struct {
	ctor Constructor
	info Info
}

// Registry maps module type names to constructors.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// DefaultRegistry is the global module registry. Stage packages register
// themselves here from init.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a module type. Registering a name again replaces it.
func (r *Registry) Register(name string, ctor Constructor, info Info) {
	if info.Type == "" {
		info.Type = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = entry{ctor: ctor, info: info}
}

// Create constructs a module of type name. An unknown name yields an
// UnknownModuleTypeError; a constructor failure is returned as a ConfigError.
func (r *Registry) Create(name string, params Params) (Module, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, sferrors.UnknownModuleTypeError{Name: name, Registered: r.Names()}
	}

	if params == nil {
		params = Params{}
	}
	m, err := e.ctor(params)
	if err != nil {
		if _, classified := sferrors.KindOf(err); classified {
			return nil, err
		}
		return nil, sferrors.ConfigError(name, "construct", err)
	}
	if m == nil {
		return nil, sferrors.ConfigError(name, "construct", fmt.Errorf("constructor returned no module"))
	}
	return m, nil
}

// Names returns the registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Info returns the registered description of name.
func (r *Registry) Info(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.info, ok
}

// Register adds a module type to the default registry.
func Register(name string, ctor Constructor, info Info) {
	DefaultRegistry.Register(name, ctor, info)
}

// Create constructs a module from the default registry.
func Create(name string, params Params) (Module, error) {
	return DefaultRegistry.Create(name, params)
}
