package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry names of the built-in backends.
const (
	// BackendNative drives a real GPU through the wgpu HAL.
	BackendNative = "native"
	// BackendSoftware keeps every resource in host memory.
	BackendSoftware = "software"
	// BackendNoop accepts all work and produces no output.
	BackendNoop = "noop"
)

// Factory creates a new backend instance.
type Factory func() (Backend, error)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
	// Priority order for Default (first that opens wins).
	backendPriority = []string{BackendNative, BackendSoftware, BackendNoop}
)

// Register registers a backend factory with the given name.
// This is typically called from init() functions in backend packages.
// If a backend with the same name is already registered, it will be replaced.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = factory
}

// Unregister removes a backend from the registry.
// This is useful for testing.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, name)
}

// Available returns the sorted names of registered backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[name]
	return ok
}

// Open creates the backend registered under name.
func Open(name string) (Backend, error) {
	registryMu.RLock()
	factory, ok := factories[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q is not registered", ErrBackendNotAvailable, name)
	}
	return factory()
}

// Default opens the best available backend in priority order, falling back
// to any other registered backend. The returned error joins every failure
// if nothing could be opened.
func Default() (Backend, error) {
	registryMu.RLock()
	order := make([]string, 0, len(factories))
	order = append(order, backendPriority...)
	rest := make([]string, 0, len(factories))
	for name := range factories {
		if !isPriority(name) {
			rest = append(rest, name)
		}
	}
	registryMu.RUnlock()

	sort.Strings(rest)
	order = append(order, rest...)

	var errs []error
	for _, name := range order {
		if !IsRegistered(name) {
			continue
		}
		b, err := Open(name)
		if err == nil && b != nil {
			return b, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) == 0 {
		return nil, ErrBackendNotAvailable
	}
	return nil, fmt.Errorf("%w: %w", ErrBackendNotAvailable, errors.Join(errs...))
}

// MustDefault returns the default backend or panics.
func MustDefault() Backend {
	b, err := Default()
	if err != nil {
		panic(err)
	}
	return b
}

func isPriority(name string) bool {
	for _, p := range backendPriority {
		if p == name {
			return true
		}
	}
	return false
}
