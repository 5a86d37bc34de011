// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modest

import (
	"fmt"
	"sync"

	"github.com/tombee/conductor/internal/modest/fiber"
	"github.com/tombee/conductor/internal/modest/kernel"
)

// RunnableFactory builds a kernel.Runnable from a named registration's
// config, e.g. {"op": "print", ...}. Used only by cmd/monarchd's demo
// command; the core engine never consults the registry itself.
type RunnableFactory func(cfg map[string]any) (kernel.Runnable, error)

// FiberFactory builds a fiber.Fiber from a named registration's config.
type FiberFactory func(cfg map[string]any) (fiber.Fiber, error)

// Registry is a named-factory lookup for building Operations and Fibers out
// of config, the spec §9 "Modest Module plugin surface" reintroduced as a
// registry rather than a dynamic-loading module system.
type Registry struct {
	mu       sync.RWMutex
	runnable map[string]RunnableFactory
	fiber    map[string]FiberFactory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		runnable: make(map[string]RunnableFactory),
		fiber:    make(map[string]FiberFactory),
	}
}

// RegisterRunnable associates name with a RunnableFactory. Registering an
// already-used name overwrites the previous factory.
func (r *Registry) RegisterRunnable(name string, f RunnableFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runnable[name] = f
}

// RegisterFiber associates name with a FiberFactory.
func (r *Registry) RegisterFiber(name string, f FiberFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fiber[name] = f
}

// BuildRunnable looks up name and invokes its factory with cfg.
func (r *Registry) BuildRunnable(name string, cfg map[string]any) (kernel.Runnable, error) {
	r.mu.RLock()
	f, ok := r.runnable[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("modest: no runnable factory registered for %q", name)
	}
	return f(cfg)
}

// BuildFiber looks up name and invokes its factory with cfg.
func (r *Registry) BuildFiber(name string, cfg map[string]any) (fiber.Fiber, error) {
	r.mu.RLock()
	f, ok := r.fiber[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("modest: no fiber factory registered for %q", name)
	}
	return f(cfg)
}
