// Package health aggregates liveness probes for the server's dependencies.
package health

import (
	"context"
	"sync"
)

// Status is the outcome of probing one dependency.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker probes a single dependency.
type Checker func(ctx context.Context) Status

// Registry runs a fixed set of named checkers on demand. Registration
// happens during server construction; CheckAll may be called concurrently
// by probe handlers afterwards.
type Registry struct {
	mu     sync.RWMutex
	probes []probe
}

type probe struct {
	name string
	run  Checker
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a checker under the given name. Names are reported verbatim
// in CheckAll results.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.probes = append(r.probes, probe{name: name, run: check})
}

// CheckAll runs every registered checker in registration order. The boolean
// is true only when all probes pass.
func (r *Registry) CheckAll(ctx context.Context) (bool, []Status) {
	r.mu.RLock()
	probes := make([]probe, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	allHealthy := true
	results := make([]Status, 0, len(probes))
	for _, p := range probes {
		st := p.run(ctx)
		if !st.Healthy {
			allHealthy = false
		}
		results = append(results, st)
	}
	return allHealthy, results
}
