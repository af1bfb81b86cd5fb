// Package di wires the creditd services: a small lazy registry keyed
// by service name, plus the provider that builds the ledger engines
// from configuration.
package di

import (
	"fmt"
	"sync"
)

// Resolver hands out built services by name. Builders receive one to
// resolve their own dependencies.
type Resolver interface {
	Resolve(name string) (any, error)
}

// Builder constructs one service.
type Builder func(deps Resolver) (any, error)

// Registry memoizes lazily built services. A service is built at most
// once; commands that never resolve a service never pay its cost.
type Registry struct {
	mu       sync.Mutex
	builders map[string]Builder
	built    map[string]any
	building map[string]bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		builders: make(map[string]Builder),
		built:    make(map[string]any),
		building: make(map[string]bool),
	}
}

// Provide registers the builder for a named service. A later Provide
// under the same name replaces the earlier one.
func (r *Registry) Provide(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = b
}

// Resolve implements Resolver, building the service on first use.
func (r *Registry) Resolve(name string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(name)
}

// resolveLocked runs builders while holding the registry lock; nested
// dependencies go through buildResolver so a builder never re-enters
// the mutex. Cycles between builders are reported, not deadlocked on.
func (r *Registry) resolveLocked(name string) (any, error) {
	if svc, ok := r.built[name]; ok {
		return svc, nil
	}
	b, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("di: unknown service %q", name)
	}
	if r.building[name] {
		return nil, fmt.Errorf("di: dependency cycle through %q", name)
	}
	r.building[name] = true
	defer delete(r.building, name)

	svc, err := b(buildResolver{r})
	if err != nil {
		return nil, fmt.Errorf("di: build %s: %w", name, err)
	}
	r.built[name] = svc
	return svc, nil
}

type buildResolver struct{ r *Registry }

func (br buildResolver) Resolve(name string) (any, error) {
	return br.r.resolveLocked(name)
}

// Service names used by the provider.
const (
	svcLogger           = "logger"
	svcStore            = "store"
	svcChecker          = "invariant.checker"
	svcVerifier         = "signature.verifier"
	svcDistributedLock  = "dlock.provider"
	svcEventPublisher   = "event.publisher"
	svcRouter           = "payment.router"
	svcPaymentEngine    = "payment.engine"
	svcPaymentService   = "payment.service"
	svcClearingEngine   = "clearing.engine"
	svcIntegrityService = "integrity.service"
	svcTrustlineService = "trustline.service"
	svcRecoveryLoop     = "recovery.loop"
)
