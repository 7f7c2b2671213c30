package circuitbreaker

import (
	"sync"
	"time"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
)

// Registry hands out one breaker per endpoint key.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
	}
}

func (r *Registry) For(endpoint *backend.Endpoint) *CircuitBreaker {
	key := endpoint.Key()

	r.mutex.RLock()
	cb, exists := r.breakers[key]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// another goroutine may have created it
	if cb, exists = r.breakers[key]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.threshold, r.timeout)
	r.breakers[key] = cb
	return cb
}

// Forget drops the breaker of an endpoint that left the pool.
func (r *Registry) Forget(endpoint *backend.Endpoint) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.breakers, endpoint.Key())
}

func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for key, cb := range r.breakers {
		stats[key] = cb.State()
	}
	return stats
}
