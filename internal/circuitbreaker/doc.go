// Package circuitbreaker tracks consecutive failed health probes per
// endpoint.
//
// A breaker opens once an endpoint fails threshold probes in a row. While
// open the dispatcher skips the endpoint instead of probing it again; after
// the reset timeout a single caller gets one trial probe (half-open) and
// every other caller is refused until it resolves. A successful probe
// closes the breaker. The transition into the open state is reported to the
// caller so it can apply an eviction policy.
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(3, 30*time.Second)
//	cb := registry.For(endpoint)
//	if cb.Allow() {
//	    if prober.Probe(ctx, endpoint).Healthy {
//	        cb.RecordSuccess()
//	    } else if cb.RecordFailure() {
//	        // just opened
//	    }
//	}
package circuitbreaker
