// Package loadbalancer is the dispatch core shared by both listening modes.
//
// It owns the backend pool and exposes registration, plain round-robin
// selection (Next) and health-checked selection (Acquire). Acquire probes at
// most one pool's worth of distinct endpoints per call, so a non-empty pool
// in which every backend is down fails with ErrNoHealthyBackend instead of
// looping. A failed scan leaves the membership untouched unless eviction is
// enabled.
package loadbalancer
