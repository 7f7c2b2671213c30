package pool

import (
	"errors"
	"sync"

	"github.com/samber/lo"

	"github.com/angeloszaimis/origin-balancer/internal/backend"
)

var (
	ErrEmpty             = errors.New("no backends registered")
	ErrDuplicateEndpoint = errors.New("endpoint already registered")
	ErrUnknownEndpoint   = errors.New("endpoint not registered")
)

type Pool struct {
	mutex     sync.Mutex
	endpoints []*backend.Endpoint
	cursor    int
}

func New() *Pool {
	return &Pool{}
}

// Register appends e to the back of the rotation.
func (p *Pool) Register(e *backend.Endpoint) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.indexOf(e) >= 0 {
		return ErrDuplicateEndpoint
	}

	p.endpoints = append(p.endpoints, e)
	return nil
}

// Next returns the endpoint under the cursor and advances it.
func (p *Pool) Next() (*backend.Endpoint, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.endpoints) == 0 {
		return nil, ErrEmpty
	}

	if p.cursor >= len(p.endpoints) {
		p.cursor = 0
	}

	chosen := p.endpoints[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.endpoints)

	return chosen, nil
}

// Requeue moves e to the logical back of the rotation. The endpoint that
// followed e becomes the next one selected.
func (p *Pool) Requeue(e *backend.Endpoint) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	i := p.indexOf(e)
	if i < 0 {
		return ErrUnknownEndpoint
	}

	moved := p.endpoints[i]
	p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)
	p.endpoints = append(p.endpoints, moved)

	if i < p.cursor {
		p.cursor--
	}
	p.cursor %= len(p.endpoints)

	return nil
}

// Remove drops e from the rotation without disturbing the order of the rest.
func (p *Pool) Remove(e *backend.Endpoint) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	i := p.indexOf(e)
	if i < 0 {
		return ErrUnknownEndpoint
	}

	p.endpoints = append(p.endpoints[:i], p.endpoints[i+1:]...)

	if i < p.cursor {
		p.cursor--
	}
	if len(p.endpoints) == 0 {
		p.cursor = 0
	} else {
		p.cursor %= len(p.endpoints)
	}

	return nil
}

func (p *Pool) Contains(e *backend.Endpoint) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.indexOf(e) >= 0
}

func (p *Pool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.endpoints)
}

// Snapshot returns the members in rotation order starting at the cursor.
func (p *Pool) Snapshot() []*backend.Endpoint {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	n := len(p.endpoints)
	out := make([]*backend.Endpoint, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, p.endpoints[(p.cursor+i)%n])
	}
	return out
}

// Keys returns the normalised form of every member in pool order.
func (p *Pool) Keys() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return lo.Map(p.endpoints, func(e *backend.Endpoint, _ int) string {
		return e.Key()
	})
}

func (p *Pool) indexOf(e *backend.Endpoint) int {
	_, i, ok := lo.FindIndexOf(p.endpoints, func(candidate *backend.Endpoint) bool {
		return candidate.Equal(e)
	})
	if !ok {
		return -1
	}
	return i
}
