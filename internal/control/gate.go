// Package control provides the pause gates used at every checkpoint of a
// running job. A gate is a resettable open/closed signal: closing it blocks
// future waiters, opening it releases all current and future waiters until
// the next close.
package control

import (
	"context"
	"sync"

	"scenesmith/internal/core"
)

// Gate is a resettable binary suspension signal. A new Gate starts open.
type Gate struct {
	mu     sync.Mutex
	open   bool
	opened chan struct{} // closed while the gate is open
}

// NewGate creates an open gate.
func NewGate() *Gate {
	ch := make(chan struct{})
	close(ch)
	return &Gate{open: true, opened: ch}
}

// Close makes future Wait calls block until the next Open.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		g.open = false
		g.opened = make(chan struct{})
	}
}

// Open releases every current waiter and lets future waiters pass.
func (g *Gate) Open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		g.open = true
		close(g.opened)
	}
}

// IsOpen reports the current state without blocking.
func (g *Gate) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// Wait suspends the caller until the gate is open or the context is done.
// Wait re-reads the signal channel on each pass, so a close/open/close
// sequence while waiting is handled correctly.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.open {
			g.mu.Unlock()
			return nil
		}
		ch := g.opened
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// KeyedGates owns the per-task gates, created lazily on first reference.
type KeyedGates struct {
	mu    sync.Mutex
	gates map[core.JobKey]*Gate
}

// NewKeyedGates creates an empty gate set.
func NewKeyedGates() *KeyedGates {
	return &KeyedGates{gates: make(map[core.JobKey]*Gate)}
}

// Get returns the gate for key, creating an open one when absent.
func (s *KeyedGates) Get(key core.JobKey) *Gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[key]
	if !ok {
		g = NewGate()
		s.gates[key] = g
	}
	return g
}

// OpenAll opens every known gate. Used by StopAll so blocked jobs can run
// into their cancellation promptly.
func (s *KeyedGates) OpenAll() {
	s.mu.Lock()
	gates := make([]*Gate, 0, len(s.gates))
	for _, g := range s.gates {
		gates = append(gates, g)
	}
	s.mu.Unlock()
	for _, g := range gates {
		g.Open()
	}
}
