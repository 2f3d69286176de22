package jit

import (
	"sync"

	"github.com/zephyrtronium/prask/internal/value"
)

// Globals is the module-level binding table (spec.md §3 "Global"),
// shared across every fiber executing compiled code from the same
// Runtime. Grounded on the teacher's top-level Lobby/Core object
// pairing (zephyrtronium-iolang/iolang.go initObject), generalized from
// a slot-lookup object to a flat name table since prask's Global nodes
// (ast.Global) name bindings directly rather than via message sends.
type Globals struct {
	mu   sync.RWMutex
	vars map[string]value.Slot
}

// NewGlobals creates an empty global table.
func NewGlobals() *Globals {
	return &Globals{vars: make(map[string]value.Slot)}
}

// Get returns the current value of name, or Undef if unset.
func (g *Globals) Get(name string) value.Slot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.vars[name]
}

// Set installs or overwrites name's value (ast.Define at module scope).
func (g *Globals) Set(name string, v value.Slot) {
	g.mu.Lock()
	g.vars[name] = v
	g.mu.Unlock()
}
