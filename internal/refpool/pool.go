// Copyright © 2024 The zs-debug-adapter authors

// Package refpool maps values onto small positive integer handles that can
// be handed to a debug client in place of runtime identities.
//
// Handles come from a counter that only moves forward. The counter skips any
// handle that is still occupied and wraps back to 1 once it reaches
// MaxHandle, so a handle is never reused while its value is live. Clearing a
// pool does not reset the counter: handles issued before the clear resolve to
// nothing afterwards instead of silently naming a new value.
//
// Pools are not safe for concurrent use. Callers serialize access.
package refpool

import "math"

// MaxHandle is the largest handle a pool issues. Debug clients treat
// references as 32 bit signed integers.
const MaxHandle = math.MaxInt32

// Pool is a handle table for values of type T.
type Pool[T any] struct {
	vals map[int]T
	last int
}

// New returns an empty pool.
func New[T any]() *Pool[T] {
	return &Pool[T]{vals: make(map[int]T)}
}

// Put stores v and returns its handle.
func (p *Pool[T]) Put(v T) int {
	id := next(p.last, p.occupied)
	p.last = id
	p.vals[id] = v
	return id
}

// Get returns the value stored under id.
func (p *Pool[T]) Get(id int) (T, bool) {
	v, ok := p.vals[id]
	return v, ok
}

// Len returns the number of live handles.
func (p *Pool[T]) Len() int {
	return len(p.vals)
}

// Clear drops every handle.
func (p *Pool[T]) Clear() {
	p.vals = make(map[int]T)
}

func (p *Pool[T]) occupied(id int) bool {
	_, ok := p.vals[id]
	return ok
}

// next returns the first free handle after last. The pool must not hold
// MaxHandle live values.
func next(last int, occupied func(int) bool) int {
	id := last
	for {
		if id >= MaxHandle {
			id = 0
		}
		id++
		if !occupied(id) {
			return id
		}
	}
}
