// Copyright © 2024 The zs-debug-adapter authors

package refpool

// ThreadPool is a Pool whose handles are also grouped by the id of the
// thread that owns the value. Stack frames are only valid while their thread
// stays suspended, so every handle of a thread is dropped at once when the
// thread resumes.
type ThreadPool[T any] struct {
	vals    map[int]T
	threads map[int64]map[int]struct{}
	last    int
}

// NewThreadPool returns an empty thread pool.
func NewThreadPool[T any]() *ThreadPool[T] {
	return &ThreadPool[T]{
		vals:    make(map[int]T),
		threads: make(map[int64]map[int]struct{}),
	}
}

// Put stores v on behalf of thread and returns its handle.
func (p *ThreadPool[T]) Put(thread int64, v T) int {
	id := next(p.last, p.occupied)
	p.last = id
	p.vals[id] = v
	ids, ok := p.threads[thread]
	if !ok {
		ids = make(map[int]struct{})
		p.threads[thread] = ids
	}
	ids[id] = struct{}{}
	return id
}

// Get returns the value stored under id.
func (p *ThreadPool[T]) Get(id int) (T, bool) {
	v, ok := p.vals[id]
	return v, ok
}

// Len returns the number of live handles.
func (p *ThreadPool[T]) Len() int {
	return len(p.vals)
}

// RemoveAllForThread drops every handle issued for thread.
func (p *ThreadPool[T]) RemoveAllForThread(thread int64) {
	for id := range p.threads[thread] {
		delete(p.vals, id)
	}
	delete(p.threads, thread)
}

// Clear drops every handle of every thread.
func (p *ThreadPool[T]) Clear() {
	p.vals = make(map[int]T)
	p.threads = make(map[int64]map[int]struct{})
}

func (p *ThreadPool[T]) occupied(id int) bool {
	_, ok := p.vals[id]
	return ok
}
