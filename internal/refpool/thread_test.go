package refpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreadPool_RemoveAllForThread(t *testing.T) {
	t.Parallel()
	p := NewThreadPool[string]()

	a1 := p.Put(1, "a1")
	b1 := p.Put(2, "b1")
	a2 := p.Put(1, "a2")

	p.RemoveAllForThread(1)

	_, ok := p.Get(a1)
	assert.False(t, ok)
	_, ok = p.Get(a2)
	assert.False(t, ok)

	v, ok := p.Get(b1)
	require.True(t, ok, "other threads keep their handles")
	assert.Equal(t, "b1", v)
	assert.Equal(t, 1, p.Len())

	// Removing an unknown thread is a no-op.
	p.RemoveAllForThread(99)
	assert.Equal(t, 1, p.Len())
}

func TestThreadPool_HandlesNotReused(t *testing.T) {
	t.Parallel()
	p := NewThreadPool[int]()

	seen := make(map[int]bool)
	for i := 0; i < 5; i++ {
		id := p.Put(7, i)
		assert.False(t, seen[id], "handle %d reused", id)
		seen[id] = true
		p.RemoveAllForThread(7)
	}
}

func TestThreadPool_Clear(t *testing.T) {
	t.Parallel()
	p := NewThreadPool[int]()
	id := p.Put(1, 1)
	p.Put(2, 2)
	p.Clear()

	_, ok := p.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 0, p.Len())
}
