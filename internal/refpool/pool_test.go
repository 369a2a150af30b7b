package refpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_PutGet(t *testing.T) {
	t.Parallel()
	p := New[string]()

	a := p.Put("a")
	b := p.Put("b")
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)

	v, ok := p.Get(a)
	require.True(t, ok)
	assert.Equal(t, "a", v)
	v, ok = p.Get(b)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = p.Get(42)
	assert.False(t, ok, "unissued handle must be absent")
	assert.Equal(t, 2, p.Len())
}

func TestPool_ClearInvalidates(t *testing.T) {
	t.Parallel()
	p := New[int]()
	old := p.Put(10)
	p.Clear()

	_, ok := p.Get(old)
	assert.False(t, ok)
	assert.Equal(t, 0, p.Len())

	// Handles keep moving forward after a clear.
	fresh := p.Put(20)
	assert.Greater(t, fresh, old)
}

func TestPool_Wraps(t *testing.T) {
	t.Parallel()
	p := New[string]()
	p.last = MaxHandle - 1

	assert.Equal(t, MaxHandle, p.Put("x"))
	assert.Equal(t, 1, p.Put("y"), "counter wraps to 1")
}

func TestPool_SkipsOccupied(t *testing.T) {
	t.Parallel()
	p := New[string]()
	one := p.Put("one")
	two := p.Put("two")
	require.Equal(t, 1, one)
	require.Equal(t, 2, two)

	// Wrap around with 1 and 2 still live.
	p.last = MaxHandle
	id := p.Put("three")
	assert.Equal(t, 3, id)

	v, _ := p.Get(1)
	assert.Equal(t, "one", v, "live value must not be overwritten")
}

func TestNext(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		last     int
		occupied []int
		want     int
	}{
		{name: "empty", last: 0, want: 1},
		{name: "forward", last: 7, want: 8},
		{name: "skip", last: 7, occupied: []int{8, 9}, want: 10},
		{name: "wrap", last: MaxHandle, want: 1},
		{name: "wrap and skip", last: MaxHandle - 1, occupied: []int{MaxHandle, 1}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := make(map[int]bool)
			for _, id := range tt.occupied {
				set[id] = true
			}
			got := next(tt.last, func(id int) bool { return set[id] })
			assert.Equal(t, tt.want, got)
		})
	}
}
