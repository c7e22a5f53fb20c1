package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferConservation(t *testing.T) {
	const n = 16
	buf := NewBuffer(n)

	var handles []Handle
	for i := 0; i < n; i++ {
		h, ok := buf.Allocate()
		require.True(t, ok)
		handles = append(handles, h)
	}
	assert.Equal(t, n, buf.Allocated())
	assert.True(t, buf.IsFull())

	_, ok := buf.Allocate()
	assert.False(t, ok, "allocate must fail, never block, once exhausted")

	for _, h := range handles {
		h.Release()
	}
	assert.Equal(t, 0, buf.Allocated())
	assert.True(t, buf.IsEmpty())

	h, ok := buf.Allocate()
	require.True(t, ok, "a released chunk must be allocatable again")
	h.Release()
}

func TestBufferReleaseFreesChain(t *testing.T) {
	buf := NewBuffer(4)

	head, ok := buf.Allocate()
	require.True(t, ok)
	mid, ok := buf.Allocate()
	require.True(t, ok)
	tail, ok := buf.Allocate()
	require.True(t, ok)

	head.Chunk().Next = mid.Chunk()
	mid.Chunk().Next = tail.Chunk()

	assert.Equal(t, 3, buf.Allocated())
	head.Release()
	assert.Equal(t, 0, buf.Allocated(), "releasing the head must iteratively free the whole chain")
}

func TestBufferReleaseFreesOther(t *testing.T) {
	buf := NewBuffer(4)

	a, ok := buf.Allocate()
	require.True(t, ok)
	b, ok := buf.Allocate()
	require.True(t, ok)

	a.Chunk().Other = b.Chunk()

	assert.Equal(t, 2, buf.Allocated())
	a.Release()
	assert.Equal(t, 0, buf.Allocated(), "releasing a chunk must also free its cross-fade Other")
}
