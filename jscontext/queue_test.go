package jscontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func popAll[T any](q *chunkedQueue[T]) []T {
	var out []T
	for {
		v, ok := q.PopFront()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func TestChunkedQueue_FIFOAcrossChunks(t *testing.T) {
	var q chunkedQueue[int]
	n := chunkSize*2 + 5
	for i := range n {
		q.PushBack(i)
	}
	require.Equal(t, n, q.Len())

	front, ok := q.Front()
	require.True(t, ok)
	assert.Equal(t, 0, front)

	out := popAll(&q)
	require.Len(t, out, n)
	for i, v := range out {
		if v != i {
			t.Fatalf("index %d: got %d", i, v)
		}
	}
	assert.Zero(t, q.Len())
	_, ok = q.Front()
	assert.False(t, ok)
}

func TestChunkedQueue_PushFront(t *testing.T) {
	var q chunkedQueue[int]

	// empty queue
	q.PushFront(2)
	q.PushFront(1)
	q.PushBack(3)
	assert.Equal(t, []int{1, 2, 3}, popAll(&q))

	// full head chunk
	for i := range chunkSize {
		q.PushBack(i + 1)
	}
	q.PushFront(0)
	out := popAll(&q)
	require.Len(t, out, chunkSize+1)
	assert.Equal(t, 0, out[0])
	assert.Equal(t, chunkSize, out[chunkSize])

	// partially consumed head chunk
	q.PushBack(10)
	q.PushBack(11)
	q.PushBack(12)
	_, _ = q.PopFront()
	q.PushFront(9)
	assert.Equal(t, []int{9, 11, 12}, popAll(&q))
}

func TestChunkedQueue_PushFrontReverseKeepsOrder(t *testing.T) {
	var q chunkedQueue[int]
	q.PushBack(100)
	held := make([]int, chunkSize+3)
	for i := range held {
		held[i] = i
	}
	for i := len(held) - 1; i >= 0; i-- {
		q.PushFront(held[i])
	}
	out := popAll(&q)
	assert.Equal(t, append(held, 100), out)
}

func TestChunkedQueue_SwapEachClear(t *testing.T) {
	var a, b chunkedQueue[string]
	a.PushBack("a1")
	a.PushBack("a2")
	b.PushBack("b1")

	a.Swap(&b)
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 2, b.Len())

	var seen []string
	b.Each(func(s string) { seen = append(seen, s) })
	assert.Equal(t, []string{"a1", "a2"}, seen)

	b.Clear()
	assert.Zero(t, b.Len())
	b.Each(func(string) { t.Error("called on empty queue") })
}

func TestChunkedQueue_SpareReused(t *testing.T) {
	var q chunkedQueue[int]
	for i := range chunkSize + 1 {
		q.PushBack(i)
	}
	for range chunkSize {
		q.PopFront()
	}
	require.NotNil(t, q.spare)
	spare := q.spare

	for i := range chunkSize {
		q.PushBack(i)
	}
	assert.Same(t, spare, q.tail)
	assert.Nil(t, q.spare)
}
