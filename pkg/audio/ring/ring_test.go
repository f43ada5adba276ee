// ABOUTME: Tests for the SPSC ring buffer
// ABOUTME: Covers wraparound, bulk transfer and a concurrent producer/consumer
package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityRoundsUp(t *testing.T) {
	tests := []struct {
		requested int
		expected  int
	}{
		{1, 1},
		{3, 4},
		{8, 8},
		{1000, 1024},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, New[int](tt.requested).Cap())
	}
}

func TestPushPop(t *testing.T) {
	r := New[float64](2)

	require.True(t, r.Push(1))
	require.True(t, r.Push(2))
	assert.False(t, r.Push(3), "ring should be full")
	assert.Equal(t, 2, r.Len())

	v, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	require.True(t, r.Push(3))
	v, _ = r.Pop()
	assert.Equal(t, 2.0, v)
	v, _ = r.Pop()
	assert.Equal(t, 3.0, v)

	_, ok = r.Pop()
	assert.False(t, ok)
}

func TestBulkWraparound(t *testing.T) {
	r := New[int32](8)

	assert.Equal(t, 6, r.Write([]int32{1, 2, 3, 4, 5, 6}))
	out := make([]int32, 4)
	assert.Equal(t, 4, r.Read(out))
	assert.Equal(t, []int32{1, 2, 3, 4}, out)

	// wraps around the end of the backing slice
	assert.Equal(t, 6, r.Write([]int32{7, 8, 9, 10, 11, 12, 13}))
	assert.Equal(t, 0, r.Free())

	all := make([]int32, 10)
	n := r.Read(all)
	assert.Equal(t, 8, n)
	assert.Equal(t, []int32{5, 6, 7, 8, 9, 10, 11, 12}, all[:n])
}

func TestLatest(t *testing.T) {
	r := New[float64](4)
	_, ok := r.Latest()
	assert.False(t, ok)

	r.Push(0.1)
	r.Push(0.2)
	r.Push(0.3)

	v, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, 0.3, v)
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentTransferPreservesOrder(t *testing.T) {
	const total = 100000
	r := New[int](64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if r.Push(i) {
				i++
			}
		}
	}()

	next := 0
	for next < total {
		v, ok := r.Pop()
		if !ok {
			continue
		}
		if v != next {
			t.Fatalf("expected %d, got %d", next, v)
		}
		next++
	}
	wg.Wait()
}
