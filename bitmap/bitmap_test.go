package bitmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroSizeIsImmediatelyComplete(t *testing.T) {
	b := New(0)
	require.True(t, b.Complete())
	require.Equal(t, 0, b.Count())
}

func TestSetIsIdempotent(t *testing.T) {
	b := New(4)
	b.Set(1)
	require.Equal(t, 1, b.Count())
	b.Set(1)
	require.Equal(t, 1, b.Count())
	require.False(t, b.Complete())
}

func TestCompleteOnAllSet(t *testing.T) {
	b := New(3)
	b.Set(0)
	b.Set(1)
	require.False(t, b.Complete())
	b.Set(2)
	require.True(t, b.Complete())
	require.Equal(t, 3, b.Count())
}

func TestSetOutOfRangeIgnored(t *testing.T) {
	b := New(2)
	b.Set(5)
	require.Equal(t, 0, b.Count())
}

func TestConcurrentSetMonotonic(t *testing.T) {
	b := New(100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Set(uint32(i))
			b.Set(uint32(i))
		}(i)
	}
	wg.Wait()
	require.True(t, b.Complete())
	require.Equal(t, 100, b.Count())
}
