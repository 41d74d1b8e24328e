package idgen

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MagnunAVF/shortlinks/internal"
)

func TestNew_RejectsNodeOutOfRange(t *testing.T) {
	_, err := New(-1)
	assert.Error(t, err)

	_, err = New(maxNodeID + 1)
	assert.Error(t, err)

	g, err := New(maxNodeID)
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func TestNextID_UniqueAcrossGoroutines(t *testing.T) {
	g, err := New(7)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	ids := make(chan int64, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- g.NextID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, workers*perWorker)
	for id := range ids {
		require.Positive(t, id)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
}

func TestNextID_EncodesNodeAndIncreases(t *testing.T) {
	fixed := time.UnixMilli(customEpoch + 5000)
	g, err := New(3)
	require.NoError(t, err)
	g.now = func() time.Time { return fixed }

	first := g.NextID()
	second := g.NextID()

	assert.Equal(t, int64(3), (first>>seqBits)&maxNodeID)
	assert.Equal(t, int64(5000), first>>(nodeIDBits+seqBits))
	assert.Equal(t, first+1, second)
}

func TestEncodeDecodeID(t *testing.T) {
	g, err := New(1)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		id := g.NextID()
		got, err := DecodeID(EncodeID(id))
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	got, err := DecodeID(EncodeID(1<<63 - 1))
	require.NoError(t, err)
	assert.Equal(t, int64(1<<63-1), got)
}

func TestDecodeID_Invalid(t *testing.T) {
	for _, in := range []string{"", "0OIl", "abc!", "zzzzzzzzzzzz"} {
		_, err := DecodeID(in)
		assert.ErrorIs(t, err, internal.ErrValidation, in)
	}
}
