package sctpalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAssignsDistinctIdsModMis(t *testing.T) {
	b := New(4)

	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		id, err := b.Allocate()
		require.NoError(t, err)
		assert.False(t, seen[int(id)], "id %d allocated twice", id)
		seen[int(id)] = true
	}
}

func TestAllocateFailsWhenExhausted(t *testing.T) {
	b := New(2)
	_, err := b.Allocate()
	require.NoError(t, err)
	_, err = b.Allocate()
	require.NoError(t, err)

	_, err = b.Allocate()
	assert.Error(t, err)
}

func TestAllocateFailsWithZeroMis(t *testing.T) {
	b := New(0)
	_, err := b.Allocate()
	assert.Error(t, err)
}

func TestReleaseFreesIdForReuse(t *testing.T) {
	b := New(1)

	id, err := b.Allocate()
	require.NoError(t, err)

	_, err = b.Allocate()
	require.Error(t, err)

	b.Release(id)

	id2, err := b.Allocate()
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func TestReleaseOutOfRangeIsANoop(t *testing.T) {
	b := New(2)
	assert.NotPanics(t, func() { b.Release(99) })
}
