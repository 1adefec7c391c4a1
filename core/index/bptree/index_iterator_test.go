package bptree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestIndexIterator_EmptyTree verifies Begin on an empty tree is already
// the end iterator.
func TestIndexIterator_EmptyTree(t *testing.T) {
	tree, _ := setupTree(t, 4, 4)

	it, err := tree.Begin()
	require.NoError(t, err)
	require.True(t, it.IsEnd())
	require.ErrorIs(t, it.Next(), ErrIteratorDone)
	require.True(t, tree.End().IsEnd())
}

// TestIndexIterator_FullScan walks every key across several chained
// leaves.
func TestIndexIterator_FullScan(t *testing.T) {
	tree, _ := setupTree(t, 4, 4)

	const n = 64
	for k := int64(1); k <= n; k++ {
		ok, err := tree.Insert(k, rid(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	var next int64 = 1
	for !it.IsEnd() {
		require.Equal(t, next, it.Key())
		require.Equal(t, rid(next), it.Value())
		require.NoError(t, it.Next())
		next++
	}
	require.Equal(t, int64(n+1), next)
}

// TestIndexIterator_BeginAt verifies positioning at the first key >= the
// probe, including probes between keys and past the maximum.
func TestIndexIterator_BeginAt(t *testing.T) {
	tree, _ := setupTree(t, 4, 4)

	// Only even keys, so odd probes land between entries.
	for k := int64(2); k <= 40; k += 2 {
		ok, err := tree.Insert(k, rid(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tree.BeginAt(10)
	require.NoError(t, err)
	require.Equal(t, int64(10), it.Key())
	it.Close()

	it, err = tree.BeginAt(11)
	require.NoError(t, err)
	require.Equal(t, int64(12), it.Key())
	it.Close()

	it, err = tree.BeginAt(41)
	require.NoError(t, err)
	require.True(t, it.IsEnd())
}

// TestIndexIterator_CloseReleasesWriters verifies that a closed iterator
// no longer blocks exclusive operations.
func TestIndexIterator_CloseReleasesWriters(t *testing.T) {
	tree, _ := setupTree(t, 4, 4)

	for k := int64(1); k <= 10; k++ {
		ok, err := tree.Insert(k, rid(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	require.False(t, it.IsEnd())
	it.Close()
	it.Close() // idempotent

	ok, err := tree.Insert(11, rid(11))
	require.NoError(t, err)
	require.True(t, ok)
}

// TestIndexIterator_SeesLeafChainAfterDeletes verifies the chain stays
// intact across merges.
func TestIndexIterator_SeesLeafChainAfterDeletes(t *testing.T) {
	tree, _ := setupTree(t, 4, 4)

	for k := int64(1); k <= 32; k++ {
		ok, err := tree.Insert(k, rid(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for k := int64(1); k <= 32; k += 2 {
		require.NoError(t, tree.Remove(k))
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	var got []int64
	for !it.IsEnd() {
		got = append(got, it.Key())
		require.NoError(t, it.Next())
	}
	want := make([]int64, 0, 16)
	for k := int64(2); k <= 32; k += 2 {
		want = append(want, k)
	}
	require.Equal(t, want, got)
}
