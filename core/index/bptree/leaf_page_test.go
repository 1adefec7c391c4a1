package bptree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avikchaud45/stratadb/core/storage/page"
)

func newTestLeaf(id page.PageID, maxSize int) leafPage[int64] {
	l := leafPage[int64]{treePage: treePage{page.New()}, codec: Int64Codec, order: OrderOf[int64]()}
	l.init(id, page.InvalidPageID, maxSize)
	return l
}

func newTestInternal(id page.PageID, maxSize int) internalPage[int64] {
	n := internalPage[int64]{treePage: treePage{page.New()}, codec: Int64Codec, order: OrderOf[int64]()}
	n.init(id, page.InvalidPageID, maxSize)
	return n
}

// TestLeafPage_InsertKeepsOrder verifies sorted insertion and duplicate
// rejection at the slot level.
func TestLeafPage_InsertKeepsOrder(t *testing.T) {
	l := newTestLeaf(1, 8)

	for _, k := range []int64{30, 10, 20, 40} {
		require.True(t, l.insertByKey(k, rid(k)))
	}
	require.False(t, l.insertByKey(20, rid(99)), "duplicate key")

	require.Equal(t, 4, l.size())
	for i, want := range []int64{10, 20, 30, 40} {
		require.Equal(t, want, l.keyAt(i))
		require.Equal(t, rid(want), l.valueAt(i))
	}
}

// TestLeafPage_RemoveByKey verifies slot compaction.
func TestLeafPage_RemoveByKey(t *testing.T) {
	l := newTestLeaf(1, 8)
	for _, k := range []int64{1, 2, 3} {
		require.True(t, l.insertByKey(k, rid(k)))
	}

	require.True(t, l.removeByKey(2))
	require.False(t, l.removeByKey(2))
	require.Equal(t, 2, l.size())
	require.Equal(t, int64(1), l.keyAt(0))
	require.Equal(t, int64(3), l.keyAt(1))
}

// TestLeafPage_MoveHalfTo verifies the split transfer and leaf chain
// splice.
func TestLeafPage_MoveHalfTo(t *testing.T) {
	l := newTestLeaf(1, 4)
	l.setNextPageID(7)
	for _, k := range []int64{1, 2, 3, 4} {
		require.True(t, l.insertByKey(k, rid(k)))
	}

	sib := newTestLeaf(2, 4)
	l.moveHalfTo(sib)

	require.Equal(t, 2, l.size())
	require.Equal(t, 2, sib.size())
	require.Equal(t, int64(3), sib.keyAt(0))
	require.Equal(t, int64(4), sib.keyAt(1))
	require.Equal(t, page.PageID(2), l.nextPageID())
	require.Equal(t, page.PageID(7), sib.nextPageID())
}

// TestLeafPage_MoveAllTo verifies the merge transfer.
func TestLeafPage_MoveAllTo(t *testing.T) {
	left := newTestLeaf(1, 8)
	right := newTestLeaf(2, 8)
	right.setNextPageID(9)
	for _, k := range []int64{1, 2} {
		require.True(t, left.insertByKey(k, rid(k)))
	}
	for _, k := range []int64{3, 4} {
		require.True(t, right.insertByKey(k, rid(k)))
	}

	right.moveAllTo(left)
	require.Equal(t, 0, right.size())
	require.Equal(t, 4, left.size())
	require.Equal(t, page.PageID(9), left.nextPageID())
	for i, want := range []int64{1, 2, 3, 4} {
		require.Equal(t, want, left.keyAt(i))
	}
}

// TestInternalPage_ChildIndex verifies descent routing with the slot-0
// placeholder treated as negative infinity.
func TestInternalPage_ChildIndex(t *testing.T) {
	n := newTestInternal(1, 8)
	// Children cover (-inf,10), [10,20), [20,+inf).
	n.setValueAt(0, 100)
	n.setSize(1)
	n.append(10, 200)
	n.append(20, 300)

	require.Equal(t, 0, n.childIndex(5))
	require.Equal(t, 1, n.childIndex(10))
	require.Equal(t, 1, n.childIndex(15))
	require.Equal(t, 2, n.childIndex(20))
	require.Equal(t, 2, n.childIndex(99))
	require.Equal(t, page.PageID(200), n.valueAt(n.childIndex(10)))
}

// TestInternalPage_InsertByKey verifies sorted separator insertion.
func TestInternalPage_InsertByKey(t *testing.T) {
	n := newTestInternal(1, 8)
	n.setValueAt(0, 100)
	n.setSize(1)
	n.append(30, 300)

	n.insertByKey(10, 200)
	n.insertByKey(20, 250)

	require.Equal(t, 4, n.size())
	require.Equal(t, int64(10), n.keyAt(1))
	require.Equal(t, int64(20), n.keyAt(2))
	require.Equal(t, int64(30), n.keyAt(3))
	require.Equal(t, page.PageID(200), n.valueAt(1))
	require.Equal(t, page.PageID(250), n.valueAt(2))
	require.Equal(t, page.PageID(300), n.valueAt(3))
}

// TestInternalPage_InsertFront verifies the borrow-from-left rotation
// primitive.
func TestInternalPage_InsertFront(t *testing.T) {
	n := newTestInternal(1, 8)
	n.setValueAt(0, 100)
	n.setSize(1)
	n.append(50, 200)

	n.insertFront(40, 90)

	require.Equal(t, 3, n.size())
	require.Equal(t, page.PageID(90), n.valueAt(0))
	require.Equal(t, int64(40), n.keyAt(1))
	require.Equal(t, page.PageID(100), n.valueAt(1))
	require.Equal(t, int64(50), n.keyAt(2))
	require.Equal(t, page.PageID(200), n.valueAt(2))
}

// TestInternalPage_IndexOfChild verifies child lookup by page id.
func TestInternalPage_IndexOfChild(t *testing.T) {
	n := newTestInternal(1, 8)
	n.setValueAt(0, 100)
	n.setSize(1)
	n.append(10, 200)

	require.Equal(t, 0, n.indexOfChild(100))
	require.Equal(t, 1, n.indexOfChild(200))
	require.Equal(t, -1, n.indexOfChild(999))
}
