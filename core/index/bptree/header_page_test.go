package bptree

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avikchaud45/stratadb/core/storage/page"
)

func newTestHeader() headerPage {
	h := headerPage{pg: page.New()}
	h.init()
	return h
}

// TestHeaderPage_InsertAndLookup covers registration and root lookup.
func TestHeaderPage_InsertAndLookup(t *testing.T) {
	h := newTestHeader()
	require.NoError(t, h.validate())

	require.NoError(t, h.insertRecord("orders_pk", 3))
	require.NoError(t, h.insertRecord("orders_by_date", 9))

	root, ok := h.rootID("orders_pk")
	require.True(t, ok)
	require.Equal(t, page.PageID(3), root)

	_, ok = h.rootID("missing")
	require.False(t, ok)

	require.Error(t, h.insertRecord("orders_pk", 12), "duplicate registration")
	require.Error(t, h.insertRecord(strings.Repeat("x", indexNameLen+1), 1), "name too long")
}

// TestHeaderPage_UpdateRecord verifies root rewrites for registered
// indexes and failure for unknown ones.
func TestHeaderPage_UpdateRecord(t *testing.T) {
	h := newTestHeader()

	require.NoError(t, h.insertRecord("idx", page.InvalidPageID))
	require.NoError(t, h.updateRecord("idx", 17))
	root, ok := h.rootID("idx")
	require.True(t, ok)
	require.Equal(t, page.PageID(17), root)

	require.Error(t, h.updateRecord("ghost", 1))
}

// TestHeaderPage_DeleteRecord verifies compaction of the record directory.
func TestHeaderPage_DeleteRecord(t *testing.T) {
	h := newTestHeader()

	require.NoError(t, h.insertRecord("a", 1))
	require.NoError(t, h.insertRecord("b", 2))
	require.NoError(t, h.insertRecord("c", 3))

	require.True(t, h.deleteRecord("b"))
	require.False(t, h.deleteRecord("b"))
	require.Equal(t, 2, h.recordCount())

	root, ok := h.rootID("c")
	require.True(t, ok)
	require.Equal(t, page.PageID(3), root)
	_, ok = h.rootID("b")
	require.False(t, ok)
}

// TestHeaderPage_ValidateRejectsGarbage verifies the magic check against
// an uninitialized page.
func TestHeaderPage_ValidateRejectsGarbage(t *testing.T) {
	h := headerPage{pg: page.New()}
	require.ErrorIs(t, h.validate(), ErrBadHeaderMagic)
}

// TestHeaderPage_FillsToCapacity verifies the directory bound.
func TestHeaderPage_FillsToCapacity(t *testing.T) {
	h := newTestHeader()

	for i := 0; i < maxHeaderRecords; i++ {
		require.NoError(t, h.insertRecord(fmt.Sprintf("idx-%03d", i), page.PageID(i)))
	}
	require.ErrorIs(t, h.insertRecord("overflow", 1), ErrHeaderFull)
}
