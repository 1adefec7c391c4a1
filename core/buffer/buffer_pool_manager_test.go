package buffer

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avikchaud45/stratadb/core/storage/disk"
	"github.com/avikchaud45/stratadb/core/storage/page"
	"github.com/avikchaud45/stratadb/core/storage/wal"
	"github.com/avikchaud45/stratadb/pkg/logger"
	"github.com/avikchaud45/stratadb/pkg/telemetry"
)

// setupBufferPool creates a buffer pool of poolSize frames over a fresh
// database file, with the standard logger and a no-op meter.
func setupBufferPool(t *testing.T, poolSize int) *BufferPoolManager {
	t.Helper()
	log, closeSinks, err := logger.New(logger.Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	t.Cleanup(closeSinks)

	tel, err := telemetry.New(telemetry.Config{Enabled: false})
	require.NoError(t, err)
	t.Cleanup(func() { tel.Shutdown(context.Background()) })

	dir := t.TempDir()
	dm, err := disk.NewManager(filepath.Join(dir, "strata.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })

	lm, err := wal.NewLogManager(dir, 1<<16, log)
	require.NoError(t, err)
	t.Cleanup(func() { lm.Close() })

	bpm, err := NewBufferPoolManager(poolSize, 2, dm, lm, log, tel.Meter)
	require.NoError(t, err)
	return bpm
}

// TestBufferPool_NewPageUntilFull verifies that NewPage hands out pinned
// pages until every frame is pinned, then fails, and that unpinning frees
// capacity again.
func TestBufferPool_NewPageUntilFull(t *testing.T) {
	const poolSize = 10
	bpm := setupBufferPool(t, poolSize)

	pages := make([]*page.Page, 0, poolSize)
	for i := 0; i < poolSize; i++ {
		pg, err := bpm.NewPage()
		require.NoError(t, err)
		require.Equal(t, page.PageID(i), pg.ID())
		pages = append(pages, pg)
	}

	_, err := bpm.NewPage()
	require.ErrorIs(t, err, ErrBufferPoolFull)

	require.True(t, bpm.UnpinPage(pages[3].ID(), false))
	pg, err := bpm.NewPage()
	require.NoError(t, err)
	require.Equal(t, page.PageID(poolSize), pg.ID())
}

// TestBufferPool_DataSurvivesEviction writes through a frame, forces the
// page out by flooding the pool, and fetches it back from disk.
func TestBufferPool_DataSurvivesEviction(t *testing.T) {
	const poolSize = 5
	bpm := setupBufferPool(t, poolSize)

	pg, err := bpm.NewPage()
	require.NoError(t, err)
	target := pg.ID()
	copy(pg.Data(), "remember me")
	require.True(t, bpm.UnpinPage(target, true))

	// Flood the pool so the target frame is evicted (and flushed, being
	// dirty).
	for i := 0; i < 2*poolSize; i++ {
		p, err := bpm.NewPage()
		require.NoError(t, err)
		require.True(t, bpm.UnpinPage(p.ID(), false))
	}

	pg, err = bpm.FetchPage(target)
	require.NoError(t, err)
	require.Equal(t, "remember me", string(pg.Data()[:11]))
	require.True(t, bpm.UnpinPage(target, false))
}

// TestBufferPool_FetchPinnedSurvives verifies that pinned pages are never
// evicted no matter how much pressure the pool is under.
func TestBufferPool_FetchPinnedSurvives(t *testing.T) {
	const poolSize = 3
	bpm := setupBufferPool(t, poolSize)

	pinned, err := bpm.NewPage()
	require.NoError(t, err)
	copy(pinned.Data(), "pinned")

	for i := 0; i < 2*poolSize; i++ {
		p, err := bpm.NewPage()
		require.NoError(t, err)
		require.True(t, bpm.UnpinPage(p.ID(), false))
	}

	// Still resident and intact: a fetch is a hit, not a disk read.
	again, err := bpm.FetchPage(pinned.ID())
	require.NoError(t, err)
	require.Equal(t, "pinned", string(again.Data()[:6]))
	require.EqualValues(t, 2, again.PinCount())
	require.True(t, bpm.UnpinPage(pinned.ID(), false))
	require.True(t, bpm.UnpinPage(pinned.ID(), false))
}

// TestBufferPool_UnpinSemantics verifies the sticky dirty flag and the
// false returns on bad unpins.
func TestBufferPool_UnpinSemantics(t *testing.T) {
	bpm := setupBufferPool(t, 4)

	pg, err := bpm.NewPage()
	require.NoError(t, err)
	id := pg.ID()

	require.False(t, bpm.UnpinPage(page.PageID(99), false), "unmapped page")
	require.True(t, bpm.UnpinPage(id, true))
	require.False(t, bpm.UnpinPage(id, false), "pin count already zero")
	require.True(t, pg.IsDirty(), "dirty flag must not be cleared by a later clean unpin")
}

// TestBufferPool_FlushPage verifies that flushing writes the bytes out and
// clears the dirty flag, pinned or not.
func TestBufferPool_FlushPage(t *testing.T) {
	bpm := setupBufferPool(t, 4)

	pg, err := bpm.NewPage()
	require.NoError(t, err)
	id := pg.ID()
	copy(pg.Data(), "flushed while pinned")
	pg.SetDirty(true)

	require.True(t, bpm.FlushPage(id), "flush succeeds on a pinned page")
	require.False(t, pg.IsDirty())
	require.False(t, bpm.FlushPage(page.PageID(42)), "flush of an unmapped page")
	require.True(t, bpm.UnpinPage(id, false))
}

// TestBufferPool_DeletePage verifies the delete contract: vacuous success
// on unmapped ids, refusal on pinned pages, frame reuse afterwards.
func TestBufferPool_DeletePage(t *testing.T) {
	bpm := setupBufferPool(t, 4)

	ok, err := bpm.DeletePage(page.PageID(123))
	require.NoError(t, err)
	require.True(t, ok, "deleting an unmapped page is vacuously true")

	pg, err := bpm.NewPage()
	require.NoError(t, err)
	id := pg.ID()

	ok, err = bpm.DeletePage(id)
	require.NoError(t, err)
	require.False(t, ok, "pinned pages cannot be deleted")

	require.True(t, bpm.UnpinPage(id, true))
	ok, err = bpm.DeletePage(id)
	require.NoError(t, err)
	require.True(t, ok)

	// The id goes back to the disk manager's free list and comes around
	// again.
	pg2, err := bpm.NewPage()
	require.NoError(t, err)
	require.Equal(t, id, pg2.ID())
	require.True(t, bpm.UnpinPage(pg2.ID(), false))
}

// TestBufferPool_FlushAllPages verifies that every resident page reaches
// disk and comes back clean.
func TestBufferPool_FlushAllPages(t *testing.T) {
	bpm := setupBufferPool(t, 8)

	var ids []page.PageID
	for i := 0; i < 5; i++ {
		pg, err := bpm.NewPage()
		require.NoError(t, err)
		copy(pg.Data(), fmt.Sprintf("page-%d", i))
		ids = append(ids, pg.ID())
		require.True(t, bpm.UnpinPage(pg.ID(), true))
	}

	bpm.FlushAllPages()

	for i, id := range ids {
		pg, err := bpm.FetchPage(id)
		require.NoError(t, err)
		require.False(t, pg.IsDirty())
		require.Equal(t, fmt.Sprintf("page-%d", i), string(pg.Data()[:6]))
		require.True(t, bpm.UnpinPage(id, false))
	}
}

// TestBufferPool_FetchSharesFrame verifies the at-most-one-frame
// invariant: concurrent fetches of one page see the same frame with a
// summed pin count.
func TestBufferPool_FetchSharesFrame(t *testing.T) {
	bpm := setupBufferPool(t, 4)

	pg, err := bpm.NewPage()
	require.NoError(t, err)
	id := pg.ID()

	again, err := bpm.FetchPage(id)
	require.NoError(t, err)
	require.Same(t, pg, again)
	require.EqualValues(t, 2, pg.PinCount())
	require.True(t, bpm.UnpinPage(id, false))
	require.True(t, bpm.UnpinPage(id, false))
}
