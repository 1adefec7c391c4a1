// Package buffer implements the buffer pool manager and its LRU-K
// replacement policy: a fixed set of in-memory frames mediating every page
// access against the disk manager.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/avikchaud45/stratadb/core/container/hash"
	"github.com/avikchaud45/stratadb/core/storage/disk"
	"github.com/avikchaud45/stratadb/core/storage/page"
	"github.com/avikchaud45/stratadb/core/storage/wal"
	"github.com/avikchaud45/stratadb/pkg/logger"
)

// --- Error Definitions ---

var (
	ErrBufferPoolFull = errors.New("buffer pool is full and no pages can be evicted")
	ErrPageNotFound   = errors.New("page not found in buffer pool")
)

// pageTableBucketSize bounds entries per extendible-hash bucket in the
// page table.
const pageTableBucketSize = 4

// BufferPoolManager owns poolSize frames and guarantees that a page id
// occupies at most one frame, that pinned pages are never evicted, and
// that dirty pages reach disk before their frame is reused. Every public
// operation runs under one exclusive latch, including disk I/O.
type BufferPoolManager struct {
	mu          sync.Mutex
	poolSize    int
	frames      []*page.Page
	freeList    []page.FrameID
	pageTable   *hash.ExtendibleHashTable[page.PageID, page.FrameID]
	replacer    *LRUKReplacer
	diskManager *disk.Manager
	logManager  *wal.LogManager
	logger      *zap.Logger

	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
	flushes   metric.Int64Counter
}

// NewBufferPoolManager creates a pool of poolSize frames over diskManager,
// evicting by LRU-K with the given history depth. logManager may be nil
// when durability ordering is not needed; log and meter may be nil to
// disable logging and instrumentation.
func NewBufferPoolManager(poolSize int, replacerK int, diskManager *disk.Manager, logManager *wal.LogManager, log *zap.Logger, meter metric.Meter) (*BufferPoolManager, error) {
	if diskManager == nil {
		return nil, errors.New("buffer pool: disk manager must not be nil")
	}
	if poolSize <= 0 {
		return nil, fmt.Errorf("buffer pool: pool size must be positive, got %d", poolSize)
	}
	log = logger.Component(log, "buffer")
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}

	bpm := &BufferPoolManager{
		poolSize:    poolSize,
		frames:      make([]*page.Page, poolSize),
		freeList:    make([]page.FrameID, 0, poolSize),
		pageTable:   hash.NewExtendibleHashTable[page.PageID, page.FrameID](pageTableBucketSize, hash.IntOf[page.PageID]),
		replacer:    NewLRUKReplacer(poolSize, replacerK),
		diskManager: diskManager,
		logManager:  logManager,
		logger:      log,
	}
	for i := 0; i < poolSize; i++ {
		bpm.frames[i] = page.New()
		bpm.freeList = append(bpm.freeList, page.FrameID(i))
	}

	var err error
	if bpm.hits, err = meter.Int64Counter("stratadb.bufferpool.hits"); err != nil {
		return nil, fmt.Errorf("buffer pool: creating hit counter: %w", err)
	}
	if bpm.misses, err = meter.Int64Counter("stratadb.bufferpool.misses"); err != nil {
		return nil, fmt.Errorf("buffer pool: creating miss counter: %w", err)
	}
	if bpm.evictions, err = meter.Int64Counter("stratadb.bufferpool.evictions"); err != nil {
		return nil, fmt.Errorf("buffer pool: creating eviction counter: %w", err)
	}
	if bpm.flushes, err = meter.Int64Counter("stratadb.bufferpool.flushes"); err != nil {
		return nil, fmt.Errorf("buffer pool: creating flush counter: %w", err)
	}

	log.Info("buffer pool initialized",
		zap.Int("pool_size", poolSize),
		zap.Int("replacer_k", replacerK),
		zap.String("pool_bytes", humanize.IBytes(uint64(poolSize)*page.PageSize)))
	return bpm, nil
}

// PoolSize returns the number of frames.
func (bpm *BufferPoolManager) PoolSize() int { return bpm.poolSize }

// NewPage allocates a fresh page id, places it in a frame pinned once with
// zeroed bytes, and returns the frame. It fails with ErrBufferPoolFull
// when every frame is pinned.
func (bpm *BufferPoolManager) NewPage() (*page.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, err := bpm.obtainFrame()
	if err != nil {
		return nil, err
	}
	pageID, err := bpm.diskManager.AllocatePage()
	if err != nil {
		// Put the frame back so the failed allocation leaks nothing.
		bpm.freeList = append(bpm.freeList, frameID)
		return nil, fmt.Errorf("failed to allocate page on disk: %w", err)
	}

	frame := bpm.frames[frameID]
	frame.Reset()
	frame.SetID(pageID)
	frame.SetPinCount(1)
	bpm.pageTable.Insert(pageID, frameID)
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)

	bpm.logger.Debug("new page", zap.Int64("page_id", int64(pageID)), zap.Int("frame", int(frameID)))
	return frame, nil
}

// FetchPage returns the frame holding pageID, pinning it. On a miss the
// page is read from disk into a free or victim frame. It fails with
// ErrBufferPoolFull when no frame can be obtained.
func (bpm *BufferPoolManager) FetchPage(pageID page.PageID) (*page.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameID, ok := bpm.pageTable.Find(pageID); ok {
		frame := bpm.frames[frameID]
		frame.Pin()
		bpm.replacer.RecordAccess(frameID)
		bpm.replacer.SetEvictable(frameID, false)
		bpm.hits.Add(context.Background(), 1)
		return frame, nil
	}
	bpm.misses.Add(context.Background(), 1)

	frameID, err := bpm.obtainFrame()
	if err != nil {
		return nil, err
	}
	frame := bpm.frames[frameID]
	frame.Reset()
	if err := bpm.diskManager.ReadPage(pageID, frame.Data()); err != nil {
		bpm.freeList = append(bpm.freeList, frameID)
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
	}
	frame.SetID(pageID)
	frame.SetPinCount(1)
	bpm.pageTable.Insert(pageID, frameID)
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)
	return frame, nil
}

// obtainFrame takes a frame from the free list, or evicts a victim,
// flushing it first when dirty and dropping its page-table entry. Callers
// must hold bpm.mu.
func (bpm *BufferPoolManager) obtainFrame() (page.FrameID, error) {
	if len(bpm.freeList) > 0 {
		frameID := bpm.freeList[0]
		bpm.freeList = bpm.freeList[1:]
		return frameID, nil
	}

	frameID, ok := bpm.replacer.Evict()
	if !ok {
		bpm.logger.Warn("buffer pool exhausted", zap.Int("pool_size", bpm.poolSize))
		return page.InvalidFrameID, ErrBufferPoolFull
	}
	victim := bpm.frames[frameID]
	if victim.IsDirty() {
		if err := bpm.writePageLocked(victim); err != nil {
			return page.InvalidFrameID, fmt.Errorf("failed to flush victim page %d: %w", victim.ID(), err)
		}
	}
	bpm.pageTable.Remove(victim.ID())
	bpm.evictions.Add(context.Background(), 1)
	bpm.logger.Debug("evicted page", zap.Int64("page_id", int64(victim.ID())), zap.Int("frame", int(frameID)))
	return frameID, nil
}

// writePageLocked persists one frame, honoring the WAL rule: the log is
// synced up to the page's LSN before the page bytes reach disk. Callers
// must hold bpm.mu.
func (bpm *BufferPoolManager) writePageLocked(frame *page.Page) error {
	if bpm.logManager != nil && frame.LSN() != page.InvalidLSN {
		if err := bpm.logManager.Sync(); err != nil {
			return fmt.Errorf("failed to sync log before flushing page %d: %w", frame.ID(), err)
		}
	}
	if err := bpm.diskManager.WritePage(frame.ID(), frame.Data()); err != nil {
		return err
	}
	frame.SetDirty(false)
	bpm.flushes.Add(context.Background(), 1)
	return nil
}

// UnpinPage drops one pin on pageID, marking the page dirty when the
// caller modified it. The dirty flag is sticky: a false argument never
// clears it. When the pin count reaches zero the frame becomes evictable.
// It reports false when the page is not resident or was not pinned.
func (bpm *BufferPoolManager) UnpinPage(pageID page.PageID, dirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false
	}
	frame := bpm.frames[frameID]
	if frame.PinCount() == 0 {
		return false
	}
	frame.Unpin()
	if dirty {
		frame.SetDirty(true)
	}
	if frame.PinCount() == 0 {
		bpm.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage writes pageID to disk and clears its dirty flag, regardless of
// its pin count. It reports false when the page is not resident.
func (bpm *BufferPoolManager) FlushPage(pageID page.PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return false
	}
	if err := bpm.writePageLocked(bpm.frames[frameID]); err != nil {
		bpm.logger.Error("flush failed", zap.Int64("page_id", int64(pageID)), zap.Error(err))
		return false
	}
	return true
}

// FlushAllPages writes every resident page to disk and syncs the file.
func (bpm *BufferPoolManager) FlushAllPages() {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	for _, frame := range bpm.frames {
		if frame.ID() == page.InvalidPageID {
			continue
		}
		if err := bpm.writePageLocked(frame); err != nil {
			bpm.logger.Error("flush failed", zap.Int64("page_id", int64(frame.ID())), zap.Error(err))
		}
	}
	if err := bpm.diskManager.Sync(); err != nil {
		bpm.logger.Error("disk sync failed", zap.Error(err))
	}
}

// DeletePage evicts pageID from the pool, returns its frame to the free
// list, and hands the id back to the disk manager. Deleting a page that is
// not resident succeeds vacuously; deleting a pinned page reports false.
func (bpm *BufferPoolManager) DeletePage(pageID page.PageID) (bool, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable.Find(pageID)
	if !ok {
		return true, nil
	}
	frame := bpm.frames[frameID]
	if frame.PinCount() > 0 {
		return false, nil
	}
	if frame.IsDirty() {
		if err := bpm.writePageLocked(frame); err != nil {
			return false, fmt.Errorf("failed to flush page %d before delete: %w", pageID, err)
		}
	}
	bpm.pageTable.Remove(pageID)
	bpm.replacer.Remove(frameID)
	frame.Reset()
	bpm.freeList = append(bpm.freeList, frameID)
	if err := bpm.diskManager.DeallocatePage(pageID); err != nil {
		return false, fmt.Errorf("failed to deallocate page %d: %w", pageID, err)
	}
	bpm.logger.Debug("deleted page", zap.Int64("page_id", int64(pageID)))
	return true, nil
}
