// Package disk implements random-access page I/O against a single database
// file. Pages are addressed by PageID; the file is a flat array of
// fixed-size pages with no file-level header, so page 0 is available to
// the index layer's header page.
package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/avikchaud45/stratadb/core/storage/page"
	"github.com/avikchaud45/stratadb/pkg/logger"
)

// --- Error Definitions ---

var (
	ErrIO            = errors.New("i/o error")
	ErrFileNotOpen   = errors.New("database file not open")
	ErrInvalidPageID = errors.New("invalid page id")
	ErrShortPageRead = errors.New("short page read")
	ErrBadBufferSize = errors.New("page buffer size does not match page size")
	ErrAlreadyFreed  = errors.New("page already on the free list")
)

// MaxFilenameLength bounds database file paths.
const MaxFilenameLength = 255

// Manager is responsible for direct I/O with the database file. Freed page
// ids are recycled through an in-process free list before the file is
// extended; the list is rebuilt empty on every open, which only costs dead
// space in the file, never correctness.
type Manager struct {
	filePath string
	file     *os.File
	numPages int64
	freeList []page.PageID
	freeSet  map[page.PageID]struct{}
	mu       sync.Mutex
	logger   *zap.Logger
}

// NewManager opens (or creates) the database file at filePath. log may be
// nil.
func NewManager(filePath string, log *zap.Logger) (*Manager, error) {
	log = logger.Component(log, "disk")
	if len(filePath) > MaxFilenameLength {
		return nil, fmt.Errorf("file path too long: %s", filePath)
	}
	file, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, filePath, err)
	}
	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, filePath, err)
	}
	dm := &Manager{
		filePath: filePath,
		file:     file,
		numPages: fi.Size() / page.PageSize,
		freeSet:  make(map[page.PageID]struct{}),
		logger:   log,
	}
	dm.logger.Info("disk manager opened",
		zap.String("path", filePath),
		zap.Int64("pages", dm.numPages))
	return dm, nil
}

// NumPages returns the number of pages currently allocated in the file.
func (dm *Manager) NumPages() int64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numPages
}

// ReadPage reads a page's bytes from disk into buf. buf must be exactly
// one page long.
func (dm *Manager) ReadPage(pageID page.PageID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if pageID < 0 || int64(pageID) >= dm.numPages {
		return fmt.Errorf("%w: %d (file has %d pages)", ErrInvalidPageID, pageID, dm.numPages)
	}
	if len(buf) != page.PageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadBufferSize, len(buf), page.PageSize)
	}
	offset := int64(pageID) * page.PageSize
	n, err := dm.file.ReadAt(buf, offset)
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: EOF reading page %d at offset %d", ErrIO, pageID, offset)
		}
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	if n != page.PageSize {
		return fmt.Errorf("%w: page %d, expected %d bytes, got %d", ErrShortPageRead, pageID, page.PageSize, n)
	}
	return nil
}

// WritePage writes buf to disk at pageID's offset. The write is not synced;
// durability is the caller's decision via Sync.
func (dm *Manager) WritePage(pageID page.PageID, buf []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if pageID < 0 || int64(pageID) >= dm.numPages {
		return fmt.Errorf("%w: %d (file has %d pages)", ErrInvalidPageID, pageID, dm.numPages)
	}
	if len(buf) != page.PageSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadBufferSize, len(buf), page.PageSize)
	}
	offset := int64(pageID) * page.PageSize
	if _, err := dm.file.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	return nil
}

// AllocatePage hands out a page id, recycling a freed id when one is
// available and extending the file otherwise.
func (dm *Manager) AllocatePage() (page.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return page.InvalidPageID, ErrFileNotOpen
	}
	if n := len(dm.freeList); n > 0 {
		id := dm.freeList[0]
		dm.freeList = dm.freeList[1:]
		delete(dm.freeSet, id)
		dm.logger.Debug("recycled page id", zap.Int64("page_id", int64(id)))
		return id, nil
	}
	newPageID := page.PageID(dm.numPages)
	empty := make([]byte, page.PageSize)
	offset := int64(newPageID) * page.PageSize
	if _, err := dm.file.WriteAt(empty, offset); err != nil {
		return page.InvalidPageID, fmt.Errorf("%w: extending file for new page %d: %v", ErrIO, newPageID, err)
	}
	dm.numPages++
	return newPageID, nil
}

// DeallocatePage returns a page id to the free list for reuse by a later
// AllocatePage. The file is not shrunk.
func (dm *Manager) DeallocatePage(pageID page.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	if pageID < 0 || int64(pageID) >= dm.numPages {
		return fmt.Errorf("%w: %d", ErrInvalidPageID, pageID)
	}
	if _, ok := dm.freeSet[pageID]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyFreed, pageID)
	}
	dm.freeList = append(dm.freeList, pageID)
	dm.freeSet[pageID] = struct{}{}
	dm.logger.Debug("deallocated page", zap.Int64("page_id", int64(pageID)))
	return nil
}

// Sync flushes all buffered writes to stable storage.
func (dm *Manager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return ErrFileNotOpen
	}
	return dm.file.Sync()
}

// Close syncs and closes the underlying file handle.
func (dm *Manager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return nil
	}
	if err := dm.file.Sync(); err != nil {
		dm.logger.Error("sync on close failed", zap.Error(err))
	}
	closeErr := dm.file.Close()
	dm.file = nil
	return closeErr
}
