package buffer

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/avikchaud45/stratadb/core/storage/page"
)

// LRUKReplacer picks eviction victims by backward-K-distance: the gap
// between the current logical time and a frame's Kth most recent access.
// Frames with fewer than K recorded accesses have infinite distance and
// are evicted first, oldest first access winning. Among frames with K or
// more accesses the one whose Kth most recent access is oldest wins.
//
// Timestamps come from a logical clock that ticks once per RecordAccess;
// wall time is never consulted.
type LRUKReplacer struct {
	mu        sync.Mutex
	numFrames int
	k         int
	clock     uint64

	// historyList holds frames with fewer than K accesses in order of first
	// access (oldest at front). cacheList holds frames with at least K
	// accesses sorted ascending by their oldest retained timestamp, so the
	// front is always the largest backward-K-distance.
	historyList *list.List
	cacheList   *list.List
	entries     map[page.FrameID]*list.Element

	evictableSize int
}

type lrukEntry struct {
	frameID page.FrameID
	// timestamps holds the last K access times, oldest first.
	timestamps []uint64
	evictable  bool
	cached     bool
}

// NewLRUKReplacer creates a replacer tracking up to numFrames frames with
// a history window of k accesses per frame.
func NewLRUKReplacer(numFrames, k int) *LRUKReplacer {
	if numFrames <= 0 || k <= 0 {
		panic(fmt.Sprintf("lru-k replacer: invalid configuration numFrames=%d k=%d", numFrames, k))
	}
	return &LRUKReplacer{
		numFrames:   numFrames,
		k:           k,
		historyList: list.New(),
		cacheList:   list.New(),
		entries:     make(map[page.FrameID]*list.Element),
	}
}

// RecordAccess notes an access to frameID at the next logical timestamp.
// A frame seen for the first time joins the history list; a frame reaching
// its Kth access migrates to the cache list; a cached frame is repositioned
// by its new oldest-of-K timestamp.
func (r *LRUKReplacer) RecordAccess(frameID page.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assertValidFrame(frameID)

	r.clock++
	elem, ok := r.entries[frameID]
	if !ok {
		entry := &lrukEntry{frameID: frameID, timestamps: []uint64{r.clock}}
		r.entries[frameID] = r.historyList.PushBack(entry)
		return
	}

	entry := elem.Value.(*lrukEntry)
	entry.timestamps = append(entry.timestamps, r.clock)
	if len(entry.timestamps) > r.k {
		entry.timestamps = entry.timestamps[1:]
	}

	if entry.cached {
		// The oldest retained timestamp advanced; reinsert at the new
		// sorted position.
		r.cacheList.Remove(elem)
		r.entries[frameID] = r.insertSorted(entry)
		return
	}
	if len(entry.timestamps) == r.k {
		r.historyList.Remove(elem)
		entry.cached = true
		r.entries[frameID] = r.insertSorted(entry)
	}
}

// insertSorted places entry into cacheList keeping it ascending by oldest
// retained timestamp. Callers must hold r.mu.
func (r *LRUKReplacer) insertSorted(entry *lrukEntry) *list.Element {
	for e := r.cacheList.Front(); e != nil; e = e.Next() {
		if e.Value.(*lrukEntry).timestamps[0] > entry.timestamps[0] {
			return r.cacheList.InsertBefore(entry, e)
		}
	}
	return r.cacheList.PushBack(entry)
}

// SetEvictable flips the frame's evictable flag. Unknown frames are
// ignored; repeated calls with the same value are no-ops.
func (r *LRUKReplacer) SetEvictable(frameID page.FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assertValidFrame(frameID)

	elem, ok := r.entries[frameID]
	if !ok {
		return
	}
	entry := elem.Value.(*lrukEntry)
	if entry.evictable == evictable {
		return
	}
	entry.evictable = evictable
	if evictable {
		r.evictableSize++
	} else {
		r.evictableSize--
	}
}

// Evict removes and returns the evictable frame with the largest
// backward-K-distance, preferring infinite-distance (history) frames. It
// reports false when no frame is evictable.
func (r *LRUKReplacer) Evict() (page.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range []*list.List{r.historyList, r.cacheList} {
		for e := l.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*lrukEntry)
			if !entry.evictable {
				continue
			}
			l.Remove(e)
			delete(r.entries, entry.frameID)
			r.evictableSize--
			return entry.frameID, true
		}
	}
	return page.InvalidFrameID, false
}

// Remove drops all replacer state for frameID. Removing a non-evictable
// frame is a caller bug; unknown frames are ignored.
func (r *LRUKReplacer) Remove(frameID page.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assertValidFrame(frameID)

	elem, ok := r.entries[frameID]
	if !ok {
		return
	}
	entry := elem.Value.(*lrukEntry)
	if !entry.evictable {
		panic(fmt.Sprintf("lru-k replacer: Remove on non-evictable frame %d", frameID))
	}
	if entry.cached {
		r.cacheList.Remove(elem)
	} else {
		r.historyList.Remove(elem)
	}
	delete(r.entries, frameID)
	r.evictableSize--
}

// Size returns the number of evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableSize
}

func (r *LRUKReplacer) assertValidFrame(frameID page.FrameID) {
	if frameID < 0 || int(frameID) >= r.numFrames {
		panic(fmt.Sprintf("lru-k replacer: frame id %d out of range [0, %d)", frameID, r.numFrames))
	}
}
