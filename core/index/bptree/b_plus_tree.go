// Package bptree implements a disk-resident B+ tree index on top of the
// buffer pool: an ordered map from fixed-width keys to record ids, with
// chained leaves for forward range scans. Roots of named indexes are
// registered on the reserved header page.
package bptree

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/avikchaud45/stratadb/core/buffer"
	"github.com/avikchaud45/stratadb/core/storage/disk"
	"github.com/avikchaud45/stratadb/core/storage/page"
	"github.com/avikchaud45/stratadb/core/storage/wal"
	"github.com/avikchaud45/stratadb/pkg/logger"
)

// --- Error Definitions ---

var (
	ErrNilOrder        = errors.New("key order function must be provided")
	ErrNilCodec        = errors.New("key codec must be fully provided")
	ErrInvalidMaxSize  = errors.New("page max size out of range")
	ErrPageOverflow    = errors.New("configured max size does not fit in a page")
	ErrHeaderPageTaken = errors.New("page 0 was not available for the header page")
	ErrIteratorDone    = errors.New("iterator is exhausted")
)

// BPlusTree is an ordered index of unique keys backed by the buffer pool.
// One reader-writer latch covers the whole tree: point reads and iteration
// share it, inserts and deletes take it exclusively.
type BPlusTree[K any] struct {
	name            string
	bpm             *buffer.BufferPoolManager
	codec           KeyCodec[K]
	order           Order[K]
	leafMaxSize     int
	internalMaxSize int
	rootPageID      page.PageID
	latch           sync.RWMutex
	logManager      *wal.LogManager
	logger          *zap.Logger
}

// NewBPlusTree opens the named index over bpm, creating the header page if
// the underlying file is empty and recovering the root page id if the
// index was registered before. logManager and log may be nil.
func NewBPlusTree[K any](name string, bpm *buffer.BufferPoolManager, dm *disk.Manager, codec KeyCodec[K], order Order[K], leafMaxSize, internalMaxSize int, logManager *wal.LogManager, log *zap.Logger) (*BPlusTree[K], error) {
	if order == nil {
		return nil, ErrNilOrder
	}
	if codec.Encode == nil || codec.Decode == nil || codec.Size <= 0 {
		return nil, ErrNilCodec
	}
	if name == "" || len(name) > indexNameLen {
		return nil, fmt.Errorf("index name %q must be 1..%d bytes", name, indexNameLen)
	}
	if leafMaxSize < 2 || internalMaxSize < 4 {
		return nil, fmt.Errorf("%w: leaf %d (min 2), internal %d (min 4)", ErrInvalidMaxSize, leafMaxSize, internalMaxSize)
	}
	if leafHeaderLen+leafMaxSize*(codec.Size+ridLen) > page.PageSize {
		return nil, fmt.Errorf("%w: %d leaf slots of %d bytes", ErrPageOverflow, leafMaxSize, codec.Size+ridLen)
	}
	if treeHeaderLen+internalMaxSize*(codec.Size+8) > page.PageSize {
		return nil, fmt.Errorf("%w: %d internal slots of %d bytes", ErrPageOverflow, internalMaxSize, codec.Size+8)
	}
	log = logger.Component(log, "bptree")

	t := &BPlusTree[K]{
		name:            name,
		bpm:             bpm,
		codec:           codec,
		order:           order,
		leafMaxSize:     leafMaxSize,
		internalMaxSize: internalMaxSize,
		rootPageID:      page.InvalidPageID,
		logManager:      logManager,
		logger:          log,
	}

	if dm.NumPages() == 0 {
		pg, err := bpm.NewPage()
		if err != nil {
			return nil, fmt.Errorf("failed to create header page: %w", err)
		}
		if pg.ID() != page.HeaderPageID {
			bpm.UnpinPage(pg.ID(), false)
			return nil, fmt.Errorf("%w: got page %d", ErrHeaderPageTaken, pg.ID())
		}
		h := headerPage{pg}
		h.init()
		if err := h.insertRecord(name, page.InvalidPageID); err != nil {
			bpm.UnpinPage(pg.ID(), true)
			return nil, err
		}
		bpm.UnpinPage(pg.ID(), true)
		bpm.FlushPage(pg.ID())
	} else {
		pg, err := bpm.FetchPage(page.HeaderPageID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch header page: %w", err)
		}
		h := headerPage{pg}
		if err := h.validate(); err != nil {
			bpm.UnpinPage(pg.ID(), false)
			return nil, err
		}
		if root, ok := h.rootID(name); ok {
			t.rootPageID = root
			bpm.UnpinPage(pg.ID(), false)
		} else {
			err := h.insertRecord(name, page.InvalidPageID)
			bpm.UnpinPage(pg.ID(), true)
			if err != nil {
				return nil, err
			}
		}
	}

	log.Info("b+ tree index opened",
		zap.String("index", name),
		zap.Int64("root_page_id", int64(t.rootPageID)),
		zap.Int("leaf_max_size", leafMaxSize),
		zap.Int("internal_max_size", internalMaxSize))
	return t, nil
}

func (t *BPlusTree[K]) leafView(pg *page.Page) leafPage[K] {
	return leafPage[K]{treePage: treePage{pg}, codec: t.codec, order: t.order}
}

func (t *BPlusTree[K]) internalView(pg *page.Page) internalPage[K] {
	return internalPage[K]{treePage: treePage{pg}, codec: t.codec, order: t.order}
}

// IsEmpty reports whether the tree holds no keys.
func (t *BPlusTree[K]) IsEmpty() bool {
	t.latch.RLock()
	defer t.latch.RUnlock()
	return t.rootPageID == page.InvalidPageID
}

// GetRootPageID returns the current root page id, or InvalidPageID for an
// empty tree.
func (t *BPlusTree[K]) GetRootPageID() page.PageID {
	t.latch.RLock()
	defer t.latch.RUnlock()
	return t.rootPageID
}

// updateRootRecord persists the current root page id to the header page.
// Callers must hold the tree latch exclusively.
func (t *BPlusTree[K]) updateRootRecord() error {
	pg, err := t.bpm.FetchPage(page.HeaderPageID)
	if err != nil {
		return fmt.Errorf("failed to fetch header page: %w", err)
	}
	h := headerPage{pg}
	err = h.updateRecord(t.name, t.rootPageID)
	t.bpm.UnpinPage(page.HeaderPageID, true)
	if err != nil {
		return err
	}
	if t.logManager != nil {
		if _, err := t.logManager.Append(&wal.Record{Type: wal.RecordTypeRootChange, PageID: t.rootPageID}); err != nil {
			t.logger.Error("failed to log root change", zap.Error(err))
		}
	}
	return nil
}

// stampLSN records a page mutation in the log and stamps the page, so the
// buffer pool can honor write-ahead ordering when it flushes the frame.
func (t *BPlusTree[K]) stampLSN(pg *page.Page) {
	if t.logManager == nil {
		return
	}
	lsn, err := t.logManager.Append(&wal.Record{Type: wal.RecordTypeUpdate, PageID: pg.ID()})
	if err != nil {
		t.logger.Error("failed to append update record", zap.Int64("page_id", int64(pg.ID())), zap.Error(err))
		return
	}
	pg.SetLSN(lsn)
}

// reparent rewrites the parent pointer of the page behind childID.
func (t *BPlusTree[K]) reparent(childID, parentID page.PageID) error {
	pg, err := t.bpm.FetchPage(childID)
	if err != nil {
		return err
	}
	treePage{pg}.setParentID(parentID)
	t.bpm.UnpinPage(childID, true)
	return nil
}

// findLeaf descends from the root to the leaf whose key range covers key,
// unpinning interior pages along the way. The returned leaf is pinned.
func (t *BPlusTree[K]) findLeaf(key K) (leafPage[K], error) {
	pg, err := t.bpm.FetchPage(t.rootPageID)
	if err != nil {
		return leafPage[K]{}, err
	}
	for {
		if (treePage{pg}).isLeaf() {
			return t.leafView(pg), nil
		}
		node := t.internalView(pg)
		childID := node.valueAt(node.childIndex(key))
		child, err := t.bpm.FetchPage(childID)
		if err != nil {
			t.bpm.UnpinPage(pg.ID(), false)
			return leafPage[K]{}, err
		}
		t.bpm.UnpinPage(pg.ID(), false)
		pg = child
	}
}

// GetValue returns the record ids stored under key. The result is empty
// when the key is absent.
func (t *BPlusTree[K]) GetValue(key K) ([]page.RID, error) {
	t.latch.RLock()
	defer t.latch.RUnlock()

	if t.rootPageID == page.InvalidPageID {
		return nil, nil
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		return nil, err
	}
	var result []page.RID
	if i := leaf.indexOfKey(key); i >= 0 {
		result = append(result, leaf.valueAt(i))
	}
	t.bpm.UnpinPage(leaf.id(), false)
	return result, nil
}

// Insert adds (key, value) to the tree, splitting pages upward as needed.
// It reports false without modifying the tree when key already exists.
func (t *BPlusTree[K]) Insert(key K, value page.RID) (bool, error) {
	t.latch.Lock()
	defer t.latch.Unlock()

	if t.rootPageID == page.InvalidPageID {
		pg, err := t.bpm.NewPage()
		if err != nil {
			return false, err
		}
		leaf := t.leafView(pg)
		leaf.init(pg.ID(), page.InvalidPageID, t.leafMaxSize)
		leaf.insertByKey(key, value)
		t.rootPageID = pg.ID()
		t.stampLSN(pg)
		if err := t.updateRootRecord(); err != nil {
			t.bpm.UnpinPage(pg.ID(), true)
			return false, err
		}
		t.bpm.UnpinPage(pg.ID(), true)
		return true, nil
	}

	leaf, err := t.findLeaf(key)
	if err != nil {
		return false, err
	}
	if !leaf.insertByKey(key, value) {
		t.bpm.UnpinPage(leaf.id(), false)
		return false, nil
	}
	t.stampLSN(leaf.pg)
	if leaf.size() == leaf.maxSize() {
		if err := t.splitLeaf(leaf); err != nil {
			t.bpm.UnpinPage(leaf.id(), true)
			return false, err
		}
	}
	t.bpm.UnpinPage(leaf.id(), true)
	return true, nil
}

// splitLeaf moves the upper half of the full leaf into a fresh sibling,
// splices the sibling into the leaf chain, and pushes the separator into
// the parent, growing a new root when the leaf was the root. The leaf
// stays pinned for the caller.
func (t *BPlusTree[K]) splitLeaf(leaf leafPage[K]) error {
	sibPg, err := t.bpm.NewPage()
	if err != nil {
		return err
	}
	sib := t.leafView(sibPg)
	sib.init(sibPg.ID(), leaf.parentID(), t.leafMaxSize)
	leaf.moveHalfTo(sib)
	sepKey := sib.keyAt(0)
	t.stampLSN(sibPg)

	if leaf.isRoot() {
		err := t.growRoot(sepKey, leaf.treePage, sib.treePage)
		t.bpm.UnpinPage(sib.id(), true)
		return err
	}

	parentPg, err := t.bpm.FetchPage(leaf.parentID())
	if err != nil {
		t.bpm.UnpinPage(sib.id(), true)
		return err
	}
	parent := t.internalView(parentPg)
	if parent.size()+1 >= parent.maxSize() {
		err = t.insertIntoFullInternal(parent, sepKey, sib.id())
	} else {
		parent.insertByKey(sepKey, sib.id())
		sib.setParentID(parent.id())
	}
	t.bpm.UnpinPage(parent.id(), true)
	t.bpm.UnpinPage(sib.id(), true)
	return err
}

// growRoot installs a fresh internal root over the two halves of a root
// split, with the old root at slot 0 and the sibling behind the separator.
func (t *BPlusTree[K]) growRoot(sepKey K, left, right treePage) error {
	rootPg, err := t.bpm.NewPage()
	if err != nil {
		return err
	}
	root := t.internalView(rootPg)
	root.init(rootPg.ID(), page.InvalidPageID, t.internalMaxSize)
	root.setKeyAt(0, sepKey) // placeholder slot, key carries no meaning
	root.setValueAt(0, left.id())
	root.setKeyAt(1, sepKey)
	root.setValueAt(1, right.id())
	root.setSize(2)
	left.setParentID(rootPg.ID())
	right.setParentID(rootPg.ID())

	t.rootPageID = rootPg.ID()
	err = t.updateRootRecord()
	t.bpm.UnpinPage(rootPg.ID(), true)
	return err
}

// insertIntoFullInternal splits the internal page target, which the new
// pair would bring to its max size, while inserting (key, child): its
// entries plus the new pair are merged in
// order, the lower half stays, and the upper half moves to a fresh sibling
// whose slot 0 carries the middle key pushed upward. Children are
// reparented as they move. target stays pinned for the caller.
func (t *BPlusTree[K]) insertIntoFullInternal(target internalPage[K], key K, child page.PageID) error {
	type pair struct {
		key   K
		child page.PageID
	}
	tmp := make([]pair, 0, target.maxSize())
	i := 1
	for ; i < target.size() && t.order(target.keyAt(i), key) < 0; i++ {
		tmp = append(tmp, pair{target.keyAt(i), target.valueAt(i)})
	}
	tmp = append(tmp, pair{key, child})
	for ; i < target.size(); i++ {
		tmp = append(tmp, pair{target.keyAt(i), target.valueAt(i)})
	}

	sibPg, err := t.bpm.NewPage()
	if err != nil {
		return err
	}
	sib := t.internalView(sibPg)
	sib.init(sibPg.ID(), target.parentID(), t.internalMaxSize)

	min := target.minSize()
	target.setSize(1)
	for j := 0; j < min-1; j++ {
		target.append(tmp[j].key, tmp[j].child)
		if err := t.reparent(tmp[j].child, target.id()); err != nil {
			t.bpm.UnpinPage(sib.id(), true)
			return err
		}
	}
	for j := min - 1; j < len(tmp); j++ {
		sib.append(tmp[j].key, tmp[j].child)
		if err := t.reparent(tmp[j].child, sib.id()); err != nil {
			t.bpm.UnpinPage(sib.id(), true)
			return err
		}
	}
	pushKey := sib.keyAt(0)
	t.stampLSN(sibPg)

	if target.isRoot() {
		err := t.growRoot(pushKey, target.treePage, sib.treePage)
		t.bpm.UnpinPage(sib.id(), true)
		return err
	}

	parentPg, err := t.bpm.FetchPage(target.parentID())
	if err != nil {
		t.bpm.UnpinPage(sib.id(), true)
		return err
	}
	parent := t.internalView(parentPg)
	if parent.size()+1 >= parent.maxSize() {
		err = t.insertIntoFullInternal(parent, pushKey, sib.id())
	} else {
		parent.insertByKey(pushKey, sib.id())
		sib.setParentID(parent.id())
	}
	t.bpm.UnpinPage(parent.id(), true)
	t.bpm.UnpinPage(sib.id(), true)
	return err
}

// Remove deletes key from the tree, borrowing from or merging with
// siblings to keep every non-root page at or above its minimum occupancy.
// Removing an absent key is a no-op.
func (t *BPlusTree[K]) Remove(key K) error {
	t.latch.Lock()
	defer t.latch.Unlock()

	if t.rootPageID == page.InvalidPageID {
		return nil
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	if !leaf.removeByKey(key) {
		t.bpm.UnpinPage(leaf.id(), false)
		return nil
	}
	t.stampLSN(leaf.pg)

	if leaf.size() >= leaf.minSize() {
		t.bpm.UnpinPage(leaf.id(), true)
		return nil
	}
	if leaf.isRoot() {
		if leaf.size() > 0 {
			t.bpm.UnpinPage(leaf.id(), true)
			return nil
		}
		// Last key gone: the tree is empty again.
		id := leaf.id()
		t.bpm.UnpinPage(id, true)
		if _, err := t.bpm.DeletePage(id); err != nil {
			return err
		}
		t.rootPageID = page.InvalidPageID
		return t.updateRootRecord()
	}
	return t.handleLeafUnderflow(leaf)
}

// chooseSibling fetches the sibling to borrow from or merge with: the left
// neighbor unless only the right neighbor exists or only the right one has
// an entry to spare. It returns the pinned sibling and its slot index in
// parent.
func (t *BPlusTree[K]) chooseSibling(parent internalPage[K], tarIndex int) (*page.Page, int, error) {
	if tarIndex == parent.size()-1 {
		pg, err := t.bpm.FetchPage(parent.valueAt(tarIndex - 1))
		return pg, tarIndex - 1, err
	}
	if tarIndex == 0 {
		pg, err := t.bpm.FetchPage(parent.valueAt(1))
		return pg, 1, err
	}
	leftPg, err := t.bpm.FetchPage(parent.valueAt(tarIndex - 1))
	if err != nil {
		return nil, 0, err
	}
	rightPg, err := t.bpm.FetchPage(parent.valueAt(tarIndex + 1))
	if err != nil {
		t.bpm.UnpinPage(leftPg.ID(), false)
		return nil, 0, err
	}
	left, right := treePage{leftPg}, treePage{rightPg}
	if left.size() > left.minSize() || right.size() <= right.minSize() {
		t.bpm.UnpinPage(rightPg.ID(), false)
		return leftPg, tarIndex - 1, nil
	}
	t.bpm.UnpinPage(leftPg.ID(), false)
	return rightPg, tarIndex + 1, nil
}

// handleLeafUnderflow restores the occupancy of an underflowing non-root
// leaf by borrowing one entry from a sibling or merging into the left
// neighbor. It consumes the leaf's pin.
func (t *BPlusTree[K]) handleLeafUnderflow(leaf leafPage[K]) error {
	parentPg, err := t.bpm.FetchPage(leaf.parentID())
	if err != nil {
		t.bpm.UnpinPage(leaf.id(), true)
		return err
	}
	parent := t.internalView(parentPg)
	tarIndex := parent.indexOfChild(leaf.id())
	sibPg, broIndex, err := t.chooseSibling(parent, tarIndex)
	if err != nil {
		t.bpm.UnpinPage(parent.id(), false)
		t.bpm.UnpinPage(leaf.id(), true)
		return err
	}
	sib := t.leafView(sibPg)

	if sib.size() > sib.minSize() {
		if broIndex < tarIndex {
			// Borrow the left sibling's last entry; it becomes our first.
			k, v := sib.keyAt(sib.size()-1), sib.valueAt(sib.size()-1)
			sib.removeByIndex(sib.size() - 1)
			leaf.insertByKey(k, v)
			parent.setKeyAt(tarIndex, k)
		} else {
			// Borrow the right sibling's first entry.
			k, v := sib.keyAt(0), sib.valueAt(0)
			sib.removeByIndex(0)
			leaf.insertByKey(k, v)
			parent.setKeyAt(broIndex, sib.keyAt(0))
		}
		t.stampLSN(sibPg)
		t.bpm.UnpinPage(parent.id(), true)
		t.bpm.UnpinPage(sib.id(), true)
		t.bpm.UnpinPage(leaf.id(), true)
		return nil
	}

	// Merge right into left.
	src, des, srcIndex := leaf, sib, tarIndex
	if broIndex > tarIndex {
		src, des, srcIndex = sib, leaf, broIndex
	}
	src.moveAllTo(des)
	parent.removeByIndex(srcIndex)
	t.stampLSN(des.pg)
	srcID := src.id()
	t.bpm.UnpinPage(srcID, true)
	if _, err := t.bpm.DeletePage(srcID); err != nil {
		t.bpm.UnpinPage(parent.id(), true)
		t.bpm.UnpinPage(des.id(), true)
		return err
	}
	err = t.fixParentAfterMerge(parent)
	t.bpm.UnpinPage(des.id(), true)
	return err
}

// fixParentAfterMerge handles the parent page after one of its children
// was merged away: recursing on an underflowing internal page, collapsing
// a single-child root, or simply releasing the pin. It consumes parent's
// pin.
func (t *BPlusTree[K]) fixParentAfterMerge(parent internalPage[K]) error {
	if parent.size() >= parent.minSize() {
		t.bpm.UnpinPage(parent.id(), true)
		return nil
	}
	if !parent.isRoot() {
		return t.handleInternalUnderflow(parent)
	}
	if parent.size() == 1 {
		// The root holds a single child: that child is the new root.
		childID := parent.valueAt(0)
		if err := t.reparent(childID, page.InvalidPageID); err != nil {
			t.bpm.UnpinPage(parent.id(), true)
			return err
		}
		oldRootID := parent.id()
		t.bpm.UnpinPage(oldRootID, true)
		if _, err := t.bpm.DeletePage(oldRootID); err != nil {
			return err
		}
		t.rootPageID = childID
		return t.updateRootRecord()
	}
	t.bpm.UnpinPage(parent.id(), true)
	return nil
}

// handleInternalUnderflow restores the occupancy of an underflowing
// non-root internal page, reparenting every child that changes pages. It
// consumes target's pin.
func (t *BPlusTree[K]) handleInternalUnderflow(target internalPage[K]) error {
	parentPg, err := t.bpm.FetchPage(target.parentID())
	if err != nil {
		t.bpm.UnpinPage(target.id(), true)
		return err
	}
	parent := t.internalView(parentPg)
	tarIndex := parent.indexOfChild(target.id())
	sibPg, broIndex, err := t.chooseSibling(parent, tarIndex)
	if err != nil {
		t.bpm.UnpinPage(parent.id(), false)
		t.bpm.UnpinPage(target.id(), true)
		return err
	}
	sib := t.internalView(sibPg)

	if sib.size() > sib.minSize() {
		if broIndex < tarIndex {
			// Rotate the left sibling's last child through the parent.
			k, c := sib.keyAt(sib.size()-1), sib.valueAt(sib.size()-1)
			sib.removeByIndex(sib.size() - 1)
			target.insertFront(parent.keyAt(tarIndex), c)
			parent.setKeyAt(tarIndex, k)
			err = t.reparent(c, target.id())
		} else {
			// Rotate the right sibling's first child through the parent.
			c := sib.valueAt(0)
			target.append(parent.keyAt(broIndex), c)
			sib.removeByIndex(0)
			parent.setKeyAt(broIndex, sib.keyAt(0))
			err = t.reparent(c, target.id())
		}
		t.bpm.UnpinPage(parent.id(), true)
		t.bpm.UnpinPage(sib.id(), true)
		t.bpm.UnpinPage(target.id(), true)
		return err
	}

	// Merge right into left. The right page's placeholder slot first takes
	// the parent's separator so the merged key sequence is well formed.
	src, des, srcIndex := target, sib, tarIndex
	if broIndex > tarIndex {
		src, des, srcIndex = sib, target, broIndex
	}
	src.setKeyAt(0, parent.keyAt(srcIndex))
	for i := 0; i < src.size(); i++ {
		des.append(src.keyAt(i), src.valueAt(i))
		if err := t.reparent(src.valueAt(i), des.id()); err != nil {
			t.bpm.UnpinPage(parent.id(), true)
			t.bpm.UnpinPage(sib.id(), true)
			t.bpm.UnpinPage(target.id(), true)
			return err
		}
	}
	src.setSize(0)
	parent.removeByIndex(srcIndex)
	srcID := src.id()
	t.bpm.UnpinPage(srcID, true)
	if _, err := t.bpm.DeletePage(srcID); err != nil {
		t.bpm.UnpinPage(parent.id(), true)
		t.bpm.UnpinPage(des.id(), true)
		return err
	}
	err = t.fixParentAfterMerge(parent)
	t.bpm.UnpinPage(des.id(), true)
	return err
}
