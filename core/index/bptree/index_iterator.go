package bptree

import (
	"github.com/avikchaud45/stratadb/core/storage/page"
)

// IndexIterator walks leaf entries in ascending key order, following the
// leaf chain. A live iterator pins its current leaf and shares the tree
// latch, so writers wait until it is exhausted or closed. The zero-leaf
// iterator is the end sentinel; two end iterators compare equal in the
// sense that both hold no pinned page.
type IndexIterator[K any] struct {
	tree  *BPlusTree[K]
	pg    *page.Page
	index int
}

// Begin positions an iterator at the first key of the tree, descending the
// left spine to the leftmost leaf. An empty tree yields the end iterator.
func (t *BPlusTree[K]) Begin() (*IndexIterator[K], error) {
	t.latch.RLock()
	if t.rootPageID == page.InvalidPageID {
		t.latch.RUnlock()
		return &IndexIterator[K]{tree: t}, nil
	}

	pg, err := t.bpm.FetchPage(t.rootPageID)
	if err != nil {
		t.latch.RUnlock()
		return nil, err
	}
	for !(treePage{pg}).isLeaf() {
		node := t.internalView(pg)
		child, err := t.bpm.FetchPage(node.valueAt(0))
		if err != nil {
			t.bpm.UnpinPage(pg.ID(), false)
			t.latch.RUnlock()
			return nil, err
		}
		t.bpm.UnpinPage(pg.ID(), false)
		pg = child
	}
	return &IndexIterator[K]{tree: t, pg: pg}, nil
}

// BeginAt positions an iterator at the first key >= key. When every key is
// smaller, the end iterator results.
func (t *BPlusTree[K]) BeginAt(key K) (*IndexIterator[K], error) {
	t.latch.RLock()
	if t.rootPageID == page.InvalidPageID {
		t.latch.RUnlock()
		return &IndexIterator[K]{tree: t}, nil
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		t.latch.RUnlock()
		return nil, err
	}
	it := &IndexIterator[K]{tree: t, pg: leaf.pg, index: leaf.lowerBound(key)}
	if err := it.skipExhausted(); err != nil {
		return nil, err
	}
	return it, nil
}

// End returns the iterator every exhausted iterator converges to.
func (t *BPlusTree[K]) End() *IndexIterator[K] {
	return &IndexIterator[K]{tree: t}
}

// IsEnd reports whether the iterator has run off the last leaf.
func (it *IndexIterator[K]) IsEnd() bool { return it.pg == nil }

// Key returns the key at the current position.
func (it *IndexIterator[K]) Key() K {
	return it.tree.leafView(it.pg).keyAt(it.index)
}

// Value returns the record id at the current position.
func (it *IndexIterator[K]) Value() page.RID {
	return it.tree.leafView(it.pg).valueAt(it.index)
}

// Next advances one entry, hopping to the next leaf in the chain when the
// current one is exhausted. Advancing the end iterator fails with
// ErrIteratorDone.
func (it *IndexIterator[K]) Next() error {
	if it.pg == nil {
		return ErrIteratorDone
	}
	it.index++
	return it.skipExhausted()
}

// skipExhausted moves to the next chained leaf while the position is past
// the current leaf's last entry, releasing everything at the chain's end.
func (it *IndexIterator[K]) skipExhausted() error {
	for it.pg != nil && it.index >= it.tree.leafView(it.pg).size() {
		next := it.tree.leafView(it.pg).nextPageID()
		it.tree.bpm.UnpinPage(it.pg.ID(), false)
		if next == page.InvalidPageID {
			it.pg = nil
			it.tree.latch.RUnlock()
			break
		}
		pg, err := it.tree.bpm.FetchPage(next)
		if err != nil {
			it.pg = nil
			it.tree.latch.RUnlock()
			return err
		}
		it.pg = pg
		it.index = 0
	}
	return nil
}

// Close releases the iterator early. Closing an exhausted iterator is a
// no-op.
func (it *IndexIterator[K]) Close() {
	if it.pg == nil {
		return
	}
	it.tree.bpm.UnpinPage(it.pg.ID(), false)
	it.pg = nil
	it.tree.latch.RUnlock()
}
