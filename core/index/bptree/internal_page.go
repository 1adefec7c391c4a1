package bptree

import (
	"encoding/binary"

	"github.com/avikchaud45/stratadb/core/storage/page"
)

// internalPage views a frame as a B+ tree internal node: the common header
// followed by size slots of (key, child page id). The key in slot 0 is a
// placeholder with no semantic value; keys in slots 1..size-1 are
// separators, each a lower bound for the subtree behind its child pointer.
type internalPage[K any] struct {
	treePage
	codec KeyCodec[K]
	order Order[K]
}

func (n internalPage[K]) init(id, parentID page.PageID, maxSize int) {
	n.setPageType(pageTypeInternal)
	n.setID(id)
	n.setParentID(parentID)
	n.setSize(0)
	n.setMaxSize(maxSize)
}

func (n internalPage[K]) slotLen() int { return n.codec.Size + 8 }

func (n internalPage[K]) slotOffset(index int) int {
	return treeHeaderLen + index*n.slotLen()
}

func (n internalPage[K]) keyAt(index int) K {
	off := n.slotOffset(index)
	return n.codec.Decode(n.pg.Data()[off : off+n.codec.Size])
}

func (n internalPage[K]) setKeyAt(index int, key K) {
	off := n.slotOffset(index)
	n.codec.Encode(key, n.pg.Data()[off:off+n.codec.Size])
}

func (n internalPage[K]) valueAt(index int) page.PageID {
	off := n.slotOffset(index) + n.codec.Size
	return page.PageID(binary.LittleEndian.Uint64(n.pg.Data()[off:]))
}

func (n internalPage[K]) setValueAt(index int, child page.PageID) {
	off := n.slotOffset(index) + n.codec.Size
	binary.LittleEndian.PutUint64(n.pg.Data()[off:], uint64(child))
}

func (n internalPage[K]) copySlot(dstIndex int, src internalPage[K], srcIndex int) {
	dst := n.pg.Data()[n.slotOffset(dstIndex):]
	from := src.pg.Data()[src.slotOffset(srcIndex):]
	copy(dst[:n.slotLen()], from[:n.slotLen()])
}

// childIndex returns the slot to descend through for key: the last index
// whose separator is <= key, with slot 0 treated as negative infinity.
func (n internalPage[K]) childIndex(key K) int {
	lo, hi := 1, n.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.order(n.keyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

// indexOfChild returns the slot pointing at child, or -1.
func (n internalPage[K]) indexOfChild(child page.PageID) int {
	for i := 0; i < n.size(); i++ {
		if n.valueAt(i) == child {
			return i
		}
	}
	return -1
}

// insertByKey places the separator and child pointer at their sorted
// position among slots 1..size-1. The page must have spare capacity.
func (n internalPage[K]) insertByKey(key K, child page.PageID) {
	pos := 1
	for pos < n.size() && n.order(n.keyAt(pos), key) < 0 {
		pos++
	}
	for i := n.size(); i > pos; i-- {
		n.copySlot(i, n, i-1)
	}
	n.setKeyAt(pos, key)
	n.setValueAt(pos, child)
	n.setSize(n.size() + 1)
}

// insertFront shifts every slot right and installs child behind the new
// placeholder slot 0; the previous slot 0 child gets sepKey as its
// separator. Used when borrowing from a left sibling.
func (n internalPage[K]) insertFront(sepKey K, child page.PageID) {
	for i := n.size(); i > 0; i-- {
		n.copySlot(i, n, i-1)
	}
	n.setValueAt(0, child)
	n.setKeyAt(1, sepKey)
	n.setSize(n.size() + 1)
}

// append adds (key, child) after the last slot.
func (n internalPage[K]) append(key K, child page.PageID) {
	i := n.size()
	n.setKeyAt(i, key)
	n.setValueAt(i, child)
	n.setSize(i + 1)
}

// removeByIndex closes the gap at index.
func (n internalPage[K]) removeByIndex(index int) {
	for i := index; i < n.size()-1; i++ {
		n.copySlot(i, n, i+1)
	}
	n.setSize(n.size() - 1)
}
