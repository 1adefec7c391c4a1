package bptree

import (
	"encoding/binary"

	"github.com/avikchaud45/stratadb/core/storage/page"
)

const ridLen = 12 // page id (8) + slot number (4)

// leafPage views a frame as a B+ tree leaf: the common header, the
// next-leaf pointer, and size slots of (key, RID) in strictly ascending
// key order.
type leafPage[K any] struct {
	treePage
	codec KeyCodec[K]
	order Order[K]
}

func (l leafPage[K]) init(id, parentID page.PageID, maxSize int) {
	l.setPageType(pageTypeLeaf)
	l.setID(id)
	l.setParentID(parentID)
	l.setSize(0)
	l.setMaxSize(maxSize)
	l.setNextPageID(page.InvalidPageID)
}

func (l leafPage[K]) nextPageID() page.PageID {
	return page.PageID(binary.LittleEndian.Uint64(l.pg.Data()[offNextPageID:]))
}

func (l leafPage[K]) setNextPageID(id page.PageID) {
	binary.LittleEndian.PutUint64(l.pg.Data()[offNextPageID:], uint64(id))
}

func (l leafPage[K]) slotLen() int { return l.codec.Size + ridLen }

func (l leafPage[K]) slotOffset(index int) int {
	return leafHeaderLen + index*l.slotLen()
}

func (l leafPage[K]) keyAt(index int) K {
	off := l.slotOffset(index)
	return l.codec.Decode(l.pg.Data()[off : off+l.codec.Size])
}

func (l leafPage[K]) setKeyAt(index int, key K) {
	off := l.slotOffset(index)
	l.codec.Encode(key, l.pg.Data()[off:off+l.codec.Size])
}

func (l leafPage[K]) valueAt(index int) page.RID {
	off := l.slotOffset(index) + l.codec.Size
	data := l.pg.Data()
	return page.RID{
		PageID:  page.PageID(binary.LittleEndian.Uint64(data[off:])),
		SlotNum: binary.LittleEndian.Uint32(data[off+8:]),
	}
}

func (l leafPage[K]) setValueAt(index int, rid page.RID) {
	off := l.slotOffset(index) + l.codec.Size
	data := l.pg.Data()
	binary.LittleEndian.PutUint64(data[off:], uint64(rid.PageID))
	binary.LittleEndian.PutUint32(data[off+8:], rid.SlotNum)
}

// copySlot moves one whole slot within or across leaf pages of identical
// geometry.
func (l leafPage[K]) copySlot(dstIndex int, src leafPage[K], srcIndex int) {
	dst := l.pg.Data()[l.slotOffset(dstIndex):]
	from := src.pg.Data()[src.slotOffset(srcIndex):]
	copy(dst[:l.slotLen()], from[:l.slotLen()])
}

// lowerBound returns the first index whose key is >= key, or size when
// every key is smaller.
func (l leafPage[K]) lowerBound(key K) int {
	lo, hi := 0, l.size()
	for lo < hi {
		mid := (lo + hi) / 2
		if l.order(l.keyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// indexOfKey returns the slot holding key, or -1.
func (l leafPage[K]) indexOfKey(key K) int {
	i := l.lowerBound(key)
	if i < l.size() && l.order(l.keyAt(i), key) == 0 {
		return i
	}
	return -1
}

// insertByKey places (key, rid) at its sorted position. It reports false
// on a duplicate key and leaves the page unchanged.
func (l leafPage[K]) insertByKey(key K, rid page.RID) bool {
	pos := l.lowerBound(key)
	if pos < l.size() && l.order(l.keyAt(pos), key) == 0 {
		return false
	}
	for i := l.size(); i > pos; i-- {
		l.copySlot(i, l, i-1)
	}
	l.setKeyAt(pos, key)
	l.setValueAt(pos, rid)
	l.setSize(l.size() + 1)
	return true
}

// removeByIndex closes the gap at index.
func (l leafPage[K]) removeByIndex(index int) {
	for i := index; i < l.size()-1; i++ {
		l.copySlot(i, l, i+1)
	}
	l.setSize(l.size() - 1)
}

// removeByKey deletes key's slot, reporting whether it was present.
func (l leafPage[K]) removeByKey(key K) bool {
	i := l.indexOfKey(key)
	if i < 0 {
		return false
	}
	l.removeByIndex(i)
	return true
}

// moveHalfTo shifts the upper half of l's entries into the fresh sibling
// and splices the sibling into the leaf chain after l.
func (l leafPage[K]) moveHalfTo(sibling leafPage[K]) {
	initial := l.size()
	for i, j := l.minSize(), 0; i < initial; i, j = i+1, j+1 {
		sibling.copySlot(j, l, i)
		sibling.setSize(sibling.size() + 1)
		l.setSize(l.size() - 1)
	}
	sibling.setNextPageID(l.nextPageID())
	l.setNextPageID(sibling.id())
}

// moveAllTo appends every entry of l to des and carries over l's next
// pointer. Used when merging a right leaf into its left sibling.
func (l leafPage[K]) moveAllTo(des leafPage[K]) {
	for i, j := 0, des.size(); i < l.size(); i, j = i+1, j+1 {
		des.copySlot(j, l, i)
		des.setSize(des.size() + 1)
	}
	l.setSize(0)
	des.setNextPageID(l.nextPageID())
}
