package bptree

import (
	"encoding/binary"

	"github.com/avikchaud45/stratadb/core/storage/page"
)

// Every index page opens with a common header, serialized little-endian:
//
//	offset 0  page type  uint32
//	offset 4  page id    int64
//	offset 12 parent id  int64
//	offset 20 size       uint32
//	offset 24 max size   uint32
//
// Leaf pages follow with the next-leaf pointer (int64) and then the slot
// array; internal pages follow directly with their slot array.
const (
	offPageType   = 0
	offPageID     = 4
	offParentID   = 12
	offSize       = 20
	offMaxSize    = 24
	treeHeaderLen = 28

	offNextPageID = treeHeaderLen
	leafHeaderLen = treeHeaderLen + 8
)

// pageType tags the kind of index page stored in a frame.
type pageType uint32

const (
	pageTypeInvalid pageType = iota
	pageTypeLeaf
	pageTypeInternal
)

// treePage is the common header view shared by leaf and internal pages.
// It reads and writes the frame's bytes in place; the caller must hold a
// pin for the view's whole lifetime.
type treePage struct {
	pg *page.Page
}

func (t treePage) pageType() pageType {
	return pageType(binary.LittleEndian.Uint32(t.pg.Data()[offPageType:]))
}

func (t treePage) setPageType(pt pageType) {
	binary.LittleEndian.PutUint32(t.pg.Data()[offPageType:], uint32(pt))
}

func (t treePage) isLeaf() bool { return t.pageType() == pageTypeLeaf }

func (t treePage) id() page.PageID {
	return page.PageID(binary.LittleEndian.Uint64(t.pg.Data()[offPageID:]))
}

func (t treePage) setID(id page.PageID) {
	binary.LittleEndian.PutUint64(t.pg.Data()[offPageID:], uint64(id))
}

func (t treePage) parentID() page.PageID {
	return page.PageID(binary.LittleEndian.Uint64(t.pg.Data()[offParentID:]))
}

func (t treePage) setParentID(id page.PageID) {
	binary.LittleEndian.PutUint64(t.pg.Data()[offParentID:], uint64(id))
}

func (t treePage) isRoot() bool { return t.parentID() == page.InvalidPageID }

func (t treePage) size() int {
	return int(binary.LittleEndian.Uint32(t.pg.Data()[offSize:]))
}

func (t treePage) setSize(n int) {
	binary.LittleEndian.PutUint32(t.pg.Data()[offSize:], uint32(n))
}

func (t treePage) maxSize() int {
	return int(binary.LittleEndian.Uint32(t.pg.Data()[offMaxSize:]))
}

func (t treePage) setMaxSize(n int) {
	binary.LittleEndian.PutUint32(t.pg.Data()[offMaxSize:], uint32(n))
}

// minSize is the occupancy floor for non-root pages: half the maximum
// rounded up, and never below 2 for internal pages, whose slot 0 carries
// only a child pointer.
func (t treePage) minSize() int {
	min := (t.maxSize() + 1) / 2
	if t.pageType() == pageTypeInternal && min < 2 {
		min = 2
	}
	return min
}
