package bptree

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/avikchaud45/stratadb/core/storage/page"
)

// The header page lives on the reserved page id 0 and acts as a small
// registry of named index roots. Layout, little-endian:
//
//	offset 0  magic    uint32
//	offset 4  version  uint32
//	offset 8  count    uint32
//	offset 12 records: index name (32 bytes, zero padded) + root id (int64)
const (
	headerMagic   uint32 = 0x57A7ADB0
	headerVersion uint32 = 1

	offHeaderMagic   = 0
	offHeaderVersion = 4
	offRecordCount   = 8
	headerRecordsOff = 12

	indexNameLen     = 32
	headerRecordLen  = indexNameLen + 8
	maxHeaderRecords = (page.PageSize - headerRecordsOff) / headerRecordLen
)

var (
	ErrBadHeaderMagic   = errors.New("header page magic mismatch")
	ErrIndexNameTooLong = errors.New("index name exceeds header record width")
	ErrHeaderFull       = errors.New("header page record directory is full")
)

// headerPage views page 0 as the index root registry. The caller must hold
// a pin.
type headerPage struct {
	pg *page.Page
}

func (h headerPage) init() {
	data := h.pg.Data()
	binary.LittleEndian.PutUint32(data[offHeaderMagic:], headerMagic)
	binary.LittleEndian.PutUint32(data[offHeaderVersion:], headerVersion)
	binary.LittleEndian.PutUint32(data[offRecordCount:], 0)
}

func (h headerPage) validate() error {
	if got := binary.LittleEndian.Uint32(h.pg.Data()[offHeaderMagic:]); got != headerMagic {
		return fmt.Errorf("%w: got 0x%x, want 0x%x", ErrBadHeaderMagic, got, headerMagic)
	}
	return nil
}

func (h headerPage) recordCount() int {
	return int(binary.LittleEndian.Uint32(h.pg.Data()[offRecordCount:]))
}

func (h headerPage) setRecordCount(n int) {
	binary.LittleEndian.PutUint32(h.pg.Data()[offRecordCount:], uint32(n))
}

func (h headerPage) recordOffset(i int) int {
	return headerRecordsOff + i*headerRecordLen
}

func (h headerPage) nameAt(i int) string {
	off := h.recordOffset(i)
	raw := h.pg.Data()[off : off+indexNameLen]
	end := 0
	for end < indexNameLen && raw[end] != 0 {
		end++
	}
	return string(raw[:end])
}

func (h headerPage) rootAt(i int) page.PageID {
	off := h.recordOffset(i) + indexNameLen
	return page.PageID(binary.LittleEndian.Uint64(h.pg.Data()[off:]))
}

func (h headerPage) setRecordAt(i int, name string, root page.PageID) {
	off := h.recordOffset(i)
	data := h.pg.Data()
	n := copy(data[off:off+indexNameLen], name)
	for j := n; j < indexNameLen; j++ {
		data[off+j] = 0
	}
	binary.LittleEndian.PutUint64(data[off+indexNameLen:], uint64(root))
}

func (h headerPage) findRecord(name string) int {
	for i := 0; i < h.recordCount(); i++ {
		if h.nameAt(i) == name {
			return i
		}
	}
	return -1
}

// insertRecord registers a new index. It fails when the name is already
// registered, too long, or the directory is full.
func (h headerPage) insertRecord(name string, root page.PageID) error {
	if len(name) > indexNameLen {
		return fmt.Errorf("%w: %q", ErrIndexNameTooLong, name)
	}
	if h.findRecord(name) >= 0 {
		return fmt.Errorf("index %q already registered", name)
	}
	count := h.recordCount()
	if count >= maxHeaderRecords {
		return ErrHeaderFull
	}
	h.setRecordAt(count, name, root)
	h.setRecordCount(count + 1)
	return nil
}

// updateRecord overwrites the root id of a registered index.
func (h headerPage) updateRecord(name string, root page.PageID) error {
	i := h.findRecord(name)
	if i < 0 {
		return fmt.Errorf("index %q not registered", name)
	}
	off := h.recordOffset(i) + indexNameLen
	binary.LittleEndian.PutUint64(h.pg.Data()[off:], uint64(root))
	return nil
}

// deleteRecord unregisters an index, reporting whether it was present.
func (h headerPage) deleteRecord(name string) bool {
	i := h.findRecord(name)
	if i < 0 {
		return false
	}
	last := h.recordCount() - 1
	for j := i; j < last; j++ {
		h.setRecordAt(j, h.nameAt(j+1), h.rootAt(j+1))
	}
	h.setRecordCount(last)
	return true
}

// rootID looks up the root page id registered for name.
func (h headerPage) rootID(name string) (page.PageID, bool) {
	i := h.findRecord(name)
	if i < 0 {
		return page.InvalidPageID, false
	}
	return h.rootAt(i), true
}
