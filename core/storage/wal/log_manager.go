// Package wal implements the write-ahead log consumed by the buffer pool:
// an append-only file of binary log records with monotonically increasing
// log sequence numbers. The buffer pool syncs the log before writing any
// page stamped with an LSN; replaying records after a crash is out of scope.
package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avikchaud45/stratadb/core/storage/page"
	"github.com/avikchaud45/stratadb/pkg/logger"
)

// --- Error Definitions ---

var (
	ErrLogClosed         = errors.New("log manager is closed")
	ErrLogRecordTooLarge = errors.New("log record too large for log buffer")
	ErrLogCorrupt        = errors.New("log record checksum mismatch")
)

// LSN is a log sequence number, 1-based and monotonically increasing.
type LSN = page.LSN

// InvalidLSN marks the absence of a log record.
const InvalidLSN = page.InvalidLSN

// RecordType defines the kind of operation a log record describes.
type RecordType byte

const (
	RecordTypeUpdate   RecordType = iota + 1 // page content changed
	RecordTypeNewPage                        // page allocated
	RecordTypeFreePage                       // page deallocated
	RecordTypeRootChange
)

// Record is a single entry in the write-ahead log.
type Record struct {
	LSN     LSN
	PrevLSN LSN
	Type    RecordType
	PageID  page.PageID
	Data    []byte
}

const recordHeaderSize = 8 + 8 + 1 + 8 + 4 // lsn, prevLSN, type, pageID, dataLen

// encode serializes the record with a leading length word and a trailing
// CRC32 so a torn tail can be detected on replay.
func (r *Record) encode() []byte {
	body := make([]byte, recordHeaderSize+len(r.Data))
	binary.LittleEndian.PutUint64(body[0:], uint64(r.LSN))
	binary.LittleEndian.PutUint64(body[8:], uint64(r.PrevLSN))
	body[16] = byte(r.Type)
	binary.LittleEndian.PutUint64(body[17:], uint64(r.PageID))
	binary.LittleEndian.PutUint32(body[25:], uint32(len(r.Data)))
	copy(body[recordHeaderSize:], r.Data)

	out := make([]byte, 4+len(body)+4)
	binary.LittleEndian.PutUint32(out[0:], uint32(len(body)))
	copy(out[4:], body)
	binary.LittleEndian.PutUint32(out[4+len(body):], crc32.ChecksumIEEE(body))
	return out
}

// DecodeRecord parses one framed record. It returns the record and the
// total number of bytes consumed.
func DecodeRecord(buf []byte) (*Record, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("%w: truncated length word", ErrLogCorrupt)
	}
	bodyLen := int(binary.LittleEndian.Uint32(buf[0:]))
	if len(buf) < 4+bodyLen+4 {
		return nil, 0, fmt.Errorf("%w: truncated body", ErrLogCorrupt)
	}
	body := buf[4 : 4+bodyLen]
	stored := binary.LittleEndian.Uint32(buf[4+bodyLen:])
	if crc32.ChecksumIEEE(body) != stored {
		return nil, 0, ErrLogCorrupt
	}
	if bodyLen < recordHeaderSize {
		return nil, 0, fmt.Errorf("%w: body shorter than header", ErrLogCorrupt)
	}
	r := &Record{
		LSN:     LSN(binary.LittleEndian.Uint64(body[0:])),
		PrevLSN: LSN(binary.LittleEndian.Uint64(body[8:])),
		Type:    RecordType(body[16]),
		PageID:  page.PageID(binary.LittleEndian.Uint64(body[17:])),
	}
	dataLen := int(binary.LittleEndian.Uint32(body[25:]))
	if recordHeaderSize+dataLen != bodyLen {
		return nil, 0, fmt.Errorf("%w: data length mismatch", ErrLogCorrupt)
	}
	r.Data = append([]byte(nil), body[recordHeaderSize:recordHeaderSize+dataLen]...)
	return r, 4 + bodyLen + 4, nil
}

// LogManager buffers log records in memory and appends them to a single
// log file. There is no background flusher: the buffer drains when it
// fills, on Sync, and on Close.
type LogManager struct {
	logPath    string
	instanceID uuid.UUID
	file       *os.File
	buffer     *bytes.Buffer
	bufferSize int
	nextLSN    LSN
	flushedLSN LSN
	mu         sync.Mutex
	logger     *zap.Logger
}

// NewLogManager creates a LogManager writing to wal.log inside logDir.
// log may be nil.
func NewLogManager(logDir string, bufferSize int, log *zap.Logger) (*LogManager, error) {
	log = logger.Component(log, "wal")
	if bufferSize <= 0 {
		return nil, fmt.Errorf("log buffer size must be positive, got %d", bufferSize)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
	}
	logPath := filepath.Join(logDir, "wal.log")
	file, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}
	lm := &LogManager{
		logPath:    logPath,
		instanceID: uuid.New(),
		file:       file,
		buffer:     bytes.NewBuffer(make([]byte, 0, bufferSize)),
		bufferSize: bufferSize,
		nextLSN:    1,
		logger:     log,
	}
	lm.logger.Info("log manager initialized",
		zap.String("path", logPath),
		zap.String("instance_id", lm.instanceID.String()),
		zap.String("buffer_size", humanize.IBytes(uint64(bufferSize))))
	return lm, nil
}

// InstanceID returns the identity minted for this log manager instance.
func (lm *LogManager) InstanceID() uuid.UUID { return lm.instanceID }

// Append assigns the record an LSN and stages it in the log buffer. The
// record is durable only after a later Sync (or an implicit flush).
func (lm *LogManager) Append(record *Record) (LSN, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.file == nil {
		return InvalidLSN, ErrLogClosed
	}

	record.LSN = lm.nextLSN
	encoded := record.encode()
	if len(encoded) > lm.bufferSize {
		return InvalidLSN, fmt.Errorf("%w: %d bytes, buffer is %d", ErrLogRecordTooLarge, len(encoded), lm.bufferSize)
	}
	if lm.buffer.Len()+len(encoded) > lm.bufferSize {
		if err := lm.flushLocked(); err != nil {
			return InvalidLSN, err
		}
	}
	lm.buffer.Write(encoded)
	lm.nextLSN++
	return record.LSN, nil
}

// Sync drains the buffer to the log file and fsyncs it. On return every
// previously appended record is durable.
func (lm *LogManager) Sync() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.file == nil {
		return ErrLogClosed
	}
	if err := lm.flushLocked(); err != nil {
		return err
	}
	return lm.file.Sync()
}

// flushLocked writes the buffered records without fsync. Callers must hold
// lm.mu.
func (lm *LogManager) flushLocked() error {
	if lm.buffer.Len() == 0 {
		return nil
	}
	if _, err := lm.file.Write(lm.buffer.Bytes()); err != nil {
		return fmt.Errorf("failed to write log buffer: %w", err)
	}
	lm.buffer.Reset()
	lm.flushedLSN = lm.nextLSN - 1
	return nil
}

// FlushedLSN returns the highest LSN known to have reached the file.
func (lm *LogManager) FlushedLSN() LSN {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.flushedLSN
}

// Close syncs outstanding records and closes the log file.
func (lm *LogManager) Close() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.file == nil {
		return nil
	}
	if err := lm.flushLocked(); err != nil {
		return err
	}
	if err := lm.file.Sync(); err != nil {
		lm.logger.Error("sync on close failed", zap.Error(err))
	}
	closeErr := lm.file.Close()
	lm.file = nil
	return closeErr
}
