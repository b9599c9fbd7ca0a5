package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
)

// errCorrupted marks a record whose checksum does not match — a crash
// mid-write. Only the trailing record can be affected; the log is truncated
// back to the last valid record on open.
var errCorrupted = errors.New("journal: record corrupted")

// Log is the append-only file holding every journal record.
// Each record is a length-prefixed, checksummed entry:
//
//	[textLen  : 4 bytes, uint32, big-endian]
//	[text     : textLen bytes]
//	[checksum : 4 bytes, uint32, CRC32 of text]
//
// Records are never rewritten or deleted; read order equals append order.
type Log struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// OpenLog opens (or creates) the log file at path and truncates any torn
// trailing record left by a crash mid-write.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	l := &Log{file: f, path: path}
	if err := l.truncateTorn(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("journal: recover %s: %w", path, err)
	}
	return l, nil
}

// Append writes one record and flushes it to disk.
func (l *Log) Append(text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := make([]byte, 4+len(text)+4)
	binary.BigEndian.PutUint32(buf[0:], uint32(len(text)))
	copy(buf[4:], text)
	binary.BigEndian.PutUint32(buf[4+len(text):], crc32.ChecksumIEEE([]byte(text)))

	if _, err := l.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("journal: seek end: %w", err)
	}
	if _, err := l.file.Write(buf); err != nil {
		return fmt.Errorf("journal: write record: %w", err)
	}
	return l.file.Sync()
}

// ReadAll returns every record in append order.
func (l *Log) ReadAll() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		records []string
		offset  int64
	)
	for {
		text, next, err := l.readAt(offset)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, errCorrupted) {
				return records, nil
			}
			return nil, err
		}
		records = append(records, text)
		offset = next
	}
}

// Path returns the filesystem path of the log file.
func (l *Log) Path() string { return l.path }

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// readAt decodes the record at offset and returns it together with the offset
// of the next record. Returns io.EOF at the clean end of the log.
func (l *Log) readAt(offset int64) (string, int64, error) {
	var lenBuf [4]byte
	if _, err := l.file.ReadAt(lenBuf[:], offset); err != nil {
		if errors.Is(err, io.EOF) {
			return "", 0, io.EOF
		}
		return "", 0, fmt.Errorf("journal: read length at %d: %w", offset, err)
	}
	textLen := binary.BigEndian.Uint32(lenBuf[:])

	buf := make([]byte, int(textLen)+4)
	if _, err := l.file.ReadAt(buf, offset+4); err != nil {
		// Short record: a crash interrupted the write.
		return "", 0, errCorrupted
	}

	text := buf[:textLen]
	sum := binary.BigEndian.Uint32(buf[textLen:])
	if crc32.ChecksumIEEE(text) != sum {
		return "", 0, errCorrupted
	}
	return string(text), offset + 4 + int64(textLen) + 4, nil
}

// truncateTorn scans forward from the start and truncates the file at the
// first torn or corrupt record.
func (l *Log) truncateTorn() error {
	var offset int64
	for {
		_, next, err := l.readAt(offset)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, errCorrupted) {
				return l.file.Truncate(offset)
			}
			return err
		}
		offset = next
	}
}
