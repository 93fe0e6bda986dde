package spool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Spool file format constants
var (
	Magic   = []byte{'A', 'R', 'C', 'S'} // Magic bytes
	Version = uint16(0x0001)             // Version 1
)

const (
	ChecksumCRC32 = 0x01 // CRC32 checksum type

	// Entry format: [Length: 4 bytes] [Timestamp: 8 bytes] [Checksum: 4 bytes] [Envelope: N bytes]
	// Envelope format: [Kind: 1 byte] [DBLen: 2 bytes] [Database] [Payload]
	entryHeaderSize = 16
	fileHeaderSize  = 7 // Magic(4) + Version(2) + ChecksumType(1)

	// MaxPayloadSize bounds a single spooled payload. The limit prevents
	// integer overflow during buffer allocation and matches the server's
	// request size ceiling.
	MaxPayloadSize = 100 * 1024 * 1024 // 100MB

	fileSuffix = ".arc"
)

// Kind identifies which write endpoint a spooled payload belongs to
type Kind byte

const (
	KindMsgpack Kind = 0x01 // Binary columnar/row payload
	KindLine    Kind = 0x02 // Line protocol text
)

// SyncMode defines how the spool syncs to disk
type SyncMode string

const (
	SyncModeFsync     SyncMode = "fsync"     // Full sync: data + metadata (safest)
	SyncModeFdatasync SyncMode = "fdatasync" // Data sync only (balanced, default)
	SyncModeAsync     SyncMode = "async"     // No explicit sync (fastest, least safe)
)

var (
	// ErrFull indicates the spool directory reached its size cap
	ErrFull = errors.New("spool: directory size cap reached")

	// ErrPayloadTooLarge indicates the payload exceeds MaxPayloadSize
	ErrPayloadTooLarge = errors.New("spool: payload exceeds maximum allowed size")

	// ErrClosed indicates the spool was already closed
	ErrClosed = errors.New("spool: closed")
)

// Config holds spool configuration
type Config struct {
	Dir          string        // Directory for spool files
	SyncMode     SyncMode      // Sync mode: fsync, fdatasync, async
	MaxFileBytes int64         // Seal the active file when it reaches this size (default: 16MB)
	MaxBytes     int64         // Stop accepting payloads when the directory reaches this size (default: 100MB)
	Logger       zerolog.Logger
}

// Entry is a spooled write payload read back for replay
type Entry struct {
	Kind     Kind
	Database string
	Time     time.Time
	Payload  []byte
}

// Spool persists failed write payloads to disk so they can be replayed once
// the server is reachable again. Entries survive process restarts: Open picks
// up files left by a previous run.
type Spool struct {
	config Config
	logger zerolog.Logger

	mu         sync.Mutex
	activeFile *os.File
	activePath string
	activeSize int64
	dirSize    int64
	closed     bool
	replaying  bool

	// Metrics
	totalAppended int64
	totalReplayed int64
	totalDropped  int64
	corrupted     int64
}

// Open creates or reopens a spool in dir. Files from previous runs count
// toward the size cap and become replay candidates.
func Open(cfg Config) (*Spool, error) {
	if cfg.SyncMode == "" {
		cfg.SyncMode = SyncModeFdatasync
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = 16 * 1024 * 1024
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 100 * 1024 * 1024
	}

	// Owner-only permissions: spooled payloads may contain sensitive data
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	s := &Spool{
		config: cfg,
		logger: cfg.Logger.With().Str("component", "spool").Logger(),
	}

	size, count, err := s.scanDir()
	if err != nil {
		return nil, err
	}
	s.dirSize = size

	s.logger.Info().
		Str("dir", cfg.Dir).
		Str("sync_mode", string(cfg.SyncMode)).
		Int("pending_files", count).
		Int64("pending_bytes", size).
		Msg("Spool opened")

	return s, nil
}

// scanDir totals existing spool files
func (s *Spool) scanDir() (int64, int, error) {
	files, err := s.listFiles()
	if err != nil {
		return 0, 0, err
	}
	var size int64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		size += info.Size()
	}
	return size, len(files), nil
}

// listFiles returns spool files sorted oldest first. Names lead with the
// creation time, so lexicographic order is chronological.
func (s *Spool) listFiles() ([]string, error) {
	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(s.config.Dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Append spools one payload. The write is synchronous: when Append returns
// nil the entry is on disk (per the configured sync mode).
func (s *Spool) Append(kind Kind, database string, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	envelope := make([]byte, 3+len(database)+len(payload))
	envelope[0] = byte(kind)
	binary.BigEndian.PutUint16(envelope[1:3], uint16(len(database)))
	copy(envelope[3:], database)
	copy(envelope[3+len(database):], payload)

	entry := make([]byte, entryHeaderSize+len(envelope))
	binary.BigEndian.PutUint32(entry[0:4], uint32(len(envelope)))
	binary.BigEndian.PutUint64(entry[4:12], uint64(time.Now().UnixMicro()))
	binary.BigEndian.PutUint32(entry[12:16], crc32.ChecksumIEEE(envelope))
	copy(entry[entryHeaderSize:], envelope)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.dirSize+int64(len(entry)) > s.config.MaxBytes {
		s.totalDropped++
		return fmt.Errorf("%w: %d bytes pending", ErrFull, s.dirSize)
	}

	if s.activeFile == nil {
		if err := s.openActive(); err != nil {
			return err
		}
	}

	n, err := s.activeFile.Write(entry)
	if err != nil {
		return fmt.Errorf("failed to write spool entry: %w", err)
	}
	s.activeSize += int64(n)
	s.dirSize += int64(n)
	s.totalAppended++

	s.sync()

	if s.activeSize >= s.config.MaxFileBytes {
		s.sealActive()
	}
	return nil
}

// openActive creates a fresh active file with the format header. Replay sorts
// files by name, so names lead with a UTC timestamp.
func (s *Spool) openActive() error {
	stamp := time.Now().UTC().Format("20060102-150405")
	name := fmt.Sprintf("spool-%s-%s%s", stamp, uuid.New().String()[:8], fileSuffix)
	path := filepath.Join(s.config.Dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create spool file: %w", err)
	}

	header := make([]byte, fileHeaderSize)
	copy(header[0:4], Magic)
	binary.BigEndian.PutUint16(header[4:6], Version)
	header[6] = ChecksumCRC32

	n, err := f.Write(header)
	if err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to write spool header: %w", err)
	}

	s.activeFile = f
	s.activePath = path
	s.activeSize = int64(n)
	s.dirSize += int64(n)
	return nil
}

// sealActive closes the active file, making it a replay candidate
func (s *Spool) sealActive() {
	if s.activeFile == nil {
		return
	}
	s.sync()
	s.activeFile.Close()
	s.activeFile = nil
	s.activePath = ""
	s.activeSize = 0
}

// sync flushes the active file per the configured sync mode
func (s *Spool) sync() {
	if s.activeFile == nil {
		return
	}
	switch s.config.SyncMode {
	case SyncModeFsync, SyncModeFdatasync:
		// Data sync only on systems without fdatasync
		s.activeFile.Sync()
	case SyncModeAsync:
		// Rely on OS buffer cache
	}
}

// Pending returns the number of bytes waiting for replay
func (s *Spool) Pending() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirSize
}

// Close seals the active file and stops accepting payloads
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.sealActive()

	s.logger.Info().
		Int64("appended", s.totalAppended).
		Int64("pending_bytes", s.dirSize).
		Msg("Spool closed")
	return nil
}

// Stats returns spool statistics
func (s *Spool) Stats() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]interface{}{
		"dir":            s.config.Dir,
		"pending_bytes":  s.dirSize,
		"sync_mode":      string(s.config.SyncMode),
		"total_appended": s.totalAppended,
		"total_replayed": s.totalReplayed,
		"total_dropped":  s.totalDropped,
		"corrupted":      s.corrupted,
	}
}
