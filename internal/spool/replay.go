package spool

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"
)

// Replay feeds pending entries oldest-first to fn, removing each file once
// every entry in it has replayed. fn returning an error ends the pass and
// keeps the current file for the next attempt, so delivery is at least once.
// Concurrent calls are collapsed: a pass already in flight makes Replay
// return immediately.
func (s *Spool) Replay(fn func(Entry) error) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if s.replaying {
		s.mu.Unlock()
		return 0, nil
	}
	s.replaying = true
	if s.activeSize > fileHeaderSize {
		s.sealActive()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.replaying = false
		s.mu.Unlock()
	}()

	files, err := s.listFiles()
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, path := range files {
		if s.isActive(path) {
			continue
		}

		entries, corrupted, err := readFile(path)
		if corrupted > 0 {
			s.logger.Warn().
				Str("file", path).
				Int("corrupted", corrupted).
				Msg("Skipping corrupt spool tail")
		}
		if err != nil {
			// Unreadable framing: the file can never replay, drop it
			s.logger.Error().Err(err).Str("file", path).Msg("Removing unreadable spool file")
			s.removeFile(path, 0)
			s.addCorrupted(corrupted + 1)
			continue
		}

		for i, e := range entries {
			if ferr := fn(e); ferr != nil {
				// File stays; its corrupt tail is counted when it finally drains
				return replayed, fmt.Errorf("replay stopped at entry %d of %s: %w", i, path, ferr)
			}
			replayed++
		}

		s.removeFile(path, len(entries))
		s.addCorrupted(corrupted)
	}

	return replayed, nil
}

func (s *Spool) isActive(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return path == s.activePath
}

func (s *Spool) removeFile(path string, entries int) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		s.logger.Error().Err(err).Str("file", path).Msg("Failed to remove replayed spool file")
		return
	}

	s.mu.Lock()
	s.dirSize -= info.Size()
	if s.dirSize < 0 {
		s.dirSize = 0
	}
	s.totalReplayed += int64(entries)
	s.mu.Unlock()
}

func (s *Spool) addCorrupted(n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.corrupted += int64(n)
	s.mu.Unlock()
}

// readFile parses one spool file. A corrupt entry ends the read early:
// anything after a bad length or checksum is a crash tail.
func readFile(path string) ([]Entry, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open spool file: %w", err)
	}
	defer f.Close()

	header := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, 0, fmt.Errorf("spool file too short: %w", err)
	}
	if !bytes.Equal(header[0:4], Magic) {
		return nil, 0, fmt.Errorf("invalid spool magic bytes")
	}
	if v := binary.BigEndian.Uint16(header[4:6]); v != Version {
		return nil, 0, fmt.Errorf("unsupported spool version %d", v)
	}

	var entries []Entry
	for {
		entry, ok, err := readEntry(f)
		if err == io.EOF {
			return entries, 0, nil
		}
		if err != nil || !ok {
			// Crash tail: keep what parsed cleanly
			return entries, 1, nil
		}
		entries = append(entries, entry)
	}
}

// readEntry reads one framed entry. ok is false when the frame or envelope
// is malformed.
func readEntry(f *os.File) (Entry, bool, error) {
	header := make([]byte, entryHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		if err == io.EOF {
			return Entry{}, false, io.EOF
		}
		return Entry{}, false, err
	}

	envelopeLen := binary.BigEndian.Uint32(header[0:4])
	timestampUS := binary.BigEndian.Uint64(header[4:12])
	expectedChecksum := binary.BigEndian.Uint32(header[12:16])

	if envelopeLen < 3 || envelopeLen > MaxPayloadSize+3+65535 {
		return Entry{}, false, nil
	}

	envelope := make([]byte, envelopeLen)
	if _, err := io.ReadFull(f, envelope); err != nil {
		return Entry{}, false, err
	}

	if crc32.ChecksumIEEE(envelope) != expectedChecksum {
		return Entry{}, false, nil
	}

	kind := Kind(envelope[0])
	if kind != KindMsgpack && kind != KindLine {
		return Entry{}, false, nil
	}
	dbLen := int(binary.BigEndian.Uint16(envelope[1:3]))
	if 3+dbLen > len(envelope) {
		return Entry{}, false, nil
	}

	return Entry{
		Kind:     kind,
		Database: string(envelope[3 : 3+dbLen]),
		Time:     time.UnixMicro(int64(timestampUS)).UTC(),
		Payload:  envelope[3+dbLen:],
	}, true, nil
}
