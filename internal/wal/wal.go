// Package wal provides the mutation journal: an append-only, segmented log
// of document writes replayed on startup to rebuild the in-memory store.
package wal

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"go.uber.org/zap"

	"github.com/arkilian/docrune/pkg/types"
)

// Op names a journaled mutation.
type Op string

const (
	OpInsert  Op = "insert"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
)

// Mutation is one document write. Document is empty for deletes.
type Mutation struct {
	Op           Op             `json:"op"`
	PartitionKey types.Value    `json:"pk"`
	ID           string         `json:"id"`
	Document     types.Document `json:"doc,omitempty"`
}

// Entry is a journaled mutation with its log sequence number.
type Entry struct {
	LSN       uint64 `json:"lsn"`
	Timestamp int64  `json:"ts"`
	Mutation
}

const (
	frameHeaderSize       = 8
	defaultMaxSegmentSize = 64 * 1024 * 1024
)

// Options configures a WAL.
type Options struct {
	Dir            string
	MaxSegmentSize int64
	// SyncEveryWrite fsyncs each append; otherwise RunSyncer flushes periodically.
	SyncEveryWrite bool
	Logger         *zap.Logger
}

// WAL is the segmented journal. Frames are [length:4][crc32:4][payload]
// where the payload is snappy-compressed JSON.
type WAL struct {
	opts   Options
	logger *zap.Logger

	mu         sync.Mutex
	segment    *os.File
	segmentID  uint64
	offset     int64
	currentLSN uint64
	dirty      bool
}

// Open opens (or creates) the journal in opts.Dir and positions it after
// the last valid entry.
func Open(opts Options) (*WAL, error) {
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = defaultMaxSegmentSize
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("wal: failed to create directory: %w", err)
	}

	w := &WAL{opts: opts, logger: opts.Logger}

	segments, err := listSegments(opts.Dir)
	if err != nil {
		return nil, err
	}
	if n := len(segments); n > 0 {
		last := segments[n-1]
		w.segmentID = last.id
		entries, validEnd, err := readSegment(last.path, w.logger)
		if err != nil {
			return nil, err
		}
		// Drop a torn tail so new frames start on a frame boundary.
		if err := truncateTo(last.path, validEnd); err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			w.currentLSN = entries[len(entries)-1].LSN
		} else if n > 1 {
			// An empty tail segment after a rotation: take the LSN from the one before.
			prev, err := ReadEntries(segments[n-2].path, w.logger)
			if err != nil {
				return nil, err
			}
			if len(prev) > 0 {
				w.currentLSN = prev[len(prev)-1].LSN
			}
		}
	}

	if err := w.openSegment(); err != nil {
		return nil, err
	}
	return w, nil
}

func segmentName(id uint64) string {
	return fmt.Sprintf("wal_%016x.log", id)
}

func (w *WAL) openSegment() error {
	path := filepath.Join(w.opts.Dir, segmentName(w.segmentID))
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("wal: failed to open segment file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("wal: failed to seek segment: %w", err)
	}
	w.segment = file
	w.offset = offset
	return nil
}

// Append journals m and returns its LSN. The entry is durable on return
// when SyncEveryWrite is set.
func (w *WAL) Append(ctx context.Context, m Mutation) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment == nil {
		return 0, fmt.Errorf("wal: closed")
	}

	entry := Entry{LSN: w.currentLSN + 1, Timestamp: time.Now().UnixNano(), Mutation: m}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return 0, fmt.Errorf("wal: failed to serialize entry: %w", err)
	}
	payload := snappy.Encode(nil, raw)

	frame := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[frameHeaderSize:], payload)

	if _, err := w.segment.Write(frame); err != nil {
		return 0, fmt.Errorf("wal: failed to write entry: %w", err)
	}
	w.currentLSN = entry.LSN
	w.offset += int64(len(frame))
	w.dirty = true

	if w.opts.SyncEveryWrite {
		if err := w.syncLocked(); err != nil {
			return 0, err
		}
	}
	if w.offset >= w.opts.MaxSegmentSize {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
	}
	return entry.LSN, nil
}

func (w *WAL) syncLocked() error {
	if !w.dirty || w.segment == nil {
		return nil
	}
	if err := w.segment.Sync(); err != nil {
		return fmt.Errorf("wal: failed to fsync: %w", err)
	}
	w.dirty = false
	return nil
}

// Sync flushes buffered appends to disk.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

// RunSyncer fsyncs every interval until ctx is done.
func (w *WAL) RunSyncer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Sync(); err != nil {
				w.logger.Warn("wal sync failed", zap.Error(err))
			}
		}
	}
}

// Rotate closes the current segment and starts a new one.
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked()
}

func (w *WAL) rotateLocked() error {
	if w.segment != nil {
		if err := w.syncLocked(); err != nil {
			return err
		}
		if err := w.segment.Close(); err != nil {
			return fmt.Errorf("wal: failed to close segment: %w", err)
		}
	}
	w.segmentID++
	return w.openSegment()
}

// CurrentLSN returns the LSN of the last appended entry.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// Dir returns the journal directory.
func (w *WAL) Dir() string { return w.opts.Dir }

// Close fsyncs and closes the current segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment == nil {
		return nil
	}
	if err := w.syncLocked(); err != nil {
		return err
	}
	if err := w.segment.Close(); err != nil {
		return fmt.Errorf("wal: failed to close segment: %w", err)
	}
	w.segment = nil
	return nil
}

// ReadEntries reads every valid entry of one segment. A truncated final
// frame ends the segment; frames failing their CRC are skipped.
func ReadEntries(segmentPath string, logger *zap.Logger) ([]*Entry, error) {
	entries, _, err := readSegment(segmentPath, logger)
	return entries, err
}

func truncateTo(path string, size int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("wal: failed to stat segment: %w", err)
	}
	if info.Size() <= size {
		return nil
	}
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("wal: failed to truncate torn tail: %w", err)
	}
	return nil
}

func readSegment(segmentPath string, logger *zap.Logger) ([]*Entry, int64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	file, err := os.Open(segmentPath)
	if err != nil {
		return nil, 0, fmt.Errorf("wal: failed to open segment: %w", err)
	}
	defer file.Close()

	var (
		entries []*Entry
		header  [frameHeaderSize]byte
		offset  int64
	)
	for {
		if _, err := io.ReadFull(file, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, fmt.Errorf("wal: failed to read frame header: %w", err)
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		crc := binary.LittleEndian.Uint32(header[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(file, payload); err != nil {
			logger.Warn("wal: truncated frame, stopping", zap.String("segment", segmentPath), zap.Int64("offset", offset))
			break
		}
		frameStart := offset
		offset += int64(frameHeaderSize) + int64(length)

		if crc32.ChecksumIEEE(payload) != crc {
			logger.Warn("wal: CRC mismatch, skipping entry", zap.String("segment", segmentPath), zap.Int64("offset", frameStart))
			continue
		}
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			logger.Warn("wal: undecodable payload, skipping entry", zap.String("segment", segmentPath), zap.Error(err))
			continue
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			logger.Warn("wal: malformed entry, skipping", zap.String("segment", segmentPath), zap.Error(err))
			continue
		}
		entries = append(entries, &entry)
	}
	return entries, offset, nil
}
