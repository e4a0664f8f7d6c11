// Package raftstore adapts the segmented raft log to the hashicorp/raft
// LogStore interface.
package raftstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/raft"

	"github.com/i-melnichenko/raftlog/internal/raftlog"
)

var (
	// ErrNonContiguous is returned by StoreLogs when a batch has index gaps.
	ErrNonContiguous = errors.New("raftstore: non-contiguous log batch")

	// ErrUnsupportedRange is returned by DeleteRange for ranges that touch
	// neither end of the log.
	ErrUnsupportedRange = errors.New("raftstore: unsupported delete range")
)

var (
	_ raft.LogStore          = (*Store)(nil)
	_ raft.MonotonicLogStore = (*Store)(nil)
)

// Store is a raft.LogStore backed by a SegmentedLog.
//
// Prefix deletes prune whole segments only. Entries of a partially covered
// segment stay on disk but are hidden until the process restarts.
type Store struct {
	log *raftlog.SegmentedLog[Payload]

	// mu serializes the read-modify-write sequences of StoreLogs and DeleteRange.
	mu sync.Mutex
	// floor is the lowest index visible through the LogStore after a prefix delete.
	floor atomic.Uint64
}

// Open creates and starts the underlying log. The pruning strategy is forced
// to keep_none because raft decides what to compact.
func Open(ctx context.Context, cfg raftlog.Config, fsys raftlog.FileSystem, logger raftlog.Logger, opts ...raftlog.Option) (*Store, error) {
	cfg.PruningStrategy = "keep_none"
	l, err := raftlog.New[Payload](cfg, fsys, PayloadMarshal{}, logger, opts...)
	if err != nil {
		return nil, err
	}
	if err := l.Start(ctx); err != nil {
		return nil, err
	}
	return &Store{log: l}, nil
}

// FirstIndex returns the first visible index, or 0 for an empty log.
func (s *Store) FirstIndex() (uint64, error) {
	if err := s.log.Err(); err != nil {
		return 0, err
	}
	first, last := s.bounds()
	if first > last {
		return 0, nil
	}
	return first, nil
}

// LastIndex returns the last stored index, or 0 for an empty log.
func (s *Store) LastIndex() (uint64, error) {
	if err := s.log.Err(); err != nil {
		return 0, err
	}
	first, last := s.bounds()
	if first > last {
		return 0, nil
	}
	return last, nil
}

// GetLog reads the entry at index into out.
func (s *Store) GetLog(index uint64, out *raft.Log) error {
	if index < s.floor.Load() {
		return raft.ErrLogNotFound
	}
	e, err := s.log.ReadEntry(int64(index))
	if errors.Is(err, raftlog.ErrEntryNotFound) {
		return raft.ErrLogNotFound
	}
	if err != nil {
		return err
	}
	*out = raft.Log{
		Index:      index,
		Term:       uint64(e.Term),
		Type:       e.Content.Type,
		Data:       e.Content.Data,
		Extensions: e.Content.Extensions,
		AppendedAt: e.Content.AppendedAt,
	}
	return nil
}

// StoreLog stores a single entry.
func (s *Store) StoreLog(l *raft.Log) error {
	return s.StoreLogs([]*raft.Log{l})
}

// StoreLogs stores a contiguous batch. A batch starting inside the log
// replaces the tail from that index; a batch starting past the end skips the
// log forward first.
func (s *Store) StoreLogs(logs []*raft.Log) error {
	if len(logs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	first := logs[0]
	entries := make([]raftlog.Entry[Payload], 0, len(logs))
	for i, l := range logs {
		if l.Index != first.Index+uint64(i) {
			return fmt.Errorf("%w: index %d follows %d", ErrNonContiguous, l.Index, logs[i-1].Index)
		}
		entries = append(entries, raftlog.Entry[Payload]{Term: int64(l.Term), Content: payloadOf(l)})
	}

	next := int64(first.Index)
	appendIndex := s.log.AppendIndex()
	switch {
	case next <= appendIndex:
		if err := s.log.Truncate(ctx, next); err != nil {
			return fmt.Errorf("raftstore: replace from %d: %w", next, err)
		}
	case next > appendIndex+1:
		if _, err := s.log.Skip(ctx, next-1, int64(first.Term)); err != nil {
			return fmt.Errorf("raftstore: skip to %d: %w", next-1, err)
		}
	}
	if _, err := s.log.Append(ctx, entries...); err != nil {
		return fmt.Errorf("raftstore: store logs [%d, %d]: %w", first.Index, logs[len(logs)-1].Index, err)
	}
	if s.floor.Load() > first.Index {
		s.floor.Store(first.Index)
	}
	return nil
}

// DeleteRange deletes [lo, hi]. The range must cover the first or the last
// visible entry.
func (s *Store) DeleteRange(lo, hi uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := context.Background()
	first, last := s.bounds()
	if first > last || lo > hi {
		return nil
	}

	switch {
	case lo <= first:
		if hi+1 > s.floor.Load() {
			s.floor.Store(hi + 1)
		}
		if _, err := s.log.Prune(ctx, int64(min(hi, last))); err != nil {
			return fmt.Errorf("raftstore: delete prefix up to %d: %w", hi, err)
		}
	case hi >= last:
		if err := s.log.Truncate(ctx, int64(lo)); err != nil {
			return fmt.Errorf("raftstore: delete suffix from %d: %w", lo, err)
		}
	default:
		return fmt.Errorf("%w: [%d, %d] inside [%d, %d]", ErrUnsupportedRange, lo, hi, first, last)
	}
	return nil
}

// IsMonotonic reports that indexes are always contiguous.
func (s *Store) IsMonotonic() bool { return true }

// Status exposes the underlying log state.
func (s *Store) Status() raftlog.Status { return s.log.Status() }

// Close shuts the underlying log down.
func (s *Store) Close() error {
	return s.log.Shutdown()
}

func (s *Store) bounds() (first, last uint64) {
	first = uint64(s.log.PrevIndex()) + 1
	if f := s.floor.Load(); f > first {
		first = f
	}
	return first, uint64(s.log.AppendIndex())
}
