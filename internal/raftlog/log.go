// Package raftlog is a segmented, append-only log for Raft entries.
//
// Entries are stored in numbered segment files inside one directory. The log
// rotates to a new segment once the current one reaches a size threshold,
// truncates uncommitted tails in place, skips ahead after a snapshot install,
// and deletes whole segments that a pruning strategy marks obsolete.
// Start runs crash recovery before anything else is allowed.
//
// A write failure poisons the log: every later call returns ErrRequiresRecovery
// until the process restarts and recovery runs again.
package raftlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/i-melnichenko/raftlog/internal/raftlog"

// Logger is the logging sink used by the log. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config configures a SegmentedLog.
type Config struct {
	// Name labels logs, metrics and spans.
	Name string
	// Directory holds the segment files. It is created on Start if missing.
	Directory string
	// RotateAtSize is the segment size in bytes that triggers rotation after an append.
	RotateAtSize int64
	// EntryCacheSize is the number of entries kept in memory; 0 disables the cache.
	EntryCacheSize int
	// PruningStrategy is a descriptor accepted by ParsePruningStrategy.
	PruningStrategy string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Name:            "raft",
		Directory:       "data/raft-log",
		RotateAtSize:    64 << 20,
		EntryCacheSize:  1024,
		PruningStrategy: "1g size",
	}
}

// Validate checks that the configuration can be used.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("raftlog: name is required")
	}
	if strings.TrimSpace(c.Directory) == "" {
		return errors.New("raftlog: directory is required")
	}
	if c.RotateAtSize <= HeaderSize {
		return fmt.Errorf("raftlog: rotate size must exceed the %d byte header", HeaderSize)
	}
	if c.EntryCacheSize < 0 {
		return errors.New("raftlog: entry cache size must be >= 0")
	}
	if _, err := ParsePruningStrategy(c.PruningStrategy); err != nil {
		return err
	}
	return nil
}

// Option customizes a SegmentedLog.
type Option func(*options)

type options struct {
	metrics Metrics
	tracer  oteltrace.Tracer
}

// WithMetrics sets the metrics sink. The default discards everything.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the tracer. The default is the global OpenTelemetry tracer.
func WithTracer(t oteltrace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

type lifecycle int32

const (
	lifecycleNew lifecycle = iota
	lifecycleRunning
	lifecycleDisposed
)

// SegmentedLog is a durable Raft log split across segment files.
//
// Mutating operations (Start, Append, Truncate, Skip, Prune, Shutdown) are
// serialized. Reads may run concurrently with each other and with mutations.
type SegmentedLog[T any] struct {
	cfg     Config
	fsys    FileSystem
	names   FileNames
	marshal ContentMarshal[T]
	pruner  PruningStrategy
	logger  Logger
	metrics Metrics
	tracer  oteltrace.Tracer

	mu       sync.RWMutex
	segs     *segments
	cache    *entryCache[T]
	cacheGen uint64
	failure  error

	appendIndex int64
	currentTerm int64
	prevIndex   int64
	prevTerm    int64

	lifecycle       atomic.Int32
	poisoned        atomic.Bool
	appendIndexSeen atomic.Int64
	prevIndexSeen   atomic.Int64
}

// New returns a log that is not started yet. Call Start before anything else.
func New[T any](cfg Config, fsys FileSystem, marshal ContentMarshal[T], logger Logger, opts ...Option) (*SegmentedLog[T], error) {
	if fsys == nil {
		return nil, ErrNilFileSystem
	}
	if marshal == nil {
		return nil, ErrNilMarshal
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pruner, err := ParsePruningStrategy(cfg.PruningStrategy)
	if err != nil {
		return nil, err
	}
	cache, err := newEntryCache[T](cfg.EntryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("raftlog: entry cache: %w", err)
	}

	o := options{
		metrics: noopMetrics{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &SegmentedLog[T]{
		cfg:     cfg,
		fsys:    fsys,
		names:   NewFileNames(cfg.Directory),
		marshal: marshal,
		pruner:  pruner,
		logger:  logger,
		metrics: o.metrics,
		tracer:  o.tracer,
		cache:   cache,
	}, nil
}

// Start recovers the log state from disk. It fails with ErrDamagedLogStorage
// when the files are corrupt beyond a torn trailing record.
func (l *SegmentedLog[T]) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch lifecycle(l.lifecycle.Load()) {
	case lifecycleRunning:
		return ErrAlreadyStarted
	case lifecycleDisposed:
		return ErrDisposed
	}

	_, span := l.startSpan(ctx, "raftlog.Start", attribute.String("raftlog.dir", l.cfg.Directory))
	defer span.End()

	state, err := recoveryProtocol{fsys: l.fsys, names: l.names, logger: l.logger}.run()
	if err != nil {
		spanRecordError(span, err)
		if !errors.Is(err, ErrDamagedLogStorage) {
			l.metrics.IncRaftLogStorageError(l.cfg.Name, "recover")
		}
		l.logger.Error("raft log recovery failed", "log", l.cfg.Name, "dir", l.cfg.Directory, "error", err)
		return err
	}

	l.segs = state.segments
	l.appendIndex = state.appendIndex
	l.currentTerm = state.currentTerm
	l.prevIndex = state.prevIndex
	l.prevTerm = state.prevTerm
	l.publishLocked()
	l.lifecycle.Store(int32(lifecycleRunning))

	if state.tornRecords > 0 {
		l.metrics.AddRaftLogRecoveredTornRecords(l.cfg.Name, state.tornRecords)
	}
	span.SetAttributes(
		attribute.Int64("raftlog.prev_index", l.prevIndex),
		attribute.Int64("raftlog.append_index", l.appendIndex),
	)
	return nil
}

// Append writes entries at the next indexes and returns the new append index.
// It returns only after the entries are durable. Entry terms must not decrease.
func (l *SegmentedLog[T]) Append(ctx context.Context, entries ...Entry[T]) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(); err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return l.appendIndex, nil
	}

	term := l.currentTerm
	for i, e := range entries {
		if e.Term < term {
			return 0, fmt.Errorf("%w: entry %d has term %d, current term is %d",
				ErrNonMonotonicTerm, l.appendIndex+int64(i)+1, e.Term, term)
		}
		term = e.Term
	}

	payloads := make([][]byte, len(entries))
	for i, e := range entries {
		b, err := l.marshal.Marshal(e.Content)
		if err != nil {
			return 0, fmt.Errorf("raftlog: marshal entry %d: %w", l.appendIndex+int64(i)+1, err)
		}
		payloads[i] = b
	}

	_, span := l.startSpan(ctx, "raftlog.Append",
		attribute.Int("raftlog.entries_count", len(entries)),
		attribute.Int64("raftlog.first_index", l.appendIndex+1),
	)
	defer span.End()
	started := time.Now()

	seg := l.segs.last()
	index := l.appendIndex
	written := 0
	for i, e := range entries {
		index++
		if err := seg.write(index, e.Term, payloads[i]); err != nil {
			err = l.poisonLocked("append", err)
			spanRecordError(span, err)
			return 0, err
		}
		written += len(payloads[i])
	}
	if err := seg.flush(); err != nil {
		err = l.poisonLocked("flush", err)
		spanRecordError(span, err)
		return 0, err
	}

	first := l.appendIndex + 1
	l.appendIndex = index
	l.currentTerm = term
	for i, e := range entries {
		l.cache.put(first+int64(i), e)
	}

	if seg.position() >= l.cfg.RotateAtSize {
		if _, err := l.segs.rotate(l.appendIndex, l.currentTerm); err != nil {
			err = l.poisonLocked("rotate", err)
			spanRecordError(span, err)
			return 0, err
		}
		l.metrics.IncRaftLogRotation(l.cfg.Name)
		l.logger.Debug("rotated raft log segment",
			"log", l.cfg.Name,
			"version", l.segs.lastVersion.Load(),
			"prev_index", l.appendIndex,
			"prev_term", l.currentTerm,
		)
	}
	l.publishLocked()

	l.metrics.ObserveRaftLogAppendDuration(l.cfg.Name, time.Since(started))
	l.metrics.AddRaftLogAppendedEntries(l.cfg.Name, len(entries))
	l.metrics.AddRaftLogAppendedBytes(l.cfg.Name, written)
	return l.appendIndex, nil
}

// Truncate removes every entry with index >= fromIndex. fromIndex must lie in
// (PrevIndex, AppendIndex+1]. The entry cache is cleared.
func (l *SegmentedLog[T]) Truncate(ctx context.Context, fromIndex int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(); err != nil {
		return err
	}
	if fromIndex <= l.prevIndex || fromIndex > l.appendIndex+1 {
		return fmt.Errorf("%w: from index %d outside (%d, %d]",
			ErrInvalidTruncation, fromIndex, l.prevIndex, l.appendIndex+1)
	}

	l.cache.clear()
	l.cacheGen++
	if fromIndex == l.appendIndex+1 {
		return nil
	}

	_, span := l.startSpan(ctx, "raftlog.Truncate",
		attribute.Int64("raftlog.from_index", fromIndex),
		attribute.Int64("raftlog.append_index", l.appendIndex),
	)
	defer span.End()

	newTerm := l.prevTerm
	if fromIndex-1 > l.prevIndex {
		rec, ok, err := l.readRaw(fromIndex - 1)
		if err == nil && !ok {
			err = fmt.Errorf("entry %d missing from storage", fromIndex-1)
		}
		if err != nil {
			err = l.poisonLocked("truncate", err)
			spanRecordError(span, err)
			return err
		}
		newTerm = rec.term
	}

	if _, err := l.segs.truncate(fromIndex, newTerm); err != nil {
		err = l.poisonLocked("truncate", err)
		spanRecordError(span, err)
		return err
	}

	l.logger.Info("truncated raft log",
		"log", l.cfg.Name,
		"from_index", fromIndex,
		"old_append_index", l.appendIndex,
		"term", newTerm,
	)
	l.appendIndex = fromIndex - 1
	l.currentTerm = newTerm
	l.publishLocked()
	l.metrics.IncRaftLogTruncation(l.cfg.Name)
	return nil
}

// Skip moves the log start past newIndex, typically after a snapshot install.
// Entries up to newIndex are abandoned and a new segment begins after
// (newIndex, newTerm). It is a no-op when newIndex <= AppendIndex.
func (l *SegmentedLog[T]) Skip(ctx context.Context, newIndex, newTerm int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(); err != nil {
		return 0, err
	}
	if newIndex <= l.appendIndex {
		return l.appendIndex, nil
	}

	_, span := l.startSpan(ctx, "raftlog.Skip",
		attribute.Int64("raftlog.new_index", newIndex),
		attribute.Int64("raftlog.new_term", newTerm),
	)
	defer span.End()

	if _, err := l.segs.skip(newIndex, newTerm); err != nil {
		err = l.poisonLocked("skip", err)
		spanRecordError(span, err)
		return 0, err
	}

	l.logger.Info("skipped raft log",
		"log", l.cfg.Name,
		"old_append_index", l.appendIndex,
		"new_index", newIndex,
		"new_term", newTerm,
	)
	l.cache.clear()
	l.cacheGen++
	l.prevIndex, l.prevTerm = newIndex, newTerm
	l.appendIndex, l.currentTerm = newIndex, newTerm
	l.publishLocked()
	l.metrics.IncRaftLogSkip(l.cfg.Name)
	return l.appendIndex, nil
}

// Prune deletes whole segments that hold only entries at or below the index
// chosen by the pruning strategy, capped at safeIndex. It returns the new PrevIndex.
func (l *SegmentedLog[T]) Prune(ctx context.Context, safeIndex int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(); err != nil {
		return 0, err
	}

	pruneIndex := l.pruner.PruneIndex(safeIndex, l.segs.infos())
	pruneIndex = min(pruneIndex, safeIndex, l.segs.last().header.PrevIndex)
	// Segments left behind by a skip can lie wholly below prevIndex.
	if oldest := l.segs.first(); oldest == l.segs.last() || oldest.lastIndex() > pruneIndex {
		return l.prevIndex, nil
	}

	_, span := l.startSpan(ctx, "raftlog.Prune",
		attribute.Int64("raftlog.safe_index", safeIndex),
		attribute.Int64("raftlog.prune_index", pruneIndex),
	)
	defer span.End()

	oldest, deleted, err := l.segs.prune(pruneIndex)
	if err != nil {
		err = l.poisonLocked("prune", err)
		spanRecordError(span, err)
		return 0, err
	}
	if deleted == 0 {
		return l.prevIndex, nil
	}
	if oldest.header.PrevIndex > l.prevIndex {
		l.prevIndex = oldest.header.PrevIndex
		l.prevTerm = oldest.header.PrevTerm
	}
	l.publishLocked()

	l.logger.Info("pruned raft log",
		"log", l.cfg.Name,
		"strategy", l.pruner.String(),
		"safe_index", safeIndex,
		"deleted_segments", deleted,
		"prev_index", l.prevIndex,
	)
	l.metrics.AddRaftLogPrunedSegments(l.cfg.Name, deleted)
	return l.prevIndex, nil
}

// ReadEntryTerm returns the term of the entry at index. PrevIndex is answered
// from state; indexes outside [PrevIndex, AppendIndex] return UnknownTerm.
func (l *SegmentedLog[T]) ReadEntryTerm(index int64) (int64, error) {
	l.mu.RLock()
	if err := l.checkLocked(); err != nil {
		l.mu.RUnlock()
		return UnknownTerm, err
	}
	prevIndex, prevTerm, appendIndex := l.prevIndex, l.prevTerm, l.appendIndex
	l.mu.RUnlock()

	if index == prevIndex {
		return prevTerm, nil
	}
	if index < prevIndex || index > appendIndex {
		return UnknownTerm, nil
	}
	if e, ok := l.cache.get(index); ok {
		l.metrics.IncRaftLogCacheLookup(l.cfg.Name, true)
		return e.Term, nil
	}
	l.metrics.IncRaftLogCacheLookup(l.cfg.Name, false)

	rec, ok, err := l.readRaw(index)
	if err != nil {
		return UnknownTerm, err
	}
	if !ok {
		return UnknownTerm, nil
	}
	return rec.term, nil
}

// ReadEntry returns the entry at index, or ErrEntryNotFound if it is not retained.
func (l *SegmentedLog[T]) ReadEntry(index int64) (Entry[T], error) {
	var zero Entry[T]

	l.mu.RLock()
	if err := l.checkLocked(); err != nil {
		l.mu.RUnlock()
		return zero, err
	}
	prevIndex, appendIndex, gen := l.prevIndex, l.appendIndex, l.cacheGen
	l.mu.RUnlock()

	if index <= prevIndex || index > appendIndex {
		return zero, fmt.Errorf("%w: index %d outside (%d, %d]", ErrEntryNotFound, index, prevIndex, appendIndex)
	}
	if e, ok := l.cache.get(index); ok {
		l.metrics.IncRaftLogCacheLookup(l.cfg.Name, true)
		return e, nil
	}
	l.metrics.IncRaftLogCacheLookup(l.cfg.Name, false)

	rec, ok, err := l.readRaw(index)
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	content, err := l.marshal.Unmarshal(rec.content)
	if err != nil {
		return zero, fmt.Errorf("raftlog: unmarshal entry %d: %w", index, err)
	}
	e := Entry[T]{Term: rec.term, Content: content}

	// A truncation in between may have replaced this index.
	l.mu.RLock()
	if l.cacheGen == gen {
		l.cache.put(index, e)
	}
	l.mu.RUnlock()
	return e, nil
}

// GetEntryCursor returns a forward-only cursor over entries from fromIndex to
// the append index current at each step. A cursor starting at or below
// PrevIndex yields nothing.
func (l *SegmentedLog[T]) GetEntryCursor(fromIndex int64) (*EntryCursor[T], error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if err := l.checkLocked(); err != nil {
		return nil, err
	}
	return &EntryCursor[T]{
		log:  l,
		next: fromIndex,
		done: fromIndex <= l.prevIndex,
	}, nil
}

// AppendIndex returns the index of the last appended entry, or PrevIndex when empty.
func (l *SegmentedLog[T]) AppendIndex() int64 { return l.appendIndexSeen.Load() }

// PrevIndex returns the index immediately before the first retained entry.
func (l *SegmentedLog[T]) PrevIndex() int64 { return l.prevIndexSeen.Load() }

// Segments describes the current segment files, oldest first.
func (l *SegmentedLog[T]) Segments() []SegmentInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.segs == nil {
		return nil
	}
	return l.segs.infos()
}

// Status returns a snapshot of the log state for diagnostics.
func (l *SegmentedLog[T]) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := Status{
		Name:        l.cfg.Name,
		Directory:   l.cfg.Directory,
		AppendIndex: l.appendIndex,
		CurrentTerm: l.currentTerm,
		PrevIndex:   l.prevIndex,
		PrevTerm:    l.prevTerm,
	}
	switch {
	case lifecycle(l.lifecycle.Load()) == lifecycleDisposed:
		st.Status = LogStatusDisposed
	case lifecycle(l.lifecycle.Load()) == lifecycleNew:
		st.Status = LogStatusNotStarted
	case l.poisoned.Load():
		st.Status = LogStatusRequiresRecovery
	default:
		st.Status = LogStatusHealthy
	}
	if l.segs != nil {
		st.Segments = l.segs.infos()
		for _, s := range st.Segments {
			st.SizeBytes += s.Size
		}
	}
	return st
}

// Shutdown closes every segment file. Any later call, including a second
// Shutdown, returns ErrDisposed.
func (l *SegmentedLog[T]) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := lifecycle(l.lifecycle.Swap(int32(lifecycleDisposed)))
	switch prev {
	case lifecycleDisposed:
		return ErrDisposed
	case lifecycleNew:
		return nil
	}

	l.cache.clear()
	l.cacheGen++
	if err := l.segs.close(); err != nil {
		l.logger.Warn("raft log shutdown left segments unflushed", "log", l.cfg.Name, "error", err)
		return fmt.Errorf("raftlog: shutdown: %w", err)
	}
	l.logger.Info("raft log closed", "log", l.cfg.Name, "append_index", l.appendIndex)
	return nil
}

// checkLocked reports whether the log may serve a call. Caller must hold l.mu.
func (l *SegmentedLog[T]) checkLocked() error {
	switch lifecycle(l.lifecycle.Load()) {
	case lifecycleNew:
		return ErrNotStarted
	case lifecycleDisposed:
		return ErrDisposed
	}
	if l.poisoned.Load() {
		return fmt.Errorf("%w: %v", ErrRequiresRecovery, l.failure)
	}
	return nil
}

// Err returns nil while the log can serve calls, otherwise ErrNotStarted,
// ErrDisposed or ErrRequiresRecovery.
func (l *SegmentedLog[T]) Err() error { return l.checkLive() }

// checkLive is checkLocked for callers that do not hold l.mu.
func (l *SegmentedLog[T]) checkLive() error {
	switch lifecycle(l.lifecycle.Load()) {
	case lifecycleNew:
		return ErrNotStarted
	case lifecycleDisposed:
		return ErrDisposed
	}
	if l.poisoned.Load() {
		return ErrRequiresRecovery
	}
	return nil
}

// poisonLocked marks the log as requiring recovery. Caller must hold l.mu.
func (l *SegmentedLog[T]) poisonLocked(op string, cause error) error {
	if !l.poisoned.Load() {
		l.failure = fmt.Errorf("%s: %w", op, cause)
		l.poisoned.Store(true)
		l.metrics.IncRaftLogStorageError(l.cfg.Name, op)
		l.logger.Error("raft log requires recovery due to storage error",
			"log", l.cfg.Name,
			"op", op,
			"error", cause,
		)
	}
	return fmt.Errorf("%w: %s: %w", ErrRequiresRecovery, op, cause)
}

// publishLocked mirrors indexes into the atomics read by the cheap accessors.
func (l *SegmentedLog[T]) publishLocked() {
	l.appendIndexSeen.Store(l.appendIndex)
	l.prevIndexSeen.Store(l.prevIndex)
	l.metrics.SetRaftLogIndexes(l.cfg.Name, l.prevIndex, l.appendIndex)

	var size int64
	infos := l.segs.infos()
	for _, s := range infos {
		size += s.Size
	}
	l.metrics.SetRaftLogSegments(l.cfg.Name, len(infos), size)
}

// readRaw reads the stored record at index from its segment file.
// ok is false when no segment holds the index any more.
func (l *SegmentedLog[T]) readRaw(index int64) (rawRecord, bool, error) {
	seg, ok := l.segs.forIndex(index)
	if !ok {
		return rawRecord{}, false, nil
	}
	return seg.read(index)
}
