// Package workload drives a raft log the way a consensus module would:
// batches of appends under rising terms, occasional replacement of the
// uncommitted tail, snapshot skips, and pruning behind a commit index.
package workload

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/i-melnichenko/raftlog/internal/raftlog"
)

// ErrTermMismatch is returned when an appended entry reads back with a different term.
var ErrTermMismatch = errors.New("workload: term readback mismatch")

// Log is the part of the raft log the driver exercises.
type Log interface {
	Append(ctx context.Context, entries ...raftlog.Entry[[]byte]) (int64, error)
	Truncate(ctx context.Context, fromIndex int64) error
	Skip(ctx context.Context, newIndex, newTerm int64) (int64, error)
	Prune(ctx context.Context, safeIndex int64) (int64, error)
	ReadEntryTerm(index int64) (int64, error)
	AppendIndex() int64
	PrevIndex() int64
}

// Logger is a minimal structured logger interface, compatible with slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

// Metrics captures workload metric sinks.
type Metrics interface {
	IncWorkloadOperation(log, op string, ok bool)
	ObserveWorkloadOperationDuration(log, op string, d time.Duration)
	SetWorkloadCommitIndex(log string, index int64)
}

type noopMetrics struct{}

func (noopMetrics) IncWorkloadOperation(string, string, bool)                      {}
func (noopMetrics) ObserveWorkloadOperationDuration(string, string, time.Duration) {}
func (noopMetrics) SetWorkloadCommitIndex(string, int64)                           {}

// Config controls the shape of the generated load. A zero *Every field
// disables that operation.
type Config struct {
	Interval      time.Duration
	BatchSize     int
	PayloadBytes  int
	TermEvery     int
	TruncateEvery int
	TruncateDepth int
	SkipEvery     int
	SkipDistance  int64
	PruneEvery    int
	CommitLag     int64
	Seed          uint64
}

// DefaultConfig returns a moderate load profile.
func DefaultConfig() Config {
	return Config{
		Interval:      10 * time.Millisecond,
		BatchSize:     16,
		PayloadBytes:  256,
		TermEvery:     500,
		TruncateEvery: 50,
		TruncateDepth: 8,
		SkipEvery:     0,
		SkipDistance:  1000,
		PruneEvery:    100,
		CommitLag:     64,
		Seed:          1,
	}
}

// Validate checks that the configuration can drive a log.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("workload: interval must be > 0")
	}
	if c.BatchSize < 1 {
		return errors.New("workload: batch size must be >= 1")
	}
	if c.PayloadBytes < 0 {
		return errors.New("workload: payload bytes must be >= 0")
	}
	if c.TermEvery < 0 || c.TruncateEvery < 0 || c.SkipEvery < 0 || c.PruneEvery < 0 {
		return errors.New("workload: operation periods must be >= 0")
	}
	if c.TruncateEvery > 0 && c.TruncateDepth < 1 {
		return errors.New("workload: truncate depth must be >= 1 when truncation is enabled")
	}
	if c.SkipEvery > 0 && c.SkipDistance < 1 {
		return errors.New("workload: skip distance must be >= 1 when skipping is enabled")
	}
	if c.CommitLag < 0 {
		return errors.New("workload: commit lag must be >= 0")
	}
	return nil
}

// Stats is a snapshot of the driver progress.
type Stats struct {
	Batches     int   `json:"batches"`
	Term        int64 `json:"term"`
	CommitIndex int64 `json:"commit_index"`
	Truncations int   `json:"truncations"`
	Skips       int   `json:"skips"`
}

// Driver generates load against a Log.
type Driver struct {
	log     Log
	cfg     Config
	logger  Logger
	tracer  oteltrace.Tracer
	metrics Metrics
	name    string
	rng     *rand.Rand

	mu    sync.Mutex
	stats Stats
}

// New creates a driver for an already started log. Entries present in the log
// are treated as committed, and new appends start one term above the last one.
func New(log Log, cfg Config, logger Logger, tracer oteltrace.Tracer, metrics Metrics, name string) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	appendIndex := log.AppendIndex()
	term, err := log.ReadEntryTerm(appendIndex)
	if err != nil {
		return nil, fmt.Errorf("workload: read last term: %w", err)
	}
	if term < 0 {
		term = 0
	}

	return &Driver{
		log:     log,
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
		name:    name,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		stats:   Stats{Term: term + 1, CommitIndex: appendIndex},
	}, nil
}

// Run executes Step every Interval until ctx is canceled or a step fails.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("workload started",
		"log", d.name,
		"interval", d.cfg.Interval,
		"batch_size", d.cfg.BatchSize,
	)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			st := d.Stats()
			d.logger.Info("workload stopped",
				"log", d.name,
				"batches", st.Batches,
				"commit_index", st.CommitIndex,
			)
			return nil
		case <-ticker.C:
			if err := d.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// Stats returns the current progress.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Step runs one batch: a term bump when due, then either a skip or an append
// followed by the due truncation and prune.
func (d *Driver) Step(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stats.Batches++
	if d.due(d.cfg.TermEvery) {
		d.stats.Term++
	}

	ctx, span := d.startSpan(ctx, "workload.Step",
		attribute.Int("workload.batch", d.stats.Batches),
		attribute.Int64("workload.term", d.stats.Term),
	)
	defer span.End()

	if d.due(d.cfg.SkipEvery) {
		if err := d.skip(ctx); err != nil {
			spanRecordError(span, err)
			return err
		}
		return nil
	}
	if err := d.append(ctx); err != nil {
		spanRecordError(span, err)
		return err
	}
	if d.due(d.cfg.TruncateEvery) {
		if err := d.truncate(ctx); err != nil {
			spanRecordError(span, err)
			return err
		}
	}
	if d.due(d.cfg.PruneEvery) {
		if err := d.prune(ctx); err != nil {
			spanRecordError(span, err)
			return err
		}
	}
	return nil
}

func (d *Driver) append(ctx context.Context) error {
	entries := make([]raftlog.Entry[[]byte], d.cfg.BatchSize)
	for i := range entries {
		entries[i] = raftlog.Entry[[]byte]{Term: d.stats.Term, Content: d.payload()}
	}

	start := time.Now()
	appendIndex, err := d.log.Append(ctx, entries...)
	d.observe("append", start, err)
	if err != nil {
		return fmt.Errorf("workload: append: %w", err)
	}

	term, err := d.log.ReadEntryTerm(appendIndex)
	if err != nil {
		return fmt.Errorf("workload: read back %d: %w", appendIndex, err)
	}
	if term != d.stats.Term {
		return fmt.Errorf("%w: index %d has term %d, appended %d", ErrTermMismatch, appendIndex, term, d.stats.Term)
	}

	if commit := appendIndex - d.cfg.CommitLag; commit > d.stats.CommitIndex {
		d.stats.CommitIndex = commit
		d.metrics.SetWorkloadCommitIndex(d.name, commit)
	}
	d.logger.Debug("workload appended batch",
		"log", d.name,
		"append_index", appendIndex,
		"term", d.stats.Term,
	)
	return nil
}

// truncate drops up to TruncateDepth uncommitted entries, as a follower does
// when a new leader overwrites its tail.
func (d *Driver) truncate(ctx context.Context) error {
	appendIndex := d.log.AppendIndex()
	from := appendIndex - int64(d.rng.IntN(d.cfg.TruncateDepth))
	from = max(from, d.stats.CommitIndex+1, d.log.PrevIndex()+1)
	if from > appendIndex {
		return nil
	}

	start := time.Now()
	err := d.log.Truncate(ctx, from)
	d.observe("truncate", start, err)
	if err != nil {
		return fmt.Errorf("workload: truncate from %d: %w", from, err)
	}
	d.stats.Truncations++
	d.logger.Debug("workload truncated tail",
		"log", d.name,
		"from_index", from,
		"dropped", appendIndex-from+1,
	)
	return nil
}

// skip jumps past a simulated snapshot install.
func (d *Driver) skip(ctx context.Context) error {
	target := d.log.AppendIndex() + d.cfg.SkipDistance

	start := time.Now()
	newIndex, err := d.log.Skip(ctx, target, d.stats.Term)
	d.observe("skip", start, err)
	if err != nil {
		return fmt.Errorf("workload: skip to %d: %w", target, err)
	}
	d.stats.Skips++
	d.stats.CommitIndex = newIndex
	d.metrics.SetWorkloadCommitIndex(d.name, newIndex)
	d.logger.Info("workload skipped past snapshot",
		"log", d.name,
		"index", newIndex,
		"term", d.stats.Term,
	)
	return nil
}

func (d *Driver) prune(ctx context.Context) error {
	start := time.Now()
	prevIndex, err := d.log.Prune(ctx, d.stats.CommitIndex)
	d.observe("prune", start, err)
	if err != nil {
		return fmt.Errorf("workload: prune to %d: %w", d.stats.CommitIndex, err)
	}
	d.logger.Debug("workload pruned log",
		"log", d.name,
		"commit_index", d.stats.CommitIndex,
		"prev_index", prevIndex,
	)
	return nil
}

func (d *Driver) payload() []byte {
	b := make([]byte, d.cfg.PayloadBytes)
	for i := range b {
		b[i] = byte('a' + d.rng.IntN(26))
	}
	return b
}

func (d *Driver) due(every int) bool {
	return every > 0 && d.stats.Batches%every == 0
}

func (d *Driver) observe(op string, start time.Time, err error) {
	d.metrics.ObserveWorkloadOperationDuration(d.name, op, time.Since(start))
	d.metrics.IncWorkloadOperation(d.name, op, err == nil)
}

func (d *Driver) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := d.tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func spanRecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
