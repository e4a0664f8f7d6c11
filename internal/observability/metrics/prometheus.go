//revive:disable:var-naming
//revive:disable:exported
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus exposes application metrics and can be injected into the log and
// workload layers. It implements both internal/raftlog.Metrics and
// internal/workload.Metrics through method set compatibility, without
// importing those packages.
type Prometheus struct {
	raftLogAppendDuration     *prometheus.HistogramVec
	raftLogAppendedEntries    *prometheus.CounterVec
	raftLogAppendedBytes      *prometheus.CounterVec
	raftLogRotationTotal      *prometheus.CounterVec
	raftLogTruncationTotal    *prometheus.CounterVec
	raftLogSkipTotal          *prometheus.CounterVec
	raftLogPrunedSegments     *prometheus.CounterVec
	raftLogCacheLookupTotal   *prometheus.CounterVec
	raftLogStorageErrorTotal  *prometheus.CounterVec
	raftLogRecoveredTornTotal *prometheus.CounterVec
	raftLogPrevIndex          *prometheus.GaugeVec
	raftLogAppendIndex        *prometheus.GaugeVec
	raftLogSegments           *prometheus.GaugeVec
	raftLogSizeBytes          *prometheus.GaugeVec
	workloadOperationTotal    *prometheus.CounterVec
	workloadOperationDuration *prometheus.HistogramVec
	workloadCommitIndex       *prometheus.GaugeVec
}

func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Prometheus{
		raftLogAppendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "append_duration_seconds",
				Help:      "Time to write and flush one append batch, rotation included.",
				Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1},
			},
			[]string{"log"},
		),
		raftLogAppendedEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "appended_entries_total",
				Help:      "Entries durably appended.",
			},
			[]string{"log"},
		),
		raftLogAppendedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "appended_bytes_total",
				Help:      "Record bytes durably appended, framing included.",
			},
			[]string{"log"},
		),
		raftLogRotationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "rotation_total",
				Help:      "Number of segment rotations.",
			},
			[]string{"log"},
		),
		raftLogTruncationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "truncation_total",
				Help:      "Number of tail truncations that removed entries.",
			},
			[]string{"log"},
		),
		raftLogSkipTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "skip_total",
				Help:      "Number of skips past a snapshot index.",
			},
			[]string{"log"},
		),
		raftLogPrunedSegments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "pruned_segments_total",
				Help:      "Segment files deleted by pruning.",
			},
			[]string{"log"},
		),
		raftLogCacheLookupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "cache_lookup_total",
				Help:      "Entry cache lookups by result (hit, miss).",
			},
			[]string{"log", "result"},
		),
		raftLogStorageErrorTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "storage_error_total",
				Help:      "Storage errors that put the log into requires-recovery, by operation.",
			},
			[]string{"log", "op"},
		),
		raftLogRecoveredTornTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "recovered_torn_records_total",
				Help:      "Partially written records discarded by crash recovery.",
			},
			[]string{"log"},
		),
		raftLogPrevIndex: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "prev_index",
				Help:      "Index preceding the first retained entry.",
			},
			[]string{"log"},
		),
		raftLogAppendIndex: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "append_index",
				Help:      "Index of the last appended entry.",
			},
			[]string{"log"},
		),
		raftLogSegments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "segments",
				Help:      "Number of segment files on disk.",
			},
			[]string{"log"},
		),
		raftLogSizeBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "raftlog",
				Subsystem: "log",
				Name:      "size_bytes",
				Help:      "Total size of all segment files.",
			},
			[]string{"log"},
		),
		workloadOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "raftlog",
				Subsystem: "workload",
				Name:      "operation_total",
				Help:      "Workload operations by kind and result.",
			},
			[]string{"log", "op", "result"},
		),
		workloadOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "raftlog",
				Subsystem: "workload",
				Name:      "operation_duration_seconds",
				Help:      "Duration of workload operations by kind.",
				Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2},
			},
			[]string{"log", "op"},
		),
		workloadCommitIndex: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "raftlog",
				Subsystem: "workload",
				Name:      "commit_index",
				Help:      "Simulated commit index driving pruning.",
			},
			[]string{"log"},
		),
	}

	if err := m.register(reg); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Prometheus) register(reg prometheus.Registerer) error {
	if err := registerOrReuseHistogramVec(reg, &m.raftLogAppendDuration); err != nil {
		return fmt.Errorf("register raft log append histogram: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftLogAppendedEntries); err != nil {
		return fmt.Errorf("register raft log appended entries counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftLogAppendedBytes); err != nil {
		return fmt.Errorf("register raft log appended bytes counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftLogRotationTotal); err != nil {
		return fmt.Errorf("register raft log rotation counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftLogTruncationTotal); err != nil {
		return fmt.Errorf("register raft log truncation counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftLogSkipTotal); err != nil {
		return fmt.Errorf("register raft log skip counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftLogPrunedSegments); err != nil {
		return fmt.Errorf("register raft log pruned segments counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftLogCacheLookupTotal); err != nil {
		return fmt.Errorf("register raft log cache lookup counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftLogStorageErrorTotal); err != nil {
		return fmt.Errorf("register raft log storage error counter: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.raftLogRecoveredTornTotal); err != nil {
		return fmt.Errorf("register raft log torn records counter: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.raftLogPrevIndex); err != nil {
		return fmt.Errorf("register raft log prev_index gauge: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.raftLogAppendIndex); err != nil {
		return fmt.Errorf("register raft log append_index gauge: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.raftLogSegments); err != nil {
		return fmt.Errorf("register raft log segments gauge: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.raftLogSizeBytes); err != nil {
		return fmt.Errorf("register raft log size gauge: %w", err)
	}
	if err := registerOrReuseCounterVec(reg, &m.workloadOperationTotal); err != nil {
		return fmt.Errorf("register workload operation counter: %w", err)
	}
	if err := registerOrReuseHistogramVec(reg, &m.workloadOperationDuration); err != nil {
		return fmt.Errorf("register workload operation histogram: %w", err)
	}
	if err := registerOrReuseGaugeVec(reg, &m.workloadCommitIndex); err != nil {
		return fmt.Errorf("register workload commit_index gauge: %w", err)
	}
	return nil
}

func registerOrReuseHistogramVec(reg prometheus.Registerer, c **prometheus.HistogramVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseCounterVec(reg prometheus.Registerer, c **prometheus.CounterVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func registerOrReuseGaugeVec(reg prometheus.Registerer, c **prometheus.GaugeVec) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return fmt.Errorf("collector type mismatch for %T", *c)
		}
		*c = existing
	}
	return nil
}

func (m *Prometheus) ObserveRaftLogAppendDuration(log string, d time.Duration) {
	m.raftLogAppendDuration.WithLabelValues(log).Observe(d.Seconds())
}

func (m *Prometheus) AddRaftLogAppendedEntries(log string, n int) {
	if n <= 0 {
		return
	}
	m.raftLogAppendedEntries.WithLabelValues(log).Add(float64(n))
}

func (m *Prometheus) AddRaftLogAppendedBytes(log string, n int) {
	if n <= 0 {
		return
	}
	m.raftLogAppendedBytes.WithLabelValues(log).Add(float64(n))
}

func (m *Prometheus) IncRaftLogRotation(log string) {
	m.raftLogRotationTotal.WithLabelValues(log).Inc()
}

func (m *Prometheus) IncRaftLogTruncation(log string) {
	m.raftLogTruncationTotal.WithLabelValues(log).Inc()
}

func (m *Prometheus) IncRaftLogSkip(log string) {
	m.raftLogSkipTotal.WithLabelValues(log).Inc()
}

func (m *Prometheus) AddRaftLogPrunedSegments(log string, n int) {
	if n <= 0 {
		return
	}
	m.raftLogPrunedSegments.WithLabelValues(log).Add(float64(n))
}

func (m *Prometheus) IncRaftLogCacheLookup(log string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.raftLogCacheLookupTotal.WithLabelValues(log, result).Inc()
}

func (m *Prometheus) IncRaftLogStorageError(log, op string) {
	m.raftLogStorageErrorTotal.WithLabelValues(log, op).Inc()
}

func (m *Prometheus) AddRaftLogRecoveredTornRecords(log string, n int) {
	if n <= 0 {
		return
	}
	m.raftLogRecoveredTornTotal.WithLabelValues(log).Add(float64(n))
}

func (m *Prometheus) SetRaftLogIndexes(log string, prevIndex, appendIndex int64) {
	m.raftLogPrevIndex.WithLabelValues(log).Set(float64(prevIndex))
	m.raftLogAppendIndex.WithLabelValues(log).Set(float64(appendIndex))
}

func (m *Prometheus) SetRaftLogSegments(log string, count int, bytes int64) {
	m.raftLogSegments.WithLabelValues(log).Set(float64(count))
	m.raftLogSizeBytes.WithLabelValues(log).Set(float64(bytes))
}

func (m *Prometheus) IncWorkloadOperation(log, op string, ok bool) {
	m.workloadOperationTotal.WithLabelValues(log, op, resultString(ok)).Inc()
}

func (m *Prometheus) ObserveWorkloadOperationDuration(log, op string, d time.Duration) {
	m.workloadOperationDuration.WithLabelValues(log, op).Observe(d.Seconds())
}

func (m *Prometheus) SetWorkloadCommitIndex(log string, index int64) {
	if index < 0 {
		index = 0
	}
	m.workloadCommitIndex.WithLabelValues(log).Set(float64(index))
}

func resultString(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
