package raftlog

import "time"

// Metrics captures log-layer metric sinks. Every method is keyed by the log name.
type Metrics interface {
	ObserveRaftLogAppendDuration(log string, d time.Duration)
	AddRaftLogAppendedEntries(log string, n int)
	AddRaftLogAppendedBytes(log string, n int)
	IncRaftLogRotation(log string)
	IncRaftLogTruncation(log string)
	IncRaftLogSkip(log string)
	AddRaftLogPrunedSegments(log string, n int)
	IncRaftLogCacheLookup(log string, hit bool)
	IncRaftLogStorageError(log, op string)
	AddRaftLogRecoveredTornRecords(log string, n int)
	SetRaftLogIndexes(log string, prevIndex, appendIndex int64)
	SetRaftLogSegments(log string, count int, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRaftLogAppendDuration(string, time.Duration) {}
func (noopMetrics) AddRaftLogAppendedEntries(string, int)              {}
func (noopMetrics) AddRaftLogAppendedBytes(string, int)                {}
func (noopMetrics) IncRaftLogRotation(string)                          {}
func (noopMetrics) IncRaftLogTruncation(string)                        {}
func (noopMetrics) IncRaftLogSkip(string)                              {}
func (noopMetrics) AddRaftLogPrunedSegments(string, int)               {}
func (noopMetrics) IncRaftLogCacheLookup(string, bool)                 {}
func (noopMetrics) IncRaftLogStorageError(string, string)              {}
func (noopMetrics) AddRaftLogRecoveredTornRecords(string, int)         {}
func (noopMetrics) SetRaftLogIndexes(string, int64, int64)             {}
func (noopMetrics) SetRaftLogSegments(string, int, int64)              {}
