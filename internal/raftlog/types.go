package raftlog

// UnknownTerm is returned by ReadEntryTerm for indexes outside the retained range.
const UnknownTerm int64 = -1

// Entry is a single replicated log entry: an opaque payload and the term it was
// proposed in. Entries carry no index; the log assigns it on append.
type Entry[T any] struct {
	Term    int64
	Content T
}

// EntryRecord is an entry together with its position in the log and in the
// segment file holding it.
type EntryRecord[T any] struct {
	Index   int64
	Entry   Entry[T]
	Version int64 // segment version
	Offset  int64 // byte offset of the record inside the segment file
	Length  int64 // record length in bytes, framing included
}

// Header is written once at the start of every segment file.
// PrevIndex/PrevTerm describe the entry logically preceding the segment's first entry.
type Header struct {
	Version   int64
	PrevIndex int64
	PrevTerm  int64
}

// SegmentInfo is a point-in-time description of one segment file.
type SegmentInfo struct {
	Version   int64 `json:"version"`
	PrevIndex int64 `json:"prev_index"`
	PrevTerm  int64 `json:"prev_term"`
	LastIndex int64 `json:"last_index"`
	LastTerm  int64 `json:"last_term"`
	Entries   int   `json:"entries"`
	Size      int64 `json:"size_bytes"`
	Writable  bool  `json:"writable"`
}

// LogStatus reports operational health of the log.
type LogStatus string

// Health states exposed by Status.
const (
	LogStatusNotStarted       LogStatus = "not_started"
	LogStatusHealthy          LogStatus = "healthy"
	LogStatusRequiresRecovery LogStatus = "requires_recovery"
	LogStatusDisposed         LogStatus = "disposed"
)

// Status is a read-only snapshot of the log state for admin/diagnostic APIs.
type Status struct {
	Name        string        `json:"name"`
	Directory   string        `json:"directory"`
	Status      LogStatus     `json:"status"`
	AppendIndex int64         `json:"append_index"`
	CurrentTerm int64         `json:"current_term"`
	PrevIndex   int64         `json:"prev_index"`
	PrevTerm    int64         `json:"prev_term"`
	SizeBytes   int64         `json:"size_bytes"`
	Segments    []SegmentInfo `json:"segments"`
}
