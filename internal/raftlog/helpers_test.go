package raftlog

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

const testDir = "/data/raft"

type recordingLogger struct {
	mu   sync.Mutex
	logs []string
}

func (l *recordingLogger) append(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, fmt.Sprintf("%s %v", msg, args))
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.append(msg, args...) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.append(msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.append(msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.append(msg, args...) }

func (l *recordingLogger) Contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.logs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func newMemFS() (afero.Fs, *AferoFileSystem) {
	mem := afero.NewMemMapFs()
	return mem, NewFileSystem(mem)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.Directory = testDir
	cfg.PruningStrategy = "keep_none"
	return cfg
}

// fiveEntrySegments returns a config whose segments rotate after five test entries.
func fiveEntrySegments() Config {
	cfg := testConfig()
	rec := appendRecord(nil, rawRecord{index: 1, term: 1, content: testContent(1)})
	cfg.RotateAtSize = HeaderSize + 5*int64(len(rec))
	return cfg
}

func testContent(index int64) []byte {
	return []byte(fmt.Sprintf("entry-%03d", index))
}

func startLog(t *testing.T, fsys FileSystem, cfg Config) (*SegmentedLog[[]byte], *recordingLogger) {
	t.Helper()

	logger := &recordingLogger{}
	l, err := New[[]byte](cfg, fsys, BytesMarshal{}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := l.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if err := l.Shutdown(); err != nil && !errors.Is(err, ErrDisposed) {
			t.Errorf("Shutdown() error = %v", err)
		}
	})
	return l, logger
}

// appendTerms appends one entry per term, one call each, with content derived from the index.
func appendTerms(t *testing.T, l *SegmentedLog[[]byte], terms ...int64) {
	t.Helper()

	for _, term := range terms {
		next := l.AppendIndex() + 1
		got, err := l.Append(t.Context(), Entry[[]byte]{Term: term, Content: testContent(next)})
		if err != nil {
			t.Fatalf("Append(term=%d) error = %v", term, err)
		}
		if got != next {
			t.Fatalf("Append(term=%d) index = %d, want %d", term, got, next)
		}
	}
}

func repeatTerm(term int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = term
	}
	return out
}

func collect(t *testing.T, l *SegmentedLog[[]byte], from int64) []EntryRecord[[]byte] {
	t.Helper()

	cur, err := l.GetEntryCursor(from)
	if err != nil {
		t.Fatalf("GetEntryCursor(%d) error = %v", from, err)
	}
	defer func() { _ = cur.Close() }()

	var out []EntryRecord[[]byte]
	for cur.Next() {
		out = append(out, cur.Record())
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("cursor error = %v", err)
	}
	return out
}
