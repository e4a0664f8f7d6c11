package raftlog

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
)

var errDiskFull = errors.New("disk full")

// failingWritesFS delegates to an in-memory file system, except that every
// segment file it creates accepts its header and then fails all later writes.
func failingWritesFS(t *testing.T, ctrl *gomock.Controller) *MockFileSystem {
	t.Helper()

	_, mem := newMemFS()
	fsys := NewMockFileSystem(ctrl)
	fsys.EXPECT().MkdirAll(gomock.Any()).DoAndReturn(mem.MkdirAll).AnyTimes()
	fsys.EXPECT().ReadDir(gomock.Any()).DoAndReturn(mem.ReadDir).AnyTimes()
	fsys.EXPECT().SyncDir(gomock.Any()).Return(nil).AnyTimes()
	fsys.EXPECT().Open(gomock.Any()).DoAndReturn(mem.Open).AnyTimes()
	fsys.EXPECT().Create(gomock.Any()).DoAndReturn(func(name string) (File, error) {
		real, err := mem.Create(name)
		if err != nil {
			return nil, err
		}
		f := NewMockFile(ctrl)
		gomock.InOrder(
			f.EXPECT().Write(gomock.Any()).DoAndReturn(real.Write),
			f.EXPECT().Write(gomock.Any()).Return(0, errDiskFull),
		)
		f.EXPECT().Sync().DoAndReturn(real.Sync).AnyTimes()
		f.EXPECT().Close().DoAndReturn(real.Close).AnyTimes()
		return f, nil
	}).Times(1)
	return fsys
}

func TestSegmentedLog_WriteFailureRequiresRecovery(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	logger := &recordingLogger{}
	l, err := New[[]byte](testConfig(), failingWritesFS(t, ctrl), BytesMarshal{}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := l.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	_, err = l.Append(t.Context(), Entry[[]byte]{Term: 1, Content: []byte("a")})
	if !errors.Is(err, ErrRequiresRecovery) {
		t.Fatalf("expected ErrRequiresRecovery, got %v", err)
	}
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("expected the I/O cause to be wrapped, got %v", err)
	}
	if l.AppendIndex() != 0 {
		t.Fatalf("AppendIndex after failed append = %d, want 0", l.AppendIndex())
	}
	if !logger.Contains("raft log requires recovery due to storage error") {
		t.Fatalf("expected the poisoning to be logged")
	}

	// Everything fails fast afterwards, reads included.
	if _, err := l.Append(t.Context(), Entry[[]byte]{Term: 1}); !errors.Is(err, ErrRequiresRecovery) {
		t.Fatalf("Append: expected ErrRequiresRecovery, got %v", err)
	}
	if err := l.Truncate(t.Context(), 1); !errors.Is(err, ErrRequiresRecovery) {
		t.Fatalf("Truncate: expected ErrRequiresRecovery, got %v", err)
	}
	if _, err := l.Skip(t.Context(), 10, 1); !errors.Is(err, ErrRequiresRecovery) {
		t.Fatalf("Skip: expected ErrRequiresRecovery, got %v", err)
	}
	if _, err := l.Prune(t.Context(), 0); !errors.Is(err, ErrRequiresRecovery) {
		t.Fatalf("Prune: expected ErrRequiresRecovery, got %v", err)
	}
	if _, err := l.ReadEntryTerm(0); !errors.Is(err, ErrRequiresRecovery) {
		t.Fatalf("ReadEntryTerm: expected ErrRequiresRecovery, got %v", err)
	}
	if _, err := l.GetEntryCursor(1); !errors.Is(err, ErrRequiresRecovery) {
		t.Fatalf("GetEntryCursor: expected ErrRequiresRecovery, got %v", err)
	}
	if got := l.Status().Status; got != LogStatusRequiresRecovery {
		t.Fatalf("status = %q, want %q", got, LogStatusRequiresRecovery)
	}

	// Shutdown still releases the handles; the pending flush error is reported.
	if err := l.Shutdown(); !errors.Is(err, errDiskFull) {
		t.Fatalf("Shutdown: expected flush error, got %v", err)
	}
}

func TestSegmentedLog_MarshalFailureDoesNotPoison(t *testing.T) {
	t.Parallel()

	_, fsys := newMemFS()
	logger := &recordingLogger{}
	l, err := New[string](testConfig(), fsys, failingMarshal{}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := l.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = l.Shutdown() }()

	if _, err := l.Append(t.Context(), Entry[string]{Term: 1, Content: "bad"}); err == nil {
		t.Fatalf("expected marshal error")
	}
	if _, err := l.Append(t.Context(), Entry[string]{Term: 1, Content: "good"}); err != nil {
		t.Fatalf("Append() after marshal error = %v", err)
	}
	e, err := l.ReadEntry(1)
	if err != nil || e.Content != "good" {
		t.Fatalf("ReadEntry(1) = %+v, %v", e, err)
	}
}

type failingMarshal struct{}

func (failingMarshal) Marshal(s string) ([]byte, error) {
	if s == "bad" {
		return nil, errors.New("cannot marshal")
	}
	return []byte(s), nil
}

func (failingMarshal) Unmarshal(b []byte) (string, error) { return string(b), nil }
