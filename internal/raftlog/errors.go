package raftlog

import (
	"errors"
	"fmt"
)

var (
	// ErrDamagedLogStorage is returned when recovery finds corruption that is not
	// explained by a crash in the middle of an append.
	ErrDamagedLogStorage = errors.New("raftlog: damaged log storage")

	// ErrRequiresRecovery is returned by every operation after a write failure.
	// The log must be restarted so recovery can run again.
	ErrRequiresRecovery = errors.New("raftlog: log requires recovery")

	// ErrNonMonotonicTerm is returned when an entry's term is below the current term.
	ErrNonMonotonicTerm = errors.New("raftlog: non-monotonic term")

	// ErrInvalidTruncation is returned when the truncation index is out of range.
	ErrInvalidTruncation = errors.New("raftlog: invalid truncation")

	// ErrDisposed is returned on use after Shutdown and on a second Shutdown.
	ErrDisposed = errors.New("raftlog: log disposed")

	// ErrNotStarted is returned when an operation runs before Start.
	ErrNotStarted = errors.New("raftlog: log not started")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("raftlog: log already started")

	// ErrEntryNotFound is returned by ReadEntry for indexes that are not retained.
	ErrEntryNotFound = errors.New("raftlog: entry not found")

	// ErrInvalidPruningStrategy is returned for unparseable pruning descriptors.
	ErrInvalidPruningStrategy = errors.New("raftlog: invalid pruning strategy")
)

// ErrNilFileSystem is returned when New is called with a nil FileSystem.
var ErrNilFileSystem = errors.New("raftlog: nil file system")

// ErrNilMarshal is returned when New is called with a nil ContentMarshal.
var ErrNilMarshal = errors.New("raftlog: nil content marshal")

// ErrNilLogger is returned when New is called with a nil logger.
var ErrNilLogger = errors.New("raftlog: nil logger")

func damagedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDamagedLogStorage, fmt.Sprintf(format, args...))
}
