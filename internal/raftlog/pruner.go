package raftlog

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PruningStrategy picks the highest index whose segment files may be discarded.
// segs is ordered oldest first and is never empty; the last element is the
// segment open for writing. A result below 1 means nothing may be pruned.
// The log additionally clamps the result to the safe index and to the writable segment.
type PruningStrategy interface {
	PruneIndex(safeIndex int64, segs []SegmentInfo) int64
	String() string
}

// ParsePruningStrategy parses a descriptor:
//
//	"keep_all" | "false" | ""   never prune
//	"keep_none" | "true"        prune everything up to the safe index
//	"<n> files"                 keep the newest n segment files
//	"<n> entries"               keep at least the newest n entries
//	"<n>[k|m|g] size"           keep the newest segments fitting in n bytes
func ParsePruningStrategy(desc string) (PruningStrategy, error) {
	desc = strings.ToLower(strings.TrimSpace(desc))
	switch desc {
	case "", "keep_all", "false":
		return keepAll{}, nil
	case "keep_none", "true":
		return keepNone{}, nil
	}

	fields := strings.Fields(desc)
	if len(fields) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPruningStrategy, desc)
	}
	value, unit := fields[0], fields[1]

	switch unit {
	case "files":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: %q: file count must be a positive integer", ErrInvalidPruningStrategy, desc)
		}
		return keepFiles(n), nil
	case "entries", "txs":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q: entry count must be a non-negative integer", ErrInvalidPruningStrategy, desc)
		}
		return keepEntries(n), nil
	case "size":
		n, err := parseByteSize(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPruningStrategy, desc, err)
		}
		return keepSize(n), nil
	default:
		return nil, fmt.Errorf("%w: %q: unknown unit %q", ErrInvalidPruningStrategy, desc, unit)
	}
}

func parseByteSize(s string) (int64, error) {
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "k"):
		mult, s = 1<<10, strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		mult, s = 1<<20, strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "g"):
		mult, s = 1<<30, strings.TrimSuffix(s, "g")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("size must be a positive integer")
	}
	if n > math.MaxInt64/mult {
		return 0, fmt.Errorf("size %d overflows int64 bytes", n)
	}
	return n * mult, nil
}

type keepAll struct{}

func (keepAll) PruneIndex(int64, []SegmentInfo) int64 { return -1 }
func (keepAll) String() string                        { return "keep_all" }

type keepNone struct{}

func (keepNone) PruneIndex(safeIndex int64, _ []SegmentInfo) int64 { return safeIndex }
func (keepNone) String() string                                    { return "keep_none" }

type keepFiles int

func (k keepFiles) PruneIndex(_ int64, segs []SegmentInfo) int64 {
	n := int(k)
	if len(segs) <= n {
		return -1
	}
	return segs[len(segs)-n-1].LastIndex
}

func (k keepFiles) String() string { return fmt.Sprintf("%d files", int(k)) }

type keepEntries int64

func (k keepEntries) PruneIndex(_ int64, segs []SegmentInfo) int64 {
	return segs[len(segs)-1].LastIndex - int64(k)
}

func (k keepEntries) String() string { return fmt.Sprintf("%d entries", int64(k)) }

type keepSize int64

func (k keepSize) PruneIndex(_ int64, segs []SegmentInfo) int64 {
	total := segs[len(segs)-1].Size
	for i := len(segs) - 2; i >= 0; i-- {
		total += segs[i].Size
		if total > int64(k) {
			return segs[i].LastIndex
		}
	}
	return -1
}

func (k keepSize) String() string { return fmt.Sprintf("%d size", int64(k)) }
