package raftlog

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"
)

// segments is the ordered set of segment files keyed by version.
// Versions increase and are never reused; truncation can leave gaps. Only the
// highest one is open for writing.
//
// Mutations are serialized by the log; lookups (forIndex, next) may run concurrently with them.
type segments struct {
	fsys  FileSystem
	names FileNames

	files       *skipmap.FuncMap[int64, *segmentFile]
	lastVersion atomic.Int64
	nextVersion int64
}

func newSegments(fsys FileSystem, names FileNames) *segments {
	return &segments{
		fsys:  fsys,
		names: names,
		files: skipmap.NewFunc[int64, *segmentFile](func(a, b int64) bool { return a < b }),
	}
}

// add registers a segment; its version must exceed every registered one.
func (s *segments) add(seg *segmentFile) {
	s.files.Store(seg.version(), seg)
	s.lastVersion.Store(seg.version())
	s.reserve(seg.version())
}

// reserve keeps version and everything below it from being handed out again.
func (s *segments) reserve(version int64) {
	s.nextVersion = max(s.nextVersion, version+1)
}

// last returns the current (highest version) segment.
func (s *segments) last() *segmentFile {
	seg, _ := s.files.Load(s.lastVersion.Load())
	return seg
}

// first returns the oldest retained segment.
func (s *segments) first() *segmentFile {
	var oldest *segmentFile
	s.files.Range(func(_ int64, seg *segmentFile) bool {
		oldest = seg
		return false
	})
	return oldest
}

// next returns the segment following version, if any.
func (s *segments) next(version int64) (*segmentFile, bool) {
	var found *segmentFile
	s.files.Range(func(v int64, seg *segmentFile) bool {
		if v > version {
			found = seg
			return false
		}
		return true
	})
	return found, found != nil
}

// forIndex returns the segment owning index: the newest one whose header precedes it.
// Header prev indexes never decrease with version.
func (s *segments) forIndex(index int64) (*segmentFile, bool) {
	var owner *segmentFile
	s.files.Range(func(_ int64, seg *segmentFile) bool {
		if seg.header.PrevIndex >= index {
			return false
		}
		owner = seg
		return true
	})
	return owner, owner != nil
}

func (s *segments) count() int { return s.files.Len() }

// rotate closes the current segment for writing and starts the next version with
// a header pointing at (prevIndex, prevTerm).
func (s *segments) rotate(prevIndex, prevTerm int64) (*segmentFile, error) {
	if cur := s.last(); cur != nil {
		if err := cur.closeWriter(); err != nil {
			return nil, fmt.Errorf("close segment %d: %w", cur.version(), err)
		}
	}
	return s.create(s.nextVersion, prevIndex, prevTerm)
}

// create writes a fresh segment file with the given version and registers it as the last one.
func (s *segments) create(version, prevIndex, prevTerm int64) (*segmentFile, error) {
	seg, err := createSegmentFile(s.fsys, s.names.Path(version), Header{
		Version:   version,
		PrevIndex: prevIndex,
		PrevTerm:  prevTerm,
	})
	if err != nil {
		return nil, err
	}
	if err := s.fsys.SyncDir(s.names.Dir()); err != nil {
		_ = seg.closeWriter()
		_ = seg.closeReader()
		return nil, fmt.Errorf("sync dir %s: %w", s.names.Dir(), err)
	}
	s.add(seg)
	return seg, nil
}

// skip abandons everything after the current append index and starts a new
// segment whose header carries the caller-supplied boundary.
func (s *segments) skip(newIndex, newTerm int64) (*segmentFile, error) {
	return s.rotate(newIndex, newTerm)
}

// truncate drops every entry with index >= fromIndex. Trailing segments that
// start at or after fromIndex are deleted newest-first; the owning segment is
// shortened in place and becomes writable. lastTerm is the term at fromIndex-1.
// The versions of deleted segments stay reserved.
func (s *segments) truncate(fromIndex, lastTerm int64) (*segmentFile, error) {
	owner, ok := s.forIndex(fromIndex)
	if !ok {
		return nil, fmt.Errorf("no segment owns index %d", fromIndex)
	}

	var trailing []*segmentFile
	s.files.Range(func(v int64, seg *segmentFile) bool {
		if v > owner.version() {
			trailing = append(trailing, seg)
		}
		return true
	})
	for i := len(trailing) - 1; i >= 0; i-- {
		seg := trailing[i]
		if err := seg.remove(); err != nil {
			return nil, err
		}
		s.files.Delete(seg.version())
		if i > 0 {
			s.lastVersion.Store(trailing[i-1].version())
		} else {
			s.lastVersion.Store(owner.version())
		}
	}
	if len(trailing) > 0 {
		if err := s.fsys.SyncDir(s.names.Dir()); err != nil {
			return nil, fmt.Errorf("sync dir %s: %w", s.names.Dir(), err)
		}
	}

	if err := owner.truncateFrom(fromIndex, lastTerm); err != nil {
		return nil, err
	}
	return owner, nil
}

// prune deletes the oldest segments whose entries all lie at or below pruneIndex.
// The writable segment is never deleted. It returns the oldest retained segment
// and the number of deleted files.
func (s *segments) prune(pruneIndex int64) (*segmentFile, int, error) {
	lastVersion := s.lastVersion.Load()

	var victims []*segmentFile
	s.files.Range(func(v int64, seg *segmentFile) bool {
		if v == lastVersion || seg.lastIndex() > pruneIndex {
			return false
		}
		victims = append(victims, seg)
		return true
	})

	deleted := 0
	for _, seg := range victims {
		if err := seg.remove(); err != nil {
			return nil, deleted, err
		}
		s.files.Delete(seg.version())
		deleted++
	}
	if deleted > 0 {
		if err := s.fsys.SyncDir(s.names.Dir()); err != nil {
			return nil, deleted, fmt.Errorf("sync dir %s: %w", s.names.Dir(), err)
		}
	}
	return s.first(), deleted, nil
}

// infos describes every segment, oldest first.
func (s *segments) infos() []SegmentInfo {
	out := make([]SegmentInfo, 0, s.files.Len())
	s.files.Range(func(_ int64, seg *segmentFile) bool {
		out = append(out, seg.info())
		return true
	})
	return out
}

// close releases every file handle. Segments remain registered but unreadable
// through the shared handle.
func (s *segments) close() error {
	var errs []error
	s.files.Range(func(v int64, seg *segmentFile) bool {
		if err := errors.Join(seg.closeWriter(), seg.closeReader()); err != nil {
			errs = append(errs, fmt.Errorf("close segment %d: %w", v, err))
		}
		return true
	})
	return errors.Join(errs...)
}
