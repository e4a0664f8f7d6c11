package raftlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
)

var errSegmentReadOnly = errors.New("segment closed for writing")

// segmentFile is one on-disk segment: a header followed by consecutive entries.
//
// Writes are staged through a buffered writer and become visible to readers only
// after flush, so readers never observe a partially written record. Only the
// log's writer goroutine calls write/flush/closeWriter/truncateFrom.
type segmentFile struct {
	fsys   FileSystem
	path   string
	header Header

	// writer state, owned by the log's exclusive section;
	// writer is also read under mu by info
	writer     File
	buf        *bufio.Writer
	pending    []int64
	pendingEnd int64
	stageTerm  int64

	mu       sync.RWMutex
	offsets  []int64 // offsets[i] holds index header.PrevIndex+1+i
	size     int64   // published bytes, header included
	lastTerm int64
	removed  bool

	// reader serves point reads for the segment's lifetime; nil once closed.
	// readMu serializes ReadAt since not every File allows concurrent use.
	reader File
	readMu sync.Mutex
}

// createSegmentFile creates a new segment file, writes its header and syncs it.
func createSegmentFile(fsys FileSystem, path string, header Header) (*segmentFile, error) {
	f, err := fsys.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create segment %s: %w", path, err)
	}

	s := &segmentFile{
		fsys:       fsys,
		path:       path,
		header:     header,
		writer:     f,
		buf:        bufio.NewWriter(f),
		pendingEnd: HeaderSize,
		size:       HeaderSize,
		lastTerm:   header.PrevTerm,
		stageTerm:  header.PrevTerm,
	}
	if _, err := s.buf.Write(encodeHeader(header)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write segment header %s: %w", path, err)
	}
	if err := s.buf.Flush(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write segment header %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("sync segment header %s: %w", path, err)
	}
	if s.reader, err = fsys.Open(path); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	return s, nil
}

// newRecoveredSegmentFile wraps a segment validated by recovery. It starts closed for writing.
func newRecoveredSegmentFile(fsys FileSystem, path string, scan segmentScan) (*segmentFile, error) {
	r, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	return &segmentFile{
		fsys:       fsys,
		path:       path,
		header:     scan.header,
		offsets:    scan.offsets,
		size:       scan.validSize,
		lastTerm:   scan.lastTerm,
		pendingEnd: scan.validSize,
		stageTerm:  scan.lastTerm,
		reader:     r,
	}, nil
}

func (s *segmentFile) version() int64 { return s.header.Version }

// openWriter reopens a closed segment for appending at its published end.
func (s *segmentFile) openWriter() error {
	if s.writer != nil {
		return nil
	}
	f, err := s.fsys.OpenAppend(s.path)
	if err != nil {
		return fmt.Errorf("open segment %s for append: %w", s.path, err)
	}
	s.mu.RLock()
	size := s.size
	s.mu.RUnlock()
	if _, err := f.Seek(size, io.SeekStart); err != nil {
		_ = f.Close()
		return fmt.Errorf("seek segment %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.writer = f
	s.mu.Unlock()
	s.buf = bufio.NewWriter(f)
	s.pendingEnd = size
	return nil
}

// write stages one record. It is not visible or durable until flush.
func (s *segmentFile) write(index, term int64, content []byte) error {
	if s.writer == nil {
		return errSegmentReadOnly
	}
	rec := appendRecord(nil, rawRecord{index: index, term: term, content: content})
	if _, err := s.buf.Write(rec); err != nil {
		return err
	}
	s.pending = append(s.pending, s.pendingEnd)
	s.pendingEnd += int64(len(rec))
	s.stageTerm = term
	return nil
}

// flush makes staged records durable, then publishes them to readers.
func (s *segmentFile) flush() error {
	if s.writer == nil {
		return errSegmentReadOnly
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if err := s.writer.Sync(); err != nil {
		return err
	}

	s.mu.Lock()
	s.offsets = append(s.offsets, s.pending...)
	s.size = s.pendingEnd
	s.lastTerm = s.stageTerm
	s.mu.Unlock()
	s.pending = s.pending[:0]
	return nil
}

// position returns the write position, staged records included. It drives rotation.
func (s *segmentFile) position() int64 { return s.pendingEnd }

// closeWriter flushes and closes the write handle. The segment stays readable.
func (s *segmentFile) closeWriter() error {
	if s.writer == nil {
		return nil
	}
	flushErr := s.flush()
	closeErr := s.writer.Close()
	s.mu.Lock()
	s.writer = nil
	s.mu.Unlock()
	s.buf = nil
	return errors.Join(flushErr, closeErr)
}

// truncateFrom physically drops every entry with index >= fromIndex.
// lastTerm is the term of the entry that becomes the segment's last one.
// The segment is left open for writing.
func (s *segmentFile) truncateFrom(fromIndex, lastTerm int64) error {
	if err := s.openWriter(); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	s.buf.Reset(s.writer)

	s.mu.Lock()
	defer s.mu.Unlock()

	keep := fromIndex - s.header.PrevIndex - 1
	if keep < 0 {
		keep = 0
	}
	if keep >= int64(len(s.offsets)) {
		s.pendingEnd = s.size
		return nil
	}
	newSize := s.offsets[keep]
	if err := s.writer.Truncate(newSize); err != nil {
		return fmt.Errorf("truncate segment %s: %w", s.path, err)
	}
	if _, err := s.writer.Seek(newSize, io.SeekStart); err != nil {
		return fmt.Errorf("seek segment %s: %w", s.path, err)
	}
	if err := s.writer.Sync(); err != nil {
		return fmt.Errorf("sync segment %s: %w", s.path, err)
	}
	s.offsets = s.offsets[:keep]
	s.size = newSize
	s.pendingEnd = newSize
	if keep == 0 {
		lastTerm = s.header.PrevTerm
	}
	s.lastTerm = lastTerm
	s.stageTerm = lastTerm
	return nil
}

// closeReader releases the shared read handle. Later point reads find nothing.
func (s *segmentFile) closeReader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

// remove closes the segment and deletes its file.
func (s *segmentFile) remove() error {
	closeErr := errors.Join(s.closeWriter(), s.closeReader())
	s.mu.Lock()
	s.removed = true
	s.mu.Unlock()
	if err := s.fsys.Remove(s.path); err != nil {
		return errors.Join(closeErr, fmt.Errorf("remove segment %s: %w", s.path, err))
	}
	return closeErr
}

func (s *segmentFile) lastIndex() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.header.PrevIndex + int64(len(s.offsets))
}

func (s *segmentFile) info() SegmentInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SegmentInfo{
		Version:   s.header.Version,
		PrevIndex: s.header.PrevIndex,
		PrevTerm:  s.header.PrevTerm,
		LastIndex: s.header.PrevIndex + int64(len(s.offsets)),
		LastTerm:  s.lastTerm,
		Entries:   len(s.offsets),
		Size:      s.size,
		Writable:  s.writer != nil,
	}
}

// read returns the published record holding index through the shared handle.
func (s *segmentFile) read(index int64) (rawRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reader == nil {
		return rawRecord{}, false, nil
	}
	return s.readLocked(serialReaderAt{mu: &s.readMu, r: s.reader}, index)
}

// readLocked reads the published record holding index. Caller must hold s.mu.
func (s *segmentFile) readLocked(f io.ReaderAt, index int64) (rawRecord, bool, error) {
	rel := index - s.header.PrevIndex - 1
	if s.removed || rel < 0 || rel >= int64(len(s.offsets)) {
		return rawRecord{}, false, nil
	}
	start := s.offsets[rel]
	end := s.size
	if rel+1 < int64(len(s.offsets)) {
		end = s.offsets[rel+1]
	}

	buf := make([]byte, end-start)
	if n, err := f.ReadAt(buf, start); n < len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return rawRecord{}, false, fmt.Errorf("read segment %s at %d: %w", s.path, start, err)
	}
	rec, err := decodeRecord(buf)
	if err != nil {
		return rawRecord{}, false, damagedf("segment %s record at %d: %v", s.path, start, err)
	}
	if rec.index != index {
		return rawRecord{}, false, damagedf("segment %s holds index %d where %d was expected", s.path, rec.index, index)
	}
	return rec, true, nil
}

type serialReaderAt struct {
	mu *sync.Mutex
	r  io.ReaderAt
}

func (r serialReaderAt) ReadAt(p []byte, off int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.ReadAt(p, off)
}

// cursor opens an independent read handle positioned at fromIndex.
func (s *segmentFile) cursor(fromIndex int64) (*segmentCursor, error) {
	f, err := s.fsys.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", s.path, err)
	}
	return &segmentCursor{seg: s, file: f, next: fromIndex}, nil
}

// segmentCursor reads published records of one segment in index order.
type segmentCursor struct {
	seg    *segmentFile
	file   File
	next   int64
	offset int64
	length int64
}

// advance returns the next record, or false once the segment holds no more published entries.
func (c *segmentCursor) advance() (rawRecord, bool, error) {
	c.seg.mu.RLock()
	defer c.seg.mu.RUnlock()

	rec, ok, err := c.seg.readLocked(c.file, c.next)
	if err != nil || !ok {
		return rawRecord{}, false, err
	}
	rel := c.next - c.seg.header.PrevIndex - 1
	c.offset = c.seg.offsets[rel]
	if rel+1 < int64(len(c.seg.offsets)) {
		c.length = c.seg.offsets[rel+1] - c.offset
	} else {
		c.length = c.seg.size - c.offset
	}
	c.next++
	return rec, true, nil
}

func (c *segmentCursor) close() error {
	return c.file.Close()
}
