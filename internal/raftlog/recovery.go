package raftlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
)

// segmentScan is the result of validating one segment file.
type segmentScan struct {
	header    Header
	offsets   []int64
	validSize int64
	fileSize  int64
	lastTerm  int64

	// headerless is set for a final segment too short to hold a valid header.
	headerless bool
	// tornBytes counts bytes after validSize left by an interrupted append.
	tornBytes int64
}

func (s segmentScan) lastIndex() int64 { return s.header.PrevIndex + int64(len(s.offsets)) }

// scanSegment validates the header and every record of a segment file.
// In the final segment an interrupted append (torn record, checksum mismatch on
// the very last record, zero-filled tail) is reported through tornBytes instead
// of failing; anywhere else it is damage.
func scanSegment(fsys FileSystem, path string, version int64, final bool, visit func(EntryRecord[[]byte])) (segmentScan, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return segmentScan{}, fmt.Errorf("open segment %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return segmentScan{}, fmt.Errorf("stat segment %s: %w", path, err)
	}
	size := fi.Size()
	scan := segmentScan{fileSize: size}

	if size < HeaderSize {
		if final {
			scan.headerless = true
			return scan, nil
		}
		return scan, damagedf("segment %s is %d bytes, shorter than its header", path, size)
	}

	hdr := make([]byte, HeaderSize)
	if _, err := f.ReadAt(hdr, 0); err != nil && !errors.Is(err, io.EOF) {
		return scan, fmt.Errorf("read header %s: %w", path, err)
	}
	header, err := decodeHeader(hdr)
	if err != nil {
		if final && size == HeaderSize {
			scan.headerless = true
			return scan, nil
		}
		return scan, damagedf("segment %s: %v", path, err)
	}
	if header.Version != version {
		return scan, damagedf("segment %s header carries version %d", path, header.Version)
	}
	scan.header = header
	scan.lastTerm = header.PrevTerm
	scan.validSize = HeaderSize

	r := bufio.NewReader(io.NewSectionReader(f, HeaderSize, size-HeaderSize))
	offset := int64(HeaderSize)
	for {
		rec, n, err := readRecord(r, size-offset)
		if errors.Is(err, io.EOF) {
			return scan, nil
		}
		if err != nil {
			if errors.Is(err, errTornRecord) ||
				((errors.Is(err, errRecordChecksum) || errors.Is(err, errMalformed)) && offset+n == size) {
				if final {
					scan.tornBytes = size - offset
					return scan, nil
				}
				return scan, damagedf("segment %s record at %d: %v", path, offset, err)
			}
			if errors.Is(err, errRecordChecksum) || errors.Is(err, errMalformed) {
				if final {
					zero, zerr := zeroTail(f, offset, size)
					if zerr != nil {
						return scan, zerr
					}
					if zero {
						scan.tornBytes = size - offset
						return scan, nil
					}
				}
				return scan, damagedf("segment %s record at %d: %v", path, offset, err)
			}
			return scan, fmt.Errorf("read segment %s: %w", path, err)
		}

		expected := scan.lastIndex() + 1
		if rec.index != expected {
			return scan, damagedf("segment %s holds index %d at %d where %d was expected", path, rec.index, offset, expected)
		}
		if rec.term < scan.lastTerm {
			return scan, damagedf("segment %s index %d has term %d below %d", path, rec.index, rec.term, scan.lastTerm)
		}
		if visit != nil {
			visit(EntryRecord[[]byte]{
				Index:   rec.index,
				Entry:   Entry[[]byte]{Term: rec.term, Content: rec.content},
				Version: version,
				Offset:  offset,
				Length:  n,
			})
		}
		scan.offsets = append(scan.offsets, offset)
		scan.lastTerm = rec.term
		offset += n
		scan.validSize = offset
	}
}

// zeroTail reports whether every byte in [from, to) is zero, as left by preallocation.
func zeroTail(f File, from, to int64) (bool, error) {
	buf := make([]byte, 32*1024)
	for off := from; off < to; {
		n := int64(len(buf))
		if to-off < n {
			n = to - off
		}
		if _, err := f.ReadAt(buf[:n], off); err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		for _, b := range buf[:n] {
			if b != 0 {
				return false, nil
			}
		}
		off += n
	}
	return true, nil
}

// recoveredState is the log state reconstructed at startup.
type recoveredState struct {
	segments    *segments
	appendIndex int64
	currentTerm int64
	prevIndex   int64
	prevTerm    int64
	tornRecords int
}

// recoveryProtocol rebuilds the log state from the segment files in a directory.
type recoveryProtocol struct {
	fsys   FileSystem
	names  FileNames
	logger Logger
}

func (p recoveryProtocol) run() (_ recoveredState, err error) {
	if err := p.fsys.MkdirAll(p.names.Dir()); err != nil {
		return recoveredState{}, fmt.Errorf("create log directory %s: %w", p.names.Dir(), err)
	}
	versions, err := p.names.Versions(p.fsys)
	if err != nil {
		return recoveredState{}, err
	}

	segs := newSegments(p.fsys, p.names)
	defer func() {
		if err != nil {
			_ = segs.close()
		}
	}()
	if len(versions) == 0 {
		if _, err := segs.create(0, 0, 0); err != nil {
			return recoveredState{}, err
		}
		p.logger.Info("initialized empty raft log", "dir", p.names.Dir())
		return recoveredState{segments: segs}, nil
	}
	var (
		state    = recoveredState{segments: segs}
		prevScan *segmentScan
	)
	for i, v := range versions {
		path := p.names.Path(v)
		final := i == len(versions)-1

		scan, err := scanSegment(p.fsys, path, v, final, nil)
		if err != nil {
			return recoveredState{}, err
		}

		if scan.headerless {
			p.logger.Warn("removing segment without a valid header", "path", path, "size", scan.fileSize)
			if err := p.fsys.Remove(path); err != nil {
				return recoveredState{}, fmt.Errorf("remove segment %s: %w", path, err)
			}
			if err := p.fsys.SyncDir(p.names.Dir()); err != nil {
				return recoveredState{}, fmt.Errorf("sync dir %s: %w", p.names.Dir(), err)
			}
			state.tornRecords++
			segs.reserve(v)
			if prevScan == nil {
				if _, err := segs.create(v, 0, 0); err != nil {
					return recoveredState{}, err
				}
			}
			break
		}

		if scan.tornBytes > 0 {
			p.logger.Warn("discarding partially written record",
				"path", path,
				"offset", scan.validSize,
				"bytes", scan.tornBytes,
			)
			if err := trimSegment(p.fsys, path, scan.validSize); err != nil {
				return recoveredState{}, err
			}
			state.tornRecords++
		}

		if prevScan == nil {
			state.prevIndex = scan.header.PrevIndex
			state.prevTerm = scan.header.PrevTerm
		} else {
			prevLast := prevScan.lastIndex()
			switch {
			case scan.header.PrevIndex < prevLast:
				return recoveredState{}, damagedf("segment %s starts after index %d, overlapping previous segment ending at %d",
					path, scan.header.PrevIndex, prevLast)
			case scan.header.PrevIndex == prevLast && scan.header.PrevTerm != prevScan.lastTerm:
				return recoveredState{}, damagedf("segment %s header term %d does not match previous segment term %d",
					path, scan.header.PrevTerm, prevScan.lastTerm)
			case scan.header.PrevIndex > prevLast:
				// A gap is left by skip; everything before it is gone.
				state.prevIndex = scan.header.PrevIndex
				state.prevTerm = scan.header.PrevTerm
			}
		}

		seg, err := newRecoveredSegmentFile(p.fsys, path, scan)
		if err != nil {
			return recoveredState{}, err
		}
		segs.add(seg)
		prevScan = &scan
	}

	last := segs.last()
	if err := last.openWriter(); err != nil {
		return recoveredState{}, err
	}
	info := last.info()
	state.appendIndex = info.LastIndex
	state.currentTerm = info.LastTerm

	p.logger.Info("recovered raft log",
		"dir", p.names.Dir(),
		"segments", segs.count(),
		"prev_index", state.prevIndex,
		"append_index", state.appendIndex,
		"current_term", state.currentTerm,
	)
	return state, nil
}

func trimSegment(fsys FileSystem, path string, size int64) error {
	f, err := fsys.OpenAppend(path)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", path, err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return fmt.Errorf("trim segment %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync segment %s: %w", path, err)
	}
	return f.Close()
}

// SegmentReport describes one segment file as found on disk.
type SegmentReport struct {
	File      string      `json:"file"`
	Info      SegmentInfo `json:"info"`
	TornBytes int64       `json:"torn_bytes,omitempty"`
	Damage    string      `json:"damage,omitempty"`
}

// InspectReport is the outcome of an offline scan of a log directory.
type InspectReport struct {
	Directory   string          `json:"directory"`
	Segments    []SegmentReport `json:"segments"`
	PrevIndex   int64           `json:"prev_index"`
	AppendIndex int64           `json:"append_index"`
	Damaged     bool            `json:"damaged"`
}

// Inspect scans a log directory without modifying it. Damage is reported in the
// result rather than returned; only I/O failures produce an error. visit, if set,
// is called for every intact entry in log order.
func Inspect(fsys FileSystem, dir string, visit func(EntryRecord[[]byte])) (InspectReport, error) {
	if fsys == nil {
		return InspectReport{}, ErrNilFileSystem
	}
	names := NewFileNames(dir)
	versions, err := names.Versions(fsys)
	if err != nil {
		return InspectReport{}, err
	}

	report := InspectReport{Directory: dir}
	var prevScan *segmentScan
	for i, v := range versions {
		path := names.Path(v)
		sr := SegmentReport{File: filepath.Base(path)}

		scan, err := scanSegment(fsys, path, v, i == len(versions)-1, visit)
		if err != nil {
			if !errors.Is(err, ErrDamagedLogStorage) {
				return report, err
			}
			sr.Damage = err.Error()
		}
		switch {
		case scan.headerless:
			sr.TornBytes = scan.fileSize
		case err == nil:
			sr.TornBytes = scan.tornBytes
			sr.Info = SegmentInfo{
				Version:   scan.header.Version,
				PrevIndex: scan.header.PrevIndex,
				PrevTerm:  scan.header.PrevTerm,
				LastIndex: scan.lastIndex(),
				LastTerm:  scan.lastTerm,
				Entries:   len(scan.offsets),
				Size:      scan.fileSize,
			}
			if prevScan == nil || scan.header.PrevIndex > prevScan.lastIndex() {
				report.PrevIndex = scan.header.PrevIndex
			} else if scan.header.PrevIndex < prevScan.lastIndex() {
				sr.Damage = fmt.Sprintf("header index %d overlaps previous segment ending at %d",
					scan.header.PrevIndex, prevScan.lastIndex())
			}
			report.AppendIndex = scan.lastIndex()
			s := scan
			prevScan = &s
		}
		if sr.Damage != "" {
			report.Damaged = true
		}
		report.Segments = append(report.Segments, sr)
	}
	return report, nil
}
