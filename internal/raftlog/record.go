package raftlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Segment file layout:
//
//	[HEADER][RECORD]*
//
//	HEADER: magic u32 | format u32 | version i64 | prevIndex i64 | prevTerm i64 | crc32c u32
//	RECORD: bodyLen u32 | crc32c(body) u32 | body
//
// The record body is protobuf wire encoded: {1: index, 2: term, 3: content}.
const (
	headerMagic   uint32 = 0x52414654 // "RAFT"
	formatVersion uint32 = 1

	// HeaderSize is the fixed size of a segment header in bytes.
	HeaderSize = 36

	recordPrefixSize = 8
)

const (
	fieldIndex   protowire.Number = 1
	fieldTerm    protowire.Number = 2
	fieldContent protowire.Number = 3
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var (
	errTornRecord     = errors.New("torn record")
	errRecordChecksum = errors.New("record checksum mismatch")
	errMalformed      = errors.New("malformed record")
)

// rawRecord is an entry as stored: content is still in marshaled form.
type rawRecord struct {
	index   int64
	term    int64
	content []byte
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], headerMagic)
	binary.BigEndian.PutUint32(buf[4:8], formatVersion)
	binary.BigEndian.PutUint64(buf[8:16], uint64(h.Version))
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.PrevIndex))
	binary.BigEndian.PutUint64(buf[24:32], uint64(h.PrevTerm))
	binary.BigEndian.PutUint32(buf[32:36], crc32.Checksum(buf[:32], castagnoli))
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("header: %w", errTornRecord)
	}
	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != headerMagic {
		return Header{}, fmt.Errorf("header: bad magic %#x", magic)
	}
	if v := binary.BigEndian.Uint32(buf[4:8]); v != formatVersion {
		return Header{}, fmt.Errorf("header: unsupported format version %d", v)
	}
	if sum := crc32.Checksum(buf[:32], castagnoli); sum != binary.BigEndian.Uint32(buf[32:36]) {
		return Header{}, fmt.Errorf("header: %w", errRecordChecksum)
	}
	return Header{
		Version:   int64(binary.BigEndian.Uint64(buf[8:16])),
		PrevIndex: int64(binary.BigEndian.Uint64(buf[16:24])),
		PrevTerm:  int64(binary.BigEndian.Uint64(buf[24:32])),
	}, nil
}

func appendRecord(dst []byte, r rawRecord) []byte {
	body := make([]byte, 0, len(r.content)+24)
	body = protowire.AppendTag(body, fieldIndex, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(r.index))
	body = protowire.AppendTag(body, fieldTerm, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(r.term))
	body = protowire.AppendTag(body, fieldContent, protowire.BytesType)
	body = protowire.AppendBytes(body, r.content)

	var prefix [recordPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[0:4], uint32(len(body)))
	binary.BigEndian.PutUint32(prefix[4:8], crc32.Checksum(body, castagnoli))
	dst = append(dst, prefix[:]...)
	return append(dst, body...)
}

// readRecord reads the next record from r. remaining is the number of bytes
// left in the file; a record claiming more than that is reported as torn.
// The returned size is the full record length and is valid for checksum errors too.
func readRecord(r io.Reader, remaining int64) (rawRecord, int64, error) {
	if remaining == 0 {
		return rawRecord{}, 0, io.EOF
	}
	if remaining < recordPrefixSize {
		return rawRecord{}, 0, errTornRecord
	}

	var prefix [recordPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return rawRecord{}, 0, errTornRecord
		}
		return rawRecord{}, 0, err
	}
	bodyLen := int64(binary.BigEndian.Uint32(prefix[0:4]))
	size := recordPrefixSize + bodyLen
	if size > remaining {
		return rawRecord{}, 0, errTornRecord
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return rawRecord{}, 0, errTornRecord
		}
		return rawRecord{}, 0, err
	}
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(prefix[4:8]) {
		return rawRecord{}, size, errRecordChecksum
	}

	rec, err := decodeRecordBody(body)
	if err != nil {
		return rawRecord{}, size, err
	}
	return rec, size, nil
}

// decodeRecord decodes one complete framed record held in buf.
func decodeRecord(buf []byte) (rawRecord, error) {
	if len(buf) < recordPrefixSize {
		return rawRecord{}, errTornRecord
	}
	bodyLen := int(binary.BigEndian.Uint32(buf[0:4]))
	if len(buf) != recordPrefixSize+bodyLen {
		return rawRecord{}, fmt.Errorf("%w: frame length %d, have %d bytes", errMalformed, bodyLen, len(buf)-recordPrefixSize)
	}
	body := buf[recordPrefixSize:]
	if crc32.Checksum(body, castagnoli) != binary.BigEndian.Uint32(buf[4:8]) {
		return rawRecord{}, errRecordChecksum
	}
	return decodeRecordBody(body)
}

func decodeRecordBody(body []byte) (rawRecord, error) {
	var (
		rec      rawRecord
		hasIndex bool
		hasTerm  bool
	)
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return rawRecord{}, fmt.Errorf("%w: %v", errMalformed, protowire.ParseError(n))
		}
		body = body[n:]

		switch {
		case num == fieldIndex && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(body)
			if m < 0 {
				return rawRecord{}, fmt.Errorf("%w: index: %v", errMalformed, protowire.ParseError(m))
			}
			rec.index, hasIndex = int64(v), true
			n = m
		case num == fieldTerm && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(body)
			if m < 0 {
				return rawRecord{}, fmt.Errorf("%w: term: %v", errMalformed, protowire.ParseError(m))
			}
			rec.term, hasTerm = int64(v), true
			n = m
		case num == fieldContent && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(body)
			if m < 0 {
				return rawRecord{}, fmt.Errorf("%w: content: %v", errMalformed, protowire.ParseError(m))
			}
			rec.content = v
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return rawRecord{}, fmt.Errorf("%w: field %d: %v", errMalformed, num, protowire.ParseError(n))
			}
		}
		body = body[n:]
	}
	if !hasIndex || !hasTerm {
		return rawRecord{}, fmt.Errorf("%w: missing index or term", errMalformed)
	}
	return rec, nil
}
