package raftstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/raft"
	"google.golang.org/protobuf/encoding/protowire"
)

// Payload is the part of a raft.Log that is stored as entry content.
// Index and term live in the segmented log record itself.
type Payload struct {
	Type       raft.LogType
	Data       []byte
	Extensions []byte
	AppendedAt time.Time
}

const (
	fieldType       protowire.Number = 1
	fieldData       protowire.Number = 2
	fieldExtensions protowire.Number = 3
	fieldAppendedAt protowire.Number = 4
)

var errMalformedPayload = errors.New("raftstore: malformed payload")

// PayloadMarshal encodes a Payload as protobuf wire fields.
type PayloadMarshal struct{}

// Marshal implements raftlog.ContentMarshal.
func (PayloadMarshal) Marshal(p Payload) ([]byte, error) {
	b := make([]byte, 0, len(p.Data)+len(p.Extensions)+24)
	if p.Type != 0 {
		b = protowire.AppendTag(b, fieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Type))
	}
	if len(p.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Data)
	}
	if len(p.Extensions) > 0 {
		b = protowire.AppendTag(b, fieldExtensions, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Extensions)
	}
	if !p.AppendedAt.IsZero() {
		b = protowire.AppendTag(b, fieldAppendedAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.AppendedAt.UnixNano()))
	}
	return b, nil
}

// Unmarshal implements raftlog.ContentMarshal. Unknown fields are skipped.
func (PayloadMarshal) Unmarshal(b []byte) (Payload, error) {
	var p Payload
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Payload{}, fmt.Errorf("%w: %w", errMalformedPayload, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Payload{}, fmt.Errorf("%w: type: %w", errMalformedPayload, protowire.ParseError(n))
			}
			p.Type = raft.LogType(v)
			b = b[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Payload{}, fmt.Errorf("%w: data: %w", errMalformedPayload, protowire.ParseError(n))
			}
			p.Data = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldExtensions && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Payload{}, fmt.Errorf("%w: extensions: %w", errMalformedPayload, protowire.ParseError(n))
			}
			p.Extensions = append([]byte(nil), v...)
			b = b[n:]
		case num == fieldAppendedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Payload{}, fmt.Errorf("%w: appended_at: %w", errMalformedPayload, protowire.ParseError(n))
			}
			p.AppendedAt = time.Unix(0, int64(v))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Payload{}, fmt.Errorf("%w: field %d: %w", errMalformedPayload, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return p, nil
}

func payloadOf(l *raft.Log) Payload {
	return Payload{
		Type:       l.Type,
		Data:       l.Data,
		Extensions: l.Extensions,
		AppendedAt: l.AppendedAt,
	}
}
