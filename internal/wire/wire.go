// Package wire is the on-the-wire encoding for the channel protocol's six
// message kinds (spec.md §6). It replaces the teacher's ad hoc
// length-prefixed string protocol (pkg/cluster/transport/transport.go) with
// a small, typed, versionable frame built on protobuf's wire primitives —
// varints and length-delimited fields — without pulling in the full
// reflection-based protobuf runtime, since these message shapes are fixed
// and never need descriptor-based reflection.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind tags which of the six message kinds a frame carries.
type Kind byte

const (
	KindHandshake Kind = iota + 1
	KindEvent
	KindRetransmitFailed
	KindHeartbeat
	KindCumulativeAck
	KindNack
)

const (
	fieldSeq       protowire.Number = 1
	fieldHeartbeat protowire.Number = 2
	fieldPayload   protowire.Number = 2
	fieldSeqs      protowire.Number = 1
)

// Handshake is the wire form of channel.Handshake.
type Handshake struct {
	FirstSeq          uint64
	HeartbeatInterval uint16
}

// Event is the wire form of channel.Event, with the host payload already
// serialized to bytes by the caller.
type Event struct {
	Seq     uint64
	Payload []byte
}

// RetransmitFailed is the wire form of channel.RetransmitFailed.
type RetransmitFailed struct {
	Seq uint64
}

// Heartbeat is the wire form of channel.Heartbeat.
type Heartbeat struct {
	Seq uint64
}

// CumulativeAck is the wire form of channel.CumulativeAck.
type CumulativeAck struct {
	Seq uint64
}

// Nack is the wire form of channel.Nack.
type Nack struct {
	Seqs []uint64
}

// EncodeHandshake serializes a Handshake body (without the frame header).
func EncodeHandshake(m Handshake) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, m.FirstSeq)
	b = protowire.AppendTag(b, fieldHeartbeat, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.HeartbeatInterval))
	return b
}

// DecodeHandshake parses a Handshake body.
func DecodeHandshake(b []byte) (Handshake, error) {
	var m Handshake
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad handshake tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad handshake varint: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			m.FirstSeq = v
		case num == fieldHeartbeat && typ == protowire.VarintType:
			m.HeartbeatInterval = uint16(v)
		}
	}
	return m, nil
}

// EncodeEvent serializes an Event body.
func EncodeEvent(m Event) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Seq)
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Payload)
	return b
}

// DecodeEvent parses an Event body.
func DecodeEvent(b []byte) (Event, error) {
	var m Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad event tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad event seq: %w", protowire.ParseError(n))
			}
			m.Seq = v
			b = b[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad event payload: %w", protowire.ParseError(n))
			}
			m.Payload = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad event field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

// EncodeSeqOnly serializes any of RetransmitFailed/Heartbeat/CumulativeAck,
// which all share a single seq field.
func EncodeSeqOnly(seq uint64) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, seq)
	return b
}

// DecodeSeqOnly parses the shared single-seq body.
func DecodeSeqOnly(b []byte) (uint64, error) {
	var seq uint64
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return 0, fmt.Errorf("wire: bad varint: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == fieldSeq && typ == protowire.VarintType {
			seq = v
		}
	}
	return seq, nil
}

// EncodeNack serializes a Nack body as a packed repeated varint field.
func EncodeNack(seqs []uint64) []byte {
	var packed []byte
	for _, s := range seqs {
		packed = protowire.AppendVarint(packed, s)
	}
	var b []byte
	b = protowire.AppendTag(b, fieldSeqs, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	return b
}

// DecodeNack parses a Nack body.
func DecodeNack(b []byte) (Nack, error) {
	var m Nack
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad nack tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num != fieldSeqs || typ != protowire.BytesType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("wire: bad nack field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		packed, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return m, fmt.Errorf("wire: bad nack seqs: %w", protowire.ParseError(n))
		}
		b = b[n:]
		for len(packed) > 0 {
			v, n := protowire.ConsumeVarint(packed)
			if n < 0 {
				return m, fmt.Errorf("wire: bad nack packed varint: %w", protowire.ParseError(n))
			}
			m.Seqs = append(m.Seqs, v)
			packed = packed[n:]
		}
	}
	return m, nil
}

// Frame prepends a 1-byte kind tag and a 4-byte big-endian length to body,
// the same length-prefix framing strategy as the teacher's transport, typed
// instead of raw string commands.
func Frame(kind Kind, body []byte) []byte {
	out := make([]byte, 5+len(body))
	out[0] = byte(kind)
	out[1] = byte(len(body) >> 24)
	out[2] = byte(len(body) >> 16)
	out[3] = byte(len(body) >> 8)
	out[4] = byte(len(body))
	copy(out[5:], body)
	return out
}
