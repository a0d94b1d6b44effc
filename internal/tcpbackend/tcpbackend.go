// Package tcpbackend is a reference channel.ProducerBackend/ConsumerBackend
// implementation over plain TCP, grounded on the teacher's
// pkg/cluster/transport/transport.go (length-prefixed framing) and
// pkg/stream/connection.go (per-peer connection bookkeeping), generalized
// to carry the channel protocol's typed messages instead of opaque command
// strings.
//
// Both sides speak []byte payloads: the channel core stays payload-agnostic
// (spec.md §3), and any richer host payload type is the caller's own
// encoding layered on top of these bytes.
package tcpbackend

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/downfa11-org/channelbroker/channel"
	"github.com/downfa11-org/channelbroker/internal/endpoint"
	"github.com/downfa11-org/channelbroker/internal/logx"
	"github.com/downfa11-org/channelbroker/internal/metrics"
	"github.com/downfa11-org/channelbroker/internal/status"
	"github.com/downfa11-org/channelbroker/internal/wire"
)

const maxFrameSize = 64 * 1024 * 1024 // 64MB, same upper bound as the teacher's transport

// ProducerSide is the producer-facing half of the TCP backend: one
// connection per registered consumer handle.
type ProducerSide struct {
	mu          sync.RWMutex
	conns       map[endpoint.Handle]net.Conn
	producerTag string
}

// NewProducerSide creates a producer-side backend. producerTag labels this
// producer's instrumentation.
func NewProducerSide(producerTag string) *ProducerSide {
	return &ProducerSide{
		conns:       make(map[endpoint.Handle]net.Conn),
		producerTag: producerTag,
	}
}

// Attach registers conn as the transport for handle, tuning TCP socket
// options for low-latency delivery of small control frames.
func (b *ProducerSide) Attach(handle endpoint.Handle, conn net.Conn) {
	tuneSocket(conn)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[handle] = conn
}

// Detach drops the transport for handle, e.g. once the peer is declared
// lost by internal/health.
func (b *ProducerSide) Detach(handle endpoint.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conns, handle)
}

func encodeProducerMsg(msg any) (wire.Kind, []byte, error) {
	switch m := msg.(type) {
	case channel.Handshake:
		return wire.KindHandshake, wire.EncodeHandshake(wire.Handshake{
			FirstSeq:          uint64(m.FirstSeq),
			HeartbeatInterval: uint16(m.HeartbeatInterval),
		}), nil
	case channel.Event[[]byte]:
		return wire.KindEvent, wire.EncodeEvent(wire.Event{Seq: uint64(m.Seq), Payload: m.Payload}), nil
	case channel.RetransmitFailed:
		return wire.KindRetransmitFailed, wire.EncodeSeqOnly(uint64(m.Seq)), nil
	case channel.Heartbeat:
		return wire.KindHeartbeat, wire.EncodeSeqOnly(uint64(m.Seq)), nil
	default:
		return 0, nil, fmt.Errorf("tcpbackend: unknown producer message type %T", msg)
	}
}

func writeFrame(conn net.Conn, msg any) error {
	kind, body, err := encodeProducerMsg(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(wire.Frame(kind, body))
	return err
}

// Send implements channel.ProducerBackend.
func (b *ProducerSide) Send(p *channel.Producer[endpoint.Handle, []byte], handle endpoint.Handle, msg any) {
	b.mu.RLock()
	conn, ok := b.conns[handle]
	b.mu.RUnlock()
	if !ok {
		logx.Warn("tcpbackend: Send to unknown handle %s dropped", handle)
		return
	}
	if err := writeFrame(conn, msg); err != nil {
		logx.Error("tcpbackend: send to %s failed: %v", handle, err)
		return
	}
	switch m := msg.(type) {
	case channel.Event[[]byte]:
		// Send only ever unicasts an Event as a NACK-triggered retransmit;
		// the initial assignment always goes out through Broadcast.
		metrics.RetransmitsSent.WithLabelValues(b.producerTag).Inc()
	case channel.RetransmitFailed:
		metrics.RetransmitFailedTotal.WithLabelValues(b.producerTag).Inc()
		st := status.New(status.RetransmitFailed, fmt.Sprintf("seq %d no longer retrievable for %s", m.Seq, handle))
		logx.Warn("tcpbackend: %s", st)
	}
}

// Broadcast implements channel.ProducerBackend.
func (b *ProducerSide) Broadcast(p *channel.Producer[endpoint.Handle, []byte], msg any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for handle, conn := range b.conns {
		if err := writeFrame(conn, msg); err != nil {
			logx.Error("tcpbackend: broadcast to %s failed: %v", handle, err)
			continue
		}
	}
	if _, ok := msg.(channel.Heartbeat); ok {
		metrics.HeartbeatsSent.WithLabelValues(b.producerTag).Inc()
	}
}

// HandleFeedback decodes one feedback frame (CumulativeAck or Nack) from a
// consumer and applies it to the producer. Callers read frames off conn in
// their own loop and hand each one here.
func HandleFeedback(p *channel.Producer[endpoint.Handle, []byte], handle endpoint.Handle, kind wire.Kind, body []byte) error {
	switch kind {
	case wire.KindCumulativeAck:
		seq, err := wire.DecodeSeqOnly(body)
		if err != nil {
			return err
		}
		p.HandleAck(handle, channel.Seq(seq))
	case wire.KindNack:
		n, err := wire.DecodeNack(body)
		if err != nil {
			return err
		}
		seqs := make([]channel.Seq, len(n.Seqs))
		for i, s := range n.Seqs {
			seqs[i] = channel.Seq(s)
		}
		p.HandleNack(handle, seqs)
	default:
		return fmt.Errorf("tcpbackend: unexpected feedback kind %d", kind)
	}
	return nil
}

// ReadFrame reads one length-prefixed, kind-tagged frame off r.
func ReadFrame(r io.Reader) (wire.Kind, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	kind := wire.Kind(header[0])
	n := binary.BigEndian.Uint32(header[1:])
	if n > maxFrameSize {
		return 0, nil, fmt.Errorf("tcpbackend: frame size %d exceeds maximum %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return kind, body, nil
}

// ConsumerSide is the consumer-facing half of the backend: one connection
// back to the producer, plus host callbacks for delivering payloads.
type ConsumerSide struct {
	conn net.Conn
	tag  string

	// OnConsume receives an in-order payload. Required.
	OnConsume func(payload []byte)
	// OnConsumeNil reports an irrecoverable gap; a non-nil return closes the
	// consumer. Required.
	OnConsumeNil func() error
	// OnClose, if set, is invoked when the consumer closes.
	OnClose func(err error)
}

// NewConsumerSide wires conn as the feedback channel back to the producer.
func NewConsumerSide(conn net.Conn, tag string) *ConsumerSide {
	tuneSocket(conn)
	return &ConsumerSide{conn: conn, tag: tag}
}

func (b *ConsumerSide) Consume(c *channel.Consumer[[]byte], payload []byte) {
	metrics.EventsDelivered.WithLabelValues(b.tag).Inc()
	if b.OnConsume != nil {
		b.OnConsume(payload)
	}
}

func (b *ConsumerSide) ConsumeNil(c *channel.Consumer[[]byte]) error {
	if b.OnConsumeNil != nil {
		return b.OnConsumeNil()
	}
	return nil
}

func (b *ConsumerSide) Send(c *channel.Consumer[[]byte], msg any) {
	var kind wire.Kind
	var body []byte
	switch m := msg.(type) {
	case channel.CumulativeAck:
		kind, body = wire.KindCumulativeAck, wire.EncodeSeqOnly(uint64(m.Seq))
	case channel.Nack:
		seqs := make([]uint64, len(m.Seqs))
		for i, s := range m.Seqs {
			seqs[i] = uint64(s)
		}
		kind, body = wire.KindNack, wire.EncodeNack(seqs)
		metrics.NacksReceived.WithLabelValues(b.tag).Inc()
	default:
		logx.Error("tcpbackend: unknown consumer feedback type %T", msg)
		return
	}
	if _, err := b.conn.Write(wire.Frame(kind, body)); err != nil {
		logx.Error("tcpbackend: feedback send failed: %v", err)
	}
}

func (b *ConsumerSide) Close(c *channel.Consumer[[]byte], err error) {
	_ = b.conn.Close()
	if b.OnClose != nil {
		b.OnClose(err)
	}
}

// ReadLoop reads producer frames off conn until it errors or is closed,
// dispatching each into consumer. It is meant to run in its own goroutine;
// the consumer itself has no concurrency of its own (spec.md §5), so the
// host must still serialize ReadLoop's dispatch with any other calls into
// consumer (e.g. Tick from a separate timer goroutine) the way the teacher's
// stream.StreamConnection serializes its own reads under sc.mu.
func ReadLoop(conn net.Conn, consumer *channel.Consumer[[]byte]) error {
	for {
		kind, body, err := ReadFrame(conn)
		if err != nil {
			return err
		}
		switch kind {
		case wire.KindHandshake:
			hs, err := wire.DecodeHandshake(body)
			if err != nil {
				return err
			}
			consumer.HandleHandshake(channel.Seq(hs.FirstSeq), channel.Interval(hs.HeartbeatInterval))
		case wire.KindEvent:
			ev, err := wire.DecodeEvent(body)
			if err != nil {
				return err
			}
			consumer.HandleEvent(channel.Seq(ev.Seq), ev.Payload)
		case wire.KindRetransmitFailed:
			seq, err := wire.DecodeSeqOnly(body)
			if err != nil {
				return err
			}
			consumer.HandleRetransmitFailed(channel.Seq(seq))
		case wire.KindHeartbeat:
			seq, err := wire.DecodeSeqOnly(body)
			if err != nil {
				return err
			}
			consumer.HandleHeartbeat(channel.Seq(seq))
		default:
			return fmt.Errorf("tcpbackend: unexpected producer-side kind %d", kind)
		}
	}
}
