package channel

import (
	"errors"

	"golang.org/x/exp/slices"
)

// ErrConsumerAlreadyPresent is returned by Add when a path for the given
// handle already exists.
var ErrConsumerAlreadyPresent = errors.New("channel: consumer already present")

// path is the producer-side per-consumer bookkeeping record (spec term:
// "Path"). Invariant: offset <= acked <= producer.seq.
type path[H comparable] struct {
	handle     H
	offset     Seq
	acked      Seq
	firstAcked Tick
	lastAcked  Tick
}

// Producer assigns monotonic sequence numbers to payloads, retains a
// retransmission buffer, and drives per-consumer liveness and heartbeats.
//
// A Producer is a single-threaded, cooperatively scheduled state machine: it
// has no internal locking. The enclosing event loop or actor is responsible
// for serializing calls into Produce/Add/HandleAck/HandleNack/Tick.
type Producer[H comparable, T any] struct {
	backend ProducerBackend[H, T]

	seq           Seq
	tick          Tick
	lastBroadcast Tick

	buf []Event[T]

	paths []*path[H]

	// HeartbeatInterval is the configurable tick count between liveness
	// broadcasts when the producer has otherwise been silent. Zero disables
	// heartbeats.
	HeartbeatInterval Interval
}

// NewProducer creates a producer bound to backend, with heartbeats emitted
// every heartbeatInterval idle ticks (0 disables heartbeats).
func NewProducer[H comparable, T any](backend ProducerBackend[H, T], heartbeatInterval Interval) *Producer[H, T] {
	return &Producer[H, T]{
		backend:           backend,
		HeartbeatInterval: heartbeatInterval,
	}
}

// Seq returns the highest sequence number assigned so far.
func (p *Producer[H, T]) Seq() Seq { return p.seq }

// Buf returns the retransmission buffer, oldest event first. The returned
// slice is owned by the producer and must not be mutated by the caller.
func (p *Producer[H, T]) Buf() []Event[T] { return p.buf }

// Paths reports, for each registered consumer handle, the highest sequence
// it has cumulatively acknowledged.
func (p *Producer[H, T]) Paths() map[H]Seq {
	out := make(map[H]Seq, len(p.paths))
	for _, pa := range p.paths {
		out[pa.handle] = pa.acked
	}
	return out
}

// PathInfo is a read-only snapshot of one consumer's producer-side
// bookkeeping, for host-side observers such as a peer-loss monitor that the
// channel core itself does not implement (spec.md §7).
type PathInfo[H comparable] struct {
	Handle     H
	Offset     Seq
	Acked      Seq
	FirstAcked Tick
	LastAcked  Tick
}

// PathInfos returns a snapshot of every registered path's bookkeeping.
func (p *Producer[H, T]) PathInfos() []PathInfo[H] {
	out := make([]PathInfo[H], len(p.paths))
	for i, pa := range p.paths {
		out[i] = PathInfo[H]{
			Handle:     pa.handle,
			Offset:     pa.offset,
			Acked:      pa.acked,
			FirstAcked: pa.firstAcked,
			LastAcked:  pa.lastAcked,
		}
	}
	return out
}

// CurrentTick returns the producer's current logical clock value, for
// comparing against a path's LastAcked when detecting peer loss.
func (p *Producer[H, T]) CurrentTick() Tick { return p.tick }

// Idle reports whether every registered consumer has acknowledged up to the
// producer's current sequence number.
func (p *Producer[H, T]) Idle() bool {
	for _, pa := range p.paths {
		if pa.acked != p.seq {
			return false
		}
	}
	return true
}

// Produce assigns the next sequence number to payload and broadcasts it. If
// no consumers are registered, the payload is dropped — there is no one to
// buffer it for.
func (p *Producer[H, T]) Produce(payload T) {
	if len(p.paths) == 0 {
		return
	}

	p.seq++
	ev := Event[T]{Seq: p.seq, Payload: payload}
	p.buf = append(p.buf, ev)
	p.lastBroadcast = p.tick
	p.backend.Broadcast(p, ev)
}

// Add registers a new consumer at the producer's current sequence number and
// unicasts a Handshake naming seq+1 as its first expected event. It fails
// with ErrConsumerAlreadyPresent if handle is already registered.
func (p *Producer[H, T]) Add(handle H) error {
	for _, pa := range p.paths {
		if pa.handle == handle {
			return ErrConsumerAlreadyPresent
		}
	}

	p.paths = append(p.paths, &path[H]{
		handle: handle,
		offset: p.seq,
		acked:  p.seq,
	})
	p.backend.Send(p, handle, Handshake{FirstSeq: p.seq, HeartbeatInterval: p.HeartbeatInterval})
	return nil
}

func (p *Producer[H, T]) findPath(handle H) *path[H] {
	for _, pa := range p.paths {
		if pa.handle == handle {
			return pa
		}
	}
	return nil
}

// HandleAck processes a cumulative ACK from handle. Stale ACKs (acked
// already >= s) are absorbed idempotently. On real progress it recomputes
// the minimum acked sequence across all paths and trims the head of buf up
// to that watermark.
func (p *Producer[H, T]) HandleAck(handle H, s Seq) {
	pa := p.findPath(handle)
	if pa == nil {
		return
	}

	switch {
	case pa.acked > s:
		return
	case pa.acked == s:
		pa.lastAcked = p.tick
		return
	default:
		pa.acked = s
		pa.firstAcked = p.tick
		pa.lastAcked = p.tick
	}

	p.trimAcked()
}

func (p *Producer[H, T]) trimAcked() {
	if len(p.paths) == 0 {
		return
	}

	minAcked := slices.MinFunc(p.paths, func(a, b *path[H]) int {
		switch {
		case a.acked < b.acked:
			return -1
		case a.acked > b.acked:
			return 1
		default:
			return 0
		}
	}).acked

	i := 0
	for ; i < len(p.buf); i++ {
		if p.buf[i].Seq > minAcked {
			break
		}
	}
	if i > 0 {
		p.buf = p.buf[i:]
	}
}

// HandleNack processes a selective NACK from handle. An empty seqs slice or
// an unknown handle is ignored. seqs[0]==0 re-sends the handshake for this
// path. Otherwise seqs[0]-1 is treated as an implicit cumulative ACK, and
// every requested sequence is either retransmitted from buf or answered with
// RetransmitFailed.
func (p *Producer[H, T]) HandleNack(handle H, seqs []Seq) {
	if len(seqs) == 0 {
		return
	}
	pa := p.findPath(handle)
	if pa == nil {
		return
	}

	if seqs[0] == 0 {
		p.backend.Send(p, handle, Handshake{FirstSeq: pa.offset, HeartbeatInterval: p.HeartbeatInterval})
		return
	}

	p.HandleAck(handle, seqs[0]-1)

	for _, s := range seqs {
		if ev, ok := p.lookup(s); ok {
			p.backend.Send(p, handle, ev)
		} else {
			p.backend.Send(p, handle, RetransmitFailed{Seq: s})
		}
	}
}

func (p *Producer[H, T]) lookup(s Seq) (Event[T], bool) {
	for _, ev := range p.buf {
		if ev.Seq == s {
			return ev, true
		}
	}
	return Event[T]{}, false
}

// Tick advances the producer's logical clock by one and, if heartbeats are
// enabled and the silent interval has elapsed, broadcasts exactly one
// heartbeat. The condition is equality rather than >=: a regular broadcast
// resets the timer, and a heartbeat fires exactly once per silent interval
// (see DESIGN.md for why this deviation from a >= check was not adopted).
func (p *Producer[H, T]) Tick() {
	p.tick++
	if p.HeartbeatInterval > 0 && p.lastBroadcast+Tick(p.HeartbeatInterval) == p.tick {
		p.lastBroadcast = p.tick
		p.backend.Broadcast(p, Heartbeat{Seq: p.seq})
	}
}
