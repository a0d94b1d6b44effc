package channel

import "golang.org/x/exp/slices"

// slot is one entry in a consumer's reorder buffer. has==false models a
// known-lost event (a RetransmitFailed notification arrived before the
// event did); an event that simply hasn't arrived yet has no slot at all.
// Collapsing those two states into one would break NACK completeness (spec
// property 6): a known-lost slot must not be re-requested by Tick's NACK
// scan, but a pending one must.
type slot[T any] struct {
	seq     Seq
	has     bool
	payload T
}

// Consumer receives events out of order, reorders them, delivers them
// strictly in sequence to the backend's sink, detects gaps, and emits
// periodic cumulative ACKs or selective NACKs.
//
// Like Producer, Consumer has no internal locking; the enclosing event loop
// serializes calls into it.
type Consumer[T any] struct {
	backend ConsumerBackend[T]

	nextSeq Seq
	lastSeq Seq

	buf []slot[T]

	tick        Tick
	lastTickSeq Seq
	idleTicks   Tick

	heartbeatInterval Interval

	// NackTimeout is the number of idle ticks (ticks with no delivery
	// progress) the consumer waits, once it knows of a gap, before emitting
	// a NACK. Default 5.
	NackTimeout Tick

	closed bool
}

// NewConsumer creates a consumer bound to backend. It starts uninitialized
// (NextSeq()==0) and becomes active on the first Handshake.
func NewConsumer[T any](backend ConsumerBackend[T]) *Consumer[T] {
	return &Consumer[T]{
		backend:     backend,
		NackTimeout: 5,
	}
}

// NextSeq returns the sequence number the consumer is ready to deliver next.
func (c *Consumer[T]) NextSeq() Seq { return c.nextSeq }

// LastSeq returns the highest sequence number the consumer has been told
// about, whether via the handshake, events, retransmit-failed notices, or
// heartbeats.
func (c *Consumer[T]) LastSeq() Seq { return c.lastSeq }

// Buf returns a copy of the buffered events in the reorder buffer, in
// ascending seq order. Known-lost slots carry no payload and are omitted.
func (c *Consumer[T]) Buf() []Event[T] {
	out := make([]Event[T], 0, len(c.buf))
	for _, s := range c.buf {
		if s.has {
			out = append(out, Event[T]{Seq: s.seq, Payload: s.payload})
		}
	}
	return out
}

// NumTicks returns the number of Tick calls processed so far.
func (c *Consumer[T]) NumTicks() Tick { return c.tick }

// IdleTicks returns the number of consecutive ticks without delivery
// progress.
func (c *Consumer[T]) IdleTicks() Tick { return c.idleTicks }

// HandleHandshake establishes the consumer's starting sequence number. A
// handshake that would rewind the consumer (offset < nextSeq) is ignored —
// a consumer never rewinds.
func (c *Consumer[T]) HandleHandshake(offset Seq, hb Interval) {
	if c.closed {
		return
	}
	if offset < c.nextSeq {
		return
	}

	c.nextSeq = offset + 1
	c.lastSeq = c.nextSeq
	c.heartbeatInterval = hb
	c.tryConsumeBuffer()
}

// HandleHeartbeat raises the known frontier without requiring the producer
// to resend events. Heartbeats before a handshake, and the zero sentinel,
// are ignored.
func (c *Consumer[T]) HandleHeartbeat(s Seq) {
	if c.closed {
		return
	}
	if c.lastSeq == 0 || s == 0 {
		return
	}
	if s+1 > c.lastSeq {
		c.lastSeq = s + 1
	}
}

// HandleEvent processes an incoming event. In-order events are delivered
// immediately and drain any buffered continuation; future events are
// reorder-buffered (filling or resurrecting a known-lost slot as
// appropriate); already-delivered events are silently dropped.
func (c *Consumer[T]) HandleEvent(s Seq, payload T) {
	if c.closed {
		return
	}

	switch {
	case s == c.nextSeq:
		c.deliver(payload)
		c.tryConsumeBuffer()

	case s > c.nextSeq:
		if s > c.lastSeq {
			c.lastSeq = s
		}
		c.insertOrFill(s, payload)

	default:
		// s < nextSeq: already delivered, drop.
	}
}

// HandleRetransmitFailed processes the producer's admission that event s is
// no longer retrievable. If s is the next event due, the sink's
// consume-nil hook runs immediately; a non-nil error closes the consumer. If
// s is further out, an empty (known-lost) slot is recorded unless a slot —
// possibly carrying an actual event that arrived first — already exists
// there, in which case it is left untouched.
func (c *Consumer[T]) HandleRetransmitFailed(s Seq) {
	if c.closed {
		return
	}

	switch {
	case s == c.nextSeq:
		if err := c.backend.ConsumeNil(c); err != nil {
			c.close(err)
			return
		}
		c.nextSeq++
		c.tryConsumeBuffer()

	case s > c.nextSeq:
		if s > c.lastSeq {
			c.lastSeq = s
		}
		c.insertKnownLost(s)

	default:
		// s < nextSeq: already resolved, ignore.
	}
}

// Tick advances the consumer's logical clock by one. Progress resets the
// idle counter and may emit a cumulative ACK on the heartbeat cadence; lack
// of progress accumulates idle ticks and, once a gap is known and the NACK
// timeout elapses, emits a selective NACK naming every missing sequence in
// [nextSeq, lastSeq).
func (c *Consumer[T]) Tick() {
	if c.closed {
		return
	}

	progressed := c.nextSeq > c.lastTickSeq
	c.lastTickSeq = c.nextSeq
	c.tick++

	if progressed {
		c.idleTicks = 0
		c.maybeAck()
		return
	}

	c.idleTicks++
	if c.nextSeq < c.lastSeq && c.idleTicks >= c.NackTimeout {
		c.idleTicks = 0
		c.backend.Send(c, Nack{Seqs: c.missingSeqs()})
		return
	}

	c.maybeAck()
}

func (c *Consumer[T]) maybeAck() {
	if c.heartbeatInterval > 0 && c.tick%Tick(c.heartbeatInterval) == 0 {
		var ackSeq Seq
		if c.nextSeq > 0 {
			ackSeq = c.nextSeq - 1
		}
		c.backend.Send(c, CumulativeAck{Seq: ackSeq})
	}
}

func (c *Consumer[T]) missingSeqs() []Seq {
	present := make(map[Seq]bool, len(c.buf))
	for _, s := range c.buf {
		present[s.seq] = true
	}

	missing := make([]Seq, 0, int(c.lastSeq-c.nextSeq))
	for s := c.nextSeq; s < c.lastSeq; s++ {
		if !present[s] {
			missing = append(missing, s)
		}
	}
	return missing
}

func (c *Consumer[T]) deliver(payload T) {
	c.nextSeq++
	if c.nextSeq > c.lastSeq {
		c.lastSeq = c.nextSeq
	}
	c.backend.Consume(c, payload)
}

// tryConsumeBuffer repeatedly peels the front of buf while its seq equals
// nextSeq: a present payload is delivered, a known-lost slot invokes
// consume-nil. Every successful step advances nextSeq by one.
func (c *Consumer[T]) tryConsumeBuffer() {
	for len(c.buf) > 0 && c.buf[0].seq == c.nextSeq {
		s := c.buf[0]
		if s.has {
			c.buf = c.buf[1:]
			c.deliver(s.payload)
			continue
		}

		if err := c.backend.ConsumeNil(c); err != nil {
			c.buf = c.buf[1:]
			c.close(err)
			return
		}
		c.buf = c.buf[1:]
		c.nextSeq++
	}
}

func (c *Consumer[T]) insertOrFill(s Seq, payload T) {
	idx, found := c.findSlot(s)
	if found {
		if !c.buf[idx].has {
			c.buf[idx].has = true
			c.buf[idx].payload = payload
		}
		// A slot already carrying a payload: duplicate, drop.
		return
	}

	c.insertAt(idx, slot[T]{seq: s, has: true, payload: payload})
}

func (c *Consumer[T]) insertKnownLost(s Seq) {
	idx, found := c.findSlot(s)
	if found {
		// An actual event may already be buffered here; leave it alone.
		return
	}
	c.insertAt(idx, slot[T]{seq: s, has: false})
}

// findSlot returns the index of the slot with the given seq and whether it
// exists; when it does not exist, the index is where it should be inserted
// to keep buf sorted.
func (c *Consumer[T]) findSlot(s Seq) (int, bool) {
	return slices.BinarySearchFunc(c.buf, s, func(sl slot[T], s Seq) int {
		switch {
		case sl.seq < s:
			return -1
		case sl.seq > s:
			return 1
		default:
			return 0
		}
	})
}

func (c *Consumer[T]) insertAt(idx int, s slot[T]) {
	c.buf = append(c.buf, slot[T]{})
	copy(c.buf[idx+1:], c.buf[idx:])
	c.buf[idx] = s
}

func (c *Consumer[T]) close(err error) {
	if c.closed {
		return
	}
	c.closed = true
	c.backend.Close(c, err)
}
