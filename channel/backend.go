package channel

// ProducerBackend is the capability set a producer needs from its transport
// layer: point-to-point unicast and fan-out broadcast of framed messages.
// The core never blocks inside these calls and assumes they do not re-enter
// the channel synchronously.
type ProducerBackend[H comparable, T any] interface {
	// Send unicasts msg to a single consumer addressed by handle.
	Send(p *Producer[H, T], handle H, msg any)
	// Broadcast fans msg out to every registered consumer.
	Broadcast(p *Producer[H, T], msg any)
}

// ConsumerBackend is the capability set a consumer needs from its transport
// layer: delivery of in-order payloads and gaps to the local sink, plus
// feedback (ACK/NACK) back to the producer.
type ConsumerBackend[T any] interface {
	// Consume delivers an in-order event payload to the sink.
	Consume(c *Consumer[T], payload T)
	// ConsumeNil reports an irrecoverable gap. A non-nil return aborts
	// delivery and triggers Close.
	ConsumeNil(c *Consumer[T]) error
	// Send pushes a feedback message (CumulativeAck or Nack) to the producer.
	Send(c *Consumer[T], msg any)
	// Close is terminal: the consumer must not be used afterward except for
	// destruction. Close is idempotent from the caller's point of view — the
	// core guarantees no further callbacks after it fires once.
	Close(c *Consumer[T], err error)
}
