// Package endpoint is the peering/handshake bookkeeping layer spec.md calls
// out as peripheral glue (§1): it mints the handles the host entrypoint
// passes to Producer.Add and tracks each peer's connection state. It does not
// call into the channel package and carries none of the channel's own
// ACK/NACK state machine.
package endpoint

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Handle is the opaque, equality-comparable identifier the backend uses to
// address a specific consumer from the producer side (spec.md §3). It wraps
// a UUID so peers can be named without coordination.
type Handle struct {
	id uuid.UUID
}

// NewHandle mints a fresh, process-unique handle.
func NewHandle() Handle {
	return Handle{id: uuid.New()}
}

func (h Handle) String() string {
	return h.id.String()
}

// HashKey returns a fast, non-cryptographic hash of the handle suitable for
// use as an LRU or map key on the hot ACK/lookup path, the same reason the
// teacher's dependency graph pulls in xxhash for partition-key hashing.
func (h Handle) HashKey() uint64 {
	return xxhash.Sum64(h.id[:])
}
