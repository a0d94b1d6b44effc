package endpoint

import (
	"sync"

	"github.com/downfa11-org/channelbroker/internal/logx"
	"github.com/downfa11-org/channelbroker/internal/netaddr"
	lru "github.com/hashicorp/golang-lru"
)

// PeerState is the connection-state of a backend's point-to-point link to a
// consumer, independent of the channel's own per-path ACK state.
type PeerState int

const (
	Connecting PeerState = iota
	Connected
	Disconnected
	Reconnecting
)

func (s PeerState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Peer is one known remote endpoint: its address, its handle, and the
// current connection-lifecycle state of the backend's link to it.
type Peer struct {
	Handle Handle
	Addr   string
	Port   netaddr.Port
	State  PeerState
}

// Registry tracks known peers and bounds memory for short-lived consumer
// churn with a small LRU of recently-seen handshake handles, grounded on
// the teacher's stream.StreamManager connection map (pkg/stream/manager.go)
// generalized with an eviction policy it does not itself have.
type Registry struct {
	mu    sync.RWMutex
	peers map[Handle]*Peer

	recent *lru.Cache
}

// NewRegistry creates a peer registry whose recently-seen handshake cache
// holds at most recentCap entries.
func NewRegistry(recentCap int) (*Registry, error) {
	cache, err := lru.New(recentCap)
	if err != nil {
		return nil, err
	}
	return &Registry{
		peers:  make(map[Handle]*Peer),
		recent: cache,
	}, nil
}

// Add registers a peer as Connecting and remembers its handle in the
// recently-seen cache.
func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.State = Connecting
	r.peers[p.Handle] = p
	r.recent.Add(p.Handle, struct{}{})
	logx.Debug("endpoint: registered peer %s at %s (%s)", p.Handle, p.Addr, p.Port)
}

// SetState transitions a known peer to a new connection state.
func (r *Registry) SetState(h Handle, state PeerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[h]; ok {
		p.State = state
	}
}

// Get returns the peer for h, if known.
func (r *Registry) Get(h Handle) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[h]
	return p, ok
}

// WasRecentlySeen reports whether h handshook recently, even if it has
// since been evicted from the live peer map — useful for distinguishing a
// genuinely unknown handle from a reconnecting one.
func (r *Registry) WasRecentlySeen(h Handle) bool {
	return r.recent.Contains(h)
}

// Remove drops a peer entirely.
func (r *Registry) Remove(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, h)
}
