// Package health implements the host-side peer-loss detection spec.md §7
// explicitly keeps out of the channel core: "the host detects it by
// comparing tick - path.last_acked against a host-chosen threshold, or by
// observing NACK-with-seq-0 requests."
package health

import (
	"github.com/downfa11-org/channelbroker/channel"
	"github.com/downfa11-org/channelbroker/internal/logx"
)

// LostPeer describes a path whose ACK lag reached or exceeded the configured
// threshold.
type LostPeer[H comparable] struct {
	Handle  H
	AckLag  channel.Tick
	LastAck channel.Tick
}

// Check scans a producer's read-only path observers and returns every path
// whose (currentTick - lastAcked) is at or beyond threshold ticks. It makes
// no changes to the channel itself — the host decides what to do with a
// lost peer (e.g. stop unicasting to it, alert, or tear down the backend
// link via internal/endpoint).
func Check[H comparable, T any](p *channel.Producer[H, T], threshold channel.Tick) []LostPeer[H] {
	now := p.CurrentTick()

	var lost []LostPeer[H]
	for _, pi := range p.PathInfos() {
		lag := now - pi.LastAcked
		if lag >= threshold {
			lost = append(lost, LostPeer[H]{Handle: pi.Handle, AckLag: lag, LastAck: pi.LastAcked})
			logx.Warn("health: path %v ack lag %d ticks exceeds threshold %d", pi.Handle, lag, threshold)
		}
	}
	return lost
}
