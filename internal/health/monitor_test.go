package health

import (
	"testing"

	"github.com/downfa11-org/channelbroker/channel"
)

type fakeBackend struct{}

func (fakeBackend) Send(p *channel.Producer[string, string], handle string, msg any)  {}
func (fakeBackend) Broadcast(p *channel.Producer[string, string], msg any)             {}

func TestCheckFlagsPeersPastThreshold(t *testing.T) {
	p := channel.NewProducer[string, string](fakeBackend{}, 0)
	_ = p.Add("slow")
	_ = p.Add("fast")

	p.HandleAck("fast", 0)

	for i := 0; i < 5; i++ {
		p.Tick()
	}
	p.HandleAck("fast", 0) // keep "fast" recently acked

	lost := Check[string, string](p, channel.Tick(3))
	if len(lost) != 1 {
		t.Fatalf("len(lost) = %d, want 1", len(lost))
	}
	if lost[0].Handle != "slow" {
		t.Fatalf("lost peer = %q, want %q", lost[0].Handle, "slow")
	}
}

func TestCheckReturnsEmptyWhenAllCurrent(t *testing.T) {
	p := channel.NewProducer[string, string](fakeBackend{}, 0)
	_ = p.Add("a")
	p.Tick()
	p.HandleAck("a", 0)

	if lost := Check[string, string](p, channel.Tick(10)); len(lost) != 0 {
		t.Fatalf("expected no lost peers, got %v", lost)
	}
}
