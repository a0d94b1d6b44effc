// Package replog replicates a producer's sequence assignment and
// retransmission buffer through raft, grounded on the teacher's
// pkg/cluster/replication/manager.go and fsm/*.go. Where the teacher's
// BrokerFSM replicates topic/partition/offset state for a multi-broker
// cluster, FSM here replicates exactly the state a standby producer needs to
// take over without re-numbering already-acknowledged events: the next
// sequence number, the retransmission buffer, and per-path bookkeeping.
package replog

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/downfa11-org/channelbroker/internal/logx"
)

// BufferedEvent is the replicated form of a channel.Event[[]byte]; host
// payloads cross raft as opaque bytes, same as the wire codec in
// internal/wire.
type BufferedEvent struct {
	Seq     uint64 `json:"seq"`
	Payload []byte `json:"payload"`
}

// PathState is the replicated form of one producer path's bookkeeping.
type PathState struct {
	Offset     uint64 `json:"offset"`
	Acked      uint64 `json:"acked"`
	FirstAcked uint64 `json:"firstAcked"`
	LastAcked  uint64 `json:"lastAcked"`
}

// State is the full snapshot shape, versioned the way the teacher's
// BrokerFSMState is.
type State struct {
	Version int                  `json:"version"`
	Applied uint64               `json:"applied"`
	Seq     uint64               `json:"seq"`
	Tick    uint64               `json:"tick"`
	Buffer  []BufferedEvent      `json:"buffer"`
	Paths   map[string]PathState `json:"paths"`
}

// FSM replicates producer state across a raft group. Only the elected raft
// leader drives a live channel.Producer; followers just keep FSM caught up,
// and State returns the replicated copy. No code in this repository seeds a
// channel.Producer from that copy.
type FSM struct {
	mu sync.RWMutex

	applied uint64
	seq     uint64
	tick    uint64
	buffer  []BufferedEvent
	paths   map[string]PathState
}

// NewFSM creates an empty replicated producer log.
func NewFSM() *FSM {
	return &FSM{paths: make(map[string]PathState)}
}

// Apply implements raft.FSM. Commands are dispatched by a string prefix,
// the same convention as the teacher's BrokerFSM.Apply.
func (f *FSM) Apply(log *raft.Log) interface{} {
	data := string(log.Data)

	var res interface{}
	switch {
	case strings.HasPrefix(data, "PRODUCE:"):
		res = f.applyProduce(strings.TrimPrefix(data, "PRODUCE:"))
	case strings.HasPrefix(data, "ADD_PATH:"):
		res = f.applyAddPath(strings.TrimPrefix(data, "ADD_PATH:"))
	case strings.HasPrefix(data, "ACK:"):
		res = f.applyAck(strings.TrimPrefix(data, "ACK:"))
	case strings.HasPrefix(data, "TICK:"):
		res = f.applyTick(strings.TrimPrefix(data, "TICK:"))
	default:
		err := fmt.Errorf("replog: unknown command %q", data)
		logx.Error("%v", err)
		res = err
	}

	f.mu.Lock()
	f.applied = log.Index
	f.mu.Unlock()
	return res
}

type produceCmd struct {
	Seq     uint64 `json:"seq"`
	Payload []byte `json:"payload"`
}

func (f *FSM) applyProduce(jsonData string) interface{} {
	var cmd produceCmd
	if err := json.Unmarshal([]byte(jsonData), &cmd); err != nil {
		logx.Error("replog: bad produce command: %v", err)
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq = cmd.Seq
	f.buffer = append(f.buffer, BufferedEvent{Seq: cmd.Seq, Payload: cmd.Payload})
	return nil
}

type addPathCmd struct {
	Handle string `json:"handle"`
	Offset uint64 `json:"offset"`
}

func (f *FSM) applyAddPath(jsonData string) interface{} {
	var cmd addPathCmd
	if err := json.Unmarshal([]byte(jsonData), &cmd); err != nil {
		logx.Error("replog: bad add_path command: %v", err)
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[cmd.Handle] = PathState{Offset: cmd.Offset, Acked: cmd.Offset}
	return nil
}

type ackCmd struct {
	Handle string `json:"handle"`
	Seq    uint64 `json:"seq"`
	Tick   uint64 `json:"tick"`
}

// applyAck also trims buffer entries acknowledged by every known path, the
// replicated mirror of channel.Producer.trimAcked.
func (f *FSM) applyAck(jsonData string) interface{} {
	var cmd ackCmd
	if err := json.Unmarshal([]byte(jsonData), &cmd); err != nil {
		logx.Error("replog: bad ack command: %v", err)
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ps, ok := f.paths[cmd.Handle]
	if !ok || cmd.Seq <= ps.Acked {
		return nil
	}
	ps.Acked = cmd.Seq
	if ps.FirstAcked == 0 {
		ps.FirstAcked = cmd.Tick
	}
	ps.LastAcked = cmd.Tick
	f.paths[cmd.Handle] = ps

	minAcked := ^uint64(0)
	for _, p := range f.paths {
		if p.Acked < minAcked {
			minAcked = p.Acked
		}
	}
	i := 0
	for ; i < len(f.buffer); i++ {
		if f.buffer[i].Seq > minAcked {
			break
		}
	}
	if i > 0 {
		f.buffer = f.buffer[i:]
	}
	return nil
}

func (f *FSM) applyTick(jsonData string) interface{} {
	var tick uint64
	if err := json.Unmarshal([]byte(jsonData), &tick); err != nil {
		logx.Error("replog: bad tick command: %v", err)
		return err
	}
	f.mu.Lock()
	f.tick = tick
	f.mu.Unlock()
	return nil
}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bufCopy := make([]BufferedEvent, len(f.buffer))
	copy(bufCopy, f.buffer)

	pathsCopy := make(map[string]PathState, len(f.paths))
	for k, v := range f.paths {
		pathsCopy[k] = v
	}

	return &fsmSnapshot{
		state: State{
			Version: 1,
			Applied: f.applied,
			Seq:     f.seq,
			Tick:    f.tick,
			Buffer:  bufCopy,
			Paths:   pathsCopy,
		},
	}, nil
}

// Restore implements raft.FSM.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var state State
	if err := json.NewDecoder(rc).Decode(&state); err != nil {
		return fmt.Errorf("replog: failed to restore snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = state.Applied
	f.seq = state.Seq
	f.tick = state.Tick
	f.buffer = state.Buffer
	f.paths = state.Paths
	if f.paths == nil {
		f.paths = make(map[string]PathState)
	}

	logx.Info("replog: restored snapshot, applied=%d seq=%d buffered=%d paths=%d", state.Applied, state.Seq, len(state.Buffer), len(state.Paths))
	return nil
}

// State returns a point-in-time copy of the replicated state, for
// reconstructing a channel.Producer after a failover.
func (f *FSM) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()

	bufCopy := make([]BufferedEvent, len(f.buffer))
	copy(bufCopy, f.buffer)
	pathsCopy := make(map[string]PathState, len(f.paths))
	for k, v := range f.paths {
		pathsCopy[k] = v
	}
	return State{
		Version: 1,
		Applied: f.applied,
		Seq:     f.seq,
		Tick:    f.tick,
		Buffer:  bufCopy,
		Paths:   pathsCopy,
	}
}

type fsmSnapshot struct {
	state State
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.state); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
