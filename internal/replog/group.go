package replog

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	gometrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"

	"github.com/downfa11-org/channelbroker/internal/config"
	"github.com/downfa11-org/channelbroker/internal/logx"
	"github.com/downfa11-org/channelbroker/internal/metrics"
)

// Group wraps a raft.Raft instance driving one FSM, grounded on the
// teacher's RaftReplicationManager constructor.
type Group struct {
	raft *raft.Raft
	fsm  *FSM
	sink *gometrics.InmemSink
}

// NewGroup stands up a raft group for cfg.NodeID, bootstrapping a
// single-node cluster when cfg.Peers is empty (standalone / dev mode).
// Otherwise it does not bootstrap and asks raft to add each id@addr entry of
// cfg.Peers as a voter; raft accepts that only on the current leader, and
// failures are logged.
func NewGroup(cfg *config.Config) (*Group, error) {
	fsm := NewFSM()

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.Logger = hclog.New(&hclog.LoggerOptions{
		Name:   "replog",
		Level:  hclogLevel(cfg.LogLevel),
		Output: os.Stderr,
	})

	sink := gometrics.NewInmemSink(10*time.Second, time.Minute)
	if _, err := gometrics.NewGlobal(gometrics.DefaultConfig("channelbroker_raft"), sink); err != nil {
		return nil, fmt.Errorf("replog: metrics.NewGlobal: %w", err)
	}

	dataDir := filepath.Join(cfg.DataDir, "raft")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("replog: raft data dir: %w", err)
	}

	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()
	snapshots, err := raft.NewFileSnapshotStore(dataDir, 3, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("replog: snapshot store: %w", err)
	}

	bindAddr := fmt.Sprintf("0.0.0.0:%d", cfg.RaftPort)
	advertise, err := net.ResolveTCPAddr("tcp", fmt.Sprintf("%s:%d", cfg.AdvertiseHost, cfg.RaftPort))
	if err != nil {
		return nil, fmt.Errorf("replog: resolve advertise addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(bindAddr, advertise, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("replog: tcp transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("replog: new raft: %w", err)
	}

	if len(cfg.Peers) == 0 {
		future := r.BootstrapCluster(raft.Configuration{
			Servers: []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}},
		})
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			logx.Warn("replog: bootstrap: %v", err)
		}
	} else {
		for _, peer := range cfg.Peers {
			id, addr, ok := strings.Cut(peer, "@")
			if !ok {
				logx.Warn("replog: ignoring malformed peer %q, want id@addr", peer)
				continue
			}
			future := r.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 10*time.Second)
			if err := future.Error(); err != nil {
				logx.Warn("replog: add voter %s: %v", id, err)
			}
		}
	}

	return &Group{raft: r, fsm: fsm, sink: sink}, nil
}

func hclogLevel(level string) hclog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return hclog.Debug
	case "warn", "warning":
		return hclog.Warn
	case "error":
		return hclog.Error
	default:
		return hclog.Info
	}
}

// BridgeMetrics periodically reads raft's go-metrics telemetry out of the
// InmemSink registered in NewGroup and re-exports each sample as a
// Prometheus gauge, since raft speaks go-metrics.Sink natively and has no
// Prometheus exporter of its own. It blocks until stop is closed.
func (g *Group) BridgeMetrics(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			intervals := g.sink.Data()
			if len(intervals) == 0 {
				continue
			}
			latest := intervals[len(intervals)-1]

			latest.RLock()
			for name, v := range latest.Gauges {
				metrics.RaftTelemetry.WithLabelValues(name).Set(float64(v.Value))
			}
			for name, v := range latest.Counters {
				metrics.RaftTelemetry.WithLabelValues(name).Set(v.Sum)
			}
			for name, v := range latest.Samples {
				metrics.RaftTelemetry.WithLabelValues(name).Set(v.Sum / float64(max(v.Count, 1)))
			}
			latest.RUnlock()
		}
	}
}

// IsLeader reports whether this node currently holds the raft leadership for
// its producer's replication group.
func (g *Group) IsLeader() bool { return g.raft.State() == raft.Leader }

// FSM returns the replicated producer log backing this group.
func (g *Group) FSM() *FSM { return g.fsm }

func (g *Group) apply(cmd string, body []byte) error {
	full := append([]byte(cmd), body...)
	return g.raft.Apply(full, 5*time.Second).Error()
}

// ReplicateProduce replicates one produced event before the caller
// broadcasts it, so that a failover successor's FSM already has it buffered.
func (g *Group) ReplicateProduce(seq uint64, payload []byte) error {
	body, err := json.Marshal(produceCmd{Seq: seq, Payload: payload})
	if err != nil {
		return err
	}
	return g.apply("PRODUCE:", body)
}

// ReplicateAddPath replicates a newly registered consumer path.
func (g *Group) ReplicateAddPath(handle string, offset uint64) error {
	body, err := json.Marshal(addPathCmd{Handle: handle, Offset: offset})
	if err != nil {
		return err
	}
	return g.apply("ADD_PATH:", body)
}

// ReplicateAck replicates a path's cumulative ACK progress.
func (g *Group) ReplicateAck(handle string, seq, tick uint64) error {
	body, err := json.Marshal(ackCmd{Handle: handle, Seq: seq, Tick: tick})
	if err != nil {
		return err
	}
	return g.apply("ACK:", body)
}

// ReplicateTick replicates the producer's logical clock, so a successor's
// Tick-driven heartbeat cadence resumes from the right point.
func (g *Group) ReplicateTick(tick uint64) error {
	body, err := json.Marshal(tick)
	if err != nil {
		return err
	}
	return g.apply("TICK:", body)
}

// Shutdown stops the raft group.
func (g *Group) Shutdown() error {
	return g.raft.Shutdown().Error()
}
