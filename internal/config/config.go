// Package config loads the channel broker's tunables from flags and then
// overlays an optional YAML file on top of them.
package config

import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/downfa11-org/channelbroker/internal/logx"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable the channel core, its backend, and the CLI
// entrypoint need.
type Config struct {
	BrokerPort   int    `yaml:"broker_port" json:"broker.port"`
	ExporterPort int    `yaml:"exporter_port" json:"exporter.port"`
	LogDir       string `yaml:"log_dir" json:"log.dir"`
	LogLevel     string `yaml:"log_level" json:"log_level"`

	// HeartbeatInterval is the producer's configurable tick count between
	// liveness broadcasts when otherwise silent. 0 disables heartbeats.
	HeartbeatInterval uint16 `yaml:"heartbeat_interval" json:"heartbeat.interval"`
	// NackTimeout is how many idle ticks a consumer waits, once it knows of
	// a gap, before emitting a selective NACK.
	NackTimeout uint64 `yaml:"nack_timeout" json:"nack.timeout"`

	ProducerBufferCap int `yaml:"producer_buffer_cap" json:"producer.buffer.cap"`
	ConsumerBufferCap int `yaml:"consumer_buffer_cap" json:"consumer.buffer.cap"`

	EnableExporter bool `yaml:"enable_exporter" json:"enable.exporter"`

	// Replication configures internal/replog's raft group, which replicates
	// a producer's sequence assignment and retransmission buffer for
	// failover. EnableReplication false runs a bare, unreplicated producer.
	EnableReplication bool     `yaml:"enable_replication" json:"enable.replication"`
	NodeID            string   `yaml:"node_id" json:"node.id"`
	DataDir           string   `yaml:"data_dir" json:"data.dir"`
	AdvertiseHost     string   `yaml:"advertise_host" json:"advertise.host"`
	RaftPort          int      `yaml:"raft_port" json:"raft.port"`
	Peers             []string `yaml:"peers" json:"peers"`
}

// Load builds a Config from the flag values (defaults or given on the command
// line) and then from an optional -config YAML file. Fields present in the
// YAML file replace the flag values, including flags given explicitly.
func Load() (*Config, error) {
	cfg := &Config{}

	configPath := flag.String("config", "", "path to a YAML config file")
	portStr := flag.String("port", "9400", "broker TCP port")
	exporterPortStr := flag.String("exporter-port", "9401", "Prometheus exporter port")
	logDirStr := flag.String("log-dir", "channelbroker-logs", "log output directory")
	logLevelStr := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	heartbeatStr := flag.String("heartbeat-interval", "5", "producer heartbeat interval, in ticks (0 disables)")
	nackTimeoutStr := flag.String("nack-timeout", "5", "consumer NACK timeout, in idle ticks")
	producerBufStr := flag.String("producer-buffer-cap", "4096", "producer retransmission buffer soft cap")
	consumerBufStr := flag.String("consumer-buffer-cap", "4096", "consumer reorder buffer soft cap")
	exporterStr := flag.String("exporter", "true", "enable the Prometheus exporter")
	replicationStr := flag.String("replication", "false", "enable raft-replicated producer failover")
	nodeIDStr := flag.String("node-id", "node-1", "this broker's raft node ID")
	dataDirStr := flag.String("data-dir", "channelbroker-data", "raft log and snapshot directory")
	advertiseHostStr := flag.String("advertise-host", "127.0.0.1", "address other nodes use to reach this broker's raft transport")
	raftPortStr := flag.String("raft-port", "9402", "raft transport TCP port")
	peersStr := flag.String("peers", "", "comma-separated id@addr list of other raft group members")

	if envPath := os.Getenv("CHANNELBROKER_CONFIG"); envPath != "" && *configPath == "" {
		*configPath = envPath
	}

	flag.Parse()

	applyDefaults(cfg, portStr, exporterPortStr, logDirStr, logLevelStr, heartbeatStr,
		nackTimeoutStr, producerBufStr, consumerBufStr, exporterStr)

	cfg.EnableReplication = *replicationStr == "true"
	cfg.NodeID = *nodeIDStr
	cfg.DataDir = *dataDirStr
	cfg.AdvertiseHost = *advertiseHostStr
	if port, err := strconv.Atoi(*raftPortStr); err == nil {
		cfg.RaftPort = port
	}
	if *peersStr != "" {
		cfg.Peers = strings.Split(*peersStr, ",")
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	logx.SetLevel(parseLevel(cfg.LogLevel))
	return cfg, nil
}

func applyDefaults(cfg *Config, portStr, exporterPortStr, logDirStr, logLevelStr,
	heartbeatStr, nackTimeoutStr, producerBufStr, consumerBufStr, exporterStr *string) {

	if port, err := strconv.Atoi(*portStr); err == nil {
		cfg.BrokerPort = port
	}
	if exporterPort, err := strconv.Atoi(*exporterPortStr); err == nil {
		cfg.ExporterPort = exporterPort
	}
	cfg.LogDir = *logDirStr
	cfg.LogLevel = *logLevelStr

	if hb, err := strconv.ParseUint(*heartbeatStr, 10, 16); err == nil {
		cfg.HeartbeatInterval = uint16(hb)
	}
	if nt, err := strconv.ParseUint(*nackTimeoutStr, 10, 64); err == nil {
		cfg.NackTimeout = nt
	}
	if pb, err := strconv.Atoi(*producerBufStr); err == nil {
		cfg.ProducerBufferCap = pb
	}
	if cb, err := strconv.Atoi(*consumerBufStr); err == nil {
		cfg.ConsumerBufferCap = cb
	}
	if exp, err := strconv.ParseBool(*exporterStr); err == nil {
		cfg.EnableExporter = exp
	}
}

func parseLevel(s string) logx.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logx.LevelDebug
	case "warn", "warning":
		return logx.LevelWarn
	case "error":
		return logx.LevelError
	default:
		return logx.LevelInfo
	}
}
