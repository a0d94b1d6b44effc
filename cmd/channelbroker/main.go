// Command channelbroker runs one producer of the channel protocol over
// plain TCP: it accepts consumer connections, hands out sequence numbers,
// retransmits on NACK, and serves Prometheus metrics, the same shape as the
// teacher's cmd/broker entrypoint (parse config, wire managers, serve until
// signal).
package main

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/downfa11-org/channelbroker/channel"
	"github.com/downfa11-org/channelbroker/internal/config"
	"github.com/downfa11-org/channelbroker/internal/endpoint"
	"github.com/downfa11-org/channelbroker/internal/health"
	"github.com/downfa11-org/channelbroker/internal/logx"
	"github.com/downfa11-org/channelbroker/internal/metrics"
	"github.com/downfa11-org/channelbroker/internal/netaddr"
	"github.com/downfa11-org/channelbroker/internal/replog"
	"github.com/downfa11-org/channelbroker/internal/status"
	"github.com/downfa11-org/channelbroker/internal/tcpbackend"
)

// producerTag labels this process's instrumentation and replicated state;
// a multi-producer deployment would derive it from config instead.
const producerTag = "producer-1"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logx.Fatal("failed to load config: %v", err)
	}

	out := colorable.NewColorableStdout()
	banner := color.New(color.FgGreen, color.Bold)
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
	banner.Fprintf(out, "channelbroker listening on :%d\n", cfg.BrokerPort)
	fmt.Fprintf(out, "heartbeat=%d nack-timeout=%d replication=%v exporter=%v\n",
		cfg.HeartbeatInterval, cfg.NackTimeout, cfg.EnableReplication, cfg.EnableExporter)

	registry := prometheus.NewRegistry()
	metrics.MustRegister(registry)

	if cfg.EnableExporter {
		go serveMetrics(cfg.ExporterPort, registry)
	}

	backend := tcpbackend.NewProducerSide(producerTag)
	producer := channel.NewProducer[endpoint.Handle, []byte](backend, channel.Interval(cfg.HeartbeatInterval))

	peers, err := endpoint.NewRegistry(4096)
	if err != nil {
		logx.Fatal("failed to create peer registry: %v", err)
	}

	var group *replog.Group
	if cfg.EnableReplication {
		group, err = replog.NewGroup(cfg)
		if err != nil {
			logx.Fatal("failed to start raft replication group: %v", err)
		}
		stop := make(chan struct{})
		defer close(stop)
		go group.BridgeMetrics(10*time.Second, stop)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.BrokerPort))
	if err != nil {
		logx.Fatal("failed to listen on :%d: %v", cfg.BrokerPort, err)
	}
	defer ln.Close()

	go acceptLoop(ln, producer, backend, peers, group)
	go tickLoop(producer, group)
	go healthLoop(producer, backend, peers)
	go produceLoop(producer, group)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logx.Info("shutting down")
}

func serveMetrics(port int, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	logx.Info("prometheus exporter listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logx.Error("metrics server stopped: %v", err)
	}
}

func acceptLoop(ln net.Listener, producer *channel.Producer[endpoint.Handle, []byte], backend *tcpbackend.ProducerSide, peers *endpoint.Registry, group *replog.Group) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			logx.Error("accept failed: %v", err)
			return
		}
		go handleConn(conn, producer, backend, peers, group)
	}
}

func handleConn(conn net.Conn, producer *channel.Producer[endpoint.Handle, []byte], backend *tcpbackend.ProducerSide, peers *endpoint.Registry, group *replog.Group) {
	handle := endpoint.NewHandle()
	backend.Attach(handle, conn)
	peers.Add(&endpoint.Peer{Handle: handle, Addr: conn.RemoteAddr().String(), Port: tcpPort(conn.RemoteAddr())})

	if err := producer.Add(handle); err != nil {
		st := status.New(status.ConsumerAlreadyPresent, err.Error())
		logx.Warn("consumer %s rejected: %s", handle, st)
		_ = conn.Close()
		return
	}
	peers.SetState(handle, endpoint.Connected)
	if group != nil {
		if err := group.ReplicateAddPath(handle.String(), uint64(producer.Seq())); err != nil {
			logx.Warn("replicate add-path for %s: %v", handle, err)
		}
	}

	logx.Info("consumer %s connected from %s", handle, conn.RemoteAddr())

	for {
		kind, body, err := tcpbackend.ReadFrame(conn)
		if err != nil {
			peers.SetState(handle, endpoint.Disconnected)
			logx.Info("consumer %s disconnected: %v", handle, err)
			return
		}
		if err := tcpbackend.HandleFeedback(producer, handle, kind, body); err != nil {
			logx.Warn("bad feedback frame from %s: %v", handle, err)
			continue
		}
		if group != nil {
			if pi := findPath(producer, handle); pi != nil {
				if err := group.ReplicateAck(handle.String(), uint64(pi.Acked), uint64(pi.LastAcked)); err != nil {
					logx.Warn("replicate ack for %s: %v", handle, err)
				}
			}
		}
	}
}

// tcpPort extracts the remote port from a connection's address, for the
// peer registry's Port field (internal/netaddr).
func tcpPort(addr net.Addr) netaddr.Port {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return netaddr.Port{Number: uint16(tcpAddr.Port), Protocol: netaddr.ProtocolTCP}
	}
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return netaddr.Port{}
	}
	n, err := strconv.Atoi(portStr)
	if err != nil {
		return netaddr.Port{}
	}
	return netaddr.Port{Number: uint16(n), Protocol: netaddr.ProtocolTCP}
}

func findPath(producer *channel.Producer[endpoint.Handle, []byte], handle endpoint.Handle) *channel.PathInfo[endpoint.Handle] {
	for _, pi := range producer.PathInfos() {
		if pi.Handle == handle {
			return &pi
		}
	}
	return nil
}

// tickLoop drives the producer's logical clock. A real deployment would tie
// this to wall-clock time or an external scheduler; one tick per second is
// a reasonable default cadence for heartbeats and NACK timeouts expressed
// in ticks.
func tickLoop(producer *channel.Producer[endpoint.Handle, []byte], group *replog.Group) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		producer.Tick()
		if group != nil && group.IsLeader() {
			if err := group.ReplicateTick(uint64(producer.CurrentTick())); err != nil {
				logx.Warn("replicate tick: %v", err)
			}
		}

		metrics.ProducerBufferDepth.WithLabelValues(producerTag).Set(float64(len(producer.Buf())))
		seq := producer.Seq()
		for _, pi := range producer.PathInfos() {
			metrics.PathAckLag.WithLabelValues(producerTag, fmt.Sprint(pi.Handle)).Set(float64(seq - pi.Acked))
		}
	}
}

// produceLoop feeds one payload per line of stdin into the producer, the
// same line-oriented operator interface the teacher's cmd/cli uses for
// manual command entry.
func produceLoop(producer *channel.Producer[endpoint.Handle, []byte], group *replog.Group) {
	fmt.Println("type a line and press enter to produce an event; EXIT quits")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "EXIT" {
			return
		}
		if line == "" {
			continue
		}

		payload := []byte(line)
		if group != nil {
			if !group.IsLeader() {
				logx.Warn("not the replication leader, dropping produced payload")
				continue
			}
			if err := group.ReplicateProduce(uint64(producer.Seq()+1), payload); err != nil {
				logx.Error("replicate produce failed, dropping payload: %v", err)
				continue
			}
		}
		producer.Produce(payload)
		metrics.EventsProduced.WithLabelValues(producerTag).Inc()
	}
}

// healthLoop periodically scans for peers that have stopped acknowledging
// and tears down their transport, the host-side peer-loss policy spec.md §7
// leaves outside the channel core.
func healthLoop(producer *channel.Producer[endpoint.Handle, []byte], backend *tcpbackend.ProducerSide, peers *endpoint.Registry) {
	const lossThreshold = channel.Tick(30)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		for _, lost := range health.Check(producer, lossThreshold) {
			st := status.New(status.PeerLost, fmt.Sprintf("ack lag %d ticks", lost.AckLag))
			logx.Warn("peer %v: %s", lost.Handle, st)
			backend.Detach(lost.Handle)
			peers.SetState(lost.Handle, endpoint.Disconnected)
		}
	}
}
