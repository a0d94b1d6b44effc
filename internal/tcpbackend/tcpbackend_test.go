package tcpbackend

import (
	"net"
	"testing"
	"time"

	"github.com/downfa11-org/channelbroker/channel"
	"github.com/downfa11-org/channelbroker/internal/endpoint"
	"github.com/downfa11-org/channelbroker/internal/wire"
)

func TestProducerSideAddSendsHandshake(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	backend := NewProducerSide("test-producer")
	handle := endpoint.NewHandle()
	backend.Attach(handle, serverConn)

	producer := channel.NewProducer[endpoint.Handle, []byte](backend, 0)

	type result struct {
		kind wire.Kind
		err  error
	}
	done := make(chan result, 1)
	go func() {
		kind, _, err := ReadFrame(clientConn)
		done <- result{kind, err}
	}()

	if err := producer.Add(handle); err != nil {
		t.Fatalf("Add: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("client read: %v", r.err)
		}
		if r.kind != wire.KindHandshake {
			t.Fatalf("kind = %v, want %v", r.kind, wire.KindHandshake)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handshake frame")
	}
}

func TestSendToUnknownHandleDoesNotPanic(t *testing.T) {
	backend := NewProducerSide("test-producer")
	producer := channel.NewProducer[endpoint.Handle, []byte](backend, 0)
	backend.Send(producer, endpoint.NewHandle(), channel.Heartbeat{Seq: 1})
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	go func() {
		// A length prefix far over the max, followed by nothing: the reader
		// must reject before attempting to read the (absent) body.
		_, _ = clientConn.Write([]byte{byte(wire.KindEvent), 0xFF, 0xFF, 0xFF, 0xFF})
	}()

	if _, _, err := ReadFrame(serverConn); err == nil {
		t.Fatal("expected an error for an oversized frame length")
	}
}

func TestConsumerSideCloseInvokesOnClose(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	closed := make(chan error, 1)
	side := NewConsumerSide(serverConn, "test-consumer")
	side.OnClose = func(err error) { closed <- err }

	consumer := channel.NewConsumer[[]byte](side)
	side.Close(consumer, nil)

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("OnClose err = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("OnClose was not invoked")
	}
}
