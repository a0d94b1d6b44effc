package replog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/hashicorp/raft"
)

func applyJSON(t *testing.T, f *FSM, index uint64, prefix string, v interface{}) interface{} {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	return f.Apply(&raft.Log{Index: index, Data: append([]byte(prefix), body...)})
}

func TestApplyProduceAppendsToBuffer(t *testing.T) {
	f := NewFSM()
	applyJSON(t, f, 1, "PRODUCE:", produceCmd{Seq: 1, Payload: []byte("a")})
	applyJSON(t, f, 2, "PRODUCE:", produceCmd{Seq: 2, Payload: []byte("b")})

	state := f.State()
	if state.Seq != 2 {
		t.Fatalf("Seq = %d, want 2", state.Seq)
	}
	if len(state.Buffer) != 2 {
		t.Fatalf("len(Buffer) = %d, want 2", len(state.Buffer))
	}
	if state.Applied != 2 {
		t.Fatalf("Applied = %d, want 2", state.Applied)
	}
}

func TestApplyAckTrimsBufferAtMinimum(t *testing.T) {
	f := NewFSM()
	applyJSON(t, f, 1, "ADD_PATH:", addPathCmd{Handle: "c1", Offset: 0})
	applyJSON(t, f, 2, "ADD_PATH:", addPathCmd{Handle: "c2", Offset: 0})
	applyJSON(t, f, 3, "PRODUCE:", produceCmd{Seq: 1, Payload: []byte("a")})
	applyJSON(t, f, 4, "PRODUCE:", produceCmd{Seq: 2, Payload: []byte("b")})

	applyJSON(t, f, 5, "ACK:", ackCmd{Handle: "c1", Seq: 2, Tick: 1})
	if got := len(f.State().Buffer); got != 2 {
		t.Fatalf("buffer should not trim until every path acks: len = %d, want 2", got)
	}

	applyJSON(t, f, 6, "ACK:", ackCmd{Handle: "c2", Seq: 1, Tick: 1})
	if got := len(f.State().Buffer); got != 1 {
		t.Fatalf("buffer should trim to the minimum ack: len = %d, want 1", got)
	}
}

func TestApplyUnknownCommandReturnsError(t *testing.T) {
	f := NewFSM()
	res := f.Apply(&raft.Log{Index: 1, Data: []byte("BOGUS:{}")})
	if _, ok := res.(error); !ok {
		t.Fatalf("expected an error result for an unknown command, got %v", res)
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	f := NewFSM()
	applyJSON(t, f, 1, "ADD_PATH:", addPathCmd{Handle: "c1", Offset: 0})
	applyJSON(t, f, 2, "PRODUCE:", produceCmd{Seq: 1, Payload: []byte("a")})
	applyJSON(t, f, 3, "TICK:", uint64(7))

	snap, err := f.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	var buf bytes.Buffer
	sink := &fakeSnapshotSink{Buffer: &buf}
	if err := snap.Persist(sink); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	restored := NewFSM()
	if err := restored.Restore(&fakeReadCloser{Reader: bytes.NewReader(buf.Bytes())}); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	want := f.State()
	got := restored.State()
	if got.Seq != want.Seq || got.Tick != want.Tick || len(got.Buffer) != len(want.Buffer) || len(got.Paths) != len(want.Paths) {
		t.Fatalf("restored state = %+v, want %+v", got, want)
	}
}

type fakeSnapshotSink struct {
	*bytes.Buffer
}

func (f *fakeSnapshotSink) ID() string     { return "test" }
func (f *fakeSnapshotSink) Cancel() error  { return nil }
func (f *fakeSnapshotSink) Close() error   { return nil }

type fakeReadCloser struct {
	*bytes.Reader
}

func (f *fakeReadCloser) Close() error { return nil }
