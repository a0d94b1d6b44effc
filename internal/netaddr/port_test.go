package netaddr

import "testing"

func TestPortString(t *testing.T) {
	p := Port{Number: 9400, Protocol: ProtocolTCP}
	if got, want := p.String(), "9400/tcp"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestProtocolStringUnknown(t *testing.T) {
	if got, want := Protocol(99).String(), "unknown"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestPortEquality(t *testing.T) {
	a := Port{Number: 9400, Protocol: ProtocolTCP}
	b := Port{Number: 9400, Protocol: ProtocolTCP}
	c := Port{Number: 9400, Protocol: ProtocolUDP}

	if a != b {
		t.Fatal("equal ports should compare equal")
	}
	if a == c {
		t.Fatal("ports differing only by protocol should not compare equal")
	}
}
