package tcpfab

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
)

func TestOpenRejectsRDMATransport(t *testing.T) {
	p := NewProvider(zerolog.Nop())
	_, err := p.Open(fabric.Hints{Transport: fabric.TransportRDMA})
	if !relayerr.Is(err, relayerr.KindFatal) {
		t.Fatalf("got %v, want KindFatal for an unimplemented transport", err)
	}
}

func TestRegisterMemoryAssignsIncreasingKeys(t *testing.T) {
	p := NewProvider(zerolog.Nop())
	res, err := p.Open(fabric.Hints{Transport: fabric.TransportTCP})
	if err != nil {
		t.Fatal(err)
	}
	first, err := res.RegisterMemory(make([]byte, 64), fabric.AccessSend, 0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := res.RegisterMemory(make([]byte, 64), fabric.AccessSend, 0)
	if err != nil {
		t.Fatal(err)
	}
	if first.Key() == second.Key() {
		t.Fatal("expected distinct registrations to get distinct keys")
	}
}

func TestRegisterMemoryRejectsRequestedKeyCollision(t *testing.T) {
	p := NewProvider(zerolog.Nop())
	res, err := p.Open(fabric.Hints{Transport: fabric.TransportTCP})
	if err != nil {
		t.Fatal(err)
	}
	first, err := res.RegisterMemory(make([]byte, 64), fabric.AccessSend, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Requesting an in-use key forces the retry loop to fall back to the
	// counter, so the registration still succeeds but with a new key.
	second, err := res.RegisterMemory(make([]byte, 64), fabric.AccessSend, first.Key())
	if err != nil {
		t.Fatal(err)
	}
	if second.Key() == first.Key() {
		t.Fatal("expected a colliding requested key to be reassigned")
	}
}
