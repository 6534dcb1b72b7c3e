// Package integration drives the host and client packages end-to-end over
// the real tcpfab provider on localhost TCP sockets, the same pattern
// tcpfab's own tests use for a single send/recv/write round trip, scaled up
// to the full connect/write/send/ack lifecycle.
package integration

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/netfr-go/netfr/internal/client"
	"github.com/netfr-go/netfr/internal/host"
	"github.com/netfr-go/netfr/internal/shared/channel"
	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/fabric/tcpfab"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/remotemem"
	"github.com/netfr-go/netfr/internal/shared/wire"
)

const pollTimeout = 2 * time.Second

func hostOptions(provider fabric.Provider, primaryAddr, secondaryAddr string) host.Options {
	var opts host.Options
	opts.Provider = provider
	opts.Addrs[wire.ChannelPrimary] = primaryAddr
	opts.Addrs[wire.ChannelSecondary] = secondaryAddr
	opts.Transports[wire.ChannelPrimary] = fabric.TransportTCP
	opts.Transports[wire.ChannelSecondary] = fabric.TransportTCP
	opts.Logger = zerolog.Nop()
	return opts
}

func clientOptions(provider fabric.Provider, primaryAddr, secondaryAddr string) client.Options {
	var opts client.Options
	opts.Provider = provider
	opts.PeerAddrs[wire.ChannelPrimary] = primaryAddr
	opts.PeerAddrs[wire.ChannelSecondary] = secondaryAddr
	opts.Transports[wire.ChannelPrimary] = fabric.TransportTCP
	opts.Transports[wire.ChannelSecondary] = fabric.TransportTCP
	opts.Logger = zerolog.Nop()
	return opts
}

// connectClient drives c.SessionInit until every channel reaches CONNECTED,
// the host side attached client until every channel sees a client, or the
// deadline expires.
func connectClient(t *testing.T, c *client.Client, h *host.Host) {
	t.Helper()
	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		h.Process()
		err := c.SessionInit()
		if err == nil {
			return
		}
		if !relayerr.Is(err, relayerr.KindAgain) {
			t.Fatalf("SessionInit: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out connecting client")
}

// drainHostProcess runs host.Process a bounded number of times so queued
// BUFFER_STATE/DATA_ACK traffic gets a chance to land.
func drainHostProcess(h *host.Host, passes int) {
	for i := 0; i < passes; i++ {
		h.Process()
		time.Sleep(time.Millisecond)
	}
}

func waitClientEvent(t *testing.T, c *client.Client) *channel.Event {
	t.Helper()
	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		ev, err := c.Process(-1)
		if err == nil {
			return ev
		}
		if !relayerr.Is(err, relayerr.KindAgain) {
			t.Fatalf("Process: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for client event")
	return nil
}

// TestEchoWriteAndSendDeliverBothEvents exercises a host-initiated
// one-sided write and a concurrent low-latency send, matching the "Echo"
// scenario: the client observes exactly one MEM_WRITE event at serial 1
// and one DATA event carrying the inline message.
func TestEchoWriteAndSendDeliverBothEvents(t *testing.T) {
	provider := tcpfab.NewProvider(zerolog.Nop())
	h, err := host.Init(hostOptions(provider, "127.0.0.1:19101", "127.0.0.1:19102"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	c, err := client.Init(clientOptions(provider, "127.0.0.1:19101", "127.0.0.1:19102"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	connectClient(t, c, h)

	remoteBuf := make([]byte, 64)
	if _, err := c.AttachMemory(remoteBuf, wire.ChannelPrimary); err != nil {
		t.Fatal(err)
	}

	// Let the client's resync pass publish BUFFER_STATE and the host
	// observe it before attempting a write against the remote registry.
	deadline := time.Now().Add(pollTimeout)
	for {
		c.Process(wire.ChannelPrimary)
		h.Process()
		if h.Channels[wire.ChannelPrimary].Remote.At(0).State == remotemem.Available {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for BUFFER_STATE to reach the host")
		}
		time.Sleep(time.Millisecond)
	}

	local := make([]byte, 64)
	for i := range local {
		local[i] = byte(i)
	}
	if err := h.WriteBuffer(wire.ChannelPrimary, local, 0, 0, uint64(len(local)), nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := h.SendData(wire.ChannelSecondary, []byte("Hello client"), 0x42); err != nil {
		t.Fatal(err)
	}
	drainHostProcess(h, 50)

	var gotWrite, gotData bool
	var writeEvent *channel.Event
	for i := 0; i < 2; i++ {
		ev := waitClientEvent(t, c)
		switch ev.Kind {
		case channel.EventMemWrite:
			gotWrite = true
			writeEvent = ev
		case channel.EventData:
			gotData = true
			if string(ev.InlineData) != "Hello client" {
				t.Fatalf("got inline data %q, want %q", ev.InlineData, "Hello client")
			}
		}
	}
	if !gotWrite || !gotData {
		t.Fatalf("got write=%v data=%v, want both events", gotWrite, gotData)
	}
	if writeEvent.PayloadLength != uint32(len(local)) {
		t.Fatalf("got PayloadLength %d, want %d", writeEvent.PayloadLength, len(local))
	}
	if writeEvent.PayloadOffset != 0 {
		t.Fatalf("got PayloadOffset %d, want 0", writeEvent.PayloadOffset)
	}
	if writeEvent.Serial != 1 {
		t.Fatalf("got Serial %d, want 1 on a fresh channel's first write", writeEvent.Serial)
	}
	if string(remoteBuf) != string(local) {
		t.Fatal("write did not land in the client's registered buffer")
	}
}

// TestSecondClientIsRejected matches the "Rejection" scenario: a second
// client dialing a channel that already has one attached client gets
// ConnRefused out of SessionInit instead of reaching CONNECTED.
func TestSecondClientIsRejected(t *testing.T) {
	provider := tcpfab.NewProvider(zerolog.Nop())
	h, err := host.Init(hostOptions(provider, "127.0.0.1:19111", "127.0.0.1:19112"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	first, err := client.Init(clientOptions(provider, "127.0.0.1:19111", "127.0.0.1:19112"))
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()
	connectClient(t, first, h)

	second, err := client.Init(clientOptions(provider, "127.0.0.1:19111", "127.0.0.1:19112"))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		h.Process()
		err := second.SessionInit()
		if err == nil {
			t.Fatal("expected the second client to be refused, got CONNECTED")
		}
		if relayerr.Is(err, relayerr.KindConnRefused) {
			return
		}
		if !relayerr.Is(err, relayerr.KindAgain) {
			t.Fatalf("SessionInit: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for ConnRefused")
}

// TestCreditExhaustionBlocksFurtherSendsUntilAcked matches the "Credit
// exhaustion" scenario: once a channel's outstanding user-data sends
// consume its credit down to the reserved floor, further sends return
// Again until the peer reads and acks some back.
func TestCreditExhaustionBlocksFurtherSendsUntilAcked(t *testing.T) {
	provider := tcpfab.NewProvider(zerolog.Nop())
	h, err := host.Init(hostOptions(provider, "127.0.0.1:19121", "127.0.0.1:19122"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	c, err := client.Init(clientOptions(provider, "127.0.0.1:19121", "127.0.0.1:19122"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	connectClient(t, c, h)

	sent := 0
	for {
		err := c.SendData(wire.ChannelSecondary, []byte("x"), nil)
		if err != nil {
			if relayerr.Is(err, relayerr.KindAgain) {
				break
			}
			t.Fatal(err)
		}
		sent++
		if sent > int(wire.CreditInit)+1 {
			t.Fatal("credit check never triggered Again")
		}
	}
	if sent == 0 {
		t.Fatal("expected at least one send to succeed before exhaustion")
	}

	// Drain every queued message on the host and ack it, freeing credit
	// back on the client.
	drainHostProcess(h, sent*2+10)
	for {
		buf := make([]byte, 64)
		n, err := h.ReadData(wire.ChannelSecondary, buf)
		if err != nil {
			if relayerr.Is(err, relayerr.KindAgain) {
				break
			}
			t.Fatal(err)
		}
		_ = n
	}
	drainHostProcess(h, 10)

	deadline := time.Now().Add(pollTimeout)
	for {
		c.Process(wire.ChannelSecondary) // drains any pending ack completions
		if err := c.SendData(wire.ChannelSecondary, []byte("y"), nil); err == nil {
			return
		} else if !relayerr.Is(err, relayerr.KindAgain) {
			t.Fatal(err)
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for credit to be restored after acking")
		}
		time.Sleep(time.Millisecond)
	}
}
