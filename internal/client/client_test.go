package client

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/netfr-go/netfr/internal/shared/channel"
	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/region"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/wire"
)

type fakeMR struct{ addr, key uint64 }

func (m *fakeMR) Addr() uint64 { return m.addr }
func (m *fakeMR) Key() uint64  { return m.key }

type fakeEndpoint struct{ connectAddr string }

func (e *fakeEndpoint) Connect(peerAddr string, privData []byte) error {
	e.connectAddr = peerAddr
	return nil
}
func (e *fakeEndpoint) Accept(privData []byte) error { return nil }
func (e *fakeEndpoint) PostSend(buf []byte, desc fabric.MemoryRegistration, userCtx any) error {
	return nil
}
func (e *fakeEndpoint) PostRecv(buf []byte, desc fabric.MemoryRegistration, userCtx any) error {
	return nil
}
func (e *fakeEndpoint) PostWrite(localBuf []byte, desc fabric.MemoryRegistration, remoteAddr, rkey uint64, userCtx any) error {
	return nil
}
func (e *fakeEndpoint) PostInject(buf []byte) error { return &fabric.InjectSizeError{} }
func (e *fakeEndpoint) Close() error                { return nil }

type fakeEventQueue struct{}

func (q *fakeEventQueue) Read() (fabric.Event, error) {
	return fabric.Event{}, relayerr.New("fakeEventQueue.Read", relayerr.KindAgain)
}

type fakeCompletionQueue struct{}

func (q *fakeCompletionQueue) Read() (fabric.CQEntry, error) {
	return fabric.CQEntry{}, relayerr.New("fakeCompletionQueue.Read", relayerr.KindAgain)
}
func (q *fakeCompletionQueue) ReadErr() (fabric.CQErrEntry, error) {
	return fabric.CQErrEntry{}, relayerr.New("fakeCompletionQueue.ReadErr", relayerr.KindAgain)
}

type fakeResource struct{ nextKey uint64 }

func (r *fakeResource) RegisterMemory(buf []byte, access fabric.AccessFlags, requestedKey uint64) (fabric.MemoryRegistration, error) {
	r.nextKey++
	return &fakeMR{addr: r.nextKey * 0x10000, key: r.nextKey}, nil
}
func (r *fakeResource) PassiveListen(addr string) (fabric.PassiveEndpoint, error) { return nil, nil }
func (r *fakeResource) NewEndpoint() (fabric.Endpoint, error)                     { return &fakeEndpoint{}, nil }
func (r *fakeResource) EventQueue() fabric.EventQueue                             { return &fakeEventQueue{} }
func (r *fakeResource) CompletionQueue() fabric.CompletionQueue {
	return &fakeCompletionQueue{}
}
func (r *fakeResource) Close() error { return nil }

type fakeProvider struct{}

func (p *fakeProvider) Open(hints fabric.Hints) (fabric.Resource, error) {
	return &fakeResource{}, nil
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := Init(Options{
		Provider:   &fakeProvider{},
		PeerAddrs:  [wire.NumChannels]string{"127.0.0.1:9000", "127.0.0.1:9001"},
		Transports: [wire.NumChannels]fabric.Transport{fabric.TransportTCP, fabric.TransportTCP},
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestInitSetsEveryChannelReadyToConnect(t *testing.T) {
	c := newTestClient(t)
	for i := 0; i < wire.NumChannels; i++ {
		if c.Channels[i].State != channel.ReadyToConnect {
			t.Fatalf("channel %d: got state %v, want ReadyToConnect", i, c.Channels[i].State)
		}
	}
}

func TestSessionInitStaysAgainUntilHostReplies(t *testing.T) {
	c := newTestClient(t)
	err := c.SessionInit()
	if !relayerr.Is(err, relayerr.KindAgain) {
		t.Fatalf("got %v, want KindAgain (no CONNECTED event queued by the fake host)", err)
	}
	for i := 0; i < wire.NumChannels; i++ {
		if c.Channels[i].State != channel.Connecting {
			t.Fatalf("channel %d: got state %v, want Connecting", i, c.Channels[i].State)
		}
	}
}

func TestAttachMemoryBeginsUnsynced(t *testing.T) {
	c := newTestClient(t)
	reg, err := c.AttachMemory(make([]byte, 64), 0)
	if err != nil {
		t.Fatal(err)
	}
	if reg.State != region.AvailableUnsynced {
		t.Fatalf("got state %v, want AvailableUnsynced", reg.State)
	}
}

func TestProcessNotConnectedBeforeHandshake(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Process(0)
	if !relayerr.Is(err, relayerr.KindNotConnected) {
		t.Fatalf("got %v, want KindNotConnected", err)
	}
}

func TestSendDataNotConnectedBeforeHandshake(t *testing.T) {
	c := newTestClient(t)
	err := c.SendData(0, []byte("hi"), nil)
	if !relayerr.Is(err, relayerr.KindNotConnected) {
		t.Fatalf("got %v, want KindNotConnected", err)
	}
}

func TestCloseTearsDownAllChannels(t *testing.T) {
	c := newTestClient(t)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}
