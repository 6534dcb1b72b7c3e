package channel

import (
	"strconv"

	"github.com/rs/zerolog"

	"github.com/netfr-go/netfr/internal/logging"
	"github.com/netfr-go/netfr/internal/metrics"
	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/region"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/remotemem"
	"github.com/netfr-go/netfr/internal/shared/slotpool"
	"github.com/netfr-go/netfr/internal/shared/wire"
)

// Channel is one of a peer's independent endpoint-plus-state bundles.
// Every field below is owned exclusively by this Channel; no cross-channel
// object is ever touched from here.
type Channel struct {
	Index  int
	IsHost bool
	Log    zerolog.Logger

	provider fabric.Provider
	hints    fabric.Hints

	resource fabric.Resource
	passive  fabric.PassiveEndpoint
	ep       fabric.Endpoint

	Pool    *slotpool.Pool
	Regions *region.Registry
	Remote  *remotemem.Registry // host only

	State ConnState

	clientConnected bool // host only: is a client currently attached

	msgSerial     uint32
	channelSerial uint32
	writeSerial   uint32
	txCredits     uint32

	// peerVersion records the protocol version the peer advertised during
	// the handshake, for diagnostics only: the wire format itself stays
	// fixed at wire.Version, and VerifyHeader already rejects any other
	// version as BadMessage before a Channel ever sees it.
	peerVersion uint8
}

// ProtocolVersion reports the peer's advertised protocol version, or 0
// before the handshake completes.
func (c *Channel) ProtocolVersion() uint8 { return c.peerVersion }

// New constructs a Channel bound to provider, not yet holding any fabric
// resources. Call ResourceOpen (client) or HostInit (host) next.
func New(index int, isHost bool, provider fabric.Provider, hints fabric.Hints, log zerolog.Logger) *Channel {
	return &Channel{
		Index:    index,
		IsHost:   isHost,
		Log:      log.With().Int("channel", index).Bool("host", isHost).Logger(),
		provider: provider,
		hints:    hints,
		State:    None,
	}
}

// openResources opens the fabric/domain/EQ/CQ bundle and the pool and
// region registry shared by both host and client resource setup.
func (c *Channel) openResources() error {
	resource, err := c.provider.Open(c.hints)
	if err != nil {
		return relayerr.Wrap("channel.openResources", relayerr.KindFatal, err)
	}
	pool, err := slotpool.NewPool(resource)
	if err != nil {
		return err
	}
	c.resource = resource
	c.Pool = pool
	c.Regions = region.NewRegistry(resource)
	c.txCredits = wire.CreditInit
	if c.IsHost {
		c.Remote = remotemem.NewRegistry()
	}
	return nil
}

// ResourceOpen implements the client-side resource setup: allocate
// fabric/domain/EQ/CQ/communication buffer and set state READY_TO_CONNECT.
func (c *Channel) ResourceOpen() error {
	if err := c.openResources(); err != nil {
		return err
	}
	c.State = ReadyToConnect
	return nil
}

// HostInit opens resources and a passive endpoint for the host-side
// setup, then begins listening for CONNREQ events.
func (c *Channel) HostInit() error {
	if err := c.openResources(); err != nil {
		return err
	}
	passive, err := c.resource.PassiveListen(c.hints.Addr)
	if err != nil {
		return relayerr.Wrap("channel.HostInit", relayerr.KindFatal, err)
	}
	c.passive = passive
	c.State = ReadyToConnect
	return nil
}

// SessionInit drives the client-side connection state machine one step.
// Callers loop until it returns nil or a non-Again error.
func (c *Channel) SessionInit() error {
	switch c.State {
	case ReadyToConnect:
		ep, err := c.resource.NewEndpoint()
		if err != nil {
			return relayerr.Wrap("channel.SessionInit", relayerr.KindFatal, err)
		}
		c.ep = ep
		hello := make([]byte, wire.HeaderSize)
		wire.EncodeClientHello(hello)
		if err := ep.Connect(c.hints.Addr, hello); err != nil {
			return err
		}
		c.State = Connecting
		return relayerr.New("channel.SessionInit", relayerr.KindAgain)

	case Connecting:
		ev, err := c.resource.EventQueue().Read()
		if err != nil {
			return err // KindAgain: keep polling
		}
		switch ev.Kind {
		case fabric.EventConnected:
			hello, err := wire.DecodeServerHello(ev.PrivateData)
			if err != nil {
				return relayerr.Wrap("channel.SessionInit", relayerr.KindBadMessage, err)
			}
			switch hello.Status {
			case wire.StatusOK:
				c.peerVersion = hello.Header.Version
				c.State = Connected
				c.clientConnected = true
				c.Log.Info().Msg("channel connected")
				return nil
			case wire.StatusRejected:
				c.State = Disconnected
				return relayerr.New("channel.SessionInit", relayerr.KindConnRefused)
			default:
				c.State = Disconnected
				return relayerr.New("channel.SessionInit", relayerr.KindConnRefused)
			}
		case fabric.EventShutdown:
			c.State = Disconnected
			return relayerr.New("channel.SessionInit", relayerr.KindConnReset)
		default:
			return relayerr.New("channel.SessionInit", relayerr.KindAgain)
		}

	case Connected:
		return nil

	default:
		return relayerr.New("channel.SessionInit", relayerr.KindNotConnected)
	}
}

// pollEvents drains at most one connection-manager event and applies it.
// Shared by host Process and client Process.
func (c *Channel) pollEvents() error {
	ev, err := c.resource.EventQueue().Read()
	if err != nil {
		return nil // KindAgain: nothing pending, not an error for Process
	}
	switch ev.Kind {
	case fabric.EventConnReq:
		if c.IsHost && c.clientConnected {
			reply := make([]byte, wire.HeaderSize+1)
			wire.EncodeServerHello(reply, wire.StatusRejected)
			if c.passive != nil {
				c.passive.Reject(reply)
			}
			c.Log.Warn().Msg("rejected surplus client connection")
			return nil
		}
		if hdr, err := wire.VerifyHeader(ev.PrivateData); err == nil {
			c.peerVersion = hdr.Version
		}
		ep, err := c.resource.NewEndpoint()
		if err != nil {
			return relayerr.Wrap("channel.pollEvents", relayerr.KindFatal, err)
		}
		reply := make([]byte, wire.HeaderSize+1)
		wire.EncodeServerHello(reply, wire.StatusOK)
		if err := ep.Accept(reply); err != nil {
			return err
		}
		c.ep = ep
		return nil

	case fabric.EventConnected:
		c.State = Connected
		c.clientConnected = true
		c.Log.Info().Msg("client attached")
		return nil

	case fabric.EventShutdown:
		if c.ep != nil {
			c.ep.Close()
			c.ep = nil
		}
		c.clientConnected = false
		if c.IsHost {
			c.State = ReadyToConnect // back to listening
		} else {
			c.State = Disconnected
		}
		c.Log.Info().Msg("peer disconnected")
		return nil
	}
	return nil
}

// Process implements one host-side process pass for this channel: advance
// the event queue, drain completions, and repost recvs. Returns
// NotConnected if no client is attached; the host API layer does not fail
// other channels when one reports NotConnected.
func (c *Channel) Process() error {
	if err := c.pollEvents(); err != nil {
		return err
	}
	if !c.Connected() {
		return relayerr.New("channel.Process", relayerr.KindNotConnected)
	}
	c.DrainCompletions()
	c.ConsumeRxSlots()
	c.publishMetrics()
	if logging.DebugEnabled() {
		if stuck := c.Pool.DebugCheckNoneAllocated(); len(stuck) > 0 {
			c.Log.Debug().Ints("stuck_contexts", stuck).Msg("contexts allocated but never posted or reset")
		}
	}
	return nil
}

// publishMetrics snapshots this channel's in-use context counts, credit
// balance, and connection state into the process-wide Prometheus gauges.
func (c *Channel) publishMetrics() {
	label := strconv.Itoa(c.Index)
	metrics.TxCredits.WithLabelValues(label).Set(float64(c.txCredits))
	metrics.ConnectionState.WithLabelValues(label).Set(float64(c.State))
	for _, class := range [...]slotpool.Class{slotpool.ClassSend, slotpool.ClassRecv, slotpool.ClassWrite, slotpool.ClassAck} {
		inUse := 0
		c.Pool.Range(class, func(ctx *slotpool.Context) bool {
			if ctx.State != slotpool.Available && ctx.State != slotpool.AckOnly {
				inUse++
			}
			return true
		})
		metrics.ContextsInUse.WithLabelValues(label, class.String()).Set(float64(inUse))
	}
	for i := 0; i < c.Regions.Len(); i++ {
		reg := c.Regions.At(i)
		if reg.State == region.Empty {
			continue
		}
		metrics.RegionState.WithLabelValues(label, strconv.Itoa(i)).Set(float64(reg.State))
	}
	if c.Remote != nil {
		for i := 0; i < c.Remote.Len(); i++ {
			entry := c.Remote.At(i)
			if entry.State == remotemem.None {
				continue
			}
			metrics.RemoteEntryState.WithLabelValues(label, strconv.Itoa(i)).Set(float64(entry.State))
		}
	}
}

// Connected reports whether this channel currently has an attached peer.
func (c *Channel) Connected() bool { return c.State == Connected && c.clientConnected }

// TxCredits reports the current outstanding-send allowance.
func (c *Channel) TxCredits() uint32 { return c.txCredits }

// Close tears down this channel's fabric resources.
func (c *Channel) Close() error {
	if c.ep != nil {
		c.ep.Close()
	}
	if c.passive != nil {
		c.passive.Close()
	}
	if c.resource != nil {
		return c.resource.Close()
	}
	return nil
}
