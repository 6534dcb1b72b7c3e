// Package client implements the client-side half of the public API:
// init/session_init/attach_memory/process/send_data, composed from the
// shared channel package.
package client

import (
	"github.com/rs/zerolog"

	"github.com/netfr-go/netfr/internal/shared/channel"
	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/region"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/wire"
)

// Options configures Init: one peer address and transport per channel.
type Options struct {
	Provider   fabric.Provider
	PeerAddrs  [wire.NumChannels]string
	Transports [wire.NumChannels]fabric.Transport
	Logger     zerolog.Logger
}

// Client owns N_CHANNELS independent channels, each actively connecting
// to one host.
type Client struct {
	Channels [wire.NumChannels]*channel.Channel
	log      zerolog.Logger
}

// Init implements init(opts, peerAddrs) -> client: allocates resources
// for every channel and sets it READY_TO_CONNECT. Call SessionInit to
// drive the handshake to completion.
func Init(opts Options) (*Client, error) {
	c := &Client{log: opts.Logger}
	for i := 0; i < wire.NumChannels; i++ {
		ch := channel.New(i, false, opts.Provider, fabric.Hints{
			Transport: opts.Transports[i],
			Addr:      opts.PeerAddrs[i],
		}, opts.Logger)
		if err := ch.ResourceOpen(); err != nil {
			return nil, err
		}
		c.Channels[i] = ch
	}
	return c, nil
}

// SessionInit drives every channel's connection state machine and
// aggregates across channels, succeeding only when all reach CONNECTED.
func (c *Client) SessionInit() error {
	allConnected := true
	for _, ch := range c.Channels {
		if ch.State == channel.Connected {
			continue
		}
		if err := ch.SessionInit(); err != nil && !relayerr.Is(err, relayerr.KindAgain) {
			return err
		}
		if ch.State != channel.Connected {
			allConnected = false
		}
	}
	if !allConnected {
		return relayerr.New("client.SessionInit", relayerr.KindAgain)
	}
	return nil
}

// ProtocolVersion reports the protocol version advertised by the host on
// channelIndex, or 0 before the handshake completes.
func (c *Client) ProtocolVersion(channelIndex int) uint8 {
	return c.Channels[channelIndex].ProtocolVersion()
}

// AttachMemory implements attach_memory(client, buf, size, channel) ->
// region: a client-attached region begins AvailableUnsynced so the next
// Process call republishes it to the host.
func (c *Client) AttachMemory(buf []byte, channelIndex int) (*region.Region, error) {
	ch := c.Channels[channelIndex]
	return ch.Regions.Attach(buf, len(buf), fabric.AccessRecv|fabric.AccessRemoteWrite, region.AvailableUnsynced)
}

// SendData implements send_data(client, channel, buf, len, udata),
// symmetric to the host's.
func (c *Client) SendData(channelIndex int, buf []byte, udata any) error {
	return c.Channels[channelIndex].SendData(buf, udata)
}

// Process drives one process pass: channelIndex selects one channel, or
// -1 to iterate channels 0..N and return the first with an event (lowest
// index wins ties).
func (c *Client) Process(channelIndex int) (*channel.Event, error) {
	if channelIndex >= 0 {
		return c.Channels[channelIndex].ClientProcess()
	}
	for i := 0; i < wire.NumChannels; i++ {
		ev, err := c.Channels[i].ClientProcess()
		if err == nil {
			return ev, nil
		}
		if !relayerr.Is(err, relayerr.KindAgain) {
			return nil, err
		}
	}
	return nil, relayerr.New("client.Process", relayerr.KindAgain)
}

// Close tears down every channel's fabric resources.
func (c *Client) Close() error {
	var firstErr error
	for _, ch := range c.Channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
