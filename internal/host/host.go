// Package host implements the host-side half of the public API:
// init/process/client_count/attach_memory/send_data/read_data/write_buffer,
// each composed from the shared channel package's connection state
// machine, transfer engine, and receive dispatcher.
package host

import (
	"github.com/rs/zerolog"

	"github.com/netfr-go/netfr/internal/shared/channel"
	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/region"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/slotpool"
	"github.com/netfr-go/netfr/internal/shared/wire"
)

// Options configures Init: one bind address and transport per channel.
type Options struct {
	Provider   fabric.Provider
	Addrs      [wire.NumChannels]string
	Transports [wire.NumChannels]fabric.Transport
	Logger     zerolog.Logger
}

// Host owns N_CHANNELS independent channels, each listening for exactly
// one client.
type Host struct {
	Channels [wire.NumChannels]*channel.Channel
	log      zerolog.Logger
}

// Init opens resources and a passive endpoint per channel.
func Init(opts Options) (*Host, error) {
	h := &Host{log: opts.Logger}
	for i := 0; i < wire.NumChannels; i++ {
		ch := channel.New(i, true, opts.Provider, fabric.Hints{
			Transport: opts.Transports[i],
			Addr:      opts.Addrs[i],
		}, opts.Logger)
		if err := ch.HostInit(); err != nil {
			return nil, err
		}
		h.Channels[i] = ch
	}
	return h, nil
}

// Process advances every channel's EQ, drains its CQ, and reposts recvs.
// Per-channel errors other than NotConnected surface immediately;
// NotConnected on every channel is the aggregate result, while a
// per-channel NotConnected does not fail the channels that are connected.
func (h *Host) Process() error {
	anyConnected := false
	for _, ch := range h.Channels {
		err := ch.Process()
		switch {
		case err == nil:
			anyConnected = true
		case relayerr.Is(err, relayerr.KindNotConnected):
			// expected while waiting for a client; keep polling others
		default:
			return err
		}
	}
	if !anyConnected {
		return relayerr.New("host.Process", relayerr.KindNotConnected)
	}
	return nil
}

// ProtocolVersion reports the protocol version advertised by the client
// attached to channelIndex, or 0 before the handshake completes.
func (h *Host) ProtocolVersion(channelIndex int) uint8 {
	return h.Channels[channelIndex].ProtocolVersion()
}

// ClientCount reports whether channelIndex currently has an attached
// client: 1 if so, 0 otherwise or if the index is out of range.
func (h *Host) ClientCount(channelIndex int) int {
	if channelIndex < 0 || channelIndex >= wire.NumChannels {
		return 0
	}
	if h.Channels[channelIndex].Connected() {
		return 1
	}
	return 0
}

// AttachMemory registers buf as a region on channelIndex. A host-attached
// region always begins in Available: writes are host-initiated only, so a
// host's own regions are never themselves the target of a remote write,
// and Available simply marks the region ready for local use.
func (h *Host) AttachMemory(buf []byte, channelIndex int) (*region.Region, error) {
	ch := h.Channels[channelIndex]
	return ch.Regions.Attach(buf, len(buf), fabric.AccessSend|fabric.AccessRecv|fabric.AccessWrite, region.Available)
}

// SendData sends buf as a user-data message on channelIndex.
func (h *Host) SendData(channelIndex int, buf []byte, udata any) error {
	return h.Channels[channelIndex].SendData(buf, udata)
}

// ReadData copies the oldest ready inbound message on channelIndex into
// out.
func (h *Host) ReadData(channelIndex int, out []byte) (int, error) {
	return h.Channels[channelIndex].ReadData(out)
}

// WriteBuffer issues a one-sided write of length bytes from localBuf into
// the peer's published region at remoteOffset, invoking cb on completion.
func (h *Host) WriteBuffer(channelIndex int, localBuf []byte, localOffset, remoteOffset, length uint64, cb slotpool.WriteCallback, udata any) error {
	return h.Channels[channelIndex].WriteBuffer(localBuf, localOffset, remoteOffset, length, cb, udata)
}

// Close tears down every channel's fabric resources.
func (h *Host) Close() error {
	var firstErr error
	for _, ch := range h.Channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
