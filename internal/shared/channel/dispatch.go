package channel

import (
	"strconv"

	"github.com/netfr-go/netfr/internal/metrics"
	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/region"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/remotemem"
	"github.com/netfr-go/netfr/internal/shared/slotpool"
	"github.com/netfr-go/netfr/internal/shared/wire"
)

// DrainCompletions implements the CQ-draining half of every process pass:
// it pulls every ready completion and routes it by the context's class,
// handing recv contexts to the receive dispatcher and resolving write and
// send completions directly.
func (c *Channel) DrainCompletions() {
	cq := c.resource.CompletionQueue()
	for {
		entry, err := cq.Read()
		if err != nil {
			if relayerr.Is(err, relayerr.KindAgain) {
				return
			}
			errEntry, _ := cq.ReadErr()
			c.handleCQError(errEntry)
			continue
		}
		ctx, ok := entry.UserContext.(*slotpool.Context)
		if !ok || ctx == nil {
			continue
		}
		c.handleCompletion(ctx)
	}
}

// handleCQError splits canceled completions from fatal ones: a canceled
// completion marks the context CANCELED and drops through to its callback
// (which must idempotently release it); any other error is logged and the
// context still reset so a single provider fault cannot leak a slot
// permanently.
func (c *Channel) handleCQError(errEntry fabric.CQErrEntry) {
	ctx, ok := errEntry.UserContext.(*slotpool.Context)
	if !ok || ctx == nil {
		return
	}
	if errEntry.Canceled {
		ctx.State = slotpool.Canceled
		if ctx.Callback != nil {
			ctx.Callback(ctx.UserData, true)
		}
		c.Pool.Reset(ctx)
		return
	}
	index, class := c.Pool.Locate(ctx)
	c.Log.Error().Err(errEntry.ProviderErr).
		Int("channel", c.Index).
		Int("ctx_index", index).
		Str("slot_type", class.String()).
		Msg("fatal completion error")
	c.Pool.Reset(ctx)
}

func (c *Channel) handleCompletion(ctx *slotpool.Context) {
	switch ctx.Class {
	case slotpool.ClassSend:
		c.Pool.Reset(ctx)

	case slotpool.ClassAck:
		// Ack-only contexts are never freed; nothing further to do.

	case slotpool.ClassWrite:
		if wc, ok := ctx.Aux.(*writeCompletion); ok && wc != nil {
			wc.entry.State = remotemem.BusyRemote
			label := strconv.Itoa(c.Index)
			metrics.WritesTotal.WithLabelValues(label).Inc()
			metrics.WriteBytesTotal.WithLabelValues(label).Add(float64(wc.length))
		}
		if ctx.Callback != nil {
			ctx.Callback(ctx.UserData, false)
		}
		c.Pool.Reset(ctx)

	case slotpool.ClassRecv:
		c.dispatchRecv(ctx)
	}
}

// dispatchRecv is the receive dispatcher: branch on the inbound message
// type. A message that fails header validation or carries a cross-role
// type is dropped and the context reset; no event is emitted for it.
func (c *Channel) dispatchRecv(ctx *slotpool.Context) {
	label := strconv.Itoa(c.Index)
	hdr, err := wire.VerifyHeader(ctx.Slot)
	if err != nil {
		metrics.BadMessages.WithLabelValues(label, "bad_header").Inc()
		c.Log.Debug().Err(err).Msg("dropping malformed message")
		c.Pool.Reset(ctx)
		return
	}

	switch hdr.Type {
	case wire.MsgBufferState:
		if !c.IsHost {
			metrics.BadMessages.WithLabelValues(label, "wrong_role").Inc()
			c.Log.Warn().Msg("BUFFER_STATE received on non-host channel, dropping")
			c.Pool.Reset(ctx)
			return
		}
		m, err := wire.DecodeBufferState(ctx.Slot)
		if err != nil {
			metrics.BadMessages.WithLabelValues(label, "decode_error").Inc()
			c.Pool.Reset(ctx)
			return
		}
		if err := c.Remote.Publish(int(m.Index), m.Addr, m.Size, m.RKey, m.PageSize); err != nil {
			c.Log.Warn().Err(err).Uint8("index", m.Index).Msg("rejected BUFFER_STATE")
		}
		c.Pool.Reset(ctx)

	case wire.MsgBufferUpdate:
		if c.IsHost {
			metrics.BadMessages.WithLabelValues(label, "wrong_role").Inc()
			c.Log.Warn().Msg("BUFFER_UPDATE received on host channel, dropping")
			c.Pool.Reset(ctx)
			return
		}
		m, err := wire.DecodeBufferUpdate(ctx.Slot)
		if err != nil {
			metrics.BadMessages.WithLabelValues(label, "decode_error").Inc()
			c.Pool.Reset(ctx)
			return
		}
		reg := c.Regions.At(int(m.BufferIndex))
		if reg == nil || uint64(m.PayloadOffset)+uint64(m.PayloadSize) > uint64(reg.Size()) {
			metrics.BadMessages.WithLabelValues(label, "out_of_range").Inc()
			c.Log.Warn().Msg("BUFFER_UPDATE out of range, dropping")
			c.Pool.Reset(ctx)
			return
		}
		reg.PayloadOffset = m.PayloadOffset
		reg.PayloadLength = m.PayloadSize
		reg.WriteSerial = m.WriteSerial
		reg.ChannelSerial = m.ChannelSerial
		reg.State = region.HasData
		c.Pool.Reset(ctx)

	case wire.MsgClientData, wire.MsgHostData:
		expectHost := hdr.Type == wire.MsgHostData
		if expectHost == c.IsHost {
			// A host only ever receives CLIENT_DATA and a client only
			// ever receives HOST_DATA; the reverse is a protocol
			// violation from a misbehaving peer.
			metrics.BadMessages.WithLabelValues(label, "wrong_role").Inc()
			c.Log.Warn().Str("type", hdr.Type.String()).Msg("cross-role data message, dropping")
			c.Pool.Reset(ctx)
			return
		}
		m, err := decodeData(ctx.Slot)
		if err != nil {
			metrics.BadMessages.WithLabelValues(label, "decode_error").Inc()
			c.Pool.Reset(ctx)
			return
		}
		ctx.MsgSerial = m.MsgSerial
		ctx.ChannelSerial = m.ChannelSerial
		ctx.State = slotpool.HasData

	case wire.MsgClientDataAck, wire.MsgHostDataAck:
		c.txCredits++
		if c.txCredits > wire.CreditInit {
			c.txCredits = wire.CreditInit
		}
		c.Pool.Reset(ctx)

	default:
		metrics.BadMessages.WithLabelValues(label, "unexpected_type").Inc()
		c.Log.Warn().Str("type", hdr.Type.String()).Msg("unexpected message on data stream, dropping")
		c.Pool.Reset(ctx)
	}
}
