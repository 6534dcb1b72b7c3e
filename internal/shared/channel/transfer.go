package channel

import (
	"strconv"

	"github.com/netfr-go/netfr/internal/metrics"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/remotemem"
	"github.com/netfr-go/netfr/internal/shared/slotpool"
	"github.com/netfr-go/netfr/internal/shared/wire"
)

// writeCompletion is the write context's Aux payload: the remote entry
// targeted and the byte length actually written, so the completion handler
// can transition the entry and report accurate byte counts without
// re-deriving length from the entry's (generally larger) capacity.
type writeCompletion struct {
	entry  *remotemem.Entry
	length uint64
}

// nextMsgSerial/nextChannelSerial implement the dual monotonic counters:
// msgSerial advances once per user-data send, channelSerial advances for
// every outbound event that must be totally ordered against writes (both
// user-data sends and BUFFER_UPDATEs).
func (c *Channel) nextMsgSerial() uint32 {
	if c.msgSerial == ^uint32(0) {
		metrics.SerialWraps.WithLabelValues(strconv.Itoa(c.Index), "msg").Inc()
	}
	c.msgSerial++
	return c.msgSerial
}

func (c *Channel) nextChannelSerial() uint32 {
	if c.channelSerial == ^uint32(0) {
		metrics.SerialWraps.WithLabelValues(strconv.Itoa(c.Index), "channel").Inc()
	}
	c.channelSerial++
	return c.channelSerial
}

// nextWriteSerial advances the write-relative counter a BUFFER_UPDATE's
// WriteSerial field is drawn from, independent of channelSerial.
func (c *Channel) nextWriteSerial() uint32 {
	if c.writeSerial == ^uint32(0) {
		metrics.SerialWraps.WithLabelValues(strconv.Itoa(c.Index), "write").Inc()
	}
	c.writeSerial++
	return c.writeSerial
}

func (c *Channel) outboundDataType() wire.MessageType {
	if c.IsHost {
		return wire.MsgHostData
	}
	return wire.MsgClientData
}

func ackTypeFor(t wire.MessageType) wire.MessageType {
	if t == wire.MsgClientData {
		return wire.MsgClientDataAck
	}
	return wire.MsgHostDataAck
}

// ConsumeRxSlots reposts every drained RECV context so receives are
// always outstanding for the full RX partition. Called at the end of
// every process pass.
func (c *Channel) ConsumeRxSlots() {
	c.Pool.Range(slotpool.ClassRecv, func(ctx *slotpool.Context) bool {
		if ctx.State != slotpool.Available {
			return true
		}
		ctx.State = slotpool.Allocated
		if err := c.ep.PostRecv(ctx.Slot, c.Pool.Desc(), ctx); err != nil {
			c.Pool.Reset(ctx)
			return false // provider backpressure; stop for this pass
		}
		ctx.State = slotpool.Waiting
		return true
	})
}

// SendData implements the user-data send path shared by Host.SendData and
// Client.SendData: credit check, context allocation, serial assignment,
// and post.
func (c *Channel) SendData(payload []byte, udata any) error {
	if !c.Connected() {
		return relayerr.New("channel.SendData", relayerr.KindNotConnected)
	}
	if len(payload) == 0 || len(payload) > wire.MaxPayload {
		return relayerr.NoSpace("channel.SendData", len(payload))
	}
	if c.txCredits < wire.ReservedCredits {
		return relayerr.New("channel.SendData", relayerr.KindAgain)
	}

	ctx, err := c.Pool.Alloc(slotpool.ClassSend)
	if err != nil {
		metrics.ContextAllocFailures.WithLabelValues(strconv.Itoa(c.Index), slotpool.ClassSend.String()).Inc()
		return err
	}

	msgSerial := c.nextMsgSerial()
	chSerial := c.nextChannelSerial()
	n, encErr := encodeData(ctx.Slot, c.outboundDataType(), payload, msgSerial, chSerial)
	if encErr != nil {
		c.Pool.Reset(ctx)
		return relayerr.Wrap("channel.SendData", relayerr.KindFatal, encErr)
	}

	if err := c.ep.PostSend(ctx.Slot[:n], c.Pool.Desc(), ctx); err != nil {
		c.Pool.Reset(ctx)
		return err
	}
	ctx.State = slotpool.Waiting
	c.txCredits--
	_ = udata
	return nil
}

// ReadData scans RX contexts for one in HasData, copies its payload out,
// releases the context, and posts a matching DATA_ACK via a reserved ack
// context.
func (c *Channel) ReadData(out []byte) (int, error) {
	var found *slotpool.Context
	c.Pool.Range(slotpool.ClassRecv, func(ctx *slotpool.Context) bool {
		if ctx.State == slotpool.HasData {
			found = ctx
			return false
		}
		return true
	})
	if found == nil {
		return 0, relayerr.New("channel.ReadData", relayerr.KindAgain)
	}

	msg, err := decodeData(found.Slot)
	if err != nil {
		c.Pool.Reset(found)
		return 0, relayerr.Wrap("channel.ReadData", relayerr.KindBadMessage, err)
	}
	if len(out) < len(msg.Data) {
		return len(msg.Data), relayerr.NoSpace("channel.ReadData", len(msg.Data))
	}
	n := copy(out, msg.Data)

	c.postDataAck(ackTypeFor(msg.Header.Type))
	c.Pool.Reset(found)
	return n, nil
}

func (c *Channel) postDataAck(ackType wire.MessageType) {
	ctx := c.Pool.AllocAck()
	var n int
	if ackType == wire.MsgClientDataAck {
		n = wire.EncodeClientDataAck(ctx.Slot)
	} else {
		n = wire.EncodeHostDataAck(ctx.Slot)
	}
	c.ep.PostSend(ctx.Slot[:n], c.Pool.Desc(), ctx)
}

// WriteBuffer implements the host-initiated one-sided write: select a
// tight-fit remote region, post the write and its follow-up BUFFER_UPDATE
// in order, and record cb to fire on the write's CQ completion.
func (c *Channel) WriteBuffer(localBuf []byte, localOffset, remoteOffset, length uint64, cb slotpool.WriteCallback, udata any) error {
	if !c.Connected() {
		return relayerr.New("channel.WriteBuffer", relayerr.KindNotConnected)
	}
	entry := c.Remote.SelectTightFit(length, remoteOffset)
	if entry == nil {
		return relayerr.New("channel.WriteBuffer", relayerr.KindNoBuffer)
	}
	entry.State = remotemem.Allocated

	writeCtx, err := c.Pool.Alloc(slotpool.ClassWrite)
	if err != nil {
		metrics.ContextAllocFailures.WithLabelValues(strconv.Itoa(c.Index), slotpool.ClassWrite.String()).Inc()
		entry.State = remotemem.Available
		return err
	}
	sendCtx, err := c.Pool.Alloc(slotpool.ClassSend)
	if err != nil {
		metrics.ContextAllocFailures.WithLabelValues(strconv.Itoa(c.Index), slotpool.ClassSend.String()).Inc()
		c.Pool.Reset(writeCtx)
		entry.State = remotemem.Available
		return err
	}

	writeSerial := c.nextWriteSerial()
	chSerial := c.nextChannelSerial()

	upd := &wire.BufferUpdate{
		BufferIndex:   uint8(entry.Index),
		PayloadSize:   uint32(length),
		PayloadOffset: uint32(remoteOffset),
		WriteSerial:   writeSerial,
		ChannelSerial: chSerial,
	}
	n := wire.EncodeBufferUpdate(sendCtx.Slot, upd)

	writeCtx.Callback = cb
	writeCtx.UserData = udata
	writeCtx.Aux = &writeCompletion{entry: entry, length: length}

	local := localBuf[localOffset : localOffset+length]
	if err := c.ep.PostWrite(local, c.Pool.Desc(), entry.Addr+remoteOffset, entry.RKey, writeCtx); err != nil {
		c.Pool.Reset(writeCtx)
		c.Pool.Reset(sendCtx)
		entry.State = remotemem.Available
		return err
	}
	writeCtx.State = slotpool.Waiting
	entry.State = remotemem.BusyLocal

	if err := c.ep.PostSend(sendCtx.Slot[:n], c.Pool.Desc(), sendCtx); err != nil {
		// The write itself is already in flight; the follow-up send
		// failing here is a provider-level fault, not a rollback case.
		c.Pool.Reset(sendCtx)
		return err
	}
	sendCtx.State = slotpool.Waiting
	return nil
}
