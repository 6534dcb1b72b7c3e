package channel

import (
	"github.com/netfr-go/netfr/internal/shared/region"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
	"github.com/netfr-go/netfr/internal/shared/slotpool"
	"github.com/netfr-go/netfr/internal/shared/wire"
)

// EventKind distinguishes the two shapes of event client_process can
// deliver: a completed one-sided write landing in a published region, or
// an inline user-data message.
type EventKind uint8

const (
	EventMemWrite EventKind = iota
	EventData
)

// Event is what ClientProcess hands back to the caller.
type Event struct {
	Kind          EventKind
	ChannelIndex  int
	Serial        uint32
	Region        *region.Region
	PayloadOffset uint32
	PayloadLength uint32
	InlineData    []byte
}

// resyncUnsynced implements client_process step 2: publish every region
// in AvailableUnsynced via BUFFER_STATE, bounded by available send
// contexts. Regions left over stay AvailableUnsynced for the next call.
func (c *Channel) resyncUnsynced() {
	for {
		regions := c.Regions.Unsynced(1)
		if len(regions) == 0 {
			return
		}
		reg := regions[0]
		ctx, err := c.Pool.Alloc(slotpool.ClassSend)
		if err != nil {
			return // out of send contexts; retry next process pass
		}
		msg := &wire.BufferState{
			PageSize: 0,
			Addr:     reg.Addr(),
			Size:     uint64(reg.Size()),
			RKey:     reg.Key(),
			Index:    uint8(reg.Index),
		}
		n := wire.EncodeBufferState(ctx.Slot, msg)
		if err := c.ep.PostSend(ctx.Slot[:n], c.Pool.Desc(), ctx); err != nil {
			c.Pool.Reset(ctx)
			return
		}
		ctx.State = slotpool.Waiting
		reg.State = region.Available
	}
}

// ClientProcess drives one process pass for this channel: resync unsynced
// regions, drain completions, consume recv slots, and surface the oldest
// ready event. Client.Process fans this out across every channel.
func (c *Channel) ClientProcess() (*Event, error) {
	if err := c.pollEvents(); err != nil {
		return nil, err
	}
	if !c.Connected() {
		return nil, relayerr.New("channel.ClientProcess", relayerr.KindNotConnected)
	}

	c.resyncUnsynced()
	c.DrainCompletions()
	c.ConsumeRxSlots()
	c.publishMetrics()

	oldestRegion := c.oldestHasDataRegion()
	oldestMsg := c.oldestHasDataRecv()

	if oldestRegion == nil && oldestMsg == nil {
		return nil, relayerr.New("channel.ClientProcess", relayerr.KindAgain)
	}

	useRegion := oldestRegion != nil
	if oldestRegion != nil && oldestMsg != nil {
		useRegion = wire.SerialOlder(oldestRegion.ChannelSerial, oldestMsg.ChannelSerial) ||
			oldestRegion.ChannelSerial == oldestMsg.ChannelSerial
	}

	if useRegion {
		ev := &Event{
			Kind:          EventMemWrite,
			ChannelIndex:  c.Index,
			Serial:        oldestRegion.ChannelSerial,
			Region:        oldestRegion,
			PayloadOffset: oldestRegion.PayloadOffset,
			PayloadLength: oldestRegion.PayloadLength,
		}
		return ev, nil
	}

	msg, err := decodeData(oldestMsg.Slot)
	if err != nil {
		c.Pool.Reset(oldestMsg)
		return nil, relayerr.Wrap("channel.ClientProcess", relayerr.KindBadMessage, err)
	}
	ev := &Event{
		Kind:          EventData,
		ChannelIndex:  c.Index,
		Serial:        oldestMsg.ChannelSerial,
		InlineData:    append([]byte(nil), msg.Data...),
		PayloadLength: uint32(len(msg.Data)),
	}
	c.postDataAck(ackTypeFor(msg.Header.Type))
	c.Pool.Reset(oldestMsg)
	return ev, nil
}

func (c *Channel) oldestHasDataRegion() *region.Region {
	var best *region.Region
	for i := 0; i < c.Regions.Len(); i++ {
		reg := c.Regions.At(i)
		if reg.State != region.HasData {
			continue
		}
		if best == nil || wire.SerialOlder(reg.ChannelSerial, best.ChannelSerial) {
			best = reg
		}
	}
	return best
}

func (c *Channel) oldestHasDataRecv() *slotpool.Context {
	var best *slotpool.Context
	c.Pool.Range(slotpool.ClassRecv, func(ctx *slotpool.Context) bool {
		if ctx.State != slotpool.HasData {
			return true
		}
		if best == nil || wire.SerialOlder(ctx.ChannelSerial, best.ChannelSerial) {
			best = ctx
		}
		return true
	})
	return best
}
