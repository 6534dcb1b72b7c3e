package tcpfab

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/netfr-go/netfr/internal/shared/fabric"
)

// passiveEndpoint is the host-side listener. Every accepted connection is
// held open until the channel logic above either accepts it (consuming
// the oldest entry in the resource's pending queue via Endpoint.Accept)
// or rejects it (via Reject), which is how the host enforces exactly one
// client per channel: a CONNREQ arriving while a client is already
// connected gets its pending entry popped and rejected without ever being
// handed to an Endpoint.
type passiveEndpoint struct {
	ln       net.Listener
	resource *resource

	stop chan struct{}
	wg   sync.WaitGroup
}

func (pe *passiveEndpoint) acceptLoop() {
	defer pe.wg.Done()
	for {
		conn, err := pe.ln.Accept()
		if err != nil {
			select {
			case <-pe.stop:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		go pe.handleAccepted(conn)
	}
}

func (pe *passiveEndpoint) handleAccepted(conn net.Conn) {
	hdr := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		conn.Close()
		return
	}
	payloadLen := decodeFrameLen(hdr)
	hello := make([]byte, payloadLen)
	if _, err := io.ReadFull(conn, hello); err != nil {
		conn.Close()
		return
	}
	pc := &pendingConn{conn: conn, hello: hello}
	pe.resource.pushPending(pc)
	pe.resource.eq.push(fabric.Event{
		Kind:        fabric.EventConnReq,
		PrivateData: hello,
		Conn:        pe,
	})
}

func (pe *passiveEndpoint) Reject(privData []byte) error {
	pc := pe.resource.popPending()
	if pc == nil {
		return nil
	}
	frame := make([]byte, frameHeaderSize+len(privData))
	putFrameHeader(frame, frameApp, uint32(len(privData)))
	copy(frame[frameHeaderSize:], privData)
	pc.conn.Write(frame)
	return pc.conn.Close()
}

func (pe *passiveEndpoint) Close() error {
	select {
	case <-pe.stop:
	default:
		close(pe.stop)
	}
	err := pe.ln.Close()
	pe.wg.Wait()
	return err
}
