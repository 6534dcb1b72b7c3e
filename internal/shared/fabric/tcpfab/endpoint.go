package tcpfab

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
)

// injectMaxSize bounds PostInject payloads, mirroring a provider's inline
// send threshold (fi_info.tx_attr.inject_size on a real fabric).
const injectMaxSize = 256

// writeJob is one unit of work for an endpoint's writer goroutine. parts
// are written to the connection in order with no interleaving from any
// other job, which is what gives the one-sided write its ordering
// guarantee relative to the send that follows it: both travel through
// this same serialized goroutine in the order the engine posted them.
type writeJob struct {
	parts      [][]byte
	ctx        any
	completes  bool // false for PostInject, which generates no CQ entry
}

type recvWaiter struct {
	buf []byte
	ctx any
}

type endpoint struct {
	resource *resource
	conn     net.Conn

	writeJobs chan writeJob
	closed    atomic.Bool

	mu       sync.Mutex
	waiters  []recvWaiter // posted recvs with no frame queued yet
	inbound  [][]byte     // frames received with no recv posted yet

	wg sync.WaitGroup
}

func (e *endpoint) start(conn net.Conn) {
	e.conn = conn
	e.writeJobs = make(chan writeJob, 64)
	e.wg.Add(2)
	go e.writerLoop()
	go e.readerLoop()
}

func (e *endpoint) writerLoop() {
	defer e.wg.Done()
	for job := range e.writeJobs {
		var writeErr error
		for _, p := range job.parts {
			if _, err := e.conn.Write(p); err != nil {
				writeErr = err
				break
			}
		}
		if writeErr != nil {
			e.closed.Store(true)
			if job.completes {
				e.resource.cq.pushErr(job.ctx, relayerr.Wrap("tcpfab.write", relayerr.KindConnReset, writeErr), false)
			}
			continue
		}
		if job.completes {
			e.resource.cq.pushOK(job.ctx)
		}
	}
}

func (e *endpoint) readerLoop() {
	defer e.wg.Done()
	hdr := make([]byte, frameHeaderSize)
	for {
		if _, err := io.ReadFull(e.conn, hdr); err != nil {
			e.closed.Store(true)
			return
		}
		t := decodeFrameType(hdr)
		n := decodeFrameLen(hdr)

		switch t {
		case frameWrite:
			wh := make([]byte, writeFrameHeaderSize)
			if _, err := io.ReadFull(e.conn, wh); err != nil {
				e.closed.Store(true)
				return
			}
			rkey, remoteAddr := decodeWriteFrameHeader(wh)
			payloadLen := int(n) - writeFrameHeaderSize
			mr, ok := e.resource.lookupMR(rkey)
			var offset int64 = -1
			if ok {
				offset = int64(remoteAddr) - int64(mr.Addr())
			}
			if !ok || offset < 0 || offset+int64(payloadLen) > int64(len(mr.buf)) {
				// Unknown or out-of-range target region: drain and drop.
				// There is no local completion to fail since one-sided
				// writes never surface a CQ entry on the receiver.
				if _, err := io.CopyN(io.Discard, e.conn, int64(payloadLen)); err != nil {
					e.closed.Store(true)
					return
				}
				continue
			}
			if _, err := io.ReadFull(e.conn, mr.buf[offset:offset+int64(payloadLen)]); err != nil {
				e.closed.Store(true)
				return
			}

		case frameApp:
			payload := make([]byte, n)
			if n > 0 {
				if _, err := io.ReadFull(e.conn, payload); err != nil {
					e.closed.Store(true)
					return
				}
			}
			e.deliver(payload)
		}
	}
}

// deliver hands a received application frame to the oldest waiting
// PostRecv, or queues it if none is posted yet.
func (e *endpoint) deliver(payload []byte) {
	e.mu.Lock()
	if len(e.waiters) > 0 {
		w := e.waiters[0]
		e.waiters = e.waiters[1:]
		e.mu.Unlock()
		copy(w.buf, payload)
		e.resource.cq.pushOK(w.ctx)
		return
	}
	e.inbound = append(e.inbound, payload)
	e.mu.Unlock()
}

func (e *endpoint) PostRecv(buf []byte, desc fabric.MemoryRegistration, userCtx any) error {
	if e.closed.Load() {
		return relayerr.New("tcpfab.PostRecv", relayerr.KindConnReset)
	}
	e.mu.Lock()
	if len(e.inbound) > 0 {
		payload := e.inbound[0]
		e.inbound = e.inbound[1:]
		e.mu.Unlock()
		copy(buf, payload)
		e.resource.cq.pushOK(userCtx)
		return nil
	}
	e.waiters = append(e.waiters, recvWaiter{buf: buf, ctx: userCtx})
	e.mu.Unlock()
	return nil
}

func (e *endpoint) PostSend(buf []byte, desc fabric.MemoryRegistration, userCtx any) error {
	if e.closed.Load() {
		return relayerr.New("tcpfab.PostSend", relayerr.KindConnReset)
	}
	hdr := make([]byte, frameHeaderSize)
	putFrameHeader(hdr, frameApp, uint32(len(buf)))
	select {
	case e.writeJobs <- writeJob{parts: [][]byte{hdr, buf}, ctx: userCtx, completes: true}:
		return nil
	default:
		return relayerr.New("tcpfab.PostSend", relayerr.KindAgain)
	}
}

func (e *endpoint) PostWrite(localBuf []byte, desc fabric.MemoryRegistration, remoteAddr, rkey uint64, userCtx any) error {
	if e.closed.Load() {
		return relayerr.New("tcpfab.PostWrite", relayerr.KindConnReset)
	}
	fh := make([]byte, frameHeaderSize)
	putFrameHeader(fh, frameWrite, uint32(writeFrameHeaderSize+len(localBuf)))
	wh := make([]byte, writeFrameHeaderSize)
	putWriteFrameHeader(wh, rkey, remoteAddr)
	select {
	case e.writeJobs <- writeJob{parts: [][]byte{fh, wh, localBuf}, ctx: userCtx, completes: true}:
		return nil
	default:
		return relayerr.New("tcpfab.PostWrite", relayerr.KindAgain)
	}
}

func (e *endpoint) PostInject(buf []byte) error {
	if len(buf) > injectMaxSize {
		return &fabric.InjectSizeError{}
	}
	if e.closed.Load() {
		return relayerr.New("tcpfab.PostInject", relayerr.KindConnReset)
	}
	hdr := make([]byte, frameHeaderSize)
	putFrameHeader(hdr, frameApp, uint32(len(buf)))
	payload := append([]byte(nil), buf...)
	select {
	case e.writeJobs <- writeJob{parts: [][]byte{hdr, payload}, completes: false}:
		return nil
	default:
		return relayerr.New("tcpfab.PostInject", relayerr.KindAgain)
	}
}

func (e *endpoint) Connect(peerAddr string, privData []byte) error {
	conn, err := net.Dial("tcp", peerAddr)
	if err != nil {
		return relayerr.Wrap("tcpfab.Connect", relayerr.KindConnRefused, err)
	}
	hdr := make([]byte, frameHeaderSize)
	putFrameHeader(hdr, frameApp, uint32(len(privData)))
	if _, err := conn.Write(hdr); err != nil {
		conn.Close()
		return relayerr.Wrap("tcpfab.Connect", relayerr.KindConnRefused, err)
	}
	if _, err := conn.Write(privData); err != nil {
		conn.Close()
		return relayerr.Wrap("tcpfab.Connect", relayerr.KindConnRefused, err)
	}

	go func() {
		rhdr := make([]byte, frameHeaderSize)
		if _, err := io.ReadFull(conn, rhdr); err != nil {
			conn.Close()
			e.resource.eq.push(fabric.Event{Kind: fabric.EventShutdown})
			return
		}
		n := decodeFrameLen(rhdr)
		resp := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(conn, resp); err != nil {
				conn.Close()
				e.resource.eq.push(fabric.Event{Kind: fabric.EventShutdown})
				return
			}
		}
		e.start(conn)
		e.resource.eq.push(fabric.Event{Kind: fabric.EventConnected, PrivateData: resp})
	}()
	return nil
}

func (e *endpoint) Accept(privData []byte) error {
	pc := e.resource.popPending()
	if pc == nil {
		return relayerr.New("tcpfab.Accept", relayerr.KindAgain)
	}
	conn := pc.conn
	hdr := make([]byte, frameHeaderSize)
	putFrameHeader(hdr, frameApp, uint32(len(privData)))
	if _, err := conn.Write(hdr); err != nil {
		conn.Close()
		return relayerr.Wrap("tcpfab.Accept", relayerr.KindConnReset, err)
	}
	if _, err := conn.Write(privData); err != nil {
		conn.Close()
		return relayerr.Wrap("tcpfab.Accept", relayerr.KindConnReset, err)
	}
	e.start(conn)
	e.resource.eq.push(fabric.Event{Kind: fabric.EventConnected, PrivateData: privData})
	return nil
}

func (e *endpoint) Close() error {
	e.closed.Store(true)
	if e.writeJobs != nil {
		close(e.writeJobs)
	}
	if e.conn != nil {
		e.conn.Close()
	}
	e.wg.Wait()
	return nil
}
