package tcpfab

import (
	"github.com/netfr-go/netfr/internal/shared/fabric"
	"github.com/netfr-go/netfr/internal/shared/relayerr"
)

// eventQueue is the connection-manager event channel shared by every
// passive endpoint and connecting endpoint opened against one resource.
// acceptLoop and endpoint.Connect/Accept push onto it; Channel.Process
// drains it once per call.
type eventQueue struct {
	events chan fabric.Event
	closed chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make(chan fabric.Event, 16),
		closed: make(chan struct{}),
	}
}

func (q *eventQueue) push(ev fabric.Event) {
	select {
	case q.events <- ev:
	case <-q.closed:
	}
}

func (q *eventQueue) Read() (fabric.Event, error) {
	select {
	case ev := <-q.events:
		return ev, nil
	default:
		return fabric.Event{}, relayerr.New("tcpfab.EventQueue.Read", relayerr.KindAgain)
	}
}

func (q *eventQueue) close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}
