package controller

import (
	"sync"

	"github.com/logitow/blebridge/internal/bridge"
)

// outbox is the unbounded FIFO between the dispatch goroutine and the delivery goroutine.
// push never blocks, so a slow host callback cannot stall dispatch.
type outbox struct {
	mu     sync.Mutex
	events []bridge.Event
	notify chan struct{}
}

func newOutbox() *outbox {
	return &outbox{notify: make(chan struct{}, 1)}
}

func (o *outbox) push(ev bridge.Event) {
	o.mu.Lock()
	o.events = append(o.events, ev)
	o.mu.Unlock()

	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// take removes and returns every queued event in order.
func (o *outbox) take() []bridge.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	evs := o.events
	o.events = nil
	return evs
}
