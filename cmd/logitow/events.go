package main

import (
	"errors"
	"sync"

	"github.com/logitow/blebridge/internal/bridge"
)

var errSinkClosed = errors.New("event sink closed")

// eventSink is a Go-native callback target. Every event the controller delivers lands
// on a channel the running command consumes.
type eventSink struct {
	events chan bridge.Event
	done   chan struct{}
	once   sync.Once
}

var _ bridge.Runtime = (*eventSink)(nil)

func newEventSink(size int) *eventSink {
	return &eventSink{
		events: make(chan bridge.Event, size),
		done:   make(chan struct{}),
	}
}

func (s *eventSink) AttachCurrentThread() (bridge.Env, error) {
	select {
	case <-s.done:
		return nil, errSinkClosed
	default:
		return s, nil
	}
}

func (s *eventSink) DetachCurrentThread() error { return nil }

// Invoke blocks until the command takes the event or the sink is closed.
func (s *eventSink) Invoke(_ string, ev bridge.Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return errSinkClosed
	}
}

func (s *eventSink) Events() <-chan bridge.Event {
	return s.events
}

// close releases a delivery goroutine blocked in Invoke.
func (s *eventSink) close() {
	s.once.Do(func() { close(s.done) })
}

// argString returns ev.Args[i] as a string, or "" when absent.
func argString(ev bridge.Event, i int) string {
	if i < len(ev.Args) {
		if s, ok := ev.Args[i].(string); ok {
			return s
		}
	}
	return ""
}

func argBool(ev bridge.Event, i int) bool {
	if i < len(ev.Args) {
		if b, ok := ev.Args[i].(bool); ok {
			return b
		}
	}
	return false
}

func argMap(ev bridge.Event, i int) map[string]any {
	if i < len(ev.Args) {
		if m, ok := ev.Args[i].(map[string]any); ok {
			return m
		}
	}
	return nil
}
