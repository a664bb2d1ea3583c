package testutils

import (
	"errors"
	"sync"

	"github.com/logitow/blebridge/internal/bridge"
)

// RecordingRuntime is a bridge.Runtime that stores every delivered event.
type RecordingRuntime struct {
	mu        sync.Mutex
	events    []bridge.Event
	attaches  int
	detaches  int
	attachErr error

	// OnEvent, when set, runs inside the callback (on the attached thread).
	OnEvent func(ev bridge.Event)
}

var _ bridge.Runtime = (*RecordingRuntime)(nil)

// NewRecordingRuntime creates an empty recorder.
func NewRecordingRuntime() *RecordingRuntime {
	return &RecordingRuntime{}
}

// FailAttach makes every subsequent attach fail with err.
func (r *RecordingRuntime) FailAttach(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attachErr = err
}

func (r *RecordingRuntime) AttachCurrentThread() (bridge.Env, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachErr != nil {
		return nil, r.attachErr
	}
	r.attaches++
	return recordingEnv{r}, nil
}

func (r *RecordingRuntime) DetachCurrentThread() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detaches++
	return nil
}

type recordingEnv struct{ r *RecordingRuntime }

func (e recordingEnv) Invoke(target string, ev bridge.Event) error {
	if target == "" {
		return errors.New("empty callback target")
	}
	e.r.mu.Lock()
	e.r.events = append(e.r.events, ev)
	hook := e.r.OnEvent
	e.r.mu.Unlock()

	if hook != nil {
		hook(ev)
	}
	return nil
}

// Events returns a copy of every recorded event in delivery order.
func (r *RecordingRuntime) Events() []bridge.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bridge.Event(nil), r.events...)
}

// EventsFor returns the recorded events for method.
func (r *RecordingRuntime) EventsFor(method string) []bridge.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bridge.Event
	for _, ev := range r.events {
		if ev.Method == method {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events for method were recorded.
func (r *RecordingRuntime) Count(method string) int {
	return len(r.EventsFor(method))
}

// AttachCounts returns the attach and detach totals.
func (r *RecordingRuntime) AttachCounts() (attaches, detaches int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attaches, r.detaches
}

// Reset forgets recorded events.
func (r *RecordingRuntime) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
