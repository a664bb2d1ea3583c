// Package bridge delivers events into a host runtime from goroutines the runtime did not create.
//
// Every delivery pins its goroutine to an OS thread, attaches that thread to the
// runtime when it is not attached yet, invokes the registered callback target and
// detaches again only if it performed the attach.
package bridge

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/groutine"
)

// ErrNoSuchMethod is returned by an Env when the target lacks the invoked method.
var ErrNoSuchMethod = errors.New("callback target has no such method")

// Runtime is a host runtime that foreign threads must attach to before calling into it.
type Runtime interface {
	// AttachCurrentThread makes the calling OS thread usable by the runtime.
	AttachCurrentThread() (Env, error)

	// DetachCurrentThread undoes AttachCurrentThread for the calling OS thread.
	DetachCurrentThread() error
}

// Env is a thread-local view of the runtime. It is valid only on the thread that obtained it.
type Env interface {
	// Invoke translates ev into native values and calls target's ev.Method synchronously.
	Invoke(target string, ev Event) error
}

// Handle identifies the callback target inside a runtime.
type Handle struct {
	Runtime Runtime
	Target  string
}

type attachment struct {
	runtime Runtime
	env     Env
	refs    int
}

// Bridge owns the write-once handle and the per-thread attach table.
type Bridge struct {
	handle   atomic.Pointer[Handle]
	attached *hashmap.Map[uint64, *attachment]
	logger   *logrus.Logger

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a bridge with no registered target.
func New(logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bridge{
		attached: hashmap.New[uint64, *attachment](),
		logger:   logger,
	}
}

// Register publishes the callback target. Only the first call succeeds.
func (b *Bridge) Register(h Handle) error {
	if h.Runtime == nil {
		return fmt.Errorf("callback target runtime is required")
	}
	if h.Target == "" {
		return fmt.Errorf("callback target name is required")
	}
	if !b.handle.CompareAndSwap(nil, &h) {
		return device.Errorf(device.InvalidState, "callback target already registered")
	}
	b.logger.WithField("target", h.Target).Debug("Callback target registered")
	return nil
}

// Registered reports whether a callback target has been published.
func (b *Bridge) Registered() bool {
	return b.handle.Load() != nil
}

// Handle returns the registered handle.
func (b *Bridge) Handle() (Handle, bool) {
	h := b.handle.Load()
	if h == nil {
		return Handle{}, false
	}
	return *h, true
}

// Guard is a scoped thread attachment. Release it with defer on every path.
type Guard struct {
	bridge   *Bridge
	tid      uint64
	env      Env
	owner    bool
	released bool
}

// Env returns the thread-local runtime view.
func (g *Guard) Env() Env {
	return g.env
}

// Owner reports whether this guard performed the attach.
func (g *Guard) Owner() bool {
	return g.owner
}

// Release undoes Attach. It detaches the thread only when this guard attached it.
func (g *Guard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true
	defer runtime.UnlockOSThread()

	a, ok := g.bridge.attached.Get(g.tid)
	if !ok {
		return
	}
	a.refs--
	if !g.owner {
		return
	}

	g.bridge.attached.Del(g.tid)
	if err := a.runtime.DetachCurrentThread(); err != nil {
		g.bridge.logger.WithError(err).WithField("thread", g.tid).Warn("Failed to detach thread from runtime")
	}
}

// Attach pins the calling goroutine to its OS thread and attaches that thread to rt.
// A thread that is already attached gets a nested guard that never detaches.
func (b *Bridge) Attach(rt Runtime) (*Guard, error) {
	runtime.LockOSThread()
	tid := groutine.ThreadID()

	if a, ok := b.attached.Get(tid); ok {
		a.refs++
		return &Guard{bridge: b, tid: tid, env: a.env}, nil
	}

	env, err := rt.AttachCurrentThread()
	if err != nil {
		runtime.UnlockOSThread()
		return nil, device.Errorf(device.BridgeAttachFailed, "attach thread %d: %v", tid, err)
	}
	if env == nil {
		runtime.UnlockOSThread()
		return nil, device.Errorf(device.BridgeAttachFailed, "attach thread %d: runtime returned no environment", tid)
	}

	b.attached.Set(tid, &attachment{runtime: rt, env: env, refs: 1})
	return &Guard{bridge: b, tid: tid, env: env, owner: true}, nil
}

// AttachedThreads returns how many OS threads are currently attached.
func (b *Bridge) AttachedThreads() int {
	return b.attached.Len()
}

// Invoke delivers ev to the registered callback target.
//
// Failures never propagate as panics: an unregistered target yields NotInitialized,
// an attach failure BridgeAttachFailed, and a panicking callback is recovered.
// Both are logged and the event is dropped. A missing method is skipped silently.
func (b *Bridge) Invoke(ev Event) (err error) {
	log := b.logger.WithField("method", ev.Method)

	h := b.handle.Load()
	if h == nil {
		b.dropped.Add(1)
		log.Warn("Dropping event: callback target not registered")
		return device.Errorf(device.NotInitialized, "%s dropped: callback target not registered", ev.Method)
	}

	guard, err := b.Attach(h.Runtime)
	if err != nil {
		b.dropped.Add(1)
		log.WithError(err).Error("Dropping event: failed to attach to runtime")
		return err
	}
	defer guard.Release()

	defer func() {
		if r := recover(); r != nil {
			b.dropped.Add(1)
			log.WithField("panic", r).Error("Callback panicked")
			err = fmt.Errorf("%s: callback panicked: %v", ev.Method, r)
		}
	}()

	err = guard.Env().Invoke(h.Target, ev)
	switch {
	case errors.Is(err, ErrNoSuchMethod):
		log.WithField("target", h.Target).Debug("Callback target has no handler, skipping")
		return nil
	case err != nil:
		b.dropped.Add(1)
		log.WithError(err).Warn("Callback failed")
		return err
	}

	b.delivered.Add(1)
	return nil
}

// Stats returns the number of delivered and dropped events.
func (b *Bridge) Stats() (delivered, dropped uint64) {
	return b.delivered.Load(), b.dropped.Load()
}
