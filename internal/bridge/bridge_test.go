package bridge

import (
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logitow/blebridge/internal/device"
)

type fakeRuntime struct {
	mu        sync.Mutex
	attachErr error
	attaches  int
	detaches  int
	invoked   []Event
	handler   func(target string, ev Event) error
}

func (r *fakeRuntime) AttachCurrentThread() (Env, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attachErr != nil {
		return nil, r.attachErr
	}
	r.attaches++
	return fakeEnv{r}, nil
}

func (r *fakeRuntime) DetachCurrentThread() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detaches++
	return nil
}

func (r *fakeRuntime) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attaches, r.detaches
}

type fakeEnv struct{ r *fakeRuntime }

func (e fakeEnv) Invoke(target string, ev Event) error {
	e.r.mu.Lock()
	e.r.invoked = append(e.r.invoked, ev)
	h := e.r.handler
	e.r.mu.Unlock()
	if h != nil {
		return h(target, ev)
	}
	return nil
}

func newTestBridge() *Bridge {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return New(logger)
}

func TestRegisterWriteOnce(t *testing.T) {
	b := newTestBridge()
	rt := &fakeRuntime{}

	assert.False(t, b.Registered())
	require.Error(t, b.Register(Handle{Runtime: rt}), "empty target MUST be rejected")
	require.Error(t, b.Register(Handle{Target: "events"}), "nil runtime MUST be rejected")

	require.NoError(t, b.Register(Handle{Runtime: rt, Target: "events"}))
	err := b.Register(Handle{Runtime: &fakeRuntime{}, Target: "other"})
	require.Error(t, err, "second registration MUST fail")
	assert.Equal(t, device.InvalidState, device.KindOf(err))

	h, ok := b.Handle()
	require.True(t, ok)
	assert.Equal(t, "events", h.Target, "first registration MUST win")
}

func TestInvokeBeforeRegistration(t *testing.T) {
	b := newTestBridge()
	err := b.Invoke(ScanStateChanged(true))
	assert.True(t, errors.Is(err, device.ErrNotInitialized))
	_, dropped := b.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestInvokeAttachesAndDetaches(t *testing.T) {
	b := newTestBridge()
	rt := &fakeRuntime{}
	var target string
	rt.handler = func(tg string, ev Event) error {
		target = tg
		return nil
	}
	require.NoError(t, b.Register(Handle{Runtime: rt, Target: "logitow_events"}))

	require.NoError(t, b.Invoke(ConnectResult("aa", true, "")))

	attaches, detaches := rt.counts()
	assert.Equal(t, 1, attaches)
	assert.Equal(t, 1, detaches, "the attaching call MUST detach")
	assert.Equal(t, "logitow_events", target)
	assert.Equal(t, 0, b.AttachedThreads())

	require.Len(t, rt.invoked, 1)
	assert.Equal(t, MethodConnectResult, rt.invoked[0].Method)
	assert.Equal(t, []any{"aa", true, nil}, rt.invoked[0].Args)

	delivered, _ := b.Stats()
	assert.Equal(t, uint64(1), delivered)
}

func TestNestedAttachDoesNotDetachEarly(t *testing.T) {
	b := newTestBridge()
	rt := &fakeRuntime{}
	require.NoError(t, b.Register(Handle{Runtime: rt, Target: "t"}))

	outer, err := b.Attach(rt)
	require.NoError(t, err)
	defer outer.Release()
	assert.True(t, outer.Owner())

	// A delivery on an already attached thread reuses the attachment
	require.NoError(t, b.Invoke(BluetoothStateChanged("poweredOn")))

	attaches, detaches := rt.counts()
	assert.Equal(t, 1, attaches, "nested attach MUST reuse the thread attachment")
	assert.Equal(t, 0, detaches, "nested release MUST NOT detach")
	assert.Equal(t, 1, b.AttachedThreads())

	outer.Release()
	outer.Release()
	_, detaches = rt.counts()
	assert.Equal(t, 1, detaches, "owner release MUST detach exactly once")
	assert.Equal(t, 0, b.AttachedThreads())
}

func TestAttachFailureDropsEvent(t *testing.T) {
	b := newTestBridge()
	rt := &fakeRuntime{attachErr: errors.New("no JVM")}
	require.NoError(t, b.Register(Handle{Runtime: rt, Target: "t"}))

	err := b.Invoke(ScanStateChanged(false))
	require.Error(t, err)
	assert.True(t, errors.Is(err, device.ErrBridgeAttachFailed))
	assert.Empty(t, rt.invoked)
	assert.Equal(t, 0, b.AttachedThreads())
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	b := newTestBridge()
	rt := &fakeRuntime{handler: func(string, Event) error { panic("boom") }}
	require.NoError(t, b.Register(Handle{Runtime: rt, Target: "t"}))

	var err error
	assert.NotPanics(t, func() { err = b.Invoke(BatteryLow("aa", 0.1)) })
	assert.ErrorContains(t, err, "panicked")

	_, detaches := rt.counts()
	assert.Equal(t, 1, detaches, "guard MUST be released on the panic path")
}

func TestMissingMethodIsSkipped(t *testing.T) {
	b := newTestBridge()
	rt := &fakeRuntime{handler: func(string, Event) error { return ErrNoSuchMethod }}
	require.NoError(t, b.Register(Handle{Runtime: rt, Target: "t"}))

	assert.NoError(t, b.Invoke(BlockOperation("aa", map[string]any{"face": "top"})))
	delivered, dropped := b.Stats()
	assert.Zero(t, delivered)
	assert.Zero(t, dropped)
}

func TestConcurrentInvokes(t *testing.T) {
	b := newTestBridge()
	rt := &fakeRuntime{}
	require.NoError(t, b.Register(Handle{Runtime: rt, Target: "t"}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Invoke(ScanStateChanged(true)))
		}()
	}
	wg.Wait()

	attaches, detaches := rt.counts()
	assert.Equal(t, attaches, detaches, "every attach MUST be paired with a detach")
	assert.Equal(t, 0, b.AttachedThreads())
	delivered, _ := b.Stats()
	assert.Equal(t, uint64(16), delivered)
}

func TestEventBuilders(t *testing.T) {
	assert.Equal(t, []any{"aa", false, "Timeout"}, ConnectResult("aa", false, "Timeout").Args)
	ev := CharacteristicResult("aa", "voltage", map[string]any{"volts": 1.8}, true, "")
	assert.Equal(t, MethodCharacteristicResult, ev.Method)
	assert.Nil(t, ev.Args[4])
	assert.Equal(t, []any{"aa", "Idle", "Discovered"}, StateChanged("aa", "Idle", "Discovered").Args)
}
