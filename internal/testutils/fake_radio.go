package testutils

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/protocol"
)

// FakeRadio is an in-memory device.Radio.
//
// Every call is recorded through the embedded mock.Mock, so tests can use
// AssertCalled / AssertNotCalled / AssertNumberOfCalls. Outcomes are injected
// explicitly with the Emit helpers; nothing completes on its own.
type FakeRadio struct {
	mock.Mock

	mu       sync.Mutex
	state    device.BluetoothState
	handler  device.EventHandler
	tokens   map[string]uint64
	requests map[string]uint64
	counts   map[string]int

	// Synchronous failures returned by the next matching calls.
	StartScanErr  error
	ConnectErr    error
	DisconnectErr error
	RequestErr    error
}

var _ device.Radio = (*FakeRadio)(nil)

// NewFakeRadio creates a powered-on radio.
func NewFakeRadio() *FakeRadio {
	r := &FakeRadio{
		state:    device.BluetoothPoweredOn,
		tokens:   make(map[string]uint64),
		requests: make(map[string]uint64),
		counts:   make(map[string]int),
	}
	for _, m := range []string{"StartScan", "StopScan", "Close"} {
		r.On(m).Return().Maybe()
	}
	r.On("Connect", mock.Anything, mock.Anything).Return().Maybe()
	r.On("Disconnect", mock.Anything).Return().Maybe()
	r.On("Request", mock.Anything, mock.Anything, mock.Anything).Return().Maybe()
	return r
}

func (r *FakeRadio) State() device.BluetoothState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *FakeRadio) SetEventHandler(h device.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *FakeRadio) record(method string, args ...interface{}) {
	r.MethodCalled(method, args...)
	r.mu.Lock()
	r.counts[method]++
	r.mu.Unlock()
}

func (r *FakeRadio) StartScan() error {
	r.record("StartScan")
	return r.StartScanErr
}

func (r *FakeRadio) StopScan() error {
	r.record("StopScan")
	return nil
}

func (r *FakeRadio) Connect(id string, token uint64) error {
	r.mu.Lock()
	r.tokens[id] = token
	r.mu.Unlock()
	r.record("Connect", id, token)
	return r.ConnectErr
}

func (r *FakeRadio) Disconnect(id string) error {
	r.record("Disconnect", id)
	return r.DisconnectErr
}

func (r *FakeRadio) Request(id string, which device.Characteristic, token uint64) error {
	r.mu.Lock()
	r.requests[id] = token
	r.mu.Unlock()
	r.record("Request", id, which, token)
	return r.RequestErr
}

func (r *FakeRadio) Close() error {
	r.record("Close")
	return nil
}

// CallCount returns how many times method was invoked.
func (r *FakeRadio) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[method]
}

// ConnectToken returns the token of the latest Connect call for id.
func (r *FakeRadio) ConnectToken(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[id]
}

// RequestToken returns the token of the latest Request call for id.
func (r *FakeRadio) RequestToken(id string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[id]
}

// Emit delivers ev to the installed handler from a fresh goroutine, as real radios do.
func (r *FakeRadio) Emit(ev device.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		h(ev)
	}()
	<-done
}

// Advertise emits a LOGITOW advertisement for id.
func (r *FakeRadio) Advertise(id string, rssi int) {
	r.Emit(device.DiscoveredEvent{
		ID: id,
		Advertisement: device.Advertisement{
			LocalName:   protocol.DeviceNamePrefix,
			RSSI:        rssi,
			Connectable: true,
			Services:    []string{device.NormalizeUUID(protocol.DataServiceUUID)},
		},
	})
}

// CompleteConnect resolves the latest connect attempt for id successfully.
func (r *FakeRadio) CompleteConnect(id string) {
	r.Emit(device.ConnectResultEvent{
		ID:     id,
		Token:  r.ConnectToken(id),
		Handle: "handle-" + id,
		Characteristics: device.NormalizeUUIDs([]string{
			protocol.DataNotifyCharUUID, protocol.DataWriteCharUUID,
			protocol.BatteryNotifyCharUUID, protocol.BatteryWriteCharUUID,
		}),
	})
}

// FailConnect resolves the latest connect attempt for id with err.
func (r *FakeRadio) FailConnect(id string, err error) {
	r.Emit(device.ConnectResultEvent{ID: id, Token: r.ConnectToken(id), Err: err})
}

// Drop reports an unsolicited link loss for id.
func (r *FakeRadio) Drop(id string, err error) {
	r.Emit(device.DisconnectedEvent{ID: id, Err: err})
}

// RespondVoltage answers the latest voltage request for id with a raw battery payload.
func (r *FakeRadio) RespondVoltage(id string, payload []byte) {
	r.Emit(device.CharacteristicResultEvent{
		ID:    id,
		Token: r.RequestToken(id),
		Which: device.CharacteristicVoltage,
		Value: payload,
	})
}

// Notify emits a data-channel notification for id.
func (r *FakeRadio) Notify(id string, payload []byte) {
	r.Emit(device.NotificationEvent{ID: id, Value: payload})
}

// SetPowerState changes the radio state and reports the transition.
func (r *FakeRadio) SetPowerState(state device.BluetoothState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
	r.Emit(device.RadioStateChangedEvent{State: state})
}

// SetPowerStateSilently changes the state without emitting an event.
func (r *FakeRadio) SetPowerStateSilently(state device.BluetoothState) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}
