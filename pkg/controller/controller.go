// Package controller is the composition root of the bridge.
//
// A Controller owns one radio, one device registry, one command serializer and
// one runtime bridge. Every piece of mutable state belongs to a single dispatch
// goroutine: public operations hand it a closure and wait for the synchronous
// accept/reject answer, radio events reach it through a bounded channel, and
// the outbound callbacks it produces are delivered by a second goroutine so a
// host callback may call straight back into the Controller.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/logitow/blebridge/internal/bridge"
	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/groutine"
	"github.com/logitow/blebridge/internal/protocol"
	"github.com/logitow/blebridge/internal/registry"
	"github.com/logitow/blebridge/internal/serializer"
	"github.com/logitow/blebridge/internal/structure"
	"github.com/logitow/blebridge/pkg/config"
)

// pendingRequest is an accepted connect or read awaiting its radio outcome.
type pendingRequest struct {
	kind       serializer.Kind
	deviceID   string
	token      uint64
	which      device.Characteristic
	dispatched bool
	timer      *time.Timer
}

// disconnectWait bounds how long a device may stay in Disconnecting.
type disconnectWait struct {
	token uint64
	timer *time.Timer
}

// command is a closure run on the dispatch goroutine.
// done, when set, receives the closure's result after queued radio commands were issued.
type command struct {
	fn   func() error
	done chan error
}

// Controller drives a device.Radio on behalf of a host runtime.
type Controller struct {
	radio  device.Radio
	cfg    *config.Config
	logger *logrus.Logger
	bridge *bridge.Bridge
	store  *structure.Store

	commands chan command
	events   chan device.Event
	outbound *outbox

	// dispatch goroutine state
	registry    *registry.Registry
	serial      *serializer.Serializer
	pending     map[string]*pendingRequest
	disconnects map[string]*disconnectWait
	echo        *protocol.EchoFilter
	scanMode    device.State
	radioState  device.BluetoothState
	tokens      uint64

	ctx          context.Context
	cancel       context.CancelFunc
	running      atomic.Bool
	dispatchDone <-chan struct{}
	deliveryDone <-chan struct{}
	startOnce    sync.Once
	closeOnce    sync.Once
}

// New creates a Controller for radio. A nil cfg selects config.DefaultConfig.
// The controller does nothing until Start is called.
func New(radio device.Radio, cfg *config.Config, logger *logrus.Logger) *Controller {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &Controller{
		radio:       radio,
		cfg:         cfg,
		logger:      logger,
		bridge:      bridge.New(logger),
		store:       structure.NewStore(cfg.StructureDir),
		commands:    make(chan command, cfg.CommandBufferSize),
		events:      make(chan device.Event, cfg.EventBufferSize),
		outbound:    newOutbox(),
		registry:    registry.New(cfg.DeviceNamePrefix),
		pending:     make(map[string]*pendingRequest),
		disconnects: make(map[string]*disconnectWait),
		echo:        protocol.NewEchoFilter(),
		scanMode:    device.StateIdle,
	}
	c.serial = serializer.New(c.admit)
	return c
}

// Start installs the radio event handler and launches the dispatch and delivery goroutines.
// The controller stops when ctx is cancelled or Close is called.
func (c *Controller) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.ctx, c.cancel = context.WithCancel(ctx)
		c.radioState = c.radio.State()
		c.radio.SetEventHandler(c.onRadioEvent)

		c.dispatchDone = groutine.Go(c.ctx, "controller-dispatch", c.dispatch)
		c.deliveryDone = groutine.Go(c.ctx, "controller-delivery", c.deliver)
		c.running.Store(true)

		c.logger.WithFields(logrus.Fields{
			"bluetooth": c.radioState,
			"prefix":    c.cfg.DeviceNamePrefix,
		}).Debug("Controller started")
	})
}

// Close stops the controller goroutines and closes the radio.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		started := false
		c.startOnce.Do(func() {}) // a never-started controller stays stopped
		if c.cancel != nil {
			started = true
			c.running.Store(false)
			c.cancel()
			<-c.dispatchDone
			<-c.deliveryDone
		}
		err = c.radio.Close()
		c.logger.WithField("started", started).Debug("Controller closed")
	})
	return err
}

// onRadioEvent is the radio's EventHandler. It blocks while the event channel is full.
func (c *Controller) onRadioEvent(ev device.Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// call runs fn on the dispatch goroutine and returns its result.
func (c *Controller) call(fn func() error) error {
	if !c.running.Load() {
		return device.Errorf(device.NotInitialized, "controller is not running")
	}

	done := make(chan error, 1)
	select {
	case c.commands <- command{fn: fn, done: done}:
	case <-c.ctx.Done():
		return device.Errorf(device.NotInitialized, "controller is closed")
	}

	select {
	case err := <-done:
		return err
	case <-c.ctx.Done():
		return device.Errorf(device.NotInitialized, "controller is closed")
	}
}

// post schedules fn on the dispatch goroutine without waiting for it.
func (c *Controller) post(fn func()) {
	if !c.running.Load() {
		return
	}
	select {
	case c.commands <- command{fn: func() error { fn(); return nil }}:
	case <-c.ctx.Done():
	}
}

// RegisterCallbackTarget publishes the host runtime handle. It succeeds exactly once;
// commands are rejected with NotInitialized until it does.
func (c *Controller) RegisterCallbackTarget(h bridge.Handle) error {
	return c.call(func() error {
		if err := c.bridge.Register(h); err != nil {
			return err
		}
		c.serial.SetReady(true)
		c.logger.WithField("target", h.Target).Info("Callback target registered")
		return nil
	})
}

// StartScan begins discovery. It is a no-op while a scan is active.
func (c *Controller) StartScan() error {
	return c.call(c.startScan)
}

// StopScan ends discovery. It is idempotent and never touches connected devices.
func (c *Controller) StopScan() error {
	return c.call(c.stopScan)
}

// IsScanning reports whether a scan session is active.
func (c *Controller) IsScanning() bool {
	var scanning bool
	_ = c.call(func() error {
		scanning = c.scanMode == device.StateScanning
		return nil
	})
	return scanning
}

// Connect accepts a connection attempt to a discovered device for dispatch.
// The outcome arrives through onConnectResult.
func (c *Controller) Connect(id string) (bool, error) {
	err := c.call(func() error { return c.connect(id) })
	if err != nil {
		c.logger.WithError(err).WithField("device", id).Debug("Connect rejected")
		return false, err
	}
	return true, nil
}

// Disconnect tears down a connection or cancels a pending connect.
// It is fire-and-forget and safe for any identifier.
func (c *Controller) Disconnect(id string) {
	if err := c.call(func() error { c.disconnect(id); return nil }); err != nil {
		c.logger.WithError(err).WithField("device", id).Debug("Disconnect dropped")
	}
}

// ReadCharacteristic asks a connected device for a characteristic value.
// The outcome arrives through onCharacteristicResult.
func (c *Controller) ReadCharacteristic(id string, which device.Characteristic) (bool, error) {
	err := c.call(func() error { return c.read(id, which) })
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"device":         id,
			"characteristic": which,
		}).Debug("Read rejected")
		return false, err
	}
	return true, nil
}

// BluetoothState returns the radio power state. It has no side effects.
func (c *Controller) BluetoothState() device.BluetoothState {
	return c.radio.State()
}

// Devices returns a snapshot of every known device in discovery order.
func (c *Controller) Devices() []device.Info {
	var out []device.Info
	_ = c.call(func() error {
		out = c.registry.Snapshot()
		return nil
	})
	return out
}

// BridgeStats returns how many outbound events were delivered and dropped.
func (c *Controller) BridgeStats() (delivered, dropped uint64) {
	return c.bridge.Stats()
}
