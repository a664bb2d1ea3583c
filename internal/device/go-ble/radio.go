// Package goble implements device.Radio on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/groutine"
	"github.com/logitow/blebridge/internal/protocol"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// RecheckInterval is how often an unavailable radio checks whether the adapter came back.
var RecheckInterval = 2 * time.Second

// recheckWindow bounds the scan used to test a device that reported power loss.
const recheckWindow = 200 * time.Millisecond

// link is one connection attempt or live connection.
type link struct {
	id     string
	cancel context.CancelFunc

	mu           sync.Mutex
	client       ble.Client
	batteryWrite *ble.Characteristic
	readToken    uint64
}

func (l *link) connected() (ble.Client, *ble.Characteristic) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client, l.batteryWrite
}

type scanSession struct {
	stop context.CancelFunc
}

// Radio drives a single go-ble central device.
type Radio struct {
	logger *logrus.Logger
	prefix string

	mu      sync.Mutex
	dev     ble.Device
	state   device.BluetoothState
	handler device.EventHandler
	scan    *scanSession

	factory         func() (ble.Device, error)
	recheckInterval time.Duration

	links  *hashmap.Map[string, *link]
	ctx    context.Context
	cancel context.CancelFunc
}

var _ device.Radio = (*Radio)(nil)

// NewRadio opens the platform BLE device. A device that cannot be opened leaves the
// radio in a non-available state instead of failing, so callers can still report it.
// While unavailable the radio rechecks the adapter every RecheckInterval and reports
// poweredOn once it answers again.
// Advertisements whose local name lacks prefix and that do not carry the LOGITOW
// data service are filtered out; an empty prefix selects the LOGITOW default.
func NewRadio(prefix string, logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Radio{
		logger: logger,
		prefix: prefix,
		links:  hashmap.New[string, *link](),
		ctx:    ctx,
		cancel: cancel,
		state:  device.BluetoothPoweredOn,

		factory:         DeviceFactory,
		recheckInterval: RecheckInterval,
	}

	dev, err := r.factory()
	if err != nil {
		r.state = stateFromError(err)
		logger.WithError(err).WithField("state", r.state).Warn("BLE device unavailable")
	} else {
		r.dev = dev
	}

	if r.recheckInterval > 0 {
		groutine.Go(ctx, "ble-power-recheck", r.recheckLoop)
	}
	return r
}

// recheckLoop re-checks an unavailable adapter until the radio is closed.
func (r *Radio) recheckLoop(ctx context.Context) {
	ticker := time.NewTicker(r.recheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.State().Available() {
				r.recheck(ctx)
			}
		}
	}
}

// recheck opens the device if it never opened, or runs a short scan on it.
// Either succeeding marks the radio poweredOn.
func (r *Radio) recheck(ctx context.Context) {
	r.mu.Lock()
	dev := r.dev
	r.mu.Unlock()

	if dev == nil {
		opened, err := r.factory()
		if err != nil {
			r.logger.WithError(err).Debug("BLE device still unavailable")
			return
		}
		r.mu.Lock()
		if ctx.Err() != nil {
			r.mu.Unlock()
			_ = opened.Stop()
			return
		}
		r.dev = opened
		r.mu.Unlock()
		r.markAvailable()
		return
	}

	scanCtx, cancel := context.WithTimeout(ctx, recheckWindow)
	defer cancel()
	err := dev.Scan(scanCtx, false, func(ble.Advertisement) {})
	if ctx.Err() != nil {
		return
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		r.logger.WithError(err).Debug("BLE adapter still unavailable")
		return
	}
	r.markAvailable()
}

// markAvailable records that the adapter answered a request.
func (r *Radio) markAvailable() {
	if !r.State().Available() {
		r.logger.Info("BLE adapter available again")
	}
	r.setState(device.BluetoothPoweredOn)
}

// stateFromError maps a device-open failure to the radio state it implies.
func stateFromError(err error) device.BluetoothState {
	if device.IsKind(device.NormalizeError(err), device.RadioUnavailable) {
		return device.BluetoothPoweredOff
	}
	return device.BluetoothUnsupported
}

func (r *Radio) State() device.BluetoothState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Radio) SetEventHandler(h device.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

func (r *Radio) emit(ev device.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// setState records a state transition and reports it.
func (r *Radio) setState(state device.BluetoothState) {
	r.mu.Lock()
	changed := r.state != state
	r.state = state
	r.mu.Unlock()

	if changed {
		r.emit(device.RadioStateChangedEvent{State: state})
	}
}

func (r *Radio) activeDevice() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil || !r.state.Available() {
		return nil, device.Errorf(device.RadioUnavailable, "bluetooth is %s", r.state)
	}
	return r.dev, nil
}

// StartScan begins a background scan. A scan already running is left as is.
func (r *Radio) StartScan() error {
	dev, err := r.activeDevice()
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.scan != nil {
		r.mu.Unlock()
		return nil
	}
	scanCtx, stop := context.WithCancel(r.ctx)
	session := &scanSession{stop: stop}
	r.scan = session
	r.mu.Unlock()

	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		defer r.endScan(session)

		r.logger.Debug("BLE scan started")
		err := dev.Scan(ctx, true, func(a ble.Advertisement) {
			adv := convertAdvertisement(a)
			if !isBrick(r.prefix, adv) {
				return
			}
			r.emit(device.DiscoveredEvent{ID: a.Addr().String(), Advertisement: adv})
		})

		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			err = device.NormalizeError(err)
			r.logger.WithError(err).Error("BLE scan failed")
			if device.IsKind(err, device.RadioUnavailable) {
				r.setState(device.BluetoothPoweredOff)
			}
			return
		}
		r.logger.Debug("BLE scan stopped")
	})
	return nil
}

func (r *Radio) endScan(session *scanSession) {
	session.stop()
	r.mu.Lock()
	defer r.mu.Unlock()
	// a newer scan may already own the slot
	if r.scan == session {
		r.scan = nil
	}
}

// StopScan cancels the running scan, if any.
func (r *Radio) StopScan() error {
	r.mu.Lock()
	session := r.scan
	r.scan = nil
	r.mu.Unlock()

	if session != nil {
		session.stop()
	}
	return nil
}

// Connect dials id in the background; the outcome arrives as a ConnectResultEvent.
func (r *Radio) Connect(id string, token uint64) error {
	dev, err := r.activeDevice()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(r.ctx)
	l := &link{id: id, cancel: cancel}
	if _, loaded := r.links.GetOrInsert(id, l); loaded {
		cancel()
		return device.Errorf(device.AlreadyConnected, "link to %s already exists", id)
	}

	groutine.Go(ctx, "ble-connect-"+id, func(ctx context.Context) {
		r.dial(ctx, dev, l, token)
	})
	return nil
}

func (r *Radio) dial(ctx context.Context, dev ble.Device, l *link, token uint64) {
	logger := r.logger.WithField("device", l.id)
	fail := func(err error) {
		r.dropLink(l)
		r.emit(device.ConnectResultEvent{ID: l.id, Token: token, Err: err})
	}

	logger.Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(l.id))
	if err != nil {
		err = device.NormalizeError(err)
		logger.WithError(err).Info("Failed to dial BLE device")
		fail(err)
		return
	}
	r.markAvailable()

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		logger.WithError(err).Warn("Failed to discover profile")
		_ = client.CancelConnection()
		fail(device.Errorf(device.ConnectFailed, "discover profile: %v", err))
		return
	}

	chars, handles := collectCharacteristics(profile)
	dataNotify := handles[device.NormalizeUUID(protocol.DataNotifyCharUUID)]
	batteryNotify := handles[device.NormalizeUUID(protocol.BatteryNotifyCharUUID)]
	batteryWrite := handles[device.NormalizeUUID(protocol.BatteryWriteCharUUID)]
	if dataNotify == nil || batteryNotify == nil || batteryWrite == nil {
		_ = client.CancelConnection()
		fail(device.Errorf(device.ConnectFailed, "%s does not expose the LOGITOW GATT layout", l.id))
		return
	}

	if err := client.Subscribe(dataNotify, false, func(data []byte) {
		r.emit(device.NotificationEvent{ID: l.id, Value: append([]byte(nil), data...)})
	}); err != nil {
		_ = client.CancelConnection()
		fail(device.Errorf(device.ConnectFailed, "subscribe to block notifications: %v", device.NormalizeError(err)))
		return
	}

	if err := client.Subscribe(batteryNotify, false, func(data []byte) {
		r.resolveRead(l, data, nil)
	}); err != nil {
		_ = client.CancelConnection()
		fail(device.Errorf(device.ConnectFailed, "subscribe to battery notifications: %v", device.NormalizeError(err)))
		return
	}

	l.mu.Lock()
	l.client = client
	l.batteryWrite = batteryWrite
	l.mu.Unlock()

	// Disconnect may have run while the link was being set up
	if ctx.Err() != nil {
		_ = client.CancelConnection()
		fail(device.Errorf(device.Cancelled, "connection to %s aborted", l.id))
		return
	}

	groutine.Go(ctx, "ble-connection-monitor-"+l.id, func(ctx context.Context) {
		select {
		case <-client.Disconnected():
			logger.Warn("BLE link lost")
			if r.dropLink(l) {
				r.emit(device.DisconnectedEvent{ID: l.id, Err: device.ErrNotConnected})
			}
		case <-ctx.Done():
		}
	})

	logger.WithField("characteristics", len(chars)).Info("BLE device connected")
	r.emit(device.ConnectResultEvent{
		ID:              l.id,
		Token:           token,
		Handle:          client.Addr().String(),
		Characteristics: chars,
	})
}

// collectCharacteristics returns every characteristic UUID of profile, normalized,
// plus a lookup from normalized UUID to the live characteristic.
func collectCharacteristics(profile *ble.Profile) ([]string, map[string]*ble.Characteristic) {
	var uuids []string
	handles := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			u := device.NormalizeUUID(c.UUID.String())
			if _, dup := handles[u]; dup {
				continue
			}
			handles[u] = c
			uuids = append(uuids, u)
		}
	}
	return uuids, handles
}

// dropLink removes l if it is still the registered link for its id.
func (r *Radio) dropLink(l *link) bool {
	current, ok := r.links.Get(l.id)
	if !ok || current != l {
		return false
	}
	r.links.Del(l.id)
	l.cancel()
	return true
}

// Disconnect aborts a dial in progress or tears down a live link.
// Unknown identifiers are ignored.
func (r *Radio) Disconnect(id string) error {
	l, ok := r.links.Get(id)
	if !ok || !r.dropLink(l) {
		return nil
	}

	client, _ := l.connected()
	groutine.Go(context.Background(), "ble-disconnect-"+id, func(context.Context) {
		if client != nil {
			if err := client.CancelConnection(); err != nil {
				r.logger.WithError(err).WithField("device", id).Warn("BLE device disconnected with errors")
			}
		}
		r.emit(device.DisconnectedEvent{ID: id})
	})
	return nil
}

// Request writes the voltage command; the reply arrives on the battery notify characteristic.
func (r *Radio) Request(id string, which device.Characteristic, token uint64) error {
	if which != device.CharacteristicVoltage {
		return device.Errorf(device.InvalidState, "unsupported characteristic %s", which)
	}

	l, ok := r.links.Get(id)
	if !ok {
		return device.Errorf(device.NotConnected, "%s is not connected", id)
	}
	client, char := l.connected()
	if client == nil {
		return device.Errorf(device.NotConnected, "%s is not connected", id)
	}

	l.mu.Lock()
	l.readToken = token
	l.mu.Unlock()

	groutine.Go(r.ctx, "ble-request-"+id, func(context.Context) {
		if err := client.WriteCharacteristic(char, protocol.VoltageRequest(), false); err != nil {
			r.resolveRead(l, nil, device.NormalizeError(err))
		}
	})
	return nil
}

// resolveRead reports the reply to the outstanding read on l.
// Notifications without an outstanding read are reported with a zero token.
func (r *Radio) resolveRead(l *link, data []byte, err error) {
	l.mu.Lock()
	token := l.readToken
	l.readToken = 0
	l.mu.Unlock()

	r.emit(device.CharacteristicResultEvent{
		ID:    l.id,
		Token: token,
		Which: device.CharacteristicVoltage,
		Value: append([]byte(nil), data...),
		Err:   err,
	})
}

// Close stops scanning, drops every link and releases the device.
func (r *Radio) Close() error {
	_ = r.StopScan()

	var ids []string
	r.links.Range(func(id string, _ *link) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if l, ok := r.links.Get(id); ok && r.dropLink(l) {
			if client, _ := l.connected(); client != nil {
				_ = client.CancelConnection()
			}
		}
	}
	r.cancel()

	r.mu.Lock()
	dev := r.dev
	r.dev = nil
	r.mu.Unlock()

	if dev != nil {
		return dev.Stop()
	}
	return nil
}
