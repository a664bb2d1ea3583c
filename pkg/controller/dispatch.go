package controller

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/logitow/blebridge/internal/bridge"
	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/fsm"
	"github.com/logitow/blebridge/internal/protocol"
	"github.com/logitow/blebridge/internal/registry"
	"github.com/logitow/blebridge/internal/serializer"
	"github.com/logitow/blebridge/internal/structure"
)

func (c *Controller) dispatch(ctx context.Context) {
	defer c.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.commands:
			err := cmd.fn()
			c.pump()
			if cmd.done != nil {
				cmd.done <- err
			}
		case ev := <-c.events:
			c.handleEvent(ev)
			c.pump()
		}
	}
}

// deliver drains the outbox into the runtime bridge until the controller stops.
func (c *Controller) deliver(ctx context.Context) {
	for {
		select {
		case <-c.outbound.notify:
			c.flush()
		case <-ctx.Done():
			// dispatch may still be publishing
			<-c.dispatchDone
			c.flush()
			return
		}
	}
}

func (c *Controller) flush() {
	for _, ev := range c.outbound.take() {
		if err := c.bridge.Invoke(ev); err != nil {
			c.logger.WithError(err).WithField("method", ev.Method).Debug("Outbound event not delivered")
		}
	}
}

func (c *Controller) publish(ev bridge.Event) {
	c.outbound.push(ev)
}

func (c *Controller) nextToken() uint64 {
	c.tokens++
	return c.tokens
}

// admit is the serializer check: radio availability and per-device preconditions.
func (c *Controller) admit(cmd serializer.Command) error {
	switch cmd.Kind {
	case serializer.KindStartScan, serializer.KindConnect, serializer.KindRead:
		if state := c.radio.State(); !state.Available() {
			return device.Errorf(device.RadioUnavailable, "bluetooth is %s", state)
		}
	}

	switch cmd.Kind {
	case serializer.KindConnect:
		rec, ok := c.registry.Get(cmd.DeviceID)
		if !ok {
			return device.Errorf(device.UnknownDevice, "%s was never discovered", cmd.DeviceID)
		}
		if _, err := fsm.Next(rec.State, fsm.TriggerConnect); err != nil {
			return err
		}
	case serializer.KindRead:
		rec, ok := c.registry.Get(cmd.DeviceID)
		if !ok || !rec.Connected() {
			return device.Errorf(device.NotConnected, "%s is not connected", cmd.DeviceID)
		}
	}
	return nil
}

// transition applies t to rec and publishes onStateChanged when the state moves.
func (c *Controller) transition(rec *registry.Record, t fsm.Trigger) bool {
	next, err := fsm.Next(rec.State, t)
	if err != nil {
		c.logger.WithError(err).WithField("device", rec.ID).Debug("Transition refused")
		return false
	}
	if next == rec.State {
		return false
	}

	old := rec.State
	rec.State = next
	c.logger.WithFields(logrus.Fields{
		"device":  rec.ID,
		"trigger": t,
		"from":    old,
		"to":      next,
	}).Debug("Device state changed")
	c.publish(bridge.StateChanged(rec.ID, old.String(), next.String()))
	return true
}

func (c *Controller) setScanning(on bool) {
	trigger := fsm.TriggerStopScan
	if on {
		trigger = fsm.TriggerStartScan
	}
	next, err := fsm.Next(c.scanMode, trigger)
	if err != nil || next == c.scanMode {
		return
	}
	c.scanMode = next
	c.publish(bridge.ScanStateChanged(on))
}

// ----------------------------
// Operations
// ----------------------------

func (c *Controller) startScan() error {
	if c.scanMode == device.StateScanning {
		return nil
	}
	if err := c.serial.Submit(serializer.Command{Kind: serializer.KindStartScan, Token: c.nextToken()}); err != nil {
		return err
	}
	session := c.registry.BeginSession()
	c.setScanning(true)
	c.logger.WithField("session", session).Info("Scan started")
	return nil
}

func (c *Controller) stopScan() error {
	if c.scanMode != device.StateScanning {
		return nil
	}
	// a start still waiting for the radio is simply dropped
	if withdrawn := c.serial.Withdraw("", serializer.KindStartScan); len(withdrawn) == 0 {
		if err := c.serial.Submit(serializer.Command{Kind: serializer.KindStopScan, Token: c.nextToken()}); err != nil {
			return err
		}
	}
	c.setScanning(false)
	c.logger.Info("Scan stopped")
	return nil
}

func (c *Controller) connect(id string) error {
	token := c.nextToken()
	if err := c.serial.Submit(serializer.Command{Kind: serializer.KindConnect, DeviceID: id, Token: token}); err != nil {
		return err
	}

	rec, _ := c.registry.Get(id)
	c.pending[id] = &pendingRequest{kind: serializer.KindConnect, deviceID: id, token: token}
	c.transition(rec, fsm.TriggerConnect)
	return nil
}

func (c *Controller) read(id string, which device.Characteristic) error {
	token := c.nextToken()
	cmd := serializer.Command{Kind: serializer.KindRead, DeviceID: id, Token: token, Which: which}
	if err := c.serial.Submit(cmd); err != nil {
		return err
	}
	c.pending[id] = &pendingRequest{kind: serializer.KindRead, deviceID: id, token: token, which: which}
	return nil
}

func (c *Controller) disconnect(id string) {
	rec, ok := c.registry.Get(id)
	if !ok {
		return
	}

	switch rec.State {
	case device.StateConnecting:
		p := c.pending[id]
		dialing := p != nil && p.dispatched
		if p != nil {
			c.failPending(p, device.Cancelled, "disconnect requested")
		}
		c.transition(rec, fsm.TriggerDisconnect)
		if !dialing {
			// the radio never saw the connect
			c.transition(rec, fsm.TriggerDisconnected)
			return
		}
		c.beginDisconnect(rec)

	case device.StateConnected:
		if p := c.pending[id]; p != nil {
			c.failPending(p, device.Cancelled, "disconnect requested")
		}
		c.transition(rec, fsm.TriggerDisconnect)
		c.beginDisconnect(rec)
	}
}

// beginDisconnect asks the radio to drop rec and bounds the wait for its confirmation.
func (c *Controller) beginDisconnect(rec *registry.Record) {
	id := rec.ID
	token := c.nextToken()
	if err := c.serial.Submit(serializer.Command{Kind: serializer.KindDisconnect, DeviceID: id, Token: token}); err != nil {
		c.logger.WithError(err).WithField("device", id).Warn("Disconnect not queued")
	}

	if w, ok := c.disconnects[id]; ok {
		w.timer.Stop()
	}
	c.disconnects[id] = &disconnectWait{
		token: token,
		timer: c.after(c.cfg.DisconnectTimeout, func() { c.onDisconnectTimeout(id, token) }),
	}
}

// teardown drops a link nobody is waiting for, such as a connect that succeeded too late.
func (c *Controller) teardown(id string) {
	cmd := serializer.Command{Kind: serializer.KindDisconnect, DeviceID: id, Token: c.nextToken()}
	if err := c.serial.Submit(cmd); err != nil {
		c.logger.WithError(err).WithField("device", id).Warn("Teardown not queued")
	}
}

// ----------------------------
// Radio slot
// ----------------------------

// pump issues queued commands while the radio slot is free.
func (c *Controller) pump() {
	for {
		cmd, ok := c.serial.Next()
		if !ok {
			return
		}
		c.execute(cmd)
	}
}

func (c *Controller) execute(cmd serializer.Command) {
	logger := c.logger.WithField("command", cmd.String())
	logger.Debug("Issuing radio command")

	switch cmd.Kind {
	case serializer.KindStartScan:
		if err := c.radio.StartScan(); err != nil {
			logger.WithError(err).Warn("Radio refused to scan")
			c.setScanning(false)
		}
		c.serial.Complete(cmd.Token)

	case serializer.KindStopScan:
		if err := c.radio.StopScan(); err != nil {
			logger.WithError(err).Warn("Radio failed to stop scanning")
		}
		c.serial.Complete(cmd.Token)

	case serializer.KindDisconnect:
		if err := c.radio.Disconnect(cmd.DeviceID); err != nil {
			logger.WithError(err).Warn("Radio failed to disconnect")
		}
		c.serial.Complete(cmd.Token)

	case serializer.KindConnect:
		p := c.pending[cmd.DeviceID]
		if p == nil || p.token != cmd.Token {
			c.serial.Complete(cmd.Token)
			return
		}
		p.dispatched = true
		if err := c.radio.Connect(cmd.DeviceID, cmd.Token); err != nil {
			logger.WithError(err).Info("Radio refused to connect")
			c.connectFailed(p, err)
			return
		}
		p.timer = c.after(c.cfg.ConnectTimeout, func() { c.onRequestTimeout(cmd.DeviceID, cmd.Token) })

	case serializer.KindRead:
		p := c.pending[cmd.DeviceID]
		if p == nil || p.token != cmd.Token {
			c.serial.Complete(cmd.Token)
			return
		}
		p.dispatched = true
		if err := c.radio.Request(cmd.DeviceID, cmd.Which, cmd.Token); err != nil {
			logger.WithError(err).Info("Radio refused to read")
			c.failPending(p, kindOr(err, device.NotConnected), err.Error())
			return
		}
		p.timer = c.after(c.cfg.ReadTimeout, func() { c.onRequestTimeout(cmd.DeviceID, cmd.Token) })
	}
}

// after runs fn on the dispatch goroutine once d elapses.
func (c *Controller) after(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { c.post(fn) })
}

func (c *Controller) stopTimers() {
	for _, p := range c.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	for _, w := range c.disconnects {
		w.timer.Stop()
	}
}

// ----------------------------
// Pending requests
// ----------------------------

// finish removes p and releases whatever it holds in the serializer.
func (c *Controller) finish(p *pendingRequest) {
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(c.pending, p.deviceID)
	if !c.serial.Complete(p.token) {
		c.serial.Withdraw(p.deviceID, p.kind)
	}
}

// failPending resolves p as failed and publishes the matching result callback.
func (c *Controller) failPending(p *pendingRequest, kind device.ErrorKind, reason string) {
	c.finish(p)
	c.logger.WithFields(logrus.Fields{
		"device": p.deviceID,
		"kind":   kind,
		"reason": reason,
	}).Info("Request failed")

	switch p.kind {
	case serializer.KindConnect:
		c.publish(bridge.ConnectResult(p.deviceID, false, string(kind)))
	case serializer.KindRead:
		c.publish(bridge.CharacteristicResult(p.deviceID, p.which.String(), map[string]any{}, false, string(kind)))
	}
}

// connectFailed resolves a connect with err and moves the device to Failed.
func (c *Controller) connectFailed(p *pendingRequest, err error) {
	c.failPending(p, kindOr(err, device.ConnectFailed), err.Error())
	if rec, ok := c.registry.Get(p.deviceID); ok {
		c.transition(rec, fsm.TriggerConnectFailed)
	}
}

func (c *Controller) onRequestTimeout(id string, token uint64) {
	p, ok := c.pending[id]
	if !ok || p.token != token {
		return
	}

	c.failPending(p, device.Timeout, "no response from radio")
	if p.kind != serializer.KindConnect {
		return
	}
	if rec, ok := c.registry.Get(id); ok {
		c.transition(rec, fsm.TriggerTimeout)
	}
	// abort the dial still running in the radio
	c.teardown(id)
}

func (c *Controller) onDisconnectTimeout(id string, token uint64) {
	w, ok := c.disconnects[id]
	if !ok || w.token != token {
		return
	}
	delete(c.disconnects, id)

	rec, ok := c.registry.Get(id)
	if !ok {
		return
	}
	c.logger.WithField("device", id).Warn("Disconnect not confirmed by radio")
	if c.transition(rec, fsm.TriggerTimeout) {
		c.registry.EvictConnection(id)
		c.echo.Forget(id)
	}
}

func kindOr(err error, fallback device.ErrorKind) device.ErrorKind {
	if kind := device.KindOf(device.NormalizeError(err)); kind != "" {
		return kind
	}
	return fallback
}

// ----------------------------
// Radio events
// ----------------------------

func (c *Controller) handleEvent(ev device.Event) {
	switch e := ev.(type) {
	case device.DiscoveredEvent:
		c.onDiscovered(e)
	case device.ConnectResultEvent:
		c.onConnectResult(e)
	case device.DisconnectedEvent:
		c.onDisconnected(e)
	case device.CharacteristicResultEvent:
		c.onCharacteristicResult(e)
	case device.NotificationEvent:
		c.onNotification(e)
	case device.RadioStateChangedEvent:
		c.onRadioStateChanged(e)
	default:
		c.logger.WithField("event", ev).Warn("Unknown radio event")
	}
}

func (c *Controller) onDiscovered(e device.DiscoveredEvent) {
	if c.scanMode != device.StateScanning {
		return
	}

	rec, first := c.registry.Observe(e.ID, e.Advertisement)
	if !first {
		return
	}
	c.transition(rec, fsm.TriggerAdvertised)
	c.logger.WithFields(logrus.Fields{
		"device": rec.ID,
		"name":   rec.Name,
		"rssi":   e.Advertisement.RSSI,
	}).Info("Device discovered")
	c.publish(bridge.DeviceDiscovered(rec.ID, advertisementMetadata(rec)))
}

func (c *Controller) onConnectResult(e device.ConnectResultEvent) {
	p, ok := c.pending[e.ID]
	if !ok || p.kind != serializer.KindConnect || p.token != e.Token {
		c.onStaleConnectResult(e)
		return
	}

	if e.Err != nil {
		c.connectFailed(p, e.Err)
		return
	}

	c.finish(p)
	rec, ok := c.registry.Get(e.ID)
	if !ok {
		c.teardown(e.ID)
		return
	}
	c.registry.SetConnection(e.ID, e.Handle, e.Characteristics)
	c.transition(rec, fsm.TriggerConnected)
	c.logger.WithFields(logrus.Fields{
		"device":          e.ID,
		"characteristics": len(e.Characteristics),
	}).Info("Device connected")
	c.publish(bridge.ConnectResult(e.ID, true, ""))
}

// onStaleConnectResult handles an outcome nobody waits for anymore.
// A late success is torn down unless the device is again connecting or connected.
func (c *Controller) onStaleConnectResult(e device.ConnectResultEvent) {
	logger := c.logger.WithFields(logrus.Fields{"device": e.ID, "token": e.Token})
	if e.Err != nil {
		logger.WithError(e.Err).Debug("Stale connect failure ignored")
		return
	}
	if rec, ok := c.registry.Get(e.ID); ok &&
		(rec.State == device.StateConnecting || rec.State == device.StateConnected) {
		logger.Debug("Stale connect success ignored")
		return
	}
	logger.Info("Tearing down connection that completed after cancellation")
	c.teardown(e.ID)
}

func (c *Controller) onDisconnected(e device.DisconnectedEvent) {
	rec, ok := c.registry.Get(e.ID)
	if !ok {
		return
	}

	switch rec.State {
	case device.StateDisconnecting:
		if w, ok := c.disconnects[e.ID]; ok {
			w.timer.Stop()
			delete(c.disconnects, e.ID)
		}
	case device.StateConnecting:
		if p := c.pending[e.ID]; p != nil {
			c.failPending(p, device.ConnectFailed, "link lost while connecting")
		}
	case device.StateConnected:
		if p := c.pending[e.ID]; p != nil {
			c.failPending(p, device.NotConnected, "link lost")
		}
		c.logger.WithError(e.Err).WithField("device", e.ID).Warn("Device disconnected unexpectedly")
	default:
		return
	}

	c.transition(rec, fsm.TriggerDisconnected)
	c.registry.EvictConnection(e.ID)
	c.echo.Forget(e.ID)
}

func (c *Controller) onCharacteristicResult(e device.CharacteristicResultEvent) {
	p, ok := c.pending[e.ID]
	if !ok || p.kind != serializer.KindRead || p.token != e.Token {
		c.logger.WithFields(logrus.Fields{"device": e.ID, "token": e.Token}).Debug("Unsolicited characteristic value dropped")
		return
	}

	if e.Err != nil {
		c.failPending(p, kindOr(e.Err, device.NotConnected), e.Err.Error())
		return
	}

	volts, err := protocol.DecodeVoltage(e.Value)
	if err != nil {
		c.failPending(p, device.InvalidState, err.Error())
		return
	}

	c.finish(p)
	low := protocol.IsLowCharge(volts, c.cfg.LowBatteryRatio)
	if rec, ok := c.registry.Get(e.ID); ok {
		rec.Voltage = volts
	}
	c.logger.WithFields(logrus.Fields{"device": e.ID, "volts": volts}).Info("Voltage read")

	c.publish(bridge.CharacteristicResult(e.ID, p.which.String(), map[string]any{
		"raw":   append([]byte(nil), e.Value...),
		"volts": volts,
		"ratio": protocol.ChargeRatio(volts),
		"low":   low,
	}, true, ""))
	if low {
		c.publish(bridge.BatteryLow(e.ID, volts))
	}
}

func (c *Controller) onNotification(e device.NotificationEvent) {
	rec, ok := c.registry.Get(e.ID)
	if !ok || !rec.Connected() {
		return
	}
	if !c.echo.Accept(e.ID, e.Value) {
		return
	}

	op, err := protocol.DecodeBlockOperation(e.Value)
	if err != nil {
		c.logger.WithError(err).WithField("device", e.ID).Debug("Malformed block notification dropped")
		return
	}
	operation := map[string]any{
		"block_a": op.BlockA,
		"face":    op.Face,
		"side":    int(op.Side),
		"block_b": op.BlockB,
		"removed": op.Removed,
	}

	change, err := rec.Structure.Apply(op)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"device":  e.ID,
			"block_a": op.BlockA,
			"face":    op.Face,
		}).Warn("Block operation rejected")
		c.publish(bridge.BlockOperationError(e.ID, operation, structure.Code(err)))
		return
	}

	operation["block"] = change.Block.ID
	operation["color"] = change.Block.Color()
	operation["x"] = change.Coordinate.X
	operation["y"] = change.Coordinate.Y
	operation["z"] = change.Coordinate.Z
	removed := make([]any, 0, len(change.Removed))
	for _, id := range change.Removed {
		removed = append(removed, id)
	}
	operation["detached"] = removed
	operation["blocks"] = rec.Structure.Len()

	c.logger.WithFields(logrus.Fields{
		"device":   e.ID,
		"block":    change.Block.ID,
		"removed":  op.Removed,
		"position": change.Coordinate.String(),
	}).Debug("Block operation applied")
	c.publish(bridge.BlockOperation(e.ID, operation))
}

func (c *Controller) onRadioStateChanged(e device.RadioStateChangedEvent) {
	if e.State == c.radioState {
		return
	}
	old := c.radioState
	c.radioState = e.State
	c.logger.WithFields(logrus.Fields{"from": old, "to": e.State}).Info("Bluetooth state changed")
	c.publish(bridge.BluetoothStateChanged(e.State.String()))

	if !e.State.Available() {
		c.powerOff()
	}
}

// powerOff fails every outstanding request and evicts every device.
func (c *Controller) powerOff() {
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c.failPending(c.pending[id], device.RadioUnavailable, "bluetooth turned off")
	}

	for id, w := range c.disconnects {
		w.timer.Stop()
		delete(c.disconnects, id)
	}
	c.serial.Drain()
	c.setScanning(false)

	for _, id := range c.registry.IDs() {
		if rec, ok := c.registry.Get(id); ok {
			c.transition(rec, fsm.TriggerPowerOff)
		}
	}
	evicted := c.registry.EvictAll()
	c.echo = protocol.NewEchoFilter()
	c.logger.WithField("evicted", len(evicted)).Warn("Radio unavailable, all devices evicted")
}

func advertisementMetadata(rec *registry.Record) map[string]any {
	adv := rec.Advertisement
	meta := map[string]any{
		"name":        rec.Name,
		"local_name":  adv.LocalName,
		"rssi":        adv.RSSI,
		"connectable": adv.Connectable,
	}
	if len(adv.Services) > 0 {
		meta["services"] = append([]string(nil), adv.Services...)
	}
	if len(adv.ManufacturerData) > 0 {
		meta["manufacturer_data"] = append([]byte(nil), adv.ManufacturerData...)
	}
	if adv.TxPower != nil {
		meta["tx_power"] = *adv.TxPower
	}
	return meta
}
