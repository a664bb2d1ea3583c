package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/logitow/blebridge/internal/bridge"
	"github.com/logitow/blebridge/internal/device"
	goble "github.com/logitow/blebridge/internal/device/go-ble"
	"github.com/logitow/blebridge/pkg/config"
	"github.com/logitow/blebridge/pkg/controller"
)

// newRadio opens the platform radio. Tests replace it with an in-memory radio.
var newRadio = func(prefix string, logger *logrus.Logger) device.Radio {
	return goble.NewRadio(prefix, logger)
}

// session is a running controller with its callback target registered.
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	ctl    *controller.Controller
	sink   *eventSink
}

// openSession starts a controller and registers rt as its callback target.
// A nil rt registers an eventSink, reachable through session.sink.
func openSession(ctx context.Context, cfg *config.Config, logger *logrus.Logger, rt bridge.Runtime) (*session, error) {
	s := &session{cfg: cfg, logger: logger}
	if rt == nil {
		s.sink = newEventSink(cfg.EventBufferSize)
		rt = s.sink
	}

	s.ctl = controller.New(newRadio(cfg.DeviceNamePrefix, logger), cfg, logger)
	s.ctl.Start(ctx)

	if err := s.ctl.RegisterCallbackTarget(bridge.Handle{Runtime: rt, Target: cfg.CallbackTarget}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register callback target: %w", err)
	}
	return s, nil
}

// events returns the sink channel, or nil when a foreign runtime was registered.
func (s *session) events() <-chan bridge.Event {
	if s.sink == nil {
		return nil
	}
	return s.sink.Events()
}

// Close stops the controller and the radio.
func (s *session) Close() {
	if s.sink != nil {
		s.sink.close()
	}
	if err := s.ctl.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close radio")
	}
}
