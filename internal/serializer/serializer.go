// Package serializer orders radio commands so that exactly one is in flight at a time.
//
// The radio is a single serialized resource across all devices. Connect and read
// commands hold the slot until their outcome is known; scan, stop-scan and
// disconnect commands release it as soon as the radio call returns.
//
// A Serializer is owned by the controller's dispatch goroutine and is not safe
// for concurrent use.
package serializer

import (
	"fmt"

	"github.com/logitow/blebridge/internal/device"
)

// Kind is the command type.
type Kind int

const (
	KindStartScan Kind = iota
	KindStopScan
	KindConnect
	KindDisconnect
	KindRead
)

func (k Kind) String() string {
	switch k {
	case KindStartScan:
		return "startScan"
	case KindStopScan:
		return "stopScan"
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindRead:
		return "read"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Command is one accepted radio operation.
type Command struct {
	Kind     Kind
	DeviceID string
	Token    uint64
	Which    device.Characteristic
}

// HoldsSlot reports whether the command keeps the radio busy until its result arrives.
func (c Command) HoldsSlot() bool {
	return c.Kind == KindConnect || c.Kind == KindRead
}

func (c Command) String() string {
	if c.DeviceID == "" {
		return fmt.Sprintf("%s#%d", c.Kind, c.Token)
	}
	return fmt.Sprintf("%s(%s)#%d", c.Kind, c.DeviceID, c.Token)
}

// CheckFunc validates a command against radio and device state at submission time.
type CheckFunc func(Command) error

// Serializer is a FIFO of accepted commands with a single in-flight slot.
type Serializer struct {
	queue    []Command
	inFlight *Command
	ready    bool
	check    CheckFunc
}

// New creates a serializer. check may be nil.
func New(check CheckFunc) *Serializer {
	return &Serializer{check: check}
}

// SetReady marks the bridge initialized. Submissions are rejected until then.
func (s *Serializer) SetReady(ready bool) {
	s.ready = ready
}

// Ready reports whether submissions are accepted.
func (s *Serializer) Ready() bool {
	return s.ready
}

// Submit accepts cmd for dispatch or returns the rejection reason.
//
// A connect or read is rejected with AlreadyPending while another connect or
// read for the same device is queued or in flight. A disconnect preempts the
// queue. A duplicate queued disconnect is accepted and coalesced.
func (s *Serializer) Submit(cmd Command) error {
	if !s.ready {
		return device.Errorf(device.NotInitialized, "%s rejected: callback target not registered", cmd)
	}

	switch cmd.Kind {
	case KindConnect, KindRead:
		if other, ok := s.conflicting(cmd.DeviceID); ok {
			return device.Errorf(device.AlreadyPending, "%s rejected: %s pending", cmd, other)
		}
	case KindDisconnect:
		if s.queued(cmd.DeviceID, KindDisconnect) {
			return nil
		}
	}

	if s.check != nil {
		if err := s.check(cmd); err != nil {
			return err
		}
	}

	if cmd.Kind == KindDisconnect {
		s.queue = append([]Command{cmd}, s.queue...)
		return nil
	}
	s.queue = append(s.queue, cmd)
	return nil
}

func (s *Serializer) conflicting(id string) (Command, bool) {
	if s.inFlight != nil && s.inFlight.DeviceID == id && s.inFlight.HoldsSlot() {
		return *s.inFlight, true
	}
	for _, c := range s.queue {
		if c.DeviceID == id && c.HoldsSlot() {
			return c, true
		}
	}
	return Command{}, false
}

func (s *Serializer) queued(id string, kind Kind) bool {
	for _, c := range s.queue {
		if c.DeviceID == id && c.Kind == kind {
			return true
		}
	}
	return false
}

// Withdraw removes queued commands of kind for device id and returns them.
// The in-flight command is never withdrawn.
func (s *Serializer) Withdraw(id string, kind Kind) []Command {
	var removed []Command
	kept := s.queue[:0]
	for _, c := range s.queue {
		if c.DeviceID == id && c.Kind == kind {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	s.queue = kept
	return removed
}

// Next moves the head of the queue into the in-flight slot.
// It returns false while the slot is occupied or the queue is empty.
func (s *Serializer) Next() (Command, bool) {
	if s.inFlight != nil || len(s.queue) == 0 {
		return Command{}, false
	}
	cmd := s.queue[0]
	s.queue = s.queue[1:]
	s.inFlight = &cmd
	return cmd, true
}

// Complete releases the slot if it is held by the command carrying token.
func (s *Serializer) Complete(token uint64) bool {
	if s.inFlight == nil || s.inFlight.Token != token {
		return false
	}
	s.inFlight = nil
	return true
}

// InFlight returns the command holding the slot.
func (s *Serializer) InFlight() (Command, bool) {
	if s.inFlight == nil {
		return Command{}, false
	}
	return *s.inFlight, true
}

// Busy reports whether the radio slot is occupied.
func (s *Serializer) Busy() bool {
	return s.inFlight != nil
}

// Pending returns the kinds queued or in flight for device id, in dispatch order.
func (s *Serializer) Pending(id string) []Kind {
	var kinds []Kind
	if s.inFlight != nil && s.inFlight.DeviceID == id {
		kinds = append(kinds, s.inFlight.Kind)
	}
	for _, c := range s.queue {
		if c.DeviceID == id {
			kinds = append(kinds, c.Kind)
		}
	}
	return kinds
}

// Len returns the number of queued commands, excluding the one in flight.
func (s *Serializer) Len() int {
	return len(s.queue)
}

// Drain empties the queue and the slot, returning every dropped command in flight-first order.
func (s *Serializer) Drain() []Command {
	var dropped []Command
	if s.inFlight != nil {
		dropped = append(dropped, *s.inFlight)
		s.inFlight = nil
	}
	dropped = append(dropped, s.queue...)
	s.queue = nil
	return dropped
}
