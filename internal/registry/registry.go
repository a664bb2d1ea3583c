// Package registry keeps the set of devices seen by the controller in discovery order.
//
// A Registry is owned by a single goroutine and is not safe for concurrent use.
package registry

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/logitow/blebridge/internal/device"
	"github.com/logitow/blebridge/internal/structure"
)

// DefaultNamePrefix is used when New is given an empty prefix.
const DefaultNamePrefix = "LOGITOW"

// Record is the mutable device record.
type Record struct {
	ID              string
	Name            string
	State           device.State
	Handle          string
	Characteristics []string
	Advertisement   device.Advertisement
	Voltage         float64
	// Structure is the block structure built on the device; it outlives connections.
	Structure *structure.Structure

	session uint64
}

// Connected reports whether the record carries a live connection handle.
func (r *Record) Connected() bool {
	return r.State == device.StateConnected && r.Handle != ""
}

// Info returns a read-only snapshot of the record.
func (r *Record) Info() device.Info {
	info := device.Info{
		ID:            r.ID,
		Name:          r.Name,
		State:         r.State,
		StateName:     r.State.String(),
		Handle:        r.Handle,
		Advertisement: r.Advertisement,
		Voltage:       r.Voltage,
	}
	if len(r.Characteristics) > 0 {
		info.Characteristics = append([]string(nil), r.Characteristics...)
	}
	if len(r.Advertisement.Services) > 0 {
		info.Advertisement.Services = append([]string(nil), r.Advertisement.Services...)
	}
	if len(r.Advertisement.ManufacturerData) > 0 {
		info.Advertisement.ManufacturerData = append([]byte(nil), r.Advertisement.ManufacturerData...)
	}
	return info
}

// Registry maps device identifiers to records.
// Friendly names are assigned on first sight and survive eviction.
type Registry struct {
	devices *orderedmap.OrderedMap[string, *Record]
	names   map[string]string
	prefix  string
	session uint64
}

// New creates an empty registry naming devices "<prefix> - <n>".
func New(prefix string) *Registry {
	if prefix == "" {
		prefix = DefaultNamePrefix
	}
	return &Registry{
		devices: orderedmap.New[string, *Record](),
		names:   make(map[string]string),
		prefix:  prefix,
	}
}

// BeginSession starts a new scan session. Every device becomes reportable once more.
func (r *Registry) BeginSession() uint64 {
	r.session++
	return r.session
}

// Session returns the current scan session number; zero before the first scan.
func (r *Registry) Session() uint64 {
	return r.session
}

// Observe records an advertisement for id.
// It creates the record on first sight and reports whether this is the first
// advertisement for id in the current scan session. A Failed device is reported
// on every advertisement so it can be rediscovered without a new session.
func (r *Registry) Observe(id string, adv device.Advertisement) (rec *Record, firstInSession bool) {
	rec, ok := r.devices.Get(id)
	if !ok {
		rec = &Record{
			ID:        id,
			Name:      r.nameFor(id),
			State:     device.StateIdle,
			Structure: structure.New(id),
		}
		r.devices.Set(id, rec)
	}

	rec.Advertisement = adv
	if rec.session != r.session || !ok || rec.State == device.StateFailed {
		rec.session = r.session
		return rec, true
	}
	return rec, false
}

func (r *Registry) nameFor(id string) string {
	if name, ok := r.names[id]; ok {
		return name
	}
	name := fmt.Sprintf("%s - %d", r.prefix, len(r.names)+1)
	r.names[id] = name
	return name
}

// Get returns the record for id.
func (r *Registry) Get(id string) (*Record, bool) {
	return r.devices.Get(id)
}

// Name returns the friendly name ever assigned to id, even after eviction.
func (r *Registry) Name(id string) (string, bool) {
	name, ok := r.names[id]
	return name, ok
}

// SetConnection stores the connection-scoped data of a freshly connected device.
func (r *Registry) SetConnection(id, handle string, characteristics []string) bool {
	rec, ok := r.devices.Get(id)
	if !ok {
		return false
	}
	rec.Handle = handle
	rec.Characteristics = append([]string(nil), characteristics...)
	return true
}

// EvictConnection drops the handle and characteristic cache of id, keeping the record.
func (r *Registry) EvictConnection(id string) {
	if rec, ok := r.devices.Get(id); ok {
		rec.Handle = ""
		rec.Characteristics = nil
	}
}

// EvictAll removes every record. Friendly names are retained.
func (r *Registry) EvictAll() []string {
	ids := r.IDs()
	r.devices = orderedmap.New[string, *Record]()
	return ids
}

// Len returns the number of records.
func (r *Registry) Len() int {
	return r.devices.Len()
}

// IDs returns device identifiers in discovery order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// Snapshot returns a copy of every record in discovery order.
func (r *Registry) Snapshot() []device.Info {
	out := make([]device.Info, 0, r.devices.Len())
	for pair := r.devices.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value.Info())
	}
	return out
}
