package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logitow/blebridge/internal/device"
)

func TestObserveAssignsStableNames(t *testing.T) {
	r := New("")
	r.BeginSession()

	a, first := r.Observe("aa", device.Advertisement{LocalName: "LOGITOW", RSSI: -40})
	require.True(t, first)
	assert.Equal(t, "LOGITOW - 1", a.Name)
	assert.Equal(t, device.StateIdle, a.State, "new records start without a lifecycle position")

	b, first := r.Observe("bb", device.Advertisement{})
	require.True(t, first)
	assert.Equal(t, "LOGITOW - 2", b.Name)

	again, first := r.Observe("aa", device.Advertisement{RSSI: -70})
	assert.False(t, first, "repeat advertisement in the same session MUST NOT be first")
	assert.Same(t, a, again)
	assert.Equal(t, -70, again.Advertisement.RSSI, "advertisement MUST be refreshed")

	r.EvictAll()
	assert.Equal(t, 0, r.Len())

	a2, first := r.Observe("aa", device.Advertisement{})
	assert.True(t, first)
	assert.Equal(t, "LOGITOW - 1", a2.Name, "friendly name MUST survive eviction")
}

func TestSessionsResetFirstSight(t *testing.T) {
	r := New("BRICK")
	r.BeginSession()
	_, first := r.Observe("aa", device.Advertisement{})
	require.True(t, first)
	_, first = r.Observe("aa", device.Advertisement{})
	require.False(t, first)

	assert.Equal(t, uint64(2), r.BeginSession())
	rec, first := r.Observe("aa", device.Advertisement{})
	assert.True(t, first, "a new scan session MUST report the device again")
	assert.Equal(t, "BRICK - 1", rec.Name)
}

func TestRecordOwnsStructure(t *testing.T) {
	r := New("")
	rec, _ := r.Observe("aa", device.Advertisement{})
	require.NotNil(t, rec.Structure)
	assert.Equal(t, "aa", rec.Structure.Device)
	assert.Equal(t, 1, rec.Structure.Len(), "a new structure MUST hold only the base block")

	again, _ := r.Observe("aa", device.Advertisement{})
	assert.Same(t, rec.Structure, again.Structure, "re-advertisement MUST keep the structure")
}

func TestFailedDeviceReportedAgainInSession(t *testing.T) {
	r := New("")
	r.BeginSession()
	rec, first := r.Observe("aa", device.Advertisement{})
	require.True(t, first)

	rec.State = device.StateFailed
	_, first = r.Observe("aa", device.Advertisement{})
	assert.True(t, first, "a Failed device MUST be reportable within the same session")

	rec.State = device.StateDiscovered
	_, first = r.Observe("aa", device.Advertisement{})
	assert.False(t, first)
}

func TestConnectionScopedEviction(t *testing.T) {
	r := New("")
	rec, _ := r.Observe("aa", device.Advertisement{})
	rec.State = device.StateConnected

	require.True(t, r.SetConnection("aa", "handle-1", []string{"7f510006", "69400003"}))
	assert.True(t, rec.Connected())
	assert.False(t, r.SetConnection("zz", "h", nil))

	r.EvictConnection("aa")
	got, ok := r.Get("aa")
	require.True(t, ok, "record MUST survive a connection eviction")
	assert.Empty(t, got.Handle)
	assert.Nil(t, got.Characteristics)
	assert.False(t, got.Connected())

	r.EvictConnection("unknown")
}

func TestSnapshotIsOrderedCopy(t *testing.T) {
	r := New("")
	for _, id := range []string{"cc", "aa", "bb"} {
		r.Observe(id, device.Advertisement{Services: []string{"180f"}})
	}
	r.SetConnection("aa", "h", []string{"x"})

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"cc", "aa", "bb"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
	assert.Equal(t, r.IDs(), []string{"cc", "aa", "bb"})
	assert.Equal(t, "Idle", snap[0].StateName)

	snap[1].Characteristics[0] = "mutated"
	snap[0].Advertisement.Services[0] = "mutated"
	rec, _ := r.Get("aa")
	assert.Equal(t, "x", rec.Characteristics[0], "snapshot MUST NOT alias record state")
	rec, _ = r.Get("cc")
	assert.Equal(t, "180f", rec.Advertisement.Services[0])

	name, ok := r.Name("bb")
	assert.True(t, ok)
	assert.Equal(t, "LOGITOW - 3", name)
}
