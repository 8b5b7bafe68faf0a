package tracking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guetchou/bantudelice-tracking/internal/lifecycle"
	"github.com/guetchou/bantudelice-tracking/internal/locstore"
	"github.com/guetchou/bantudelice-tracking/internal/models"
)

var (
	pickup      = models.Coord{Lat: -4.2650, Lng: 15.2440}
	destination = models.Coord{Lat: -4.2800, Lng: 15.2600}
	awayFromAll = models.Coord{Lat: -4.2500, Lng: 15.2300}
	t0          = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	store   *locstore.Store
	machine *lifecycle.Machine
	mgr     *Manager
	seq     time.Duration
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := locstore.New(nil)
	machine := lifecycle.NewMachine(store, nil, nil, lifecycle.DefaultConfig(), nil)
	mgr := NewManager(store, machine, nil, cfg, nil)

	f := &fixture{store: store, machine: machine, mgr: mgr}

	_, err := f.store.UpdatePosition("d1", f.fix(awayFromAll))
	require.NoError(t, err)
	_, err = machine.Create(models.Request{
		ID:           "r1",
		Pickup:       models.Place{Coord: pickup},
		Destination:  models.Place{Coord: destination},
		VehicleClass: models.ClassStandard,
	})
	require.NoError(t, err)
	_, err = machine.Assign("r1", models.Candidate{Actor: models.Actor{ID: "d1"}})
	require.NoError(t, err)
	return f
}

// fix produces positions with strictly increasing timestamps.
func (f *fixture) fix(c models.Coord) models.Position {
	f.seq += time.Second
	return models.Position{Coord: c, CapturedAt: t0.Add(f.seq)}
}

func (f *fixture) report(t *testing.T, c models.Coord) {
	t.Helper()
	f.reportActor(t, "d1", c)
}

func (f *fixture) reportActor(t *testing.T, actorID string, c models.Coord) {
	t.Helper()
	ok, err := f.store.UpdatePosition(actorID, f.fix(c))
	require.NoError(t, err)
	require.True(t, ok)
}

func waitStatus(t *testing.T, f *fixture, want models.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		req, err := f.machine.Get("r1")
		return err == nil && req.Status == want
	}, 2*time.Second, 10*time.Millisecond, "never reached %s", want)
}

func TestSessionEmitsFramesTowardPickup(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.mgr.Start("r1", "d1"))
	defer f.mgr.Stop("r1")

	f.report(t, awayFromAll)

	require.Eventually(t, func() bool {
		_, ok := f.mgr.Frame("r1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	frame, _ := f.mgr.Frame("r1")
	assert.Equal(t, "r1", frame.RequestID)
	// ~2.3km from the reported fix to the pickup point
	assert.InDelta(t, 2.3, frame.RemainingKm, 0.3)
	assert.Greater(t, frame.RemainingEtaMin, 0)
	assert.False(t, frame.Stale)
}

func TestSessionAdvancesOnPickupArrival(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.mgr.Start("r1", "d1"))
	defer f.mgr.Stop("r1")

	f.report(t, pickup)
	waitStatus(t, f, models.StatusActorArrived)
}

func TestSessionCompletesOnDestinationArrival(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.mgr.Start("r1", "d1"))
	defer f.mgr.Stop("r1")

	f.report(t, pickup)
	waitStatus(t, f, models.StatusActorArrived)

	_, err := f.machine.Signal("r1", lifecycle.EventStart)
	require.NoError(t, err)

	f.report(t, destination)
	waitStatus(t, f, models.StatusCompleted)

	// the session winds itself down once the request is done
	require.Eventually(t, func() bool {
		_, ok := f.mgr.Frame("r1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "completed request must not keep serving frames")
}

func TestOutOfBandCancelRetiresSession(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.mgr.Start("r1", "d1"))
	defer f.mgr.Stop("r1")

	f.report(t, awayFromAll)
	require.Eventually(t, func() bool {
		_, ok := f.mgr.Frame("r1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// cancel arrives outside the tracking path
	_, err := f.machine.Signal("r1", lifecycle.EventCancel)
	require.NoError(t, err)

	// the next fix makes the session notice and retire
	f.report(t, awayFromAll)
	require.Eventually(t, func() bool {
		_, ok := f.mgr.Frame("r1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "cancelled request must not keep a live session")
}

func TestReassignmentRebindsSessionToNewActor(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.mgr.Start("r1", "d1"))
	defer f.mgr.Stop("r1")

	_, err := f.machine.Signal("r1", lifecycle.EventReject)
	require.NoError(t, err)

	f.reportActor(t, "d2", awayFromAll)
	_, err = f.machine.Assign("r1", models.Candidate{Actor: models.Actor{ID: "d2"}})
	require.NoError(t, err)
	require.NoError(t, f.mgr.Start("r1", "d2"))

	// the rejected actor showing up at the pickup must not move the request
	f.reportActor(t, "d1", pickup)
	time.Sleep(100 * time.Millisecond)
	req, err := f.machine.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusAssigned, req.Status, "rejected actor must not drive the request")

	// the replacement actor does
	f.reportActor(t, "d2", pickup)
	waitStatus(t, f, models.StatusActorArrived)
}

func TestSilentActorFlagsStaleWithoutCancelling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleAfter = 60 * time.Millisecond
	f := newFixture(t, cfg)
	require.NoError(t, f.mgr.Start("r1", "d1"))
	defer f.mgr.Stop("r1")

	f.report(t, awayFromAll)
	require.Eventually(t, func() bool {
		_, ok := f.mgr.Frame("r1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// then silence
	require.Eventually(t, func() bool {
		frame, ok := f.mgr.Frame("r1")
		return ok && frame.Stale
	}, 2*time.Second, 10*time.Millisecond, "frame never flagged stale")

	req, err := f.machine.Get("r1")
	require.NoError(t, err)
	assert.False(t, req.Status.Terminal(), "silence must not cancel the request")
	assert.Equal(t, models.StatusAssigned, req.Status)
}

func TestFreshFixClearsStaleness(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaleAfter = 60 * time.Millisecond
	f := newFixture(t, cfg)
	require.NoError(t, f.mgr.Start("r1", "d1"))
	defer f.mgr.Stop("r1")

	f.report(t, awayFromAll)
	require.Eventually(t, func() bool {
		frame, ok := f.mgr.Frame("r1")
		return ok && frame.Stale
	}, 2*time.Second, 10*time.Millisecond)

	f.report(t, awayFromAll)
	require.Eventually(t, func() bool {
		frame, ok := f.mgr.Frame("r1")
		return ok && !frame.Stale
	}, 2*time.Second, 10*time.Millisecond, "new fix must clear the stale flag")
}

func TestStopIsIdempotentAndSilencesCallbacks(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.mgr.Start("r1", "d1"))

	f.mgr.Stop("r1")
	f.mgr.Stop("r1") // second stop must be a no-op

	if _, ok := f.mgr.Frame("r1"); ok {
		t.Fatal("stopped session should not serve frames")
	}

	// updates after stop must not panic or resurrect the session
	f.report(t, pickup)
	time.Sleep(50 * time.Millisecond)
	if _, ok := f.mgr.Frame("r1"); ok {
		t.Fatal("session resurrected after stop")
	}
}

func TestStartIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.NoError(t, f.mgr.Start("r1", "d1"))
	defer f.mgr.Stop("r1")
	require.NoError(t, f.mgr.Start("r1", "d1"))
}

func TestStartRejectsTerminalRequest(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.machine.Signal("r1", lifecycle.EventCancel)
	require.NoError(t, err)

	err = f.mgr.Start("r1", "d1")
	assert.True(t, models.IsInvalidTransition(err), "got %v", err)
}

func TestStartUnknownRequest(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	err := f.mgr.Start("missing", "d1")
	assert.ErrorIs(t, err, models.ErrUnknownRequest)
}
