package session

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safetrack/internal/models"
)

// fakeSource is a scriptable location source
type fakeSource struct {
	mu        sync.Mutex
	onUpdate  func(Position)
	onError   func(*GeolocationError)
	cancelled bool
	watchErr  error
}

func (s *fakeSource) Watch(onUpdate func(Position), onError func(*GeolocationError)) (func(), error) {
	if s.watchErr != nil {
		return nil, s.watchErr
	}
	s.mu.Lock()
	s.onUpdate = onUpdate
	s.onError = onError
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
	}, nil
}

func (s *fakeSource) push(pos Position) {
	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()
	if fn != nil {
		fn(pos)
	}
}

func (s *fakeSource) fail(code GeoErrorCode) {
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(&GeolocationError{Code: code})
	}
}

func (s *fakeSource) wasCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func TestStartTrackingWithoutSource(t *testing.T) {
	client, transport := newTestClient(t, Config{})

	err := client.StartTracking()

	assert.ErrorIs(t, err, ErrUnsupportedEnvironment)
	assert.Zero(t, transport.emitCount(models.EventStartTracking),
		"capability absence must not reach the transport")
	assert.Equal(t, TrackingIdle, client.TrackingState())
}

func TestLiveTrackingEmitsLocationUpdates(t *testing.T) {
	source := &fakeSource{}
	client, transport := newTestClient(t, Config{Source: source})

	require.NoError(t, client.StartTracking())
	assert.Equal(t, TrackingLive, client.TrackingState())
	assert.Equal(t, 1, transport.emitCount(models.EventStartTracking))

	source.push(Position{Lat: 35.1, Lng: 126.8})
	source.push(Position{Lat: 35.2, Lng: 126.9})

	updates := transport.eventsNamed(models.EventLocationUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, models.LocationUpdatePayload{UserID: "alice", Lat: 35.2, Lng: 126.9}, updates[1].payload)

	loc := client.CurrentLocation()
	require.NotNil(t, loc)
	assert.Equal(t, 35.2, loc.Lat)
}

func TestGeolocationErrorForcesIdle(t *testing.T) {
	source := &fakeSource{}
	client, transport := newTestClient(t, Config{Source: source})
	require.NoError(t, client.StartTracking())

	source.fail(GeoPermissionDenied)

	assert.Equal(t, TrackingIdle, client.TrackingState())
	assert.Equal(t, 1, transport.emitCount(models.EventStopTracking))
	assert.True(t, source.wasCancelled(), "the watch is released on the error path")
	assert.Nil(t, client.CurrentLocation())
}

func TestStopTrackingIsIdempotent(t *testing.T) {
	source := &fakeSource{}
	client, transport := newTestClient(t, Config{Source: source})
	require.NoError(t, client.StartTracking())

	client.StopTracking()
	client.StopTracking()

	assert.Equal(t, 1, transport.emitCount(models.EventStopTracking),
		"the second stop is a no-op")
	assert.True(t, source.wasCancelled())

	// Stale watch callbacks after teardown produce nothing
	source.push(Position{Lat: 1, Lng: 2})
	assert.Zero(t, transport.emitCount(models.EventLocationUpdate))
}

func TestTrackingMutualExclusion(t *testing.T) {
	source := &fakeSource{}
	client, _ := newTestClient(t, Config{Source: source})
	require.NoError(t, client.StartTracking())

	var verr *ValidationError
	require.ErrorAs(t, client.StartSimulation(), &verr)
	require.ErrorAs(t, client.StartTracking(), &verr)
}

func TestStopTrackingKeepsShareGrants(t *testing.T) {
	source := &fakeSource{}
	client, transport := newTestClient(t, Config{Source: source})

	transport.deliver(t, models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers: []models.UserRef{{ID: "x", Name: "X"}},
		IsTracking:  true,
	})
	require.NoError(t, client.StartTracking())

	client.StopTracking()

	assert.Equal(t, []string{"x"}, refIDs(client.SharedUsers()),
		"stopping tracking does not revoke grants")
}

func TestSimulationStepCountMatchesFormula(t *testing.T) {
	sim := DefaultSimulation()

	dLat := (sim.EndLat - sim.StartLat) * 111000
	dLng := (sim.EndLng - sim.StartLng) * 111000 * math.Cos(sim.StartLat*math.Pi/180)
	distance := math.Sqrt(dLat*dLat + dLng*dLng)
	stepDistance := sim.WalkingSpeed * sim.UpdateInterval.Seconds()
	want := int(math.Ceil(distance / stepDistance))

	assert.Equal(t, want, sim.Steps())
}

func TestSimulationRunsToCompletion(t *testing.T) {
	// ~11.1m walk with a 2m step: ceil gives 6 emissions total
	sim := SimulationConfig{
		StartLat:       0,
		StartLng:       0,
		EndLat:         0.0001,
		EndLng:         0,
		WalkingSpeed:   1000,
		UpdateInterval: 2 * time.Millisecond,
		Jitter:         0,
	}
	require.Equal(t, 6, sim.Steps())

	client, transport := newTestClient(t, Config{Simulation: sim})

	require.NoError(t, client.StartSimulation())
	assert.Equal(t, TrackingSimulating, client.TrackingState())

	require.Eventually(t, func() bool {
		return client.TrackingState() == TrackingIdle
	}, time.Second, time.Millisecond)

	assert.Equal(t, sim.Steps(), transport.emitCount(models.EventLocationUpdate),
		"one emission per computed step, then auto-stop")
	assert.Equal(t, 1, transport.emitCount(models.EventStopTracking))
	assert.Nil(t, client.CurrentLocation())
}

func TestSimulationPositionsInterpolate(t *testing.T) {
	sim := SimulationConfig{
		StartLat:       0,
		StartLng:       0,
		EndLat:         0.0001,
		EndLng:         0,
		WalkingSpeed:   1000,
		UpdateInterval: 2 * time.Millisecond,
		Jitter:         0,
	}
	client, transport := newTestClient(t, Config{Simulation: sim})
	require.NoError(t, client.StartSimulation())

	require.Eventually(t, func() bool {
		return client.TrackingState() == TrackingIdle
	}, time.Second, time.Millisecond)

	updates := transport.eventsNamed(models.EventLocationUpdate)
	require.NotEmpty(t, updates)

	first := updates[0].payload.(models.LocationUpdatePayload)
	assert.Equal(t, sim.StartLat, first.Lat)

	total := sim.Steps()
	for i, u := range updates {
		payload := u.payload.(models.LocationUpdatePayload)
		want := sim.StartLat + (sim.EndLat-sim.StartLat)*float64(i)/float64(total)
		assert.InDelta(t, want, payload.Lat, 1e-12)
	}
}

func TestSimulationStoppedMidway(t *testing.T) {
	sim := SimulationConfig{
		StartLat:       0,
		StartLng:       0,
		EndLat:         0.01, // long walk, will not finish on its own
		EndLng:         0,
		WalkingSpeed:   1.39,
		UpdateInterval: 5 * time.Millisecond,
		Jitter:         0,
	}
	client, transport := newTestClient(t, Config{Simulation: sim})
	require.NoError(t, client.StartSimulation())

	time.Sleep(20 * time.Millisecond)
	client.StopTracking()

	assert.Equal(t, TrackingIdle, client.TrackingState())
	stops := transport.emitCount(models.EventStopTracking)
	assert.Equal(t, 1, stops)

	// The loop is gone; no further updates trickle out
	count := transport.emitCount(models.EventLocationUpdate)
	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, count, transport.emitCount(models.EventLocationUpdate))
}
