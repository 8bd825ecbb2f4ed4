package session

import (
	"math"
	"math/rand"
	"time"

	"safetrack/internal/models"
	"safetrack/internal/statestore"
)

// TrackingState is the tracking controller's mode. The controller enforces
// at most one active location-producing loop per client.
type TrackingState int

const (
	TrackingIdle TrackingState = iota
	TrackingLive
	TrackingSimulating
)

func (s TrackingState) String() string {
	switch s {
	case TrackingLive:
		return "live"
	case TrackingSimulating:
		return "simulating"
	}
	return "idle"
}

// Position is one reading from a location source
type Position struct {
	Lat      float64
	Lng      float64
	Accuracy float64 // meters, 0 when unknown
}

// LocationSource abstracts the device geolocation capability. Watch starts
// a continuous position stream and returns a cancel function that must
// release the underlying watch; it is called on every exit path. Cancel
// must not block waiting for in-flight callbacks.
type LocationSource interface {
	Watch(onUpdate func(Position), onError func(*GeolocationError)) (cancel func(), err error)
}

// SimulationConfig describes the simulated straight-line walk used for
// testing without GPS hardware.
type SimulationConfig struct {
	StartLat float64
	StartLng float64
	EndLat   float64
	EndLng   float64

	WalkingSpeed   float64       // m/s
	UpdateInterval time.Duration // time between steps
	Jitter         float64       // per-step random variation in degrees

	rng *rand.Rand
}

// DefaultSimulation returns the stock walk: Gwangju city hall to Sangmu
// station at walking pace.
func DefaultSimulation() SimulationConfig {
	return SimulationConfig{
		StartLat:       35.1595,
		StartLng:       126.8526,
		EndLat:         35.1284,
		EndLng:         126.8442,
		WalkingSpeed:   1.39, // 5 km/h
		UpdateInterval: 2000 * time.Millisecond,
		Jitter:         0.00005,
	}
}

// WithRand fixes the jitter random source, for reproducible runs
func (s SimulationConfig) WithRand(rng *rand.Rand) SimulationConfig {
	s.rng = rng
	return s
}

// Steps returns how many position emissions a full walk produces
func (s SimulationConfig) Steps() int {
	stepDistance := s.WalkingSpeed * s.UpdateInterval.Seconds()
	distance := equirectangularDistance(s.StartLat, s.StartLng, s.EndLat, s.EndLng)
	return int(math.Ceil(distance / stepDistance))
}

// equirectangularDistance approximates the distance between two points in
// meters. Not Haversine: the flat-earth approximation is what the rest of
// the product uses and is fine at city scale.
func equirectangularDistance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * 111000
	dLng := (lng2 - lng1) * 111000 * math.Cos(lat1*math.Pi/180)
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

// TrackingState returns the controller's current mode
func (c *Client) TrackingState() TrackingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trackingState
}

// StartTracking begins live GPS tracking: announce to the transport, then
// forward every position reading as a locationUpdate. A stream error
// surfaces its classified message and drops the controller back to idle.
func (c *Client) StartTracking() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Source == nil {
		c.status(StatusGeolocationError, "❌ "+ErrUnsupportedEnvironment.Error())
		return ErrUnsupportedEnvironment
	}
	if c.trackingState != TrackingIdle {
		return c.validationFailure("tracking is already active")
	}

	c.emit(models.EventStartTracking, models.TrackingPayload{UserID: c.userID})

	cancel, err := c.cfg.Source.Watch(c.handlePosition, c.handlePositionError)
	if err != nil {
		c.emit(models.EventStopTracking, models.TrackingPayload{UserID: c.userID})
		c.status(StatusGeolocationError, "❌ "+err.Error())
		return err
	}

	c.cancelWatch = cancel
	c.trackingState = TrackingLive
	c.persistTrackingFlagsLocked()
	return nil
}

// StopTracking unconditionally tears down any active position subscription
// or simulation loop. Calling it while idle is a no-op. Stopping does not
// revoke existing share grants; peers keep their last known location.
func (c *Client) StopTracking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTrackingLocked()
}

func (c *Client) stopTrackingLocked() {
	if c.trackingState == TrackingIdle && c.cancelWatch == nil && c.simStop == nil {
		return
	}

	c.stopProducersLocked()
	c.emit(models.EventStopTracking, models.TrackingPayload{UserID: c.userID})
	c.trackingState = TrackingIdle
	c.currentLocation = nil
	c.purgeLocationsLocked(c.userID)
	c.persistTrackingFlagsLocked()
	if c.store != nil {
		c.store.Delete(statestore.KeyCurrentLocation)
	}
}

// stopProducersLocked releases the watch and the simulation loop without
// touching any other state. Safe to call on every exit path.
func (c *Client) stopProducersLocked() {
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
	if c.simStop != nil {
		close(c.simStop)
		c.simStop = nil
	}
}

// StartSimulation walks a straight line between the configured endpoints at
// walking speed, one position per update interval with a little jitter, and
// stops itself after the computed number of steps.
func (c *Client) StartSimulation() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.trackingState != TrackingIdle {
		return c.validationFailure("tracking is already active")
	}

	sim := c.cfg.Simulation
	totalSteps := sim.Steps()
	if totalSteps < 1 {
		return c.validationFailure("simulation endpoints are too close")
	}

	c.emit(models.EventStartTracking, models.TrackingPayload{UserID: c.userID})
	c.trackingState = TrackingSimulating
	c.persistTrackingFlagsLocked()

	// First position goes out immediately, the rest from the loop
	c.producePositionLocked(sim.StartLat, sim.StartLng)

	stop := make(chan struct{})
	c.simStop = stop

	go func() {
		ticker := time.NewTicker(sim.UpdateInterval)
		defer ticker.Stop()

		step := 0
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}

			step++

			c.mu.Lock()
			if c.simStop != stop {
				// A concurrent stop won the race
				c.mu.Unlock()
				return
			}

			if step >= totalSteps {
				c.simStop = nil // the loop is already exiting
				c.stopTrackingLocked()
				c.mu.Unlock()
				return
			}

			progress := float64(step) / float64(totalSteps)
			lat := sim.StartLat + (sim.EndLat-sim.StartLat)*progress
			lng := sim.StartLng + (sim.EndLng-sim.StartLng)*progress
			if sim.Jitter > 0 {
				lat += (sim.rng.Float64() - 0.5) * sim.Jitter
				lng += (sim.rng.Float64() - 0.5) * sim.Jitter
			}
			c.producePositionLocked(lat, lng)
			c.mu.Unlock()
		}
	}()

	return nil
}

// producePositionLocked emits one of this client's own position updates and
// records it as the current location
func (c *Client) producePositionLocked(lat, lng float64) {
	c.emit(models.EventLocationUpdate, models.LocationUpdatePayload{
		UserID: c.userID,
		Lat:    lat,
		Lng:    lng,
	})
	loc := models.LatLng{Lat: lat, Lng: lng}
	c.currentLocation = &loc
	if c.store != nil {
		c.store.SetJSON(statestore.KeyCurrentLocation, loc)
	}
}

func (c *Client) handlePosition(pos Position) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.trackingState != TrackingLive {
		// Stale callback after teardown
		return
	}
	c.producePositionLocked(pos.Lat, pos.Lng)
}

func (c *Client) handlePositionError(gerr *GeolocationError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.trackingState != TrackingLive {
		return
	}

	c.status(StatusGeolocationError, "❌ "+gerr.Error())
	c.stopTrackingLocked()
}

func (c *Client) persistTrackingFlagsLocked() {
	if c.store == nil {
		return
	}
	c.store.SetBool(statestore.KeyIsTracking, c.trackingState != TrackingIdle)
	c.store.SetBool(statestore.KeyIsSimulating, c.trackingState == TrackingSimulating)
}
