// Package replay drives a simulated vehicle along a route and publishes its
// position samples, for demos and end-to-end testing without a real GPS.
package replay

import (
	"context"
	"errors"
	"log"
	"time"

	"drive-ally/internal/geo"
	"drive-ally/internal/nav"
	"drive-ally/internal/publisher"
)

// Sink receives the simulated samples.
type Sink interface {
	PublishPosition(msg publisher.PositionMessage) error
}

type Metrics interface {
	ReplayObserve(speedKmh, progress float64)
}

const maneuverDwell = 3 * time.Second

var ErrNoGeometry = errors.New("route has no usable geometry")

type Player struct {
	sink            Sink
	driverID        string
	publishInterval time.Duration
	speedMultiplier float64
	cruiseKmh       float64
	metrics         Metrics
}

func NewPlayer(sink Sink, driverID string, publishInterval time.Duration, speedMultiplier, cruiseKmh float64, m Metrics) *Player {
	if publishInterval <= 0 {
		publishInterval = time.Second
	}
	if speedMultiplier <= 0 {
		speedMultiplier = 1
	}
	if cruiseKmh <= 0 {
		cruiseKmh = 40
	}
	return &Player{
		sink:            sink,
		driverID:        driverID,
		publishInterval: publishInterval,
		speedMultiplier: speedMultiplier,
		cruiseKmh:       cruiseKmh,
		metrics:         m,
	}
}

// Run publishes a sample every interval until the vehicle reaches the end
// of the route or ctx is cancelled.
func (p *Player) Run(ctx context.Context, route nav.Route) error {
	cum := geo.CumDistances(route.Path)
	if len(cum) < 2 || cum[len(cum)-1] == 0 {
		return ErrNoGeometry
	}
	totalDist := cum[len(cum)-1]

	start := time.Now()
	times, dists := buildSchedule(route.Steps, start, totalDist, p.cruiseKmh/3.6)
	end := times[len(times)-1]
	log.Printf("[replay] %q: %.0fm over %s at %.0f km/h (x%.1f)",
		route.Title, totalDist, end.Sub(start).Round(time.Second), p.cruiseKmh, p.speedMultiplier)

	tick := time.NewTicker(p.publishInterval)
	defer tick.Stop()

	lastPosTime := time.Time{}
	var last nav.Coordinate

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-tick.C:
			// Scale time progression by speedMultiplier relative to real wall-clock
			elapsed := time.Duration(float64(now.Sub(start)) * p.speedMultiplier)
			target := start.Add(elapsed)
			if target.After(end) {
				target = end
			}
			dist := interpolateDistAtTime(times, dists, target)
			pos, bearing := geo.Interpolate(route.Path, cum, dist)

			// estimate speed from the last sample, in simulated time
			speed := 0.0
			if !lastPosTime.IsZero() {
				dt := float64(now.Sub(lastPosTime)) * p.speedMultiplier / float64(time.Second)
				if dt > 0 {
					speed = geo.Haversine(last, pos) / dt
				}
			}
			lastPosTime = now
			last = pos

			progress := dist / totalDist
			msg := publisher.PositionMessage{
				DriverID:  p.driverID,
				RouteID:   route.ID,
				Timestamp: now,
				Lat:       pos.Lat,
				Lon:       pos.Lng,
				Bearing:   &bearing,
				SpeedMps:  &speed,
				Progress:  progress,
			}
			if err := p.sink.PublishPosition(msg); err != nil {
				log.Printf("[replay] publish error: %v", err)
			}
			if p.metrics != nil {
				p.metrics.ReplayObserve(speed*3.6, progress)
			}
			if !target.Before(end) {
				log.Printf("[replay] reached the end of %q", route.Title)
				return nil
			}
		}
	}
}

// buildSchedule turns maneuver steps into time/distance keyframes at constant
// cruise speed, with a short dwell at every turn-like maneuver. Step
// distances are rescaled to the geometric length of the path.
func buildSchedule(steps []nav.ManeuverStep, start time.Time, totalDist, speedMps float64) ([]time.Time, []float64) {
	times := []time.Time{start}
	dists := []float64{0}

	stepTotal := 0.0
	for _, s := range steps {
		if s.Distance > 0 {
			stepTotal += s.Distance
		}
	}
	scale := 1.0
	if stepTotal > 0 {
		scale = totalDist / stepTotal
	}

	at := start
	acc := 0.0
	travel := func(d float64) {
		if d <= 0 {
			return
		}
		acc += d
		if acc > totalDist {
			acc = totalDist
		}
		at = at.Add(time.Duration(d / speedMps * float64(time.Second)))
		times = append(times, at)
		dists = append(dists, acc)
	}

	for i, s := range steps {
		if i > 0 && dwellsAt(s.Type) {
			at = at.Add(maneuverDwell)
			times = append(times, at)
			dists = append(dists, acc)
		}
		if s.Distance > 0 {
			travel(s.Distance * scale)
		}
	}
	if acc < totalDist {
		travel(totalDist - acc)
	}
	return times, dists
}

func dwellsAt(stepType string) bool {
	switch stepType {
	case "turn", "roundabout", "rotary", "merge", "fork", "end of road":
		return true
	}
	return false
}

func interpolateDistAtTime(times []time.Time, dists []float64, at time.Time) float64 {
	n := len(times)
	if n == 0 {
		return 0
	}
	if !at.After(times[0]) {
		return dists[0]
	}
	if !at.Before(times[n-1]) {
		return dists[n-1]
	}
	// find segment i s.t. times[i] <= at < times[i+1]
	i := 0
	for i+1 < n && at.After(times[i+1]) {
		i++
	}
	if i+1 >= n {
		return dists[n-1]
	}
	dt := times[i+1].Sub(times[i])
	if dt <= 0 {
		return dists[i]
	}
	frac := float64(at.Sub(times[i])) / float64(dt)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return dists[i] + (dists[i+1]-dists[i])*frac
}
