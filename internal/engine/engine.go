// Package engine tracks one trip at a time: it owns the active route, the
// triggered state of its events and the trip state machine, and turns
// position samples into progress, ETA and spoken guidance.
package engine

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"drive-ally/internal/geo"
	"drive-ally/internal/nav"
)

var (
	ErrInvalidTransition = errors.New("invalid trip state transition")
	ErrEmptyPath         = errors.New("route has no path")
	ErrInvalidEvent      = errors.New("route has an invalid event")
)

const (
	arrivalRadius   = 50.0 // meters
	minEtaSpeedMps  = 4.1  // ~15 km/h
	completedScore  = 5.0
	completedPoints = 50
)

const (
	msgArrived   = "You have arrived at your destination. Congratulations!"
	msgCancelled = "Route cancelled."
	msgRestart   = "Restarting route."
	msgFailed    = "Could not calculate the route."
)

// Speaker renders short texts to the driver. Calls must not block.
type Speaker interface {
	Speak(text string)
}

// Preferences is read each time a protective event is reached.
type Preferences interface {
	ExtendedProtection() bool
}

// Recorder receives completed trips. Calls must not block.
type Recorder interface {
	TripCompleted(summary nav.TripSummary)
	AwardPoints(delta int)
}

// Observer is notified of engine activity, mainly for metrics and the bus.
type Observer interface {
	StatusChanged(status nav.Status)
	EventConsumed(ev nav.RouteEvent, announced bool)
	TripEnded(completed bool)
}

// Observers fans notifications out to several observers in order.
type Observers []Observer

func (obs Observers) StatusChanged(s nav.Status) {
	for _, o := range obs {
		o.StatusChanged(s)
	}
}

func (obs Observers) EventConsumed(ev nav.RouteEvent, announced bool) {
	for _, o := range obs {
		o.EventConsumed(ev, announced)
	}
}

func (obs Observers) TripEnded(completed bool) {
	for _, o := range obs {
		o.TripEnded(completed)
	}
}

// Toggle is a concurrency-safe Preferences value.
type Toggle struct{ on atomic.Bool }

func NewToggle(on bool) *Toggle {
	t := &Toggle{}
	t.on.Store(on)
	return t
}

func (t *Toggle) ExtendedProtection() bool { return t.on.Load() }
func (t *Toggle) Set(on bool)              { t.on.Store(on) }

type Options struct {
	Speaker     Speaker
	Preferences Preferences
	Recorder    Recorder
	Observer    Observer
	Now         func() time.Time
	Location    *time.Location // zone for date and ETA texts
}

// Engine is not safe for concurrent use; Session serializes access to it.
type Engine struct {
	opts Options

	state     nav.TripState
	route     *nav.Route
	cum       []float64
	triggered []bool
	startedAt time.Time

	lastSpoken string
}

func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Engine{opts: opts, state: nav.DefaultTripState()}
}

func (e *Engine) Status() nav.Status { return e.state.Status }

// State returns a copy of the trip state.
func (e *Engine) State() nav.TripState {
	s := e.state
	if s.LaneAssist != nil {
		l := *s.LaneAssist
		l.RecommendedLanes = append([]int(nil), l.RecommendedLanes...)
		s.LaneAssist = &l
	}
	if s.CurrentEvent != nil {
		ev := *s.CurrentEvent
		s.CurrentEvent = &ev
	}
	return s
}

// ActiveRoute returns a copy of the active route and of its triggered bits.
func (e *Engine) ActiveRoute() (nav.Route, []bool, bool) {
	if e.route == nil {
		return nav.Route{}, nil, false
	}
	r := *e.route
	r.Path = append([]nav.Coordinate(nil), r.Path...)
	r.Events = append([]nav.RouteEvent(nil), r.Events...)
	r.Steps = append([]nav.ManeuverStep(nil), r.Steps...)
	return r, append([]bool(nil), e.triggered...), true
}

// Begin moves Idle -> Recalculating for a trip to destination.
func (e *Engine) Begin(destination string) error {
	if e.state.Status != nav.Idle {
		return e.invalid("begin")
	}
	e.state.Destination = destination
	e.setStatus(nav.Recalculating)
	return nil
}

// Activate makes route the active route and moves Recalculating ->
// Navigating. The route is copied; the caller keeps ownership of its value.
func (e *Engine) Activate(route nav.Route) error {
	if e.state.Status != nav.Recalculating {
		return e.invalid("activate")
	}
	if len(route.Path) == 0 {
		return ErrEmptyPath
	}
	for i, ev := range route.Events {
		if ev.Lane == nil {
			continue
		}
		if err := ev.Lane.Validate(); err != nil {
			return fmt.Errorf("%w: event %d: %v", ErrInvalidEvent, i, err)
		}
	}
	r := route
	r.Path = append([]nav.Coordinate(nil), route.Path...)
	r.Events = append([]nav.RouteEvent(nil), route.Events...)
	sort.SliceStable(r.Events, func(i, j int) bool {
		return r.Events[i].DistanceFromStart < r.Events[j].DistanceFromStart
	})

	e.route = &r
	e.cum = geo.CumDistances(r.Path)
	e.triggered = make([]bool, len(r.Events))
	e.startedAt = e.opts.Now()

	e.state.Destination = r.Title
	e.state.TotalDistanceMeters = r.TotalDistanceMeters
	e.state.DistanceTraveledMeters = 0
	e.state.DistanceRemainingMeters = r.TotalDistanceMeters
	e.setStatus(nav.Navigating)
	e.Announce(fmt.Sprintf("Starting route to %s.", r.Title))
	log.Printf("[engine] navigating %q: %d points, %d events, %.0fm (fallback=%v)",
		r.Title, len(r.Path), len(r.Events), r.TotalDistanceMeters, r.Fallback)
	return nil
}

// Fail moves Recalculating -> Idle after a routing failure.
func (e *Engine) Fail() error {
	if e.state.Status != nav.Recalculating {
		return e.invalid("fail")
	}
	e.reset()
	e.Announce(msgFailed)
	return nil
}

// Update runs the per-sample pipeline. It reports whether the sample was
// applied; samples outside Navigating are ignored.
func (e *Engine) Update(sample nav.Coordinate) bool {
	if e.state.Status != nav.Navigating || e.route == nil {
		return false
	}
	path := e.route.Path
	speed := sample.SpeedMps()
	e.state.CurrentSpeedKmh = int(math.Round(speed * 3.6))

	idx, _ := geo.NearestVertex(path, sample)
	if idx < 0 {
		return false
	}
	traveled := math.Max(e.cum[idx], e.state.DistanceTraveledMeters)
	remaining := e.route.TotalDistanceMeters - traveled

	if remaining < arrivalRadius && idx >= len(path)-2 {
		if err := e.Stop(true); err != nil {
			log.Printf("[engine] arrival stop: %v", err)
		}
		return true
	}

	now := e.opts.Now()
	secs := RemainingSeconds(remaining, speed)
	e.state.DistanceTraveledMeters = traveled
	e.state.DistanceRemainingMeters = remaining
	e.state.ETA = now.Add(time.Duration(secs * float64(time.Second)))
	e.state.ETAText = e.state.ETA.In(e.opts.Location).Format("15:04")
	e.state.RemainingDistanceText = FormatDistance(remaining)
	e.state.RemainingTimeText = FormatMinutes(secs)

	e.consume(traveled)
	return true
}

func (e *Engine) consume(traveled float64) {
	for i, ev := range e.route.Events {
		if e.triggered[i] || ev.DistanceFromStart > traveled {
			continue
		}
		e.triggered[i] = true
		if ev.Category.Protective() && !e.extendedProtection() {
			e.observe(func(o Observer) { o.EventConsumed(ev, false) })
			continue
		}
		shown := ev
		e.state.CurrentEvent = &shown
		e.Announce(ev.SpokenText)
		switch ev.Category {
		case nav.SpeedLimit:
			e.state.SpeedLimitKmh = ev.SpeedLimitKmh
		case nav.LaneGuidance:
			e.state.LaneAssist = ev.Lane
			e.state.NextTurnInstruction = ""
		case nav.TurnText:
			e.state.NextTurnInstruction = ev.Text
			e.state.LaneAssist = nil
		}
		e.observe(func(o Observer) { o.EventConsumed(ev, true) })
	}
}

// Stop ends the trip. completed is only honoured while Navigating; a stop
// during Recalculating is always a cancellation.
func (e *Engine) Stop(completed bool) error {
	switch e.state.Status {
	case nav.Idle:
		return e.invalid("stop")
	case nav.Recalculating:
		e.reset()
		e.Announce(msgCancelled)
		e.observe(func(o Observer) { o.TripEnded(false) })
		return nil
	}

	route := *e.route
	startedAt := e.startedAt
	e.reset()

	if !completed {
		e.Announce(msgCancelled)
		e.observe(func(o Observer) { o.TripEnded(false) })
		return nil
	}

	e.Announce(msgArrived)
	now := e.opts.Now()
	summary := nav.TripSummary{
		ID:               uuid.NewString(),
		DestinationLabel: route.Title,
		DateText:         now.In(e.opts.Location).Format("2006-01-02"),
		DurationText:     FormatDuration(now.Sub(startedAt)),
		DistanceText:     fmt.Sprintf("%.1f km", route.TotalDistanceMeters/1000),
		Score:            completedScore,
		CompletedAt:      now,
	}
	if e.opts.Recorder != nil {
		e.opts.Recorder.TripCompleted(summary)
		e.opts.Recorder.AwardPoints(completedPoints)
	}
	e.observe(func(o Observer) { o.TripEnded(true) })
	log.Printf("[engine] trip to %q completed in %s", route.Title, summary.DurationText)
	return nil
}

// Restart rewinds progress and event state of the active route. The vehicle
// is not moved, so the next sample re-derives traveled distance from the
// actual position.
func (e *Engine) Restart() error {
	if e.state.Status != nav.Navigating {
		return e.invalid("restart")
	}
	e.Announce(msgRestart)
	for i := range e.triggered {
		e.triggered[i] = false
	}
	e.state.DistanceTraveledMeters = 0
	e.state.DistanceRemainingMeters = e.route.TotalDistanceMeters
	e.state.CurrentEvent = nil
	e.state.LaneAssist = nil
	e.state.NextTurnInstruction = ""
	return nil
}

// Announce speaks text unless it repeats the previous announcement.
func (e *Engine) Announce(text string) {
	if text == "" || text == e.lastSpoken {
		return
	}
	e.lastSpoken = text
	if e.opts.Speaker != nil {
		e.opts.Speaker.Speak(text)
	}
}

func (e *Engine) reset() {
	e.route = nil
	e.cum = nil
	e.triggered = nil
	e.startedAt = time.Time{}
	e.state = nav.DefaultTripState()
	e.observe(func(o Observer) { o.StatusChanged(nav.Idle) })
}

func (e *Engine) setStatus(s nav.Status) {
	e.state.Status = s
	e.observe(func(o Observer) { o.StatusChanged(s) })
}

func (e *Engine) extendedProtection() bool {
	if e.opts.Preferences == nil {
		return true
	}
	return e.opts.Preferences.ExtendedProtection()
}

func (e *Engine) observe(fn func(Observer)) {
	if e.opts.Observer != nil {
		fn(e.opts.Observer)
	}
}

func (e *Engine) invalid(op string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, op, e.state.Status)
}
