// Package timeline compiles raw routing maneuver steps into a sorted list of
// distance-anchored route events.
package timeline

import (
	"math"
	"sort"
	"strings"

	"drive-ally/internal/nav"
)

const (
	turnLead     = 150.0
	laneLead     = 300.0
	hazardLead   = 100.0
	dangerLead   = 200.0
	highwayDedup = 2000.0

	laneCount      = 3
	laneActionHint = 200.0
)

const (
	steepHillLabel  = "Steep climb"
	steepHillSpoken = "Caution, steep climb ahead. Shift down and keep your distance."
	highwayLabel    = "Entering highway"
	highwaySpoken   = "Entering a fast road. Speed up to match the flow and use your signal."
	dangerLabel     = "Caution: roundabout"
	dangerSpoken    = "Roundabout ahead. Traffic already in the roundabout has priority."
)

// Compiler turns maneuver steps into a route event timeline. The zero value
// is not usable; use New or Compile.
type Compiler struct {
	Classifier    Classifier
	SpeedLimitKmh int // placeholder limit emitted at the start of every route
}

func New(c Classifier) *Compiler {
	if c == nil {
		c = DefaultKeywords()
	}
	return &Compiler{Classifier: c, SpeedLimitKmh: nav.DefaultSpeedLimitKmh}
}

// Compile runs the default compiler.
func Compile(steps []nav.ManeuverStep) []nav.RouteEvent {
	return New(nil).Compile(steps)
}

// Compile never fails: malformed steps produce no events.
func (c *Compiler) Compile(steps []nav.ManeuverStep) []nav.RouteEvent {
	events := []nav.RouteEvent{{
		DistanceFromStart: 0,
		Category:          nav.SpeedLimit,
		SpeedLimitKmh:     c.SpeedLimitKmh,
	}}

	acc := 0.0
	for _, step := range steps {
		if !validDistance(step.Distance) {
			continue
		}
		events = c.appendManeuver(events, step, acc)
		events = c.appendHazards(events, step, acc)
		acc += step.Distance
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].DistanceFromStart < events[j].DistanceFromStart
	})
	return events
}

func (c *Compiler) appendManeuver(events []nav.RouteEvent, step nav.ManeuverStep, acc float64) []nav.RouteEvent {
	text := instruction(step)
	if text == "" {
		return events
	}
	events = append(events, nav.RouteEvent{
		DistanceFromStart: anchor(acc, turnLead),
		Category:          nav.TurnText,
		Text:              text,
		SpokenText:        text,
	})
	if !isTurnOrMerge(step.Type) || step.Modifier == "" {
		return events
	}
	mod := strings.ToLower(step.Modifier)
	lanes := []int{laneCount - 1}
	if strings.Contains(mod, "left") {
		lanes = []int{0}
	}
	return append(events, nav.RouteEvent{
		DistanceFromStart: anchor(acc, laneLead),
		Category:          nav.LaneGuidance,
		Lane: &nav.LaneAssist{
			TotalLanes:       laneCount,
			RecommendedLanes: lanes,
			TurnDirection:    direction(step.Type, mod),
			DistanceToAction: laneActionHint,
		},
	})
}

func (c *Compiler) appendHazards(events []nav.RouteEvent, step nav.ManeuverStep, acc float64) []nav.RouteEvent {
	var h Hazards
	if c.Classifier != nil {
		h = c.Classifier.Classify(step)
	}
	at := anchor(acc, hazardLead)
	if h.SteepGrade {
		events = append(events, nav.RouteEvent{
			DistanceFromStart: at,
			Category:          nav.SteepHill,
			Text:              steepHillLabel,
			SpokenText:        steepHillSpoken,
		})
	}
	if h.Highway && !highwayWarned(events, at) {
		events = append(events, nav.RouteEvent{
			DistanceFromStart: at,
			Category:          nav.HighwayEntry,
			Text:              highwayLabel,
			SpokenText:        highwaySpoken,
		})
	}
	if strings.EqualFold(step.Type, "roundabout") {
		events = append(events, nav.RouteEvent{
			DistanceFromStart: anchor(acc, dangerLead),
			Category:          nav.DangerZone,
			Text:              dangerLabel,
			SpokenText:        dangerSpoken,
		})
	}
	return events
}

// instruction derives the short turn text for a step, empty when the step
// carries no announceable maneuver.
func instruction(step nav.ManeuverStep) string {
	mod := strings.ToLower(step.Modifier)
	switch strings.ToLower(step.Type) {
	case "turn", "merge":
		switch {
		case strings.Contains(mod, "slight left"):
			return "Keep left"
		case strings.Contains(mod, "slight right"):
			return "Keep right"
		case strings.Contains(mod, "left"):
			return "Turn left"
		case strings.Contains(mod, "right"):
			return "Turn right"
		}
	case "roundabout":
		return "At the roundabout, take the exit"
	case "arrive":
		return "You have arrived"
	}
	return ""
}

func direction(stepType, mod string) nav.Direction {
	left := strings.Contains(mod, "left")
	if strings.EqualFold(stepType, "merge") {
		if left {
			return nav.MergeLeft
		}
		return nav.MergeRight
	}
	if left {
		return nav.Left
	}
	return nav.Right
}

func isTurnOrMerge(t string) bool {
	return strings.EqualFold(t, "turn") || strings.EqualFold(t, "merge")
}

func highwayWarned(events []nav.RouteEvent, at float64) bool {
	for _, e := range events {
		if e.Category == nav.HighwayEntry && math.Abs(e.DistanceFromStart-at) < highwayDedup {
			return true
		}
	}
	return false
}

func anchor(acc, lead float64) float64 { return math.Max(0, acc-lead) }

func validDistance(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d >= 0
}
