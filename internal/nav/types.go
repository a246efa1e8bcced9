package nav

import (
	"fmt"
	"time"
)

// Coordinate is a single position fix or path vertex.
type Coordinate struct {
	Lat      float64  `json:"lat" yaml:"lat"`
	Lng      float64  `json:"lng" yaml:"lng"`
	Heading  *float64 `json:"heading,omitempty" yaml:"heading,omitempty"`   // degrees 0..360
	Speed    *float64 `json:"speed,omitempty" yaml:"speed,omitempty"`       // m/s
	Accuracy *float64 `json:"accuracy,omitempty" yaml:"accuracy,omitempty"` // meters
}

// SpeedMps returns the sample speed, 0 when unknown.
func (c Coordinate) SpeedMps() float64 {
	if c.Speed == nil || *c.Speed < 0 {
		return 0
	}
	return *c.Speed
}

type Category int

const (
	SpeedLimit Category = iota
	LaneGuidance
	VoiceTip
	TurnText
	SteepHill
	HighwayEntry
	DangerZone
)

var categoryNames = [...]string{
	SpeedLimit:   "speed_limit",
	LaneGuidance: "lane_assist",
	VoiceTip:     "voice_tip",
	TurnText:     "turn_text",
	SteepHill:    "steep_hill",
	HighwayEntry: "highway_entry",
	DangerZone:   "danger_zone",
}

func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Protective reports whether events of this category can be muted by the
// driver's extended protection preference.
func (c Category) Protective() bool {
	return c == SteepHill || c == HighwayEntry || c == DangerZone
}

type Direction string

const (
	Straight   Direction = "straight"
	Left       Direction = "left"
	Right      Direction = "right"
	MergeLeft  Direction = "merge-left"
	MergeRight Direction = "merge-right"
)

// LaneAssist is the payload of a lane guidance event.
type LaneAssist struct {
	TotalLanes       int       `json:"totalLanes"`
	RecommendedLanes []int     `json:"recommendedLanes"` // 0-indexed
	TurnDirection    Direction `json:"turnDirection"`
	DistanceToAction float64   `json:"distanceToAction"` // display hint, meters
}

func (l LaneAssist) Validate() error {
	if l.TotalLanes < 1 {
		return fmt.Errorf("lane assist: total lanes %d < 1", l.TotalLanes)
	}
	switch l.TurnDirection {
	case Straight, Left, Right, MergeLeft, MergeRight:
	default:
		return fmt.Errorf("lane assist: unknown turn direction %q", l.TurnDirection)
	}
	for _, i := range l.RecommendedLanes {
		if i < 0 || i >= l.TotalLanes {
			return fmt.Errorf("lane assist: lane %d outside [0,%d)", i, l.TotalLanes)
		}
	}
	return nil
}

// RouteEvent is a fact anchored to a distance along the route. Which payload
// field is meaningful depends on Category: Text for turn instructions and
// hazard labels, SpeedLimitKmh for speed limits, Lane for lane guidance.
type RouteEvent struct {
	DistanceFromStart float64     `json:"distanceFromStart"`
	Category          Category    `json:"category"`
	Text              string      `json:"text,omitempty"`
	SpeedLimitKmh     int         `json:"speedLimitKmh,omitempty"`
	Lane              *LaneAssist `json:"lane,omitempty"`
	SpokenText        string      `json:"spokenText,omitempty"`
}

// ManeuverStep is one raw step as returned by a routing provider.
type ManeuverStep struct {
	Type     string  `json:"type" yaml:"type"`
	Modifier string  `json:"modifier,omitempty" yaml:"modifier,omitempty"`
	Name     string  `json:"name" yaml:"name"`
	Distance float64 `json:"distance" yaml:"distance"` // meters
}

// Route is a planned path plus its compiled event timeline.
type Route struct {
	ID                  string         `json:"id"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	Difficulty          string         `json:"difficulty"`
	TotalDistanceMeters float64        `json:"totalDistanceMeters"`
	Path                []Coordinate   `json:"path"`
	Events              []RouteEvent   `json:"events"`
	Steps               []ManeuverStep `json:"steps,omitempty"`
	Fallback            bool           `json:"fallback,omitempty"` // degenerate direct route
}

type Status int

const (
	Idle Status = iota
	Recalculating
	Navigating
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recalculating:
		return "recalculating"
	case Navigating:
		return "navigating"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// DefaultSpeedLimitKmh is shown until a speed limit event is reached.
const DefaultSpeedLimitKmh = 60

// TripState is the display-facing state of one trip.
type TripState struct {
	Status                  Status      `json:"status"`
	Destination             string      `json:"destination,omitempty"`
	TotalDistanceMeters     float64     `json:"totalDistanceMeters"`
	DistanceTraveledMeters  float64     `json:"distanceTraveledMeters"`
	DistanceRemainingMeters float64     `json:"distanceRemainingMeters"`
	ETA                     time.Time   `json:"eta,omitempty"`
	ETAText                 string      `json:"etaText,omitempty"`
	RemainingDistanceText   string      `json:"remainingDistanceText,omitempty"`
	RemainingTimeText       string      `json:"remainingTimeText,omitempty"`
	CurrentSpeedKmh         int         `json:"currentSpeedKmh"`
	SpeedLimitKmh           int         `json:"speedLimitKmh"`
	NextTurnInstruction     string      `json:"nextTurnInstruction,omitempty"`
	LaneAssist              *LaneAssist `json:"laneAssist,omitempty"`
	CurrentEvent            *RouteEvent `json:"currentEvent,omitempty"`
}

// DefaultTripState is the state of an engine with no trip.
func DefaultTripState() TripState {
	return TripState{Status: Idle, SpeedLimitKmh: DefaultSpeedLimitKmh}
}

// TripSummary is handed to the history store when a trip completes.
type TripSummary struct {
	ID               string    `json:"id"`
	DestinationLabel string    `json:"destination"`
	DateText         string    `json:"date"`
	DurationText     string    `json:"duration"`
	DistanceText     string    `json:"distance"`
	Score            float64   `json:"score"`
	CompletedAt      time.Time `json:"completedAt"`
}
