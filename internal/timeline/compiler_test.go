package timeline

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"drive-ally/internal/nav"
)

func byCategory(events []nav.RouteEvent, c nav.Category) []nav.RouteEvent {
	var out []nav.RouteEvent
	for _, e := range events {
		if e.Category == c {
			out = append(out, e)
		}
	}
	return out
}

func TestCompileEmptyYieldsOnlySpeedLimit(t *testing.T) {
	events := Compile(nil)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Category != nav.SpeedLimit || events[0].DistanceFromStart != 0 {
		t.Fatalf("unexpected event: %+v", events[0])
	}
	if events[0].SpeedLimitKmh != nav.DefaultSpeedLimitKmh {
		t.Fatalf("speed limit = %d", events[0].SpeedLimitKmh)
	}
}

func TestCompileTurnLeftAtStart(t *testing.T) {
	events := Compile([]nav.ManeuverStep{{Type: "turn", Modifier: "left", Name: "Rua A", Distance: 500}})

	turns := byCategory(events, nav.TurnText)
	if len(turns) != 1 {
		t.Fatalf("got %d turn events, want 1", len(turns))
	}
	if turns[0].DistanceFromStart != 0 || turns[0].Text != "Turn left" || turns[0].SpokenText != "Turn left" {
		t.Fatalf("unexpected turn event: %+v", turns[0])
	}

	lanes := byCategory(events, nav.LaneGuidance)
	if len(lanes) != 1 {
		t.Fatalf("got %d lane events, want 1", len(lanes))
	}
	l := lanes[0]
	if l.DistanceFromStart != 0 || l.Lane == nil {
		t.Fatalf("unexpected lane event: %+v", l)
	}
	if len(l.Lane.RecommendedLanes) != 1 || l.Lane.RecommendedLanes[0] != 0 {
		t.Errorf("recommended lanes = %v, want [0]", l.Lane.RecommendedLanes)
	}
	if l.Lane.TurnDirection != nav.Left || l.Lane.TotalLanes != 3 || l.Lane.DistanceToAction != 200 {
		t.Errorf("unexpected lane payload: %+v", *l.Lane)
	}
	if err := l.Lane.Validate(); err != nil {
		t.Errorf("lane payload invalid: %v", err)
	}
	if events[0].Category != nav.SpeedLimit {
		t.Errorf("speed limit should lead ties at 0, got %s first", events[0].Category)
	}
}

func TestCompileAnchorsBeforeManeuver(t *testing.T) {
	steps := []nav.ManeuverStep{
		{Type: "depart", Name: "Rua A", Distance: 1000},
		{Type: "turn", Modifier: "right", Name: "Rua B", Distance: 400},
	}
	events := Compile(steps)
	turn := byCategory(events, nav.TurnText)[0]
	if turn.DistanceFromStart != 850 || turn.Text != "Turn right" {
		t.Errorf("turn event = %+v, want Turn right at 850", turn)
	}
	lane := byCategory(events, nav.LaneGuidance)[0]
	if lane.DistanceFromStart != 700 || lane.Lane.RecommendedLanes[0] != 2 || lane.Lane.TurnDirection != nav.Right {
		t.Errorf("lane event = %+v, want rightmost lane at 700", lane)
	}
}

func TestCompileInstructions(t *testing.T) {
	cases := []struct {
		step nav.ManeuverStep
		want string
	}{
		{nav.ManeuverStep{Type: "turn", Modifier: "slight left"}, "Keep left"},
		{nav.ManeuverStep{Type: "turn", Modifier: "slight right"}, "Keep right"},
		{nav.ManeuverStep{Type: "turn", Modifier: "sharp left"}, "Turn left"},
		{nav.ManeuverStep{Type: "merge", Modifier: "right"}, "Turn right"},
		{nav.ManeuverStep{Type: "roundabout", Modifier: "right"}, "At the roundabout, take the exit"},
		{nav.ManeuverStep{Type: "arrive"}, "You have arrived"},
		{nav.ManeuverStep{Type: "turn", Modifier: "straight"}, ""},
		{nav.ManeuverStep{Type: "turn"}, ""},
		{nav.ManeuverStep{Type: "depart", Modifier: "left"}, ""},
	}
	for _, tc := range cases {
		if got := instruction(tc.step); got != tc.want {
			t.Errorf("instruction(%+v) = %q, want %q", tc.step, got, tc.want)
		}
	}
}

func TestCompileMergeDirection(t *testing.T) {
	events := Compile([]nav.ManeuverStep{{Type: "merge", Modifier: "slight left", Distance: 10}})
	lane := byCategory(events, nav.LaneGuidance)
	if len(lane) != 1 || lane[0].Lane.TurnDirection != nav.MergeLeft {
		t.Fatalf("expected merge-left lane guidance, got %+v", lane)
	}
}

func TestCompileRoundaboutNoLaneButDanger(t *testing.T) {
	steps := []nav.ManeuverStep{
		{Type: "depart", Distance: 500},
		{Type: "roundabout", Modifier: "right", Name: "Praça Sete", Distance: 100},
	}
	events := Compile(steps)
	if n := len(byCategory(events, nav.LaneGuidance)); n != 0 {
		t.Errorf("roundabout produced %d lane events", n)
	}
	danger := byCategory(events, nav.DangerZone)
	if len(danger) != 1 || danger[0].DistanceFromStart != 300 || danger[0].SpokenText == "" {
		t.Fatalf("danger events = %+v, want one at 300", danger)
	}
	turn := byCategory(events, nav.TurnText)
	if len(turn) != 1 || turn[0].DistanceFromStart != 350 {
		t.Fatalf("turn events = %+v, want one at 350", turn)
	}
}

func TestCompileSteepHill(t *testing.T) {
	steps := []nav.ManeuverStep{
		{Type: "depart", Name: "Avenida", Distance: 50},
		{Type: "continue", Name: "Rua do MORRO Alto", Distance: 300},
	}
	hills := byCategory(Compile(steps), nav.SteepHill)
	if len(hills) != 1 {
		t.Fatalf("got %d steep hill events, want 1", len(hills))
	}
	if hills[0].DistanceFromStart != 0 {
		t.Errorf("hill anchor = %v, want clamp to 0", hills[0].DistanceFromStart)
	}
}

func TestCompileHighwayDedup(t *testing.T) {
	nearby := []nav.ManeuverStep{
		{Type: "depart", Name: "Rua", Distance: 1000},
		{Type: "continue", Name: "BR-040", Distance: 1500},
		{Type: "continue", Name: "Rodovia BR-040", Distance: 1000},
	}
	if n := len(byCategory(Compile(nearby), nav.HighwayEntry)); n != 1 {
		t.Errorf("anchors 1500 m apart: got %d highway events, want 1", n)
	}

	far := []nav.ManeuverStep{
		{Type: "depart", Name: "Rua", Distance: 1000},
		{Type: "continue", Name: "BR-040", Distance: 2500},
		{Type: "continue", Name: "Anel Rodoviário", Distance: 1000},
	}
	got := byCategory(Compile(far), nav.HighwayEntry)
	if len(got) != 2 {
		t.Fatalf("anchors 2500 m apart: got %d highway events, want 2", len(got))
	}
	if got[0].DistanceFromStart != 900 || got[1].DistanceFromStart != 3400 {
		t.Errorf("anchors = %v, %v", got[0].DistanceFromStart, got[1].DistanceFromStart)
	}
}

func TestCompileSortedAndNonNegative(t *testing.T) {
	steps := []nav.ManeuverStep{
		{Type: "depart", Name: "Ladeira", Distance: 120},
		{Type: "turn", Modifier: "left", Name: "Highway 1", Distance: 80},
		{Type: "roundabout", Name: "Serra", Distance: 700},
		{Type: "merge", Modifier: "right", Name: "Expressway", Distance: 2600},
		{Type: "turn", Modifier: "slight right", Name: "Alto da Boa Vista", Distance: 50},
		{Type: "arrive", Name: "", Distance: 0},
	}
	events := Compile(steps)
	for i, e := range events {
		if e.DistanceFromStart < 0 {
			t.Errorf("event %d has negative distance %v", i, e.DistanceFromStart)
		}
		if i > 0 && events[i-1].DistanceFromStart > e.DistanceFromStart {
			t.Errorf("events not sorted at %d: %v > %v", i, events[i-1].DistanceFromStart, e.DistanceFromStart)
		}
	}
}

func TestCompileSkipsMalformedSteps(t *testing.T) {
	steps := []nav.ManeuverStep{
		{Type: "turn", Modifier: "left", Name: "Ladeira", Distance: math.NaN()},
		{Type: "turn", Modifier: "right", Name: "Rua", Distance: -10},
		{},
		{Type: "turn", Modifier: "left", Name: "Rua C", Distance: 400},
	}
	events := Compile(steps)
	if n := len(events); n != 3 {
		t.Fatalf("got %d events, want speed limit + turn + lane: %+v", n, events)
	}
	if len(byCategory(events, nav.SteepHill)) != 0 {
		t.Error("malformed step produced a hazard event")
	}
	turn := byCategory(events, nav.TurnText)[0]
	if turn.Text != "Turn left" || turn.DistanceFromStart != 0 {
		t.Errorf("malformed steps should not advance distance, got %+v", turn)
	}
}

func TestCompileStableTies(t *testing.T) {
	// Everything anchors to 0: insertion order must be preserved.
	steps := []nav.ManeuverStep{{Type: "turn", Modifier: "left", Name: "Ladeira da Rodovia", Distance: 10}}
	events := Compile(steps)
	want := []nav.Category{nav.SpeedLimit, nav.TurnText, nav.LaneGuidance, nav.SteepHill, nav.HighwayEntry}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, c := range want {
		if events[i].Category != c {
			t.Errorf("events[%d] = %s, want %s", i, events[i].Category, c)
		}
	}
}

type stubClassifier struct{ hill bool }

func (s stubClassifier) Classify(nav.ManeuverStep) Hazards { return Hazards{SteepGrade: s.hill} }

func TestCompilerUsesClassifier(t *testing.T) {
	c := New(stubClassifier{hill: true})
	c.SpeedLimitKmh = 40
	events := c.Compile([]nav.ManeuverStep{{Type: "depart", Name: "Anything", Distance: 10}})
	if len(byCategory(events, nav.SteepHill)) != 1 {
		t.Error("custom classifier not consulted")
	}
	if events[0].SpeedLimitKmh != 40 {
		t.Errorf("speed limit = %d, want 40", events[0].SpeedLimitKmh)
	}
}

func TestLoadKeywords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keywords.yaml")
	if err := os.WriteFile(path, []byte("steep_grade:\n  - Cuesta\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	k, err := LoadKeywords(path)
	if err != nil {
		t.Fatalf("LoadKeywords: %v", err)
	}
	if !k.Classify(nav.ManeuverStep{Name: "Calle de la cuesta"}).SteepGrade {
		t.Error("custom steep keyword not matched")
	}
	if !k.Classify(nav.ManeuverStep{Name: "Interstate Highway"}).Highway {
		t.Error("highway defaults should be kept when list omitted")
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("highway:\n  - \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadKeywords(bad); err == nil {
		t.Error("empty keyword should fail validation")
	}
	if _, err := LoadKeywords(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file should error")
	}
}
