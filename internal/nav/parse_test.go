package nav

import "testing"

func TestParseCoordinate(t *testing.T) {
	cases := []struct {
		in      string
		lat     float64
		lng     float64
		wantErr bool
	}{
		{"-19.9320,-43.9380", -19.932, -43.938, false},
		{" 12.9716 , 77.5946 ", 12.9716, 77.5946, false},
		{"12.9716", 0, 0, true},
		{"a,b", 0, 0, true},
		{"91,0", 0, 0, true},
	}
	for _, tc := range cases {
		c, err := ParseCoordinate(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseCoordinate(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCoordinate(%q) unexpected error: %v", tc.in, err)
			continue
		}
		if c.Lat != tc.lat || c.Lng != tc.lng {
			t.Errorf("ParseCoordinate(%q) = %v,%v, want %v,%v", tc.in, c.Lat, c.Lng, tc.lat, tc.lng)
		}
	}
}

func TestCategoryProtective(t *testing.T) {
	protective := map[Category]bool{
		SpeedLimit: false, LaneGuidance: false, VoiceTip: false, TurnText: false,
		SteepHill: true, HighwayEntry: true, DangerZone: true,
	}
	for c, want := range protective {
		if got := c.Protective(); got != want {
			t.Errorf("%s.Protective() = %v, want %v", c, got, want)
		}
	}
}

func TestLaneAssistValidate(t *testing.T) {
	ok := LaneAssist{TotalLanes: 3, RecommendedLanes: []int{0, 2}, TurnDirection: Left}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid lane assist rejected: %v", err)
	}
	if err := (LaneAssist{TotalLanes: 1, TurnDirection: Straight}).Validate(); err != nil {
		t.Fatalf("straight through a single lane rejected: %v", err)
	}
	bad := LaneAssist{TotalLanes: 3, RecommendedLanes: []int{3}, TurnDirection: Right}
	if err := bad.Validate(); err == nil {
		t.Fatal("lane index 3 of 3 should be rejected")
	}
	if err := (LaneAssist{TotalLanes: 2, TurnDirection: "sideways"}).Validate(); err == nil {
		t.Fatal("unknown direction should be rejected")
	}
	if err := (LaneAssist{}).Validate(); err == nil {
		t.Fatal("zero lanes should be rejected")
	}
}
