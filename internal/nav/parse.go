package nav

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCoordinate parses "lat,lng" into a Coordinate.
func ParseCoordinate(input string) (Coordinate, error) {
	parts := strings.Split(input, ",")
	if len(parts) != 2 {
		return Coordinate{}, fmt.Errorf("invalid coordinate: %q", input)
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return Coordinate{}, fmt.Errorf("invalid lat/lng: %q", input)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return Coordinate{}, fmt.Errorf("coordinate out of range: %q", input)
	}
	return Coordinate{Lat: lat, Lng: lng}, nil
}
