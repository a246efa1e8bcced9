package engine

import (
	"fmt"
	"math"
	"time"
)

// RemainingSeconds estimates time to destination, flooring the speed so a
// stationary vehicle still gets a finite ETA.
func RemainingSeconds(remainingMeters, speedMps float64) float64 {
	if remainingMeters <= 0 {
		return 0
	}
	return remainingMeters / math.Max(speedMps, minEtaSpeedMps)
}

// FormatDistance renders kilometers with one decimal from 1000 m up, whole
// meters below.
func FormatDistance(meters float64) string {
	if meters < 0 {
		meters = 0
	}
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	return fmt.Sprintf("%d m", int(math.Round(meters)))
}

// FormatMinutes rounds seconds up to whole minutes.
func FormatMinutes(seconds float64) string {
	return fmt.Sprintf("%d min", int(math.Ceil(seconds/60)))
}

func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%d min", int(math.Round(d.Minutes())))
}
