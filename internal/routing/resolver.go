package routing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"drive-ally/internal/geo"
	"drive-ally/internal/nav"
	"drive-ally/internal/timeline"
)

const (
	FallbackID          = "fallback"
	fallbackDescription = "Direct route (offline)"
	fallbackDistance    = 500.0 // meters, nominal
)

var ErrBadCoordinate = errors.New("coordinate is not finite")

// Resolver asks the provider for a route and degrades to a direct line when
// the provider fails, so a trip can always start.
type Resolver struct {
	provider Provider
	compiler *timeline.Compiler
}

func NewResolver(p Provider, compiler *timeline.Compiler) *Resolver {
	if compiler == nil {
		compiler = timeline.New(nil)
	}
	return &Resolver{provider: p, compiler: compiler}
}

func (r *Resolver) Resolve(ctx context.Context, origin, dest nav.Coordinate, label string) (nav.Route, error) {
	if r.provider != nil {
		route, err := r.provider.Route(ctx, origin, dest, label)
		if err == nil {
			return route, nil
		}
		if ctx.Err() != nil {
			return nav.Route{}, ctx.Err()
		}
		log.Printf("[routing] provider failed, using direct route: %v", err)
	}
	return r.Fallback(origin, dest, label)
}

// Fallback builds the degenerate two-point route. Its events carry only the
// placeholder speed limit.
func (r *Resolver) Fallback(origin, dest nav.Coordinate, label string) (nav.Route, error) {
	if !geo.Finite(origin) || !geo.Finite(dest) {
		return nav.Route{}, fmt.Errorf("fallback route: %w", ErrBadCoordinate)
	}
	return nav.Route{
		ID:                  FallbackID,
		Title:               label,
		Description:         fallbackDescription,
		TotalDistanceMeters: fallbackDistance,
		Path:                []nav.Coordinate{{Lat: origin.Lat, Lng: origin.Lng}, {Lat: dest.Lat, Lng: dest.Lng}},
		Events:              r.compiler.Compile(nil),
		Fallback:            true,
	}, nil
}
