// Package routing obtains routes for the engine: live ones from an OSRM
// server, a direct fallback when the server is unreachable, and curated
// training routes.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"drive-ally/internal/geo"
	"drive-ally/internal/nav"
	"drive-ally/internal/timeline"
)

var ErrNoRoute = errors.New("no route found")

const DefaultOSRMURL = "https://router.project-osrm.org"

// Provider plans a route between two points.
type Provider interface {
	Route(ctx context.Context, origin, destination nav.Coordinate, label string) (nav.Route, error)
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64           `json:"distance"`
		Duration float64           `json:"duration"`
		Geometry *geojson.Geometry `json:"geometry"`
		Legs     []struct {
			Steps []osrmStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Name     string  `json:"name"`
	Maneuver struct {
		Type     string `json:"type"`
		Modifier string `json:"modifier"`
	} `json:"maneuver"`
}

// OSRM is a Provider backed by the OSRM HTTP route service.
type OSRM struct {
	baseURL  string
	client   *http.Client
	compiler *timeline.Compiler
}

func NewOSRM(baseURL string, compiler *timeline.Compiler) *OSRM {
	if baseURL == "" {
		baseURL = DefaultOSRMURL
	}
	if compiler == nil {
		compiler = timeline.New(nil)
	}
	return &OSRM{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		compiler: compiler,
	}
}

func (o *OSRM) url(origin, dest nav.Coordinate) string {
	return fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson&steps=true",
		o.baseURL, origin.Lng, origin.Lat, dest.Lng, dest.Lat)
}

func (o *OSRM) Route(ctx context.Context, origin, dest nav.Coordinate, label string) (nav.Route, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url(origin, dest), nil)
	if err != nil {
		return nav.Route{}, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nav.Route{}, fmt.Errorf("osrm request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nav.Route{}, fmt.Errorf("osrm returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var parsed osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nav.Route{}, fmt.Errorf("decode osrm response: %w", err)
	}
	if parsed.Code != "Ok" || len(parsed.Routes) == 0 {
		return nav.Route{}, fmt.Errorf("%w: %s %s", ErrNoRoute, parsed.Code, parsed.Message)
	}

	best := parsed.Routes[0]
	if best.Geometry == nil {
		return nav.Route{}, fmt.Errorf("%w: route has no geometry", ErrNoRoute)
	}
	ls, ok := best.Geometry.Geometry().(orb.LineString)
	if !ok || len(ls) < 2 {
		return nav.Route{}, fmt.Errorf("%w: unexpected geometry %s", ErrNoRoute, best.Geometry.Type)
	}

	var steps []nav.ManeuverStep
	if len(best.Legs) > 0 {
		for _, s := range best.Legs[0].Steps {
			steps = append(steps, nav.ManeuverStep{
				Type:     s.Maneuver.Type,
				Modifier: s.Maneuver.Modifier,
				Name:     s.Name,
				Distance: s.Distance,
			})
		}
	}

	return nav.Route{
		ID:                  uuid.NewString(),
		Title:               label,
		Description:         fmt.Sprintf("%.1f km, about %.0f min", best.Distance/1000, best.Duration/60),
		TotalDistanceMeters: best.Distance,
		Path:                geo.FromLineString(ls),
		Events:              o.compiler.Compile(steps),
		Steps:               steps,
	}, nil
}
