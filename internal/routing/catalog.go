package routing

import (
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"drive-ally/internal/geo"
	"drive-ally/internal/nav"
	"drive-ally/internal/timeline"
)

// TrainingRoute is a curated practice route.
type TrainingRoute struct {
	ID                string             `json:"id" yaml:"id" validate:"required"`
	Title             string             `json:"title" yaml:"title" validate:"required"`
	Description       string             `json:"description" yaml:"description"`
	Difficulty        string             `json:"difficulty" yaml:"difficulty" validate:"required"`
	TrafficComplexity string             `json:"trafficComplexity" yaml:"traffic_complexity"`
	Tags              []string           `json:"tags" yaml:"tags"`
	DistanceKm        float64            `json:"distanceKm" yaml:"distance_km" validate:"gte=0"`
	Path              []nav.Coordinate   `json:"path" yaml:"path" validate:"min=2"`
	Steps             []nav.ManeuverStep `json:"steps,omitempty" yaml:"steps"`
}

// Route builds the navigable route. The total distance follows the path
// geometry so arrival is reachable; DistanceKm is the advertised length.
func (t TrainingRoute) Route(compiler *timeline.Compiler) nav.Route {
	if compiler == nil {
		compiler = timeline.New(nil)
	}
	cum := geo.CumDistances(t.Path)
	total := 0.0
	if len(cum) > 0 {
		total = cum[len(cum)-1]
	}
	return nav.Route{
		ID:                  t.ID,
		Title:               t.Title,
		Description:         t.Description,
		Difficulty:          t.Difficulty,
		TotalDistanceMeters: total,
		Path:                append([]nav.Coordinate(nil), t.Path...),
		Events:              compiler.Compile(t.Steps),
		Steps:               append([]nav.ManeuverStep(nil), t.Steps...),
	}
}

var builtinRoutes = []TrainingRoute{
	{
		ID:                "route_pampulha",
		Title:             "Circuito da Pampulha",
		Description:       "Flat, open loop around the lagoon. Practice lane keeping, steady speed and gentle curves without complex junctions.",
		Difficulty:        "Beginner",
		TrafficComplexity: "Low",
		Tags:              []string{"Flat", "Gentle curves", "Traffic lights", "Cyclists"},
		DistanceKm:        18.0,
		Path:              []nav.Coordinate{{Lat: -19.8583, Lng: -43.9762}, {Lat: -19.8422, Lng: -43.9715}},
	},
	{
		ID:                "route_mangabeiras",
		Title:             "Desafio das Mangabeiras",
		Description:       "Steep hills: clutch control, hill starts and tight downhill bends.",
		Difficulty:        "Intermediate",
		TrafficComplexity: "Medium",
		Tags:              []string{"Hills", "Clutch control", "Tight bends", "Engine braking"},
		DistanceKm:        5.5,
		Path:              []nav.Coordinate{{Lat: -19.9546, Lng: -43.9144}, {Lat: -19.9498, Lng: -43.9055}},
	},
	{
		ID:                "route_centro",
		Title:             "Caos do Centro",
		Description:       "Busy downtown avenues. Pedestrians, bus lanes and quick lane changes in heavy traffic.",
		Difficulty:        "Advanced",
		TrafficComplexity: "Chaotic",
		Tags:              []string{"Heavy traffic", "Pedestrians", "Junctions", "Divided attention"},
		DistanceKm:        4.2,
		Path:              []nav.Coordinate{{Lat: -19.9228, Lng: -43.9400}, {Lat: -19.9167, Lng: -43.9345}},
	},
}

// Catalog is an immutable set of training routes keyed by ID.
type Catalog struct {
	routes []TrainingRoute
	byID   map[string]int
}

func newCatalog(routes []TrainingRoute) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(routes))}
	for _, r := range routes {
		if _, dup := c.byID[r.ID]; dup {
			return nil, fmt.Errorf("duplicate training route %q", r.ID)
		}
		c.byID[r.ID] = len(c.routes)
		c.routes = append(c.routes, r)
	}
	return c, nil
}

// DefaultCatalog returns the built-in routes.
func DefaultCatalog() *Catalog {
	c, _ := newCatalog(builtinRoutes)
	return c
}

type catalogFile struct {
	Routes []TrainingRoute `yaml:"routes" validate:"required,min=1,dive"`
}

// LoadCatalog reads training routes from YAML. Routes in the file replace
// built-ins with the same ID and are appended otherwise.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse training routes %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("validate training routes %s: %w", path, err)
	}
	for _, r := range f.Routes {
		for _, c := range r.Path {
			if !geo.Finite(c) {
				return nil, fmt.Errorf("training route %q: %w", r.ID, ErrBadCoordinate)
			}
		}
	}

	merged := append([]TrainingRoute(nil), builtinRoutes...)
	index := map[string]int{}
	for i, r := range merged {
		index[r.ID] = i
	}
	seen := map[string]bool{}
	for _, r := range f.Routes {
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate training route %q in %s", r.ID, path)
		}
		seen[r.ID] = true
		if i, ok := index[r.ID]; ok {
			merged[i] = r
			continue
		}
		merged = append(merged, r)
	}
	return newCatalog(merged)
}

// List returns the routes ordered by ID.
func (c *Catalog) List() []TrainingRoute {
	out := append([]TrainingRoute(nil), c.routes...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Catalog) Get(id string) (TrainingRoute, bool) {
	i, ok := c.byID[id]
	if !ok {
		return TrainingRoute{}, false
	}
	return c.routes[i], true
}
