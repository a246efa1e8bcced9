// Package api exposes trip commands and state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"drive-ally/internal/engine"
	"drive-ally/internal/geo"
	"drive-ally/internal/nav"
	"drive-ally/internal/routing"
	"drive-ally/internal/timeline"
)

// Navigator is the trip session the handlers drive.
type Navigator interface {
	State() nav.TripState
	Start(ctx context.Context, req engine.StartRequest) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	ActiveRoute(ctx context.Context) (nav.Route, []bool, bool, error)
	Feed(sample nav.Coordinate)
}

// History is the read side of the trip history store.
type History interface {
	ListHistory(ctx context.Context, limit int) ([]nav.TripSummary, error)
	Points(ctx context.Context, driverID string) (int, error)
	Ping(ctx context.Context) error
}

type Handler struct {
	nav      Navigator
	catalog  *routing.Catalog
	compiler *timeline.Compiler
	prefs    *engine.Toggle
	history  History
	driverID string
	validate *validator.Validate
}

type Options struct {
	Navigator Navigator
	Catalog   *routing.Catalog
	Compiler  *timeline.Compiler
	Prefs     *engine.Toggle
	History   History // optional
	DriverID  string
}

func NewHandler(o Options) *Handler {
	if o.Catalog == nil {
		o.Catalog = routing.DefaultCatalog()
	}
	if o.Compiler == nil {
		o.Compiler = timeline.New(nil)
	}
	if o.Prefs == nil {
		o.Prefs = engine.NewToggle(true)
	}
	return &Handler{
		nav:      o.Navigator,
		catalog:  o.Catalog,
		compiler: o.Compiler,
		prefs:    o.Prefs,
		history:  o.History,
		driverID: o.DriverID,
		validate: validator.New(),
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type LatLng struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (l LatLng) coordinate() nav.Coordinate { return nav.Coordinate{Lat: l.Lat, Lng: l.Lng} }

type StartTripRequest struct {
	Destination     *LatLng `json:"destination" validate:"required_without=TrainingRouteID,omitempty"`
	Label           string  `json:"label"`
	Origin          *LatLng `json:"origin" validate:"omitempty"`
	TrainingRouteID string  `json:"trainingRouteId"`
}

type PositionRequest struct {
	Lat      float64  `json:"lat" validate:"gte=-90,lte=90"`
	Lng      float64  `json:"lng" validate:"gte=-180,lte=180"`
	Heading  *float64 `json:"heading" validate:"omitempty,gte=0,lte=360"`
	Speed    *float64 `json:"speed" validate:"omitempty,gte=0"`
	Accuracy *float64 `json:"accuracy" validate:"omitempty,gte=0"`
}

type Preferences struct {
	ExtendedProtection *bool `json:"extendedProtection" validate:"required"`
}

type ActiveRouteResponse struct {
	Route     nav.Route  `json:"route"`
	Triggered []bool     `json:"triggered"`
	BBox      [4]float64 `json:"bbox"` // minLng, minLat, maxLng, maxLat
}

type TrainingRoutesResponse struct {
	Routes []routing.TrainingRoute `json:"routes"`
	Count  int                     `json:"count"`
}

type HistoryResponse struct {
	Trips []nav.TripSummary `json:"trips"`
	Count int               `json:"count"`
}

type PointsResponse struct {
	DriverID string `json:"driverId"`
	Points   int    `json:"points"`
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"trip":      h.nav.State().Status,
		"timestamp": time.Now().UTC(),
	}
	if h.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.history.Ping(ctx); err != nil {
			body["status"] = "degraded"
			body["database"] = "disconnected"
			body["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["database"] = "connected"
	}
	writeJSON(w, http.StatusOK, body)
}

// GetTrip handles GET /api/trip.
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.nav.State())
}

// StartTrip handles POST /api/trip. It answers 202 while the route is being
// resolved; poll GET /api/trip for the outcome.
func (h *Handler) StartTrip(w http.ResponseWriter, r *http.Request) {
	var req StartTripRequest
	if !h.decode(w, r, &req) {
		return
	}
	start := engine.StartRequest{Label: req.Label}
	if req.Origin != nil {
		o := req.Origin.coordinate()
		start.Origin = &o
	}
	if req.TrainingRouteID != "" {
		tr, ok := h.catalog.Get(req.TrainingRouteID)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown training route", req.TrainingRouteID)
			return
		}
		route := tr.Route(h.compiler)
		start.Route = &route
	} else {
		start.Destination = req.Destination.coordinate()
		if start.Label == "" {
			start.Label = "destination"
		}
	}

	if err := h.nav.Start(r.Context(), start); err != nil {
		writeError(w, statusFor(err), "could not start trip", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, h.nav.State())
}

// StopTrip handles DELETE /api/trip.
func (h *Handler) StopTrip(w http.ResponseWriter, r *http.Request) {
	if err := h.nav.Stop(r.Context()); err != nil {
		writeError(w, statusFor(err), "could not stop trip", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.nav.State())
}

// RestartTrip handles POST /api/trip/restart.
func (h *Handler) RestartTrip(w http.ResponseWriter, r *http.Request) {
	if err := h.nav.Restart(r.Context()); err != nil {
		writeError(w, statusFor(err), "could not restart trip", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.nav.State())
}

// GetRoute handles GET /api/trip/route.
func (h *Handler) GetRoute(w http.ResponseWriter, r *http.Request) {
	route, triggered, ok, err := h.nav.ActiveRoute(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "navigator unavailable", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no active route", "")
		return
	}
	b := geo.Bounds(route.Path)
	writeJSON(w, http.StatusOK, ActiveRouteResponse{
		Route:     route,
		Triggered: triggered,
		BBox:      [4]float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()},
	})
}

// PostPosition handles POST /api/positions.
func (h *Handler) PostPosition(w http.ResponseWriter, r *http.Request) {
	var req PositionRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.nav.Feed(nav.Coordinate{Lat: req.Lat, Lng: req.Lng, Heading: req.Heading, Speed: req.Speed, Accuracy: req.Accuracy})
	w.WriteHeader(http.StatusAccepted)
}

// GetPreferences handles GET /api/preferences.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	on := h.prefs.ExtendedProtection()
	writeJSON(w, http.StatusOK, Preferences{ExtendedProtection: &on})
}

// PutPreferences handles PUT /api/preferences. The change applies to the
// next protective event reached.
func (h *Handler) PutPreferences(w http.ResponseWriter, r *http.Request) {
	var req Preferences
	if !h.decode(w, r, &req) {
		return
	}
	h.prefs.Set(*req.ExtendedProtection)
	writeJSON(w, http.StatusOK, req)
}

// ListTrainingRoutes handles GET /api/training-routes.
func (h *Handler) ListTrainingRoutes(w http.ResponseWriter, r *http.Request) {
	routes := h.catalog.List()
	writeJSON(w, http.StatusOK, TrainingRoutesResponse{Routes: routes, Count: len(routes)})
}

// ListHistory handles GET /api/history?limit=N.
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured", "")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}
	trips, err := h.history.ListHistory(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve history", err.Error())
		return
	}
	if trips == nil {
		trips = []nav.TripSummary{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Trips: trips, Count: len(trips)})
}

// GetPoints handles GET /api/points.
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history store not configured", "")
		return
	}
	pts, err := h.history.Points(r.Context(), h.driverID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to retrieve points", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, PointsResponse{DriverID: h.driverID, Points: pts})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNoPositionFix), errors.Is(err, engine.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, engine.ErrEmptyPath), errors.Is(err, engine.ErrInvalidEvent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Details: details})
}
