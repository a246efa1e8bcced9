package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"drive-ally/internal/nav"
)

var ErrNoPositionFix = errors.New("no position fix to route from")

const msgFallback = "Routing unavailable, using a direct route."

// Resolver turns an origin and destination into a route.
type Resolver interface {
	Resolve(ctx context.Context, origin, destination nav.Coordinate, label string) (nav.Route, error)
}

// StatePublisher receives a snapshot after every processed input.
type StatePublisher interface {
	PublishState(state nav.TripState) error
}

// SessionMetrics mirrors the subset of the metrics collector the session
// reports to.
type SessionMetrics interface {
	SampleProcessed(d time.Duration)
	SampleDropped()
	RouteResolved(d time.Duration, fallback bool, err error)
}

// StartRequest starts a trip either to a destination (resolved through the
// Resolver) or along a prebuilt route.
type StartRequest struct {
	Destination nav.Coordinate
	Label       string
	Origin      *nav.Coordinate // defaults to the latest position fix
	Route       *nav.Route      // prebuilt route; skips resolution
}

type routeResult struct {
	gen   uint64
	route nav.Route
	err   error
	took  time.Duration
}

// Session runs the engine on a single goroutine. Commands and samples from
// any goroutine are serialized onto Run's loop; route resolution is the only
// work done off-loop.
type Session struct {
	eng      *Engine
	resolver Resolver
	pub      StatePublisher
	metrics  SessionMetrics

	cmds    chan func(ctx context.Context)
	samples chan nav.Coordinate
	results chan routeResult

	// loop-owned
	gen           uint64
	lastFix       *nav.Coordinate
	pending       *nav.Coordinate
	resolveCancel context.CancelFunc
	resolveWG     sync.WaitGroup

	mu   sync.RWMutex
	snap nav.TripState
}

func NewSession(eng *Engine, resolver Resolver, pub StatePublisher, metrics SessionMetrics) *Session {
	return &Session{
		eng:      eng,
		resolver: resolver,
		pub:      pub,
		metrics:  metrics,
		cmds:     make(chan func(ctx context.Context)),
		samples:  make(chan nav.Coordinate, 1),
		results:  make(chan routeResult, 1),
		snap:     eng.State(),
	}
}

// Run processes inputs until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		if s.resolveCancel != nil {
			s.resolveCancel()
		}
		s.resolveWG.Wait()
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.cmds:
			fn(ctx)
		case c := <-s.samples:
			s.handleSample(c)
			s.refresh()
		case r := <-s.results:
			s.handleResult(r)
			s.refresh()
		}
	}
}

// Feed hands a position sample to the session without blocking. When the
// loop is busy, an older unprocessed sample is replaced.
func (s *Session) Feed(c nav.Coordinate) {
	for {
		select {
		case s.samples <- c:
			return
		default:
		}
		select {
		case <-s.samples:
			if s.metrics != nil {
				s.metrics.SampleDropped()
			}
		default:
		}
	}
}

// State returns the latest published snapshot.
func (s *Session) State() nav.TripState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Start begins a trip. It returns once the session is Recalculating (or
// Navigating for prebuilt routes); resolution completes asynchronously.
func (s *Session) Start(ctx context.Context, req StartRequest) error {
	return s.do(ctx, true, func(loopCtx context.Context) error {
		// A sample held for an earlier resolution belongs to no route.
		s.pending = nil
		if req.Route != nil {
			if err := s.eng.Begin(req.Route.Title); err != nil {
				return err
			}
			s.gen++
			if err := s.activate(*req.Route); err != nil {
				_ = s.eng.Fail()
				return err
			}
			return nil
		}
		origin := req.Origin
		if origin == nil {
			origin = s.lastFix
		}
		if origin == nil {
			return ErrNoPositionFix
		}
		if err := s.eng.Begin(req.Label); err != nil {
			return err
		}
		s.gen++
		s.resolve(loopCtx, s.gen, *origin, req.Destination, req.Label)
		return nil
	})
}

// Stop cancels the trip. During Recalculating the pending resolution is
// abandoned and its result ignored.
func (s *Session) Stop(ctx context.Context) error {
	return s.do(ctx, true, func(context.Context) error {
		s.gen++
		s.pending = nil
		if s.resolveCancel != nil {
			s.resolveCancel()
			s.resolveCancel = nil
		}
		return s.eng.Stop(false)
	})
}

func (s *Session) Restart(ctx context.Context) error {
	return s.do(ctx, true, func(context.Context) error { return s.eng.Restart() })
}

// ActiveRoute returns the active route and the triggered bit of each event.
func (s *Session) ActiveRoute(ctx context.Context) (nav.Route, []bool, bool, error) {
	var (
		route nav.Route
		bits  []bool
		ok    bool
	)
	err := s.do(ctx, false, func(context.Context) error {
		route, bits, ok = s.eng.ActiveRoute()
		return nil
	})
	return route, bits, ok, err
}

// do runs fn on the loop. When mutates is set the snapshot is refreshed
// before the caller is released, so State reflects the command.
func (s *Session) do(ctx context.Context, mutates bool, fn func(loopCtx context.Context) error) error {
	errc := make(chan error, 1)
	cmd := func(loopCtx context.Context) {
		err := fn(loopCtx)
		if mutates {
			s.refresh()
		}
		errc <- err
	}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) resolve(parent context.Context, gen uint64, origin, dest nav.Coordinate, label string) {
	ctx, cancel := context.WithCancel(parent)
	s.resolveCancel = cancel
	s.resolveWG.Add(1)
	go func() {
		defer s.resolveWG.Done()
		defer cancel()
		start := time.Now()
		route, err := s.resolver.Resolve(ctx, origin, dest, label)
		select {
		case s.results <- routeResult{gen: gen, route: route, err: err, took: time.Since(start)}:
		case <-parent.Done():
		}
	}()
}

func (s *Session) handleResult(r routeResult) {
	if r.gen != s.gen || s.eng.Status() != nav.Recalculating {
		log.Printf("[session] discarding stale route result (gen %d, current %d)", r.gen, s.gen)
		return
	}
	if s.metrics != nil {
		s.metrics.RouteResolved(r.took, r.route.Fallback, r.err)
	}
	s.resolveCancel = nil
	if r.err != nil {
		log.Printf("[session] route resolution failed: %v", r.err)
		s.pending = nil
		if err := s.eng.Fail(); err != nil {
			log.Printf("[session] fail: %v", err)
		}
		return
	}
	if err := s.activate(r.route); err != nil {
		log.Printf("[session] activate: %v", err)
		s.pending = nil
		if err := s.eng.Fail(); err != nil {
			log.Printf("[session] fail: %v", err)
		}
	}
}

func (s *Session) activate(route nav.Route) error {
	if route.Fallback {
		s.eng.Announce(msgFallback)
	}
	if err := s.eng.Activate(route); err != nil {
		return fmt.Errorf("activate %q: %w", route.Title, err)
	}
	if s.pending != nil {
		c := *s.pending
		s.pending = nil
		s.apply(c)
	}
	return nil
}

func (s *Session) handleSample(c nav.Coordinate) {
	fix := c
	s.lastFix = &fix
	switch s.eng.Status() {
	case nav.Recalculating:
		s.pending = &fix
	case nav.Navigating:
		s.apply(c)
	}
}

func (s *Session) apply(c nav.Coordinate) {
	start := time.Now()
	s.eng.Update(c)
	if s.metrics != nil {
		s.metrics.SampleProcessed(time.Since(start))
	}
}

func (s *Session) refresh() {
	st := s.eng.State()
	s.mu.Lock()
	s.snap = st
	s.mu.Unlock()
	if s.pub != nil {
		if err := s.pub.PublishState(st); err != nil {
			log.Printf("[session] publish state: %v", err)
		}
	}
}
