package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"drive-ally/internal/nav"
)

type lockedSpeaker struct {
	mu   sync.Mutex
	said []string
}

func (l *lockedSpeaker) Speak(text string) {
	l.mu.Lock()
	l.said = append(l.said, text)
	l.mu.Unlock()
}

func (l *lockedSpeaker) has(text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.said {
		if s == text {
			return true
		}
	}
	return false
}

// gatedResolver blocks each Resolve until release is closed or ctx ends.
type gatedResolver struct {
	route   nav.Route
	err     error
	release chan struct{}
	calls   chan nav.Coordinate
}

func newGatedResolver(route nav.Route, err error) *gatedResolver {
	return &gatedResolver{route: route, err: err, release: make(chan struct{}), calls: make(chan nav.Coordinate, 4)}
}

func (g *gatedResolver) Resolve(ctx context.Context, origin, _ nav.Coordinate, _ string) (nav.Route, error) {
	g.calls <- origin
	select {
	case <-g.release:
		return g.route, g.err
	case <-ctx.Done():
		return nav.Route{}, ctx.Err()
	}
}

type countingPublisher struct {
	mu sync.Mutex
	n  int
}

func (c *countingPublisher) PublishState(nav.TripState) error {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return nil
}

func startSession(t *testing.T, res Resolver, speaker Speaker) (*Session, *countingPublisher) {
	t.Helper()
	eng := New(Options{Speaker: speaker, Location: time.UTC})
	pub := &countingPublisher{}
	s := NewSession(eng, res, pub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("session did not stop")
		}
	})
	return s, pub
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionStartNeedsFix(t *testing.T) {
	s, _ := startSession(t, newGatedResolver(testRoute(5), nil), nil)
	err := s.Start(context.Background(), StartRequest{Destination: nav.Coordinate{Lat: -19.9, Lng: -43.9}, Label: "Centro"})
	if !errors.Is(err, ErrNoPositionFix) {
		t.Fatalf("err = %v, want ErrNoPositionFix", err)
	}
	if st := s.State().Status; st != nav.Idle {
		t.Fatalf("status = %s, want Idle", st)
	}
}

func TestSessionUsesLatestFixAsOrigin(t *testing.T) {
	res := newGatedResolver(testRoute(5), nil)
	s, _ := startSession(t, res, nil)

	fix := nav.Coordinate{Lat: -19.95, Lng: -43.91}
	s.Feed(fix)
	req := StartRequest{Destination: nav.Coordinate{Lat: -19.9, Lng: -43.9}, Label: "Centro"}
	waitFor(t, "fix to be recorded", func() bool {
		return !errors.Is(s.Start(context.Background(), req), ErrNoPositionFix)
	})
	select {
	case origin := <-res.calls:
		if origin.Lat != fix.Lat || origin.Lng != fix.Lng {
			t.Errorf("origin = %+v, want %+v", origin, fix)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("resolver not called")
	}
	close(res.release)
	waitFor(t, "navigating", func() bool { return s.State().Status == nav.Navigating })
}

func TestSessionPendingSampleAppliedAfterActivation(t *testing.T) {
	route := testRoute(20)
	res := newGatedResolver(route, nil)
	s, pub := startSession(t, res, nil)

	origin := route.Path[0]
	err := s.Start(context.Background(), StartRequest{Origin: &origin, Destination: route.Path[19], Label: "Centro"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := s.State().Status; st != nav.Recalculating {
		t.Fatalf("status = %s, want Recalculating", st)
	}
	s.Feed(at(route.Path[5], 10))
	close(res.release)

	waitFor(t, "pending sample", func() bool {
		st := s.State()
		return st.Status == nav.Navigating && st.DistanceTraveledMeters > 490
	})
	pub.mu.Lock()
	n := pub.n
	pub.mu.Unlock()
	if n == 0 {
		t.Error("no state published")
	}
}

func TestSessionStopDiscardsInFlightRoute(t *testing.T) {
	speaker := &lockedSpeaker{}
	res := newGatedResolver(testRoute(5), nil)
	s, _ := startSession(t, res, speaker)

	origin := nav.Coordinate{Lat: -19.9, Lng: -43.9}
	if err := s.Start(context.Background(), StartRequest{Origin: &origin, Label: "Centro"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-res.calls
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(res.release)

	// A round trip through the loop flushes the cancelled resolver's result.
	time.Sleep(20 * time.Millisecond)
	if _, _, ok, err := s.ActiveRoute(context.Background()); err != nil || ok {
		t.Fatalf("active route after stop: ok=%v err=%v", ok, err)
	}
	if st := s.State().Status; st != nav.Idle {
		t.Fatalf("status = %s, want Idle", st)
	}
	if speaker.has(msgFailed) {
		t.Error("cancelled resolution should not be reported as a failure")
	}
	if !speaker.has(msgCancelled) {
		t.Error("cancellation not announced")
	}
}

func TestSessionResolveFailureReturnsIdle(t *testing.T) {
	speaker := &lockedSpeaker{}
	res := newGatedResolver(nav.Route{}, errors.New("boom"))
	close(res.release)
	s, _ := startSession(t, res, speaker)

	origin := nav.Coordinate{Lat: -19.9, Lng: -43.9}
	if err := s.Start(context.Background(), StartRequest{Origin: &origin, Label: "Centro"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "failure announcement", func() bool { return speaker.has(msgFailed) })
	waitFor(t, "idle", func() bool { return s.State().Status == nav.Idle })
}

// flush waits until the loop has taken every queued sample and result, then
// makes one round trip through it so their handling has finished.
func flush(t *testing.T, s *Session) {
	t.Helper()
	waitFor(t, "queued inputs", func() bool { return len(s.samples) == 0 && len(s.results) == 0 })
	if _, _, _, err := s.ActiveRoute(context.Background()); err != nil {
		t.Fatalf("ActiveRoute: %v", err)
	}
}

func TestSessionFailedResolutionForgetsHeldSample(t *testing.T) {
	res := newGatedResolver(nav.Route{}, errors.New("boom"))
	s, _ := startSession(t, res, nil)
	route := testRoute(10)

	origin := route.Path[0]
	if err := s.Start(context.Background(), StartRequest{Origin: &origin, Label: "Centro"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-res.calls
	s.Feed(route.Path[7])
	flush(t, s)
	close(res.release)
	waitFor(t, "idle", func() bool { return s.State().Status == nav.Idle })

	if err := s.Start(context.Background(), StartRequest{Route: &route}); err != nil {
		t.Fatalf("Start prebuilt: %v", err)
	}
	if got := s.State().DistanceTraveledMeters; got != 0 {
		t.Fatalf("traveled = %v, want 0: a sample from the failed trip was applied", got)
	}
}

type resolveCounter struct {
	mu          sync.Mutex
	ok, errored int
}

func (r *resolveCounter) SampleProcessed(time.Duration) {}
func (r *resolveCounter) SampleDropped()                {}
func (r *resolveCounter) RouteResolved(_ time.Duration, _ bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.errored++
	} else {
		r.ok++
	}
}

func (r *resolveCounter) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ok, r.errored
}

func TestSessionCancelledResolutionNotCounted(t *testing.T) {
	res := newGatedResolver(testRoute(5), nil)
	m := &resolveCounter{}
	s := NewSession(New(Options{Location: time.UTC}), res, nil, m)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	origin := nav.Coordinate{Lat: -19.9, Lng: -43.9}
	if err := s.Start(context.Background(), StartRequest{Origin: &origin, Label: "Centro"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-res.calls
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	s.resolveWG.Wait()
	flush(t, s)
	if ok, errored := m.counts(); ok != 0 || errored != 0 {
		t.Fatalf("resolves after cancel: ok=%d error=%d, want none", ok, errored)
	}

	close(res.release)
	if err := s.Start(context.Background(), StartRequest{Origin: &origin, Label: "Centro"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "navigating", func() bool { return s.State().Status == nav.Navigating })
	if ok, errored := m.counts(); ok != 1 || errored != 0 {
		t.Fatalf("resolves: ok=%d error=%d, want ok=1", ok, errored)
	}
}

func TestSessionFallbackRouteAnnounced(t *testing.T) {
	speaker := &lockedSpeaker{}
	route := testRoute(2)
	route.Fallback = true
	res := newGatedResolver(route, nil)
	close(res.release)
	s, _ := startSession(t, res, speaker)

	origin := route.Path[0]
	if err := s.Start(context.Background(), StartRequest{Origin: &origin, Destination: route.Path[1], Label: "Centro"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "fallback notice", func() bool { return speaker.has(msgFallback) })
}

func TestSessionPrebuiltRoute(t *testing.T) {
	s, _ := startSession(t, nil, nil)
	route := testRoute(10)
	if err := s.Start(context.Background(), StartRequest{Route: &route}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := s.State(); st.Status != nav.Navigating || st.Destination != route.Title {
		t.Fatalf("state = %+v", st)
	}
	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	r, bits, ok, err := s.ActiveRoute(context.Background())
	if err != nil || !ok || r.ID != route.ID || len(bits) != len(r.Events) {
		t.Fatalf("ActiveRoute = %v %v %v %v", r.ID, bits, ok, err)
	}

	empty := nav.Route{Title: "nowhere"}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Start(context.Background(), StartRequest{Route: &empty}); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("err = %v, want ErrEmptyPath", err)
	}
	if st := s.State().Status; st != nav.Idle {
		t.Errorf("status after failed start = %s, want Idle", st)
	}
}

func TestSessionFeedNeverBlocks(t *testing.T) {
	eng := New(Options{})
	s := NewSession(eng, nil, nil, nil)
	// No Run loop: the mailbox must still accept samples.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Feed(nav.Coordinate{Lat: float64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Feed blocked")
	}
	if got := (<-s.samples).Lat; got != 99 {
		t.Errorf("mailbox holds %v, want latest sample 99", got)
	}
}
