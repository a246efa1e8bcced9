package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"drive-ally/internal/api"
	"drive-ally/internal/config"
	"drive-ally/internal/engine"
	"drive-ally/internal/metrics"
	"drive-ally/internal/publisher"
	"drive-ally/internal/routing"
	"drive-ally/internal/speech"
	"drive-ally/internal/store"
	"drive-ally/internal/timeline"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector()
		srv := mcol.Serve(cfg.MetricsAddr)
		defer shutdown(srv)
	}

	// Hazard keywords and training routes
	keywords := timeline.DefaultKeywords()
	if cfg.HazardKeywordsFile != "" {
		if keywords, err = timeline.LoadKeywords(cfg.HazardKeywordsFile); err != nil {
			log.Fatalf("hazard keywords: %v", err)
		}
	}
	compiler := timeline.New(keywords)
	catalog := routing.DefaultCatalog()
	if cfg.TrainingRoutesFile != "" {
		if catalog, err = routing.LoadCatalog(cfg.TrainingRoutesFile); err != nil {
			log.Fatalf("training routes: %v", err)
		}
	}
	log.Printf("%d training routes loaded", len(catalog.List()))

	// Trip history
	driver, err := store.ParseDriver(cfg.HistoryDriver)
	if err != nil {
		log.Fatalf("history driver: %v", err)
	}
	dsn := cfg.SQLitePath
	if driver == store.Postgres {
		dsn = cfg.DatabaseURL
	}
	history, err := store.Open(driver, dsn)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer history.Close()
	if err := history.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	if err := history.EnsureSchema(ctx); err != nil {
		log.Fatalf("db schema error: %v", err)
	}
	log.Printf("[store] trip history on %s", history.Driver())
	recorder := store.NewRecorder(history, cfg.DriverID, 32, wrapRecorderMetrics(mcol))
	recorder.Start(ctx)

	// NATS bus
	var pub *publisher.NATSPublisher
	if cfg.NATSEnabled {
		pub, err = publisher.NewNATSPublisher(cfg.NATSURL, cfg.DriverID, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
	}

	// Voice
	sinks := []speech.Sink{speech.LogSink}
	if pub != nil {
		sinks = append(sinks, speech.SinkFunc(pub.PublishVoice))
	}
	voice := speech.NewQueue(cfg.SpeechQueueSize, wrapSpeechMetrics(mcol), sinks...)
	voice.Start(ctx)

	// Engine and session
	prefs := engine.NewToggle(cfg.ExtendedProtection)
	var observers engine.Observers
	if mcol != nil {
		observers = append(observers, mcol)
	}
	if pub != nil {
		observers = append(observers, pub.Observer())
	}
	eng := engine.New(engine.Options{
		Speaker:     voice,
		Preferences: prefs,
		Recorder:    recorder,
		Observer:    observers,
		Location:    cfg.Location,
	})
	resolver := routing.NewResolver(routing.NewOSRM(cfg.OSRMURL, compiler), compiler)
	var statePub engine.StatePublisher
	if pub != nil {
		statePub = pub
	}
	sess := engine.NewSession(eng, resolver, statePub, wrapSessionMetrics(mcol))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("session stopped: %v", err)
		}
	}()

	if pub != nil {
		sub, err := pub.SubscribePositions(sess.Feed)
		if err != nil {
			log.Fatalf("nats subscribe error: %v", err)
		}
		defer func() { _ = sub.Unsubscribe() }()
	}

	// HTTP API
	h := api.NewHandler(api.Options{
		Navigator: sess,
		Catalog:   catalog,
		Compiler:  compiler,
		Prefs:     prefs,
		History:   history,
		DriverID:  cfg.DriverID,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.NewRouter(h, nil), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()
	log.Printf("navigator for %q listening on %s", cfg.DriverID, cfg.HTTPAddr)

	// Block until context cancelled
	<-ctx.Done()
	shutdown(srv)
	wg.Wait()
	voice.Wait()
	recorder.Wait()
	log.Println("shutdown complete")
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func wrapRecorderMetrics(c *metrics.Collector) store.RecorderMetrics {
	if c == nil {
		return nil
	}
	return &recMetrics{c: c}
}

type recMetrics struct{ c *metrics.Collector }

func (r *recMetrics) HistoryWriteInc()    { r.c.HistoryWrites.Inc() }
func (r *recMetrics) HistoryWriteErrInc() { r.c.HistoryErrors.Inc() }
func (r *recMetrics) HistoryDroppedInc()  { r.c.HistoryDropped.Inc() }

func wrapSpeechMetrics(c *metrics.Collector) speech.Metrics {
	if c == nil {
		return nil
	}
	return &speechMetrics{c: c}
}

type speechMetrics struct{ c *metrics.Collector }

func (s *speechMetrics) SpeechDroppedInc() { s.c.SpeechDropped.Inc() }

// wrapSessionMetrics keeps a nil collector from becoming a non-nil interface.
func wrapSessionMetrics(c *metrics.Collector) engine.SessionMetrics {
	if c == nil {
		return nil
	}
	return c
}
