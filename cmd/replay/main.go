package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"drive-ally/internal/config"
	"drive-ally/internal/metrics"
	"drive-ally/internal/publisher"
	"drive-ally/internal/replay"
	"drive-ally/internal/routing"
	"drive-ally/internal/timeline"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.ReplayOrigin == nil || cfg.ReplayDestination == nil {
		log.Fatal("REPLAY_ORIGIN and REPLAY_DESTINATION must be set (lat,lng)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector()
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer scancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.DriverID, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	compiler := timeline.New(timeline.DefaultKeywords())
	resolver := routing.NewResolver(routing.NewOSRM(cfg.OSRMURL, compiler), compiler)
	route, err := resolver.Resolve(ctx, *cfg.ReplayOrigin, *cfg.ReplayDestination, "replay")
	if err != nil {
		log.Fatalf("route error: %v", err)
	}
	if route.Fallback {
		log.Printf("[replay] routing unavailable, driving a straight line")
	}

	var rm replay.Metrics
	if mcol != nil {
		rm = mcol
	}
	player := replay.NewPlayer(pub, cfg.DriverID, cfg.PublishInterval, cfg.SpeedMultiplier, cfg.ReplaySpeedKmh, rm)
	if err := player.Run(ctx, route); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("replay error: %v", err)
	}
	log.Println("replay finished")
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
