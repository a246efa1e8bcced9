package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drive-ally/internal/nav"
)

type Collector struct {
	reg *prometheus.Registry

	TripStatus     prometheus.Gauge // 0 idle, 1 recalculating, 2 navigating
	TripsStarted   prometheus.Counter
	TripsEnded     *prometheus.CounterVec // outcome: completed|cancelled
	RouteResolves  *prometheus.CounterVec // result: ok|fallback|error
	ResolveLatency prometheus.Histogram

	EventsConsumed *prometheus.CounterVec // category, announced

	SamplesProcessed prometheus.Counter
	SamplesDropped   prometheus.Counter
	UpdateDuration   prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	SpeechDropped prometheus.Counter

	HistoryWrites  prometheus.Counter
	HistoryErrors  prometheus.Counter
	HistoryDropped prometheus.Counter

	ReplaySpeedKmh prometheus.Gauge
	ReplayProgress prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		TripStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navigator_trip_status",
			Help: "Trip state machine status (0 idle, 1 recalculating, 2 navigating).",
		}),
		TripsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_trips_started_total",
			Help: "Total trips that entered Navigating.",
		}),
		TripsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_trips_ended_total",
			Help: "Total trips ended, by outcome.",
		}, []string{"outcome"}),
		RouteResolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_route_resolves_total",
			Help: "Route resolutions, by result.",
		}, []string{"result"}),
		ResolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "navigator_route_resolve_seconds",
			Help:    "Time to obtain a route from the provider or fallback.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_events_consumed_total",
			Help: "Timeline events reached, by category and whether they were announced.",
		}, []string{"category", "announced"}),
		SamplesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_samples_processed_total",
			Help: "Position samples applied to the active route.",
		}),
		SamplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_samples_dropped_total",
			Help: "Position samples superseded before processing.",
		}),
		UpdateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "navigator_update_duration_seconds",
			Help:    "Duration of the per-sample progress update.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "navigator_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "navigator_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SpeechDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_speech_dropped_total",
			Help: "Utterances dropped because the voice queue was full.",
		}),
		HistoryWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_history_writes_total",
			Help: "Trip history and points writes.",
		}),
		HistoryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_history_write_errors_total",
			Help: "Failed trip history and points writes.",
		}),
		HistoryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "navigator_history_dropped_total",
			Help: "History writes dropped because the recorder queue was full.",
		}),
		ReplaySpeedKmh: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_speed_kmh",
			Help: "Current speed of the replayed vehicle.",
		}),
		ReplayProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "replay_progress_ratio",
			Help: "Fraction of the replayed route covered.",
		}),
	}

	reg.MustRegister(
		c.TripStatus, c.TripsStarted, c.TripsEnded,
		c.RouteResolves, c.ResolveLatency, c.EventsConsumed,
		c.SamplesProcessed, c.SamplesDropped, c.UpdateDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.SpeechDropped, c.HistoryWrites, c.HistoryErrors, c.HistoryDropped,
		c.ReplaySpeedKmh, c.ReplayProgress,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// StatusChanged, EventConsumed and TripEnded let the collector observe the
// engine directly.

func (c *Collector) StatusChanged(s nav.Status) {
	c.TripStatus.Set(float64(s))
	if s == nav.Navigating {
		c.TripsStarted.Inc()
	}
}

func (c *Collector) EventConsumed(ev nav.RouteEvent, announced bool) {
	a := "false"
	if announced {
		a = "true"
	}
	c.EventsConsumed.WithLabelValues(ev.Category.String(), a).Inc()
}

func (c *Collector) TripEnded(completed bool) {
	outcome := "cancelled"
	if completed {
		outcome = "completed"
	}
	c.TripsEnded.WithLabelValues(outcome).Inc()
}

// SampleProcessed, SampleDropped and RouteResolved feed session activity.

func (c *Collector) SampleProcessed(d time.Duration) {
	c.SamplesProcessed.Inc()
	c.UpdateDuration.Observe(d.Seconds())
}

func (c *Collector) SampleDropped() { c.SamplesDropped.Inc() }

func (c *Collector) RouteResolved(d time.Duration, fallback bool, err error) {
	c.ResolveLatency.Observe(d.Seconds())
	switch {
	case err != nil:
		c.RouteResolves.WithLabelValues("error").Inc()
	case fallback:
		c.RouteResolves.WithLabelValues("fallback").Inc()
	default:
		c.RouteResolves.WithLabelValues("ok").Inc()
	}
}

func (c *Collector) ReplayObserve(speedKmh, progress float64) {
	c.ReplaySpeedKmh.Set(speedKmh)
	c.ReplayProgress.Set(progress)
}
