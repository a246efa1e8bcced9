package store

import (
	"context"
	"log"
	"sync"
	"time"

	"drive-ally/internal/nav"
)

// RecorderMetrics is implemented by the metrics collector.
type RecorderMetrics interface {
	HistoryWriteInc()
	HistoryWriteErrInc()
	HistoryDroppedInc()
}

type job struct {
	trip   *nav.TripSummary
	points int
}

// Recorder writes completed trips and points on a background worker so the
// engine never waits on the database.
type Recorder struct {
	store    *Store
	driverID string
	metrics  RecorderMetrics
	jobs     chan job

	wg sync.WaitGroup
}

func NewRecorder(s *Store, driverID string, queue int, m RecorderMetrics) *Recorder {
	if queue <= 0 {
		queue = 32
	}
	return &Recorder{store: s, driverID: driverID, metrics: m, jobs: make(chan job, queue)}
}

func (r *Recorder) TripCompleted(summary nav.TripSummary) {
	r.enqueue(job{trip: &summary})
}

func (r *Recorder) AwardPoints(delta int) {
	r.enqueue(job{points: delta})
}

func (r *Recorder) enqueue(j job) {
	select {
	case r.jobs <- j:
	default:
		log.Printf("[store] recorder queue full, dropping write")
		if r.metrics != nil {
			r.metrics.HistoryDroppedInc()
		}
	}
}

// Start runs the worker until ctx is cancelled, then drains what is queued.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				r.drain()
				return
			case j := <-r.jobs:
				r.write(context.Background(), j)
			}
		}
	}()
}

// Wait blocks until the worker has exited.
func (r *Recorder) Wait() { r.wg.Wait() }

func (r *Recorder) drain() {
	for {
		select {
		case j := <-r.jobs:
			r.write(context.Background(), j)
		default:
			return
		}
	}
}

func (r *Recorder) write(parent context.Context, j job) {
	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()
	var err error
	if j.trip != nil {
		err = r.store.SaveTrip(ctx, *j.trip)
	} else {
		var total int
		total, err = r.store.AddPoints(ctx, r.driverID, j.points)
		if err == nil {
			log.Printf("[store] %s now has %d points", r.driverID, total)
		}
	}
	if err != nil {
		log.Printf("[store] write failed: %v", err)
		if r.metrics != nil {
			r.metrics.HistoryWriteErrInc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.HistoryWriteInc()
	}
}
