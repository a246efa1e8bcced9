// Package speech delivers spoken guidance to its outputs without ever
// blocking the caller.
package speech

import (
	"context"
	"log"
	"sync"
)

// Sink renders one utterance.
type Sink interface {
	Say(text string) error
}

type SinkFunc func(text string) error

func (f SinkFunc) Say(text string) error { return f(text) }

// LogSink writes utterances to the standard logger.
var LogSink = SinkFunc(func(text string) error {
	log.Printf("[voice] %s", text)
	return nil
})

type Metrics interface {
	SpeechDroppedInc()
}

type Queue struct {
	ch      chan string
	sinks   []Sink
	metrics Metrics

	wg sync.WaitGroup
}

func NewQueue(size int, m Metrics, sinks ...Sink) *Queue {
	if size <= 0 {
		size = 16
	}
	return &Queue{ch: make(chan string, size), sinks: sinks, metrics: m}
}

// Speak enqueues text, dropping it when the queue is full.
func (q *Queue) Speak(text string) {
	select {
	case q.ch <- text:
	default:
		log.Printf("[voice] queue full, dropping %q", text)
		if q.metrics != nil {
			q.metrics.SpeechDroppedInc()
		}
	}
}

// Start delivers queued texts in order until ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-q.ch:
				q.deliver(text)
			}
		}
	}()
}

func (q *Queue) Wait() { q.wg.Wait() }

func (q *Queue) deliver(text string) {
	for _, s := range q.sinks {
		if err := s.Say(text); err != nil {
			log.Printf("[voice] sink error: %v", err)
		}
	}
}
