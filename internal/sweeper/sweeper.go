// Package sweeper runs the periodic maintenance pass over all queues.
//
// Delivery correctness never depends on it: visibility timeouts, retention
// expiry and dead-letter routing are all enforced lazily at dequeue time.
// The sweeper only reclaims space early, keeps depth gauges fresh, and moves
// exhausted records to their DLQ before a consumer happens to ask.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/snehjoshi/relayq/internal/broker"
	"github.com/snehjoshi/relayq/internal/metrics"
)

// Sweeper periodically calls Broker.SweepAll.
type Sweeper struct {
	b        *broker.Broker
	interval time.Duration
	log      *slog.Logger

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Sweeper ticking at interval. Call Start to begin.
func New(b *broker.Broker, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		b:        b,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start launches the sweep loop. It stops when ctx is cancelled or Stop is
// called.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-t.C:
				s.sweep()
			}
		}
	}()
}

// Stop terminates the loop and waits for an in-progress pass to finish.
func (s *Sweeper) Stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.wg.Wait()
}

func (s *Sweeper) sweep() {
	start := time.Now()
	expired, dead, err := s.b.SweepAll()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SweepErrors.Inc()
		s.log.Warn("sweep pass failed", "error", err)
		return
	}
	if expired > 0 || dead > 0 {
		s.log.Debug("sweep pass",
			"expired", expired,
			"dead_lettered", dead,
			"took", time.Since(start).String())
	}
	// Refresh depth gauges on every pass.
	s.b.QueueStats()
}
