/*
sweeper.go - Background cleanup of expired in-memory sessions

PURPOSE:
  MemoryRegistry only prunes when it is written to. On a quiet server
  expired ids would sit in memory until the next login; the sweeper
  drops them on a fixed interval. Redis expires its keys by itself and
  needs no sweeper.

USAGE:
  sw := session.NewSweeper(registry, time.Minute, log)
  sw.Start()
  defer sw.Stop()
*/
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically calls MemoryRegistry.Sweep.
type Sweeper struct {
	registry *MemoryRegistry
	interval time.Duration
	log      *zap.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a stopped sweeper. interval <= 0 means one minute.
func NewSweeper(registry *MemoryRegistry, interval time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{registry: registry, interval: interval, log: log}
}

// Start begins sweeping. Calling Start twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.log.Debug("session sweeper started", zap.Duration("interval", s.interval))
}

// Stop halts the sweeper and waits for the current sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.log.Debug("session sweeper stopped")
}

func (s *Sweeper) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-ticker.C:
			if n := s.registry.Sweep(); n > 0 {
				s.log.Debug("expired sessions removed", zap.Int("count", n))
			}
		case <-stop:
			return
		}
	}
}
