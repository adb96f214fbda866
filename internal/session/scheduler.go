package session

import (
	"context"
	"sync"
	"time"
)

// Scheduler runs a task on a fixed interval from a single goroutine, so
// runs never overlap. Start and Stop are idempotent. Stop prevents future
// runs but lets a run already in progress finish.
type Scheduler struct {
	task func(context.Context)

	mu   sync.Mutex
	stop chan struct{}
}

func NewScheduler(task func(context.Context)) *Scheduler {
	return &Scheduler{task: task}
}

// Start reports false when the scheduler is already running.
func (s *Scheduler) Start(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil || interval <= 0 {
		return false
	}
	stop := make(chan struct{})
	s.stop = stop
	go s.loop(interval, stop)
	return true
}

// Stop reports false when the scheduler was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return false
	}
	close(s.stop)
	s.stop = nil
	return true
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Scheduler) loop(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		// a tick and Stop can be ready together
		select {
		case <-stop:
			return
		default:
		}
		s.task(context.Background())
	}
}
