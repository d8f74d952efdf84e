package watch

import (
	"sync"
	"time"
)

// TimerKind identifies what the scheduler's single timer is for.
type TimerKind int

const (
	TimerNone TimerKind = iota
	TimerSweep
	TimerCooldown
)

func (k TimerKind) String() string {
	switch k {
	case TimerSweep:
		return "sweep"
	case TimerCooldown:
		return "cooldown"
	default:
		return "none"
	}
}

// Scheduler holds at most one pending timer. Scheduling replaces the pending
// timer, and a timer that fires after being replaced or cancelled does nothing.
type Scheduler struct {
	clock Clock

	mu    sync.Mutex
	seq   uint64
	kind  TimerKind
	due   time.Time
	timer Timer
}

// NewScheduler creates an idle scheduler.
func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = realClock{}
	}
	return &Scheduler{clock: clock}
}

// Schedule cancels any pending timer and runs fn after d.
func (s *Scheduler) Schedule(kind TimerKind, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.seq++
	seq := s.seq
	s.kind = kind
	s.due = s.clock.Now().Add(d)
	s.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.seq != seq {
			s.mu.Unlock()
			return
		}
		s.kind = TimerNone
		s.due = time.Time{}
		s.timer = nil
		s.mu.Unlock()

		fn()
	})
}

// Cancel drops the pending timer, if any.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Pending returns the kind and due time of the pending timer.
func (s *Scheduler) Pending() (TimerKind, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kind, s.due
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.seq++
	s.kind = TimerNone
	s.due = time.Time{}
	s.timer = nil
}
