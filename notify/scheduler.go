// Package notify runs the bot's delayed work (escalations, reminders,
// surveys, channel deletion) and delivers best-effort notifications to
// ticket owners and managers.
package notify

import (
	"sort"
	"strings"
	"sync"
	"time"

	"support-bot/clock"

	"go.uber.org/zap"
)

// Scheduler is a registry of one-shot timers keyed by name.
type Scheduler struct {
	clock clock.Clock
	log   *zap.Logger

	mu      sync.Mutex
	timers  map[string]*entry
	stopped bool
}

type entry struct {
	timer clock.Timer
	at    time.Time
}

func NewScheduler(c clock.Clock, log *zap.Logger) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{clock: c, log: log.Named("scheduler"), timers: make(map[string]*entry)}
}

// Schedule runs fn at the given time, replacing any timer under the same
// key. Times in the past fire as soon as possible.
func (s *Scheduler) Schedule(key string, at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}

	e := &entry{at: at}
	e.timer = s.clock.AfterFunc(at.Sub(s.clock.Now()), func() {
		s.mu.Lock()
		if s.timers[key] != e {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()
		s.run(key, fn)
	})
	s.timers[key] = e
}

func (s *Scheduler) run(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduled task panicked", zap.String("key", key), zap.Any("panic", r))
		}
	}()
	fn()
}

// Cancel stops the timer under key. Unknown or already fired keys are
// ignored.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.timers[key]; ok {
		e.timer.Stop()
		delete(s.timers, key)
	}
}

// CancelTicket cancels every timer whose key names the ticket, such as
// "escalate:T-0001" or "survey:T-0001".
func (s *Scheduler) CancelTicket(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.timers {
		if _, rest, ok := strings.Cut(k, ":"); ok && rest == id {
			e.timer.Stop()
			delete(s.timers, k)
			n++
		}
	}
	return n
}

// Due returns when key fires, if it is pending.
func (s *Scheduler) Due(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return e.at, true
}

// Pending lists the keys of timers that have not fired yet.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.timers))
	for k := range s.timers {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Stop cancels everything and refuses new work.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for k, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, k)
	}
}
