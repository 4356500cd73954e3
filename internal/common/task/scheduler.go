package task

import (
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Scheduler runs one-shot functions at a point in time. Every scheduled function has a key; scheduling a key that is
// already pending replaces the pending function, so callers can reschedule freely without accumulating timers.
type Scheduler struct {
	clock   clock.WithDelayedExecution
	mutex   sync.Mutex
	pending map[string]*scheduledTask
	nextId  uint64
	stopped bool
}

type scheduledTask struct {
	id    uint64
	timer clock.Timer
}

func NewScheduler(clock clock.WithDelayedExecution) *Scheduler {
	return &Scheduler{
		clock:   clock,
		pending: map[string]*scheduledTask{},
	}
}

// ScheduleAt runs fn once the clock reaches when. A time in the past runs fn as soon as possible.
func (s *Scheduler) ScheduleAt(key string, when time.Time, fn func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopped {
		return
	}

	if existing, ok := s.pending[key]; ok {
		existing.timer.Stop()
	}

	s.nextId++
	id := s.nextId
	delay := when.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}
	timer := s.clock.AfterFunc(delay, func() {
		if !s.claim(key, id) {
			return
		}
		fn()
	})
	s.pending[key] = &scheduledTask{id: id, timer: timer}
}

// claim removes the pending entry for key if it still belongs to the task with the given id.
func (s *Scheduler) claim(key string, id uint64) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	current, ok := s.pending[key]
	if !ok || current.id != id || s.stopped {
		return false
	}
	delete(s.pending, key)
	return true
}

func (s *Scheduler) Cancel(key string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if existing, ok := s.pending[key]; ok {
		existing.timer.Stop()
		delete(s.pending, key)
	}
}

func (s *Scheduler) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.pending)
}

// CancelAll cancels everything that is pending. The scheduler stays usable.
func (s *Scheduler) CancelAll() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cancelAll()
}

// Stop cancels everything that is pending. Later calls to ScheduleAt are ignored.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.stopped = true
	s.cancelAll()
}

func (s *Scheduler) cancelAll() {
	for key, existing := range s.pending {
		existing.timer.Stop()
		delete(s.pending, key)
	}
}
