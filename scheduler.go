package tabsync

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop cancels the task. It returns false if the task already ran or
	// was already stopped.
	Stop() bool
}

// Scheduler runs functions after a delay. Engines take every timer from
// their Scheduler so tests can drive time explicitly.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// RealScheduler schedules on the runtime timer.
type RealScheduler struct{}

// AfterFunc implements Scheduler.
func (RealScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualScheduler is a virtual clock. Tasks only run from Advance, on the
// caller's goroutine, in due-time order.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*manualTask
}

type manualTask struct {
	s   *ManualScheduler
	at  time.Time
	seq uint64
	fn  func()
}

// NewManualScheduler creates a virtual clock starting at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the virtual time.
func (s *ManualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// AfterFunc implements Scheduler.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d < 0 {
		d = 0
	}
	s.seq++
	t := &manualTask{s: s, at: s.now.Add(d), seq: s.seq, fn: f}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves the clock forward by d, running every task that falls due,
// including tasks scheduled by tasks run during this call. Advance(0) runs
// the tasks that are already due.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		t := s.nextDueLocked(target)
		if t == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		if t.at.After(s.now) {
			s.now = t.at
		}
		s.mu.Unlock()

		t.fn()
	}
}

// Pending returns the number of scheduled tasks that have not run.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// nextDueLocked removes and returns the earliest task due at or before target
func (s *ManualScheduler) nextDueLocked(target time.Time) *manualTask {
	if len(s.tasks) == 0 {
		return nil
	}
	sort.Slice(s.tasks, func(i, j int) bool {
		if s.tasks[i].at.Equal(s.tasks[j].at) {
			return s.tasks[i].seq < s.tasks[j].seq
		}
		return s.tasks[i].at.Before(s.tasks[j].at)
	})
	t := s.tasks[0]
	if t.at.After(target) {
		return nil
	}
	s.tasks = s.tasks[1:]
	return t
}

func (t *manualTask) Stop() bool {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, task := range s.tasks {
		if task == t {
			s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
			return true
		}
	}
	return false
}
