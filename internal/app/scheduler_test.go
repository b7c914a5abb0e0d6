package app_test

import (
	"sync"
	"time"
)

type scheduledTask struct {
	delay     time.Duration
	f         func()
	done      bool
	cancelled bool
}

// manualScheduler runs scheduled work only when the test says so.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*scheduledTask
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := &scheduledTask{delay: d, f: f}
	s.tasks = append(s.tasks, task)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if task.done || task.cancelled {
			return false
		}
		task.cancelled = true
		return true
	}
}

// fire runs every pending task scheduled with a delay up to max.
func (s *manualScheduler) fire(max time.Duration) int {
	s.mu.Lock()
	var due []*scheduledTask
	for _, task := range s.tasks {
		if !task.done && !task.cancelled && task.delay <= max {
			task.done = true
			due = append(due, task)
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		task.f()
	}
	return len(due)
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, task := range s.tasks {
		if !task.done && !task.cancelled {
			n++
		}
	}
	return n
}
