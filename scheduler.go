package main

import (
	"sort"
	"time"
)

type scheduledTask struct {
	due float64
	seq uint64
	fn  func()
}

// Scheduler runs delayed callbacks on the room loop, measured in simulated
// time. Tasks are keyed so a newer schedule or a cancel replaces the old one.
type Scheduler struct {
	now   float64
	seq   uint64
	tasks map[string]scheduledTask
}

// NewScheduler creates an empty scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]scheduledTask)}
}

// After runs fn once d of simulated time has passed, replacing any task
// pending under key.
func (s *Scheduler) After(key string, d time.Duration, fn func()) {
	s.seq++
	s.tasks[key] = scheduledTask{due: s.now + d.Seconds(), seq: s.seq, fn: fn}
}

// Cancel drops the task pending under key. Reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	_, ok := s.tasks[key]
	delete(s.tasks, key)
	return ok
}

// Pending reports whether a task is waiting under key
func (s *Scheduler) Pending(key string) bool {
	_, ok := s.tasks[key]
	return ok
}

// Advance moves time forward and runs due tasks in schedule order
func (s *Scheduler) Advance(dt float64) {
	s.now += dt
	type dueTask struct {
		key string
		seq uint64
	}
	var due []dueTask
	for k, t := range s.tasks {
		if t.due <= s.now+1e-9 {
			due = append(due, dueTask{k, t.seq})
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	for _, d := range due {
		// Skip tasks cancelled or rescheduled by an earlier callback
		t, ok := s.tasks[d.key]
		if !ok || t.seq != d.seq {
			continue
		}
		delete(s.tasks, d.key)
		t.fn()
	}
}
