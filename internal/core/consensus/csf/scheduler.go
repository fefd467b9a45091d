// Package csf is the simulation harness: a discrete-event scheduler running
// in simulated time and a Sim that owns the round engine state across ticks,
// feeding every round result to collectors, sinks and the event bus.
package csf

import (
	"container/heap"
	"sync"
	"time"
)

// SimTime is simulated time as an offset from the scheduler epoch.
type SimTime time.Duration

// SimDuration is an alias for time.Duration used in simulation.
type SimDuration = time.Duration

// event is a handler scheduled at a point in simulated time.
type event struct {
	when    SimTime
	seq     uint64 // stable ordering of same-time events
	handler func()
	index   int
}

// eventHeap orders events by time, then by scheduling order.
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].when == h[j].when {
		return h[i].seq < h[j].seq
	}
	return h[i].when < h[j].when
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x interface{}) {
	e := x.(*event)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler runs handlers in simulated time order without real delays.
// Handlers run without the scheduler lock held and may schedule more events.
type Scheduler struct {
	mu      sync.Mutex
	epoch   time.Time
	now     SimTime
	events  eventHeap
	nextSeq uint64
}

// NewScheduler creates a scheduler whose time 0 maps to epoch.
func NewScheduler(epoch time.Time) *Scheduler {
	s := &Scheduler{epoch: epoch}
	heap.Init(&s.events)
	return s
}

// Now returns the current simulated time.
func (s *Scheduler) Now() SimTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// NowTime returns the current simulated time as a wall-clock instant.
func (s *Scheduler) NowTime() time.Time {
	return s.epoch.Add(time.Duration(s.Now()))
}

// In schedules handler d after the current time and returns a cancel func.
func (s *Scheduler) In(d SimDuration, handler func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(s.now+SimTime(d), handler)
}

// At schedules handler at an absolute simulated time and returns a cancel func.
func (s *Scheduler) At(when SimTime, handler func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(when, handler)
}

func (s *Scheduler) scheduleLocked(when SimTime, handler func()) func() {
	if when < s.now {
		when = s.now
	}
	e := &event{when: when, seq: s.nextSeq, handler: handler}
	s.nextSeq++
	heap.Push(&s.events, e)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if e.index >= 0 {
			heap.Remove(&s.events, e.index)
		}
	}
}

// StepOne runs the earliest event, advancing the clock to it.
// It reports false when the queue is empty.
func (s *Scheduler) StepOne() bool {
	s.mu.Lock()
	if s.events.Len() == 0 {
		s.mu.Unlock()
		return false
	}
	e := heap.Pop(&s.events).(*event)
	s.now = e.when
	s.mu.Unlock()

	e.handler()
	return true
}

// StepFor runs events for d of simulated time and leaves the clock at the
// end of the window.
func (s *Scheduler) StepFor(d SimDuration) int {
	s.mu.Lock()
	end := s.now + SimTime(d)
	s.mu.Unlock()
	return s.StepUntil(end)
}

// StepUntil runs every event due at or before until and leaves the clock there.
func (s *Scheduler) StepUntil(until SimTime) int {
	count := 0
	for {
		s.mu.Lock()
		if s.events.Len() == 0 || s.events[0].when > until {
			if until > s.now {
				s.now = until
			}
			s.mu.Unlock()
			return count
		}
		e := heap.Pop(&s.events).(*event)
		s.now = e.when
		s.mu.Unlock()

		e.handler()
		count++
	}
}

// StepWhile runs events one at a time while pred holds.
func (s *Scheduler) StepWhile(pred func() bool) int {
	count := 0
	for pred() {
		if !s.StepOne() {
			break
		}
		count++
	}
	return count
}

// Reset drops every pending event and rewinds the clock to the epoch.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		e.index = -1
	}
	s.events = s.events[:0]
	s.now = 0
}

// Empty reports whether no events are pending.
func (s *Scheduler) Empty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len() == 0
}

// PendingCount returns the number of pending events.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}
