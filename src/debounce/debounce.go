// Package debounce coalesces bursts of writes for the same key into a
// single delayed flush, the way lifecycle.go coalesces repeated keepAlive
// pokes into one scheduled stop timer.
package debounce

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Executor persists a coalesced payload for key. Errors are logged, never
// propagated back to the caller that triggered the schedule.
type Executor func(key string, payload any) error

type pending struct {
	timer   *time.Timer
	payload any
}

// Saver debounces Executor calls per key, waiting Delay after the last
// Schedule before actually invoking Executor.
type Saver struct {
	mu       sync.Mutex
	delay    time.Duration
	executor Executor
	pending  map[string]*pending
}

// New creates a Saver that waits delay after the most recent Schedule call
// for a key before invoking executor.
func New(delay time.Duration, executor Executor) *Saver {
	return &Saver{
		delay:    delay,
		executor: executor,
		pending:  make(map[string]*pending),
	}
}

// Schedule records payload as the latest value for key and (re)starts its
// debounce timer. A Schedule call for a key that already has a pending
// timer cancels and replaces that timer, exactly like
// cancelScheduledStop/executeStopWithTimeoutLocked in the teacher's
// lifecycle coalescing.
func (s *Saver) Schedule(key string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[key]; ok {
		p.timer.Stop()
		p.payload = payload
		p.timer = time.AfterFunc(s.delay, func() { s.fire(key) })
		return
	}

	p := &pending{payload: payload}
	p.timer = time.AfterFunc(s.delay, func() { s.fire(key) })
	s.pending[key] = p
}

func (s *Saver) fire(key string) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	s.mu.Unlock()

	if err := s.executor(key, p.payload); err != nil {
		logrus.WithFields(logrus.Fields{"component": "debounce", "key": key}).
			Errorf("debounced save failed: %v", err)
	}
}

// Flush immediately executes and clears the pending timer for key. If key
// is empty, every pending key is flushed. Flush is synchronous: it runs the
// executor inline rather than waiting for the timer.
func (s *Saver) Flush(key string) {
	if key != "" {
		s.flushOne(key)
		return
	}

	s.mu.Lock()
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		s.flushOne(k)
	}
}

func (s *Saver) flushOne(key string) {
	s.mu.Lock()
	p, ok := s.pending[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	p.timer.Stop()
	delete(s.pending, key)
	s.mu.Unlock()

	if err := s.executor(key, p.payload); err != nil {
		logrus.WithFields(logrus.Fields{"component": "debounce", "key": key}).
			Errorf("flush failed: %v", err)
	}
}

// Cancel discards the pending timer and payload for key without executing
// it. If key is empty, every pending key is cancelled.
func (s *Saver) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key != "" {
		if p, ok := s.pending[key]; ok {
			p.timer.Stop()
			delete(s.pending, key)
		}
		return
	}

	for k, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, k)
	}
}

// HasPending reports whether key (or, if empty, any key) has a pending
// unflushed save.
func (s *Saver) HasPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key != "" {
		_, ok := s.pending[key]
		return ok
	}
	return len(s.pending) > 0
}
