// Package buffer implements the bounded, line-numbered output buffer shared
// by background processes and interactive PTY sessions. It keeps the last
// Capacity lines written by a stream and lets readers block until new lines
// arrive without re-reading what they already have.
package buffer

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Capacity is the maximum number of OutputLine entries retained per buffer.
	Capacity = 10000

	// MaxWaiters bounds how many blocked WaitForNew calls a buffer tolerates
	// before it force-reaps the oldest one to make room for a new waiter.
	MaxWaiters = 100

	// MaxWait clamps how long a single WaitForNew call may block.
	MaxWait = 60 * time.Second

	sweepInterval = 30 * time.Second
)

// OutputLine is a single line captured from a process or session stream.
type OutputLine struct {
	LineNumber int64     `json:"lineNumber"`
	Stream     string    `json:"stream"` // "stdout" | "stderr"
	Timestamp  time.Time `json:"timestamp"`
	Content    string    `json:"content"`
}

// BackpressureError describes a waiter force-reaped to make room for a newer
// one because MaxWaiters was already saturated. WaitForNew does not return
// it: the reaped waiter receives a nil delivery instead.
type BackpressureError struct{}

func (BackpressureError) Error() string {
	return "buffer: too many waiters blocked, oldest waiter was force-reaped"
}

type waiter struct {
	minLine  int64
	deadline time.Time
	delivery chan []OutputLine
	elem     *list.Element
}

// Buffer is a capacity-bounded ring of OutputLine plus a set of blocked
// readers waiting for lines beyond what they have already seen.
type Buffer struct {
	mu         sync.Mutex
	lines      []OutputLine
	totalLines int64 // monotonic count of lines ever appended, never decreases
	waiters    *list.List // of *waiter, oldest first
	closed     bool

	sweepCancel context.CancelFunc
	sweepOnce   sync.Once
}

// New creates an empty Buffer and starts its background waiter sweep.
func New() *Buffer {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Buffer{
		lines:       make([]OutputLine, 0, 256),
		waiters:     list.New(),
		sweepCancel: cancel,
	}
	go b.sweepLoop(ctx)
	return b
}

// Append adds content as the next line on the given stream and wakes any
// waiter whose threshold has now been satisfied.
func (b *Buffer) Append(stream, content string) OutputLine {
	b.mu.Lock()
	b.totalLines++
	line := OutputLine{
		LineNumber: b.totalLines,
		Stream:     stream,
		Timestamp:  time.Now(),
		Content:    content,
	}
	b.lines = append(b.lines, line)
	if len(b.lines) > Capacity {
		b.lines = b.lines[len(b.lines)-Capacity:]
	}
	ready := b.collectReadyLocked()
	b.mu.Unlock()

	for _, w := range ready {
		b.deliver(w)
	}
	return line
}

// collectReadyLocked removes and returns waiters whose minLine has been
// reached. Caller must hold b.mu.
func (b *Buffer) collectReadyLocked() []*waiter {
	var ready []*waiter
	var next *list.Element
	for e := b.waiters.Front(); e != nil; e = next {
		next = e.Next()
		w := e.Value.(*waiter)
		if b.totalLines >= w.minLine {
			b.waiters.Remove(e)
			ready = append(ready, w)
		}
	}
	return ready
}

func (b *Buffer) deliver(w *waiter) {
	select {
	case w.delivery <- b.readFromLocked(w.minLine):
	default:
	}
}

// Read returns every retained line with LineNumber >= fromLine (inclusive),
// or the empty slice if fromLine is beyond what is currently buffered.
func (b *Buffer) Read(fromLine int64) []OutputLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readFromLocked(fromLine)
}

func (b *Buffer) readFromLocked(fromLine int64) []OutputLine {
	if len(b.lines) == 0 {
		return nil
	}
	oldest := b.lines[0].LineNumber
	idx := 0
	if fromLine > oldest {
		idx = int(fromLine - oldest)
	}
	if idx >= len(b.lines) {
		return nil
	}
	out := make([]OutputLine, len(b.lines)-idx)
	copy(out, b.lines[idx:])
	return out
}

// TotalLines returns the number of lines ever appended to this buffer.
func (b *Buffer) TotalLines() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalLines
}

// WaitForNew blocks until a line with LineNumber > afterLine is available,
// timeout elapses, or ctx is cancelled. A zero timeout returns immediately
// with whatever is already available (non-blocking poll).
func (b *Buffer) WaitForNew(ctx context.Context, afterLine int64, timeout time.Duration) []OutputLine {
	if timeout > MaxWait {
		timeout = MaxWait
	}

	b.mu.Lock()
	if b.totalLines > afterLine || b.closed {
		out := b.readFromLocked(afterLine + 1)
		b.mu.Unlock()
		return out
	}
	if timeout <= 0 {
		b.mu.Unlock()
		return nil
	}

	w := &waiter{
		minLine:  afterLine + 1,
		deadline: time.Now().Add(timeout),
		delivery: make(chan []OutputLine, 1),
	}
	w.elem = b.waiters.PushBack(w)
	forceReaped := b.waiters.Len() > MaxWaiters
	var reapedWaiter *waiter
	if forceReaped {
		front := b.waiters.Front()
		reapedWaiter = front.Value.(*waiter)
		b.waiters.Remove(front)
	}
	b.mu.Unlock()

	if reapedWaiter != nil && reapedWaiter != w {
		logrus.WithField("component", "buffer").Warn("force-reaping oldest waiter, MaxWaiters exceeded")
		select {
		case reapedWaiter.delivery <- nil:
		default:
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case lines := <-w.delivery:
		return lines
	case <-timer.C:
		b.removeWaiter(w)
		return nil
	case <-ctx.Done():
		b.removeWaiter(w)
		return nil
	}
}

func (b *Buffer) removeWaiter(w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w.elem != nil {
		b.waiters.Remove(w.elem)
	}
}

func (b *Buffer) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweepStaleWaiters()
		}
	}
}

func (b *Buffer) sweepStaleWaiters() {
	now := time.Now()
	b.mu.Lock()
	var stale []*waiter
	var next *list.Element
	for e := b.waiters.Front(); e != nil; e = next {
		next = e.Next()
		w := e.Value.(*waiter)
		if now.After(w.deadline) {
			b.waiters.Remove(e)
			stale = append(stale, w)
		}
	}
	b.mu.Unlock()

	for _, w := range stale {
		select {
		case w.delivery <- nil:
		default:
		}
	}
}

// Cleanup marks the buffer closed, wakes every blocked waiter with whatever
// is currently available, and stops the background sweep goroutine.
func (b *Buffer) Cleanup() {
	b.mu.Lock()
	b.closed = true
	var all []*waiter
	for e := b.waiters.Front(); e != nil; e = e.Next() {
		all = append(all, e.Value.(*waiter))
	}
	b.waiters.Init()
	b.mu.Unlock()

	for _, w := range all {
		lines := b.Read(w.minLine)
		select {
		case w.delivery <- lines:
		default:
		}
	}

	b.sweepOnce.Do(func() {
		b.sweepCancel()
	})
}
