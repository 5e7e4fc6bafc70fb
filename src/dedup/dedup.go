// Package dedup implements the Request Deduplicator (C10): in-flight and
// recently-completed calls keyed by a content hash are coalesced so
// concurrent identical requests share one execution.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TTL is how long a cached entry (in-flight or completed) stays reusable.
const TTL = 10 * time.Second

// MaxSize bounds how many completed entries the LRU retains.
const MaxSize = 1000

// sweepInterval is the maximum period between expired-entry sweeps.
const sweepInterval = 60 * time.Second

type entry struct {
	createdAt time.Time
	done      chan struct{}
	result    any
	err       error
}

func (e *entry) expired(now time.Time) bool {
	select {
	case <-e.done:
		return now.Sub(e.createdAt) > TTL
	default:
		return false // in-flight entries never expire out from under their callers
	}
}

// Deduplicator coalesces concurrent or rapidly repeated calls that share a
// key.
type Deduplicator struct {
	mu            sync.Mutex
	entries       map[string]*entry
	lru           *lru.Cache[string, struct{}]
	includeErrors bool
	sweepCancel   context.CancelFunc
	sweepOnce     sync.Once
}

// Option configures a Deduplicator at construction time.
type Option func(*Deduplicator)

// WithIncludeErrors caches a failed call's error the same as a success.
func WithIncludeErrors() Option {
	return func(d *Deduplicator) { d.includeErrors = true }
}

// New constructs a Deduplicator and starts its background sweep.
func New(opts ...Option) *Deduplicator {
	cache, _ := lru.New[string, struct{}](MaxSize)
	d := &Deduplicator{
		entries: make(map[string]*entry),
		lru:     cache,
	}
	for _, opt := range opts {
		opt(d)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.sweepCancel = cancel
	go d.sweepLoop(ctx)

	return d
}

// Key derives the default dedup key: SHA-256 of the JSON-encoded args,
// truncated to 16 hex characters.
func Key(args any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16], nil
}

// Execute runs fn unless an in-flight or cached (age ≤ TTL) call with the
// same key already exists, in which case that call's outcome is reused.
func (d *Deduplicator) Execute(key string, fn func() (any, error)) (any, error) {
	d.mu.Lock()
	if e, ok := d.entries[key]; ok && !e.expired(time.Now()) {
		d.mu.Unlock()
		<-e.done
		return e.result, e.err
	}

	e := &entry{createdAt: time.Now(), done: make(chan struct{})}
	d.entries[key] = e
	d.mu.Unlock()

	result, err := fn()

	e.result = result
	e.err = err
	close(e.done)

	if err == nil || d.includeErrors {
		d.mu.Lock()
		if !d.lru.Contains(key) && d.lru.Len() >= MaxSize {
			if evictKey, _, ok := d.lru.RemoveOldest(); ok {
				delete(d.entries, evictKey)
			}
		}
		d.lru.Add(key, struct{}{})
		d.mu.Unlock()
	} else {
		d.mu.Lock()
		delete(d.entries, key)
		d.mu.Unlock()
	}

	return result, err
}

func (d *Deduplicator) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweepExpired()
		}
	}
}

func (d *Deduplicator) sweepExpired() {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.entries {
		if e.expired(now) {
			delete(d.entries, key)
			d.lru.Remove(key)
		}
	}
}

// Stop terminates the background sweep.
func (d *Deduplicator) Stop() {
	d.sweepOnce.Do(func() {
		if d.sweepCancel != nil {
			d.sweepCancel()
		}
	})
}
