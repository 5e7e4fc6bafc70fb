package dedup

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecuteCoalescesConcurrentCalls(t *testing.T) {
	d := New()
	defer d.Stop()

	var calls int32
	var wg sync.WaitGroup
	results := make([]any, 10)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := d.Execute("same-key", func() (any, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(20 * time.Millisecond)
				return "value", nil
			})
			if err != nil {
				t.Errorf("execute: %v", err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one underlying call, got %d", calls)
	}
	for _, r := range results {
		if r != "value" {
			t.Fatalf("expected every caller to see the coalesced result, got %v", r)
		}
	}
}

func TestExecuteDoesNotCacheErrorsByDefault(t *testing.T) {
	d := New()
	defer d.Stop()

	var calls int32
	run := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("boom")
	}

	if _, err := d.Execute("k", run); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := d.Execute("k", run); err == nil {
		t.Fatal("expected an error on the second call too")
	}
	if calls != 2 {
		t.Fatalf("expected errors not to be cached, got %d calls", calls)
	}
}

func TestExecuteCachesErrorsWithIncludeErrors(t *testing.T) {
	d := New(WithIncludeErrors())
	defer d.Stop()

	var calls int32
	run := func() (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("boom")
	}

	d.Execute("k", run)
	d.Execute("k", run)

	if calls != 1 {
		t.Fatalf("expected the error to be cached and reused, got %d calls", calls)
	}
}

func TestKeyIsDeterministicAndBounded(t *testing.T) {
	k1, err := Key(map[string]any{"a": 1, "b": "two"})
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	k2, err := Key(map[string]any{"a": 1, "b": "two"})
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("expected identical args to produce the same key, got %q vs %q", k1, k2)
	}
	if len(k1) != 16 {
		t.Fatalf("expected a 16-character key, got %q (%d)", k1, len(k1))
	}
}

func TestDifferentArgsProduceDifferentKeys(t *testing.T) {
	k1, _ := Key(map[string]any{"cmd": "ls"})
	k2, _ := Key(map[string]any{"cmd": "pwd"})
	if k1 == k2 {
		t.Fatal("expected different arguments to produce different keys")
	}
}
