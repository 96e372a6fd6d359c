package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func countingOp(calls *atomic.Int32, value any) Operation {
	return func(ctx context.Context) (any, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestCacheHitWithinTTL(t *testing.T) {
	c := New(nil)
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		v, err := c.Do(context.Background(), "menu:items", time.Minute, false, countingOp(&calls, "menu"))
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		if v != "menu" {
			t.Fatalf("value = %v, want menu", v)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("op invoked %d times, want 1", n)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := New(nil)
	var calls atomic.Int32

	base := time.Now()
	c.now = func() time.Time { return base }

	if _, err := c.Do(context.Background(), "k", 10*time.Second, false, countingOp(&calls, 1)); err != nil {
		t.Fatalf("do: %v", err)
	}
	c.now = func() time.Time { return base.Add(11 * time.Second) }
	if _, err := c.Do(context.Background(), "k", 10*time.Second, false, countingOp(&calls, 2)); err != nil {
		t.Fatalf("do: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("op invoked %d times, want 2", n)
	}
}

func TestForceRefreshBypassesCache(t *testing.T) {
	c := New(nil)
	var calls atomic.Int32

	c.Do(context.Background(), "k", time.Minute, false, countingOp(&calls, 1))
	v, err := c.Do(context.Background(), "k", time.Minute, true, countingOp(&calls, 2))
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if v != 2 {
		t.Errorf("value = %v, want 2", v)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("op invoked %d times, want 2", n)
	}
}

func TestCoalescing(t *testing.T) {
	c := New(nil)
	var calls atomic.Int32
	gate := make(chan struct{})

	op := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-gate
		return "shared", nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]any, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Do(context.Background(), "k", time.Minute, false, op)
			if err != nil {
				t.Errorf("do: %v", err)
			}
			results[i] = v
		}(i)
	}

	// Let every caller reach the in-flight request before releasing it.
	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("op invoked %d times, want 1", n)
	}
	for i, v := range results {
		if v != "shared" {
			t.Errorf("results[%d] = %v, want shared", i, v)
		}
	}
}

func TestErrorReachesAllCallersAndCachesNothing(t *testing.T) {
	c := New(nil)
	boom := errors.New("boom")
	gate := make(chan struct{})
	var calls atomic.Int32

	op := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-gate
		return nil, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.Do(context.Background(), "k", time.Minute, false, op)
		}(i)
	}
	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Errorf("errs[%d] = %v, want boom", i, err)
		}
	}
	if _, ok := c.Peek("k"); ok {
		t.Error("failed fetch left a cache entry")
	}

	// The pending marker is gone; a later fetch runs the op again.
	var calls2 atomic.Int32
	if _, err := c.Do(context.Background(), "k", time.Minute, false, countingOp(&calls2, "ok")); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if calls2.Load() != 1 {
		t.Error("retry did not invoke op")
	}
}

func TestInvalidateSubstring(t *testing.T) {
	c := New(nil)
	ctx := context.Background()
	for _, key := range []string{"menu:items", "menu:categories", "tables"} {
		c.Do(ctx, key, time.Minute, false, func(ctx context.Context) (any, error) { return key, nil })
	}

	if n := c.Invalidate("menu"); n != 2 {
		t.Errorf("invalidated %d entries, want 2", n)
	}
	if _, ok := c.Peek("menu:items"); ok {
		t.Error("menu:items survived invalidation")
	}
	if _, ok := c.Peek("tables"); !ok {
		t.Error("tables should not have been invalidated")
	}
}

func TestClear(t *testing.T) {
	c := New(nil)
	c.Do(context.Background(), "k", time.Minute, false, func(ctx context.Context) (any, error) { return 1, nil })
	c.Clear()
	if _, ok := c.Peek("k"); ok {
		t.Error("entry survived Clear")
	}
}
