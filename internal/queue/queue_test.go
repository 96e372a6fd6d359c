package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestConcurrencyBound(t *testing.T) {
	q := New(Config{MaxConcurrent: 3, DrainDelay: time.Millisecond}, nil)
	t.Cleanup(q.Close)

	var mu sync.Mutex
	running, peak := 0, 0
	gate := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Submit(context.Background(), "op", PriorityNormal, func(ctx context.Context) (any, error) {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()
				<-gate
				mu.Lock()
				running--
				mu.Unlock()
				return nil, nil
			})
			if err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
	}

	waitFor(t, func() bool { return q.InFlight() == 3 }, "3 operations in flight")
	if n := q.Len(); n != 2 {
		t.Errorf("waiting = %d, want 2", n)
	}

	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if peak != 3 {
		t.Errorf("peak concurrency = %d, want 3", peak)
	}
}

func TestPriorityOrdering(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, DrainDelay: time.Millisecond}, nil)
	t.Cleanup(q.Close)

	var mu sync.Mutex
	var order []string
	record := func(name string) Operation {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	gate := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Submit(context.Background(), "blocker", PriorityNormal, func(ctx context.Context) (any, error) {
			<-gate
			return nil, nil
		})
	}()
	waitFor(t, func() bool { return q.InFlight() == 1 }, "blocker running")

	for i, sub := range []struct {
		name     string
		priority int
	}{
		{"low-1", PriorityLow},
		{"high", PriorityHigh},
		{"low-2", PriorityLow},
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Submit(context.Background(), sub.name, sub.priority, record(sub.name))
		}()
		want := i + 1
		waitFor(t, func() bool { return q.Len() == want }, "submission queued")
	}

	close(gate)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "low-1", "low-2"}
	if len(order) != len(want) {
		t.Fatalf("got %d starts, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("start[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestSubmitTimeout(t *testing.T) {
	q := New(Config{RequestTimeout: 20 * time.Millisecond, DrainDelay: time.Millisecond}, nil)
	t.Cleanup(q.Close)

	released := make(chan struct{})
	_, err := q.Submit(context.Background(), "slow", PriorityNormal, func(ctx context.Context) (any, error) {
		defer close(released)
		time.Sleep(100 * time.Millisecond)
		return "late", nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}

	// The operation was not cancelled; it finishes on its own.
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("abandoned operation never completed")
	}
}

func TestStaleEviction(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, MaxQueueAge: 30 * time.Millisecond, DrainDelay: time.Millisecond}, nil)
	t.Cleanup(q.Close)

	gate := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Submit(context.Background(), "blocker", PriorityNormal, func(ctx context.Context) (any, error) {
			<-gate
			return nil, nil
		})
	}()
	waitFor(t, func() bool { return q.InFlight() == 1 }, "blocker running")

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Submit(context.Background(), "victim", PriorityNormal, func(ctx context.Context) (any, error) {
			return nil, nil
		})
		errCh <- err
	}()
	waitFor(t, func() bool { return q.Len() == 1 }, "victim queued")

	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStale) {
			t.Fatalf("err = %v, want ErrStale", err)
		}
	case <-time.After(time.Second):
		t.Fatal("evicted caller hung instead of failing")
	}
}

func TestSubmitAfterClose(t *testing.T) {
	q := New(Config{}, nil)
	q.Close()

	_, err := q.Submit(context.Background(), "op", PriorityNormal, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestCallerContextCancel(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, DrainDelay: time.Millisecond}, nil)
	t.Cleanup(q.Close)

	ctx, cancel := context.WithCancel(context.Background())
	gate := make(chan struct{})
	defer close(gate)

	go q.Submit(context.Background(), "blocker", PriorityNormal, func(ctx context.Context) (any, error) {
		<-gate
		return nil, nil
	})
	waitFor(t, func() bool { return q.InFlight() == 1 }, "blocker running")

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Submit(ctx, "cancelled", PriorityNormal, func(ctx context.Context) (any, error) {
			return nil, nil
		})
		errCh <- err
	}()
	waitFor(t, func() bool { return q.Len() == 1 }, "submission queued")

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller hung")
	}
}
