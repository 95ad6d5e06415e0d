package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("connection reset")
var errFatal = errors.New("bad request")

func isTransient(err error) bool { return errors.Is(err, errTransient) }

// newTestController records requested delays instead of sleeping.
func newTestController(p Policy) (*Controller, *[]time.Duration) {
	c := New(p, isTransient, nil)
	var delays []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return c, &delays
}

func TestCollectSucceedsFirstTry(t *testing.T) {
	c, delays := newTestController(DefaultPolicy)
	calls := 0
	items, attempts, err := Collect(context.Background(), c, "chats", func(context.Context) ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || attempts != 1 || calls != 1 {
		t.Errorf("items=%v attempts=%d calls=%d", items, attempts, calls)
	}
	if len(*delays) != 0 {
		t.Errorf("delays = %v, want none", *delays)
	}
}

func TestCollectRetriesTransientThenSucceeds(t *testing.T) {
	c, delays := newTestController(DefaultPolicy)
	calls := 0
	items, attempts, err := Collect(context.Background(), c, "chats", func(context.Context) ([]int, error) {
		calls++
		if calls < 3 {
			return nil, errTransient
		}
		return []int{1, 2, 3, 4, 5}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 5 || attempts != 3 {
		t.Errorf("items=%v attempts=%d", items, attempts)
	}
	want := []time.Duration{3 * time.Second, 6 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("delays = %v, want %v", *delays, want)
	}
	for i := range want {
		if (*delays)[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, (*delays)[i], want[i])
		}
	}
}

func TestCollectExhausted(t *testing.T) {
	c, delays := newTestController(DefaultPolicy)
	calls := 0
	_, attempts, err := Collect(context.Background(), c, "chats", func(context.Context) ([]int, error) {
		calls++
		return nil, errTransient
	})
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if ex.Attempts != 3 || attempts != 3 || calls != 3 {
		t.Errorf("attempts=%d reported=%d calls=%d, want 3", ex.Attempts, attempts, calls)
	}
	if !errors.Is(err, errTransient) {
		t.Error("ExhaustedError does not unwrap to the last failure")
	}
	for i := 1; i < len(*delays); i++ {
		if (*delays)[i] <= (*delays)[i-1] {
			t.Errorf("delays not increasing: %v", *delays)
		}
	}
}

func TestCollectNonRetryableStops(t *testing.T) {
	c, delays := newTestController(DefaultPolicy)
	calls := 0
	_, _, err := Collect(context.Background(), c, "contacts", func(context.Context) ([]int, error) {
		calls++
		return nil, errFatal
	})
	if !errors.Is(err, errFatal) {
		t.Fatalf("err = %v, want errFatal", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		t.Error("non-retryable error reported as exhausted")
	}
	if calls != 1 || len(*delays) != 0 {
		t.Errorf("calls=%d delays=%v, want a single attempt", calls, *delays)
	}
}

func TestCollectEmptyFirstResultRetriedOnce(t *testing.T) {
	c, delays := newTestController(DefaultPolicy)
	calls := 0
	items, attempts, err := Collect(context.Background(), c, "chats", func(context.Context) ([]int, error) {
		calls++
		if calls == 1 {
			return []int{}, nil
		}
		return []int{1, 2, 3, 4, 5}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 5 || attempts != 2 {
		t.Errorf("items=%v attempts=%d", items, attempts)
	}
	if len(*delays) != 1 || (*delays)[0] != 3*time.Second {
		t.Errorf("delays = %v, want [3s]", *delays)
	}
}

func TestCollectEmptyRetryAcceptsEmpty(t *testing.T) {
	c, _ := newTestController(DefaultPolicy)
	calls := 0
	items, _, err := Collect(context.Background(), c, "chats", func(context.Context) ([]int, error) {
		calls++
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 || calls != 2 {
		t.Errorf("items=%v calls=%d, want empty after exactly 2 calls", items, calls)
	}
}

func TestCollectEmptyNotRetriedWhenDisabled(t *testing.T) {
	p := DefaultPolicy
	p.RetryEmpty = false
	c, _ := newTestController(p)
	calls := 0
	_, _, err := Collect(context.Background(), c, "chats", func(context.Context) ([]int, error) {
		calls++
		return nil, nil
	})
	if err != nil || calls != 1 {
		t.Errorf("err=%v calls=%d, want one call", err, calls)
	}
}

func TestCollectStopsOnCancel(t *testing.T) {
	c := New(Policy{Base: time.Hour, MaxAttempts: 3}, isTransient, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		_, _, err := Collect(ctx, c, "chats", func(context.Context) ([]int, error) {
			calls++
			return nil, errTransient
		})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Collect did not stop on cancel")
	}
}

func TestDoRetriesTransient(t *testing.T) {
	c, _ := newTestController(Policy{Base: time.Millisecond, MaxAttempts: 2})
	calls := 0
	err := c.Do(context.Background(), "send", func(context.Context) error {
		calls++
		if calls == 1 {
			return errTransient
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}
