package metrics

import (
	"context"
	"testing"
	"time"
)

func TestInProcessRollingCounterIncrementsWithinWindow(t *testing.T) {
	c := NewInProcessRollingCounter(time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		got, err := c.Incr(ctx, "t1")
		if err != nil {
			t.Fatalf("Incr: %v", err)
		}
		if got != int64(i) {
			t.Fatalf("want count %d, got %d", i, got)
		}
	}
}

func TestInProcessRollingCounterIsolatesTenants(t *testing.T) {
	c := NewInProcessRollingCounter(time.Minute)
	ctx := context.Background()

	if _, err := c.Incr(ctx, "t1"); err != nil {
		t.Fatalf("Incr t1: %v", err)
	}
	got, err := c.Incr(ctx, "t2")
	if err != nil {
		t.Fatalf("Incr t2: %v", err)
	}
	if got != 1 {
		t.Fatalf("want t2's own counter to start at 1, got %d", got)
	}
}

func TestInProcessRollingCounterResetsAfterWindow(t *testing.T) {
	c := NewInProcessRollingCounter(10 * time.Millisecond)
	ctx := context.Background()

	if _, err := c.Incr(ctx, "t1"); err != nil {
		t.Fatalf("Incr: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	got, err := c.Incr(ctx, "t1")
	if err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if got != 1 {
		t.Fatalf("want counter reset to 1 after window elapsed, got %d", got)
	}
}
