package sandbox

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPoolRejectsPastCeiling(t *testing.T) {
	r := NewRunner(5*time.Second, shLanguages(), zerolog.Nop())
	p := NewPool(r, 1, 100*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if res := p.Run(context.Background(), "sleep 1", "sh"); res.Error != "" {
			t.Errorf("occupying run failed: %q", res.Error)
		}
	}()

	// Give the first run time to take the only slot.
	time.Sleep(200 * time.Millisecond)

	res := p.Run(context.Background(), "echo hi", "sh")
	if res.Error == "" || !strings.Contains(res.Error, "capacity") {
		t.Fatalf("expected capacity rejection, got %+v", res)
	}
	wg.Wait()
}

func TestPoolRunsWhenSlotFree(t *testing.T) {
	r := NewRunner(5*time.Second, shLanguages(), zerolog.Nop())
	p := NewPool(r, 2, time.Second)

	res := p.Run(context.Background(), "echo pooled", "sh")
	if res.Error != "" {
		t.Fatalf("unexpected error: %q", res.Error)
	}
	if res.Output != "pooled" {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestPoolHonorsCancelledContext(t *testing.T) {
	r := NewRunner(5*time.Second, shLanguages(), zerolog.Nop())
	p := NewPool(r, 1, time.Minute)

	// Take the slot, then cancel the waiter's context.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Run(context.Background(), "sleep 1", "sh")
	}()
	time.Sleep(200 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Run(ctx, "echo hi", "sh")
	if res.Error == "" {
		t.Fatal("expected a cancellation result")
	}
	wg.Wait()
}
