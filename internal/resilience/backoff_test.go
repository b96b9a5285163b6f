package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTransportSchedule(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for attempt, d := range want {
		if got := Transport.Delay(attempt); got != d {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, d)
		}
	}
}

func TestDelayCapped(t *testing.T) {
	for _, attempt := range []int{4, 5, 10, 63} {
		if got := Transport.Delay(attempt); got != 16*time.Second {
			t.Errorf("Delay(%d) = %v, want 16s", attempt, got)
		}
	}
}

func TestDelayNegativeAttempt(t *testing.T) {
	if got := Transport.Delay(-3); got != time.Second {
		t.Errorf("Delay(-3) = %v, want 1s", got)
	}
}

func TestZeroPolicyDefaults(t *testing.T) {
	var p Policy
	if got := p.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want 1s", got)
	}
	if got := p.Attempts(); got != 5 {
		t.Errorf("Attempts() = %d, want 5", got)
	}
}

func TestWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{Initial: time.Hour}
	err := p.Wait(ctx, 0, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() = %v, want context.Canceled", err)
	}
}

func TestWaitStopped(t *testing.T) {
	stop := make(chan struct{})
	close(stop)

	p := Policy{Initial: time.Hour}
	err := p.Wait(context.Background(), 0, stop)
	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Wait() = %v, want ErrStopped", err)
	}
}

func TestWaitElapses(t *testing.T) {
	p := Policy{Initial: time.Millisecond}
	if err := p.Wait(context.Background(), 0, nil); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
}
