package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/schedule"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// scheduleIn builds a single-slot schedule firing the given duration from
// now in UTC.
func scheduleIn(t *testing.T, d time.Duration, extra ...time.Duration) schedule.DailySchedule {
	t.Helper()
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	offsets := append([]time.Duration{d}, extra...)
	slots := make([]schedule.Slot, 0, len(offsets))
	for i, off := range offsets {
		slots = append(slots, schedule.Slot{Offset: now.Add(off).Sub(midnight), WindowIndex: i})
	}
	return schedule.DailySchedule{
		DailyRequests: len(slots),
		Slots:         slots,
		Location:      time.UTC,
	}
}

func TestPollerFiresSlotAndPublishesSignal(t *testing.T) {
	var fired atomic.Int32
	tick := func(ctx context.Context, sig Signal) error {
		fired.Add(1)
		return nil
	}

	p := New(scheduleIn(t, 50*time.Millisecond), tick, Options{StopPollInterval: 10 * time.Millisecond}, noopLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop(true)

	select {
	case sig := <-p.Signals():
		if sig.FiredTime.IsZero() {
			t.Fatal("signal must carry a fired time")
		}
		if sig.WindowIndex != 0 {
			t.Fatalf("expected window index 0, got %d", sig.WindowIndex)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no signal received")
	}

	if fired.Load() == 0 {
		t.Fatal("callback was not invoked")
	}
}

func TestPollerSurvivesCallbackFailure(t *testing.T) {
	var calls atomic.Int32
	tick := func(ctx context.Context, sig Signal) error {
		calls.Add(1)
		return errors.New("refresh exploded")
	}

	p := New(scheduleIn(t, 40*time.Millisecond, 120*time.Millisecond), tick, Options{StopPollInterval: 10 * time.Millisecond}, noopLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop(true)

	deadline := time.After(3 * time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected 2 callback invocations despite errors, got %d", calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPollerSurvivesCallbackPanic(t *testing.T) {
	var calls atomic.Int32
	tick := func(ctx context.Context, sig Signal) error {
		calls.Add(1)
		panic("boom")
	}

	p := New(scheduleIn(t, 40*time.Millisecond, 120*time.Millisecond), tick, Options{StopPollInterval: 10 * time.Millisecond}, noopLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer p.Stop(true)

	deadline := time.After(3 * time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected the loop to outlive panics, got %d invocations", calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPollerStopReactsQuickly(t *testing.T) {
	// Slot a long way out; Stop must not wait for it.
	p := New(scheduleIn(t, time.Hour), nil, Options{StopPollInterval: 50 * time.Millisecond}, noopLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	started := time.Now()
	p.Stop(true)
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("stop took %v, want under a second", elapsed)
	}
	if p.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", p.State())
	}
}

func TestPollerLifecycle(t *testing.T) {
	p := New(scheduleIn(t, time.Hour), nil, Options{}, noopLogger())
	if p.State() != StateIdle {
		t.Fatalf("new poller should be idle, got %s", p.State())
	}

	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := p.Start(); err == nil {
		t.Fatal("second start must be rejected")
	}

	p.Stop(true)
	p.Stop(true) // idempotent

	if err := p.Start(); err == nil {
		t.Fatal("start after stop must be rejected")
	}
}

func TestPollerStopRacingStartIsSafe(t *testing.T) {
	// Stop from another goroutine must never observe a half-started
	// poller, whichever call wins.
	for i := 0; i < 200; i++ {
		p := New(scheduleIn(t, time.Hour), nil, Options{StopPollInterval: 10 * time.Millisecond}, noopLogger())

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = p.Start()
		}()
		go func() {
			defer wg.Done()
			p.Stop(false)
		}()
		wg.Wait()

		p.Stop(true)
		if p.State() != StateStopped {
			t.Fatalf("iteration %d: expected stopped state, got %s", i, p.State())
		}
	}
}

func TestPollerStopLetsCallbackFinish(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	ctxErr := make(chan error, 1)
	tick := func(ctx context.Context, sig Signal) error {
		close(entered)
		<-release
		ctxErr <- ctx.Err()
		return nil
	}

	p := New(scheduleIn(t, 40*time.Millisecond), tick, Options{StopPollInterval: 10 * time.Millisecond}, noopLogger())
	if err := p.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never invoked")
	}

	p.Stop(false)
	close(release)
	p.Stop(true)

	if err := <-ctxErr; err != nil {
		t.Fatalf("stop must not cancel an in-flight callback, got %v", err)
	}
	if p.State() != StateStopped {
		t.Fatalf("expected stopped state, got %s", p.State())
	}
}

func TestPollerRejectsEmptySchedule(t *testing.T) {
	p := New(schedule.DailySchedule{Location: time.UTC}, nil, Options{}, noopLogger())
	if err := p.Start(); err == nil {
		t.Fatal("empty schedule must be rejected")
	}
}
