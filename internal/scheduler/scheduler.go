package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"crypto-price-alerts/internal/schedule"
)

// State reflects the poller lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Signal is emitted each time a scheduled slot fires.
type Signal struct {
	ScheduledTime time.Time
	FiredTime     time.Time
	SinceLast     time.Duration
	WindowIndex   int
}

// TickFunc is invoked synchronously from the poller goroutine on every
// fired slot. A non-nil error is logged and the loop continues.
type TickFunc func(ctx context.Context, sig Signal) error

// Options tune poller behaviour.
type Options struct {
	// SignalBuffer bounds the diagnostics signal channel. Signals are
	// dropped, not queued, once the buffer is full.
	SignalBuffer int
	// StopPollInterval caps how long the loop sleeps before re-checking
	// the stop flag. Defaults to one second.
	StopPollInterval time.Duration
}

// Poller fires a refresh callback at each slot of a daily schedule. It owns
// timing only; all business data lives with the callback.
type Poller struct {
	sched   schedule.DailySchedule
	tick    TickFunc
	opts    Options
	logger  zerolog.Logger
	signals chan Signal

	state atomic.Int32
	done  chan struct{}

	// mu orders the state transition and the cancel handoff so that a Stop
	// racing Start never observes a nil cancel func.
	mu     sync.Mutex
	cancel context.CancelFunc

	lastFired time.Time
}

// New constructs a poller for the given daily schedule.
func New(sched schedule.DailySchedule, tick TickFunc, opts Options, logger zerolog.Logger) *Poller {
	if opts.SignalBuffer <= 0 {
		opts.SignalBuffer = 64
	}
	if opts.StopPollInterval <= 0 {
		opts.StopPollInterval = time.Second
	}
	p := &Poller{
		sched:   sched,
		tick:    tick,
		opts:    opts,
		logger:  logger.With().Str("component", "poller").Logger(),
		signals: make(chan Signal, opts.SignalBuffer),
		done:    make(chan struct{}),
	}
	p.state.Store(int32(StateIdle))
	return p
}

// Signals exposes the bounded diagnostics stream. Consumers that fall
// behind lose signals rather than stalling the loop.
func (p *Poller) Signals() <-chan Signal {
	return p.signals
}

// State reports the current lifecycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Start launches the background loop. Only the Idle -> Running transition
// is legal; Start on a running or stopped poller is an error.
func (p *Poller) Start() error {
	if len(p.sched.Slots) == 0 {
		return fmt.Errorf("poller: schedule has no slots")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("poller: cannot start from state %s", p.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)

	p.logger.Info().Int("slots", len(p.sched.Slots)).Msg("poller started")
	return nil
}

// Stop signals the loop to exit at its next wake check. Safe to call from
// any goroutine and idempotent. With wait set it blocks until the loop has
// fully exited, including any in-flight callback.
func (p *Poller) Stop(wait bool) {
	p.mu.Lock()
	if p.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		p.cancel()
	}
	p.mu.Unlock()

	if wait && State(p.state.Load()) != StateIdle {
		<-p.done
	}
}

func (p *Poller) run(ctx context.Context) {
	defer func() {
		p.state.Store(int32(StateStopped))
		close(p.done)
		p.logger.Info().Msg("poller stopped")
	}()

	for {
		now := time.Now().In(p.sched.Location)
		next, windowIndex := p.nextOccurrence(now)

		if !p.sleepUntil(ctx, next) {
			return
		}

		fired := time.Now().In(p.sched.Location)
		sig := Signal{
			ScheduledTime: next,
			FiredTime:     fired,
			WindowIndex:   windowIndex,
		}
		if !p.lastFired.IsZero() {
			sig.SinceLast = fired.Sub(p.lastFired)
		}
		p.lastFired = fired

		select {
		case p.signals <- sig:
		default:
			p.logger.Debug().Time("scheduled", sig.ScheduledTime).Msg("signal queue full, dropping signal")
		}

		// Cancellation applies to the sleep only: a stop arriving while
		// the callback runs lets it finish its fetch, then the loop
		// observes the stop flag and exits.
		p.invoke(context.WithoutCancel(ctx), sig)

		if ctx.Err() != nil {
			return
		}
	}
}

// nextOccurrence finds the earliest slot occurrence at or after now. Slots
// whose time of day has already passed recur tomorrow.
func (p *Poller) nextOccurrence(now time.Time) (time.Time, int) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.sched.Location)

	var best time.Time
	bestWindow := -1
	for _, slot := range p.sched.Slots {
		at := midnight.Add(slot.Offset)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		if bestWindow == -1 || at.Before(best) {
			best = at
			bestWindow = slot.WindowIndex
		}
	}
	return best, bestWindow
}

// sleepUntil blocks until the deadline, waking at least once per
// StopPollInterval so cancellation reacts within about a second. Returns
// false when the poller is stopping.
func (p *Poller) sleepUntil(ctx context.Context, deadline time.Time) bool {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err() == nil
		}
		step := remaining
		if step > p.opts.StopPollInterval {
			step = p.opts.StopPollInterval
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// invoke runs the callback, isolating failures so they never terminate the
// loop.
func (p *Poller) invoke(ctx context.Context, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Time("scheduled", sig.ScheduledTime).Msg("refresh callback panicked")
		}
	}()

	if p.tick == nil {
		return
	}
	if err := p.tick(ctx, sig); err != nil {
		p.logger.Error().Err(err).Time("scheduled", sig.ScheduledTime).Msg("refresh callback failed")
	}
}
