// Package recovery retries stalled playback with bounded exponential backoff.
//
// A Controller belongs to one player session. Faults move it from IDLE to RECOVERING and schedule
// a re-prepare of the current item; once the consecutive fault count reaches the configured
// maximum it enters FAILED and stops retrying. FAILED is left only by installing a new
// Controller.
package recovery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"melodeck/internal/core"
	"melodeck/internal/events"
)

const (
	defaultMaxConsecutiveFaults = core.DefaultMaxConsecutiveFaults
	defaultBaseBackoff          = time.Second
	defaultMaxBackoff           = 8 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Controller struct {
	player    core.RecoverablePlayer
	logger    *zap.Logger
	publisher events.Publisher
	recorder  core.Recorder
	sleep     SleepFunc

	maxFaults   int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    core.RecoveryState
	faults   int
	backoff  time.Duration
	attempts int
	pending  context.CancelFunc
	gen      uint64
	released bool

	// emitMu is taken before mu is released so events leave in transition order.
	emitMu sync.Mutex
}

func NewController(
	config *core.RecoveryConfig,
	player core.RecoverablePlayer,
	publisher events.Publisher,
	logger *zap.Logger,
) *Controller {
	maxFaults := config.MaxConsecutiveFaults
	if maxFaults <= 0 {
		maxFaults = defaultMaxConsecutiveFaults
	}
	base := config.BaseBackoff
	if base <= 0 {
		base = defaultBaseBackoff
	}
	ceiling := config.MaxBackoff
	if ceiling <= 0 {
		ceiling = defaultMaxBackoff
	}
	if ceiling < base {
		ceiling = base
	}
	if publisher == nil {
		publisher = events.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		player:      player,
		logger:      logger,
		publisher:   publisher,
		recorder:    core.NopRecorder{},
		sleep:       waitForBackoff,
		maxFaults:   maxFaults,
		baseBackoff: base,
		maxBackoff:  ceiling,
		ctx:         ctx,
		cancel:      cancel,
		state:       core.RecoveryIdle,
		backoff:     base,
	}
}

func (c *Controller) SetRecorder(rec core.Recorder) {
	c.recorder = rec
}

// SetSleep replaces the backoff wait, mainly so tests can fire attempts by hand.
func (c *Controller) SetSleep(fn SleepFunc) {
	c.sleep = fn
}

func (c *Controller) State() core.RecoveryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) FaultCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faults
}

// Backoff returns the delay the next scheduled attempt will wait.
func (c *Controller) Backoff() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backoff
}

// Attempts returns how many scheduled attempts have fired.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// OnPlaybackFault records a fault. Faults after FAILED or after Release are ignored.
func (c *Controller) OnPlaybackFault(fault error) {
	c.mu.Lock()
	if c.released || c.state == core.RecoveryFailed {
		c.mu.Unlock()
		return
	}

	c.faults++
	c.recorder.RecordRecoveryFault()
	c.cancelPendingLocked()

	if c.faults >= c.maxFaults {
		c.logger.Error("Playback recovery gave up",
			zap.Int("faults", c.faults),
			zap.Error(fault))
		c.transitionLocked(core.RecoveryFailed)
		return
	}

	delay := c.backoff
	attemptCtx, cancel := context.WithCancel(c.ctx)
	c.pending = cancel
	c.gen++
	c.wg.Add(1)
	go c.runAttempt(attemptCtx, c.gen, delay)

	c.logger.Warn("Playback fault, scheduling recovery",
		zap.Int("faults", c.faults),
		zap.Duration("backoff", delay),
		zap.Error(fault))
	c.transitionLocked(core.RecoveryRecovering)
}

// OnPlaybackStarted resets the fault count and backoff. It is a no-op when no fault is pending
// and in FAILED.
func (c *Controller) OnPlaybackStarted() {
	c.mu.Lock()
	if c.released || c.faults == 0 || c.state == core.RecoveryFailed {
		c.mu.Unlock()
		return
	}

	c.cancelPendingLocked()
	c.faults = 0
	c.backoff = c.baseBackoff
	c.logger.Info("Playback recovered")
	c.transitionLocked(core.RecoveryIdle)
}

// Release cancels any scheduled attempt and waits for in-flight attempts to return.
// No attempt fires after Release returns.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	c.cancelPendingLocked()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Controller) runAttempt(ctx context.Context, gen uint64, delay time.Duration) {
	defer c.wg.Done()

	if err := c.sleep(ctx, delay); err != nil {
		return
	}

	c.mu.Lock()
	if ctx.Err() != nil || c.released || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.attempts++
	c.backoff = nextBackoff(c.backoff, c.maxBackoff)
	c.mu.Unlock()

	c.recorder.RecordRecoveryAttempt()

	if !c.player.HasCurrentItem() || c.player.State() == core.PlaybackIdle {
		c.logger.Debug("Recovery skipped, nothing to resume")
		return
	}
	if err := c.player.Prepare(); err != nil {
		c.logger.Warn("Recovery prepare failed", zap.Error(err))
		return
	}
	if err := c.player.Play(); err != nil {
		c.logger.Warn("Recovery play failed", zap.Error(err))
	}
}

func (c *Controller) cancelPendingLocked() {
	if c.pending != nil {
		c.pending()
		c.pending = nil
	}
}

// transitionLocked sets the state and publishes it. It must be called with mu held and
// returns with mu released.
func (c *Controller) transitionLocked(state core.RecoveryState) {
	c.state = state
	event := events.NewRecoveryStateEvent(state, c.faults, c.backoff)

	c.emitMu.Lock()
	c.mu.Unlock()
	defer c.emitMu.Unlock()

	c.recorder.RecordRecoveryState(state)
	c.publisher.Publish(event)
}

func nextBackoff(current, ceiling time.Duration) time.Duration {
	next := current * 2
	if next > ceiling || next <= 0 {
		return ceiling
	}
	return next
}

func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
