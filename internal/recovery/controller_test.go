package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"melodeck/internal/core"
	"melodeck/internal/events"
)

var errStall = errors.New("stall")

type fakePlayer struct {
	mu       sync.Mutex
	hasItem  bool
	state    core.PlaybackState
	prepared int
	played   chan struct{}
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{hasItem: true, state: core.PlaybackBuffering, played: make(chan struct{}, 16)}
}

func (p *fakePlayer) HasCurrentItem() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasItem
}

func (p *fakePlayer) State() core.PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePlayer) Prepare() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prepared++
	return nil
}

func (p *fakePlayer) Play() error {
	p.played <- struct{}{}
	return nil
}

func (p *fakePlayer) preparedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepared
}

// manualSleep lets a test decide when a scheduled attempt fires.
type manualSleep struct {
	scheduled chan scheduledSleep
}

type scheduledSleep struct {
	delay time.Duration
	fire  chan struct{}
}

func newManualSleep() *manualSleep {
	return &manualSleep{scheduled: make(chan scheduledSleep, 16)}
}

func (m *manualSleep) sleep(ctx context.Context, d time.Duration) error {
	s := scheduledSleep{delay: d, fire: make(chan struct{})}
	m.scheduled <- s
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.fire:
		return nil
	}
}

type attemptRecorder struct {
	core.NopRecorder
	attempts chan struct{}
}

func (r *attemptRecorder) RecordRecoveryAttempt() {
	r.attempts <- struct{}{}
}

func newTestController(t *testing.T, maxFaults int, player core.RecoverablePlayer) (*Controller, *manualSleep, *[]core.RecoveryState) {
	t.Helper()

	bus := events.NewBus(zap.NewNop())
	var mu sync.Mutex
	states := &[]core.RecoveryState{}
	bus.Subscribe(events.TypeRecoveryState, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		*states = append(*states, e.(events.RecoveryStateEvent).State)
	})

	c := NewController(&core.RecoveryConfig{
		MaxConsecutiveFaults: maxFaults,
		BaseBackoff:          time.Second,
		MaxBackoff:           8 * time.Second,
	}, player, bus, zap.NewNop())
	sleeper := newManualSleep()
	c.SetSleep(sleeper.sleep)
	return c, sleeper, states
}

func TestController_FailsAfterMaxConsecutiveFaults(t *testing.T) {
	defer goleak.VerifyNone(t)

	player := newFakePlayer()
	c, sleeper, states := newTestController(t, 3, player)

	for i := 0; i < 3; i++ {
		c.OnPlaybackFault(errStall)
	}

	if c.State() != core.RecoveryFailed {
		t.Fatalf("Expected FAILED, got %s", c.State())
	}

	expected := []core.RecoveryState{core.RecoveryRecovering, core.RecoveryRecovering, core.RecoveryFailed}
	if len(*states) != len(expected) {
		t.Fatalf("Expected transitions %v, got %v", expected, *states)
	}
	for i := range expected {
		if (*states)[i] != expected[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, expected[i], (*states)[i])
		}
	}

	// A fault in FAILED neither schedules nor transitions.
	c.OnPlaybackFault(errStall)
	c.Release()

	if n := len(sleeper.scheduled); n != 2 {
		t.Errorf("Expected 2 scheduled attempts, got %d", n)
	}
	if c.Attempts() != 0 || player.preparedCount() != 0 {
		t.Error("No recovery attempt may run after entering FAILED")
	}
	if len(*states) != 3 {
		t.Errorf("Faults in FAILED must not emit, got %v", *states)
	}
}

func TestController_BackoffDoublesUpToCeiling(t *testing.T) {
	defer goleak.VerifyNone(t)

	player := newFakePlayer()
	c, sleeper, _ := newTestController(t, 100, player)
	defer c.Release()

	base, ceiling := time.Second, 8*time.Second
	for k := 1; k <= 6; k++ {
		c.OnPlaybackFault(errStall)

		pending := <-sleeper.scheduled
		if want := min(base<<(k-1), ceiling); pending.delay != want {
			t.Errorf("Attempt %d scheduled after %v, want %v", k, pending.delay, want)
		}

		close(pending.fire)
		<-player.played

		if want := min(base<<k, ceiling); c.Backoff() != want {
			t.Errorf("After %d attempts backoff = %v, want %v", k, c.Backoff(), want)
		}
		if c.Attempts() != k {
			t.Errorf("Expected %d attempts, got %d", k, c.Attempts())
		}
	}
}

func TestController_StartedResetsFaults(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _, states := newTestController(t, 3, newFakePlayer())
	defer c.Release()

	c.OnPlaybackFault(errStall)
	c.OnPlaybackFault(errStall)
	c.OnPlaybackStarted()

	if c.State() != core.RecoveryIdle || c.FaultCount() != 0 || c.Backoff() != time.Second {
		t.Fatalf("Expected reset to IDLE, got state=%s faults=%d backoff=%v",
			c.State(), c.FaultCount(), c.Backoff())
	}

	c.OnPlaybackFault(errStall)
	c.OnPlaybackFault(errStall)
	if c.State() != core.RecoveryRecovering {
		t.Errorf("Interleaved start should prevent FAILED, got %s", c.State())
	}

	c.OnPlaybackFault(errStall)
	if c.State() != core.RecoveryFailed {
		t.Errorf("Expected FAILED after 3 uninterrupted faults, got %s", c.State())
	}

	last := (*states)[len(*states)-1]
	if last != core.RecoveryFailed {
		t.Errorf("Expected last published state FAILED, got %s", last)
	}
}

func TestController_StartedDoesNotLeaveFailed(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _, states := newTestController(t, 2, newFakePlayer())
	defer c.Release()

	c.OnPlaybackFault(errStall)
	c.OnPlaybackFault(errStall)
	c.OnPlaybackStarted()

	if c.State() != core.RecoveryFailed || c.FaultCount() != 2 {
		t.Errorf("Expected FAILED with 2 faults, got state=%s faults=%d", c.State(), c.FaultCount())
	}
	if len(*states) != 2 {
		t.Errorf("Start in FAILED must not emit, got %v", *states)
	}
}

func TestController_StartedWithoutFaultsIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _, states := newTestController(t, 3, newFakePlayer())
	defer c.Release()

	c.OnPlaybackStarted()
	c.OnPlaybackStarted()

	if len(*states) != 0 {
		t.Errorf("Expected no state emission, got %v", *states)
	}
}

func TestController_SkipsAttemptWithoutCurrentItem(t *testing.T) {
	defer goleak.VerifyNone(t)

	player := newFakePlayer()
	player.hasItem = false
	c, sleeper, _ := newTestController(t, 3, player)
	defer c.Release()

	recorder := &attemptRecorder{attempts: make(chan struct{}, 1)}
	c.SetRecorder(recorder)

	c.OnPlaybackFault(errStall)
	close((<-sleeper.scheduled).fire)
	<-recorder.attempts

	if player.preparedCount() != 0 {
		t.Error("Player without a current item must not be re-prepared")
	}
	if c.Backoff() != 2*time.Second {
		t.Errorf("Backoff should still double, got %v", c.Backoff())
	}
}

func TestController_ReleaseCancelsPendingAttempt(t *testing.T) {
	defer goleak.VerifyNone(t)

	player := newFakePlayer()
	c, sleeper, _ := newTestController(t, 3, player)

	c.OnPlaybackFault(errStall)
	<-sleeper.scheduled
	c.Release()

	if c.Attempts() != 0 || player.preparedCount() != 0 {
		t.Error("Attempt fired after Release")
	}

	c.OnPlaybackFault(errStall)
	if c.FaultCount() != 1 {
		t.Errorf("Faults after Release must be ignored, got count %d", c.FaultCount())
	}

	// Release is idempotent.
	c.Release()
}

func TestController_NewFaultReplacesPendingAttempt(t *testing.T) {
	defer goleak.VerifyNone(t)

	player := newFakePlayer()
	c, sleeper, _ := newTestController(t, 5, player)
	defer c.Release()

	c.OnPlaybackFault(errStall)
	first := <-sleeper.scheduled
	c.OnPlaybackFault(errStall)
	second := <-sleeper.scheduled

	// The replaced attempt must stay silent even if its wait completes.
	close(first.fire)
	close(second.fire)
	<-player.played

	c.Release()
	if c.Attempts() != 1 {
		t.Errorf("Only the latest scheduled attempt should fire, got %d", c.Attempts())
	}
}

func TestController_RealTimerFires(t *testing.T) {
	defer goleak.VerifyNone(t)

	player := newFakePlayer()
	c := NewController(&core.RecoveryConfig{
		MaxConsecutiveFaults: 3,
		BaseBackoff:          5 * time.Millisecond,
		MaxBackoff:           20 * time.Millisecond,
	}, player, nil, zap.NewNop())
	defer c.Release()

	c.OnPlaybackFault(errStall)

	select {
	case <-player.played:
	case <-time.After(time.Second):
		t.Fatal("Scheduled attempt did not fire")
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		current, ceiling, expected time.Duration
	}{
		{time.Second, 8 * time.Second, 2 * time.Second},
		{4 * time.Second, 8 * time.Second, 8 * time.Second},
		{8 * time.Second, 8 * time.Second, 8 * time.Second},
		{6 * time.Second, 8 * time.Second, 8 * time.Second},
	}

	for _, tt := range tests {
		if got := nextBackoff(tt.current, tt.ceiling); got != tt.expected {
			t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.current, tt.ceiling, got, tt.expected)
		}
	}
}
