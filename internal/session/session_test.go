package session

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

type mockResolver struct {
	mu      sync.Mutex
	err     error
	quality core.Quality
	metered bool
	calls   int
}

func (m *mockResolver) ResolvePlaybackStream(
	_ context.Context, trackID, _ string, quality core.Quality, metered bool,
) (*core.StreamResolution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.quality, m.metered = quality, metered
	if m.err != nil {
		return nil, m.err
	}
	return &core.StreamResolution{
		TrackID:  trackID,
		Client:   "WEB_REMIX",
		URL:      "https://cdn/" + trackID,
		Encoding: core.EncodingCandidate{Itag: 251, Bitrate: 160000},
	}, nil
}

type mockPlayer struct {
	mu     sync.Mutex
	loaded []string
	events chan core.PlayerEvent
	// onLoad is delivered on the event channel before Load returns.
	onLoad *core.PlayerEvent
}

func newMockPlayer() *mockPlayer {
	return &mockPlayer{events: make(chan core.PlayerEvent)}
}

func (p *mockPlayer) HasCurrentItem() bool            { return true }
func (p *mockPlayer) State() core.PlaybackState       { return core.PlaybackBuffering }
func (p *mockPlayer) Prepare() error                  { return nil }
func (p *mockPlayer) Play() error                     { return nil }
func (p *mockPlayer) Events() <-chan core.PlayerEvent { return p.events }

func (p *mockPlayer) Load(_ context.Context, res *core.StreamResolution) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = append(p.loaded, res.TrackID)
	if p.onLoad != nil {
		p.events <- *p.onLoad
	}
	return nil
}

type staticNetwork bool

func (n staticNetwork) IsMetered() bool { return bool(n) }

func testConfig() *core.Config {
	config := core.DefaultConfig()
	config.Stream.Quality = "high"
	config.Recovery.BaseBackoff = time.Hour
	config.Recovery.MaxBackoff = time.Hour
	return config
}

func newTestSession(t *testing.T, resolver StreamResolver, player core.Player) (*Session, <-chan core.RecoveryState) {
	t.Helper()

	bus := events.NewBus(zap.NewNop())
	states := make(chan core.RecoveryState, 16)
	bus.Subscribe(events.TypeRecoveryState, func(e events.Event) {
		states <- e.(events.RecoveryStateEvent).State
	})

	s, err := New(testConfig(), resolver, player, staticNetwork(true), bus, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s, states
}

func TestSession_PlayLoadsResolution(t *testing.T) {
	defer goleak.VerifyNone(t)

	resolver := &mockResolver{}
	player := newMockPlayer()
	s, _ := newTestSession(t, resolver, player)
	defer s.Close()

	res, err := s.Play(context.Background(), "T1", "")
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if res.TrackID != "T1" || s.Current() != res {
		t.Errorf("Unexpected current resolution %+v", s.Current())
	}
	if resolver.quality != core.QualityHigh || !resolver.metered {
		t.Errorf("Expected HIGH on metered network, got %s metered=%v", resolver.quality, resolver.metered)
	}
	if len(player.loaded) != 1 || player.loaded[0] != "T1" {
		t.Errorf("Expected T1 loaded, got %v", player.loaded)
	}
}

func TestSession_ResolveErrorSkipsLoad(t *testing.T) {
	defer goleak.VerifyNone(t)

	resolver := &mockResolver{err: &core.PlaybackError{Kind: core.KindNetwork, TrackID: "T1", Err: core.ErrUpstreamUnavailable}}
	player := newMockPlayer()
	s, _ := newTestSession(t, resolver, player)
	defer s.Close()

	_, err := s.Play(context.Background(), "T1", "")
	if !errors.Is(err, core.ErrUpstreamUnavailable) {
		t.Errorf("Expected resolution error, got %v", err)
	}
	if len(player.loaded) != 0 {
		t.Error("Player must not be loaded after a failed resolution")
	}
}

func TestSession_RunForwardsFaultsToRecovery(t *testing.T) {
	defer goleak.VerifyNone(t)

	player := newMockPlayer()
	s, states := newTestSession(t, &mockResolver{}, player)

	if _, err := s.Play(context.Background(), "T1", ""); err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		player.events <- core.PlayerEvent{Kind: core.PlayerEventFault, Err: errors.New("source error")}
	}

	want := []core.RecoveryState{core.RecoveryRecovering, core.RecoveryRecovering, core.RecoveryFailed}
	for i, w := range want {
		if got := <-states; got != w {
			t.Errorf("Transition %d: expected %s, got %s", i, w, got)
		}
	}
	if s.RecoveryState() != core.RecoveryFailed {
		t.Errorf("Expected FAILED, got %s", s.RecoveryState())
	}

	// A new track load gets a fresh recovery context.
	if _, err := s.Play(context.Background(), "T2", ""); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if s.RecoveryState() != core.RecoveryIdle {
		t.Errorf("Expected IDLE after new track, got %s", s.RecoveryState())
	}

	player.events <- core.PlayerEvent{Kind: core.PlayerEventFault}
	if got := <-states; got != core.RecoveryRecovering {
		t.Errorf("Expected RECOVERING, got %s", got)
	}
	player.events <- core.PlayerEvent{Kind: core.PlayerEventStarted}
	if got := <-states; got != core.RecoveryIdle {
		t.Errorf("Expected IDLE after start, got %s", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	_ = s.Close()
}

func TestSession_FaultDuringLoadReachesRecovery(t *testing.T) {
	defer goleak.VerifyNone(t)

	player := newMockPlayer()
	player.onLoad = &core.PlayerEvent{Kind: core.PlayerEventFault, Err: errors.New("HTTP 403")}
	s, states := newTestSession(t, &mockResolver{}, player)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for _, track := range []string{"T1", "T2"} {
		if _, err := s.Play(context.Background(), track, ""); err != nil {
			t.Fatalf("Play(%s) error: %v", track, err)
		}
		select {
		case got := <-states:
			if got != core.RecoveryRecovering {
				t.Errorf("%s: expected RECOVERING, got %s", track, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s: fault emitted while loading never reached recovery", track)
		}
	}
	if s.RecoveryState() != core.RecoveryRecovering {
		t.Errorf("Expected RECOVERING, got %s", s.RecoveryState())
	}

	cancel()
	<-done
	_ = s.Close()
}

func TestSession_RunEndsWhenPlayerCloses(t *testing.T) {
	defer goleak.VerifyNone(t)

	player := newMockPlayer()
	s, _ := newTestSession(t, &mockResolver{}, player)
	defer s.Close()

	close(player.events)
	if err := s.Run(context.Background()); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func TestSession_PlayAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	resolver := &mockResolver{}
	s, _ := newTestSession(t, resolver, newMockPlayer())
	if _, err := s.Play(context.Background(), "T1", ""); err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if s.RecoveryState() != core.RecoveryIdle {
		t.Error("Closed session should report IDLE")
	}
	if _, err := s.Play(context.Background(), "T2", ""); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if resolver.calls != 1 {
		t.Errorf("Closed session must not resolve, got %d calls", resolver.calls)
	}
}

func TestNew_InvalidQuality(t *testing.T) {
	config := testConfig()
	config.Stream.Quality = "lossless"
	if _, err := New(config, &mockResolver{}, newMockPlayer(), nil, nil, zap.NewNop()); err == nil {
		t.Error("Expected error for unknown quality")
	}
}
