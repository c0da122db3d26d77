// Package session ties stream resolution, the player and playback recovery together for one
// listener. The player is an explicit handle owned by the session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"melodeck/internal/core"
	"melodeck/internal/events"
	"melodeck/internal/recovery"
)

// ErrClosed is returned by Play after Close.
var ErrClosed = errors.New("session closed")

type StreamResolver interface {
	ResolvePlaybackStream(ctx context.Context, trackID, playlistID string,
		quality core.Quality, metered bool) (*core.StreamResolution, error)
}

type Session struct {
	resolver  StreamResolver
	player    core.Player
	network   core.NetworkMonitor
	quality   core.Quality
	recovery  core.RecoveryConfig
	publisher events.Publisher
	recorder  core.Recorder
	logger    *zap.Logger

	mu         sync.Mutex
	controller *recovery.Controller
	current    *core.StreamResolution
	closed     bool
}

func New(
	config *core.Config,
	resolver StreamResolver,
	player core.Player,
	network core.NetworkMonitor,
	publisher events.Publisher,
	logger *zap.Logger,
) (*Session, error) {
	quality, err := core.ParseQuality(config.Stream.Quality)
	if err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &Session{
		resolver:  resolver,
		player:    player,
		network:   network,
		quality:   quality,
		recovery:  config.Recovery,
		publisher: publisher,
		recorder:  core.NopRecorder{},
		logger:    logger,
	}, nil
}

func (s *Session) SetRecorder(rec core.Recorder) {
	s.recorder = rec
}

// Play resolves trackID, loads it into the player and starts a fresh recovery context for it.
func (s *Session) Play(ctx context.Context, trackID, playlistID string) (*core.StreamResolution, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	metered := s.network != nil && s.network.IsMetered()
	res, err := s.resolver.ResolvePlaybackStream(ctx, trackID, playlistID, s.quality, metered)
	if err != nil {
		return nil, err
	}

	// The controller is installed before Load so events the new item emits while loading
	// reach it.
	controller := recovery.NewController(&s.recovery, s.player, s.publisher, s.logger.Named("recovery"))
	controller.SetRecorder(s.recorder)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		controller.Release()
		return nil, ErrClosed
	}
	previous := s.controller
	s.controller = controller
	s.mu.Unlock()

	if previous != nil {
		previous.Release()
	}

	if err := s.player.Load(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to load %s into player: %w", trackID, err)
	}

	s.mu.Lock()
	if s.controller == controller {
		s.current = res
	}
	s.mu.Unlock()

	s.logger.Info("Playing track",
		zap.String("track_id", trackID),
		zap.String("client", res.Client),
		zap.Int("bitrate", res.Encoding.Bitrate),
		zap.Bool("metered", metered))
	return res, nil
}

// Run forwards player notifications to the current recovery controller until ctx ends or the
// player closes its event channel.
func (s *Session) Run(ctx context.Context) error {
	playerEvents := s.player.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-playerEvents:
			if !ok {
				return nil
			}
			s.dispatch(ev)
		}
	}
}

func (s *Session) dispatch(ev core.PlayerEvent) {
	s.mu.Lock()
	controller := s.controller
	s.mu.Unlock()
	if controller == nil {
		return
	}

	switch ev.Kind {
	case core.PlayerEventFault:
		fault := ev.Err
		if fault == nil {
			fault = core.ErrNetworkFault
		} else if !errors.Is(fault, core.ErrNetworkFault) {
			fault = fmt.Errorf("%w: %w", core.ErrNetworkFault, fault)
		}
		controller.OnPlaybackFault(fault)
	case core.PlayerEventStarted:
		controller.OnPlaybackStarted()
	}
}

// RecoveryState reports the state of the current track's recovery controller.
func (s *Session) RecoveryState() core.RecoveryState {
	s.mu.Lock()
	controller := s.controller
	s.mu.Unlock()
	if controller == nil {
		return core.RecoveryIdle
	}
	return controller.State()
}

func (s *Session) Current() *core.StreamResolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Close releases the recovery controller. Pending recovery attempts never fire afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	controller := s.controller
	s.controller = nil
	s.mu.Unlock()

	if controller != nil {
		controller.Release()
	}
	return nil
}
