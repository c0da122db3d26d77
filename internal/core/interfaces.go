package core

import (
	"context"
)

// Upstream is the streaming backend API addressed through a ClientDescriptor.
type Upstream interface {
	FetchPlayerMetadata(ctx context.Context, trackID, playlistID string, client ClientDescriptor,
		signatureTimestamp int) (*PlayerResponse, error)
	// SignatureTimestamp returns the current player script timestamp used by some clients.
	SignatureTimestamp(ctx context.Context) (int, error)
	DeriveStreamURL(ctx context.Context, candidate EncodingCandidate, trackID string) (string, error)
}

// Prober checks that a stream URL is reachable without downloading it.
type Prober interface {
	Reachable(ctx context.Context, url string) error
}

type NetworkMonitor interface {
	IsMetered() bool
}

type AuthSession interface {
	IsLoggedIn() bool
}

// RecoverablePlayer is the subset of the player the recovery controller drives.
type RecoverablePlayer interface {
	HasCurrentItem() bool
	State() PlaybackState
	Prepare() error
	Play() error
}

// Player is the platform playback engine. Events delivers fault and started notifications.
type Player interface {
	RecoverablePlayer
	Load(ctx context.Context, res *StreamResolution) error
	Events() <-chan PlayerEvent
}

type LyricsProvider interface {
	Name() string
	IsEnabled() bool
	Fetch(ctx context.Context, id, title, artist string, durationSecs int) (string, error)
	// FetchAll invokes onResult for every lyric candidate the provider has.
	FetchAll(ctx context.Context, id, title, artist string, durationSecs int, onResult func(string)) error
}
