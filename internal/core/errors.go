package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable is recorded when a client did not report OK playability.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNoEligibleEncoding is recorded when no audio encoding matched the quality policy.
	ErrNoEligibleEncoding = errors.New("no eligible encoding")

	// ErrUnverifiedURL is recorded when a signed URL could not be derived or failed reachability.
	ErrUnverifiedURL = errors.New("stream url not verified")

	// ErrNetworkFault marks runtime playback faults reported by the player.
	ErrNetworkFault = errors.New("network fault")

	// ErrProviderFailure wraps an individual lyrics provider error.
	ErrProviderFailure = errors.New("lyrics provider failure")
)

type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindUnknown
)

func (k ErrorKind) String() string {
	if k == KindNetwork {
		return "network"
	}
	return "unknown"
}

// PlaybackError is the terminal failure of a resolution. Err is the last recorded cause.
type PlaybackError struct {
	Kind    ErrorKind
	TrackID string
	Err     error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback %s error for track %s: %v", e.Kind, e.TrackID, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// ClientError tags a per-client failure with the descriptor that produced it.
type ClientError struct {
	Client string
	Err    error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client %s: %v", e.Client, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}
