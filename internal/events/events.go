// Package events carries state transitions and progress notifications from the resolution
// core to whoever observes it (HTTP API, UI layer, logging).
package events

import (
	"time"

	"melodeck/internal/core"
)

// Event is implemented by everything published on the Bus.
type Event interface {
	Type() Type
	Timestamp() time.Time
}

type Type string

const (
	TypeRecoveryState       Type = "recovery.state"
	TypeResolutionAttempt   Type = "resolution.attempt"
	TypeResolutionCompleted Type = "resolution.completed"
)

type Handler func(Event)

type SubscriptionID string

type base struct {
	at time.Time
}

func (b base) Timestamp() time.Time {
	return b.at
}

// RecoveryStateEvent is published on every recovery transition, including RECOVERING -> RECOVERING.
type RecoveryStateEvent struct {
	base
	State       core.RecoveryState
	FaultCount  int
	NextBackoff time.Duration
}

func (RecoveryStateEvent) Type() Type { return TypeRecoveryState }

func NewRecoveryStateEvent(state core.RecoveryState, faults int, backoff time.Duration) RecoveryStateEvent {
	return RecoveryStateEvent{base: base{at: time.Now()}, State: state, FaultCount: faults, NextBackoff: backoff}
}

// ResolutionAttemptEvent reports the outcome of trying one client for one track.
type ResolutionAttemptEvent struct {
	base
	TrackID string
	Client  string
	Outcome string
	Err     error
}

func (ResolutionAttemptEvent) Type() Type { return TypeResolutionAttempt }

func NewResolutionAttemptEvent(trackID, client, outcome string, err error) ResolutionAttemptEvent {
	return ResolutionAttemptEvent{base: base{at: time.Now()}, TrackID: trackID, Client: client, Outcome: outcome, Err: err}
}

type ResolutionCompletedEvent struct {
	base
	TrackID  string
	Client   string
	Attempts int
	Err      error
}

func (ResolutionCompletedEvent) Type() Type { return TypeResolutionCompleted }

func NewResolutionCompletedEvent(trackID, client string, attempts int, err error) ResolutionCompletedEvent {
	return ResolutionCompletedEvent{
		base:     base{at: time.Now()},
		TrackID:  trackID,
		Client:   client,
		Attempts: attempts,
		Err:      err,
	}
}
