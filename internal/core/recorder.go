package core

import "time"

// Recorder receives operational measurements. The HTTP server's Prometheus metrics implement it.
type Recorder interface {
	RecordResolution(outcome string, duration time.Duration)
	RecordClientAttempt(client, outcome string)
	RecordRecoveryState(state RecoveryState)
	RecordRecoveryFault()
	RecordRecoveryAttempt()
	RecordLyricsLookup(source, outcome string)
	RecordLyricsCacheHit(mode string)
}

type NopRecorder struct{}

func (NopRecorder) RecordResolution(string, time.Duration) {}
func (NopRecorder) RecordClientAttempt(string, string)     {}
func (NopRecorder) RecordRecoveryState(RecoveryState)      {}
func (NopRecorder) RecordRecoveryFault()                   {}
func (NopRecorder) RecordRecoveryAttempt()                 {}
func (NopRecorder) RecordLyricsLookup(string, string)      {}
func (NopRecorder) RecordLyricsCacheHit(string)            {}
