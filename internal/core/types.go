package core

import (
	"fmt"
	"strings"
	"time"
)

type Quality int

const (
	// QualityAuto picks a band based on whether the active network is metered
	QualityAuto Quality = iota
	// QualityLow targets the ~48kbps band
	QualityLow
	// QualityHigh targets the 128-256kbps band
	QualityHigh
	// QualityMax takes the best encoding up to 512kbps
	QualityMax
)

func (q Quality) String() string {
	switch q {
	case QualityLow:
		return "low"
	case QualityHigh:
		return "high"
	case QualityMax:
		return "max"
	default:
		return "auto"
	}
}

// ParseQuality maps a case-insensitive quality name to a Quality.
func ParseQuality(s string) (Quality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return QualityAuto, nil
	case "low":
		return QualityLow, nil
	case "high":
		return QualityHigh, nil
	case "max":
		return QualityMax, nil
	default:
		return QualityAuto, fmt.Errorf("unknown quality %q", s)
	}
}

// ClientDescriptor describes one way of addressing the upstream player API.
type ClientDescriptor struct {
	Name              string
	Version           string
	ClientID          int
	UserAgent         string
	OSName            string
	OSVersion         string
	DeviceMake        string
	DeviceModel       string
	AndroidSDKVersion int

	RequiresAuth           bool
	SupportsLogin          bool
	UsesSignatureTimestamp bool
	Primary                bool
}

type EncodingCandidate struct {
	Itag            int
	MimeType        string
	Bitrate         int
	AudioQuality    string
	ContentLength   int64
	LoudnessDB      float64
	URL             string
	SignatureCipher string
}

// IsAudio reports whether the candidate is an audio-only encoding.
func (c EncodingCandidate) IsAudio() bool {
	return strings.HasPrefix(c.MimeType, "audio/")
}

// Container returns the container subtype of the mime type, e.g. "webm" for "audio/webm; codecs=opus".
func (c EncodingCandidate) Container() string {
	mime, _, _ := strings.Cut(c.MimeType, ";")
	_, sub, ok := strings.Cut(strings.TrimSpace(mime), "/")
	if !ok {
		return ""
	}
	return sub
}

type TrackDetails struct {
	ID        string
	Title     string
	Author    string
	ChannelID string
	Duration  time.Duration
	ViewCount int64
	IsLive    bool
	Thumbnail string
}

type AudioConfig struct {
	LoudnessDB           float64
	PerceptualLoudnessDB float64
}

// PlayerMetadata is the display metadata shared by every client that yields an OK response.
type PlayerMetadata struct {
	Track TrackDetails
	Audio AudioConfig
}

const PlayabilityOK = "OK"

type Playability struct {
	Status string
	Reason string
}

// PlayerResponse is the parsed upstream answer to a player request.
type PlayerResponse struct {
	Playability      Playability
	Metadata         PlayerMetadata
	Candidates       []EncodingCandidate
	ExpiresInSeconds int
}

// StreamResolution is a verified playable stream for one track.
type StreamResolution struct {
	TrackID    string
	Client     string
	Encoding   EncodingCandidate
	URL        string
	ExpiresIn  time.Duration
	ResolvedAt time.Time
	Metadata   PlayerMetadata
}

// ExpiresAt returns the wall-clock time after which URL must not be reused.
func (r *StreamResolution) ExpiresAt() time.Time {
	return r.ResolvedAt.Add(r.ExpiresIn)
}

type RecoveryState int

const (
	// RecoveryIdle means playback is healthy or no fault has been seen
	RecoveryIdle RecoveryState = iota
	// RecoveryRecovering means an automatic retry is scheduled or in flight
	RecoveryRecovering
	// RecoveryFailed is terminal until a fresh controller is installed
	RecoveryFailed
)

func (s RecoveryState) String() string {
	switch s {
	case RecoveryRecovering:
		return "recovering"
	case RecoveryFailed:
		return "failed"
	default:
		return "idle"
	}
}

type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackBuffering
	PlaybackReady
	PlaybackEnded
)

type PlayerEventKind int

const (
	PlayerEventStarted PlayerEventKind = iota
	PlayerEventFault
)

type PlayerEvent struct {
	Kind PlayerEventKind
	Err  error
}

// LyricsNotFound is returned as lyric text when no provider had anything for a track.
const LyricsNotFound = "LYRICS_NOT_FOUND"

type LyricsResult struct {
	Provider string
	Text     string
}

type LyricsTrack struct {
	ID        string
	Title     string
	Artists   []string
	Duration  time.Duration
	LocalPath string
}

// ArtistString joins the track artists the way providers expect them.
func (t LyricsTrack) ArtistString() string {
	return strings.Join(t.Artists, ", ")
}
