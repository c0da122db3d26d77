package core

import (
	"time"
)

const (
	// DefaultUpstreamBaseURL is the music frontend the InnerTube API is addressed through.
	DefaultUpstreamBaseURL = "https://music.youtube.com"
	// DefaultStreamExpirySecs is used when the upstream omits expiresInSeconds.
	DefaultStreamExpirySecs = 3600
	// DefaultMaxConsecutiveFaults is the fault threshold that moves recovery to FAILED.
	DefaultMaxConsecutiveFaults = 3
	// DefaultLyricsCacheSize is the number of entries kept by the lyrics LRU.
	DefaultLyricsCacheSize = 3
)

type Config struct {
	Upstream UpstreamConfig
	Stream   StreamConfig
	Recovery RecoveryConfig
	Lyrics   LyricsConfig
	Server   ServerConfig
	Log      LogConfig
}

type UpstreamConfig struct {
	BaseURL        string
	Cookie         string
	VisitorData    string
	Language       string
	Region         string
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
}

type StreamConfig struct {
	Quality       string
	Metered       bool
	AttemptDelay  time.Duration
	DefaultExpiry time.Duration
	ProbeTimeout  time.Duration
}

type RecoveryConfig struct {
	MaxConsecutiveFaults int
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
}

type LyricsConfig struct {
	CacheSize         int
	PreferredProvider string
	LocalEnabled      bool
	LRCLibURL         string
	LyricsOvhURL      string
	RequestTimeout    time.Duration
}

type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	RequestsPerMinute int
}

type LogConfig struct {
	Level  string
	Format string
}

func DefaultConfig() *Config {
	return &Config{
		Upstream: UpstreamConfig{
			BaseURL:        DefaultUpstreamBaseURL,
			Language:       "en",
			Region:         "US",
			RequestTimeout: 10 * time.Second,
			RateLimit:      5,
			RateBurst:      10,
		},
		Stream: StreamConfig{
			Quality:       QualityAuto.String(),
			AttemptDelay:  500 * time.Millisecond,
			DefaultExpiry: DefaultStreamExpirySecs * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Recovery: RecoveryConfig{
			MaxConsecutiveFaults: DefaultMaxConsecutiveFaults,
			BaseBackoff:          1000 * time.Millisecond,
			MaxBackoff:           8000 * time.Millisecond,
		},
		Lyrics: LyricsConfig{
			CacheSize:      DefaultLyricsCacheSize,
			LocalEnabled:   true,
			LRCLibURL:      "https://lrclib.net",
			LyricsOvhURL:   "https://api.lyrics.ovh",
			RequestTimeout: 10 * time.Second,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			RequestsPerMinute: 60,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
