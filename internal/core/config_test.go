package core

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Recovery.MaxConsecutiveFaults != DefaultMaxConsecutiveFaults {
		t.Errorf("Expected default max faults %d, got %d",
			DefaultMaxConsecutiveFaults, config.Recovery.MaxConsecutiveFaults)
	}

	if config.Recovery.BaseBackoff != time.Second || config.Recovery.MaxBackoff != 8*time.Second {
		t.Errorf("Unexpected backoff defaults: base=%v max=%v",
			config.Recovery.BaseBackoff, config.Recovery.MaxBackoff)
	}

	if config.Stream.DefaultExpiry != DefaultStreamExpirySecs*time.Second {
		t.Errorf("Expected default expiry %ds, got %v", DefaultStreamExpirySecs, config.Stream.DefaultExpiry)
	}

	if config.Stream.AttemptDelay != 500*time.Millisecond {
		t.Errorf("Expected attempt delay 500ms, got %v", config.Stream.AttemptDelay)
	}

	if config.Lyrics.CacheSize != DefaultLyricsCacheSize {
		t.Errorf("Expected lyrics cache size %d, got %d", DefaultLyricsCacheSize, config.Lyrics.CacheSize)
	}

	if _, err := ParseQuality(config.Stream.Quality); err != nil {
		t.Errorf("Default quality %q should parse: %v", config.Stream.Quality, err)
	}
}

func TestConfigConstants(t *testing.T) {
	if DefaultMaxConsecutiveFaults <= 0 {
		t.Error("DefaultMaxConsecutiveFaults should be positive")
	}

	if DefaultLyricsCacheSize <= 0 {
		t.Error("DefaultLyricsCacheSize should be positive")
	}
}
