package format

import (
	"testing"

	"melodeck/internal/core"
)

func candidate(bitrate int, mime string) core.EncodingCandidate {
	return core.EncodingCandidate{Bitrate: bitrate, MimeType: mime}
}

const (
	opus = `audio/webm; codecs="opus"`
	aac  = `audio/mp4; codecs="mp4a.40.2"`
)

func sampleCandidates() []core.EncodingCandidate {
	return []core.EncodingCandidate{
		candidate(30000, opus),
		candidate(48000, aac),
		candidate(50000, opus),
		candidate(70000, opus),
		candidate(130000, aac),
		candidate(160000, opus),
		candidate(256000, aac),
		candidate(300000, opus),
		candidate(600000, opus),
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		quality  core.Quality
		metered  bool
		expected int
		found    bool
	}{
		{"Low picks max in 45-52k band", core.QualityLow, false, 50000, true},
		{"High picks max in 128-256k band", core.QualityHigh, false, 256000, true},
		{"Max caps at 512k", core.QualityMax, false, 300000, true},
		{"Auto metered caps at 128k", core.QualityAuto, true, 70000, true},
		{"Auto unmetered caps at 512k", core.QualityAuto, false, 300000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.quality, sampleCandidates(), tt.metered)
			if ok != tt.found {
				t.Fatalf("Select() found = %v, expected %v", ok, tt.found)
			}
			if got.Bitrate != tt.expected {
				t.Errorf("Select() bitrate = %d, expected %d", got.Bitrate, tt.expected)
			}
		})
	}
}

func TestSelect_NoCandidateInBand(t *testing.T) {
	candidates := []core.EncodingCandidate{candidate(96000, opus), candidate(700000, opus)}

	if _, ok := Select(core.QualityLow, candidates, false); ok {
		t.Error("Low quality should not select outside 45-52k")
	}
	if _, ok := Select(core.QualityHigh, candidates, false); ok {
		t.Error("High quality should not select outside 128-256k")
	}
	if _, ok := Select(core.QualityMax, nil, false); ok {
		t.Error("Empty candidate list should select nothing")
	}
}

func TestSelect_ContainerTieBreak(t *testing.T) {
	candidates := []core.EncodingCandidate{candidate(160000, aac), candidate(160000, opus)}

	for _, q := range []core.Quality{core.QualityMax, core.QualityAuto} {
		got, ok := Select(q, candidates, false)
		if !ok || got.Container() != "webm" {
			t.Errorf("%v: expected webm tie-break winner, got %q", q, got.Container())
		}
	}

	got, _ := Select(core.QualityHigh, candidates, false)
	if got.Container() != "mp4" {
		t.Errorf("High quality has no container preference; expected first candidate, got %q", got.Container())
	}
}

func TestSelect_NeverLeavesBand(t *testing.T) {
	var candidates []core.EncodingCandidate
	for b := 0; b <= 800000; b += 1000 {
		candidates = append(candidates, candidate(b, opus))
	}

	for _, q := range []core.Quality{core.QualityLow, core.QualityHigh, core.QualityMax, core.QualityAuto} {
		for _, metered := range []bool{true, false} {
			band := BandFor(q, metered)
			for n := 1; n <= len(candidates); n += 37 {
				got, ok := Select(q, candidates[:n], metered)
				if ok && (got.Bitrate < band.Min || got.Bitrate > band.Max) {
					t.Fatalf("%v metered=%v selected %d outside [%d,%d]", q, metered, got.Bitrate, band.Min, band.Max)
				}
			}
		}
	}

	if BandFor(core.QualityAuto, true).Max != 128000 || BandFor(core.QualityAuto, false).Max != 512000 {
		t.Error("Auto bands should cap at 128k metered and 512k unmetered")
	}
}
