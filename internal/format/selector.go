// Package format picks one encoding out of an upstream candidate list for a quality preference.
package format

import (
	"melodeck/internal/core"
)

const (
	lowMinBitrate     = 45000
	lowMaxBitrate     = 52000
	highMinBitrate    = 128000
	highMaxBitrate    = 256000
	meteredMaxBitrate = 128000
	maxBitrate        = 512000

	// preferredContainer wins ties at equal bitrate (opus in webm has less overhead than mp4a).
	preferredContainer = "webm"
)

// Band is an inclusive bitrate window.
type Band struct {
	Min int
	Max int
	// PreferContainer breaks ties between equal bitrates in favour of preferredContainer.
	PreferContainer bool
}

// BandFor returns the bitrate window for a quality preference and network metering state.
func BandFor(quality core.Quality, metered bool) Band {
	switch quality {
	case core.QualityLow:
		return Band{Min: lowMinBitrate, Max: lowMaxBitrate}
	case core.QualityHigh:
		return Band{Min: highMinBitrate, Max: highMaxBitrate}
	case core.QualityMax:
		return Band{Min: 0, Max: maxBitrate, PreferContainer: true}
	default:
		if metered {
			return Band{Min: lowMinBitrate, Max: meteredMaxBitrate}
		}
		return Band{Min: lowMinBitrate, Max: maxBitrate, PreferContainer: true}
	}
}

func (b Band) contains(bitrate int) bool {
	return bitrate >= b.Min && bitrate <= b.Max
}

// Select returns the highest-bitrate candidate inside the band for quality, or false if none qualifies.
func Select(quality core.Quality, candidates []core.EncodingCandidate, metered bool) (core.EncodingCandidate, bool) {
	band := BandFor(quality, metered)

	var best core.EncodingCandidate
	found := false
	for _, c := range candidates {
		if !band.contains(c.Bitrate) {
			continue
		}
		if !found || better(c, best, band.PreferContainer) {
			best = c
			found = true
		}
	}
	return best, found
}

func better(c, best core.EncodingCandidate, preferContainer bool) bool {
	if c.Bitrate != best.Bitrate {
		return c.Bitrate > best.Bitrate
	}
	return preferContainer && c.Container() == preferredContainer && best.Container() != preferredContainer
}
