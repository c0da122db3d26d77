// Package clients holds the ordered set of upstream client descriptors used for stream resolution.
package clients

import (
	"math/rand/v2"

	"melodeck/internal/core"
)

var (
	// WebRemix is the primary music web client.
	WebRemix = core.ClientDescriptor{
		Name:      "WEB_REMIX",
		Version:   "1.20250310.01.00",
		ClientID:  67,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0",

		SupportsLogin:          true,
		UsesSignatureTimestamp: true,
		Primary:                true,
	}

	TVHTML5Embedded = core.ClientDescriptor{
		Name:      "TVHTML5_SIMPLY_EMBEDDED_PLAYER",
		Version:   "2.0",
		ClientID:  85,
		UserAgent: "Mozilla/5.0 (PlayStation; PlayStation 4/12.02) AppleWebKit/605.1.15 (KHTML, like Gecko)",

		RequiresAuth:           true,
		SupportsLogin:          true,
		UsesSignatureTimestamp: true,
	}

	IOS = core.ClientDescriptor{
		Name:        "IOS",
		Version:     "20.10.4",
		ClientID:    5,
		UserAgent:   "com.google.ios.youtube/20.10.4 (iPhone16,2; U; CPU iOS 18_3_2 like Mac OS X;)",
		OSName:      "iPhone",
		OSVersion:   "18.3.2.22D82",
		DeviceMake:  "Apple",
		DeviceModel: "iPhone16,2",
	}

	AndroidVR = core.ClientDescriptor{
		Name:              "ANDROID_VR",
		Version:           "1.61.48",
		ClientID:          28,
		UserAgent:         "com.google.android.apps.youtube.vr.oculus/1.61.48 (Linux; U; Android 12; en_US; Oculus Quest 3) gzip",
		OSName:            "Android",
		OSVersion:         "12",
		DeviceMake:        "Oculus",
		DeviceModel:       "Quest 3",
		AndroidSDKVersion: 32,
	}

	MWeb = core.ClientDescriptor{
		Name:      "MWEB",
		Version:   "2.20250311.03.00",
		ClientID:  2,
		UserAgent: "Mozilla/5.0 (iPad; CPU OS 16_7_10 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1",

		UsesSignatureTimestamp: true,
	}

	WebCreator = core.ClientDescriptor{
		Name:      "WEB_CREATOR",
		Version:   "1.20250312.03.01",
		ClientID:  62,
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",

		RequiresAuth:           true,
		SupportsLogin:          true,
		UsesSignatureTimestamp: true,
	}
)

// Registry is an immutable primary descriptor plus its fallbacks.
type Registry struct {
	primary   core.ClientDescriptor
	fallbacks []core.ClientDescriptor
}

// NewRegistry builds a registry. The primary is flagged as such regardless of its input value.
func NewRegistry(primary core.ClientDescriptor, fallbacks ...core.ClientDescriptor) *Registry {
	primary.Primary = true
	fb := make([]core.ClientDescriptor, len(fallbacks))
	copy(fb, fallbacks)
	return &Registry{primary: primary, fallbacks: fb}
}

// Default returns the registry the player ships with.
func Default() *Registry {
	return NewRegistry(WebRemix, TVHTML5Embedded, IOS, AndroidVR, MWeb, WebCreator)
}

func (r *Registry) Primary() core.ClientDescriptor {
	return r.primary
}

// All returns primary followed by fallbacks in declaration order.
func (r *Registry) All() []core.ClientDescriptor {
	all := make([]core.ClientDescriptor, 0, len(r.fallbacks)+1)
	all = append(all, r.primary)
	return append(all, r.fallbacks...)
}

// Candidates returns the descriptors usable for the given login state, shuffled with rnd.
// A nil rnd uses the global source.
func (r *Registry) Candidates(loggedIn bool, rnd *rand.Rand) []core.ClientDescriptor {
	all := r.All()
	eligible := all[:0]
	for _, c := range all {
		if c.RequiresAuth && !loggedIn {
			continue
		}
		eligible = append(eligible, c)
	}

	swap := func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] }
	if rnd != nil {
		rnd.Shuffle(len(eligible), swap)
	} else {
		rand.Shuffle(len(eligible), swap)
	}
	return eligible
}
