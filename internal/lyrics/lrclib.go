package lyrics

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"melodeck/pkg/fuzzy"
)

// minSearchScore is the lowest match score a search hit needs to be used as the single answer.
const minSearchScore = 0.6

type lrclibTrack struct {
	ID           int64   `json:"id"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// text prefers time-synced lyrics over plain ones.
func (t lrclibTrack) text() string {
	if s := strings.TrimSpace(t.SyncedLyrics); s != "" {
		return s
	}
	return strings.TrimSpace(t.PlainLyrics)
}

// LRCLibProvider queries lrclib.net, first by exact signature and then by search.
type LRCLibProvider struct {
	baseURL    string
	enabled    bool
	client     *http.Client
	normalizer *fuzzy.Normalizer
}

func NewLRCLibProvider(baseURL string, timeout time.Duration) *LRCLibProvider {
	return &LRCLibProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		enabled:    baseURL != "",
		client:     newHTTPClient(timeout),
		normalizer: fuzzy.NewNormalizer(),
	}
}

func (p *LRCLibProvider) Name() string { return ProviderLRCLib }

func (p *LRCLibProvider) IsEnabled() bool { return p.enabled }

func (p *LRCLibProvider) Fetch(ctx context.Context, _, title, artist string, durationSecs int) (string, error) {
	track, err := p.get(ctx, title, artist, durationSecs)
	switch {
	case err == nil:
		if text := track.text(); text != "" {
			return text, nil
		}
		if track.Instrumental {
			return "", fmt.Errorf("%w: instrumental", ErrNoLyrics)
		}
	case !errors.Is(err, errNotFound):
		return "", err
	}

	hits, err := p.search(ctx, title, artist, durationSecs)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 || hits[0].score < minSearchScore {
		return "", fmt.Errorf("%w: no close lrclib match", ErrNoLyrics)
	}
	return hits[0].track.text(), nil
}

// FetchAll emits every search hit with lyrics, best match first.
func (p *LRCLibProvider) FetchAll(ctx context.Context, _, title, artist string, durationSecs int, onResult func(string)) error {
	hits, err := p.search(ctx, title, artist, durationSecs)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		return fmt.Errorf("%w: lrclib search empty", ErrNoLyrics)
	}
	for _, h := range hits {
		onResult(h.track.text())
	}
	return nil
}

func (p *LRCLibProvider) get(ctx context.Context, title, artist string, durationSecs int) (*lrclibTrack, error) {
	params := url.Values{}
	params.Set("track_name", title)
	params.Set("artist_name", artist)
	if durationSecs > 0 {
		params.Set("duration", strconv.Itoa(durationSecs))
	}

	var track lrclibTrack
	if err := getJSON(ctx, p.client, p.baseURL+"/api/get?"+params.Encode(), "lrclib", &track); err != nil {
		return nil, err
	}
	return &track, nil
}

type scoredTrack struct {
	track lrclibTrack
	score float64
}

// search returns hits that carry lyrics, ranked by title, artist and duration closeness.
func (p *LRCLibProvider) search(ctx context.Context, title, artist string, durationSecs int) ([]scoredTrack, error) {
	params := url.Values{}
	params.Set("track_name", title)
	params.Set("artist_name", artist)

	var tracks []lrclibTrack
	err := getJSON(ctx, p.client, p.baseURL+"/api/search?"+params.Encode(), "lrclib", &tracks)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	want := time.Duration(durationSecs) * time.Second
	hits := make([]scoredTrack, 0, len(tracks))
	for _, t := range tracks {
		if t.text() == "" {
			continue
		}
		got := time.Duration(t.Duration * float64(time.Second))
		hits = append(hits, scoredTrack{
			track: t,
			score: p.normalizer.MatchScore(title, artist, want, t.TrackName, t.ArtistName, got),
		})
	}

	slices.SortStableFunc(hits, func(a, b scoredTrack) int {
		return cmp.Compare(b.score, a.score)
	})
	return hits, nil
}
