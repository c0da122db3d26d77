package lyrics

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"melodeck/internal/core"
	"melodeck/pkg/fuzzy"
)

const (
	modeSingle = "single"
	modeAll    = "all"

	outcomeFound    = "found"
	outcomeNotFound = "not_found"
	outcomeError    = "error"

	// Track identities, ID-less tracks and composite song keys share one LRU.
	trackKeyPrefix = "track:"
	titleKeyPrefix = "title:"
	songKeyPrefix  = "song:"
)

// Cache resolves lyrics through the local sidecar and then the remote provider chain, keeping
// the last few remote answers in memory. It is safe for concurrent use; concurrent misses for
// the same key may both query providers and the last write wins.
type Cache struct {
	entries    *lru.Cache[string, []core.LyricsResult]
	local      *LocalProvider
	providers  []core.LyricsProvider
	normalizer *fuzzy.Normalizer
	logger     *zap.Logger
	recorder   core.Recorder
}

// NewCache builds the cache. The provider named preferred, if any, is moved to the front of the
// chain; the others keep their order.
func NewCache(
	size int,
	local *LocalProvider,
	providers []core.LyricsProvider,
	preferred string,
	logger *zap.Logger,
) (*Cache, error) {
	if size <= 0 {
		size = core.DefaultLyricsCacheSize
	}
	entries, err := lru.New[string, []core.LyricsResult](size)
	if err != nil {
		return nil, err
	}

	return &Cache{
		entries:    entries,
		local:      local,
		providers:  orderChain(providers, preferred),
		normalizer: fuzzy.NewNormalizer(),
		logger:     logger,
		recorder:   core.NopRecorder{},
	}, nil
}

func (c *Cache) SetRecorder(rec core.Recorder) {
	c.recorder = rec
}

// Providers returns the remote chain in lookup order.
func (c *Cache) Providers() []core.LyricsProvider {
	return append([]core.LyricsProvider(nil), c.providers...)
}

// GetLyrics returns lyric text for track, or core.LyricsNotFound when no source had any.
// The only error is the context's.
func (c *Cache) GetLyrics(ctx context.Context, track core.LyricsTrack) (string, error) {
	key := c.trackKey(track)
	if cached, ok := c.entries.Get(key); ok && len(cached) > 0 {
		c.recorder.RecordLyricsCacheHit(modeSingle)
		return cached[0].Text, nil
	}

	if c.local != nil && c.local.IsEnabled() && track.LocalPath != "" {
		text, err := c.local.Lookup(track.LocalPath)
		if err == nil {
			c.recorder.RecordLyricsLookup(ProviderLocal, outcomeFound)
			return text, nil
		}
		c.logger.Debug("Local lyrics unavailable", zap.String("track_id", track.ID), zap.Error(err))
		c.recorder.RecordLyricsLookup(ProviderLocal, outcomeNotFound)
	}

	artist := track.ArtistString()
	durationSecs := int(track.Duration.Seconds())

	for _, p := range c.providers {
		if !p.IsEnabled() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := p.Fetch(ctx, track.ID, track.Title, artist, durationSecs)
		if err != nil {
			c.providerFailed(p.Name(), track.ID, err)
			continue
		}

		c.recorder.RecordLyricsLookup(p.Name(), outcomeFound)
		c.entries.Add(key, []core.LyricsResult{{Provider: p.Name(), Text: text}})
		c.logger.Debug("Lyrics resolved", zap.String("track_id", track.ID), zap.String("provider", p.Name()))
		return text, nil
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.logger.Info("Lyrics not found", zap.String("track_id", track.ID), zap.String("title", track.Title))
	return core.LyricsNotFound, nil
}

// trackKey falls back to the normalized artist and title for tracks without an ID.
func (c *Cache) trackKey(track core.LyricsTrack) string {
	if track.ID == "" {
		return titleKeyPrefix + c.normalizer.CompositeKey(track.ArtistString(), track.Title)
	}
	return trackKeyPrefix + track.ID
}

// GetAllLyrics emits every result from every enabled remote provider. Results are cached under
// the normalized artist and title so a repeat call replays them without any provider call.
// Provider failures are logged and skipped.
func (c *Cache) GetAllLyrics(
	ctx context.Context,
	id, title, artist string,
	durationSecs int,
	onResult func(core.LyricsResult),
) error {
	key := songKeyPrefix + c.normalizer.CompositeKey(artist, title)
	if cached, ok := c.entries.Get(key); ok {
		c.recorder.RecordLyricsCacheHit(modeAll)
		for _, r := range cached {
			onResult(r)
		}
		return nil
	}

	var collected []core.LyricsResult
	for _, p := range c.providers {
		if !p.IsEnabled() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := p.Name()
		err := p.FetchAll(ctx, id, title, artist, durationSecs, func(text string) {
			r := core.LyricsResult{Provider: name, Text: text}
			collected = append(collected, r)
			onResult(r)
		})
		if err != nil {
			c.providerFailed(name, id, err)
			continue
		}
		c.recorder.RecordLyricsLookup(name, outcomeFound)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(collected) > 0 {
		c.entries.Add(key, collected)
	}
	return nil
}

func (c *Cache) providerFailed(provider, trackID string, err error) {
	outcome := outcomeError
	if errors.Is(err, ErrNoLyrics) {
		outcome = outcomeNotFound
	}
	c.recorder.RecordLyricsLookup(provider, outcome)
	c.logger.Debug("Lyrics provider failed",
		zap.String("provider", provider),
		zap.String("track_id", trackID),
		zap.Error(errors.Join(core.ErrProviderFailure, err)))
}

func orderChain(providers []core.LyricsProvider, preferred string) []core.LyricsProvider {
	chain := make([]core.LyricsProvider, 0, len(providers))
	for _, p := range providers {
		if preferred != "" && p.Name() == preferred {
			chain = append(chain, p)
		}
	}
	for _, p := range providers {
		if preferred == "" || p.Name() != preferred {
			chain = append(chain, p)
		}
	}
	return chain
}
