package lyrics

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"melodeck/internal/core"
)

type mockProvider struct {
	name     string
	enabled  bool
	text     string
	all      []string
	err      error
	calls    int
	allCalls int
}

func (m *mockProvider) Name() string    { return m.name }
func (m *mockProvider) IsEnabled() bool { return m.enabled }

func (m *mockProvider) Fetch(_ context.Context, _, _, _ string, _ int) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

func (m *mockProvider) FetchAll(_ context.Context, _, _, _ string, _ int, onResult func(string)) error {
	m.allCalls++
	for _, text := range m.all {
		onResult(text)
	}
	return m.err
}

func newTestCache(t *testing.T, size int, local *LocalProvider, preferred string, providers ...core.LyricsProvider) *Cache {
	t.Helper()
	c, err := NewCache(size, local, providers, preferred, zap.NewNop())
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	return c
}

func testTrack(id string) core.LyricsTrack {
	return core.LyricsTrack{ID: id, Title: "Get Lucky", Artists: []string{"Daft Punk", "Pharrell Williams"}, Duration: 248 * time.Second}
}

func TestCache_GetLyricsCachesFirstSuccess(t *testing.T) {
	failing := &mockProvider{name: "a", enabled: true, err: errors.New("boom")}
	working := &mockProvider{name: "b", enabled: true, text: "We've come too far"}
	c := newTestCache(t, 3, nil, "", failing, working)

	text, err := c.GetLyrics(context.Background(), testTrack("T1"))
	if err != nil || text != "We've come too far" {
		t.Fatalf("GetLyrics() = %q, %v", text, err)
	}

	again, err := c.GetLyrics(context.Background(), testTrack("T1"))
	if err != nil || again != text {
		t.Fatalf("Cached GetLyrics() = %q, %v", again, err)
	}
	if failing.calls != 1 || working.calls != 1 {
		t.Errorf("Cache hit must not call providers, calls a=%d b=%d", failing.calls, working.calls)
	}
}

func TestCache_GetLyricsWithoutTrackID(t *testing.T) {
	p := &mockProvider{name: "a", enabled: true, text: "Like the legend of the phoenix"}
	c := newTestCache(t, 3, nil, "", p)

	first := testTrack("")
	second := core.LyricsTrack{Title: "Harder, Better, Faster, Stronger", Artists: []string{"Daft Punk"}}

	if text, _ := c.GetLyrics(context.Background(), first); text != "Like the legend of the phoenix" {
		t.Fatalf("GetLyrics(first) = %q", text)
	}

	p.text = "Work it, make it"
	if text, _ := c.GetLyrics(context.Background(), second); text != "Work it, make it" {
		t.Errorf("Tracks without ID must not share a cache slot, got %q", text)
	}
	if text, _ := c.GetLyrics(context.Background(), first); text != "Like the legend of the phoenix" {
		t.Errorf("Cached GetLyrics(first) = %q", text)
	}
	if p.calls != 2 {
		t.Errorf("Expected 2 provider calls, got %d", p.calls)
	}
}

func TestCache_GetLyricsNotFoundIsNotCached(t *testing.T) {
	p := &mockProvider{name: "a", enabled: true, err: ErrNoLyrics}
	c := newTestCache(t, 3, nil, "", p)

	for i := 0; i < 2; i++ {
		text, err := c.GetLyrics(context.Background(), testTrack("T1"))
		if err != nil || text != core.LyricsNotFound {
			t.Fatalf("GetLyrics() = %q, %v; want not-found sentinel", text, err)
		}
	}
	if p.calls != 2 {
		t.Errorf("Not-found must not be cached, provider called %d times", p.calls)
	}
}

func TestCache_PreferredProviderFirst(t *testing.T) {
	first := &mockProvider{name: "first", enabled: true, text: "from first"}
	preferred := &mockProvider{name: "preferred", enabled: true, text: "from preferred"}
	c := newTestCache(t, 3, nil, "preferred", first, preferred)

	text, _ := c.GetLyrics(context.Background(), testTrack("T1"))
	if text != "from preferred" || first.calls != 0 {
		t.Errorf("Preferred provider should answer first, got %q (first called %d)", text, first.calls)
	}

	names := []string{}
	for _, p := range c.Providers() {
		names = append(names, p.Name())
	}
	if len(names) != 2 || names[0] != "preferred" || names[1] != "first" {
		t.Errorf("Unexpected chain order %v", names)
	}
}

func TestCache_SkipsDisabledProviders(t *testing.T) {
	disabled := &mockProvider{name: "off", text: "nope"}
	enabled := &mockProvider{name: "on", enabled: true, text: "yes"}
	c := newTestCache(t, 3, nil, "", disabled, enabled)

	if text, _ := c.GetLyrics(context.Background(), testTrack("T1")); text != "yes" || disabled.calls != 0 {
		t.Errorf("Disabled provider used: %q, calls %d", text, disabled.calls)
	}
}

func TestCache_LocalSidecarIsNotCached(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "song.opus")
	if err := os.WriteFile(filepath.Join(dir, "song.lrc"), []byte("[00:01.00] local line\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	remote := &mockProvider{name: "remote", enabled: true, text: "remote"}
	c := newTestCache(t, 3, NewLocalProvider(true), "", remote)

	track := testTrack("T1")
	track.LocalPath = audio

	for i := 0; i < 2; i++ {
		text, err := c.GetLyrics(context.Background(), track)
		if err != nil || text != "[00:01.00] local line" {
			t.Fatalf("GetLyrics() = %q, %v", text, err)
		}
	}
	if remote.calls != 0 {
		t.Errorf("Local hit must not query remote providers, got %d calls", remote.calls)
	}

	// Without the sidecar the next lookup goes remote, showing nothing local was cached.
	if err := os.Remove(filepath.Join(dir, "song.lrc")); err != nil {
		t.Fatal(err)
	}
	if text, _ := c.GetLyrics(context.Background(), track); text != "remote" {
		t.Errorf("Expected remote lyrics after sidecar removal, got %q", text)
	}
}

func TestCache_LocalDisabledOrPathless(t *testing.T) {
	remote := &mockProvider{name: "remote", enabled: true, text: "remote"}
	c := newTestCache(t, 3, NewLocalProvider(false), "", remote)

	track := testTrack("T1")
	track.LocalPath = filepath.Join(t.TempDir(), "song.opus")
	if text, _ := c.GetLyrics(context.Background(), track); text != "remote" {
		t.Errorf("Disabled local provider should be skipped, got %q", text)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	p := &mockProvider{name: "p", enabled: true, text: "lyrics"}
	c := newTestCache(t, 2, nil, "", p)
	ctx := context.Background()

	_, _ = c.GetLyrics(ctx, testTrack("A"))
	_, _ = c.GetLyrics(ctx, testTrack("B"))
	_, _ = c.GetLyrics(ctx, testTrack("A")) // A becomes most recent
	_, _ = c.GetLyrics(ctx, testTrack("C")) // evicts B
	if p.calls != 3 {
		t.Fatalf("Expected 3 provider calls, got %d", p.calls)
	}

	_, _ = c.GetLyrics(ctx, testTrack("A"))
	if p.calls != 3 {
		t.Error("A should still be cached")
	}
	_, _ = c.GetLyrics(ctx, testTrack("B"))
	if p.calls != 4 {
		t.Error("B should have been evicted")
	}
}

func TestCache_GetAllLyrics(t *testing.T) {
	a := &mockProvider{name: "a", enabled: true, all: []string{"a1", "a2"}}
	broken := &mockProvider{name: "broken", enabled: true, err: errors.New("timeout")}
	b := &mockProvider{name: "b", enabled: true, all: []string{"b1"}}
	off := &mockProvider{name: "off", all: []string{"never"}}
	c := newTestCache(t, 3, nil, "", a, broken, b, off)

	var got []core.LyricsResult
	collect := func(r core.LyricsResult) { got = append(got, r) }

	if err := c.GetAllLyrics(context.Background(), "T1", "Get Lucky", "Daft Punk", 248, collect); err != nil {
		t.Fatalf("GetAllLyrics() error: %v", err)
	}

	want := []core.LyricsResult{
		{Provider: "a", Text: "a1"},
		{Provider: "a", Text: "a2"},
		{Provider: "b", Text: "b1"},
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Result %d: expected %v, got %v", i, want[i], got[i])
		}
	}
	if a.allCalls != 1 || broken.allCalls != 1 || b.allCalls != 1 || off.allCalls != 0 {
		t.Errorf("Each enabled provider must be queried once: a=%d broken=%d b=%d off=%d",
			a.allCalls, broken.allCalls, b.allCalls, off.allCalls)
	}

	// Same song under a differently formatted artist and title replays from cache.
	got = nil
	if err := c.GetAllLyrics(context.Background(), "T9", "GET LUCKY (Official Audio)", "daft punk", 248, collect); err != nil {
		t.Fatalf("GetAllLyrics() error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Expected 3 replayed results, got %v", got)
	}
	if a.allCalls != 1 || broken.allCalls != 1 || b.allCalls != 1 {
		t.Error("Cache hit must invoke zero providers")
	}
}

func TestCache_GetAllLyricsCanceled(t *testing.T) {
	p := &mockProvider{name: "p", enabled: true, all: []string{"x"}}
	c := newTestCache(t, 3, nil, "", p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.GetAllLyrics(ctx, "T1", "Title", "Artist", 0, func(core.LyricsResult) {})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if p.allCalls != 0 {
		t.Error("Canceled lookup should not query providers")
	}
}
