package lyrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// LyricsOvhProvider queries the lyrics.ovh API, which only knows plain lyrics by artist and title.
type LyricsOvhProvider struct {
	baseURL string
	enabled bool
	client  *http.Client
}

func NewLyricsOvhProvider(baseURL string, timeout time.Duration) *LyricsOvhProvider {
	return &LyricsOvhProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		enabled: baseURL != "",
		client:  newHTTPClient(timeout),
	}
}

func (p *LyricsOvhProvider) Name() string { return ProviderLyricsOvh }

func (p *LyricsOvhProvider) IsEnabled() bool { return p.enabled }

func (p *LyricsOvhProvider) Fetch(ctx context.Context, _, title, artist string, _ int) (string, error) {
	// lyrics.ovh matches on the lead artist only.
	lead, _, _ := strings.Cut(artist, ",")

	reqURL := fmt.Sprintf("%s/v1/%s/%s", p.baseURL,
		url.PathEscape(strings.TrimSpace(lead)), url.PathEscape(strings.TrimSpace(title)))

	var resp struct {
		Lyrics string `json:"lyrics"`
		Error  string `json:"error"`
	}
	err := getJSON(ctx, p.client, reqURL, "lyrics.ovh", &resp)
	if errors.Is(err, errNotFound) {
		return "", fmt.Errorf("%w: lyrics.ovh has no entry", ErrNoLyrics)
	}
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(strings.ReplaceAll(resp.Lyrics, "\r\n", "\n"))
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrNoLyrics, resp.Error)
	}
	return text, nil
}

func (p *LyricsOvhProvider) FetchAll(ctx context.Context, id, title, artist string, durationSecs int, onResult func(string)) error {
	text, err := p.Fetch(ctx, id, title, artist, durationSecs)
	if err != nil {
		return err
	}
	onResult(text)
	return nil
}
