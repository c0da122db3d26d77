// Package lyrics resolves lyric text through a chain of providers behind a small LRU cache.
package lyrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	ProviderLocal     = "local"
	ProviderLRCLib    = "lrclib"
	ProviderLyricsOvh = "lyricsovh"

	defaultRequestTimeout = 10 * time.Second
	userAgent             = "melodeck/1.0"

	// maxBodySize bounds lyric API responses.
	maxBodySize = 2 << 20
)

// ErrNoLyrics is returned by a provider that answered but had nothing for the track.
var ErrNoLyrics = errors.New("no lyrics")

var errNotFound = errors.New("not found")

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &http.Client{Timeout: timeout}
}

// getJSON decodes a JSON response into dest. A 404 is reported as errNotFound.
func getJSON(ctx context.Context, client *http.Client, reqURL, service string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", service, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", service, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", service, err)
	}
	return nil
}
