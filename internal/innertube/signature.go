package innertube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"

	"go.uber.org/zap"

	"melodeck/internal/core"
)

const (
	iframeAPIPath = "/iframe_api"

	// maxScriptSize bounds the player script read when looking for the signature timestamp.
	maxScriptSize = 8 << 20
)

var (
	// ErrNotDerivable is returned for ciphered formats when no decipher is configured.
	ErrNotDerivable = errors.New("stream url not derivable")

	playerVersionPattern = regexp.MustCompile(`player\\?/([0-9a-fA-F]{8})\\?/`)
	timestampPattern     = regexp.MustCompile(`(?:signatureTimestamp|sts)\s*:\s*(\d+)`)
)

// SignatureTimestamp finds the current player script and reads the signature timestamp from it.
func (c *Client) SignatureTimestamp(ctx context.Context) (int, error) {
	iframe, err := c.fetchText(ctx, c.baseURL+iframeAPIPath)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch iframe api: %w", err)
	}

	m := playerVersionPattern.FindStringSubmatch(iframe)
	if m == nil {
		return 0, errors.New("player version not found")
	}
	scriptURL := fmt.Sprintf("%s/s/player/%s/player_ias.vflset/en_US/base.js", c.baseURL, m[1])

	script, err := c.fetchText(ctx, scriptURL)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch player script %s: %w", m[1], err)
	}

	ts := timestampPattern.FindStringSubmatch(script)
	if ts == nil {
		return 0, errors.New("signature timestamp not found in player script")
	}

	sts, err := strconv.Atoi(ts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid signature timestamp %q: %w", ts[1], err)
	}

	c.logger.Debug("Signature timestamp loaded", zap.String("player", m[1]), zap.Int("sts", sts))
	return sts, nil
}

func (c *Client) fetchText(ctx context.Context, target string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DeriveStreamURL returns the playable URL for a candidate, deciphering its signature when the
// upstream only handed out a signatureCipher.
func (c *Client) DeriveStreamURL(ctx context.Context, candidate core.EncodingCandidate, trackID string) (string, error) {
	if candidate.URL != "" {
		return candidate.URL, nil
	}
	if candidate.SignatureCipher == "" {
		return "", fmt.Errorf("%w: itag %d of %s has neither url nor cipher", ErrNotDerivable, candidate.Itag, trackID)
	}
	if c.decipher == nil {
		if c.ciphers != nil {
			// The resolver talks to the upstream too, so it shares the request budget.
			if err := c.limiter.Wait(ctx); err != nil {
				return "", err
			}
			return c.ciphers.StreamURL(ctx, trackID, candidate.Itag)
		}
		return "", fmt.Errorf("%w: itag %d of %s is ciphered", ErrNotDerivable, candidate.Itag, trackID)
	}

	params, err := url.ParseQuery(candidate.SignatureCipher)
	if err != nil {
		return "", fmt.Errorf("invalid signature cipher: %w", err)
	}
	base, scrambled := params.Get("url"), params.Get("s")
	if base == "" || scrambled == "" {
		return "", fmt.Errorf("%w: incomplete signature cipher", ErrNotDerivable)
	}
	sigParam := params.Get("sp")
	if sigParam == "" {
		sigParam = "signature"
	}

	sig, err := c.decipher(scrambled)
	if err != nil {
		return "", fmt.Errorf("failed to decipher signature: %w", err)
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid stream url: %w", err)
	}
	q := u.Query()
	q.Set(sigParam, sig)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
