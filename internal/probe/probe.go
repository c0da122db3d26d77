// Package probe checks that a signed stream URL is reachable before it is handed to the player.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 5 * time.Second

// HeadProber issues a HEAD request and treats any status below 400 as reachable.
type HeadProber struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	logger    *zap.Logger
}

func NewHeadProber(timeout time.Duration, logger *zap.Logger) *HeadProber {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HeadProber{
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// SetUserAgent sets the User-Agent sent with probes. Some CDNs reject requests without one.
func (p *HeadProber) SetUserAgent(ua string) {
	p.userAgent = ua
}

func (p *HeadProber) Reachable(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		p.logger.Debug("Stream probe rejected", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("stream returned HTTP %d", resp.StatusCode)
	}
	return nil
}
