// Package innertube talks to the upstream player API: player requests for each client identity,
// signature timestamp discovery and stream URL signing.
package innertube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"melodeck/internal/core"
)

const (
	playerPath = "/youtubei/v1/player"

	defaultRequestTimeout = 10 * time.Second
	defaultRateLimit      = 5
	defaultRateBurst      = 10

	// maxResponseSize bounds how much of a player response is read.
	maxResponseSize = 4 << 20
)

// DecipherFunc turns the scrambled signature from a signatureCipher into a usable one.
type DecipherFunc func(scrambled string) (string, error)

// Client implements core.Upstream against the InnerTube player endpoint.
type Client struct {
	baseURL     string
	cookie      string
	visitorData string
	language    string
	region      string

	httpClient *http.Client
	limiter    *rate.Limiter
	decipher   DecipherFunc
	ciphers    CipherResolver
	logger     *zap.Logger
	now        func() time.Time
}

func NewClient(config *core.UpstreamConfig, logger *zap.Logger) *Client {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	limit := rate.Limit(config.RateLimit)
	if config.RateLimit <= 0 {
		limit = rate.Limit(defaultRateLimit)
	}
	burst := config.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = core.DefaultUpstreamBaseURL
	}

	return &Client{
		baseURL:     baseURL,
		cookie:      config.Cookie,
		visitorData: config.VisitorData,
		language:    config.Language,
		region:      config.Region,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(limit, burst),
		logger:      logger,
		now:         time.Now,
	}
}

// SetDecipher installs the signature decipher used for ciphered formats.
func (c *Client) SetDecipher(fn DecipherFunc) {
	c.decipher = fn
}

// SetCipherResolver installs the fallback used for ciphered formats when no DecipherFunc is set.
func (c *Client) SetCipherResolver(r CipherResolver) {
	c.ciphers = r
}

// IsLoggedIn reports whether the configured cookie carries a SAPISID, which authenticated
// player requests need.
func (c *Client) IsLoggedIn() bool {
	return sapisid(c.cookie) != ""
}

type playerRequest struct {
	Context         requestContext   `json:"context"`
	VideoID         string           `json:"videoId"`
	PlaylistID      string           `json:"playlistId,omitempty"`
	PlaybackContext *playbackContext `json:"playbackContext,omitempty"`
	ContentCheckOK  bool             `json:"contentCheckOk"`
	RacyCheckOK     bool             `json:"racyCheckOk"`
}

type requestContext struct {
	Client clientContext `json:"client"`
}

type clientContext struct {
	ClientName        string `json:"clientName"`
	ClientVersion     string `json:"clientVersion"`
	UserAgent         string `json:"userAgent,omitempty"`
	OSName            string `json:"osName,omitempty"`
	OSVersion         string `json:"osVersion,omitempty"`
	DeviceMake        string `json:"deviceMake,omitempty"`
	DeviceModel       string `json:"deviceModel,omitempty"`
	AndroidSDKVersion int    `json:"androidSdkVersion,omitempty"`
	HL                string `json:"hl,omitempty"`
	GL                string `json:"gl,omitempty"`
	VisitorData       string `json:"visitorData,omitempty"`
}

type playbackContext struct {
	ContentPlaybackContext contentPlaybackContext `json:"contentPlaybackContext"`
}

type contentPlaybackContext struct {
	SignatureTimestamp int `json:"signatureTimestamp"`
}

// FetchPlayerMetadata issues one player request as the given client identity.
func (c *Client) FetchPlayerMetadata(
	ctx context.Context,
	trackID, playlistID string,
	client core.ClientDescriptor,
	signatureTimestamp int,
) (*core.PlayerResponse, error) {
	body := playerRequest{
		Context: requestContext{Client: clientContext{
			ClientName:        client.Name,
			ClientVersion:     client.Version,
			UserAgent:         client.UserAgent,
			OSName:            client.OSName,
			OSVersion:         client.OSVersion,
			DeviceMake:        client.DeviceMake,
			DeviceModel:       client.DeviceModel,
			AndroidSDKVersion: client.AndroidSDKVersion,
			HL:                c.language,
			GL:                c.region,
			VisitorData:       c.visitorData,
		}},
		VideoID:        trackID,
		PlaylistID:     playlistID,
		ContentCheckOK: true,
		RacyCheckOK:    true,
	}
	if signatureTimestamp > 0 {
		body.PlaybackContext = &playbackContext{
			ContentPlaybackContext: contentPlaybackContext{SignatureTimestamp: signatureTimestamp},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode player request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+playerPath+"?prettyPrint=false", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req, client)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("player endpoint returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read player response: %w", err)
	}

	parsed, err := ParsePlayerResponse(data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Player response received",
		zap.String("track_id", trackID),
		zap.String("client", client.Name),
		zap.String("status", parsed.Playability.Status),
		zap.Int("formats", len(parsed.Candidates)))

	return parsed, nil
}

func (c *Client) setHeaders(req *http.Request, client core.ClientDescriptor) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Format-Version", "1")
	req.Header.Set("X-YouTube-Client-Version", client.Version)
	req.Header.Set("Origin", c.baseURL)
	if client.ClientID > 0 {
		req.Header.Set("X-YouTube-Client-Name", strconv.Itoa(client.ClientID))
	}
	if client.UserAgent != "" {
		req.Header.Set("User-Agent", client.UserAgent)
	}
	if c.visitorData != "" {
		req.Header.Set("X-Goog-Visitor-Id", c.visitorData)
	}

	if client.SupportsLogin && c.IsLoggedIn() {
		req.Header.Set("Cookie", c.cookie)
		req.Header.Set("Authorization", sapisidHash(sapisid(c.cookie), c.baseURL, c.now()))
	}
}

// ParsePlayerResponse extracts playability, display metadata and the adaptive formats from a
// raw player response.
func ParsePlayerResponse(data []byte) (*core.PlayerResponse, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid player response JSON")
	}
	root := gjson.ParseBytes(data)

	resp := &core.PlayerResponse{
		Playability: core.Playability{
			Status: root.Get("playabilityStatus.status").String(),
			Reason: root.Get("playabilityStatus.reason").String(),
		},
		ExpiresInSeconds: int(root.Get("streamingData.expiresInSeconds").Int()),
	}

	details := root.Get("videoDetails")
	resp.Metadata.Track = core.TrackDetails{
		ID:        details.Get("videoId").String(),
		Title:     details.Get("title").String(),
		Author:    details.Get("author").String(),
		ChannelID: details.Get("channelId").String(),
		Duration:  time.Duration(details.Get("lengthSeconds").Int()) * time.Second,
		ViewCount: details.Get("viewCount").Int(),
		IsLive:    details.Get("isLiveContent").Bool(),
	}
	if thumbs := details.Get("thumbnail.thumbnails").Array(); len(thumbs) > 0 {
		resp.Metadata.Track.Thumbnail = thumbs[len(thumbs)-1].Get("url").String()
	}
	resp.Metadata.Audio = core.AudioConfig{
		LoudnessDB:           root.Get("playerConfig.audioConfig.loudnessDb").Float(),
		PerceptualLoudnessDB: root.Get("playerConfig.audioConfig.perceptualLoudnessDb").Float(),
	}

	root.Get("streamingData.adaptiveFormats").ForEach(func(_, f gjson.Result) bool {
		resp.Candidates = append(resp.Candidates, core.EncodingCandidate{
			Itag:            int(f.Get("itag").Int()),
			MimeType:        f.Get("mimeType").String(),
			Bitrate:         int(f.Get("bitrate").Int()),
			AudioQuality:    f.Get("audioQuality").String(),
			ContentLength:   f.Get("contentLength").Int(),
			LoudnessDB:      f.Get("loudnessDb").Float(),
			URL:             f.Get("url").String(),
			SignatureCipher: f.Get("signatureCipher").String(),
		})
		return true
	})

	return resp, nil
}

var _ core.Upstream = (*Client)(nil)
