package innertube

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kkdai/youtube/v2"
)

const defaultCipherTimeout = 15 * time.Second

// CipherResolver produces a signed URL for a ciphered format of a track.
type CipherResolver interface {
	StreamURL(ctx context.Context, trackID string, itag int) (string, error)
}

// PlayerScriptResolver deciphers formats by letting the kkdai/youtube client evaluate the
// current player script for the track.
type PlayerScriptResolver struct {
	client  *youtube.Client
	timeout time.Duration
}

func NewPlayerScriptResolver(httpClient *http.Client, timeout time.Duration) *PlayerScriptResolver {
	if timeout <= 0 {
		timeout = defaultCipherTimeout
	}
	return &PlayerScriptResolver{
		client:  &youtube.Client{HTTPClient: httpClient},
		timeout: timeout,
	}
}

// StreamURL gives up when ctx ends or after the resolver's timeout, whichever comes first.
func (r *PlayerScriptResolver) StreamURL(ctx context.Context, trackID string, itag int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	video, err := r.client.GetVideoContext(ctx, trackID)
	if err != nil {
		return "", fmt.Errorf("failed to load player for %s: %w", trackID, err)
	}
	formats := video.Formats.Itag(itag)
	if len(formats) == 0 {
		return "", fmt.Errorf("%w: itag %d not offered for %s", ErrNotDerivable, itag, trackID)
	}

	streamURL, err := r.client.GetStreamURLContext(ctx, video, &formats[0])
	if err != nil {
		return "", fmt.Errorf("failed to decipher itag %d of %s: %w", itag, trackID, err)
	}
	return streamURL, nil
}
