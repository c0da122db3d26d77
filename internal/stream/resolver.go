// Package stream resolves a track to a verified, playable stream URL by trying several
// upstream client identities in turn.
package stream

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"melodeck/internal/clients"
	"melodeck/internal/core"
	"melodeck/internal/events"
	"melodeck/internal/format"
)

const (
	outcomeResolved      = "resolved"
	outcomeRequestError  = "request_error"
	outcomeUnplayable    = "unplayable"
	outcomeNoAudio       = "no_audio"
	outcomeNoEligible    = "no_eligible_encoding"
	outcomeUnverifiedURL = "unverified_url"
	outcomeExhausted     = "exhausted"
	outcomeCanceled      = "canceled"
)

// Resolver runs the stream resolution pipeline. It is safe for concurrent use.
type Resolver struct {
	upstream core.Upstream
	prober   core.Prober
	registry *clients.Registry
	auth     core.AuthSession
	logger   *zap.Logger

	publisher events.Publisher
	recorder  core.Recorder

	attemptDelay  time.Duration
	defaultExpiry time.Duration

	rndMu sync.Mutex
	rnd   *rand.Rand
	now   func() time.Time
}

func NewResolver(
	config *core.StreamConfig,
	upstream core.Upstream,
	prober core.Prober,
	registry *clients.Registry,
	auth core.AuthSession,
	logger *zap.Logger,
) *Resolver {
	defaultExpiry := config.DefaultExpiry
	if defaultExpiry <= 0 {
		defaultExpiry = core.DefaultStreamExpirySecs * time.Second
	}

	return &Resolver{
		upstream:      upstream,
		prober:        prober,
		registry:      registry,
		auth:          auth,
		logger:        logger,
		publisher:     events.Nop{},
		recorder:      core.NopRecorder{},
		attemptDelay:  config.AttemptDelay,
		defaultExpiry: defaultExpiry,
		now:           time.Now,
	}
}

func (r *Resolver) SetPublisher(p events.Publisher) {
	r.publisher = p
}

func (r *Resolver) SetRecorder(rec core.Recorder) {
	r.recorder = rec
}

// SetRand fixes the shuffle source, mainly for tests.
func (r *Resolver) SetRand(rnd *rand.Rand) {
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	r.rnd = rnd
}

// attempt carries what one resolution learns across clients.
type attempt struct {
	trackID    string
	playlistID string
	quality    core.Quality
	metered    bool

	metadata *core.PlayerMetadata

	sigTimestamp       int
	sigTimestampLoaded bool
}

// ResolvePlaybackStream returns the first stream whose URL passed the reachability check.
// Per-client failures are swallowed; only exhaustion is returned, as a *core.PlaybackError
// wrapping the last recorded cause.
func (r *Resolver) ResolvePlaybackStream(
	ctx context.Context,
	trackID, playlistID string,
	quality core.Quality,
	metered bool,
) (*core.StreamResolution, error) {
	start := r.now()
	candidates := r.candidates()

	r.logger.Debug("Resolving playback stream",
		zap.String("track_id", trackID),
		zap.String("quality", quality.String()),
		zap.Bool("metered", metered),
		zap.Int("clients", len(candidates)))

	state := &attempt{trackID: trackID, playlistID: playlistID, quality: quality, metered: metered}
	var lastErr error = &core.ClientError{Client: "none", Err: core.ErrUpstreamUnavailable}

	for i, client := range candidates {
		if err := ctx.Err(); err != nil {
			r.recorder.RecordResolution(outcomeCanceled, r.now().Sub(start))
			return nil, err
		}

		res, outcome, pause, err := r.tryClient(ctx, client, state)
		r.recorder.RecordClientAttempt(client.Name, outcome)
		r.publisher.Publish(events.NewResolutionAttemptEvent(trackID, client.Name, outcome, err))

		if err == nil {
			r.logger.Info("Resolved playback stream",
				zap.String("track_id", trackID),
				zap.String("client", client.Name),
				zap.Int("itag", res.Encoding.Itag),
				zap.Int("bitrate", res.Encoding.Bitrate),
				zap.Int("attempt", i+1))
			r.recorder.RecordResolution(outcomeResolved, r.now().Sub(start))
			r.publisher.Publish(events.NewResolutionCompletedEvent(trackID, client.Name, i+1, nil))
			return res, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			r.recorder.RecordResolution(outcomeCanceled, r.now().Sub(start))
			return nil, ctxErr
		}

		lastErr = err
		r.logger.Debug("Client failed to resolve stream",
			zap.String("track_id", trackID),
			zap.String("client", client.Name),
			zap.String("outcome", outcome),
			zap.Error(err))

		if pause && i < len(candidates)-1 {
			if waitErr := wait(ctx, r.attemptDelay); waitErr != nil {
				r.recorder.RecordResolution(outcomeCanceled, r.now().Sub(start))
				return nil, waitErr
			}
		}
	}

	failure := &core.PlaybackError{Kind: core.KindNetwork, TrackID: trackID, Err: lastErr}
	r.logger.Warn("All clients failed to resolve stream",
		zap.String("track_id", trackID),
		zap.Int("clients", len(candidates)),
		zap.Error(lastErr))
	r.recorder.RecordResolution(outcomeExhausted, r.now().Sub(start))
	r.publisher.Publish(events.NewResolutionCompletedEvent(trackID, "", len(candidates), failure))
	return nil, failure
}

// tryClient runs one client through the pipeline. pause reports whether the caller should
// back off before the next client.
func (r *Resolver) tryClient(
	ctx context.Context,
	client core.ClientDescriptor,
	state *attempt,
) (res *core.StreamResolution, outcome string, pause bool, err error) {
	fail := func(o string, backOff bool, cause error) (*core.StreamResolution, string, bool, error) {
		return nil, o, backOff, &core.ClientError{Client: client.Name, Err: cause}
	}

	resp, err := r.upstream.FetchPlayerMetadata(ctx, state.trackID, state.playlistID, client,
		r.signatureTimestamp(ctx, client, state))
	if err != nil {
		return fail(outcomeRequestError, false, err)
	}
	if resp.Playability.Status != core.PlayabilityOK {
		return fail(outcomeUnplayable, false, fmt.Errorf("%w: status %s: %s",
			core.ErrUpstreamUnavailable, resp.Playability.Status, resp.Playability.Reason))
	}

	if state.metadata == nil {
		metadata := resp.Metadata
		state.metadata = &metadata
	}

	audio := make([]core.EncodingCandidate, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		if c.IsAudio() {
			audio = append(audio, c)
		}
	}
	if len(audio) == 0 {
		return fail(outcomeNoAudio, false, fmt.Errorf("%w: no audio formats", core.ErrNoEligibleEncoding))
	}

	chosen, ok := format.Select(state.quality, audio, state.metered)
	if !ok {
		return fail(outcomeNoEligible, false, fmt.Errorf("%w: none of %d audio formats match %s",
			core.ErrNoEligibleEncoding, len(audio), state.quality))
	}

	streamURL, err := r.upstream.DeriveStreamURL(ctx, chosen, state.trackID)
	if err != nil {
		return fail(outcomeUnverifiedURL, true, fmt.Errorf("%w: derive itag %d: %w", core.ErrUnverifiedURL, chosen.Itag, err))
	}
	if err := r.prober.Reachable(ctx, streamURL); err != nil {
		return fail(outcomeUnverifiedURL, true, fmt.Errorf("%w: %w", core.ErrUnverifiedURL, err))
	}

	expiry := r.defaultExpiry
	if resp.ExpiresInSeconds > 0 {
		expiry = time.Duration(resp.ExpiresInSeconds) * time.Second
	}

	return &core.StreamResolution{
		TrackID:    state.trackID,
		Client:     client.Name,
		Encoding:   chosen,
		URL:        streamURL,
		ExpiresIn:  expiry,
		ResolvedAt: r.now(),
		Metadata:   *state.metadata,
	}, outcomeResolved, false, nil
}

// signatureTimestamp is fetched at most once per resolution and only for clients that send it.
func (r *Resolver) signatureTimestamp(ctx context.Context, client core.ClientDescriptor, state *attempt) int {
	if !client.UsesSignatureTimestamp {
		return 0
	}
	if !state.sigTimestampLoaded {
		state.sigTimestampLoaded = true
		sts, err := r.upstream.SignatureTimestamp(ctx)
		if err != nil {
			r.logger.Debug("Signature timestamp unavailable", zap.Error(err))
			return 0
		}
		state.sigTimestamp = sts
	}
	return state.sigTimestamp
}

// ResolveMetadataOnly queries the primary client for display metadata. It never tries fallbacks.
func (r *Resolver) ResolveMetadataOnly(ctx context.Context, trackID, playlistID string) (*core.PlayerMetadata, error) {
	primary := r.registry.Primary()
	state := &attempt{trackID: trackID, playlistID: playlistID}

	resp, err := r.upstream.FetchPlayerMetadata(ctx, trackID, playlistID, primary,
		r.signatureTimestamp(ctx, primary, state))
	if err != nil {
		return nil, &core.ClientError{Client: primary.Name, Err: err}
	}
	if resp.Playability.Status != core.PlayabilityOK {
		return nil, &core.ClientError{Client: primary.Name, Err: fmt.Errorf("%w: status %s: %s",
			core.ErrUpstreamUnavailable, resp.Playability.Status, resp.Playability.Reason)}
	}

	metadata := resp.Metadata
	return &metadata, nil
}

func (r *Resolver) candidates() []core.ClientDescriptor {
	loggedIn := r.auth != nil && r.auth.IsLoggedIn()

	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.registry.Candidates(loggedIn, r.rnd)
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
