package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"melodeck/internal/core"
	"melodeck/pkg/trackref"
)

type Resolver interface {
	ResolvePlaybackStream(ctx context.Context, trackID, playlistID string,
		quality core.Quality, metered bool) (*core.StreamResolution, error)
	ResolveMetadataOnly(ctx context.Context, trackID, playlistID string) (*core.PlayerMetadata, error)
}

type LyricsSource interface {
	GetLyrics(ctx context.Context, track core.LyricsTrack) (string, error)
	GetAllLyrics(ctx context.Context, id, title, artist string, durationSecs int,
		onResult func(core.LyricsResult)) error
}

// Playback is the headless playback session behind /api/v1/play and /api/v1/recovery.
type Playback interface {
	Play(ctx context.Context, trackID, playlistID string) (*core.StreamResolution, error)
	RecoveryState() core.RecoveryState
}

// API serves the JSON endpoints under /api/v1.
type API struct {
	resolver Resolver
	lyrics   LyricsSource
	playback Playback
	network  core.NetworkMonitor
	limiter  func(http.Handler) http.Handler
	logger   *zap.Logger
}

func NewAPI(resolver Resolver, lyrics LyricsSource, playback Playback,
	network core.NetworkMonitor, logger *zap.Logger) *API {
	return &API{
		resolver: resolver,
		lyrics:   lyrics,
		playback: playback,
		network:  network,
		logger:   logger,
	}
}

// SetRateLimit caps upstream-facing requests per remote host and minute. Zero disables the cap.
func (a *API) SetRateLimit(perMinute int) {
	if perMinute <= 0 {
		a.limiter = nil
		return
	}
	a.limiter = newClientLimiter(perMinute)
}

func (a *API) register(mux *http.ServeMux) {
	mux.Handle("GET /api/v1/resolve", a.limit(a.handleResolve))
	mux.Handle("GET /api/v1/metadata", a.limit(a.handleMetadata))
	mux.Handle("GET /api/v1/lyrics", a.limit(a.handleLyrics))
	mux.Handle("GET /api/v1/lyrics/all", a.limit(a.handleAllLyrics))
	mux.Handle("POST /api/v1/play", a.limit(a.handlePlay))
	mux.HandleFunc("GET /api/v1/recovery", a.handleRecovery)
}

func (a *API) limit(h http.HandlerFunc) http.Handler {
	if a.limiter == nil {
		return h
	}
	return a.limiter(h)
}

type resolutionResponse struct {
	TrackID   string    `json:"trackId"`
	Client    string    `json:"client"`
	URL       string    `json:"url"`
	Itag      int       `json:"itag"`
	MimeType  string    `json:"mimeType"`
	Bitrate   int       `json:"bitrate"`
	ExpiresAt time.Time `json:"expiresAt"`
	Title     string    `json:"title,omitempty"`
	Author    string    `json:"author,omitempty"`
}

type metadataResponse struct {
	TrackID              string  `json:"trackId"`
	Title                string  `json:"title"`
	Author               string  `json:"author"`
	DurationSeconds      int     `json:"durationSeconds"`
	Thumbnail            string  `json:"thumbnail,omitempty"`
	LoudnessDB           float64 `json:"loudnessDb"`
	PerceptualLoudnessDB float64 `json:"perceptualLoudnessDb"`
}

type lyricsResponse struct {
	Found bool   `json:"found"`
	Text  string `json:"text,omitempty"`
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	quality, err := core.ParseQuality(q.Get("quality"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	metered := a.network != nil && a.network.IsMetered()
	if raw := q.Get("metered"); raw != "" {
		if metered, err = strconv.ParseBool(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid metered flag")
			return
		}
	}

	res, err := a.resolver.ResolvePlaybackStream(r.Context(), ref.TrackID, ref.PlaylistID, quality, metered)
	if err != nil {
		a.logger.Warn("Resolve request failed", zap.String("track_id", ref.TrackID), zap.Error(err))
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, newResolutionResponse(res))
}

func newResolutionResponse(res *core.StreamResolution) resolutionResponse {
	return resolutionResponse{
		TrackID:   res.TrackID,
		Client:    res.Client,
		URL:       res.URL,
		Itag:      res.Encoding.Itag,
		MimeType:  res.Encoding.MimeType,
		Bitrate:   res.Encoding.Bitrate,
		ExpiresAt: res.ExpiresAt(),
		Title:     res.Metadata.Track.Title,
		Author:    res.Metadata.Track.Author,
	}
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	if a.playback == nil {
		writeError(w, http.StatusServiceUnavailable, "playback is not enabled")
		return
	}
	ref, ok := parseRef(w, r)
	if !ok {
		return
	}

	res, err := a.playback.Play(r.Context(), ref.TrackID, ref.PlaylistID)
	if err != nil {
		a.logger.Warn("Play request failed", zap.String("track_id", ref.TrackID), zap.Error(err))
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newResolutionResponse(res))
}

func (a *API) handleMetadata(w http.ResponseWriter, r *http.Request) {
	ref, ok := parseRef(w, r)
	if !ok {
		return
	}

	md, err := a.resolver.ResolveMetadataOnly(r.Context(), ref.TrackID, ref.PlaylistID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, metadataResponse{
		TrackID:              ref.TrackID,
		Title:                md.Track.Title,
		Author:               md.Track.Author,
		DurationSeconds:      int(md.Track.Duration.Seconds()),
		Thumbnail:            md.Track.Thumbnail,
		LoudnessDB:           md.Audio.LoudnessDB,
		PerceptualLoudnessDB: md.Audio.PerceptualLoudnessDB,
	})
}

func (a *API) handleLyrics(w http.ResponseWriter, r *http.Request) {
	track, ok := parseLyricsTrack(w, r)
	if !ok {
		return
	}
	track.LocalPath = r.URL.Query().Get("path")

	text, err := a.lyrics.GetLyrics(r.Context(), track)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if text == core.LyricsNotFound {
		writeJSON(w, http.StatusOK, lyricsResponse{Found: false})
		return
	}
	writeJSON(w, http.StatusOK, lyricsResponse{Found: true, Text: text})
}

func (a *API) handleAllLyrics(w http.ResponseWriter, r *http.Request) {
	track, ok := parseLyricsTrack(w, r)
	if !ok {
		return
	}

	results := []core.LyricsResult{}
	err := a.lyrics.GetAllLyrics(r.Context(), track.ID, track.Title, track.ArtistString(),
		int(track.Duration.Seconds()), func(res core.LyricsResult) {
			results = append(results, res)
		})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	type result struct {
		Provider string `json:"provider"`
		Text     string `json:"text"`
	}
	out := make([]result, 0, len(results))
	for _, res := range results {
		out = append(out, result{Provider: res.Provider, Text: res.Text})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRecovery(w http.ResponseWriter, _ *http.Request) {
	state := core.RecoveryIdle
	if a.playback != nil {
		state = a.playback.RecoveryState()
	}
	writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
}

func parseRef(w http.ResponseWriter, r *http.Request) (trackref.Ref, bool) {
	ref, err := trackref.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a track ID or link")
		return trackref.Ref{}, false
	}
	if playlist := r.URL.Query().Get("playlist"); playlist != "" {
		ref.PlaylistID = playlist
	}
	return ref, true
}

func parseLyricsTrack(w http.ResponseWriter, r *http.Request) (core.LyricsTrack, bool) {
	q := r.URL.Query()
	track := core.LyricsTrack{ID: q.Get("id"), Title: strings.TrimSpace(q.Get("title"))}
	if track.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return track, false
	}
	for _, artist := range strings.Split(q.Get("artist"), ",") {
		if artist = strings.TrimSpace(artist); artist != "" {
			track.Artists = append(track.Artists, artist)
		}
	}
	if raw := q.Get("duration"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "duration must be whole seconds")
			return track, false
		}
		track.Duration = time.Duration(secs) * time.Second
	}
	if track.ID == "" {
		track.ID = track.ArtistString() + "/" + track.Title
	}
	return track, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps resolution failures to the closest HTTP status.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, core.ErrNoEligibleEncoding):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
