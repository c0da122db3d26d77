package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"melodeck/internal/clients"
	"melodeck/internal/core"
	"melodeck/internal/events"
	httpserver "melodeck/internal/http"
	"melodeck/internal/innertube"
	"melodeck/internal/lyrics"
	"melodeck/internal/player"
	"melodeck/internal/probe"
	"melodeck/internal/session"
	"melodeck/internal/stream"
	"melodeck/pkg/trackref"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API with headless playback",
	RunE:  runServe,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <track id or link>",
	Short: "Resolve a verified playable stream URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

var lyricsCmd = &cobra.Command{
	Use:   "lyrics",
	Short: "Look up lyrics for a track",
	RunE:  runLyrics,
}

func init() {
	serveCmd.Flags().String("play-sink", "", "File or FIFO receiving headless playback audio (empty discards)")
	resolveCmd.Flags().Bool("metadata-only", false, "Only fetch track metadata from the primary client")

	lyricsCmd.Flags().String("title", "", "Track title")
	lyricsCmd.Flags().StringSlice("artist", nil, "Track artist (repeatable)")
	lyricsCmd.Flags().Int("duration", 0, "Track duration in seconds")
	lyricsCmd.Flags().String("path", "", "Local audio file for sidecar lyrics")
	lyricsCmd.Flags().Bool("all", false, "Print every provider's result")
}

// staticNetwork reports the configured metered flag.
type staticNetwork bool

func (n staticNetwork) IsMetered() bool { return bool(n) }

type services struct {
	bus      *events.Bus
	registry *prometheus.Registry
	metrics  *httpserver.Metrics
	upstream *innertube.Client
	resolver *stream.Resolver
	lyrics   *lyrics.Cache
	network  core.NetworkMonitor
}

func initializeServices() (*services, error) {
	if err := validateConfig(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := httpserver.NewMetrics(registry)

	bus := events.NewBus(logger.Named("events"))
	bus.SubscribeAll(func(ev events.Event) {
		logger.Debug("Event", zap.String("type", string(ev.Type())), zap.Time("at", ev.Timestamp()))
	})

	upstream := innertube.NewClient(&config.Upstream, logger.Named("innertube"))
	upstream.SetCipherResolver(innertube.NewPlayerScriptResolver(&http.Client{}, config.Upstream.RequestTimeout))

	prober := probe.NewHeadProber(config.Stream.ProbeTimeout, logger.Named("probe"))
	prober.SetUserAgent(clients.Default().Primary().UserAgent)

	resolver := stream.NewResolver(&config.Stream, upstream, prober, clients.Default(), upstream,
		logger.Named("stream"))
	resolver.SetPublisher(bus)
	resolver.SetRecorder(metrics)

	cache, err := createLyricsCache()
	if err != nil {
		return nil, err
	}
	cache.SetRecorder(metrics)

	return &services{
		bus:      bus,
		registry: registry,
		metrics:  metrics,
		upstream: upstream,
		resolver: resolver,
		lyrics:   cache,
		network:  staticNetwork(config.Stream.Metered),
	}, nil
}

func createLyricsCache() (*lyrics.Cache, error) {
	providers := []core.LyricsProvider{
		lyrics.NewLRCLibProvider(config.Lyrics.LRCLibURL, config.Lyrics.RequestTimeout),
		lyrics.NewLyricsOvhProvider(config.Lyrics.LyricsOvhURL, config.Lyrics.RequestTimeout),
	}
	cache, err := lyrics.NewCache(config.Lyrics.CacheSize, lyrics.NewLocalProvider(config.Lyrics.LocalEnabled),
		providers, config.Lyrics.PreferredProvider, logger.Named("lyrics"))
	if err != nil {
		return nil, fmt.Errorf("failed to create lyrics cache: %w", err)
	}
	return cache, nil
}

func openSink(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopWriteCloser{io.Discard}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open play sink %s: %w", path, err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting melodeck",
		zap.String("version", version),
		zap.String("quality", config.Stream.Quality),
		zap.Bool("metered", config.Stream.Metered),
		zap.Bool("logged_in", config.Upstream.Cookie != ""))

	svcs, err := initializeServices()
	if err != nil {
		return err
	}

	sinkPath, _ := cmd.Flags().GetString("play-sink")
	sink, err := openSink(sinkPath)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	sinkPlayer := player.NewSinkPlayer(&http.Client{}, sink, logger.Named("player"))
	sinkPlayer.SetUserAgent(clients.Default().Primary().UserAgent)

	playback, err := session.New(config, svcs.resolver, sinkPlayer, svcs.network, svcs.bus, logger.Named("session"))
	if err != nil {
		return err
	}
	playback.SetRecorder(svcs.metrics)

	api := httpserver.NewAPI(svcs.resolver, svcs.lyrics, playback, svcs.network, logger.Named("api"))
	api.SetRateLimit(config.Server.RequestsPerMinute)
	server := httpserver.NewServer(&config.Server, api, svcs.registry, logger.Named("http"))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gCtx)
	})
	g.Go(func() error {
		if err := playback.Run(gCtx); err != nil && gCtx.Err() == nil {
			return err
		}
		return nil
	})

	logger.Info("melodeck started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	waitErr := g.Wait()

	_ = playback.Close()
	_ = sinkPlayer.Close()
	_ = svcs.bus.Close()

	if waitErr != nil {
		logger.Error("melodeck stopped with error", zap.Error(waitErr))
		return waitErr
	}
	logger.Info("melodeck stopped gracefully")
	return nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() { _ = logger.Sync() }()

	ref, err := trackref.Parse(args[0])
	if err != nil {
		return fmt.Errorf("%q: %w", args[0], err)
	}

	svcs, err := initializeServices()
	if err != nil {
		return err
	}
	defer func() { _ = svcs.bus.Close() }()

	if metadataOnly, _ := cmd.Flags().GetBool("metadata-only"); metadataOnly {
		md, err := svcs.resolver.ResolveMetadataOnly(ctx, ref.TrackID, ref.PlaylistID)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"trackId":  ref.TrackID,
			"title":    md.Track.Title,
			"author":   md.Track.Author,
			"duration": md.Track.Duration.String(),
		})
	}

	quality, err := core.ParseQuality(config.Stream.Quality)
	if err != nil {
		return err
	}
	res, err := svcs.resolver.ResolvePlaybackStream(ctx, ref.TrackID, ref.PlaylistID, quality,
		svcs.network.IsMetered())
	if err != nil {
		return err
	}

	return printJSON(cmd.OutOrStdout(), map[string]any{
		"trackId":   res.TrackID,
		"client":    res.Client,
		"itag":      res.Encoding.Itag,
		"mimeType":  res.Encoding.MimeType,
		"bitrate":   res.Encoding.Bitrate,
		"url":       res.URL,
		"expiresAt": res.ExpiresAt().Format(time.RFC3339),
		"title":     res.Metadata.Track.Title,
	})
}

func runLyrics(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() { _ = logger.Sync() }()

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	cache, err := createLyricsCache()
	if err != nil {
		return err
	}

	title, _ := cmd.Flags().GetString("title")
	artists, _ := cmd.Flags().GetStringSlice("artist")
	duration, _ := cmd.Flags().GetInt("duration")
	path, _ := cmd.Flags().GetString("path")

	var track core.LyricsTrack
	switch {
	case title != "":
		track = core.LyricsTrack{
			ID:        strings.Join(artists, ", ") + "/" + title,
			Title:     title,
			Artists:   artists,
			LocalPath: path,
		}
	case path != "":
		if track, err = lyrics.ReadTrackTags(path); err != nil {
			return err
		}
	default:
		return fmt.Errorf("either --title or --path is required")
	}
	track.Duration = time.Duration(duration) * time.Second

	out := cmd.OutOrStdout()
	if all, _ := cmd.Flags().GetBool("all"); all {
		found := 0
		err := cache.GetAllLyrics(ctx, track.ID, track.Title, track.ArtistString(), duration,
			func(res core.LyricsResult) {
				found++
				fmt.Fprintf(out, "=== %s ===\n%s\n\n", res.Provider, res.Text)
			})
		if err != nil {
			return err
		}
		if found == 0 {
			fmt.Fprintln(out, "No lyrics found")
		}
		return nil
	}

	text, err := cache.GetLyrics(ctx, track)
	if err != nil {
		return err
	}
	if text == core.LyricsNotFound {
		fmt.Fprintln(out, "No lyrics found")
		return nil
	}
	fmt.Fprintln(out, text)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
