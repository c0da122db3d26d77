// Package main provides the melodeck CLI application entry point.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"melodeck/internal/core"
)

const (
	defaultServerHost = "0.0.0.0"
	version           = "1.0.0"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "melodeck",
	Short: "melodeck - resilient music stream resolution",
	Long: `melodeck resolves playable audio streams by trying several upstream client profiles,
recovers interrupted playback with bounded backoff and looks up lyrics across local and remote providers.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if viper.GetBool("generate-env-example") {
			return generateEnvExample(cmd)
		}
		return cmd.Help()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := core.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Log.Format, "log format (json, console)")

	flags.String("upstream-base-url", defaults.Upstream.BaseURL, "Upstream player API base URL")
	flags.String("upstream-cookie", "", "Upstream account cookie (empty means logged out)")
	flags.String("upstream-visitor-data", "", "Upstream visitor data")
	flags.String("upstream-language", defaults.Upstream.Language, "Upstream interface language (hl)")
	flags.String("upstream-region", defaults.Upstream.Region, "Upstream content region (gl)")
	flags.Duration("upstream-timeout", defaults.Upstream.RequestTimeout, "Upstream request timeout")
	flags.Float64("upstream-rate-limit", defaults.Upstream.RateLimit, "Upstream requests per second")
	flags.Int("upstream-rate-burst", defaults.Upstream.RateBurst, "Upstream request burst")

	flags.String("stream-quality", defaults.Stream.Quality, "Audio quality (auto, low, high, max)")
	flags.Bool("stream-metered", defaults.Stream.Metered, "Treat the network as metered")
	flags.Duration("stream-attempt-delay", defaults.Stream.AttemptDelay, "Pause between client attempts")
	flags.Duration("stream-default-expiry", defaults.Stream.DefaultExpiry,
		"Stream URL lifetime when upstream omits it")
	flags.Duration("stream-probe-timeout", defaults.Stream.ProbeTimeout, "Stream URL reachability check timeout")

	flags.Int("recovery-max-faults", defaults.Recovery.MaxConsecutiveFaults,
		"Consecutive playback faults before recovery gives up")
	flags.Duration("recovery-base-backoff", defaults.Recovery.BaseBackoff, "First recovery backoff")
	flags.Duration("recovery-max-backoff", defaults.Recovery.MaxBackoff, "Recovery backoff ceiling")

	flags.Int("lyrics-cache-size", defaults.Lyrics.CacheSize, "Number of lyrics cache entries")
	flags.String("lyrics-preferred-provider", "", "Lyrics provider to query first (lrclib, lyricsovh)")
	flags.Bool("lyrics-local-enabled", defaults.Lyrics.LocalEnabled, "Read .lrc/.txt sidecar files")
	flags.String("lyrics-lrclib-url", defaults.Lyrics.LRCLibURL, "LRCLIB base URL (empty disables)")
	flags.String("lyrics-lyricsovh-url", defaults.Lyrics.LyricsOvhURL, "lyrics.ovh base URL (empty disables)")
	flags.Duration("lyrics-timeout", defaults.Lyrics.RequestTimeout, "Lyrics provider request timeout")

	flags.String("server-host", defaultServerHost, "HTTP server host")
	flags.Int("server-port", defaults.Server.Port, "HTTP server port")
	flags.Duration("server-read-timeout", defaults.Server.ReadTimeout, "HTTP server read timeout")
	flags.Duration("server-write-timeout", defaults.Server.WriteTimeout, "HTTP server write timeout")
	flags.Int("server-requests-per-minute", defaults.Server.RequestsPerMinute,
		"API requests per client and minute (0 disables)")

	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(serveCmd, resolveCmd, lyricsCmd)
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		// Don't exit if .env file doesn't exist
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix("MELODECK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureUpstream(cfg)
	configureStream(cfg)
	configureRecovery(cfg)
	configureLyrics(cfg)
	configureServer(cfg)

	return cfg
}

func configureUpstream(cfg *core.Config) {
	cfg.Upstream.BaseURL = viper.GetString("upstream-base-url")
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = core.DefaultUpstreamBaseURL
	}
	cfg.Upstream.Cookie = viper.GetString("upstream-cookie")
	cfg.Upstream.VisitorData = viper.GetString("upstream-visitor-data")
	cfg.Upstream.Language = viper.GetString("upstream-language")
	cfg.Upstream.Region = viper.GetString("upstream-region")
	cfg.Upstream.RequestTimeout = viper.GetDuration("upstream-timeout")
	cfg.Upstream.RateLimit = viper.GetFloat64("upstream-rate-limit")
	cfg.Upstream.RateBurst = viper.GetInt("upstream-rate-burst")
}

func configureStream(cfg *core.Config) {
	cfg.Stream.Quality = viper.GetString("stream-quality")
	cfg.Stream.Metered = viper.GetBool("stream-metered")
	cfg.Stream.AttemptDelay = viper.GetDuration("stream-attempt-delay")
	cfg.Stream.DefaultExpiry = viper.GetDuration("stream-default-expiry")
	cfg.Stream.ProbeTimeout = viper.GetDuration("stream-probe-timeout")
}

func configureRecovery(cfg *core.Config) {
	cfg.Recovery.MaxConsecutiveFaults = viper.GetInt("recovery-max-faults")
	if cfg.Recovery.MaxConsecutiveFaults <= 0 {
		fmt.Printf("Warning: Invalid recovery fault limit (%d), using default (%d)\n",
			cfg.Recovery.MaxConsecutiveFaults, core.DefaultMaxConsecutiveFaults)
		cfg.Recovery.MaxConsecutiveFaults = core.DefaultMaxConsecutiveFaults
	}
	cfg.Recovery.BaseBackoff = viper.GetDuration("recovery-base-backoff")
	cfg.Recovery.MaxBackoff = viper.GetDuration("recovery-max-backoff")
}

func configureLyrics(cfg *core.Config) {
	cfg.Lyrics.CacheSize = viper.GetInt("lyrics-cache-size")
	if cfg.Lyrics.CacheSize <= 0 {
		cfg.Lyrics.CacheSize = core.DefaultLyricsCacheSize
	}
	cfg.Lyrics.PreferredProvider = viper.GetString("lyrics-preferred-provider")
	cfg.Lyrics.LocalEnabled = viper.GetBool("lyrics-local-enabled")
	cfg.Lyrics.LRCLibURL = viper.GetString("lyrics-lrclib-url")
	cfg.Lyrics.LyricsOvhURL = viper.GetString("lyrics-lyricsovh-url")
	cfg.Lyrics.RequestTimeout = viper.GetDuration("lyrics-timeout")
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Server.ReadTimeout = viper.GetDuration("server-read-timeout")
	cfg.Server.WriteTimeout = viper.GetDuration("server-write-timeout")
	cfg.Server.RequestsPerMinute = viper.GetInt("server-requests-per-minute")
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateConfig() error {
	if _, err := core.ParseQuality(config.Stream.Quality); err != nil {
		return err
	}
	if config.Recovery.BaseBackoff <= 0 || config.Recovery.MaxBackoff < config.Recovery.BaseBackoff {
		return fmt.Errorf("recovery backoff must satisfy 0 < base (%s) <= max (%s)",
			config.Recovery.BaseBackoff, config.Recovery.MaxBackoff)
	}
	if config.Upstream.RateLimit <= 0 {
		return fmt.Errorf("upstream rate limit must be positive")
	}
	if config.Stream.AttemptDelay < 0 || config.Stream.AttemptDelay > time.Minute {
		return fmt.Errorf("stream attempt delay %s out of range", config.Stream.AttemptDelay)
	}
	return nil
}

func generateEnvExample(cmd *cobra.Command) error {
	content := generateEnvExampleContent(cmd)
	if err := os.WriteFile(".env.example", []byte(content), 0o600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}
	fmt.Println("Generated .env.example")
	return nil
}

var envSections = []struct {
	title string
	flags []string
}{
	{"Upstream", []string{"upstream-base-url", "upstream-cookie", "upstream-visitor-data",
		"upstream-language", "upstream-region", "upstream-timeout", "upstream-rate-limit", "upstream-rate-burst"}},
	{"Stream resolution", []string{"stream-quality", "stream-metered", "stream-attempt-delay",
		"stream-default-expiry", "stream-probe-timeout"}},
	{"Playback recovery", []string{"recovery-max-faults", "recovery-base-backoff", "recovery-max-backoff"}},
	{"Lyrics", []string{"lyrics-cache-size", "lyrics-preferred-provider", "lyrics-local-enabled",
		"lyrics-lrclib-url", "lyrics-lyricsovh-url", "lyrics-timeout"}},
	{"HTTP server", []string{"server-host", "server-port", "server-read-timeout", "server-write-timeout",
		"server-requests-per-minute"}},
	{"Logging", []string{"log-level", "log-format"}},
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder
	content.WriteString("# melodeck configuration\n")
	content.WriteString("# Every flag can be set through the environment with the MELODECK_ prefix.\n")

	for _, section := range envSections {
		content.WriteString("\n# " + section.title + "\n")
		for _, name := range section.flags {
			flag := cmd.Flags().Lookup(name)
			if flag == nil {
				flag = cmd.PersistentFlags().Lookup(name)
			}
			if flag == nil {
				continue
			}
			content.WriteString("# " + flag.Usage + "\n")
			content.WriteString(fmt.Sprintf("%s=%s\n", flagToEnvVar(name), flag.DefValue))
		}
	}
	return content.String()
}

func flagToEnvVar(flagName string) string {
	return "MELODECK_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}
