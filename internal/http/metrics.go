package http

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"melodeck/internal/core"
)

// Metrics holds the Prometheus collectors and implements core.Recorder.
type Metrics struct {
	ResolutionsTotal    *prometheus.CounterVec
	ResolutionDuration  *prometheus.HistogramVec
	ClientAttemptsTotal *prometheus.CounterVec
	RecoveryState       prometheus.Gauge
	RecoveryFaultsTotal prometheus.Counter
	RecoveryAttempts    prometheus.Counter
	LyricsLookupsTotal  *prometheus.CounterVec
	LyricsCacheHits     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "melodeck_resolutions_total",
				Help: "Total number of stream resolutions by outcome",
			},
			[]string{"outcome"},
		),
		ResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "melodeck_resolution_duration_seconds",
				Help:    "Time spent resolving a playable stream",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		ClientAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "melodeck_client_attempts_total",
				Help: "Total number of per-client resolution attempts",
			},
			[]string{"client", "outcome"},
		),
		RecoveryState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "melodeck_recovery_state",
				Help: "Current playback recovery state (0 idle, 1 recovering, 2 failed)",
			},
		),
		RecoveryFaultsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "melodeck_recovery_faults_total",
				Help: "Total number of playback faults reported to recovery",
			},
		),
		RecoveryAttempts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "melodeck_recovery_attempts_total",
				Help: "Total number of scheduled recovery attempts that fired",
			},
		),
		LyricsLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "melodeck_lyrics_lookups_total",
				Help: "Total number of lyrics provider lookups",
			},
			[]string{"provider", "outcome"},
		),
		LyricsCacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "melodeck_lyrics_cache_hits_total",
				Help: "Total number of lyrics cache hits",
			},
			[]string{"mode"},
		),
	}

	reg.MustRegister(
		m.ResolutionsTotal,
		m.ResolutionDuration,
		m.ClientAttemptsTotal,
		m.RecoveryState,
		m.RecoveryFaultsTotal,
		m.RecoveryAttempts,
		m.LyricsLookupsTotal,
		m.LyricsCacheHits,
	)
	return m
}

func (m *Metrics) RecordResolution(outcome string, duration time.Duration) {
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	m.ResolutionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) RecordClientAttempt(client, outcome string) {
	m.ClientAttemptsTotal.WithLabelValues(client, outcome).Inc()
}

func (m *Metrics) RecordRecoveryState(state core.RecoveryState) {
	m.RecoveryState.Set(float64(state))
}

func (m *Metrics) RecordRecoveryFault() {
	m.RecoveryFaultsTotal.Inc()
}

func (m *Metrics) RecordRecoveryAttempt() {
	m.RecoveryAttempts.Inc()
}

func (m *Metrics) RecordLyricsLookup(source, outcome string) {
	m.LyricsLookupsTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) RecordLyricsCacheHit(mode string) {
	m.LyricsCacheHits.WithLabelValues(mode).Inc()
}

var _ core.Recorder = (*Metrics)(nil)
