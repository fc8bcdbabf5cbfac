package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters for the chat, live and audio pipelines.
type Metrics struct {
	StreamsStarted   prometheus.Counter
	StreamsCompleted prometheus.Counter
	StreamsFailed    prometheus.Counter
	ChunksApplied    prometheus.Counter
	BriefsGenerated  prometheus.Counter
	BriefsFailed     prometheus.Counter
	LiveTurns        *prometheus.CounterVec
	LiveChannels     prometheus.Gauge
	SynthCacheHits   prometheus.Counter
	SynthCacheMisses prometheus.Counter
	SessionsSwept    prometheus.Counter
}

var (
	registerOnce sync.Once
	shared       *Metrics
)

// New registers the metric set on the given registerer. Passing nil uses the
// default registry; repeated calls against the default registry return the
// same instance.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		registerOnce.Do(func() {
			shared = build(prometheus.DefaultRegisterer)
		})
		return shared
	}
	return build(reg)
}

func build(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StreamsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mizan_chat_streams_started_total",
			Help: "Chat generation streams started.",
		}),
		StreamsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mizan_chat_streams_completed_total",
			Help: "Chat generation streams that reached the complete event.",
		}),
		StreamsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mizan_chat_streams_failed_total",
			Help: "Chat generation streams that failed before completion.",
		}),
		ChunksApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mizan_chat_chunks_applied_total",
			Help: "Streamed text deltas applied to in-flight messages.",
		}),
		BriefsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mizan_research_briefs_total",
			Help: "Research briefs generated.",
		}),
		BriefsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mizan_research_briefs_failed_total",
			Help: "Research brief generations that failed.",
		}),
		LiveTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mizan_live_turns_committed_total",
			Help: "Transcription turns committed, by speaker.",
		}, []string{"speaker"}),
		LiveChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mizan_live_channels_open",
			Help: "Currently open live voice channels.",
		}),
		SynthCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mizan_audio_cache_hits_total",
			Help: "Speech synthesis cache hits.",
		}),
		SynthCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mizan_audio_cache_misses_total",
			Help: "Speech synthesis cache misses.",
		}),
		SessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mizan_sessions_swept_total",
			Help: "Expired sessions removed by the retention sweep.",
		}),
	}
	reg.MustRegister(
		m.StreamsStarted, m.StreamsCompleted, m.StreamsFailed, m.ChunksApplied,
		m.BriefsGenerated, m.BriefsFailed, m.LiveTurns, m.LiveChannels,
		m.SynthCacheHits, m.SynthCacheMisses, m.SessionsSwept,
	)
	return m
}

// Nop returns an unregistered metric set safe for tests.
func Nop() *Metrics {
	return build(prometheus.NewRegistry())
}
