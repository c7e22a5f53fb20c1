package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the engine publishes; one
// instance per Engine, registered against whatever registry the host
// process provides.
type Metrics struct {
	chunksReclaimed   prometheus.Counter
	crossFadesStarted prometheus.Counter
	outputFailures    *prometheus.CounterVec
	decoderErrors     *prometheus.CounterVec
	songBorders       *prometheus.CounterVec
	elapsedSeconds    prometheus.Gauge
}

// NewMetrics constructs and registers the engine's collectors against
// registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		chunksReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audioengine",
			Name:      "chunks_reclaimed_total",
			Help:      "PCM chunks released back to the shared buffer after every output consumed them.",
		}),
		crossFadesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "audioengine",
			Name:      "crossfades_started_total",
			Help:      "Cross-fade windows that reached the active mixing state.",
		}),
		outputFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audioengine",
			Name:      "output_failures_total",
			Help:      "Output device/sink failures recorded, by output name.",
		}, []string{"output"}),
		decoderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audioengine",
			Name:      "decoder_errors_total",
			Help:      "Decoder plugin errors recorded, by error category.",
		}, []string{"category"}),
		songBorders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "audioengine",
			Name:      "song_borders_total",
			Help:      "Song-border transitions, split by whether cross-fade was active.",
		}, []string{"crossfaded"}),
		elapsedSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "audioengine",
			Name:      "elapsed_seconds",
			Help:      "Last-known playback position within the current song.",
		}),
	}

	collectors := []prometheus.Collector{
		m.chunksReclaimed, m.crossFadesStarted, m.outputFailures,
		m.decoderErrors, m.songBorders, m.elapsedSeconds,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordOutputFailure(output string) {
	if m == nil {
		return
	}
	m.outputFailures.WithLabelValues(output).Inc()
}

func (m *Metrics) recordDecoderError(category string) {
	if m == nil {
		return
	}
	m.decoderErrors.WithLabelValues(category).Inc()
}

func (m *Metrics) recordSongBorder(crossfaded bool) {
	if m == nil {
		return
	}
	label := "false"
	if crossfaded {
		label = "true"
	}
	m.songBorders.WithLabelValues(label).Inc()
}

func (m *Metrics) setElapsed(seconds float64) {
	if m == nil {
		return
	}
	m.elapsedSeconds.Set(seconds)
}
