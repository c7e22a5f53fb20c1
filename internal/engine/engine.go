// Package engine wires one decoder/player/output pipeline together
// from engineconf settings and a caller-supplied set of sinks, the way
// a host process (daemon or CLI) is expected to use the audio engine
// as a single unit rather than assembling Controls by hand.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
	"github.com/tphakala/birdnet-go/internal/audiocore/crossfade"
	"github.com/tphakala/birdnet-go/internal/audiocore/decoder"
	"github.com/tphakala/birdnet-go/internal/audiocore/filter"
	"github.com/tphakala/birdnet-go/internal/audiocore/output"
	"github.com/tphakala/birdnet-go/internal/audiocore/outputs"
	"github.com/tphakala/birdnet-go/internal/audiocore/player"
	"github.com/tphakala/birdnet-go/internal/engineconf"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// Engine owns one decoder, one player, and the fan-out to every
// configured output, plus the metrics/health surface a host exposes.
type Engine struct {
	Player  *player.Control
	decoder *decoder.Control
	outs    *outputs.MultipleOutputs
	outCtls map[string]*output.Control

	metrics *Metrics
	stop    chan struct{}
	logger  *slog.Logger
}

// New builds an Engine from cfg, opening one output.Control per entry
// in cfg.Outputs against the sink sinks[entry.Name] provides. registry
// may be nil to skip metrics registration entirely.
func New(cfg *engineconf.Settings, sinks map[string]output.Sink, registry *prometheus.Registry) (*Engine, error) {
	logger := logging.ForService("audioengine")
	if logger == nil {
		logger = slog.Default()
	}

	buf := chunk.NewBuffer(cfg.Buffer.ChunkCount)

	var outCtlList []*output.Control
	outCtls := make(map[string]*output.Control, len(cfg.Outputs))
	for _, oc := range cfg.Outputs {
		sink, ok := sinks[oc.Name]
		if !ok {
			return nil, fmt.Errorf("engine: no sink registered for output %q", oc.Name)
		}
		rg := filter.NewReplayGainFilter(oc.Name + "_replaygain")
		rg.SetMode(replayGainMode(oc.ReplayGainMode))
		chain := buildChain(oc.Name, oc.Filters)
		ctl := output.NewControl(oc.Name, sink, rg, chain, false)
		outCtlList = append(outCtlList, ctl)
		outCtls[oc.Name] = ctl
	}

	outs := outputs.New(buf, outCtlList...)
	ctl := player.NewControl()
	dec := decoder.NewControl()
	router := newCodecRouter()

	var metrics *Metrics
	if registry != nil {
		m, err := NewMetrics(registry)
		if err != nil {
			return nil, fmt.Errorf("engine: registering metrics: %w", err)
		}
		metrics = m
	}

	e := &Engine{
		Player:  ctl,
		decoder: dec,
		outs:    outs,
		outCtls: outCtls,
		metrics: metrics,
		stop:    make(chan struct{}),
		logger:  logger.With("component", "engine"),
	}

	cf := crossfade.Settings{
		Duration:     cfg.CrossFade.Duration.Seconds(),
		MixRampDB:    cfg.CrossFade.MixRampDB,
		MixRampDelay: cfg.CrossFade.MixRampDelay.Seconds(),
	}

	go decoder.Run(dec, router, e.stop)
	for _, c := range outCtlList {
		go output.Run(c, e.stop)
	}
	go player.Run(ctl, dec, buf, outs, cf, e.stop)
	go e.watchFailures()

	e.logger.Info("engine started", "outputs", len(outCtlList), "chunk_count", cfg.Buffer.ChunkCount)
	return e, nil
}

func replayGainMode(name string) filter.ReplayGainMode {
	switch name {
	case "track":
		return filter.ReplayGainTrack
	case "album":
		return filter.ReplayGainAlbum
	default:
		return filter.ReplayGainOff
	}
}

// buildChain assembles the output's filter pipeline from its
// configured filter names, always terminating in AutoConvert since
// output.Control requires the chain to bridge to the sink's negotiated
// format. "replay_gain" is skipped here — it has its own slot in
// NewControl, set up by the caller of buildChain.
func buildChain(outputName string, names []string) filter.Filter {
	var stages []filter.Filter
	for _, n := range names {
		switch n {
		case "replay_gain":
			// handled via output.Control's dedicated replayGain slot.
		case "normalize":
			stages = append(stages, filter.NewNormalizeFilter(outputName+"_normalize", 0, 0.3, 0.05))
		case "volume":
			stages = append(stages, filter.NewVolumeFilter(outputName+"_volume"))
		case "convert":
			// AutoConvert (appended below) already covers this.
		}
	}
	inner := filter.Filter(filter.NewChainFilter(outputName+"_chain", stages...))
	return filter.NewAutoConvertFilter(outputName+"_autoconvert", inner)
}

// Metrics returns the engine's Prometheus collectors, or nil if none
// were registered.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Health reports the engine's current playback state and host resource
// pressure.
func (e *Engine) Health() HealthStatus {
	song := e.Player.CurrentSong()
	songURI := ""
	if song != nil {
		songURI = song.URI
	}
	errType, _ := e.Player.Error()

	open := 0
	for _, c := range e.outCtls {
		if c.IsOpen() {
			open++
		}
	}

	return HealthStatus{
		State:        e.Player.State().String(),
		CurrentSong:  songURI,
		ErrorType:    errTypeString(errType),
		OutputsOpen:  open,
		OutputsTotal: len(e.outCtls),
		Resources:    sampleResources(),
	}
}

func errTypeString(t player.ErrorType) string {
	switch t {
	case player.ErrorTypeDecoder:
		return "decoder"
	case player.ErrorTypeOutput:
		return "output"
	default:
		return "none"
	}
}

// watchFailureInterval bounds how stale a metrics scrape's failure/
// elapsed-time counters can be; a metrics scrape alone cannot observe a
// transient failure that resolves between scrapes.
const watchFailureInterval = 500 * time.Millisecond

// watchFailures samples output/player state on a timer and feeds it
// into Metrics, rather than relying on the player to push events.
func (e *Engine) watchFailures() {
	if e.metrics == nil {
		return
	}
	ticker := time.NewTicker(watchFailureInterval)
	defer ticker.Stop()

	seen := make(map[string]bool, len(e.outCtls))
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
		}
		for name, c := range e.outCtls {
			failed, _, _ := c.HasFailed()
			if failed && !seen[name] {
				e.metrics.recordOutputFailure(name)
			}
			seen[name] = failed
		}
		if errType, _ := e.Player.Error(); errType == player.ErrorTypeDecoder {
			e.metrics.recordDecoderError("decode")
		}
		if elapsed, ok := e.Player.ElapsedTime(); ok {
			e.metrics.setElapsed(elapsed.ToDoubleSeconds())
		}
	}
}

// Close stops every goroutine the Engine started and releases outputs.
func (e *Engine) Close() {
	e.Player.Exit()
	// Outputs are released and killed while their goroutines still run,
	// since an output goroutine that sees stop returns without acking.
	for _, c := range e.outCtls {
		c.Release()
		c.Kill()
	}
	close(e.stop)
	// Rouse the decoder goroutine from its idle wait so it sees stop.
	e.decoder.WakeWaiters()
}

// Output returns the named output's control, e.g. for SetMixer.
func (e *Engine) Output(name string) (*output.Control, bool) {
	c, ok := e.outCtls[name]
	return c, ok
}
