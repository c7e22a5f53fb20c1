package player

import (
	goerrors "errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
	"github.com/tphakala/birdnet-go/internal/audiocore/crossfade"
	"github.com/tphakala/birdnet-go/internal/audiocore/decoder"
	"github.com/tphakala/birdnet-go/internal/audiocore/output"
	"github.com/tphakala/birdnet-go/internal/audiocore/outputs"
)

func testFormat() audiocore.AudioFormat {
	return audiocore.AudioFormat{SampleRate: 44100, Format: audiocore.SampleFormatS16, Channels: 2}
}

// framesPerChunk is sized so one SubmitAudio call fills exactly one
// chunk's payload (992 frames * 4 bytes/frame == PayloadSize).
const framesPerChunk = chunk.PayloadSize / 4

// songSpec describes one fake song's decode behaviour, keyed by URI so
// a single fakePlugin instance can serve an entire playlist the way a
// real plugin serves whatever URI it's next asked to open.
type songSpec struct {
	af          audiocore.AudioFormat
	duration    audiocore.SignedSongTime
	totalFrames int64
	rgDB        float32
	rgOK        bool
	mixRamp     decoder.MixRampInfo
}

func shortSong(totalChunks int64) *songSpec {
	return &songSpec{
		af:          testFormat(),
		duration:    audiocore.NewSignedSongTime(30_000),
		totalFrames: framesPerChunk * totalChunks,
	}
}

// fakePlugin generates silence for each configured song and returns
// once totalFrames have been submitted, honouring external Stop/Seek
// the way a real plugin polls GetCommand between blocks.
type fakePlugin struct {
	mu    sync.Mutex
	songs map[string]*songSpec
	calls map[string]int
}

func newFakePlugin() *fakePlugin {
	return &fakePlugin{songs: map[string]*songSpec{}, calls: map[string]int{}}
}

func (p *fakePlugin) add(uri string, s *songSpec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.songs[uri] = s
}

func (p *fakePlugin) callCount(uri string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[uri]
}

func (p *fakePlugin) Decode(client decoder.DecoderClient, uri string) error {
	p.mu.Lock()
	spec := p.songs[uri]
	p.calls[uri]++
	p.mu.Unlock()

	client.Ready(spec.af, true, spec.duration)
	if spec.rgOK {
		client.SubmitReplayGain(chunk.ReplayGainInfo{TrackGain: spec.rgDB}, true)
	}
	if spec.mixRamp.Start != "" || spec.mixRamp.End != "" {
		client.SubmitMixRamp(spec.mixRamp)
	}

	block := make([]byte, framesPerChunk*int64(spec.af.FrameSize()))
	var frame int64
	for frame < spec.totalFrames {
		switch client.GetCommand() {
		case decoder.CommandStop:
			client.CommandFinished()
			return nil
		case decoder.CommandSeek:
			frame = client.GetSeekFrame()
			client.CommandFinished()
			continue
		}

		next, err := client.SubmitAudio(spec.af, block, 0)
		if err != nil {
			return err
		}
		frame += framesPerChunk
		if next == decoder.CommandStop {
			return nil
		}
	}
	return nil
}

// fakeSink is a no-device Sink: Play always succeeds instantly unless
// fail is set, in which case every Play call errors until cleared.
type fakeSink struct {
	name string

	mu   sync.Mutex
	fail bool
}

func (s *fakeSink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *fakeSink) Name() string                                               { return s.name }
func (s *fakeSink) Enable() error                                              { return nil }
func (s *fakeSink) Disable()                                                   {}
func (s *fakeSink) Open(af audiocore.AudioFormat) (audiocore.AudioFormat, error) { return af, nil }
func (s *fakeSink) Close()                                                     {}

func (s *fakeSink) Play(data []byte) (int, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return 0, goerrors.New("fake sink: device unavailable")
	}
	return len(data), nil
}

func (s *fakeSink) Drain() error   { return nil }
func (s *fakeSink) Cancel()        {}
func (s *fakeSink) SendTag(string) {}
func (s *fakeSink) Interrupt()     {}

// testRig wires a Player against a fake decoder plugin and one or more
// fake sinks, using the same real Control/Run machinery production
// code does for the decoder and output stages. The player itself is
// driven directly (tick/startFresh/...) rather than through Run, so
// tests can interleave assertions between steps deterministically.
type testRig struct {
	player *Player
	ctl    *Control
	dec    *decoder.Control
	buf    *chunk.Buffer
	outs   *outputs.MultipleOutputs

	plugin  *fakePlugin
	sinks   []*fakeSink
	outCtls []*output.Control

	stop     chan struct{}
	stopOnce sync.Once
}

// shutdown closes stop and gives the decoder/output goroutines a brief
// window to exit, so a goleak check run immediately afterward doesn't
// see them mid-teardown. Idempotent: the t.Cleanup-registered shutdown
// calling this again is a no-op.
func (r *testRig) shutdown() {
	r.stopOnce.Do(func() {
		close(r.stop)
		time.Sleep(20 * time.Millisecond)
	})
}

func newTestRig(t *testing.T, cf crossfade.Settings, sinkNames ...string) *testRig {
	t.Helper()
	r := &testRig{
		ctl:    NewControl(),
		dec:    decoder.NewControl(),
		buf:    chunk.NewBuffer(32),
		plugin: newFakePlugin(),
		stop:   make(chan struct{}),
	}
	for _, name := range sinkNames {
		sink := &fakeSink{name: name}
		oc := output.NewControl(name, sink, nil, nil, false)
		r.sinks = append(r.sinks, sink)
		r.outCtls = append(r.outCtls, oc)
	}
	r.outs = outputs.New(r.buf, r.outCtls...)
	r.player = &Player{
		ctl: r.ctl, decoder: r.dec, buffer: r.buf, outputs: r.outs,
		crossFade: cf, logger: slog.Default(),
	}

	go decoder.Run(r.dec, r.plugin, r.stop)
	for _, oc := range r.outCtls {
		go output.Run(oc, r.stop)
	}

	t.Cleanup(r.shutdown)
	return r
}

// queue records a successor the way Control.Queue would, without going
// through the blocking command-dispatch protocol (nothing is running
// Player.loop in these tests, only tick() calls driven explicitly).
func (r *testRig) queue(song *Song) {
	r.ctl.mu.Lock()
	r.ctl.nextSong = song
	r.ctl.queued = true
	r.ctl.mu.Unlock()
}

// pump calls tick repeatedly until cond is satisfied or timeout
// elapses, failing the test in the latter case.
func (r *testRig) pump(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.player.tick()
		if cond() {
			return
		}
	}
	t.Fatal(msg)
}

// chunkChainHasMix reports whether any chunk currently queued in p
// already has a cross-fade partner attached.
func chunkChainHasMix(p interface{ Peek() *chunk.Chunk }) bool {
	for c := p.Peek(); c != nil; c = c.Next {
		if c.Other != nil {
			return true
		}
	}
	return false
}

// TestGaplessSongBorderAdvances checks that with cross-fade disabled,
// a queued successor is decoded ahead and promoted to current once the
// outgoing song's pipe fully drains, without the player ever pausing.
func TestGaplessSongBorderAdvances(t *testing.T) {
	r := newTestRig(t, crossfade.Settings{Duration: 0}, "out1")
	r.plugin.add("song1", shortSong(20))
	r.plugin.add("song2", shortSong(20))

	r.player.startFresh(&Song{URI: "song1", Duration: audiocore.NewSignedSongTime(30_000)})
	require.Equal(t, StatePlay, r.ctl.State())

	r.queue(&Song{URI: "song2", Duration: audiocore.NewSignedSongTime(30_000)})

	r.pump(t, 5*time.Second, func() bool {
		s := r.ctl.CurrentSong()
		return s != nil && s.URI == "song2"
	}, "song border never advanced to song2")

	require.Equal(t, StatePlay, r.ctl.State())
	errType, _ := r.ctl.Error()
	require.Equal(t, ErrorTypeNone, errType)

	r.shutdown()
	goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("testing.(*T).Run"),
		goleak.IgnoreTopFunction("runtime.gopark"),
	)
}

// TestCrossFadeMixesAheadChunks checks that once both songs qualify,
// the player attaches an ahead-pipe chunk as Other on a chunk still
// queued in the current pipe before the song border is crossed.
func TestCrossFadeMixesAheadChunks(t *testing.T) {
	r := newTestRig(t, crossfade.Settings{Duration: 0.3}, "out1")
	r.plugin.add("song1", shortSong(60))
	r.plugin.add("song2", shortSong(60))

	r.player.startFresh(&Song{URI: "song1", Duration: audiocore.NewSignedSongTime(30_000)})
	r.queue(&Song{URI: "song2", Duration: audiocore.NewSignedSongTime(30_000)})

	r.pump(t, 5*time.Second, func() bool {
		return r.ctl.CrossFadeState() == CrossFadeActive && chunkChainHasMix(r.player.currentPipe)
	}, "cross-fade never activated and mixed a chunk")

	r.pump(t, 5*time.Second, func() bool {
		s := r.ctl.CurrentSong()
		return s != nil && s.URI == "song2"
	}, "song border never advanced to song2")
}

// TestCurrentSongStableDuringCrossFade checks that CurrentSong keeps
// reporting the outgoing song for as long as the ahead song is only
// being decoded/mixed in, only flipping once the border is crossed.
func TestCurrentSongStableDuringCrossFade(t *testing.T) {
	r := newTestRig(t, crossfade.Settings{Duration: 0.3}, "out1")
	r.plugin.add("song1", shortSong(80))
	r.plugin.add("song2", shortSong(80))

	r.player.startFresh(&Song{URI: "song1", Duration: audiocore.NewSignedSongTime(30_000)})
	r.queue(&Song{URI: "song2", Duration: audiocore.NewSignedSongTime(30_000)})

	r.pump(t, 5*time.Second, func() bool { return r.plugin.callCount("song2") > 0 },
		"ahead decode for song2 never started")
	require.Equal(t, "song1", r.ctl.CurrentSong().URI,
		"CurrentSong must not flip to the successor before the border is crossed")

	r.pump(t, 5*time.Second, func() bool {
		s := r.ctl.CurrentSong()
		return s != nil && s.URI == "song2"
	}, "song border never advanced to song2")
}

// TestSeekCancelsAheadDecode checks that seeking the current song while
// a successor is already decoding ahead discards that stale decode
// instead of racing it, and that the successor resumes decoding once
// the reseeked current song finishes again.
func TestSeekCancelsAheadDecode(t *testing.T) {
	r := newTestRig(t, crossfade.Settings{Duration: 0}, "out1")
	r.plugin.add("song1", shortSong(200))
	r.plugin.add("song2", shortSong(20))

	r.player.startFresh(&Song{URI: "song1", Duration: audiocore.NewSignedSongTime(30_000)})
	r.queue(&Song{URI: "song2", Duration: audiocore.NewSignedSongTime(30_000)})

	r.pump(t, 5*time.Second, func() bool { return r.plugin.callCount("song2") > 0 },
		"ahead decode for song2 never started")

	r.ctl.mu.Lock()
	r.ctl.song = &Song{URI: "song1", Duration: audiocore.NewSignedSongTime(30_000)}
	r.ctl.seekTime = 1000
	r.ctl.mu.Unlock()
	r.player.doSeek()
	require.Nil(t, r.ctl.seekError)

	next, queued := r.ctl.QueuedSong()
	require.True(t, queued)
	require.Equal(t, "song2", next.URI, "a seek must not drop the queued successor, only its stale decode-ahead")

	r.pump(t, 5*time.Second, func() bool { return r.plugin.callCount("song1") >= 2 },
		"seek never restarted decoding of the current song")

	r.pump(t, 5*time.Second, func() bool {
		s := r.ctl.CurrentSong()
		return s != nil && s.URI == "song2"
	}, "successor never resumed and the song border never advanced")
}

// TestOutputFailureRecovery checks that with two outputs, one failing
// does not stop playback (the healthy one keeps draining), and that a
// forced UpdateAudio recovers the failed output once it becomes
// available again, clearing the player's error and resuming Play.
func TestOutputFailureRecovery(t *testing.T) {
	r := newTestRig(t, crossfade.Settings{Duration: 0}, "good", "bad")
	badSink := r.sinks[1]
	badSink.setFail(true)

	r.plugin.add("song1", shortSong(200))
	r.player.startFresh(&Song{URI: "song1", Duration: audiocore.NewSignedSongTime(30_000)})

	r.pump(t, 3*time.Second, func() bool {
		failed, _, _ := r.outCtls[1].HasFailed()
		return failed
	}, "bad output never recorded a failure")

	// The healthy output keeps the player in Play despite the failure.
	require.Equal(t, StatePlay, r.ctl.State())
	errType, _ := r.ctl.Error()
	require.Equal(t, ErrorTypeOutput, errType)

	badSink.setFail(false)
	r.player.doUpdateAudio(true)

	r.pump(t, 3*time.Second, func() bool { return r.outCtls[1].IsOpen() },
		"bad output never reopened after recovering")

	require.Equal(t, StatePlay, r.ctl.State())
	errType, _ = r.ctl.Error()
	require.Equal(t, ErrorTypeNone, errType)
}

// TestBorderPausePausesInsteadOfContinuing checks that a song queued
// with BorderPause set causes playback to pause at the border rather
// than continuing straight into its successor.
func TestBorderPausePausesInsteadOfContinuing(t *testing.T) {
	r := newTestRig(t, crossfade.Settings{Duration: 0}, "out1")
	r.plugin.add("song1", shortSong(20))
	r.plugin.add("song2", shortSong(20))

	r.player.startFresh(&Song{URI: "song1", Duration: audiocore.NewSignedSongTime(30_000), BorderPause: true})
	r.queue(&Song{URI: "song2", Duration: audiocore.NewSignedSongTime(30_000)})

	r.pump(t, 5*time.Second, func() bool { return r.ctl.State() == StatePause },
		"player did not pause at a BorderPause border")

	s := r.ctl.CurrentSong()
	require.NotNil(t, s)
	require.Equal(t, "song2", s.URI, "the border must still advance to the successor, just paused")
}
