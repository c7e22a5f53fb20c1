package decoder

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
	"github.com/tphakala/birdnet-go/internal/audiocore/pipe"
)

const testSampleRate = 44100

func testFormat() audiocore.AudioFormat {
	return audiocore.AudioFormat{SampleRate: testSampleRate, Format: audiocore.SampleFormatS16, Channels: 2}
}

// fakePlugin generates silence at a fixed format and honours
// GetCommand/CommandFinished the way a real decoder plugin would: it
// polls before every block it submits and reacts to Seek/Stop.
type fakePlugin struct {
	af        audiocore.AudioFormat
	duration  audiocore.SignedSongTime
	blockSize int // frames per SubmitAudio call

	mu          sync.Mutex
	seeksServed []audiocore.SongTime
	stopped     bool

	// beforeFirstPoll runs once, synchronously, right after Ready but
	// before the first GetCommand call, to let a test inject a racing
	// external command.
	beforeFirstPoll func()
}

func (p *fakePlugin) Decode(client DecoderClient, uri string) error {
	client.Ready(p.af, true, p.duration)

	if p.beforeFirstPoll != nil {
		p.beforeFirstPoll()
	}

	frame := int64(0)
	totalFrames := int64(p.af.SampleRate) * 3600 // effectively unbounded for tests
	blockBytes := make([]byte, p.blockSize*p.af.FrameSize())

	for frame < totalFrames {
		cmd := client.GetCommand()
		switch cmd {
		case CommandStop:
			p.mu.Lock()
			p.stopped = true
			p.mu.Unlock()
			client.CommandFinished()
			return nil
		case CommandSeek:
			t := client.GetSeekTime()
			p.mu.Lock()
			p.seeksServed = append(p.seeksServed, t)
			p.mu.Unlock()
			frame = client.GetSeekFrame()
			client.CommandFinished()
			continue
		}

		next, err := client.SubmitAudio(p.af, blockBytes, 0)
		if err != nil {
			return err
		}
		frame += int64(p.blockSize)
		if next == CommandStop {
			p.mu.Lock()
			p.stopped = true
			p.mu.Unlock()
			return nil
		}
	}
	return nil
}

func newTestControl(t *testing.T) (*Control, *pipe.Pipe, *chunk.Buffer) {
	t.Helper()
	ctl := NewControl()
	p := pipe.New()
	buf := chunk.NewBuffer(64)
	return ctl, p, buf
}

// waitForFirstChunk polls the pipe until it has at least one chunk, or
// fails the test after a generous timeout.
func waitForFirstChunk(t *testing.T, p *pipe.Pipe) *chunk.Chunk {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c := p.Peek(); c != nil {
			return c
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for first chunk")
	return nil
}

// TestInitialSeekHiding checks that a Start on a song with
// start_time > 0 causes the first PCM chunk's reported time to be ~= 0
// relative to the song, not start_time; the plugin itself is driven
// through a real initial seek to start_time.
func TestInitialSeekHiding(t *testing.T) {
	ctl, p, buf := newTestControl(t)
	plugin := &fakePlugin{af: testFormat(), duration: audiocore.NewSignedSongTime(180_000), blockSize: 512}

	stop := make(chan struct{})
	defer close(stop)
	go Run(ctl, plugin, stop)

	song := DetachedSong{URI: "test://song", StartTime: 10_000, Duration: plugin.duration}
	ctl.Start(song, 10_000, 0, p, buf)

	c := waitForFirstChunk(t, p)
	v, defined := c.Time.Value()
	require.True(t, defined)
	require.Less(t, int64(v), int64(200), "expected first chunk time near 0, got %v", v)

	plugin.mu.Lock()
	require.Len(t, plugin.seeksServed, 1)
	require.Equal(t, audiocore.SongTime(10_000), plugin.seeksServed[0])
	plugin.mu.Unlock()

	ctl.Stop()
}

// TestSeekCoalescingDuringStart reproduces an immediate Start(start_time=10s)
// followed by Seek(30s) issued before the decoder reaches Decode: the
// two seeks must coalesce into a single physical seek to 30s, and the
// first observed chunk's time must be >= 30s.
func TestSeekCoalescingDuringStart(t *testing.T) {
	ctl, p, buf := newTestControl(t)
	plugin := &fakePlugin{af: testFormat(), duration: audiocore.NewSignedSongTime(180_000), blockSize: 512}

	// The external Seek must come from a goroutine distinct from the
	// decoder thread (Control.Seek blocks until acknowledged, and the
	// decoder thread is the one that acknowledges it). beforeFirstPoll
	// runs on the decoder goroutine right after Ready, so it only
	// kicks the seek off and waits until Control has registered it,
	// without itself blocking on the result.
	var seekErr error
	seekDone := make(chan struct{})
	var seekOnce sync.Once
	plugin.beforeFirstPoll = func() {
		seekOnce.Do(func() {
			go func() {
				seekErr = ctl.Seek(30_000)
				close(seekDone)
			}()
			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				ctl.mu.Lock()
				registered := ctl.command == CommandSeek
				ctl.mu.Unlock()
				if registered {
					break
				}
				time.Sleep(time.Millisecond)
			}
		})
	}

	stop := make(chan struct{})
	defer close(stop)
	go Run(ctl, plugin, stop)

	song := DetachedSong{URI: "test://song", StartTime: 10_000, Duration: plugin.duration}
	ctl.Start(song, 10_000, 0, p, buf)

	c := waitForFirstChunk(t, p)
	v, defined := c.Time.Value()
	require.True(t, defined)
	require.GreaterOrEqual(t, int64(v), int64(30_000))

	select {
	case <-seekDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Seek to be acknowledged")
	}
	require.NoError(t, seekErr)

	plugin.mu.Lock()
	require.Len(t, plugin.seeksServed, 1, "the initial seek and the racing external seek must coalesce into one")
	require.Equal(t, audiocore.SongTime(30_000), plugin.seeksServed[0])
	plugin.mu.Unlock()

	ctl.Stop()
}

// TestStopPromptness checks that after Stop, no further chunks are
// pushed and state reaches Stop before Stop() returns to its caller.
func TestStopPromptness(t *testing.T) {
	ctl, p, buf := newTestControl(t)
	plugin := &fakePlugin{af: testFormat(), duration: audiocore.NewSignedSongTime(180_000), blockSize: 512}

	stop := make(chan struct{})
	defer close(stop)
	go Run(ctl, plugin, stop)

	song := DetachedSong{URI: "test://song", Duration: plugin.duration}
	ctl.Start(song, 0, 0, p, buf)
	waitForFirstChunk(t, p)

	ctl.Stop()
	require.Equal(t, StateStop, ctl.State())

	sizeAfterStop := p.Size()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, sizeAfterStop, p.Size(), "no further chunks should be pushed once Stop has been acknowledged")

	plugin.mu.Lock()
	defer plugin.mu.Unlock()
	require.True(t, plugin.stopped)
}
