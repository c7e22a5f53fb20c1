// Package wavdecoder implements a decoder.Plugin for PCM WAV files over
// go-audio/wav, for the cases (short local samples, test fixtures) that
// don't need a compressed-codec decoder at all.
package wavdecoder

import (
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/decoder"
	"github.com/tphakala/birdnet-go/internal/errors"
)

// framesPerBlock bounds how much PCM is decoded between GetCommand
// polls, the same role blockSize plays in the reference test plugin.
const framesPerBlock = 4096

// Plugin decodes .wav files whose URI is a local filesystem path.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (Plugin) Decode(client decoder.DecoderClient, uri string) error {
	f, err := os.Open(uri)
	if err != nil {
		return errors.New(err).Component("wavdecoder").Category(errors.CategoryAudio).
			Context("uri", uri).Context("operation", "open").Build()
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return errors.Newf("wavdecoder: %q is not a valid WAV file", uri).
			Component("wavdecoder").Category(errors.CategoryAudio).Context("uri", uri).Build()
	}
	d.ReadInfo()

	sampleFormat := audiocore.SampleFormatS16
	if d.BitDepth == 32 {
		sampleFormat = audiocore.SampleFormatFloat
	}
	af := audiocore.AudioFormat{
		SampleRate: uint32(d.SampleRate),
		Format:     sampleFormat,
		Channels:   uint8(d.NumChans),
	}

	dur, err := d.Duration()
	total := audiocore.UnknownSongTime
	if err == nil {
		total = audiocore.NewSignedSongTime(audiocore.SongTime(dur.Milliseconds()))
	}
	client.Ready(af, true, total)

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: int(d.NumChans), SampleRate: int(d.SampleRate)},
		Data:   make([]int, framesPerBlock*int(d.NumChans)),
	}
	out := make([]byte, len(buf.Data)*af.FrameSize()/af.Channels)

	for {
		switch client.GetCommand() {
		case decoder.CommandStop:
			client.CommandFinished()
			return nil
		case decoder.CommandSeek:
			frame := client.GetSeekFrame()
			if err := seekToFrame(d, frame, int(d.NumChans)); err != nil {
				client.CommandFinished()
				return err
			}
			client.CommandFinished()
			continue
		}

		n, err := d.PCMBuffer(buf)
		if err != nil && err != io.EOF {
			return errors.New(err).Component("wavdecoder").Category(errors.CategoryAudio).
				Context("uri", uri).Context("operation", "pcm_read").Build()
		}
		if n == 0 {
			return nil
		}

		frames := n / int(d.NumChans)
		packed := packS16LE(buf.Data[:n], out)
		next, err := client.SubmitAudio(af, packed, 0)
		if err != nil {
			return err
		}
		if next == decoder.CommandStop {
			return nil
		}
		if frames < framesPerBlock {
			return nil
		}
	}
}

// packS16LE interleaves go-audio's per-sample int slice into raw S16LE
// bytes, clamping each sample the way the format's bit depth implies.
func packS16LE(samples []int, out []byte) []byte {
	n := len(samples) * 2
	if cap(out) < n {
		out = make([]byte, n)
	}
	out = out[:n]
	for i, s := range samples {
		if s > 32767 {
			s = 32767
		} else if s < -32768 {
			s = -32768
		}
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// seekToFrame reseeks the decoder by rewinding and skipping frames; wav
// has no built-in frame-accurate seek API in go-audio/wav, so this
// walks forward in framesPerBlock chunks discarding output.
func seekToFrame(d *wav.Decoder, targetFrame int64, channels int) error {
	if err := d.Rewind(); err != nil {
		return errors.New(err).Component("wavdecoder").Category(errors.CategoryAudio).
			Context("operation", "seek_rewind").Build()
	}
	d.ReadInfo()

	remaining := targetFrame
	scratch := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: channels, SampleRate: int(d.SampleRate)},
		Data:   make([]int, framesPerBlock*channels),
	}
	for remaining > 0 {
		want := framesPerBlock
		if int64(want) > remaining {
			want = int(remaining)
		}
		scratch.Data = scratch.Data[:want*channels]
		n, err := d.PCMBuffer(scratch)
		if err != nil && err != io.EOF {
			return err
		}
		if n == 0 {
			break
		}
		remaining -= int64(n / channels)
	}
	return nil
}
