// Package crossfade computes how many chunks of overlap two
// consecutive songs should share, and at what point in the outgoing
// song that overlap should begin.
package crossfade

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/tphakala/birdnet-go/internal/audiocore"
	"github.com/tphakala/birdnet-go/internal/audiocore/chunk"
	"github.com/tphakala/birdnet-go/internal/logging"
)

// MinCrossFadeSongDuration is the shortest total song duration, in
// seconds, that cross-fading is even attempted for; the player is
// expected to enforce this before calling Calculate.
const MinCrossFadeSongDuration = 20.0

// Settings holds the configured cross-fade behaviour: a fixed overlap
// duration, and the MixRamp parameters that (when usable) replace the
// fixed duration with an amplitude-matched overlap.
type Settings struct {
	// Duration is the configured cross-fade length in seconds. Must be
	// >= 0; 0 disables the fixed-overlap ("Simple") mode, though
	// MixRamp mode may still apply independently.
	Duration float64

	// MixRampDB is the target loudness (dBFS) at which the outgoing and
	// incoming MixRamp curves are sampled to find the overlap point.
	MixRampDB float64

	// MixRampDelay is the gap, in seconds, to leave between the two
	// overlap points; <= 0 disables MixRamp mode entirely (falls back
	// to Simple).
	MixRampDelay float64
}

// Calculate returns the number of chunks of overlap between the song
// the decoder has just started (total duration totalTime, ReplayGain
// replayGainDB, MixRamp start curve mixRampStart, output format af) and
// the song before it (ReplayGain replayGainPrevDB, MixRamp end curve
// mixRampPrevEnd, output format oldFormat), capped at maxChunks. Returns 0 when cross-fade
// cannot apply: unknown/negative duration, configured Duration
// negative or not shorter than the song, or a format change across the
// song border. Preconditions beyond that (both durations known and
// >= MinCrossFadeSongDuration) are the caller's responsibility.
func (s Settings) Calculate(
	totalTime audiocore.SignedSongTime,
	replayGainDB, replayGainPrevDB float64,
	mixRampStart, mixRampPrevEnd string,
	af, oldFormat audiocore.AudioFormat,
	maxChunks int,
) int {
	t, known := totalTime.Value()
	if !known || totalTime.IsNegative() {
		return 0
	}
	totalSeconds := t.Seconds()

	if s.Duration < 0 || s.Duration >= totalSeconds || af != oldFormat {
		return 0
	}

	chunksPerSecond := af.BytesPerSecond() / float64(chunk.Size)

	var chunks int
	if s.MixRampDelay <= 0 || mixRampStart == "" || mixRampPrevEnd == "" {
		chunks = int(chunksPerSecond*s.Duration + 0.5)
	} else {
		overlapCurrent := mixRampInterpolate(mixRampStart, s.MixRampDB-replayGainDB)
		overlapPrev := mixRampInterpolate(mixRampPrevEnd, s.MixRampDB-replayGainPrevDB)
		overlap := overlapCurrent + overlapPrev

		if overlapCurrent >= 0 && overlapPrev >= 0 && s.MixRampDelay <= overlap {
			chunks = int(chunksPerSecond * (overlap - s.MixRampDelay))
			logger := logging.ForService("audioengine")
			if logger == nil {
				logger = slog.Default()
			}
			logger.With("component", "crossfade").Debug("mixramp overlap computed",
				"chunks", chunks, "seconds", overlap-s.MixRampDelay)
		}
	}

	if chunks > maxChunks {
		chunks = maxChunks
		logger := logging.ForService("audioengine")
		if logger == nil {
			logger = slog.Default()
		}
		logger.With("component", "crossfade").Warn("buffer too small for computed MixRamp overlap",
			"max_chunks", maxChunks)
	}

	return chunks
}

// mixRampInterpolate reads a ";"-separated list of "dB seconds" pairs,
// monotonically non-decreasing in dB, and returns the number of
// seconds at which the curve crosses requiredDB: exact match returns
// that pair's seconds; below range extrapolates to the lowest pair's
// seconds; otherwise linear interpolation between the bracketing
// pairs. Returns -1 if the list is empty, if a malformed pair is
// reached before the crossing, or if requiredDB lies above every pair.
func mixRampInterpolate(rampList string, requiredDB float64) float64 {
	var lastDB, lastSecs float64
	haveLast := false

	for _, pair := range strings.Split(rampList, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		fields := strings.Fields(pair)
		if len(fields) != 2 {
			break
		}
		db, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			break
		}
		secs, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			break
		}

		if db == requiredDB {
			return secs
		}
		if db < requiredDB {
			lastDB, lastSecs, haveLast = db, secs, true
			continue
		}
		if !haveLast {
			return secs
		}
		return lastSecs + (requiredDB-lastDB)*(secs-lastSecs)/(db-lastDB)
	}

	return -1
}
