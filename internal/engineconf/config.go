// Package engineconf holds the tunables for the audio engine: buffering,
// cross-fade defaults, replay gain mode, mixer type, and the filter chain
// template for each configured output. It deliberately does not carry the
// network protocol, path-resolution, or tag-database configuration a full
// player daemon would also need.
package engineconf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// RotationType selects how the engine log file is rotated.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// LogConfig configures the lumberjack-backed file logger.
type LogConfig struct {
	Path     string       `mapstructure:"path"`
	Rotation RotationType `mapstructure:"rotation"`
	MaxSize  int64        `mapstructure:"max_size_bytes"`
}

// BufferConfig sizes the shared chunk pool and the player's prebuffering.
type BufferConfig struct {
	ChunkCount       int           `mapstructure:"chunk_count"`
	BufferBeforePlay time.Duration `mapstructure:"buffer_before_play"`
}

// CrossFadeConfig carries the defaults crossfade.Settings is constructed
// with; a running player may still disable cross-fading per song.
type CrossFadeConfig struct {
	Duration     time.Duration `mapstructure:"duration"`
	MixRampDB    float64       `mapstructure:"mixramp_db"`
	MixRampDelay time.Duration `mapstructure:"mixramp_delay"`
}

// OutputConfig describes one configured output device and its filter
// chain template, e.g. Filters: ["replay_gain", "convert"].
type OutputConfig struct {
	Name           string   `mapstructure:"name"`
	MixerType      string   `mapstructure:"mixer_type"`
	ReplayGainMode string   `mapstructure:"replay_gain_mode"`
	Filters        []string `mapstructure:"filters"`
}

// Settings is the root engine configuration.
type Settings struct {
	Log       LogConfig       `mapstructure:"log"`
	Buffer    BufferConfig    `mapstructure:"buffer"`
	CrossFade CrossFadeConfig `mapstructure:"crossfade"`
	Outputs   []OutputConfig  `mapstructure:"outputs"`
}

// Default returns the engine's built-in settings, used when no config file
// is present and as the baseline viper defaults are seeded from.
func Default() *Settings {
	return &Settings{
		Log: LogConfig{
			Path:     "logs/audioengine.log",
			Rotation: RotationSize,
			MaxSize:  100 * 1024 * 1024,
		},
		Buffer: BufferConfig{
			ChunkCount:       1024,
			BufferBeforePlay: 0,
		},
		CrossFade: CrossFadeConfig{
			Duration:     0,
			MixRampDB:    -17,
			MixRampDelay: -1,
		},
		Outputs: []OutputConfig{
			{Name: "default", MixerType: "software", ReplayGainMode: "off", Filters: []string{"replay_gain", "convert"}},
		},
	}
}

// Load reads YAML configuration from path, falling back to Default()
// values for anything the file doesn't set, and validates the result.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)

	def := Default()
	v.SetDefault("log.path", def.Log.Path)
	v.SetDefault("log.rotation", string(def.Log.Rotation))
	v.SetDefault("log.max_size_bytes", def.Log.MaxSize)
	v.SetDefault("buffer.chunk_count", def.Buffer.ChunkCount)
	v.SetDefault("buffer.buffer_before_play", def.Buffer.BufferBeforePlay)
	v.SetDefault("crossfade.duration", def.CrossFade.Duration)
	v.SetDefault("crossfade.mixramp_db", def.CrossFade.MixRampDB)
	v.SetDefault("crossfade.mixramp_delay", def.CrossFade.MixRampDelay)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading engine config %s: %w", path, err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling engine config: %w", err)
	}
	if len(settings.Outputs) == 0 {
		settings.Outputs = def.Outputs
	}

	if err := Validate(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate rejects settings that would leave the engine unable to start.
func Validate(s *Settings) error {
	if s.Buffer.ChunkCount <= 0 {
		return fmt.Errorf("buffer.chunk_count must be positive, got %d", s.Buffer.ChunkCount)
	}
	if s.Buffer.BufferBeforePlay < 0 {
		return fmt.Errorf("buffer.buffer_before_play must not be negative")
	}
	if s.CrossFade.Duration < 0 {
		return fmt.Errorf("crossfade.duration must not be negative")
	}
	for i, o := range s.Outputs {
		if o.Name == "" {
			return fmt.Errorf("outputs[%d].name must not be empty", i)
		}
		switch o.MixerType {
		case "software", "hardware", "null", "":
		default:
			return fmt.Errorf("outputs[%d].mixer_type %q is not one of software, hardware, null", i, o.MixerType)
		}
	}
	return nil
}
