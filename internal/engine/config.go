package engine

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/retrohandheld/doom-audio-engine/internal/opl2"
)

// Config holds the tunables an embedder can override. DefaultConfig supplies
// a value for every field, and LoadConfig keeps those values for fields a
// file leaves unset; New uses the Config as given and does not fill in zero
// fields.
type Config struct {
	OutputRate      uint32 `yaml:"output_rate"`
	MixSamples      int    `yaml:"mix_samples"`
	MusicVolume     int    `yaml:"music_volume"`
	SFXVolume       int    `yaml:"sfx_volume"`
	GenMidiLumpName string `yaml:"genmidi_lump"`
	// PolyphonyCeiling caps how many of the OPL2 chip's 9 physical FM
	// channels the voice allocator may use at once (1-9). Lowering it
	// reserves channels from music voice-stealing; it can never exceed the
	// chip's physical channel count.
	PolyphonyCeiling int `yaml:"polyphony_ceiling"`
	// LogLevel selects the engine logger's verbosity: "debug", "info",
	// "warn", "error", or "fatal".
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig matches the reference port's boot-time defaults: 48kHz
// output, a 512-frame mix block, both volumes at maximum, full 9-voice
// polyphony, info-level logging.
func DefaultConfig() Config {
	return Config{
		OutputRate:       48000,
		MixSamples:       512,
		MusicVolume:      127,
		SFXVolume:        127,
		GenMidiLumpName:  "GENMIDI",
		PolyphonyCeiling: opl2.Channels,
		LogLevel:         "info",
	}
}

// LoadConfig reads a YAML config file, falling back to DefaultConfig values
// for any field the file leaves unset.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if cfg.OutputRate == 0 {
		cfg.OutputRate = 48000
	}
	if cfg.MixSamples == 0 {
		cfg.MixSamples = 512
	}
	if cfg.GenMidiLumpName == "" {
		cfg.GenMidiLumpName = "GENMIDI"
	}
	if cfg.PolyphonyCeiling <= 0 {
		cfg.PolyphonyCeiling = opl2.Channels
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
