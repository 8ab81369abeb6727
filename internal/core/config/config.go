// Package config handles configuration loading and validation for airwave.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvDiscordToken = "AIRWAVE_DISCORD_TOKEN"
	EnvMusicDir     = "MUSIC_DIR"
	EnvFFmpegPath   = "FFMPEG_PATH"
)

// DefaultExtensions lists the audio file extensions picked up by the library scanner.
var DefaultExtensions = []string{".mp3", ".wav", ".ogg", ".flac", ".m4a", ".aac", ".opus"}

// Config holds the application configuration.
type Config struct {
	Discord  DiscordConfig `yaml:"discord"`
	Library  LibraryConfig `yaml:"library"`
	FFmpeg   FFmpegConfig  `yaml:"ffmpeg"`
	Voice    VoiceConfig   `yaml:"voice"`
	Stations []Station     `yaml:"stations"`
}

// DiscordConfig holds gateway credentials.
type DiscordConfig struct {
	Token string `yaml:"token"`
}

// LibraryConfig controls how the music directory is scanned.
type LibraryConfig struct {
	Dir        string        `yaml:"dir"`
	Extensions []string      `yaml:"extensions"`
	Exclude    []string      `yaml:"exclude"` // doublestar globs relative to Dir
	Watch      bool          `yaml:"watch"`
	Debounce   time.Duration `yaml:"debounce"`
}

// FFmpegConfig controls the transcoder subprocess.
type FFmpegConfig struct {
	Path string `yaml:"path"`
	// OpenTimeout bounds how long a pipeline may take to produce its first
	// bytes. Zero disables the bound.
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// VoiceConfig holds connection supervision timings.
type VoiceConfig struct {
	ReadyTimeout    time.Duration `yaml:"ready_timeout"`
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
	FrameInterval   time.Duration `yaml:"frame_interval"`
}

// Station is a voice channel joined automatically by `airwave run`.
type Station struct {
	Guild   string `yaml:"guild"`
	Channel string `yaml:"channel"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Library: LibraryConfig{
			Dir:        "music",
			Extensions: append([]string(nil), DefaultExtensions...),
			Watch:      true,
			Debounce:   2 * time.Second,
		},
		FFmpeg: FFmpegConfig{
			Path:        "ffmpeg",
			OpenTimeout: 30 * time.Second,
		},
		Voice: VoiceConfig{
			ReadyTimeout:    30 * time.Second,
			RecoveryTimeout: 5 * time.Second,
			FrameInterval:   20 * time.Millisecond,
		},
	}
}

// Load reads configuration from the given path and applies environment overrides.
// If configPath is empty or doesn't exist, returns defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDiscordToken); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv(EnvMusicDir); v != "" {
		c.Library.Dir = v
	}
	if v := os.Getenv(EnvFFmpegPath); v != "" {
		c.FFmpeg.Path = v
	}
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if len(c.Library.Extensions) == 0 {
		c.Library.Extensions = defaults.Library.Extensions
	}
	for i, ext := range c.Library.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Library.Extensions[i] = ext
	}
	if c.Library.Debounce == 0 {
		c.Library.Debounce = defaults.Library.Debounce
	}
	if c.FFmpeg.Path == "" {
		c.FFmpeg.Path = defaults.FFmpeg.Path
	}
	if c.Voice.ReadyTimeout == 0 {
		c.Voice.ReadyTimeout = defaults.Voice.ReadyTimeout
	}
	if c.Voice.RecoveryTimeout == 0 {
		c.Voice.RecoveryTimeout = defaults.Voice.RecoveryTimeout
	}
	if c.Voice.FrameInterval == 0 {
		c.Voice.FrameInterval = defaults.Voice.FrameInterval
	}
}

// Validate checks that the configuration is valid. The returned error is a
// criterio.FieldErrors listing every offending field.
func (c *Config) Validate() error {
	var errs criterio.FieldErrors
	add := func(field string, err error) {
		errs = append(errs, criterio.FieldErrors{{Field: field, Err: err}}...)
	}

	if strings.TrimSpace(c.Library.Dir) == "" {
		add("library.dir", errors.New("cannot be empty"))
	}

	for i, ext := range c.Library.Extensions {
		if ext == "" || ext == "." {
			add(fmt.Sprintf("library.extensions[%d]", i), errors.New("cannot be empty"))
		}
	}

	for i, pattern := range c.Library.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			add(fmt.Sprintf("library.exclude[%d]", i), fmt.Errorf("invalid glob %q", pattern))
		}
	}

	if c.Library.Debounce < 0 {
		add("library.debounce", errors.New("cannot be negative"))
	}

	if c.FFmpeg.OpenTimeout < 0 {
		add("ffmpeg.open_timeout", errors.New("cannot be negative"))
	}

	if c.Voice.ReadyTimeout < 0 {
		add("voice.ready_timeout", errors.New("cannot be negative"))
	}

	if c.Voice.RecoveryTimeout < 0 {
		add("voice.recovery_timeout", errors.New("cannot be negative"))
	}

	if c.Voice.FrameInterval < 0 {
		add("voice.frame_interval", errors.New("cannot be negative"))
	}

	seen := make(map[string]bool, len(c.Stations))
	for i, st := range c.Stations {
		field := fmt.Sprintf("stations[%d]", i)
		if st.Guild == "" {
			add(field+".guild", errors.New("is required"))
		}
		if st.Channel == "" {
			add(field+".channel", errors.New("is required"))
		}
		if st.Guild != "" && seen[st.Guild] {
			add(field+".guild", fmt.Errorf("duplicate guild %s", st.Guild))
		}
		seen[st.Guild] = true
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// RequireToken reports whether the Discord token is set. Only the run
// command needs it, so it is not part of Validate.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return criterio.FieldErrors{{Field: "discord.token", Err: fmt.Errorf("is required (set %s)", EnvDiscordToken)}}
	}
	return nil
}
