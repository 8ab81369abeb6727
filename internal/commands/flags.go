package commands

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/hay-kot/airwave/internal/core/config"
	"github.com/hay-kot/airwave/internal/decode"
	"github.com/hay-kot/airwave/internal/library"
	"github.com/hay-kot/airwave/pkg/executil"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "airwave", "config.yaml")
}

func newLibrary(cfg *config.Config) *library.Library {
	return library.New(log.With().Str("component", "library").Logger(), library.Options{
		Dir:        cfg.Library.Dir,
		Extensions: cfg.Library.Extensions,
		Exclude:    cfg.Library.Exclude,
	})
}

func newPipeline(cfg *config.Config, exec executil.Executor) *decode.Pipeline {
	return decode.New(log.With().Str("component", "decode").Logger(), exec, decode.Options{
		FFmpegPath:  cfg.FFmpeg.Path,
		OpenTimeout: cfg.FFmpeg.OpenTimeout,
	})
}
