package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config with all required fields set for testing.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Library.Dir = t.TempDir()
	return &cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Library.Exclude = []string{"**/.*", "podcasts/**"}
	cfg.Stations = []Station{{Guild: "1", Channel: "2"}}

	assert.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
		msg    string
	}{
		{
			name:   "empty library dir",
			mutate: func(c *Config) { c.Library.Dir = "  " },
			field:  "library.dir",
			msg:    "cannot be empty",
		},
		{
			name:   "bad exclude glob",
			mutate: func(c *Config) { c.Library.Exclude = []string{"[unclosed"} },
			field:  "library.exclude[0]",
			msg:    "invalid glob",
		},
		{
			name:   "negative open timeout",
			mutate: func(c *Config) { c.FFmpeg.OpenTimeout = -time.Second },
			field:  "ffmpeg.open_timeout",
			msg:    "negative",
		},
		{
			name:   "negative recovery timeout",
			mutate: func(c *Config) { c.Voice.RecoveryTimeout = -time.Second },
			field:  "voice.recovery_timeout",
			msg:    "negative",
		},
		{
			name:   "station without channel",
			mutate: func(c *Config) { c.Stations = []Station{{Guild: "1"}} },
			field:  "stations[0].channel",
			msg:    "required",
		},
		{
			name: "duplicate station guild",
			mutate: func(c *Config) {
				c.Stations = []Station{{Guild: "1", Channel: "2"}, {Guild: "1", Channel: "3"}}
			},
			field: "stations[1].guild",
			msg:   "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()

			var fieldErrs criterio.FieldErrors
			require.ErrorAs(t, err, &fieldErrs)
			require.Len(t, fieldErrs, 1)
			assert.Equal(t, tt.field, fieldErrs[0].Field)
			assert.Contains(t, fieldErrs[0].Err.Error(), tt.msg)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Library.Dir = ""
	cfg.Voice.ReadyTimeout = -1
	cfg.Stations = []Station{{}}

	err := cfg.Validate()

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Len(t, fieldErrs, 4)
}

func TestRequireToken(t *testing.T) {
	cfg := validConfig(t)
	require.Error(t, cfg.RequireToken())

	cfg.Discord.Token = "abc"
	assert.NoError(t, cfg.RequireToken())
}

func TestWarnings(t *testing.T) {
	t.Run("missing library dir", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Library.Dir = filepath.Join(t.TempDir(), "nope")

		warnings := cfg.Warnings()
		require.Len(t, warnings, 1)
		assert.Equal(t, "library.dir", warnings[0].Item)
		assert.Contains(t, warnings[0].Message, "does not exist")
	})

	t.Run("library dir is a file", func(t *testing.T) {
		cfg := validConfig(t)
		file := filepath.Join(t.TempDir(), "music")
		require.NoError(t, os.WriteFile(file, nil, 0o644))
		cfg.Library.Dir = file

		warnings := cfg.Warnings()
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0].Message, "not a directory")
	})

	t.Run("stations without token", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Stations = []Station{{Guild: "1", Channel: "2"}}

		warnings := cfg.Warnings()
		require.Len(t, warnings, 1)
		assert.Equal(t, "discord.token", warnings[0].Item)
	})

	t.Run("clean", func(t *testing.T) {
		assert.Empty(t, validConfig(t).Warnings())
	})
}
