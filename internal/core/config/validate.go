package config

import (
	"fmt"
	"os"
)

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Category string `json:"category"`
	Item     string `json:"item,omitempty"`
	Message  string `json:"message"`
}

// Warnings reports configuration that is valid but likely to misbehave at
// runtime: a missing library directory or stations without a token.
func (c *Config) Warnings() []ValidationWarning {
	var warnings []ValidationWarning

	info, err := os.Stat(c.Library.Dir)
	switch {
	case os.IsNotExist(err):
		warnings = append(warnings, ValidationWarning{
			Category: "Library",
			Item:     "library.dir",
			Message:  fmt.Sprintf("%s does not exist", c.Library.Dir),
		})
	case err != nil:
		warnings = append(warnings, ValidationWarning{
			Category: "Library",
			Item:     "library.dir",
			Message:  fmt.Sprintf("cannot access %s: %v", c.Library.Dir, err),
		})
	case !info.IsDir():
		warnings = append(warnings, ValidationWarning{
			Category: "Library",
			Item:     "library.dir",
			Message:  fmt.Sprintf("%s is not a directory", c.Library.Dir),
		})
	}

	if len(c.Stations) > 0 && c.Discord.Token == "" {
		warnings = append(warnings, ValidationWarning{
			Category: "Discord",
			Item:     "discord.token",
			Message:  fmt.Sprintf("%d station(s) configured but no token set", len(c.Stations)),
		})
	}

	if c.FFmpeg.OpenTimeout == 0 {
		warnings = append(warnings, ValidationWarning{
			Category: "FFmpeg",
			Item:     "ffmpeg.open_timeout",
			Message:  "disabled; a hung transcoder will stall its session",
		})
	}

	return warnings
}
