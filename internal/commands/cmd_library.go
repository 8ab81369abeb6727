package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/airwave/internal/core/track"
	"github.com/hay-kot/airwave/internal/printer"
)

type LibraryCmd struct {
	flags *Flags
}

// NewLibraryCmd creates a new library command
func NewLibraryCmd(flags *Flags) *LibraryCmd {
	return &LibraryCmd{flags: flags}
}

// Register adds the library command to the application
func (cmd *LibraryCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "library",
		Aliases:     []string{"ls"},
		Usage:       "List the tracks in the music directory",
		UsageText:   "airwave library",
		Description: "Scans the configured music directory and prints the catalogue in playback order.",
		Action:      cmd.run,
	})

	return app
}

func (cmd *LibraryCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	lib := newLibrary(cmd.flags.Config)
	tracks, err := lib.Scan(ctx)
	if err != nil {
		return err
	}

	if len(tracks) == 0 {
		p.Infof("No tracks found in %s", lib.Dir())
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tNAME\tPATH")

	for i, id := range tracks {
		rel, err := filepath.Rel(lib.Dir(), id)
		if err != nil {
			rel = id
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", i+1, track.DisplayName(id), rel)
	}

	return w.Flush()
}
