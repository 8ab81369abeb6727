package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/airwave/internal/decode"
	"github.com/hay-kot/airwave/internal/printer"
	"github.com/hay-kot/airwave/pkg/executil"
)

type DecodeCmd struct {
	flags  *Flags
	output string
	exec   executil.Executor
}

// NewDecodeCmd creates a new decode command
func NewDecodeCmd(flags *Flags) *DecodeCmd {
	return &DecodeCmd{flags: flags, exec: &executil.RealExecutor{}}
}

// Register adds the decode command to the application
func (cmd *DecodeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "decode",
		Usage:     "Decode a track to raw PCM",
		UsageText: "airwave decode <file> [-o out.pcm]",
		Description: `Runs a single decode pipeline and writes signed 16-bit little endian,
48kHz stereo PCM to a file or stdout.

Useful to check that ffmpeg can read a track before it is queued.

Example:
  airwave decode music/song.mp3 -o song.pcm
  airwave decode music/song.flac | ffplay -f s16le -ar 48000 -ac 2 -`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write PCM to this file instead of stdout",
				Destination: &cmd.output,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *DecodeCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)

	if c.Args().Len() != 1 {
		return fmt.Errorf("exactly one file required\n\nUsage: airwave decode <file> [-o out.pcm]")
	}

	var out io.Writer = c.Root().Writer
	if cmd.output != "" {
		f, err := os.Create(cmd.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}

	stats, err := decodeTo(ctx, newPipeline(cmd.flags.Config, cmd.exec), c.Args().First(), out)
	if err != nil {
		return err
	}

	if cmd.output != "" {
		p.Successf("Wrote %s (%d bytes, %s of audio) in %s", cmd.output, stats.bytes, stats.audio(), stats.elapsed.Round(time.Millisecond))
	}
	return nil
}

type decodeStats struct {
	bytes   int64
	elapsed time.Duration
}

// audio returns the playback length of the decoded PCM.
func (s decodeStats) audio() time.Duration {
	const bytesPerSecond = decode.SampleRate * decode.Channels * 2
	return time.Duration(s.bytes) * time.Second / bytesPerSecond
}

func decodeTo(ctx context.Context, pipeline *decode.Pipeline, file string, out io.Writer) (decodeStats, error) {
	start := time.Now()

	stream, err := pipeline.Open(ctx, file)
	if err != nil {
		return decodeStats{}, err
	}
	defer func() { _ = stream.Close() }()

	n, err := io.Copy(out, stream)
	stats := decodeStats{bytes: n, elapsed: time.Since(start)}
	if err != nil {
		return stats, fmt.Errorf("decode %s: %w", file, err)
	}
	return stats, nil
}
