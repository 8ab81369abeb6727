package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hay-kot/airwave/internal/core/track"
	"github.com/hay-kot/airwave/internal/player"
	"github.com/hay-kot/airwave/internal/printer"
)

// station is the slice of a playback session the console drives.
type station interface {
	PlayOrResume(ctx context.Context) (*track.Track, error)
	Skip(ctx context.Context) *track.Track
	Prev(ctx context.Context) *track.Track
	Stop()
	Pause() bool
	Resume() bool
	NowPlaying() *track.Track
	Status() player.Status
	LastError() string
	ChannelID() string
}

// console reads transport commands, one per line, and applies them to the
// running stations. A command without a guild applies to every station.
type console struct {
	printer *printer.Printer
	lookup  func(guild string) (station, bool)
	guilds  func() []string
}

const consoleHelp = "commands: play|skip|prev|pause|resume|stop|status [guild], help"

// run processes lines from r until it is exhausted or ctx is done.
func (c *console) run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errc:
					return err
				default:
					return nil
				}
			}
			c.exec(ctx, line)
		}
	}
}

func (c *console) exec(ctx context.Context, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}

	verb := strings.ToLower(fields[0])
	if verb == "help" {
		c.printer.Infof("%s", consoleHelp)
		return
	}
	if len(fields) > 2 {
		c.printer.Errorf("too many arguments: %s", line)
		return
	}

	targets := c.guilds()
	if len(fields) == 2 {
		if _, ok := c.lookup(fields[1]); !ok {
			c.printer.Errorf("unknown guild %s", fields[1])
			return
		}
		targets = []string{fields[1]}
	}

	for _, guild := range targets {
		st, ok := c.lookup(guild)
		if !ok {
			continue
		}
		if err := c.apply(ctx, guild, verb, st); err != nil {
			c.printer.Errorf("%s: %v", guild, err)
			return
		}
	}
}

func (c *console) apply(ctx context.Context, guild, verb string, st station) error {
	switch verb {
	case "play":
		t, err := st.PlayOrResume(ctx)
		if err != nil {
			return err
		}
		c.announce(guild, t, st)
	case "skip":
		if was := st.Skip(ctx); was != nil {
			c.printer.Infof("%s: skipped %s", guild, was.Name)
		} else if msg := st.LastError(); msg != "" {
			c.printer.Warnf("%s: %s", guild, msg)
		}
	case "prev":
		c.announce(guild, st.Prev(ctx), st)
	case "pause":
		if !st.Pause() {
			c.printer.Warnf("%s: nothing is playing", guild)
			return nil
		}
		c.printer.Infof("%s: paused", guild)
	case "resume":
		if !st.Resume() {
			c.printer.Warnf("%s: not paused", guild)
			return nil
		}
		c.printer.Infof("%s: resumed", guild)
	case "stop":
		st.Stop()
		c.printer.Infof("%s: stopped", guild)
	case "status":
		c.status(guild, st)
	default:
		return fmt.Errorf("unknown command %q (%s)", verb, consoleHelp)
	}
	return nil
}

func (c *console) announce(guild string, t *track.Track, st station) {
	if t == nil {
		c.printer.Warnf("%s: nothing to play: %s", guild, st.LastError())
		return
	}
	c.printer.NowPlaying(guild, t.Name)
}

func (c *console) status(guild string, st station) {
	line := fmt.Sprintf("%s: %s", guild, st.Status())
	if ch := st.ChannelID(); ch != "" {
		line += " in " + ch
	}
	if t := st.NowPlaying(); t != nil {
		line += ", " + t.Name
	}
	if msg := st.LastError(); msg != "" {
		line += " (last error: " + msg + ")"
	}
	c.printer.Printf("%s", line)
}
