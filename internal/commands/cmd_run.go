package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/airwave/internal/core/config"
	"github.com/hay-kot/airwave/internal/library"
	"github.com/hay-kot/airwave/internal/player"
	"github.com/hay-kot/airwave/internal/printer"
	"github.com/hay-kot/airwave/internal/radio"
	"github.com/hay-kot/airwave/internal/voice"
	"github.com/hay-kot/airwave/internal/voice/discord"
	"github.com/hay-kot/airwave/pkg/executil"
)

type RunCmd struct {
	flags    *Flags
	stations []string
	rejoin   time.Duration
	console  string
}

// NewRunCmd creates a new run command
func NewRunCmd(flags *Flags) *RunCmd {
	return &RunCmd{flags: flags}
}

// Register adds the run command to the application
func (cmd *RunCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Connect to Discord and play the library in every station",
		UsageText: "airwave run [--station guild:channel...]",
		Description: `Opens the Discord gateway, scans the music directory and joins every
configured station. Each station plays the library in order and wraps around
at the end. Runs until interrupted.

Stations come from the config file and from --station flags.

With the console enabled, transport commands are read from stdin, one per
line: play, skip, prev, pause, resume, stop and status, each optionally
followed by a guild id. Type help for the list.

Example:
  airwave run
  airwave run --station 81384788765712384:81384788862181376`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:        "station",
				Aliases:     []string{"s"},
				Usage:       "guild:channel to join in addition to the configured stations",
				Destination: &cmd.stations,
			},
			&cli.DurationFlag{
				Name:        "rejoin",
				Usage:       "delay before rejoining a station after a disconnect (0 disables)",
				Value:       10 * time.Second,
				Destination: &cmd.rejoin,
			},
			&cli.StringFlag{
				Name:        "console",
				Usage:       "read transport commands from stdin (auto, on, off)",
				Value:       "auto",
				Destination: &cmd.console,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *RunCmd) run(ctx context.Context, c *cli.Command) error {
	p := printer.Ctx(ctx)
	cfg := cmd.flags.Config

	if err := cfg.RequireToken(); err != nil {
		return err
	}

	stations, err := mergeStations(cfg.Stations, cmd.stations)
	if err != nil {
		return err
	}
	if len(stations) == 0 {
		return errors.New("no stations configured\n\nAdd a stations entry to the config file or pass --station guild:channel")
	}

	useConsole, err := consoleEnabled(cmd.console, term.IsTerminal(int(os.Stdin.Fd())))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lib := newLibrary(cfg)
	tracks, err := lib.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan library: %w", err)
	}
	p.Infof("Library %s: %d track(s)", lib.Dir(), len(tracks))

	if cfg.Library.Watch {
		w := library.NewWatcher(log.With().Str("component", "watcher").Logger(), lib, cfg.Library.Debounce, nil)
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Warn().Err(err).Msg("library watcher stopped")
			}
		}()
	}

	dialer, err := discord.Open(log.With().Str("component", "discord").Logger(), cfg.Discord.Token, discord.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = dialer.Close() }()

	keeper := &stationKeeper{
		ctx:      ctx,
		printer:  p,
		delay:    cmd.rejoin,
		channels: make(map[string]string, len(stations)),
	}
	for _, st := range stations {
		keeper.channels[st.Guild] = st.Channel
	}

	var (
		pipeline = newPipeline(cfg, &executil.RealExecutor{})
		source   = library.NewSource(lib)
	)

	registry := radio.NewRegistry(func(key string) *radio.Engine {
		return radio.New(log.With().Str("component", "radio").Str("session", key).Logger(), key, radio.Options{
			Source: source,
			Opener: pipeline,
			Dialer: dialer,
			Voice: voice.Options{
				ReadyTimeout:    cfg.Voice.ReadyTimeout,
				RecoveryTimeout: cfg.Voice.RecoveryTimeout,
			},
			FrameInterval: cfg.Voice.FrameInterval,
			OnDisconnect:  keeper.disconnected,
			OnStateChange: keeper.stateChanged,
		})
	})
	keeper.registry = registry

	var wg sync.WaitGroup
	for _, st := range stations {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keeper.start(st.Guild)
		}()
	}
	wg.Wait()

	if useConsole {
		con := &console{
			printer: p,
			lookup: func(guild string) (station, bool) {
				e, ok := registry.Lookup(guild)
				if !ok {
					return nil, false
				}
				return e, true
			},
			guilds: registry.Keys,
		}
		p.Infof("Console ready, type help for commands")
		go func() {
			if err := con.run(ctx, os.Stdin); err != nil {
				log.Warn().Err(err).Msg("console stopped")
			}
		}()
	}

	<-ctx.Done()
	p.Infof("Shutting down")

	keeper.wait()
	registry.Close()
	return nil
}

// consoleEnabled resolves the --console mode. auto follows whether stdin is a
// terminal.
func consoleEnabled(mode string, tty bool) (bool, error) {
	switch strings.ToLower(mode) {
	case "auto", "":
		return tty, nil
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	default:
		return false, fmt.Errorf("invalid console mode %q: expected auto, on or off", mode)
	}
}

// mergeStations appends guild:channel flag values to the configured stations.
// A flag for an already configured guild replaces its channel.
func mergeStations(configured []config.Station, flags []string) ([]config.Station, error) {
	stations := append([]config.Station(nil), configured...)

	for _, raw := range flags {
		guild, channel, ok := strings.Cut(raw, ":")
		guild, channel = strings.TrimSpace(guild), strings.TrimSpace(channel)
		if !ok || guild == "" || channel == "" {
			return nil, fmt.Errorf("invalid station %q: expected guild:channel", raw)
		}

		replaced := false
		for i := range stations {
			if stations[i].Guild == guild {
				stations[i].Channel = channel
				replaced = true
			}
		}
		if !replaced {
			stations = append(stations, config.Station{Guild: guild, Channel: channel})
		}
	}

	return stations, nil
}

// stationKeeper joins sessions to their configured channel and rejoins them
// after a disconnect.
type stationKeeper struct {
	ctx      context.Context
	printer  *printer.Printer
	registry *radio.Registry
	delay    time.Duration
	channels map[string]string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (k *stationKeeper) start(guild string) {
	e := k.registry.Get(guild)
	channel := k.channels[guild]

	if err := e.Join(k.ctx, channel); err != nil {
		k.printer.Errorf("%s: join %s: %v", guild, channel, err)
		k.disconnected(guild)
		return
	}

	t, err := e.PlayOrResume(k.ctx)
	if err != nil {
		k.printer.Errorf("%s: %v", guild, err)
		return
	}
	if t == nil {
		k.printer.Warnf("%s: nothing to play: %s", guild, e.LastError())
		return
	}
	k.printer.NowPlaying(guild, t.Name)
}

func (k *stationKeeper) disconnected(guild string) {
	if k.ctx.Err() != nil {
		return
	}
	if k.delay <= 0 {
		k.printer.Warnf("%s: disconnected from voice", guild)
		return
	}

	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.wg.Add(1)
	k.mu.Unlock()

	k.printer.Warnf("%s: disconnected from voice, rejoining in %s", guild, k.delay)

	go func() {
		defer k.wg.Done()

		timer := time.NewTimer(k.delay)
		defer timer.Stop()

		select {
		case <-k.ctx.Done():
			return
		case <-timer.C:
		}

		if e, ok := k.registry.Lookup(guild); ok && e.Connected() {
			return
		}
		k.start(guild)
	}()
}

func (k *stationKeeper) stateChanged(guild string, status player.Status) {
	if status != player.Playing {
		return
	}
	e, ok := k.registry.Lookup(guild)
	if !ok {
		return
	}
	if t := e.NowPlaying(); t != nil {
		log.Info().Str("session", guild).Str("track", t.ID).Msg("now playing")
	}
}

// wait blocks until pending rejoins have given up. No new ones start after it
// is called.
func (k *stationKeeper) wait() {
	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()
	k.wg.Wait()
}
