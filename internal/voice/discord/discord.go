// Package discord implements voice.Dialer on top of a discordgo gateway
// session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/hay-kot/airwave/internal/voice"
	"github.com/hay-kot/airwave/internal/voice/opus"
)

const requiredPerms = discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak

// FrameEncoder turns PCM frames into Opus packets.
type FrameEncoder interface {
	Encode(pcm []byte) ([]byte, error)
	Close() error
}

// Options configures a Dialer.
type Options struct {
	// ReadyPoll is how often a joining link checks the voice connection.
	ReadyPoll time.Duration
	// NewEncoder creates the encoder of each link. Defaults to opus.NewEncoder.
	NewEncoder func() (FrameEncoder, error)
}

// Dialer opens voice links through one bot session.
type Dialer struct {
	log     zerolog.Logger
	session *discordgo.Session
	opts    Options

	mu       sync.Mutex
	links    map[string]*Link
	removers []func()
}

// Open connects a bot session to the gateway.
func Open(log zerolog.Logger, token string, opts Options) (*Dialer, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	d := New(log, session, opts)

	if err := session.Open(); err != nil {
		d.detachHandlers()
		return nil, fmt.Errorf("open discord gateway: %w", err)
	}

	log.Info().Str("user", session.State.User.Username).Msg("discord gateway connected")
	return d, nil
}

// New wraps an existing session and registers the gateway handlers links
// depend on.
func New(log zerolog.Logger, session *discordgo.Session, opts Options) *Dialer {
	if opts.ReadyPoll <= 0 {
		opts.ReadyPoll = 100 * time.Millisecond
	}
	if opts.NewEncoder == nil {
		opts.NewEncoder = func() (FrameEncoder, error) { return opus.NewEncoder() }
	}

	d := &Dialer{
		log:     log,
		session: session,
		opts:    opts,
		links:   make(map[string]*Link),
	}

	d.removers = append(d.removers,
		session.AddHandler(d.onVoiceStateUpdate),
		session.AddHandler(d.onVoiceServerUpdate),
	)
	return d
}

// Close destroys every link and closes the gateway.
func (d *Dialer) Close() error {
	d.mu.Lock()
	links := make([]*Link, 0, len(d.links))
	for _, l := range d.links {
		links = append(links, l)
	}
	d.mu.Unlock()

	for _, l := range links {
		l.Destroy()
	}

	d.detachHandlers()
	return d.session.Close()
}

func (d *Dialer) detachHandlers() {
	for _, remove := range d.removers {
		remove()
	}
	d.removers = nil
}

// Dial checks permissions and starts joining target in the background. The
// returned link reports Ready once the voice connection is usable.
func (d *Dialer) Dial(ctx context.Context, target voice.Target) (voice.Link, error) {
	if err := d.checkPermissions(target.Channel); err != nil {
		return nil, err
	}

	enc, err := d.opts.NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", voice.ErrTransport, err)
	}

	l := newLink(d, target, enc)

	d.mu.Lock()
	d.links[target.Guild] = l
	d.mu.Unlock()

	go l.join()

	return l, nil
}

func (d *Dialer) checkPermissions(channelID string) error {
	if d.session.State == nil || d.session.State.User == nil {
		return fmt.Errorf("%w: gateway not connected", voice.ErrTransport)
	}

	perms, err := d.session.UserChannelPermissions(d.session.State.User.ID, channelID)
	if err != nil {
		return fmt.Errorf("%w: resolve permissions: %w", voice.ErrTransport, err)
	}
	if perms&requiredPerms != requiredPerms {
		return fmt.Errorf("%w: channel %s", voice.ErrPermissionDenied, channelID)
	}
	return nil
}

func (d *Dialer) lookup(guildID string) *Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.links[guildID]
}

func (d *Dialer) release(l *Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.links[l.target.Guild] == l {
		delete(d.links, l.target.Guild)
	}
}

func (d *Dialer) isSelf(userID string) bool {
	return d.session.State != nil && d.session.State.User != nil && d.session.State.User.ID == userID
}

func (d *Dialer) onVoiceStateUpdate(_ *discordgo.Session, ev *discordgo.VoiceStateUpdate) {
	if ev.VoiceState == nil || !d.isSelf(ev.UserID) {
		return
	}
	if l := d.lookup(ev.GuildID); l != nil {
		l.onVoiceState(ev.ChannelID)
	}
}

func (d *Dialer) onVoiceServerUpdate(_ *discordgo.Session, ev *discordgo.VoiceServerUpdate) {
	if l := d.lookup(ev.GuildID); l != nil {
		l.onVoiceServer()
	}
}

// Link is one guild's voice connection.
type Link struct {
	*voice.StatusFeed

	log    zerolog.Logger
	d      *Dialer
	target voice.Target
	enc    FrameEncoder
	errs   chan error
	done   chan struct{}

	once     sync.Once
	mu       sync.Mutex
	vc       *discordgo.VoiceConnection
	channel  string
	speaking bool
}

func newLink(d *Dialer, target voice.Target, enc FrameEncoder) *Link {
	return &Link{
		StatusFeed: voice.NewStatusFeed(voice.Signalling),
		log:        d.log.With().Str("session", target.Guild).Logger(),
		d:          d,
		target:     target,
		enc:        enc,
		errs:       make(chan error, 8),
		done:       make(chan struct{}),
		channel:    target.Channel,
	}
}

// Errors reports asynchronous transport errors.
func (l *Link) Errors() <-chan error {
	return l.errs
}

func (l *Link) report(err error) {
	select {
	case l.errs <- err:
	default:
		l.log.Warn().Err(err).Msg("voice error dropped")
	}
}

func (l *Link) join() {
	vc, err := l.d.session.ChannelVoiceJoin(l.target.Guild, l.target.Channel, false, true)
	if err != nil {
		l.report(fmt.Errorf("join voice channel: %w", err))
		l.Destroy()
		return
	}

	l.mu.Lock()
	select {
	case <-l.done:
		l.mu.Unlock()
		_ = vc.Disconnect()
		return
	default:
	}
	l.vc = vc
	l.mu.Unlock()

	l.poll(vc)
}

// poll mirrors the connection readiness into the link status.
func (l *Link) poll(vc *discordgo.VoiceConnection) {
	ticker := time.NewTicker(l.d.opts.ReadyPoll)
	defer ticker.Stop()

	for {
		vc.RLock()
		ready := vc.Ready
		vc.RUnlock()

		switch st := l.Status(); {
		case ready && st != voice.Ready && st != voice.Disconnected:
			l.Set(voice.Ready)
		case ready && st == voice.Disconnected:
			// Still disconnected from the gateway's point of view; wait for a
			// state update.
		case !ready && st == voice.Ready:
			l.Set(voice.Connecting)
		}

		select {
		case <-l.done:
			return
		case <-ticker.C:
		}
	}
}

func (l *Link) onVoiceState(channelID string) {
	l.mu.Lock()
	current := l.channel
	if channelID != "" {
		l.channel = channelID
	}
	l.mu.Unlock()

	switch {
	case channelID == "":
		l.log.Debug().Msg("voice state: left channel")
		l.Set(voice.Disconnected)
	case channelID != current:
		l.log.Debug().Str("channel", channelID).Msg("voice state: moved")
		l.Set(voice.Connecting)
	default:
		if l.Status() == voice.Disconnected {
			l.Set(voice.Connecting)
		}
	}
}

func (l *Link) onVoiceServer() {
	l.log.Debug().Msg("voice server update")
	l.Set(voice.Signalling)
}

// WriteFrame encodes pcm and queues it on the voice connection. Frames
// written while the connection is not ready are dropped.
func (l *Link) WriteFrame(pcm []byte) error {
	if l.Status() != voice.Ready {
		return nil
	}

	l.mu.Lock()
	vc := l.vc
	first := vc != nil && !l.speaking
	if first {
		l.speaking = true
	}
	l.mu.Unlock()

	if vc == nil {
		return nil
	}

	if first {
		if err := vc.Speaking(true); err != nil {
			l.report(fmt.Errorf("set speaking: %w", err))
		}
	}

	packet, err := l.enc.Encode(pcm)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	select {
	case vc.OpusSend <- packet:
		return nil
	case <-l.done:
		return errors.New("voice link destroyed")
	}
}

// Destroy leaves the channel and releases the encoder.
func (l *Link) Destroy() {
	l.once.Do(func() {
		l.mu.Lock()
		close(l.done)
		vc := l.vc
		l.vc = nil
		l.mu.Unlock()

		l.d.release(l)

		if vc != nil {
			_ = vc.Speaking(false)
			if err := vc.Disconnect(); err != nil {
				l.log.Warn().Err(err).Msg("disconnect voice")
			}
		}
		_ = l.enc.Close()

		l.Set(voice.Destroyed)
	})
}
