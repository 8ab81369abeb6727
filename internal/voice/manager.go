package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Options configures a Manager.
type Options struct {
	// ReadyTimeout bounds Join.
	ReadyTimeout time.Duration
	// RecoveryTimeout bounds each recovery path after a disconnect.
	RecoveryTimeout time.Duration
}

// Manager owns the voice link of one guild.
type Manager struct {
	log    zerolog.Logger
	dialer Dialer
	guild  string
	opts   Options

	// onDisconnect fires once per connected to disconnected transition with
	// the link that went away.
	onDisconnect func(Link)

	mu      sync.Mutex
	link    Link
	channel string
	stopSup context.CancelFunc
}

// NewManager creates a Manager for guild.
func NewManager(log zerolog.Logger, dialer Dialer, guild string, opts Options, onDisconnect func(Link)) *Manager {
	return &Manager{
		log:          log,
		dialer:       dialer,
		guild:        guild,
		opts:         opts,
		onDisconnect: onDisconnect,
	}
}

// Link returns the current link, or nil when not connected.
func (m *Manager) Link() Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link
}

// ChannelID returns the joined channel, or "".
func (m *Manager) ChannelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// Connected reports whether a link is held.
func (m *Manager) Connected() bool {
	return m.Link() != nil
}

// Join connects to channelID and waits for the link to become ready. On any
// failure the partially opened link is destroyed and nothing is retained.
// Joining another channel while connected replaces the current link.
func (m *Manager) Join(ctx context.Context, channelID string) (Link, error) {
	m.mu.Lock()
	if m.link != nil && m.channel == channelID && m.link.Status() == Ready {
		link := m.link
		m.mu.Unlock()
		return link, nil
	}
	prev := m.detach()
	m.mu.Unlock()

	if prev != nil {
		m.log.Debug().Str("channel", channelID).Msg("replacing voice link")
		prev.Destroy()
	}

	link, err := m.connect(ctx, channelID)
	if err != nil {
		if prev != nil {
			m.notify(prev)
		}
		return nil, err
	}

	// Subscribe before publishing so a drop right after the join is seen.
	statuses, unsubscribe := link.Subscribe()
	supCtx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.link = link
	m.channel = channelID
	m.stopSup = cancel
	m.mu.Unlock()

	go m.supervise(supCtx, link, statuses, unsubscribe)

	m.log.Info().Str("channel", channelID).Msg("voice connected")
	return link, nil
}

func (m *Manager) connect(ctx context.Context, channelID string) (Link, error) {
	link, err := m.dialer.Dial(ctx, Target{Guild: m.guild, Channel: channelID})
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if err := EntersState(ctx, link, m.opts.ReadyTimeout, Ready); err != nil {
		link.Destroy()
		m.log.Warn().Err(err).Str("channel", channelID).Msg("voice join failed")
		return nil, err
	}
	return link, nil
}

// Leave destroys the link if present. It is idempotent; the disconnect
// observer fires only when a link was actually held.
func (m *Manager) Leave() {
	m.mu.Lock()
	link := m.detach()
	m.mu.Unlock()

	if link == nil {
		return
	}

	link.Destroy()
	m.log.Info().Msg("voice left")
	m.notify(link)
}

// detach clears the current link and stops its supervisor. Must hold m.mu.
func (m *Manager) detach() Link {
	link := m.link
	m.link = nil
	m.channel = ""
	if m.stopSup != nil {
		m.stopSup()
		m.stopSup = nil
	}
	return link
}

// drop tears down link after a failed recovery, unless it was already
// replaced or left.
func (m *Manager) drop(link Link) {
	m.mu.Lock()
	if m.link != link {
		m.mu.Unlock()
		return
	}
	m.detach()
	m.mu.Unlock()

	link.Destroy()
	m.log.Warn().Msg("voice connection lost")
	m.notify(link)
}

func (m *Manager) notify(link Link) {
	if m.onDisconnect == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Msg("disconnect observer panicked")
		}
	}()
	m.onDisconnect(link)
}

// supervise watches link until it is replaced, left or lost. statuses must be
// subscribed before link was published.
func (m *Manager) supervise(ctx context.Context, link Link, statuses <-chan Status, unsubscribe func()) {
	defer unsubscribe()

	// Anything that happened between the ready wait and the subscription.
	if m.settle(ctx, link, link.Status()) {
		return
	}

	errs := link.Errors()

	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.log.Warn().Err(err).Msg("voice link error")
		case st, ok := <-statuses:
			if !ok {
				m.drop(link)
				return
			}

			if m.settle(ctx, link, st) {
				return
			}
		}
	}
}

// settle reacts to st and reports whether link is gone.
func (m *Manager) settle(ctx context.Context, link Link, st Status) bool {
	switch st {
	case Disconnected:
		if m.awaitRecovery(ctx, link) {
			return false
		}
	case Destroyed:
	default:
		return false
	}
	m.drop(link)
	return true
}

// awaitRecovery races the renegotiation and reconnection paths. Either the link
// starts signalling a new voice server or it reconnects on its own; if
// neither happens within the recovery window the drop is real. A link that
// is already ready again has recovered.
func (m *Manager) awaitRecovery(ctx context.Context, link Link) bool {
	m.log.Debug().Dur("timeout", m.opts.RecoveryTimeout).Msg("voice disconnected, waiting for recovery")

	timeout := m.opts.RecoveryTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	err := EntersState(ctx, link, timeout, Signalling, Connecting, Ready)
	if err == nil {
		m.log.Info().Str("status", link.Status().String()).Msg("voice recovered")
		return true
	}
	if ctx.Err() != nil {
		// Replaced or left while recovering.
		return true
	}
	return false
}
