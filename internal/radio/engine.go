// Package radio implements the per-session playback engine: track
// sequencing over a track source, the voice connection lifecycle, and the
// transport controls.
package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/airwave/internal/core/track"
	"github.com/hay-kot/airwave/internal/decode"
	"github.com/hay-kot/airwave/internal/player"
	"github.com/hay-kot/airwave/internal/voice"
)

// ErrNotConnected is returned by PlayOrResume before a channel was joined.
var ErrNotConnected = errors.New("not connected to a voice channel")

// EmptyLibrary is the last error recorded when the track source is empty.
const EmptyLibrary = "Library is empty"

// Opener materializes a track as a raw PCM stream.
type Opener interface {
	OpenReader(ctx context.Context, trackID string) (io.ReadCloser, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, trackID string) (io.ReadCloser, error)

// OpenReader calls f.
func (f OpenerFunc) OpenReader(ctx context.Context, trackID string) (io.ReadCloser, error) {
	return f(ctx, trackID)
}

// Options configures an Engine.
type Options struct {
	Source track.Source
	Opener Opener
	Dialer voice.Dialer
	Voice  voice.Options

	// FrameInterval paces the player. See player.Options.
	FrameInterval time.Duration

	// OnDisconnect is called with the session key once per connected to
	// disconnected transition.
	OnDisconnect func(key string)
	// OnStateChange is called on every player transition.
	OnStateChange func(key string, status player.Status)
}

// Engine is the playback state machine of one session.
type Engine struct {
	log    zerolog.Logger
	key    string
	src    track.Source
	opener Opener
	conn   *voice.Manager
	player *player.Player

	onDisconnect  func(string)
	onStateChange func(string, player.Status)

	mu        sync.Mutex
	tracks    []string
	cursor    int
	current   string
	lastErr   string
	advancing bool
	// playing is the player resource whose end auto-advances. Zero after a
	// forced stop or once its end was handled.
	playing uint64

	events    *mailbox
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type (
	playerEvent     struct{ ev player.Event }
	disconnectEvent struct{ link voice.Link }
	advanceEvent    struct{}
)

// New creates an engine for key and starts its event loop.
func New(log zerolog.Logger, key string, opts Options) *Engine {
	e := &Engine{
		log:           log,
		key:           key,
		src:           opts.Source,
		opener:        opts.Opener,
		onDisconnect:  opts.OnDisconnect,
		onStateChange: opts.OnStateChange,
		cursor:        -1,
		events:        newMailbox(),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	e.player = player.New(log.With().Str("component", "player").Logger(), player.Options{
		FrameInterval: opts.FrameInterval,
		OnEvent:       func(ev player.Event) { e.events.post(playerEvent{ev: ev}) },
	})
	e.conn = voice.NewManager(log.With().Str("component", "voice").Logger(), opts.Dialer, key, opts.Voice,
		func(link voice.Link) { e.events.post(disconnectEvent{link: link}) })

	go e.loop()
	return e
}

// Key returns the session key.
func (e *Engine) Key() string { return e.key }

// Join connects the session to channelID and routes audio to it.
func (e *Engine) Join(ctx context.Context, channelID string) error {
	link, err := e.conn.Join(ctx, channelID)
	if err != nil {
		e.player.Attach(nil)
		return err
	}
	e.player.Attach(link)
	return nil
}

// Leave stops playback and disconnects. The session stays usable.
func (e *Engine) Leave() {
	e.Stop()
	e.player.Attach(nil)
	e.conn.Leave()
}

// PlayOrResume continues a paused track, keeps a playing one, or advances.
func (e *Engine) PlayOrResume(ctx context.Context) (*track.Track, error) {
	if !e.conn.Connected() {
		return nil, ErrNotConnected
	}

	switch e.player.Status() {
	case player.Playing, player.Buffering:
		return e.NowPlaying(), nil
	case player.Paused:
		e.player.Unpause()
		return e.NowPlaying(), nil
	default:
		return e.Advance(ctx), nil
	}
}

// Advance loads the next playable track after the cursor, trying each track
// of the list at most once. It returns nil when nothing could be played; the
// reason is available from LastError. A call made while another advance is
// in flight returns the current track without doing anything.
func (e *Engine) Advance(ctx context.Context) *track.Track {
	if !e.begin() {
		return e.NowPlaying()
	}
	defer e.end()

	e.mu.Lock()
	e.lastErr = ""
	e.mu.Unlock()

	tracks, err := e.refresh(ctx)
	if err != nil {
		return nil
	}

	if len(tracks) == 0 {
		e.mu.Lock()
		e.cursor = -1
		e.current = ""
		e.lastErr = EmptyLibrary
		e.stopLocked()
		e.mu.Unlock()

		e.log.Warn().Msg("library is empty")
		return nil
	}

	e.mu.Lock()
	start := e.cursor
	e.mu.Unlock()

	for i := 1; i <= len(tracks); i++ {
		idx := wrap(start+i, len(tracks))
		id := tracks[idx]

		stream, err := e.opener.OpenReader(ctx, id)
		if err != nil {
			e.recordFailure(id, err)
			continue
		}

		e.mu.Lock()
		e.cursor = idx
		e.current = id
		e.playing = e.player.Play(stream)
		e.mu.Unlock()

		e.log.Info().Str("track", track.DisplayName(id)).Int("cursor", idx).Msg("now playing")
		t := track.New(id)
		return &t
	}

	e.mu.Lock()
	e.current = ""
	e.mu.Unlock()
	return nil
}

// Skip stops the current track and lets the end handler advance. It returns
// the track that was playing before the skip. A track that already ended on
// its own is not skipped twice.
func (e *Engine) Skip(ctx context.Context) *track.Track {
	e.mu.Lock()
	empty := len(e.tracks) == 0
	e.mu.Unlock()

	if empty {
		tracks, err := e.refresh(ctx)
		if err != nil || len(tracks) == 0 {
			return nil
		}
	}

	e.mu.Lock()
	was := e.nowPlayingLocked()
	stopped := e.player.Stop()
	// Without a resource to stop, advance here unless an end is already
	// queued for the track that just finished.
	pending := e.playing != 0
	e.mu.Unlock()

	if !stopped && !pending {
		e.events.post(advanceEvent{})
	}

	if was != nil {
		e.log.Info().Str("track", was.Name).Msg("skipped")
	}
	return was
}

// Prev moves the cursor back one track, wrapping to the end of the list, and
// starts it immediately.
func (e *Engine) Prev(ctx context.Context) *track.Track {
	if !e.begin() {
		return e.NowPlaying()
	}
	defer e.end()

	e.mu.Lock()
	tracks := e.tracks
	e.mu.Unlock()

	if len(tracks) == 0 {
		var err error
		if tracks, err = e.refresh(ctx); err != nil {
			return nil
		}
		if len(tracks) == 0 {
			e.mu.Lock()
			e.lastErr = EmptyLibrary
			e.mu.Unlock()
			return nil
		}
	}

	e.mu.Lock()
	idx := e.cursor - 1
	if e.cursor <= 0 || e.cursor > len(tracks) {
		idx = len(tracks) - 1
	}
	e.cursor = idx
	e.lastErr = ""
	e.mu.Unlock()

	id := tracks[idx]
	stream, err := e.opener.OpenReader(ctx, id)
	if err != nil {
		e.recordFailure(id, err)

		e.mu.Lock()
		e.stopLocked()
		e.current = ""
		e.mu.Unlock()
		return nil
	}

	e.mu.Lock()
	e.stopLocked()
	e.current = id
	e.playing = e.player.Play(stream)
	e.mu.Unlock()

	e.log.Info().Str("track", track.DisplayName(id)).Int("cursor", idx).Msg("now playing")
	t := track.New(id)
	return &t
}

// Stop ends playback and leaves the session connected but idle.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	e.current = ""
}

// Pause pauses a playing track.
func (e *Engine) Pause() bool {
	return e.player.Pause()
}

// Resume continues a paused track.
func (e *Engine) Resume() bool {
	return e.player.Unpause()
}

// NowPlaying returns the loaded track, or nil.
func (e *Engine) NowPlaying() *track.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nowPlayingLocked()
}

// LastError returns the last failure reason, or "".
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Status returns the player status as shown to users; buffering counts as
// playing.
func (e *Engine) Status() player.Status {
	st := e.player.Status()
	if st == player.Buffering {
		return player.Playing
	}
	return st
}

// ChannelID returns the joined channel, or "".
func (e *Engine) ChannelID() string { return e.conn.ChannelID() }

// Connected reports whether the session holds a voice link.
func (e *Engine) Connected() bool { return e.conn.Connected() }

// Close leaves the channel and stops the event loop.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.Leave()
		close(e.quit)
		<-e.done
	})
}

func (e *Engine) nowPlayingLocked() *track.Track {
	if e.current == "" {
		return nil
	}
	t := track.New(e.current)
	return &t
}

// stopLocked force-stops the player. The end event of a stopped resource is
// not an auto-advance. Must hold e.mu.
func (e *Engine) stopLocked() {
	e.playing = 0
	e.player.Stop()
}

func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.advancing {
		return false
	}
	e.advancing = true
	return true
}

func (e *Engine) end() {
	e.mu.Lock()
	e.advancing = false
	e.mu.Unlock()
}

func (e *Engine) refresh(ctx context.Context) ([]string, error) {
	tracks, err := e.src.ListTracks(ctx, e.key)
	if err != nil {
		e.mu.Lock()
		e.lastErr = fmt.Sprintf("List tracks failed: %v", err)
		e.mu.Unlock()

		e.log.Error().Err(err).Msg("list tracks")
		return nil, err
	}

	e.mu.Lock()
	e.tracks = tracks
	e.mu.Unlock()
	return tracks, nil
}

func (e *Engine) recordFailure(id string, err error) {
	msg := err.Error()
	if !decode.IsDecodeError(err) {
		msg = fmt.Sprintf("%s (%s)", msg, track.DisplayName(id))
	}

	e.mu.Lock()
	e.lastErr = msg
	e.mu.Unlock()

	e.log.Error().Err(err).Str("track", track.DisplayName(id)).Msg("open track")
}

func wrap(i, n int) int {
	return ((i % n) + n) % n
}

func (e *Engine) loop() {
	defer close(e.done)

	for {
		select {
		case <-e.quit:
			// Deliver the disconnect of the final Leave; drop the rest.
			for _, ev := range e.events.close() {
				if de, ok := ev.(disconnectEvent); ok {
					e.handleDisconnect(de.link)
				}
			}
			return
		case <-e.events.signal:
			for _, ev := range e.events.drain() {
				e.handle(ev)
			}
		}
	}
}

func (e *Engine) handle(ev any) {
	switch ev := ev.(type) {
	case playerEvent:
		switch pe := ev.ev.(type) {
		case player.StateChange:
			e.notifyState(pe.To)
		case player.End:
			e.handleEnd(pe)
		}
	case disconnectEvent:
		e.handleDisconnect(ev.link)
	case advanceEvent:
		e.Advance(context.Background())
	}
}

// handleEnd advances after the current resource ended on its own. Ends of
// stopped or replaced resources are ignored.
func (e *Engine) handleEnd(ev player.End) {
	e.mu.Lock()
	if ev.ID != e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = 0
	e.current = ""
	if ev.Err != nil {
		e.lastErr = ev.Err.Error()
	}
	e.mu.Unlock()

	if ev.Err != nil {
		e.log.Error().Err(ev.Err).Msg("stream failed")
	}
	e.Advance(context.Background())
}

// handleDisconnect stops playback for the loss of link. When a newer link
// already took over, playback on it is left alone and only the observer runs.
func (e *Engine) handleDisconnect(link voice.Link) {
	if cur := e.conn.Link(); cur == nil || cur == link {
		e.Stop()
		e.player.Attach(outputOf(cur))
		e.log.Info().Msg("session disconnected")
	} else {
		e.log.Debug().Msg("disconnect of a replaced link")
	}

	if e.onDisconnect == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("disconnect observer panicked")
		}
	}()
	e.onDisconnect(e.key)
}

func (e *Engine) notifyState(st player.Status) {
	if e.onStateChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("state observer panicked")
		}
	}()
	e.onStateChange(e.key, st)
}

// outputOf keeps a nil link a nil output.
func outputOf(link voice.Link) player.Output {
	if link == nil {
		return nil
	}
	return link
}
