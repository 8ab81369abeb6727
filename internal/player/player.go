// Package player feeds a decoded PCM stream to a voice output one frame at a
// time and reports its lifecycle as events.
package player

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FrameSize is 20ms of signed 16-bit little endian stereo PCM at 48kHz.
const FrameSize = 3840

// Status is the player state.
type Status int

const (
	Idle Status = iota
	Buffering
	Playing
	Paused
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Buffering:
		return "buffering"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Output receives PCM frames. WriteFrame may block to pace the stream.
type Output interface {
	WriteFrame(frame []byte) error
}

// Event is either a StateChange or an End.
type Event interface {
	event()
}

// StateChange is emitted on every status transition.
type StateChange struct {
	From, To Status
}

// End is emitted exactly once per resource. ID is the value Play returned
// for it. Err is nil when the stream was exhausted or stopped, and the stream
// error otherwise.
type End struct {
	ID  uint64
	Err error
}

func (StateChange) event() {}
func (End) event()         {}

// Options configures a Player.
type Options struct {
	// FrameInterval paces frame delivery. Zero writes as fast as the output
	// accepts frames.
	FrameInterval time.Duration
	// OnEvent receives every event. It is called with the player lock held
	// and must not block or call back into the Player.
	OnEvent func(Event)
}

// Player plays one resource at a time.
type Player struct {
	log  zerolog.Logger
	opts Options

	mu     sync.Mutex
	cond   *sync.Cond
	status Status
	out    Output
	cur    *resource
	seq    uint64
}

type resource struct {
	id      uint64
	r       io.ReadCloser
	stopped bool
}

// New creates an idle Player.
func New(log zerolog.Logger, opts Options) *Player {
	p := &Player{log: log, opts: opts}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Attach sets the output frames are written to. A nil output discards frames.
func (p *Player) Attach(out Output) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = out
}

// Status returns the current status.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Play starts r, replacing any current resource, and returns the id its End
// event will carry. The replaced resource is closed without an End event.
func (p *Player) Play(r io.ReadCloser) uint64 {
	p.mu.Lock()
	p.seq++
	res := &resource{id: p.seq, r: r}
	old := p.cur
	if old != nil {
		old.stopped = true
		p.cond.Broadcast()
	}
	p.cur = res
	p.setStatus(Buffering)
	p.mu.Unlock()

	if old != nil {
		_ = old.r.Close()
	}

	go p.run(res)
	return res.id
}

// Pause suspends frame delivery. It reports false unless playing.
func (p *Player) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != Playing && p.status != Buffering {
		return false
	}
	p.setStatus(Paused)
	return true
}

// Unpause resumes a paused resource. It reports false unless paused.
func (p *Player) Unpause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != Paused {
		return false
	}
	p.setStatus(Playing)
	p.cond.Broadcast()
	return true
}

// Stop terminates the current resource and emits its End event. It reports
// whether there was anything to stop.
func (p *Player) Stop() bool {
	p.mu.Lock()
	res := p.cur
	if res == nil {
		p.mu.Unlock()
		return false
	}
	p.release(res, nil)
	p.mu.Unlock()

	_ = res.r.Close()
	return true
}

func (p *Player) setStatus(to Status) {
	from := p.status
	if from == to {
		return
	}
	p.status = to
	p.log.Debug().Str("from", from.String()).Str("status", to.String()).Msg("player state")
	p.emit(StateChange{From: from, To: to})
}

func (p *Player) emit(ev Event) {
	if p.opts.OnEvent != nil {
		p.opts.OnEvent(ev)
	}
}

// release retires res if it is still current. Must hold p.mu.
func (p *Player) release(res *resource, err error) bool {
	if p.cur != res {
		return false
	}
	res.stopped = true
	p.cur = nil
	p.cond.Broadcast()
	p.setStatus(Idle)
	p.emit(End{ID: res.id, Err: err})
	return true
}

// finish ends res from the playback goroutine.
func (p *Player) finish(res *resource, err error) {
	p.mu.Lock()
	released := p.release(res, err)
	p.mu.Unlock()

	if released {
		_ = res.r.Close()
	}
}

// wait blocks while paused. It returns the output to write to, or false when
// res is no longer current.
func (p *Player) wait(res *resource) (Output, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.status == Paused && !res.stopped {
		p.cond.Wait()
	}
	if res.stopped {
		return nil, false
	}
	return p.out, true
}

func (p *Player) run(res *resource) {
	var tick <-chan time.Time
	if p.opts.FrameInterval > 0 {
		ticker := time.NewTicker(p.opts.FrameInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	first := true
	for {
		if _, ok := p.wait(res); !ok {
			return
		}

		frame := make([]byte, FrameSize)
		n, err := io.ReadFull(res.r, frame)
		if n > 0 {
			// A short final frame is padded with silence.
			clear(frame[n:])

			if first {
				first = false
				p.mu.Lock()
				if !res.stopped && p.status == Buffering {
					p.setStatus(Playing)
				}
				p.mu.Unlock()
			}

			out, ok := p.wait(res)
			if !ok {
				return
			}
			if out != nil {
				if werr := out.WriteFrame(frame); werr != nil {
					p.log.Warn().Err(werr).Msg("write frame")
				}
			}

			if tick != nil {
				<-tick
			}
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			p.finish(res, nil)
			return
		default:
			// Errors after Stop or Play come from closing the stream.
			p.mu.Lock()
			stopped := res.stopped
			p.mu.Unlock()
			if stopped {
				return
			}
			p.log.Error().Err(err).Msg("stream failed")
			p.finish(res, err)
			return
		}
	}
}
