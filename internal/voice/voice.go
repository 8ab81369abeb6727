// Package voice supervises the real-time voice link of one session: joining a
// channel, waiting for it to become ready, and telling a transient signalling
// blip apart from a real drop.
package voice

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	// ErrConnectTimeout is returned when a link does not become ready in time.
	ErrConnectTimeout = errors.New("voice connection timed out")
	// ErrPermissionDenied is returned by a Dialer when the bot may not connect
	// to or speak in the target channel.
	ErrPermissionDenied = errors.New("missing voice permissions")
	// ErrTransport wraps every other dial or link failure.
	ErrTransport = errors.New("voice transport error")
)

// Status is the state of a Link.
type Status int

const (
	Signalling Status = iota
	Connecting
	Ready
	Disconnected
	Destroyed
)

func (s Status) String() string {
	switch s {
	case Signalling:
		return "signalling"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Disconnected:
		return "disconnected"
	case Destroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Target identifies a voice channel.
type Target struct {
	Guild   string
	Channel string
}

// Link is one real-time voice session.
type Link interface {
	Status() Status
	// Subscribe returns a channel receiving every later status change. The
	// returned func releases the subscription.
	Subscribe() (<-chan Status, func())
	// Errors reports asynchronous transport errors unrelated to the status.
	Errors() <-chan error
	// WriteFrame sends one 20ms frame of 48kHz stereo s16le PCM.
	WriteFrame(pcm []byte) error
	// Destroy tears the link down. Safe to call more than once.
	Destroy()
}

// Dialer opens links.
type Dialer interface {
	Dial(ctx context.Context, target Target) (Link, error)
}

// EntersState waits until link reports one of statuses, the timeout expires
// or ctx is cancelled. A zero timeout waits without bound.
func EntersState(ctx context.Context, link Link, timeout time.Duration, statuses ...Status) error {
	ch, cancel := link.Subscribe()
	defer cancel()

	current := link.Status()
	if slices.Contains(statuses, current) {
		return nil
	}
	if current == Destroyed {
		return fmt.Errorf("%w: link destroyed", ErrTransport)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return fmt.Errorf("%w: link destroyed", ErrTransport)
			}
			if slices.Contains(statuses, st) {
				return nil
			}
			if st == Destroyed {
				return fmt.Errorf("%w: link destroyed", ErrTransport)
			}
		case <-expired:
			return ErrConnectTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// StatusFeed holds a link status and fans changes out to subscribers. Link
// implementations embed it. Slow subscribers miss updates rather than block
// the link.
type StatusFeed struct {
	mu     sync.Mutex
	status Status
	next   int
	subs   map[int]chan Status
}

// NewStatusFeed creates a feed starting at initial.
func NewStatusFeed(initial Status) *StatusFeed {
	return &StatusFeed{status: initial, subs: make(map[int]chan Status)}
}

// Status returns the current status.
func (f *StatusFeed) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Set records a new status. Destroyed is terminal; later calls are ignored.
func (f *StatusFeed) Set(s Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status == Destroyed || f.status == s {
		return
	}
	f.status = s

	for _, ch := range f.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Subscribe registers a subscriber.
func (f *StatusFeed) Subscribe() (<-chan Status, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs == nil {
		f.subs = make(map[int]chan Status)
	}
	id := f.next
	f.next++
	ch := make(chan Status, 16)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}
