package voice

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	*StatusFeed
	errs      chan error
	destroyed atomic.Int32
}

func newFakeLink(initial Status) *fakeLink {
	return &fakeLink{StatusFeed: NewStatusFeed(initial), errs: make(chan error, 4)}
}

func (l *fakeLink) Errors() <-chan error         { return l.errs }
func (l *fakeLink) WriteFrame(pcm []byte) error { return nil }

func (l *fakeLink) Destroy() {
	l.destroyed.Add(1)
	l.Set(Destroyed)
}

type fakeDialer struct {
	mu      sync.Mutex
	links   []*fakeLink
	err     error
	targets []Target
	// ready controls whether dialed links become ready on their own.
	ready bool
	// dropAfterReady disconnects a link right after it became ready.
	dropAfterReady bool
}

func (d *fakeDialer) Dial(_ context.Context, target Target) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.targets = append(d.targets, target)
	if d.err != nil {
		return nil, d.err
	}

	link := newFakeLink(Signalling)
	d.links = append(d.links, link)
	if d.ready {
		drop := d.dropAfterReady
		go func() {
			time.Sleep(5 * time.Millisecond)
			link.Set(Connecting)
			link.Set(Ready)
			if drop {
				link.Set(Disconnected)
			}
		}()
	}
	return link, nil
}

func (d *fakeDialer) last() *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.links[len(d.links)-1]
}

// counter records the links passed to the disconnect observer.
type counter struct {
	mu    sync.Mutex
	links []Link
}

func (c *counter) inc(link Link) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links = append(c.links, link)
}

func (c *counter) load() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.links)
}

func (c *counter) last() Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.links) == 0 {
		return nil
	}
	return c.links[len(c.links)-1]
}

func newTestManager(d Dialer, notify func(Link), opts Options) *Manager {
	return NewManager(zerolog.New(io.Discard), d, "guild-1", opts, notify)
}

func TestJoin(t *testing.T) {
	d := &fakeDialer{ready: true}
	var notified counter
	m := newTestManager(d, notified.inc, Options{ReadyTimeout: time.Second, RecoveryTimeout: 50 * time.Millisecond})

	link, err := m.Join(context.Background(), "chan-1")
	require.NoError(t, err)
	require.NotNil(t, link)

	assert.Equal(t, Ready, link.Status())
	assert.Equal(t, "chan-1", m.ChannelID())
	assert.True(t, m.Connected())
	assert.Equal(t, []Target{{Guild: "guild-1", Channel: "chan-1"}}, d.targets)

	// Joining the same ready channel again keeps the link.
	again, err := m.Join(context.Background(), "chan-1")
	require.NoError(t, err)
	assert.Same(t, link, again)
	assert.Equal(t, 0, notified.load())
}

func TestJoin_Timeout(t *testing.T) {
	d := &fakeDialer{ready: false}
	var notified counter
	m := newTestManager(d, notified.inc, Options{ReadyTimeout: 30 * time.Millisecond})

	_, err := m.Join(context.Background(), "chan-1")
	require.ErrorIs(t, err, ErrConnectTimeout)

	assert.Nil(t, m.Link(), "half-open link must not be retained")
	assert.Empty(t, m.ChannelID())
	assert.Equal(t, int32(1), d.last().destroyed.Load())
	assert.Equal(t, 0, notified.load())
}

func TestJoin_DialErrors(t *testing.T) {
	tests := []struct {
		name    string
		dialErr error
		want    error
	}{
		{
			name:    "permission denied",
			dialErr: ErrPermissionDenied,
			want:    ErrPermissionDenied,
		},
		{
			name:    "transport",
			dialErr: errors.New("gateway closed"),
			want:    ErrTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(&fakeDialer{err: tt.dialErr}, nil, Options{ReadyTimeout: time.Second})

			_, err := m.Join(context.Background(), "chan-1")
			require.ErrorIs(t, err, tt.want)
			assert.False(t, m.Connected())
		})
	}
}

func TestJoin_ReplacesSilently(t *testing.T) {
	d := &fakeDialer{ready: true}
	var notified counter
	m := newTestManager(d, notified.inc, Options{ReadyTimeout: time.Second, RecoveryTimeout: 50 * time.Millisecond})

	first, err := m.Join(context.Background(), "chan-1")
	require.NoError(t, err)

	second, err := m.Join(context.Background(), "chan-2")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, Destroyed, first.Status())
	assert.Equal(t, "chan-2", m.ChannelID())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, notified.load())
}

func TestLeave_Idempotent(t *testing.T) {
	d := &fakeDialer{ready: true}
	var notified counter
	m := newTestManager(d, notified.inc, Options{ReadyTimeout: time.Second, RecoveryTimeout: 50 * time.Millisecond})

	m.Leave()
	assert.Equal(t, 0, notified.load(), "leave while disconnected does not notify")

	_, err := m.Join(context.Background(), "chan-1")
	require.NoError(t, err)

	link := d.last()
	m.Leave()
	m.Leave()

	assert.Equal(t, 1, notified.load())
	assert.Same(t, link, notified.last())
	assert.False(t, m.Connected())
	assert.Empty(t, m.ChannelID())
	assert.Equal(t, int32(1), d.last().destroyed.Load())
}

func TestRecovery(t *testing.T) {
	tests := []struct {
		name     string
		after    []Status
		wantKeep bool
	}{
		{
			name:     "renegotiates",
			after:    []Status{Signalling},
			wantKeep: true,
		},
		{
			name:     "reconnects",
			after:    []Status{Connecting, Ready},
			wantKeep: true,
		},
		{
			name:     "drops",
			after:    nil,
			wantKeep: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{ready: true}
			var notified counter
			m := newTestManager(d, notified.inc, Options{ReadyTimeout: time.Second, RecoveryTimeout: 50 * time.Millisecond})

			_, err := m.Join(context.Background(), "chan-1")
			require.NoError(t, err)
			link := d.last()

			link.Set(Disconnected)
			time.Sleep(10 * time.Millisecond)
			for _, st := range tt.after {
				link.Set(st)
			}

			if tt.wantKeep {
				time.Sleep(100 * time.Millisecond)
				assert.True(t, m.Connected())
				assert.Equal(t, 0, notified.load())
				assert.Zero(t, link.destroyed.Load())
				return
			}

			require.Eventually(t, func() bool { return !m.Connected() }, time.Second, 5*time.Millisecond)
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, 1, notified.load())
			assert.Same(t, link, notified.last())
			assert.Equal(t, int32(1), link.destroyed.Load())

			// A later leave does not notify again.
			m.Leave()
			assert.Equal(t, 1, notified.load())
		})
	}
}

func TestRecovery_DropRightAfterJoin(t *testing.T) {
	d := &fakeDialer{ready: true, dropAfterReady: true}
	var notified counter
	m := newTestManager(d, notified.inc, Options{ReadyTimeout: time.Second, RecoveryTimeout: 30 * time.Millisecond})

	_, err := m.Join(context.Background(), "chan-1")
	require.NoError(t, err)
	link := d.last()

	require.Eventually(t, func() bool { return !m.Connected() }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, 1, notified.load())
	assert.Same(t, link, notified.last())
	assert.Equal(t, int32(1), link.destroyed.Load())
}

func TestJoin_FailedReplacementNotifiesOldLink(t *testing.T) {
	d := &fakeDialer{ready: true}
	var notified counter
	m := newTestManager(d, notified.inc, Options{ReadyTimeout: time.Second, RecoveryTimeout: 50 * time.Millisecond})

	_, err := m.Join(context.Background(), "chan-1")
	require.NoError(t, err)
	first := d.last()

	d.mu.Lock()
	d.err = errors.New("gateway closed")
	d.mu.Unlock()

	_, err = m.Join(context.Background(), "chan-2")
	require.ErrorIs(t, err, ErrTransport)

	assert.False(t, m.Connected())
	assert.Equal(t, 1, notified.load())
	assert.Same(t, first, notified.last())
}

func TestNotify_PanicIsolated(t *testing.T) {
	d := &fakeDialer{ready: true}
	m := newTestManager(d, func(Link) { panic("observer blew up") }, Options{ReadyTimeout: time.Second})

	_, err := m.Join(context.Background(), "chan-1")
	require.NoError(t, err)

	assert.NotPanics(t, m.Leave)
	assert.False(t, m.Connected())
}

func TestEntersState(t *testing.T) {
	t.Run("already in state", func(t *testing.T) {
		link := newFakeLink(Ready)
		require.NoError(t, EntersState(context.Background(), link, time.Second, Ready))
	})

	t.Run("transition", func(t *testing.T) {
		link := newFakeLink(Signalling)
		go func() {
			time.Sleep(10 * time.Millisecond)
			link.Set(Ready)
		}()
		require.NoError(t, EntersState(context.Background(), link, time.Second, Ready))
	})

	t.Run("timeout", func(t *testing.T) {
		link := newFakeLink(Signalling)
		err := EntersState(context.Background(), link, 10*time.Millisecond, Ready)
		require.ErrorIs(t, err, ErrConnectTimeout)
	})

	t.Run("destroyed", func(t *testing.T) {
		link := newFakeLink(Signalling)
		go func() {
			time.Sleep(10 * time.Millisecond)
			link.Destroy()
		}()
		err := EntersState(context.Background(), link, time.Second, Ready)
		require.ErrorIs(t, err, ErrTransport)
	})

	t.Run("cancelled", func(t *testing.T) {
		link := newFakeLink(Signalling)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := EntersState(ctx, link, 0, Ready)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestStatusFeed_DestroyedIsTerminal(t *testing.T) {
	f := NewStatusFeed(Ready)
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Set(Destroyed)
	f.Set(Ready)

	assert.Equal(t, Destroyed, f.Status())
	assert.Equal(t, Destroyed, <-ch)
	select {
	case st := <-ch:
		t.Fatalf("unexpected status %s after destroy", st)
	default:
	}
}
