package commands

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/airwave/internal/core/track"
	"github.com/hay-kot/airwave/internal/player"
	"github.com/hay-kot/airwave/internal/printer"
)

type fakeStation struct {
	calls   []string
	status  player.Status
	current *track.Track
	lastErr string
	playErr error
}

func (s *fakeStation) PlayOrResume(context.Context) (*track.Track, error) {
	s.calls = append(s.calls, "play")
	if s.playErr != nil {
		return nil, s.playErr
	}
	s.status = player.Playing
	return s.current, nil
}

func (s *fakeStation) Skip(context.Context) *track.Track {
	s.calls = append(s.calls, "skip")
	return s.current
}

func (s *fakeStation) Prev(context.Context) *track.Track {
	s.calls = append(s.calls, "prev")
	return s.current
}

func (s *fakeStation) Stop() {
	s.calls = append(s.calls, "stop")
	s.status = player.Idle
}

func (s *fakeStation) Pause() bool {
	s.calls = append(s.calls, "pause")
	if s.status != player.Playing {
		return false
	}
	s.status = player.Paused
	return true
}

func (s *fakeStation) Resume() bool {
	s.calls = append(s.calls, "resume")
	if s.status != player.Paused {
		return false
	}
	s.status = player.Playing
	return true
}

func (s *fakeStation) NowPlaying() *track.Track { return s.current }
func (s *fakeStation) Status() player.Status    { return s.status }
func (s *fakeStation) LastError() string        { return s.lastErr }
func (s *fakeStation) ChannelID() string        { return "voice-1" }

func newTestConsole(out *bytes.Buffer, stations map[string]*fakeStation) *console {
	return &console{
		printer: printer.NewPlain(out),
		lookup: func(guild string) (station, bool) {
			st, ok := stations[guild]
			if !ok {
				return nil, false
			}
			return st, true
		},
		guilds: func() []string {
			keys := make([]string, 0, len(stations))
			for k := range stations {
				keys = append(keys, k)
			}
			return keys
		},
	}
}

func TestConsole_Transport(t *testing.T) {
	song := track.New("/music/a.mp3")
	st := &fakeStation{current: &song}

	var out bytes.Buffer
	con := newTestConsole(&out, map[string]*fakeStation{"g1": st})

	input := strings.Join([]string{"play", "", "pause", "PAUSE", "resume", "skip g1", "prev", "stop"}, "\n")
	require.NoError(t, con.run(context.Background(), strings.NewReader(input)))

	assert.Equal(t, []string{"play", "pause", "pause", "resume", "skip", "prev", "stop"}, st.calls)

	text := out.String()
	assert.Contains(t, text, "g1 a.mp3")
	assert.Contains(t, text, "g1: paused")
	assert.Contains(t, text, "g1: nothing is playing")
	assert.Contains(t, text, "g1: resumed")
	assert.Contains(t, text, "g1: skipped a.mp3")
	assert.Contains(t, text, "g1: stopped")
}

func TestConsole_AllStations(t *testing.T) {
	a, b := &fakeStation{}, &fakeStation{}

	var out bytes.Buffer
	con := newTestConsole(&out, map[string]*fakeStation{"g1": a, "g2": b})

	require.NoError(t, con.run(context.Background(), strings.NewReader("stop\nstop g2\n")))

	assert.Equal(t, []string{"stop"}, a.calls)
	assert.Equal(t, []string{"stop", "stop"}, b.calls)
}

func TestConsole_Errors(t *testing.T) {
	st := &fakeStation{playErr: errors.New("not connected to a voice channel"), lastErr: "Library is empty"}

	var out bytes.Buffer
	con := newTestConsole(&out, map[string]*fakeStation{"g1": st})

	input := "play\nprev\nskip g9\nrewind\nskip g1 now\n"
	require.NoError(t, con.run(context.Background(), strings.NewReader(input)))

	assert.Equal(t, []string{"play", "prev"}, st.calls)

	text := out.String()
	assert.Contains(t, text, "g1: not connected to a voice channel")
	assert.Contains(t, text, "g1: nothing to play: Library is empty")
	assert.Contains(t, text, "unknown guild g9")
	assert.Contains(t, text, `unknown command "rewind"`)
	assert.Contains(t, text, "too many arguments: skip g1 now")
}

func TestConsole_Status(t *testing.T) {
	song := track.New("/music/a.mp3")
	st := &fakeStation{current: &song, status: player.Paused, lastErr: "Library is empty"}

	var out bytes.Buffer
	con := newTestConsole(&out, map[string]*fakeStation{"g1": st})

	require.NoError(t, con.run(context.Background(), strings.NewReader("status\n")))
	assert.Contains(t, out.String(), "g1: paused in voice-1, a.mp3 (last error: Library is empty)")
}

func TestConsole_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	con := newTestConsole(&out, map[string]*fakeStation{})

	// A reader that never yields must not keep the console alive.
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	require.NoError(t, con.run(ctx, pr))
}

func TestConsoleEnabled(t *testing.T) {
	tests := []struct {
		mode    string
		tty     bool
		want    bool
		wantErr bool
	}{
		{mode: "auto", tty: true, want: true},
		{mode: "auto", tty: false, want: false},
		{mode: "on", tty: false, want: true},
		{mode: "off", tty: true, want: false},
		{mode: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			got, err := consoleEnabled(tt.mode, tt.tty)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
