package discord

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/airwave/internal/voice"
)

const (
	botID   = "bot-user"
	guildID = "guild-1"
	chanID  = "voice-1"

	granted = requiredPerms | discordgo.PermissionViewChannel
)

type fakeEncoder struct {
	encoded atomic.Int32
	closed  atomic.Bool
}

func (e *fakeEncoder) Encode(pcm []byte) ([]byte, error) {
	e.encoded.Add(1)
	return []byte{0xf8, 0xff, 0xfe}, nil
}

func (e *fakeEncoder) Close() error {
	e.closed.Store(true)
	return nil
}

// newTestSession builds a session whose state answers permission lookups
// without touching the network.
func newTestSession(t *testing.T, everyone int64) *discordgo.Session {
	t.Helper()

	s, err := discordgo.New("Bot test-token")
	require.NoError(t, err)

	s.State.User = &discordgo.User{ID: botID, Username: "airwave"}
	require.NoError(t, s.State.GuildAdd(&discordgo.Guild{
		ID:    guildID,
		Roles: []*discordgo.Role{{ID: guildID, Name: "@everyone", Permissions: everyone}},
	}))
	require.NoError(t, s.State.ChannelAdd(&discordgo.Channel{
		ID:      chanID,
		GuildID: guildID,
		Type:    discordgo.ChannelTypeGuildVoice,
	}))
	require.NoError(t, s.State.MemberAdd(&discordgo.Member{
		GuildID: guildID,
		User:    &discordgo.User{ID: botID},
	}))

	return s
}

func newTestDialer(t *testing.T, everyone int64, enc func() (FrameEncoder, error)) *Dialer {
	t.Helper()
	return New(zerolog.New(io.Discard), newTestSession(t, everyone), Options{NewEncoder: enc})
}

func TestDial_PermissionDenied(t *testing.T) {
	d := newTestDialer(t, discordgo.PermissionViewChannel|discordgo.PermissionVoiceConnect, nil)

	_, err := d.Dial(context.Background(), voice.Target{Guild: guildID, Channel: chanID})
	require.ErrorIs(t, err, voice.ErrPermissionDenied)
}

func TestDial_EncoderUnavailable(t *testing.T) {
	d := newTestDialer(t, granted, func() (FrameEncoder, error) {
		return nil, errors.New("no libopus")
	})

	_, err := d.Dial(context.Background(), voice.Target{Guild: guildID, Channel: chanID})
	require.ErrorIs(t, err, voice.ErrTransport)
}

func registerLink(d *Dialer, enc FrameEncoder) *Link {
	l := newLink(d, voice.Target{Guild: guildID, Channel: chanID}, enc)
	d.mu.Lock()
	d.links[guildID] = l
	d.mu.Unlock()
	return l
}

func voiceState(userID, channelID string) *discordgo.VoiceStateUpdate {
	return &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: userID, GuildID: guildID, ChannelID: channelID},
	}
}

func TestGatewayEvents(t *testing.T) {
	tests := []struct {
		name    string
		initial voice.Status
		event   func(d *Dialer)
		want    voice.Status
	}{
		{
			name:    "bot left channel",
			initial: voice.Ready,
			event:   func(d *Dialer) { d.onVoiceStateUpdate(d.session, voiceState(botID, "")) },
			want:    voice.Disconnected,
		},
		{
			name:    "bot moved channel",
			initial: voice.Ready,
			event:   func(d *Dialer) { d.onVoiceStateUpdate(d.session, voiceState(botID, "voice-2")) },
			want:    voice.Connecting,
		},
		{
			name:    "other user ignored",
			initial: voice.Ready,
			event:   func(d *Dialer) { d.onVoiceStateUpdate(d.session, voiceState("someone", "")) },
			want:    voice.Ready,
		},
		{
			name:    "voice server migration",
			initial: voice.Disconnected,
			event: func(d *Dialer) {
				d.onVoiceServerUpdate(d.session, &discordgo.VoiceServerUpdate{GuildID: guildID, Endpoint: "new.discord.media"})
			},
			want: voice.Signalling,
		},
		{
			name:    "rejoined same channel",
			initial: voice.Disconnected,
			event:   func(d *Dialer) { d.onVoiceStateUpdate(d.session, voiceState(botID, chanID)) },
			want:    voice.Connecting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDialer(t, granted, nil)
			l := registerLink(d, &fakeEncoder{})
			l.Set(tt.initial)

			tt.event(d)

			assert.Equal(t, tt.want, l.Status())
		})
	}
}

func TestLink_WriteFrameNotReady(t *testing.T) {
	d := newTestDialer(t, granted, nil)
	enc := &fakeEncoder{}
	l := registerLink(d, enc)

	require.NoError(t, l.WriteFrame(make([]byte, 3840)))
	assert.Zero(t, enc.encoded.Load(), "frames are dropped until ready")
}

func TestLink_Destroy(t *testing.T) {
	d := newTestDialer(t, granted, nil)
	enc := &fakeEncoder{}
	l := registerLink(d, enc)

	l.Destroy()
	l.Destroy()

	assert.Equal(t, voice.Destroyed, l.Status())
	assert.True(t, enc.closed.Load())
	assert.Nil(t, d.lookup(guildID))

	// Events for a destroyed link are ignored.
	d.onVoiceStateUpdate(d.session, voiceState(botID, ""))
	assert.Equal(t, voice.Destroyed, l.Status())
}
