//go:build linux

package opus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoder(t *testing.T) {
	enc, err := NewEncoder()
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })

	for range 5 {
		packet, err := enc.Encode(make([]byte, FrameBytes))
		require.NoError(t, err)
		assert.NotEmpty(t, packet)
		assert.Less(t, len(packet), FrameBytes)
	}
}

func TestEncoder_FrameSize(t *testing.T) {
	enc, err := NewEncoder()
	require.NoError(t, err)
	t.Cleanup(func() { _ = enc.Close() })

	_, err = enc.Encode(make([]byte, FrameBytes-1))
	require.ErrorIs(t, err, ErrFrameSize)
}

func TestEncoder_Closed(t *testing.T) {
	enc, err := NewEncoder()
	require.NoError(t, err)

	require.NoError(t, enc.Close())
	require.NoError(t, enc.Close())

	_, err = enc.Encode(make([]byte, FrameBytes))
	require.Error(t, err)
}
