// Package opus encodes 20ms PCM frames into Opus packets for voice transport.
package opus

import (
	"errors"
	"fmt"
)

// Frame geometry of the encoder input: 20ms of 48kHz stereo s16le.
const (
	SampleRate   = 48000
	Channels     = 2
	FrameSamples = SampleRate / 50
	FrameBytes   = FrameSamples * Channels * 2
)

var (
	// ErrUnavailable is returned on platforms without the native encoder.
	ErrUnavailable = errors.New("opus encoder unavailable on this platform")
	// ErrFrameSize is returned when a frame is not exactly FrameBytes long.
	ErrFrameSize = fmt.Errorf("opus frames must be %d bytes", FrameBytes)
)

// Available reports whether an encoder can be created.
func Available() error {
	enc, err := NewEncoder()
	if err != nil {
		return err
	}
	return enc.Close()
}
