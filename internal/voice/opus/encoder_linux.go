//go:build linux

package opus

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
)

// Encoder wraps the libopus encoder from mediadevices. The codec pulls audio
// from a reader, so Encode pushes one frame and immediately pulls one packet.
type Encoder struct {
	mu     sync.Mutex
	frames chan *wave.Int16Interleaved
	rc     codec.ReadCloser
	closed bool
}

// NewEncoder creates a stereo 48kHz encoder.
func NewEncoder() (*Encoder, error) {
	params, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	params.BitRate = 96000

	e := &Encoder{frames: make(chan *wave.Int16Interleaved, 1)}

	src := audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk, ok := <-e.frames
		if !ok {
			return nil, func() {}, io.EOF
		}
		return chunk, func() {}, nil
	})

	rc, err := params.BuildAudioEncoder(src, prop.Media{
		Audio: prop.Audio{
			ChannelCount:  Channels,
			SampleRate:    SampleRate,
			SampleSize:    2,
			Latency:       20 * time.Millisecond,
			IsInterleaved: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build opus encoder: %w", err)
	}
	e.rc = rc

	return e, nil
}

// Encode turns one FrameBytes PCM frame into an Opus packet.
func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	if len(pcm) != FrameBytes {
		return nil, ErrFrameSize
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, io.ErrClosedPipe
	}

	chunk := wave.NewInt16Interleaved(wave.ChunkInfo{
		Len:          FrameSamples,
		Channels:     Channels,
		SamplingRate: SampleRate,
	})
	for i := range chunk.Data {
		chunk.Data[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	e.frames <- chunk

	packet, release, err := e.rc.Read()
	if err != nil {
		return nil, fmt.Errorf("encode opus frame: %w", err)
	}
	defer release()

	out := make([]byte, len(packet))
	copy(out, packet)
	return out, nil
}

// Close releases the native encoder.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	close(e.frames)
	return e.rc.Close()
}
