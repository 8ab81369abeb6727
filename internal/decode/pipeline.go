// Package decode turns a track file into a continuous raw PCM stream by
// piping it through an ffmpeg subprocess.
package decode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hay-kot/airwave/internal/core/track"
	"github.com/hay-kot/airwave/pkg/executil"
)

// Output format of every pipeline: signed 16-bit little endian PCM.
const (
	SampleRate = 48000
	Channels   = 2
)

// Options configures a Pipeline.
type Options struct {
	FFmpegPath string
	// OpenTimeout bounds how long Open waits for the first decoded bytes.
	// Zero waits until the transcoder produces output or fails.
	OpenTimeout time.Duration
}

// Pipeline opens decode streams.
type Pipeline struct {
	log  zerolog.Logger
	exec executil.Executor
	opts Options
}

// New creates a Pipeline.
func New(log zerolog.Logger, exec executil.Executor, opts Options) *Pipeline {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	return &Pipeline{log: log, exec: exec, opts: opts}
}

// Args returns the transcoder arguments.
func (p *Pipeline) Args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"pipe:1",
	}
}

// Open starts decoding trackID. It fails fast when the file cannot be read,
// the transcoder cannot be started, or the pipeline dies before producing
// any audio. The returned Stream either delivers audio until io.EOF or
// returns exactly one *Error from Read.
func (p *Pipeline) Open(ctx context.Context, trackID string) (*Stream, error) {
	name := track.DisplayName(trackID)

	file, err := os.Open(trackID)
	if err != nil {
		return nil, &Error{Stage: StageInput, Track: name, Reason: reason(err)}
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, &Error{Stage: StageInput, Track: name, Reason: reason(err)}
	}
	if !info.Mode().IsRegular() {
		_ = file.Close()
		return nil, &Error{Stage: StageInput, Track: name, Reason: "not a regular file"}
	}

	pr, pw := io.Pipe()
	s := &Stream{
		ID:    uuid.NewString(),
		Track: trackID,
		name:  name,
		file:  file,
		pr:    pr,
		pw:    pw,
	}
	s.log = p.log.With().Str("pipeline", s.ID).Str("track", name).Logger()

	input := &inputReader{r: file, s: s}
	proc, err := p.exec.Start(context.Background(), input, &s.stderr, p.opts.FFmpegPath, p.Args()...)
	if err != nil {
		s.fail(StageTranscoder, err)
		return nil, s.Err()
	}
	s.attach(proc)

	s.log.Debug().Msg("pipeline started")
	go s.pump(proc)

	if err := s.prime(ctx, p.opts.OpenTimeout); err != nil {
		return nil, err
	}

	return s, nil
}

// OpenReader is Open returning the stream as an io.ReadCloser.
func (p *Pipeline) OpenReader(ctx context.Context, trackID string) (io.ReadCloser, error) {
	s, err := p.Open(ctx, trackID)
	if err != nil {
		return nil, err
	}
	return s, nil
}

var errNoAudio = errors.New("produced no audio")

// Stream is the readable end of a running pipeline.
type Stream struct {
	ID    string
	Track string

	log    zerolog.Logger
	name   string
	file   *os.File
	pr     *io.PipeReader
	pw     *io.PipeWriter
	stderr tailBuffer

	once sync.Once

	mu   sync.Mutex
	proc executil.Process
	torn bool
	err  *Error

	primed []byte
}

// Read returns decoded PCM. After a failure it returns the pipeline *Error.
func (s *Stream) Read(b []byte) (int, error) {
	if len(s.primed) > 0 {
		n := copy(b, s.primed)
		s.primed = s.primed[n:]
		return n, nil
	}
	return s.pr.Read(b)
}

// Close forcibly tears down every stage. It never reports an error, and
// subsequent Reads return io.ErrClosedPipe.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.log.Debug().Msg("pipeline closed")
		_ = s.pr.Close()
		s.teardown()
	})
	return nil
}

// Err returns the terminating error, if the pipeline failed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return nil
	}
	return s.err
}

// fail is the single-fire latch: the first stage to fail tears down all
// three stages and records the error every later Read returns.
func (s *Stream) fail(stage Stage, cause error) {
	s.once.Do(func() {
		de := &Error{Stage: stage, Track: s.name, Reason: reason(cause)}
		s.mu.Lock()
		s.err = de
		s.mu.Unlock()

		s.log.Error().Str("stage", string(stage)).Str("reason", de.Reason).Msg("pipeline failed")
		_ = s.pw.CloseWithError(de)
		s.teardown()
	})
}

// finish ends the stream normally after the transcoder exited cleanly.
func (s *Stream) finish() {
	s.once.Do(func() {
		s.log.Debug().Msg("pipeline finished")
		_ = s.pw.Close()
		_ = s.file.Close()
	})
}

func (s *Stream) teardown() {
	_ = s.file.Close()

	s.mu.Lock()
	s.torn = true
	proc := s.proc
	s.mu.Unlock()

	if proc != nil {
		_ = proc.Kill()
	}
}

// attach records the running transcoder. A latch that fired while the
// process was starting kills it immediately.
func (s *Stream) attach(proc executil.Process) {
	s.mu.Lock()
	s.proc = proc
	torn := s.torn
	s.mu.Unlock()

	if torn {
		_ = proc.Kill()
	}
}

// pump copies transcoder output into the buffer, then reaps the process.
func (s *Stream) pump(proc executil.Process) {
	if _, err := io.Copy(s.pw, proc.Stdout()); err != nil {
		s.fail(StageOutput, err)
	}

	err := proc.Wait()
	if err == nil {
		s.finish()
		return
	}

	code, ok := executil.ExitCode(err)
	switch {
	case !ok:
		s.fail(StageTranscoder, err)
	case code > 0:
		msg := fmt.Sprintf("Exit code %d", code)
		if tail := s.stderr.String(); tail != "" {
			msg += ": " + tail
		}
		s.fail(StageTranscoder, errors.New(msg))
	default:
		// Terminated by a signal, either by Close or externally. There is no
		// exit code to report; end the stream.
		s.finish()
	}
}

// prime waits for the first decoded bytes so a file that dies before
// producing audio is reported by Open rather than mid-playback.
func (s *Stream) prime(ctx context.Context, timeout time.Duration) error {
	type result struct {
		n   int
		err error
	}

	buf := make([]byte, 4096)
	ch := make(chan result, 1)
	go func() {
		n, err := io.ReadAtLeast(s.pr, buf, 1)
		ch <- result{n: n, err: err}
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-ch:
		if res.n > 0 {
			s.primed = buf[:res.n]
			return nil
		}
		var de *Error
		if errors.As(res.err, &de) {
			return de
		}
		s.fail(StageTranscoder, errNoAudio)
		if err := s.Err(); err != nil {
			return err
		}
		// The transcoder exited cleanly without output.
		return &Error{Stage: StageTranscoder, Track: s.name, Reason: errNoAudio.Error()}
	case <-expired:
		s.fail(StageTranscoder, fmt.Errorf("no output after %s", timeout))
		<-ch
		return s.Err()
	case <-ctx.Done():
		s.fail(StageTranscoder, ctx.Err())
		<-ch
		return s.Err()
	}
}

// inputReader reports file read errors to the latch before the transcoder
// sees them.
type inputReader struct {
	r io.Reader
	s *Stream
}

func (r *inputReader) Read(b []byte) (int, error) {
	n, err := r.r.Read(b)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		r.s.fail(StageInput, err)
	}
	return n, err
}

// tailBuffer keeps the last bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

const tailSize = 512

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if len(t.buf) > tailSize {
		t.buf = t.buf[len(t.buf)-tailSize:]
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
