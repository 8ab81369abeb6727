package doctor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hay-kot/airwave/pkg/executil"
)

// FFmpegCheck verifies the transcoder binary runs.
type FFmpegCheck struct {
	exec    executil.Executor
	path    string
	timeout time.Duration
}

// NewFFmpegCheck creates a check that runs `<path> -version`.
func NewFFmpegCheck(exec executil.Executor, path string) *FFmpegCheck {
	return &FFmpegCheck{exec: exec, path: path, timeout: 10 * time.Second}
}

func (c *FFmpegCheck) Name() string {
	return "FFmpeg"
}

func (c *FFmpegCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.exec.Run(ctx, c.path, "-version")
	if err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  c.path,
			Status: StatusFail,
			Detail: err.Error(),
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  c.path,
		Status: StatusPass,
		Detail: firstLine(string(out)),
	})
	return result
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// EncoderCheck verifies an Opus encoder can be created on this host.
type EncoderCheck struct {
	available func() error
}

// NewEncoderCheck creates an encoder check. available is typically
// opus.Available.
func NewEncoderCheck(available func() error) *EncoderCheck {
	return &EncoderCheck{available: available}
}

func (c *EncoderCheck) Name() string {
	return "Opus Encoder"
}

func (c *EncoderCheck) Run(_ context.Context) Result {
	result := Result{Name: c.Name()}

	if err := c.available(); err != nil {
		result.Items = append(result.Items, CheckItem{
			Label:  "encoder",
			Status: StatusFail,
			Detail: fmt.Sprintf("cannot create encoder: %v", err),
		})
		return result
	}

	result.Items = append(result.Items, CheckItem{
		Label:  "encoder",
		Status: StatusPass,
	})
	return result
}
