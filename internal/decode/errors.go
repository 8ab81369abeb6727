package decode

import (
	"errors"
	"fmt"
	"io/fs"
)

// Stage names the part of the pipeline that failed.
type Stage string

const (
	StageInput      Stage = "input"      // reading the track file
	StageTranscoder Stage = "transcoder" // the ffmpeg subprocess
	StageOutput     Stage = "output"     // the raw PCM buffer handed to the sink
)

func (s Stage) label() string {
	switch s {
	case StageInput:
		return "Input stream failed"
	case StageTranscoder:
		return "Transcoder failed"
	case StageOutput:
		return "Output stream failed"
	default:
		return "Pipeline failed"
	}
}

// Error is the single terminating error raised by a pipeline.
type Error struct {
	Stage  Stage
	Track  string // display name
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Stage.label(), e.Track, e.Reason)
}

// IsDecodeError reports whether err is, or wraps, a pipeline Error.
func IsDecodeError(err error) bool {
	var de *Error
	return errors.As(err, &de)
}

// reason turns an error into a short human readable string. Path errors drop
// the path since the track name is already part of the message.
func reason(err error) string {
	if err == nil {
		return "unknown stream error"
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Err.Error()
	}
	return err.Error()
}
