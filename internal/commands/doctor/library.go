package doctor

import (
	"context"
	"fmt"
)

// Scanner is the part of library.Library the check needs.
type Scanner interface {
	Dir() string
	Scan(ctx context.Context) ([]string, error)
}

// LibraryCheck verifies the music directory is readable and holds playable
// files.
type LibraryCheck struct {
	lib Scanner
}

// NewLibraryCheck creates a new library check.
func NewLibraryCheck(lib Scanner) *LibraryCheck {
	return &LibraryCheck{lib: lib}
}

func (c *LibraryCheck) Name() string {
	return "Library"
}

func (c *LibraryCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	tracks, err := c.lib.Scan(ctx)
	switch {
	case err != nil:
		result.Items = append(result.Items, CheckItem{
			Label:  c.lib.Dir(),
			Status: StatusFail,
			Detail: err.Error(),
		})
	case len(tracks) == 0:
		result.Items = append(result.Items, CheckItem{
			Label:  c.lib.Dir(),
			Status: StatusWarn,
			Detail: "no supported audio files",
		})
	default:
		result.Items = append(result.Items, CheckItem{
			Label:  c.lib.Dir(),
			Status: StatusPass,
			Detail: fmt.Sprintf("%d track(s)", len(tracks)),
		})
	}

	return result
}
