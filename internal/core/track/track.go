// Package track defines track identity and the track source contract.
package track

import (
	"context"
	"path/filepath"
)

// Track is a playable item. ID is the on-disk path.
type Track struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// New builds a Track from its identifier.
func New(id string) Track {
	return Track{ID: id, Name: DisplayName(id)}
}

// DisplayName returns the human readable name for a track identifier.
func DisplayName(id string) string {
	if id == "" {
		return ""
	}
	return filepath.Base(id)
}

// Source produces the ordered candidate list for a session. Implementations
// must be safe for concurrent use and cheap to call; the engine calls
// ListTracks on every advance.
type Source interface {
	ListTracks(ctx context.Context, sessionKey string) ([]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, sessionKey string) ([]string, error)

// ListTracks calls f.
func (f SourceFunc) ListTracks(ctx context.Context, sessionKey string) ([]string, error) {
	return f(ctx, sessionKey)
}
