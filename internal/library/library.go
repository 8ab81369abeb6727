// Package library scans a music directory into an ordered track catalogue and
// serves it to playback sessions.
package library

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
)

// Options configures a Library.
type Options struct {
	Dir        string
	Extensions []string
	Exclude    []string // doublestar globs matched against slash-separated paths relative to Dir
}

// Library holds the scanned catalogue. It is safe for concurrent use.
type Library struct {
	log  zerolog.Logger
	opts Options
	exts map[string]struct{}

	mu     sync.RWMutex
	tracks []string
}

// New creates a Library. Nothing is read from disk until Scan is called.
func New(log zerolog.Logger, opts Options) *Library {
	exts := make(map[string]struct{}, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		exts[strings.ToLower(ext)] = struct{}{}
	}

	return &Library{
		log:  log,
		opts: opts,
		exts: exts,
	}
}

// Dir returns the library root.
func (l *Library) Dir() string {
	return l.opts.Dir
}

// Scan walks the library directory and replaces the catalogue with every
// supported file, sorted by path.
func (l *Library) Scan(ctx context.Context) ([]string, error) {
	var found []string

	err := filepath.WalkDir(l.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if path != l.opts.Dir && l.excluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		if l.Supported(path) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", l.opts.Dir, err)
	}

	slices.Sort(found)

	l.mu.Lock()
	l.tracks = found
	l.mu.Unlock()

	l.log.Info().Str("dir", l.opts.Dir).Int("tracks", len(found)).Msg("library scanned")

	return slices.Clone(found), nil
}

// Tracks returns a copy of the current catalogue.
func (l *Library) Tracks() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.tracks)
}

// Supported reports whether path has one of the configured extensions.
func (l *Library) Supported(path string) bool {
	_, ok := l.exts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// excluded reports whether path matches an exclude pattern.
func (l *Library) excluded(path string) bool {
	if len(l.opts.Exclude) == 0 {
		return false
	}

	rel, err := filepath.Rel(l.opts.Dir, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)

	for _, pattern := range l.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// Source serves the shared catalogue to every session.
type Source struct {
	lib *Library
}

// NewSource adapts a Library to track.Source.
func NewSource(lib *Library) *Source {
	return &Source{lib: lib}
}

// ListTracks returns the catalogue. The session key is accepted for the
// track.Source contract; every session sees the same library.
func (s *Source) ListTracks(_ context.Context, _ string) ([]string, error) {
	return s.lib.Tracks(), nil
}

// ensureDir reports a readable library root.
func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
