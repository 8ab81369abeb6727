package library

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher rescans a Library whenever files under its root change. Bursts of
// events are collapsed into one scan after the debounce window.
type Watcher struct {
	log      zerolog.Logger
	lib      *Library
	debounce time.Duration
	onScan   func([]string)
}

// NewWatcher creates a Watcher. onScan, if non-nil, receives the catalogue
// after every successful rescan.
func NewWatcher(log zerolog.Logger, lib *Library, debounce time.Duration, onScan func([]string)) *Watcher {
	return &Watcher{
		log:      log,
		lib:      lib,
		debounce: debounce,
		onScan:   onScan,
	}
}

// Run watches the library until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := ensureDir(w.lib.Dir()); err != nil {
		return fmt.Errorf("watch library: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := w.addTree(fsw, w.lib.Dir()); err != nil {
		return err
	}

	w.log.Debug().Str("dir", w.lib.Dir()).Dur("debounce", w.debounce).Msg("watching library")

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(fsw, event.Name); err != nil {
						w.log.Warn().Err(err).Str("dir", event.Name).Msg("watch new directory")
					}
				}
			}

			w.log.Debug().Str("path", event.Name).Str("op", event.Op.String()).Msg("library changed")
			timer.Reset(w.debounce)
		case <-timer.C:
			tracks, err := w.lib.Scan(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("rescan library")
				continue
			}
			if w.onScan != nil {
				w.onScan(tracks)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}

// relevant filters out events that cannot change the catalogue.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if event.Op&fsnotify.Create != 0 {
		return true
	}
	// Removed directories have no extension; let them through so the scan
	// drops their tracks.
	return filepath.Ext(event.Name) == "" || w.lib.Supported(event.Name)
}

// addTree registers dir and every directory below it.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.lib.Dir() && w.lib.excluded(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
