// Package intake watches a drop directory for new recording files and
// submits them into the conversion engine.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Submit is called for each settled new or changed recording file.
type Submit func(ctx context.Context, path string)

// Config configures the intake watcher.
type Config struct {
	// Dir is the drop directory to watch.
	Dir string

	// Extensions lists accepted file extensions (with leading dot). Files
	// with other extensions are ignored.
	Extensions []string

	// DebounceDelay is how long to wait for more changes before submitting.
	DebounceDelay time.Duration

	// Logger for logging events.
	Logger *slog.Logger
}

// Watcher debounces file events and suppresses re-submission of unchanged
// content by hashing.
type Watcher struct {
	config  Config
	watcher *fsnotify.Watcher
	submit  Submit
	logger  *slog.Logger
	exts    map[string]bool

	// Debouncing: collect changes before submitting
	pendingMu sync.Mutex
	pending   map[string]struct{}

	// Content hashes for change suppression
	hashMu sync.Mutex
	hashes map[string]string
}

// NewWatcher creates an intake watcher over the configured directory.
func NewWatcher(config Config, submit Submit) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = 500 * time.Millisecond
	}

	exts := make(map[string]bool, len(config.Extensions))
	for _, ext := range config.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Watcher{
		config:  config,
		watcher: fsw,
		submit:  submit,
		logger:  logger,
		exts:    exts,
		pending: make(map[string]struct{}),
		hashes:  make(map[string]string),
	}, nil
}

// Start begins watching. Events are processed until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.config.Dir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("Intake watcher started",
		"dir", w.config.Dir,
		"debounce", w.config.DebounceDelay)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// processEvents handles fsnotify events with debouncing.
func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Intake watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

// handleFSEvent accumulates create/write events for accepted extensions.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	ext := strings.ToLower(filepath.Ext(event.Name))
	if len(w.exts) > 0 && !w.exts[ext] {
		return
	}

	w.pendingMu.Lock()
	w.pending[event.Name] = struct{}{}
	w.pendingMu.Unlock()

	w.logger.Debug("Intake change detected", "path", event.Name, "op", event.Op.String())
}

// flushPending submits settled files whose content actually changed.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	for path := range batch {
		hash, err := hashFile(path)
		if err != nil {
			w.logger.Warn("Cannot hash intake file", "path", path, "error", err)
			continue
		}

		w.hashMu.Lock()
		unchanged := w.hashes[path] == hash
		w.hashes[path] = hash
		w.hashMu.Unlock()

		if unchanged {
			w.logger.Debug("Skipping unchanged intake file", "path", path)
			continue
		}

		w.logger.Info("Submitting intake file", "path", path)
		w.submit(ctx, path)
	}
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
