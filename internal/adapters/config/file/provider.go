// Package file provides the file-based profile source with change watching.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/tjfontaine/model-switch-gateway/internal/core/ports"
	"github.com/tjfontaine/model-switch-gateway/internal/profile"
)

// Provider implements ports.ProfileSource on top of the profile JSON file.
type Provider struct {
	path    string
	logger  *slog.Logger
	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

var _ ports.ProfileSource = (*Provider)(nil)

// NewProvider creates a profile source reading path.
func NewProvider(path string, logger *slog.Logger) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("profile path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{path: path, logger: logger}, nil
}

// Path returns the file this source reads.
func (p *Provider) Path() string {
	return p.path
}

// Load reads and parses the profile file. A missing file yields the default registry.
func (p *Provider) Load(ctx context.Context) (*profile.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, err := profile.Load(p.path)
	if err != nil {
		return nil, fmt.Errorf("load profiles from %s: %w", p.path, err)
	}
	return cfg, nil
}

// Watch observes the profile file's directory, so saves that replace the file
// by rename are seen as well as in-place writes.
func (p *Provider) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	p.logger.Info("watching profile file for changes", slog.String("path", p.path))

	target := filepath.Clean(p.path)
	go func() {
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("profile watch stopped")
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				p.logger.Debug("profile file changed",
					slog.String("path", event.Name),
					slog.String("op", event.Op.String()))
				onChange()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Error("profile watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops watching.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher != nil {
		err := p.watcher.Close()
		p.watcher = nil
		return err
	}
	return nil
}
