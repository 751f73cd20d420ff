// Package snapshot holds the live provider registry and swaps it on reload.
//
// Readers take a shared lock only long enough to copy what they need out of
// the current snapshot; a reload builds the replacement with no lock held and
// installs it in a single exclusive section. A reader therefore sees either
// the old snapshot or the new one, never a mix.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tjfontaine/model-switch-gateway/internal/core/ports"
	"github.com/tjfontaine/model-switch-gateway/internal/profile"
	"github.com/tjfontaine/model-switch-gateway/internal/route"
)

// ConfigError is a failed reload. The previous snapshot stays in place.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("reload config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Store is the concurrency-safe container for the current registry.
type Store struct {
	source ports.ProfileSource
	logger *slog.Logger

	mu         sync.RWMutex
	current    *profile.Config
	generation uint64

	// reloadMu orders concurrent reloads so a slower load cannot overwrite a
	// newer one that finished first.
	reloadMu sync.Mutex
}

// New loads the initial snapshot from source.
func New(ctx context.Context, source ports.ProfileSource, logger *slog.Logger) (*Store, error) {
	if source == nil {
		return nil, fmt.Errorf("profile source required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := source.Load(ctx)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("initial load: %w", err)
	}

	s := &Store{source: source, logger: logger, current: cfg, generation: 1}
	s.warnIfStale(cfg)
	return s, nil
}

// NewStatic returns a store over a fixed snapshot with no source; Reload on it fails.
func NewStatic(cfg *profile.Config) *Store {
	return &Store{logger: slog.Default(), current: cfg, generation: 1}
}

// Snapshot returns a deep copy of the current registry. Callers may modify
// it freely; the installed snapshot is never handed out.
func (s *Store) Snapshot() *profile.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Generation counts successful installs, starting at 1 for the initial load.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Resolve resolves path against the current snapshot under the read lock.
// The result holds copies only, so it stays valid across later reloads.
func (s *Store) Resolve(path string) (route.Resolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return route.Resolve(path, s.current)
}

// Reload re-reads the source and atomically replaces the snapshot. On failure
// the current snapshot is left exactly as it was.
func (s *Store) Reload(ctx context.Context) error {
	if s.source == nil {
		return &ConfigError{Err: fmt.Errorf("no profile source configured")}
	}

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	next, err := s.source.Load(ctx)
	if err == nil {
		err = next.Validate()
	}
	if err != nil {
		return &ConfigError{Err: err}
	}

	s.mu.Lock()
	s.current = next
	s.generation++
	s.mu.Unlock()

	s.warnIfStale(next)
	return nil
}

func (s *Store) warnIfStale(cfg *profile.Config) {
	if !cfg.Has(cfg.Active) {
		s.logger.Warn("active provider not found in profiles; requests without /p/<provider> will fail",
			slog.String("active", cfg.Active))
	}
}
