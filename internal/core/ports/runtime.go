package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/model-switch-gateway/internal/profile"
)

// ProfileSource loads the provider registry from external storage.
// Implementations: file-based (default).
type ProfileSource interface {
	// Load returns a freshly parsed, fully constructed registry.
	Load(ctx context.Context) (*profile.Config, error)
	// Watch calls onChange whenever the underlying storage changes, until ctx
	// is cancelled. Sources that cannot watch return nil without calling onChange.
	Watch(ctx context.Context, onChange func()) error
	Close() error
}

// RequestJournal records one entry per forwarded request.
// Implementations: SQLite.
type RequestJournal interface {
	Record(ctx context.Context, entry JournalEntry) error
	Close() error
}

// JournalEntry describes a single forwarded request and its outcome.
type JournalEntry struct {
	ID          string
	RequestID   string
	CreatedAt   time.Time
	Provider    string
	Method      string
	Path        string
	UpstreamURL string
	ModelIn     string
	ModelOut    string
	Status      int
	Duration    time.Duration
	Error       string
}
