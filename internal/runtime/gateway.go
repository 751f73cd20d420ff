// Package runtime provides the Gateway: the long-running proxy process with
// its listener, reload loop and lifecycle management.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"github.com/tjfontaine/model-switch-gateway/internal/adapters/config/file"
	"github.com/tjfontaine/model-switch-gateway/internal/core/ports"
	"github.com/tjfontaine/model-switch-gateway/internal/gateway"
	"github.com/tjfontaine/model-switch-gateway/internal/journal"
	"github.com/tjfontaine/model-switch-gateway/internal/pkg/config"
	"github.com/tjfontaine/model-switch-gateway/internal/profile"
	"github.com/tjfontaine/model-switch-gateway/internal/server"
	"github.com/tjfontaine/model-switch-gateway/internal/snapshot"
)

// Gateway owns the proxy listener and the live profile snapshot.
type Gateway struct {
	// Dependencies (injected via options)
	source      ports.ProfileSource
	profilePath string
	settings    *config.Config
	journal     ports.RequestJournal
	client      *http.Client
	logger      *slog.Logger

	// Internal state
	store     *snapshot.Store
	forwarder *gateway.Forwarder
	server    *server.Server
	listener  net.Listener

	// Lifecycle management
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	started  bool
	done     chan struct{}
	serveErr error
}

// New creates a Gateway. Without options it serves the default profile file
// on 127.0.0.1:4000.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
		settings: &config.Config{
			Server:   config.ServerConfig{Host: config.DefaultHost, Port: config.DefaultPort},
			Upstream: config.UpstreamConfig{MaxBodyBytes: config.DefaultMaxBodyBytes},
		},
		done: make(chan struct{}),
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if gw.logger == nil {
		gw.logger = slog.Default()
	}

	if gw.source == nil {
		path := gw.profilePath
		if path == "" {
			path = gw.settings.Profiles.Path
		}
		if path == "" {
			p, err := profile.DefaultPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		source, err := file.NewProvider(path, gw.logger)
		if err != nil {
			return nil, fmt.Errorf("create profile source: %w", err)
		}
		gw.source = source
	}

	if gw.journal == nil && gw.settings.Journal.Path != "" {
		j, err := journal.Open(gw.settings.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		gw.journal = j
	}

	return gw, nil
}

// Start loads the profiles, binds the listener, installs the reload signal
// handler and begins serving. Any failure aborts startup and leaves nothing
// running.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return errors.New("gateway already started")
	}

	g.ctx, g.cancel = context.WithCancel(ctx)

	store, err := snapshot.New(g.ctx, g.source, g.logger)
	if err != nil {
		g.abortStart(nil)
		return fmt.Errorf("load profiles: %w", err)
	}

	fwdOpts := []gateway.Option{
		gateway.WithLogger(g.logger),
		gateway.WithMaxBodyBytes(g.settings.Upstream.MaxBodyBytes),
		gateway.WithHTTPClient(g.client),
	}
	if g.journal != nil {
		fwdOpts = append(fwdOpts, gateway.WithJournal(g.journal))
	}
	forwarder := gateway.New(store, fwdOpts...)

	srv := server.New(forwarder, server.Options{
		Host:    g.settings.Server.Host,
		Port:    g.settings.Server.Port,
		Timeout: g.settings.Upstream.Timeout,
		Logger:  g.logger,
	})

	ln, err := srv.Listen()
	if err != nil {
		g.abortStart(nil)
		return fmt.Errorf("start server: %w", err)
	}

	if err := g.handleReloadSignals(); err != nil {
		g.abortStart(ln)
		return fmt.Errorf("install reload signal handler: %w", err)
	}

	if g.settings.Profiles.Watch {
		if err := g.source.Watch(g.ctx, g.onProfileChange); err != nil {
			g.abortStart(ln)
			return fmt.Errorf("watch profiles: %w", err)
		}
	}

	g.store = store
	g.forwarder = forwarder
	g.server = srv
	g.listener = ln

	go func() {
		defer close(g.done)
		if err := g.server.Serve(ln); err != nil {
			g.logger.Error("server stopped", slog.String("error", err.Error()))
			g.serveErr = err
		}
	}()

	g.started = true

	cfg := store.Snapshot()
	g.logger.Info("gateway started",
		slog.String("addr", ln.Addr().String()),
		slog.String("active", cfg.Active),
		slog.Int("providers", len(cfg.Providers)))

	return nil
}

// Reload re-reads the profile source and swaps the live snapshot. It is the
// single entry point for the signal handler, the file watcher and callers.
func (g *Gateway) Reload(ctx context.Context) error {
	g.mu.Lock()
	store := g.store
	g.mu.Unlock()

	if store == nil {
		return errors.New("gateway not started")
	}

	if err := store.Reload(ctx); err != nil {
		g.logger.Error("reload failed", slog.String("error", err.Error()))
		return err
	}

	cfg := store.Snapshot()
	g.logger.Info("reload complete",
		slog.String("active", cfg.Active),
		slog.Int("providers", len(cfg.Providers)),
		slog.Uint64("generation", store.Generation()))
	return nil
}

// Snapshot returns a copy of the live profile registry, or nil before Start.
func (g *Gateway) Snapshot() *profile.Config {
	g.mu.Lock()
	store := g.store
	g.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Snapshot()
}

// Addr returns the bound listener address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Wait blocks until the server stops and returns its error, if any.
func (g *Gateway) Wait() error {
	<-g.done
	return g.serveErr
}

// Shutdown gracefully stops the gateway.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	if g.server != nil && g.started {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			return err
		}
		<-g.done
	}

	if g.forwarder != nil {
		if err := g.forwarder.Drain(ctx); err != nil {
			g.logger.Warn("journal writes still pending at shutdown", slog.String("error", err.Error()))
		}
	}
	g.closeJournal()

	if g.source != nil {
		if err := g.source.Close(); err != nil {
			g.logger.Error("failed to close profile source", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("gateway shutdown complete")
	return nil
}

// abortStart releases what a failed Start acquired. ln is nil when the
// listener was never bound.
func (g *Gateway) abortStart(ln net.Listener) {
	if ln != nil {
		ln.Close()
	}
	g.cancel()
	g.closeJournal()
}

func (g *Gateway) closeJournal() {
	if g.journal == nil {
		return
	}
	if err := g.journal.Close(); err != nil {
		g.logger.Error("failed to close journal", slog.String("error", err.Error()))
	}
	g.journal = nil
}

func (g *Gateway) onProfileChange() {
	g.logger.Info("profile file changed, reloading")
	_ = g.Reload(g.ctx)
}

// handleReloadSignals runs the reload signal loop as its own goroutine until
// the gateway context ends.
func (g *Gateway) handleReloadSignals() error {
	if len(reloadSignals) == 0 {
		g.logger.Debug("reload signal not supported on this platform")
		return nil
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, reloadSignals...)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-g.ctx.Done():
				return
			case sig := <-ch:
				g.logger.Info("received signal, reloading profiles", slog.String("signal", sig.String()))
				_ = g.Reload(g.ctx)
			}
		}
	}()
	return nil
}
