// Package gateway implements the forwarding pipeline: resolve the route,
// rewrite the model, call the upstream provider and relay its response.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/model-switch-gateway/internal/core/ports"
	"github.com/tjfontaine/model-switch-gateway/internal/rewrite"
	"github.com/tjfontaine/model-switch-gateway/internal/route"
	"github.com/tjfontaine/model-switch-gateway/internal/server"
)

// DefaultMaxBodyBytes bounds the buffered inbound body.
const DefaultMaxBodyBytes int64 = 50 << 20

const journalTimeout = 5 * time.Second

// Resolver maps a request path to a provider. snapshot.Store implements it.
type Resolver interface {
	Resolve(path string) (route.Resolution, error)
}

// Forwarder is the http.Handler that proxies every request upstream.
type Forwarder struct {
	resolver     Resolver
	client       *http.Client
	logger       *slog.Logger
	journal      ports.RequestJournal
	maxBodyBytes int64

	// pending counts journal writes still in flight.
	pending sync.WaitGroup
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithHTTPClient replaces the outbound client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) {
		if c != nil {
			f.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithJournal records one entry per forwarded request.
func WithJournal(j ports.RequestJournal) Option {
	return func(f *Forwarder) { f.journal = j }
}

// WithMaxBodyBytes bounds the inbound body; zero or less keeps the default.
func WithMaxBodyBytes(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxBodyBytes = n
		}
	}
}

// New creates a Forwarder resolving routes through resolver.
func New(resolver Resolver, opts ...Option) *Forwarder {
	f := &Forwarder{
		resolver:     resolver,
		logger:       slog.Default(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return f
}

// ServeHTTP forwards r. Every failure becomes a 502 envelope.
func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ex := &exchange{
		requestID: server.GetRequestID(ctx),
		method:    r.Method,
		path:      r.URL.Path,
	}

	err := f.forward(w, r, ex)
	if err != nil {
		server.AddError(ctx, err)
		f.logger.Error("forward failed",
			slog.String("request_id", ex.requestID),
			slog.String("provider", ex.provider),
			slog.String("upstream_url", ex.upstreamURL),
			slog.String("error", err.Error()))
		if !ex.wroteHeader {
			WriteError(w, err)
			ex.status = http.StatusBadGateway
		}
	}

	ex.duration = time.Since(start)
	if err == nil {
		f.logger.Info("forwarded",
			slog.String("request_id", ex.requestID),
			slog.String("provider", ex.provider),
			slog.String("upstream_url", ex.upstreamURL),
			slog.String("model_in", ex.modelIn),
			slog.String("model_out", ex.modelOut),
			slog.Int("status", ex.status),
			slog.Duration("duration", ex.duration))
	}
	f.record(ctx, ex, err)
}

// exchange collects what is known about one request as it moves through the pipeline.
type exchange struct {
	requestID   string
	method      string
	path        string
	provider    string
	upstreamURL string
	modelIn     string
	modelOut    string
	status      int
	duration    time.Duration
	wroteHeader bool
}

func (f *Forwarder) forward(w http.ResponseWriter, r *http.Request, ex *exchange) error {
	ctx := r.Context()

	// The resolution holds copies; no lock is held past this call. Routing
	// works on the escaped path so escaped '?', '#' and '%' reach the upstream
	// as sent.
	res, err := f.resolver.Resolve(r.URL.EscapedPath())
	if err != nil {
		return &ProxyError{Kind: KindRoute, Err: err}
	}
	ex.provider = res.ProviderName
	server.AddLogField(ctx, "provider", res.ProviderName)

	body, err := f.readBody(w, r)
	if err != nil {
		return &ProxyError{Kind: KindBodyRead, Message: "failed to read request body", Err: err}
	}

	rw, err := rewrite.Body(body, res.Provider)
	if err != nil {
		return &ProxyError{Kind: KindSerialization, Message: "failed to rewrite request body", Err: err}
	}
	ex.modelIn, ex.modelOut = rw.FromModel, rw.ToModel
	if rw.Rewritten {
		server.AddLogField(ctx, "model", rw.FromModel+" -> "+rw.ToModel)
	}

	target := UpstreamURL(res.Provider.BaseURL, res.UpstreamPath, r.URL.RawQuery)
	ex.upstreamURL = target

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("model_switch.provider", res.ProviderName),
		attribute.String("model_switch.model_in", rw.FromModel),
		attribute.String("model_switch.model_out", rw.ToModel),
	)

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(rw.Body))
	if err != nil {
		return &ProxyError{Kind: KindUpstreamUnreachable, Message: fmt.Sprintf("failed to reach upstream: %s", target), Err: err}
	}
	outReq.Header = FilterRequestHeaders(r.Header, res.Provider.HasCredentials())
	InjectCredentials(outReq.Header, res.Provider)
	if len(rw.Body) > 0 {
		outReq.Header.Set("Content-Type", "application/json")
	}

	if res.Provider.HasCredentials() {
		f.logger.Debug("injecting provider credentials",
			slog.String("provider", res.ProviderName),
			slog.String("api_key", MaskKey(res.Provider.APIKey)),
			slog.String("auth_token", MaskKey(res.Provider.AuthToken)))
	}

	resp, err := f.client.Do(outReq)
	if err != nil {
		return &ProxyError{Kind: KindUpstreamUnreachable, Message: fmt.Sprintf("failed to reach upstream: %s", target), Err: err}
	}
	defer resp.Body.Close()

	ex.status = resp.StatusCode
	if isEventStream(resp.Header) {
		return f.stream(w, resp, ex)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProxyError{Kind: KindUpstreamRead, Message: "failed to read upstream response", Err: err}
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set(DiagnosticHeader, res.ProviderName)
	w.WriteHeader(resp.StatusCode)
	ex.wroteHeader = true
	if _, err := w.Write(respBody); err != nil {
		f.logger.Debug("client went away", slog.String("request_id", ex.requestID), slog.String("error", err.Error()))
	}
	return nil
}

// stream relays an event-stream response as it arrives. Once headers are
// sent a failure can only be logged.
func (f *Forwarder) stream(w http.ResponseWriter, resp *http.Response, ex *exchange) error {
	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set(DiagnosticHeader, ex.provider)
	w.WriteHeader(resp.StatusCode)
	ex.wroteHeader = true

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32<<10)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &ProxyError{Kind: KindUpstreamRead, Message: "failed to read upstream response", Err: err}
		}
	}
}

func (f *Forwarder) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(http.MaxBytesReader(w, r.Body, f.maxBodyBytes))
}

func (f *Forwarder) record(ctx context.Context, ex *exchange, err error) {
	if f.journal == nil {
		return
	}
	entry := ports.JournalEntry{
		ID:          uuid.NewString(),
		RequestID:   ex.requestID,
		CreatedAt:   time.Now().UTC(),
		Provider:    ex.provider,
		Method:      ex.method,
		Path:        ex.path,
		UpstreamURL: ex.upstreamURL,
		ModelIn:     ex.modelIn,
		ModelOut:    ex.modelOut,
		Status:      ex.status,
		Duration:    ex.duration,
	}
	if err != nil {
		entry.Error = err.Error()
	}

	f.pending.Add(1)
	go func() {
		defer f.pending.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
		defer cancel()
		if err := f.journal.Record(rctx, entry); err != nil {
			f.logger.Warn("journal record failed",
				slog.String("request_id", entry.RequestID),
				slog.String("error", err.Error()))
		}
	}()
}

func isEventStream(h http.Header) bool {
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err == nil && mt == "text/event-stream"
}

// Drain blocks until every journal write started by the forwarder has
// finished, or ctx is done. Call it before closing the journal.
func (f *Forwarder) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
