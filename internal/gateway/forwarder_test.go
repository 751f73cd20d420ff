package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/model-switch-gateway/internal/core/ports"
	"github.com/tjfontaine/model-switch-gateway/internal/profile"
	"github.com/tjfontaine/model-switch-gateway/internal/snapshot"
	"github.com/tjfontaine/model-switch-gateway/internal/testutil"
)

type capturedRequest struct {
	Method      string
	Path        string
	EscapedPath string
	Query       string
	Header      http.Header
	Body        []byte
}

// newUpstream starts a server that records what it received and answers with handler.
func newUpstream(t *testing.T, handler http.HandlerFunc) (*httptest.Server, func() capturedRequest) {
	t.Helper()
	var (
		mu  sync.Mutex
		got capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = capturedRequest{
			Method:      r.Method,
			Path:        r.URL.Path,
			EscapedPath: r.URL.EscapedPath(),
			Query:       r.URL.RawQuery,
			Header:      r.Header.Clone(),
			Body:        body,
		}
		mu.Unlock()
		if handler != nil {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(srv.Close)
	return srv, func() capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newForwarder(cfg *profile.Config, opts ...Option) *Forwarder {
	opts = append([]Option{WithLogger(quietLogger()), WithHTTPClient(http.DefaultClient)}, opts...)
	return New(snapshot.NewStatic(cfg), opts...)
}

func decodeProxyError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, rec.Body.String())
	}
	if env.Error.Type != "proxy_error" {
		t.Errorf("error.type = %q, want proxy_error", env.Error.Type)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	return env.Error.Message
}

func TestForwarder_GLMScenario(t *testing.T) {
	upstream, received := newUpstream(t, nil)

	base := upstream.URL + "/api/paas/v4"
	cfg := &profile.Config{
		Active: "claude",
		Providers: map[string]profile.Provider{
			"claude": {BaseURL: "https://api.anthropic.com"},
			"glm": {
				BaseURL: base,
				APIKey:  "sk-glm-secret",
				Models:  &profile.ModelMapping{Haiku: "glm-x", Sonnet: "glm-y", Opus: "glm-y"},
			},
		},
	}
	fw := newForwarder(cfg)

	body := `{"model":"claude-sonnet-4-20250514","max_tokens":1024,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest("POST", "/p/glm/v1/messages", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer caller-token")
	req.Header.Set("X-Api-Key", "caller-key")
	req.Header.Set("Anthropic-Version", "2023-06-01")
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	fw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get(DiagnosticHeader); got != "glm" {
		t.Errorf("%s = %q, want glm", DiagnosticHeader, got)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Errorf("response body = %s", rec.Body.String())
	}

	got := received()
	if got.Path != "/api/paas/v4/v1/messages" {
		t.Errorf("upstream path = %q", got.Path)
	}
	if !strings.Contains(string(got.Body), `"model":"glm-y"`) {
		t.Errorf("upstream body = %s", got.Body)
	}
	if !strings.Contains(string(got.Body), `"max_tokens":1024`) {
		t.Errorf("other fields lost: %s", got.Body)
	}
	if got.Header.Get("X-Api-Key") != "sk-glm-secret" {
		t.Errorf("x-api-key = %q", got.Header.Get("X-Api-Key"))
	}
	if got.Header.Get("Authorization") != "Bearer sk-glm-secret" {
		t.Errorf("authorization = %q", got.Header.Get("Authorization"))
	}
	if got.Header.Get("Anthropic-Version") != "2023-06-01" {
		t.Error("ordinary header not forwarded")
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content-type = %q", got.Header.Get("Content-Type"))
	}
}

func TestForwarder_EscapedPathAndQuery(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		wantPath string
		wantRaw  string
		wantQ    string
	}{
		{
			name:     "escaped query and fragment characters",
			target:   "/v1/files/a%3Fb%23c?x=1",
			wantPath: "/v1/files/a?b#c",
			wantRaw:  "/v1/files/a%3Fb%23c",
			wantQ:    "x=1",
		},
		{
			name:     "escaped percent and space on override",
			target:   "/p/up/v1/files/50%25%20off?beta=true&x=a%2Bb",
			wantPath: "/v1/files/50% off",
			wantRaw:  "/v1/files/50%25%20off",
			wantQ:    "beta=true&x=a%2Bb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream, received := newUpstream(t, nil)
			cfg := &profile.Config{
				Active:    "up",
				Providers: map[string]profile.Provider{"up": {BaseURL: upstream.URL}},
			}
			fw := newForwarder(cfg)

			rec := httptest.NewRecorder()
			fw.ServeHTTP(rec, httptest.NewRequest("GET", tt.target, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}

			got := received()
			if got.Path != tt.wantPath {
				t.Errorf("upstream path = %q, want %q", got.Path, tt.wantPath)
			}
			if got.EscapedPath != tt.wantRaw {
				t.Errorf("upstream escaped path = %q, want %q", got.EscapedPath, tt.wantRaw)
			}
			if got.Query != tt.wantQ {
				t.Errorf("upstream query = %q, want %q", got.Query, tt.wantQ)
			}
		})
	}
}

func TestForwarder_PassthroughKeepsCallerAuth(t *testing.T) {
	upstream, received := newUpstream(t, nil)
	cfg := &profile.Config{
		Active:    "claude",
		Providers: map[string]profile.Provider{"claude": {BaseURL: upstream.URL}},
	}
	fw := newForwarder(cfg)

	req := httptest.NewRequest("POST", "/v1/messages?beta=true&x=1", strings.NewReader(`{"model":"claude-opus-4"}`))
	req.Header.Set("Authorization", "Bearer caller-token")
	req.Header.Set("X-Api-Key", "caller-key")
	rec := httptest.NewRecorder()
	fw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := received()
	if got.Header.Get("Authorization") != "Bearer caller-token" || got.Header.Get("X-Api-Key") != "caller-key" {
		t.Errorf("caller credentials not passed through: %v", got.Header)
	}
	if got.Query != "beta=true&x=1" {
		t.Errorf("query = %q", got.Query)
	}
	if string(got.Body) != `{"model":"claude-opus-4"}` {
		t.Errorf("body changed without mapping: %s", got.Body)
	}
	if rec.Header().Get(DiagnosticHeader) != "claude" {
		t.Errorf("diagnostic header = %q", rec.Header().Get(DiagnosticHeader))
	}
}

func TestForwarder_AuthTokenWins(t *testing.T) {
	upstream, received := newUpstream(t, nil)
	cfg := &profile.Config{
		Active: "x",
		Providers: map[string]profile.Provider{
			"x": {BaseURL: upstream.URL, APIKey: "key-1", AuthToken: "tok-2"},
		},
	}
	newForwarder(cfg).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/models", nil))

	got := received()
	if auth := got.Header.Values("Authorization"); len(auth) != 1 || auth[0] != "Bearer tok-2" {
		t.Errorf("Authorization = %v, want [Bearer tok-2]", auth)
	}
	if got.Header.Get("X-Api-Key") != "key-1" {
		t.Errorf("x-api-key = %q", got.Header.Get("X-Api-Key"))
	}
	if got.Header.Get("Content-Type") != "" {
		t.Errorf("content-type set on empty body: %q", got.Header.Get("Content-Type"))
	}
}

func TestForwarder_NonJSONBodyUnchanged(t *testing.T) {
	upstream, received := newUpstream(t, nil)
	cfg := &profile.Config{
		Active: "glm",
		Providers: map[string]profile.Provider{
			"glm": {BaseURL: upstream.URL, Models: &profile.ModelMapping{Haiku: "a", Sonnet: "b", Opus: "c"}},
		},
	}
	body := `model=claude-sonnet not json`
	newForwarder(cfg).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/upload", strings.NewReader(body)))

	got := received()
	if string(got.Body) != body {
		t.Errorf("body = %q, want original bytes", got.Body)
	}
	if got.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content-type = %q", got.Header.Get("Content-Type"))
	}
}

func TestForwarder_UpstreamStatusAndHeadersVerbatim(t *testing.T) {
	upstream, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error"}}`)
	})
	cfg := &profile.Config{Active: "u", Providers: map[string]profile.Provider{"u": {BaseURL: upstream.URL}}}

	rec := httptest.NewRecorder()
	newForwarder(cfg).ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", strings.NewReader(`{}`)))

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "7" {
		t.Error("upstream header dropped")
	}
	if !strings.Contains(rec.Body.String(), "rate_limit_error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestForwarder_EventStream(t *testing.T) {
	upstream, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		for _, ev := range []string{"message_start", "content_block_delta", "message_stop"} {
			io.WriteString(w, "event: "+ev+"\ndata: {}\n\n")
			flusher.Flush()
		}
	})
	cfg := &profile.Config{Active: "u", Providers: map[string]profile.Provider{"u": {BaseURL: upstream.URL}}}

	rec := httptest.NewRecorder()
	newForwarder(cfg).ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", strings.NewReader(`{"stream":true}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !rec.Flushed {
		t.Error("event stream was not flushed")
	}
	if strings.Count(rec.Body.String(), "event: ") != 3 {
		t.Errorf("body = %q", rec.Body.String())
	}
	if rec.Header().Get(DiagnosticHeader) != "u" {
		t.Error("diagnostic header missing on stream")
	}
}

func TestForwarder_Errors(t *testing.T) {
	// A listener that is closed immediately gives a refused connection.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	cfg := &profile.Config{
		Active: "gone",
		Providers: map[string]profile.Provider{
			"down": {BaseURL: deadURL + "/v1"},
		},
	}

	tests := []struct {
		name     string
		path     string
		body     string
		opts     []Option
		wantMsgs []string
	}{
		{"unknown provider", "/p/missing/v1/messages", "", nil, []string{"missing"}},
		{"missing segment", "/p//v1/messages", "", nil, []string{"provider"}},
		{"stale active", "/v1/messages", "", nil, []string{"gone"}},
		{"unreachable", "/p/down/v1/messages", `{"model":"x"}`, nil, []string{"failed to reach upstream", deadURL + "/v1/messages"}},
		{"body too large", "/p/down/v1/messages", strings.Repeat("a", 64), []Option{WithMaxBodyBytes(16)}, []string{"failed to read request body"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newForwarder(cfg, tt.opts...).ServeHTTP(rec, httptest.NewRequest("POST", tt.path, strings.NewReader(tt.body)))
			msg := decodeProxyError(t, rec)
			for _, want := range tt.wantMsgs {
				if !strings.Contains(msg, want) {
					t.Errorf("message %q does not contain %q", msg, want)
				}
			}
			if rec.Header().Get(DiagnosticHeader) != "" {
				t.Error("diagnostic header set on proxy error")
			}
		})
	}
}

type recordingJournal struct {
	entries chan ports.JournalEntry
	err     error
}

func (j *recordingJournal) Record(_ context.Context, e ports.JournalEntry) error {
	j.entries <- e
	return j.err
}

func (j *recordingJournal) Close() error { return nil }

func TestForwarder_Journal(t *testing.T) {
	upstream, _ := newUpstream(t, nil)
	cfg := &profile.Config{
		Active: "glm",
		Providers: map[string]profile.Provider{
			"glm": {BaseURL: upstream.URL, APIKey: "k", Models: &profile.ModelMapping{Haiku: "glm-x", Sonnet: "glm-y", Opus: "glm-y"}},
		},
	}
	j := &recordingJournal{entries: make(chan ports.JournalEntry, 2), err: errors.New("disk full")}
	fw := newForwarder(cfg, WithJournal(j))

	rec := httptest.NewRecorder()
	fw.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", strings.NewReader(`{"model":"claude-3-5-haiku"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("journal failure leaked to client: %d", rec.Code)
	}

	select {
	case e := <-j.entries:
		if e.Provider != "glm" || e.ModelIn != "claude-3-5-haiku" || e.ModelOut != "glm-x" {
			t.Errorf("entry = %+v", e)
		}
		if e.Status != http.StatusOK || e.ID == "" || e.Path != "/v1/messages" || e.Method != "POST" {
			t.Errorf("entry = %+v", e)
		}
		if e.Error != "" {
			t.Errorf("unexpected error in entry: %q", e.Error)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no journal entry recorded")
	}
}

// gatedJournal blocks Record until release is closed.
type gatedJournal struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	done    int
}

func (j *gatedJournal) Record(_ context.Context, _ ports.JournalEntry) error {
	close(j.started)
	<-j.release
	j.mu.Lock()
	j.done++
	j.mu.Unlock()
	return nil
}

func (j *gatedJournal) Close() error { return nil }

func (j *gatedJournal) recorded() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.done
}

func TestForwarder_DrainWaitsForJournal(t *testing.T) {
	upstream, _ := newUpstream(t, nil)
	cfg := &profile.Config{
		Active:    "up",
		Providers: map[string]profile.Provider{"up": {BaseURL: upstream.URL}},
	}
	j := &gatedJournal{started: make(chan struct{}), release: make(chan struct{})}
	fw := newForwarder(cfg, WithJournal(j))

	rec := httptest.NewRecorder()
	fw.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/messages", strings.NewReader(`{}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	select {
	case <-j.started:
	case <-time.After(5 * time.Second):
		t.Fatal("journal write never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := fw.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Drain with write in flight = %v, want deadline exceeded", err)
	}

	close(j.release)
	if err := fw.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := j.recorded(); got != 1 {
		t.Errorf("recorded = %d after Drain, want 1", got)
	}
}

func TestForwarder_DrainWithoutJournal(t *testing.T) {
	fw := newForwarder(&profile.Config{Active: "up", Providers: map[string]profile.Provider{"up": {BaseURL: "http://127.0.0.1:1"}}})
	if err := fw.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
}

func TestForwarder_ReplayCassette(t *testing.T) {
	r := testutil.NewVCRRecorder(t, "glm_messages")

	cfg := &profile.Config{
		Active: "glm",
		Providers: map[string]profile.Provider{
			"glm": {
				BaseURL: "https://open.bigmodel.example/api/paas/v4",
				APIKey:  "sk-live-not-in-cassette",
				Models:  &profile.ModelMapping{Haiku: "glm-x", Sonnet: "glm-y", Opus: "glm-y"},
			},
		},
	}
	fw := New(snapshot.NewStatic(cfg), WithLogger(quietLogger()), WithHTTPClient(testutil.VCRHTTPClient(r)))

	req := httptest.NewRequest("POST", "/v1/messages",
		strings.NewReader(`{"model":"claude-sonnet-4-20250514","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`))
	req.Header.Set("Anthropic-Version", "2023-06-01")
	rec := httptest.NewRecorder()
	fw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Upstream-Trace") != "glm-trace-1" {
		t.Error("upstream header not relayed")
	}
	if rec.Header().Get(DiagnosticHeader) != "glm" {
		t.Error("diagnostic header missing")
	}
	var msg struct {
		Model   string `json:"model"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Model != "glm-y" || len(msg.Content) != 1 || msg.Content[0].Text != "Hello!" {
		t.Errorf("response = %+v", msg)
	}
}
