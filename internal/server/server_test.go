package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/agent"
	"github.com/mohammad-safakhou/researcher/internal/ingest"
	"github.com/mohammad-safakhou/researcher/internal/research"
	"github.com/mohammad-safakhou/researcher/internal/telemetry"
	"github.com/mohammad-safakhou/researcher/provider"
	"github.com/mohammad-safakhou/researcher/session/index"
	"github.com/mohammad-safakhou/researcher/session/inmemory"
	"github.com/mohammad-safakhou/researcher/session/session_models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type scriptedModel struct {
	mu       sync.Mutex
	replies  []provider.ChatResponse
	requests []provider.ChatRequest
}

func (m *scriptedModel) Chat(_ context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.replies) == 0 {
		return provider.ChatResponse{}, errors.New("script exhausted")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

type staticSearcher string

func (s staticSearcher) Search(context.Context, string, int) string { return string(s) }

func newTestServer(t *testing.T, model *scriptedModel, secret string) (*Server, *research.Service) {
	t.Helper()
	hist, err := index.NewHistoryIndex()
	if err != nil {
		t.Fatalf("history index: %v", err)
	}
	t.Cleanup(func() { _ = hist.Close() })
	metrics := telemetry.NewMetrics()
	svc := research.New(model, staticSearcher("(no results)"), inmemory.NewInMemorySessionStore(), hist, research.Options{Metrics: metrics})
	t.Cleanup(svc.Close)
	return New(svc, config.ServerConfig{JWTSecret: secret}, nil, metrics), svc
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedModel{}, "")
	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
	rec = do(t, srv.Handler(), http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "researcher_agent_cache_sessions") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedModel{}, "s3cret")

	rec := do(t, srv.Handler(), http.MethodGet, "/api/sessions", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	bad, err := SignJWT("alice", []byte("other"), time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec = do(t, srv.Handler(), http.MethodGet, "/api/sessions", nil, map[string]string{"Authorization": "Bearer " + bad})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", rec.Code)
	}

	tok, err := SignJWT("alice", []byte("s3cret"), time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec = do(t, srv.Handler(), http.MethodGet, "/api/sessions", nil, map[string]string{"Authorization": "Bearer " + tok})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// health stays public
	if rec := do(t, srv.Handler(), http.MethodGet, "/healthz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz behind auth: %d", rec.Code)
	}
}

func TestSignJWTRequiresSecret(t *testing.T) {
	if _, err := SignJWT("alice", nil, time.Minute); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestAskFlow(t *testing.T) {
	model := &scriptedModel{replies: []provider.ChatResponse{
		{Content: "1. Look it up\n2. Answer"},
		{Content: "It is Paris. https://en.wikipedia.org/wiki/Paris."},
	}}
	srv, _ := newTestServer(t, model, "")
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/sessions", nil, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil || created["id"] == "" {
		t.Fatalf("create body %s: %v", rec.Body.String(), err)
	}
	id := created["id"]

	rec = do(t, h, http.MethodPost, "/api/sessions/"+id+"/ask", []byte(`{"question":"Capital of France?"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ask: %d %s", rec.Code, rec.Body.String())
	}
	var res struct {
		SessionID  string   `json:"session_id"`
		Plan       []string `json:"plan"`
		Answer     string   `json:"answer"`
		Sources    []string `json:"sources"`
		BestEffort bool     `json:"best_effort"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.SessionID != id || len(res.Plan) != 2 || res.BestEffort {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "https://en.wikipedia.org/wiki/Paris" {
		t.Fatalf("unexpected sources %v", res.Sources)
	}

	rec = do(t, h, http.MethodGet, "/api/sessions/"+id, nil, nil)
	var sess SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(sess.ChatHistory) != 2 || sess.ChatHistory[0].Role != agent.RoleUser {
		t.Fatalf("unexpected history %+v", sess.ChatHistory)
	}

	rec = do(t, h, http.MethodGet, "/api/sessions/search?q=Paris", nil, nil)
	var hits []index.Hit
	if err := json.Unmarshal(rec.Body.Bytes(), &hits); err != nil || len(hits) == 0 || hits[0].SessionID != id {
		t.Fatalf("search: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodDelete, "/api/sessions/"+id, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
}

func TestUploadDocuments(t *testing.T) {
	srv, svc := newTestServer(t, &scriptedModel{}, "")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, body := range map[string]string{
		"notes.txt": "alpha beta gamma",
		"data.csv":  "a,b\n1,2\n",
	} {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		fmt.Fprint(fw, body)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	var up UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &up); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(up.Added) != 2 || up.Added[0] != "data.csv" || len(up.Replaced) != 0 {
		t.Fatalf("unexpected upload response %+v", up)
	}

	st, err := svc.Session(context.Background(), "s1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !st.Documents["data.csv"].IsTabular() {
		t.Fatalf("csv not stored as table: %+v", st.Documents["data.csv"])
	}
}

func TestUploadRequiresFiles(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedModel{}, "")
	rec := do(t, srv.Handler(), http.MethodPost, "/api/sessions/s1/documents", []byte(`{}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBadRequests(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedModel{}, "")
	h := srv.Handler()

	if rec := do(t, h, http.MethodPost, "/api/sessions/s1/ask", []byte(`{"question":"  "}`), nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("blank question: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/sessions/bad.id", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/api/sessions/search?q=x&k=0", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad k: %d", rec.Code)
	}
}

func TestAskUpstreamFailureIsBadGateway(t *testing.T) {
	// plan and run both hit an exhausted script
	srv, _ := newTestServer(t, &scriptedModel{}, "")
	rec := do(t, srv.Handler(), http.MethodPost, "/api/sessions/s1/ask", []byte(`{"question":"hi"}`), nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("error body %s", rec.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{session_models.ErrInvalidID, http.StatusBadRequest},
		{&agent.AgentExecutionError{Err: agent.ErrEmptyQuestion}, http.StatusBadRequest},
		{&ingest.ParseError{Name: "a.pdf", Err: errors.New("broken")}, http.StatusUnprocessableEntity},
		{research.ErrHistoryDisabled, http.StatusNotImplemented},
		{fmt.Errorf("run: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{&agent.AgentExecutionError{Err: fmt.Errorf("%w: stream closed", context.Canceled)}, statusClientClosedRequest},
		{&agent.PlanGenerationError{Err: agent.ErrEmptyPlan}, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if code, _ := statusFor(c.err); code != c.code {
			t.Fatalf("%v: expected %d, got %d", c.err, c.code, code)
		}
	}
}

func TestAskCancelledByClientIsNotAServerError(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	svc := research.New(&scriptedModel{}, staticSearcher(""), inmemory.NewInMemorySessionStore(), nil, research.Options{})
	t.Cleanup(svc.Close)
	srv := New(svc, config.ServerConfig{}, zap.New(core), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/ask", strings.NewReader(`{"question":"hi"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != statusClientClosedRequest {
		t.Fatalf("expected %d, got %d: %s", statusClientClosedRequest, rec.Code, rec.Body.String())
	}
	if n := logs.FilterMessage("request failed").Len(); n != 0 {
		t.Fatalf("cancelled request logged as a failure %d time(s)", n)
	}
	if n := logs.FilterMessage("request rejected").Len(); n != 1 {
		t.Fatalf("expected one info-level rejection log, got %d", n)
	}
}
