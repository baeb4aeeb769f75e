package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/blocklist"
	"grimm.is/warden/internal/controller"
	"grimm.is/warden/internal/events"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/health"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/policy"
	"grimm.is/warden/internal/ratelimit"
)

type staticSource struct{}

func (staticSource) CustomRuleRecords() ([]string, error) {
	return []string{"com.example.mail|10.0.0.0/8|443"}, nil
}
func (staticSource) UserBlacklist() ([]string, error)   { return []string{"bad.example.org"}, nil }
func (staticSource) UserWhitelist() ([]string, error)   { return nil, nil }
func (staticSource) RestrictedApps() ([]string, error)  { return nil, nil }
func (staticSource) WhitelistedApps() ([]string, error) { return nil, nil }
func (staticSource) UserApps() ([]string, error)        { return nil, nil }
func (staticSource) DNS() (string, string, error)       { return "", "", nil }

type testEnv struct {
	backend *firewall.MemoryBackend
	hub     *events.Hub
	metrics *metrics.Registry
	server  *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		backend: firewall.NewMemoryBackend(),
		hub:     events.NewHub(),
		metrics: metrics.NewRegistry(),
	}
	ctrl := controller.New(controller.Options{
		Applier:  env.backend,
		Source:   staticSource{},
		Compiler: policy.NewCompiler(0, policy.Capabilities{PerAppDNS: true}),
		Providers: []blocklist.Provider{
			blocklist.NewStaticProvider("ads", true, []string{"ads.example.com"}),
		},
		Logger:   logging.Discard(),
		Notifier: env.hub,
		Metrics:  env.metrics,
	})
	env.server = NewServer(ServerOptions{
		Controller: ctrl,
		Hub:        env.hub,
		Metrics:    env.metrics,
		Logger:     logging.Discard(),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestEnableDisable(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/enable")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[controller.Status](t, rec)
	assert.True(t, st.Enabled)
	assert.True(t, st.Reporting)
	assert.Equal(t, 1, st.FirewallRules)
	assert.Equal(t, 1, st.DomainRules)
	require.NotNil(t, st.LastPass)
	assert.Equal(t, controller.KindEnable, st.LastPass.Kind)

	rec = env.do(t, http.MethodPost, "/api/disable")
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[controller.Status](t, rec)
	assert.False(t, st.Enabled)
	assert.Zero(t, st.FirewallRules)
	assert.Zero(t, st.DomainRules)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	st := decode[controller.Status](t, rec)
	assert.False(t, st.Enabled)
	assert.Nil(t, st.LastPass)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/enable")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, env.backend.TotalCalls())
}

func TestPolicy(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/policy")
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[PolicySummary](t, rec)
	assert.Equal(t, 1, sum.FirewallRules)
	assert.Equal(t, 1, sum.DomainRules)
	assert.Equal(t, 2, sum.DenyDomains)
	assert.Len(t, sum.Reports, len(policy.Stages))

	rec = env.do(t, http.MethodGet, "/api/policy?full=1")
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decode[policy.Plan](t, rec)
	require.Len(t, plan.Domain, 1)
	assert.Equal(t, []string{"ads.example.com", "bad.example.org"}, plan.Domain[0].Deny)

	// Compiling never touches the backend.
	assert.Zero(t, env.backend.TotalCalls())
}

func TestErrorMapping(t *testing.T) {
	t.Run("backend unavailable", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.SetReady(errors.New("daemon not running"))

		rec := env.do(t, http.MethodPost, "/api/enable")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "policy backend unavailable", resp.Error)
	})

	t.Run("localized", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.SetReady(errors.New("daemon not running"))

		req := httptest.NewRequest(http.MethodPost, "/api/enable", nil)
		req.Header.Set("Accept-Language", "de-DE")
		rec := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(rec, req)

		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "Richtlinien-Backend nicht verfügbar", resp.Error)
	})

	t.Run("unauthorized", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.SetFault(firewall.FailNth(firewall.OpClearFirewall, 1, firewall.ErrUnauthorized))

		rec := env.do(t, http.MethodPost, "/api/disable")
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("stage failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.backend.SetFault(firewall.FailNth(firewall.OpSubmitDomain, 1, errors.New("rejected")))

		rec := env.do(t, http.MethodPost, "/api/enable")
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var resp struct {
			Error   string            `json:"error"`
			Details stageErrorDetails `json:"details"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, policy.StageBlockedDomains, resp.Details.Stage)
		assert.NotEmpty(t, resp.Details.PassID)
		assert.Contains(t, resp.Error, "rejected")

		snap, err := env.backend.Installed(context.Background())
		require.NoError(t, err)
		assert.True(t, snap.Empty())
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/enable")

	rec := env.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `warden_passes_total{kind="enable",result="success"} 1`)
	assert.Contains(t, body, "warden_api_requests_total")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPassRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.server = NewServer(ServerOptions{
		Controller:  env.server.ctrl,
		Logger:      logging.Discard(),
		PassLimiter: ratelimit.New(1, time.Minute, nil),
	})

	rec := env.do(t, http.MethodPost, "/api/disable")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/enable")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads are not throttled.
	rec = env.do(t, http.MethodGet, "/api/status")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPolicyRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.server = NewServer(ServerOptions{
		Controller:  env.server.ctrl,
		Logger:      logging.Discard(),
		PassLimiter: ratelimit.New(1, time.Minute, nil),
	})

	rec := env.do(t, http.MethodGet, "/api/policy")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Each policy request recompiles from every provider.
	rec = env.do(t, http.MethodGet, "/api/policy")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = env.do(t, http.MethodPost, "/api/enable")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthChecks(t *testing.T) {
	env := newTestEnv(t)
	checker := health.NewChecker(nil)
	checker.Register("backend", health.BackendCheck(env.backend))
	env.server = NewServer(ServerOptions{
		Controller: env.server.ctrl,
		Logger:     logging.Discard(),
		Health:     checker,
	})

	rec := env.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[health.Report](t, rec)
	assert.Equal(t, health.StatusHealthy, report.Status)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "warden.local", true},
		{"http://localhost:5173", "warden.local", true},
		{"http://warden.local", "warden.local", true},
		{"https://warden.local:8787", "warden.local:8787", true},
		{"https://evil.example", "warden.local", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/progress", nil)
		req.Host = tt.host
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, upgrader.CheckOrigin(req), tt.origin)
	}
}

func TestProgressWebSocket(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	// Run a pass first so the backlog is deterministic.
	resp, err := http.Post(ts.URL+"/api/enable", "application/json", nil)
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []events.EventType
	var messages []string
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev struct {
			Type events.EventType `json:"type"`
			Data struct {
				Message string `json:"message"`
			} `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		got = append(got, ev.Type)
		if ev.Data.Message != "" {
			messages = append(messages, ev.Data.Message)
		}
		if ev.Type == events.EventPassFinished {
			break
		}
	}

	assert.Equal(t, events.EventPassStarted, got[0])
	assert.Contains(t, messages, "Policy enabled")
}

func TestProgressWithoutHub(t *testing.T) {
	s := NewServer(ServerOptions{Logger: logging.Discard()})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/progress", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListenAndServeShutdown(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.server.ListenAndServe(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
