package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/nested-progress/internal/metrics"
	"github.com/JakeFAU/nested-progress/internal/storage/memory"
)

func serve(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestServerProbes(t *testing.T) {
	t.Parallel()

	srv := NewServer(Options{})
	rr := serve(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = serve(t, srv.Handler(), http.MethodGet, "/readyz", map[string]string{"X-Request-ID": "req-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "req-1", rr.Header().Get("X-Request-ID"))

	notReady := NewServer(Options{Ready: func(context.Context) error { return errors.New("db down") }})
	rr = serve(t, notReady.Handler(), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestServerRoutesRuns(t *testing.T) {
	t.Parallel()

	repo := memory.NewRunStore()
	run := sampleRun()
	require.NoError(t, repo.UpsertRunStart(context.Background(), run.ID, run.Name, run.StartedAt))

	srv := NewServer(Options{Runs: NewRunHandler(repo, nil)})

	rr := serve(t, srv.Handler(), http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), run.ID.String())

	rr = serve(t, srv.Handler(), http.MethodGet, "/api/runs/"+run.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":"running"`)

	rr = serve(t, srv.Handler(), http.MethodPost, "/api/runs", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestServerAPIKey(t *testing.T) {
	t.Parallel()

	srv := NewServer(Options{Runs: NewRunHandler(memory.NewRunStore(), nil), APIKey: "secret"})

	rr := serve(t, srv.Handler(), http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = serve(t, srv.Handler(), http.MethodGet, "/api/runs", map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, srv.Handler(), http.MethodGet, "/api/runs?api_key=secret", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestServerMetricsRoute(t *testing.T) {
	t.Parallel()

	m, err := metrics.New()
	require.NoError(t, err)
	srv := NewServer(Options{Metrics: m})

	require.Equal(t, http.StatusOK, serve(t, srv.Handler(), http.MethodGet, "/healthz", nil).Code)

	rr := serve(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `http_requests_total{code="200",method="GET"} 1`)

	withoutMetrics := NewServer(Options{})
	require.Equal(t, http.StatusNotFound, serve(t, withoutMetrics.Handler(), http.MethodGet, "/metrics", nil).Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := serve(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), "internal server error"))
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()

	h := timeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	rr := serve(t, h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestServerLaunchLimit(t *testing.T) {
	t.Parallel()

	limited := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		})
	}
	srv := NewServer(Options{Launcher: NewLauncher(nil, nil, LauncherConfig{}, nil), LaunchLimit: limited})
	rr := serve(t, srv.Handler(), http.MethodPost, "/api/runs", nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}
