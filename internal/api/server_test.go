package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(0, nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestLogCarriesRequestID(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	rec := serve(t, NewServer(0, zap.New(core)), "/healthz")

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, rec.Header().Get("X-Request-ID"), fields["request_id"])
	require.Equal(t, "/healthz", fields["path"])
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	s := NewServer(0, nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(t, s, "/readyz").Code)
	s.SetReady(true)
	require.Equal(t, http.StatusOK, serve(t, s, "/readyz").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(0, nil)
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestLatestPassBeforeFirstPass(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(0, nil), "/v1/passes/latest")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), "no pass")
}

func TestRecordPassAndLookup(t *testing.T) {
	t.Parallel()

	s := NewServer(2, nil)
	for i := 1; i <= 3; i++ {
		s.RecordPass(crawler.PassSummary{
			ID:              fmt.Sprintf("pass-%d", i),
			Country:         "Singapore",
			ProductsWritten: i * 10,
		})
	}

	rec := serve(t, s, "/v1/passes/latest")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest crawler.PassSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	require.Equal(t, "pass-3", latest.ID)
	require.Equal(t, 30, latest.ProductsWritten)

	rec = serve(t, s, "/v1/passes/pass-2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":"pass-2"`)

	// Only the two most recent passes are retained.
	require.Equal(t, http.StatusNotFound, serve(t, s, "/v1/passes/pass-1").Code)

	rec = serve(t, s, "/v1/passes")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Passes []crawler.PassSummary `json:"passes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Passes, 2)
	require.Equal(t, "pass-3", list.Passes[0].ID)
	require.Equal(t, "pass-2", list.Passes[1].ID)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := NewServer(0, nil)
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := NewServer(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
