package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

func fastConfig() Config {
	return Config{
		UserAgent:      "catalog-crawler-test",
		Timeout:        2 * time.Second,
		MaxRetries:     2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func TestFetchParsesDocument(t *testing.T) {
	t.Parallel()

	var gotUA atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA.Store(r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><div id="name">LACK</div></body></html>`)
	}))
	defer srv.Close()

	f := New(fastConfig(), nil)
	doc, err := f.Fetch(context.Background(), srv.URL+"/p/1")
	require.NoError(t, err)
	require.Equal(t, "LACK", doc.Find("#name").Text())
	require.Equal(t, "/p/1", doc.Url.Path)
	require.Equal(t, "catalog-crawler-test", gotUA.Load())

	// The same URL can be fetched again on a later pass.
	_, err = f.Fetch(context.Background(), srv.URL+"/p/1")
	require.NoError(t, err)
}

func TestFetchNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	f := New(fastConfig(), nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, crawler.ErrFetch)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.EqualValues(t, 1, hits.Load())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	}))
	defer srv.Close()

	f := New(fastConfig(), nil)
	doc, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Contains(t, doc.Text(), "ok")
	require.EqualValues(t, 3, hits.Load())
}

func TestFetchRetriesExhausted(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.MaxRetries = 1
	f := New(cfg, nil)
	_, err := f.Fetch(context.Background(), srv.URL)
	require.ErrorIs(t, err, crawler.ErrFetch)
	require.EqualValues(t, 2, hits.Load())
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html></html>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(fastConfig(), nil)
	_, err := f.Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, crawler.ErrFetch)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil)
	var result page
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/a")},
	})
	require.Equal(t, page{url: "https://example.com/a", status: http.StatusOK, body: []byte("body")}, result)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("Bad Gateway"))
	var statusErr *StatusError
	require.ErrorAs(t, fetchErr, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.Code)
}

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "agent-x"}, nil)
	ctx := context.Background()
	collector := f.buildCollector(ctx)
	require.Equal(t, "agent-x", collector.UserAgent)
	require.True(t, collector.AllowURLRevisit)
	require.True(t, collector.IgnoreRobotsTxt)
	require.Equal(t, ctx, collector.Context)
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(2, 10*time.Millisecond, 40*time.Millisecond)
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil", err: nil, attempt: 0, want: false},
		{name: "server error", err: &StatusError{Code: 502}, attempt: 0, want: true},
		{name: "rate limited", err: &StatusError{Code: 429}, attempt: 1, want: true},
		{name: "not found", err: &StatusError{Code: 404}, attempt: 0, want: false},
		{name: "budget spent", err: &StatusError{Code: 503}, attempt: 2, want: false},
		{name: "canceled", err: fmt.Errorf("visit: %w", context.Canceled), attempt: 0, want: false},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), attempt: 0, want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}

	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, 5*time.Millisecond)
		require.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
