package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// MockNotifier mocks crawler.Notifier.
type MockNotifier struct {
	mock.Mock
}

// Notify satisfies crawler.Notifier.
func (m *MockNotifier) Notify(ctx context.Context, summary crawler.PassSummary) error {
	args := m.Called(ctx, summary)
	return args.Error(0)
}

// MockObserver mocks crawler.PassObserver.
type MockObserver struct {
	mock.Mock
}

// RecordPass satisfies crawler.PassObserver.
func (m *MockObserver) RecordPass(summary crawler.PassSummary) {
	m.Called(summary)
}

func catalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/r": `<html><body><div class="visualNavContainer"><div class="tile">` +
			`<a href="/r/a"><img src="/i.png"></a>` +
			`<div class="categoryContainer"><a href="/r/a">Cat A</a></div></div></div></body></html>`,
		"/r/a": `<html><body><div id="productLists">` +
			`<div class="productDetails"><a href="#">x</a></div>` +
			`<div class="productDetails"><a href="/p/2">x</a></div>` +
			`<div class="productDetails"><a href="/p/404">x</a></div>` +
			`</div></body></html>`,
		"/p/2": `<html><body><div id="itemNumber">100.222</div><div id="name">SMÅSTAD</div>` +
			`<div id="type">Shelf</div><span id="price1">S$ 10</span></body></html>`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	cfg.Country = 1
	cfg.HTTP.MaxRetries = 0
	cfg.Markets = []config.Market{{
		Name:    "Singapore",
		BaseURL: baseURL,
		Roots:   []crawler.Department{{Name: "Root", URL: "/r"}},
	}}
	cfg.Output.File = filepath.Join(t.TempDir(), "out", "catalog.csv")
	return cfg
}

func TestRunFileOutput(t *testing.T) {
	srv := catalogServer(t)
	cfg := testConfig(t, srv.URL)

	notifier := &MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(s crawler.PassSummary) bool {
		return len(s.Errors) == 1 && strings.Contains(s.Errors[0], "/p/404")
	})).Return(nil).Once()
	observer := &MockObserver{}
	observer.On("RecordPass", mock.MatchedBy(func(s crawler.PassSummary) bool {
		return s.ProductsWritten == 1 && s.ProductsSkipped == 1 && s.Country == "Singapore"
	})).Once()

	a, err := app.New(context.Background(), cfg, nil,
		app.WithNotifier(notifier), app.WithObservers(observer))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	require.NoError(t, a.Run(context.Background()))
	notifier.AssertExpectations(t)
	observer.AssertExpectations(t)

	data, err := os.ReadFile(cfg.Output.File)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, crawler.FileHeader, lines[0])
	require.Equal(t,
		`"100222","SMÅSTAD","Shelf","S$ 10","","","","/p/2","Root","Cat A","","/r","/r/a",""`,
		lines[1])
}

func TestRunSQLiteOutput(t *testing.T) {
	srv := catalogServer(t)
	cfg := testConfig(t, srv.URL)
	cfg.Output.Type = config.OutputTable
	cfg.DB.Driver = config.DriverSQLite
	cfg.DB.Path = filepath.Join(t.TempDir(), "catalog.db")

	observer := &MockObserver{}
	observer.On("RecordPass", mock.Anything).Twice()
	notifier := &MockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)

	a, err := app.New(context.Background(), cfg, nil,
		app.WithNotifier(notifier), app.WithObservers(observer))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	// Two passes upsert the same row.
	require.NoError(t, a.Run(context.Background()))
	require.NoError(t, a.Run(context.Background()))
	observer.AssertExpectations(t)
	require.FileExists(t, cfg.DB.Path)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "http://shop.test")
	cfg.Country = 5
	_, err := app.New(context.Background(), cfg, nil)
	require.ErrorIs(t, err, config.ErrInvalid)

	cfg.Country = 0
	_, err = app.New(context.Background(), cfg, nil)
	require.ErrorIs(t, err, config.ErrNoCountry)
}

func TestNewBuildsEmailNotifier(t *testing.T) {
	cfg := testConfig(t, "http://shop.test")
	cfg.Notify.Emails = []string{"ops@shop.test"}
	cfg.Notify.SMTP.Host = "smtp.shop.test"
	cfg.Notify.SMTP.From = "crawler@shop.test"

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close())
}
