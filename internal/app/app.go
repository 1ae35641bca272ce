// Package app wires the crawler's long-lived services from configuration:
// fetcher, tree walker, sink, notifiers, status server and the pass worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/clock"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/notify"
	"github.com/JakeFAU/catalog-crawler/internal/storage/csvfile"
	"github.com/JakeFAU/catalog-crawler/internal/storage/postgres"
	"github.com/JakeFAU/catalog-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/catalog-crawler/internal/worker"
)

// App holds the services for one process.
type App struct {
	cfg     config.Config
	market  config.Market
	logger  *zap.Logger
	worker  *worker.Worker
	server  *api.Server
	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	notifier  crawler.Notifier
	observers []crawler.PassObserver
	fetcher   crawler.Fetcher
}

// WithNotifier replaces the notifiers built from configuration.
func WithNotifier(n crawler.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithObservers adds pass observers.
func WithObservers(obs ...crawler.PassObserver) Option {
	return func(o *options) { o.observers = append(o.observers, obs...) }
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New validates cfg and builds every service. Database connections are
// established here, once, before the first pass.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	market, err := cfg.Market()
	if err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, market: market, logger: logger}
	if err := a.build(ctx, o); err != nil {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("cleanup after failed start", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	resolver, err := crawler.NewResolver(a.market.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: market %s: %w", config.ErrInvalid, a.market.Name, err)
	}

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:      a.cfg.HTTP.UserAgent,
			Timeout:        a.cfg.HTTP.Timeout(),
			MaxRetries:     a.cfg.HTTP.MaxRetries,
			BackoffInitial: a.cfg.HTTP.BackoffInitial(),
			BackoffMax:     a.cfg.HTTP.BackoffMax(),
		}, a.logger.Named("fetcher"))
	}

	selectors := a.cfg.Selectors
	walker := crawler.NewWalker(fetcher, crawler.NewClassifier(selectors, a.logger.Named("classifier")),
		selectors, resolver, a.logger.Named("walker"))
	enricher := crawler.NewEnricher(fetcher, selectors, resolver, a.logger.Named("enricher"))

	openSink, sinkName, err := a.buildSink(ctx)
	if err != nil {
		return err
	}

	notifier := o.notifier
	if notifier == nil {
		if notifier, err = a.buildNotifier(ctx); err != nil {
			return err
		}
	}

	observers := append([]crawler.PassObserver(nil), o.observers...)
	if a.cfg.Server.Enabled {
		a.server = api.NewServer(api.DefaultHistory, a.logger.Named("api"))
		observers = append(observers, a.server)
	}

	a.worker = worker.New(
		walker,
		enricher,
		openSink,
		notifier,
		observers,
		clock.System{},
		uuid.New(),
		worker.Config{
			Country:  a.market.Name,
			HomePath: a.market.HomePath,
			Roots:    a.market.Roots,
			Loop:     a.cfg.Run.Loop,
			Interval: a.cfg.Interval(),
			SinkName: sinkName,
		},
		a.logger.Named("worker"),
	)
	return nil
}

func (a *App) buildSink(ctx context.Context) (crawler.SinkOpener, string, error) {
	if a.cfg.Output.Type == config.OutputFile {
		dest := a.cfg.Output.File
		a.logger.Info("using file output", zap.String("dest", dest))
		return func(ctx context.Context) (crawler.Sink, error) {
			return csvfile.Open(ctx, dest, nil)
		}, "file", nil
	}

	db := a.cfg.DB
	switch db.Driver {
	case config.DriverSQLite:
		store, err := sqlite.NewProductStore(db.Path, db.Table, a.logger.Named("sqlite"))
		if err != nil {
			return nil, "", err
		}
		a.closers = append(a.closers, store.Close)
		store.EnsureSchema(ctx)
		a.logger.Info("using sqlite output", zap.String("path", db.Path), zap.String("table", db.Table))
		return staticSink(store), config.DriverSQLite, nil
	default:
		store, err := postgres.NewProductStore(ctx, postgres.Config{
			DSN:      db.DSN,
			Host:     db.Host,
			Port:     db.Port,
			User:     db.User,
			Password: db.Password,
			Database: db.Name,
			Table:    db.Table,
			MaxConns: int32(db.MaxConns), //nolint:gosec // bounded by config
		}, a.logger.Named("postgres"))
		if err != nil {
			return nil, "", err
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		store.EnsureSchema(ctx)
		a.logger.Info("using postgres output", zap.String("host", db.Host), zap.String("table", db.Table))
		return staticSink(store), config.DriverPostgres, nil
	}
}

func staticSink(s crawler.Sink) crawler.SinkOpener {
	return func(context.Context) (crawler.Sink, error) { return s, nil }
}

func (a *App) buildNotifier(ctx context.Context) (crawler.Notifier, error) {
	var out notify.Multi
	n := a.cfg.Notify
	if len(n.Emails) > 0 {
		email, err := notify.NewEmail(notify.SMTPConfig{
			Host:     n.SMTP.Host,
			Port:     n.SMTP.Port,
			Username: n.SMTP.Username,
			Password: n.SMTP.Password,
			From:     n.SMTP.From,
		}, n.Emails, a.logger.Named("email"))
		if err != nil {
			return nil, fmt.Errorf("email notifier: %w", err)
		}
		out = append(out, email)
	}
	if n.PubSub.ProjectID != "" {
		ps, err := notify.NewPubSub(ctx, n.PubSub.ProjectID, n.PubSub.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub notifier: %w", err)
		}
		a.closers = append(a.closers, ps.Close)
		out = append(out, ps)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Run executes the configured passes and, when enabled, serves the status
// API alongside them. It returns when the worker finishes or ctx ends.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("crawler starting",
		zap.String("country", a.market.Name),
		zap.String("base_url", a.market.BaseURL),
		zap.Bool("loop", a.cfg.Run.Loop),
	)
	if a.server == nil {
		return a.worker.Run(ctx)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
		if err := a.server.ListenAndServe(serverCtx, addr); err != nil {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()
	a.server.SetReady(true)

	err := a.worker.Run(ctx)
	a.server.SetReady(false)
	cancel()
	wg.Wait()
	return err
}

// Close releases database pools and notification clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
