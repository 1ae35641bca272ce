// Package cmd defines the CLI for the catalog-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/app"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
	"github.com/JakeFAU/catalog-crawler/internal/telemetry"
)

// Runner is the part of the application the CLI drives. Tests substitute
// a fake through newApp.
type Runner interface {
	Run(ctx context.Context) error
	Close() error
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

// flagKeys maps CLI flags to configuration keys.
var flagKeys = map[string]string{
	"type":        "output.type",
	"output":      "output.file",
	"country":     "country",
	"loop":        "run.loop",
	"interval":    "run.interval_seconds",
	"email":       "notify.emails",
	"db-driver":   "db.driver",
	"db-host":     "db.host",
	"db-port":     "db.port",
	"db-user":     "db.user",
	"db-password": "db.password",
	"db-name":     "db.name",
	"db-path":     "db.path",
	"server":      "server.enabled",
	"server-port": "server.port",
	"dev":         "logging.development",
	"tracing":     "tracing.enabled",
}

type options struct {
	configFile string
	v          *viper.Viper
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := &options{v: config.New()}

	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls a retailer's product catalog into a file or a database table.",
		Long: `catalog-crawler walks a storefront's category tree from its root
departments, collects every product page it reaches, extracts the product
attributes and writes them to a CSV file (local or gs://) or upserts them
into a Postgres or SQLite table.

Run without --country to list the configured countries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), opts, stdout)
		},
	}
	cmd.SetOut(stdout)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (YAML, JSON or TOML)")

	local := cmd.Flags()
	local.StringP("type", "t", config.OutputFile, "output type: file or table")
	local.StringP("output", "o", "output.csv", "output file (local path or gs://bucket/object)")
	local.IntP("country", "c", 0, "country number from the countries list")
	local.Bool("loop", false, "repeat passes forever instead of running once")
	local.IntP("interval", "i", 60, "minimum seconds between pass starts when looping")
	local.StringArrayP("email", "e", nil, "address to notify when a pass records errors (repeatable)")
	local.String("db-driver", config.DriverPostgres, "table backend: postgres or sqlite")
	local.String("db-host", "localhost", "database host")
	local.Int("db-port", 5432, "database port")
	local.String("db-user", "postgres", "database user")
	local.String("db-password", "", "database password")
	local.String("db-name", "catalog", "database name")
	local.String("db-path", "data/catalog.db", "SQLite database file")
	local.Bool("server", false, "serve health, metrics and pass summaries")
	local.Int("server-port", 8080, "status server port")
	local.Bool("dev", false, "development logging")
	local.Bool("tracing", false, "emit OpenTelemetry spans and propagate trace context to Pub/Sub")

	if err := bindFlags(opts.v, local); err != nil {
		panic(err)
	}

	cmd.AddCommand(newCountriesCmd(opts, stdout))
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("flag %q is not defined", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %q: %w", name, err)
		}
	}
	return nil
}

func newCountriesCmd(opts *options, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "countries",
		Short: "Lists the configured countries and their numbers",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(opts.v, opts.configFile)
			if err != nil {
				return err
			}
			return cfg.WriteMarkets(stdout)
		},
	}
}

func runCrawl(ctx context.Context, opts *options, stdout io.Writer) error {
	cfg, err := config.Load(opts.v, opts.configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrNoCountry) {
			return cfg.WriteMarkets(stdout)
		}
		return err
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	application, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			logger.Warn("failed to close application", zap.Error(cerr))
		}
	}()

	if err := application.Run(ctx); err != nil {
		logger.Error("crawl failed", zap.Error(err))
		return fmt.Errorf("run crawler: %w", err)
	}
	logger.Info("crawl finished")
	return nil
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the crawl; any error
// exits with status 1.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog-crawler: %v\n", err)
		os.Exit(1)
	}
}
