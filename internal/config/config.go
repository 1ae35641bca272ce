// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

var (
	// ErrInvalid marks a configuration the crawler cannot start with.
	ErrInvalid = errors.New("invalid configuration")
	// ErrNoCountry is returned when no market was selected.
	ErrNoCountry = errors.New("no country selected")
)

// Output types.
const (
	OutputFile  = "file"
	OutputTable = "table"
)

// Database drivers for the table output.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config captures every configuration knob loaded via Viper.
type Config struct {
	Output    OutputConfig      `mapstructure:"output"`
	Country   int               `mapstructure:"country"`
	Run       RunConfig         `mapstructure:"run"`
	Notify    NotifyConfig      `mapstructure:"notify"`
	DB        DBConfig          `mapstructure:"db"`
	HTTP      HTTPConfig        `mapstructure:"http"`
	Selectors crawler.Selectors `mapstructure:"selectors"`
	Server    ServerConfig      `mapstructure:"server"`
	Logging   LoggingConfig     `mapstructure:"logging"`
	Tracing   TracingConfig     `mapstructure:"tracing"`
	Markets   []Market          `mapstructure:"markets"`
}

// OutputConfig selects the sink.
type OutputConfig struct {
	Type string `mapstructure:"type"`
	// File is a local path or a gs://bucket/object URI.
	File string `mapstructure:"file"`
}

// RunConfig controls pass repetition.
type RunConfig struct {
	Loop            bool `mapstructure:"loop"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

// NotifyConfig configures the operator notification channels.
type NotifyConfig struct {
	Emails []string     `mapstructure:"emails"`
	SMTP   SMTPConfig   `mapstructure:"smtp"`
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// SMTPConfig is the mail relay used for email notifications.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// PubSubConfig holds the topic pass summaries are published to.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// DBConfig controls access to the product table.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	// DSN overrides the discrete Postgres fields when set.
	DSN      string `mapstructure:"dsn"`
	Path     string `mapstructure:"path"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// HTTPConfig configures page fetching.
type HTTPConfig struct {
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles OpenTelemetry spans for passes.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Market is one selectable country storefront.
type Market struct {
	Name    string `mapstructure:"name"`
	BaseURL string `mapstructure:"base_url"`
	// HomePath lists the root departments when Roots is empty.
	HomePath string               `mapstructure:"home_path"`
	Roots    []crawler.Department `mapstructure:"roots"`
}

// New returns a Viper instance with defaults and CRAWLER_ environment
// overrides applied. Callers may bind flags before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load reads the optional config file at path into v and decodes it. The
// result is not validated.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output.type", OutputFile)
	v.SetDefault("output.file", "output.csv")
	v.SetDefault("country", 0)
	v.SetDefault("run.loop", false)
	v.SetDefault("run.interval_seconds", 60)
	v.SetDefault("notify.emails", []string{})
	v.SetDefault("notify.smtp.host", "")
	v.SetDefault("notify.smtp.port", 587)
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "catalog")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.path", "data/catalog.db")
	v.SetDefault("db.table", "products")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("http.user_agent", "catalog-crawler/1.0")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "catalog-crawler")

	sel := crawler.DefaultSelectors()
	v.SetDefault("selectors.product_listing", sel.ProductListing)
	v.SetDefault("selectors.product_anchor", sel.ProductAnchor)
	v.SetDefault("selectors.department_link", sel.DepartmentLink)
	v.SetDefault("selectors.department_label", sel.DepartmentLabel)
	v.SetDefault("selectors.root_department", sel.RootDepartment)
	v.SetDefault("selectors.item_number", sel.ItemNumber)
	v.SetDefault("selectors.name", sel.Name)
	v.SetDefault("selectors.type", sel.Type)
	v.SetDefault("selectors.price", sel.Price)
	v.SetDefault("selectors.unit", sel.Unit)
	v.SetDefault("selectors.metric", sel.Metric)
	v.SetDefault("selectors.image", sel.Image)

	v.SetDefault("markets", []map[string]any{
		{
			"name":      "Singapore",
			"base_url":  "http://www.ikea.com",
			"home_path": "/sg/en/",
			"roots": []map[string]any{
				{"name": "Children's IKEA", "url": "/sg/en/catalog/categories/departments/childrens_ikea/"},
			},
		},
	})
}

// Validate enforces required values and reasonable limits. A missing
// country yields ErrNoCountry; every other failure wraps ErrInvalid.
func (c Config) Validate() error {
	switch c.Output.Type {
	case OutputFile:
		if c.Output.File == "" {
			return fmt.Errorf("%w: output.file must be set for file output", ErrInvalid)
		}
	case OutputTable:
		if c.DB.Driver != DriverPostgres && c.DB.Driver != DriverSQLite {
			return fmt.Errorf("%w: db.driver %q must be %s or %s", ErrInvalid, c.DB.Driver, DriverPostgres, DriverSQLite)
		}
	default:
		return fmt.Errorf("%w: output.type %q must be %s or %s", ErrInvalid, c.Output.Type, OutputFile, OutputTable)
	}
	if c.Run.IntervalSeconds <= 0 {
		return fmt.Errorf("%w: run.interval_seconds must be > 0", ErrInvalid)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: http.timeout_seconds must be > 0", ErrInvalid)
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("%w: http.max_retries must be >= 0", ErrInvalid)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("%w: server.port must be > 0 when the server is enabled", ErrInvalid)
	}
	if len(c.Notify.Emails) > 0 && (c.Notify.SMTP.Host == "" || c.Notify.SMTP.From == "") {
		return fmt.Errorf("%w: notify.smtp.host and notify.smtp.from are required for email notifications", ErrInvalid)
	}
	if (c.Notify.PubSub.ProjectID == "") != (c.Notify.PubSub.Topic == "") {
		return fmt.Errorf("%w: notify.pubsub.project_id and notify.pubsub.topic must be set together", ErrInvalid)
	}
	for i, m := range c.Markets {
		if err := m.validate(); err != nil {
			return fmt.Errorf("%w: markets[%d]: %w", ErrInvalid, i, err)
		}
	}
	_, err := c.Market()
	return err
}

// Market returns the selected market. Country is a 1-based index into
// Markets.
func (c Config) Market() (Market, error) {
	if c.Country == 0 {
		return Market{}, ErrNoCountry
	}
	if c.Country < 0 || c.Country > len(c.Markets) {
		return Market{}, fmt.Errorf("%w: country %d out of range 1..%d", ErrInvalid, c.Country, len(c.Markets))
	}
	return c.Markets[c.Country-1], nil
}

// Interval is the minimum spacing between pass starts.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Run.IntervalSeconds) * time.Second
}

// Timeout is the per-request fetch timeout.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffInitial is the first retry delay.
func (c HTTPConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps the retry delay.
func (c HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

func (m Market) validate() error {
	if m.Name == "" {
		return errors.New("name is required")
	}
	u, err := url.Parse(m.BaseURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute URL", m.BaseURL)
	}
	if len(m.Roots) == 0 && m.HomePath == "" {
		return errors.New("either roots or home_path is required")
	}
	for _, r := range m.Roots {
		if r.URL == "" {
			return fmt.Errorf("root %q has no url", r.Name)
		}
	}
	return nil
}

// WriteMarkets prints the numbered market list used to pick a country.
func (c Config) WriteMarkets(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "Available countries:"); err != nil {
		return fmt.Errorf("write markets: %w", err)
	}
	for i, m := range c.Markets {
		if _, err := fmt.Fprintf(w, "  %d. %s\n", i+1, m.Name); err != nil {
			return fmt.Errorf("write markets: %w", err)
		}
	}
	return nil
}
