// Package postgres provides the Postgres-backed product table sink.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "products"

// Config controls the Postgres connection pool used for product rows.
type Config struct {
	// DSN takes precedence over the discrete connection fields.
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// ConnString renders the pool connection string.
func (c Config) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	return u.String()
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ProductStore upserts products into a Postgres table keyed by
// (id, country, url). Repeated passes for one market converge.
type ProductStore struct {
	pool   execCloser
	table  string
	logger *zap.Logger
}

// NewProductStore connects a pool using cfg. The connection is established
// once at startup and shared by every pass.
func NewProductStore(ctx context.Context, cfg Config, logger *zap.Logger) (*ProductStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewProductStoreWithPool(pool, cfg.Table, logger)
}

// NewProductStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProductStoreWithPool(pool execCloser, table string, logger *zap.Logger) (*ProductStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductStore{pool: pool, table: table, logger: logger}, nil
}

// EnsureSchema attempts to create the product table. Failure (typically
// because the table already exists) is logged and otherwise ignored.
func (s *ProductStore) EnsureSchema(ctx context.Context) {
	query := fmt.Sprintf(`
CREATE TABLE %s (
	id text NOT NULL,
	name text,
	type text,
	country text NOT NULL,
	price text,
	unit text,
	metric text,
	url text NOT NULL,
	image_url text,
	department text,
	category text,
	subcategory text,
	department_url text,
	category_url text,
	subcategory_url text,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	UNIQUE (id, country, url)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		s.logger.Debug("create table skipped", zap.String("table", s.table), zap.Error(err))
	}
}

// Write upserts one product. Statement-level failures are reported as
// crawler.ErrRowRejected so the pass moves on; anything else (connection
// loss, cancellation) is returned as-is and is fatal.
func (s *ProductStore) Write(ctx context.Context, p crawler.Product) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	name,
	type,
	country,
	price,
	unit,
	metric,
	url,
	image_url,
	department,
	category,
	subcategory,
	department_url,
	category_url,
	subcategory_url
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
ON CONFLICT (id, country, url) DO UPDATE SET
	name = EXCLUDED.name,
	type = EXCLUDED.type,
	price = EXCLUDED.price,
	unit = EXCLUDED.unit,
	metric = EXCLUDED.metric,
	image_url = EXCLUDED.image_url,
	department = EXCLUDED.department,
	category = EXCLUDED.category,
	subcategory = EXCLUDED.subcategory,
	department_url = EXCLUDED.department_url,
	category_url = EXCLUDED.category_url,
	subcategory_url = EXCLUDED.subcategory_url,
	updated_at = now()`, s.table)

	args := []any{
		p.ItemNumber,
		p.Name,
		p.Type,
		p.Country,
		p.Price,
		p.Unit,
		p.Metric,
		p.URL,
		p.ImageURL,
		p.Department.Name,
		p.Category.Name,
		p.Subcategory.Name,
		p.Department.URL,
		p.Category.URL,
		p.Subcategory.URL,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return classify(p.URL, err)
	}
	return nil
}

// Finalize is a no-op; rows are committed as they are written.
func (s *ProductStore) Finalize(context.Context) error {
	return nil
}

// Close releases the underlying pool resources.
func (s *ProductStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// fatalClasses are SQLSTATE classes that describe the server or the
// connection rather than the row: connection exception, insufficient
// resources, operator intervention, system error and internal error.
var fatalClasses = []string{"08", "53", "57", "58", "XX"}

func rowLevel(pgErr *pgconn.PgError) bool {
	for _, class := range fatalClasses {
		if strings.HasPrefix(pgErr.Code, class) {
			return false
		}
	}
	return true
}

func classify(productURL string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && rowLevel(pgErr) {
		return fmt.Errorf("%w: upsert %s: %s (%s): %w",
			crawler.ErrRowRejected, productURL, strings.TrimSpace(pgErr.Message), pgErr.Code, err)
	}
	return fmt.Errorf("upsert %s: %w", productURL, err)
}
