// Package sqlite provides a SQLite-backed product table sink built on gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "products"

// productRow mirrors the Postgres product table. The composite key is the
// upsert target.
type productRow struct {
	ID             string `gorm:"column:id;primaryKey"`
	Country        string `gorm:"column:country;primaryKey"`
	URL            string `gorm:"column:url;primaryKey"`
	Name           string `gorm:"column:name"`
	Type           string `gorm:"column:type"`
	Price          string `gorm:"column:price"`
	Unit           string `gorm:"column:unit"`
	Metric         string `gorm:"column:metric"`
	ImageURL       string `gorm:"column:image_url"`
	Department     string `gorm:"column:department"`
	Category       string `gorm:"column:category"`
	Subcategory    string `gorm:"column:subcategory"`
	DepartmentURL  string `gorm:"column:department_url"`
	CategoryURL    string `gorm:"column:category_url"`
	SubcategoryURL string `gorm:"column:subcategory_url"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var updateColumns = []string{
	"name", "type", "price", "unit", "metric", "image_url",
	"department", "category", "subcategory",
	"department_url", "category_url", "subcategory_url",
	"updated_at",
}

func toRow(p crawler.Product) productRow {
	return productRow{
		ID:             p.ItemNumber,
		Country:        p.Country,
		URL:            p.URL,
		Name:           p.Name,
		Type:           p.Type,
		Price:          p.Price,
		Unit:           p.Unit,
		Metric:         p.Metric,
		ImageURL:       p.ImageURL,
		Department:     p.Department.Name,
		Category:       p.Category.Name,
		Subcategory:    p.Subcategory.Name,
		DepartmentURL:  p.Department.URL,
		CategoryURL:    p.Category.URL,
		SubcategoryURL: p.Subcategory.URL,
	}
}

// ProductStore upserts products into a SQLite table.
type ProductStore struct {
	db     *gorm.DB
	table  string
	logger *zap.Logger
}

// NewProductStore opens (or creates) the database at path.
func NewProductStore(path, table string, logger *zap.Logger) (*ProductStore, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &ProductStore{db: db, table: table, logger: logger}, nil
}

// EnsureSchema migrates the product table. Failure is logged and ignored.
func (s *ProductStore) EnsureSchema(ctx context.Context) {
	if err := s.db.WithContext(ctx).Table(s.table).AutoMigrate(&productRow{}); err != nil {
		s.logger.Debug("migrate table skipped", zap.String("table", s.table), zap.Error(err))
	}
}

// Write upserts one product keyed by (id, country, url).
func (s *ProductStore) Write(ctx context.Context, p crawler.Product) error {
	row := toRow(p)
	err := s.db.WithContext(ctx).Table(s.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "country"}, {Name: "url"}},
		DoUpdates: clause.AssignmentColumns(updateColumns),
	}).Create(&row).Error
	if err != nil {
		return classify(p.URL, err)
	}
	return nil
}

// Finalize is a no-op; rows are committed as they are written.
func (s *ProductStore) Finalize(context.Context) error {
	return nil
}

// Close releases the underlying connection.
func (s *ProductStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get underlying SQL DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// classify maps per-statement SQLite failures to crawler.ErrRowRejected.
func classify(productURL string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint, sqlite3.ErrMismatch, sqlite3.ErrTooBig, sqlite3.ErrRange:
			return fmt.Errorf("%w: upsert %s: %w", crawler.ErrRowRejected, productURL, err)
		}
	}
	return fmt.Errorf("upsert %s: %w", productURL, err)
}
