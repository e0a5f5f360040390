package catalog

import (
	"context"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/whiskeygoggles/goggles/internal/config"
)

// TableName is the inventory table holding whiskey records.
const TableName = "whiskeys"

// SQLSource reads the catalog from the inventory database.
type SQLSource struct {
	db *gorm.DB
}

func NewSQLSource(db *gorm.DB) *SQLSource {
	return &SQLSource{db: db}
}

// OpenSQLSource connects to the database named by driver and dsn.
func OpenSQLSource(driver, dsn string) (*SQLSource, error) {
	var dialector gorm.Dialector
	switch driver {
	case config.CatalogPostgres:
		dialector = postgres.Open(dsn)
	case config.CatalogMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("catalog: unsupported database driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", driver, err)
	}
	return NewSQLSource(db), nil
}

// Load selects every record ordered by id. A NULL stock reads as 0.
func (s *SQLSource) Load(ctx context.Context) (*Catalog, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Table(TableName).
		Select("id, unique_name, name, COALESCE(stock, 0) AS stock").
		Order("id").
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("catalog: query %s: %w", TableName, err)
	}
	return New(entries)
}

// Close releases the underlying connection pool.
func (s *SQLSource) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Open builds the Source selected by cfg.
func Open(cfg config.Catalog) (Source, error) {
	switch cfg.Source {
	case config.CatalogFile:
		return FileSource{Path: cfg.Path}, nil
	case config.CatalogPostgres, config.CatalogMySQL:
		return OpenSQLSource(cfg.Source, cfg.DSN)
	default:
		return nil, fmt.Errorf("catalog: unsupported source %q", cfg.Source)
	}
}
