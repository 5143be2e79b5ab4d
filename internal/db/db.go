package db

import (
	"context"
	"fmt"
	stdlog "log"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"speedtrap-service/internal/config"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Dialect picks the driver from the DSN: postgres URLs and key=value DSNs go
// to Postgres, anything else is treated as a SQLite path.
func Dialect(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return DialectPostgres
	default:
		return DialectSQLite
	}
}

func New(cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	dsn := cfg.DB.DSN
	dialect := Dialect(dsn)

	gormCfg := &gorm.Config{
		Logger: gormlogger.New(
			stdlog.New(log, "", 0),
			gormlogger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  gormLogLevel(cfg.Environment),
				IgnoreRecordNotFoundError: true,
			},
		),
	}

	var (
		database *gorm.DB
		err      error
	)
	switch dialect {
	case DialectPostgres:
		database, err = gorm.Open(postgres.Open(dsn), gormCfg)
	default:
		database, err = gorm.Open(sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), gormCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if cfg.DB.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	}
	if cfg.DB.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	}
	if cfg.DB.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)
	}

	if err := runMigrations(database, dialect); err != nil {
		return nil, err
	}

	log.Info().Str("dialect", dialect).Msg("database ready")
	return database, nil
}

// NewSQLiteMemory opens a migrated in-memory database. It backs tests and
// dry runs of the worker.
func NewSQLiteMemory() (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	// Every new connection to :memory: is a fresh database.
	sqlDB.SetMaxOpenConns(1)

	if err := runMigrations(database, DialectSQLite); err != nil {
		return nil, err
	}
	return database, nil
}

func HealthCheck(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func gormLogLevel(env string) gormlogger.LogLevel {
	if env == "production" {
		return gormlogger.Error
	}
	return gormlogger.Warn
}
