package db

import (
	"fmt"

	"gorm.io/gorm"
)

var postgresMigrations = []string{
	`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,

	// violations: one row per admitted speeding event
	`CREATE TABLE IF NOT EXISTS violations (
		id              UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
		license_plate   TEXT NOT NULL,
		speed           NUMERIC(7,2) NOT NULL,
		speed_limit     NUMERIC(7,2) NOT NULL,
		timestamp       TIMESTAMPTZ NOT NULL,
		location        TEXT NOT NULL DEFAULT '',
		image_path      TEXT,
		details         JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_violations_license_plate ON violations(license_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_violations_timestamp ON violations(timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_violations_plate_time ON violations(license_plate, timestamp DESC);`,
	`ALTER TABLE violations ADD COLUMN IF NOT EXISTS details JSONB;`,
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS violations (
		id              TEXT PRIMARY KEY,
		license_plate   TEXT NOT NULL,
		speed           REAL NOT NULL,
		speed_limit     REAL NOT NULL,
		timestamp       DATETIME NOT NULL,
		location        TEXT NOT NULL DEFAULT '',
		image_path      TEXT,
		details         TEXT,
		created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE INDEX IF NOT EXISTS idx_violations_license_plate ON violations(license_plate);`,
	`CREATE INDEX IF NOT EXISTS idx_violations_timestamp ON violations(timestamp);`,
}

func runMigrations(db *gorm.DB, dialect string) error {
	statements := sqliteMigrations
	if dialect == DialectPostgres {
		statements = postgresMigrations
	}
	for i, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
