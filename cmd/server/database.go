package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Register the pgx stdlib driver under the name "pgx".
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/phrazzld/imageworks-api/internal/config"
	"github.com/phrazzld/imageworks-api/internal/platform/postgres"
)

// connectTimeout bounds the initial database ping.
const connectTimeout = 10 * time.Second

// openDatabase connects to PostgreSQL, verifies the connection, and applies
// embedded migrations when configured to do so.
func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if cfg.RunMigrations {
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return db, nil
}
