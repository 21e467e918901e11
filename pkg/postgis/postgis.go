// Package postgis serves records from a PostgreSQL/PostGIS table.
package postgis

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/1F47E/geo-viewport-cache/pkg/dataset"
	"github.com/1F47E/geo-viewport-cache/pkg/logging"
	"github.com/1F47E/geo-viewport-cache/pkg/models"
)

// Config holds the connection settings
type Config struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port" validate:"min=0,max=65535"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	DBName   string `koanf:"dbname"`
	SSLMode  string `koanf:"sslmode" validate:"omitempty,oneof=disable require verify-ca verify-full"`
}

// DSN renders the lib/pq connection string
func (c Config) DSN() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslmode)
}

// Provider reads records from the locations table. Rows are returned in
// insertion order (the seq column) so equal-importance records keep a stable
// order across calls.
type Provider struct {
	db *sql.DB
}

var _ dataset.BoxProvider = (*Provider)(nil)

// Open connects to the database and checks the connection
func Open(ctx context.Context, cfg Config) (*Provider, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	return New(db), nil
}

// New wraps an open database handle
func New(db *sql.DB) *Provider {
	return &Provider{db: db}
}

// InitSchema drops and recreates the locations table
func (p *Provider) InitSchema(ctx context.Context) error {
	queries := []string{
		`CREATE EXTENSION IF NOT EXISTS postgis;`,
		`DROP TABLE IF EXISTS locations;`,
		`CREATE TABLE locations (
			seq BIGSERIAL PRIMARY KEY,
			id BIGINT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			importance DOUBLE PRECISION NOT NULL,
			location GEOMETRY(POINT, 4326) NOT NULL
		);`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

// CreateSpatialIndex builds the GIST index and refreshes planner statistics
func (p *Provider) CreateSpatialIndex(ctx context.Context) error {
	start := time.Now()
	if _, err := p.db.ExecContext(ctx, `CREATE INDEX idx_locations_location ON locations USING GIST(location);`); err != nil {
		return fmt.Errorf("failed to create spatial index: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, `ANALYZE locations;`); err != nil {
		return fmt.Errorf("failed to analyze table: %w", err)
	}

	log := logging.With("postgis")
	log.Info().Dur("elapsed", time.Since(start)).Msg("spatial index created")
	return nil
}

// BulkInsert inserts records in batches, preserving their order in seq
func (p *Provider) BulkInsert(ctx context.Context, records []models.Record) error {
	const batchSize = 10000

	stmt, err := p.db.PrepareContext(ctx, `
		INSERT INTO locations (id, name, importance, location)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($4, $5), 4326))
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	txStmt := tx.StmtContext(ctx, stmt)

	for i, r := range records {
		if _, err := txStmt.ExecContext(ctx, r.ID, r.Name, r.Importance, r.Location.Lon, r.Location.Lat); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert record %d: %w", r.ID, err)
		}

		if (i+1)%batchSize == 0 {
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("failed to commit batch: %w", err)
			}
			tx, err = p.db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("failed to begin new transaction: %w", err)
			}
			txStmt = tx.StmtContext(ctx, stmt)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit final batch: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, name, importance, ST_Y(location) AS lat, ST_X(location) AS lon FROM locations`

// GetAll returns every record in insertion order
func (p *Provider) GetAll(ctx context.Context) ([]models.Record, error) {
	return p.query(ctx, selectColumns+` ORDER BY seq`)
}

// Within returns the records inside box, edges included, in insertion order
func (p *Provider) Within(ctx context.Context, box models.BoundingBox) ([]models.Record, error) {
	return p.query(ctx, selectColumns+`
		WHERE location && ST_MakeEnvelope($1, $2, $3, $4, 4326)
		ORDER BY seq`,
		box.BottomLeft.Lon, box.BottomLeft.Lat,
		box.TopRight.Lon, box.TopRight.Lat)
}

func (p *Provider) query(ctx context.Context, query string, args ...any) ([]models.Record, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	records := make([]models.Record, 0)
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.ID, &r.Name, &r.Importance, &r.Location.Lat, &r.Location.Lon); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}

// Count returns the number of stored records
func (p *Provider) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := p.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM locations").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// Stats reports table and index sizes
func (p *Provider) Stats(ctx context.Context) (map[string]any, error) {
	stats := make(map[string]any)

	var dbSize string
	if err := p.db.QueryRowContext(ctx, `SELECT pg_size_pretty(pg_database_size(current_database()))`).Scan(&dbSize); err != nil {
		return nil, fmt.Errorf("failed to get database size: %w", err)
	}
	stats["database_size"] = dbSize

	var tableSize, indexSize string
	err := p.db.QueryRowContext(ctx, `
		SELECT
			pg_size_pretty(pg_total_relation_size('locations')),
			pg_size_pretty(pg_indexes_size('locations'))
	`).Scan(&tableSize, &indexSize)
	if err != nil {
		// table might not exist yet
		stats["table_size"] = "0 bytes"
		stats["index_size"] = "0 bytes"
	} else {
		stats["table_size"] = tableSize
		stats["index_size"] = indexSize
	}

	count, _ := p.Count(ctx)
	stats["row_count"] = count
	return stats, nil
}

// Close closes the database connection
func (p *Provider) Close() error {
	return p.db.Close()
}
