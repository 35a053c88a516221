package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"oversounds/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Database wraps a *sql.DB holding the storefront run log. It is safe for
// concurrent use because the underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger

	insertRunStmt  *sql.Stmt
	recentRunsStmt *sql.Stmt
}

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures the run table exists. Caller should Close() it when finished.
func NewDatabase(dbPath string, maxConnections int, logger *logrus.Logger) (*Database, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works better with few connections
	conn.SetMaxOpenConns(maxConnections)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=memory;",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	runsTable := `
	CREATE TABLE IF NOT EXISTS store_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		songs INTEGER NOT NULL DEFAULT 0,
		albums INTEGER NOT NULL DEFAULT 0,
		merch INTEGER NOT NULL DEFAULT 0,
		degraded TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_store_runs_started ON store_runs(started_at);",
	}

	if _, err := db.conn.Exec(runsTable); err != nil {
		return err
	}
	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) prepareStatements() error {
	var err error

	db.insertRunStmt, err = db.conn.Prepare(`
		INSERT INTO store_runs (id, started_at, duration_ms, songs, albums, merch, degraded, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert run statement: %w", err)
	}

	db.recentRunsStmt, err = db.conn.Prepare(`
		SELECT id, started_at, duration_ms, songs, albums, merch, degraded, error
		FROM store_runs
		ORDER BY started_at DESC
		LIMIT ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare recent runs statement: %w", err)
	}

	return nil
}

// RecordRun appends a storefront run to the log.
func (db *Database) RecordRun(ctx context.Context, run models.Run) error {
	_, err := db.insertRunStmt.ExecContext(ctx,
		run.ID,
		run.StartedAt.UTC(),
		run.Duration.Milliseconds(),
		run.Songs,
		run.Albums,
		run.Merch,
		strings.Join(run.Degraded, ","),
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// RecentRuns returns the latest runs, newest first.
func (db *Database) RecentRuns(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := db.recentRunsStmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		var run models.Run
		var degraded string
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.DurationMS, &run.Songs, &run.Albums, &run.Merch, &degraded, &run.Error); err != nil {
			return nil, err
		}
		run.Duration = time.Duration(run.DurationMS) * time.Millisecond
		run.Degraded = []string{}
		if degraded != "" {
			run.Degraded = strings.Split(degraded, ",")
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Ping checks that the database is reachable.
func (db *Database) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the prepared statements and the database connection.
func (db *Database) Close() error {
	statements := []*sql.Stmt{
		db.insertRunStmt,
		db.recentRunsStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
