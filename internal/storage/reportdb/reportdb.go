// Package reportdb keeps one summary row per simulation run in a
// relational database, sqlite for local use or postgres when shared.
package reportdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/LeJamon/tmsim/internal/core/consensus/csf"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrDatabaseClosed is returned after Close.
	ErrDatabaseClosed = errors.New("reportdb: database is closed")

	// ErrInvalidDriver is returned for an unsupported driver name.
	ErrInvalidDriver = errors.New("reportdb: invalid driver")

	// ErrRunNotFound is returned by GetRun for an unknown id.
	ErrRunNotFound = errors.New("reportdb: run not found")
)

const defaultTimeout = 5 * time.Second

// Run is one stored run summary.
type Run struct {
	ID               string    `json:"id" yaml:"id"`
	Preset           string    `json:"preset" yaml:"preset"`
	Seed             int64     `json:"seed" yaml:"seed"`
	NodeCount        int       `json:"nodeCount" yaml:"nodeCount"`
	Rounds           int       `json:"rounds" yaml:"rounds"`
	Committed        int       `json:"committed" yaml:"committed"`
	Timeouts         int       `json:"timeouts" yaml:"timeouts"`
	Rejected         int       `json:"rejected" yaml:"rejected"`
	SafetyViolations int       `json:"safetyViolations" yaml:"safetyViolations"`
	SuccessRate      float64   `json:"successRate" yaml:"successRate"`
	CreatedAt        time.Time `json:"createdAt" yaml:"createdAt"`
}

// NewRun builds a run row from a session summary and stamps a fresh id.
func NewRun(preset string, seed int64, nodeCount int, s csf.RoundSummary, at time.Time) Run {
	return Run{
		ID:               uuid.NewString(),
		Preset:           preset,
		Seed:             seed,
		NodeCount:        nodeCount,
		Rounds:           s.Rounds,
		Committed:        s.Committed,
		Timeouts:         s.TimedOut,
		Rejected:         s.Rejected,
		SafetyViolations: s.Violations,
		SuccessRate:      s.SuccessRate,
		CreatedAt:        at.UTC(),
	}
}

// DB stores run summaries.
type DB struct {
	db     *sql.DB
	driver string
	log    *zap.Logger
}

// Open connects, pings and creates the schema when missing.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// sqlite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	db := &DB{db: sqlDB, driver: driver, log: logger.Named("reportdb")}
	if err := db.initSchema(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return db, nil
}

func (db *DB) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			preset TEXT NOT NULL,
			seed BIGINT NOT NULL,
			node_count INTEGER NOT NULL,
			rounds INTEGER NOT NULL,
			committed INTEGER NOT NULL,
			timeouts INTEGER NOT NULL,
			rejected INTEGER NOT NULL,
			safety_violations INTEGER NOT NULL,
			success_rate DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	}
	for _, q := range queries {
		if _, err := db.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveRun inserts a run row. An empty ID is filled with a new uuid.
func (db *DB) SaveRun(ctx context.Context, run Run) (Run, error) {
	if db.db == nil {
		return Run{}, ErrDatabaseClosed
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := db.db.ExecContext(ctx, db.rebind(`INSERT INTO runs
		(id, preset, seed, node_count, rounds, committed, timeouts, rejected, safety_violations, success_rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		run.ID, run.Preset, run.Seed, run.NodeCount, run.Rounds, run.Committed,
		run.Timeouts, run.Rejected, run.SafetyViolations, run.SuccessRate, run.CreatedAt)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	db.log.Info("run saved",
		zap.String("id", run.ID),
		zap.String("preset", run.Preset),
		zap.Int("rounds", run.Rounds),
		zap.Float64("successRate", run.SuccessRate),
	)
	return run, nil
}

const selectRuns = `SELECT id, preset, seed, node_count, rounds, committed, timeouts, rejected,
	safety_violations, success_rate, created_at FROM runs`

// ListRuns returns up to limit runs, newest first. A non-positive limit
// returns every run.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if db.db == nil {
		return nil, ErrDatabaseClosed
	}
	query := selectRuns + ` ORDER BY created_at DESC, id`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.db.QueryContext(ctx, db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id.
func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	if db.db == nil {
		return Run{}, ErrDatabaseClosed
	}
	row := db.db.QueryRowContext(ctx, db.rebind(selectRuns+` WHERE id = ?`), id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (Run, error) {
	var run Run
	err := s.Scan(&run.ID, &run.Preset, &run.Seed, &run.NodeCount, &run.Rounds,
		&run.Committed, &run.Timeouts, &run.Rejected, &run.SafetyViolations,
		&run.SuccessRate, &run.CreatedAt)
	if err != nil {
		return Run{}, err
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return run, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if db.db == nil {
		return nil
	}
	err := db.db.Close()
	db.db = nil
	return err
}
