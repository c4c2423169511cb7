package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/speedrun-hq/speedrun-router/pkg/models"
)

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	Driver string
	// Schema is executed statement by statement on open
	Schema []string
	// InsertIgnore inserts unless the primary key exists
	InsertIgnore string
	// Setup runs after connecting, before the schema
	Setup func(db *sql.DB) error
}

// SQLite stores records in a single file with WAL journaling.
var SQLite = Dialect{
	Driver: "sqlite3",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS intent_records (
	id VARCHAR(64) PRIMARY KEY,
	version BIGINT NOT NULL,
	status VARCHAR(16) NOT NULL,
	deadline BIGINT NOT NULL DEFAULT 0,
	payload TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_intent_records_status ON intent_records(status)`,
		`CREATE INDEX IF NOT EXISTS idx_intent_records_created ON intent_records(created_at)`,
	},
	InsertIgnore: `INSERT OR IGNORE INTO intent_records
	(id, version, status, deadline, payload, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
	Setup: func(db *sql.DB) error {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		}
		for _, pragma := range pragmas {
			if _, err := db.Exec(pragma); err != nil {
				return fmt.Errorf("failed to execute %q: %w", pragma, err)
			}
		}
		return nil
	},
}

// MySQL stores records in a shared MySQL database.
var MySQL = Dialect{
	Driver: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS intent_records (
	id VARCHAR(64) PRIMARY KEY,
	version BIGINT NOT NULL,
	status VARCHAR(16) NOT NULL,
	deadline BIGINT NOT NULL DEFAULT 0,
	payload LONGTEXT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL,
	INDEX idx_intent_records_status (status),
	INDEX idx_intent_records_created (created_at)
)`,
	},
	InsertIgnore: `INSERT IGNORE INTO intent_records
	(id, version, status, deadline, payload, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
	Setup: func(db *sql.DB) error {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		return nil
	},
}

// SQLStore keeps records as JSON payloads keyed by intent id, with the
// version, status and deadline columns mirrored for CAS and filtering.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

var _ Store = (*SQLStore)(nil)

// OpenSQLite opens (or creates) a SQLite store at path.
func OpenSQLite(path string) (*SQLStore, error) {
	return OpenSQL(SQLite, path)
}

// OpenMySQL connects to a MySQL store.
func OpenMySQL(dsn string) (*SQLStore, error) {
	return OpenSQL(MySQL, dsn)
}

// OpenSQL opens a store for dialect and applies its schema.
func OpenSQL(dialect Dialect, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s DSN must not be empty", dialect.Driver)
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if dialect.Setup != nil {
		if err := dialect.Setup(db); err != nil {
			db.Close()
			return nil, err
		}
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.IntentRecord, error) {
	var payload string
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version, payload FROM intent_records WHERE id = ?`, id).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load intent record %s: %w", id, err)
	}
	return decodeRecord(payload, version)
}

func (s *SQLStore) Put(ctx context.Context, rec *models.IntentRecord) error {
	rec.Version = 1
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode intent record: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.dialect.InsertIgnore,
		rec.Intent.ID, rec.Version, string(rec.Status), rec.Intent.Deadline, string(payload), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert intent record %s: %w", rec.Intent.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert intent record %s: %w", rec.Intent.ID, err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQLStore) CompareAndSwap(ctx context.Context, expectedVersion int64, rec *models.IntentRecord) error {
	next := *rec
	next.Version = expectedVersion + 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to encode intent record: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE intent_records SET version = ?, status = ?, payload = ?, updated_at = ? WHERE id = ? AND version = ?`,
		next.Version, string(next.Status), string(payload), next.UpdatedAt, rec.Intent.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update intent record %s: %w", rec.Intent.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update intent record %s: %w", rec.Intent.ID, err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM intent_records WHERE id = ?`, rec.Intent.ID).Scan(&exists)
		return casMiss(rec.Intent.ID, err)
	}
	rec.Version = next.Version
	return nil
}

// casMiss explains an update that matched no row, given the result of
// looking the id up again.
func casMiss(id string, lookupErr error) error {
	switch {
	case lookupErr == nil:
		return ErrConflict
	case errors.Is(lookupErr, sql.ErrNoRows):
		return ErrNotFound
	}
	return fmt.Errorf("failed to check intent record %s: %w", id, lookupErr)
}

func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*models.IntentRecord, error) {
	query := `SELECT version, payload FROM intent_records`
	var args []interface{}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, len(opts.Statuses))
		for i, status := range opts.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY created_at, id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list intent records: %w", err)
	}
	defer rows.Close()

	out := []*models.IntentRecord{}
	for rows.Next() {
		var version int64
		var payload string
		if err := rows.Scan(&version, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan intent record: %w", err)
		}
		rec, err := decodeRecord(payload, version)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DB exposes the connection pool for tables that live next to the records.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Driver is the database/sql driver name of the store's dialect.
func (s *SQLStore) Driver() string { return s.dialect.Driver }

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// decodeRecord tolerates unknown and missing optional fields so older rows stay readable.
func decodeRecord(payload string, version int64) (*models.IntentRecord, error) {
	var rec models.IntentRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode intent record: %w", err)
	}
	rec.Version = version
	if rec.ReasonCodes == nil {
		rec.ReasonCodes = []models.ReasonEntry{}
	}
	if rec.FallbackMode.Reasons == nil {
		rec.FallbackMode.Reasons = []models.FallbackReason{}
	}
	return &rec, nil
}
