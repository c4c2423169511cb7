package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const settlementFlagsSchema = `CREATE TABLE IF NOT EXISTS settlement_flags (
	intent_id VARCHAR(64) PRIMARY KEY,
	state VARCHAR(16) NOT NULL,
	updated_at BIGINT NOT NULL
)`

// SQLReplayGuard keeps settlement flags in the same database as the intent
// records, so replay protection survives restarts of a sqlite or mysql
// deployment. The primary key makes Reserve an atomic insert.
type SQLReplayGuard struct {
	db           *sql.DB
	insertIgnore string
	ttl          time.Duration
	now          func() time.Time
}

var _ ReplayGuard = (*SQLReplayGuard)(nil)

// NewSQLReplayGuard creates the settlement_flags table if needed. driver is
// the database/sql driver name, "sqlite3" or "mysql".
func NewSQLReplayGuard(ctx context.Context, db *sql.DB, driver string, opts ...GuardOption) (*SQLReplayGuard, error) {
	var insert string
	switch driver {
	case "sqlite3":
		insert = `INSERT OR IGNORE INTO settlement_flags (intent_id, state, updated_at) VALUES (?, ?, ?)`
	case "mysql":
		insert = `INSERT IGNORE INTO settlement_flags (intent_id, state, updated_at) VALUES (?, ?, ?)`
	default:
		return nil, fmt.Errorf("unsupported replay guard driver %q", driver)
	}
	if _, err := db.ExecContext(ctx, settlementFlagsSchema); err != nil {
		return nil, fmt.Errorf("failed to create settlement_flags: %w", err)
	}
	return &SQLReplayGuard{
		db:           db,
		insertIgnore: insert,
		ttl:          applyGuardOptions(opts).ttl,
		now:          time.Now,
	}, nil
}

func (g *SQLReplayGuard) Reserve(ctx context.Context, intentID string) error {
	now := g.now()
	res, err := g.db.ExecContext(ctx, g.insertIgnore, intentID, flagReserved, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to reserve settlement: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to reserve settlement: %w", err)
	} else if n == 1 {
		return nil
	}

	// take over a reservation whose holder never came back
	res, err = g.db.ExecContext(ctx,
		`UPDATE settlement_flags SET updated_at = ? WHERE intent_id = ? AND state = ? AND updated_at < ?`,
		now.UnixMilli(), intentID, flagReserved, now.Add(-g.ttl).UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to reclaim settlement reservation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	settled, err := g.Settled(ctx, intentID)
	if err != nil {
		return err
	}
	if settled {
		return ErrAlreadySettled
	}
	return ErrSettlementInFlight
}

func (g *SQLReplayGuard) Commit(ctx context.Context, intentID string) error {
	res, err := g.db.ExecContext(ctx,
		`UPDATE settlement_flags SET state = ?, updated_at = ? WHERE intent_id = ? AND state = ?`,
		flagSettled, g.now().UnixMilli(), intentID, flagReserved)
	if err != nil {
		return fmt.Errorf("failed to commit settlement flag: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}
	settled, err := g.Settled(ctx, intentID)
	if err != nil {
		return err
	}
	if !settled {
		return fmt.Errorf("intent %s has no reservation to commit", intentID)
	}
	return nil
}

func (g *SQLReplayGuard) Release(ctx context.Context, intentID string) error {
	_, err := g.db.ExecContext(ctx,
		`DELETE FROM settlement_flags WHERE intent_id = ? AND state = ?`, intentID, flagReserved)
	if err != nil {
		return fmt.Errorf("failed to release settlement reservation: %w", err)
	}
	return nil
}

func (g *SQLReplayGuard) Settled(ctx context.Context, intentID string) (bool, error) {
	var state string
	err := g.db.QueryRowContext(ctx, `SELECT state FROM settlement_flags WHERE intent_id = ?`, intentID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read settlement flag: %w", err)
	}
	return state == flagSettled, nil
}
