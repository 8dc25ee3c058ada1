package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"chitfund/internal/model"
)

// SQLiteRecorder persists fund history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode lets dashboards read while the daemon writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fund_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			fund_id     TEXT NOT NULL,
			event_type  TEXT NOT NULL,
			participant TEXT,
			cycle       INTEGER,
			amount      INTEGER,
			pool_before INTEGER,
			pool_after  INTEGER,
			collateral  INTEGER NOT NULL DEFAULT 0,
			note        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fund_events_fund ON fund_events(fund_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_fund_events_ts ON fund_events(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordEvent(evt *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := evt.At
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.Exec(`INSERT INTO fund_events
		(timestamp, fund_id, event_type, participant, cycle, amount, pool_before, pool_after, collateral, note)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ts.Unix(), evt.FundID, string(evt.Type), evt.Participant, evt.Cycle,
		evt.Amount, evt.PoolBefore, evt.PoolAfter, evt.CollateralHeld, evt.Note,
	)
	return err
}

// Events returns the history of one fund in commit order.
func (r *SQLiteRecorder) Events(fundID string) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT timestamp, fund_id, event_type, participant, cycle, amount, pool_before, pool_after, collateral, note
		FROM fund_events WHERE fund_id = ? ORDER BY id`, fundID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var (
			e   model.Event
			ts  int64
			typ string
		)
		if err := rows.Scan(&ts, &e.FundID, &typ, &e.Participant, &e.Cycle,
			&e.Amount, &e.PoolBefore, &e.PoolAfter, &e.CollateralHeld, &e.Note); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = model.EventType(typ)
		e.At = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Totals sums the money flows recorded for one fund.
func (r *SQLiteRecorder) Totals(fundID string) (Totals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var t Totals
	err := r.db.QueryRow(`SELECT
			COALESCE(SUM(CASE WHEN event_type = ? THEN amount END), 0),
			COALESCE(SUM(CASE WHEN event_type = ? THEN amount END), 0),
			COALESCE(SUM(CASE WHEN event_type = ? THEN amount END), 0),
			COALESCE(SUM(CASE WHEN event_type = ? THEN amount END), 0)
		FROM fund_events WHERE fund_id = ?`,
		string(model.EventContribute), string(model.EventClaim),
		string(model.EventStake), string(model.EventWithdraw), fundID,
	).Scan(&t.Contributed, &t.PaidOut, &t.Staked, &t.Withdrawn)
	if err != nil {
		return Totals{}, fmt.Errorf("sum events: %w", err)
	}
	return t, nil
}

func (r *SQLiteRecorder) Close() error {
	log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
