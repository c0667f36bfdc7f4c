package recorder

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"PointsLedger/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists snapshot history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	mu  sync.Mutex
	log *slog.Logger
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(log *slog.Logger, dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets dashboards read while the refresh tasks write.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("recorder: sqlite opened", "path", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshot_history (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp          INTEGER NOT NULL,
			snapshot_id        TEXT NOT NULL,
			program            TEXT NOT NULL,
			token              TEXT NOT NULL,
			local_total_points TEXT,
			real_total         TEXT,
			distributed        TEXT,
			dust               TEXT,
			entries            INTEGER,
			oracle_stale       INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshot_program_ts ON snapshot_history(program, timestamp)`,

		`CREATE TABLE IF NOT EXISTS refresh_events (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp   INTEGER NOT NULL,
			program     TEXT NOT NULL,
			cycle_id    TEXT,
			status      TEXT,
			duration_ms INTEGER,
			entries     INTEGER,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_program_ts ON refresh_events(program, timestamp)`,

		`CREATE TABLE IF NOT EXISTS milestone_rewards (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			season     TEXT NOT NULL,
			category   TEXT NOT NULL,
			address    TEXT NOT NULL,
			points     TEXT,
			percentage TEXT,
			reward     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_milestone_season ON milestone_rewards(season, category)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordSnapshot(snap *model.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tokens := make([]string, 0, len(snap.Tokens))
	for t := range snap.Tokens {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, token := range tokens {
		tt := snap.Tokens[token]
		local := "0"
		if tt.LocalPoints != nil {
			local = tt.LocalPoints.String()
		}
		if _, err := tx.Exec(`INSERT INTO snapshot_history
			(timestamp, snapshot_id, program, token, local_total_points, real_total, distributed, dust, entries, oracle_stale)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			snap.BuiltAt.Unix(), snap.ID, snap.Program, token,
			local, tt.RealTotal.String(), tt.Distributed.String(), tt.Dust.String(),
			tt.Entries, tt.OracleStale,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRecorder) RecordRefresh(evt *RefreshEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO refresh_events
		(timestamp, program, cycle_id, status, duration_ms, entries, error)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.Program, evt.CycleID, evt.Status,
		evt.Duration.Milliseconds(), evt.Entries, evt.Error,
	)
	return err
}

func (r *SQLiteRecorder) RecordMilestone(season string, rewards []model.MilestoneReward) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, rw := range rewards {
		if _, err := tx.Exec(`INSERT INTO milestone_rewards
			(timestamp, season, category, address, points, percentage, reward)
			VALUES (?,?,?,?,?,?,?)`,
			now, season, rw.Category, rw.Address,
			rw.Points.String(), rw.Percentage.String(), rw.Reward.String(),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CountSnapshots returns the number of recorded token rows for program.
func (r *SQLiteRecorder) CountSnapshots(program string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM snapshot_history WHERE program = ?`, program).Scan(&n)
	return n, err
}

func (r *SQLiteRecorder) Close() error {
	r.log.Info("recorder: closing sqlite")
	return r.db.Close()
}
