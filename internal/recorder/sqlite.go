package recorder

import (
	"database/sql"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/yourorg/autocompounder/internal/model"
)

// SQLiteRecorder persists audit events to a SQLite database.
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

	// WAL mode so dashboards can read while the engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logrus.WithField("path", dbPath).Info("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			strategy         TEXT NOT NULL,
			kind             TEXT NOT NULL,
			caller           TEXT NOT NULL,
			want_gained      TEXT,
			amount           TEXT,
			total_controlled TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_strategy ON events(strategy, timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// Record inserts one audit event. Big integers are stored as decimal text so
// they survive values beyond int64.
func (r *SQLiteRecorder) Record(evt model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO events
		(timestamp, strategy, kind, caller, want_gained, amount, total_controlled)
		VALUES (?,?,?,?,?,?,?)`,
		evt.Timestamp, evt.Strategy, string(evt.Kind), evt.Caller.Hex(),
		bigText(evt.WantGained), bigText(evt.Amount), bigText(evt.TotalControlled),
	)
	return err
}

// Recent returns the newest events for a strategy, most recent first. An
// empty strategy name returns events across all strategies.
func (r *SQLiteRecorder) Recent(strategy string, limit int) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT timestamp, strategy, kind, caller, want_gained, amount, total_controlled
		FROM events WHERE (? = '' OR strategy = ?)
		ORDER BY timestamp DESC, id DESC LIMIT ?`
	rows, err := r.db.Query(query, strategy, strategy, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			evt                 model.Event
			kind, caller        string
			gained, amount, tot sql.NullString
		)
		if err := rows.Scan(&evt.Timestamp, &evt.Strategy, &kind, &caller, &gained, &amount, &tot); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Kind = model.EventKind(kind)
		evt.Caller = common.HexToAddress(caller)
		evt.WantGained = parseBig(gained)
		evt.Amount = parseBig(amount)
		evt.TotalControlled = parseBig(tot)
		events = append(events, evt)
	}
	return events, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	logrus.Info("closing sqlite recorder")
	return r.db.Close()
}

func bigText(v *big.Int) any {
	if v == nil {
		return nil
	}
	return v.String()
}

func parseBig(v sql.NullString) *big.Int {
	if !v.Valid {
		return nil
	}
	n, ok := new(big.Int).SetString(v.String, 10)
	if !ok {
		return nil
	}
	return n
}
