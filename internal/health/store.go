package health

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const schemaVersion = 1

// ErrSchemaMismatch indicates a history database written by another version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store keeps health snapshot history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// SlotEvent is one slot row from a stored snapshot.
type SlotEvent struct {
	SnapshotID       int64
	TakenAt          time.Time
	Slot             int
	State            string
	Device           string
	Generation       uint64
	FailureReason    string
	RestartsInWindow int
}

// OpenStore opens or creates the history database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Emit records snap, so a Store can be used directly as an Emitter.
func (s *Store) Emit(ctx context.Context, snap Snapshot) error {
	_, err := s.Record(ctx, snap)
	return err
}

// Record stores one snapshot and its slot rows, returning the snapshot id.
func (s *Store) Record(ctx context.Context, snap Snapshot) (int64, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}
	active := snap.StateCounts()["ACTIVE"]

	var id int64
	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (
                taken_at, run_id, active_slots, total_slots, capture_fps, ui_fps, summary, payload_json
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.TakenAt.UTC().Format(timeLayout),
			nullableString(snap.RunID),
			active,
			len(snap.Slots),
			snap.Perf.CaptureFPS,
			snap.Perf.UIFPS,
			snap.Summary(),
			string(payload),
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}
		for _, slot := range snap.Slots {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO slot_events (
                    snapshot_id, slot_index, state, device, generation, failure_reason, restarts_in_window
                ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id,
				slot.Index,
				slot.State,
				nullableString(slot.Device),
				int64(slot.Generation),
				nullableString(slot.FailureReason),
				slot.RestartsInWindow,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, fmt.Errorf("record snapshot: %w", err)
	}
	return id, nil
}

// Recent returns up to limit snapshots, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload_json FROM snapshots ORDER BY taken_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(payload), &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// SlotHistory returns up to limit recorded rows for one slot, newest first.
func (s *Store) SlotHistory(ctx context.Context, slot, limit int) ([]SlotEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.snapshot_id, s.taken_at, e.slot_index, e.state, e.device, e.generation,
                e.failure_reason, e.restarts_in_window
         FROM slot_events e JOIN snapshots s ON s.id = e.snapshot_id
         WHERE e.slot_index = ?
         ORDER BY e.snapshot_id DESC LIMIT ?`, slot, limit)
	if err != nil {
		return nil, fmt.Errorf("query slot history: %w", err)
	}
	defer rows.Close()

	var events []SlotEvent
	for rows.Next() {
		var (
			ev         SlotEvent
			takenAt    string
			device     sql.NullString
			reason     sql.NullString
			generation int64
		)
		if err := rows.Scan(&ev.SnapshotID, &takenAt, &ev.Slot, &ev.State, &device, &generation, &reason, &ev.RestartsInWindow); err != nil {
			return nil, fmt.Errorf("scan slot event: %w", err)
		}
		if ts, err := time.Parse(timeLayout, takenAt); err == nil {
			ev.TakenAt = ts
		}
		ev.Device = device.String
		ev.FailureReason = reason.String
		ev.Generation = uint64(generation)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Prune deletes snapshots taken before cutoff and returns how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		stamp := cutoff.UTC().Format(timeLayout)
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM slot_events WHERE snapshot_id IN (SELECT id FROM snapshots WHERE taken_at < ?)`, stamp); err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE taken_at < ?`, stamp)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return removed, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
