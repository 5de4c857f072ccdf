package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kattete/Tidal-Miner/internal/domain/inventory"
	"github.com/Kattete/Tidal-Miner/internal/domain/item"
)

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Append(ctx context.Context, event GameEvent) error {
	payloadBytes, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO events (id, session_id, timestamp, event_type, actor_id, target_id, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		event.ID, event.SessionID, event.Timestamp.UnixNano(), event.EventType, event.ActorID,
		event.TargetID, string(payloadBytes),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

const eventColumns = `id, session_id, timestamp, event_type, actor_id, target_id, payload`

func (r *SQLiteEventRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]GameEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []GameEvent
	for rows.Next() {
		var (
			e          GameEvent
			nanos      int64
			payloadStr string
		)
		err := rows.Scan(
			&e.ID, &e.SessionID, &nanos, &e.EventType, &e.ActorID,
			&e.TargetID, &payloadStr,
		)
		if err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(0, nanos)
		if err := json.Unmarshal([]byte(payloadStr), &e.Payload); err != nil {
			return nil, fmt.Errorf("event %s has a corrupt payload: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *SQLiteEventRepository) GetBySession(ctx context.Context, sessionID string) ([]GameEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE session_id = ? ORDER BY seq ASC`
	return r.getMany(ctx, query, sessionID)
}

func (r *SQLiteEventRepository) GetByEventType(ctx context.Context, sessionID string, eventType string) ([]GameEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE session_id = ? AND event_type = ? ORDER BY seq ASC`
	return r.getMany(ctx, query, sessionID, eventType)
}

func (r *SQLiteEventRepository) GetRecent(ctx context.Context, limit int) ([]GameEvent, error) {
	if limit < 1 {
		return nil, nil
	}
	query := `SELECT ` + eventColumns + ` FROM (
		SELECT seq, ` + eventColumns + ` FROM events ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`
	return r.getMany(ctx, query, limit)
}

// ---------------------------------------------------------
// SQLiteInventoryRepository
// ---------------------------------------------------------

type SQLiteInventoryRepository struct {
	db *sql.DB
}

func NewSQLiteInventoryRepository(db *sql.DB) *SQLiteInventoryRepository {
	return &SQLiteInventoryRepository{db: db}
}

// Save writes the session row and replaces its slots in one transaction.
func (r *SQLiteInventoryRepository) Save(ctx context.Context, snapshot InventorySnapshot) error {
	if snapshot.LastUpdated.IsZero() {
		snapshot.LastUpdated = time.Now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO sessions (session_id, player_name, capacity, equipped_slot, items_collected, items_crafted, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			player_name=excluded.player_name,
			capacity=excluded.capacity,
			equipped_slot=excluded.equipped_slot,
			items_collected=excluded.items_collected,
			items_crafted=excluded.items_crafted,
			last_updated=excluded.last_updated
	`
	_, err = tx.ExecContext(ctx, query,
		snapshot.SessionID, snapshot.PlayerName, snapshot.Capacity, snapshot.EquippedSlot,
		snapshot.ItemsCollected, snapshot.ItemsCrafted, snapshot.LastUpdated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", snapshot.SessionID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM inventory_slots WHERE session_id = ?`, snapshot.SessionID); err != nil {
		return fmt.Errorf("failed to clear slots of %s: %w", snapshot.SessionID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO inventory_slots (session_id, slot_index, item_id, quantity) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, rec := range snapshot.Slots {
		if _, err := stmt.ExecContext(ctx, snapshot.SessionID, rec.Index, string(rec.Item), rec.Quantity); err != nil {
			return fmt.Errorf("failed to save slot %d of %s: %w", rec.Index, snapshot.SessionID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM craft_jobs WHERE session_id = ?`, snapshot.SessionID); err != nil {
		return fmt.Errorf("failed to clear crafts of %s: %w", snapshot.SessionID, err)
	}
	for _, job := range snapshot.PendingCrafts {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO craft_jobs (job_id, session_id, recipe, item_id, quantity, artifact, duration_ms, remaining_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.JobID, snapshot.SessionID, job.Recipe, string(job.Item), job.Quantity, job.Artifact,
			job.Duration.Milliseconds(), job.Remaining.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to save craft %s of %s: %w", job.JobID, snapshot.SessionID, err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteInventoryRepository) Load(ctx context.Context, sessionID string) (InventorySnapshot, error) {
	query := `SELECT session_id, player_name, capacity, equipped_slot, items_collected, items_crafted, last_updated FROM sessions WHERE session_id = ?`
	snap, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return InventorySnapshot{}, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return InventorySnapshot{}, err
	}
	if snap.Slots, err = r.loadSlots(ctx, sessionID); err != nil {
		return InventorySnapshot{}, err
	}
	if snap.PendingCrafts, err = r.loadCrafts(ctx, sessionID); err != nil {
		return InventorySnapshot{}, err
	}
	return snap, nil
}

func (r *SQLiteInventoryRepository) List(ctx context.Context) ([]InventorySnapshot, error) {
	query := `SELECT session_id, player_name, capacity, equipped_slot, items_collected, items_crafted, last_updated FROM sessions ORDER BY session_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	var snaps []InventorySnapshot
	for rows.Next() {
		snap, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range snaps {
		if snaps[i].Slots, err = r.loadSlots(ctx, snaps[i].SessionID); err != nil {
			return nil, err
		}
		if snaps[i].PendingCrafts, err = r.loadCrafts(ctx, snaps[i].SessionID); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (InventorySnapshot, error) {
	var (
		s     InventorySnapshot
		nanos int64
	)
	if err := row.Scan(&s.SessionID, &s.PlayerName, &s.Capacity, &s.EquippedSlot, &s.ItemsCollected, &s.ItemsCrafted, &nanos); err != nil {
		return InventorySnapshot{}, err
	}
	s.LastUpdated = time.Unix(0, nanos)
	return s, nil
}

func (r *SQLiteInventoryRepository) loadSlots(ctx context.Context, sessionID string) ([]inventory.Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT slot_index, item_id, quantity FROM inventory_slots WHERE session_id = ? ORDER BY slot_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]inventory.Record, 0)
	for rows.Next() {
		var (
			rec inventory.Record
			id  string
		)
		if err := rows.Scan(&rec.Index, &id, &rec.Quantity); err != nil {
			return nil, err
		}
		rec.Item = item.ID(id)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *SQLiteInventoryRepository) loadCrafts(ctx context.Context, sessionID string) ([]PendingCraft, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT job_id, recipe, item_id, quantity, artifact, duration_ms, remaining_ms FROM craft_jobs WHERE session_id = ? ORDER BY remaining_ms, job_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []PendingCraft
	for rows.Next() {
		var (
			job                   PendingCraft
			id                    string
			durationMS, remaining int64
		)
		if err := rows.Scan(&job.JobID, &job.Recipe, &id, &job.Quantity, &job.Artifact, &durationMS, &remaining); err != nil {
			return nil, err
		}
		job.Item = item.ID(id)
		job.Duration = time.Duration(durationMS) * time.Millisecond
		job.Remaining = time.Duration(remaining) * time.Millisecond
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
