package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// AppendCareEvent writes one entry to the care log.
func (s *Store) AppendCareEvent(ctx context.Context, e CareEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning care event transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertCareEvent(ctx, tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

// ListCareEvents returns care log entries matching f, newest first.
func (s *Store) ListCareEvents(ctx context.Context, f CareEventFilter) ([]CareEvent, error) {
	var where []string
	var args []any
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.ReminderID != 0 {
		where = append(where, "reminder_id = ?")
		args = append(args, f.ReminderID)
	}
	query := `SELECT id, kind, subject_id, reminder_id, payload, created_at FROM care_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing care events: %w", err)
	}
	defer rows.Close()

	var events []CareEvent
	for rows.Next() {
		var e CareEvent
		var reminderID sql.NullInt64
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Kind, &e.SubjectID, &reminderID, &e.Payload, &createdAt); err != nil {
			return nil, err
		}
		e.ReminderID = reminderID.Int64
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveRouteRecord appends a routing decision to the route log.
func (s *Store) SaveRouteRecord(ctx context.Context, r RouteRecord) error {
	if r.ReminderIDs == "" {
		r.ReminderIDs = "[]"
	}
	if r.Signals == "" {
		r.Signals = "{}"
	}
	if r.Scenario == "" {
		r.Scenario = "live"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_log (id, created_at, subject_id, scenario, level, score, route, message, reminder_ids, signals)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.CreatedAt), r.SubjectID, r.Scenario, r.Level, r.Score,
		r.Route, r.Message, r.ReminderIDs, r.Signals,
	)
	if err != nil {
		return fmt.Errorf("saving route record: %w", err)
	}
	return nil
}

const routeColumns = `id, created_at, subject_id, scenario, level, score, route, message, reminder_ids, signals`

func (s *Store) GetRouteRecord(ctx context.Context, id string) (RouteRecord, error) {
	r, err := scanRouteRecord(s.db.QueryRowContext(ctx, `SELECT `+routeColumns+` FROM route_log WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return RouteRecord{}, ErrNotFound
	}
	return r, err
}

// ListRouteRecords returns routing decisions, newest first.
func (s *Store) ListRouteRecords(ctx context.Context, limit, offset int) ([]RouteRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+routeColumns+` FROM route_log ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing route records: %w", err)
	}
	defer rows.Close()

	var out []RouteRecord
	for rows.Next() {
		r, err := scanRouteRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRouteRecord(row rowScanner) (RouteRecord, error) {
	var r RouteRecord
	var createdAt string
	if err := row.Scan(&r.ID, &createdAt, &r.SubjectID, &r.Scenario, &r.Level, &r.Score,
		&r.Route, &r.Message, &r.ReminderIDs, &r.Signals); err != nil {
		return RouteRecord{}, err
	}
	var err error
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return RouteRecord{}, err
	}
	return r, nil
}
