package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const reminderColumns = `id, subject_id, content, severity, due_at, repeat_rule, status, tags, origin, created_at, updated_at`

// InsertReminder persists r with a freshly assigned id and appends a
// reminder_created care event in the same transaction. r.Status defaults to
// "pending" and r.Tags to "[]".
func (s *Store) InsertReminder(ctx context.Context, r Reminder) (Reminder, error) {
	if r.Status == "" {
		r.Status = "pending"
	}
	if r.Tags == "" {
		r.Tags = "[]"
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.CreatedAt = r.CreatedAt.UTC().Truncate(time.Second)
	r.UpdatedAt = r.CreatedAt
	r.DueAt = r.DueAt.UTC().Truncate(time.Second)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Reminder{}, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO reminders (subject_id, content, severity, due_at, repeat_rule, status, tags, origin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SubjectID, r.Content, r.Severity, formatTime(r.DueAt), r.RepeatRule,
		r.Status, r.Tags, r.Origin, formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return Reminder{}, fmt.Errorf("inserting reminder: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return Reminder{}, fmt.Errorf("reading reminder id: %w", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"content":  r.Content,
		"severity": r.Severity,
		"due_time": formatTime(r.DueAt),
		"origin":   r.Origin,
	})
	if err := insertCareEvent(ctx, tx, CareEvent{
		Kind:       "reminder_created",
		SubjectID:  r.SubjectID,
		ReminderID: r.ID,
		Payload:    string(payload),
		CreatedAt:  r.CreatedAt,
	}); err != nil {
		return Reminder{}, err
	}

	if err := tx.Commit(); err != nil {
		return Reminder{}, fmt.Errorf("committing reminder: %w", err)
	}
	return r, nil
}

// GetReminder returns the reminder with the given id or ErrNotFound.
func (s *Store) GetReminder(ctx context.Context, id int64) (Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, ErrNotFound
	}
	return r, err
}

// GetReminders returns the reminders matching ids in the order requested.
// Unknown ids are skipped.
func (s *Store) GetReminders(ctx context.Context, ids []int64) ([]Reminder, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE id IN (?`+strings.Repeat(",?", len(ids)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reminders by id: %w", err)
	}
	byID, err := collectReminders(rows)
	if err != nil {
		return nil, err
	}

	index := make(map[int64]Reminder, len(byID))
	for _, r := range byID {
		index[r.ID] = r
	}
	out := make([]Reminder, 0, len(ids))
	for _, id := range ids {
		if r, ok := index[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// ListReminders returns reminders matching f, newest first.
func (s *Store) ListReminders(ctx context.Context, f ReminderFilter) ([]Reminder, error) {
	var where []string
	var args []any
	if f.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	query := `SELECT ` + reminderColumns + ` FROM reminders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}
	return collectReminders(rows)
}

// ListDueReminders returns pending reminders whose due time is at or before
// now, oldest due first.
func (s *Store) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reminderColumns+` FROM reminders
		WHERE status = 'pending' AND due_at <= ?
		ORDER BY due_at ASC, id ASC
		LIMIT ?`, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("listing due reminders: %w", err)
	}
	return collectReminders(rows)
}

// UpdateReminderStatus performs the read-modify-write of one reminder's status
// inside a single transaction. decide sees the committed row and reports the
// change to apply; returning false leaves the row untouched. A changed row
// also gets a reminder_status care event in the same transaction.
func (s *Store) UpdateReminderStatus(ctx context.Context, id int64, decide func(current Reminder) (StatusChange, bool)) (Reminder, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Reminder{}, false, fmt.Errorf("beginning status transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanReminder(tx.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, false, ErrNotFound
	}
	if err != nil {
		return Reminder{}, false, fmt.Errorf("loading reminder %d: %w", id, err)
	}

	change, ok := decide(current)
	if !ok {
		return current, false, nil
	}
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE reminders SET status = ?, origin = ?, updated_at = ? WHERE id = ? AND status = ?`,
		change.Status, change.Origin, formatTime(change.At), id, current.Status)
	if err != nil {
		return Reminder{}, false, fmt.Errorf("updating reminder %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Reminder{}, false, fmt.Errorf("checking updated reminder rows: %w", err)
	}
	if n != 1 {
		return current, false, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"from":   current.Status,
		"to":     change.Status,
		"origin": change.Origin,
	})
	if err := insertCareEvent(ctx, tx, CareEvent{
		Kind:       "reminder_status",
		SubjectID:  current.SubjectID,
		ReminderID: id,
		Payload:    string(payload),
		CreatedAt:  change.At,
	}); err != nil {
		return Reminder{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return Reminder{}, false, fmt.Errorf("committing status change: %w", err)
	}

	updated := current
	updated.Status = change.Status
	updated.Origin = change.Origin
	updated.UpdatedAt = change.At.UTC().Truncate(time.Second)
	return updated, true, nil
}

// CountRemindersByStatus returns the number of reminders in each status.
func (s *Store) CountRemindersByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM reminders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting reminders: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanReminder(row rowScanner) (Reminder, error) {
	var r Reminder
	var dueAt, createdAt, updatedAt string
	if err := row.Scan(&r.ID, &r.SubjectID, &r.Content, &r.Severity, &dueAt, &r.RepeatRule,
		&r.Status, &r.Tags, &r.Origin, &createdAt, &updatedAt); err != nil {
		return Reminder{}, err
	}
	var err error
	if r.DueAt, err = parseTime("due_at", dueAt); err != nil {
		return Reminder{}, err
	}
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Reminder{}, err
	}
	if r.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Reminder{}, err
	}
	return r, nil
}

func collectReminders(rows *sql.Rows) ([]Reminder, error) {
	defer rows.Close()
	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func insertCareEvent(ctx context.Context, tx *sql.Tx, e CareEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Payload == "" {
		e.Payload = "{}"
	}
	var reminderID any
	if e.ReminderID != 0 {
		reminderID = e.ReminderID
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO care_events (id, kind, subject_id, reminder_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Kind, e.SubjectID, reminderID, e.Payload, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording %s event: %w", e.Kind, err)
	}
	return nil
}
