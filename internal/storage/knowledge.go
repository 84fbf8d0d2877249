package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// --- Knowledge docs ---

func (s *Store) SaveKnowledgeDoc(ctx context.Context, doc KnowledgeDoc) error {
	if doc.Tags == "" {
		doc.Tags = "[]"
	}
	if doc.Format == "" {
		doc.Format = "text"
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_docs (id, title, content, source, format, tags, chunk_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Content, doc.Source, doc.Format, doc.Tags, doc.ChunkCount, formatTime(doc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving knowledge doc: %w", err)
	}
	return nil
}

const knowledgeDocColumns = `id, title, content, source, format, tags, chunk_count, created_at`

func (s *Store) GetKnowledgeDoc(ctx context.Context, id string) (KnowledgeDoc, error) {
	d, err := scanKnowledgeDoc(s.db.QueryRowContext(ctx, `SELECT `+knowledgeDocColumns+` FROM knowledge_docs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeDoc{}, ErrNotFound
	}
	return d, err
}

func (s *Store) ListKnowledgeDocs(ctx context.Context, limit, offset int) ([]KnowledgeDoc, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+knowledgeDocColumns+` FROM knowledge_docs ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing knowledge docs: %w", err)
	}
	defer rows.Close()

	var docs []KnowledgeDoc
	for rows.Next() {
		d, err := scanKnowledgeDoc(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// MarkKnowledgeDocIndexed records how many chunks were embedded for a doc.
func (s *Store) MarkKnowledgeDocIndexed(ctx context.Context, id string, chunks int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE knowledge_docs SET chunk_count = ? WHERE id = ?`, chunks, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanKnowledgeDoc(row rowScanner) (KnowledgeDoc, error) {
	var d KnowledgeDoc
	var createdAt string
	if err := row.Scan(&d.ID, &d.Title, &d.Content, &d.Source, &d.Format, &d.Tags, &d.ChunkCount, &createdAt); err != nil {
		return KnowledgeDoc{}, err
	}
	var err error
	if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return KnowledgeDoc{}, err
	}
	return d, nil
}

// --- Jobs ---

func (s *Store) EnqueueJob(ctx context.Context, job Job) error {
	now := formatTime(time.Now())
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = formatTime(job.RunAfter)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob moves the oldest runnable job of one of types to running and
// returns it, or returns nil when nothing is runnable.
func (s *Store) ClaimNextJob(ctx context.Context, types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := formatTime(time.Now())
	query := `SELECT id, type, payload_json, attempts, max_attempts, run_after, created_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`
	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var j Job
	var runAfter, createdAt string
	var lastError sql.NullString
	err = tx.QueryRowContext(ctx, query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &lastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime("run_after", runAfter); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	j.UpdatedAt, _ = parseTime("updated_at", now)
	return &j, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is retried with exponential
// backoff until max_attempts is reached, then marked failed.
func (s *Store) FailJob(ctx context.Context, id string, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++
	if attempts >= maxAttempts {
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now.Add(backoff)), formatTime(now), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// JobStatus returns the status and last error of a job.
func (s *Store) JobStatus(ctx context.Context, id string) (string, string, error) {
	var status string
	var lastError sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT status, last_error FROM jobs WHERE id = ?`, id).Scan(&status, &lastError)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	return status, lastError.String, err
}
