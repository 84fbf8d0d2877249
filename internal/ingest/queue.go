// Package ingest turns care guidance documents into embedded chunks for
// retrieval. Documents are stored and queued first; a Worker indexes them.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/carewatch/internal/storage"
)

// JobType is the job queue type the Worker claims.
const JobType = "knowledge_index"

var ErrEmptyDocument = errors.New("document has no text")

// Document is a knowledge base submission.
type Document struct {
	Title  string
	Source string
	Format string
	Tags   []string
	// Data is the raw document; Extract turns it into text.
	Data []byte
}

// Queue is implemented by *storage.Store.
type Queue interface {
	SaveKnowledgeDoc(ctx context.Context, doc storage.KnowledgeDoc) error
	EnqueueJob(ctx context.Context, job storage.Job) error
}

type indexPayload struct {
	DocID string `json:"doc_id"`
}

// Submit extracts the document text, stores the document and queues an
// indexing job. It returns the document and job ids.
func Submit(ctx context.Context, q Queue, d Document) (string, string, error) {
	if d.Source == "" {
		return "", "", errors.New("document source is required")
	}
	format := d.Format
	if format == "" {
		format = FormatText
	}
	text, err := Extract(format, d.Data)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", "", ErrEmptyDocument
	}

	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("marshalling tags: %w", err)
	}

	doc := storage.KnowledgeDoc{
		ID:        uuid.New().String(),
		Title:     d.Title,
		Content:   text,
		Source:    d.Source,
		Format:    format,
		Tags:      string(tagsJSON),
		CreatedAt: time.Now().UTC(),
	}
	if err := q.SaveKnowledgeDoc(ctx, doc); err != nil {
		return "", "", fmt.Errorf("saving document: %w", err)
	}

	payload, err := json.Marshal(indexPayload{DocID: doc.ID})
	if err != nil {
		return "", "", fmt.Errorf("creating job payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
	}
	if err := q.EnqueueJob(ctx, job); err != nil {
		return "", "", fmt.Errorf("enqueuing job: %w", err)
	}
	return doc.ID, job.ID, nil
}
