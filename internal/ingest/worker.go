package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/carewatch/internal/retrieval"
	"github.com/kalambet/carewatch/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
	GetKnowledgeDoc(ctx context.Context, id string) (storage.KnowledgeDoc, error)
	MarkKnowledgeDocIndexed(ctx context.Context, id string, chunks int) error
}

// BatchEmbedder generates embeddings for chunk texts, in order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkWriter stores embedded chunks.
type ChunkWriter interface {
	Insert(ctx context.Context, chunks []retrieval.Chunk) error
	DeleteDoc(ctx context.Context, docID string) (int, error)
}

// Worker processes knowledge_index jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	embedder  BatchEmbedder
	chunks    ChunkWriter
	poll      time.Duration
	chunkSize int
	overlap   int
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder BatchEmbedder, chunks ChunkWriter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		embedder:  embedder,
		chunks:    chunks,
		poll:      pollInterval,
		chunkSize: defaultChunkChars,
		overlap:   defaultOverlapChars,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single knowledge_index job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload indexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetKnowledgeDoc(ctx, payload.DocID)
	if err != nil {
		return fmt.Errorf("loading knowledge doc %s: %w", payload.DocID, err)
	}

	texts := Split(doc.Content, w.chunkSize, w.overlap)
	vecs, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	now := time.Now().UTC()
	chunks := make([]retrieval.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = retrieval.Chunk{
			ID:        uuid.New().String(),
			DocID:     doc.ID,
			Seq:       i,
			Text:      text,
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}

	// A retried job may have stored chunks before failing.
	if _, err := w.chunks.DeleteDoc(ctx, doc.ID); err != nil {
		return fmt.Errorf("clearing previous chunks: %w", err)
	}
	if err := w.chunks.Insert(ctx, chunks); err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}

	if err := w.store.MarkKnowledgeDocIndexed(ctx, doc.ID, len(chunks)); err != nil {
		return fmt.Errorf("marking doc indexed: %w", err)
	}
	w.logger.Info("knowledge doc indexed", "doc_id", doc.ID, "chunks", len(chunks))
	return nil
}
