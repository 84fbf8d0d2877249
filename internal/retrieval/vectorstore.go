package retrieval

import (
	"context"
	"time"
)

// VectorStore stores embedded guidance chunks and answers similarity queries.
// SQLiteStore is the only implementation; the interface keeps the retriever
// and the ingest worker testable without a database.
type VectorStore interface {
	// Insert adds chunks in one transaction.
	Insert(ctx context.Context, chunks []Chunk) error

	// Search returns the topK chunks most similar to vector, best first.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredChunk, error)

	// DeleteDoc removes every chunk of a document and reports how many went.
	DeleteDoc(ctx context.Context, docID string) (int, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)
}

// Chunk is one embedded slice of a knowledge document.
type Chunk struct {
	ID        string
	DocID     string
	Seq       int
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredChunk is a Chunk with its cosine similarity to the query.
type ScoredChunk struct {
	Chunk
	Score float32
}
