// Package retrieval finds care guidance relevant to an assessment by cosine
// similarity over embedded knowledge chunks.
package retrieval

import (
	"context"
	"fmt"
)

// ContextChunk is a retrieved guidance fragment with its similarity score.
type ContextChunk struct {
	ID    string
	DocID string
	Text  string
	Score float32
}

// Retriever combines embedding and vector search to find relevant guidance.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
	minScore float32
}

// NewRetriever creates a Retriever. Chunks scoring below minScore are
// dropped; pass 0 to keep everything.
func NewRetriever(embedder *Embedder, store VectorStore, minScore float32) *Retriever {
	return &Retriever{embedder: embedder, store: store, minScore: minScore}
}

// Retrieve embeds the query and returns up to topK similar chunks, best first.
// An empty knowledge base yields no chunks and no error.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]ContextChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge chunks: %w", err)
	}

	chunks := make([]ContextChunk, 0, len(scored))
	for _, s := range scored {
		if s.Score < r.minScore {
			continue
		}
		chunks = append(chunks, ContextChunk{ID: s.ID, DocID: s.DocID, Text: s.Text, Score: s.Score})
	}
	return chunks, nil
}
