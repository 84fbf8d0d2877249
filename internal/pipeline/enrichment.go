// Package pipeline gathers the context for a generated care message:
// retrieved guidance, the subject profile and recent care events.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/carewatch/internal/composer"
	"github.com/kalambet/carewatch/internal/engine"
	"github.com/kalambet/carewatch/internal/retrieval"
	"github.com/kalambet/carewatch/internal/risk"
	"github.com/kalambet/carewatch/internal/storage"
)

const (
	defaultTopK      = 4
	recentEvents     = 5
	retrieveTimeout  = 3 * time.Second
	generalQuery     = "daily wellbeing routine for an older adult"
	routingResultKey = "routing_result"
)

// ChunkRetriever is implemented by *retrieval.Retriever.
type ChunkRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error)
}

// ProfileSource is implemented by *profile.Manager.
type ProfileSource interface {
	GetSummary() (string, error)
}

// History supplies short descriptions of recent care activity, newest first.
type History interface {
	Recent(ctx context.Context, n int) ([]string, error)
}

// EnrichmentMetadata captures diagnostic information about the enrichment process.
type EnrichmentMetadata struct {
	Query                string
	ChunksUsed           []string
	EnrichmentDurationMs int64
}

// Enricher orchestrates guidance retrieval, profile loading, history lookup
// and prompt composition. Any collaborator may be nil.
type Enricher struct {
	retriever ChunkRetriever
	profile   ProfileSource
	history   History
	composer  *composer.Composer
	topK      int
	logger    *slog.Logger
}

// NewEnricher creates an Enricher. topK controls how many guidance chunks are
// retrieved (default 4 if <= 0).
func NewEnricher(
	retriever ChunkRetriever,
	profileSrc ProfileSource,
	history History,
	comp *composer.Composer,
	topK int,
) *Enricher {
	if topK <= 0 {
		topK = defaultTopK
	}
	if comp == nil {
		comp = composer.New(0)
	}
	return &Enricher{
		retriever: retriever,
		profile:   profileSrc,
		history:   history,
		composer:  comp,
		topK:      topK,
		logger:    slog.Default(),
	}
}

// Enrich builds the prompt for a. Each context source degrades on its own:
// a failed retrieval, profile or history lookup is logged and left out.
func (e *Enricher) Enrich(ctx context.Context, a risk.Assessment) (msgs []engine.Message, meta EnrichmentMetadata, err error) {
	start := time.Now()
	defer func() {
		meta.EnrichmentDurationMs = time.Since(start).Milliseconds()
	}()

	req := composer.Request{Assessment: a}
	meta.Query = Query(a)

	if e.retriever != nil {
		rctx, cancel := context.WithTimeout(ctx, retrieveTimeout)
		chunks, err := e.retriever.Retrieve(rctx, meta.Query, e.topK)
		cancel()
		if err != nil {
			e.logger.Warn("enrichment: guidance retrieval failed", "error", err)
		}
		for _, ch := range chunks {
			meta.ChunksUsed = append(meta.ChunksUsed, ch.ID)
		}
		req.Chunks = chunks
	}

	if e.profile != nil {
		summary, err := e.profile.GetSummary()
		if err != nil {
			e.logger.Warn("enrichment: failed to load profile summary", "error", err)
		}
		req.ProfileSummary = summary
	}

	if e.history != nil {
		events, err := e.history.Recent(ctx, recentEvents)
		if err != nil {
			e.logger.Warn("enrichment: failed to load recent events", "error", err)
		}
		req.RecentEvents = events
	}

	msgs, err = e.composer.Compose(req)
	if err != nil {
		return nil, meta, fmt.Errorf("composing prompt: %w", err)
	}

	e.logger.Debug("enrichment complete",
		"query", meta.Query,
		"chunks_used", len(meta.ChunksUsed),
	)
	return msgs, meta, nil
}

// Query turns an assessment into a retrieval query: its reasons, or a
// general wellbeing query when nothing stood out.
func Query(a risk.Assessment) string {
	if len(a.Reasons) == 0 {
		return generalQuery
	}
	return strings.Join(a.Reasons, "; ")
}

// EventLister is implemented by *storage.Store.
type EventLister interface {
	ListCareEvents(ctx context.Context, f storage.CareEventFilter) ([]storage.CareEvent, error)
}

// EventHistory renders recent routing results from the care event log.
type EventHistory struct {
	events EventLister
}

func NewEventHistory(events EventLister) *EventHistory {
	return &EventHistory{events: events}
}

// Recent returns up to n "<time> <route>/<level>: <message>" lines.
func (h *EventHistory) Recent(ctx context.Context, n int) ([]string, error) {
	events, err := h.events.ListCareEvents(ctx, storage.CareEventFilter{Kind: routingResultKey, Limit: n})
	if err != nil {
		return nil, fmt.Errorf("listing care events: %w", err)
	}
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		var p struct {
			Route   string `json:"route"`
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal([]byte(ev.Payload), &p); err != nil || p.Message == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s/%s: %s", ev.CreatedAt.UTC().Format("2006-01-02 15:04"), p.Route, p.Level, p.Message))
	}
	return lines, nil
}
