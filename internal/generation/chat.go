package generation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/carewatch/internal/composer"
	"github.com/kalambet/carewatch/internal/engine"
	"github.com/kalambet/carewatch/internal/pipeline"
	"github.com/kalambet/carewatch/internal/risk"
)

// Chatter is satisfied by *engine.OllamaEngine and *proxy.Client.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error)
}

// Enricher is implemented by *pipeline.Enricher.
type Enricher interface {
	Enrich(ctx context.Context, a risk.Assessment) ([]engine.Message, pipeline.EnrichmentMetadata, error)
}

// ChatGenerator asks a chat model for a message grounded in retrieved
// guidance and the subject profile.
type ChatGenerator struct {
	name     string
	chat     Chatter
	model    string
	enricher Enricher
	logger   *slog.Logger
}

// NewChatGenerator creates a generator named name (used in logs and
// metrics) that sends prompts built by enricher to model.
func NewChatGenerator(name string, chat Chatter, model string, enricher Enricher) *ChatGenerator {
	return &ChatGenerator{
		name:     name,
		chat:     chat,
		model:    model,
		enricher: enricher,
		logger:   slog.Default(),
	}
}

func (g *ChatGenerator) Name() string { return g.name }

// Generate returns ErrGenerationUnavailable, joined with the cause, when the
// model cannot be reached or answers with no usable message.
func (g *ChatGenerator) Generate(ctx context.Context, cc CareContext) (Result, error) {
	msgs, meta, err := g.enricher.Enrich(ctx, cc.Assessment)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}

	text, err := g.chat.Chat(ctx, g.model, msgs, composer.Schema())
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s chat: %w", ErrGenerationUnavailable, g.name, err)
	}

	message, evidence := ExtractMessage(text)
	if message == "" {
		return Result{}, fmt.Errorf("%w: %s returned an empty message", ErrGenerationUnavailable, g.name)
	}
	if len(evidence) == 0 {
		for _, id := range meta.ChunksUsed {
			evidence = append(evidence, "guidance:"+id)
		}
	}

	g.logger.Debug("care message generated",
		"generator", g.name,
		"subject_id", cc.SubjectID,
		"chunks_used", len(meta.ChunksUsed),
	)
	return Result{Message: message, Evidence: evidence, Source: g.name}, nil
}
