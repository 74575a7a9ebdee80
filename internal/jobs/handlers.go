package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/ashita-ai/kiroku/internal/llm"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/research"
	"github.com/ashita-ai/kiroku/internal/similarity"
	"github.com/ashita-ai/kiroku/internal/storage"
)

const similarRefsLimit = 3

// Researcher gathers optional web context for a decision. Implemented by
// *research.Client; nil disables research entirely.
type Researcher interface {
	ResearchDecision(ctx context.Context, fields research.DecisionFields) []research.Result
}

// Handlers owns the business logic of each job type.
type Handlers struct {
	db         *storage.DB
	llm        llm.Client
	engine     *similarity.Engine
	researcher Researcher
	logger     *slog.Logger
}

// NewHandlers wires the job handlers. researcher may be nil.
func NewHandlers(db *storage.DB, llmClient llm.Client, engine *similarity.Engine, researcher Researcher, logger *slog.Logger) *Handlers {
	return &Handlers{
		db:         db,
		llm:        llmClient,
		engine:     engine,
		researcher: researcher,
		logger:     logger,
	}
}

// Dispatch routes a claimed job to its handler.
func (h *Handlers) Dispatch(ctx context.Context, job *model.Job) error {
	switch job.Type {
	case model.JobDraftAndSearch:
		return h.handleDraftAndSearch(ctx, job.Payload.DecisionID)
	case model.JobExtractAndEmbed:
		return h.handleExtractAndEmbed(ctx, job.Payload.DecisionID)
	default:
		return fmt.Errorf("jobs: unknown job type %q", job.Type)
	}
}

// handleDraftAndSearch drafts an execution plan for a new decision and
// attaches similar past decisions. Every step is idempotent so a retried job
// simply overwrites its earlier partial results.
func (h *Handlers) handleDraftAndSearch(ctx context.Context, decisionID uuid.UUID) error {
	d, err := h.db.GetDecision(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("draft: load decision: %w", err)
	}

	queryText := similarity.BuildQueryText(d)
	queryVec, err := h.llm.Embed(ctx, queryText)
	if err != nil {
		return fmt.Errorf("draft: embed query: %w", err)
	}

	matches, err := h.engine.Rank(ctx, queryVec, queryText, d.UserID, d.ID, similarRefsLimit)
	if err != nil {
		return fmt.Errorf("draft: rank similar: %w", err)
	}
	refs := toReferences(matches)

	var researchBlock string
	if h.researcher != nil {
		results := h.researcher.ResearchDecision(ctx, research.DecisionFields{
			Subject:   d.Subject,
			Context:   d.Context,
			Rationale: d.Rationale,
		})
		researchBlock = research.FormatForPrompt(results)
	}

	raw, err := h.llm.Complete(ctx, planSystemPrompt, planUserMessage(&d, researchBlock, formatSimilarBlock(refs)))
	if err != nil {
		return fmt.Errorf("draft: complete: %w", err)
	}
	plan, err := parsePlan(raw)
	if err != nil {
		return fmt.Errorf("draft: %w", err)
	}

	if err := h.db.UpdateDraftResults(ctx, d.ID, plan, refs); err != nil {
		return fmt.Errorf("draft: store results: %w", err)
	}
	if err := h.db.NotifyDecisionUpdated(ctx, d.ID); err != nil {
		h.logger.Warn("draft: notify failed", "decision_id", d.ID, "error", err)
	}

	h.logger.Info("plan drafted", "decision_id", d.ID, "steps", len(plan), "similar_refs", len(refs))
	return nil
}

// handleExtractAndEmbed distills insights from a completed decision's
// reflection, then writes the search document and embedding that make the
// decision retrievable by future drafts.
func (h *Handlers) handleExtractAndEmbed(ctx context.Context, decisionID uuid.UUID) error {
	d, err := h.db.GetDecision(ctx, decisionID)
	if err != nil {
		return fmt.Errorf("extract: load decision: %w", err)
	}
	if d.Outcome == nil {
		return fmt.Errorf("extract: decision %s has no recorded outcome", d.ID)
	}
	outcome := *d.Outcome

	raw, err := h.llm.Complete(ctx, insightPrompt(outcome), insightUserMessage(&d))
	if err != nil {
		return fmt.Errorf("extract: complete: %w", err)
	}
	successDriver, failureReason, err := parseInsights(raw, outcome)
	if err != nil {
		return fmt.Errorf("extract: %w", err)
	}

	if err := h.db.UpdateInsights(ctx, d.ID, successDriver, failureReason); err != nil {
		return fmt.Errorf("extract: store insights: %w", err)
	}

	// Re-read so the search document reflects the stored insights.
	d.SuccessDriver = &successDriver
	d.FailureReason = &failureReason
	searchText := similarity.BuildSearchText(d)
	if err := h.db.UpdateSearchText(ctx, d.ID, searchText); err != nil {
		return fmt.Errorf("extract: store search text: %w", err)
	}

	vec, err := h.llm.Embed(ctx, searchText)
	if err != nil {
		return fmt.Errorf("extract: embed: %w", err)
	}
	if err := h.db.UpsertEmbedding(ctx, d.ID, d.UserID, vec, llm.ContentHash(searchText)); err != nil {
		return fmt.Errorf("extract: store embedding: %w", err)
	}

	if err := h.db.NotifyDecisionUpdated(ctx, d.ID); err != nil {
		h.logger.Warn("extract: notify failed", "decision_id", d.ID, "error", err)
	}

	h.logger.Info("insights extracted and embedded", "decision_id", d.ID, "outcome", outcome)
	return nil
}

func toReferences(matches []model.SimilarMatch) []model.SimilarityReference {
	refs := make([]model.SimilarityReference, 0, len(matches))
	for _, m := range matches {
		ref := model.SimilarityReference{
			DecisionID:    m.DecisionID,
			Score:         m.Score,
			Subject:       m.Subject,
			SuccessDriver: m.SuccessDriver,
			FailureReason: m.FailureReason,
		}
		if m.Outcome != nil {
			s := string(*m.Outcome)
			ref.Outcome = &s
		}
		refs = append(refs, ref)
	}
	return refs
}

// formatSimilarBlock renders prior matches as prompt context so the drafted
// plan can learn from recorded outcomes.
func formatSimilarBlock(refs []model.SimilarityReference) string {
	if len(refs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nSimilar past decisions by this user:\n")
	for _, r := range refs {
		b.WriteString("- " + r.Subject)
		if r.Outcome != nil {
			b.WriteString(" (outcome: " + *r.Outcome)
			if r.SuccessDriver != nil && *r.SuccessDriver != "None" {
				b.WriteString(", worked: " + *r.SuccessDriver)
			}
			if r.FailureReason != nil && *r.FailureReason != "None" {
				b.WriteString(", failed: " + *r.FailureReason)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return b.String()
}
