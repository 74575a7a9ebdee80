// Package decisions provides the shared business logic for decision
// operations.
//
// Both the HTTP API and MCP server delegate to this service, so validation,
// lifecycle rules, job enqueueing, and change notification behave identically
// across all interfaces.
package decisions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiroku/internal/jobs"
	"github.com/ashita-ai/kiroku/internal/llm"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/similarity"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

// Service encapsulates decision business logic shared by HTTP and MCP handlers.
type Service struct {
	db     *storage.DB
	queue  *jobs.Queue
	llm    llm.Client
	engine *similarity.Engine
	logger *slog.Logger

	created metric.Int64Counter
}

// New creates a new decision Service.
func New(db *storage.DB, queue *jobs.Queue, llmClient llm.Client, engine *similarity.Engine, logger *slog.Logger) *Service {
	meter := telemetry.Meter("kiroku/decisions")
	created, _ := meter.Int64Counter("kiroku.decisions.created",
		metric.WithDescription("Decisions recorded"))
	return &Service{
		db:      db,
		queue:   queue,
		llm:     llmClient,
		engine:  engine,
		logger:  logger,
		created: created,
	}
}

// CreateInput contains the four intake fields for a new decision.
type CreateInput struct {
	Subject         string `json:"subject"`
	Context         string `json:"context"`
	ExpectedOutcome string `json:"expected_outcome"`
	Rationale       string `json:"rationale"`
	RawInput        string `json:"raw_input,omitempty"`
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.Subject) == "" {
		return model.Validationf("subject is required")
	}
	if strings.TrimSpace(in.Context) == "" {
		return model.Validationf("context is required")
	}
	if strings.TrimSpace(in.ExpectedOutcome) == "" {
		return model.Validationf("expected_outcome is required")
	}
	if strings.TrimSpace(in.Rationale) == "" {
		return model.Validationf("rationale is required")
	}
	return nil
}

// Create records a new decision in DRAFTING state and enqueues the draft job
// that fills in the plan and similar-decision references asynchronously.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (model.Decision, error) {
	if err := in.validate(); err != nil {
		return model.Decision{}, err
	}

	d, err := s.db.CreateDecision(ctx, model.Decision{
		UserID:          userID,
		Subject:         strings.TrimSpace(in.Subject),
		Context:         strings.TrimSpace(in.Context),
		ExpectedOutcome: strings.TrimSpace(in.ExpectedOutcome),
		Rationale:       strings.TrimSpace(in.Rationale),
		RawInput:        in.RawInput,
	})
	if err != nil {
		return model.Decision{}, err
	}

	if _, err := s.queue.Enqueue(ctx, model.JobDraftAndSearch, model.JobPayload{DecisionID: d.ID}); err != nil {
		// The decision exists; a missing draft job is recoverable by hand but
		// must be loud.
		s.logger.Error("decision created but draft job not enqueued", "decision_id", d.ID, "error", err)
		return model.Decision{}, fmt.Errorf("decisions: enqueue draft job: %w", err)
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.String("source", "api")))
	s.logger.Info("decision created", "decision_id", d.ID, "user_id", userID)
	return d, nil
}

// Get returns one decision, scoped to its owner.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (model.Decision, error) {
	d, err := s.db.GetDecision(ctx, id)
	if err != nil {
		return model.Decision{}, err
	}
	if d.UserID != userID {
		// Cross-user lookups get the same answer as missing rows.
		return model.Decision{}, storage.ErrNotFound
	}
	return d, nil
}

// List returns the user's decisions, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]model.Decision, error) {
	return s.db.ListDecisionsByUser(ctx, userID)
}

// ConfirmPlan accepts a drafted plan, optionally replacing its steps, and
// activates the decision. Only DRAFTING decisions can be confirmed.
func (s *Service) ConfirmPlan(ctx context.Context, userID, id uuid.UUID, plan []model.PlanStep) (model.Decision, error) {
	d, err := s.Get(ctx, userID, id)
	if err != nil {
		return model.Decision{}, err
	}
	if d.Status != model.StatusDrafting {
		return model.Decision{}, model.Validationf(fmt.Sprintf("cannot confirm plan in status %s", d.Status))
	}

	if plan == nil {
		plan = d.Plan
	}
	if len(plan) == 0 {
		return model.Decision{}, model.Validationf("cannot activate a decision with an empty plan")
	}
	plan = normalizePlan(plan)

	if err := s.db.ReplacePlan(ctx, id, plan, model.StatusActive); err != nil {
		return model.Decision{}, err
	}
	s.publish(ctx, id)
	return s.Get(ctx, userID, id)
}

// UpdatePlan replaces the plan steps of an ACTIVE decision, typically to mark
// steps done or skipped. The lifecycle state is untouched.
func (s *Service) UpdatePlan(ctx context.Context, userID, id uuid.UUID, plan []model.PlanStep) (model.Decision, error) {
	d, err := s.Get(ctx, userID, id)
	if err != nil {
		return model.Decision{}, err
	}
	if d.Status != model.StatusActive {
		return model.Decision{}, model.Validationf(fmt.Sprintf("cannot update plan in status %s", d.Status))
	}
	if len(plan) == 0 {
		return model.Decision{}, model.Validationf("plan cannot be empty")
	}
	plan = normalizePlan(plan)

	if err := s.db.ReplacePlan(ctx, id, plan, ""); err != nil {
		return model.Decision{}, err
	}
	s.publish(ctx, id)
	return s.Get(ctx, userID, id)
}

// Complete records the outcome and reflection for an ACTIVE decision whose
// steps are all settled, then enqueues insight extraction and embedding.
func (s *Service) Complete(ctx context.Context, userID, id uuid.UUID, outcome string, reflection string) (model.Decision, error) {
	if !model.ValidOutcome(outcome) {
		return model.Decision{}, model.Validationf(fmt.Sprintf("invalid outcome %q", outcome))
	}

	d, err := s.Get(ctx, userID, id)
	if err != nil {
		return model.Decision{}, err
	}
	if d.Status != model.StatusActive {
		return model.Decision{}, model.Validationf(fmt.Sprintf("cannot complete a decision in status %s", d.Status))
	}
	if n := model.PendingSteps(d.Plan); n > 0 {
		return model.Decision{}, model.Validationf(fmt.Sprintf("%d plan steps still pending; mark them done or skipped first", n))
	}

	if err := s.db.CompleteDecision(ctx, id, model.Outcome(outcome), reflection); err != nil {
		return model.Decision{}, err
	}

	if _, err := s.queue.Enqueue(ctx, model.JobExtractAndEmbed, model.JobPayload{DecisionID: id}); err != nil {
		s.logger.Error("decision completed but extract job not enqueued", "decision_id", id, "error", err)
		return model.Decision{}, fmt.Errorf("decisions: enqueue extract job: %w", err)
	}

	s.publish(ctx, id)
	return s.Get(ctx, userID, id)
}

// Delete soft-deletes a decision. Its embedding row is removed by trigger, so
// it immediately stops appearing in similarity results.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.db.SoftDeleteDecision(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, id)
	return nil
}

// FindSimilar runs hybrid retrieval against the user's completed decisions
// using an ad-hoc query text.
func (s *Service) FindSimilar(ctx context.Context, userID uuid.UUID, query string, limit int) ([]model.SimilarMatch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, model.Validationf("query is required")
	}

	start := time.Now()
	vec, err := s.llm.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("decisions: embed query: %w", err)
	}

	matches, err := s.engine.Rank(ctx, vec, query, userID, uuid.Nil, limit)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("similarity query served", "user_id", userID, "matches", len(matches), "took", time.Since(start))
	return matches, nil
}

// publish fires the change notification. Failures are logged, not returned:
// the write already succeeded and listeners re-fetch on their next event.
func (s *Service) publish(ctx context.Context, id uuid.UUID) {
	if err := s.db.NotifyDecisionUpdated(ctx, id); err != nil {
		s.logger.Warn("change notification failed", "decision_id", id, "error", err)
	}
}

// normalizePlan fills in missing step ids and statuses on client-supplied
// plans and rejects nothing else; step text is the user's to shape.
func normalizePlan(plan []model.PlanStep) []model.PlanStep {
	out := make([]model.PlanStep, len(plan))
	for i, s := range plan {
		if s.StepID == uuid.Nil {
			s.StepID = uuid.New()
		}
		if s.Status == "" {
			s.Status = model.StepPending
		}
		s.Desc = strings.TrimSpace(s.Desc)
		out[i] = s
	}
	return out
}
