package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ashita-ai/kiroku/internal/model"
)

const decisionColumns = `id, user_id, status, subject, context, expected_outcome, rationale,
	 raw_input, plan, outcome, raw_reflection, success_driver, failure_reason,
	 similarity_refs, search_text, is_deleted, created_at, updated_at, completed_at`

// CreateDecision inserts a decision and returns it with defaults filled in.
func (db *DB) CreateDecision(ctx context.Context, d model.Decision) (model.Decision, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
	if d.Status == "" {
		d.Status = model.StatusDrafting
	}
	if d.Plan == nil {
		d.Plan = []model.PlanStep{}
	}
	if d.SimilarityRefs == nil {
		d.SimilarityRefs = []model.SimilarityReference{}
	}

	planJSON, refsJSON, err := marshalPlanAndRefs(d.Plan, d.SimilarityRefs)
	if err != nil {
		return model.Decision{}, err
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO decisions (id, user_id, status, subject, context, expected_outcome, rationale,
		 raw_input, plan, similarity_refs, search_text, is_deleted, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.ID, d.UserID, d.Status, d.Subject, d.Context, d.ExpectedOutcome, d.Rationale,
		d.RawInput, planJSON, refsJSON, d.SearchText, d.IsDeleted, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return model.Decision{}, fmt.Errorf("storage: create decision: %w", err)
	}
	return d, nil
}

// GetDecision retrieves a non-deleted decision by ID.
func (db *DB) GetDecision(ctx context.Context, id uuid.UUID) (model.Decision, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE id = $1 AND is_deleted = false`, id)
	d, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Decision{}, ErrNotFound
		}
		return model.Decision{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return d, nil
}

// ListDecisionsByUser returns all non-deleted decisions for a user, newest first.
func (db *DB) ListDecisionsByUser(ctx context.Context, userID uuid.UUID) ([]model.Decision, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE user_id = $1 AND is_deleted = false
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []model.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// ReplacePlan overwrites the plan wholesale, optionally transitioning status.
// Pass an empty status to leave the lifecycle state untouched.
func (db *DB) ReplacePlan(ctx context.Context, id uuid.UUID, plan []model.PlanStep, status model.Status) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("storage: marshal plan: %w", err)
	}

	var tag pgconn.CommandTag
	if status == "" {
		tag, err = db.pool.Exec(ctx,
			`UPDATE decisions SET plan = $1, updated_at = now()
			 WHERE id = $2 AND is_deleted = false`, planJSON, id)
	} else {
		tag, err = db.pool.Exec(ctx,
			`UPDATE decisions SET plan = $1, status = $2, updated_at = now()
			 WHERE id = $3 AND is_deleted = false`, planJSON, status, id)
	}
	if err != nil {
		return fmt.Errorf("storage: replace plan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CompleteDecision records the outcome and reflection and transitions the
// decision to COMPLETED.
func (db *DB) CompleteDecision(ctx context.Context, id uuid.UUID, outcome model.Outcome, reflection string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions
		 SET status = $1, outcome = $2, raw_reflection = $3, completed_at = now(), updated_at = now()
		 WHERE id = $4 AND is_deleted = false`,
		model.StatusCompleted, outcome, reflection, id)
	if err != nil {
		return fmt.Errorf("storage: complete decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDraftResults writes the drafted plan and similarity references in a
// single statement. Used only by the draft job; user-owned fields are untouched.
func (db *DB) UpdateDraftResults(ctx context.Context, id uuid.UUID, plan []model.PlanStep, refs []model.SimilarityReference) error {
	planJSON, refsJSON, err := marshalPlanAndRefs(plan, refs)
	if err != nil {
		return err
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions SET plan = $1, similarity_refs = $2, updated_at = now()
		 WHERE id = $3 AND is_deleted = false`,
		planJSON, refsJSON, id)
	if err != nil {
		return fmt.Errorf("storage: update draft results: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateInsights writes the extracted success driver and failure reason.
// Used only by the extract job.
func (db *DB) UpdateInsights(ctx context.Context, id uuid.UUID, successDriver, failureReason string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions SET success_driver = $1, failure_reason = $2, updated_at = now()
		 WHERE id = $3 AND is_deleted = false`,
		successDriver, failureReason, id)
	if err != nil {
		return fmt.Errorf("storage: update insights: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSearchText stores the document text used for lexical matching.
func (db *DB) UpdateSearchText(ctx context.Context, id uuid.UUID, searchText string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions SET search_text = $1, updated_at = now()
		 WHERE id = $2 AND is_deleted = false`, searchText, id)
	if err != nil {
		return fmt.Errorf("storage: update search text: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteDecision marks a decision deleted. The embedding row cascades
// away via the trg_embedding_soft_delete trigger.
func (db *DB) SoftDeleteDecision(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE decisions SET is_deleted = true, updated_at = now()
		 WHERE id = $1 AND is_deleted = false`, id)
	if err != nil {
		return fmt.Errorf("storage: soft delete decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalPlanAndRefs(plan []model.PlanStep, refs []model.SimilarityReference) ([]byte, []byte, error) {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: marshal plan: %w", err)
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: marshal similarity refs: %w", err)
	}
	return planJSON, refsJSON, nil
}

// scanDecision reads one decision row. Works for both QueryRow and Query
// results via the pgx.Row interface.
func scanDecision(row pgx.Row) (model.Decision, error) {
	var (
		d          model.Decision
		planJSON   []byte
		refsJSON   []byte
		outcome    *string
		searchText *string
	)
	if err := row.Scan(
		&d.ID, &d.UserID, &d.Status, &d.Subject, &d.Context, &d.ExpectedOutcome, &d.Rationale,
		&d.RawInput, &planJSON, &outcome, &d.RawReflection, &d.SuccessDriver, &d.FailureReason,
		&refsJSON, &searchText, &d.IsDeleted, &d.CreatedAt, &d.UpdatedAt, &d.CompletedAt,
	); err != nil {
		return model.Decision{}, err
	}
	if err := json.Unmarshal(planJSON, &d.Plan); err != nil {
		return model.Decision{}, fmt.Errorf("decode plan: %w", err)
	}
	if err := json.Unmarshal(refsJSON, &d.SimilarityRefs); err != nil {
		return model.Decision{}, fmt.Errorf("decode similarity refs: %w", err)
	}
	if outcome != nil {
		o := model.Outcome(*outcome)
		d.Outcome = &o
	}
	if searchText != nil {
		d.SearchText = *searchText
	}
	d.Progress = model.ComputeProgress(d.Plan)
	return d, nil
}
