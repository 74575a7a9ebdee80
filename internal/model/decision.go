package model

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a decision.
type Status string

const (
	// StatusDrafting is the initial state: the background draft job has not
	// yet produced a plan, or the user has not confirmed it.
	StatusDrafting Status = "DRAFTING"
	// StatusActive means the user confirmed the plan and is executing it.
	StatusActive Status = "ACTIVE"
	// StatusCompleted means an outcome and reflection were recorded.
	StatusCompleted Status = "COMPLETED"
	// StatusArchived is a terminal parked state.
	StatusArchived Status = "ARCHIVED"
)

// Outcome is the recorded result of a completed decision.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeFailure Outcome = "FAILURE"
)

// ValidOutcome reports whether s is one of SUCCESS, PARTIAL, FAILURE.
func ValidOutcome(s string) bool {
	switch Outcome(s) {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure:
		return true
	}
	return false
}

// StepStatus is the execution state of a single plan step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepDone    StepStatus = "done"
	StepSkipped StepStatus = "skipped"
)

// PlanStep is one actionable item in a decision's execution checklist.
// Steps are owned by their decision and replaced wholesale on every plan
// mutation; there is no partial-step API.
type PlanStep struct {
	StepID uuid.UUID  `json:"step_id"`
	Desc   string     `json:"desc"`
	Status StepStatus `json:"status"`
	Note   string     `json:"note,omitempty"`
}

// SimilarityReference is a point-in-time snapshot of a similar past decision,
// attached at draft time. It is never refreshed after the draft job completes.
type SimilarityReference struct {
	DecisionID    uuid.UUID `json:"decision_id"`
	Score         float64   `json:"score"`
	Subject       string    `json:"subject"`
	Outcome       *string   `json:"outcome,omitempty"`
	SuccessDriver *string   `json:"success_driver,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`
}

// Decision is the aggregate root: a user's choice, its context, plan, and
// eventual outcome.
type Decision struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Status Status    `json:"status"`

	Subject         string `json:"subject"`
	Context         string `json:"context"`
	ExpectedOutcome string `json:"expected_outcome"`
	Rationale       string `json:"rationale"`
	RawInput        string `json:"raw_input,omitempty"`

	Plan []PlanStep `json:"plan"`

	Outcome       *Outcome `json:"outcome,omitempty"`
	RawReflection *string  `json:"raw_reflection,omitempty"`
	SuccessDriver *string  `json:"success_driver,omitempty"`
	FailureReason *string  `json:"failure_reason,omitempty"`

	SimilarityRefs []SimilarityReference `json:"similarity_refs"`

	// SearchText is the stored document text used for lexical matching.
	// Written by the extract job, not by user actions.
	SearchText string `json:"-"`

	IsDeleted   bool       `json:"is_deleted"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Progress is computed from the plan, not stored.
	Progress int `json:"progress_percentage"`
}

// ComputeProgress returns the percentage of plan steps marked done.
func ComputeProgress(plan []PlanStep) int {
	if len(plan) == 0 {
		return 0
	}
	done := 0
	for _, s := range plan {
		if s.Status == StepDone {
			done++
		}
	}
	return int(float64(done)/float64(len(plan))*100 + 0.5)
}

// PendingSteps returns the number of steps still in the pending state.
func PendingSteps(plan []PlanStep) int {
	n := 0
	for _, s := range plan {
		if s.Status == StepPending {
			n++
		}
	}
	return n
}
