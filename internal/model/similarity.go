package model

import "github.com/google/uuid"

// SimilarCandidate is one over-fetched nearest-neighbor row, before hybrid
// re-ranking. CosineSim comes from pgvector, LexicalSim from pg_trgm.
type SimilarCandidate struct {
	DecisionID    uuid.UUID
	CosineSim     float64
	LexicalSim    float64
	Subject       string
	Outcome       *Outcome
	SuccessDriver *string
	FailureReason *string
}

// SimilarMatch is one ranked retrieval result.
type SimilarMatch struct {
	DecisionID    uuid.UUID `json:"decision_id"`
	Score         float64   `json:"score"`
	CosineSim     float64   `json:"cosine_sim"`
	Subject       string    `json:"subject"`
	Outcome       *Outcome  `json:"outcome,omitempty"`
	SuccessDriver *string   `json:"success_driver,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`
}
