// Package similarity ranks past decisions against a query by combining dense
// vector similarity with lexical (trigram) similarity into a single hybrid
// score.
//
// The store over-fetches nearest neighbors; the ranking itself is a pure
// function over the candidate slice, so ordering is reproducible and
// unit-testable without a database.
package similarity

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Default ranking parameters. The cosine floor is deliberately conservative:
// short decision texts rarely exceed 0.7 cosine similarity for genuine
// matches, so favor recall.
const (
	DefaultVectorWeight  = 0.7
	DefaultLexicalWeight = 0.3
	DefaultMinCosineSim  = 0.35

	// overfetchFactor controls how many extra neighbors the store returns
	// for re-ranking.
	overfetchFactor = 4
)

// CandidateSource provides over-fetched nearest-neighbor candidates.
// Implemented by *storage.DB.
type CandidateSource interface {
	SimilarCandidates(ctx context.Context, queryVec pgvector.Vector, queryText string, userID, excludeID uuid.UUID, fetch int) ([]model.SimilarCandidate, error)
}

// Engine computes hybrid-ranked retrieval over stored decisions. Read-only.
type Engine struct {
	source CandidateSource

	VectorWeight  float64
	LexicalWeight float64
	MinCosineSim  float64
}

// NewEngine creates an Engine with default weights.
func NewEngine(source CandidateSource) *Engine {
	return &Engine{
		source:        source,
		VectorWeight:  DefaultVectorWeight,
		LexicalWeight: DefaultLexicalWeight,
		MinCosineSim:  DefaultMinCosineSim,
	}
}

// Rank returns up to limit decisions owned by userID, ordered by hybrid
// score descending. excludeID (may be uuid.Nil) is never returned.
func (e *Engine) Rank(ctx context.Context, queryVec pgvector.Vector, queryText string, userID, excludeID uuid.UUID, limit int) ([]model.SimilarMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	candidates, err := e.source.SimilarCandidates(ctx, queryVec, queryText, userID, excludeID, limit*overfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("similarity: fetch candidates: %w", err)
	}
	return RankCandidates(candidates, e.VectorWeight, e.LexicalWeight, e.MinCosineSim, limit), nil
}

// RankCandidates applies the hybrid scoring, cosine floor, and deterministic
// ordering. Pure: identical inputs always yield identical output.
func RankCandidates(candidates []model.SimilarCandidate, vectorWeight, lexicalWeight, minCosineSim float64, limit int) []model.SimilarMatch {
	matches := make([]model.SimilarMatch, 0, len(candidates))
	for _, c := range candidates {
		if c.CosineSim < minCosineSim {
			continue
		}
		matches = append(matches, model.SimilarMatch{
			DecisionID:    c.DecisionID,
			Score:         vectorWeight*c.CosineSim + lexicalWeight*c.LexicalSim,
			CosineSim:     c.CosineSim,
			Subject:       c.Subject,
			Outcome:       c.Outcome,
			SuccessDriver: c.SuccessDriver,
			FailureReason: c.FailureReason,
		})
	}

	// Ties broken by decision id for reproducible orderings.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].DecisionID.String() < matches[j].DecisionID.String()
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
