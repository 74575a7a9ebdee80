package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kiroku/internal/model"
)

// UpsertEmbedding inserts or replaces the embedding record for a decision.
// Insert-or-replace because a decision completes once but the extract job
// must tolerate retries.
func (db *DB) UpsertEmbedding(ctx context.Context, decisionID, userID uuid.UUID, vec pgvector.Vector, contentHash string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO decision_embeddings (decision_id, user_id, vector, content_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (decision_id)
		 DO UPDATE SET vector = $3, content_hash = $4, user_id = $2`,
		decisionID, userID, vec, contentHash)
	if err != nil {
		return fmt.Errorf("storage: upsert embedding: %w", err)
	}
	return nil
}

// GetEmbedding returns the embedding record for a decision.
func (db *DB) GetEmbedding(ctx context.Context, decisionID uuid.UUID) (pgvector.Vector, string, error) {
	var vec pgvector.Vector
	var hash string
	err := db.pool.QueryRow(ctx,
		`SELECT vector, content_hash FROM decision_embeddings WHERE decision_id = $1`,
		decisionID).Scan(&vec, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pgvector.Vector{}, "", ErrNotFound
		}
		return pgvector.Vector{}, "", fmt.Errorf("storage: get embedding: %w", err)
	}
	return vec, hash, nil
}

// SimilarCandidates over-fetches the nearest vector neighbors among a user's
// completed, non-deleted decisions. Each candidate carries the cosine
// similarity, the pg_trgm lexical similarity against queryText, and the
// denormalized snapshot fields the draft job attaches to a decision.
//
// The CTE computes cosine distance once; the final hybrid ranking happens in
// Go (internal/similarity) so it stays a pure, testable function.
func (db *DB) SimilarCandidates(ctx context.Context, queryVec pgvector.Vector, queryText string, userID uuid.UUID, excludeID uuid.UUID, fetch int) ([]model.SimilarCandidate, error) {
	if fetch <= 0 {
		fetch = 12
	}

	rows, err := db.pool.Query(ctx,
		`WITH vector_matches AS (
		     SELECT e.decision_id,
		            (1.0 - (e.vector <=> $1)) AS cosine_sim
		     FROM decision_embeddings e
		     WHERE e.user_id = $2
		     ORDER BY e.vector <=> $1 ASC
		     LIMIT $3
		 )
		 SELECT d.id, vm.cosine_sim,
		        COALESCE(similarity(d.search_text, $4), 0),
		        d.subject, d.outcome, d.success_driver, d.failure_reason
		 FROM vector_matches vm
		 JOIN decisions d ON d.id = vm.decision_id
		 WHERE d.status = $5
		   AND d.is_deleted = false
		   AND d.id != $6`,
		queryVec, userID, fetch, queryText, model.StatusCompleted, excludeID)
	if err != nil {
		return nil, fmt.Errorf("storage: similar candidates: %w", err)
	}
	defer rows.Close()

	var candidates []model.SimilarCandidate
	for rows.Next() {
		var c model.SimilarCandidate
		var outcome *string
		if err := rows.Scan(
			&c.DecisionID, &c.CosineSim, &c.LexicalSim,
			&c.Subject, &outcome, &c.SuccessDriver, &c.FailureReason,
		); err != nil {
			return nil, fmt.Errorf("storage: scan candidate: %w", err)
		}
		if outcome != nil {
			o := model.Outcome(*outcome)
			c.Outcome = &o
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
