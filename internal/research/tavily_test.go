package research

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "advanced", req.SearchDepth)
		assert.True(t, req.IncludeAnswer)

		json.NewEncoder(w).Encode(map[string]any{
			"answer": "Negotiate after the offer.",
			"results": []map[string]any{
				{"title": "Guide", "url": "https://example.com", "content": "Always counter.", "score": 0.91},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, discardLogger())
	res := c.Search(context.Background(), "salary negotiation", 3)

	assert.Equal(t, "Negotiate after the offer.", res.Answer)
	require.Len(t, res.Sources, 1)
	assert.Equal(t, "Guide", res.Sources[0].Title)
	assert.InDelta(t, 0.91, res.Sources[0].Score, 1e-9)
}

func TestSearchDegradesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, discardLogger())
	res := c.Search(context.Background(), "anything", 3)

	assert.Equal(t, unavailableAnswer, res.Answer)
	assert.Empty(t, res.Sources)
}

func TestResearchDecisionFansOut(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"answer": "ok", "results": []any{}})
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, discardLogger())
	results := c.ResearchDecision(context.Background(), DecisionFields{
		Subject: "Switch jobs",
		Context: "mid-career",
	})

	assert.Len(t, results, 3)
	assert.EqualValues(t, 3, calls.Load())
	// Results come back in query order regardless of completion order.
	assert.Contains(t, results[0].Query, "best practices")
	assert.Contains(t, results[2].Query, "common mistakes")
}

func TestFormatForPrompt(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, FormatForPrompt(nil))
	})

	t.Run("all unavailable", func(t *testing.T) {
		assert.Empty(t, FormatForPrompt([]Result{{Query: "q", Answer: unavailableAnswer}}))
	})

	t.Run("includes sources and summary", func(t *testing.T) {
		out := FormatForPrompt([]Result{{
			Query:   "salary negotiation",
			Answer:  "Counter every first offer.",
			Sources: []Source{{Title: "Guide", Snippet: "Always counter."}},
		}})
		assert.True(t, strings.Contains(out, "LIVE WEB INTELLIGENCE"))
		assert.True(t, strings.Contains(out, "Counter every first offer."))
		assert.True(t, strings.Contains(out, "[Guide]"))
	})
}
