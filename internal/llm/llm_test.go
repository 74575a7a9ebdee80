package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestFallbackEmbeddingDeterministic(t *testing.T) {
	a := FallbackEmbedding("migrate billing to provider x", 1536)
	b := FallbackEmbedding("migrate billing to provider x", 1536)
	assert.Equal(t, a.Slice(), b.Slice(), "same text must yield bit-identical vectors")

	c := FallbackEmbedding("a different decision", 1536)
	assert.NotEqual(t, a.Slice(), c.Slice(), "different texts should diverge")
}

func TestFallbackEmbeddingUnitNorm(t *testing.T) {
	vec := FallbackEmbedding("x", 1536)
	var sum float64
	for _, v := range vec.Slice() {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4, "L2 norm must be 1")
	assert.Len(t, vec.Slice(), 1536)
}

func TestCompleteJSONMode(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"plan":[]}`}},
			},
		})
	}))
	defer srv.Close()

	c := NewGroqClient("test-key", srv.URL, "test-model", "test-embed", 8, testLogger())
	out, err := c.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"plan":[]}`, out)
	assert.Equal(t, "json_object", gotReq.ResponseFormat.Type, "JSON mode must be enforced")
	assert.Equal(t, "system", gotReq.Messages[0].Role)
}

func TestCompleteEmptyContentIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": ""}}},
		})
	}))
	defer srv.Close()

	c := NewGroqClient("k", srv.URL, "m", "e", 8, testLogger())
	_, err := c.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty content")
}

func TestEmbedRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{1, 0, 0, 0}, "index": 0},
			},
		})
	}))
	defer srv.Close()

	c := NewGroqClient("k", srv.URL, "m", "e", 4, testLogger())
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, vec.Slice())
}

func TestEmbedFallsBackOnProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewGroqClient("k", srv.URL, "m", "e", 16, testLogger())
	vec, err := c.Embed(context.Background(), "some decision")
	require.NoError(t, err, "provider failure must not propagate from Embed")
	assert.Equal(t, FallbackEmbedding("some decision", 16).Slice(), vec.Slice())
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash("abc"), ContentHash("abc"))
	assert.NotEqual(t, ContentHash("abc"), ContentHash("abd"))
	assert.Len(t, ContentHash("abc"), 64)
}
