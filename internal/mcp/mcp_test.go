package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/jobs"
	"github.com/ashita-ai/kiroku/internal/llm"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/service/decisions"
	"github.com/ashita-ai/kiroku/internal/similarity"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/testutil"
)

var (
	testDB     *storage.DB
	testServer *Server
	testUserID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
)

type stubLLM struct{}

func (stubLLM) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return "{}", nil
}

func (stubLLM) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	return llm.FallbackEmbedding(text, 1536), nil
}

func (stubLLM) Dimensions() int { return 1536 }

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	code := setupAndRun(m, tc)
	tc.Terminate()
	os.Exit(code)
}

func setupAndRun(m *testing.M, tc *testutil.TestContainer) int {
	ctx := context.Background()
	logger := testutil.TestLogger()

	var err error
	testDB, err = tc.NewTestDB(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: create DB: %v\n", err)
		return 1
	}
	defer testDB.Close(ctx)

	queue, err := jobs.NewQueue(testDB, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp test: create queue: %v\n", err)
		return 1
	}
	svc := decisions.New(testDB, queue, stubLLM{}, similarity.NewEngine(testDB), logger)
	testServer = New(svc, testUserID, logger)

	return m.Run()
}

func callRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

func TestRecordDecisionTool(t *testing.T) {
	ctx := context.Background()

	result, err := testServer.handleRecordDecision(ctx, callRequest("record_decision", map[string]any{
		"subject":          "Adopt a four-day week",
		"context":          "team burnout rising",
		"expected_outcome": "sustained output, lower attrition",
		"rationale":        "rest compounds",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var payload struct {
		DecisionID uuid.UUID    `json:"decision_id"`
		Status     model.Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &payload))
	assert.Equal(t, model.StatusDrafting, payload.Status)

	d, err := testDB.GetDecision(ctx, payload.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, testUserID, d.UserID)
}

func TestRecordDecisionToolValidation(t *testing.T) {
	result, err := testServer.handleRecordDecision(context.Background(),
		callRequest("record_decision", map[string]any{"subject": "lonely subject"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestListDecisionsTool(t *testing.T) {
	ctx := context.Background()

	_, err := testServer.handleRecordDecision(ctx, callRequest("record_decision", map[string]any{
		"subject":          "Sponsor a conference",
		"context":          "hiring pipeline thin",
		"expected_outcome": "20 qualified leads",
		"rationale":        "visibility where engineers are",
	}))
	require.NoError(t, err)

	result, err := testServer.handleListDecisions(ctx, callRequest("list_decisions", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var list []model.Decision
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &list))
	assert.NotEmpty(t, list)
}

func TestFindSimilarToolRequiresQuery(t *testing.T) {
	result, err := testServer.handleFindSimilar(context.Background(),
		callRequest("find_similar_decisions", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
