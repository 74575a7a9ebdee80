package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/jobs"
	"github.com/ashita-ai/kiroku/internal/llm"
	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/notify"
	"github.com/ashita-ai/kiroku/internal/service/decisions"
	"github.com/ashita-ai/kiroku/internal/similarity"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/testutil"
)

var (
	testDB       *storage.DB
	testRegistry *notify.Registry
	testServer   *Server
	defaultUser  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
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

	ctx := context.Background()
	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	logger := testutil.TestLogger()
	queue, err := jobs.NewQueue(testDB, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create queue: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	svc := decisions.New(testDB, queue, stubLLM{}, similarity.NewEngine(testDB), logger)
	testRegistry = notify.NewRegistry()

	testServer = New(Config{
		DB:                  testDB,
		DecisionSvc:         svc,
		Logger:              logger,
		Registry:            testRegistry,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		SSEHeartbeat:        100 * time.Millisecond,
		DefaultUserID:       defaultUser,
	})

	code := m.Run()
	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

func doRequest(t *testing.T, method, path string, body any, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	rec := httptest.NewRecorder()
	testServer.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func createDecision(t *testing.T, userID string) model.Decision {
	t.Helper()
	rec := doRequest(t, http.MethodPost, "/v1/decisions", map[string]string{
		"subject":          "Move to a bigger office",
		"context":          "team of eight, lease ending",
		"expected_outcome": "room for twelve desks",
		"rationale":        "hiring plan needs space",
	}, userID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData[model.Decision](t, rec)
}

func TestHealth(t *testing.T) {
	rec := doRequest(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateAndGetDecision(t *testing.T) {
	d := createDecision(t, "")
	assert.Equal(t, model.StatusDrafting, d.Status)
	assert.Equal(t, defaultUser, d.UserID)

	rec := doRequest(t, http.MethodGet, "/v1/decisions/"+d.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[model.Decision](t, rec)
	assert.Equal(t, d.ID, got.ID)
}

func TestCreateDecisionValidation(t *testing.T) {
	rec := doRequest(t, http.MethodPost, "/v1/decisions", map[string]string{
		"subject": "missing everything else",
	}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), model.ErrCodeInvalidInput)
}

func TestUserHeaderScopesAccess(t *testing.T) {
	alice := uuid.NewString()
	bob := uuid.NewString()

	d := createDecision(t, alice)

	rec := doRequest(t, http.MethodGet, "/v1/decisions/"+d.ID.String(), nil, bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, http.MethodGet, "/v1/decisions/"+d.ID.String(), nil, alice)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, http.MethodGet, "/v1/decisions", nil, bob)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeData[[]model.Decision](t, rec)
	assert.Empty(t, list)
}

func TestMalformedUserHeaderRejected(t *testing.T) {
	rec := doRequest(t, http.MethodGet, "/v1/decisions", nil, "not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidDecisionID(t *testing.T) {
	rec := doRequest(t, http.MethodGet, "/v1/decisions/banana", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanLifecycleOverHTTP(t *testing.T) {
	user := uuid.NewString()
	d := createDecision(t, user)

	// Confirm with an explicit plan.
	rec := doRequest(t, http.MethodPost, "/v1/decisions/"+d.ID.String()+"/plan/confirm", map[string]any{
		"plan": []map[string]string{
			{"desc": "tour three offices"},
			{"desc": "negotiate lease"},
		},
	}, user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	active := decodeData[model.Decision](t, rec)
	assert.Equal(t, model.StatusActive, active.Status)
	require.Len(t, active.Plan, 2)

	// Mark steps done, then complete.
	for i := range active.Plan {
		active.Plan[i].Status = model.StepDone
	}
	rec = doRequest(t, http.MethodPut, "/v1/decisions/"+d.ID.String()+"/plan", map[string]any{
		"plan": active.Plan,
	}, user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeData[model.Decision](t, rec)
	assert.Equal(t, 100, updated.Progress)

	rec = doRequest(t, http.MethodPost, "/v1/decisions/"+d.ID.String()+"/complete", map[string]string{
		"outcome":    "SUCCESS",
		"reflection": "new office fits everyone",
	}, user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	completed := decodeData[model.Decision](t, rec)
	assert.Equal(t, model.StatusCompleted, completed.Status)

	// Delete.
	rec = doRequest(t, http.MethodDelete, "/v1/decisions/"+d.ID.String(), nil, user)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, http.MethodGet, "/v1/decisions/"+d.ID.String(), nil, user)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFindSimilarRequiresQuery(t *testing.T) {
	rec := doRequest(t, http.MethodPost, "/v1/similar", map[string]any{"query": ""}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResearchNotConfigured(t *testing.T) {
	rec := doRequest(t, http.MethodPost, "/v1/research", map[string]any{"query": "anything"}, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubscribeStreamsUpdates(t *testing.T) {
	user := uuid.NewString()
	d := createDecision(t, user)

	srv := httptest.NewServer(testServer.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/decisions/"+d.ID.String()+"/events", nil)
	require.NoError(t, err)
	req.Header.Set(UserHeader, user)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Give the subscription a moment to register, then publish.
	time.Sleep(50 * time.Millisecond)
	testRegistry.Publish(d.ID)

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(5 * time.Second)
	var sawUpdate, sawHeartbeat bool
	for time.Now().Before(deadline) && !(sawUpdate && sawHeartbeat) {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		if strings.HasPrefix(line, "event: update") {
			sawUpdate = true
		}
		if strings.HasPrefix(line, ": heartbeat") {
			sawHeartbeat = true
		}
	}
	assert.True(t, sawUpdate, "expected an update event after publish")
	assert.True(t, sawHeartbeat, "expected a heartbeat comment")
}

func TestSubscribeUnknownDecision(t *testing.T) {
	rec := doRequest(t, http.MethodGet, "/v1/decisions/"+uuid.NewString()+"/events", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
