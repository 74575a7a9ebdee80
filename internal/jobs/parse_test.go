package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kiroku/internal/model"
)

func planJSON(n int) string {
	steps := make([]map[string]string, n)
	for i := range steps {
		steps[i] = map[string]string{
			"step_id": uuid.NewString(),
			"desc":    fmt.Sprintf("step %d", i+1),
			"status":  "pending",
		}
	}
	out, _ := json.Marshal(map[string]any{"plan": steps})
	return string(out)
}

func TestParsePlan(t *testing.T) {
	t.Run("valid plan", func(t *testing.T) {
		steps, err := parsePlan(planJSON(7))
		require.NoError(t, err)
		require.Len(t, steps, 7)
		for _, s := range steps {
			assert.Equal(t, model.StepPending, s.Status)
			assert.NotEmpty(t, s.Desc)
		}
	})

	t.Run("mints fresh step ids", func(t *testing.T) {
		fixed := uuid.New()
		raw := fmt.Sprintf(`{"plan": [%s]}`, strings.TrimSuffix(strings.Repeat(
			fmt.Sprintf(`{"step_id": "%s", "desc": "do it", "status": "pending"},`, fixed), 6), ","))
		steps, err := parsePlan(raw)
		require.NoError(t, err)

		seen := make(map[uuid.UUID]bool)
		for _, s := range steps {
			assert.NotEqual(t, fixed, s.StepID)
			assert.False(t, seen[s.StepID], "duplicate minted id")
			seen[s.StepID] = true
		}
	})

	t.Run("too few steps", func(t *testing.T) {
		_, err := parsePlan(planJSON(4))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "4 steps")
	})

	t.Run("too many steps", func(t *testing.T) {
		_, err := parsePlan(planJSON(16))
		require.Error(t, err)
	})

	t.Run("blank descriptions dropped", func(t *testing.T) {
		raw := `{"plan": [
			{"desc": "one"}, {"desc": "  "}, {"desc": "two"}, {"desc": "three"},
			{"desc": "four"}, {"desc": "five"}, {"desc": ""}
		]}`
		steps, err := parsePlan(raw)
		require.NoError(t, err)
		assert.Len(t, steps, 5)
	})

	t.Run("repairs almost-json", func(t *testing.T) {
		raw := "```json\n" + planJSON(5) + "\n```"
		steps, err := parsePlan(raw)
		require.NoError(t, err)
		assert.Len(t, steps, 5)
	})

	t.Run("garbage is an error", func(t *testing.T) {
		_, err := parsePlan("I could not produce a plan, sorry.")
		require.Error(t, err)
	})
}

func TestParseInsights(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		sd, fr, err := parseInsights(
			`{"success_driver": "Targeted niche college market", "failure_reason": "None"}`,
			model.OutcomeSuccess)
		require.NoError(t, err)
		assert.Equal(t, "Targeted niche college market", sd)
		assert.Equal(t, "None", fr)
	})

	t.Run("placeholder rejected for primary field", func(t *testing.T) {
		_, _, err := parseInsights(
			`{"success_driver": "No clear pattern", "failure_reason": "None"}`,
			model.OutcomeSuccess)
		require.Error(t, err)

		_, _, err = parseInsights(
			`{"success_driver": "Good team", "failure_reason": "no clear pattern"}`,
			model.OutcomeFailure)
		require.Error(t, err)
	})

	t.Run("placeholder fine for secondary field", func(t *testing.T) {
		sd, fr, err := parseInsights(
			`{"success_driver": "Lean MVP approach", "failure_reason": "None"}`,
			model.OutcomeSuccess)
		require.NoError(t, err)
		assert.Equal(t, "Lean MVP approach", sd)
		assert.Equal(t, "None", fr)
	})

	t.Run("word limit enforced", func(t *testing.T) {
		_, _, err := parseInsights(
			`{"success_driver": "one two three four five six seven eight nine", "failure_reason": "None"}`,
			model.OutcomeSuccess)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "9 words")
	})

	t.Run("empty primary field is an error", func(t *testing.T) {
		_, _, err := parseInsights(`{"failure_reason": "Ran out of budget"}`, model.OutcomeSuccess)
		require.Error(t, err)

		_, _, err = parseInsights(`{"success_driver": "Good timing"}`, model.OutcomeFailure)
		require.Error(t, err)
	})

	t.Run("empty secondary field defaults to None", func(t *testing.T) {
		sd, fr, err := parseInsights(`{"failure_reason": "No market validation done"}`, model.OutcomeFailure)
		require.NoError(t, err)
		assert.Equal(t, "None", sd)
		assert.Equal(t, "No market validation done", fr)
	})

	t.Run("partial requires both", func(t *testing.T) {
		sd, fr, err := parseInsights(
			`{"success_driver": "Strong early traction", "failure_reason": "Pricing set too low"}`,
			model.OutcomePartial)
		require.NoError(t, err)
		assert.Equal(t, "Strong early traction", sd)
		assert.Equal(t, "Pricing set too low", fr)
	})

	t.Run("partial rejects placeholder in either field", func(t *testing.T) {
		_, _, err := parseInsights(
			`{"success_driver": "No clear pattern", "failure_reason": "Pricing set too low"}`,
			model.OutcomePartial)
		require.Error(t, err)

		_, _, err = parseInsights(
			`{"success_driver": "Strong early traction", "failure_reason": "None"}`,
			model.OutcomePartial)
		require.Error(t, err)
	})

	t.Run("partial rejects empty fields", func(t *testing.T) {
		_, _, err := parseInsights(`{"failure_reason": "Pricing set too low"}`, model.OutcomePartial)
		require.Error(t, err)

		_, _, err = parseInsights(`{"success_driver": "Strong early traction"}`, model.OutcomePartial)
		require.Error(t, err)
	})
}

func TestInsightPromptKeyedToOutcome(t *testing.T) {
	assert.Contains(t, insightPrompt(model.OutcomeSuccess), "outcome was SUCCESS")
	assert.Contains(t, insightPrompt(model.OutcomeFailure), "outcome was FAILURE")
	assert.Contains(t, insightPrompt(model.OutcomePartial), "PARTIAL")
}

func TestInsightUserMessage(t *testing.T) {
	outcome := model.OutcomePartial
	reflection := "Shipped late but customers stayed"
	d := &model.Decision{Subject: "Hire a contractor", Outcome: &outcome, RawReflection: &reflection}

	msg := insightUserMessage(d)
	assert.Contains(t, msg, "Outcome: PARTIAL")
	assert.Contains(t, msg, "Reflection: Shipped late but customers stayed")
	assert.NotContains(t, msg, "%!")

	bare := &model.Decision{Subject: "Hire a contractor", Outcome: &outcome}
	assert.Contains(t, insightUserMessage(bare), "Reflection: No detailed reflection provided.")
}

func TestPlanUserMessage(t *testing.T) {
	d := &model.Decision{
		Subject:         "Launch a newsletter",
		Context:         "solo creator",
		ExpectedOutcome: "1000 subscribers",
		Rationale:       "audience before product",
	}
	msg := planUserMessage(d, "", "")
	assert.Contains(t, msg, "Decision: Launch a newsletter")
	assert.Contains(t, msg, "Rationale: audience before product")

	withBlocks := planUserMessage(d, "\n\nresearch here", "\n\nsimilar here")
	assert.Contains(t, withBlocks, "research here")
	assert.Contains(t, withBlocks, "similar here")
}
