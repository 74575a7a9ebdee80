package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/ashita-ai/kiroku/internal/model"
)

const (
	minPlanSteps = 5
	maxPlanSteps = 15

	maxInsightWords = 8
)

type planEnvelope struct {
	Plan []struct {
		Desc string `json:"desc"`
	} `json:"plan"`
}

type insightEnvelope struct {
	SuccessDriver string `json:"success_driver"`
	FailureReason string `json:"failure_reason"`
}

// decodeLenient unmarshals raw into v, falling back to jsonrepair when the
// model's output is almost-JSON (trailing commas, fenced blocks, unquoted
// keys). A parse failure after repair is a job failure, not a crash.
func decodeLenient(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return fmt.Errorf("unparseable response: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("unparseable response after repair: %w", err)
	}
	return nil
}

// parsePlan decodes a plan completion and validates it. Step ids from the
// model are discarded: the server mints fresh UUIDs so ids are never
// attacker- or model-controlled. Violating the step count bounds is a
// retryable failure since a later attempt may satisfy them.
func parsePlan(raw string) ([]model.PlanStep, error) {
	var env planEnvelope
	if err := decodeLenient(raw, &env); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	steps := make([]model.PlanStep, 0, len(env.Plan))
	for _, s := range env.Plan {
		desc := strings.TrimSpace(s.Desc)
		if desc == "" {
			continue
		}
		steps = append(steps, model.PlanStep{
			StepID: uuid.New(),
			Desc:   desc,
			Status: model.StepPending,
		})
	}

	if len(steps) < minPlanSteps || len(steps) > maxPlanSteps {
		return nil, fmt.Errorf("plan: got %d steps, want %d-%d", len(steps), minPlanSteps, maxPlanSteps)
	}
	return steps, nil
}

// parseInsights decodes an insight completion and enforces its contract:
// both fields present, at most eight words, and no placeholder text in
// whichever fields the outcome makes primary.
func parseInsights(raw string, outcome model.Outcome) (successDriver, failureReason string, err error) {
	var env insightEnvelope
	if err := decodeLenient(raw, &env); err != nil {
		return "", "", fmt.Errorf("insights: %w", err)
	}

	successDriver = strings.TrimSpace(env.SuccessDriver)
	failureReason = strings.TrimSpace(env.FailureReason)

	// PARTIAL makes both fields primary: the prompt demands something
	// specific for each, so neither may be empty or a placeholder.
	driverPrimary := outcome == model.OutcomeSuccess || outcome == model.OutcomePartial
	reasonPrimary := outcome == model.OutcomeFailure || outcome == model.OutcomePartial

	if successDriver == "" {
		if driverPrimary {
			return "", "", fmt.Errorf("insights: empty success_driver for %s outcome", outcome)
		}
		successDriver = "None"
	}
	if failureReason == "" {
		if reasonPrimary {
			return "", "", fmt.Errorf("insights: empty failure_reason for %s outcome", outcome)
		}
		failureReason = "None"
	}

	if driverPrimary && isPlaceholder(successDriver) {
		return "", "", fmt.Errorf("insights: placeholder success_driver %q", successDriver)
	}
	if reasonPrimary && isPlaceholder(failureReason) {
		return "", "", fmt.Errorf("insights: placeholder failure_reason %q", failureReason)
	}

	if n := wordCount(successDriver); n > maxInsightWords {
		return "", "", fmt.Errorf("insights: success_driver has %d words, max %d", n, maxInsightWords)
	}
	if n := wordCount(failureReason); n > maxInsightWords {
		return "", "", fmt.Errorf("insights: failure_reason has %d words, max %d", n, maxInsightWords)
	}

	return successDriver, failureReason, nil
}

func isPlaceholder(s string) bool {
	return strings.EqualFold(s, "no clear pattern") || strings.EqualFold(s, "none")
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
