package jobs

import (
	"fmt"

	"github.com/ashita-ai/kiroku/internal/model"
)

// planSystemPrompt instructs the model to break a decision into an
// actionable plan in strict JSON. Step count bounds are re-validated after
// parsing since models do not reliably honor them.
const planSystemPrompt = `System: You are an execution strategist. The user is providing a decision and context. Break it down into an actionable plan.
Rule 1: Return EXACTLY 5 to 15 steps.
Rule 2: Respond ONLY in JSON using this schema:
{
  "plan": [
    { "step_id": "uuid", "desc": "string (max 10 words)", "status": "pending" }
  ]
}`

const insightSuccessPrompt = `System: You are a cognitive analyst extracting patterns from a user's completed decision.
The outcome was SUCCESS. Your primary job is to identify the success driver.
Rule 1: Identify ONE core success driver (what went right / what made this succeed). Be specific to this decision, mention the strategy, approach, or choice that drove success. Examples: "Targeted niche college market", "Strong supplier relationships", "Lean MVP approach".
Rule 2: For failure_reason, since this was a success, note one area that could be improved next time, or output "None" if nothing stands out.
Rule 3: Keep each under 8 words.
Rule 4: NEVER output "No clear pattern" for success_driver when the outcome is SUCCESS. Always find something specific.
Rule 5: Respond ONLY in JSON:
{
  "success_driver": "string",
  "failure_reason": "string"
}`

const insightFailurePrompt = `System: You are a cognitive analyst extracting patterns from a user's failed decision.
The outcome was FAILURE. Your primary job is to identify the failure reason.
Rule 1: Identify ONE core failure reason (what went wrong / what caused this to fail). Be specific, mention the choice, oversight, or external factor. Examples: "Underestimated competitor pricing", "No market validation done", "Ran out of budget".
Rule 2: For success_driver, note one thing that went right despite the failure, or output "None" if nothing stands out.
Rule 3: Keep each under 8 words.
Rule 4: NEVER output "No clear pattern" for failure_reason when the outcome is FAILURE. Always find something specific.
Rule 5: Respond ONLY in JSON:
{
  "success_driver": "string",
  "failure_reason": "string"
}`

const insightPartialPrompt = `System: You are a cognitive analyst extracting patterns from a user's partially successful decision.
The outcome was PARTIAL. Identify both what worked and what didn't.
Rule 1: Identify ONE core success driver (what went right) and ONE failure reason (what went wrong).
Rule 2: Keep each under 8 words. Be specific to this decision.
Rule 3: NEVER output "No clear pattern", always find something specific for both fields.
Rule 4: Respond ONLY in JSON:
{
  "success_driver": "string",
  "failure_reason": "string"
}`

// insightPrompt returns the system prompt keyed to the recorded outcome.
func insightPrompt(outcome model.Outcome) string {
	switch outcome {
	case model.OutcomeSuccess:
		return insightSuccessPrompt
	case model.OutcomeFailure:
		return insightFailurePrompt
	default:
		return insightPartialPrompt
	}
}

// planUserMessage assembles the four intake fields into the user turn for
// plan drafting, optionally followed by research context and prior matches.
func planUserMessage(d *model.Decision, researchBlock, similarBlock string) string {
	msg := fmt.Sprintf("Decision: %s\nContext: %s\nExpected Outcome: %s\nRationale: %s",
		d.Subject, d.Context, d.ExpectedOutcome, d.Rationale)
	if similarBlock != "" {
		msg += similarBlock
	}
	if researchBlock != "" {
		msg += researchBlock
	}
	return msg
}

// insightUserMessage assembles the reflection turn for insight extraction.
func insightUserMessage(d *model.Decision) string {
	reflection := "No detailed reflection provided."
	if d.RawReflection != nil && *d.RawReflection != "" {
		reflection = *d.RawReflection
	}
	var outcome model.Outcome
	if d.Outcome != nil {
		outcome = *d.Outcome
	}
	return fmt.Sprintf("Decision: %s\nOutcome: %s\nReflection: %s", d.Subject, outcome, reflection)
}
