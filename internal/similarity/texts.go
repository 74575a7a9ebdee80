package similarity

import (
	"strings"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Bounded lengths for the two indexed-text builders. Stored documents are
// descriptive; queries stay tight so the embedding is discriminative.
const (
	maxSearchTextLen = 2000
	maxQueryTextLen  = 800
)

// BuildSearchText builds the text that gets stored and embedded for a
// completed decision. The subject is repeated so vector search stays anchored
// to the core decision instead of being drowned out by verbose reflections.
func BuildSearchText(d model.Decision) string {
	primary := d.Subject
	if primary == "" {
		primary = d.RawInput
	}

	parts := []string{
		primary,
		primary, // repeat for heavier weight
		d.Context,
		d.Rationale,
		d.ExpectedOutcome,
	}
	if d.Outcome != nil {
		parts = append(parts, string(*d.Outcome))
	}
	if d.RawReflection != nil {
		parts = append(parts, *d.RawReflection)
	}
	if d.SuccessDriver != nil {
		parts = append(parts, *d.SuccessDriver)
	}
	if d.FailureReason != nil {
		parts = append(parts, *d.FailureReason)
	}

	return joinBounded(parts, maxSearchTextLen)
}

// BuildQueryText builds the query-side text used at draft time: subject,
// context, and rationale only.
func BuildQueryText(d model.Decision) string {
	return joinBounded([]string{d.Subject, d.Context, d.Rationale}, maxQueryTextLen)
}

// joinBounded joins non-empty parts with " . " (sentence-boundary markers
// help the embedding model segment) and truncates to max runes.
func joinBounded(parts []string, max int) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	s := strings.Join(kept, " . ")
	if runes := []rune(s); len(runes) > max {
		return string(runes[:max])
	}
	return s
}
