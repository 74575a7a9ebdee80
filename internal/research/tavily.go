// Package research performs focused web searches for a decision through the
// Tavily API. Research is best-effort: failures produce an "unavailable"
// result rather than an error, so the draft pipeline never stalls on a
// third-party search outage.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const unavailableAnswer = "Web research unavailable at this time."

// Source is one web search hit.
type Source struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// Result is the outcome of a single search query.
type Result struct {
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	Sources    []Source  `json:"sources"`
	SearchedAt time.Time `json:"searched_at"`
}

// DecisionFields is the subset of a decision the researcher builds queries from.
type DecisionFields struct {
	Subject   string
	Context   string
	Rationale string
}

// Client calls the Tavily search API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a research client. baseURL has no trailing slash.
func NewClient(apiKey, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		logger:     logger,
	}
}

type searchRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type searchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search runs one query. Errors degrade to an unavailable Result.
func (c *Client) Search(ctx context.Context, query string, maxResults int) Result {
	if maxResults <= 0 {
		maxResults = 5
	}
	res := Result{Query: query, Answer: unavailableAnswer, SearchedAt: time.Now().UTC()}

	reqBody, err := json.Marshal(searchRequest{
		APIKey:        c.apiKey,
		Query:         query,
		SearchDepth:   "advanced",
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		c.logger.Warn("research: marshal request", "error", err)
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(reqBody))
	if err != nil {
		c.logger.Warn("research: create request", "error", err)
		return res
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("research: search failed", "query", query, "error", err)
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		c.logger.Warn("research: bad response", "query", query, "status", resp.StatusCode)
		return res
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("research: unmarshal response", "error", err)
		return res
	}

	res.Answer = parsed.Answer
	if res.Answer == "" {
		res.Answer = "No synthesized answer available."
	}
	for _, r := range parsed.Results {
		snippet := r.Content
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		res.Sources = append(res.Sources, Source{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: snippet,
			Score:   r.Score,
		})
	}
	return res
}

// ResearchDecision fans out up to three angle queries (direct, contextual,
// risks) in parallel and returns the results in query order.
func (c *Client) ResearchDecision(ctx context.Context, fields DecisionFields) []Result {
	queries := []string{
		"best practices for: " + fields.Subject,
	}
	if fields.Context != "" {
		queries = append(queries, fields.Subject+" "+fields.Context+" tips and strategies")
	}
	queries = append(queries, "common mistakes and risks when "+strings.ToLower(fields.Subject))
	if len(queries) > 3 {
		queries = queries[:3]
	}

	results := make([]Result, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			results[i] = c.Search(gctx, q, 3)
			return nil
		})
	}
	_ = g.Wait() // Search never returns errors; degradation is per-result.
	return results
}

// FormatForPrompt flattens research results into a bounded context block for
// the plan-drafting completion call. Returns "" when nothing useful came back.
func FormatForPrompt(results []Result) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	wrote := false
	for _, r := range results {
		if len(r.Sources) == 0 && r.Answer == unavailableAnswer {
			continue
		}
		if !wrote {
			b.WriteString("\n\n===== LIVE WEB INTELLIGENCE =====\n")
			b.WriteString("Real-time web context relevant to this decision. Use it to make the plan specific and current.\n\n")
			wrote = true
		}
		fmt.Fprintf(&b, "--- Search: %q ---\n", r.Query)
		if r.Answer != "" && r.Answer != "No synthesized answer available." {
			fmt.Fprintf(&b, "Summary: %s\n", r.Answer)
		}
		for i, s := range r.Sources {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "  - [%s] %s\n", s.Title, s.Snippet)
		}
		b.WriteString("\n")
	}
	if !wrote {
		return ""
	}
	return b.String()
}
