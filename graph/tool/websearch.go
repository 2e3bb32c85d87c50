package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dshills/pathweaver/graph/model"
)

const (
	// defaultMaxResults bounds a search when the LLM does not ask for a
	// specific count.
	defaultMaxResults = 5

	// maxResultsCeiling caps what the LLM may request.
	maxResultsCeiling = 20

	searchTimeout = 15 * time.Second
)

// ErrSearchUnavailable is returned while the circuit breaker is open.
var ErrSearchUnavailable = errors.New("web search temporarily unavailable")

// WebSearch queries an external search API. The upstream is guarded by a
// circuit breaker so a degraded search backend cannot stall agent turns:
// after 5 consecutive failures the breaker opens for 30s and calls fail
// fast with ErrSearchUnavailable.
//
// The agent reports search failures back to the LLM as tool errors; a
// roadmap can still be produced without search results.
type WebSearch struct {
	endpoint string
	apiKey   string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
}

// SearchResult is one hit returned to the LLM.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// NewWebSearch creates the web_search tool against the given search API
// endpoint.
func NewWebSearch(endpoint, apiKey string) *WebSearch {
	return &WebSearch{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: searchTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "web_search",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Name implements Tool.
func (w *WebSearch) Name() string { return "web_search" }

// Spec implements Tool.
func (w *WebSearch) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        "web_search",
		Description: "Search the web for current information. Returns a list of results with title, url and snippet.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (default 5, max 20)",
				},
			},
			"required": []string{"query"},
		},
	}
}

// Call implements Tool.
func (w *WebSearch) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	query, ok := input["query"].(string)
	if !ok || query == "" {
		return nil, errors.New("web_search: query parameter is required")
	}

	maxResults := defaultMaxResults
	// JSON numbers arrive as float64.
	if raw, ok := input["max_results"].(float64); ok && raw > 0 {
		maxResults = int(raw)
	}
	if maxResults > maxResultsCeiling {
		maxResults = maxResultsCeiling
	}

	results, err := w.breaker.Execute(func() (interface{}, error) {
		return w.search(ctx, query, maxResults)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrSearchUnavailable
		}
		return nil, err
	}

	return map[string]interface{}{
		"query":   query,
		"results": results,
	}, nil
}

func (w *WebSearch) search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":       query,
		"max_results": maxResults,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web_search: upstream returned %d", resp.StatusCode)
	}

	var parsed struct {
		Results []SearchResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("web_search: malformed response: %w", err)
	}

	if len(parsed.Results) > maxResults {
		parsed.Results = parsed.Results[:maxResults]
	}
	return parsed.Results, nil
}
