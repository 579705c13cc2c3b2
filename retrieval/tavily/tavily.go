// Package tavily implements retrieval.WebSearcher on the Tavily Search API.
// Queries are biased toward the asking specialist's domain and results are
// restricted to an allow-list of authoritative security sources.
package tavily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hupe1980/sentinelmesh/core"
)

const defaultAPIURL = "https://api.tavily.com/search"

// Options configure the Tavily client.
type Options struct {
	APIURL     string
	MaxResults int
	// TrustedDomains is the allow-list. It is both sent upstream as
	// include_domains and enforced locally on the returned URLs.
	TrustedDomains []string
	HTTPClient     *http.Client
}

// Client is a retrieval.WebSearcher backed by Tavily.
type Client struct {
	apiKey string
	opts   Options
}

// New creates a Tavily client.
func New(apiKey string, optFns ...func(o *Options)) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("tavily api key is required")
	}
	opts := Options{
		APIURL:     defaultAPIURL,
		MaxResults: 4,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{apiKey: apiKey, opts: opts}, nil
}

type searchRequest struct {
	APIKey         string   `json:"api_key"`
	Query          string   `json:"query"`
	SearchDepth    string   `json:"search_depth,omitempty"`
	MaxResults     int      `json:"max_results,omitempty"`
	IncludeDomains []string `json:"include_domains,omitempty"`
}

type searchResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

// Search implements retrieval.WebSearcher.
func (c *Client) Search(ctx context.Context, query string, agent core.AgentID) ([]core.RetrievalResult, error) {
	reqBody := searchRequest{
		APIKey:         c.apiKey,
		Query:          enhanceQuery(query, agent),
		SearchDepth:    "basic",
		MaxResults:     c.opts.MaxResults,
		IncludeDomains: c.opts.TrustedDomains,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal tavily request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tavily request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("tavily request failed with status %d", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode tavily response: %w", err)
	}

	results := make([]core.RetrievalResult, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		if !c.trusted(item.URL) {
			continue
		}
		content := strings.TrimSpace(item.Content)
		if content == "" {
			continue
		}
		results = append(results, core.RetrievalResult{
			Content:    content,
			Source:     core.SourceWeb,
			Relevance:  item.Score,
			Provenance: item.URL,
		})
	}
	return results, nil
}

// trusted reports whether the result URL belongs to an allow-listed domain.
// An empty allow-list trusts nothing; the filter is a safety boundary, not a
// ranking hint.
func (c *Client) trusted(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range c.opts.TrustedDomains {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// enhanceQuery prefixes the query with domain framing so generic queries
// surface security-relevant pages.
func enhanceQuery(query string, agent core.AgentID) string {
	switch agent {
	case core.AgentIncidentResponse:
		return "incident response " + query
	case core.AgentThreatIntelligence:
		return "threat intelligence " + query
	case core.AgentPrevention:
		return "security hardening " + query
	default:
		return "cybersecurity " + query
	}
}
