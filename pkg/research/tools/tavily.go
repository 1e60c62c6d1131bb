package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	fgerrors "github.com/randalmurphal/reportgraph/pkg/flowgraph/errors"
)

// DefaultTavilyURL is the public Tavily API endpoint.
const DefaultTavilyURL = "https://api.tavily.com"

// TavilyClient calls the Tavily search and extract endpoints.
type TavilyClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// TavilyOption configures a TavilyClient.
type TavilyOption func(*TavilyClient)

// WithTavilyBaseURL points the client at another host, e.g. a test server.
func WithTavilyBaseURL(url string) TavilyOption {
	return func(c *TavilyClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) TavilyOption {
	return func(c *TavilyClient) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewTavilyClient creates a client authenticating with apiKey.
func NewTavilyClient(apiKey string, opts ...TavilyOption) *TavilyClient {
	c := &TavilyClient{
		baseURL: DefaultTavilyURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query       string `json:"query"`
	SearchDepth string `json:"search_depth,omitempty"`
	MaxResults  int    `json:"max_results,omitempty"`
	Topic       string `json:"topic,omitempty"`
}

// SearchResult is one hit.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// ExtractResult is the scraped content of one URL.
type ExtractResult struct {
	URL        string `json:"url"`
	RawContent string `json:"raw_content"`
}

// ExtractResponse is the body returned by POST /extract.
type ExtractResponse struct {
	Results       []ExtractResult `json:"results"`
	FailedResults []struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	} `json:"failed_results"`
}

// Search runs a web search.
func (c *TavilyClient) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.post(ctx, "/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Extract scrapes the raw content of urls.
func (c *TavilyClient) Extract(ctx context.Context, urls []string) (*ExtractResponse, error) {
	var resp ExtractResponse
	if err := c.post(ctx, "/extract", map[string]any{"urls": urls}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *TavilyClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("tavily: marshal request: %w", err)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("tavily: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tavily: call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("tavily: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &fgerrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Endpoint:   path,
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &fgerrors.JSONParseError{Input: string(data), Message: err.Error()}
	}
	return nil
}
