package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/reportgraph/pkg/research"
)

// Search is the tavily_search tool: it runs each query and records the
// hits as sources.
type Search struct {
	client     *TavilyClient
	maxResults int
}

// NewSearch creates the tavily_search tool.
func NewSearch(client *TavilyClient) *Search {
	return &Search{client: client, maxResults: 5}
}

const searchSchema = `{
  "type": "object",
  "required": ["queries"],
  "properties": {
    "queries": {
      "type": "array",
      "minItems": 1,
      "maxItems": 5,
      "items": {"type": "string", "minLength": 1},
      "description": "one to five focused web search queries"
    }
  }
}`

func (t *Search) Spec() research.ToolSpec {
	return research.ToolSpec{
		Name:        "tavily_search",
		Description: "Perform web searches with the given queries and collect the results as sources.",
		Parameters:  json.RawMessage(searchSchema),
	}
}

func (t *Search) Invoke(ctx context.Context, args json.RawMessage, state research.ConversationState, _ research.TranscriptView) (research.ConversationState, string, error) {
	var in struct {
		Queries []string `json:"queries"`
	}
	if err := research.DecodeArgs(args, &in); err != nil {
		return state, "", err
	}

	if state.Sources == nil {
		state.Sources = map[string]research.SourceRecord{}
	}

	var b strings.Builder
	added := 0
	for _, q := range in.Queries {
		resp, err := t.client.Search(ctx, SearchRequest{Query: q, SearchDepth: "advanced", MaxResults: t.maxResults})
		if err != nil {
			return state, "", fmt.Errorf("search %q: %w", q, err)
		}
		state.Log(fmt.Sprintf("Searched the web for %q", q), true)

		fmt.Fprintf(&b, "Results for %q:\n", q)
		for _, r := range resp.Results {
			score := r.Score
			if _, seen := state.Sources[r.URL]; !seen {
				added++
			}
			src := state.Sources[r.URL]
			src.Title = r.Title
			src.Score = &score
			state.Sources[r.URL] = src
			fmt.Fprintf(&b, "- %s (%s): %s\n", r.Title, r.URL, r.Content)
		}
	}
	fmt.Fprintf(&b, "Added %d new sources.", added)
	return state, b.String(), nil
}
