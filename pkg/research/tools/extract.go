package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/reportgraph/pkg/research"
)

// Extract is the tavily_extract tool: it scrapes full page content for
// URLs, usually ones found by tavily_search.
type Extract struct {
	client *TavilyClient
}

func NewExtract(client *TavilyClient) *Extract {
	return &Extract{client: client}
}

const extractSchema = `{
  "type": "object",
  "required": ["urls"],
  "properties": {
    "urls": {
      "type": "array",
      "minItems": 1,
      "maxItems": 20,
      "items": {"type": "string", "minLength": 1},
      "description": "list of a single or several URLs for extracting raw content to gather additional information"
    }
  }
}`

func (t *Extract) Spec() research.ToolSpec {
	return research.ToolSpec{
		Name:        "tavily_extract",
		Description: "Perform full scrape to a provided list of urls.",
		Parameters:  json.RawMessage(extractSchema),
	}
}

func (t *Extract) Invoke(ctx context.Context, args json.RawMessage, state research.ConversationState, _ research.TranscriptView) (research.ConversationState, string, error) {
	var in struct {
		URLs []string `json:"urls"`
	}
	if err := research.DecodeArgs(args, &in); err != nil {
		return state, "", err
	}

	resp, err := t.client.Extract(ctx, in.URLs)
	if err != nil {
		return state, "", fmt.Errorf("extract: %w", err)
	}

	if state.Sources == nil {
		state.Sources = map[string]research.SourceRecord{}
	}

	var b strings.Builder
	b.WriteString("Extracted raw content to gather additional information from the following sources:\n")
	for _, r := range resp.Results {
		src := state.Sources[r.URL]
		src.RawContent = r.RawContent
		state.Sources[r.URL] = src
		fmt.Fprintf(&b, "%s\n", r.URL)
	}
	for _, f := range resp.FailedResults {
		fmt.Fprintf(&b, "Failed: %s (%s)\n", f.URL, f.Error)
	}
	state.Log(fmt.Sprintf("Extracted %d of %d pages", len(resp.Results), len(in.URLs)), true)
	return state, b.String(), nil
}
