package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	fgerrors "github.com/randalmurphal/reportgraph/pkg/flowgraph/errors"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/llm"
	"github.com/randalmurphal/reportgraph/pkg/research"
)

// maxSourceChars bounds how much of each source is quoted to the writer.
const maxSourceChars = 2000

const outlinePrompt = `You are a research editor. From the conversation and the gathered sources, propose an outline for a report.
Answer with JSON only, in this shape:
{"title": "report title", "sections": {"1": {"title": "...", "description": "what the section covers"}, "2": {...}}}
Use consecutive numeric section ids starting at 1.`

const sectionPrompt = `You are a research writer. Write one section of a report in Markdown, grounded in the given sources.
Answer with JSON only, in this shape:
{"content": "markdown body without the section heading", "footer": "numbered references used, e.g. [1] Title - URL"}`

// OutlineWriter is the outline_writer tool. It drafts a Proposal that the
// human reviews through review_proposal; the previous outline is dropped.
type OutlineWriter struct {
	client llm.Client
}

func NewOutlineWriter(client llm.Client) *OutlineWriter {
	return &OutlineWriter{client: client}
}

func (t *OutlineWriter) Spec() research.ToolSpec {
	return research.ToolSpec{
		Name:        "outline_writer",
		Description: "Write an outline proposal for the research report from the gathered sources.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "required": ["topic"],
  "properties": {
    "topic": {"type": "string", "minLength": 1},
    "instructions": {"type": "string", "description": "user feedback to incorporate"}
  }
}`),
	}
}

func (t *OutlineWriter) Invoke(ctx context.Context, args json.RawMessage, state research.ConversationState, view research.TranscriptView) (research.ConversationState, string, error) {
	var in struct {
		Topic        string `json:"topic"`
		Instructions string `json:"instructions"`
	}
	if err := research.DecodeArgs(args, &in); err != nil {
		return state, "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	if in.Instructions != "" {
		fmt.Fprintf(&b, "Instructions: %s\n", in.Instructions)
	}
	fmt.Fprintf(&b, "\nConversation:\n%s\nSources:\n%s", view.String(), sourceDigest(state))

	root, err := completeJSON(ctx, t.client, outlinePrompt, b.String())
	if err != nil {
		return state, "", err
	}

	sections := root.Get("sections")
	if !sections.IsObject() {
		return state, "", &fgerrors.JSONParseError{Input: root.Raw, Message: "outline has no sections object"}
	}
	proposal := research.Proposal{Sections: map[string]research.ProposalSection{}}
	sections.ForEach(func(id, sec gjson.Result) bool {
		proposal.Sections[id.String()] = research.ProposalSection{
			Title:       sec.Get("title").String(),
			Description: sec.Get("description").String(),
		}
		return true
	})
	if len(proposal.Sections) == 0 {
		return state, "", &fgerrors.JSONParseError{Input: root.Raw, Message: "outline is empty"}
	}

	if title := root.Get("title").String(); title != "" {
		state.Title = title
	}
	state.Proposal = &proposal
	state.Outline = nil
	state.Log(fmt.Sprintf("Drafted an outline with %d sections", len(proposal.Sections)), true)

	return state, fmt.Sprintf("Outline proposal with %d sections is ready for review.", len(proposal.Sections)), nil
}

// SectionWriter is the section_writer tool. It only writes sections of the
// approved outline.
type SectionWriter struct {
	client llm.Client
}

func NewSectionWriter(client llm.Client) *SectionWriter {
	return &SectionWriter{client: client}
}

func (t *SectionWriter) Spec() research.ToolSpec {
	return research.ToolSpec{
		Name:        "section_writer",
		Description: "Write one section of the report. idx must be a section id of the Approved Outline.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "required": ["idx"],
  "properties": {
    "idx": {"type": "string", "minLength": 1},
    "notes": {"type": "string", "description": "extra guidance for this section"}
  }
}`),
	}
}

func (t *SectionWriter) Invoke(ctx context.Context, args json.RawMessage, state research.ConversationState, _ research.TranscriptView) (research.ConversationState, string, error) {
	var in struct {
		Idx   string `json:"idx"`
		Notes string `json:"notes"`
	}
	if err := research.DecodeArgs(args, &in); err != nil {
		return state, "", err
	}

	entry, ok := state.Outline[in.Idx]
	if !ok {
		return state, "", fmt.Errorf("section %s is not in the approved outline (have %s)",
			in.Idx, strings.Join(state.Outline.SortedIDs(), ", "))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Report: %s\nSection %s: %s\nCovers: %s\n", state.Title, in.Idx, entry.Title, entry.Description)
	if in.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", in.Notes)
	}
	fmt.Fprintf(&b, "\nSources:\n%s", sourceDigest(state))

	root, err := completeJSON(ctx, t.client, sectionPrompt, b.String())
	if err != nil {
		return state, "", err
	}
	content := strings.TrimSpace(root.Get("content").String())
	if content == "" {
		return state, "", &fgerrors.JSONParseError{Input: root.Raw, Message: "section has no content"}
	}

	sec := research.Section{
		Idx:     in.Idx,
		Title:   entry.Title,
		Content: content,
		Footer:  strings.TrimSpace(root.Get("footer").String()),
	}
	if i := state.SectionByIdx(in.Idx); i >= 0 {
		state.Sections[i] = sec
	} else {
		state.Sections = append(state.Sections, sec)
	}
	state.Log(fmt.Sprintf("Wrote section %s: %s", in.Idx, entry.Title), true)

	return state, fmt.Sprintf("Section %s (%s) written.", in.Idx, entry.Title), nil
}

func completeJSON(ctx context.Context, client llm.Client, system, user string) (gjson.Result, error) {
	resp, err := client.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
	})
	if err != nil {
		return gjson.Result{}, err
	}

	body := stripFences(resp.Content)
	if !gjson.Valid(body) {
		return gjson.Result{}, &fgerrors.JSONParseError{Input: resp.Content, Message: "model answer is not JSON"}
	}
	return gjson.Parse(body), nil
}

// stripFences removes a surrounding ```json code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func sourceDigest(state research.ConversationState) string {
	if len(state.Sources) == 0 {
		return "(none)\n"
	}
	urls := make([]string, 0, len(state.Sources))
	for url := range state.Sources {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	var b strings.Builder
	for i, url := range urls {
		src := state.Sources[url]
		fmt.Fprintf(&b, "[%d] %s - %s\n", i+1, src.Title, url)
		if raw := src.RawContent; raw != "" {
			raw = truncate(raw, maxSourceChars)
			b.WriteString(raw)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
