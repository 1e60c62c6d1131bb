package research

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// Markdown renders the report written so far: the title, then every
// section in outline order, then the sources.
func Markdown(state ConversationState) string {
	var b strings.Builder

	title := state.Title
	if title == "" {
		title = "Research Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	for _, sec := range orderedSections(state) {
		heading := sec.Title
		if heading == "" {
			if entry, ok := state.Outline[sec.Idx]; ok {
				heading = entry.Title
			}
		}
		fmt.Fprintf(&b, "## %s. %s\n\n", sec.Idx, heading)
		if body := strings.TrimSpace(sec.Content); body != "" {
			b.WriteString(body)
			b.WriteString("\n\n")
		}
		if footer := strings.TrimSpace(sec.Footer); footer != "" {
			fmt.Fprintf(&b, "_%s_\n\n", footer)
		}
	}

	if urls := sortedSectionIDs(state.Sources); len(urls) > 0 {
		b.WriteString("## Sources\n\n")
		for _, url := range urls {
			src := state.Sources[url]
			if src.Title == "" {
				fmt.Fprintf(&b, "- <%s>\n", url)
				continue
			}
			fmt.Fprintf(&b, "- [%s](%s)\n", src.Title, url)
		}
	}
	return b.String()
}

// RenderHTML converts the Markdown report to HTML.
func RenderHTML(state ConversationState) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(state)), &buf); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

// orderedSections sorts sections by outline ID; a later section with the
// same ID replaces an earlier one.
func orderedSections(state ConversationState) []Section {
	byIdx := make(map[string]Section, len(state.Sections))
	for _, sec := range state.Sections {
		byIdx[sec.Idx] = sec
	}
	out := make([]Section, 0, len(byIdx))
	for _, idx := range sortedSectionIDs(byIdx) {
		out = append(out, byIdx[idx])
	}
	return out
}
