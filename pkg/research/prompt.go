package research

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const preamble = `You are an expert research assistant, dedicated to helping users create comprehensive, well-sourced research reports. Your primary goal is to assist the user in producing a polished, professional report tailored to their needs.

When writing a report use the following research tools:
1. Use the tavily_search tool to start the research and gather additional information from credible online sources when needed.
2. Use the tavily_extract tool to extract additional content from relevant URLs.
3. Use the outline_writer tool to analyze the gathered information and organize it into a clear, logical **outline proposal**. Break the content into meaningful sections that will guide the report structure. You must use the outline_writer EVERY time you need to write an outline for the report.
4. After EVERY time you use the outline_writer tool, YOU MUST use the review_proposal tool.
5. Once the **outline proposal** is approved use the section_writer tool to write ONLY the sections of the report based on the **Approved Outline**%s generated from the review_proposal tool. Ensure the report is well-written, properly sourced, and easy to understand. Avoid responding with the text of the report directly, always use the section_writer tool for the final product.

After using the section_writer tool, actively engage with the user to discuss next steps. **Do not summarize your completed work**, as the user has full access to the research progress.
Instead of sharing details like generated outlines or reports, simply confirm the task is ready and ask for feedback or next steps. For example:
'I have completed [..MAX additional 5 words]. Would you like me to [..MAX additional 5 words]?'

When you have a proposal, you must only write the sections that are approved. If a section is not approved, you must not write it.
Your role is to provide support, maintain clear communication, and ensure the final report aligns with the user's expectations.
`

// BuildSystemPrompt renders the system prompt for state. It is pure: the
// same state and time always give the same text.
func BuildSystemPrompt(state ConversationState, now time.Time) string {
	parts := []string{
		fmt.Sprintf("Today's date is %s.", now.Format("02/01/2006")),
		fmt.Sprintf(preamble, approvedTitles(state.Outline)),
	}

	if p := state.Proposal; p != nil && p.Remarks != "" && len(state.Outline) == 0 {
		parts = append(parts, reviewedProposal(*p))
	}

	if len(state.Outline) > 0 {
		var b strings.Builder
		b.WriteString("### Current State of the Report\n\n**Approved Outline**:\n")
		for _, id := range state.Outline.SortedIDs() {
			e := state.Outline[id]
			fmt.Fprintf(&b, "%s. %s: %s\n", id, e.Title, e.Description)
		}
		parts = append(parts, b.String())
	}

	if len(state.Sections) > 0 {
		var b strings.Builder
		b.WriteString("**Report**:\n\n")
		for _, s := range state.Sections {
			fmt.Fprintf(&b, "section %s : %s\ncontent : %s\nfooter : %s\n", s.Idx, s.Title, s.Content, s.Footer)
		}
		parts = append(parts, b.String())
	}

	return strings.Join(parts, "\n")
}

func approvedTitles(o Outline) string {
	if len(o) == 0 {
		return ""
	}
	titles := make([]string, 0, len(o))
	for _, id := range o.SortedIDs() {
		titles = append(titles, strconv.Quote(o[id].Title))
	}
	return ": [" + strings.Join(titles, ", ") + "]"
}

func reviewedProposal(p Proposal) string {
	var b strings.Builder
	b.WriteString("**Reviewed Proposal:**\n")
	fmt.Fprintf(&b, "Approved: %t\n", p.Approved)
	b.WriteString("Sections:\n")
	for _, id := range sortedSectionIDs(p.Sections) {
		s := p.Sections[id]
		fmt.Fprintf(&b, "- %s. %s (approved: %t): %s\n", id, s.Title, s.Approved, s.Description)
	}
	fmt.Fprintf(&b, "User's feedback: %s\n", p.Remarks)
	b.WriteString("You must use the outline_writer tool to create a new outline proposal that incorporates the user's feedback.\n")
	return b.String()
}

// sortedSectionIDs orders numeric IDs numerically and the rest lexically
// after them.
func sortedSectionIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		default:
			return ids[i] < ids[j]
		}
	})
	return ids
}
