package research

import (
	"maps"
	"slices"
)

// OutlineEntry is one approved section of the report outline.
type OutlineEntry struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Outline maps section IDs to approved sections. It is only ever derived
// from an approved Proposal.
type Outline map[string]OutlineEntry

// SortedIDs returns the outline's section IDs in display order.
func (o Outline) SortedIDs() []string {
	return sortedSectionIDs(o)
}

// Section is a drafted report section.
type Section struct {
	Idx     string `json:"idx"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Footer  string `json:"footer"`
}

// SourceRecord describes a source URL. RawContent is only set by extraction.
type SourceRecord struct {
	Title      string   `json:"title,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	RawContent string   `json:"raw_content,omitempty"`
}

// ProposalSection is a candidate section under review.
type ProposalSection struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Approved    bool   `json:"approved"`
}

// Proposal is an outline awaiting (or returned from) human review.
type Proposal struct {
	Approved bool                       `json:"approved"`
	Sections map[string]ProposalSection `json:"sections"`
	Remarks  string                     `json:"remarks,omitempty"`
}

// ApprovedOutline returns the approved sections as an Outline.
func (p Proposal) ApprovedOutline() Outline {
	out := Outline{}
	for id, s := range p.Sections {
		if s.Approved {
			out[id] = OutlineEntry{Title: s.Title, Description: s.Description}
		}
	}
	return out
}

// SortedIDs returns the proposal's section IDs in display order.
func (p Proposal) SortedIDs() []string {
	return sortedSectionIDs(p.Sections)
}

func (p *Proposal) clone() *Proposal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Sections = maps.Clone(p.Sections)
	return &cp
}

// LogEntry is a progress line surfaced to observers while tools run.
type LogEntry struct {
	Message string `json:"message"`
	Done    bool   `json:"done"`
}

// ConversationState is the versioned value threaded through every step of
// a session. Components receive a clone and return the next version; none
// retain it.
type ConversationState struct {
	Messages    []Message               `json:"messages"`
	Title       string                  `json:"title,omitempty"`
	Proposal    *Proposal               `json:"proposal,omitempty"`
	Outline     Outline                 `json:"outline,omitempty"`
	Sections    []Section               `json:"sections,omitempty"`
	Sources     map[string]SourceRecord `json:"sources,omitempty"`
	Logs        []LogEntry              `json:"logs,omitempty"`
	PendingTool string                  `json:"pending_tool,omitempty"`
	Version     int                     `json:"version"`
}

// Clone returns a deep copy of s.
func (s ConversationState) Clone() ConversationState {
	cp := s
	if s.Messages != nil {
		cp.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			cp.Messages[i] = m.clone()
		}
	}
	cp.Proposal = s.Proposal.clone()
	cp.Outline = maps.Clone(s.Outline)
	cp.Sections = slices.Clone(s.Sections)
	if s.Sources != nil {
		cp.Sources = make(map[string]SourceRecord, len(s.Sources))
		for url, src := range s.Sources {
			if src.Score != nil {
				score := *src.Score
				src.Score = &score
			}
			cp.Sources[url] = src
		}
	}
	cp.Logs = slices.Clone(s.Logs)
	return cp
}

// next returns a clone of s with the version advanced.
func (s ConversationState) next() ConversationState {
	cp := s.Clone()
	cp.Version++
	return cp
}

// AwaitingKey reports the tool-call ID the session is suspended on.
func (s ConversationState) AwaitingKey() string {
	return s.PendingTool
}

// LastMessage returns the most recent transcript entry.
func (s ConversationState) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastAI returns the most recent AI message.
func (s ConversationState) LastAI() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleAI {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// Reply is the text of the most recent AI message.
func (s ConversationState) Reply() string {
	m, _ := s.LastAI()
	return m.Content
}

// Log appends a progress entry.
func (s *ConversationState) Log(message string, done bool) {
	s.Logs = append(s.Logs, LogEntry{Message: message, Done: done})
}

// SectionByIdx returns the index of the section with the given outline ID.
func (s ConversationState) SectionByIdx(idx string) int {
	return slices.IndexFunc(s.Sections, func(sec Section) bool { return sec.Idx == idx })
}
