package research

import (
	"fmt"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph"
)

// ControlState is the workflow position of a session.
type ControlState int

const (
	Deciding ControlState = iota
	ExecutingTools
	AwaitingHuman
	ProcessingFeedback
	Terminal
)

func (c ControlState) String() string {
	switch c {
	case Deciding:
		return "deciding"
	case ExecutingTools:
		return "executing_tools"
	case AwaitingHuman:
		return "awaiting_human"
	case ProcessingFeedback:
		return "processing_feedback"
	case Terminal:
		return "terminal"
	default:
		return fmt.Sprintf("ControlState(%d)", int(c))
	}
}

// MarshalText encodes the state name.
func (c ControlState) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (c *ControlState) UnmarshalText(text []byte) error {
	for s := Deciding; s <= Terminal; s++ {
		if s.String() == string(text) {
			*c = s
			return nil
		}
	}
	return fmt.Errorf("unknown control state %q", text)
}

// Engine node IDs, one per control state.
const (
	NodeCallModel       = "call_model"
	NodeTools           = "tools"
	NodeAskHuman        = "ask_human"
	NodeProcessFeedback = "process_feedback"
)

// Node returns the engine node that implements c.
func (c ControlState) Node() string {
	switch c {
	case Deciding:
		return NodeCallModel
	case ExecutingTools:
		return NodeTools
	case AwaitingHuman:
		return NodeAskHuman
	case ProcessingFeedback:
		return NodeProcessFeedback
	case Terminal:
		return flowgraph.END
	default:
		panic(fmt.Sprintf("research: no node for %v", c))
	}
}

// ApprovalSet names the tools that require a human response instead of
// execution.
type ApprovalSet map[string]struct{}

// NewApprovalSet builds an ApprovalSet.
func NewApprovalSet(names ...string) ApprovalSet {
	set := make(ApprovalSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func (a ApprovalSet) Contains(name string) bool {
	_, ok := a[name]
	return ok
}

// FirstApproval returns the first call in calls that needs approval.
func (a ApprovalSet) FirstApproval(calls []ToolCall) (ToolCall, bool) {
	for _, c := range calls {
		if a.Contains(c.Name) {
			return c, true
		}
	}
	return ToolCall{}, false
}

// Route picks the next control state from the oracle's latest message:
// no tool calls ends the run, any approval call suspends, otherwise the
// tools run.
func Route(msg Message, approvals ApprovalSet) ControlState {
	if len(msg.ToolCalls) == 0 {
		return Terminal
	}
	if _, ok := approvals.FirstApproval(msg.ToolCalls); ok {
		return AwaitingHuman
	}
	return ExecutingTools
}
