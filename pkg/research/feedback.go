package research

import (
	"encoding/json"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ReviewActionName is the approval action through which a human reviews
// an outline proposal.
const ReviewActionName = "review_proposal"

const proposalSchema = `{
  "type": "object",
  "required": ["approved", "sections"],
  "properties": {
    "approved": {"type": "boolean"},
    "remarks": {"type": "string"},
    "sections": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["title", "description", "approved"],
        "properties": {
          "title": {"type": "string"},
          "description": {"type": "string"},
          "approved": {"type": "boolean"}
        }
      }
    }
  }
}`

// reviewSchema is the catalog schema of review_proposal: the oracle hands
// the proposal to the reviewer.
const reviewSchema = `{
  "type": "object",
  "properties": {
    "proposal": {"type": "object", "description": "the outline proposal to review"}
  }
}`

// ReviewActionSpec is the catalog entry for review_proposal.
func ReviewActionSpec() ToolSpec {
	return ToolSpec{
		Name:        ReviewActionName,
		Description: "Ask the user to review and approve the current outline proposal. Must be called after every outline_writer call.",
		Parameters:  json.RawMessage(reviewSchema),
	}
}

var (
	proposalOnce     sync.Once
	proposalCompiled *gojsonschema.Schema
	proposalErr      error
)

func compiledProposalSchema() (*gojsonschema.Schema, error) {
	proposalOnce.Do(func() {
		proposalCompiled, proposalErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(proposalSchema))
	})
	return proposalCompiled, proposalErr
}

// ParseProposal decodes a review response. It fails with *ValidationError
// when content is not JSON or misses required fields.
func ParseProposal(content string) (Proposal, error) {
	schema, err := compiledProposalSchema()
	if err != nil {
		return Proposal{}, err
	}
	if err := validateAgainst(schema, []byte(content), "proposal"); err != nil {
		return Proposal{}, err
	}

	var p Proposal
	if err := json.Unmarshal([]byte(content), &p); err != nil {
		return Proposal{}, &ValidationError{Field: "proposal", Err: err}
	}
	if p.Sections == nil {
		p.Sections = map[string]ProposalSection{}
	}
	return p, nil
}

// ProcessFeedback folds the resumed Tool message into the state. A
// review_proposal response is parsed and stored as the Proposal; when it is
// approved the Outline is replaced by its approved sections. Other
// messages pass through untouched. The pending call is cleared either way.
//
// Applying the same response twice yields the same Outline and Proposal.
func ProcessFeedback(state ConversationState) (ConversationState, error) {
	last, ok := state.LastMessage()
	if !ok || last.Role != RoleTool {
		return state, &ValidationError{Field: "messages", Reason: "last message is not a tool response"}
	}

	next := state.next()
	next.PendingTool = ""

	if last.Name != ReviewActionName {
		return next, nil
	}

	proposal, err := ParseProposal(last.Content)
	if err != nil {
		return state, err
	}
	if proposal.Approved {
		next.Outline = proposal.ApprovedOutline()
	}
	next.Proposal = &proposal
	return next, nil
}
