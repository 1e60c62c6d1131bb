package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/checkpoint"
)

var fixedNow = time.Date(2025, time.March, 7, 10, 0, 0, 0, time.UTC)

func call(id, name, args string) ToolCall {
	if args == "" {
		args = "{}"
	}
	return ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// appendTool returns a tool that appends its tag to Title and reports the
// Title it saw.
func appendTool(name, tag string) Tool {
	return ToolFunc(ToolSpec{Name: name, Parameters: json.RawMessage(`{"type":"object"}`)},
		func(ctx context.Context, args json.RawMessage, s ConversationState, view TranscriptView) (ConversationState, string, error) {
			seen := s.Title
			s.Title += tag
			return s, fmt.Sprintf("saw %q", seen), nil
		})
}

func failingTool(name string, err error) Tool {
	return ToolFunc(ToolSpec{Name: name},
		func(ctx context.Context, args json.RawMessage, s ConversationState, view TranscriptView) (ConversationState, string, error) {
			s.Title = "must not leak"
			return s, "", err
		})
}

// outlineTool stores a proposal the way outline_writer does.
func outlineTool(p Proposal) Tool {
	return ToolFunc(ToolSpec{Name: "outline_writer"},
		func(ctx context.Context, args json.RawMessage, s ConversationState, view TranscriptView) (ConversationState, string, error) {
			s.Proposal = &p
			s.Outline = nil
			return s, "Outline proposal written.", nil
		})
}

func newTestRegistry(t *testing.T, tools ...Tool) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range tools {
		require.NoError(t, reg.Register(tool))
	}
	require.NoError(t, reg.RegisterAction(ReviewActionSpec()))
	return reg
}

func newTestDriver(t *testing.T, oracle Oracle, reg *Registry, opts ...DriverOption) *Driver {
	t.Helper()
	d, err := NewDriver(oracle, reg, append([]DriverOption{WithClock(func() time.Time { return fixedNow })}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func reviewJSON(t *testing.T, p Proposal) string {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return string(b)
}

func sampleProposal() Proposal {
	return Proposal{
		Approved: true,
		Sections: map[string]ProposalSection{
			"1": {Title: "Intro", Description: "d1", Approved: true},
			"2": {Title: "Body", Description: "d2", Approved: false},
		},
	}
}

// unanswered lists the tool calls in msgs that have no Tool reply.
func unanswered(msgs []Message) []string {
	replied := make(map[string]bool)
	for _, m := range msgs {
		if m.Role == RoleTool {
			replied[m.ToolCallID] = true
		}
	}
	var open []string
	for _, m := range msgs {
		for _, c := range m.ToolCalls {
			if !replied[c.ID] {
				open = append(open, c.ID+"("+c.Name+")")
			}
		}
	}
	return open
}

var errStoreDown = errors.New("store unavailable")

// failingSaveStore refuses every write.
type failingSaveStore struct {
	checkpoint.Store
}

func (failingSaveStore) Save(context.Context, string, string, []byte) error {
	return errStoreDown
}

// gatedListStore holds its first List call until release is closed.
type gatedListStore struct {
	checkpoint.Store
	gated   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedListStore() *gatedListStore {
	return &gatedListStore{
		Store:   checkpoint.NewMemoryStore(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gatedListStore) List(ctx context.Context, runID string) ([]checkpoint.Info, error) {
	if s.gated.CompareAndSwap(false, true) {
		close(s.entered)
		<-s.release
	}
	return s.Store.List(ctx, runID)
}
