package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/reportgraph/pkg/research"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func noteTool(name string) research.Tool {
	spec := research.ToolSpec{Name: name, Parameters: json.RawMessage(`{"type":"object"}`)}
	return research.ToolFunc(spec, func(_ context.Context, _ json.RawMessage, s research.ConversationState, _ research.TranscriptView) (research.ConversationState, string, error) {
		s.Log(name, true)
		return s, "ok", nil
	})
}

func benchDriver(b *testing.B, oracle research.Oracle, store checkpoint.Store) *research.Driver {
	b.Helper()
	reg := research.NewRegistry()
	reg.MustRegister(noteTool("search"), noteTool("outline"))
	if err := reg.RegisterAction(research.ReviewActionSpec()); err != nil {
		b.Fatal(err)
	}
	d, err := research.NewDriver(oracle, reg, research.WithCheckpointStore(store), research.WithLogger(quiet))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = d.Close() })
	return d
}

// loopOracle answers with tool rounds and a review call, then a final
// reply, forever.
func loopOracle() research.Oracle {
	var n int
	return research.OracleFunc(func(context.Context, string, []research.Message, []research.ToolSpec) (research.Message, error) {
		n++
		switch n % 4 {
		case 1:
			return research.AIMessage("", research.ToolCall{ID: fmt.Sprintf("c%d", n), Name: "search"}), nil
		case 2:
			return research.AIMessage("", research.ToolCall{ID: fmt.Sprintf("c%d", n), Name: "outline"}), nil
		case 3:
			return research.AIMessage("", research.ToolCall{ID: fmt.Sprintf("r%d", n), Name: research.ReviewActionName}), nil
		default:
			return research.AIMessage("done"), nil
		}
	})
}

func benchmarkSuspendResume(b *testing.B, store checkpoint.Store) {
	d := benchDriver(b, loopOracle(), store)
	ctx := context.Background()
	review := `{"approved":true,"sections":{"1":{"title":"Intro","description":"d","approved":true}}}`

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("s%d", i)
		res, err := d.Send(ctx, id, research.HumanMessage("research"))
		if err != nil || !res.Suspended() {
			b.Fatalf("send: %v (status %s)", err, res.Status)
		}
		if _, err := d.Resume(ctx, id, research.Message{ToolCallID: res.PendingCallID, Content: review}); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkDriver_SuspendResume_Memory runs a full review round trip.
func BenchmarkDriver_SuspendResume_Memory(b *testing.B) {
	benchmarkSuspendResume(b, checkpoint.NewMemoryStore())
}

// BenchmarkDriver_SuspendResume_SQLite is the same round trip persisted.
func BenchmarkDriver_SuspendResume_SQLite(b *testing.B) {
	benchmarkSuspendResume(b, sqliteStore(b))
}

// BenchmarkExecutor_Batch resolves a batch of sequential tool calls.
func BenchmarkExecutor_Batch(b *testing.B) {
	for _, size := range []int{1, 5, 20} {
		b.Run(fmt.Sprintf("calls=%d", size), func(b *testing.B) {
			reg := research.NewRegistry().MustRegister(noteTool("search"))
			exec := research.NewExecutor(reg, research.WithExecutorLogger(quiet))
			calls := make([]research.ToolCall, size)
			for i := range calls {
				calls[i] = research.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "search"}
			}
			state := researchState(10)
			state.Messages = append(state.Messages, research.AIMessage("", calls...))
			ctx := context.Background()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, _, err := exec.Execute(ctx, state, calls); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
