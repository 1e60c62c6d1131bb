package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/randalmurphal/reportgraph/pkg/flowgraph"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/event"
	"github.com/randalmurphal/reportgraph/pkg/flowgraph/observability"
)

// Driver runs research sessions over a compiled workflow graph:
//
//	call_model ──(tool calls)──────────▶ tools ──▶ call_model
//	    │      ──(approval call)───────▶ ask_human ⏸ ──▶ process_feedback ──▶ call_model
//	    └──────(no tool calls)─────────▶ END
//
// ask_human is an interrupt: the run checkpoints and returns, and a later
// Resume (possibly in another process sharing the store) continues at
// process_feedback. Operations on one session are serialized; different
// sessions run concurrently.
type Driver struct {
	oracle    Oracle
	registry  *Registry
	executor  *Executor
	approvals ApprovalSet
	graph     *flowgraph.CompiledGraph[ConversationState]
	store     checkpoint.Store
	bus       event.Bus
	ownsBus   bool
	logger    *slog.Logger
	now       func() time.Time

	maxIterations int
	metrics       observability.MetricsRecorder
	spans         observability.SpanManager
	execOpts      []ExecutorOption

	mu       sync.Mutex
	sessions map[string]*session
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithCheckpointStore sets where suspended sessions are persisted.
// Default: an in-memory store.
func WithCheckpointStore(store checkpoint.Store) DriverOption {
	return func(d *Driver) { d.store = store }
}

// WithApprovalActions replaces the approval set. Default: review_proposal.
func WithApprovalActions(names ...string) DriverOption {
	return func(d *Driver) { d.approvals = NewApprovalSet(names...) }
}

// WithLogger sets the driver logger. It is handed to nodes through
// flowgraph.Context.
func WithLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock sets the time source used for the prompt date.
func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// WithMaxIterations bounds node executions per Send or Resume.
func WithMaxIterations(n int) DriverOption {
	return func(d *Driver) { d.maxIterations = n }
}

// WithExecutorOptions passes options to the tool executor.
func WithExecutorOptions(opts ...ExecutorOption) DriverOption {
	return func(d *Driver) { d.execOpts = append(d.execOpts, opts...) }
}

// WithMetrics records engine and tool metrics on m.
func WithMetrics(m observability.MetricsRecorder) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// WithTracing emits run, node and tool spans through sm.
func WithTracing(sm observability.SpanManager) DriverOption {
	return func(d *Driver) { d.spans = sm }
}

// WithEventBus publishes driver events on bus instead of a private one.
// The caller keeps ownership; Close does not close it.
func WithEventBus(bus event.Bus) DriverOption {
	return func(d *Driver) { d.bus = bus }
}

// NewDriver checks registry against the approval set and compiles the
// workflow graph.
func NewDriver(oracle Oracle, registry *Registry, opts ...DriverOption) (*Driver, error) {
	if oracle == nil {
		return nil, errors.New("research: oracle is required")
	}
	if registry == nil {
		return nil, errors.New("research: registry is required")
	}

	d := &Driver{
		oracle:        oracle,
		registry:      registry,
		approvals:     NewApprovalSet(ReviewActionName),
		logger:        slog.Default(),
		now:           time.Now,
		maxIterations: flowgraph.DefaultMaxIterations,
		sessions:      make(map[string]*session),
	}
	for _, opt := range opts {
		opt(d)
	}

	if err := registry.Validate(d.approvals); err != nil {
		return nil, err
	}

	if d.store == nil {
		d.store = checkpoint.NewMemoryStore()
	}
	if d.bus == nil {
		d.bus = event.NewBus(event.BusConfig{
			NonBlocking: true,
			OnError: func(evt event.Event, sub string, err error) {
				d.logger.Warn("event handler failed", "event_type", evt.Type(), "subscriber", sub, "error", err)
			},
		})
		d.ownsBus = true
	}

	execOpts := []ExecutorOption{WithExecutorLogger(d.logger)}
	if d.metrics != nil {
		execOpts = append(execOpts, WithToolMetrics(d.metrics))
	}
	if d.spans != nil {
		execOpts = append(execOpts, WithToolSpans(d.spans))
	}
	d.executor = NewExecutor(registry, append(execOpts, d.execOpts...)...)

	graph, err := flowgraph.NewGraph[ConversationState]().
		AddNode(NodeCallModel, d.callModel).
		AddNode(NodeTools, d.runTools).
		AddNode(NodeAskHuman, d.askHuman).
		AddNode(NodeProcessFeedback, d.processFeedback).
		AddConditionalEdge(NodeCallModel, d.route).
		AddEdge(NodeTools, NodeCallModel).
		AddEdge(NodeAskHuman, NodeProcessFeedback).
		AddEdge(NodeProcessFeedback, NodeCallModel).
		AddInterrupt(NodeAskHuman).
		SetEntry(NodeCallModel).
		Compile()
	if err != nil {
		return nil, fmt.Errorf("compile workflow: %w", err)
	}
	d.graph = graph
	return d, nil
}

// Close releases the driver's event bus. The checkpoint store stays open.
func (d *Driver) Close() error {
	if d.ownsBus {
		return d.bus.Close()
	}
	return nil
}

// Send appends message as a human turn and runs the session until it
// finishes, suspends for review, or fails. A session that does not exist
// yet is created. Send on a suspended session fails with
// ErrSessionSuspended.
func (d *Driver) Send(ctx context.Context, sessionID string, message Message) (Result, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	sess := d.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	d.restore(ctx, sess)
	if sess.status == AwaitingHuman {
		err := fmt.Errorf("%w: %s (pending call %s)", ErrSessionSuspended, sessionID, sess.pending)
		return sess.result(), err
	}

	state := sess.state.next()
	state.Messages = append(state.Messages, HumanMessage(message.Content))
	sess.state = state
	sess.status = Deciding
	sess.lastErr = ""

	fctx := d.flowContext(ctx, sessionID)
	final, err := d.graph.Run(fctx, state, d.runOptions(sessionID)...)
	return d.finish(ctx, sess, final, err)
}

// Retry re-runs the decision step of a session left in Deciding by a
// failed round, without adding a message.
func (d *Driver) Retry(ctx context.Context, sessionID string) (Result, error) {
	sess, ok := d.lookup(sessionID)
	if !ok {
		return Result{SessionID: sessionID}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.status {
	case AwaitingHuman:
		return sess.result(), fmt.Errorf("%w: %s (pending call %s)", ErrSessionSuspended, sessionID, sess.pending)
	case Terminal:
		return sess.result(), nil
	}

	sess.lastErr = ""
	fctx := d.flowContext(ctx, sessionID)
	final, err := d.graph.Run(fctx, sess.state, d.runOptions(sessionID)...)
	return d.finish(ctx, sess, final, err)
}

// Resume answers the pending approval call of a suspended session with
// response and continues the run at feedback processing.
//
// response must carry the pending call's ID in ToolCallID, otherwise
// Resume fails with an *InvalidResumeError and the session stays
// suspended. A review response that does not parse as a proposal fails
// with a *ValidationError, also leaving the session suspended.
func (d *Driver) Resume(ctx context.Context, sessionID string, response Message) (Result, error) {
	sess, ok := d.existing(ctx, sessionID)
	if !ok {
		return Result{SessionID: sessionID}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	fctx := d.flowContext(ctx, sessionID)
	pendingState, ie, err := d.graph.PendingInterrupt(fctx, d.store, sessionID)
	switch {
	case errors.Is(err, flowgraph.ErrNoCheckpoints), errors.Is(err, flowgraph.ErrNotInterrupted):
		rerr := &InvalidResumeError{SessionID: sessionID, Got: response.ToolCallID, Err: ErrNoPendingInterrupt}
		return sess.result(), rerr
	case err != nil:
		return sess.result(), err
	}

	sess.state = pendingState
	sess.status = AwaitingHuman
	sess.pending = ie.PendingKey

	if response.ToolCallID != ie.PendingKey {
		rerr := &InvalidResumeError{
			SessionID: sessionID,
			Expected:  ie.PendingKey,
			Got:       response.ToolCallID,
			Err:       ErrCorrelationMismatch,
		}
		sess.lastErr = describe(rerr)
		return sess.result(), rerr
	}

	response.Role = RoleTool
	if response.Name == "" {
		response.Name = pendingCallName(pendingState, ie.PendingKey)
	}

	var rejected error
	update := func(s ConversationState) (ConversationState, error) {
		if response.Name == ReviewActionName {
			if _, err := ParseProposal(response.Content); err != nil {
				rejected = err
				return s, err
			}
		}
		next := s.next()
		next.Messages = append(next.Messages, response)
		d.publish(ctx, EventSessionResumed, StateUpdate{
			SessionID:   sessionID,
			Node:        NodeAskHuman,
			Status:      ProcessingFeedback,
			NewMessages: []Message{response},
			State:       next.Clone(),
		})
		return next, nil
	}

	final, err := d.graph.Resume(fctx, d.store, sessionID,
		flowgraph.WithStateUpdate(update),
		flowgraph.WithResumeRunOptions(d.runOptions(sessionID)...))
	if rejected != nil {
		// Checkpoint untouched: still awaiting a usable response.
		sess.lastErr = describe(rejected)
		return sess.result(), rejected
	}
	sess.pending = ""
	return d.finish(ctx, sess, final, err)
}

// Abandon discards a suspended session's checkpoint and answers the pending
// call with AbandonedContent. The session becomes terminal; a later Send
// starts a new round with the state it had.
func (d *Driver) Abandon(ctx context.Context, sessionID string) error {
	sess, ok := d.existing(ctx, sessionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	fctx := d.flowContext(ctx, sessionID)
	state, ie, err := d.graph.PendingInterrupt(fctx, d.store, sessionID)
	switch {
	case errors.Is(err, flowgraph.ErrNoCheckpoints), errors.Is(err, flowgraph.ErrNotInterrupted):
		return &InvalidResumeError{SessionID: sessionID, Err: ErrNoPendingInterrupt}
	case err != nil:
		return err
	}

	if err := d.graph.Discard(fctx, d.store, sessionID); err != nil {
		return err
	}

	sess.state = answerPending(state, ie.PendingKey, AbandonedContent)
	sess.status = Terminal
	sess.pending = ""
	sess.lastErr = ""

	d.logger.Info("session abandoned", "session_id", sessionID)
	d.publish(ctx, EventSessionAbandoned, sess.update(Terminal))
	return nil
}

// Snapshot returns a copy of a session's state and its control state.
// Sessions suspended by another process are loaded from the store.
func (d *Driver) Snapshot(ctx context.Context, sessionID string) (ConversationState, ControlState, error) {
	sess, ok := d.existing(ctx, sessionID)
	if !ok {
		return ConversationState{}, Terminal, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state.Clone(), sess.status, nil
}

// Result returns the latest result of a session.
func (d *Driver) Result(ctx context.Context, sessionID string) (Result, error) {
	sess, ok := d.existing(ctx, sessionID)
	if !ok {
		return Result{SessionID: sessionID}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.result(), nil
}

// Sessions lists the IDs of sessions known to this driver, sorted.
func (d *Driver) Sessions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Recover loads every session suspended in the checkpoint store, typically
// after a restart, and returns how many were found.
func (d *Driver) Recover(ctx context.Context) (int, error) {
	runs, err := d.store.Runs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list suspended sessions: %w", err)
	}

	n := 0
	for _, id := range runs {
		sess, ok := d.existing(ctx, id)
		if !ok {
			continue
		}
		sess.mu.Lock()
		if sess.status == AwaitingHuman {
			n++
		}
		sess.mu.Unlock()
	}
	d.logger.Info("recovered suspended sessions", "count", n)
	return n, nil
}

func (d *Driver) session(id string) *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions[id]
	if !ok {
		sess = &session{id: id}
		d.sessions[id] = sess
	}
	return sess
}

func (d *Driver) lookup(id string) (*session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess, ok := d.sessions[id]
	return sess, ok
}

// existing returns the session for id, loading it from the store when
// another process suspended it. Nothing is added to the table unless a
// suspension was found.
func (d *Driver) existing(ctx context.Context, id string) (*session, bool) {
	if sess, ok := d.lookup(id); ok {
		return sess, true
	}

	loaded := &session{id: id}
	found := d.loadSuspended(ctx, loaded)

	d.mu.Lock()
	defer d.mu.Unlock()
	if sess, ok := d.sessions[id]; ok {
		return sess, true
	}
	if !found {
		return nil, false
	}
	d.sessions[id] = loaded
	return loaded, true
}

// restore picks up a suspension written by another process for a session
// this driver has never run.
func (d *Driver) restore(ctx context.Context, sess *session) {
	if sess.state.Version == 0 && sess.status == Deciding {
		d.loadSuspended(ctx, sess)
	}
}

func (d *Driver) loadSuspended(ctx context.Context, sess *session) bool {
	state, ie, err := d.graph.PendingInterrupt(d.flowContext(ctx, sess.id), d.store, sess.id)
	if err != nil {
		return false
	}
	sess.state = state
	sess.status = AwaitingHuman
	sess.pending = ie.PendingKey
	return true
}

// finish records the outcome of a run on sess.
func (d *Driver) finish(ctx context.Context, sess *session, final ConversationState, err error) (Result, error) {
	sess.state = final

	if ie, ok := flowgraph.AsInterrupt(err); ok {
		sess.status = AwaitingHuman
		sess.pending = ie.PendingKey
		sess.lastErr = ""
		d.publish(ctx, EventSessionSuspended, sess.update(AwaitingHuman))
		return sess.result(), nil
	}

	if err != nil {
		if final.PendingTool != "" {
			// No suspension was recorded. Answer the approval call.
			sess.state = answerPending(final, final.PendingTool, "Error: "+err.Error())
		}
		sess.status = Deciding
		sess.pending = ""
		sess.lastErr = describe(err)
		d.logger.Warn("session round failed", "session_id", sess.id, "error", err)
		d.publish(ctx, EventSessionFailed, sess.update(Deciding))
		return sess.result(), err
	}

	sess.status = Terminal
	sess.pending = ""
	sess.lastErr = ""
	d.publish(ctx, EventSessionCompleted, sess.update(Terminal))
	return sess.result(), nil
}

func (d *Driver) flowContext(ctx context.Context, sessionID string) flowgraph.Context {
	return flowgraph.NewContext(ctx,
		flowgraph.WithContextRunID(sessionID),
		flowgraph.WithLogger(d.logger.With("session_id", sessionID)))
}

func (d *Driver) runOptions(sessionID string) []flowgraph.RunOption {
	opts := []flowgraph.RunOption{
		flowgraph.WithCheckpointing(d.store),
		flowgraph.WithCheckpointMode(flowgraph.CheckpointInterruptsOnly),
		flowgraph.WithRunID(sessionID),
		flowgraph.WithMaxIterations(d.maxIterations),
		flowgraph.WithObservabilityLogger(d.logger),
	}
	if d.metrics != nil {
		opts = append(opts, flowgraph.WithMetricsRecorder(d.metrics))
	}
	if d.spans != nil {
		opts = append(opts, flowgraph.WithSpanManager(d.spans))
	}
	return opts
}

// Nodes.

func (d *Driver) callModel(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	prompt := BuildSystemPrompt(s, d.now())
	msg, err := d.oracle.Decide(ctx, prompt, s.Messages, d.registry.Catalog())
	if err != nil {
		var oe *OracleCallError
		if !errors.As(err, &oe) {
			err = &OracleCallError{Err: err}
		}
		return s, err
	}

	msg.Role = RoleAI
	msg.ToolCallID = ""
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = newCallID()
		}
	}

	next := s.next()
	next.Messages = append(next.Messages, msg)
	d.publish(ctx, EventStateUpdated, StateUpdate{
		SessionID:   ctx.RunID(),
		Node:        NodeCallModel,
		Status:      Route(msg, d.approvals),
		NewMessages: []Message{msg},
		State:       next.Clone(),
	})
	return next, nil
}

func (d *Driver) route(_ flowgraph.Context, s ConversationState) string {
	last, _ := s.LastMessage()
	return Route(last, d.approvals).Node()
}

func (d *Driver) runTools(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	last, _ := s.LastMessage()
	next, msgs, err := d.executor.Execute(ctx, s, last.ToolCalls)
	if err != nil {
		if errors.Is(err, errNoToolCalls) {
			return s, err
		}
		// Answer every call so the transcript stays well-formed for the
		// next decision.
		next = s.next()
		msgs = make([]Message, 0, len(last.ToolCalls))
		for _, call := range last.ToolCalls {
			msgs = append(msgs, ToolMessage(call.Name, "Error: "+err.Error(), call.ID))
		}
		next.Messages = append(next.Messages, msgs...)
		d.publish(ctx, EventStateUpdated, StateUpdate{
			SessionID: ctx.RunID(), Node: NodeTools, Status: Deciding,
			NewMessages: msgs, State: next.Clone(), Err: describe(err),
		})
		return next, err
	}

	d.publish(ctx, EventStateUpdated, StateUpdate{
		SessionID: ctx.RunID(), Node: NodeTools, Status: Deciding,
		NewMessages: msgs, State: next.Clone(),
	})
	return next, nil
}

func (d *Driver) askHuman(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	last, _ := s.LastMessage()
	pending, ok := d.approvals.FirstApproval(last.ToolCalls)
	if !ok {
		return s, fmt.Errorf("research: %s reached without an approval call", NodeAskHuman)
	}

	next := s.next()
	next.PendingTool = pending.ID
	var skipped []Message
	for _, call := range last.ToolCalls {
		if call.ID == pending.ID {
			continue
		}
		skipped = append(skipped, ToolMessage(call.Name,
			fmt.Sprintf("Skipped: waiting for the human response to %s.", pending.Name), call.ID))
	}
	next.Messages = append(next.Messages, skipped...)

	ctx.Logger().Info("awaiting human response", "tool", pending.Name, "call_id", pending.ID)
	return next, nil
}

func (d *Driver) processFeedback(ctx flowgraph.Context, s ConversationState) (ConversationState, error) {
	next, err := ProcessFeedback(s)
	if err != nil {
		return s, err
	}
	d.publish(ctx, EventStateUpdated, StateUpdate{
		SessionID: ctx.RunID(), Node: NodeProcessFeedback, Status: Deciding,
		State: next.Clone(),
	})
	return next, nil
}

func newCallID() string {
	id, _ := gonanoid.New(12)
	return "call_" + id
}

// AbandonedContent answers the pending call of an abandoned session.
const AbandonedContent = "Abandoned: no human response."

// answerPending closes the approval call callID of s with a tool message.
func answerPending(s ConversationState, callID, content string) ConversationState {
	next := s.next()
	next.Messages = append(next.Messages, ToolMessage(pendingCallName(s, callID), content, callID))
	next.PendingTool = ""
	return next
}

func pendingCallName(s ConversationState, callID string) string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		for _, call := range s.Messages[i].ToolCalls {
			if call.ID == callID {
				return call.Name
			}
		}
	}
	return ""
}

// describe renders err for Result.Err.
func describe(err error) string {
	var (
		oracleErr  *OracleCallError
		unknownErr *UnknownToolError
		validErr   *ValidationError
		resumeErr  *InvalidResumeError
		maxErr     *flowgraph.MaxIterationsError
		panicErr   *flowgraph.PanicError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &oracleErr):
		return fmt.Sprintf("The model could not be reached (%v). Retry when ready.", oracleErr.Err)
	case errors.As(err, &unknownErr):
		return fmt.Sprintf("The model asked for a tool that does not exist: %q.", unknownErr.Name)
	case errors.Is(err, ErrToolTimeout):
		return "A tool took too long to answer and the round was stopped."
	case errors.As(err, &validErr):
		return "The response could not be applied: " + validErr.Error()
	case errors.As(err, &resumeErr):
		return resumeErr.Error()
	case errors.As(err, &maxErr):
		return fmt.Sprintf("The session ran more than %d steps without finishing.", maxErr.Max)
	case errors.As(err, &panicErr):
		return fmt.Sprintf("Step %s crashed.", panicErr.NodeID)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled before the session finished."
	default:
		return err.Error()
	}
}
