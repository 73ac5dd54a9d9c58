package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trishantpahwa/open-blueberry/internal/convstore"
	"github.com/trishantpahwa/open-blueberry/internal/reasoning"
	"github.com/trishantpahwa/open-blueberry/internal/sandbox"
	"github.com/trishantpahwa/open-blueberry/internal/toolset"
)

const reasonStepLimitExceeded = "step limit exceeded"

type Options struct {
	MaxIterations  int
	BackendRetries int
	RetryBackoff   time.Duration
	Logger         *slog.Logger
}

// Engine runs one sequential loop per task: ask the backend, validate and
// execute the proposed tool, feed the observation back, repeat until a
// final answer, a failure, or the step budget.
type Engine struct {
	client        reasoning.Client
	registry      *toolset.Registry
	executor      *sandbox.Executor
	conversations *convstore.Store
	recorder      Recorder
	opts          Options
	logger        *slog.Logger

	mu    sync.RWMutex
	tasks map[string]*task
}

type SubmitRequest struct {
	Goal           string
	ConversationID string
}

func New(client reasoning.Client, registry *toolset.Registry, executor *sandbox.Executor, opts Options) (*Engine, error) {
	if client == nil {
		return nil, errors.New("reasoning client is required")
	}
	if registry == nil {
		return nil, errors.New("tool registry is required")
	}
	if executor == nil {
		return nil, errors.New("sandbox executor is required")
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.BackendRetries <= 0 {
		opts.BackendRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:   client,
		registry: registry,
		executor: executor,
		opts:     opts,
		logger:   logger,
		tasks:    map[string]*task{},
	}, nil
}

// WithConversations attaches the chat-mode message store. Optional; tasks
// without a conversation id never touch it.
func (e *Engine) WithConversations(store *convstore.Store) *Engine {
	e.conversations = store
	return e
}

// WithRecorder attaches the persistent audit trail. Optional.
func (e *Engine) WithRecorder(recorder Recorder) *Engine {
	e.recorder = recorder
	return e
}

func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (Handle, error) {
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		return Handle{}, errors.New("task goal is required")
	}
	runCtx, cancel := context.WithCancel(ctx)
	t := &task{
		id:             uuid.NewString(),
		goal:           goal,
		conversationID: strings.TrimSpace(req.ConversationID),
		status:         StatusPending,
		createdAt:      time.Now().UTC(),
		cancel:         cancel,
	}
	e.mu.Lock()
	e.tasks[t.id] = t
	e.mu.Unlock()

	e.recordTask(t)
	go e.run(runCtx, t)
	return Handle{ID: t.id}, nil
}

func (e *Engine) Status(id string) (Snapshot, bool) {
	e.mu.RLock()
	t, ok := e.tasks[id]
	e.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.snapshot(), true
}

func (e *Engine) List() []Snapshot {
	e.mu.RLock()
	tasks := make([]*task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	e.mu.RUnlock()
	out := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.snapshot())
	}
	return out
}

func (e *Engine) Cancel(id string) bool {
	e.mu.RLock()
	t, ok := e.tasks[id]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	t.mu.Lock()
	terminal := t.status.Terminal()
	t.mu.Unlock()
	if terminal {
		return false
	}
	t.cancel()
	return true
}

// Events subscribes to a task's progress: recorded steps replay first, then
// live steps, then exactly one terminal event before the channel closes.
func (e *Engine) Events(id string) (<-chan Event, bool) {
	e.mu.RLock()
	t, ok := e.tasks[id]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.subscribe(64), true
}

func (e *Engine) run(ctx context.Context, t *task) {
	defer t.cancel()

	if err := t.setStatus(StatusRunning); err != nil {
		e.logger.Error("task start failed", "task_id", t.id, "error", err)
		return
	}
	e.logger.Info("task started", "task_id", t.id, "goal", t.goal)

	history := e.seedHistory(t)

	for iteration := 0; iteration < e.opts.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			e.abort(t)
			return
		}

		outcome, err := e.completeWithRetry(ctx, reasoning.Request{
			Goal:       t.goal,
			History:    history,
			Transcript: transcriptOf(t),
			Tools:      e.registry.List(),
		})
		if err != nil {
			if ctx.Err() != nil {
				e.abort(t)
				return
			}
			if errors.Is(err, reasoning.ErrBackendUnavailable) {
				e.fail(t, fmt.Sprintf("reasoning backend unavailable: %v", err))
			} else {
				e.fail(t, fmt.Sprintf("reasoning request failed: %v", err))
			}
			return
		}

		switch outcome.Kind {
		case reasoning.OutcomeFinalAnswer:
			step := t.appendStep(Step{Kind: StepFinalAnswer, Reasoning: outcome.Raw})
			e.recordStep(t, step)
			e.complete(t, outcome.FinalAnswer)
			return

		case reasoning.OutcomeMalformed:
			step := t.appendStep(Step{
				Kind:        StepMalformed,
				Reasoning:   outcome.Raw,
				Observation: "reply did not match the tool call or final answer shape; answer with exactly one JSON object",
			})
			e.recordStep(t, step)

		case reasoning.OutcomeToolCall:
			if err := e.registry.ValidateArgs(outcome.ToolName, outcome.ToolArgs); err != nil {
				step := t.appendStep(Step{
					Kind:        StepValidationError,
					Reasoning:   outcome.Raw,
					ToolName:    outcome.ToolName,
					ToolArgs:    outcome.ToolArgs,
					Observation: "validation error: " + err.Error(),
				})
				e.recordStep(t, step)
				continue
			}

			if err := t.setStatus(StatusAwaitingTool); err != nil {
				e.logger.Error("status transition failed", "task_id", t.id, "error", err)
			}
			result, execErr := e.registry.Invoke(ctx, e.executor, outcome.ToolName, outcome.ToolArgs)
			if execErr != nil {
				// Only cancellation crosses the executor boundary as an error.
				e.abort(t)
				return
			}
			if err := t.setStatus(StatusRunning); err != nil {
				e.logger.Error("status transition failed", "task_id", t.id, "error", err)
			}
			kind := StepToolResult
			if result.PathViolation {
				// Containment refusals are validation failures, not tool runs:
				// nothing under the root was touched.
				kind = StepValidationError
			}
			step := t.appendStep(Step{
				Kind:        kind,
				Reasoning:   outcome.Raw,
				ToolName:    outcome.ToolName,
				ToolArgs:    outcome.ToolArgs,
				Observation: observationJSON(result),
			})
			e.recordStep(t, step)
		}
	}

	e.fail(t, reasonStepLimitExceeded)
}

func (e *Engine) completeWithRetry(ctx context.Context, req reasoning.Request) (reasoning.Outcome, error) {
	var lastErr error
	for attempt := 1; attempt <= e.opts.BackendRetries; attempt++ {
		outcome, err := e.client.Complete(ctx, req)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, reasoning.ErrBackendUnavailable) {
			return reasoning.Outcome{}, err
		}
		lastErr = err
		e.logger.Warn("reasoning backend attempt failed", "attempt", attempt, "error", err)
		if attempt == e.opts.BackendRetries {
			break
		}
		select {
		case <-ctx.Done():
			return reasoning.Outcome{}, ctx.Err()
		case <-time.After(e.opts.RetryBackoff * time.Duration(attempt)):
		}
	}
	return reasoning.Outcome{}, fmt.Errorf("exhausted %d attempts: %w", e.opts.BackendRetries, lastErr)
}

func (e *Engine) seedHistory(t *task) []reasoning.Message {
	if e.conversations == nil || t.conversationID == "" {
		return nil
	}
	entries, err := e.conversations.Read(t.conversationID)
	if err != nil {
		e.logger.Warn("conversation seed failed", "task_id", t.id, "conversation_id", t.conversationID, "error", err)
		return nil
	}
	out := make([]reasoning.Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, reasoning.Message{Role: entry.Role, Content: entry.Content})
	}
	return out
}

func (e *Engine) complete(t *task, finalAnswer string) {
	t.mu.Lock()
	t.finalAnswer = finalAnswer
	if err := t.setStatusLocked(StatusCompleted); err != nil {
		e.logger.Error("status transition failed", "task_id", t.id, "error", err)
	}
	t.mu.Unlock()

	if e.conversations != nil && t.conversationID != "" {
		if err := e.conversations.Append(t.conversationID, "user", t.goal); err != nil {
			e.logger.Warn("conversation append failed", "task_id", t.id, "error", err)
		} else if err := e.conversations.Append(t.conversationID, "assistant", finalAnswer); err != nil {
			e.logger.Warn("conversation append failed", "task_id", t.id, "error", err)
		}
	}
	e.recordTask(t)
	e.logger.Info("task completed", "task_id", t.id, "steps", len(t.snapshot().Steps))
	t.publishTerminal(Event{Type: EventTerminal, TaskID: t.id, Status: StatusCompleted, FinalAnswer: finalAnswer})
}

func (e *Engine) fail(t *task, reason string) {
	t.mu.Lock()
	t.reason = reason
	if err := t.setStatusLocked(StatusFailed); err != nil {
		e.logger.Error("status transition failed", "task_id", t.id, "error", err)
	}
	t.mu.Unlock()

	e.recordTask(t)
	e.logger.Warn("task failed", "task_id", t.id, "reason", reason)
	t.publishTerminal(Event{Type: EventTerminal, TaskID: t.id, Status: StatusFailed, Reason: reason})
}

func (e *Engine) abort(t *task) {
	t.mu.Lock()
	t.reason = "cancelled by caller"
	if err := t.setStatusLocked(StatusAborted); err != nil {
		e.logger.Error("status transition failed", "task_id", t.id, "error", err)
	}
	t.mu.Unlock()

	e.recordTask(t)
	e.logger.Info("task aborted", "task_id", t.id)
	t.publishTerminal(Event{Type: EventTerminal, TaskID: t.id, Status: StatusAborted, Reason: "cancelled by caller"})
}

func transcriptOf(t *task) []reasoning.Exchange {
	snapshot := t.snapshot()
	out := make([]reasoning.Exchange, 0, len(snapshot.Steps))
	for _, step := range snapshot.Steps {
		out = append(out, reasoning.Exchange{
			Reasoning:   step.Reasoning,
			ToolName:    step.ToolName,
			ToolArgs:    step.ToolArgs,
			Observation: step.Observation,
		})
	}
	return out
}

func observationJSON(result sandbox.Result) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf(`{"failure":%q}`, err.Error())
	}
	return string(raw)
}
