package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trishantpahwa/open-blueberry/internal/convstore"
	"github.com/trishantpahwa/open-blueberry/internal/db"
	"github.com/trishantpahwa/open-blueberry/internal/reasoning"
	"github.com/trishantpahwa/open-blueberry/internal/sandbox"
	"github.com/trishantpahwa/open-blueberry/internal/toolset"
)

type scriptedReply struct {
	outcome reasoning.Outcome
	err     error
}

type scriptedClient struct {
	mu       sync.Mutex
	replies  []scriptedReply
	calls    int
	requests []reasoning.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req reasoning.Request) (reasoning.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.requests = append(c.requests, req)
	if len(c.replies) == 0 {
		return reasoning.Outcome{}, fmt.Errorf("scripted client exhausted after %d calls", c.calls)
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return reply.outcome, reply.err
}

func (c *scriptedClient) Ping(ctx context.Context) (reasoning.PingReport, error) {
	return reasoning.PingReport{Reachable: true}, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type blockingClient struct{}

func (blockingClient) Complete(ctx context.Context, req reasoning.Request) (reasoning.Outcome, error) {
	<-ctx.Done()
	return reasoning.Outcome{}, ctx.Err()
}

func (blockingClient) Ping(ctx context.Context) (reasoning.PingReport, error) {
	return reasoning.PingReport{}, ctx.Err()
}

func toolCall(name string, args map[string]any) scriptedReply {
	return scriptedReply{outcome: reasoning.Outcome{
		Kind:     reasoning.OutcomeToolCall,
		ToolName: name,
		ToolArgs: args,
		Raw:      fmt.Sprintf(`{"tool": %q}`, name),
	}}
}

func finalAnswer(text string) scriptedReply {
	return scriptedReply{outcome: reasoning.Outcome{
		Kind:        reasoning.OutcomeFinalAnswer,
		FinalAnswer: text,
		Raw:         fmt.Sprintf(`{"final_answer": %q}`, text),
	}}
}

func malformed(raw string) scriptedReply {
	return scriptedReply{outcome: reasoning.Outcome{Kind: reasoning.OutcomeMalformed, Raw: raw}}
}

func backendDown() scriptedReply {
	return scriptedReply{err: fmt.Errorf("connection refused: %w", reasoning.ErrBackendUnavailable)}
}

func newTestEngine(t *testing.T, client reasoning.Client, opts Options) *Engine {
	t.Helper()
	executor, err := sandbox.NewExecutor(t.TempDir(), sandbox.Options{DefaultTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewExecutor failed: %v", err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	eng, err := New(client, toolset.Builtin(), executor, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return eng
}

func runToTerminal(t *testing.T, eng *Engine, req SubmitRequest) Snapshot {
	t.Helper()
	handle, err := eng.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return waitTerminal(t, eng, handle)
}

func waitTerminal(t *testing.T, eng *Engine, handle Handle) Snapshot {
	t.Helper()
	events, ok := eng.Events(handle.ID)
	if !ok {
		t.Fatalf("task %s not found", handle.ID)
	}
	deadline := time.After(10 * time.Second)
	for {
		select {
		case evt, open := <-events:
			if !open {
				snapshot, _ := eng.Status(handle.ID)
				return snapshot
			}
			_ = evt
		case <-deadline:
			t.Fatal("task did not reach a terminal state in time")
		}
	}
}

func TestEngine_ListThenAnswer(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		toolCall("list_directory", map[string]any{"path": "."}),
		finalAnswer("The directory holds report.txt."),
	}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5})
	if res := engExecutor(eng).WriteFile("report.txt", "data"); !res.OK() {
		t.Fatalf("seed file failed: %+v", res)
	}

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "list files in the working directory"})
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", snapshot.Status, snapshot.Reason)
	}
	if len(snapshot.Steps) != 2 {
		t.Fatalf("expected exactly 2 steps, got %d", len(snapshot.Steps))
	}
	if snapshot.Steps[0].Kind != StepToolResult || !strings.Contains(snapshot.Steps[0].Observation, "report.txt") {
		t.Fatalf("step 0 should observe the listing: %+v", snapshot.Steps[0])
	}
	if snapshot.Steps[1].Kind != StepFinalAnswer {
		t.Fatalf("step 1 should be the final answer: %+v", snapshot.Steps[1])
	}
	if snapshot.FinalAnswer != "The directory holds report.txt." {
		t.Fatalf("unexpected final answer: %q", snapshot.FinalAnswer)
	}
}

func TestEngine_PathViolationNeverReadsFile(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		toolCall("read_file", map[string]any{"path": "../../etc/passwd"}),
		finalAnswer("I cannot read outside the sandbox."),
	}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5})

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "run forbidden path read"})
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snapshot.Status)
	}
	first := snapshot.Steps[0]
	if first.Kind != StepValidationError {
		t.Fatalf("step 0 should be a validation error, got %s", first.Kind)
	}
	if !strings.Contains(first.Observation, `"path_violation":true`) {
		t.Fatalf("observation should flag the violation: %s", first.Observation)
	}
	if strings.Contains(first.Observation, "root:") {
		t.Fatalf("passwd content must never appear: %s", first.Observation)
	}
	// The backend saw the violation in its second request.
	client.mu.Lock()
	second := client.requests[1]
	client.mu.Unlock()
	if len(second.Transcript) != 1 || !strings.Contains(second.Transcript[0].Observation, "path_violation") {
		t.Fatalf("violation should be re-prompted: %+v", second.Transcript)
	}
}

func TestEngine_MalformedSelfCorrection(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		malformed("let me think out loud"),
		malformed("still prose"),
		malformed("{broken"),
		finalAnswer("done"),
	}}
	eng := newTestEngine(t, client, Options{MaxIterations: 10})

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "needs self-correction"})
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", snapshot.Status, snapshot.Reason)
	}
	if len(snapshot.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(snapshot.Steps))
	}
	for _, step := range snapshot.Steps {
		if step.Kind == StepValidationError {
			t.Fatalf("no step should be a validation error: %+v", step)
		}
	}
	for i := 0; i < 3; i++ {
		if snapshot.Steps[i].Kind != StepMalformed {
			t.Fatalf("step %d should be malformed, got %s", i, snapshot.Steps[i].Kind)
		}
	}
}

func TestEngine_StepLimitExceeded(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		toolCall("list_directory", map[string]any{"path": "."}),
	}}
	eng := newTestEngine(t, client, Options{MaxIterations: 3})

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "loop forever"})
	if snapshot.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", snapshot.Status)
	}
	if snapshot.Reason != reasonStepLimitExceeded {
		t.Fatalf("unexpected reason: %q", snapshot.Reason)
	}
	if len(snapshot.Steps) != 3 {
		t.Fatalf("expected exactly 3 steps, got %d", len(snapshot.Steps))
	}
}

func TestEngine_RetryCeilingIsExact(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{backendDown()}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5, BackendRetries: 3})

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "backend is down"})
	if snapshot.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", snapshot.Status)
	}
	if !strings.Contains(snapshot.Reason, "reasoning backend unavailable") {
		t.Fatalf("unexpected reason: %q", snapshot.Reason)
	}
	if got := client.callCount(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	if len(snapshot.Steps) != 0 {
		t.Fatalf("no steps should be recorded for a dead backend, got %d", len(snapshot.Steps))
	}
}

func TestEngine_UnknownToolCountsTowardBudget(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		toolCall("rm_rf", map[string]any{"path": "/"}),
		finalAnswer("recovered"),
	}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5})

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "use a bogus tool"})
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snapshot.Status)
	}
	if snapshot.Steps[0].Kind != StepValidationError {
		t.Fatalf("step 0 should be a validation error: %+v", snapshot.Steps[0])
	}
	if !strings.Contains(snapshot.Steps[0].Observation, "unknown tool") {
		t.Fatalf("observation should name the problem: %s", snapshot.Steps[0].Observation)
	}
}

func TestEngine_SchemaMismatchCountsTowardBudget(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		toolCall("write_file", map[string]any{"path": "a.txt"}),
		finalAnswer("recovered"),
	}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5})

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "forget an argument"})
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snapshot.Status)
	}
	if snapshot.Steps[0].Kind != StepValidationError {
		t.Fatalf("step 0 should be a validation error: %+v", snapshot.Steps[0])
	}
}

func TestEngine_CancelAborts(t *testing.T) {
	eng := newTestEngine(t, blockingClient{}, Options{MaxIterations: 5})

	handle, err := eng.Submit(context.Background(), SubmitRequest{Goal: "never finishes"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if !eng.Cancel(handle.ID) {
		t.Fatal("cancel should succeed for a running task")
	}
	snapshot := waitTerminal(t, eng, handle)
	if snapshot.Status != StatusAborted {
		t.Fatalf("expected aborted, got %s", snapshot.Status)
	}
	if snapshot.Reason != "cancelled by caller" {
		t.Fatalf("unexpected reason: %q", snapshot.Reason)
	}
}

func TestEngine_NoTransitionOutOfTerminal(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{finalAnswer("done")}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5})

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "finish fast"})
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snapshot.Status)
	}
	if eng.Cancel(snapshot.ID) {
		t.Fatal("cancel must not apply to a terminal task")
	}
	after, _ := eng.Status(snapshot.ID)
	if after.Status != StatusCompleted {
		t.Fatalf("terminal status must not change, got %s", after.Status)
	}
}

func TestEngine_EventsReplayAfterTerminal(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		toolCall("list_directory", map[string]any{"path": "."}),
		finalAnswer("done"),
	}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5})

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "emit events"})
	events, ok := eng.Events(snapshot.ID)
	if !ok {
		t.Fatal("task should still be visible")
	}
	var stepEvents, terminalEvents int
	for evt := range events {
		switch evt.Type {
		case EventStep:
			stepEvents++
		case EventTerminal:
			terminalEvents++
			if evt.Status != StatusCompleted {
				t.Fatalf("unexpected terminal status: %s", evt.Status)
			}
		}
	}
	if stepEvents != 2 || terminalEvents != 1 {
		t.Fatalf("expected 2 step events and 1 terminal, got %d/%d", stepEvents, terminalEvents)
	}
}

func TestTask_MidStreamSubscriberSeesEachStepOnce(t *testing.T) {
	tk := &task{id: "t1", status: StatusRunning}
	for i := 0; i < 3; i++ {
		tk.appendStep(Step{Kind: StepToolResult})
	}

	const totalSteps = 40
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 3; i < totalSteps; i++ {
			tk.appendStep(Step{Kind: StepToolResult})
		}
		if err := tk.setStatus(StatusCompleted); err != nil {
			t.Errorf("setStatus failed: %v", err)
		}
		tk.publishTerminal(Event{Type: EventTerminal, TaskID: tk.id, Status: StatusCompleted})
	}()

	// Attach while the producer is mid-stream: replayed and live deliveries
	// must not overlap.
	ch := tk.subscribe(2 * totalSteps)
	seen := map[int]int{}
	for evt := range ch {
		if evt.Type == EventStep {
			seen[evt.Step.Index]++
		}
	}
	<-done

	for idx, n := range seen {
		if n != 1 {
			t.Fatalf("step %d delivered %d times", idx, n)
		}
	}
	if len(seen) != totalSteps {
		t.Fatalf("expected %d distinct steps, got %d", totalSteps, len(seen))
	}
}

func TestEngine_TranscriptOrderIsPreserved(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		toolCall("write_file", map[string]any{"path": "a.txt", "content": "one"}),
		toolCall("read_file", map[string]any{"path": "a.txt"}),
		finalAnswer("done"),
	}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5})

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "write then read"})
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snapshot.Status)
	}

	client.mu.Lock()
	third := client.requests[2]
	client.mu.Unlock()
	if len(third.Transcript) != 2 {
		t.Fatalf("third request should carry both steps, got %d", len(third.Transcript))
	}
	if third.Transcript[0].ToolName != "write_file" || third.Transcript[1].ToolName != "read_file" {
		t.Fatalf("transcript out of order: %+v", third.Transcript)
	}
	if !strings.Contains(third.Transcript[1].Observation, "one") {
		t.Fatalf("read observation should carry the content: %s", third.Transcript[1].Observation)
	}
}

func TestEngine_WriteThenRunScriptAsTwoSteps(t *testing.T) {
	client := &scriptedClient{replies: []scriptedReply{
		toolCall("write_file", map[string]any{"path": "hello.sh", "content": "echo from-script"}),
		toolCall("run_script", map[string]any{"path": "hello.sh", "interpreter": "bash"}),
		finalAnswer("script printed from-script"),
	}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5})

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "generate and run a script"})
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", snapshot.Status, snapshot.Reason)
	}
	if len(snapshot.Steps) != 3 {
		t.Fatalf("write and execute must be separate steps, got %d", len(snapshot.Steps))
	}
	if !strings.Contains(snapshot.Steps[1].Observation, "from-script") {
		t.Fatalf("script output missing: %s", snapshot.Steps[1].Observation)
	}
}

func TestEngine_ChatModeSeedsAndAppendsConversation(t *testing.T) {
	gdb, err := db.OpenSQLiteWithSchema(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open db failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, dbErr := gdb.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	})
	store, err := convstore.NewStore(gdb)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Append("user-9", "user", "what is in the sandbox?"); err != nil {
		t.Fatalf("seed append failed: %v", err)
	}
	if err := store.Append("user-9", "assistant", "nothing yet"); err != nil {
		t.Fatalf("seed append failed: %v", err)
	}

	client := &scriptedClient{replies: []scriptedReply{finalAnswer("still nothing")}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5}).WithConversations(store)

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "and now?", ConversationID: "user-9"})
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snapshot.Status)
	}

	client.mu.Lock()
	first := client.requests[0]
	client.mu.Unlock()
	if len(first.History) != 2 || first.History[0].Content != "what is in the sandbox?" {
		t.Fatalf("history should seed the request: %+v", first.History)
	}

	entries, err := store.Read("user-9")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("goal and answer should be appended, got %d entries", len(entries))
	}
	if entries[3].Role != "assistant" || entries[3].Content != "still nothing" {
		t.Fatalf("final answer should close the conversation: %+v", entries[3])
	}
}

func TestEngine_RecorderPersistsAuditTrail(t *testing.T) {
	gdb, err := db.OpenSQLiteWithSchema(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open db failed: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, dbErr := gdb.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
	})
	recorder, err := NewGormRecorder(gdb)
	if err != nil {
		t.Fatalf("NewGormRecorder failed: %v", err)
	}

	client := &scriptedClient{replies: []scriptedReply{
		toolCall("list_directory", map[string]any{"path": "."}),
		finalAnswer("empty"),
	}}
	eng := newTestEngine(t, client, Options{MaxIterations: 5}).WithRecorder(recorder)

	snapshot := runToTerminal(t, eng, SubmitRequest{Goal: "audited run"})
	if snapshot.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", snapshot.Status)
	}

	var row db.TaskRecord
	if err := gdb.First(&row, "task_id = ?", snapshot.ID).Error; err != nil {
		t.Fatalf("task row missing: %v", err)
	}
	if row.Status != string(StatusCompleted) || row.StepCount != 2 {
		t.Fatalf("unexpected task row: %+v", row)
	}

	var steps []db.StepRecord
	if err := gdb.Order("step_index ASC").Find(&steps, "task_id = ?", snapshot.ID).Error; err != nil {
		t.Fatalf("step rows missing: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 step rows, got %d", len(steps))
	}
	if steps[0].ToolName != "list_directory" || steps[1].Kind != string(StepFinalAnswer) {
		t.Fatalf("unexpected step rows: %+v", steps)
	}
}

func TestEngine_SubmitRequiresGoal(t *testing.T) {
	eng := newTestEngine(t, &scriptedClient{}, Options{})
	if _, err := eng.Submit(context.Background(), SubmitRequest{Goal: "   "}); err == nil {
		t.Fatal("blank goal should be rejected")
	}
}

func TestEngine_StatusUnknownTask(t *testing.T) {
	eng := newTestEngine(t, &scriptedClient{}, Options{})
	if _, ok := eng.Status("no-such-task"); ok {
		t.Fatal("unknown task should not resolve")
	}
	if eng.Cancel("no-such-task") {
		t.Fatal("unknown task should not cancel")
	}
	if _, ok := eng.Events("no-such-task"); ok {
		t.Fatal("unknown task should have no events")
	}
}

// engExecutor exposes the engine's executor to seed sandbox fixtures.
func engExecutor(e *Engine) *sandbox.Executor { return e.executor }
