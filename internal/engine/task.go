package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type StepKind string

const (
	StepToolResult      StepKind = "tool_result"
	StepValidationError StepKind = "validation_error"
	StepMalformed       StepKind = "malformed"
	StepFinalAnswer     StepKind = "final_answer"
)

// Step is one loop iteration. Steps are append-only: once recorded they are
// never mutated, only read.
type Step struct {
	Index       int            `json:"index"`
	Kind        StepKind       `json:"kind"`
	Reasoning   string         `json:"reasoning"`
	ToolName    string         `json:"tool_name,omitempty"`
	ToolArgs    map[string]any `json:"tool_args,omitempty"`
	Observation string         `json:"observation,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type Snapshot struct {
	ID             string    `json:"id"`
	Goal           string    `json:"goal"`
	Status         Status    `json:"status"`
	Reason         string    `json:"reason,omitempty"`
	FinalAnswer    string    `json:"final_answer,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Steps          []Step    `json:"steps"`
	CreatedAt      time.Time `json:"created_at"`
	StartedAt      time.Time `json:"started_at,omitzero"`
	EndedAt        time.Time `json:"ended_at,omitzero"`
}

type EventType string

const (
	EventStep     EventType = "step"
	EventTerminal EventType = "terminal"
)

type Event struct {
	Type        EventType `json:"type"`
	TaskID      string    `json:"task_id"`
	Status      Status    `json:"status"`
	Step        *Step     `json:"step,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	FinalAnswer string    `json:"final_answer,omitempty"`
}

type Handle struct {
	ID string
}

type task struct {
	mu             sync.Mutex
	id             string
	goal           string
	conversationID string
	status         Status
	reason         string
	finalAnswer    string
	steps          []Step
	createdAt      time.Time
	startedAt      time.Time
	endedAt        time.Time
	cancel         context.CancelFunc
	subscribers    []chan Event
}

func (t *task) snapshotLocked() Snapshot {
	steps := make([]Step, len(t.steps))
	copy(steps, t.steps)
	return Snapshot{
		ID:             t.id,
		Goal:           t.goal,
		Status:         t.status,
		Reason:         t.reason,
		FinalAnswer:    t.finalAnswer,
		ConversationID: t.conversationID,
		Steps:          steps,
		CreatedAt:      t.createdAt,
		StartedAt:      t.startedAt,
		EndedAt:        t.endedAt,
	}
}

func (t *task) snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// setStatus enforces the transition table. An illegal edge is a programming
// error in the loop, not an input condition.
func (t *task) setStatus(to Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setStatusLocked(to)
}

func (t *task) setStatusLocked(to Status) error {
	if t.status == to {
		return nil
	}
	if !canTransition(t.status, to) {
		return fmt.Errorf("illegal status transition %s -> %s for task %s", t.status, to, t.id)
	}
	t.status = to
	switch to {
	case StatusRunning:
		if t.startedAt.IsZero() {
			t.startedAt = time.Now().UTC()
		}
	case StatusCompleted, StatusFailed, StatusAborted:
		t.endedAt = time.Now().UTC()
	}
	return nil
}

// appendStep records the step and delivers it to live subscribers inside
// one critical section. A subscriber attaching mid-step therefore sees the
// step exactly once: in the replay or live, never both.
func (t *task) appendStep(step Step) Step {
	t.mu.Lock()
	defer t.mu.Unlock()
	step.Index = len(t.steps)
	step.CreatedAt = time.Now().UTC()
	t.steps = append(t.steps, step)
	evt := Event{Type: EventStep, TaskID: t.id, Status: t.status, Step: &step}
	for _, ch := range t.subscribers {
		select {
		case ch <- evt:
		default:
			// Slow subscriber: drop rather than stall the loop.
		}
	}
	return step
}

func (t *task) subscribe(buffer int) chan Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if buffer < len(t.steps)+2 {
		buffer = len(t.steps) + 2
	}
	ch := make(chan Event, buffer)
	// Replay recorded steps so late subscribers see the whole trail.
	for i := range t.steps {
		step := t.steps[i]
		ch <- Event{Type: EventStep, TaskID: t.id, Status: t.status, Step: &step}
	}
	if t.status.Terminal() {
		ch <- Event{Type: EventTerminal, TaskID: t.id, Status: t.status, Reason: t.reason, FinalAnswer: t.finalAnswer}
		close(ch)
		return ch
	}
	t.subscribers = append(t.subscribers, ch)
	return ch
}

// publishTerminal sends the closing event and detaches every subscriber.
// Subscribers attaching after the status turned terminal never register,
// so each channel sees exactly one terminal event.
func (t *task) publishTerminal(evt Event) {
	t.mu.Lock()
	subscribers := t.subscribers
	t.subscribers = nil
	t.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- evt:
		default:
			// Slow subscriber: drop rather than stall the loop.
		}
		close(ch)
	}
}
