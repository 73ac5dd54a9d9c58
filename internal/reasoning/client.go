package reasoning

import (
	"context"
	"errors"

	"github.com/trishantpahwa/open-blueberry/internal/toolset"
)

// ErrBackendUnavailable marks transport-level failures: unreachable host,
// non-success HTTP status, malformed envelope. Distinct from a Malformed
// outcome, which is a well-delivered reply the agent could not classify.
var ErrBackendUnavailable = errors.New("reasoning backend unavailable")

type Message struct {
	Role    string
	Content string
}

// Exchange is one prior step of the loop as the backend should see it:
// what it said, what tool ran, and what came back.
type Exchange struct {
	Reasoning   string
	ToolName    string
	ToolArgs    map[string]any
	Observation string
}

type Request struct {
	Goal       string
	History    []Message
	Transcript []Exchange
	Tools      []toolset.Spec
}

type OutcomeKind string

const (
	OutcomeFinalAnswer OutcomeKind = "final_answer"
	OutcomeToolCall    OutcomeKind = "tool_call"
	OutcomeMalformed   OutcomeKind = "malformed"
)

type Outcome struct {
	Kind        OutcomeKind
	FinalAnswer string
	ToolName    string
	ToolArgs    map[string]any
	Raw         string
}

type PingReport struct {
	Reachable bool
	Models    []string
}

type Client interface {
	Complete(ctx context.Context, req Request) (Outcome, error)
	Ping(ctx context.Context) (PingReport, error)
}
