package engine

type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusAwaitingTool Status = "awaiting_tool"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	StatusAborted      Status = "aborted"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	}
	return false
}

// Legal edges of the task state machine. Aborted is reachable from any
// non-terminal state via cancellation; no terminal state has outgoing edges.
var transitions = map[Status][]Status{
	StatusPending:      {StatusRunning, StatusAborted},
	StatusRunning:      {StatusAwaitingTool, StatusCompleted, StatusFailed, StatusAborted},
	StatusAwaitingTool: {StatusRunning, StatusFailed, StatusAborted},
}

func canTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
