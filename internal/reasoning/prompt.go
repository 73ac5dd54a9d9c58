package reasoning

import (
	"fmt"
	"strings"

	"github.com/trishantpahwa/open-blueberry/internal/toolset"
)

const replyContract = `Work one step at a time. Reply with exactly one JSON object per turn, nothing else.

To invoke a tool:
{"thinking": "why this step", "tool": "tool_name", "args": {"param": "value"}}

When the task is complete (and only then):
{"thinking": "wrap-up reasoning", "final_answer": "summary of what was accomplished"}

After each tool invocation you receive an observation with the result. Verify results before proceeding. If an observation reports an error, adjust and try a different step or finish with what you learned.`

const chatSystemPrompt = `You are a helpful assistant. Answer conversationally and keep replies concise.`

func renderSystemPrompt(tools []toolset.Spec) string {
	if len(tools) == 0 {
		return chatSystemPrompt
	}
	var b strings.Builder
	b.WriteString("You are an autonomous agent that completes tasks by invoking tools inside a sandboxed script directory.\n\n")
	b.WriteString("Available tools:\n")
	for _, spec := range tools {
		b.WriteString(fmt.Sprintf("- %s: %s\n", spec.Name, spec.Description))
		for _, p := range spec.Params {
			required := "optional"
			if p.Required {
				required = "required"
			}
			b.WriteString(fmt.Sprintf("    %s (%s, %s): %s\n", p.Name, p.Type, required, p.Description))
		}
	}
	b.WriteString("\n")
	b.WriteString(replyContract)
	return b.String()
}

// renderMessages lays out the conversation the backend sees: seeded history,
// the goal, then the transcript in step order with every observation kept.
func renderMessages(req Request) []Message {
	out := make([]Message, 0, len(req.History)+2*len(req.Transcript)+2)
	out = append(out, Message{Role: "system", Content: renderSystemPrompt(req.Tools)})
	for _, msg := range req.History {
		role := strings.TrimSpace(msg.Role)
		if role != "assistant" && role != "system" {
			role = "user"
		}
		out = append(out, Message{Role: role, Content: msg.Content})
	}
	goal := strings.TrimSpace(req.Goal)
	if len(req.Tools) > 0 {
		goal = "Task: " + goal
	}
	out = append(out, Message{Role: "user", Content: goal})
	for _, exchange := range req.Transcript {
		out = append(out, Message{Role: "assistant", Content: exchange.Reasoning})
		out = append(out, Message{Role: "user", Content: "Observation: " + exchange.Observation})
	}
	return out
}
