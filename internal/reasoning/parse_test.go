package reasoning

import "testing"

func TestParseReply_ToolCall(t *testing.T) {
	raw := "Sure, let me list the files first.\n" +
		`{"thinking": "need a listing", "tool": "list_directory", "args": {"path": "."}}` +
		"\nI'll wait for the result."
	out := ParseReply(raw)
	if out.Kind != OutcomeToolCall {
		t.Fatalf("expected tool call, got %s", out.Kind)
	}
	if out.ToolName != "list_directory" {
		t.Fatalf("unexpected tool name: %s", out.ToolName)
	}
	if path, _ := out.ToolArgs["path"].(string); path != "." {
		t.Fatalf("unexpected args: %#v", out.ToolArgs)
	}
}

func TestParseReply_FinalAnswer(t *testing.T) {
	out := ParseReply(`{"thinking": "done", "final_answer": "The directory holds 3 files."}`)
	if out.Kind != OutcomeFinalAnswer {
		t.Fatalf("expected final answer, got %s", out.Kind)
	}
	if out.FinalAnswer != "The directory holds 3 files." {
		t.Fatalf("unexpected answer: %q", out.FinalAnswer)
	}
}

func TestParseReply_ToolFieldWinsOverFinalAnswer(t *testing.T) {
	out := ParseReply(`{"tool": "read_file", "args": {"path": "a"}, "final_answer": "not yet"}`)
	if out.Kind != OutcomeToolCall {
		t.Fatalf("tool field should classify as tool call, got %s", out.Kind)
	}
}

func TestParseReply_MalformedShapes(t *testing.T) {
	cases := []string{
		"plain prose with no structure at all",
		`{"thinking": "no action field here"}`,
		`{"tool": 42}`,
		`{"final_answer": {"nested": true}}`,
		`{"tool": "read_file", "args": {broken json`,
		"{unbalanced",
	}
	for _, raw := range cases {
		out := ParseReply(raw)
		if out.Kind != OutcomeMalformed {
			t.Fatalf("%q should be malformed, got %s", raw, out.Kind)
		}
		if out.Raw != raw {
			t.Fatalf("malformed outcome should keep the raw text")
		}
	}
}

func TestParseReply_EmptyToolNameIsMalformed(t *testing.T) {
	out := ParseReply(`{"tool": "  "}`)
	if out.Kind != OutcomeMalformed {
		t.Fatalf("blank tool name should be malformed, got %s", out.Kind)
	}
}

func TestParseReply_ArgsDefaultToEmptyMap(t *testing.T) {
	out := ParseReply(`{"tool": "list_directory"}`)
	if out.Kind != OutcomeToolCall {
		t.Fatalf("expected tool call, got %s", out.Kind)
	}
	if out.ToolArgs == nil || len(out.ToolArgs) != 0 {
		t.Fatalf("missing args should yield empty map, got %#v", out.ToolArgs)
	}
}

func TestParseReply_CodeFencedJSON(t *testing.T) {
	raw := "```json\n{\"tool\": \"read_file\", \"args\": {\"path\": \"notes.txt\"}}\n```"
	out := ParseReply(raw)
	if out.Kind != OutcomeToolCall || out.ToolName != "read_file" {
		t.Fatalf("fenced JSON should still classify, got %+v", out)
	}
}
