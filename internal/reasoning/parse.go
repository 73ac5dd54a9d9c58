package reasoning

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ParseReply classifies a raw backend reply. The structured portion is the
// outermost JSON object in the text; a `tool` string field makes it a tool
// call, a `final_answer` string field makes it a final answer. Anything
// else — no JSON, invalid JSON, neither field — is Malformed and left for
// the engine's bounded self-correction. Completion is never guessed from
// prose.
func ParseReply(raw string) Outcome {
	candidate, ok := extractJSONObject(raw)
	if !ok {
		return Outcome{Kind: OutcomeMalformed, Raw: raw}
	}
	parsed := gjson.Parse(candidate)

	if tool := parsed.Get("tool"); tool.Type == gjson.String && strings.TrimSpace(tool.String()) != "" {
		return Outcome{
			Kind:     OutcomeToolCall,
			ToolName: strings.TrimSpace(tool.String()),
			ToolArgs: argsToMap(parsed.Get("args")),
			Raw:      raw,
		}
	}
	if answer := parsed.Get("final_answer"); answer.Type == gjson.String {
		return Outcome{Kind: OutcomeFinalAnswer, FinalAnswer: answer.String(), Raw: raw}
	}
	return Outcome{Kind: OutcomeMalformed, Raw: raw}
}

func extractJSONObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := raw[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	if !gjson.Parse(candidate).IsObject() {
		return "", false
	}
	return candidate, true
}

func argsToMap(args gjson.Result) map[string]any {
	out := map[string]any{}
	if !args.IsObject() {
		return out
	}
	for key, value := range args.Map() {
		out[key] = value.Value()
	}
	return out
}
