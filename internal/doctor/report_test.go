package doctor

import (
	"context"
	"testing"

	"github.com/trishantpahwa/open-blueberry/internal/reasoning"
)

type stubClient struct {
	report reasoning.PingReport
	err    error
}

func (c stubClient) Complete(ctx context.Context, req reasoning.Request) (reasoning.Outcome, error) {
	return reasoning.Outcome{}, nil
}

func (c stubClient) Ping(ctx context.Context) (reasoning.PingReport, error) {
	return c.report, c.err
}

type stubConversations struct{ count int64 }

func (c stubConversations) ActiveCount() (int64, error) { return c.count, nil }

func TestCollect_ReachableBackend(t *testing.T) {
	dir := t.TempDir()
	report := Collect(context.Background(), Options{
		Client:        stubClient{report: reasoning.PingReport{Reachable: true, Models: []string{"qwen3-coder-next:cloud"}}},
		BackendKind:   "ollama",
		Endpoint:      "http://localhost:11434",
		Model:         "qwen3-coder-next:cloud",
		ScriptDir:     dir,
		Conversations: stubConversations{count: 3},
	})
	if !report.Backend.Reachable {
		t.Fatal("backend should be reachable")
	}
	if len(report.Backend.Models) != 1 {
		t.Fatalf("models missing: %+v", report.Backend)
	}
	if !report.ScriptDirWritable {
		t.Fatal("temp dir should be writable")
	}
	if report.ActiveConversations != 3 {
		t.Fatalf("unexpected conversation count: %d", report.ActiveConversations)
	}
}

func TestCollect_BackendErrorIsReported(t *testing.T) {
	report := Collect(context.Background(), Options{
		Client:      stubClient{err: reasoning.ErrBackendUnavailable},
		BackendKind: "ollama",
		ScriptDir:   t.TempDir(),
	})
	if report.Backend.Reachable {
		t.Fatal("backend should not be reachable")
	}
	if report.Backend.Error == "" {
		t.Fatal("error should be surfaced")
	}
}

func TestCollect_MissingScriptDirNotWritable(t *testing.T) {
	report := Collect(context.Background(), Options{ScriptDir: "/no/such/dir"})
	if report.ScriptDirWritable {
		t.Fatal("missing dir must not report writable")
	}
}
