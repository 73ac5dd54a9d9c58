package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gorm.io/gorm"

	"github.com/trishantpahwa/open-blueberry/internal/command"
	"github.com/trishantpahwa/open-blueberry/internal/config"
	"github.com/trishantpahwa/open-blueberry/internal/convstore"
	"github.com/trishantpahwa/open-blueberry/internal/db"
	"github.com/trishantpahwa/open-blueberry/internal/doctor"
	"github.com/trishantpahwa/open-blueberry/internal/engine"
	"github.com/trishantpahwa/open-blueberry/internal/localapi"
	"github.com/trishantpahwa/open-blueberry/internal/logging"
	"github.com/trishantpahwa/open-blueberry/internal/reasoning"
	"github.com/trishantpahwa/open-blueberry/internal/sandbox"
	"github.com/trishantpahwa/open-blueberry/internal/toolset"
)

var version = "dev"

// localConversationID is the shared memory thread for CLI task and chat runs.
const localConversationID = "local"

const databaseFileName = "blueberry.db"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig:   loadConfig,
		RunServe:     runServe,
		RunTask:      runTask,
		RunChat:      runChat,
		RunChatClear: runChatClear,
		RunMigrateUp: runMigrateUp,
		RunDoctor:    runDoctor,
	})
	app.Version = version
	if err := app.RunContext(rootCtx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig layers the stored settings file over the environment snapshot.
// Environment reads go through the shared config cache, so serve-mode paths
// that call this per request do not re-read the environment every time.
func loadConfig() config.Config {
	cfg := *config.GetConfig()
	st, err := config.NewSettingsStore(cfg.DataDir).LoadOrInit()
	if err != nil {
		return cfg
	}
	return config.ApplySettings(cfg, st)
}

type runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	db            *gorm.DB
	conversations *convstore.Store
	client        reasoning.Client
	executor      *sandbox.Executor
	engine        *engine.Engine
}

func buildRuntime(cfg config.Config) (*runtime, error) {
	logger := logging.NewLogger(logging.Options{Level: cfg.LogLevel, Component: "blueberry"})

	if err := os.MkdirAll(cfg.ScriptDir, 0o755); err != nil {
		return nil, fmt.Errorf("create script dir: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	gdb, err := db.OpenSQLiteWithSchema(filepath.Join(cfg.DataDir, databaseFileName))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conversations, err := convstore.NewStore(gdb)
	if err != nil {
		return nil, err
	}

	executor, err := sandbox.NewExecutor(cfg.ScriptDir, sandbox.Options{
		DefaultTimeout: cfg.ToolTimeout,
		CaptureCap:     cfg.OutputCapBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("create sandbox: %w", err)
	}

	client := buildClient(cfg)
	recorder, err := engine.NewGormRecorder(gdb)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(client, toolset.Builtin(), executor, engine.Options{
		MaxIterations:  cfg.MaxIterations,
		BackendRetries: cfg.BackendRetries,
		RetryBackoff:   cfg.RetryBackoff,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	eng.WithConversations(conversations).WithRecorder(recorder)

	return &runtime{
		cfg:           cfg,
		logger:        logger,
		db:            gdb,
		conversations: conversations,
		client:        client,
		executor:      executor,
		engine:        eng,
	}, nil
}

func buildClient(cfg config.Config) reasoning.Client {
	if cfg.Backend == "openai" {
		return reasoning.NewOpenAIClient(reasoning.OpenAIConfig{
			BaseURL: cfg.OpenAIEndpoint,
			Model:   cfg.OpenAIModel,
			APIKey:  cfg.OpenAIAPIKey,
		}, nil)
	}
	return reasoning.NewOllamaClient(reasoning.OllamaConfig{
		Endpoint: cfg.OllamaEndpoint,
		Model:    cfg.OllamaModel,
	}, nil)
}

func backendEndpoint(cfg config.Config) (string, string) {
	if cfg.Backend == "openai" {
		return cfg.OpenAIEndpoint, cfg.OpenAIModel
	}
	return cfg.OllamaEndpoint, cfg.OllamaModel
}

func collectDoctorReport(ctx context.Context, rt *runtime) doctor.Report {
	// Config is re-read per report: a serve process diagnoses the current
	// settings file, not the boot-time snapshot.
	cfg := loadConfig()
	endpoint, model := backendEndpoint(cfg)
	return doctor.Collect(ctx, doctor.Options{
		Client:        rt.client,
		BackendKind:   cfg.Backend,
		Endpoint:      endpoint,
		Model:         model,
		ScriptDir:     cfg.ScriptDir,
		Conversations: rt.conversations,
	})
}

func runServe(ctx context.Context, cfg config.Config) error {
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	server := localapi.NewServer(localapi.Deps{
		Engine:        rt.engine,
		Conversations: rt.conversations,
		Chat:          rt.client,
		Scripts:       rt.executor,
		Doctor: func(ctx context.Context) doctor.Report {
			return collectDoctorReport(ctx, rt)
		},
	})

	addr := net.JoinHostPort(cfg.LocalHost, strconv.Itoa(cfg.LocalPort))
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("local api listening", "addr", addr, "backend", cfg.Backend, "script_dir", cfg.ScriptDir)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		rt.logger.Info("local api stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func runTask(ctx context.Context, cfg config.Config, goal string) error {
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	handle, err := rt.engine.Submit(ctx, engine.SubmitRequest{
		Goal:           goal,
		ConversationID: localConversationID,
	})
	if err != nil {
		return err
	}

	events, ok := rt.engine.Events(handle.ID)
	if !ok {
		return errors.New("task vanished after submit")
	}
	for evt := range events {
		switch evt.Type {
		case engine.EventStep:
			if evt.Step == nil {
				continue
			}
			line := fmt.Sprintf("[step %d] %s", evt.Step.Index+1, evt.Step.Kind)
			if evt.Step.ToolName != "" {
				line += " " + evt.Step.ToolName
			}
			fmt.Println(line)
			if obs := strings.TrimSpace(evt.Step.Observation); obs != "" {
				fmt.Println("  " + clipForTerminal(obs))
			}
		case engine.EventTerminal:
			switch evt.Status {
			case engine.StatusCompleted:
				fmt.Println()
				fmt.Println(evt.FinalAnswer)
				return nil
			case engine.StatusAborted:
				return errors.New("task aborted: " + evt.Reason)
			default:
				return errors.New("task failed: " + evt.Reason)
			}
		}
	}
	return errors.New("event stream closed before the task finished")
}

func runChat(ctx context.Context, cfg config.Config, message string) error {
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	entries, err := rt.conversations.Read(localConversationID)
	if err != nil {
		return err
	}
	history := make([]reasoning.Message, 0, len(entries))
	for _, entry := range entries {
		history = append(history, reasoning.Message{Role: entry.Role, Content: entry.Content})
	}

	outcome, err := rt.client.Complete(ctx, reasoning.Request{Goal: message, History: history})
	if err != nil {
		return err
	}
	reply := strings.TrimSpace(outcome.Raw)
	if outcome.Kind == reasoning.OutcomeFinalAnswer {
		reply = outcome.FinalAnswer
	}
	fmt.Println(reply)

	if err := rt.conversations.Append(localConversationID, "user", message); err != nil {
		return err
	}
	return rt.conversations.Append(localConversationID, "assistant", reply)
}

func runChatClear(ctx context.Context, cfg config.Config) error {
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	if err := rt.conversations.Clear(localConversationID); err != nil {
		return err
	}
	fmt.Println("conversation cleared")
	return nil
}

func runMigrateUp(ctx context.Context, cfg config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	_, err := db.OpenSQLiteWithSchema(filepath.Join(cfg.DataDir, databaseFileName))
	if err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

func runDoctor(ctx context.Context, cfg config.Config) error {
	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	report := collectDoctorReport(ctx, rt)
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	if !report.Backend.Reachable {
		return errors.New("reasoning backend is not reachable")
	}
	return nil
}

func clipForTerminal(s string) string {
	const max = 400
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
