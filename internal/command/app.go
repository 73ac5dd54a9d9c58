package command

import (
	"context"
	"errors"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/trishantpahwa/open-blueberry/internal/config"
)

type Deps struct {
	LoadConfig   func() config.Config
	RunServe     func(context.Context, config.Config) error
	RunTask      func(ctx context.Context, cfg config.Config, goal string) error
	RunChat      func(ctx context.Context, cfg config.Config, message string) error
	RunChatClear func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
	RunDoctor    func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "blueberry",
		Usage: "sandboxed task agent",
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context, deps, loadConfig(deps))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the local API",
				Action: func(ctx *cli.Context) error {
					return runServe(ctx.Context, deps, loadConfig(deps))
				},
			},
			{
				Name:      "task",
				Usage:     "run a task to completion",
				ArgsUsage: "<goal>",
				Action: func(ctx *cli.Context) error {
					goal := strings.TrimSpace(strings.Join(ctx.Args().Slice(), " "))
					if goal == "" {
						return errors.New("a task goal is required")
					}
					if deps.RunTask == nil {
						return errors.New("task runner is not configured")
					}
					return deps.RunTask(ctx.Context, loadConfig(deps), goal)
				},
			},
			{
				Name:      "chat",
				Usage:     "send one conversational message",
				ArgsUsage: "<message>",
				Action: func(ctx *cli.Context) error {
					message := strings.TrimSpace(strings.Join(ctx.Args().Slice(), " "))
					if message == "" {
						return errors.New("a message is required")
					}
					if deps.RunChat == nil {
						return errors.New("chat runner is not configured")
					}
					return deps.RunChat(ctx.Context, loadConfig(deps), message)
				},
				Subcommands: []*cli.Command{
					{
						Name:  "clear",
						Usage: "forget the local conversation",
						Action: func(ctx *cli.Context) error {
							if deps.RunChatClear == nil {
								return errors.New("chat clear runner is not configured")
							}
							return deps.RunChatClear(ctx.Context, loadConfig(deps))
						},
					},
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							if deps.RunMigrateUp == nil {
								return errors.New("migrate up runner is not configured")
							}
							return deps.RunMigrateUp(ctx.Context, loadConfig(deps))
						},
					},
				},
			},
			{
				Name:  "doctor",
				Usage: "report backend and sandbox health",
				Action: func(ctx *cli.Context) error {
					if deps.RunDoctor == nil {
						return errors.New("doctor runner is not configured")
					}
					return deps.RunDoctor(ctx.Context, loadConfig(deps))
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}
