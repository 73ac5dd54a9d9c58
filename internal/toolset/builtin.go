package toolset

import (
	"context"
	"strings"

	"github.com/trishantpahwa/open-blueberry/internal/sandbox"
)

// Builtin returns the fixed tool set the agent can invoke. The names and
// shapes are part of the reasoning prompt contract; changing one changes
// what the backend is allowed to ask for. Each spec carries its runner, so
// the registry is the single place a name maps to sandbox behavior.
func Builtin() *Registry {
	registry, err := NewRegistry(
		Spec{
			Name:        "execute_command",
			Description: "Run a program inside the script directory. Pass the executable and its arguments separately; there is no shell interpretation.",
			Params: []Param{
				{Name: "command", Type: ParamString, Required: true, Description: "Executable to run, e.g. \"ls\"."},
				{Name: "args", Type: ParamString, Required: false, Description: "Space-separated arguments for the command."},
			},
			Safety: SafetyProcessSpawning,
			Run: func(ctx context.Context, exec *sandbox.Executor, args map[string]any) (sandbox.Result, error) {
				command, _ := args["command"].(string)
				extra, _ := args["args"].(string)
				return exec.RunCommand(ctx, command, strings.Fields(extra))
			},
		},
		Spec{
			Name:        "read_file",
			Description: "Read the contents of a file under the script directory.",
			Params: []Param{
				{Name: "path", Type: ParamString, Required: true, Description: "File path relative to the script directory."},
			},
			Safety: SafetyReadOnly,
			Run: func(ctx context.Context, exec *sandbox.Executor, args map[string]any) (sandbox.Result, error) {
				path, _ := args["path"].(string)
				return exec.ReadFile(path), nil
			},
		},
		Spec{
			Name:        "write_file",
			Description: "Create or overwrite a file under the script directory.",
			Params: []Param{
				{Name: "path", Type: ParamString, Required: true, Description: "File path relative to the script directory."},
				{Name: "content", Type: ParamString, Required: true, Description: "Full file contents to write."},
			},
			Safety: SafetyMutating,
			Run: func(ctx context.Context, exec *sandbox.Executor, args map[string]any) (sandbox.Result, error) {
				path, _ := args["path"].(string)
				content, _ := args["content"].(string)
				return exec.WriteFile(path, content), nil
			},
		},
		Spec{
			Name:        "list_directory",
			Description: "List entries of a directory under the script directory.",
			Params: []Param{
				{Name: "path", Type: ParamString, Required: false, Description: "Directory path relative to the script directory, default \".\"."},
			},
			Safety: SafetyReadOnly,
			Run: func(ctx context.Context, exec *sandbox.Executor, args map[string]any) (sandbox.Result, error) {
				path, _ := args["path"].(string)
				if strings.TrimSpace(path) == "" {
					path = "."
				}
				return exec.ListDirectory(path), nil
			},
		},
		Spec{
			Name:        "run_script",
			Description: "Execute a previously written script file with bash or python3. Write the file with write_file first.",
			Params: []Param{
				{Name: "path", Type: ParamString, Required: true, Description: "Script path relative to the script directory."},
				{Name: "interpreter", Type: ParamString, Required: false, Description: "\"bash\" (default) or \"python3\"."},
			},
			Safety: SafetyProcessSpawning,
			Run: func(ctx context.Context, exec *sandbox.Executor, args map[string]any) (sandbox.Result, error) {
				path, _ := args["path"].(string)
				interpreter, _ := args["interpreter"].(string)
				return exec.RunScript(ctx, path, interpreter)
			},
		},
	)
	if err != nil {
		// Builtin specs are static; a duplicate here is a programming error.
		panic(err)
	}
	return registry
}
