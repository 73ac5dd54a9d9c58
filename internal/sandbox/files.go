package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// resolvePath maps a tool-supplied path onto the script root and rejects
// anything whose resolved absolute form leaves it. Symlinks are resolved on
// the deepest existing ancestor so a link inside the root cannot point out.
func (e *Executor) resolvePath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		p = "."
	}
	candidate := p
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(e.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved, err := resolveExistingPrefix(candidate)
	if err != nil {
		return "", err
	}
	if resolved != e.root && !strings.HasPrefix(resolved, e.root+string(filepath.Separator)) {
		return "", ErrPathViolation
	}
	return resolved, nil
}

func resolveExistingPrefix(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			if remainder == "" {
				return resolved, nil
			}
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		if remainder == "" {
			remainder = filepath.Base(current)
		} else {
			remainder = filepath.Join(filepath.Base(current), remainder)
		}
		current = parent
	}
}

func (e *Executor) ReadFile(path string) Result {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return pathViolationResult(path, err)
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		return Result{ExitCode: 1, Failure: err.Error()}
	}
	out := string(content)
	truncated := false
	if len(out) > e.cap {
		out = out[:e.cap] + truncationMarker
		truncated = true
	}
	return Result{Stdout: out, StdoutTruncated: truncated}
}

func (e *Executor) WriteFile(path, content string) Result {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return pathViolationResult(path, err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return Result{ExitCode: 1, Failure: err.Error()}
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return Result{ExitCode: 1, Failure: err.Error()}
	}
	rel, relErr := filepath.Rel(e.root, resolved)
	if relErr != nil {
		rel = resolved
	}
	return Result{Stdout: fmt.Sprintf("wrote %d bytes to %s", len(content), rel)}
}

func (e *Executor) ListDirectory(path string) Result {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return pathViolationResult(path, err)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return Result{ExitCode: 1, Failure: err.Error()}
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return Result{Stdout: strings.Join(names, "\n")}
}
