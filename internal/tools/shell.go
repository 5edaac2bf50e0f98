package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const maxShellOutput = 20000

// ShellTool runs commands inside a plan's workspace. Calls go through the
// policy engine before they get here.
type ShellTool struct {
	Dir     string
	Timeout time.Duration
}

func NewShellTool(dir string, timeout time.Duration) *ShellTool {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ShellTool{Dir: dir, Timeout: timeout}
}

func (s *ShellTool) Name() string {
	return "shell"
}

func (s *ShellTool) Description() string {
	return "Execute a shell command in the plan workspace and return its combined output."
}

func (s *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
		},
		"required": []string{"command"},
	}
}

func (s *ShellTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %w", err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return "Error: empty command", nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", args.Command)
	if s.Dir != "" {
		if err := os.MkdirAll(s.Dir, 0755); err != nil {
			return "", fmt.Errorf("failed to prepare workspace: %w", err)
		}
		cmd.Dir = s.Dir
	}

	output, err := cmd.CombinedOutput()
	result := strings.TrimSpace(string(output))
	if len(result) > maxShellOutput {
		result = result[:maxShellOutput] + "\n... (output truncated)"
	}
	if result == "" {
		result = "(no output)"
	}

	// A failing command is information for the model, not a tool error.
	if err != nil {
		return fmt.Sprintf("Command failed with error: %v\nOutput: %s", err, result), nil
	}
	return result, nil
}
