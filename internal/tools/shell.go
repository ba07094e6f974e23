package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/agentoven/runtime/internal/config"
)

// ShellTool executes a single whitelisted command. Grounded on
// agent/core/confirmation_manager.py, where shell execution is always
// PRIVILEGED and additionally gated by a dangerous-commands blocklist
// that applies even under superuser_mode (spec §6's
// dangerous_commands_blocklist "always blocked even with sudo").
type ShellTool struct {
	cfg config.AgentConfig
}

func NewShellTool(cfg config.AgentConfig) *ShellTool { return &ShellTool{cfg: cfg} }

func (t *ShellTool) Name() string        { return "shell" }
func (t *ShellTool) Description() string { return "Run a whitelisted shell command and return its stdout/stderr." }

func (t *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string"},
		},
		"required": []string{"command"},
	}
}

func (t *ShellTool) Operation(args map[string]any) string { return "execute" }

func (t *ShellTool) DangerClass() DangerClass { return Privileged }

func (t *ShellTool) Validate(args map[string]any) error {
	cmd, ok := args["command"].(string)
	if !ok || strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("command is required")
	}
	for _, blocked := range t.cfg.DangerousCommands {
		if blocked != "" && strings.Contains(cmd, blocked) {
			return fmt.Errorf("command matches the dangerous-commands blocklist: %q", blocked)
		}
	}
	if len(t.cfg.CommandWhitelist) > 0 {
		fields := strings.Fields(cmd)
		if len(fields) == 0 || !inWhitelist(fields[0], t.cfg.CommandWhitelist) {
			return fmt.Errorf("command %q is not in the command whitelist", cmdHead(cmd))
		}
	}
	return nil
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) Result {
	cmdStr, _ := args["command"].(string)
	timeout := time.Duration(t.cfg.ToolTimeoutSeconds) * time.Second
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", cmdStr)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		if execCtx.Err() != nil {
			return Result{Status: StatusTimeout, Error: fmt.Sprintf("command exceeded %s", timeout)}
		}
		return Result{Status: StatusError, Error: err.Error() + ": " + errBuf.String()}
	}
	return Result{Status: StatusSuccess, Output: out.String()}
}

func inWhitelist(head string, whitelist []string) bool {
	for _, w := range whitelist {
		if w == head {
			return true
		}
	}
	return false
}

func cmdHead(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return cmd
	}
	return fields[0]
}
