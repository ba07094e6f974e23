package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/agentoven/runtime/internal/config"
)

// FileSystemTool implements read/write/list/delete operations under the
// sandbox working directory. Danger classes follow
// agent/core/confirmation_manager.py's SAFE_TOOLS/DANGEROUS_OPERATIONS
// tables: read/list are SAFE, write/delete are MUTATING, and (per
// SPEC_FULL §12) a write against a path that already exists escalates
// to PRIVILEGED even though "write" alone is only MUTATING.
type FileSystemTool struct {
	cfg config.AgentConfig
}

func NewFileSystemTool(cfg config.AgentConfig) *FileSystemTool { return &FileSystemTool{cfg: cfg} }

func (t *FileSystemTool) Name() string        { return "file_system" }
func (t *FileSystemTool) Description() string { return "Read, write, list, or delete files in the sandboxed working directory." }

func (t *FileSystemTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type": "string",
				"enum": []string{"read", "write", "list", "delete"},
			},
			"path":    map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
		},
		"required": []string{"operation", "path"},
	}
}

func (t *FileSystemTool) Operation(args map[string]any) string {
	op, _ := args["operation"].(string)
	return op
}

func (t *FileSystemTool) DangerClass() DangerClass {
	// Worst-case static fallback for callers that don't know about
	// operations; DangerClassForOperation below is what the registry
	// actually consults.
	return Mutating
}

// DangerClassForOperation implements OperationDangerClasser, matching
// confirmation_manager.py's SAFE_TOOLS table: read/list never mutate
// anything and are SAFE, write/delete are MUTATING (further escalated
// to PRIVILEGED for a write against an existing file, in the Reasoner's
// dispatch loop).
func (t *FileSystemTool) DangerClassForOperation(operation string) DangerClass {
	switch operation {
	case "read", "list":
		return Safe
	default:
		return Mutating
	}
}

func (t *FileSystemTool) Validate(args map[string]any) error {
	op, ok := args["operation"].(string)
	if !ok || op == "" {
		return fmt.Errorf("operation is required")
	}
	switch op {
	case "read", "write", "list", "delete":
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	if _, ok := args["path"].(string); !ok {
		return fmt.Errorf("path is required")
	}
	if op == "write" {
		if _, ok := args["content"].(string); !ok {
			return fmt.Errorf("content is required for write")
		}
	}
	return nil
}

func (t *FileSystemTool) Execute(ctx context.Context, args map[string]any) Result {
	op, _ := args["operation"].(string)
	path, _ := args["path"].(string)
	fullPath := path
	if t.cfg.WorkingDirectory != "" {
		fullPath = t.cfg.WorkingDirectory + string(os.PathSeparator) + path
	}

	switch op {
	case "read":
		info, err := os.Stat(fullPath)
		if err != nil {
			return Result{Status: StatusError, Error: err.Error(), Metadata: map[string]string{"path": path}}
		}
		maxBytes := int64(t.cfg.MaxFileSizeMB) * 1024 * 1024
		if info.Size() > maxBytes {
			return Result{Status: StatusBlocked, Error: fmt.Sprintf("file size %d exceeds max_file_size_mb", info.Size()), Metadata: map[string]string{"path": path, "file_size": fmt.Sprint(info.Size()), "max_size": fmt.Sprint(maxBytes)}}
		}
		data, err := os.ReadFile(fullPath)
		if err != nil {
			return Result{Status: StatusError, Error: err.Error(), Metadata: map[string]string{"path": path}}
		}
		return Result{Status: StatusSuccess, Output: string(data)}
	case "write":
		content, _ := args["content"].(string)
		if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
			return Result{Status: StatusError, Error: err.Error(), Metadata: map[string]string{"path": path}}
		}
		return Result{Status: StatusSuccess, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
	case "list":
		entries, err := os.ReadDir(fullPath)
		if err != nil {
			return Result{Status: StatusError, Error: err.Error(), Metadata: map[string]string{"path": path}}
		}
		names := ""
		for _, e := range entries {
			names += e.Name() + "\n"
		}
		return Result{Status: StatusSuccess, Output: names}
	case "delete":
		if err := os.Remove(fullPath); err != nil {
			return Result{Status: StatusError, Error: err.Error(), Metadata: map[string]string{"path": path}}
		}
		return Result{Status: StatusSuccess, Output: fmt.Sprintf("deleted %s", path)}
	default:
		return Result{Status: StatusError, Error: fmt.Sprintf("unknown operation %q", op)}
	}
}

// WriteTargetsExistingFile reports whether args describes a write to a
// path that already exists, the escalation rule from
// confirmation_manager.py carried into SPEC_FULL §12.
func (t *FileSystemTool) WriteTargetsExistingFile(args map[string]any) bool {
	if t.Operation(args) != "write" {
		return false
	}
	path, _ := args["path"].(string)
	fullPath := path
	if t.cfg.WorkingDirectory != "" {
		fullPath = t.cfg.WorkingDirectory + string(os.PathSeparator) + path
	}
	_, err := os.Stat(fullPath)
	return err == nil
}
