package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/runtime/internal/config"
)

func testConfig(t *testing.T) config.AgentConfig {
	dir := t.TempDir()
	return config.AgentConfig{
		SandboxMode:             true,
		WorkingDirectory:        dir,
		AllowedExtensions:       []string{".txt", ".md"},
		MaxFileSizeMB:           10,
		ToolTimeoutSeconds:      5,
		ToolOutputTruncateChars: 500,
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := New(testConfig(t), nil)
	res := r.Execute(context.Background(), Call{Name: "nope"})
	assert.Equal(t, StatusError, res.Status)
}

func TestRegistry_FileSystemReadWrite(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg, nil)
	fsTool := NewFileSystemTool(cfg)
	r.Register(fsTool)

	writeRes := r.Execute(context.Background(), Call{Name: "file_system", Arguments: map[string]any{
		"operation": "write", "path": "note.txt", "content": "hello",
	}})
	require.Equal(t, StatusSuccess, writeRes.Status)

	readRes := r.Execute(context.Background(), Call{Name: "file_system", Arguments: map[string]any{
		"operation": "read", "path": "note.txt",
	}})
	require.Equal(t, StatusSuccess, readRes.Status)
	assert.Contains(t, readRes.Output, "hello")
}

func TestRegistry_BlocksDisallowedExtension(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg, nil)
	r.Register(NewFileSystemTool(cfg))

	res := r.Execute(context.Background(), Call{Name: "file_system", Arguments: map[string]any{
		"operation": "write", "path": "script.exe", "content": "x",
	}})
	assert.Equal(t, StatusBlocked, res.Status)
}

func TestRegistry_BlocksPathOutsideSandbox(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg, nil)
	r.Register(NewFileSystemTool(cfg))

	outside := filepath.Join(os.TempDir(), "outside.txt")
	res := r.Execute(context.Background(), Call{Name: "file_system", Arguments: map[string]any{
		"operation": "write", "path": "../../../../" + outside, "content": "x",
	}})
	assert.Equal(t, StatusBlocked, res.Status)
}

// Testable Property 7: SAFE calls execute without ASK. file_system's
// danger class depends on the requested operation, not a single static
// tag for the whole tool (confirmation_manager.py's SAFE_TOOLS table).
func TestRegistry_FileSystemDangerClassVariesByOperation(t *testing.T) {
	cfg := testConfig(t)
	r := New(cfg, nil)
	fsTool := NewFileSystemTool(cfg)
	r.Register(fsTool)

	assert.Equal(t, Safe, r.EffectiveDangerClass(fsTool, map[string]any{"operation": "read", "path": "note.txt"}))
	assert.Equal(t, Safe, r.EffectiveDangerClass(fsTool, map[string]any{"operation": "list", "path": "."}))
	assert.Equal(t, Mutating, r.EffectiveDangerClass(fsTool, map[string]any{"operation": "write", "path": "note.txt"}))
	assert.Equal(t, Mutating, r.EffectiveDangerClass(fsTool, map[string]any{"operation": "delete", "path": "note.txt"}))
}

func TestRegistry_TruncatesOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.ToolOutputTruncateChars = 10
	r := New(cfg, nil)
	r.Register(NewFileSystemTool(cfg))

	require.NoError(t, os.WriteFile(filepath.Join(cfg.WorkingDirectory, "big.txt"), []byte("0123456789ABCDEF"), 0o644))
	res := r.Execute(context.Background(), Call{Name: "file_system", Arguments: map[string]any{
		"operation": "read", "path": "big.txt",
	}})
	require.Equal(t, StatusSuccess, res.Status)
	assert.Contains(t, res.Output, "truncated")
}
