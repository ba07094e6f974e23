// Package tools is the Tool Mediation Layer: a schema-validated registry
// of side-effecting capabilities, sandbox enforcement, result truncation,
// and error observation. It generalizes the control plane's MCP gateway
// (internal/mcpgw) from a network JSON-RPC surface to an in-process
// registry of Go values satisfying the Tool capability set, per
// SPEC_FULL §9's "explicit registry, no decorators" design note.
package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/runtime/internal/agenterr"
	"github.com/agentoven/runtime/internal/config"
)

// DangerClass is the static safety tag every registered tool must
// declare. ConfirmationPolicy keys entirely off this value — there is no
// "neither safe nor dangerous" third state (SPEC_FULL §12/§13).
type DangerClass string

const (
	Safe       DangerClass = "SAFE"
	Mutating   DangerClass = "MUTATING"
	Privileged DangerClass = "PRIVILEGED"
)

// Status is the outcome of one tool invocation.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
	StatusBlocked Status = "BLOCKED"
	StatusTimeout Status = "TIMEOUT"
)

// Result is the uniform outcome of ToolRegistry.Execute. Output is the
// only field surfaced to the LLM (after truncation); Metadata feeds
// ErrorMemory.
type Result struct {
	Status   Status
	Output   string
	Error    string
	Metadata map[string]string
}

// Call is one tool invocation requested by the LLM.
type Call struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Tool is the capability set every tool value must satisfy: describe,
// validate, execute. Polymorphism is via this one small interface, never
// via decorators or monkey-patched registration (spec §9).
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON-schema object
	DangerClass() DangerClass
	Validate(args map[string]any) error
	Execute(ctx context.Context, args map[string]any) Result
	// Operation returns the operation value for call-sites that pass one
	// (e.g. file_system.write), or "" if the tool has no operation axis.
	// Used by ConfirmationPolicy's per-operation danger escalation.
	Operation(args map[string]any) string
}

// ErrorLogger is the subset of ErrorMemory the registry needs; kept as
// an interface here so tools and errormemory don't import each other.
type ErrorLogger interface {
	Log(ctx context.Context, tool, operation, errMsg string, meta map[string]string) string
}

// OperationDangerClasser is implemented by tools whose danger class
// varies by requested operation (e.g. file_system read vs write),
// rather than being fixed for the whole tool. EffectiveDangerClass and
// sandboxViolation consult it instead of the tool's static DangerClass
// when a tool implements it.
type OperationDangerClasser interface {
	DangerClassForOperation(operation string) DangerClass
}

func baseDangerClass(t Tool, args map[string]any) DangerClass {
	if od, ok := t.(OperationDangerClasser); ok {
		return od.DangerClassForOperation(t.Operation(args))
	}
	return t.DangerClass()
}

// Registry holds tools keyed by name and mediates every call through
// sandbox checks, a hard timeout, output truncation, and error logging.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	cfg   config.AgentConfig
	errs  ErrorLogger
}

func New(cfg config.AgentConfig, errs ErrorLogger) *Registry {
	return &Registry{tools: make(map[string]Tool), cfg: cfg, errs: errs}
}

// Register adds a tool, keyed by its own Name(). Re-registering a name
// replaces the previous tool, matching the teacher's catalog semantics
// for re-baking an agent.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the JSON-schema function definitions for every
// registered tool, for inclusion in the next LLMClient.ChatWithTools
// call.
func (r *Registry) Definitions() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]map[string]any, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name(),
				"description": t.Description(),
				"parameters":  t.Parameters(),
			},
		})
	}
	return out
}

// EffectiveDangerClass returns t's static DangerClass, escalated per
// SPEC_FULL §13 Open Question 2: a SAFE tool reading outside the sandbox
// is treated as MUTATING-equivalent so ConfirmationPolicy always asks.
func (r *Registry) EffectiveDangerClass(t Tool, args map[string]any) DangerClass {
	class := baseDangerClass(t, args)
	if class == Safe && r.cfg.SandboxMode {
		if path, ok := stringArg(args, "path"); ok && !pathInSandbox(r.cfg.WorkingDirectory, path) {
			return Mutating
		}
	}
	return class
}

// Execute runs the spec §4.6 ToolRegistry.execute steps: lookup,
// validate, sandbox check, timeout-bounded execution, truncation, and
// error observation. Confirmation (step "ConfirmationPolicy.decide") is
// the Reasoner's responsibility and happens before Execute is called.
func (r *Registry) Execute(ctx context.Context, call Call) Result {
	t, ok := r.Get(call.Name)
	if !ok {
		return Result{Status: StatusError, Error: fmt.Sprintf("unknown tool: %s", call.Name)}
	}

	if err := t.Validate(call.Arguments); err != nil {
		r.logError(ctx, t, call, err.Error())
		return Result{Status: StatusError, Error: err.Error()}
	}

	if blocked, reason := r.sandboxViolation(t, call.Arguments); blocked {
		r.logError(ctx, t, call, reason)
		return Result{Status: StatusBlocked, Error: reason}
	}

	timeout := time.Duration(r.cfg.ToolTimeoutSeconds) * time.Second
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- t.Execute(execCtx, call.Arguments) }()

	var res Result
	select {
	case res = <-resultCh:
	case <-execCtx.Done():
		res = Result{Status: StatusTimeout, Error: fmt.Sprintf("tool %s exceeded %s", call.Name, timeout)}
	}

	res.Output = truncate(res.Output, r.cfg.ToolOutputTruncateChars)
	res.Output = prefixStatus(res)

	if res.Status != StatusSuccess {
		r.logError(ctx, t, call, nonEmpty(res.Error, res.Output))
	}
	return res
}

func (r *Registry) logError(ctx context.Context, t Tool, call Call, msg string) {
	if r.errs == nil {
		return
	}
	meta := map[string]string{}
	if path, ok := stringArg(call.Arguments, "path"); ok {
		meta["path"] = path
		meta["extension"] = filepath.Ext(path)
	}
	r.errs.Log(ctx, t.Name(), t.Operation(call.Arguments), msg, meta)
}

func (r *Registry) sandboxViolation(t Tool, args map[string]any) (bool, string) {
	if !r.cfg.SandboxMode {
		return false, ""
	}
	path, ok := stringArg(args, "path")
	if !ok {
		return false, ""
	}
	if !pathInSandbox(r.cfg.WorkingDirectory, path) {
		// Reads are allowed to resolve outside the sandbox (they simply
		// require confirmation, per §13 Open Question 2); writes do not.
		if baseDangerClass(t, args) == Safe {
			return false, ""
		}
		return true, fmt.Sprintf("path %q resolves outside the sandbox %q", path, r.cfg.WorkingDirectory)
	}
	if ext := filepath.Ext(path); ext != "" && len(r.cfg.AllowedExtensions) > 0 && !extensionAllowed(ext, r.cfg.AllowedExtensions) {
		return true, fmt.Sprintf("extension %q is not in the allowed set", ext)
	}
	for _, blocked := range r.cfg.BlockedPaths {
		if blocked != "" && strings.HasPrefix(filepath.Clean(path), filepath.Clean(blocked)) {
			return true, fmt.Sprintf("path %q is under a blocked path %q", path, blocked)
		}
	}
	return false, ""
}

func pathInSandbox(workdir, path string) bool {
	abs, err := filepath.Abs(filepath.Join(workdir, path))
	if err != nil {
		return false
	}
	root, err := filepath.Abs(workdir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func extensionAllowed(ext string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("... [truncated %d chars]", len(s)-max)
}

func prefixStatus(r Result) string {
	switch r.Status {
	case StatusSuccess:
		return "Success: " + r.Output
	case StatusBlocked:
		return "Blocked: " + nonEmpty(r.Error, r.Output)
	case StatusTimeout:
		return "Timeout: " + nonEmpty(r.Error, r.Output)
	default:
		return "Error: " + nonEmpty(r.Error, r.Output)
	}
}

func nonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// ToAgentErr converts a non-success Result into the matching typed
// error kind, for callers (the Reasoner) that need to route on it.
func ToAgentErr(r Result) error {
	switch r.Status {
	case StatusSuccess:
		return nil
	case StatusTimeout:
		return agenterr.New(agenterr.ToolTimeout, r.Error, nil)
	case StatusBlocked:
		return agenterr.New(agenterr.Safety, r.Error, nil)
	default:
		return agenterr.New(agenterr.ToolExecution, r.Error, nil)
	}
}
