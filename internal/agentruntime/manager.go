// Package agentruntime wires one Reasoner per (kitchen, agent) pair on
// top of the control plane's existing Store/ModelRouter, and tracks
// submitted tasks for the HTTP task-submission/polling surface. Grounded
// on internal/workflow/engine.go's per-run tracking (a RecipeRun's
// status lives in a map keyed by run id, updated from the goroutine that
// executes it).
package agentruntime

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/runtime/internal/config"
	"github.com/agentoven/runtime/internal/confirmation"
	"github.com/agentoven/runtime/internal/errormemory"
	"github.com/agentoven/runtime/internal/guardrails"
	"github.com/agentoven/runtime/internal/housekeeper"
	"github.com/agentoven/runtime/internal/llmclient"
	"github.com/agentoven/runtime/internal/memoryfilter"
	"github.com/agentoven/runtime/internal/reasoner"
	"github.com/agentoven/runtime/internal/rules"
	"github.com/agentoven/runtime/internal/store"
	"github.com/agentoven/runtime/internal/tools"
	"github.com/agentoven/runtime/pkg/contracts"
	"github.com/agentoven/runtime/pkg/models"
)

// TaskStatus is a submitted task's lifecycle state.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is a submitted reasoning-loop run, for the polling GET endpoint.
type Task struct {
	ID          string     `json:"id"`
	Kitchen     string     `json:"kitchen"`
	Agent       string     `json:"agent"`
	Input       string     `json:"input"`
	Status      TaskStatus `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
}

// Manager builds and caches one Reasoner per (kitchen, agent) and runs
// tasks against it asynchronously.
type Manager struct {
	store  store.Store
	router contracts.ModelRouterService
	cfg    config.AgentConfig

	guard contracts.GuardrailService

	mu        sync.Mutex
	reasoners map[string]*reasoner.Reasoner
	keepers   map[string]*housekeeper.Keeper

	tasksMu sync.RWMutex
	tasks   map[string]*Task
}

func NewManager(s store.Store, mr contracts.ModelRouterService, cfg config.AgentConfig) *Manager {
	return &Manager{
		store:     s,
		router:    mr,
		cfg:       cfg,
		guard:     &guardrails.CommunityGuardrailService{},
		reasoners: make(map[string]*reasoner.Reasoner),
		keepers:   make(map[string]*housekeeper.Keeper),
		tasks:     make(map[string]*Task),
	}
}

func cacheKey(kitchen, agent string) string { return kitchen + "/" + agent }

// reasonerFor returns the cached Reasoner for (kitchen, agentName),
// building it from the agent's resolved config on first use. Only
// agents with Behavior == agentic get a reasoning loop (spec §1's scope
// boundary: the rest of the control plane's agents stay single-turn).
func (m *Manager) reasonerFor(ctx context.Context, kitchen, agentName string) (*reasoner.Reasoner, error) {
	key := cacheKey(kitchen, agentName)

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.reasoners[key]; ok {
		return r, nil
	}

	agent, err := m.store.GetAgent(ctx, kitchen, agentName)
	if err != nil {
		return nil, fmt.Errorf("load agent %s/%s: %w", kitchen, agentName, err)
	}
	if agent.Behavior != models.BehaviorAgentic {
		return nil, fmt.Errorf("agent %s/%s is not agentic (behavior=%q)", kitchen, agentName, agent.Behavior)
	}

	re := rules.New(filepath.Join(m.cfg.WorkingDirectory, ".rules", kitchen+"_"+agentName+".json"))
	if err := re.Load(); err != nil {
		log.Warn().Err(err).Str("agent", agentName).Msg("failed to load persisted rules, starting empty")
	}

	errs := errormemory.New(kitchen, m.vectorStoreOrNil(), nil, filepath.Join(m.cfg.WorkingDirectory, ".errors", kitchen+"_"+agentName+".jsonl"))

	llm := llmclient.New(m.router, m.cfg)
	reg := tools.New(m.cfg, errs)
	reg.Register(tools.NewFileSystemTool(m.cfg))
	reg.Register(tools.NewShellTool(m.cfg))

	confirm := confirmation.New(m.cfg.ConfirmationMode, nil, time.Duration(m.cfg.ConfirmationAskTimeout)*time.Second)
	retriever := memoryfilter.New(m.vectorStoreOrNil(), re, nil, memoryfilter.DefaultTopK)
	keeper := housekeeper.New(m.vectorStoreOrNil(), m.cfg)
	m.keepers[key] = keeper

	systemPrompt := systemPromptFor(agent)

	r := reasoner.New(kitchen, m.cfg, re, retriever, llm, reg, confirm, errs, keeper, m.guard, agent.Guardrails, systemPrompt)
	m.reasoners[key] = r
	return r, nil
}

func (m *Manager) vectorStoreOrNil() store.VectorDocStore {
	if m.store == nil {
		return nil
	}
	return m.store
}

func systemPromptFor(agent *models.Agent) string {
	if agent.ResolvedConfig != nil && agent.ResolvedConfig.Prompt != nil && agent.ResolvedConfig.Prompt.Rendered != "" {
		return agent.ResolvedConfig.Prompt.Rendered
	}
	if agent.Description != "" {
		return agent.Description
	}
	return fmt.Sprintf("You are %s, an autonomous agent.", agent.Name)
}

// SubmitTask starts a reasoning-loop run in the background and returns a
// task id the caller can poll with GetTask.
func (m *Manager) SubmitTask(ctx context.Context, kitchen, agentName, input string) (*Task, error) {
	r, err := m.reasonerFor(ctx, kitchen, agentName)
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:        uuid.NewString(),
		Kitchen:   kitchen,
		Agent:     agentName,
		Input:     input,
		Status:    TaskRunning,
		CreatedAt: time.Now(),
	}
	m.tasksMu.Lock()
	m.tasks[task.ID] = task
	m.tasksMu.Unlock()

	go func() {
		runCtx := context.WithoutCancel(ctx)
		defer func() {
			if p := recover(); p != nil {
				m.finishTask(task.ID, "", fmt.Errorf("reasoning loop panicked: %v", p))
			}
		}()
		result := r.Run(runCtx, input)
		m.finishTask(task.ID, result, nil)
	}()

	return task, nil
}

func (m *Manager) finishTask(id, result string, err error) {
	m.tasksMu.Lock()
	defer m.tasksMu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return
	}
	t.CompletedAt = time.Now()
	if err != nil {
		t.Status = TaskFailed
		t.Error = err.Error()
		return
	}
	t.Status = TaskCompleted
	t.Result = result
}

// GetTask returns the current state of a submitted task.
func (m *Manager) GetTask(id string) (*Task, bool) {
	m.tasksMu.RLock()
	defer m.tasksMu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}
