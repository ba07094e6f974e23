// Package reasoner implements the iterative reasoning orchestrator: the
// S0-S7 state machine from spec §4.1, generalized from
// internal/executor.Execute's build-messages/call-model/run-tools loop
// into the full reasoning loop with rule short-circuiting, retrieval
// injection, budget/iteration caps, and a recovery turn.
package reasoner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentoven/runtime/internal/agenterr"
	"github.com/agentoven/runtime/internal/config"
	"github.com/agentoven/runtime/internal/confirmation"
	"github.com/agentoven/runtime/internal/errormemory"
	"github.com/agentoven/runtime/internal/housekeeper"
	"github.com/agentoven/runtime/internal/llmclient"
	"github.com/agentoven/runtime/internal/memoryfilter"
	"github.com/agentoven/runtime/internal/rules"
	"github.com/agentoven/runtime/internal/tools"
	"github.com/agentoven/runtime/pkg/contracts"
	"github.com/agentoven/runtime/pkg/models"
)

var tracer = otel.Tracer("agentoven-reasoner")

// Reasoner is the orchestrator. One instance serializes all tasks for
// one session: spec §5 requires a session's Reasoner to be a serial
// state machine, so callers must not invoke Run concurrently on the same
// instance — a per-session queue upstream of this type provides that.
type Reasoner struct {
	kitchen     string
	cfg         config.AgentConfig
	rules       *rules.Engine
	retriever   *memoryfilter.Retriever
	llm         *llmclient.Client
	toolReg     *tools.Registry
	confirm *confirmation.Policy
	errs    *errormemory.Memory
	keeper  *housekeeper.Keeper

	guard      contracts.GuardrailService
	guardrails []models.Guardrail

	systemPromptBase string
	tasksProcessed   int
}

func New(
	kitchen string,
	cfg config.AgentConfig,
	re *rules.Engine,
	retriever *memoryfilter.Retriever,
	llm *llmclient.Client,
	toolReg *tools.Registry,
	confirm *confirmation.Policy,
	errs *errormemory.Memory,
	keeper *housekeeper.Keeper,
	guard contracts.GuardrailService,
	guardrails []models.Guardrail,
	systemPromptBase string,
) *Reasoner {
	return &Reasoner{
		kitchen: kitchen, cfg: cfg, rules: re, retriever: retriever,
		llm: llm, toolReg: toolReg, confirm: confirm, errs: errs,
		keeper: keeper, guard: guard, guardrails: guardrails,
		systemPromptBase: systemPromptBase,
	}
}

// window is the Reasoner-owned, bounded message list. No tool is ever
// permitted to mutate it (spec §5's shared-resource policy); Execute's
// helpers below are the only writers.
type window struct {
	messages []models.ChatMessage
}

func newWindow(systemPrompt, task string) *window {
	return &window{messages: []models.ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: task},
	}}
}

func (w *window) append(m models.ChatMessage) { w.messages = append(w.messages, m) }

// prune is a pure function of (messages, max_messages, estimated_tokens,
// budget): it preserves messages[0:2] (system + original task) and the
// most recent turns, per spec §3's Messages-in-the-reasoning-window
// lifecycle and property 2.
func (w *window) prune(maxMessages int, estimatedTokens, budget int) {
	if len(w.messages) <= maxMessages && estimatedTokens <= int(0.7*float64(budget)) {
		return
	}
	if len(w.messages) <= 2 {
		return
	}
	keepTail := maxMessages - 2
	if keepTail < 1 {
		keepTail = 1
	}
	if len(w.messages)-2 <= keepTail {
		return
	}
	head := w.messages[:2]
	tail := w.messages[len(w.messages)-keepTail:]
	w.messages = append(append([]models.ChatMessage{}, head...), tail...)
}

// Run executes spec §4.1's state machine for one task and returns the
// final assistant text.
func (r *Reasoner) Run(ctx context.Context, task string) string {
	taskID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "reasoner.run", trace.WithAttributes(
		attribute.String("agentoven.kitchen", r.kitchen),
		attribute.String("agentoven.task_id", taskID),
	))
	defer span.End()

	// S0 Initialize
	r.llm.ResetTask(taskID)
	win := newWindow(r.systemPromptBase, task)
	iteration := 0

	// S1 RuleCheck — guardrails run ahead of rule matching, on the same
	// raw input snapshot, so a blocked input never reaches rules or the
	// LLM at all.
	if r.guard != nil && len(r.guardrails) > 0 {
		if eval, err := r.guard.EvaluateInput(ctx, r.guardrails, task); err == nil && !eval.Passed {
			log.Warn().Str("kitchen", r.kitchen).Msg("input guardrail blocked task")
			return guardrailRefusal(eval)
		}
	}

	// S1 RuleCheck — rules see only the raw user input, never LLM output,
	// and this snapshot precedes any stochastic reasoning (spec invariant).
	if m := r.rules.Match(task); m != nil {
		log.Debug().Str("rule_id", m.RuleID).Msg("rule matched, skipping LLM")
		return m.Response
	}

	// S2 Retrieve&Inject — snapshot taken once, before S3's first call;
	// later writes within this task do not affect it (spec §5 ordering).
	bundle := r.retriever.ForTask(ctx, r.kitchen, task)
	win.messages[0].Content = r.systemPromptBase + "\n\n" + memoryfilter.Render(bundle)

	var final string
	var toolsUsed int
	success := true

	for {
		resp, err := r.llmTurn(ctx, taskID, win, iteration, false)
		if err != nil {
			if agenterr.KindOf(err) == agenterr.Budget {
				final = fmt.Sprintf("Token budget exceeded (%d tokens). Last observation: %s", r.cfg.MaxTokensPerTask, lastObservation(win))
				success = false
				break
			}
			final = fmt.Sprintf("LLM unavailable: %v", err)
			success = false
			break
		}

		// S4 Dispatch
		if len(resp.ToolCalls) > 0 {
			// S5 ExecuteTools
			toolsUsed += r.executeTools(ctx, win, resp.ToolCalls)
			iteration++
			if iteration >= r.cfg.MaxIterations {
				final = fmt.Sprintf("Reached max_iterations (%d). Last observation: %s", r.cfg.MaxIterations, lastObservation(win))
				success = false
				break
			}
			continue
		}

		if resp.ToolUseFailed {
			// S6 RecoveryTurn
			win.append(models.ChatMessage{Role: "user", Content: "Your previous response used an invalid tool call format. Respond again using a valid tool call, or answer directly with plain text."})
			recovery, rerr := r.llmTurn(ctx, taskID, win, iteration, true)
			if rerr == nil && len(recovery.ToolCalls) > 0 {
				toolsUsed += r.executeTools(ctx, win, recovery.ToolCalls)
				iteration++
				continue
			}
			if rerr == nil && recovery.Content != "" {
				final = recovery.Content
			} else {
				final = nonEmptyOr(resp.FailedGeneration, "I was unable to complete this task due to a malformed tool invocation.")
				success = false
			}
			break
		}

		if resp.Content != "" {
			final = resp.Content
			break
		}

		// Neither tool_calls, content, nor tool_use_failed: retry once,
		// then finalize with whatever partial content exists (spec S4's
		// trailing else-branch).
		retryResp, rerr := r.llmTurn(ctx, taskID, win, iteration, false)
		if rerr == nil && retryResp.Content != "" {
			final = retryResp.Content
		} else {
			final = "I was unable to produce a response for this task."
			success = false
		}
		break
	}

	// S7 Finalize — output guardrails see the answer actually about to be
	// returned, after tool use and recovery have already run.
	if r.guard != nil && len(r.guardrails) > 0 {
		if eval, err := r.guard.EvaluateOutput(ctx, r.guardrails, final); err == nil && !eval.Passed {
			log.Warn().Str("kitchen", r.kitchen).Msg("output guardrail blocked response")
			final = guardrailRefusal(eval)
			success = false
		}
	}

	kind, extraction := memoryfilter.Classify(task, final, success, toolsUsed)
	r.storeClassification(ctx, task, final, kind, extraction)

	r.tasksProcessed++
	if r.cfg.HygieneIntervalTasks > 0 && r.tasksProcessed%r.cfg.HygieneIntervalTasks == 0 && r.keeper != nil {
		r.keeper.Run(ctx, r.kitchen)
	}

	return final
}

// guardrailRefusal turns a failed GuardrailEvaluation into the text
// returned to the caller in place of the blocked content.
func guardrailRefusal(eval *models.GuardrailEvaluation) string {
	for _, res := range eval.Results {
		if !res.Passed && res.Message != "" {
			return "Request blocked by guardrail: " + res.Message
		}
	}
	return "Request blocked by a configured guardrail."
}

// llmTurn implements S3 LLMTurn: enforce the budget, prune the window,
// then call the LLM. recovery=true tightens temperature/max_tokens and
// forces tool_choice="required" per S6.
func (r *Reasoner) llmTurn(ctx context.Context, taskID string, win *window, iteration int, recovery bool) (*llmclient.Response, error) {
	used := r.llm.TokensUsed(taskID)
	if int(used) >= r.cfg.MaxTokensPerTask {
		return nil, agenterr.New(agenterr.Budget, "token budget exhausted before this call", map[string]any{"used": used, "budget": r.cfg.MaxTokensPerTask})
	}

	win.prune(r.cfg.MaxContextMessages, estimateTokens(win.messages), r.cfg.MaxTokensPerTask)

	temperature := r.cfg.Temperature
	maxTokens := r.cfg.MaxTokensPerResponseTool
	var toolChoice any = "auto"
	if recovery {
		temperature = r.cfg.RecoveryTemperature
		maxTokens = r.cfg.MaxTokensPerResponse / 2
		toolChoice = "required"
	}

	req := &models.RouteRequest{
		Messages:    win.messages,
		Kitchen:     r.kitchen,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Tools:       definitionsToToolDefinitions(r.toolReg.Definitions()),
		ToolChoice:  toolChoice,
	}

	resp, err := r.llm.ChatWithTools(ctx, taskID, req)
	if err != nil {
		return nil, err
	}

	if len(resp.ToolCalls) == 0 && resp.Content != "" {
		win.append(models.ChatMessage{Role: "assistant", Content: resp.Content})
	} else if len(resp.ToolCalls) > 0 {
		win.append(models.ChatMessage{Role: "assistant", ToolCalls: resp.ToolCalls})
	}

	return resp, nil
}

// executeTools implements S5: tool calls from one LLM response execute
// sequentially in order, each going through validation, pre-flight
// warnings, confirmation, execution, truncation, and observation
// appending, per spec §4.1/§4.6.
func (r *Reasoner) executeTools(ctx context.Context, win *window, calls []models.ToolCallResult) int {
	count := 0
	for _, tc := range calls {
		call := tools.Call{ID: tc.ID, Name: tc.Function.Name}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &call.Arguments)

		t, ok := r.toolReg.Get(call.Name)
		if !ok {
			win.append(toolMessage(tc.ID, call.Name, "Error: unknown tool: "+call.Name))
			continue
		}

		if r.errs != nil {
			if pf := r.errs.Preflight(ctx, call.Name, t.Operation(call.Arguments), call.Arguments); len(pf.Warnings) > 0 {
				log.Warn().Str("tool", call.Name).Strs("warnings", pf.Warnings).Float64("confidence", pf.Confidence).Msg("pre-flight warning from past errors")
			}
		}

		class := r.toolReg.EffectiveDangerClass(t, call.Arguments)
		if fsTool, ok := t.(*tools.FileSystemTool); ok && fsTool.WriteTargetsExistingFile(call.Arguments) {
			class = tools.Privileged // SPEC_FULL §12 escalation
		}

		decision := r.confirm.Decide(class)
		if decision == confirmation.Ask {
			approved := r.confirm.Resolve(ctx, tc.ID, call, class)
			if !approved {
				win.append(toolMessage(tc.ID, call.Name, "Blocked: user declined to confirm this action"))
				continue
			}
		}

		res := r.toolReg.Execute(ctx, call)
		win.append(toolMessage(tc.ID, call.Name, res.Output))
		count++
	}
	return count
}

func (r *Reasoner) storeClassification(ctx context.Context, task, final string, kind memoryfilter.Kind, ex *memoryfilter.Extraction) {
	switch kind {
	case memoryfilter.RuleKind:
		if ex != nil {
			_, _ = r.rules.Add(ex.Trigger, rules.TriggerKind(ex.TriggerKind), ex.Response, 0)
		}
	case memoryfilter.FactKind:
		if ex == nil {
			return
		}
		meta := map[string]string{"category": ex.Category}
		if err := r.retriever.Persist(ctx, r.kitchen, memoryfilter.NamespaceFacts, uuid.NewString(), ex.Value, meta); err != nil {
			log.Warn().Err(err).Str("kitchen", r.kitchen).Msg("failed to persist fact")
		}
	case memoryfilter.Experience:
		content := "Task: " + task + "\nOutcome: " + final
		if err := r.retriever.Persist(ctx, r.kitchen, memoryfilter.NamespaceExperiences, uuid.NewString(), content, nil); err != nil {
			log.Warn().Err(err).Str("kitchen", r.kitchen).Msg("failed to persist experience")
		}
	}
}

func toolMessage(toolCallID, name, content string) models.ChatMessage {
	return models.ChatMessage{Role: "tool", ToolCallID: toolCallID, Name: name, Content: content}
}

func lastObservation(w *window) string {
	for i := len(w.messages) - 1; i >= 0; i-- {
		if w.messages[i].Role == "tool" {
			return w.messages[i].Content
		}
	}
	return "(none)"
}

func nonEmptyOr(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func estimateTokens(messages []models.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4 // rough chars-per-token heuristic
	}
	return total
}

func definitionsToToolDefinitions(defs []map[string]any) []models.ToolDefinition {
	out := make([]models.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		fn, _ := d["function"].(map[string]any)
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		params, _ := fn["parameters"].(map[string]any)
		out = append(out, models.ToolDefinition{
			Type:     "function",
			Function: models.ToolFunction{Name: name, Description: desc, Parameters: params},
		})
	}
	return out
}

