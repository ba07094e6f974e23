package reasoner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/runtime/internal/config"
	"github.com/agentoven/runtime/internal/confirmation"
	"github.com/agentoven/runtime/internal/guardrails"
	"github.com/agentoven/runtime/internal/llmclient"
	"github.com/agentoven/runtime/internal/memoryfilter"
	"github.com/agentoven/runtime/internal/rules"
	"github.com/agentoven/runtime/internal/tools"
	"github.com/agentoven/runtime/pkg/contracts"
	"github.com/agentoven/runtime/pkg/models"
)

// fakeRouter scripts a sequence of RouteResponses, one per call, so each
// scenario test can drive the state machine deterministically.
type fakeRouter struct {
	responses []*models.RouteResponse
	i         int
}

func (f *fakeRouter) Route(ctx context.Context, req *models.RouteRequest) (*models.RouteResponse, error) {
	if f.i >= len(f.responses) {
		return &models.RouteResponse{Content: "(no more scripted responses)"}, nil
	}
	r := f.responses[f.i]
	f.i++
	return r, nil
}

func (f *fakeRouter) GetCostSummary(kitchen string) *models.CostSummary { return nil }
func (f *fakeRouter) HealthCheck(ctx context.Context) map[string]string { return nil }

var _ contracts.ModelRouterService = (*fakeRouter)(nil)

// echoTool is a SAFE tool used by the dispatch/dispatch-loop scenarios.
type echoTool struct{}

func (echoTool) Name() string                          { return "echo" }
func (echoTool) Description() string                   { return "echoes its input back" }
func (echoTool) Parameters() map[string]any             { return map[string]any{"type": "object"} }
func (echoTool) DangerClass() tools.DangerClass          { return tools.Safe }
func (echoTool) Validate(args map[string]any) error      { return nil }
func (echoTool) Operation(args map[string]any) string     { return "" }
func (echoTool) Execute(ctx context.Context, args map[string]any) tools.Result {
	msg, _ := args["message"].(string)
	return tools.Result{Status: tools.StatusSuccess, Output: "echo: " + msg}
}

func toolCallArgs(v map[string]any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// fakeVectorStore is a minimal in-memory store.VectorDocStore, just
// enough to assert what the Reasoner writes to which namespace.
type fakeVectorStore struct {
	upserted []models.VectorDoc
}

func (f *fakeVectorStore) UpsertVectorDocs(ctx context.Context, kitchen string, docs []models.VectorDoc) error {
	f.upserted = append(f.upserted, docs...)
	return nil
}
func (f *fakeVectorStore) SearchVectorDocs(ctx context.Context, kitchen string, vector []float64, topK int, namespace string) ([]models.SearchResult, error) {
	return nil, nil
}
func (f *fakeVectorStore) DeleteVectorDocs(ctx context.Context, kitchen string, ids []string) error {
	return nil
}
func (f *fakeVectorStore) CountVectorDocs(ctx context.Context, kitchen, namespace string) (int64, error) {
	return int64(len(f.upserted)), nil
}
func (f *fakeVectorStore) ListVectorNamespaces(ctx context.Context, kitchen string) ([]string, error) {
	return nil, nil
}
func (f *fakeVectorStore) CleanupOldVectorDocs(ctx context.Context, kitchen, namespace string, maxAge time.Duration, keepSuccessful bool) (int, error) {
	return 0, nil
}
func (f *fakeVectorStore) LimitVectorDocsSize(ctx context.Context, kitchen, namespace string, maxCount int) (int, error) {
	return 0, nil
}

func newTestReasoner(t *testing.T, fr *fakeRouter, mode config.ConfirmationMode) *Reasoner {
	cfg := config.AgentConfig{
		MaxIterations:            5,
		MaxContextMessages:       20,
		HygieneIntervalTasks:     0, // disabled unless a test opts in
		MaxTokensPerTask:         20000,
		MaxTokensPerResponse:     1024,
		MaxTokensPerResponseTool: 768,
		Temperature:              0.2,
		RecoveryTemperature:      0.1,
		ToolOutputTruncateChars:  500,
		ToolTimeoutSeconds:       5,
		ConfirmationMode:         mode,
		SandboxMode:              false,
	}

	re := rules.New(t.TempDir() + "/rules.json")
	llm := llmclient.New(fr, cfg)
	reg := tools.New(cfg, nil)
	reg.Register(echoTool{})
	confirm := confirmation.New(mode, nil, 50*time.Millisecond)
	retriever := memoryfilter.New(nil, re, nil, memoryfilter.TopK{})

	return New("test-kitchen", cfg, re, retriever, llm, reg, confirm, nil, nil, nil, nil, "you are a helpful agent")
}

// Scenario A (spec §8): a deterministic rule short-circuits the loop,
// the LLM is never called.
func TestRun_RuleMatchShortCircuitsLLM(t *testing.T) {
	fr := &fakeRouter{}
	r := newTestReasoner(t, fr, config.ConfirmationYes)
	_, err := r.rules.Add("weather", rules.Contains, "I cannot check the weather.", 0)
	require.NoError(t, err)

	out := r.Run(context.Background(), "what's the weather like today?")

	assert.Equal(t, "I cannot check the weather.", out)
	assert.Equal(t, 0, fr.i) // LLM never invoked
}

// An input guardrail blocks the task before the rule engine or LLM ever
// see it, same ordering spec §8 gives the rule short-circuit.
func TestRun_InputGuardrailBlocksBeforeLLM(t *testing.T) {
	fr := &fakeRouter{}
	r := newTestReasoner(t, fr, config.ConfirmationYes)
	r.guard = &guardrails.CommunityGuardrailService{}
	r.guardrails = []models.Guardrail{{
		ID:      "block-wire",
		Kind:    models.GuardrailContentFilter,
		Stage:   models.GuardrailStageInput,
		Enabled: true,
		Config:  map[string]interface{}{"blocked_words": []interface{}{"wire me money"}},
	}}

	out := r.Run(context.Background(), "please wire me money right now")

	assert.Contains(t, out, "guardrail")
	assert.Equal(t, 0, fr.i) // LLM never invoked
}

// spec §3's Data Model invariant: a FACT classification persists into
// the "facts" namespace, not just into the returned Extraction.
func TestStoreClassification_FactPersistsToFactsNamespace(t *testing.T) {
	fr := &fakeRouter{}
	r := newTestReasoner(t, fr, config.ConfirmationYes)
	vs := &fakeVectorStore{}
	r.retriever = memoryfilter.New(vs, r.rules, nil, memoryfilter.TopK{})

	ex := &memoryfilter.Extraction{Category: "timezone", Value: "UTC+2"}
	r.storeClassification(context.Background(), "my timezone is UTC+2", "noted", memoryfilter.FactKind, ex)

	require.Len(t, vs.upserted, 1)
	assert.Equal(t, memoryfilter.NamespaceFacts, vs.upserted[0].Namespace)
	assert.Equal(t, "UTC+2", vs.upserted[0].Content)
	assert.Equal(t, "timezone", vs.upserted[0].Metadata["category"])
}

// Scenario C (spec §8): one Experience record is stored for a
// successful tool-using task.
func TestStoreClassification_ExperiencePersistsToExperiencesNamespace(t *testing.T) {
	fr := &fakeRouter{}
	r := newTestReasoner(t, fr, config.ConfirmationYes)
	vs := &fakeVectorStore{}
	r.retriever = memoryfilter.New(vs, r.rules, nil, memoryfilter.TopK{})

	r.storeClassification(context.Background(), "echo hi for me", "echo: hi", memoryfilter.Experience, nil)

	require.Len(t, vs.upserted, 1)
	assert.Equal(t, memoryfilter.NamespaceExperiences, vs.upserted[0].Namespace)
	assert.Contains(t, vs.upserted[0].Content, "echo hi for me")
	assert.Contains(t, vs.upserted[0].Content, "echo: hi")
}

// Scenario C (spec §8): a single tool call dispatch/execute/observe
// round trip under YES confirmation mode.
func TestRun_ToolCallThenFinalAnswer(t *testing.T) {
	fr := &fakeRouter{responses: []*models.RouteResponse{
		{
			ToolCalls: []models.ToolCallResult{{
				ID:   "call_1",
				Type: "function",
				Function: struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				}{Name: "echo", Arguments: toolCallArgs(map[string]any{"message": "hi"})},
			}},
			Usage: models.TokenUsage{InputTokens: 10, OutputTokens: 5},
		},
		{Content: "The echo tool said: echo: hi", Usage: models.TokenUsage{InputTokens: 10, OutputTokens: 5}},
	}}
	r := newTestReasoner(t, fr, config.ConfirmationYes)

	out := r.Run(context.Background(), "echo 'hi' for me")

	assert.Equal(t, "The echo tool said: echo: hi", out)
	assert.Equal(t, 2, fr.i)
}

// Scenario D (spec §8): the LLM returns a malformed tool call; S6
// RecoveryTurn retries once with a corrective message and succeeds.
func TestRun_ToolUseFailedTriggersRecoveryTurn(t *testing.T) {
	fr := &fakeRouter{responses: []*models.RouteResponse{
		{FinishReason: "tool_use_failed", Content: "garbled"},
		{Content: "recovered answer"},
	}}
	r := newTestReasoner(t, fr, config.ConfirmationYes)

	out := r.Run(context.Background(), "do something tricky")

	assert.Equal(t, "recovered answer", out)
	assert.Equal(t, 2, fr.i)
}

// Scenario E (spec §8): MaxIterations is hit while the LLM keeps
// requesting the same tool, and Run finalizes instead of looping
// forever.
func TestRun_MaxIterationsStopsTheLoop(t *testing.T) {
	toolResp := &models.RouteResponse{
		ToolCalls: []models.ToolCallResult{{
			ID:   "call_n",
			Type: "function",
			Function: struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			}{Name: "echo", Arguments: toolCallArgs(map[string]any{"message": "again"})},
		}},
	}
	responses := make([]*models.RouteResponse, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, toolResp)
	}
	fr := &fakeRouter{responses: responses}
	r := newTestReasoner(t, fr, config.ConfirmationYes)

	out := r.Run(context.Background(), "keep calling tools forever")

	assert.Contains(t, out, "max_iterations")
	assert.LessOrEqual(t, fr.i, r.cfg.MaxIterations+1)
}

// Under NO confirmation mode, every tool call blocks on a human answer;
// with no Asker attached and a short timeout, Resolve denies by default
// (spec §5's default-deny-on-timeout) and the tool observation reflects
// the decline rather than executing the tool.
func TestRun_NoConfirmationModeDeniesByDefaultOnTimeout(t *testing.T) {
	fr := &fakeRouter{responses: []*models.RouteResponse{
		{
			ToolCalls: []models.ToolCallResult{{
				ID:   "call_1",
				Type: "function",
				Function: struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				}{Name: "echo", Arguments: toolCallArgs(map[string]any{"message": "hi"})},
			}},
		},
		{Content: "done, but the tool was declined"},
	}}
	r := newTestReasoner(t, fr, config.ConfirmationNo)

	out := r.Run(context.Background(), "echo something")

	assert.Equal(t, "done, but the tool was declined", out)
}
