// Package contracts defines the service interfaces for the AgentOven control plane.
//
// These interfaces form the boundary between the OSS and enterprise repos.
// The OSS repo ships concrete implementations (ModelRouter, Gateway, Engine).
// The enterprise repo (agentoven-pro) can provide enhanced implementations
// that wrap or replace the defaults.
//
// The Handlers struct in api/handlers uses these interfaces, so swapping
// a community implementation for an enterprise one is a single line change
// in the wiring code (main.go).
package contracts

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/agentoven/runtime/internal/store"
	"github.com/agentoven/runtime/pkg/models"
)

// Store is a type alias for the internal Store interface.
// Exposed in pkg/ so the enterprise repo can reference it in its own
// middleware and services without importing internal/ directly.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// SessionStore is a type alias for the internal SessionStore interface,
// exposed the same way as Store above so enterprise wiring can swap in
// a persistent implementation without an internal/ import.
type SessionStore = store.SessionStore

// ── Model Router Service ────────────────────────────────────

// ModelRouterService routes LLM requests to configured providers.
// OSS implementation: internal/router.ModelRouter
// Pro implementation: enhanced router with budget enforcement, custom strategies
type ModelRouterService interface {
	// Route sends a request through the router using the specified strategy.
	Route(ctx context.Context, req *models.RouteRequest) (*models.RouteResponse, error)

	// GetCostSummary returns cost tracking data for a kitchen.
	GetCostSummary(kitchen string) *models.CostSummary

	// HealthCheck pings all configured providers and returns their status.
	HealthCheck(ctx context.Context) map[string]string
}

// ── MCP Gateway Service ─────────────────────────────────────

// MCPGatewayService handles MCP (Model Context Protocol) requests.
// OSS implementation: internal/mcpgw.Gateway
// Pro implementation: enhanced gateway with cross-org federation, advanced auth
type MCPGatewayService interface {
	// HandleJSONRPC processes an MCP JSON-RPC 2.0 request.
	HandleJSONRPC(ctx context.Context, kitchen string, req *models.MCPRequest) *models.MCPResponse

	// Subscribe registers a channel for SSE events in a kitchen.
	Subscribe(kitchen string) chan models.MCPResponse

	// Unsubscribe removes an SSE channel for a kitchen.
	Unsubscribe(kitchen string, ch chan models.MCPResponse)
}

// ── Workflow Service ────────────────────────────────────────

// WorkflowService executes recipe workflows (DAGs).
// OSS implementation: internal/workflow.Engine
// Pro implementation: enhanced engine with distributed execution, advanced scheduling
type WorkflowService interface {
	// ExecuteRecipe starts an async recipe execution.
	// Returns the run ID immediately; execution happens in background.
	ExecuteRecipe(ctx context.Context, recipe *models.Recipe, kitchen string, input map[string]interface{}) (string, error)

	// CancelRun cancels a running recipe execution.
	CancelRun(runID string) error

	// ApproveGate approves a human gate step in a running recipe.
	ApproveGate(runID, stepName string) error
}

// ── Provider Driver ─────────────────────────────────────────

// ProviderDriver is the interface for model provider integrations.
// OSS ships: OpenAI, Azure OpenAI, Anthropic, Ollama drivers.
// Pro adds:  AWS Bedrock, Azure AI Foundry, Google Vertex, SageMaker drivers.
//
// Drivers are registered in the Model Router via RegisterDriver().
type ProviderDriver interface {
	// Kind returns the provider identifier (e.g., "openai", "bedrock").
	Kind() string

	// Call sends a chat completion request to the provider.
	Call(ctx context.Context, provider *models.ModelProvider, req *models.RouteRequest) (*models.RouteResponse, error)

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context, provider *models.ModelProvider) error
}

// ── Archive Driver ───────────────────────────────────────────

// ArchiveDriver writes expired traces/audit events to a durable backend
// before the retention janitor purges them from the hot store.
// OSS ships no concrete driver (community retention is purge-only).
// Pro adds S3/GCS/Azure Blob/BigQuery archive backends.
type ArchiveDriver interface {
	// Kind returns the backend identifier (e.g., "s3", "gcs").
	Kind() string

	// ArchiveTraces writes a batch of traces and returns the archive URI.
	ArchiveTraces(ctx context.Context, kitchen string, batch []models.Trace) (string, error)

	// ArchiveAuditEvents writes a batch of audit events and returns the archive URI.
	ArchiveAuditEvents(ctx context.Context, kitchen string, batch []models.AuditEvent) (string, error)
}

// ── Channel Driver ───────────────────────────────────────────

// NotificationEvent is the payload dispatched to notification channels
// and MCP tools when a recipe run reaches a notable state.
type NotificationEvent struct {
	Type       string                 `json:"type"`
	RunID      string                 `json:"run_id"`
	RecipeName string                 `json:"recipe_name,omitempty"`
	StepName   string                 `json:"step_name,omitempty"`
	Kitchen    string                 `json:"kitchen"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// ChannelDriver sends a notification event to one external channel kind.
// OSS ships WebhookChannelDriver. Pro adds Slack, Teams, Discord, Email, Zapier.
type ChannelDriver interface {
	// Kind returns the channel type this driver handles.
	Kind() models.ChannelKind

	// Send delivers the event through the given channel's configuration.
	Send(ctx context.Context, channel *models.NotificationChannel, event NotificationEvent) error
}

// ── Chat Gateway Driver ──────────────────────────────────────

// ChatGatewayDriver bridges one chat platform's transport (long-poll,
// webhook, websocket) to AgentOven's chat gateway message loop.
// OSS ships no concrete driver; picoclaw registers platform adapters.
type ChatGatewayDriver interface {
	// Kind returns the platform identifier (e.g., "telegram", "discord").
	Kind() models.ChatGatewayKind

	// Start begins listening for inbound messages, invoking onMessage for each.
	// Start returns once the gateway's transport is up; it does not block
	// for the gateway's lifetime.
	Start(ctx context.Context, gw *models.ChatGateway, onMessage func(models.GatewayMessage)) error

	// Send delivers an outbound message through the gateway's transport.
	Send(ctx context.Context, gw *models.ChatGateway, msg models.GatewayMessage) error
}

// ── Vector Store Driver ──────────────────────────────────────

// VectorStoreDriver is a pluggable similarity-search backend for RAG
// ingestion/query pipelines, distinct from store.VectorDocStore (the
// control plane's own namespace-scoped memory index).
// OSS ships embedded (in-memory) and pgvector. Pro adds Pinecone, Qdrant,
// Cosmos DB, Chroma, Snowflake Cortex, Databricks Vector Search.
type VectorStoreDriver interface {
	// Kind returns the backend identifier (e.g., "pgvector", "pinecone").
	Kind() string

	// Upsert inserts or updates documents in the index.
	Upsert(ctx context.Context, kitchen string, docs []models.VectorDoc) error

	// Search performs similarity search, returning the top-k matches
	// that satisfy filter (metadata key/value equality).
	Search(ctx context.Context, kitchen string, vector []float64, topK int, filter map[string]string) ([]models.SearchResult, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Embedding Driver ─────────────────────────────────────────

// EmbeddingDriver turns text into vectors for RAG ingestion/query and,
// where configured, semantic memory retrieval.
// OSS ships no concrete driver — community deployments run RAG with
// VectorStoreDriver's plain keyword/metadata filtering only, or a
// kitchen-supplied Pro embedding driver.
type EmbeddingDriver interface {
	// Kind returns the model/provider identifier (e.g., "openai-embed-3").
	Kind() string

	// Dimensions returns the length of vectors this driver produces.
	Dimensions() int

	// MaxBatchSize returns the most texts this driver accepts in one Embed call.
	MaxBatchSize() int

	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// HealthCheck verifies the driver is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Plan Resolver ───────────────────────────────────────────

// PlanResolver resolves a Kitchen to its PlanLimits.
// OSS implementation: CommunityPlanResolver (returns static community limits).
// Pro implementation: reads JWT license key to determine tier + limits.
type PlanResolver interface {
	// Resolve returns the plan limits for the given kitchen.
	Resolve(ctx context.Context, kitchen *models.Kitchen) (*models.PlanLimits, error)
}

// ── Tier Enforcer ───────────────────────────────────────────

// TierEnforcer is HTTP middleware that enforces plan limits.
// It checks quotas (max agents, max providers, etc.) before allowing requests.
type TierEnforcer interface {
	// Middleware returns an http.Handler middleware that enforces tier limits.
	Middleware(next http.Handler) http.Handler
}

// ── Guardrail Service ────────────────────────────────────────

// GuardrailService evaluates an agent's configured Guardrails against
// input and output messages.
// OSS implementation: internal/guardrails.CommunityGuardrailService
// Pro implementation: adds webhook/LLM-judge guardrail kinds
type GuardrailService interface {
	// EvaluateInput runs input-stage guardrails against the user message.
	EvaluateInput(ctx context.Context, guardrails []models.Guardrail, message string) (*models.GuardrailEvaluation, error)

	// EvaluateOutput runs output-stage guardrails against the model response.
	EvaluateOutput(ctx context.Context, guardrails []models.Guardrail, response string) (*models.GuardrailEvaluation, error)
}

// ── Prompt Validator ────────────────────────────────────────

// PromptValidatorService scores a prompt template for injection/compliance
// risk and sanitizes user-supplied template variables before rendering.
// OSS implementation: CommunityPromptValidator (heuristic, no LLM call).
// Pro implementation: adds LLM-as-judge analysis and a kitchen deny-list.
type PromptValidatorService interface {
	// Validate scores a prompt template and returns a ValidationReport.
	Validate(ctx context.Context, prompt *models.Prompt, settings *models.KitchenSettings) (*models.ValidationReport, error)

	// SanitizeVariables strips/flags suspicious content from user-supplied
	// template variables before they're interpolated into a rendered prompt.
	SanitizeVariables(ctx context.Context, variables map[string]string, settings *models.KitchenSettings) (map[string]string, []models.ValidationIssue, error)

	// Edition identifies which implementation produced a report ("community" or "pro").
	Edition() string
}

// promptInjectionHeuristics are the same class of pattern the community
// guardrail service checks at invoke time, reused here to flag risky
// prompt templates at author time.
var promptInjectionHeuristics = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an|my)\s+`),
	regexp.MustCompile(`(?i)\bjailbreak\b`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?(prompt|instructions?)`),
}

// CommunityPromptValidator is the OSS implementation of PromptValidatorService.
// It scores templates against a fixed heuristic pattern list and the
// kitchen's configured DenyPatterns; no LLM-as-judge call is made.
type CommunityPromptValidator struct{}

func (v *CommunityPromptValidator) Edition() string { return "community" }

func (v *CommunityPromptValidator) Validate(_ context.Context, prompt *models.Prompt, settings *models.KitchenSettings) (*models.ValidationReport, error) {
	report := &models.ValidationReport{
		PromptName:  prompt.Name,
		Version:     prompt.Version,
		Score:       100,
		ValidatedAt: time.Now().UTC(),
		ValidatedBy: "community",
	}

	for _, re := range promptInjectionHeuristics {
		if re.MatchString(prompt.Template) {
			report.Issues = append(report.Issues, models.ValidationIssue{
				Severity: models.ValidationError,
				Category: "injection",
				Message:  "Template matches a known prompt-injection pattern",
			})
			report.Score -= 30
		}
	}

	if settings != nil {
		lower := strings.ToLower(prompt.Template)
		for _, pattern := range settings.DenyPatterns {
			if pattern == "" {
				continue
			}
			if strings.Contains(lower, strings.ToLower(pattern)) {
				report.Issues = append(report.Issues, models.ValidationIssue{
					Severity: models.ValidationError,
					Category: "compliance",
					Message:  "Template contains a kitchen deny-listed phrase: " + pattern,
				})
				report.Score -= 20
			}
		}
	}

	if report.Score < 0 {
		report.Score = 0
	}
	return report, nil
}

func (v *CommunityPromptValidator) SanitizeVariables(_ context.Context, variables map[string]string, settings *models.KitchenSettings) (map[string]string, []models.ValidationIssue, error) {
	sanitized := make(map[string]string, len(variables))
	var issues []models.ValidationIssue

	for key, val := range variables {
		flagged := false
		for _, re := range promptInjectionHeuristics {
			if re.MatchString(val) {
				flagged = true
				break
			}
		}
		if flagged {
			issues = append(issues, models.ValidationIssue{
				Severity: models.ValidationWarning,
				Category: "injection",
				Message:  "Variable '" + key + "' matches a known prompt-injection pattern and was dropped",
			})
			continue
		}
		sanitized[key] = val
	}
	return sanitized, issues, nil
}
