package config

import (
	"fmt"
	"strings"
)

// ConfirmationMode selects how ConfirmationPolicy resolves tool calls.
type ConfirmationMode string

const (
	ConfirmationYes  ConfirmationMode = "YES"
	ConfirmationNo   ConfirmationMode = "NO"
	ConfirmationAuto ConfirmationMode = "AUTO"
)

// AgentConfig is the configuration surface for the reasoning loop, the
// rule/memory pipeline, the tool mediation layer, and the resource
// governor — the enumerated options of the agent runtime's external
// interface.
type AgentConfig struct {
	// Reasoner
	MaxIterations        int
	MaxContextMessages   int
	HistoryKeepLastN     int
	IterationDelaySeconds float64
	HygieneIntervalTasks int

	// Token budget
	MaxTokensPerTask         int
	MaxTokensPerResponse     int
	MaxTokensPerResponseTool int
	Temperature              float64
	RecoveryTemperature      float64

	// Tool mediation
	ToolOutputTruncateChars int
	ToolTimeoutSeconds      int
	ConfirmationMode        ConfirmationMode
	ConfirmationAskTimeout  int

	// Sandbox / safety
	SandboxMode        bool
	WorkingDirectory   string
	AllowedExtensions  []string
	BlockedPaths       []string
	MaxFileSizeMB      int
	CommandWhitelist   []string
	SuperuserMode      bool
	RequireSudoConfirm bool
	SudoWhitelist      []string
	DangerousCommands  []string

	// LLM client: rate limiting / retry
	RateLimitRPM        int
	APIMaxRetries       int
	APIRetryDelaySeconds float64
	APITimeoutSeconds   int

	// Housekeeper
	ErrorMaxAgeDays   int
	MemoryMaxAgeDays  int
	CollectionMaxSize int
}

func loadAgentConfig() AgentConfig {
	return AgentConfig{
		MaxIterations:         envInt("AGENT_MAX_ITERATIONS", 10),
		MaxContextMessages:    envInt("AGENT_MAX_CONTEXT_MESSAGES", 20),
		HistoryKeepLastN:      envInt("AGENT_HISTORY_KEEP_LAST_N", 5),
		IterationDelaySeconds: envFloat("AGENT_ITERATION_DELAY_SECONDS", 0),
		HygieneIntervalTasks:  envInt("AGENT_HYGIENE_INTERVAL_TASKS", 10),

		MaxTokensPerTask:         envInt("AGENT_MAX_TOKENS_PER_TASK", 20000),
		MaxTokensPerResponse:     envInt("AGENT_MAX_TOKENS_PER_RESPONSE", 1024),
		MaxTokensPerResponseTool: envInt("AGENT_MAX_TOKENS_PER_RESPONSE_TOOL", 768),
		Temperature:              envFloat("AGENT_TEMPERATURE", 0.2),
		RecoveryTemperature:      envFloat("AGENT_RECOVERY_TEMPERATURE", 0.1),

		ToolOutputTruncateChars: envInt("AGENT_TOOL_OUTPUT_TRUNCATE_CHARS", 500),
		ToolTimeoutSeconds:      envInt("AGENT_TOOL_TIMEOUT_SECONDS", 60),
		ConfirmationMode:        ConfirmationMode(strings.ToUpper(envStr("AGENT_CONFIRMATION_MODE", "AUTO"))),
		ConfirmationAskTimeout:  envInt("AGENT_CONFIRMATION_ASK_TIMEOUT_SECONDS", 120),

		SandboxMode:        envBool("AGENT_SANDBOX_MODE", true),
		WorkingDirectory:   envStr("AGENT_WORKING_DIRECTORY", "./workspace"),
		AllowedExtensions:  envStringSet("AGENT_ALLOWED_EXTENSIONS", []string{".py", ".txt", ".md", ".json", ".yaml", ".yml", ".sh", ".js", ".ts", ".html", ".css"}),
		BlockedPaths:       envStringSet("AGENT_BLOCKED_PATHS", []string{"/etc", "/sys", "/proc", "/root"}),
		MaxFileSizeMB:      envInt("AGENT_MAX_FILE_SIZE_MB", 10),
		CommandWhitelist:   envStringSet("AGENT_COMMAND_WHITELIST", []string{"ls", "cat", "grep", "find", "echo", "pwd", "git", "curl"}),
		SuperuserMode:      envBool("AGENT_SUPERUSER_MODE", false),
		RequireSudoConfirm: envBool("AGENT_REQUIRE_SUDO_CONFIRMATION", true),
		SudoWhitelist:      envStringSet("AGENT_SUDO_WHITELIST", nil),
		DangerousCommands:  envStringSet("AGENT_DANGEROUS_COMMANDS_BLOCKLIST", []string{"rm -rf /", "mkfs", "dd if=", ":(){ :|:& };:"}),

		RateLimitRPM:         envInt("AGENT_RATE_LIMIT_RPM", 30),
		APIMaxRetries:        envInt("AGENT_API_MAX_RETRIES", 3),
		APIRetryDelaySeconds: envFloat("AGENT_API_RETRY_DELAY_SECONDS", 1.0),
		APITimeoutSeconds:    envInt("AGENT_API_TIMEOUT_SECONDS", 60),

		ErrorMaxAgeDays:   envInt("AGENT_ERROR_MAX_AGE_DAYS", 30),
		MemoryMaxAgeDays:  envInt("AGENT_MEMORY_MAX_AGE_DAYS", 90),
		CollectionMaxSize: envInt("AGENT_COLLECTION_MAX_SIZE", 5000),
	}
}

// Validate range-checks AgentConfig the way the source's Pydantic
// Field(ge=..., le=...) validators do, collecting every violation
// instead of stopping at the first.
func (c AgentConfig) Validate() error {
	var errs []string
	check := func(name string, v, lo, hi int) {
		if v < lo || v > hi {
			errs = append(errs, fmt.Sprintf("%s=%d out of range [%d,%d]", name, v, lo, hi))
		}
	}
	checkF := func(name string, v, lo, hi float64) {
		if v < lo || v > hi {
			errs = append(errs, fmt.Sprintf("%s=%v out of range [%v,%v]", name, v, lo, hi))
		}
	}

	check("MaxIterations", c.MaxIterations, 1, 50)
	check("HistoryKeepLastN", c.HistoryKeepLastN, 1, 20)
	checkF("IterationDelaySeconds", c.IterationDelaySeconds, 0, 10)
	check("MaxTokensPerResponse", c.MaxTokensPerResponse, 256, 8192)
	check("MaxTokensPerTask", c.MaxTokensPerTask, 1000, 100000)
	check("MaxFileSizeMB", c.MaxFileSizeMB, 1, 100)
	check("ToolTimeoutSeconds", c.ToolTimeoutSeconds, 10, 3600)
	check("APIMaxRetries", c.APIMaxRetries, 0, 10)
	checkF("APIRetryDelaySeconds", c.APIRetryDelaySeconds, 0.1, 10)
	check("APITimeoutSeconds", c.APITimeoutSeconds, 10, 300)
	check("RateLimitRPM", c.RateLimitRPM, 1, 1000)

	switch c.ConfirmationMode {
	case ConfirmationYes, ConfirmationNo, ConfirmationAuto:
	default:
		errs = append(errs, fmt.Sprintf("ConfirmationMode=%q must be one of YES, NO, AUTO", c.ConfirmationMode))
	}

	for _, ext := range c.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Sprintf("AllowedExtensions entry %q must start with '.'", ext))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid agent configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
