// Package llmclient wraps the control plane's model router with rate
// limiting, exponential-backoff retry, cumulative token accounting, and
// tool-use-failure detection — the pieces internal/router.ModelRouter
// does not itself provide but spec §4.8 requires of LLMClient.
package llmclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/runtime/internal/agenterr"
	"github.com/agentoven/runtime/internal/config"
	"github.com/agentoven/runtime/pkg/contracts"
	"github.com/agentoven/runtime/pkg/models"
)

// Response is LLMClient.ChatWithTools's result, matching spec §4.8's
// {content?, tool_calls?, usage, finish_reason} contract.
type Response struct {
	Content      string
	ToolCalls    []models.ToolCallResult
	Usage        models.TokenUsage
	FinishReason string

	// ToolUseFailed is set when the provider rejected the response as a
	// malformed tool invocation; FailedGeneration preserves any raw text
	// the provider returned so the Reasoner's recovery path (S6) can use
	// it.
	ToolUseFailed    bool
	FailedGeneration string
}

// Client is the LLMClient implementation.
type Client struct {
	router contracts.ModelRouterService
	cfg    config.AgentConfig

	limiterMu sync.Mutex
	window    []time.Time // request timestamps within the last 60s

	counterMu    sync.Mutex
	totalTokens  map[string]int64 // task id -> cumulative tokens used
}

func New(router contracts.ModelRouterService, cfg config.AgentConfig) *Client {
	return &Client{router: router, cfg: cfg, totalTokens: make(map[string]int64)}
}

// ChatWithTools implements spec §4.8: it waits for a rate-limit slot,
// retries transient failures with exponential backoff, and classifies
// the outcome into content/tool_calls/tool-use-failure.
func (c *Client) ChatWithTools(ctx context.Context, taskID string, req *models.RouteRequest) (*Response, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, agenterr.Wrap(agenterr.Cancellation, "rate limiter wait cancelled", err, nil)
	}

	var resp *models.RouteResponse
	attempts := 0

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = durationFromSeconds(c.cfg.APIRetryDelaySeconds)
	boff.Multiplier = 2
	boff.MaxElapsedTime = 0 // bounded by MaxRetries below, not wall-clock

	operation := func() error {
		attempts++
		r, err := c.router.Route(ctx, req)
		if err != nil {
			if isTransient(err) {
				return err // retried by backoff.Retry
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	retryCount := 0
	notify := func(err error, d time.Duration) {
		retryCount++
		log.Warn().Err(err).Int("attempt", retryCount).Dur("backoff", d).Msg("llm call transient failure, retrying")
	}

	err := backoff.RetryNotify(operation, backoff.WithMaxRetries(boff, uint64(c.cfg.APIMaxRetries)), notify)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.LLMTransient, "llm call failed after retries", err, map[string]any{"attempts": attempts})
	}

	c.accumulate(taskID, resp.Usage)

	if toolUseFailed, failedGen := detectToolUseFailure(resp); toolUseFailed {
		return &Response{
			ToolUseFailed:    true,
			FailedGeneration: failedGen,
			Usage:            resp.Usage,
			FinishReason:     resp.FinishReason,
		}, nil
	}

	return &Response{
		Content:      resp.Content,
		ToolCalls:    resp.ToolCalls,
		Usage:        resp.Usage,
		FinishReason: resp.FinishReason,
	}, nil
}

// TokensUsed returns the cumulative prompt+completion tokens spent on
// taskID so far.
func (c *Client) TokensUsed(taskID string) int64 {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()
	return c.totalTokens[taskID]
}

// ResetTask clears the per-task counter; the Reasoner calls this at
// S0 Initialize, since the token budget is per-task (spec invariants).
func (c *Client) ResetTask(taskID string) {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()
	delete(c.totalTokens, taskID)
}

func (c *Client) accumulate(taskID string, usage models.TokenUsage) {
	c.counterMu.Lock()
	defer c.counterMu.Unlock()
	c.totalTokens[taskID] += usage.InputTokens + usage.OutputTokens
}

// acquire implements a sliding-window rate limiter: it waits until fewer
// than RateLimitRPM requests have started in the trailing 60s, or the
// context is done.
func (c *Client) acquire(ctx context.Context) error {
	for {
		c.limiterMu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)
		kept := c.window[:0]
		for _, t := range c.window {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		c.window = kept

		if len(c.window) < c.cfg.RateLimitRPM {
			c.window = append(c.window, now)
			c.limiterMu.Unlock()
			return nil
		}
		wait := c.window[0].Add(time.Minute).Sub(now)
		c.limiterMu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func durationFromSeconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "connection", "5", "rate limit", "temporarily"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return agenterr.IsRetryable(err)
}

// detectToolUseFailure recognizes the provider-rejected-malformed-call
// case spec §4.8 requires LLMClient to surface structurally: a non-empty
// finish_reason of "tool_use_failed" (or the common provider spelling
// "function_call_failed"), in which case whatever content the provider
// did return is preserved as FailedGeneration for Reasoner's recovery.
func detectToolUseFailure(resp *models.RouteResponse) (bool, string) {
	switch resp.FinishReason {
	case "tool_use_failed", "function_call_failed":
		return true, resp.Content
	default:
		return false, ""
	}
}
