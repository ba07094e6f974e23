package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/runtime/internal/config"
	"github.com/agentoven/runtime/pkg/models"
)

type fakeRouter struct {
	calls     int
	failUntil int // fail with a transient error for the first N calls
	permanent bool
	resp      *models.RouteResponse
}

func (f *fakeRouter) Route(ctx context.Context, req *models.RouteRequest) (*models.RouteResponse, error) {
	f.calls++
	if f.permanent {
		return nil, errors.New("401 unauthorized")
	}
	if f.calls <= f.failUntil {
		return nil, errors.New("connection timeout")
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &models.RouteResponse{Content: "ok", Usage: models.TokenUsage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (f *fakeRouter) GetCostSummary(kitchen string) *models.CostSummary { return nil }
func (f *fakeRouter) HealthCheck(ctx context.Context) map[string]string { return nil }

func testCfg() config.AgentConfig {
	return config.AgentConfig{RateLimitRPM: 1000, APIMaxRetries: 3, APIRetryDelaySeconds: 0.01}
}

func TestChatWithTools_RetriesTransientThenSucceeds(t *testing.T) {
	fr := &fakeRouter{failUntil: 2}
	c := New(fr, testCfg())

	resp, err := c.ChatWithTools(context.Background(), "task-1", &models.RouteRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, fr.calls) // property 8: k transient failures then success => k+1 requests
}

func TestChatWithTools_SurfacesAfterMaxRetries(t *testing.T) {
	fr := &fakeRouter{failUntil: 100}
	c := New(fr, testCfg())

	_, err := c.ChatWithTools(context.Background(), "task-2", &models.RouteRequest{})
	require.Error(t, err)
	assert.Equal(t, 4, fr.calls) // max_retries=3 => 1 initial + 3 retries
}

func TestChatWithTools_AccumulatesTokenUsage(t *testing.T) {
	fr := &fakeRouter{}
	c := New(fr, testCfg())

	_, err := c.ChatWithTools(context.Background(), "task-3", &models.RouteRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 15, c.TokensUsed("task-3"))

	_, err = c.ChatWithTools(context.Background(), "task-3", &models.RouteRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 30, c.TokensUsed("task-3"))

	c.ResetTask("task-3")
	assert.EqualValues(t, 0, c.TokensUsed("task-3"))
}

func TestChatWithTools_DetectsToolUseFailed(t *testing.T) {
	fr := &fakeRouter{resp: &models.RouteResponse{FinishReason: "tool_use_failed", Content: "partial"}}
	c := New(fr, testCfg())

	resp, err := c.ChatWithTools(context.Background(), "task-4", &models.RouteRequest{})
	require.NoError(t, err)
	assert.True(t, resp.ToolUseFailed)
	assert.Equal(t, "partial", resp.FailedGeneration)
}
