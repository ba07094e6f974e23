package confirmation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agentoven/runtime/internal/config"
	"github.com/agentoven/runtime/internal/tools"
)

func TestDecide_YesModeAlwaysExecutes(t *testing.T) {
	p := New(config.ConfirmationYes, nil, time.Second)
	assert.Equal(t, Execute, p.Decide(tools.Privileged))
	assert.Equal(t, Execute, p.Decide(tools.Safe))
}

func TestDecide_NoModeAlwaysAsks(t *testing.T) {
	p := New(config.ConfirmationNo, nil, time.Second)
	assert.Equal(t, Ask, p.Decide(tools.Safe))
	assert.Equal(t, Ask, p.Decide(tools.Mutating))
}

func TestDecide_AutoModeByDangerClass(t *testing.T) {
	p := New(config.ConfirmationAuto, nil, time.Second)
	assert.Equal(t, Execute, p.Decide(tools.Safe))
	assert.Equal(t, Ask, p.Decide(tools.Mutating))
	assert.Equal(t, Ask, p.Decide(tools.Privileged))
}

func TestResolve_AnswerUnblocksWaiter(t *testing.T) {
	p := New(config.ConfirmationAuto, nil, 5*time.Second)
	done := make(chan bool, 1)
	go func() {
		done <- p.Resolve(context.Background(), "gate-1", tools.Call{}, tools.Mutating)
	}()

	// give the goroutine a moment to register its pending channel
	time.Sleep(10 * time.Millisecond)
	assert.True(t, p.Answer("gate-1", true))
	assert.True(t, <-done)
}

func TestResolve_DefaultDenyOnTimeout(t *testing.T) {
	p := New(config.ConfirmationAuto, nil, 20*time.Millisecond)
	approved := p.Resolve(context.Background(), "gate-2", tools.Call{}, tools.Mutating)
	assert.False(t, approved)
}
