// Package confirmation implements ConfirmationPolicy: the decision of
// whether a tool invocation needs a human in the loop, and the blocking
// wait for that human's answer when it does. The wait mechanism is
// grounded on internal/workflow/engine.go's ApproveGate pattern — a
// store-backed pending/approved/rejected record plus an in-memory
// channel for goroutines that are already blocked on it.
package confirmation

import (
	"context"
	"sync"
	"time"

	"github.com/agentoven/runtime/internal/config"
	"github.com/agentoven/runtime/internal/tools"
)

// Decision is ConfirmationPolicy.Decide's verdict.
type Decision string

const (
	Execute Decision = "EXECUTE"
	Ask     Decision = "ASK"
)

// Asker prompts a human for a yes/no answer to a pending tool call and
// blocks until they respond or ctx is done. Callers without an attached
// user-input channel get the zero-value Asker (nil), in which case
// Policy.Resolve denies after AskTimeout, per spec §5.
type Asker interface {
	Ask(ctx context.Context, gateKey string, call tools.Call, class tools.DangerClass) (approved bool, err error)
}

// Policy decides and, when required, blocks on confirmation.
type Policy struct {
	mode  config.ConfirmationMode
	ask   Asker
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan bool // gateKey -> answer channel, for channel-based callers
}

func New(mode config.ConfirmationMode, ask Asker, timeout time.Duration) *Policy {
	return &Policy{mode: mode, ask: ask, timeout: timeout, pending: make(map[string]chan bool)}
}

// Decide implements spec §4.6's three-mode table. class is the tool's
// *effective* danger class as the Reasoner computes it:
// tools.Registry.EffectiveDangerClass folds in the out-of-sandbox-read
// escalation, and the Reasoner then raises a file_system write to an
// existing file to PRIVILEGED.
func (p *Policy) Decide(class tools.DangerClass) Decision {
	switch p.mode {
	case config.ConfirmationYes:
		return Execute
	case config.ConfirmationNo:
		return Ask
	default: // AUTO
		if class == tools.Safe {
			return Execute
		}
		return Ask
	}
}

// Resolve blocks until the pending confirmation for gateKey is answered,
// an Asker is attached, or the policy's ask-timeout elapses (default
// deny), matching spec §5's suspension-point semantics.
func (p *Policy) Resolve(ctx context.Context, gateKey string, call tools.Call, class tools.DangerClass) bool {
	if p.ask != nil {
		approved, err := p.ask.Ask(ctx, gateKey, call, class)
		return err == nil && approved
	}

	ch := make(chan bool, 1)
	p.mu.Lock()
	p.pending[gateKey] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, gateKey)
		p.mu.Unlock()
	}()

	deadline := p.timeout
	if deadline <= 0 {
		deadline = 120 * time.Second
	}
	select {
	case approved := <-ch:
		return approved
	case <-time.After(deadline):
		return false
	case <-ctx.Done():
		return false
	}
}

// Answer resolves a pending channel-based confirmation (used when a
// chat UI or HTTP callback answers asynchronously rather than through an
// Asker). Returns false if gateKey has no pending confirmation.
func (p *Policy) Answer(gateKey string, approved bool) bool {
	p.mu.Lock()
	ch, ok := p.pending[gateKey]
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- approved
	return true
}
