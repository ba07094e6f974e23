// Package rules implements the deterministic trigger→response matcher
// that runs before any LLM call. Rules are checked against the raw user
// input only; they never see LLM output.
package rules

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentoven/runtime/internal/agenterr"
)

// TriggerKind is the matching strategy for a Rule's trigger.
type TriggerKind string

const (
	Exact    TriggerKind = "exact"
	Contains TriggerKind = "contains"
	Regex    TriggerKind = "regex"
)

// Rule is a persisted (trigger, response) pair.
type Rule struct {
	ID        string      `json:"id"`
	Trigger   string      `json:"trigger"`
	Kind      TriggerKind `json:"trigger_kind"`
	Response  string      `json:"response"`
	Priority  int         `json:"priority"`
	CreatedAt time.Time   `json:"created_at"`

	compiled *regexp.Regexp // only set for Kind==Regex
}

// Match is what RuleEngine.Match returns on a hit.
type Match struct {
	RuleID   string
	Response string
}

// Engine holds rules keyed by id and rewrites its backing file
// atomically on every mutation, the way the control plane's retention
// janitor treats its archive state: no partial writes are ever
// observable to a reader.
type Engine struct {
	mu    sync.RWMutex
	rules map[string]*Rule
	path  string // backing JSON file (one per kitchen/agent, see agentruntime); "" disables persistence
}

// New constructs an empty Engine. If path is non-empty, Load is called
// immediately; a missing or corrupt file is tolerated by starting empty,
// per spec.
func New(path string) *Engine {
	e := &Engine{rules: make(map[string]*Rule), path: path}
	if path != "" {
		_ = e.Load()
	}
	return e
}

// Add validates and stores a new rule. An invalid regex trigger is
// rejected here rather than silently downgraded to a contains match.
func (e *Engine) Add(trigger string, kind TriggerKind, response string, priority int) (string, error) {
	trigger = strings.TrimSpace(trigger)
	if trigger == "" {
		return "", agenterr.New(agenterr.ToolValidation, "rule trigger must not be empty", nil)
	}
	if response == "" {
		return "", agenterr.New(agenterr.ToolValidation, "rule response must not be empty", nil)
	}

	var compiled *regexp.Regexp
	switch kind {
	case Exact, Contains:
	case Regex:
		re, err := regexp.Compile("(?im)" + trigger)
		if err != nil {
			return "", agenterr.Wrap(agenterr.ToolValidation, "invalid regex trigger", err, map[string]any{"trigger": trigger})
		}
		compiled = re
	default:
		return "", agenterr.New(agenterr.ToolValidation, fmt.Sprintf("unknown trigger kind %q", kind), nil)
	}

	r := &Rule{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Kind:      kind,
		Response:  response,
		Priority:  priority,
		CreatedAt: time.Now(),
		compiled:  compiled,
	}

	e.mu.Lock()
	e.rules[r.ID] = r
	e.mu.Unlock()

	return r.ID, e.persist()
}

// Remove deletes a rule by id. Returns false if it did not exist.
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	_, ok := e.rules[id]
	delete(e.rules, id)
	e.mu.Unlock()
	if ok {
		_ = e.persist()
	}
	return ok
}

// Match evaluates input against every rule in (priority desc, created_at
// desc) order and returns the first match. Input is matched as-is; rules
// never see LLM output.
func (e *Engine) Match(input string) *Match {
	e.mu.RLock()
	ordered := e.ordered()
	e.mu.RUnlock()

	for _, r := range ordered {
		if ruleMatches(r, input) {
			return &Match{RuleID: r.ID, Response: r.Response}
		}
	}
	return nil
}

// All returns every rule, in match-precedence order, for injection into
// the Retriever's prompt bundle.
func (e *Engine) All() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ordered := e.ordered()
	out := make([]Rule, len(ordered))
	for i, r := range ordered {
		out[i] = *r
	}
	return out
}

func (e *Engine) ordered() []*Rule {
	out := make([]*Rule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func ruleMatches(r *Rule, input string) bool {
	switch r.Kind {
	case Exact:
		return strings.EqualFold(strings.TrimSpace(input), r.Trigger)
	case Contains:
		return strings.Contains(strings.ToLower(input), strings.ToLower(r.Trigger))
	case Regex:
		if r.compiled == nil {
			return false
		}
		return r.compiled.MatchString(input)
	default:
		return false
	}
}

// ── Persistence ──────────────────────────────────────────────

type persistedRule struct {
	ID        string      `json:"id"`
	Trigger   string      `json:"trigger"`
	Kind      TriggerKind `json:"trigger_kind"`
	Response  string      `json:"response"`
	Priority  int         `json:"priority"`
	CreatedAt time.Time   `json:"created_at"`
}

func (e *Engine) persist() error {
	if e.path == "" {
		return nil
	}
	e.mu.RLock()
	out := make([]persistedRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, persistedRule{r.ID, r.Trigger, r.Kind, r.Response, r.Priority, r.CreatedAt})
	}
	e.mu.RUnlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write rules tmp file: %w", err)
	}
	return os.Rename(tmp, e.path)
}

// Load reads rules back from disk, recompiling regex triggers. A
// missing or corrupt file is not an error: the engine simply starts (or
// stays) empty.
func (e *Engine) Load() error {
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil
	}
	var in []persistedRule
	if err := json.Unmarshal(data, &in); err != nil {
		return nil
	}

	rules := make(map[string]*Rule, len(in))
	for _, pr := range in {
		r := &Rule{ID: pr.ID, Trigger: pr.Trigger, Kind: pr.Kind, Response: pr.Response, Priority: pr.Priority, CreatedAt: pr.CreatedAt}
		if r.Kind == Regex {
			if re, err := regexp.Compile("(?im)" + r.Trigger); err == nil {
				r.compiled = re
			} else {
				continue // corrupt persisted regex: drop rather than crash
			}
		}
		rules[r.ID] = r
	}

	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	return nil
}
