// Package errormemory logs tool/LLM errors, serves pre-flight warnings
// from similar past errors, and matches errors against the remediation
// catalog. Grounded on agent/state/error_memory.py's dual
// ChromaDB+JSON-log storage, replaced here by the control plane's
// existing VectorDocStore ("errors" namespace) plus an append-only
// JSON-lines mirror at the logPath given to New (agentruntime uses one
// file per kitchen/agent, .errors/<kitchen>_<agent>.jsonl, not a single
// shared .errors/error_logs.json).
package errormemory

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentoven/runtime/internal/store"
	"github.com/agentoven/runtime/pkg/models"
)

// Event is one logged tool/LLM failure.
type Event struct {
	ID        string            `json:"id"`
	Tool      string            `json:"tool"`
	Operation string            `json:"operation"`
	Error     string            `json:"error"`
	Meta      map[string]string `json:"meta"`
	Timestamp time.Time         `json:"ts"`
}

// Preflight is the pre-flight warning bundle for a prospective call.
type Preflight struct {
	Warnings              []string
	RecommendedValidations []string
	Confidence            float64
}

// PatternReport is ErrorMemory.Analyze's output.
type PatternReport struct {
	ByTool            map[string]int
	ByOperation       map[string]int
	TopErrorTypes     []string
	ByExtension       map[string]int
	ProblematicPaths  []string
	Recommendations   []string
}

// Memory implements the ErrorMemory contract (spec §4.7).
type Memory struct {
	kitchen  string
	vstore   store.VectorDocStore
	embedder interface {
		Embed(ctx context.Context, text string) ([]float64, error)
	}
	logPath string

	mu     sync.Mutex
	recent []Event // in-process mirror for fast preflight exact-match + analyze without a store round trip
}

func New(kitchen string, vstore store.VectorDocStore, embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}, logPath string) *Memory {
	return &Memory{kitchen: kitchen, vstore: vstore, embedder: embedder, logPath: logPath}
}

// Log implements tools.ErrorLogger and spec §4.7's log() contract: it
// persists to VectorStore.errors and appends to the JSON audit mirror.
func (m *Memory) Log(ctx context.Context, tool, operation, errMsg string, meta map[string]string) string {
	ev := Event{
		ID:        uuid.NewString(),
		Tool:      tool,
		Operation: operation,
		Error:     errMsg,
		Meta:      meta,
		Timestamp: time.Now(),
	}

	m.mu.Lock()
	m.recent = append(m.recent, ev)
	m.mu.Unlock()

	if m.vstore != nil {
		docMeta := map[string]string{"tool": tool, "operation": operation}
		for k, v := range meta {
			docMeta[k] = v
		}
		doc := models.VectorDoc{
			ID: ev.ID, Kitchen: m.kitchen, Content: errMsg,
			Metadata: docMeta, Namespace: "errors", CreatedAt: ev.Timestamp,
		}
		if m.embedder != nil {
			if vec, err := m.embedder.Embed(ctx, errMsg); err == nil {
				doc.Vector = vec
			}
		}
		_ = m.vstore.UpsertVectorDocs(ctx, m.kitchen, []models.VectorDoc{doc})
	}

	m.appendAuditLog(ev)
	return ev.ID
}

func (m *Memory) appendAuditLog(ev Event) {
	if m.logPath == "" {
		return
	}
	f, err := os.OpenFile(m.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	line, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

// Preflight surfaces warnings from past errors with matching metadata.
// It scans only the events logged through this Memory since it was
// created: an event matches when it has the same tool and either the
// same "path" argument or the same operation. The vector store is not
// queried, and no semantic-similarity or extension matching is done.
func (m *Memory) Preflight(ctx context.Context, tool, operation string, args map[string]any) Preflight {
	path, _ := args["path"].(string)

	m.mu.Lock()
	matches := 0
	for _, ev := range m.recent {
		if ev.Tool != tool {
			continue
		}
		if path != "" && ev.Meta["path"] == path {
			matches++
		} else if ev.Operation == operation {
			matches++
		}
	}
	m.mu.Unlock()

	if matches == 0 {
		return Preflight{Confidence: 0}
	}

	confidence := float64(matches) / float64(matches+2) // saturates toward 1 but never claims certainty
	return Preflight{
		Warnings:               []string{"similar calls to this tool/operation have failed before"},
		RecommendedValidations: []string{"verify the path exists", "check required permissions"},
		Confidence:             confidence,
	}
}

// Remediate matches ev against the catalog.
func (m *Memory) Remediate(ev Event) Remediation {
	return Remediate(ev.Tool, ev.Operation, ev.Error, ev.Meta)
}

// Analyze computes the pattern report over the last windowDays of
// logged errors, optionally filtered to one tool.
func (m *Memory) Analyze(windowDays int, tool string) PatternReport {
	cutoff := time.Now().AddDate(0, 0, -windowDays)

	report := PatternReport{
		ByTool:      map[string]int{},
		ByOperation: map[string]int{},
		ByExtension: map[string]int{},
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	typeCounts := map[string]int{}
	pathCounts := map[string]int{}

	for _, ev := range m.recent {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		if tool != "" && ev.Tool != tool {
			continue
		}
		report.ByTool[ev.Tool]++
		report.ByOperation[ev.Operation]++
		if ext := ev.Meta["extension"]; ext != "" {
			report.ByExtension[ext]++
		}
		if p := ev.Meta["path"]; p != "" {
			pathCounts[p]++
		}
		typeCounts[errorType(ev.Error)]++
	}

	report.TopErrorTypes = topN(typeCounts, 5)
	report.ProblematicPaths = topN(pathCounts, 5)
	report.Recommendations = recommendationsFor(report)
	return report
}

func errorType(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not found"):
		return "not_found"
	case strings.Contains(lower, "permission"):
		return "permission"
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return "timeout"
	case strings.Contains(lower, "too large"):
		return "size_limit"
	default:
		return "other"
	}
}

func topN(counts map[string]int, n int) []string {
	type kv struct {
		k string
		v int
	}
	all := make([]kv, 0, len(counts))
	for k, v := range counts {
		all = append(all, kv{k, v})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].v > all[j].v })
	out := make([]string, 0, n)
	for i := 0; i < len(all) && i < n; i++ {
		out = append(out, all[i].k)
	}
	return out
}

func recommendationsFor(r PatternReport) []string {
	var recs []string
	if r.ByTool["shell"] > 3 {
		recs = append(recs, "shell errors are frequent; consider tightening the command whitelist")
	}
	if len(r.ProblematicPaths) > 0 {
		recs = append(recs, "repeated failures on the same paths; verify they exist and are accessible")
	}
	return recs
}
