package memoryfilter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentoven/runtime/internal/rules"
	"github.com/agentoven/runtime/internal/store"
	"github.com/agentoven/runtime/pkg/models"
)

// Collection namespaces within the kitchen-scoped VectorDocStore. Rules
// are excluded — they live in the RuleEngine's own JSON persistence, not
// the vector index, per spec §6.
const (
	NamespaceFacts       = "facts"
	NamespaceExperiences = "experiences"
	NamespaceLessons     = "lessons"
	NamespaceStrategies  = "strategies"
	NamespaceErrors      = "errors"
)

// TopK controls how many results the Retriever pulls per semantic
// collection. Rules are always returned in full (spec §4.4).
type TopK struct {
	Facts       int
	Experiences int
	Lessons     int
	Strategies  int
}

// DefaultTopK mirrors the source's retrieval defaults: facts are cheap
// and plentiful, experiences/lessons/strategies are more selective.
var DefaultTopK = TopK{Facts: 5, Experiences: 3, Lessons: 3, Strategies: 2}

// Bundle is the typed context payload injected into the system prompt.
type Bundle struct {
	Rules       []rules.Rule
	Facts       []models.SearchResult
	Experiences []models.SearchResult
	Lessons     []models.SearchResult
	Strategies  []models.SearchResult
}

// Embedder turns a task string into a query vector. The Retriever is
// agnostic to which embedding provider backs it (spec treats the vector
// store/embedding model as a black box); see internal/embeddings for the
// concrete drivers this repo ships.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Retriever assembles the typed Bundle for a task and renders it into a
// single labeled prompt block.
type Retriever struct {
	store    store.VectorDocStore
	rules    *rules.Engine
	embedder Embedder
	topK     TopK
}

func New(vs store.VectorDocStore, re *rules.Engine, embedder Embedder, topK TopK) *Retriever {
	return &Retriever{store: vs, rules: re, embedder: embedder, topK: topK}
}

// ForTask builds the Bundle for a task. If no embedding backend is
// available, facts/experiences/lessons/strategies come back empty but
// rules are still returned in full, per spec §4.4.
func (r *Retriever) ForTask(ctx context.Context, kitchen, task string) Bundle {
	b := Bundle{Rules: r.rules.All()}

	if r.embedder == nil || r.store == nil {
		return b
	}
	vec, err := r.embedder.Embed(ctx, task)
	if err != nil {
		return b
	}

	b.Facts = r.search(ctx, kitchen, vec, NamespaceFacts, r.topK.Facts)
	b.Experiences = r.search(ctx, kitchen, vec, NamespaceExperiences, r.topK.Experiences)
	b.Lessons = r.search(ctx, kitchen, vec, NamespaceLessons, r.topK.Lessons)
	b.Strategies = r.search(ctx, kitchen, vec, NamespaceStrategies, r.topK.Strategies)
	return b
}

// Persist embeds and upserts a classified FACT/EXPERIENCE record into
// the given namespace, so a later ForTask call for the same kitchen can
// retrieve it. A no-op if no VectorDocStore is configured.
func (r *Retriever) Persist(ctx context.Context, kitchen, namespace, id, content string, metadata map[string]string) error {
	if r.store == nil {
		return nil
	}
	doc := models.VectorDoc{
		ID:        id,
		Kitchen:   kitchen,
		Content:   content,
		Metadata:  metadata,
		Namespace: namespace,
		CreatedAt: time.Now(),
	}
	if r.embedder != nil {
		if vec, err := r.embedder.Embed(ctx, content); err == nil {
			doc.Vector = vec
		}
	}
	return r.store.UpsertVectorDocs(ctx, kitchen, []models.VectorDoc{doc})
}

func (r *Retriever) search(ctx context.Context, kitchen string, vec []float64, namespace string, topK int) []models.SearchResult {
	if topK <= 0 {
		return nil
	}
	results, err := r.store.SearchVectorDocs(ctx, kitchen, vec, topK, namespace)
	if err != nil {
		return nil
	}
	return results
}

// Render produces a stable, labeled block suitable for injection into
// the system prompt.
func Render(b Bundle) string {
	var sb strings.Builder

	if len(b.Rules) > 0 {
		sb.WriteString("## Rules\n")
		for _, rl := range b.Rules {
			fmt.Fprintf(&sb, "- if input %s %q then respond: %q\n", rl.Kind, rl.Trigger, rl.Response)
		}
	}
	renderSection(&sb, "Facts", b.Facts)
	renderSection(&sb, "Past experiences", b.Experiences)
	renderSection(&sb, "Lessons", b.Lessons)
	renderSection(&sb, "Strategies", b.Strategies)

	return sb.String()
}

func renderSection(sb *strings.Builder, label string, results []models.SearchResult) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintf(sb, "## %s\n", label)
	for _, res := range results {
		fmt.Fprintf(sb, "- %s\n", res.Doc.Content)
	}
}
