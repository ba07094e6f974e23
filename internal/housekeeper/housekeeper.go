// Package housekeeper implements the periodic hygiene actions spec §4.9
// requires between reasoning loops: vector-store age/size trimming and a
// structured cycle-summary log line. Grounded on
// internal/retention/janitor.go's ticker-loop + CycleStats shape,
// generalized from trace/audit-event retention to the conversation
// memory collections the Reasoner writes to.
package housekeeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/runtime/internal/config"
	"github.com/agentoven/runtime/internal/memoryfilter"
	"github.com/agentoven/runtime/internal/store"
)

// CycleStats reports what one hygiene cycle did for one kitchen, mirroring
// retention.CycleStats's shape for the equivalent housekeeping domain.
type CycleStats struct {
	Kitchen        string
	NamespacesSwept int
	AgedOut        int
	SizeTrimmed    int
	Errors         []error
}

// Keeper runs hygiene cycles either on a Reasoner's own hygiene-interval
// counter (spec §4.9's "no hidden side effects" rule: Housekeeper never
// ticks on its own clock during a task) or, for an idle kitchen with no
// traffic, on an explicit background ticker started by the server.
type Keeper struct {
	vstore store.VectorDocStore
	cfg    config.AgentConfig
}

func New(vstore store.VectorDocStore, cfg config.AgentConfig) *Keeper {
	return &Keeper{vstore: vstore, cfg: cfg}
}

// namespaces lists every collection the Reasoner writes to; rules are
// excluded since they live in RuleEngine's own JSON file, not the vector
// store (spec §6).
var namespaces = []string{
	memoryfilter.NamespaceFacts,
	memoryfilter.NamespaceExperiences,
	memoryfilter.NamespaceLessons,
	memoryfilter.NamespaceStrategies,
	memoryfilter.NamespaceErrors,
}

// Run executes one hygiene cycle for kitchen: age-based cleanup of every
// collection (errors at ErrorMaxAgeDays, the others at MemoryMaxAgeDays
// keeping successful records), then a size cap across every collection,
// per spec §4.9's "cleanup_old then limit_size" ordering.
func (k *Keeper) Run(ctx context.Context, kitchen string) CycleStats {
	start := time.Now()
	stats := CycleStats{Kitchen: kitchen}

	if k.vstore == nil {
		return stats
	}

	errorMaxAge := time.Duration(k.cfg.ErrorMaxAgeDays) * 24 * time.Hour
	memoryMaxAge := time.Duration(k.cfg.MemoryMaxAgeDays) * 24 * time.Hour

	for _, ns := range namespaces {
		stats.NamespacesSwept++

		maxAge := memoryMaxAge
		keepSuccessful := true
		if ns == memoryfilter.NamespaceErrors {
			maxAge = errorMaxAge
			keepSuccessful = false
		}
		if maxAge <= 0 {
			continue
		}

		removed, err := k.vstore.CleanupOldVectorDocs(ctx, kitchen, ns, maxAge, keepSuccessful)
		if err != nil {
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.AgedOut += removed
	}

	if k.cfg.CollectionMaxSize > 0 {
		for _, ns := range namespaces {
			trimmed, err := k.vstore.LimitVectorDocsSize(ctx, kitchen, ns, k.cfg.CollectionMaxSize)
			if err != nil {
				stats.Errors = append(stats.Errors, err)
				continue
			}
			stats.SizeTrimmed += trimmed
		}
	}

	elapsed := time.Since(start)
	logger := log.Info().Str("kitchen", kitchen).
		Int("aged_out", stats.AgedOut).
		Int("size_trimmed", stats.SizeTrimmed).
		Dur("elapsed", elapsed)
	for _, e := range stats.Errors {
		logger = logger.AnErr("error", e)
	}
	logger.Msg("housekeeping cycle complete")

	return stats
}

// StartTicker runs Run on a fixed interval for kitchen until ctx is
// canceled, for a long-idle kitchen that never crosses the Reasoner's
// hygiene-interval task counter. Mirrors retention.Janitor.Start's
// run-once-then-tick shape.
func (k *Keeper) StartTicker(ctx context.Context, kitchen string, interval time.Duration) {
	if interval < time.Minute {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	k.Run(ctx, kitchen)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.Run(ctx, kitchen)
		}
	}
}
