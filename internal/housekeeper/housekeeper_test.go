package housekeeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/runtime/internal/config"
	"github.com/agentoven/runtime/internal/memoryfilter"
	"github.com/agentoven/runtime/internal/store"
	"github.com/agentoven/runtime/pkg/models"
)

func seedDoc(t *testing.T, s *store.MemoryStore, kitchen, namespace string, age time.Duration, outcome string) {
	t.Helper()
	err := s.UpsertVectorDocs(context.Background(), kitchen, []models.VectorDoc{{
		ID:        namespace + "-" + outcome + "-" + age.String(),
		Namespace: namespace,
		Content:   "x",
		Metadata:  map[string]string{"outcome": outcome},
		CreatedAt: time.Now().Add(-age),
	}})
	require.NoError(t, err)
}

// Testable property 11: cleanup_old removes only documents older than
// max_age, and never removes successful ones when keep_successful holds.
func TestRun_CleanupOldRespectsAgeAndKeepSuccessful(t *testing.T) {
	s := store.NewMemoryStore()
	seedDoc(t, s, "k1", memoryfilter.NamespaceErrors, 40*24*time.Hour, "failure")
	seedDoc(t, s, "k1", memoryfilter.NamespaceErrors, 1*time.Hour, "failure")
	seedDoc(t, s, "k1", memoryfilter.NamespaceExperiences, 400*24*time.Hour, "success")

	cfg := config.AgentConfig{ErrorMaxAgeDays: 30, MemoryMaxAgeDays: 180}
	k := New(s, cfg)

	stats := k.Run(context.Background(), "k1")

	assert.Equal(t, 1, stats.AgedOut) // only the old error doc; the old EXPERIENCE is kept as successful
	count, err := s.CountVectorDocs(context.Background(), "k1", memoryfilter.NamespaceErrors)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestRun_SizeLimitEvictsOldestFirst(t *testing.T) {
	s := store.NewMemoryStore()
	for i := 0; i < 5; i++ {
		seedDoc(t, s, "k1", memoryfilter.NamespaceFacts, time.Duration(5-i)*time.Hour, "success")
	}

	cfg := config.AgentConfig{CollectionMaxSize: 3}
	k := New(s, cfg)

	stats := k.Run(context.Background(), "k1")

	assert.Equal(t, 2, stats.SizeTrimmed)
	count, err := s.CountVectorDocs(context.Background(), "k1", memoryfilter.NamespaceFacts)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestRun_NilStoreIsNoop(t *testing.T) {
	k := New(nil, config.AgentConfig{})
	stats := k.Run(context.Background(), "k1")
	assert.Equal(t, 0, stats.NamespacesSwept)
}
