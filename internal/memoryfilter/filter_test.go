package memoryfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_UselessGreeting(t *testing.T) {
	kind, ex := Classify("halo", "hi there!", true, 0)
	assert.Equal(t, Useless, kind)
	assert.Nil(t, ex)
}

func TestClassify_UselessTooShort(t *testing.T) {
	kind, _ := Classify("ok", "sure", true, 0)
	assert.Equal(t, Useless, kind)
}

func TestClassify_Rule(t *testing.T) {
	kind, ex := Classify("if it rains then bring an umbrella", "noted", true, 0)
	require.Equal(t, RuleKind, kind)
	require.NotNil(t, ex)
	assert.Equal(t, "it rains", ex.Trigger)
	assert.Equal(t, "bring an umbrella", ex.Response)
	assert.Equal(t, "contains", ex.TriggerKind)
}

func TestClassify_Fact(t *testing.T) {
	kind, ex := Classify("my name is Budi", "nice to meet you", true, 0)
	require.Equal(t, FactKind, kind)
	require.NotNil(t, ex)
	assert.Equal(t, "name", ex.Category)
	assert.Equal(t, "Budi", ex.Value)
}

func TestClassify_ExperienceByToolUse(t *testing.T) {
	kind, _ := Classify("baca file README.md", "Here is the content.", true, 1)
	assert.Equal(t, Experience, kind)
}

func TestClassify_ExperienceByFailure(t *testing.T) {
	kind, _ := Classify("do the impossible thing please", "I could not complete this", false, 0)
	assert.Equal(t, Experience, kind)
}

func TestClassify_ExperienceBySolutionArtifact(t *testing.T) {
	kind, _ := Classify("write a sorting function", "```go\nfunc Sort(){}\n```", true, 0)
	assert.Equal(t, Experience, kind)
}
