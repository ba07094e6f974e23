package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_ExactContainsRegex(t *testing.T) {
	e := New("")

	_, err := e.Add("cekrek", Contains, "memori terbaca", 0)
	require.NoError(t, err)

	m := e.Match("cekrek")
	require.NotNil(t, m)
	assert.Equal(t, "memori terbaca", m.Response)

	_, err = e.Add("ping", Exact, "pong", 0)
	require.NoError(t, err)
	m = e.Match("ping")
	require.NotNil(t, m)
	assert.Equal(t, "pong", m.Response)

	_, err = e.Add(`^status\s+\d+$`, Regex, "status ok", 0)
	require.NoError(t, err)
	m = e.Match("status 42")
	require.NotNil(t, m)
	assert.Equal(t, "status ok", m.Response)

	assert.Nil(t, e.Match("no match here"))
}

func TestMatch_PriorityThenCreatedAtDesc(t *testing.T) {
	e := New("")

	id1, err := e.Add("hello", Contains, "first", 0)
	require.NoError(t, err)
	_, err = e.Add("hello", Contains, "second", 0)
	require.NoError(t, err)

	// equal priority: most recently created wins
	m := e.Match("hello world")
	require.NotNil(t, m)
	assert.Equal(t, "second", m.Response)

	_, err = e.Add("hello", Contains, "high-priority", 10)
	require.NoError(t, err)
	m = e.Match("hello world")
	require.NotNil(t, m)
	assert.Equal(t, "high-priority", m.Response)

	assert.True(t, e.Remove(id1))
	assert.False(t, e.Remove(id1))
}

func TestAdd_InvalidRegexRejectedAtAddTime(t *testing.T) {
	e := New("")
	_, err := e.Add("([unterminated", Regex, "y", 0)
	require.Error(t, err)
	assert.Empty(t, e.All())
}

func TestMatch_ExactIsCaseInsensitiveAndTrimmed(t *testing.T) {
	e := New("")
	_, err := e.Add("Ping", Exact, "Pong", 0)
	require.NoError(t, err)

	assert.NotNil(t, e.Match("  ping  "))
	assert.Nil(t, e.Match("pingpong"))
}

func TestDeterministicRuleStorage(t *testing.T) {
	// Property 5: running "if X then Y" once creates exactly one rule.
	e := New("")
	_, err := e.Add("if it rains then bring umbrella", Contains, "bring umbrella", 0)
	require.NoError(t, err)
	assert.Len(t, e.All(), 1)
}
