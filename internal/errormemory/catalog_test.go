package errormemory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemediate_FileDoesNotExist(t *testing.T) {
	r := Remediate("file_system", "read", "File does not exist: no such file or directory", map[string]string{"path": "a.txt"})
	assert.Equal(t, Medium, r.Severity)
	assert.Equal(t, ActionCreate, r.ActionKind)
	assert.Contains(t, r.Suggestion, "a.txt")
}

func TestRemediate_PermissionDenied(t *testing.T) {
	r := Remediate("file_system", "write", "permission denied: access denied to resource", map[string]string{"path": "/root/x"})
	assert.Equal(t, High, r.Severity)
	assert.Equal(t, ActionPermission, r.ActionKind)
}

func TestRemediate_BlockedForSafety(t *testing.T) {
	r := Remediate("file_system", "read", "Access to '/blocked/secret' is blocked for safety", map[string]string{"path": "/blocked/secret"})
	assert.Equal(t, High, r.Severity)
	assert.Equal(t, ActionConfig, r.ActionKind)
	assert.Contains(t, r.Suggestion, "/blocked/secret")
}

func TestRemediate_FileTooLarge(t *testing.T) {
	r := Remediate("file_system", "read", "file size exceeds the too large limit", map[string]string{
		"file_size": "20971520", "max_size": "10485760",
	})
	assert.Equal(t, ActionConfig, r.ActionKind)
	assert.Contains(t, r.Suggestion, "20.0MB")
	assert.Contains(t, r.Suggestion, "10MB")
}

func TestRemediate_FileTooLargeDoesNotMatchOtherTools(t *testing.T) {
	r := Remediate("shell", "execute", "file size exceeds the too large limit", nil)
	assert.NotEqual(t, ActionConfig, r.ActionKind) // falls through to generic shell fallback
}

func TestRemediate_CommandNotFound(t *testing.T) {
	r := Remediate("shell", "execute", "bash: foo: command not found, not recognized as an internal command", nil)
	assert.Equal(t, ActionInstall, r.ActionKind)
}

func TestRemediate_NetworkErrorFromWebSearch(t *testing.T) {
	r := Remediate("web_search", "query", "Connection refused: network unreachable", nil)
	assert.Equal(t, High, r.Severity)
	assert.Equal(t, ActionManual, r.ActionKind)
}

func TestRemediate_FallsBackToGenericPerTool(t *testing.T) {
	r := Remediate("web_search", "query", "some totally unrecognized failure", nil)
	assert.Equal(t, Low, r.Severity)
	assert.NotEmpty(t, r.Suggestion)
}

func TestRemediate_EveryCatalogEntryYieldsNonEmptySuggestion(t *testing.T) {
	// Testable property 10: a matching event always gets a non-empty
	// suggestion with the right severity/action_kind.
	for _, p := range catalog {
		meta := map[string]string{"path": "x.txt", "extension": ".exe", "file_size": "1048576", "max_size": "1048576"}
		msg := p.keywords[0]
		for _, kw := range p.keywords[1:] {
			msg += " " + kw
		}
		tool := p.tool
		operation := p.operation
		r := Remediate(tool, operation, msg, meta)
		assert.NotEmpty(t, r.Suggestion)
		assert.Equal(t, p.severity, r.Severity)
		assert.Equal(t, p.action, r.ActionKind)
	}
}
