package errormemory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Severity and ActionKind are the remediate() result fields from spec
// §4.7.
type Severity string
type ActionKind string

const (
	High   Severity = "HIGH"
	Medium Severity = "MEDIUM"
	Low    Severity = "LOW"

	ActionCreate     ActionKind = "CREATE"
	ActionValidate   ActionKind = "VALIDATE"
	ActionConfig     ActionKind = "CONFIG"
	ActionPermission ActionKind = "PERMISSION"
	ActionInstall    ActionKind = "INSTALL"
	ActionManual     ActionKind = "MANUAL"
)

// Remediation is the non-nil result of a successful catalog match.
type Remediation struct {
	Suggestion  string
	Severity    Severity
	ActionKind  ActionKind
	AutoFixable bool
}

// pattern is one entry of the keyword-indexed catalog. A pattern matches
// an ErrorEvent iff every keyword appears (case-insensitive) in the
// error string and any tool/operation filter holds.
type pattern struct {
	keywords []string
	tool     string // "" = any tool; exact-equality filter for the common case
	operation string // "" = any operation; exact-equality filter for the common case

	// filterExpr is an optional expr-lang boolean expression evaluated
	// against {tool, operation} for filters that a flat tool/operation
	// equality pair can't express (set membership, negation, combinations).
	filterExpr string
	compiled   *vm.Program

	suggestion string // may contain {path} {extension} {max_size} {file_size} placeholders
	severity   Severity
	action     ActionKind
	autoFix    bool
}

// filterEnv is the evaluation environment exposed to a pattern's
// filterExpr.
type filterEnv struct {
	Tool      string
	Operation string
}

func init() {
	for i := range catalog {
		p := &catalog[i]
		if p.filterExpr == "" {
			continue
		}
		program, err := expr.Compile(p.filterExpr, expr.Env(filterEnv{}), expr.AsBool())
		if err != nil {
			// A broken filter expression must not take down the process;
			// the pattern simply never matches via its expr filter.
			continue
		}
		p.compiled = program
	}
}

// catalog is the verbatim-in-semantics port of
// agent/state/error_memory.py's _get_remediation_patterns, in the same
// first-match-wins priority order. "terminal" in the source maps to
// this repo's "shell" tool name (SPEC_FULL §12); there is no
// code_execution tool in this repo, so the source's import-error/
// syntax-error code_execution patterns have no equivalent here.
var catalog = []pattern{
	// File existence errors
	{
		keywords:   []string{"does not exist", "not exist", "no such file"},
		suggestion: "Create the missing file first, or verify the path is correct: {path}",
		severity:   Medium, action: ActionCreate, autoFix: true,
	},
	{
		keywords:   []string{"file not found", "cannot find"},
		suggestion: `Check if the file path is correct. Use "list" operation to see available files.`,
		severity:   Medium, action: ActionValidate, autoFix: false,
	},
	// Permission errors
	{
		keywords:   []string{"permission", "denied", "access denied"},
		suggestion: "Check file permissions or disable sandbox mode if path is intentionally outside workspace.",
		severity:   High, action: ActionPermission, autoFix: false,
	},
	{
		keywords:   []string{"blocked", "safety"},
		suggestion: "Path {path} is in blocked_paths. Remove from BLOCKED_PATHS setting if access is needed.",
		severity:   High, action: ActionConfig, autoFix: false,
	},
	// File size errors
	{
		keywords:   []string{"too large", "file size", "exceeds"},
		tool:       "file_system",
		suggestion: "File is {file_size}, max is {max_size}. Either split file or increase MAX_FILE_SIZE_MB in settings.",
		severity:   Medium, action: ActionConfig, autoFix: false,
	},
	// Extension errors
	{
		keywords:   []string{"extension", "not allowed", "allowed extensions"},
		tool:       "file_system",
		suggestion: "Extension {extension} not allowed. Add to ALLOWED_EXTENSIONS setting or convert to allowed format (.txt, .md, .json, etc.).",
		severity:   Low, action: ActionConfig, autoFix: false,
	},
	// Directory errors
	{
		keywords:   []string{"not a directory", "is not a directory"},
		suggestion: "The path points to a file, not a directory. Use parent directory path instead.",
		severity:   Medium, action: ActionValidate, autoFix: false,
	},
	{
		keywords:   []string{"not a file", "is a directory"},
		suggestion: "The path points to a directory, not a file. Specify a file path instead.",
		severity:   Medium, action: ActionValidate, autoFix: false,
	},
	// Binary file errors
	{
		keywords:   []string{"binary", "not text-readable", "unicode", "decode"},
		suggestion: "File is binary, not text. Use binary-compatible tools or convert to text format first.",
		severity:   Low, action: ActionManual, autoFix: false,
	},
	// Terminal errors
	{
		keywords:   []string{"command not found", "not recognized"},
		tool:       "shell",
		suggestion: "Command not installed. Install it first or check if the command name is correct.",
		severity:   Medium, action: ActionInstall, autoFix: false,
	},
	{
		keywords:   []string{"timeout", "timed out"},
		tool:       "shell",
		suggestion: "Command took too long. Increase command_timeout_seconds or optimize the command.",
		severity:   Medium, action: ActionConfig, autoFix: false,
	},
	// Network/web errors
	{
		keywords:   []string{"connection", "refused", "network"},
		suggestion: "Network error. Check internet connection or if target server is accessible.",
		severity:   High, action: ActionManual, autoFix: false,
	},
	{
		keywords:   []string{"404", "not found"},
		tool:       "web_search",
		suggestion: "Resource not found. Verify URL is correct or search for alternative sources.",
		severity:   Medium, action: ActionValidate, autoFix: false,
	},
	// Sandbox errors
	{
		keywords:   []string{"outside workspace", "sandbox"},
		suggestion: "Path is outside workspace. Set sandbox_mode=false to allow (use with caution).",
		severity:   High, action: ActionConfig, autoFix: false,
	},
}

// genericFallback keys a per-tool generic suggestion so every ErrorEvent
// yields *some* remediation even when no specific pattern matches
// (spec §4.7's "a per-tool generic fallback exists").
var genericFallback = map[string]string{
	"file_system":    "Review the file path and operation arguments, then retry.",
	"shell":          "Review the command and its arguments, then retry.",
	"web_search":     "Review the search query and try a narrower or broader phrasing.",
	"code_execution": "Review the generated code for errors before re-running it.",
}

const defaultGenericSuggestion = "An unexpected error occurred. Review the arguments and retry."

// Remediate matches err (case-insensitive) and tool/operation against
// the catalog and returns the first hit, substituting placeholders from
// meta. If nothing matches, the per-tool generic fallback is returned so
// the result is never empty for a real error.
func Remediate(tool, operation, errMsg string, meta map[string]string) Remediation {
	lower := strings.ToLower(errMsg)

	for _, p := range catalog {
		if p.tool != "" && p.tool != tool {
			continue
		}
		if p.operation != "" && p.operation != operation {
			continue
		}
		if p.compiled != nil {
			out, err := expr.Run(p.compiled, filterEnv{Tool: tool, Operation: operation})
			if err != nil || out != true {
				continue
			}
		}
		if allKeywordsPresent(lower, p.keywords) {
			return Remediation{
				Suggestion:  substitute(p.suggestion, meta),
				Severity:    p.severity,
				ActionKind:  p.action,
				AutoFixable: p.autoFix,
			}
		}
	}

	suggestion, ok := genericFallback[tool]
	if !ok {
		suggestion = defaultGenericSuggestion
	}
	return Remediation{Suggestion: suggestion, Severity: Low, ActionKind: ActionManual, AutoFixable: false}
}

func allKeywordsPresent(lowerMsg string, keywords []string) bool {
	for _, kw := range keywords {
		if !strings.Contains(lowerMsg, kw) {
			return false
		}
	}
	return true
}

func substitute(template string, meta map[string]string) string {
	out := template
	out = strings.ReplaceAll(out, "{path}", meta["path"])
	out = strings.ReplaceAll(out, "{extension}", meta["extension"])
	if fs, ok := meta["file_size"]; ok {
		out = strings.ReplaceAll(out, "{file_size}", bytesToMB(fs, 1))
	}
	if ms, ok := meta["max_size"]; ok {
		out = strings.ReplaceAll(out, "{max_size}", bytesToMB(ms, 0))
	}
	return out
}

// bytesToMB converts a byte-count string to an "N.NMB" string, matching
// _get_remediation_patterns' f'{file_mb:.1f}MB' / f'{max_mb:.0f}MB': the
// current file size keeps one decimal, the configured max is rounded to
// a whole number.
func bytesToMB(bytesStr string, decimals int) string {
	n, err := strconv.ParseFloat(bytesStr, 64)
	if err != nil {
		return bytesStr
	}
	return fmt.Sprintf("%.*fMB", decimals, n/(1024*1024))
}
