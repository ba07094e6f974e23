// Package memoryfilter classifies a completed reasoning-loop interaction
// into one of {USELESS, RULE, FACT, EXPERIENCE} using only surface
// patterns and counters — it never consults the LLM (SPEC_FULL §13,
// Open Question 1).
package memoryfilter

import (
	"regexp"
	"strings"
)

// Kind is the classification MemoryFilter.Classify assigns.
type Kind string

const (
	Useless    Kind = "USELESS"
	RuleKind   Kind = "RULE"
	FactKind   Kind = "FACT"
	Experience Kind = "EXPERIENCE"
)

// minInputLen is L_min from spec §4.3 step 1.
const minInputLen = 3

// Grounded on agent/state/memory_filter.py's USELESS surface catalogs:
// greetings, thanks, short acknowledgements, bare yes/no, plus the
// Indonesian-language variants the source and the spec's own scenarios
// (e.g. "halo") exercise.
var uselessPatterns = []string{
	"hi", "hello", "hey", "halo", "hai",
	"thanks", "thank you", "terima kasih", "makasih",
	"ok", "okay", "oke", "baik", "sip",
	"yes", "no", "ya", "tidak", "nggak",
	"bye", "goodbye", "sampai jumpa",
	"good morning", "good afternoon", "good evening", "selamat pagi", "selamat siang",
}

// Grounded on memory_filter.py's rule-template catalog: "if X then Y",
// "always respond Y when X", "remember that X", plus Indonesian phrasing.
var rulePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^if\s+(.+?)\s+then\s+(.+)$`),
	regexp.MustCompile(`(?i)^always\s+respond\s+(.+?)\s+when\s+(.+)$`),
	regexp.MustCompile(`(?i)^remember\s+that\s+(?:if\s+)?(.+?)(?:,?\s+then)?\s+(.+)$`),
	regexp.MustCompile(`(?i)^jika\s+(.+?)\s+maka\s+(.+)$`),
	regexp.MustCompile(`(?i)^kalau\s+(.+?)\s*,\s*(.+)$`),
}

// Grounded on memory_filter.py's fact-template catalog: name, preference,
// age, location statements, plus Indonesian equivalents.
var factPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^my name is\s+(.+)$`),
	regexp.MustCompile(`(?i)^i am\s+(.+)$`),
	regexp.MustCompile(`(?i)^i prefer\s+(.+)$`),
	regexp.MustCompile(`(?i)^i live in\s+(.+)$`),
	regexp.MustCompile(`(?i)^i like\s+(.+)$`),
	regexp.MustCompile(`(?i)^nama saya\s+(.+)$`),
	regexp.MustCompile(`(?i)^saya suka\s+(.+)$`),
	regexp.MustCompile(`(?i)^saya tinggal di\s+(.+)$`),
}

// solutionArtifactPatterns detect "an explicit solution artifact signal"
// (spec §4.3 step 4): a fenced code block or a structured-answer keyword.
var solutionArtifactPatterns = []*regexp.Regexp{
	regexp.MustCompile("```"),
	regexp.MustCompile(`(?i)\b(solution|fixed|resolved|success|berhasil|selesai)\b`),
	regexp.MustCompile(`(?i)\b(explanation|here's how|step \d)\b`),
}

// taskIndicatorPatterns spot an imperative/task-shaped input for the
// EXPERIENCE heuristics.
var taskIndicatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(buat|create|write|tulis|fix|perbaiki|analyze|analisa|jalankan|run|execute)\b`),
}

const experienceLengthThreshold = 200

// Extraction is the structured payload produced for RULE/FACT results.
type Extraction struct {
	// RULE
	Trigger    string
	TriggerKind string // always "contains" per spec §4.3 step 2 default
	Response   string

	// FACT
	Category string
	Value    string
}

// Classify implements spec §4.3's four-branch policy.
func Classify(userInput, assistantText string, success bool, actionsCount int) (Kind, *Extraction) {
	trimmed := strings.TrimSpace(userInput)

	if len(trimmed) < minInputLen || matchesUseless(trimmed) {
		return Useless, nil
	}

	if ex := matchRule(trimmed); ex != nil {
		return RuleKind, ex
	}

	if ex := matchFact(trimmed); ex != nil {
		return FactKind, ex
	}

	if actionsCount >= 1 || !success || hasSolutionArtifact(assistantText) ||
		len(assistantText) > experienceLengthThreshold || hasTaskIndicator(trimmed) {
		return Experience, nil
	}

	return Useless, nil
}

func matchesUseless(input string) bool {
	lower := strings.ToLower(input)
	for _, p := range uselessPatterns {
		if lower == p || strings.HasPrefix(lower, p+" ") || strings.HasPrefix(lower, p+"!") || strings.HasPrefix(lower, p+",") {
			return true
		}
	}
	return false
}

func matchRule(input string) *Extraction {
	for _, re := range rulePatterns {
		if m := re.FindStringSubmatch(input); m != nil && len(m) >= 3 {
			return &Extraction{
				Trigger:     strings.TrimSpace(m[1]),
				TriggerKind: "contains",
				Response:    strings.TrimSpace(m[2]),
			}
		}
	}
	return nil
}

func matchFact(input string) *Extraction {
	for _, re := range factPatterns {
		if m := re.FindStringSubmatch(input); m != nil && len(m) >= 2 {
			return &Extraction{
				Category: categoryFor(re),
				Value:    strings.TrimSpace(m[1]),
			}
		}
	}
	return nil
}

func categoryFor(re *regexp.Regexp) string {
	switch {
	case strings.Contains(re.String(), "name"), strings.Contains(re.String(), "nama"):
		return "name"
	case strings.Contains(re.String(), "prefer"), strings.Contains(re.String(), "like"), strings.Contains(re.String(), "suka"):
		return "preference"
	case strings.Contains(re.String(), "live"), strings.Contains(re.String(), "tinggal"):
		return "location"
	default:
		return "general"
	}
}

func hasSolutionArtifact(text string) bool {
	for _, re := range solutionArtifactPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func hasTaskIndicator(text string) bool {
	for _, re := range taskIndicatorPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
