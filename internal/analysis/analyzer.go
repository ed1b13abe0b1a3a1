// Package analysis classifies formatted log lines into error patterns,
// assigns a severity and proposes fixes. Everything here is deterministic
// and free of I/O.
package analysis

import (
	"fmt"
	"regexp"
	"strings"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityUnknown  Severity = "unknown"
)

// Rank orders severities, lower is more severe. Unknown values rank as low.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	default:
		return 3
	}
}

// AtLeast reports whether s is as severe as min or more.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() <= min.Rank()
}

// ParseSeverity normalizes user input; unrecognized values become medium.
func ParseSeverity(v string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(v))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

type RecurringIssue struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// Patterns is the result of scanning a block of log lines.
type Patterns struct {
	ErrorTypes       []string         `json:"error_types"`
	AffectedServices []string         `json:"affected_services"`
	Timestamps       []string         `json:"timestamps"`
	StackTraces      []string         `json:"stack_traces"`
	RecurringIssues  []RecurringIssue `json:"recurring_issues"`
	PotentialCauses  []string         `json:"potential_causes"`
}

type Assessment struct {
	Severity         Severity `json:"severity"`
	ErrorCount       int      `json:"error_count"`
	RecurringCount   int      `json:"recurring_count"`
	AffectedServices []string `json:"affected_services"`
	Recommendation   string   `json:"recommendation"`
}

type Suggestion struct {
	ErrorType   string   `json:"error_type"`
	Service     string   `json:"service"`
	Severity    Severity `json:"severity"`
	Issue       string   `json:"issue"`
	Suggestion  string   `json:"suggestion"`
	CodeSnippet string   `json:"code_snippet,omitempty"`
	Prevention  string   `json:"prevention,omitempty"`
}

// Report bundles patterns, assessment and suggestions for one service.
type Report struct {
	Service     string       `json:"service"`
	Patterns    Patterns     `json:"patterns"`
	Assessment  Assessment   `json:"severity"`
	Suggestions []Suggestion `json:"suggestions"`
	Summary     string       `json:"summary"`
}

// Severity is a shorthand for r.Assessment.Severity.
func (r Report) Severity() Severity {
	if r.Assessment.Severity == "" {
		return SeverityLow
	}
	return r.Assessment.Severity
}

const recurringThreshold = 3

var (
	serviceRe   = regexp.MustCompile(`(?i)\[([a-z][\w-]*)\]`)
	timestampRe = regexp.MustCompile(`\[(\d{4}-\d{2}-\d{2}[T\s]\d{2}:\d{2}:\d{2})`)

	statusWords = map[string]bool{
		"error": true, "warn": true, "warning": true, "info": true,
		"debug": true, "fatal": true, "critical": true,
	}

	errorClasses = []struct {
		re   *regexp.Regexp
		name string
	}{
		{regexp.MustCompile(`(?i)NullPointerException`), "NullPointerException"},
		{regexp.MustCompile(`(?i)OutOfMemoryError`), "OutOfMemoryError"},
		{regexp.MustCompile(`(?i)ConnectionRefused|Connection refused`), "ConnectionRefused"},
		{regexp.MustCompile(`(?i)TimeoutException|Timeout|timed out`), "Timeout"},
		{regexp.MustCompile(`(?i)SQLException|database error`), "DatabaseError"},
		{regexp.MustCompile(`(?i)AuthenticationError|Unauthorized|401`), "AuthenticationError"},
		{regexp.MustCompile(`(?i)PermissionDenied|Forbidden|403`), "PermissionError"},
		{regexp.MustCompile(`(?i)FileNotFound|No such file`), "FileNotFoundError"},
		{regexp.MustCompile(`(?i)ValidationError|Invalid`), "ValidationError"},
		{regexp.MustCompile(`(?i)RateLimitExceeded|429|Too Many Requests`), "RateLimitError"},
	}

	recommendations = map[Severity]string{
		SeverityCritical: "Immediate action required. Escalate to on-call team.",
		SeverityHigh:     "Urgent attention needed. Create high-priority ticket.",
		SeverityMedium:   "Should be addressed soon. Schedule for next sprint.",
		SeverityLow:      "Monitor and address when convenient.",
	}
)

// DefaultKeywords are used when no severity keywords are configured.
func DefaultKeywords() map[string][]string {
	return map[string][]string{
		"critical": {"OutOfMemory", "Database"},
		"high":     {"ConnectionRefused", "Timeout", "Authentication"},
	}
}

// Analyzer holds the severity keyword lists. It is safe for concurrent use.
type Analyzer struct {
	critical []string
	high     []string
}

// New builds an Analyzer. keywords maps "critical"/"high" to substrings
// matched case-insensitively against error type names.
func New(keywords map[string][]string) *Analyzer {
	if len(keywords) == 0 {
		keywords = DefaultKeywords()
	}
	return &Analyzer{
		critical: lower(keywords["critical"]),
		high:     lower(keywords["high"]),
	}
}

// Analyze scans log lines in the "[ts] [STATUS] [service] message" format.
func (a *Analyzer) Analyze(logContext string) Patterns {
	p := Patterns{
		ErrorTypes:       []string{},
		AffectedServices: []string{},
		Timestamps:       []string{},
		StackTraces:      []string{},
		RecurringIssues:  []RecurringIssue{},
	}

	counts := map[string]int{}
	seenService := map[string]bool{}

	for _, line := range strings.Split(logContext, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		for _, m := range serviceRe.FindAllStringSubmatch(line, -1) {
			name := m[1]
			if statusWords[strings.ToLower(name)] {
				continue
			}
			if !seenService[name] {
				seenService[name] = true
				p.AffectedServices = append(p.AffectedServices, name)
			}
			break
		}

		if m := timestampRe.FindStringSubmatch(line); m != nil {
			p.Timestamps = append(p.Timestamps, m[1])
		}

		for _, class := range errorClasses {
			if class.re.MatchString(line) {
				if counts[class.name] == 0 {
					p.ErrorTypes = append(p.ErrorTypes, class.name)
				}
				counts[class.name]++
			}
		}

		if strings.Contains(line, "at ") && strings.Contains(line, "(") && strings.Contains(line, ")") {
			p.StackTraces = append(p.StackTraces, strings.TrimSpace(line))
		}
	}

	for _, name := range p.ErrorTypes {
		if counts[name] >= recurringThreshold {
			p.RecurringIssues = append(p.RecurringIssues, RecurringIssue{Type: name, Count: counts[name]})
		}
	}

	p.PotentialCauses = identifyCauses(p)
	return p
}

func identifyCauses(p Patterns) []string {
	has := func(name string) bool {
		for _, e := range p.ErrorTypes {
			if e == name {
				return true
			}
		}
		return false
	}

	causes := []string{}
	if has("ConnectionRefused") || has("Timeout") {
		causes = append(causes, "Network connectivity issues or service unavailability")
	}
	if has("OutOfMemoryError") {
		causes = append(causes, "Memory leak or insufficient heap allocation")
	}
	if has("NullPointerException") {
		causes = append(causes, "Null reference handling - missing null checks")
	}
	if has("DatabaseError") {
		causes = append(causes, "Database connection pool exhaustion or query issues")
	}
	if has("AuthenticationError") {
		causes = append(causes, "Expired or invalid credentials/tokens")
	}
	if has("RateLimitError") {
		causes = append(causes, "API rate limits exceeded - need backoff/retry logic")
	}
	if has("ValidationError") {
		causes = append(causes, "Input validation failures - check data format/schema")
	}
	if len(p.Timestamps) > 5 {
		causes = append(causes, "Possible time-based pattern - check scheduled jobs or traffic spikes")
	}
	return causes
}

// Severity grades patterns: keyword hits first, then recurrence, then presence.
func (a *Analyzer) Severity(p Patterns) Severity {
	for _, e := range p.ErrorTypes {
		if containsAny(e, a.critical) {
			return SeverityCritical
		}
	}
	for _, e := range p.ErrorTypes {
		if containsAny(e, a.high) {
			return SeverityHigh
		}
	}
	if len(p.RecurringIssues) >= 3 {
		return SeverityHigh
	}
	if len(p.ErrorTypes) > 0 {
		return SeverityMedium
	}
	return SeverityLow
}

// Assess wraps Severity with counts and a recommendation.
func (a *Analyzer) Assess(p Patterns) Assessment {
	sev := a.Severity(p)
	return Assessment{
		Severity:         sev,
		ErrorCount:       len(p.ErrorTypes),
		RecurringCount:   len(p.RecurringIssues),
		AffectedServices: p.AffectedServices,
		Recommendation:   Recommendation(sev),
	}
}

// Recommendation returns the standard action text for a severity.
func Recommendation(s Severity) string {
	if r, ok := recommendations[s]; ok {
		return r
	}
	return "Review and assess"
}

// SuggestFixes maps known error types to templates, then adds a general
// suggestion for every potential cause not already covered.
func (a *Analyzer) SuggestFixes(p Patterns, service string) []Suggestion {
	if service == "" {
		service = "Unknown"
	}

	suggestions := []Suggestion{}
	for _, e := range p.ErrorTypes {
		tpl, ok := fixTemplates[e]
		if !ok {
			continue
		}
		tpl.ErrorType = e
		tpl.Service = service
		tpl.Severity = a.Severity(Patterns{ErrorTypes: []string{e}})
		suggestions = append(suggestions, tpl)
	}

	for _, cause := range p.PotentialCauses {
		covered := false
		for _, s := range suggestions {
			if strings.Contains(cause, s.Issue) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			ErrorType:  "General",
			Service:    service,
			Severity:   SeverityMedium,
			Issue:      cause,
			Suggestion: "Review related code and configuration",
			Prevention: "Add monitoring and alerting for this condition",
		})
	}
	return suggestions
}

// FullAnalysis runs Analyze, Assess and SuggestFixes for one service.
func (a *Analyzer) FullAnalysis(logContext, service string) Report {
	if service == "" {
		service = "Unknown"
	}
	p := a.Analyze(logContext)
	assessment := a.Assess(p)
	suggestions := a.SuggestFixes(p, service)
	return Report{
		Service:     service,
		Patterns:    p,
		Assessment:  assessment,
		Suggestions: suggestions,
		Summary:     summarize(p, assessment, suggestions),
	}
}

func summarize(p Patterns, a Assessment, suggestions []Suggestion) string {
	services := "None"
	if len(p.AffectedServices) > 0 {
		services = strings.Join(p.AffectedServices, ", ")
	}

	var b strings.Builder
	b.WriteString("## Analysis Summary\n\n")
	fmt.Fprintf(&b, "**Severity Level:** %s\n", strings.ToUpper(string(a.Severity)))
	fmt.Fprintf(&b, "**Recommendation:** %s\n\n", a.Recommendation)
	b.WriteString("### Findings\n")
	fmt.Fprintf(&b, "- Error types identified: %d\n", len(p.ErrorTypes))
	fmt.Fprintf(&b, "- Recurring issues: %d\n", len(p.RecurringIssues))
	fmt.Fprintf(&b, "- Services affected: %s\n\n", services)

	if len(p.PotentialCauses) > 0 {
		b.WriteString("### Potential Causes\n")
		for _, c := range p.PotentialCauses {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}

	if len(suggestions) > 0 {
		b.WriteString("### Suggested Fixes\n")
		for i, s := range suggestions {
			fmt.Fprintf(&b, "%d. **%s**: %s\n", i+1, s.ErrorType, s.Suggestion)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func containsAny(s string, keywords []string) bool {
	ls := strings.ToLower(s)
	for _, k := range keywords {
		if k != "" && strings.Contains(ls, k) {
			return true
		}
	}
	return false
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
